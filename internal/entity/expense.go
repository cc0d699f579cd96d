package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/club-sessions/constants"
)

// Expense is the settlement record for a session (at most one per session).
type Expense struct {
	ID                 uuid.UUID               `json:"id"`
	SessionID          uuid.UUID               `json:"session_id"`
	Status             constants.ExpenseStatus `json:"status"`
	SplitwiseExpenseID *string                 `json:"splitwise_expense_id,omitempty"`
	AmountCents        int64                   `json:"amount_cents"`
	LastError          *string                 `json:"last_error,omitempty"`
	RequestPayload     json.RawMessage         `json:"request_payload,omitempty"`
	ResponsePayload    json.RawMessage         `json:"response_payload,omitempty"`
	CreatedAt          time.Time               `json:"created_at"`
	UpdatedAt          time.Time               `json:"updated_at"`
}
