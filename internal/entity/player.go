package entity

import (
	"time"

	"github.com/google/uuid"
)

// Player represents a club member.
type Player struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Email           *string   `json:"email,omitempty"`
	SplitwiseUserID *int64    `json:"splitwise_user_id,omitempty"`
	IsDefaultPayer  bool      `json:"is_default_payer"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
