package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/club-sessions/constants"
)

// CourtSlot is the persisted shape of one entry in email_receipts.parsed_courts.
// Times are ISO-8601 UTC strings with millisecond precision.
type CourtSlot struct {
	CourtLabel string `json:"court_label"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

// EmailReceipt is one inbound confirmation email, keyed by its provider message id.
type EmailReceipt struct {
	ID                uuid.UUID             `json:"id"`
	GmailMessageID    string                `json:"gmail_message_id"`
	ParseStatus       constants.ParseStatus `json:"parse_status"`
	ParseError        *string               `json:"parse_error,omitempty"`
	ParsedSessionDate *string               `json:"parsed_session_date,omitempty"`
	ParsedTotalFee    *string               `json:"parsed_total_fee,omitempty"` // decimal string, e.g. "26.00"
	ParsedCourts      []CourtSlot           `json:"parsed_courts,omitempty"`
	ParsedLocation    *string               `json:"parsed_location,omitempty"`
	ReceivedAt        *time.Time            `json:"received_at,omitempty"`
	RawBody           string                `json:"raw_body"`
	CreatedAt         time.Time             `json:"created_at"`
}
