package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/club-sessions/constants"
)

// Session represents one club gathering for data transfer between layers.
type Session struct {
	ID              uuid.UUID                 `json:"id"`
	SessionDate     string                    `json:"session_date"` // YYYY-MM-DD
	Status          constants.SessionStatus   `json:"status"`
	StartTime       *time.Time                `json:"start_time,omitempty"`
	EndTime         *time.Time                `json:"end_time,omitempty"`
	TotalFeeCents   int64                     `json:"total_fee_cents"`
	Location        string                    `json:"location"`
	SplitwiseStatus constants.SplitwiseStatus `json:"splitwise_status"`
	PayerPlayerID   *uuid.UUID                `json:"payer_player_id,omitempty"`
	GuestCount      int                       `json:"guest_count"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// Court is one bookable slot within a session.
type Court struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	CourtLabel string    `json:"court_label"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

// Participant is a player's membership in a session.
type Participant struct {
	ID        uuid.UUID                   `json:"id"`
	SessionID uuid.UUID                   `json:"session_id"`
	PlayerID  uuid.UUID                   `json:"player_id"`
	Status    constants.ParticipantStatus `json:"status"`
	JoinedAt  time.Time                   `json:"joined_at"`
	UpdatedAt time.Time                   `json:"updated_at"`
	Player    *Player                     `json:"player,omitempty"`
}
