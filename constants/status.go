package constants

// SessionStatus is the lifecycle status stored in sessions.status.
type SessionStatus string

// Stable values (store these exact strings in DB).
const (
	SessionStatusDraft  SessionStatus = "DRAFT"  // parse failure or conflict, needs staff review
	SessionStatusOpen   SessionStatus = "OPEN"   // valid aggregate, accepting players
	SessionStatusFull   SessionStatus = "FULL"   // capacity reached
	SessionStatusClosed SessionStatus = "CLOSED" // terminal for ingestion
)

// ParseStatus is stored in email_receipts.parse_status.
type ParseStatus string

const (
	ParseStatusSuccess ParseStatus = "SUCCESS"
	ParseStatusFailed  ParseStatus = "FAILED"
)

// SplitwiseStatus is stored in sessions.splitwise_status.
type SplitwiseStatus string

const (
	SplitwiseStatusPending SplitwiseStatus = "PENDING"
	SplitwiseStatusCreated SplitwiseStatus = "CREATED"
	SplitwiseStatusFailed  SplitwiseStatus = "FAILED"
)

// ExpenseStatus is stored in expenses.status.
type ExpenseStatus string

const (
	ExpenseStatusPending ExpenseStatus = "PENDING"
	ExpenseStatusCreated ExpenseStatus = "CREATED" // terminal
	ExpenseStatusFailed  ExpenseStatus = "FAILED"  // retried on the next sweep
)

// ParticipantStatus is stored in session_participants.status.
type ParticipantStatus string

const (
	ParticipantJoined    ParticipantStatus = "JOINED"
	ParticipantWithdrawn ParticipantStatus = "WITHDRAWN"
)

var allSessionStatuses = []SessionStatus{
	SessionStatusDraft,
	SessionStatusOpen,
	SessionStatusFull,
	SessionStatusClosed,
}

// SessionStatusStrings is used for enum columns.
func SessionStatusStrings() []string {
	result := make([]string, len(allSessionStatuses))
	for i, s := range allSessionStatuses {
		result[i] = string(s)
	}
	return result
}

// ParseSessionStatus accepts any casing and reports whether s is a known status.
func ParseSessionStatus(s string) (SessionStatus, bool) {
	for _, st := range allSessionStatuses {
		if string(st) == upper(s) {
			return st, true
		}
	}
	return "", false
}
