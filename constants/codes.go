package constants

import "strings"

// ParseReason is the enum-like string stored in email_receipts.parse_error.
type ParseReason string

const (
	ReasonMissingSessionDate     ParseReason = "missing_session_date"
	ReasonMissingTimeRange       ParseReason = "missing_time_range"
	ReasonMissingLocationOrCourt ParseReason = "missing_location_or_court"
	ReasonInvalidTotalFee        ParseReason = "invalid_total_fee"
	ReasonMissingCourts          ParseReason = "missing_courts"
	ReasonInvalidTimeRange       ParseReason = "invalid_time_range"
	ReasonUnsupportedTimezone    ParseReason = "unsupported_timezone"
	ReasonInvalidTimeValue       ParseReason = "invalid_time_value"
	ReasonInvalidDatetime        ParseReason = "invalid_datetime"
	ReasonLocationConflict       ParseReason = "location_conflict"
)

// SettlementCode identifies why a session was skipped or failed during settlement.
type SettlementCode string

const (
	CodeMissingAPIKey        SettlementCode = "missing_api_key"
	CodeInvalidGroupID       SettlementCode = "invalid_group_id"
	CodeInvalidTotalFee      SettlementCode = "invalid_total_fee"
	CodeMissingPayer         SettlementCode = "missing_payer"
	CodeMultipleDefaultPayer SettlementCode = "multiple_default_payers"
	CodePayerUnmapped        SettlementCode = "payer_unmapped"
	CodeMissingParticipants  SettlementCode = "missing_participants"
	CodeParticipantUnmapped  SettlementCode = "participant_unmapped"
	CodeInProgress           SettlementCode = "in_progress"
	CodeSplitwiseRejected    SettlementCode = "splitwise_rejected"
	CodeSplitwiseRequest     SettlementCode = "splitwise_request_failed"
	CodeLockFailed           SettlementCode = "lock_failed"
	CodeDatabase             SettlementCode = "database_error"
)

// Roster rejection codes, carried in common.AppError.Code.
const (
	RosterSessionFull    = "session_full"
	RosterSessionNotOpen = "session_not_open"
	RosterSessionClosed  = "session_closed"
	RosterNotJoined      = "not_joined"
	RosterAlreadySettled = "already_settled"
	RosterDuplicateEmail = "duplicate_email"
)

// SupportedTimezone is the only timezone literal receipts may be parsed in.
const SupportedTimezone = "Asia/Singapore"

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
