package receiptparse

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/club-sessions/constants"
	"github.com/joseph-ayodele/club-sessions/internal/entity"
)

// SGTOffset is the fixed offset applied to every receipt wall-clock time. No DST.
const SGTOffset = "+08:00"

// InstantLayout is the canonical ISO-8601 UTC layout for court times. Values
// in this layout sort lexicographically in time order.
const InstantLayout = "2006-01-02T15:04:05.000Z"

var reClock = regexp.MustCompile(`^(\d{2}):(\d{2})$`)

// ParsedCourt is one court slot with absolute UTC bounds.
type ParsedCourt struct {
	CourtLabel string
	StartTime  time.Time
	EndTime    time.Time
}

// ParsedReceipt is a fully populated receipt. Parse never returns a partial one.
type ParsedReceipt struct {
	SessionDate string
	TotalFee    decimal.Decimal
	Location    string
	Courts      []ParsedCourt
}

// ParseError reports why a receipt could not be parsed. SessionDate carries
// the date if it was extracted before the failure.
type ParseError struct {
	Reason      constants.ParseReason
	SessionDate string
}

func (e *ParseError) Error() string {
	if e.SessionDate != "" {
		return fmt.Sprintf("parse receipt: %s (session_date=%s)", e.Reason, e.SessionDate)
	}
	return fmt.Sprintf("parse receipt: %s", e.Reason)
}

// Parse extracts a receipt from an email body. Checks run in a fixed order
// and the first failure wins: date, time range, location/court, fee, court
// construction, then range validation.
func Parse(html, text, timezone string) (*ParsedReceipt, error) {
	raw := BuildParseableRaw(html, text)

	date, ok := ExtractSessionDate(raw)
	if !ok {
		return nil, &ParseError{Reason: constants.ReasonMissingSessionDate}
	}
	fail := func(reason constants.ParseReason) (*ParsedReceipt, error) {
		return nil, &ParseError{Reason: reason, SessionDate: date}
	}

	tr, ok := ExtractTimeRange(raw)
	if !ok {
		return fail(constants.ReasonMissingTimeRange)
	}
	location, code, ok := ExtractLocationAndCourt(raw)
	if !ok {
		return fail(constants.ReasonMissingLocationOrCourt)
	}
	fee, ok := ExtractTotalFee(raw)
	if !ok || !fee.IsPositive() {
		return fail(constants.ReasonInvalidTotalFee)
	}

	courts, reason := buildCourts(date, tr, []string{code}, timezone)
	if reason != "" {
		return fail(reason)
	}
	if len(courts) == 0 {
		return fail(constants.ReasonMissingCourts)
	}
	for _, c := range courts {
		if !c.EndTime.After(c.StartTime) {
			return fail(constants.ReasonInvalidTimeRange)
		}
	}

	return &ParsedReceipt{
		SessionDate: date,
		TotalFee:    fee.Round(2),
		Location:    location,
		Courts:      courts,
	}, nil
}

func buildCourts(date string, tr TimeRange, codes []string, timezone string) ([]ParsedCourt, constants.ParseReason) {
	if timezone != constants.SupportedTimezone {
		return nil, constants.ReasonUnsupportedTimezone
	}
	startClock, ok := tr.Start.To24()
	if !ok {
		return nil, constants.ReasonInvalidTimeValue
	}
	endClock, ok := tr.End.To24()
	if !ok {
		return nil, constants.ReasonInvalidTimeValue
	}
	courts := make([]ParsedCourt, 0, len(codes))
	for _, code := range codes {
		if code == "" {
			continue
		}
		start, reason := LocalToUTC(date, startClock, timezone)
		if reason != "" {
			return nil, reason
		}
		end, reason := LocalToUTC(date, endClock, timezone)
		if reason != "" {
			return nil, reason
		}
		courts = append(courts, ParsedCourt{
			CourtLabel: "Court " + code,
			StartTime:  start,
			EndTime:    end,
		})
	}
	return courts, ""
}

// LocalToUTC converts a local date and "HH:MM" clock reading to a UTC instant
// by appending the fixed SGT offset. Only Asia/Singapore is accepted.
func LocalToUTC(date, clock, timezone string) (time.Time, constants.ParseReason) {
	if timezone != constants.SupportedTimezone {
		return time.Time{}, constants.ReasonUnsupportedTimezone
	}
	m := reClock.FindStringSubmatch(clock)
	if m == nil {
		return time.Time{}, constants.ReasonInvalidTimeValue
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 || mm > 59 {
		return time.Time{}, constants.ReasonInvalidTimeValue
	}
	t, err := time.Parse(time.RFC3339, date+"T"+clock+":00"+SGTOffset)
	if err != nil {
		return time.Time{}, constants.ReasonInvalidDatetime
	}
	return t.UTC(), ""
}

// FormatInstant renders t in InstantLayout.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(InstantLayout)
}

// TotalFeeString is the fee as a two-decimal string, the persisted form.
func (r *ParsedReceipt) TotalFeeString() string {
	return r.TotalFee.StringFixed(2)
}

// Slots converts the courts to their persisted shape.
func (r *ParsedReceipt) Slots() []entity.CourtSlot {
	out := make([]entity.CourtSlot, 0, len(r.Courts))
	for _, c := range r.Courts {
		out = append(out, entity.CourtSlot{
			CourtLabel: c.CourtLabel,
			StartTime:  FormatInstant(c.StartTime),
			EndTime:    FormatInstant(c.EndTime),
		})
	}
	return out
}
