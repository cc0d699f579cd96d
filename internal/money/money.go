// Package money does exact-cent arithmetic for session fees and expense splits.
package money

import (
	"encoding/json"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	reMoney = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	hundred = decimal.NewFromInt(100)
)

// ParseMoneyToCents accepts a non-negative number, or numeric string, with at
// most two decimal places and returns integer cents. Any other shape
// (negative, more decimals, non-numeric, empty) reports false.
func ParseMoneyToCents(value any) (int64, bool) {
	switch v := value.(type) {
	case string:
		return parseString(v)
	case *string:
		if v == nil {
			return 0, false
		}
		return parseString(*v)
	case json.Number:
		return parseString(v.String())
	case decimal.Decimal:
		return fromDecimal(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return fromDecimal(decimal.NewFromFloat(v))
	case float32:
		return ParseMoneyToCents(float64(v))
	case int:
		return fromDecimal(decimal.NewFromInt(int64(v)))
	case int64:
		return fromDecimal(decimal.NewFromInt(v))
	case int32:
		return fromDecimal(decimal.NewFromInt(int64(v)))
	default:
		return 0, false
	}
}

func parseString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if !reMoney.MatchString(s) {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return fromDecimal(d)
}

func fromDecimal(d decimal.Decimal) (int64, bool) {
	if d.IsNegative() {
		return 0, false
	}
	cents := d.Mul(hundred)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, false
	}
	if !cents.LessThanOrEqual(decimal.NewFromInt(math.MaxInt64)) {
		return 0, false
	}
	return cents.IntPart(), true
}

// CentsToMoneyString formats cents as a zero-padded two-decimal string.
func CentsToMoneyString(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Share is one participant's owed amount.
type Share struct {
	ParticipantID int64
	Cents         int64
}

// ComputeEqualOwedSharesCents splits totalCents equally. Every participant
// owes the floor share; the remainder is handed out one cent at a time in
// ascending id order. Duplicate ids count once. Reports false for an empty
// participant list or a non-positive total.
func ComputeEqualOwedSharesCents(totalCents int64, participantIDs []int64) ([]Share, bool) {
	if totalCents <= 0 {
		return nil, false
	}
	ids := slices.Clone(participantIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) == 0 {
		return nil, false
	}

	n := int64(len(ids))
	base := totalCents / n
	remainder := totalCents % n

	shares := make([]Share, len(ids))
	for i, id := range ids {
		owed := base
		if int64(i) < remainder {
			owed++
		}
		shares[i] = Share{ParticipantID: id, Cents: owed}
	}
	return shares, true
}

// ShareOf returns the share owed by id, or 0 if id is not a participant.
func ShareOf(shares []Share, id int64) int64 {
	for _, s := range shares {
		if s.ParticipantID == id {
			return s.Cents
		}
	}
	return 0
}
