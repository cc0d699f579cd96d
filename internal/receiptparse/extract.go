package receiptparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	reSessionDate = regexp.MustCompile(`(?i)\bDate:?\s*(\d{1,2})/(\d{1,2})/(\d{2,4})\b`)
	reTimeRange   = regexp.MustCompile(`(?i)\bTime:?\s*(\d{1,2}):(\d{2})\s*([AP]M)\s*[-–—]\s*(\d{1,2}):(\d{2})\s*([AP]M)`)
	reClubLine    = regexp.MustCompile(`(?i)\bClub\s+(.+?)\s*,\s*([A-Z]\d+)\b`)
	reClubAnyLine = regexp.MustCompile(`(?is)\bClub\s+(.+?)\s*,\s*([A-Z]\d+)\b`)
	rePaidAmount  = regexp.MustCompile(`(?i)\bPaid\s*(?:SGD|\$)\s*(\d+(?:\.\d{1,2})?)`)
)

// Clock12 is a 12-hour clock reading as written, e.g. {"5", "00", "PM"}.
type Clock12 struct {
	Hour     string
	Minute   string
	Meridiem string
}

// To24 maps the reading to "HH:MM"; 12 AM is 00, 12 PM is 12. It fails when
// the hour is outside 1-12 or the minute outside 0-59.
func (c Clock12) To24() (string, bool) {
	return to24Hour(c.Hour, c.Minute, c.Meridiem)
}

// TimeRange is a pair of local wall-clock readings as they appear in the receipt.
type TimeRange struct {
	Start Clock12
	End   Clock12
}

// ExtractSessionDate finds "Date d/m/y" and returns an ISO date. Day/month
// order is tried first, month/day second; each candidate must be a real
// calendar date. Two-digit years are 20YY.
func ExtractSessionDate(raw string) (string, bool) {
	m := reSessionDate.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if len(m[3]) <= 2 {
		year += 2000
	}

	if d, ok := calendarDate(year, b, a); ok {
		return d, true
	}
	if d, ok := calendarDate(year, a, b); ok {
		return d, true
	}
	return "", false
}

// ExtractTimeRange finds "Time h:mm AM - h:mm PM". The readings are returned
// as captured; range checks happen when courts are built.
func ExtractTimeRange(raw string) (TimeRange, bool) {
	m := reTimeRange.FindStringSubmatch(raw)
	if m == nil {
		return TimeRange{}, false
	}
	return TimeRange{
		Start: Clock12{Hour: m[1], Minute: m[2], Meridiem: strings.ToUpper(m[3])},
		End:   Clock12{Hour: m[4], Minute: m[5], Meridiem: strings.ToUpper(m[6])},
	}, true
}

// ExtractLocationAndCourt finds "Club <name>, <code>". A single-line match is
// preferred; the whole text is only scanned when no line matches on its own.
func ExtractLocationAndCourt(raw string) (location, courtCode string, ok bool) {
	for _, line := range strings.Split(raw, "\n") {
		if m := reClubLine.FindStringSubmatch(line); m != nil {
			if loc := normalizeLocation(m[1]); loc != "" {
				return loc, strings.ToUpper(m[2]), true
			}
		}
	}
	if m := reClubAnyLine.FindStringSubmatch(raw); m != nil {
		if loc := normalizeLocation(m[1]); loc != "" {
			return loc, strings.ToUpper(m[2]), true
		}
	}
	return "", "", false
}

// ExtractTotalFee returns the amount following "Paid SGD" or "Paid $".
// Anything after the amount, such as a tax note, is ignored.
func ExtractTotalFee(raw string) (decimal.Decimal, bool) {
	m := rePaidAmount.FindStringSubmatch(raw)
	if m == nil {
		return decimal.Zero, false
	}
	fee, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.Zero, false
	}
	return fee, true
}

func calendarDate(year, month, day int) (string, bool) {
	if month < 1 || month > 12 || day < 1 {
		return "", false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
}

// to24Hour maps a 12-hour clock reading to "HH:MM"; 12 AM is 00, 12 PM is 12.
func to24Hour(hh, mm, meridiem string) (string, bool) {
	h, err := strconv.Atoi(hh)
	if err != nil || h < 1 || h > 12 {
		return "", false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return "", false
	}
	h %= 12
	if strings.EqualFold(meridiem, "PM") {
		h += 12
	}
	return fmt.Sprintf("%02d:%02d", h, m), true
}

func normalizeLocation(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
