// Package reconcile folds every successfully parsed receipt for a session date
// into one canonical session shape.
package reconcile

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/joseph-ayodele/club-sessions/internal/entity"
	"github.com/joseph-ayodele/club-sessions/internal/money"
	"github.com/joseph-ayodele/club-sessions/internal/receiptparse"
)

// Court is one canonical court booking in an aggregate.
type Court struct {
	CourtLabel string
	StartTime  time.Time
	EndTime    time.Time
}

// Aggregate is the reconciled view of one session date.
type Aggregate struct {
	SessionDate   string
	TotalFeeCents int64
	StartTime     time.Time
	EndTime       time.Time
	Location      string
	Courts        []Court
}

// Input is the subset of a receipt needed for aggregation.
type Input struct {
	TotalFee any
	Location string
	Courts   []entity.CourtSlot
}

// FromReceipt adapts a stored receipt row.
func FromReceipt(r *entity.EmailReceipt) Input {
	in := Input{Courts: r.ParsedCourts}
	if r.ParsedTotalFee != nil {
		in.TotalFee = *r.ParsedTotalFee
	}
	if r.ParsedLocation != nil {
		in.Location = *r.ParsedLocation
	}
	return in
}

type courtKey struct {
	label      string
	start, end int64
}

// Build combines receipts for sessionDate. Positive fees are summed and
// courts are deduplicated on (label, start, end) and sorted by start, end,
// label. It returns nil when locations disagree (case-insensitive), when no
// valid court remains, or when the summed fee is not positive. Invalid
// fees and malformed court entries are skipped; a court is malformed when
// its label is blank, either timestamp fails to parse, or it does not end
// after it starts. Input order does not matter.
func Build(sessionDate string, inputs []Input) *Aggregate {
	var totalCents int64
	locations := make(map[string]struct{})
	location := ""
	seen := make(map[courtKey]struct{})
	var courts []Court

	for _, in := range inputs {
		if cents, ok := money.ParseMoneyToCents(in.TotalFee); ok && cents > 0 {
			totalCents += cents
		}
		if loc := strings.TrimSpace(in.Location); loc != "" {
			key := strings.ToLower(loc)
			if _, ok := locations[key]; !ok {
				locations[key] = struct{}{}
				if location == "" || loc < location {
					location = loc
				}
			}
		}
		for _, slot := range in.Courts {
			c, ok := parseSlot(slot)
			if !ok {
				continue
			}
			k := courtKey{label: c.CourtLabel, start: c.StartTime.UnixMilli(), end: c.EndTime.UnixMilli()}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			courts = append(courts, c)
		}
	}

	if len(locations) > 1 || len(courts) == 0 || totalCents <= 0 {
		return nil
	}

	slices.SortFunc(courts, func(a, b Court) int {
		return cmp.Or(
			a.StartTime.Compare(b.StartTime),
			a.EndTime.Compare(b.EndTime),
			strings.Compare(a.CourtLabel, b.CourtLabel),
		)
	})

	agg := &Aggregate{
		SessionDate:   sessionDate,
		TotalFeeCents: totalCents,
		Location:      location,
		Courts:        courts,
		StartTime:     courts[0].StartTime,
		EndTime:       courts[0].EndTime,
	}
	for _, c := range courts[1:] {
		if c.EndTime.After(agg.EndTime) {
			agg.EndTime = c.EndTime
		}
	}
	return agg
}

// parseSlot canonicalizes a stored court entry to millisecond UTC and
// rejects empty or inverted ranges.
func parseSlot(slot entity.CourtSlot) (Court, bool) {
	label := strings.TrimSpace(slot.CourtLabel)
	if label == "" {
		return Court{}, false
	}
	start, err := time.Parse(time.RFC3339Nano, slot.StartTime)
	if err != nil {
		return Court{}, false
	}
	end, err := time.Parse(time.RFC3339Nano, slot.EndTime)
	if err != nil {
		return Court{}, false
	}
	start = start.UTC().Truncate(time.Millisecond)
	end = end.UTC().Truncate(time.Millisecond)
	if !end.After(start) {
		return Court{}, false
	}
	return Court{CourtLabel: label, StartTime: start, EndTime: end}, true
}

// Slots renders the courts back to their persisted JSON shape.
func (a *Aggregate) Slots() []entity.CourtSlot {
	out := make([]entity.CourtSlot, len(a.Courts))
	for i, c := range a.Courts {
		out[i] = entity.CourtSlot{
			CourtLabel: c.CourtLabel,
			StartTime:  receiptparse.FormatInstant(c.StartTime),
			EndTime:    receiptparse.FormatInstant(c.EndTime),
		}
	}
	return out
}

// DistinctCourtLabels counts unique court labels, used for capacity.
func (a *Aggregate) DistinctCourtLabels() int {
	labels := make(map[string]struct{}, len(a.Courts))
	for _, c := range a.Courts {
		labels[c.CourtLabel] = struct{}{}
	}
	return len(labels)
}
