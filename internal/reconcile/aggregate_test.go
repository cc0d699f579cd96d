package reconcile

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/club-sessions/internal/entity"
)

func slot(label, start, end string) entity.CourtSlot {
	return entity.CourtSlot{CourtLabel: label, StartTime: start, EndTime: end}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v.UTC()
}

func TestBuild_MergesReceipts(t *testing.T) {
	inputs := []Input{
		{
			TotalFee: "26.00",
			Location: "Sbh East Coast @ Expo",
			Courts:   []entity.CourtSlot{slot("Court B20", "2026-02-01T09:00:00.000Z", "2026-02-01T11:00:00.000Z")},
		},
		{
			TotalFee: "30.50",
			Location: "sbh east coast @ expo",
			Courts: []entity.CourtSlot{
				slot("Court B21", "2026-02-01T10:00:00.000Z", "2026-02-01T12:00:00.000Z"),
				slot("Court B20", "2026-02-01T09:00:00Z", "2026-02-01T11:00:00Z"),
			},
		},
	}

	got := Build("2026-02-01", inputs)
	if got == nil {
		t.Fatal("expected aggregate")
	}
	want := &Aggregate{
		SessionDate:   "2026-02-01",
		TotalFeeCents: 5650,
		StartTime:     mustTime(t, "2026-02-01T09:00:00Z"),
		EndTime:       mustTime(t, "2026-02-01T12:00:00Z"),
		Location:      "Sbh East Coast @ Expo",
		Courts: []Court{
			{CourtLabel: "Court B20", StartTime: mustTime(t, "2026-02-01T09:00:00Z"), EndTime: mustTime(t, "2026-02-01T11:00:00Z")},
			{CourtLabel: "Court B21", StartTime: mustTime(t, "2026-02-01T10:00:00Z"), EndTime: mustTime(t, "2026-02-01T12:00:00Z")},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("aggregate mismatch (-want +got):\n%s", diff)
	}
	if n := got.DistinctCourtLabels(); n != 2 {
		t.Fatalf("DistinctCourtLabels = %d", n)
	}
}

func TestBuild_OrderIndependent(t *testing.T) {
	a := Input{TotalFee: "10", Location: "Hall", Courts: []entity.CourtSlot{slot("Court A1", "2026-03-01T01:00:00.000Z", "2026-03-01T02:00:00.000Z")}}
	b := Input{TotalFee: 12.5, Location: "Hall", Courts: []entity.CourtSlot{slot("Court A2", "2026-03-01T00:00:00.000Z", "2026-03-01T02:00:00.000Z")}}

	first := Build("2026-03-01", []Input{a, b})
	second := Build("2026-03-01", []Input{b, a})
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("order changed result (-ab +ba):\n%s", diff)
	}
	again := Build("2026-03-01", []Input{a, b, a})
	if again.TotalFeeCents != 3250 {
		t.Fatalf("TotalFeeCents = %d", again.TotalFeeCents)
	}
	if diff := cmp.Diff(first.Courts, again.Courts); diff != "" {
		t.Fatalf("duplicate input changed courts:\n%s", diff)
	}
}

func TestBuild_ConflictingLocations(t *testing.T) {
	inputs := []Input{
		{TotalFee: "10", Location: "Hall One", Courts: []entity.CourtSlot{slot("Court A1", "2026-03-01T01:00:00.000Z", "2026-03-01T02:00:00.000Z")}},
		{TotalFee: "10", Location: "Hall Two", Courts: []entity.CourtSlot{slot("Court A2", "2026-03-01T01:00:00.000Z", "2026-03-01T02:00:00.000Z")}},
	}
	if got := Build("2026-03-01", inputs); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
	// A superset containing the conflict still yields nil.
	inputs = append(inputs, Input{TotalFee: "5", Location: "Hall One"})
	if got := Build("2026-03-01", inputs); got != nil {
		t.Fatalf("expected nil for superset, got %+v", got)
	}
}

func TestBuild_NilCases(t *testing.T) {
	valid := []entity.CourtSlot{slot("Court A1", "2026-03-01T01:00:00.000Z", "2026-03-01T02:00:00.000Z")}
	tests := []struct {
		name   string
		inputs []Input
	}{
		{"empty", nil},
		{"no courts", []Input{{TotalFee: "10", Location: "Hall"}}},
		{"zero fee", []Input{{TotalFee: "0", Location: "Hall", Courts: valid}}},
		{"invalid fee", []Input{{TotalFee: "abc", Location: "Hall", Courts: valid}}},
		{"malformed courts only", []Input{{TotalFee: "10", Courts: []entity.CourtSlot{
			slot("", "2026-03-01T01:00:00.000Z", "2026-03-01T02:00:00.000Z"),
			slot("Court A1", "not-a-time", "2026-03-01T02:00:00.000Z"),
			slot("Court A1", "2026-03-01T02:00:00.000Z", "2026-03-01T01:00:00.000Z"),
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Build("2026-03-01", tt.inputs); got != nil {
				t.Fatalf("expected nil, got %+v", got)
			}
		})
	}
}

func TestBuild_DropsInvertedCourt(t *testing.T) {
	inputs := []Input{{TotalFee: "26", Location: "Hall", Courts: []entity.CourtSlot{
		slot("Court A2", "2026-03-01T03:00:00.000Z", "2026-03-01T03:00:00.000Z"),
		slot("Court A1", "2026-03-01T01:00:00.000Z", "2026-03-01T02:00:00.000Z"),
		slot("Court A3", "2026-03-01T05:00:00.000Z", "2026-03-01T04:00:00.000Z"),
	}}}
	got := Build("2026-03-01", inputs)
	if got == nil {
		t.Fatal("expected an aggregate")
	}
	want := []entity.CourtSlot{slot("Court A1", "2026-03-01T01:00:00.000Z", "2026-03-01T02:00:00.000Z")}
	if diff := cmp.Diff(want, got.Slots()); diff != "" {
		t.Fatalf("courts (-want +got):\n%s", diff)
	}
	if !got.EndTime.Equal(mustTime(t, "2026-03-01T02:00:00.000Z")) {
		t.Fatalf("EndTime = %s", got.EndTime)
	}
}

func TestBuild_SkipsInvalidFeesButKeepsValid(t *testing.T) {
	inputs := []Input{
		{TotalFee: "-3", Courts: []entity.CourtSlot{slot("Court A1", "2026-03-01T01:00:00.000Z", "2026-03-01T02:00:00.000Z")}},
		{TotalFee: "7.25"},
	}
	got := Build("2026-03-01", inputs)
	if got == nil || got.TotalFeeCents != 725 {
		t.Fatalf("got %+v", got)
	}
	if got.Location != "" {
		t.Fatalf("Location = %q", got.Location)
	}
}

func TestAggregateSlots(t *testing.T) {
	got := Build("2026-02-01", []Input{{TotalFee: "1", Courts: []entity.CourtSlot{slot("Court B20", "2026-02-01T09:00:00Z", "2026-02-01T11:00:00Z")}}})
	want := []entity.CourtSlot{slot("Court B20", "2026-02-01T09:00:00.000Z", "2026-02-01T11:00:00.000Z")}
	if diff := cmp.Diff(want, got.Slots()); diff != "" {
		t.Fatalf("slots mismatch (-want +got):\n%s", diff)
	}
}

func TestFromReceipt(t *testing.T) {
	fee, loc := "26.00", "Hall"
	r := &entity.EmailReceipt{ParsedTotalFee: &fee, ParsedLocation: &loc, ParsedCourts: []entity.CourtSlot{slot("Court A1", "a", "b")}}
	in := FromReceipt(r)
	if in.TotalFee != "26.00" || in.Location != "Hall" || len(in.Courts) != 1 {
		t.Fatalf("FromReceipt = %+v", in)
	}
}
