package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/club-sessions/constants"
	"github.com/joseph-ayodele/club-sessions/internal/common"
	"github.com/joseph-ayodele/club-sessions/internal/entity"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := Open(ctx, Config{DSN: sqlitePrefix + filepath.Join(t.TempDir(), "club.db")}, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func ptr[T any](v T) *T { return &v }

func utc(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return v.UTC()
}

func TestHealthCheck(t *testing.T) {
	db := newTestDB(t)
	if err := db.HealthCheck(context.Background(), time.Second); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestReceiptRepository_CreateDedupAndList(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewReceiptRepository(db, nil)

	rec := &entity.EmailReceipt{
		GmailMessageID:    "msg-1",
		ParseStatus:       constants.ParseStatusSuccess,
		ParsedSessionDate: ptr("2026-02-01"),
		ParsedTotalFee:    ptr("26.00"),
		ParsedLocation:    ptr("Sbh East Coast @ Expo"),
		ParsedCourts: []entity.CourtSlot{
			{CourtLabel: "Court B20", StartTime: "2026-02-01T09:00:00.000Z", EndTime: "2026-02-01T11:00:00.000Z"},
		},
		ReceivedAt: ptr(utc(t, "2026-01-30T10:00:00Z")),
		RawBody:    "Date 1/2/26",
	}
	created, err := repo.Create(ctx, rec)
	if err != nil || !created {
		t.Fatalf("Create = (%v, %v)", created, err)
	}

	dup := &entity.EmailReceipt{GmailMessageID: "msg-1", ParseStatus: constants.ParseStatusFailed, RawBody: "again"}
	created, err = repo.Create(ctx, dup)
	if err != nil || created {
		t.Fatalf("duplicate Create = (%v, %v), want (false, nil)", created, err)
	}

	failed := &entity.EmailReceipt{
		GmailMessageID:    "msg-2",
		ParseStatus:       constants.ParseStatusFailed,
		ParseError:        ptr(string(constants.ReasonMissingTimeRange)),
		ParsedSessionDate: ptr("2026-02-01"),
		RawBody:           "Date 1/2/26",
	}
	if _, err := repo.Create(ctx, failed); err != nil {
		t.Fatal(err)
	}

	exists, err := repo.ExistsByMessageID(ctx, "msg-1")
	if err != nil || !exists {
		t.Fatalf("ExistsByMessageID = (%v, %v)", exists, err)
	}
	exists, _ = repo.ExistsByMessageID(ctx, "nope")
	if exists {
		t.Fatal("unexpected receipt")
	}

	got, err := repo.ListSuccessfulByDate(ctx, "2026-02-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("ListSuccessfulByDate returned %d rows", len(got))
	}
	if diff := cmp.Diff(rec.ParsedCourts, got[0].ParsedCourts); diff != "" {
		t.Fatalf("courts mismatch (-want +got):\n%s", diff)
	}
	if *got[0].ParsedTotalFee != "26.00" || got[0].RawBody != "Date 1/2/26" {
		t.Fatalf("unexpected receipt %+v", got[0])
	}
	if !got[0].ReceivedAt.Equal(utc(t, "2026-01-30T10:00:00Z")) {
		t.Fatalf("ReceivedAt = %v", got[0].ReceivedAt)
	}

	all, err := repo.ListReceipts(ctx, "2026-02-01", 0)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListReceipts = (%d, %v)", len(all), err)
	}
}

func TestSessionRepository_SaveAggregateReplacesCourts(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSessionRepository(db, nil)

	first, err := repo.SaveAggregate(ctx, &SaveAggregateRequest{
		SessionDate:   "2026-02-01",
		Status:        constants.SessionStatusOpen,
		StartTime:     utc(t, "2026-02-01T09:00:00Z"),
		EndTime:       utc(t, "2026-02-01T11:00:00Z"),
		TotalFeeCents: 2600,
		Location:      "Hall",
		Courts: []entity.Court{
			{CourtLabel: "Court B20", StartTime: utc(t, "2026-02-01T09:00:00Z"), EndTime: utc(t, "2026-02-01T11:00:00Z")},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	second, err := repo.SaveAggregate(ctx, &SaveAggregateRequest{
		SessionDate:   "2026-02-01",
		Status:        constants.SessionStatusOpen,
		StartTime:     utc(t, "2026-02-01T09:00:00Z"),
		EndTime:       utc(t, "2026-02-01T12:00:00Z"),
		TotalFeeCents: 5200,
		Location:      "Hall",
		Courts: []entity.Court{
			{CourtLabel: "Court B20", StartTime: utc(t, "2026-02-01T09:00:00Z"), EndTime: utc(t, "2026-02-01T11:00:00Z")},
			{CourtLabel: "Court B21", StartTime: utc(t, "2026-02-01T10:00:00Z"), EndTime: utc(t, "2026-02-01T12:00:00Z")},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("session id changed: %s -> %s", first.ID, second.ID)
	}
	if second.TotalFeeCents != 5200 || !second.EndTime.Equal(utc(t, "2026-02-01T12:00:00Z")) {
		t.Fatalf("unexpected session %+v", second)
	}
	if second.SplitwiseStatus != constants.SplitwiseStatusPending {
		t.Fatalf("SplitwiseStatus = %s", second.SplitwiseStatus)
	}

	courts, err := repo.ListCourts(ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	var labels []string
	for _, c := range courts {
		labels = append(labels, c.CourtLabel)
	}
	if diff := cmp.Diff([]string{"Court B20", "Court B21"}, labels); diff != "" {
		t.Fatalf("courts mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionRepository_DraftTransitions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSessionRepository(db, nil)

	s, err := repo.EnsureDraft(ctx, "2026-03-01")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != constants.SessionStatusDraft {
		t.Fatalf("Status = %s", s.Status)
	}
	if err := repo.SetStatus(ctx, s.ID, constants.SessionStatusOpen); err != nil {
		t.Fatal(err)
	}

	// EnsureDraft leaves an existing session alone.
	s, _ = repo.EnsureDraft(ctx, "2026-03-01")
	if s.Status != constants.SessionStatusOpen {
		t.Fatalf("EnsureDraft downgraded to %s", s.Status)
	}

	// MarkDraft moves OPEN back to DRAFT but never touches CLOSED.
	s, _ = repo.MarkDraft(ctx, "2026-03-01")
	if s.Status != constants.SessionStatusDraft {
		t.Fatalf("MarkDraft status = %s", s.Status)
	}
	if err := repo.SetStatus(ctx, s.ID, constants.SessionStatusClosed); err != nil {
		t.Fatal(err)
	}
	s, _ = repo.MarkDraft(ctx, "2026-03-01")
	if s.Status != constants.SessionStatusClosed {
		t.Fatalf("MarkDraft reopened closed session: %s", s.Status)
	}

	if _, err := repo.GetByDate(ctx, "2030-01-01"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("GetByDate missing = %v", err)
	}
	if err := repo.SetStatus(ctx, uuid.New(), constants.SessionStatusOpen); !IsNotFound(err) {
		t.Fatalf("SetStatus missing = %v", err)
	}
}

func TestSessionRepository_ListFiltersAndCandidates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSessionRepository(db, nil)

	ids := map[string]uuid.UUID{}
	for _, d := range []string{"2026-01-01", "2026-01-02", "2026-01-03", "2026-01-04"} {
		s, err := repo.EnsureDraft(ctx, d)
		if err != nil {
			t.Fatal(err)
		}
		ids[d] = s.ID
	}
	_ = repo.SetStatus(ctx, ids["2026-01-01"], constants.SessionStatusClosed)
	_ = repo.SetStatus(ctx, ids["2026-01-02"], constants.SessionStatusClosed)
	_ = repo.SetSplitwiseStatus(ctx, ids["2026-01-02"], constants.SplitwiseStatusCreated)
	_ = repo.SetStatus(ctx, ids["2026-01-03"], constants.SessionStatusClosed)
	_ = repo.SetSplitwiseStatus(ctx, ids["2026-01-03"], constants.SplitwiseStatusFailed)
	_ = repo.SetStatus(ctx, ids["2026-01-04"], constants.SessionStatusOpen)

	cands, err := repo.ListSettlementCandidates(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	var dates []string
	for _, s := range cands {
		dates = append(dates, s.SessionDate)
	}
	if diff := cmp.Diff([]string{"2026-01-01", "2026-01-03"}, dates); diff != "" {
		t.Fatalf("candidates mismatch (-want +got):\n%s", diff)
	}

	open, err := repo.ListSessions(ctx, SessionFilter{
		FromDate: "2026-01-02",
		ToDate:   "2026-01-04",
		Statuses: []constants.SessionStatus{constants.SessionStatusOpen, constants.SessionStatusFull},
	})
	if err != nil || len(open) != 1 || open[0].SessionDate != "2026-01-04" {
		t.Fatalf("ListSessions = (%v, %v)", open, err)
	}

	if err := repo.SetGuestCount(ctx, ids["2026-01-04"], -1); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("SetGuestCount(-1) = %v", err)
	}
	if err := repo.SetGuestCount(ctx, ids["2026-01-04"], 3); err != nil {
		t.Fatal(err)
	}
	payer := uuid.New()
	// Unknown player violates the foreign key.
	if err := repo.SetPayer(ctx, ids["2026-01-04"], &payer); err == nil {
		t.Fatal("expected foreign key error")
	}
	if err := repo.SetPayer(ctx, ids["2026-01-04"], nil); err != nil {
		t.Fatal(err)
	}
	s, _ := repo.GetByID(ctx, ids["2026-01-04"])
	if s.GuestCount != 3 || s.PayerPlayerID != nil {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestPlayerRepository_DefaultPayerIsUnique(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewPlayerRepository(db, nil)

	a, err := repo.CreatePlayer(ctx, &Player{Name: "Alice", SplitwiseUserID: ptr(int64(11))})
	if err != nil {
		t.Fatal(err)
	}
	b, err := repo.CreatePlayer(ctx, &Player{Name: "Bob", Email: ptr("bob@example.com")})
	if err != nil {
		t.Fatal(err)
	}

	if err := repo.SetDefaultPayer(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetDefaultPayer(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	defaults, err := repo.ListDefaultPayers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(defaults) != 1 || defaults[0].ID != b.ID {
		t.Fatalf("defaults = %+v", defaults)
	}

	if err := repo.SetDefaultPayer(ctx, uuid.New()); !IsNotFound(err) {
		t.Fatalf("SetDefaultPayer unknown = %v", err)
	}
	// The failed call rolled back, so Bob is still the default.
	defaults, _ = repo.ListDefaultPayers(ctx)
	if len(defaults) != 1 || defaults[0].ID != b.ID {
		t.Fatalf("defaults after rollback = %+v", defaults)
	}

	if err := repo.SetSplitwiseUserID(ctx, b.ID, ptr(int64(22))); err != nil {
		t.Fatal(err)
	}
	got, err := repo.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SplitwiseUserID == nil || *got.SplitwiseUserID != 22 || got.Email == nil || *got.Email != "bob@example.com" {
		t.Fatalf("unexpected player %+v", got)
	}

	list, _ := repo.ListByIDs(ctx, []uuid.UUID{a.ID, b.ID})
	if len(list) != 2 || list[0].Name != "Alice" {
		t.Fatalf("ListByIDs = %+v", list)
	}
}

func TestParticipantRepository_JoinWithdraw(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sessions := NewSessionRepository(db, nil)
	players := NewPlayerRepository(db, nil)
	repo := NewParticipantRepository(db, nil)

	s, _ := sessions.EnsureDraft(ctx, "2026-04-01")
	alice, _ := players.CreatePlayer(ctx, &Player{Name: "Alice", SplitwiseUserID: ptr(int64(1))})
	bob, _ := players.CreatePlayer(ctx, &Player{Name: "Bob"})

	p, err := repo.Upsert(ctx, s.ID, alice.ID, constants.ParticipantJoined)
	if err != nil {
		t.Fatal(err)
	}
	if p.Player == nil || p.Player.Name != "Alice" || *p.Player.SplitwiseUserID != 1 {
		t.Fatalf("unexpected participant %+v", p)
	}
	if _, err := repo.Upsert(ctx, s.ID, bob.ID, constants.ParticipantJoined); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Upsert(ctx, s.ID, bob.ID, constants.ParticipantWithdrawn); err != nil {
		t.Fatal(err)
	}

	n, err := repo.CountJoined(ctx, s.ID)
	if err != nil || n != 1 {
		t.Fatalf("CountJoined = (%d, %v)", n, err)
	}
	joined, _ := repo.ListBySession(ctx, s.ID, constants.ParticipantJoined)
	if len(joined) != 1 || joined[0].PlayerID != alice.ID {
		t.Fatalf("joined = %+v", joined)
	}
	all, _ := repo.ListBySession(ctx, s.ID, "")
	if len(all) != 2 {
		t.Fatalf("all = %d", len(all))
	}
}

func TestExpenseRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sessions := NewSessionRepository(db, nil)
	repo := NewExpenseRepository(db, nil)

	s, _ := sessions.EnsureDraft(ctx, "2026-05-01")
	if _, err := repo.GetBySession(ctx, s.ID); !IsNotFound(err) {
		t.Fatalf("GetBySession before insert = %v", err)
	}

	if err := repo.MarkFailed(ctx, s.ID, 2600, "missing_payer: set a payer", nil); err != nil {
		t.Fatal(err)
	}
	e, err := repo.GetBySession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != constants.ExpenseStatusFailed || e.LastError == nil {
		t.Fatalf("unexpected expense %+v", e)
	}

	req := json.RawMessage(`{"cost":"26.00"}`)
	staleBefore := time.Now().Add(-10 * time.Minute)
	pending, claimed, err := repo.UpsertPending(ctx, s.ID, 2600, req, staleBefore)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed || pending.ID != e.ID || pending.Status != constants.ExpenseStatusPending || pending.LastError != nil {
		t.Fatalf("unexpected pending expense %+v claimed=%v", pending, claimed)
	}
	if string(pending.RequestPayload) != `{"cost":"26.00"}` {
		t.Fatalf("RequestPayload = %s", pending.RequestPayload)
	}

	// A fresh PENDING row is held by its owner.
	again, claimed, err := repo.UpsertPending(ctx, s.ID, 2600, json.RawMessage(`{"cost":"99.00"}`), staleBefore)
	if err != nil {
		t.Fatal(err)
	}
	if claimed || !again.UpdatedAt.Equal(pending.UpdatedAt) || string(again.RequestPayload) != `{"cost":"26.00"}` {
		t.Fatalf("fresh pending row was re-claimed: %+v claimed=%v", again, claimed)
	}

	// Once the window has passed the row can be taken over.
	if _, claimed, err := repo.UpsertPending(ctx, s.ID, 2600, req, time.Now().Add(time.Minute)); err != nil || !claimed {
		t.Fatalf("stale pending row: claimed=%v err=%v", claimed, err)
	}

	if err := repo.MarkCreated(ctx, s.ID, "987", json.RawMessage(`{"expenses":[{"id":987}]}`)); err != nil {
		t.Fatal(err)
	}

	// A CREATED row is never claimed or failed again.
	settled, claimed, err := repo.UpsertPending(ctx, s.ID, 2600, req, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if claimed || settled.Status != constants.ExpenseStatusCreated {
		t.Fatalf("created row was re-claimed: %+v claimed=%v", settled, claimed)
	}
	if err := repo.MarkFailed(ctx, s.ID, 2600, "late failure", nil); err != nil {
		t.Fatal(err)
	}
	byID, err := repo.ListBySessionIDs(ctx, []uuid.UUID{s.ID})
	if err != nil {
		t.Fatal(err)
	}
	got := byID[s.ID]
	if got == nil || got.Status != constants.ExpenseStatusCreated || *got.SplitwiseExpenseID != "987" {
		t.Fatalf("unexpected created expense %+v", got)
	}
}
