package roster

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/club-sessions/constants"
	"github.com/joseph-ayodele/club-sessions/internal/common"
	"github.com/joseph-ayodele/club-sessions/internal/entity"
	"github.com/joseph-ayodele/club-sessions/internal/repository"
)

type fixture struct {
	svc      *Service
	sessions repository.SessionRepository
	players  repository.PlayerRepository
}

func newFixture(t *testing.T, playersPerCourt int) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.Open(ctx, repository.Config{DSN: "sqlite:" + filepath.Join(t.TempDir(), "club.db")}, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	f := &fixture{
		sessions: repository.NewSessionRepository(db, logger),
		players:  repository.NewPlayerRepository(db, logger),
	}
	f.svc = NewService(
		f.sessions,
		f.players,
		repository.NewParticipantRepository(db, logger),
		repository.NewReceiptRepository(db, logger),
		repository.NewExpenseRepository(db, logger),
		Config{PlayersPerCourt: playersPerCourt},
		logger,
	)
	return f
}

// seedSession stores an OPEN session on 2026-02-01 with the given court labels.
func (f *fixture) seedSession(t *testing.T, labels ...string) *entity.Session {
	t.Helper()
	start := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	courts := make([]entity.Court, len(labels))
	for i, l := range labels {
		courts[i] = entity.Court{CourtLabel: l, StartTime: start, EndTime: end}
	}
	sess, err := f.sessions.SaveAggregate(context.Background(), &repository.SaveAggregateRequest{
		SessionDate:   "2026-02-01",
		Status:        constants.SessionStatusOpen,
		StartTime:     start,
		EndTime:       end,
		TotalFeeCents: 2600,
		Location:      "Sbh East Coast @ Expo",
		Courts:        courts,
	})
	if err != nil {
		t.Fatalf("SaveAggregate: %v", err)
	}
	return sess
}

func (f *fixture) player(t *testing.T, name string) *entity.Player {
	t.Helper()
	p, err := f.svc.CreatePlayer(context.Background(), CreatePlayerRequest{Name: name})
	if err != nil {
		t.Fatalf("CreatePlayer(%s): %v", name, err)
	}
	return p
}

func codeOf(err error) string { return common.CodeOf(err) }

func TestCapacity(t *testing.T) {
	courts := []*entity.Court{{CourtLabel: "Court B20"}, {CourtLabel: "Court B20"}, {CourtLabel: "Court B21"}}
	if got := Capacity(courts, 6); got != 12 {
		t.Fatalf("Capacity() = %d, want 12", got)
	}
	if got := Capacity(nil, 6); got != 0 {
		t.Fatalf("Capacity(nil) = %d", got)
	}
}

func TestJoin_FillsAndReopens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	sess := f.seedSession(t, "Court B20")
	ann, bob, cat := f.player(t, "Ann"), f.player(t, "Bob"), f.player(t, "Cat")

	d, err := f.svc.Join(ctx, sess.ID, ann.ID)
	if err != nil {
		t.Fatalf("Join(ann): %v", err)
	}
	if d.Session.Status != constants.SessionStatusOpen || d.Joined != 1 || d.Capacity != 2 {
		t.Fatalf("after ann: %+v", d)
	}
	// joining twice is a no-op
	if d, err = f.svc.Join(ctx, sess.ID, ann.ID); err != nil || d.Joined != 1 {
		t.Fatalf("rejoin: %v %+v", err, d)
	}

	d, err = f.svc.Join(ctx, sess.ID, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Session.Status != constants.SessionStatusFull {
		t.Fatalf("status = %s, want FULL", d.Session.Status)
	}

	_, err = f.svc.Join(ctx, sess.ID, cat.ID)
	if codeOf(err) != constants.RosterSessionFull || !errors.Is(err, common.ErrFailedPrecondition) {
		t.Fatalf("Join(cat) = %v, want session_full", err)
	}

	d, err = f.svc.Withdraw(ctx, sess.ID, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Session.Status != constants.SessionStatusOpen || d.Joined != 1 || len(d.Participants) != 2 {
		t.Fatalf("after withdraw: status=%s joined=%d participants=%d", d.Session.Status, d.Joined, len(d.Participants))
	}

	if _, err := f.svc.Withdraw(ctx, sess.ID, cat.ID); codeOf(err) != constants.RosterNotJoined {
		t.Fatalf("Withdraw(cat) = %v", err)
	}
}

func TestSetGuestCount_Reevaluates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	sess := f.seedSession(t, "Court B20")
	ann := f.player(t, "Ann")
	if _, err := f.svc.Join(ctx, sess.ID, ann.ID); err != nil {
		t.Fatal(err)
	}

	d, err := f.svc.SetGuestCount(ctx, sess.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if d.Session.Status != constants.SessionStatusFull || d.Session.GuestCount != 2 {
		t.Fatalf("session = %+v", d.Session)
	}
	d, err = f.svc.SetGuestCount(ctx, sess.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if d.Session.Status != constants.SessionStatusOpen {
		t.Fatalf("status = %s", d.Session.Status)
	}
	if _, err := f.svc.SetGuestCount(ctx, sess.ID, -1); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("negative guests = %v", err)
	}
}

func TestJoin_RejectsDraftAndClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 6)
	ann := f.player(t, "Ann")

	draft, err := f.sessions.EnsureDraft(ctx, "2026-03-01")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Join(ctx, draft.ID, ann.ID); codeOf(err) != constants.RosterSessionNotOpen {
		t.Fatalf("Join(draft) = %v", err)
	}
	if _, err := f.svc.CloseSession(ctx, draft.ID); codeOf(err) != constants.RosterSessionNotOpen {
		t.Fatalf("CloseSession(draft) = %v", err)
	}

	sess := f.seedSession(t, "Court B20")
	if _, err := f.svc.CloseSession(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	d, err := f.svc.CloseSession(ctx, sess.ID)
	if err != nil || d.Session.Status != constants.SessionStatusClosed {
		t.Fatalf("second close: %v %+v", err, d)
	}
	if _, err := f.svc.Join(ctx, sess.ID, ann.ID); codeOf(err) != constants.RosterSessionNotOpen {
		t.Fatalf("Join(closed) = %v", err)
	}
	if _, err := f.svc.Withdraw(ctx, sess.ID, ann.ID); codeOf(err) != constants.RosterSessionClosed {
		t.Fatalf("Withdraw(closed) = %v", err)
	}

	if _, err := f.svc.Join(ctx, uuid.New(), ann.ID); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("Join(unknown) = %v", err)
	}
}

func TestSetSessionPayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 6)
	sess := f.seedSession(t, "Court B20")
	ann := f.player(t, "Ann")

	d, err := f.svc.SetSessionPayer(ctx, sess.ID, &ann.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Session.PayerPlayerID == nil || *d.Session.PayerPlayerID != ann.ID {
		t.Fatalf("payer = %v", d.Session.PayerPlayerID)
	}
	d, err = f.svc.SetSessionPayer(ctx, sess.ID, nil)
	if err != nil || d.Session.PayerPlayerID != nil {
		t.Fatalf("clear payer: %v %+v", err, d.Session)
	}

	missing := uuid.New()
	if _, err := f.svc.SetSessionPayer(ctx, sess.ID, &missing); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("unknown payer = %v", err)
	}

	if err := f.sessions.SetSplitwiseStatus(ctx, sess.ID, constants.SplitwiseStatusCreated); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SetSessionPayer(ctx, sess.ID, &ann.ID); codeOf(err) != constants.RosterAlreadySettled {
		t.Fatalf("settled session = %v", err)
	}
}

func TestPlayers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 6)

	if _, err := f.svc.CreatePlayer(ctx, CreatePlayerRequest{Name: "  "}); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("blank name = %v", err)
	}
	if _, err := f.svc.CreatePlayer(ctx, CreatePlayerRequest{Name: "Ann", Email: "nope"}); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("bad email = %v", err)
	}

	ann, err := f.svc.CreatePlayer(ctx, CreatePlayerRequest{Name: "Ann", Email: "Ann@Example.com", SplitwiseUserID: 11})
	if err != nil {
		t.Fatal(err)
	}
	if *ann.Email != "ann@example.com" || *ann.SplitwiseUserID != 11 {
		t.Fatalf("player = %+v", ann)
	}
	if _, err := f.svc.CreatePlayer(ctx, CreatePlayerRequest{Name: "Ann 2", Email: "ann@example.com"}); codeOf(err) != constants.RosterDuplicateEmail {
		t.Fatalf("duplicate email = %v", err)
	}

	bob := f.player(t, "Bob")
	if _, err := f.svc.SetDefaultPayer(ctx, ann.ID); err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.SetDefaultPayer(ctx, bob.ID)
	if err != nil || !got.IsDefaultPayer {
		t.Fatalf("SetDefaultPayer(bob) = %v %+v", err, got)
	}
	defaults, err := f.players.ListDefaultPayers(ctx)
	if err != nil || len(defaults) != 1 || defaults[0].ID != bob.ID {
		t.Fatalf("default payers = %v %+v", err, defaults)
	}

	sw := int64(22)
	got, err = f.svc.SetSplitwiseUserID(ctx, bob.ID, &sw)
	if err != nil || got.SplitwiseUserID == nil || *got.SplitwiseUserID != 22 {
		t.Fatalf("SetSplitwiseUserID = %v %+v", err, got)
	}

	list, err := f.svc.ListPlayers(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListPlayers = %v %d", err, len(list))
	}
}

func TestListSessionsAndReceipts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 6)
	f.seedSession(t, "Court B20")
	if _, err := f.sessions.EnsureDraft(ctx, "2026-03-01"); err != nil {
		t.Fatal(err)
	}

	all, err := f.svc.ListSessions(ctx, ListSessionsRequest{})
	if err != nil || len(all) != 2 {
		t.Fatalf("ListSessions = %v %d", err, len(all))
	}
	open, err := f.svc.ListSessions(ctx, ListSessionsRequest{Status: "open"})
	if err != nil || len(open) != 1 || open[0].SessionDate != "2026-02-01" {
		t.Fatalf("ListSessions(open) = %v %+v", err, open)
	}
	if _, err := f.svc.ListSessions(ctx, ListSessionsRequest{From: "01/02/2026"}); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("bad from = %v", err)
	}
	if _, err := f.svc.ListSessions(ctx, ListSessionsRequest{Status: "pending"}); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("bad status = %v", err)
	}
	if _, err := f.svc.ListReceipts(ctx, "2026-2-1", 0); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("bad date = %v", err)
	}
	recs, err := f.svc.ListReceipts(ctx, "", 0)
	if err != nil || len(recs) != 0 {
		t.Fatalf("ListReceipts = %v %d", err, len(recs))
	}
}
