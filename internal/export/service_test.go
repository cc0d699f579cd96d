package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/club-sessions/constants"
	"github.com/joseph-ayodele/club-sessions/internal/common"
	"github.com/joseph-ayodele/club-sessions/internal/entity"
	"github.com/joseph-ayodele/club-sessions/internal/repository"
)

func TestExportLedgerXLSX(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.Open(ctx, repository.Config{DSN: "sqlite:" + filepath.Join(t.TempDir(), "club.db")}, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	sessions := repository.NewSessionRepository(db, logger)
	players := repository.NewPlayerRepository(db, logger)
	participants := repository.NewParticipantRepository(db, logger)
	expenses := repository.NewExpenseRepository(db, logger)

	start := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	sess, err := sessions.SaveAggregate(ctx, &repository.SaveAggregateRequest{
		SessionDate:   "2026-02-01",
		Status:        constants.SessionStatusClosed,
		StartTime:     start,
		EndTime:       start.Add(2 * time.Hour),
		TotalFeeCents: 10000,
		Location:      "Sbh East Coast @ Expo",
		Courts: []entity.Court{
			{CourtLabel: "Court B20", StartTime: start, EndTime: start.Add(time.Hour)},
			{CourtLabel: "Court B20", StartTime: start.Add(time.Hour), EndTime: start.Add(2 * time.Hour)},
			{CourtLabel: "Court B21", StartTime: start, EndTime: start.Add(2 * time.Hour)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sessions.EnsureDraft(ctx, "2026-03-01"); err != nil {
		t.Fatal(err)
	}

	var ids []*entity.Player
	for _, name := range []string{"Ann", "Bob", "Cat"} {
		p, err := players.CreatePlayer(ctx, &repository.Player{Name: name})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, p)
		if _, err := participants.Upsert(ctx, sess.ID, p.ID, constants.ParticipantJoined); err != nil {
			t.Fatal(err)
		}
	}
	if err := players.SetDefaultPayer(ctx, ids[0].ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := expenses.UpsertPending(ctx, sess.ID, 10000, nil, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := expenses.MarkCreated(ctx, sess.ID, "987", nil); err != nil {
		t.Fatal(err)
	}

	svc := NewService(sessions, players, participants, expenses, logger)
	svc.now = func() time.Time { return time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC) }

	b, err := svc.ExportLedgerXLSX(ctx, "2026-01-01", "")
	if err != nil {
		t.Fatalf("ExportLedgerXLSX: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1 (the March draft is outside the window)", len(rows))
	}
	if diff := cmp.Diff(headers, rows[0]); diff != "" {
		t.Errorf("header (-want +got):\n%s", diff)
	}
	want := []string{
		"2026-02-01", "CLOSED", "Sbh East Coast @ Expo", "17:00-19:00", "Court B20, Court B21",
		"100.00", "Ann, Bob, Cat", "0", "33.34", "Ann", "PENDING", "987",
	}
	if diff := cmp.Diff(want, rows[1]); diff != "" {
		t.Errorf("row (-want +got):\n%s", diff)
	}

	all, err := svc.ExportLedgerXLSX(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	f2, err := excelize.OpenReader(bytes.NewReader(all))
	if err != nil {
		t.Fatal(err)
	}
	defer f2.Close()
	if rows, _ := f2.GetRows(sheet); len(rows) != 3 {
		t.Fatalf("unbounded export rows = %d, want 3", len(rows))
	}
}

func TestExportLedgerXLSX_BadWindow(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, nil)
	for _, tc := range [][2]string{{"2026/01/01", ""}, {"2026-02-02", "2026-02-01"}} {
		if _, err := svc.ExportLedgerXLSX(context.Background(), tc[0], tc[1]); !errors.Is(err, common.ErrInvalidInput) {
			t.Errorf("ExportLedgerXLSX(%q, %q) = %v", tc[0], tc[1], err)
		}
	}
}
