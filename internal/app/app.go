// Package app wires configuration into the services shared by clubd and
// clubctl.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/club-sessions/internal/common"
	"github.com/joseph-ayodele/club-sessions/internal/export"
	"github.com/joseph-ayodele/club-sessions/internal/gmail"
	"github.com/joseph-ayodele/club-sessions/internal/ingest"
	"github.com/joseph-ayodele/club-sessions/internal/repository"
	"github.com/joseph-ayodele/club-sessions/internal/roster"
	"github.com/joseph-ayodele/club-sessions/internal/server"
	"github.com/joseph-ayodele/club-sessions/internal/settlement"
	"github.com/joseph-ayodele/club-sessions/internal/splitwise"
)

type App struct {
	DB *repository.DB
	// Ingest is nil when neither Gmail credentials nor a drop directory are set.
	Ingest     *ingest.Service
	DropSource *ingest.DirectorySource
	// DropIngest reads only from DropSource; it is nil without a drop directory.
	DropIngest *ingest.Service
	Settlement *settlement.Service
	Roster     *roster.Service
	Export     *export.Service
	Club       *server.ClubServer

	logger *slog.Logger
}

func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{DB: db, logger: logger}

	sessions := repository.NewSessionRepository(db, logger)
	receipts := repository.NewReceiptRepository(db, logger)
	players := repository.NewPlayerRepository(db, logger)
	participants := repository.NewParticipantRepository(db, logger)
	expenses := repository.NewExpenseRepository(db, logger)

	ingestCfg := ingest.Config{
		SubjectKeywords: cfg.Gmail.SubjectKeywords,
		LookbackDays:    cfg.Gmail.LookbackDays,
		MaxResults:      cfg.Gmail.MaxResults,
		Timezone:        cfg.Club.Timezone,
	}
	if cfg.Gmail.DropDir != "" {
		a.DropSource, err = ingest.NewDirectorySource(cfg.Gmail.DropDir, nil, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.DropIngest = ingest.NewService(a.DropSource, receipts, sessions, ingestCfg, logger)
	}
	gcfg := gmail.Config{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		RefreshToken: cfg.Gmail.RefreshToken,
		Timeout:      cfg.Gmail.Timeout,
	}
	switch {
	case gcfg.Configured():
		a.Ingest = ingest.NewService(gmail.NewClient(ctx, gcfg, logger), receipts, sessions, ingestCfg, logger)
	case a.DropIngest != nil:
		a.Ingest = a.DropIngest
	default:
		logger.Warn("app.ingest.disabled", "reason", "no GMAIL_* credentials or MAIL_DROP_DIR")
	}

	sw, err := splitwise.NewClient(splitwise.Config{
		BaseURL: cfg.Splitwise.BaseURL,
		APIKey:  cfg.Splitwise.APIKey,
		Timeout: cfg.Splitwise.Timeout,
	}, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("splitwise client: %w", err)
	}
	a.Settlement = settlement.NewService(sessions, players, participants, expenses, sw, settlement.Config{
		GroupID:         cfg.Splitwise.GroupID,
		CurrencyCode:    cfg.Splitwise.CurrencyCode,
		LockWindow:      cfg.Splitwise.LockWindow,
		AutoCloseWindow: cfg.Club.AutoCloseWindow,
		BatchSize:       cfg.Club.SettlementBatch,
	}, logger)

	a.Roster = roster.NewService(sessions, players, participants, receipts, expenses, roster.Config{
		PlayersPerCourt: cfg.Club.PlayersPerCourt,
	}, logger)
	a.Export = export.NewService(sessions, players, participants, expenses, logger)
	for _, svc := range []*ingest.Service{a.Ingest, a.DropIngest} {
		if svc != nil {
			svc.SetCapacityRefresher(a.Roster)
		}
	}

	var ing server.Ingester
	if a.Ingest != nil {
		ing = a.Ingest
	}
	a.Club = server.NewClubServer(ing, a.Settlement, a.Roster, a.Export, logger)
	return a, nil
}

// RunIngest runs one ingestion pass, or fails when ingestion is not configured.
func (a *App) RunIngest(ctx context.Context, query string) (*ingest.Summary, error) {
	if a.Ingest == nil {
		return nil, common.NewAppError("INGEST_DISABLED", "set GMAIL_* credentials or MAIL_DROP_DIR", common.ErrFailedPrecondition)
	}
	return a.Ingest.Run(ctx, query)
}

func (a *App) Close() {
	a.DB.Close()
}
