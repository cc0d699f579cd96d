package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joseph-ayodele/club-sessions/internal/app"
	"github.com/joseph-ayodele/club-sessions/internal/common"
	"github.com/joseph-ayodele/club-sessions/internal/scheduler"
	"github.com/joseph-ayodele/club-sessions/internal/server"
	"github.com/joseph-ayodele/club-sessions/internal/settlement"
	"github.com/joseph-ayodele/club-sessions/internal/tracing"
)

func main() {
	migrate := flag.Bool("migrate", true, "create or update tables on startup")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	addr := cfg.Server.GRPCAddr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
	}, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.DB.HealthCheck(ctx, 5*time.Second); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if *migrate {
		if err := a.DB.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	var runner *scheduler.Runner
	if cfg.Scheduler.Enabled {
		runner = scheduler.New(10*time.Minute, logger)
		if a.Ingest != nil {
			if err := runner.Add("ingest", cfg.Scheduler.IngestCron, func(ctx context.Context) error {
				sum, err := a.Ingest.Run(ctx, "")
				if sum != nil {
					logger.Info("ingest.summary", "total", sum.Total, "ingested", sum.Ingested, "deduped", sum.Deduped,
						"parse_failed", sum.ParseFailed, "fetch_failed", sum.FetchFailed)
				}
				return err
			}); err != nil {
				logger.Error("failed to schedule ingest", "error", err)
				os.Exit(2)
			}
		}
		if err := runner.Add("settle", cfg.Scheduler.SettleCron, func(ctx context.Context) error {
			sum, err := a.Settlement.Run(ctx, settlement.Options{})
			if sum != nil {
				logger.Info("settlement.summary", "closed_updated", sum.ClosedUpdated, "created", sum.SplitwiseCreated,
					"skipped", sum.SplitwiseSkipped, "failed", sum.SplitwiseFailed, "errors", len(sum.Errors))
			}
			return err
		}); err != nil {
			logger.Error("failed to schedule settlement", "error", err)
			os.Exit(2)
		}
		runner.Start()
	}

	if a.DropIngest != nil {
		go func() {
			if err := a.DropIngest.Watch(ctx, a.DropSource, 2*time.Second); err != nil {
				logger.Error("drop directory watcher stopped", "dir", a.DropSource.Root(), "error", err)
			}
		}()
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", addr, "error", err)
		os.Exit(1)
	}
	grpcServer, healthServer := server.NewGRPCServer(a.Club, logger)

	logger.Info("clubd listening", "addr", addr, "scheduler", cfg.Scheduler.Enabled, "drop_dir", cfg.Gmail.DropDir)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.Shutdown()
	if runner != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := runner.Stop(stopCtx); err != nil {
			logger.Warn("scheduler did not stop in time", "error", err)
		}
		cancel()
	}
	grpcServer.GracefulStop()
}
