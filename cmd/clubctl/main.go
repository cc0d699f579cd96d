package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joseph-ayodele/club-sessions/internal/app"
	"github.com/joseph-ayodele/club-sessions/internal/common"
	"github.com/joseph-ayodele/club-sessions/internal/server"
	"github.com/joseph-ayodele/club-sessions/internal/settlement"
)

const usage = `usage: clubctl [-remote host:port] <command> [flags]

commands:
  migrate                      create or update tables
  ingest  [-query q]           run one mail ingestion pass
  settle  [-dry-run]           run one settlement sweep
  export  [-from d] [-to d] [-out file.xlsx]
                               write the session ledger workbook
`

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	remote := flag.String("remote", "", "call a running clubd at this address instead of the local database")
	flag.Usage = func() { printError(usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	var r runner
	if *remote != "" {
		conn, err := grpc.NewClient(*remote, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			printError("Error: dial %s: %v\n", *remote, err)
			os.Exit(1)
		}
		defer conn.Close()
		r = &remoteRunner{client: server.NewClient(conn)}
		reqID := uuid.NewString()
		ctx = common.WithRequestID(ctx, reqID)
		logger.Debug("clubctl.remote", "addr", *remote, "req_id", reqID)
	} else {
		cfg := common.LoadConfig()
		if err := cfg.Validate(); err != nil {
			printError("Error: %v\n", err)
			os.Exit(2)
		}
		a, err := app.Build(ctx, cfg, logger)
		if err != nil {
			printError("Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()
		r = &localRunner{app: a}
	}

	if err := dispatch(ctx, r, cmd, args); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
}

type runner interface {
	migrate(ctx context.Context) error
	ingest(ctx context.Context, query string) (any, error)
	settle(ctx context.Context, dryRun bool) (any, error)
	export(ctx context.Context, from, to string) ([]byte, error)
}

func dispatch(ctx context.Context, r runner, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	switch cmd {
	case "migrate":
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := r.migrate(ctx); err != nil {
			return err
		}
		fmt.Println("schema migrated")
		return nil
	case "ingest":
		query := fs.String("query", "", "provider search query (default built from GMAIL_* settings)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return printJSON(r.ingest(ctx, *query))
	case "settle":
		dryRun := fs.Bool("dry-run", false, "validate and report without locking, calling Splitwise or writing")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return printJSON(r.settle(ctx, *dryRun))
	case "export":
		from := fs.String("from", "", "from date YYYY-MM-DD")
		to := fs.String("to", "", "to date YYYY-MM-DD")
		out := fs.String("out", "ledger.xlsx", "output XLSX path")
		if err := fs.Parse(args); err != nil {
			return err
		}
		b, err := r.export(ctx, *from, *to)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*out, b, 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d bytes)\n", *out, len(b))
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func printJSON(v any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type localRunner struct{ app *app.App }

func (l *localRunner) migrate(ctx context.Context) error { return l.app.DB.Migrate(ctx) }

func (l *localRunner) ingest(ctx context.Context, query string) (any, error) {
	return l.app.RunIngest(ctx, query)
}

func (l *localRunner) settle(ctx context.Context, dryRun bool) (any, error) {
	return l.app.Settlement.Run(ctx, settlement.Options{DryRun: dryRun})
}

func (l *localRunner) export(ctx context.Context, from, to string) ([]byte, error) {
	return l.app.Export.ExportLedgerXLSX(ctx, from, to)
}

type remoteRunner struct{ client *server.Client }

func (r *remoteRunner) migrate(context.Context) error {
	return fmt.Errorf("migrate runs against the database directly; drop -remote")
}

func (r *remoteRunner) ingest(ctx context.Context, query string) (any, error) {
	return r.client.Call(ctx, "IngestMail", map[string]any{"query": query})
}

func (r *remoteRunner) settle(ctx context.Context, dryRun bool) (any, error) {
	return r.client.Call(ctx, "SettleSessions", map[string]any{"dry_run": dryRun})
}

func (r *remoteRunner) export(ctx context.Context, from, to string) ([]byte, error) {
	return r.client.ExportLedger(ctx, from, to)
}
