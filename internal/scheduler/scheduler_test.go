package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunner_AddRejectsBadSpec(t *testing.T) {
	r := New(0, quiet())
	if err := r.Add("ingest", "every fifteen", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestRunner_RunNow(t *testing.T) {
	r := New(time.Second, quiet())
	var order []string
	for _, name := range []string{"ingest", "settle"} {
		if err := r.Add(name, "*/15 * * * *", func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("%s: expected a deadline", name)
			}
			order = append(order, name)
			if name == "settle" {
				return errors.New("boom")
			}
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	r.RunNow()
	if len(order) != 2 || order[0] != "ingest" || order[1] != "settle" {
		t.Fatalf("order = %v", order)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestRunner_SkipsOverlappingRuns(t *testing.T) {
	r := New(0, quiet())
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var calls atomic.Int32
	if err := r.Add("slow", "* * * * *", func(ctx context.Context) error {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.RunNow()
	}()
	<-started
	r.RunNow() // skipped while the first run holds the job
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}
