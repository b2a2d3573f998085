package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/alfredjeanlab/sentinel/internal/metrics"
)

// mockDestination records calls to Write.
type mockDestination struct {
	name   string
	err    error
	writes atomic.Int64
	last   atomic.Value // []byte
}

func (d *mockDestination) Name() string { return d.name }

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	d.last.Store(append([]byte(nil), data...))
	return d.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerStartStop(t *testing.T) {
	ms := seed(t)
	dest := &mockDestination{name: "mock"}

	sched := NewScheduler(ms, []Destination{dest}, Options{Interval: 50 * time.Millisecond, Logger: discardLogger()})
	sched.Start(t.Context())

	// Initial export plus at least one tick.
	time.Sleep(120 * time.Millisecond)
	sched.Stop()

	if writes := dest.writes.Load(); writes < 2 {
		t.Fatalf("expected at least 2 writes, got %d", writes)
	}
	data, ok := dest.last.Load().([]byte)
	if !ok || len(data) == 0 {
		t.Fatal("expected non-empty data")
	}
	// header + 2 agents + 3 reports + 1 command + 1 tactic
	if lines := nonEmptyLines(string(data)); len(lines) != 8 {
		t.Fatalf("expected 8 lines, got %d", len(lines))
	}
}

func TestSchedulerStop_NoStart(t *testing.T) {
	sched := NewScheduler(seed(t), nil, Options{Logger: discardLogger()})
	sched.Stop()
}

func TestSchedulerStopsWithContext(t *testing.T) {
	dest := &mockDestination{name: "mock"}
	sched := NewScheduler(seed(t), []Destination{dest}, Options{Interval: time.Hour, Logger: discardLogger()})

	ctx, cancel := context.WithCancel(t.Context())
	sched.Start(ctx)
	cancel()
	sched.Stop()

	if dest.writes.Load() > 1 {
		t.Fatalf("expected at most the initial write, got %d", dest.writes.Load())
	}
}

func TestRunOnce_FailingDestination(t *testing.T) {
	bad := &mockDestination{name: "bad", err: errors.New("unreachable")}
	good := &mockDestination{name: "good"}
	m := metrics.New(prometheus.NewRegistry())

	sched := NewScheduler(seed(t), []Destination{bad, good}, Options{Logger: discardLogger(), Metrics: m})
	res := sched.RunOnce(t.Context())

	if bad.writes.Load() != 1 || good.writes.Load() != 1 {
		t.Fatalf("every destination gets the snapshot: bad=%d good=%d", bad.writes.Load(), good.writes.Load())
	}
	if len(res.Failed) != 1 || res.Failed[0] != "bad" || res.Bytes == 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := testutil.ToFloat64(m.ArchiveWrites.WithLabelValues("good", "ok")); got != 1 {
		t.Fatalf("archive writes{good,ok} = %v", got)
	}
	if got := testutil.ToFloat64(m.ArchiveWrites.WithLabelValues("bad", "error")); got != 1 {
		t.Fatalf("archive writes{bad,error} = %v", got)
	}
	if got := testutil.ToFloat64(m.ArchiveBytes); got != float64(res.Bytes) {
		t.Fatalf("archive bytes = %v, want %d", got, res.Bytes)
	}
}
