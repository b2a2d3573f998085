// Package archive periodically exports an audit snapshot of the control
// plane as JSONL to one or more destinations.
package archive

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/metrics"
)

// Destination stores the latest snapshot somewhere outside the database.
type Destination interface {
	Name() string
	// Write replaces the destination's copy with data.
	Write(ctx context.Context, data []byte) error
}

// Options tune a Scheduler. Zero values pick defaults.
type Options struct {
	Interval time.Duration // default 10m
	Limit    int           // reports and commands per snapshot; default DefaultLimit
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Result summarises one export pass.
type Result struct {
	Bytes  int
	Failed []string // names of destinations whose write failed
}

type Scheduler struct {
	src   Source
	dests []Destination
	opts  Options

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(src Source, dests []Destination, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Minute
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{src: src, dests: dests, opts: opts}
}

// Start exports once right away and then every interval until ctx ends or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		t := time.NewTicker(s.opts.Interval)
		defer t.Stop()
		for {
			s.RunOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight export.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// RunOnce builds one snapshot and hands it to every destination in
// parallel. A failing destination does not affect the others.
func (s *Scheduler) RunOnce(ctx context.Context) Result {
	log := s.opts.Logger
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.src, s.opts.Limit, &buf); err != nil {
		log.Error("archive export failed", "err", err)
		return Result{}
	}
	data := buf.Bytes()
	s.opts.Metrics.SetArchiveBytes(len(data))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		res = Result{Bytes: len(data)}
	)
	for _, d := range s.dests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.Write(ctx, data)
			s.opts.Metrics.ObserveArchiveWrite(d.Name(), err)
			if err == nil {
				return
			}
			log.Error("archive write failed", "destination", d.Name(), "err", err)
			mu.Lock()
			res.Failed = append(res.Failed, d.Name())
			mu.Unlock()
		}()
	}
	wg.Wait()

	log.Info("archive completed", "destinations", len(s.dests), "failed", len(res.Failed), "bytes", res.Bytes)
	return res
}
