// Package deadman trips a one-shot fleet-wide directive when the control
// plane has seen no inbound activity for longer than a timeout.
package deadman

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/metrics"
	"github.com/alfredjeanlab/sentinel/internal/model"
)

// ResetPolicy decides how a tripped supervisor re-arms.
type ResetPolicy string

const (
	// ResetManual keeps the supervisor tripped until Reset is called.
	ResetManual ResetPolicy = "manual"
	// ResetAuto re-arms on the first activity after a trip.
	ResetAuto ResetPolicy = "auto"
)

// ParseResetPolicy validates a policy name.
func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch p := ResetPolicy(s); p {
	case ResetManual, ResetAuto:
		return p, nil
	}
	return "", fmt.Errorf("unknown deadman reset policy %q (want manual or auto)", s)
}

// Emitter delivers the directive once the supervisor trips.
type Emitter interface {
	EmitDirective(ctx context.Context, d *model.Directive) error
}

// Config configures a Supervisor.
type Config struct {
	// Timeout is the idle period that trips the supervisor. Required.
	Timeout time.Duration
	// CheckInterval is how often Run checks. Default: 30 seconds.
	CheckInterval time.Duration
	// Reset selects the re-arm policy. Default: manual.
	Reset ResetPolicy
	// Action is the directive's action. Default: enter_safe_mode.
	Action model.Action
}

// Status is a point-in-time view for health reporting.
type Status struct {
	Armed        bool        `json:"armed"`
	Tripped      bool        `json:"tripped"`
	LastActivity time.Time   `json:"last_activity"`
	TrippedAt    *time.Time  `json:"tripped_at,omitempty"`
	Timeout      string      `json:"timeout"`
	ResetPolicy  ResetPolicy `json:"reset_policy"`
}

// Supervisor tracks the last inbound activity.
type Supervisor struct {
	cfg     Config
	emitter Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu           sync.Mutex
	lastActivity time.Time
	tripped      bool
	trippedAt    time.Time
}

// New creates an armed supervisor whose idle clock starts now.
func New(cfg Config, emitter Emitter, m *metrics.Metrics, logger *slog.Logger) *Supervisor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.Reset == "" {
		cfg.Reset = ResetManual
	}
	if cfg.Action == "" {
		cfg.Action = model.ActionEnterSafeMode
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		cfg:     cfg,
		emitter: emitter,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
	s.lastActivity = s.now()
	return s
}

// Touch records inbound activity. Under the auto policy it also re-arms a
// tripped supervisor.
func (s *Supervisor) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
	if s.tripped && s.cfg.Reset == ResetAuto {
		s.tripped = false
		s.trippedAt = time.Time{}
		s.logger.Info("deadman: re-armed by activity")
	}
}

// Reset re-arms a tripped supervisor and restarts the idle clock.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tripped = false
	s.trippedAt = time.Time{}
	s.lastActivity = s.now()
	s.logger.Info("deadman: reset")
}

// Check trips the supervisor if it has been idle longer than the timeout
// at now. It returns true only on the transition; while tripped it does
// nothing.
func (s *Supervisor) Check(ctx context.Context, now time.Time) bool {
	s.mu.Lock()
	if s.tripped {
		s.mu.Unlock()
		return false
	}
	idle := now.Sub(s.lastActivity)
	if idle <= s.cfg.Timeout {
		s.mu.Unlock()
		return false
	}
	s.tripped = true
	s.trippedAt = now
	s.mu.Unlock()

	s.metrics.IncDeadmanTrip()
	d := &model.Directive{
		Action:   s.cfg.Action,
		Reason:   fmt.Sprintf("no inbound activity for %s", idle.Round(time.Second)),
		IdleFor:  idle,
		IssuedAt: now.UTC(),
	}
	s.logger.Warn("deadman: tripped",
		"idle", idle.Round(time.Second),
		"timeout", s.cfg.Timeout,
		"action", d.Action)
	if s.emitter != nil {
		if err := s.emitter.EmitDirective(ctx, d); err != nil {
			s.logger.Error("deadman: emit directive failed", "err", err)
		}
	}
	return true
}

// Run checks every CheckInterval until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	s.logger.Info("deadman: supervisor started",
		"timeout", s.cfg.Timeout,
		"interval", s.cfg.CheckInterval,
		"reset", s.cfg.Reset)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Check(ctx, now)
		}
	}
}

// Status returns the current state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Armed:        !s.tripped,
		Tripped:      s.tripped,
		LastActivity: s.lastActivity,
		Timeout:      s.cfg.Timeout.String(),
		ResetPolicy:  s.cfg.Reset,
	}
	if s.tripped {
		t := s.trippedAt
		st.TrippedAt = &t
	}
	return st
}
