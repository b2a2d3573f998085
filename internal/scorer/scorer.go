// Package scorer flags anomalous telemetry with an isolation forest refit
// over a sliding window of recent reports, and suggests a response from the
// learned tactic table.
package scorer

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/metrics"
	"github.com/alfredjeanlab/sentinel/internal/model"
)

// Config tunes the detector.
type Config struct {
	// WindowSize is the number of most recent reports kept. Default: 256.
	WindowSize int
	// Trees is the number of isolation trees per fit. Default: 100.
	Trees int
	// SubSample caps the points drawn per tree. Default: 256.
	SubSample int
	// Threshold is the minimum anomaly score that flags a point. Default: 0.6.
	Threshold float64
	// TrafficCeiling is the traffic volume above which high_traffic applies.
	// Default: 1000.
	TrafficCeiling float64
	// KnownVulnerabilities lists finding tags treated as known
	// vulnerabilities in addition to any "cve:" tag.
	KnownVulnerabilities []string
	// DefaultAction is suggested when no tactic matches. Default: collect_data.
	DefaultAction model.Action
	// Seed makes fits reproducible.
	Seed uint64
}

func (c *Config) applyDefaults() {
	if c.WindowSize <= 0 {
		c.WindowSize = 256
	}
	if c.Trees <= 0 {
		c.Trees = 100
	}
	if c.SubSample <= 0 {
		c.SubSample = 256
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.6
	}
	if c.TrafficCeiling <= 0 {
		c.TrafficCeiling = 1000
	}
	if c.DefaultAction == "" {
		c.DefaultAction = model.ActionCollectData
	}
}

// Scorer is safe for concurrent use; evaluations are serialised.
type Scorer struct {
	cfg     Config
	rules   reasonRules
	tactics TacticSource
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	window *window
}

// New creates a scorer. tactics may be nil, in which case every anomaly
// gets the default action.
func New(cfg Config, tactics TacticSource, m *metrics.Metrics, logger *slog.Logger) *Scorer {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		cfg:     cfg,
		rules:   newReasonRules(cfg.TrafficCeiling, cfg.KnownVulnerabilities),
		tactics: tactics,
		metrics: m,
		logger:  logger,
		window:  newWindow(cfg.WindowSize),
	}
}

// Window returns the number of samples currently held.
func (s *Scorer) Window() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.len()
}

// Score adds the report to the window, refits, and assesses the report.
func (s *Scorer) Score(r *model.Report) *model.ThreatAssessment {
	s.mu.Lock()
	defer s.mu.Unlock()

	smp := sampleFromReport(r)
	s.window.push(smp)
	items := s.window.items()

	f := s.fit(items)
	return s.assess(f, smp)
}

// Evaluate refits over the current window and assesses every sample in it,
// oldest first.
func (s *Scorer) Evaluate() []*model.ThreatAssessment {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.window.items()
	f := s.fit(items)
	out := make([]*model.ThreatAssessment, len(items))
	for i, smp := range items {
		out[i] = s.assess(f, smp)
	}
	return out
}

// Run evaluates the window every interval and passes the anomalous
// assessments to fn until ctx is done.
func (s *Scorer) Run(ctx context.Context, interval time.Duration, fn func([]*model.ThreatAssessment)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var flagged []*model.ThreatAssessment
			for _, a := range s.Evaluate() {
				if a.Anomalous {
					flagged = append(flagged, a)
				}
			}
			if len(flagged) > 0 {
				fn(flagged)
			}
		}
	}
}

// fit returns nil when the window is too small for a verdict.
func (s *Scorer) fit(items []sample) *forest {
	if len(items) < 2 {
		return nil
	}
	start := time.Now()
	points := make([][]float64, len(items))
	for i, smp := range items {
		points[i] = smp.features()
	}
	rng := rand.New(rand.NewPCG(s.cfg.Seed, uint64(len(items))))
	f := fitForest(points, s.cfg.Trees, s.cfg.SubSample, rng)
	s.metrics.ObserveScore(time.Since(start).Seconds())
	return f
}

func (s *Scorer) assess(f *forest, smp sample) *model.ThreatAssessment {
	a := &model.ThreatAssessment{AgentID: smp.agentID, ReportID: smp.reportID}
	if f == nil {
		return a
	}
	a.Evaluated = true
	a.Score = f.score(smp.features())
	if a.Score < s.cfg.Threshold {
		return a
	}

	a.Anomalous = true
	a.Reasons = s.rules.reasons(smp)
	a.Pattern = model.CanonicalPattern(a.Reasons)
	a.SuggestedAction = s.cfg.DefaultAction
	if s.tactics != nil {
		if t, ok := s.tactics.Lookup(a.Pattern); ok {
			a.SuggestedAction = t.ResponseAction
			a.TacticScore = t.Score
			a.TacticMatched = true
		}
	}
	return a
}
