package scorer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/model"
)

func rpt(agent string, traffic float64, findings ...string) *model.Report {
	return &model.Report{
		ID:         "rp-" + agent,
		AgentID:    agent,
		Data:       model.Telemetry{TrafficVolume: traffic, Findings: findings},
		ReceivedAt: time.Now(),
	}
}

func TestAvgPathLength(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 0},
		{1, 0},
		{2, 1},
	}
	for _, tt := range tests {
		if got := avgPathLength(tt.n); got != tt.want {
			t.Errorf("c(%d) = %f, want %f", tt.n, got, tt.want)
		}
	}
	// c(256) is roughly 10.24.
	if got := avgPathLength(256); math.Abs(got-10.24) > 0.05 {
		t.Errorf("c(256) = %f, want ~10.24", got)
	}
}

func TestWindow_EvictsOldestFirst(t *testing.T) {
	w := newWindow(3)
	for i := 0; i < 5; i++ {
		w.push(sample{reportID: fmt.Sprint(i)})
	}
	if w.len() != 3 {
		t.Fatalf("len = %d, want 3", w.len())
	}
	items := w.items()
	for i, want := range []string{"2", "3", "4"} {
		if items[i].reportID != want {
			t.Errorf("items[%d] = %s, want %s", i, items[i].reportID, want)
		}
	}
}

func TestScore_FewerThanTwoSamplesNeverAnomalous(t *testing.T) {
	s := New(Config{}, nil, nil, nil)

	a := s.Score(rpt("a1", 1e9, "cve:2024-0001"))
	if a.Anomalous {
		t.Fatal("single sample must not be flagged")
	}
	if a.Evaluated {
		t.Fatal("single sample must not be evaluated")
	}

	for _, a := range New(Config{}, nil, nil, nil).Evaluate() {
		t.Fatalf("empty window produced assessment %+v", a)
	}
}

func TestScore_IdenticalPointsAreInliers(t *testing.T) {
	s := New(Config{Seed: 1}, nil, nil, nil)
	var last *model.ThreatAssessment
	for i := 0; i < 20; i++ {
		last = s.Score(rpt("a1", 10))
	}
	if !last.Evaluated {
		t.Fatal("expected evaluation with 20 samples")
	}
	if last.Anomalous {
		t.Fatalf("identical samples flagged, score=%f", last.Score)
	}
}

func TestScore_FlagsClearOutlier(t *testing.T) {
	s := New(Config{Seed: 42}, nil, nil, nil)
	for i := 0; i < 50; i++ {
		s.Score(rpt(fmt.Sprintf("a%d", i), 10))
	}

	a := s.Score(rpt("loud", 100000))
	if !a.Anomalous {
		t.Fatalf("expected outlier to be flagged, score=%f", a.Score)
	}
	if a.Pattern != model.ReasonHighTraffic {
		t.Errorf("pattern = %q, want %q", a.Pattern, model.ReasonHighTraffic)
	}
	if a.SuggestedAction != model.ActionCollectData {
		t.Errorf("expected default action, got %s", a.SuggestedAction)
	}
	if a.TacticMatched {
		t.Error("no tactic should match an empty book")
	}
}

func TestScore_TacticLookup(t *testing.T) {
	book := NewTacticBook()
	book.Put(&model.Tactic{
		Pattern:        model.CanonicalPattern([]string{model.ReasonHighTraffic, model.ReasonKnownVulnerability}),
		ResponseAction: model.ActionIsolateHost,
		Score:          0.9,
	})
	s := New(Config{Seed: 7}, book, nil, nil)
	for i := 0; i < 50; i++ {
		s.Score(rpt(fmt.Sprintf("a%d", i), 10))
	}

	a := s.Score(rpt("loud", 100000, "CVE:2021-44228"))
	if !a.Anomalous {
		t.Fatalf("expected outlier to be flagged, score=%f", a.Score)
	}
	if a.Pattern != "high_traffic+known_vulnerability" {
		t.Errorf("pattern = %q", a.Pattern)
	}
	if !a.TacticMatched || a.SuggestedAction != model.ActionIsolateHost || a.TacticScore != 0.9 {
		t.Errorf("tactic not applied: %+v", a)
	}
}

func TestScore_Reproducible(t *testing.T) {
	build := func() *Scorer {
		s := New(Config{Seed: 99}, nil, nil, nil)
		rng := rand.New(rand.NewPCG(1, 2))
		for i := 0; i < 40; i++ {
			s.Score(rpt("a", 100+rng.Float64()*20))
		}
		return s
	}
	a := build().Score(rpt("x", 5000))
	b := build().Score(rpt("x", 5000))
	if a.Score != b.Score {
		t.Fatalf("same seed and data gave %f and %f", a.Score, b.Score)
	}
}

func TestEvaluate_AssessesWholeWindow(t *testing.T) {
	s := New(Config{WindowSize: 16, Seed: 3}, nil, nil, nil)
	for i := 0; i < 20; i++ {
		s.Score(rpt(fmt.Sprintf("a%d", i), 10))
	}
	if s.Window() != 16 {
		t.Fatalf("window = %d, want 16", s.Window())
	}
	got := s.Evaluate()
	if len(got) != 16 {
		t.Fatalf("expected 16 assessments, got %d", len(got))
	}
	if got[0].AgentID != "a4" {
		t.Errorf("oldest retained sample = %s, want a4", got[0].AgentID)
	}
}

func TestReasons(t *testing.T) {
	rules := newReasonRules(1000, []string{"weak_ssh"})
	tests := []struct {
		name string
		s    sample
		want string
	}{
		{"plain outlier", sample{traffic: 10}, "statistical_outlier"},
		{"traffic", sample{traffic: 1001}, "high_traffic"},
		{"at ceiling is not high", sample{traffic: 1000}, "statistical_outlier"},
		{"cve", sample{findings: []string{"cve:2020-1"}}, "known_vulnerability"},
		{"configured vuln", sample{findings: []string{"weak_ssh"}}, "known_vulnerability"},
		{"unknown tag", sample{findings: []string{"open_port"}}, "statistical_outlier"},
		{"honeypot", sample{findings: []string{"honeypot_alert"}}, "intruder_detected"},
		{"all", sample{traffic: 5000, findings: []string{"honeypot_alert", "cve:1", "cve:2"}},
			"high_traffic+intruder_detected+known_vulnerability"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := model.CanonicalPattern(rules.reasons(tt.s))
			if got != tt.want {
				t.Errorf("pattern = %q, want %q", got, tt.want)
			}
		})
	}
}

type fakeTactics struct {
	list []*model.Tactic
	err  error
}

func (f *fakeTactics) ListTactics(context.Context) ([]*model.Tactic, error) {
	return f.list, f.err
}

func TestTacticBook_Load(t *testing.T) {
	b := NewTacticBook()
	b.Put(&model.Tactic{Pattern: "old", ResponseAction: model.ActionBlockIP})

	src := &fakeTactics{list: []*model.Tactic{
		{Pattern: "high_traffic", ResponseAction: model.ActionBlockIP, Score: 0.5},
	}}
	if err := b.Load(context.Background(), src); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := b.Lookup("old"); ok {
		t.Error("Load should replace previous contents")
	}
	if got, ok := b.Lookup("high_traffic"); !ok || got.Score != 0.5 {
		t.Errorf("Lookup(high_traffic) = %+v, %v", got, ok)
	}

	if err := b.Load(context.Background(), &fakeTactics{err: errors.New("down")}); err == nil {
		t.Fatal("expected load error")
	}
	if b.Len() != 1 {
		t.Errorf("failed load should keep contents, len=%d", b.Len())
	}

	b.Delete("high_traffic")
	if b.Len() != 0 {
		t.Errorf("expected empty book after delete, len=%d", b.Len())
	}
}

func TestRun_ReportsFlagged(t *testing.T) {
	s := New(Config{Seed: 5}, nil, nil, nil)
	for i := 0; i < 30; i++ {
		s.Score(rpt(fmt.Sprintf("a%d", i), 10))
	}
	s.Score(rpt("loud", 1e6))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan []*model.ThreatAssessment, 1)
	go s.Run(ctx, 10*time.Millisecond, func(flagged []*model.ThreatAssessment) {
		select {
		case got <- flagged:
		default:
		}
	})

	select {
	case flagged := <-got:
		found := false
		for _, a := range flagged {
			if a.AgentID == "loud" {
				found = true
			}
		}
		if !found {
			t.Fatalf("loud agent not among flagged: %+v", flagged)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run never reported")
	}
}
