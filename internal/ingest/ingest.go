// Package ingest turns inbound report and security-event envelopes into
// persisted state, registry updates, threat assessments and observer events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/dispatch"
	"github.com/alfredjeanlab/sentinel/internal/events"
	"github.com/alfredjeanlab/sentinel/internal/hub"
	"github.com/alfredjeanlab/sentinel/internal/idgen"
	"github.com/alfredjeanlab/sentinel/internal/metrics"
	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/registry"
	"github.com/alfredjeanlab/sentinel/internal/store"
)

// ErrRejected wraps every validation failure of an inbound envelope.
var ErrRejected = errors.New("envelope rejected")

const (
	// autoIssuer is recorded as the issuing principal of automated responses.
	autoIssuer = "threat-scorer"
	// busIssuer is recorded for bus command requests that name no issuer.
	busIssuer = "bus"
)

// Scorer assesses a persisted report.
type Scorer interface {
	Score(r *model.Report) *model.ThreatAssessment
}

// Submitter dispatches an automated response.
type Submitter interface {
	Submit(ctx context.Context, cmd *model.Command) (*dispatch.Result, error)
}

// Toucher records inbound activity for the deadman supervisor.
type Toucher interface {
	Touch()
}

// Config tunes the automated response path.
type Config struct {
	// AutoRespond dispatches the suggested action of an anomalous report
	// when it comes from a learned tactic.
	AutoRespond bool
	// MinTacticScore is the confidence a tactic needs before it is acted
	// on automatically.
	MinTacticScore float64
	// CommandIntake consumes command requests from the bus and submits
	// them to the dispatcher.
	CommandIntake bool
}

// Deps are the collaborators of an Ingestor. Hub, Dispatcher, Deadman and
// Metrics are optional.
type Deps struct {
	Store      store.Store
	Registry   *registry.Registry
	Scorer     Scorer
	Hub        *hub.Hub
	Dispatcher Submitter
	Deadman    Toucher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Outcome is the result of ingesting one report.
type Outcome struct {
	Report     *model.Report           `json:"report"`
	Agent      *model.Agent            `json:"agent"`
	Assessment *model.ThreatAssessment `json:"assessment"`
	Response   *dispatch.Result        `json:"response,omitempty"`
}

// Ingestor is safe for concurrent use. Reports from the same agent are
// applied in arrival order; different agents proceed in parallel.
type Ingestor struct {
	cfg   Config
	d     Deps
	locks *keyedMutex
	now   func() time.Time
}

// New creates an Ingestor.
func New(cfg Config, d Deps) *Ingestor {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Ingestor{
		cfg:   cfg,
		d:     d,
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Handle decodes and ingests a raw report envelope. Malformed envelopes
// are counted and returned as ErrRejected; they never panic or block.
func (i *Ingestor) Handle(ctx context.Context, raw []byte) (*Outcome, error) {
	i.touch()
	receivedAt := i.now()

	env, err := model.DecodeReportEnvelope(raw)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, model.ErrInvalidAgentID) {
			reason = "invalid_identity"
		}
		i.d.Metrics.IncRejected(reason)
		i.d.Logger.Warn("ingest: report rejected", "reason", reason, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return i.Ingest(ctx, env, receivedAt)
}

// Ingest applies a decoded envelope that arrived at receivedAt.
func (i *Ingestor) Ingest(ctx context.Context, env *model.ReportEnvelope, receivedAt time.Time) (*Outcome, error) {
	unlock := i.locks.lock(env.AgentID)
	defer unlock()

	id, err := idgen.Report()
	if err != nil {
		return nil, err
	}
	report := &model.Report{
		ID:         id,
		AgentID:    env.AgentID,
		Data:       env.Data,
		ReceivedAt: receivedAt,
	}
	row := &model.Agent{
		ID:         report.AgentID,
		Status:     model.AgentActive,
		LastSeen:   receivedAt,
		Address:    report.Data.Address,
		ParentID:   report.Data.ParentID,
		Generation: report.Data.Generation,
	}

	err = i.d.Store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.AppendReport(ctx, report); err != nil {
			return fmt.Errorf("append report: %w", err)
		}
		if err := tx.UpsertAgent(ctx, row); err != nil {
			return fmt.Errorf("upsert agent: %w", err)
		}
		return nil
	})
	if err != nil {
		i.d.Metrics.IncRejected("persist_failed")
		i.d.Logger.Error("ingest: persist failed", "agent_id", report.AgentID, "err", err)
		return nil, err
	}
	i.d.Metrics.IncIngested()

	agent := i.d.Registry.Upsert(report)
	i.d.Metrics.SetFleet(i.d.Registry.Counts())

	out := &Outcome{Report: report, Agent: agent}
	if i.d.Scorer != nil {
		out.Assessment = i.d.Scorer.Score(report)
	}
	i.publish(hub.EventReport, report)

	if a := out.Assessment; a != nil && a.Anomalous {
		i.d.Metrics.IncAnomaly()
		i.d.Logger.Warn("ingest: anomalous report",
			"agent_id", a.AgentID,
			"report_id", a.ReportID,
			"score", a.Score,
			"pattern", a.Pattern,
			"suggested_action", a.SuggestedAction)
		i.publish(hub.EventThreatAlert, a)
		out.Response = i.respond(ctx, report, a)
	}
	return out, nil
}

// respond dispatches the tactic's action when automation is enabled and
// the tactic is confident enough.
func (i *Ingestor) respond(ctx context.Context, r *model.Report, a *model.ThreatAssessment) *dispatch.Result {
	if !i.cfg.AutoRespond || i.d.Dispatcher == nil {
		return nil
	}
	if !a.TacticMatched || a.TacticScore < i.cfg.MinTacticScore {
		return nil
	}
	res, err := i.d.Dispatcher.Submit(ctx, &model.Command{
		AgentID:  r.AgentID,
		Action:   a.SuggestedAction,
		Target:   r.Data.Address,
		IssuedBy: autoIssuer,
	})
	if err != nil {
		i.d.Logger.Error("ingest: automated response failed",
			"agent_id", r.AgentID,
			"action", a.SuggestedAction,
			"err", err)
	}
	return res
}

// HandleSecurityEvent validates a security event and forwards it to observers.
func (i *Ingestor) HandleSecurityEvent(ctx context.Context, raw []byte) (*model.SecurityEvent, error) {
	i.touch()
	ev, err := model.DecodeSecurityEvent(raw)
	if err != nil {
		i.d.Metrics.IncRejected("security_event")
		i.d.Logger.Warn("ingest: security event rejected", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}

	level := slog.LevelInfo
	if ev.Severity == model.SeverityHigh || ev.Severity == model.SeverityCritical {
		level = slog.LevelWarn
	}
	i.d.Logger.Log(ctx, level, "ingest: security event",
		"event_type", ev.EventType,
		"severity", ev.Severity,
		"agent_id", ev.AgentID)
	i.publish(hub.EventSecurity, ev)
	return ev, nil
}

// HandleCommandRequest decodes a command request received on the bus and
// submits it to the dispatcher, which validates it exactly as it does
// requests from the request surface.
func (i *Ingestor) HandleCommandRequest(ctx context.Context, raw []byte) (*dispatch.Result, error) {
	i.touch()
	if i.d.Dispatcher == nil {
		return nil, errors.New("ingest: command intake has no dispatcher")
	}
	cmd, err := model.DecodeCommandRequest(raw)
	if err != nil {
		i.d.Metrics.IncRejected("command_request")
		i.d.Logger.Warn("ingest: command request rejected", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	if cmd.IssuedBy == "" {
		cmd.IssuedBy = busIssuer
	}
	res, err := i.d.Dispatcher.Submit(ctx, cmd)
	if err != nil {
		i.d.Logger.Error("ingest: bus command failed",
			"agent_id", cmd.AgentID,
			"action", cmd.Action,
			"err", err)
	}
	return res, err
}

// Run consumes the reports and security-events topics, and command-requests
// when the intake is enabled, until ctx is done. Individual message failures
// are logged and never stop the loop.
func (i *Ingestor) Run(ctx context.Context, sub events.Subscriber) error {
	reports, cancelReports, err := sub.Subscribe(events.TopicReports)
	if err != nil {
		return err
	}
	defer cancelReports()

	secEvents, cancelSec, err := sub.Subscribe(events.TopicSecurityEvents)
	if err != nil {
		return err
	}
	defer cancelSec()

	topics := []string{events.TopicReports, events.TopicSecurityEvents}
	var cmdRequests <-chan []byte
	if i.cfg.CommandIntake {
		ch, cancelCmd, err := sub.Subscribe(events.TopicCommandRequests)
		if err != nil {
			return err
		}
		defer cancelCmd()
		cmdRequests = ch
		topics = append(topics, events.TopicCommandRequests)
	}

	i.d.Logger.Info("ingest: consuming", "topics", topics)

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-reports:
			if !ok {
				return nil
			}
			_, _ = i.Handle(ctx, raw)
		case raw, ok := <-secEvents:
			if !ok {
				return nil
			}
			_, _ = i.HandleSecurityEvent(ctx, raw)
		case raw, ok := <-cmdRequests:
			if !ok {
				return nil
			}
			_, _ = i.HandleCommandRequest(ctx, raw)
		}
	}
}

func (i *Ingestor) touch() {
	if i.d.Deadman != nil {
		i.d.Deadman.Touch()
	}
}

func (i *Ingestor) publish(eventType string, payload any) {
	if i.d.Hub != nil {
		i.d.Hub.Publish(eventType, payload)
	}
}
