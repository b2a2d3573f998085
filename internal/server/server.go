// Package server exposes the control plane over HTTP, WebSocket, SSE and gRPC.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/sentinel/internal/deadman"
	"github.com/alfredjeanlab/sentinel/internal/dispatch"
	"github.com/alfredjeanlab/sentinel/internal/events"
	"github.com/alfredjeanlab/sentinel/internal/hub"
	"github.com/alfredjeanlab/sentinel/internal/ingest"
	"github.com/alfredjeanlab/sentinel/internal/metrics"
	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/registry"
	"github.com/alfredjeanlab/sentinel/internal/scorer"
	"github.com/alfredjeanlab/sentinel/internal/store"
)

const (
	defaultViewLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 1 << 20
)

// Deps are the components the request surface drives. Deadman, Bus and
// Metrics are optional. AllowedOrigins lists the cross-origin pages that
// may open the WebSocket channel; "*" allows any origin.
type Deps struct {
	Store      store.Store
	Registry   *registry.Registry
	Ingestor   *ingest.Ingestor
	Dispatcher *dispatch.Dispatcher
	Hub        *hub.Hub
	Tactics    *scorer.TacticBook
	Deadman    *deadman.Supervisor
	Bus        events.Connectivity
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	AllowedOrigins []string
}

// Server implements the control plane's request surface.
type Server struct {
	d        Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

// New creates a Server.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Server{
		d:      d,
		logger: d.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(d.AllowedOrigins),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// isInputError reports whether err was caused by the caller's input.
func isInputError(err error) bool {
	var ie inputError
	var ve *model.ValidationError
	return errors.As(err, &ie) ||
		errors.As(err, &ve) ||
		errors.Is(err, model.ErrInvalidAgentID) ||
		errors.Is(err, ingest.ErrRejected)
}

// HealthStatus is the liveness summary of the control plane.
type HealthStatus struct {
	Status       string          `json:"status"`
	AgentCount   int             `json:"agent_count"`
	BusConnected bool            `json:"bus_connected"`
	Deadman      *deadman.Status `json:"deadman,omitempty"`
}

// Health reports "ok", or "degraded" when the bus is down or the deadman
// has tripped.
func (s *Server) Health() *HealthStatus {
	h := &HealthStatus{Status: "ok", AgentCount: s.d.Registry.Len()}
	if s.d.Bus != nil {
		h.BusConnected = s.d.Bus.Connected()
		if !h.BusConnected {
			h.Status = "degraded"
		}
	}
	if s.d.Deadman != nil {
		st := s.d.Deadman.Status()
		h.Deadman = &st
		if st.Tripped {
			h.Status = "degraded"
		}
	}
	return h
}

// registerRequest is an explicit agent registration.
type registerRequest struct {
	AgentID    string          `json:"agent_id"`
	Address    string          `json:"address,omitempty"`
	ParentID   string          `json:"parent_id,omitempty"`
	Generation int             `json:"generation,omitempty"`
	Priority   int             `json:"priority,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Register persists an explicit registration and merges it into the registry.
func (s *Server) Register(ctx context.Context, req *registerRequest) (*model.Agent, error) {
	s.touch()
	in := &model.Agent{
		ID:         req.AgentID,
		Status:     model.AgentActive,
		LastSeen:   s.now(),
		Address:    req.Address,
		ParentID:   req.ParentID,
		Generation: req.Generation,
		Priority:   req.Priority,
		Metadata:   req.Metadata,
	}
	if err := model.ValidateAgent(in); err != nil {
		return nil, err
	}
	if len(in.Metadata) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(in.Metadata, &obj); err != nil || obj == nil {
			return nil, inputError("metadata must be a JSON object")
		}
	}
	if err := s.d.Store.UpsertAgent(ctx, in); err != nil {
		return nil, fmt.Errorf("persist agent: %w", err)
	}
	agent := s.d.Registry.Register(in)
	s.d.Metrics.SetFleet(s.d.Registry.Counts())
	s.d.Hub.Publish(hub.EventAgentRegistered, agent)
	s.logger.Info("agent registered", "agent_id", agent.ID, "address", agent.Address)
	return agent, nil
}

// commandRequest is a command submission from an operator.
type commandRequest struct {
	AgentID   string          `json:"agent_id"`
	Action    model.Action    `json:"action"`
	Target    string          `json:"target,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Emergency bool            `json:"emergency,omitempty"`
	IssuedBy  string          `json:"issued_by,omitempty"`
}

func (c *commandRequest) command() *model.Command {
	return &model.Command{
		AgentID:   c.AgentID,
		Action:    c.Action,
		Target:    c.Target,
		Params:    c.Params,
		Emergency: c.Emergency,
		IssuedBy:  c.IssuedBy,
	}
}

// SubmitCommand hands a command to the dispatcher.
func (s *Server) SubmitCommand(ctx context.Context, req *commandRequest) (*dispatch.Result, error) {
	s.touch()
	return s.d.Dispatcher.Submit(ctx, req.command())
}

// PullCommands delivers the agent's pending commands and marks them sent.
func (s *Server) PullCommands(ctx context.Context, agentID string) ([]*model.Command, error) {
	s.touch()
	return s.d.Dispatcher.Pull(ctx, agentID)
}

// View assembles the aggregated dashboard view.
func (s *Server) View(ctx context.Context, limit int) (*model.AggregatedView, error) {
	agents := s.d.Registry.Snapshot()
	reports, err := s.d.Store.ListRecentReports(ctx, "", limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	commands, err := s.d.Store.ListRecentCommands(ctx, "", limit)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	return &model.AggregatedView{
		Agents:   agents,
		Reports:  reports,
		Commands: commands,
		Graph:    model.BuildGraph(agents),
	}, nil
}

func (s *Server) touch() {
	if s.d.Deadman != nil {
		s.d.Deadman.Touch()
	}
}

// decodeStrict decodes exactly one JSON value into dst, refusing unknown
// fields and trailing data.
func decodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return inputError("invalid JSON body: " + err.Error())
	}
	if dec.More() {
		return inputError("invalid JSON body: trailing data")
	}
	return nil
}
