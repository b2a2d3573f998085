package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/sentinel/internal/dispatch"
	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/store"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health and
// GET /metrics) must include a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/agents", s.handleRegister)
	mux.HandleFunc("GET /v1/agents", s.handleListAgents)
	mux.HandleFunc("GET /v1/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("GET /v1/agents/{id}/commands/pending", s.handlePendingCommands)
	mux.HandleFunc("GET /v1/view", s.handleView)
	mux.HandleFunc("POST /v1/commands", s.handleSubmitCommand)
	mux.HandleFunc("GET /v1/commands", s.handleListCommands)
	mux.HandleFunc("POST /v1/reports", s.handleIngestReport)
	mux.HandleFunc("GET /v1/tactics", s.handleListTactics)
	mux.HandleFunc("PUT /v1/tactics/{pattern}", s.handleSetTactic)
	mux.HandleFunc("DELETE /v1/tactics/{pattern}", s.handleDeleteTactic)
	mux.HandleFunc("GET /v1/deadman", s.handleDeadmanStatus)
	mux.HandleFunc("POST /v1/deadman/reset", s.handleDeadmanReset)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	if s.d.Metrics != nil {
		mux.Handle("GET /metrics", s.d.Metrics.Handler())
	}
	return recoverMiddleware(s.logger, authMiddleware(authToken, mux))
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Health())
}

// handleRegister handles POST /v1/agents.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	agent, err := s.Register(r.Context(), &req)
	if err != nil {
		code := http.StatusInternalServerError
		if isInputError(err) {
			code = http.StatusBadRequest
		}
		writeJSON(w, code, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "registered", "agent": agent})
}

// handleListAgents handles GET /v1/agents.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.d.Registry.Snapshot()
	if st := r.URL.Query().Get("status"); st != "" {
		if !model.AgentStatus(st).IsValid() {
			writeError(w, http.StatusBadRequest, "invalid status "+strconv.Quote(st))
			return
		}
		filtered := agents[:0]
		for _, a := range agents {
			if string(a.Status) == st {
				filtered = append(filtered, a)
			}
		}
		agents = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents, "total": len(agents)})
}

// handleGetAgent handles GET /v1/agents/{id}.
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agent, ok := s.d.Registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// handlePendingCommands handles GET /v1/agents/{id}/commands/pending, the
// pull channel for agents that cannot subscribe to the bus. Every command
// returned has been marked sent.
func (s *Server) handlePendingCommands(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cmds, err := s.PullCommands(r.Context(), id)
	if err != nil {
		if isInputError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("pull pending commands failed", "agent_id", id, "delivered", len(cmds), "err", err)
		if len(cmds) == 0 {
			writeError(w, http.StatusInternalServerError, "failed to pull pending commands")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": cmds, "total": len(cmds)})
}

// handleView handles GET /v1/view.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.View(r.Context(), limit)
	if err != nil {
		s.logger.Error("view failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to build view")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleSubmitCommand handles POST /v1/commands. A rejected command is a
// normal outcome and answers 200 with status "rejected". A sent command
// whose emergency fan-out failed also answers 200 and carries a warning.
func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.SubmitCommand(r.Context(), &req)
	switch {
	case errors.Is(err, dispatch.ErrPublishFailed):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"status":  res.Status,
			"command": res.Command,
			"error":   err.Error(),
		})
	case err != nil:
		s.logger.Error("submit command failed", "agent_id", req.AgentID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to submit command")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// handleListCommands handles GET /v1/commands?agent_id=&limit=.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	agentID := r.URL.Query().Get("agent_id")
	if agentID != "" && agentID != model.FleetWide {
		if err := model.ValidateAgentID(agentID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	cmds, err := s.d.Store.ListRecentCommands(r.Context(), agentID, limit)
	if err != nil {
		s.logger.Error("list commands failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": cmds, "total": len(cmds)})
}

// handleIngestReport handles POST /v1/reports, the direct report channel.
func (s *Server) handleIngestReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	out, err := s.d.Ingestor.Handle(r.Context(), body)
	if err != nil {
		if isInputError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to ingest report")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeadmanStatus handles GET /v1/deadman.
func (s *Server) handleDeadmanStatus(w http.ResponseWriter, _ *http.Request) {
	if s.d.Deadman == nil {
		writeError(w, http.StatusNotFound, "deadman supervisor disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.d.Deadman.Status())
}

// handleDeadmanReset handles POST /v1/deadman/reset.
func (s *Server) handleDeadmanReset(w http.ResponseWriter, _ *http.Request) {
	if s.d.Deadman == nil {
		writeError(w, http.StatusNotFound, "deadman supervisor disabled")
		return
	}
	s.d.Deadman.Reset()
	writeJSON(w, http.StatusOK, s.d.Deadman.Status())
}

// readJSON strictly decodes a bounded request body.
func readJSON(r *http.Request, dst any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return inputError("failed to read body")
	}
	if len(data) > maxBodyBytes {
		return inputError("request body too large")
	}
	return decodeStrict(data, dst)
}

// parseLimit reads ?limit=, defaulting to defaultViewLimit.
func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultViewLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, inputError("limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}

// splitList parses a comma-separated query value.
func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// notFound reports whether err is a missing-row error from the store.
func notFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
