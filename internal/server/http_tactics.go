package server

import (
	"net/http"

	"github.com/alfredjeanlab/sentinel/internal/hub"
	"github.com/alfredjeanlab/sentinel/internal/model"
)

// setTacticRequest is the body of PUT /v1/tactics/{pattern}.
type setTacticRequest struct {
	ResponseAction model.Action `json:"response_action"`
	Score          float64      `json:"score"`
}

// tacticChange is the payload of a tactic_updated event.
type tacticChange struct {
	Pattern string        `json:"pattern"`
	Tactic  *model.Tactic `json:"tactic,omitempty"`
	Deleted bool          `json:"deleted,omitempty"`
}

// handleListTactics handles GET /v1/tactics.
func (s *Server) handleListTactics(w http.ResponseWriter, r *http.Request) {
	tactics, err := s.d.Store.ListTactics(r.Context())
	if err != nil {
		s.logger.Error("list tactics failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list tactics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tactics": tactics, "total": len(tactics)})
}

// handleSetTactic handles PUT /v1/tactics/{pattern}.
func (s *Server) handleSetTactic(w http.ResponseWriter, r *http.Request) {
	var req setTacticRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t := &model.Tactic{
		Pattern:        r.PathValue("pattern"),
		ResponseAction: req.ResponseAction,
		Score:          req.Score,
		UpdatedAt:      s.now(),
	}
	if err := model.ValidateTactic(t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.d.Store.UpsertTactic(r.Context(), t); err != nil {
		s.logger.Error("upsert tactic failed", "pattern", t.Pattern, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to store tactic")
		return
	}
	if s.d.Tactics != nil {
		s.d.Tactics.Put(t)
	}
	s.d.Hub.Publish(hub.EventTacticUpdated, tacticChange{Pattern: t.Pattern, Tactic: t})
	s.logger.Info("tactic updated", "pattern", t.Pattern, "action", t.ResponseAction, "score", t.Score)
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteTactic handles DELETE /v1/tactics/{pattern}.
func (s *Server) handleDeleteTactic(w http.ResponseWriter, r *http.Request) {
	pattern := r.PathValue("pattern")
	if err := s.d.Store.DeleteTactic(r.Context(), pattern); err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, "tactic not found")
			return
		}
		s.logger.Error("delete tactic failed", "pattern", pattern, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to delete tactic")
		return
	}
	if s.d.Tactics != nil {
		s.d.Tactics.Delete(pattern)
	}
	s.d.Hub.Publish(hub.EventTacticUpdated, tacticChange{Pattern: pattern, Deleted: true})
	w.WriteHeader(http.StatusNoContent)
}
