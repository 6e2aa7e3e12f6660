package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/prefetch/internal/engine"
	"github.com/sells-group/prefetch/internal/model"
)

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// session resolves the {sessionID} URL parameter, creating the session on
// first use. It writes the error response itself and returns nil on failure.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *engine.Session {
	sess, err := s.manager.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		if model.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return nil
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	return sess
}

// existing resolves {sessionID} without creating it.
func (s *Server) existing(w http.ResponseWriter, r *http.Request) *engine.Session {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.manager.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return nil
	}
	return sess
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if model.NormalizeComponentID(req.SessionID) == "" {
		req.SessionID = uuid.New().String()
	}

	sess, err := s.manager.Get(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID(),
		"phase":      sess.Phase(),
		"thresholds": sess.Thresholds(),
	})
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	sess := s.existing(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess.Stats())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRecordInteraction(w http.ResponseWriter, r *http.Request) {
	var ev model.InteractionEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	rec, err := sess.RecordInteraction(ev)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess.CurrentPatterns())
}

func (s *Server) handleShape(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess.NavigationShape())
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidates []string `json:"candidates"`
		Strategy   string   `json:"strategy"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	var strategy model.Strategy
	if req.Strategy != "" {
		parsed, err := model.ParseStrategy(req.Strategy)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		strategy = parsed
	}

	sess := s.session(w, r)
	if sess == nil {
		return
	}

	candidates := req.Candidates
	if candidates == nil {
		candidates = s.registry.Components()
	}
	set := sess.PredictNext(candidates, strategy)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  sess.ID(),
		"predictions": set,
		"thresholds":  sess.Thresholds(),
	})
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ComponentID  string `json:"component_id"`
		WasPredicted bool   `json:"was_predicted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if model.NormalizeComponentID(req.ComponentID) == "" {
		writeError(w, http.StatusBadRequest, "component_id required")
		return
	}
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	acc := s.manager.ReportOutcome(r.Context(), sess, req.ComponentID, req.WasPredicted)
	writeJSON(w, http.StatusOK, map[string]any{
		"accuracy":   acc,
		"thresholds": sess.Thresholds(),
		"phase":      sess.Phase(),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ComponentID string `json:"component_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if model.NormalizeComponentID(req.ComponentID) == "" {
		writeError(w, http.StatusBadRequest, "component_id required")
		return
	}
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	was, acc := s.manager.ReportUsage(r.Context(), sess, req.ComponentID)
	writeJSON(w, http.StatusOK, map[string]any{
		"was_predicted": was,
		"accuracy":      acc,
		"thresholds":    sess.Thresholds(),
	})
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thresholds": sess.Thresholds(),
		"accuracy":   sess.Accuracy(),
		"phase":      sess.Phase(),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := s.existing(w, r)
	if sess == nil {
		return
	}
	sess.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := s.manager.Lookup(id); !ok {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	if err := s.manager.Persist(r.Context(), id); err != nil {
		zap.L().Warn("server: persist failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "persisted"})
}
