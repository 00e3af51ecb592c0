package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/store"
)

// handleListSessions returns archived session summaries, newest first.
// Optional query parameters: endpoint, limit, offset.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter := store.SessionFilter{
		Endpoint: r.URL.Query().Get("endpoint"),
	}

	var ok bool
	if filter.Limit, ok = queryInt(r, "limit"); !ok {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, ok = queryInt(r, "offset"); !ok {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}

	result, err := s.sessions.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("session list failed", "error", err)
		writeInternalError(w, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetSession returns one archived session, document included.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleDeleteSession removes one archived session.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.sessions.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	s.events.RecordEvent(r.Context(), "trend", "archive_deleted", map[string]any{
		"session_id": id,
	})

	writeJSON(w, http.StatusNoContent, nil)
}

// queryInt parses a non-negative integer query parameter. A missing
// parameter yields zero; the bool is false on garbage or negatives.
func queryInt(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}
