package api

import (
	"net/http"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/store"
)

// handleListEvents returns the operational event log, newest first.
// Optional query parameters: category, action, limit, offset.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter := store.EventFilter{
		Category: r.URL.Query().Get("category"),
		Action:   r.URL.Query().Get("action"),
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

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("event list failed", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
