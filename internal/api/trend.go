package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/trend"
)

// trendStartRequest is the body for POST /trend.
type trendStartRequest struct {
	Tags        []string `json:"tags"`
	RateSeconds float64  `json:"rate_seconds"`

	// MaxCapacity caps the buffer. Omitted selects the configured
	// default; explicit 0 asks for an unbounded buffer.
	MaxCapacity *int `json:"max_capacity"`
}

// trendStatusResponse is the body for GET /trend.
type trendStatusResponse struct {
	Session    trend.SessionInfo              `json:"session"`
	Aggregates map[string]trend.TagAggregates `json:"aggregates"`
}

// updateTagsRequest is the body for PUT /trend/tags.
type updateTagsRequest struct {
	Tags []string `json:"tags"`
}

// handleTrendStart starts a trend session against the connected controller.
func (s *Server) handleTrendStart(w http.ResponseWriter, r *http.Request) {
	var req trendStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RateSeconds < 0 {
		writeBadRequest(w, "rate_seconds must not be negative")
		return
	}

	start := trend.StartRequest{
		Tags:        req.Tags,
		Rate:        time.Duration(req.RateSeconds * float64(time.Second)),
		MaxCapacity: -1, // configured default
	}
	if req.MaxCapacity != nil {
		if *req.MaxCapacity < 0 {
			writeBadRequest(w, "max_capacity must not be negative")
			return
		}
		start.MaxCapacity = *req.MaxCapacity
	}

	info, err := s.trends.Start(r.Context(), start)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, info)
}

// handleTrendStop stops the running session gracefully. The session stays
// inspectable and exportable until the next start clears it.
func (s *Server) handleTrendStop(w http.ResponseWriter, r *http.Request) {
	info, err := s.trends.Stop(r.Context(), "")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleTrendStatus reports the session's state together with the per-tag
// running aggregates, without dragging the series along.
func (s *Server) handleTrendStatus(w http.ResponseWriter, _ *http.Request) {
	info, ok := s.trends.Status()
	if !ok {
		writeNotFound(w, "no trend session")
		return
	}

	aggregates, err := s.trends.Aggregates()
	if err != nil {
		// Session ended between the two calls; report it without aggregates.
		aggregates = nil
	}

	writeJSON(w, http.StatusOK, trendStatusResponse{
		Session:    info,
		Aggregates: aggregates,
	})
}

// handleTrendUpdateTags swaps the running session's tag set. Dropped tags
// keep their history; added tags begin at the next tick.
func (s *Server) handleTrendUpdateTags(w http.ResponseWriter, r *http.Request) {
	var req updateTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	info, err := s.trends.UpdateTagSet(r.Context(), req.Tags)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleTrendSnapshot returns a point-in-time copy of the buffered series.
// ?tags=a,b restricts the snapshot; omitted means every tag.
func (s *Server) handleTrendSnapshot(w http.ResponseWriter, r *http.Request) {
	var tags []string
	if raw := r.URL.Query().Get("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	snapshot, err := s.trends.Snapshot(tags)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleTrendClear empties the session's buffer. A running loop keeps
// sampling; history restarts from the next tick.
func (s *Server) handleTrendClear(w http.ResponseWriter, r *http.Request) {
	if err := s.trends.Clear(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// handleTrendExport streams the session as a download. ?format=json (the
// default) or ?format=csv.
func (s *Server) handleTrendExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		writeBadRequest(w, `format must be "json" or "csv"`)
		return
	}

	// Resolve the session before touching headers: a missing session must
	// still produce a clean 404.
	info, ok := s.trends.Status()
	if !ok {
		writeNotFound(w, "no trend session")
		return
	}

	filename := fmt.Sprintf("%s.%s", info.ID, format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	var err error
	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		err = s.trends.ExportCSV(w)
	default:
		w.Header().Set("Content-Type", "application/json")
		err = s.trends.ExportJSON(w)
	}
	if err != nil {
		// Headers are gone; all we can do is log and cut the stream.
		s.logger.Error("trend export failed", "session_id", info.ID, "format", format, "error", err)
	}
}

// handleTrendImport reconstructs a session from an uploaded JSON export
// document. The imported session is read-only: inspectable, exportable,
// never sampling.
func (s *Server) handleTrendImport(w http.ResponseWriter, r *http.Request) {
	info, err := s.trends.ImportJSON(r.Context(), r.Body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}
