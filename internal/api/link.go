package api

import (
	"encoding/json"
	"net/http"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
)

// linkResponse is the body for GET /link and successful connects.
type linkResponse struct {
	Connected   bool                 `json:"connected"`
	Endpoint    *controller.Endpoint `json:"endpoint,omitempty"`
	DeviceLabel string               `json:"device_label,omitempty"`
	Stats       controller.Stats     `json:"stats"`
}

// handleLinkStatus returns the connection state and wire counters.
func (s *Server) handleLinkStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.linkStatus())
}

// handleLinkConnect dials the requested controller. An existing connection
// is replaced, but never underneath a running trend session.
func (s *Server) handleLinkConnect(w http.ResponseWriter, r *http.Request) {
	var endpoint controller.Endpoint
	if err := json.NewDecoder(r.Body).Decode(&endpoint); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	// Swapping the wire under an active session would silently splice two
	// machines into one buffer.
	if s.trends.Active() {
		writeConflict(w, "a trend session is running; stop it before changing the connection")
		return
	}

	label, err := s.link.Connect(r.Context(), endpoint)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.events.RecordEvent(r.Context(), "link", "connected", map[string]any{
		"endpoint":     endpoint.String(),
		"family":       string(endpoint.Family),
		"device_label": label,
	})

	writeJSON(w, http.StatusOK, s.linkStatus())
}

// handleLinkDisconnect releases the connection. Disconnecting is refused
// while a trend session is running; stop the session first.
func (s *Server) handleLinkDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.trends.Active() {
		writeConflict(w, "a trend session is running; stop it before disconnecting")
		return
	}

	endpoint, wasConnected := s.link.Endpoint()
	if err := s.link.Disconnect(); err != nil {
		writeInternalError(w, err.Error())
		return
	}

	if wasConnected {
		s.events.RecordEvent(r.Context(), "link", "disconnected", map[string]any{
			"endpoint": endpoint.String(),
		})
	}

	writeJSON(w, http.StatusOK, s.linkStatus())
}

// linkStatus assembles the link response from the live link.
func (s *Server) linkStatus() linkResponse {
	resp := linkResponse{
		Connected: s.link.IsConnected(),
		Stats:     s.link.Stats(),
	}
	if endpoint, ok := s.link.Endpoint(); ok {
		resp.Endpoint = &endpoint
		resp.DeviceLabel = s.link.DeviceLabel()
	}
	return resp
}
