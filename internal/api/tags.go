package api

import (
	"net/http"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/discovery"
)

// handleListTags returns the connected controller's tag directory: the
// trendable tags plus the per-program groups.
//
// GET /tags
//
// Directory-family controllers answer from a single directory query.
// Flat-address controllers have no directory; callers run a discovery
// scan and browse the inventory instead.
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	endpoint, connected := s.link.Endpoint()
	if !connected {
		writeConflict(w, "not connected to a controller")
		return
	}
	if endpoint.Family != controller.FamilyDirectory {
		writeBadRequest(w, "connected controller has no tag directory; run a discovery scan")
		return
	}

	result, err := s.link.Discover(r.Context(), discovery.Options{})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result.Directory)
}
