package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/discovery"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/store"
)

// scanRequest is the optional body for POST /discovery/scan. Zero fields
// fall back to the configured defaults.
type scanRequest struct {
	MaxFile     int `json:"max_file"`
	Chunk       int `json:"chunk"`
	SizeCeiling int `json:"size_ceiling"`
}

// inventoryResponse is the body for GET /discovery/inventory.
type inventoryResponse struct {
	Endpoint string                 `json:"endpoint"`
	Files    []store.InventoryEntry `json:"files"`
}

// elementsResponse is the body for GET /discovery/inventory/{file}/elements.
type elementsResponse struct {
	Endpoint string           `json:"endpoint"`
	File     int              `json:"file"`
	Elements []controller.Tag `json:"elements"`
}

// handleScanStart launches a background discovery scan of the connected
// controller's address space and returns 202 immediately. Progress is
// polled via GET /discovery/scan or pushed on the discovery channel.
func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}
	if req.MaxFile < 0 || req.Chunk < 0 || req.SizeCeiling < 0 {
		writeBadRequest(w, "scan bounds must not be negative")
		return
	}

	endpoint, connected := s.link.Endpoint()
	if !connected {
		writeConflict(w, "not connected to a controller")
		return
	}
	if endpoint.Family != controller.FamilyFlatAddress {
		writeBadRequest(w, "directory-family controllers list tags directly; scanning probes flat address spaces")
		return
	}

	opts := discovery.Options{
		MaxFileNumber: s.scanDefaults.MaxFileNumber,
		SizeCeiling:   s.scanDefaults.SizeCeiling,
		ChunkSize:     s.scanDefaults.ChunkSize,
	}
	if req.MaxFile > 0 {
		opts.MaxFileNumber = req.MaxFile
	}
	if req.Chunk > 0 {
		opts.ChunkSize = req.Chunk
	}
	if req.SizeCeiling > 0 {
		opts.SizeCeiling = req.SizeCeiling
	}

	if err := s.scans.Start(endpoint.String(), opts); err != nil {
		writeDomainError(w, err)
		return
	}

	s.events.RecordEvent(r.Context(), "discovery", "scan_started", map[string]any{
		"endpoint": endpoint.String(),
		"max_file": opts.MaxFileNumber,
	})

	writeJSON(w, http.StatusAccepted, s.scans.Status())
}

// handleScanCancel stops the running scan. The scan winds down on its own
// goroutine; the response reports the state at the moment of cancellation.
func (s *Server) handleScanCancel(w http.ResponseWriter, _ *http.Request) {
	if err := s.scans.Cancel(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.scans.Status())
}

// handleScanStatus reports the lifecycle of the most recent scan.
func (s *Server) handleScanStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scans.Status())
}

// handleGetInventory returns the persisted inventory of an endpoint: the
// result of its latest completed scan. The endpoint defaults to the
// connected controller and can be overridden with ?endpoint= for browsing
// inventories of machines the tool is not currently attached to.
func (s *Server) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.resolveEndpoint(r)
	if !ok {
		writeBadRequest(w, "endpoint query parameter is required when not connected")
		return
	}

	entries, err := s.inventory.Get(r.Context(), endpoint)
	if err != nil {
		s.logger.Error("inventory lookup failed", "endpoint", endpoint, "error", err)
		writeInternalError(w, "failed to load inventory")
		return
	}

	writeJSON(w, http.StatusOK, inventoryResponse{
		Endpoint: endpoint,
		Files:    entries,
	})
}

// handleExpandInventoryFile expands one inventory file into its addressable
// elements. Expansion is lazy and pure: a 500-element file becomes tags
// only when a client actually opens it.
func (s *Server) handleExpandInventoryFile(w http.ResponseWriter, r *http.Request) {
	fileNumber, err := strconv.Atoi(chi.URLParam(r, "file"))
	if err != nil || fileNumber < 0 {
		writeBadRequest(w, "file must be a non-negative integer")
		return
	}

	endpoint, ok := s.resolveEndpoint(r)
	if !ok {
		writeBadRequest(w, "endpoint query parameter is required when not connected")
		return
	}

	entry, err := s.inventory.GetEntry(r.Context(), endpoint, fileNumber)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, elementsResponse{
		Endpoint: endpoint,
		File:     fileNumber,
		Elements: controller.Expand(entry),
	})
}

// resolveEndpoint picks the endpoint an inventory request addresses: the
// ?endpoint= query parameter when present, otherwise the connected
// controller. The bool is false when neither names one.
func (s *Server) resolveEndpoint(r *http.Request) (string, bool) {
	if endpoint := r.URL.Query().Get("endpoint"); endpoint != "" {
		return endpoint, true
	}
	if endpoint, connected := s.link.Endpoint(); connected {
		return endpoint.String(), true
	}
	return "", false
}
