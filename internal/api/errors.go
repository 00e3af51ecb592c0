package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/discovery"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/store"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/trend"
)

// Error is the wire shape of every non-2xx response body.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Machine-readable codes carried in the Error envelope.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUpstream     = "upstream_error"
)

// writeJSON serialises v with the given status. Once the header is out
// an encoding failure cannot be reported to the client, so the write is
// best-effort.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	json.NewEncoder(w).Encode(v) //nolint:errcheck // header already sent
}

// writeError renders the standard Error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// Shorthand writers for the common statuses, each carrying the matching
// code in the envelope.

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a sentinel from the controller, discovery, trend,
// or store packages onto an HTTP status. Handlers call it after their own
// request validation, so anything unmatched here is a genuine fault.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	// 400: the request asked for something malformed or out of range.
	case errors.Is(err, controller.ErrInvalidEndpoint),
		errors.Is(err, controller.ErrUnsupported),
		errors.Is(err, trend.ErrNoTags),
		errors.Is(err, trend.ErrInvalidRate),
		errors.Is(err, trend.ErrSerialization):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())

	// 404: the thing addressed does not exist.
	case errors.Is(err, trend.ErrNoSession),
		errors.Is(err, store.ErrNotFound):
		writeNotFound(w, err.Error())

	// 409: the request is valid but the current state refuses it.
	case errors.Is(err, trend.ErrSessionActive),
		errors.Is(err, trend.ErrNotRunning),
		errors.Is(err, controller.ErrNotConnected),
		errors.Is(err, discovery.ErrScanActive),
		errors.Is(err, discovery.ErrNoScan):
		writeConflict(w, err.Error())

	// 502: the controller on the far side of the link failed us.
	case errors.Is(err, controller.ErrConnection),
		errors.Is(err, controller.ErrReadFailure):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())

	default:
		writeInternalError(w, err.Error())
	}
}
