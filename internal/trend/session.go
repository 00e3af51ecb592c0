package trend

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionIDPrefix namespaces trend session identifiers.
const sessionIDPrefix = "trs-"

// newSessionID mints a short random session identifier, e.g. "trs-9f3a21c4".
// Sessions are short-lived and site-local; eight hex characters is plenty.
func newSessionID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return sessionIDPrefix + raw[:8]
}

// Session binds one trend run together: the endpoint it polls, the tag set,
// the sample buffer, and the sampling loop driving it. The manager creates
// sessions and is the only writer of their lifecycle fields; everything
// read concurrently sits behind the session's own lock.
//
// An imported session has no sampler: it is a read-only reconstruction of
// an export document, inspectable and re-exportable but never running.
type Session struct {
	ID          string
	Endpoint    string
	Family      string
	DeviceLabel string
	Rate        time.Duration
	StartedAt   time.Time

	buffer  *Buffer
	sampler *Sampler

	mu         sync.RWMutex
	tags       []string
	endedAt    time.Time
	stopReason string
	imported   bool
}

// SessionInfo is the wire-friendly summary of a session's state.
type SessionInfo struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Endpoint    string     `json:"endpoint"`
	Family      string     `json:"protocol_family"`
	DeviceLabel string     `json:"device_label,omitempty"`
	Tags        []string   `json:"tags"`
	RateSeconds float64    `json:"sample_rate_seconds"`
	MaxCapacity int        `json:"max_capacity"`
	PointCount  int        `json:"point_count"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	StopReason  string     `json:"stop_reason,omitempty"`
	Imported    bool       `json:"imported,omitempty"`
}

// Tags returns a copy of the session's tag set in display order.
func (s *Session) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tags := make([]string, len(s.tags))
	copy(tags, s.tags)
	return tags
}

// setTags replaces the session's tag set. The sampler keeps its own copy;
// the manager updates both under its lock so they cannot drift.
func (s *Session) setTags(tags []string) {
	copied := make([]string, len(tags))
	copy(copied, tags)

	s.mu.Lock()
	s.tags = copied
	s.mu.Unlock()
}

// Status reports the sampling loop's state. Sessions without a sampler
// (imported documents) are always idle.
func (s *Session) Status() Status {
	if s.sampler == nil {
		return StatusIdle
	}
	return s.sampler.Status()
}

// Buffer exposes the session's sample store.
func (s *Session) Buffer() *Buffer {
	return s.buffer
}

// end records the session's termination once. The first caller wins;
// subsequent calls report false so stop and auto-stop cannot double-archive.
func (s *Session) end(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.endedAt.IsZero() {
		return false
	}
	s.endedAt = time.Now().UTC()
	s.stopReason = reason
	return true
}

// Ended reports whether the session has terminated, and when.
func (s *Session) Ended() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endedAt, !s.endedAt.IsZero()
}

// StopReason returns why the session ended, or "" while it lives.
func (s *Session) StopReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopReason
}

// Info assembles the session summary handed to API responses, archive
// records, and lifecycle broadcasts.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	tags := make([]string, len(s.tags))
	copy(tags, s.tags)
	endedAt := s.endedAt
	stopReason := s.stopReason
	imported := s.imported
	s.mu.RUnlock()

	info := SessionInfo{
		ID:          s.ID,
		Status:      s.Status(),
		Endpoint:    s.Endpoint,
		Family:      s.Family,
		DeviceLabel: s.DeviceLabel,
		Tags:        tags,
		RateSeconds: s.Rate.Seconds(),
		MaxCapacity: s.buffer.MaxCapacity(),
		PointCount:  s.buffer.Len(),
		StartedAt:   s.StartedAt,
		StopReason:  stopReason,
		Imported:    imported,
	}
	if !endedAt.IsZero() {
		info.EndedAt = &endedAt
	}
	return info
}
