package trend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
)

// archiveTimeout bounds the background persistence of an auto-stopped
// session, which runs outside any request context.
const archiveTimeout = 10 * time.Second

// LinkReader is the slice of the controller link the manager consumes.
type LinkReader interface {
	BatchReader
	Endpoint() (controller.Endpoint, bool)
	DeviceLabel() string
}

// Archiver persists a finished session's document. The manager calls it
// once per session, after the sampling loop has been joined.
type Archiver interface {
	ArchiveSession(ctx context.Context, info SessionInfo, doc *ExportDocument) error
}

// EventRecorder appends one entry to the operational event log.
type EventRecorder interface {
	RecordEvent(ctx context.Context, category, action string, detail map[string]any)
}

// ManagerConfig bounds the sessions a manager will start.
type ManagerConfig struct {
	// MaxCapacity is the default buffer bound for new sessions.
	// Zero means unlimited.
	MaxCapacity int

	// DefaultRate is used when a start request carries no rate.
	DefaultRate time.Duration

	// MinRate and MaxRate bound accepted sample rates.
	MinRate time.Duration
	MaxRate time.Duration

	// JoinTimeout bounds how long Stop waits for the loop to exit.
	JoinTimeout time.Duration

	// OnSessionChange, when set, is invoked after lifecycle transitions
	// ("started", "stopped", "auto_stopped", "imported") with the
	// session's state. It runs on the calling goroutine and must not
	// call back into the manager.
	OnSessionChange func(action string, info SessionInfo)
}

// StartRequest describes the session a caller wants.
type StartRequest struct {
	// Tags is the initial tag set in display order.
	Tags []string

	// Rate is the sample interval. Zero selects the configured default.
	Rate time.Duration

	// MaxCapacity overrides the configured buffer bound when positive.
	// Zero asks for an unlimited buffer, negative selects the default.
	MaxCapacity int
}

// Manager owns the single trend session. It guards lifecycle transitions,
// mints session ids, fans samples out to sinks, and archives finished
// sessions. One session at a time is a product decision, not a technical
// limit: the tool trends one machine while an engineer watches.
//
// All methods are safe for concurrent use.
type Manager struct {
	cfg      ManagerConfig
	link     LinkReader
	logger   Logger
	sinks    []Sink
	archiver Archiver
	events   EventRecorder

	mu      sync.Mutex
	session *Session
}

// NewManager creates a manager for the given link.
func NewManager(link LinkReader, cfg ManagerConfig) *Manager {
	if cfg.DefaultRate <= 0 {
		cfg.DefaultRate = DefaultRate
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	return &Manager{
		cfg:    cfg,
		link:   link,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager and the samplers it creates.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// AddSink registers a sample sink. Sinks must be registered before the
// first Start; registration is not synchronised with a running loop.
func (m *Manager) AddSink(sink Sink) {
	if sink != nil {
		m.sinks = append(m.sinks, sink)
	}
}

// SetArchiver sets the store that receives finished sessions.
func (m *Manager) SetArchiver(archiver Archiver) {
	m.archiver = archiver
}

// SetEventRecorder sets the operational event log.
func (m *Manager) SetEventRecorder(events EventRecorder) {
	m.events = events
}

// Start creates and starts a new session.
//
// Returns ErrSessionActive if a session is running, ErrNoTags for an empty
// tag set, ErrInvalidRate for a rate outside the configured bounds, and
// controller.ErrNotConnected when no link is up.
func (m *Manager) Start(ctx context.Context, req StartRequest) (SessionInfo, error) {
	endpoint, connected := m.link.Endpoint()
	if !connected {
		return SessionInfo{}, controller.ErrNotConnected
	}
	if len(req.Tags) == 0 {
		return SessionInfo{}, ErrNoTags
	}

	rate := req.Rate
	if rate == 0 {
		rate = m.cfg.DefaultRate
	}
	if rate < m.cfg.MinRate || (m.cfg.MaxRate > 0 && rate > m.cfg.MaxRate) {
		return SessionInfo{}, fmt.Errorf("%w: %s not in [%s, %s]",
			ErrInvalidRate, rate, m.cfg.MinRate, m.cfg.MaxRate)
	}

	capacity := m.cfg.MaxCapacity
	if req.MaxCapacity >= 0 {
		capacity = req.MaxCapacity
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && m.session.Status() != StatusIdle {
		return SessionInfo{}, ErrSessionActive
	}

	session := &Session{
		ID:          newSessionID(),
		Endpoint:    endpoint.String(),
		Family:      string(endpoint.Family),
		DeviceLabel: m.link.DeviceLabel(),
		Rate:        rate,
		StartedAt:   time.Now().UTC(),
		buffer:      NewBuffer(capacity),
	}
	session.setTags(req.Tags)

	sampler := NewSampler(m.link, session.buffer, SamplerConfig{
		Rate:       rate,
		OnSample:   func(sample Sample) { m.fanOut(session.ID, sample) },
		OnAutoStop: func(reason string) { go m.finalize(session, reason) },
	})
	sampler.SetLogger(m.logger)
	session.sampler = sampler

	// The loop's lifetime is governed by the stop channel, not by the
	// caller's request context: an HTTP request ending must not kill a
	// session it started.
	if err := sampler.Start(context.Background(), req.Tags); err != nil {
		return SessionInfo{}, err
	}
	m.session = session

	info := session.Info()
	m.logger.Info("trend session started",
		"session_id", session.ID,
		"endpoint", session.Endpoint,
		"tags", len(req.Tags),
		"rate", rate.String(),
	)
	m.recordEvent(ctx, "session_started", map[string]any{
		"session_id": session.ID,
		"endpoint":   session.Endpoint,
		"tags":       req.Tags,
		"rate":       rate.Seconds(),
	})
	m.notify("started", info)
	return info, nil
}

// Stop terminates the running session, archives its document, and leaves
// it in place for inspection and export.
//
// On ErrJoinTimeout the loop is leaked but the session is still finalized
// with whatever the buffer holds; the error is returned so callers can
// surface the leak.
func (m *Manager) Stop(ctx context.Context, reason string) (SessionInfo, error) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		return SessionInfo{}, ErrNoSession
	}
	if session.Status() == StatusIdle {
		return SessionInfo{}, ErrNotRunning
	}
	if reason == "" {
		reason = "stopped by operator"
	}

	session.sampler.Stop()
	joinErr := session.sampler.Join(m.cfg.JoinTimeout)
	if joinErr != nil {
		m.logger.Error("sampling loop leaked", "session_id", session.ID, "error", joinErr)
	}

	m.finalizeWith(ctx, session, reason, "stopped")
	return session.Info(), joinErr
}

// Shutdown stops any running session with a "shutdown" reason. It is the
// process-exit path; a missing or idle session is not an error.
func (m *Manager) Shutdown(ctx context.Context) {
	if _, err := m.Stop(ctx, "shutdown"); err != nil &&
		!errors.Is(err, ErrNoSession) && !errors.Is(err, ErrNotRunning) {
		m.logger.Warn("session stop during shutdown", "error", err)
	}
}

// Status returns the current session's state. ok is false when no session
// has ever been started or imported.
func (m *Manager) Status() (SessionInfo, bool) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		return SessionInfo{}, false
	}
	return session.Info(), true
}

// Active reports whether a session is currently sampling.
func (m *Manager) Active() bool {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	return session != nil && session.Status() != StatusIdle
}

// UpdateTagSet replaces the running session's tag set. Added tags appear
// from the next tick, removed tags keep their history, and an empty set
// makes the loop stop itself on its next pass.
func (m *Manager) UpdateTagSet(ctx context.Context, tags []string) (SessionInfo, error) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		return SessionInfo{}, ErrNoSession
	}
	if session.Status() != StatusRunning {
		return SessionInfo{}, ErrNotRunning
	}

	session.setTags(tags)
	session.sampler.UpdateTagSet(tags)

	m.logger.Info("trend tag set updated", "session_id", session.ID, "tags", len(tags))
	m.recordEvent(ctx, "tags_updated", map[string]any{
		"session_id": session.ID,
		"tags":       tags,
	})
	return session.Info(), nil
}

// Snapshot returns a point-in-time copy of the session's series. A nil
// tag list selects every tag the buffer has seen.
func (m *Manager) Snapshot(tags []string) (*Snapshot, error) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		return nil, ErrNoSession
	}
	return session.buffer.Snapshot(tags), nil
}

// Aggregates returns the per-tag running statistics of the session's
// buffer, without copying the series.
func (m *Manager) Aggregates() (map[string]TagAggregates, error) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		return nil, ErrNoSession
	}
	return session.buffer.Aggregates(), nil
}

// Clear empties the session's buffer and aggregates. A running loop keeps
// appending afterwards; history simply restarts from the next tick.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		return ErrNoSession
	}

	session.buffer.Clear()
	m.logger.Info("trend buffer cleared", "session_id", session.ID)
	m.recordEvent(ctx, "buffer_cleared", map[string]any{"session_id": session.ID})
	return nil
}

// ExportJSON writes the session's export document to w.
func (m *Manager) ExportJSON(w io.Writer) error {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		return ErrNoSession
	}
	doc := buildDocument(session, session.buffer.Samples())
	return WriteJSON(w, doc)
}

// ExportCSV writes the session's samples as CSV to w.
func (m *Manager) ExportCSV(w io.Writer) error {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		return ErrNoSession
	}
	return WriteCSV(w, session.Tags(), session.buffer.Samples())
}

// ImportJSON reconstructs a session from an export document and installs
// it as the current (idle) session. The document is validated and replayed
// into a scratch buffer first; on any failure the existing session is left
// untouched.
//
// Returns ErrSessionActive while a session is running.
func (m *Manager) ImportJSON(ctx context.Context, r io.Reader) (SessionInfo, error) {
	doc, err := ReadJSON(r)
	if err != nil {
		return SessionInfo{}, err
	}
	buffer, err := rebuildBuffer(doc)
	if err != nil {
		return SessionInfo{}, err
	}

	session := &Session{
		ID:          newSessionID(),
		Endpoint:    doc.Metadata.Endpoint,
		Family:      doc.Metadata.ProtocolFamily,
		DeviceLabel: doc.Metadata.DeviceLabel,
		Rate:        time.Duration(doc.Metadata.SampleRateSeconds * float64(time.Second)),
		buffer:      buffer,
	}
	session.setTags(doc.Metadata.Tags)
	session.imported = true
	if stamp, err := parseStamp(doc.Metadata.StartTimestamp); err == nil {
		session.StartedAt = stamp
	}

	m.mu.Lock()
	if m.session != nil && m.session.Status() != StatusIdle {
		m.mu.Unlock()
		return SessionInfo{}, ErrSessionActive
	}
	m.session = session
	m.mu.Unlock()

	info := session.Info()
	m.logger.Info("trend session imported",
		"session_id", session.ID,
		"points", buffer.Len(),
		"tags", len(doc.Metadata.Tags),
	)
	m.recordEvent(ctx, "session_imported", map[string]any{
		"session_id": session.ID,
		"points":     buffer.Len(),
	})
	m.notify("imported", info)
	return info, nil
}

// fanOut hands one appended sample to every sink. Sinks are non-blocking
// by contract; a slow consumer drops its own data, never the buffer's.
func (m *Manager) fanOut(sessionID string, sample Sample) {
	for _, sink := range m.sinks {
		sink.PublishSample(sessionID, sample)
	}
}

// finalize ends an auto-stopped session. It runs on its own goroutine
// because the sampler invokes OnAutoStop from inside the loop, where
// joining would deadlock.
func (m *Manager) finalize(session *Session, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	m.finalizeWith(ctx, session, reason, "auto_stopped")
}

// finalizeWith records the end of a session and archives its document.
// It is idempotent: only the first caller for a given session acts.
func (m *Manager) finalizeWith(ctx context.Context, session *Session, reason, action string) {
	if !session.end(reason) {
		return
	}

	info := session.Info()
	m.logger.Info("trend session stopped",
		"session_id", session.ID,
		"reason", reason,
		"points", info.PointCount,
	)

	if m.archiver != nil {
		doc := buildDocument(session, session.buffer.Samples())
		if err := m.archiver.ArchiveSession(ctx, info, doc); err != nil {
			m.logger.Error("session archive failed", "session_id", session.ID, "error", err)
		}
	}
	m.recordEvent(ctx, "session_stopped", map[string]any{
		"session_id": session.ID,
		"reason":     reason,
		"points":     info.PointCount,
	})
	m.notify(action, info)
}

func (m *Manager) recordEvent(ctx context.Context, action string, detail map[string]any) {
	if m.events != nil {
		m.events.RecordEvent(ctx, "trend", action, detail)
	}
}

func (m *Manager) notify(action string, info SessionInfo) {
	if m.cfg.OnSessionChange != nil {
		m.cfg.OnSessionChange(action, info)
	}
}
