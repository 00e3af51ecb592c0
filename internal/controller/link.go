package controller

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/discovery"
)

// defaultCallTimeout bounds every individual wire operation (read, probe,
// handshake). It is independent of the sampling rate: a slow controller
// must fail a call before the next tick is due, and failing probes dominate
// discovery wall-clock time.
const defaultCallTimeout = 5 * time.Second

// unknownDeviceLabel is used when the handshake returns no product name.
const unknownDeviceLabel = "unknown device"

// Config holds link configuration.
type Config struct {
	// CallTimeout is the per-operation timeout. Default: 5 seconds.
	CallTimeout time.Duration
}

// Stats holds operational statistics for one link.
type Stats struct {
	Connected      bool      `json:"connected"`
	Endpoint       string    `json:"endpoint,omitempty"`
	Family         string    `json:"family,omitempty"`
	DeviceLabel    string    `json:"device_label,omitempty"`
	ConnectedAt    time.Time `json:"connected_at,omitempty"`
	ConnectsTotal  uint64    `json:"connects_total"`
	ReadsTotal     uint64    `json:"reads_total"`
	ReadFailures   uint64    `json:"read_failures"`
	ReadingsAbsent uint64    `json:"readings_absent"`
	ProbesTotal    uint64    `json:"probes_total"`
	ProbesAbsent   uint64    `json:"probes_absent"`
	LastActivity   time.Time `json:"last_activity,omitempty"`
}

// Logger keeps the package decoupled from the logging implementation;
// anything with the four levelled methods works.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Link owns the single physical connection to a controller and serialises
// every wire operation over it.
//
// Thread safety: all methods are safe for concurrent use. The wire mutex
// guarantees at most one outstanding transport call at a time; the physical
// channel is not safe for concurrent in-flight requests.
type Link struct {
	cfg       Config
	transport Transport
	logger    Logger

	// wireMu serialises transport calls (open, close, read, probe, list).
	wireMu sync.Mutex

	// mu guards connection state.
	mu          sync.RWMutex
	connected   bool
	endpoint    Endpoint
	deviceLabel string
	connectedAt time.Time

	// Statistics (atomic access).
	connectsTotal  atomic.Uint64
	readsTotal     atomic.Uint64
	readFailures   atomic.Uint64
	readingsAbsent atomic.Uint64
	probesTotal    atomic.Uint64
	probesAbsent   atomic.Uint64
	lastActivity   atomic.Int64 // unix nanos
}

// Ensure Link satisfies the discovery engine's prober contract.
var _ discovery.Prober = (*Link)(nil)

// NewLink creates a link over the given transport.
func NewLink(transport Transport, cfg Config) *Link {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Link{
		cfg:       cfg,
		transport: transport,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the link.
func (l *Link) SetLogger(logger Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Connect establishes the physical connection and returns the device label
// reported by the handshake. An existing connection is closed first, so at
// most one is ever open. Failures wrap ErrConnection.
func (l *Link) Connect(ctx context.Context, endpoint Endpoint) (string, error) {
	if err := endpoint.Validate(); err != nil {
		return "", err
	}

	l.wireMu.Lock()
	defer l.wireMu.Unlock()

	// Replace any prior connection before dialling.
	l.mu.Lock()
	wasConnected := l.connected
	l.connected = false
	l.mu.Unlock()
	if wasConnected {
		if err := l.transport.Close(); err != nil {
			l.logger.Warn("closing previous connection", "error", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()

	info, err := l.transport.Open(callCtx, endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrConnection, endpoint.String(), err)
	}

	label := info.ProductName
	if label == "" {
		label = unknownDeviceLabel
	}

	l.mu.Lock()
	l.connected = true
	l.endpoint = endpoint
	l.deviceLabel = label
	l.connectedAt = time.Now().UTC()
	l.mu.Unlock()

	l.connectsTotal.Add(1)
	l.touch()

	l.logger.Info("controller connected",
		"endpoint", endpoint.String(),
		"family", string(endpoint.Family),
		"device", label,
	)

	return label, nil
}

// Disconnect releases the connection. It is idempotent: calling it on a
// disconnected link is a no-op.
func (l *Link) Disconnect() error {
	l.wireMu.Lock()
	defer l.wireMu.Unlock()

	l.mu.Lock()
	wasConnected := l.connected
	l.connected = false
	endpoint := l.endpoint
	l.deviceLabel = ""
	l.mu.Unlock()

	if !wasConnected {
		return nil
	}

	if err := l.transport.Close(); err != nil {
		return fmt.Errorf("closing transport: %w", err)
	}

	l.logger.Info("controller disconnected", "endpoint", endpoint.String())
	return nil
}

// IsConnected reports whether the link currently holds a connection.
func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// Endpoint returns the endpoint of the current connection. The bool is
// false when disconnected.
func (l *Link) Endpoint() (Endpoint, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.endpoint, l.connected
}

// DeviceLabel returns the handshake label of the connected controller.
func (l *Link) DeviceLabel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.deviceLabel
}

// ReadBatch reads the named tags together where the protocol allows a
// multi-read. A tag that fails to read yields an absent Reading for that
// tag only; the batch succeeds regardless. Only wholesale channel loss
// returns an error, wrapping ErrReadFailure.
func (l *Link) ReadBatch(ctx context.Context, names []string) (map[string]Reading, error) {
	if len(names) == 0 {
		return map[string]Reading{}, nil
	}
	if !l.IsConnected() {
		return nil, ErrNotConnected
	}

	l.wireMu.Lock()
	defer l.wireMu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()

	values, err := l.transport.Read(callCtx, names)
	if err != nil {
		l.readFailures.Add(1)
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	// Tags the transport omitted are still part of the sample, as gaps.
	result := make(map[string]Reading, len(names))
	absent := uint64(0)
	for _, name := range names {
		reading, ok := values[name]
		if !ok {
			reading = Gap()
		}
		if reading.Absent {
			absent++
		}
		result[name] = reading
	}

	l.readsTotal.Add(1)
	if absent > 0 {
		l.readingsAbsent.Add(absent)
	}
	l.touch()

	return result, nil
}

// Probe issues a single-element validity read on a flat-address controller.
// It satisfies discovery.Prober: the engine drives the wire through the
// link so every probe passes the serialisation guard.
func (l *Link) Probe(ctx context.Context, code discovery.TypeCode, file, element int) error {
	if !l.IsConnected() {
		return ErrNotConnected
	}

	flat, ok := l.transport.(FlatTransport)
	if !ok {
		return ErrUnsupported
	}

	l.wireMu.Lock()
	defer l.wireMu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()

	l.probesTotal.Add(1)
	l.touch()
	if err := flat.Probe(callCtx, code, file, element); err != nil {
		l.probesAbsent.Add(1)
		return err
	}
	return nil
}

// Discover produces the connected controller's addressable surface. For a
// Directory-family controller this is one directory query, classified and
// grouped; for a FlatAddress-family controller it delegates to the
// discovery engine, which probes through this link.
func (l *Link) Discover(ctx context.Context, scanOpts discovery.Options) (*DiscoverResult, error) {
	l.mu.RLock()
	connected := l.connected
	family := l.endpoint.Family
	l.mu.RUnlock()

	if !connected {
		return nil, ErrNotConnected
	}

	switch family {
	case FamilyDirectory:
		dir, err := l.listDirectory(ctx)
		if err != nil {
			return nil, err
		}
		return &DiscoverResult{Directory: dir}, nil
	case FamilyFlatAddress:
		// Checked up front: the engine treats probe errors as "absent", so a
		// transport without probe support would otherwise scan to an empty
		// inventory instead of failing.
		if _, ok := l.transport.(FlatTransport); !ok {
			return nil, ErrUnsupported
		}
		engine := discovery.NewEngine(l)
		engine.SetLogger(l.logger)
		entries, err := engine.Scan(ctx, scanOpts)
		if err != nil {
			return nil, err
		}
		return &DiscoverResult{Inventory: &Inventory{Entries: entries}}, nil
	default:
		return nil, fmt.Errorf("%w: family %q", ErrUnsupported, family)
	}
}

// listDirectory performs the single directory query and classifies the rows.
func (l *Link) listDirectory(ctx context.Context) (*Directory, error) {
	dir, ok := l.transport.(DirectoryTransport)
	if !ok {
		return nil, ErrUnsupported
	}

	l.wireMu.Lock()
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	raw, err := dir.ListTags(callCtx)
	cancel()
	l.wireMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: directory query: %v", ErrReadFailure, err)
	}
	l.touch()

	return ClassifyDirectory(raw), nil
}

// ClassifyDirectory filters and groups raw directory rows.
//
// Internal bookkeeping rows (names containing "__" or prefixed "Routine:",
// "Map:", "Task:") are dropped. Scalar rows become atomic tags, struct rows
// composite tags. Rows named "Program:prog.tag" are grouped under their
// program in addition to carrying their full name. Tags sort
// case-insensitively within the directory and within each group.
func ClassifyDirectory(raw []RawTag) *Directory {
	directory := &Directory{
		Tags:          make([]Tag, 0, len(raw)),
		ProgramGroups: make(map[string][]Tag),
	}

	for _, row := range raw {
		if skipDirectoryRow(row.Name) {
			continue
		}

		var tag Tag
		if row.IsStruct {
			tag = CompositeTag(row.Name, row.TypeID, row.ArrayLength)
		} else {
			tag = AtomicTag(row.Name, KindForTypeName(row.TypeName))
		}

		if program, ok := programOf(row.Name); ok {
			directory.ProgramGroups[program] = append(directory.ProgramGroups[program], tag)
			continue
		}
		directory.Tags = append(directory.Tags, tag)
	}

	sortTags(directory.Tags)
	for _, tags := range directory.ProgramGroups {
		sortTags(tags)
	}
	if len(directory.ProgramGroups) == 0 {
		directory.ProgramGroups = nil
	}

	return directory
}

// skipDirectoryRow reports whether a directory row is internal bookkeeping.
func skipDirectoryRow(name string) bool {
	if strings.Contains(name, "__") {
		return true
	}
	for _, prefix := range []string{"Routine:", "Map:", "Task:"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// programOf extracts the program name from "Program:prog.tag" rows.
func programOf(name string) (string, bool) {
	const prefix = "Program:"
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	rest := name[len(prefix):]
	if dot := strings.IndexByte(rest, '.'); dot > 0 {
		return rest[:dot], true
	}
	return "", false
}

func sortTags(tags []Tag) {
	sort.Slice(tags, func(i, j int) bool {
		return strings.ToLower(tags[i].Name) < strings.ToLower(tags[j].Name)
	})
}

// Stats returns a snapshot of the link's operational statistics.
func (l *Link) Stats() Stats {
	l.mu.RLock()
	stats := Stats{
		Connected:   l.connected,
		DeviceLabel: l.deviceLabel,
		ConnectedAt: l.connectedAt,
	}
	if l.connected {
		stats.Endpoint = l.endpoint.String()
		stats.Family = string(l.endpoint.Family)
	}
	l.mu.RUnlock()

	stats.ConnectsTotal = l.connectsTotal.Load()
	stats.ReadsTotal = l.readsTotal.Load()
	stats.ReadFailures = l.readFailures.Load()
	stats.ReadingsAbsent = l.readingsAbsent.Load()
	stats.ProbesTotal = l.probesTotal.Load()
	stats.ProbesAbsent = l.probesAbsent.Load()
	if nanos := l.lastActivity.Load(); nanos > 0 {
		stats.LastActivity = time.Unix(0, nanos).UTC()
	}
	return stats
}

func (l *Link) touch() {
	l.lastActivity.Store(time.Now().UnixNano())
}
