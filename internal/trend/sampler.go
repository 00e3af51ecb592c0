package trend

import (
	"context"
	"sync"
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
)

// Status represents the sampling loop's lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Sample rate bounds and defaults.
const (
	// DefaultRate is used when no rate is configured.
	DefaultRate = time.Second

	// DefaultJoinTimeout bounds how long Join waits for the loop to exit.
	DefaultJoinTimeout = 3 * time.Second

	// AutoStopReason is reported when the loop stops itself because the
	// tag set became empty mid-flight.
	AutoStopReason = "tag set empty"
)

// BatchReader is the slice of the controller link the sampler consumes.
type BatchReader interface {
	ReadBatch(ctx context.Context, names []string) (map[string]controller.Reading, error)
	IsConnected() bool
}

// Logger is the structured logger sampling progress is reported through.
// Declared here so the package needs no logging import; logging.Logger
// satisfies it.
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

// SamplerConfig holds sampler configuration and owner callbacks.
type SamplerConfig struct {
	// Rate is the polling interval. Default: 1 second.
	Rate time.Duration

	// OnSample is invoked on the sampling goroutine after each appended
	// sample, for fan-out to sinks. It must not block.
	OnSample func(Sample)

	// OnAutoStop is invoked on the sampling goroutine just before it exits
	// on its own (tag set emptied mid-flight). Implementations must not
	// call Join from the callback; hand the work to another goroutine.
	OnAutoStop func(reason string)
}

// Sampler runs one fixed-rate polling loop against a mutable tag set.
//
// Lifecycle: Idle → Running → Stopping → Idle. Stop is cooperative: the
// loop observes the stop request at the top of each iteration and exits
// within one sampling interval. There is no hard kill; Join bounds how
// long a caller waits for the exit.
//
// A sampler runs at most one session; the manager builds a fresh one per
// Start.
type Sampler struct {
	cfg    SamplerConfig
	reader BatchReader
	buffer *Buffer
	logger Logger

	mu     sync.RWMutex
	status Status
	tags   []string

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSampler creates a sampler writing to the given buffer.
func NewSampler(reader BatchReader, buffer *Buffer, cfg SamplerConfig) *Sampler {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	return &Sampler{
		cfg:    cfg,
		reader: reader,
		buffer: buffer,
		logger: noopLogger{},
		status: StatusIdle,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// SetLogger sets the logger for the sampler.
func (s *Sampler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Status returns the loop's lifecycle state.
func (s *Sampler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Tags returns a copy of the active tag set in display order.
func (s *Sampler) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tags := make([]string, len(s.tags))
	copy(tags, s.tags)
	return tags
}

// Rate returns the polling interval.
func (s *Sampler) Rate() time.Duration {
	return s.cfg.Rate
}

// Start transitions Idle → Running and spawns the loop. ctx scopes the
// loop's lifetime: cancelling it stops the loop like a Stop call.
func (s *Sampler) Start(ctx context.Context, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusIdle {
		return ErrAlreadyRunning
	}
	if len(tags) == 0 {
		return ErrNoTags
	}

	s.tags = make([]string, len(tags))
	copy(s.tags, tags)
	s.status = StatusRunning

	go s.run(ctx)
	return nil
}

// Stop requests a cooperative stop. It returns immediately; use Join to
// wait for the loop to exit. Stopping an idle sampler is a no-op.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if s.status == StatusRunning {
		s.status = StatusStopping
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Join blocks until the loop has exited or the timeout elapses. On timeout
// the session must be treated as leaked; retrying indefinitely is the
// caller's mistake to avoid.
func (s *Sampler) Join(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultJoinTimeout
	}
	select {
	case <-s.doneCh:
		return nil
	case <-time.After(timeout):
		return ErrJoinTimeout
	}
}

// Done exposes the loop-exit channel for callers that select on it.
func (s *Sampler) Done() <-chan struct{} {
	return s.doneCh
}

// UpdateTagSet replaces the active tag set. Added tags start appearing
// from the next successful read; removed tags stop appearing while their
// history stays untouched. Emptying the set of a running loop makes the
// loop stop itself and report AutoStopReason to the owner.
func (s *Sampler) UpdateTagSet(tags []string) {
	copied := make([]string, len(tags))
	copy(copied, tags)

	s.mu.Lock()
	s.tags = copied
	s.mu.Unlock()
}

// run is the sampling loop. One loop writes to one buffer; nothing else
// appends to it, which is what makes the buffer's single-writer contract
// hold.
func (s *Sampler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Rate)
	defer ticker.Stop()

	s.logger.Info("sampling loop started", "rate", s.cfg.Rate.String(), "tags", len(s.tags))

	for {
		// Stop requests are observed at the top of each iteration.
		select {
		case <-s.stopCh:
			s.exit("stop requested")
			return
		case <-ctx.Done():
			s.exit("context cancelled")
			return
		default:
		}

		// The tag set is re-read every tick so mutations take effect on
		// the next iteration without restarting the loop.
		tags := s.Tags()
		if len(tags) == 0 {
			s.exit(AutoStopReason)
			if s.cfg.OnAutoStop != nil {
				s.cfg.OnAutoStop(AutoStopReason)
			}
			return
		}

		if s.reader.IsConnected() {
			s.tick(ctx, tags)
		}

		select {
		case <-s.stopCh:
			s.exit("stop requested")
			return
		case <-ctx.Done():
			s.exit("context cancelled")
			return
		case <-ticker.C:
		}
	}
}

// tick performs one batch read and appends the result. Failures degrade to
// a tick with partial or no data; they never terminate the loop.
func (s *Sampler) tick(ctx context.Context, tags []string) {
	values, err := s.reader.ReadBatch(ctx, tags)
	if err != nil {
		s.logger.Warn("batch read failed", "error", err)
		return
	}
	if len(values) == 0 {
		return
	}

	sample := Sample{Timestamp: time.Now().UTC(), Values: values}
	if err := s.buffer.AppendSample(sample); err != nil {
		s.logger.Warn("sample dropped", "error", err)
		return
	}
	if s.cfg.OnSample != nil {
		s.cfg.OnSample(sample)
	}
}

// exit records the loop's return to Idle.
func (s *Sampler) exit(reason string) {
	s.mu.Lock()
	s.status = StatusIdle
	s.mu.Unlock()
	s.logger.Info("sampling loop stopped", "reason", reason)
}
