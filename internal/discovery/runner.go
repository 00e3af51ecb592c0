package discovery

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Runner lifecycle errors.
var (
	// ErrScanActive reports a Start while a scan is already running.
	ErrScanActive = errors.New("discovery: scan already running")

	// ErrNoScan reports a Cancel with no scan running.
	ErrNoScan = errors.New("discovery: no scan running")
)

// RunState names the lifecycle phase of the most recent scan.
type RunState string

// Runner states.
const (
	RunIdle      RunState = "idle"
	RunActive    RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// RunStatus is a point-in-time snapshot of the runner, shaped for JSON.
type RunStatus struct {
	State      RunState   `json:"state"`
	Endpoint   string     `json:"endpoint,omitempty"`
	Progress   Progress   `json:"progress"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	FilesFound int        `json:"files_found"`
	Error      string     `json:"error,omitempty"`
}

// Result is handed to the completion callback when a scan ends, however
// it ends.
type Result struct {
	Endpoint string
	Entries  []Entry
	Elapsed  time.Duration
	Err      error
}

// Outcome names the terminal state, suitable for logs and metric labels.
func (res Result) Outcome() string {
	switch {
	case res.Err == nil:
		return string(RunCompleted)
	case errors.Is(res.Err, context.Canceled):
		return string(RunCancelled)
	default:
		return string(RunFailed)
	}
}

// RunnerConfig carries the callbacks observing the runner's scans. Both
// callbacks run on the scanning goroutine and must return promptly.
type RunnerConfig struct {
	// OnProgress is invoked after each scanned chunk.
	OnProgress func(Progress)

	// OnComplete is invoked exactly once per scan, with its result.
	OnComplete func(Result)
}

// Runner serialises scans over one engine and tracks the lifecycle of the
// most recent one. Handlers start a scan and return immediately; pollers
// and push channels read Status while the scan proceeds in the background.
//
// Scans run detached from any request context: the caller that started a
// scan may disappear long before the address space is fully probed. The
// only way to stop a running scan is Cancel.
type Runner struct {
	engine *Engine
	cfg    RunnerConfig
	logger Logger

	mu       sync.Mutex
	state    RunState
	endpoint string
	progress Progress
	started  time.Time
	finished time.Time
	found    int
	lastErr  error
	cancel   context.CancelFunc
}

// NewRunner creates a runner over the given engine.
func NewRunner(engine *Engine, cfg RunnerConfig) *Runner {
	return &Runner{
		engine: engine,
		cfg:    cfg,
		logger: noopLogger{},
		state:  RunIdle,
	}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Start launches a scan of the given endpoint in the background. It
// returns ErrScanActive while a scan is running; finished scans of any
// outcome are overwritten by the next Start.
func (r *Runner) Start(endpoint string, opts Options) error {
	r.mu.Lock()
	if r.state == RunActive {
		r.mu.Unlock()
		return ErrScanActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.state = RunActive
	r.endpoint = endpoint
	r.progress = Progress{}
	r.started = time.Now().UTC()
	r.finished = time.Time{}
	r.found = 0
	r.lastErr = nil
	r.cancel = cancel
	r.mu.Unlock()

	opts.OnProgress = r.chainProgress(opts.OnProgress)

	r.logger.Info("scan started", "endpoint", endpoint, "max_file", opts.MaxFileNumber)
	go r.run(ctx, cancel, endpoint, opts)
	return nil
}

// Cancel stops the running scan. The scan ends between probes, so the
// runner may report RunActive for one more probe round-trip.
func (r *Runner) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RunActive || r.cancel == nil {
		return ErrNoScan
	}
	r.cancel()
	return nil
}

// Active reports whether a scan is currently running.
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == RunActive
}

// Status returns a snapshot of the most recent scan.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := RunStatus{
		State:      r.state,
		Endpoint:   r.endpoint,
		Progress:   r.progress,
		FilesFound: r.found,
	}
	if !r.started.IsZero() {
		started := r.started
		status.StartedAt = &started
	}
	if !r.finished.IsZero() {
		finished := r.finished
		status.FinishedAt = &finished
	}
	if r.lastErr != nil {
		status.Error = r.lastErr.Error()
	}
	return status
}

// chainProgress records progress in the runner's status and forwards it
// to the configured callback and any caller-supplied one.
func (r *Runner) chainProgress(next func(Progress)) func(Progress) {
	return func(p Progress) {
		r.mu.Lock()
		r.progress = p
		r.found = p.FilesFound
		r.mu.Unlock()

		if r.cfg.OnProgress != nil {
			r.cfg.OnProgress(p)
		}
		if next != nil {
			next(p)
		}
	}
}

// run executes the scan and settles the runner's terminal state.
func (r *Runner) run(ctx context.Context, cancel context.CancelFunc, endpoint string, opts Options) {
	defer cancel()

	entries, err := r.engine.Scan(ctx, opts)

	r.mu.Lock()
	r.finished = time.Now().UTC()
	r.found = len(entries)
	r.lastErr = err
	switch {
	case err == nil:
		r.state = RunCompleted
	case errors.Is(err, context.Canceled):
		r.state = RunCancelled
	default:
		r.state = RunFailed
	}
	r.cancel = nil
	elapsed := r.finished.Sub(r.started)
	r.mu.Unlock()

	result := Result{Endpoint: endpoint, Entries: entries, Elapsed: elapsed, Err: err}

	if err != nil {
		r.logger.Warn("scan ended early",
			"endpoint", endpoint,
			"outcome", result.Outcome(),
			"error", err,
		)
	} else {
		r.logger.Info("scan completed",
			"endpoint", endpoint,
			"files_found", len(entries),
			"elapsed", elapsed.String(),
		)
	}

	if r.cfg.OnComplete != nil {
		r.cfg.OnComplete(result)
	}
}
