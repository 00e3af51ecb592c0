package discovery

import (
	"context"
	"errors"
	"fmt"
)

// TypeCode identifies the element type of a flat-address data file.
type TypeCode string

// Known file type codes.
const (
	TypeOutput  TypeCode = "O"
	TypeInput   TypeCode = "I"
	TypeStatus  TypeCode = "S"
	TypeBinary  TypeCode = "B"
	TypeTimer   TypeCode = "T"
	TypeCounter TypeCode = "C"
	TypeControl TypeCode = "R"
	TypeInteger TypeCode = "N"
	TypeFloat   TypeCode = "F"
)

// Entry is one discovered data file. The inventory of entries is the only
// artifact a scan produces; expanding an entry into addressable sub-elements
// happens on demand, never during the scan.
type Entry struct {
	FileNumber   int      `json:"file_number"`
	Type         TypeCode `json:"type"`
	ElementCount int      `json:"element_count"`
}

// Address returns the element-0 address of the file, e.g. "N7:0".
func (e Entry) Address() string {
	return fmt.Sprintf("%s%d:0", e.Type, e.FileNumber)
}

// DefaultFile pairs a well-known file number with its expected type code.
type DefaultFile struct {
	Number int
	Type   TypeCode
}

// DefaultFiles is the fixed file layout probed before the user range.
var DefaultFiles = []DefaultFile{
	{Number: 0, Type: TypeOutput},
	{Number: 1, Type: TypeInput},
	{Number: 2, Type: TypeStatus},
	{Number: 3, Type: TypeBinary},
	{Number: 4, Type: TypeTimer},
	{Number: 5, Type: TypeCounter},
	{Number: 6, Type: TypeControl},
	{Number: 7, Type: TypeInteger},
	{Number: 8, Type: TypeFloat},
}

// CandidateTypes is the ordered list tried against each user-range file.
// The first code that answers fixes the file's type; no dual-typed files
// are modelled.
var CandidateTypes = []TypeCode{
	TypeInteger,
	TypeBinary,
	TypeFloat,
	TypeTimer,
	TypeCounter,
	TypeControl,
}

// Scan bounds.
const (
	// userRangeStart is the first file number outside the default range.
	userRangeStart = 9

	// DefaultMaxFileNumber is the exclusive upper bound of the user-range pass.
	DefaultMaxFileNumber = 256

	// DefaultSizeCeiling caps the exponential size probe. Files never report
	// more elements than this.
	DefaultSizeCeiling = 256

	// DefaultChunkSize is the number of user-range files scanned between
	// progress reports.
	DefaultChunkSize = 10
)

// ErrTimeout reports that a scan's context deadline expired before the
// address space was fully probed.
var ErrTimeout = errors.New("discovery: scan timed out")

// Prober issues a single validity probe against one element of a data file.
// A nil return means the element exists. Any error is treated as "element
// absent": a transient read fault cannot be distinguished from true absence
// at this layer.
type Prober interface {
	Probe(ctx context.Context, code TypeCode, file, element int) error
}

// Progress reports user-range scan progress after each chunk of files.
type Progress struct {
	FilesScanned int `json:"files_scanned"`
	FilesTotal   int `json:"files_total"`
	FilesFound   int `json:"files_found"`
}

// Options configures a scan. Zero values select the defaults above.
type Options struct {
	// MaxFileNumber is the exclusive upper bound of the user-range pass.
	MaxFileNumber int

	// SizeCeiling caps the element count reported for any file.
	SizeCeiling int

	// ChunkSize is the number of user-range files between progress reports.
	ChunkSize int

	// Candidates overrides the ordered candidate type list for the user range.
	Candidates []TypeCode

	// OnProgress, when set, is invoked after each user-range chunk and once
	// more when the pass completes. It runs on the scanning goroutine and
	// must return promptly.
	OnProgress func(Progress)
}

func (o *Options) applyDefaults() {
	if o.MaxFileNumber <= 0 {
		o.MaxFileNumber = DefaultMaxFileNumber
	}
	if o.SizeCeiling <= 0 {
		o.SizeCeiling = DefaultSizeCeiling
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if len(o.Candidates) == 0 {
		o.Candidates = CandidateTypes
	}
}

// Logger receives scan lifecycle and probe failures. Optional; until
// SetLogger is called a no-op logger stands in.
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

// Engine probes a flat address space to reconstruct its file inventory.
//
// The engine holds no connection state of its own; it drives whatever Prober
// it was given. Probes are issued strictly one at a time, so the engine is
// safe to use over a serialised physical link.
type Engine struct {
	prober Prober
	logger Logger
}

// NewEngine creates a discovery engine over the given prober.
func NewEngine(prober Prober) *Engine {
	return &Engine{
		prober: prober,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Scan probes the default range and then the user range, returning the
// discovered inventory ordered by file number. Files where no candidate
// type answers are omitted. The scan stops between probes when ctx is
// cancelled; a deadline expiry is reported as ErrTimeout.
func (e *Engine) Scan(ctx context.Context, opts Options) ([]Entry, error) {
	opts.applyDefaults()

	e.logger.Info("discovery scan started",
		"max_file", opts.MaxFileNumber,
		"size_ceiling", opts.SizeCeiling,
	)

	inventory := make([]Entry, 0, len(DefaultFiles))

	// Default-range pass: each well-known file number carries its expected
	// type; a file answering at element 0 is sized and admitted.
	for _, df := range DefaultFiles {
		size, err := e.FindFileSize(ctx, df.Type, df.Number, opts.SizeCeiling)
		if err != nil {
			return nil, scanErr(err, len(inventory))
		}
		if size == 0 {
			continue
		}
		e.logger.Debug("default file confirmed",
			"file", df.Number,
			"type", string(df.Type),
			"elements", size,
		)
		inventory = append(inventory, Entry{FileNumber: df.Number, Type: df.Type, ElementCount: size})
	}

	// User-range pass: unknown file numbers are tried against the ordered
	// candidate list; the first type that answers wins the file.
	total := opts.MaxFileNumber - userRangeStart
	scanned := 0
	for file := userRangeStart; file < opts.MaxFileNumber; file++ {
		for _, code := range opts.Candidates {
			size, err := e.FindFileSize(ctx, code, file, opts.SizeCeiling)
			if err != nil {
				return nil, scanErr(err, len(inventory))
			}
			if size == 0 {
				continue
			}
			e.logger.Debug("user file confirmed",
				"file", file,
				"type", string(code),
				"elements", size,
			)
			inventory = append(inventory, Entry{FileNumber: file, Type: code, ElementCount: size})
			break
		}
		scanned++
		if opts.OnProgress != nil && (scanned%opts.ChunkSize == 0 || scanned == total) {
			opts.OnProgress(Progress{
				FilesScanned: scanned,
				FilesTotal:   total,
				FilesFound:   len(inventory),
			})
		}
	}

	// Construction order is ascending file number in both passes, so the
	// inventory is already sorted.
	e.logger.Info("discovery scan finished",
		"files_found", len(inventory),
		"files_scanned", len(DefaultFiles)+scanned,
	)

	return inventory, nil
}

// FindFileSize resolves the element count N of a data file: indices 0..N-1
// read successfully and index N fails. A file whose element 0 does not
// answer has size 0.
//
// The search brackets N with an exponential probe (doubling the index while
// it answers, capped at ceiling) and then closes the bracket by binary
// search, so the cost is O(log N) probes rather than O(N). Probe round-trips
// dominate scan wall-clock time, which makes the logarithmic bound a hard
// requirement rather than an optimisation.
//
// The only error returned is ctx cancellation/expiry; probe failures are
// absorbed as "absent".
func (e *Engine) FindFileSize(ctx context.Context, code TypeCode, file, ceiling int) (int, error) {
	if ceiling <= 0 {
		ceiling = DefaultSizeCeiling
	}

	ok, err := e.probe(ctx, code, file, 0)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	// Invariant: indices below lo answer, index hi (when lowered from the
	// ceiling) does not. N lies in [lo, hi].
	lo, hi := 1, ceiling
	for idx := 1; idx < ceiling; idx *= 2 {
		ok, err := e.probe(ctx, code, file, idx)
		if err != nil {
			return 0, err
		}
		if !ok {
			hi = idx
			break
		}
		lo = idx + 1
	}

	for lo < hi {
		mid := lo + (hi-lo)/2
		ok, err := e.probe(ctx, code, file, mid)
		if err != nil {
			return 0, err
		}
		if ok {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	return lo, nil
}

// probe issues one validity probe, honouring ctx between round-trips.
// The bool reports element presence; the error is ctx expiry only.
func (e *Engine) probe(ctx context.Context, code TypeCode, file, element int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := e.prober.Probe(ctx, code, file, element); err != nil {
		return false, nil
	}
	return true, nil
}

// scanErr converts a context failure into the scan's caller-facing error.
func scanErr(err error, found int) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after confirming %d files", ErrTimeout, found)
	}
	return fmt.Errorf("discovery: scan aborted: %w", err)
}
