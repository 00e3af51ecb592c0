package trend

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
)

// Sample is one polling tick's result: a timestamp and a reading per tag
// that was in the trend set at that tick. Samples are immutable once
// appended; snapshots share their value maps without copying them.
type Sample struct {
	Timestamp time.Time                     `json:"timestamp"`
	Values    map[string]controller.Reading `json:"values"`
}

// TagAggregates carries the derived per-tag statistics. Live is the most
// recent non-absent value; Min and Max are undefined until the first
// non-absent value arrives, signalled by Defined.
type TagAggregates struct {
	Live    float64 `json:"live"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Defined bool    `json:"defined"`
}

// Point is one (timestamp, value-or-gap) pair of a per-tag series.
type Point struct {
	Timestamp time.Time          `json:"timestamp"`
	Reading   controller.Reading `json:"reading"`
}

// Snapshot is a read-only copy of a buffer's state at one instant.
type Snapshot struct {
	TakenAt    time.Time                `json:"taken_at"`
	PointCount int                      `json:"point_count"`
	Tags       []string                 `json:"tags"`
	Series     map[string][]Point       `json:"series"`
	Aggregates map[string]TagAggregates `json:"aggregates"`
}

// Buffer is the bounded, thread-safe time-series store for one session.
//
// One exclusive lock guards the sample list and the aggregate map. The
// expected contention is low: a single writer appends once per sampling
// interval, and readers copy references under the lock and do their
// processing outside it. Finer-grained locking buys nothing here.
type Buffer struct {
	mu          sync.Mutex
	samples     []Sample
	aggregates  map[string]*TagAggregates
	maxCapacity int
	lastStamp   time.Time
}

// NewBuffer creates a buffer retaining at most maxCapacity samples.
// maxCapacity 0 means unlimited.
func NewBuffer(maxCapacity int) *Buffer {
	if maxCapacity < 0 {
		maxCapacity = 0
	}
	return &Buffer{
		aggregates:  make(map[string]*TagAggregates),
		maxCapacity: maxCapacity,
	}
}

// MaxCapacity returns the configured retention bound (0 = unlimited).
func (b *Buffer) MaxCapacity() int {
	return b.maxCapacity
}

// AppendSample appends one sample and folds it into the aggregates.
//
// Timestamps must strictly increase; a stalled or stepped clock yields
// ErrNonMonotonic and the sample is dropped. When the buffer is over
// capacity the oldest samples are evicted: retention is a policy, not an
// error. Absent readings update no aggregate.
func (b *Buffer) AppendSample(sample Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.lastStamp.IsZero() && !sample.Timestamp.After(b.lastStamp) {
		return fmt.Errorf("%w: %s does not advance %s",
			ErrNonMonotonic, sample.Timestamp.Format(time.RFC3339Nano), b.lastStamp.Format(time.RFC3339Nano))
	}
	b.lastStamp = sample.Timestamp

	b.samples = append(b.samples, sample)
	if b.maxCapacity > 0 && len(b.samples) > b.maxCapacity {
		b.samples = b.samples[len(b.samples)-b.maxCapacity:]
	}

	for name, reading := range sample.Values {
		if reading.Absent {
			continue
		}
		agg := b.aggregates[name]
		if agg == nil {
			agg = &TagAggregates{}
			b.aggregates[name] = agg
		}
		if !agg.Defined {
			agg.Live = reading.Value
			agg.Min = reading.Value
			agg.Max = reading.Value
			agg.Defined = true
			continue
		}
		agg.Live = reading.Value
		if reading.Value < agg.Min {
			agg.Min = reading.Value
		}
		if reading.Value > agg.Max {
			agg.Max = reading.Value
		}
	}

	return nil
}

// Len returns the number of retained samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Samples returns a copy of the retained sample sequence. The sample
// structs are copied; their value maps are shared and must be treated as
// read-only, which holds because appended samples are never mutated.
func (b *Buffer) Samples() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	samples := make([]Sample, len(b.samples))
	copy(samples, b.samples)
	return samples
}

// Aggregates returns a copy of the per-tag aggregates.
func (b *Buffer) Aggregates() map[string]TagAggregates {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyAggregatesLocked()
}

func (b *Buffer) copyAggregatesLocked() map[string]TagAggregates {
	aggregates := make(map[string]TagAggregates, len(b.aggregates))
	for name, agg := range b.aggregates {
		aggregates[name] = *agg
	}
	return aggregates
}

// Snapshot builds per-tag series for the given tags in the given order.
// A nil tag list selects every tag that has ever appeared, sorted.
//
// The lock is held only long enough to copy sample references and
// aggregates; series construction happens outside it, so consumers never
// block the sampler for the duration of their own processing.
func (b *Buffer) Snapshot(tags []string) *Snapshot {
	b.mu.Lock()
	samples := make([]Sample, len(b.samples))
	copy(samples, b.samples)
	aggregates := b.copyAggregatesLocked()
	b.mu.Unlock()

	if tags == nil {
		tags = make([]string, 0, len(aggregates))
		seen := make(map[string]bool, len(aggregates))
		for name := range aggregates {
			tags = append(tags, name)
			seen[name] = true
		}
		// Aggregates only cover tags with at least one present reading;
		// all-absent tags still appear in samples.
		for _, sample := range samples {
			for name := range sample.Values {
				if !seen[name] {
					tags = append(tags, name)
					seen[name] = true
				}
			}
		}
		sort.Strings(tags)
	}

	snapshot := &Snapshot{
		TakenAt:    time.Now().UTC(),
		PointCount: len(samples),
		Tags:       tags,
		Series:     make(map[string][]Point, len(tags)),
		Aggregates: aggregates,
	}

	for _, name := range tags {
		series := make([]Point, 0, len(samples))
		for _, sample := range samples {
			reading, ok := sample.Values[name]
			if !ok {
				// The tag was not in the trend set at this tick.
				reading = controller.Gap()
			}
			series = append(series, Point{Timestamp: sample.Timestamp, Reading: reading})
		}
		snapshot.Series[name] = series
	}

	return snapshot
}

// Clear resets samples and aggregates to empty. It is independent of any
// sampling state; a running loop simply continues appending afterwards.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
	b.aggregates = make(map[string]*TagAggregates)
	b.lastStamp = time.Time{}
}
