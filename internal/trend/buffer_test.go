package trend

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
)

// stamp returns a deterministic timestamp n seconds past a fixed epoch.
func stamp(n int) time.Time {
	return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Second)
}

// present is shorthand for controller.Present in sample literals.
func present(v float64) controller.Reading {
	return controller.Present(v)
}

func TestBuffer_AppendAndAggregates(t *testing.T) {
	buffer := NewBuffer(0)

	ticks := []map[string]controller.Reading{
		{"N7:0": present(10), "N7:1": present(20)},
		{"N7:0": present(12), "N7:1": present(18)},
		{"N7:0": present(9), "N7:1": present(22)},
	}
	for i, values := range ticks {
		if err := buffer.AppendSample(Sample{Timestamp: stamp(i), Values: values}); err != nil {
			t.Fatalf("AppendSample(tick %d) error = %v", i, err)
		}
	}

	if got := buffer.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	aggs := buffer.Aggregates()
	want := map[string]TagAggregates{
		"N7:0": {Live: 9, Min: 9, Max: 12, Defined: true},
		"N7:1": {Live: 22, Min: 18, Max: 22, Defined: true},
	}
	for tag, wantAgg := range want {
		got, ok := aggs[tag]
		if !ok {
			t.Fatalf("Aggregates() missing tag %q", tag)
		}
		if got != wantAgg {
			t.Errorf("Aggregates()[%q] = %+v, want %+v", tag, got, wantAgg)
		}
	}
}

func TestBuffer_CapacityEvictsOldest(t *testing.T) {
	buffer := NewBuffer(2)

	for i := 0; i < 3; i++ {
		values := map[string]controller.Reading{"N7:0": present(float64(10 + i))}
		if err := buffer.AppendSample(Sample{Timestamp: stamp(i), Values: values}); err != nil {
			t.Fatalf("AppendSample(%d) error = %v", i, err)
		}
	}

	if got := buffer.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	samples := buffer.Samples()
	if !samples[0].Timestamp.Equal(stamp(1)) || !samples[1].Timestamp.Equal(stamp(2)) {
		t.Errorf("retained timestamps = %v, %v; want ticks 2 and 3",
			samples[0].Timestamp, samples[1].Timestamp)
	}

	// Aggregates span the whole session, not just the retained window.
	agg := buffer.Aggregates()["N7:0"]
	if agg.Min != 10 || agg.Max != 12 || agg.Live != 12 {
		t.Errorf("aggregates after eviction = %+v, want min 10 max 12 live 12", agg)
	}
}

func TestBuffer_CapacityNeverExceeded(t *testing.T) {
	const capacity = 16
	buffer := NewBuffer(capacity)

	for i := 0; i < 200; i++ {
		values := map[string]controller.Reading{"F8:0": present(float64(i))}
		if err := buffer.AppendSample(Sample{Timestamp: stamp(i), Values: values}); err != nil {
			t.Fatalf("AppendSample(%d) error = %v", i, err)
		}
		if got := buffer.Len(); got > capacity {
			t.Fatalf("Len() = %d after %d appends, capacity %d exceeded", got, i+1, capacity)
		}
	}
}

func TestBuffer_AggregatesIgnoreAbsent(t *testing.T) {
	buffer := NewBuffer(0)

	readings := []controller.Reading{
		present(5),
		controller.Gap(),
		present(2),
		present(8),
	}
	for i, reading := range readings {
		values := map[string]controller.Reading{"Tank_Level": reading}
		if err := buffer.AppendSample(Sample{Timestamp: stamp(i), Values: values}); err != nil {
			t.Fatalf("AppendSample(%d) error = %v", i, err)
		}
	}

	agg := buffer.Aggregates()["Tank_Level"]
	if !agg.Defined {
		t.Fatal("aggregates undefined after present readings")
	}
	if agg.Min != 2 {
		t.Errorf("Min = %v, want 2", agg.Min)
	}
	if agg.Max != 8 {
		t.Errorf("Max = %v, want 8", agg.Max)
	}
	if agg.Live != 8 {
		t.Errorf("Live = %v, want 8", agg.Live)
	}
}

func TestBuffer_AllAbsentTagStaysUndefined(t *testing.T) {
	buffer := NewBuffer(0)

	for i := 0; i < 3; i++ {
		values := map[string]controller.Reading{"Ghost": controller.Gap()}
		if err := buffer.AppendSample(Sample{Timestamp: stamp(i), Values: values}); err != nil {
			t.Fatalf("AppendSample(%d) error = %v", i, err)
		}
	}

	if agg, ok := buffer.Aggregates()["Ghost"]; ok && agg.Defined {
		t.Errorf("all-absent tag has defined aggregates: %+v", agg)
	}

	// The tag still shows up in snapshots as a series of gaps.
	snapshot := buffer.Snapshot(nil)
	series, ok := snapshot.Series["Ghost"]
	if !ok {
		t.Fatal("Snapshot missing all-absent tag")
	}
	for i, point := range series {
		if !point.Reading.Absent {
			t.Errorf("series[%d].Absent = false, want true", i)
		}
	}
}

func TestBuffer_RejectsNonMonotonic(t *testing.T) {
	buffer := NewBuffer(0)

	first := Sample{Timestamp: stamp(5), Values: map[string]controller.Reading{"N7:0": present(1)}}
	if err := buffer.AppendSample(first); err != nil {
		t.Fatalf("AppendSample(first) error = %v", err)
	}

	tests := []struct {
		name string
		tick time.Time
	}{
		{name: "equal timestamp", tick: stamp(5)},
		{name: "earlier timestamp", tick: stamp(4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample := Sample{Timestamp: tt.tick, Values: map[string]controller.Reading{"N7:0": present(2)}}
			err := buffer.AppendSample(sample)
			if !errors.Is(err, ErrNonMonotonic) {
				t.Fatalf("AppendSample() error = %v, want ErrNonMonotonic", err)
			}
			if got := buffer.Len(); got != 1 {
				t.Errorf("Len() = %d after rejected append, want 1", got)
			}
		})
	}
}

func TestBuffer_SnapshotFillsGapsForMissingTags(t *testing.T) {
	buffer := NewBuffer(0)

	// Tag B joins the trend set on the second tick.
	ticks := []map[string]controller.Reading{
		{"A": present(1)},
		{"A": present(2), "B": present(20)},
	}
	for i, values := range ticks {
		if err := buffer.AppendSample(Sample{Timestamp: stamp(i), Values: values}); err != nil {
			t.Fatalf("AppendSample(%d) error = %v", i, err)
		}
	}

	snapshot := buffer.Snapshot([]string{"A", "B"})
	if snapshot.PointCount != 2 {
		t.Fatalf("PointCount = %d, want 2", snapshot.PointCount)
	}

	seriesB := snapshot.Series["B"]
	if len(seriesB) != 2 {
		t.Fatalf("len(Series[B]) = %d, want 2", len(seriesB))
	}
	if !seriesB[0].Reading.Absent {
		t.Error("Series[B][0] should be a gap before the tag joined")
	}
	if seriesB[1].Reading.Absent || seriesB[1].Reading.Value != 20 {
		t.Errorf("Series[B][1] = %+v, want present 20", seriesB[1].Reading)
	}
}

func TestBuffer_SnapshotTagOrderPreserved(t *testing.T) {
	buffer := NewBuffer(0)
	values := map[string]controller.Reading{"Z": present(1), "A": present(2)}
	if err := buffer.AppendSample(Sample{Timestamp: stamp(0), Values: values}); err != nil {
		t.Fatalf("AppendSample() error = %v", err)
	}

	ordered := buffer.Snapshot([]string{"Z", "A"})
	if ordered.Tags[0] != "Z" || ordered.Tags[1] != "A" {
		t.Errorf("explicit tag order not preserved: %v", ordered.Tags)
	}

	// nil selects all tags, sorted.
	auto := buffer.Snapshot(nil)
	if auto.Tags[0] != "A" || auto.Tags[1] != "Z" {
		t.Errorf("nil tag selection should sort: %v", auto.Tags)
	}
}

func TestBuffer_Clear(t *testing.T) {
	buffer := NewBuffer(0)
	values := map[string]controller.Reading{"N7:0": present(42)}
	if err := buffer.AppendSample(Sample{Timestamp: stamp(10), Values: values}); err != nil {
		t.Fatalf("AppendSample() error = %v", err)
	}

	buffer.Clear()

	if got := buffer.Len(); got != 0 {
		t.Errorf("Len() after Clear = %d, want 0", got)
	}
	if got := len(buffer.Aggregates()); got != 0 {
		t.Errorf("Aggregates() after Clear has %d entries, want 0", got)
	}

	// The monotonic clock resets with the data: a pre-clear timestamp is
	// acceptable again.
	early := Sample{Timestamp: stamp(0), Values: values}
	if err := buffer.AppendSample(early); err != nil {
		t.Errorf("AppendSample(after Clear) error = %v", err)
	}
}

func TestBuffer_ConcurrentReadersDoNotDisturbWriter(t *testing.T) {
	const (
		appends = 500
		readers = 4
	)
	buffer := NewBuffer(0)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snapshot := buffer.Snapshot(nil)
				if snapshot.PointCount > appends {
					t.Errorf("snapshot PointCount = %d, beyond %d appends", snapshot.PointCount, appends)
					return
				}
				buffer.Aggregates()
				buffer.Len()
			}
		}()
	}

	for i := 0; i < appends; i++ {
		values := map[string]controller.Reading{
			"N7:0": present(float64(i)),
			"N7:1": controller.Gap(),
		}
		if err := buffer.AppendSample(Sample{Timestamp: stamp(i), Values: values}); err != nil {
			t.Fatalf("AppendSample(%d) error = %v", i, err)
		}
	}
	close(stop)
	wg.Wait()

	if got := buffer.Len(); got != appends {
		t.Errorf("Len() = %d after concurrent reads, want %d", got, appends)
	}
	agg := buffer.Aggregates()["N7:0"]
	if agg.Live != float64(appends-1) || agg.Min != 0 || agg.Max != float64(appends-1) {
		t.Errorf("aggregates after concurrent load = %+v", agg)
	}
}

func TestBuffer_UnlimitedCapacity(t *testing.T) {
	buffer := NewBuffer(0)
	for i := 0; i < 1000; i++ {
		values := map[string]controller.Reading{"T4:0.ACC": present(float64(i % 100))}
		if err := buffer.AppendSample(Sample{Timestamp: stamp(i), Values: values}); err != nil {
			t.Fatalf("AppendSample(%d) error = %v", i, err)
		}
	}
	if got := buffer.Len(); got != 1000 {
		t.Errorf("Len() = %d, want 1000", got)
	}
}

func ExampleBuffer_Snapshot() {
	buffer := NewBuffer(0)
	_ = buffer.AppendSample(Sample{
		Timestamp: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Values: map[string]controller.Reading{
			"N7:0": {Value: 10},
		},
	})

	snapshot := buffer.Snapshot(nil)
	agg := snapshot.Aggregates["N7:0"]
	fmt.Printf("points=%d live=%v", snapshot.PointCount, agg.Live)
	// Output: points=1 live=10
}
