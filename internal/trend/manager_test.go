package trend

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
)

// fakeLink is a scriptable LinkReader. With a script, each ReadBatch
// returns the next scripted tick and fails once the script is exhausted,
// pinning the buffer to an exact sample count. Without a script it
// synthesises incrementing values for every requested tag.
type fakeLink struct {
	mu        sync.Mutex
	connected bool
	endpoint  controller.Endpoint
	label     string
	script    []map[string]controller.Reading
	calls     int
	value     float64
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		connected: true,
		endpoint: controller.Endpoint{
			Address: "192.168.1.20",
			Family:  controller.FamilyFlatAddress,
		},
		label: "SLC 5/04",
	}
}

func (l *fakeLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) Endpoint() (controller.Endpoint, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.endpoint, l.connected
}

func (l *fakeLink) DeviceLabel() string {
	return l.label
}

func (l *fakeLink) ReadBatch(_ context.Context, names []string) (map[string]controller.Reading, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.script != nil {
		if l.calls >= len(l.script) {
			return nil, controller.ErrReadFailure
		}
		tick := l.script[l.calls]
		l.calls++
		return tick, nil
	}

	l.value++
	values := make(map[string]controller.Reading, len(names))
	for _, name := range names {
		values[name] = controller.Present(l.value)
	}
	return values, nil
}

// captureSink records every published sample.
type captureSink struct {
	mu         sync.Mutex
	sessionIDs []string
	samples    []Sample
}

func (c *captureSink) PublishSample(sessionID string, sample Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionIDs = append(c.sessionIDs, sessionID)
	c.samples = append(c.samples, sample)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// fakeArchiver records archived sessions.
type fakeArchiver struct {
	mu    sync.Mutex
	calls int
	info  SessionInfo
	doc   *ExportDocument
}

func (a *fakeArchiver) ArchiveSession(_ context.Context, info SessionInfo, doc *ExportDocument) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.info = info
	a.doc = doc
	return nil
}

func (a *fakeArchiver) archived() (int, SessionInfo, *ExportDocument) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls, a.info, a.doc
}

// actionRecorder captures lifecycle notifications.
type actionRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (r *actionRecorder) record(action string, _ SessionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
}

func (r *actionRecorder) has(action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.actions {
		if a == action {
			return true
		}
	}
	return false
}

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		DefaultRate: 5 * time.Millisecond,
		MinRate:     time.Millisecond,
		MaxRate:     time.Minute,
		JoinTimeout: time.Second,
	}
}

func TestManager_StartStopArchives(t *testing.T) {
	link := newFakeLink()
	archiver := &fakeArchiver{}

	manager := NewManager(link, testManagerConfig())
	manager.SetArchiver(archiver)

	info, err := manager.Start(context.Background(), StartRequest{
		Tags:        []string{"N7:0", "N7:1"},
		MaxCapacity: -1,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !strings.HasPrefix(info.ID, "trs-") {
		t.Errorf("session id = %q, want trs- prefix", info.ID)
	}
	if info.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", info.Status, StatusRunning)
	}
	if info.Endpoint != "192.168.1.20" {
		t.Errorf("Endpoint = %q, want %q", info.Endpoint, "192.168.1.20")
	}
	if info.DeviceLabel != "SLC 5/04" {
		t.Errorf("DeviceLabel = %q, want %q", info.DeviceLabel, "SLC 5/04")
	}

	waitFor(t, time.Second, func() bool {
		current, ok := manager.Status()
		return ok && current.PointCount >= 3
	}, "three samples collected")

	stopped, err := manager.Stop(context.Background(), "test finished")
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if stopped.Status != StatusIdle {
		t.Errorf("stopped Status = %q, want %q", stopped.Status, StatusIdle)
	}
	if stopped.EndedAt == nil {
		t.Error("stopped session has no EndedAt")
	}
	if stopped.StopReason != "test finished" {
		t.Errorf("StopReason = %q, want %q", stopped.StopReason, "test finished")
	}

	calls, archivedInfo, doc := archiver.archived()
	if calls != 1 {
		t.Fatalf("archiver called %d times, want 1", calls)
	}
	if archivedInfo.ID != info.ID {
		t.Errorf("archived session id = %q, want %q", archivedInfo.ID, info.ID)
	}
	if doc == nil || len(doc.Data) != archivedInfo.PointCount {
		t.Errorf("archived document points = %d, want %d", len(doc.Data), archivedInfo.PointCount)
	}

	// The stopped session stays inspectable.
	if _, err := manager.Snapshot(nil); err != nil {
		t.Errorf("Snapshot() after stop error = %v", err)
	}
}

func TestManager_SingleActiveSession(t *testing.T) {
	link := newFakeLink()
	manager := NewManager(link, testManagerConfig())

	if _, err := manager.Start(context.Background(), StartRequest{Tags: []string{"N7:0"}}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_, err := manager.Start(context.Background(), StartRequest{Tags: []string{"N7:1"}})
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Start() error = %v, want ErrSessionActive", err)
	}

	if _, err := manager.Stop(context.Background(), ""); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// A finished session does not block the next one.
	if _, err := manager.Start(context.Background(), StartRequest{Tags: []string{"N7:2"}}); err != nil {
		t.Fatalf("Start() after stop error = %v", err)
	}
	if _, err := manager.Stop(context.Background(), ""); err != nil {
		t.Fatalf("final Stop() error = %v", err)
	}
}

func TestManager_StartValidation(t *testing.T) {
	t.Run("disconnected link", func(t *testing.T) {
		link := newFakeLink()
		link.connected = false
		manager := NewManager(link, testManagerConfig())

		_, err := manager.Start(context.Background(), StartRequest{Tags: []string{"N7:0"}})
		if !errors.Is(err, controller.ErrNotConnected) {
			t.Errorf("Start() error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("empty tag set", func(t *testing.T) {
		manager := NewManager(newFakeLink(), testManagerConfig())
		_, err := manager.Start(context.Background(), StartRequest{})
		if !errors.Is(err, ErrNoTags) {
			t.Errorf("Start() error = %v, want ErrNoTags", err)
		}
	})

	t.Run("rate below bound", func(t *testing.T) {
		manager := NewManager(newFakeLink(), testManagerConfig())
		_, err := manager.Start(context.Background(), StartRequest{
			Tags: []string{"N7:0"},
			Rate: 100 * time.Microsecond,
		})
		if !errors.Is(err, ErrInvalidRate) {
			t.Errorf("Start() error = %v, want ErrInvalidRate", err)
		}
	})

	t.Run("rate above bound", func(t *testing.T) {
		manager := NewManager(newFakeLink(), testManagerConfig())
		_, err := manager.Start(context.Background(), StartRequest{
			Tags: []string{"N7:0"},
			Rate: time.Hour,
		})
		if !errors.Is(err, ErrInvalidRate) {
			t.Errorf("Start() error = %v, want ErrInvalidRate", err)
		}
	})
}

func TestManager_StopValidation(t *testing.T) {
	manager := NewManager(newFakeLink(), testManagerConfig())

	if _, err := manager.Stop(context.Background(), ""); !errors.Is(err, ErrNoSession) {
		t.Errorf("Stop() with no session error = %v, want ErrNoSession", err)
	}

	if _, err := manager.Start(context.Background(), StartRequest{Tags: []string{"N7:0"}}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := manager.Stop(context.Background(), ""); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if _, err := manager.Stop(context.Background(), ""); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestManager_EmptyTagUpdateAutoStops(t *testing.T) {
	link := newFakeLink()
	archiver := &fakeArchiver{}
	recorder := &actionRecorder{}

	cfg := testManagerConfig()
	cfg.OnSessionChange = recorder.record

	manager := NewManager(link, cfg)
	manager.SetArchiver(archiver)

	if _, err := manager.Start(context.Background(), StartRequest{Tags: []string{"N7:0"}}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, time.Second, func() bool {
		info, ok := manager.Status()
		return ok && info.PointCount >= 1
	}, "first sample collected")

	if _, err := manager.UpdateTagSet(context.Background(), nil); err != nil {
		t.Fatalf("UpdateTagSet(empty) error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return recorder.has("auto_stopped") }, "auto-stop notification")
	waitFor(t, time.Second, func() bool {
		calls, _, _ := archiver.archived()
		return calls == 1
	}, "auto-stopped session archived")

	info, ok := manager.Status()
	if !ok {
		t.Fatal("Status() reports no session after auto-stop")
	}
	if info.Status != StatusIdle {
		t.Errorf("Status = %q, want %q", info.Status, StatusIdle)
	}
	if info.StopReason != AutoStopReason {
		t.Errorf("StopReason = %q, want %q", info.StopReason, AutoStopReason)
	}
}

func TestManager_UpdateTagSetValidation(t *testing.T) {
	manager := NewManager(newFakeLink(), testManagerConfig())

	if _, err := manager.UpdateTagSet(context.Background(), []string{"N7:0"}); !errors.Is(err, ErrNoSession) {
		t.Errorf("UpdateTagSet() with no session error = %v, want ErrNoSession", err)
	}

	if _, err := manager.Start(context.Background(), StartRequest{Tags: []string{"N7:0"}}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := manager.Stop(context.Background(), ""); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if _, err := manager.UpdateTagSet(context.Background(), []string{"N7:1"}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("UpdateTagSet() on stopped session error = %v, want ErrNotRunning", err)
	}
}

func TestManager_SinkFanOut(t *testing.T) {
	link := newFakeLink()
	sink := &captureSink{}

	manager := NewManager(link, testManagerConfig())
	manager.AddSink(sink)

	info, err := manager.Start(context.Background(), StartRequest{Tags: []string{"N7:0"}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return sink.count() >= 3 }, "samples delivered to sink")

	if _, err := manager.Stop(context.Background(), ""); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, id := range sink.sessionIDs {
		if id != info.ID {
			t.Errorf("published sample %d carries session %q, want %q", i, id, info.ID)
		}
	}
}

func TestManager_ExportImportRoundTrip(t *testing.T) {
	link := newFakeLink()
	manager := NewManager(link, testManagerConfig())

	original, err := manager.Start(context.Background(), StartRequest{Tags: []string{"N7:0", "N7:1"}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, time.Second, func() bool {
		info, ok := manager.Status()
		return ok && info.PointCount >= 5
	}, "samples collected")

	stopped, err := manager.Stop(context.Background(), "export test")
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	var buf bytes.Buffer
	if err := manager.ExportJSON(&buf); err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}

	imported, err := manager.ImportJSON(context.Background(), bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ImportJSON() error = %v", err)
	}

	if imported.ID == original.ID {
		t.Error("imported session reused the original id")
	}
	if !imported.Imported {
		t.Error("imported session not flagged as imported")
	}
	if imported.PointCount != stopped.PointCount {
		t.Errorf("imported PointCount = %d, want %d", imported.PointCount, stopped.PointCount)
	}
	if imported.Endpoint != stopped.Endpoint {
		t.Errorf("imported Endpoint = %q, want %q", imported.Endpoint, stopped.Endpoint)
	}

	// Imported sessions are read-only reconstructions.
	if _, err := manager.UpdateTagSet(context.Background(), []string{"N7:0"}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("UpdateTagSet() on imported session error = %v, want ErrNotRunning", err)
	}

	snapshot, err := manager.Snapshot(nil)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snapshot.PointCount != imported.PointCount {
		t.Errorf("snapshot PointCount = %d, want %d", snapshot.PointCount, imported.PointCount)
	}
}

func TestManager_ImportRejectedWhileRunning(t *testing.T) {
	link := newFakeLink()
	manager := NewManager(link, testManagerConfig())

	doc := `{"version":"1.0","metadata":{"endpoint":"e","protocolFamily":"flat_address","tags":["a"],"sampleRateSeconds":1,"startTimestamp":"","endTimestamp":"","totalPoints":0},"data":[]}`

	if _, err := manager.Start(context.Background(), StartRequest{Tags: []string{"N7:0"}}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		if _, err := manager.Stop(context.Background(), ""); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	}()

	if _, err := manager.ImportJSON(context.Background(), strings.NewReader(doc)); !errors.Is(err, ErrSessionActive) {
		t.Errorf("ImportJSON() while running error = %v, want ErrSessionActive", err)
	}
}

func TestManager_ImportFailureLeavesSessionUntouched(t *testing.T) {
	link := newFakeLink()
	manager := NewManager(link, testManagerConfig())

	if _, err := manager.Start(context.Background(), StartRequest{Tags: []string{"N7:0"}}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	before, err := manager.Stop(context.Background(), "")
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	bad := `{"version":"9.9","metadata":{"tags":["a"],"sampleRateSeconds":1},"data":[]}`
	if _, err := manager.ImportJSON(context.Background(), strings.NewReader(bad)); !errors.Is(err, ErrSerialization) {
		t.Fatalf("ImportJSON(bad) error = %v, want ErrSerialization", err)
	}

	after, ok := manager.Status()
	if !ok || after.ID != before.ID {
		t.Errorf("session after failed import = %+v, want untouched %q", after, before.ID)
	}
}

func TestManager_ClearKeepsSessionRunning(t *testing.T) {
	link := newFakeLink()
	manager := NewManager(link, testManagerConfig())

	if _, err := manager.Start(context.Background(), StartRequest{Tags: []string{"N7:0"}}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, time.Second, func() bool {
		info, ok := manager.Status()
		return ok && info.PointCount >= 2
	}, "samples before clear")

	if err := manager.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	// The loop keeps appending after a clear.
	waitFor(t, time.Second, func() bool {
		info, ok := manager.Status()
		return ok && info.PointCount >= 1 && info.Status == StatusRunning
	}, "samples after clear")

	if _, err := manager.Stop(context.Background(), ""); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestManager_ExportWithoutSession(t *testing.T) {
	manager := NewManager(newFakeLink(), testManagerConfig())

	var buf bytes.Buffer
	if err := manager.ExportJSON(&buf); !errors.Is(err, ErrNoSession) {
		t.Errorf("ExportJSON() error = %v, want ErrNoSession", err)
	}
	if err := manager.ExportCSV(&buf); !errors.Is(err, ErrNoSession) {
		t.Errorf("ExportCSV() error = %v, want ErrNoSession", err)
	}
	if _, err := manager.Snapshot(nil); !errors.Is(err, ErrNoSession) {
		t.Errorf("Snapshot() error = %v, want ErrNoSession", err)
	}
	if err := manager.Clear(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Clear() error = %v, want ErrNoSession", err)
	}
}

// TestManager_ScriptedScenario drives the documented three-tick example
// through the full manager path and checks every derived figure.
func TestManager_ScriptedScenario(t *testing.T) {
	script := []map[string]controller.Reading{
		{"N7:0": present(10), "N7:1": present(20)},
		{"N7:0": present(12), "N7:1": present(18)},
		{"N7:0": present(9), "N7:1": present(22)},
	}

	t.Run("unbounded buffer", func(t *testing.T) {
		link := newFakeLink()
		link.script = script
		manager := NewManager(link, testManagerConfig())

		if _, err := manager.Start(context.Background(), StartRequest{Tags: []string{"N7:0", "N7:1"}}); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		waitFor(t, time.Second, func() bool {
			info, ok := manager.Status()
			return ok && info.PointCount == 3
		}, "all three ticks collected")

		if _, err := manager.Stop(context.Background(), ""); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}

		snapshot, err := manager.Snapshot([]string{"N7:0", "N7:1"})
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if snapshot.PointCount != 3 {
			t.Fatalf("PointCount = %d, want 3", snapshot.PointCount)
		}

		want := map[string]TagAggregates{
			"N7:0": {Live: 9, Min: 9, Max: 12, Defined: true},
			"N7:1": {Live: 22, Min: 18, Max: 22, Defined: true},
		}
		for tag, wantAgg := range want {
			if got := snapshot.Aggregates[tag]; got != wantAgg {
				t.Errorf("Aggregates[%q] = %+v, want %+v", tag, got, wantAgg)
			}
		}
	})

	t.Run("capacity two retains last ticks", func(t *testing.T) {
		link := newFakeLink()
		link.script = script
		sink := &captureSink{}
		manager := NewManager(link, testManagerConfig())
		manager.AddSink(sink)

		if _, err := manager.Start(context.Background(), StartRequest{
			Tags:        []string{"N7:0", "N7:1"},
			MaxCapacity: 2,
		}); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		waitFor(t, time.Second, func() bool { return sink.count() == 3 }, "all three ticks sampled")

		if _, err := manager.Stop(context.Background(), ""); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}

		snapshot, err := manager.Snapshot([]string{"N7:0"})
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if snapshot.PointCount != 2 {
			t.Fatalf("PointCount = %d, want 2 after eviction", snapshot.PointCount)
		}

		series := snapshot.Series["N7:0"]
		if series[0].Reading.Value != 12 || series[1].Reading.Value != 9 {
			t.Errorf("retained values = %v, %v; want ticks 2 and 3 (12, 9)",
				series[0].Reading.Value, series[1].Reading.Value)
		}

		// Aggregates still span the evicted tick.
		agg := snapshot.Aggregates["N7:0"]
		if agg.Max != 12 || agg.Min != 9 || agg.Live != 9 {
			t.Errorf("aggregates = %+v, want min 9 max 12 live 9", agg)
		}
	})
}
