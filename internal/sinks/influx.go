package sinks

import (
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/trend"
)

// sinkInfluxDB is the label the drop counter files InfluxDB losses under.
const sinkInfluxDB = "influxdb"

// TrendWriter is the slice of the InfluxDB client the sink uses. Writes
// must not block; the real client batches points and flushes asynchronously.
type TrendWriter interface {
	WriteTrendPoint(sessionID string, tag string, value float64, ts time.Time)
	IsConnected() bool
}

// InfluxSink mirrors appended samples into long-term time-series storage.
// Each present reading becomes one point tagged by session and tag; absent
// readings are skipped because a gap carries no value worth storing.
type InfluxSink struct {
	writer TrendWriter
	drops  DropCounter
}

var _ trend.Sink = (*InfluxSink)(nil)

// NewInfluxSink creates a sink writing through writer.
func NewInfluxSink(writer TrendWriter) *InfluxSink {
	return &InfluxSink{
		writer: writer,
		drops:  noopDropCounter{},
	}
}

// SetDropCounter sets the counter that tracks samples skipped while the
// server is unreachable. Async write failures are reported through the
// client's own error callback, not here.
func (s *InfluxSink) SetDropCounter(drops DropCounter) {
	if drops != nil {
		s.drops = drops
	}
}

// PublishSample writes each present reading of the sample to the trend
// measurement, stamped with the sample time rather than the write time.
func (s *InfluxSink) PublishSample(sessionID string, sample trend.Sample) {
	if !s.writer.IsConnected() {
		s.drops.DropSample(sinkInfluxDB)
		return
	}
	for tag, reading := range sample.Values {
		if reading.Absent {
			continue
		}
		s.writer.WriteTrendPoint(sessionID, tag, reading.Value, sample.Timestamp)
	}
}
