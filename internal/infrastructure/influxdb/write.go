package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// trendMeasurement is the measurement name for mirrored session samples.
const trendMeasurement = "trend"

// WriteTrendPoint writes one trend reading to InfluxDB.
//
// This is the primary method for mirroring session data. Each present
// reading in a sample becomes one point in the "trend" measurement, tagged
// by session and tag address so dashboards can query either dimension.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - sessionID: The trend session the reading belongs to
//   - tag: The controller address that was read (e.g., "N7:0")
//   - value: The numeric value read
//   - ts: The sample timestamp (not the write time)
//
// Example:
//
//	client.WriteTrendPoint("trs-0031", "N7:0", 142, sample.Timestamp)
func (c *Client) WriteTrendPoint(sessionID string, tag string, value float64, ts time.Time) {
	c.WritePointWithTime(
		trendMeasurement,
		map[string]string{
			"session_id": sessionID,
			"tag":        tag,
		},
		map[string]interface{}{
			"value": value,
		},
		ts,
	)
}

// WritePoint writes a custom point stamped with the current time, for
// measurements the trend helper does not cover, like link statistics.
//
// Example:
//
//	client.WritePoint("link_stats",
//	    map[string]string{"endpoint": "emu://plc-1"},
//	    map[string]interface{}{"reads_total": 1042, "read_failures": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point carrying an explicit timestamp.
// Sample mirroring and historical imports use this; their point times are
// the measurement times, never the write time.
//
// Writes are fire-and-forget. The point joins the async batch, and failures
// surface through the write-error callback rather than a return value.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
