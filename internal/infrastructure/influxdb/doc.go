// Package influxdb provides InfluxDB connectivity for the trend tool.
//
// It wraps the official influxdb-client-go v2 library with the tool's
// patterns for connection management, sample writing, and health monitoring.
//
// # Purpose
//
// This package mirrors trend session data into long-term time-series
// storage. The in-memory sample buffer serves the live UI; InfluxDB keeps
// the history plant engineers come back to weeks later. One point is
// written per present reading, in the "trend" measurement, tagged by
// session_id and tag.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "sas-controls",
//	    Bucket: "trend",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteTrendPoint("trs-0031", "N7:0", 142, sample.Timestamp)
//
// # Error Handling
//
// Connect and HealthCheck return errors directly. Writes do not: points are
// batched and shipped in the background, and failures arrive through the
// SetOnError callback, which the service wires to the event log and the
// dropped-sample counter.
//
// Batching follows the sastrend.yaml settings (batch_size, flush_interval).
// Even the fastest supported sample rate stays far below a single batch per
// flush, so in practice the flush interval governs write latency.
package influxdb
