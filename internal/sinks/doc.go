// Package sinks delivers appended trend samples to external consumers.
//
// Every sink implements trend.Sink under its non-blocking contract: the
// sampling loop hands a sink one sample per tick and must never wait on
// broker round-trips or storage flushes. The MQTT sink buffers behind a
// worker goroutine and drops on overflow; the InfluxDB sink leans on the
// client's own batched async writes. Delivery failures are counted and
// logged, never surfaced to the loop.
package sinks
