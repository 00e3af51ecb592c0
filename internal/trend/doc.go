// Package trend implements the concurrent sampling and buffering engine of
// the SAS Trend Tool.
//
// # Architecture
//
//	┌────────────┐   ReadBatch   ┌────────────┐   AppendSample   ┌────────────┐
//	│  Sampler   │◄─────────────▶│ Controller │                  │   Buffer   │
//	│ (one loop  │               │    Link    │                  │ (bounded,  │
//	│  per       │──────────────────────────────────────────────▶│  locked)   │
//	│  session)  │   fan out to sinks                            └────────────┘
//	└────────────┘─────────────▶ WebSocket / MQTT / InfluxDB          ▲
//	       ▲                                                          │ Snapshot,
//	       │ Start/Stop/UpdateTagSet                                  │ Export
//	┌────────────┐                                               ┌────────────┐
//	│  Manager   │───────────────────────────────────────────────│ consumers  │
//	└────────────┘                                               └────────────┘
//
// The Sampler polls a mutable tag set at a fixed rate on its own goroutine
// and appends timestamped samples to the Buffer. The Buffer is the safe
// concurrent home for one session's data: bounded, single-writer, with
// copy-on-read snapshots so consumers never block the poller. The Manager
// owns the single active session, archives finished sessions, and rebuilds
// sessions from exported documents.
//
// # Key Properties
//
//   - Sample timestamps are strictly increasing within a session.
//   - At most maxCapacity samples are retained (0 = unlimited); eviction
//     drops the oldest first.
//   - live/min/max aggregates ignore absent readings entirely.
//   - Import replays every sample through the normal append path in a
//     scratch buffer and swaps it in only on success.
//   - No failure inside the sampling loop is fatal; ticks degrade to
//     partial or missing data.
package trend
