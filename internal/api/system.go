package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/discovery"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/trend"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string              `json:"timestamp"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Runtime       RuntimeMetrics      `json:"runtime"`
	WebSocket     WSMetrics           `json:"websocket"`
	Link          controller.Stats    `json:"link"`
	Trend         TrendMetrics        `json:"trend"`
	Discovery     discovery.RunStatus `json:"discovery"`
	MQTT          *SinkStatus         `json:"mqtt,omitempty"`
	InfluxDB      *SinkStatus         `json:"influxdb,omitempty"`
	Database      *DatabaseMetrics    `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// TrendMetrics contains trend session statistics.
type TrendMetrics struct {
	Active  bool               `json:"active"`
	Session *trend.SessionInfo `json:"session,omitempty"`
}

// SinkStatus reports the connection state of an optional external sink.
type SinkStatus struct {
	Connected bool `json:"connected"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleSystem returns a JSON snapshot of runtime and subsystem state for
// dashboards. The Prometheus endpoint serves the scrape-friendly view of
// the same world.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sys := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Link:      s.link.Stats(),
		Discovery: s.scans.Status(),
	}

	if s.hub != nil {
		sys.WebSocket = WSMetrics{ConnectedClients: s.hub.ClientCount()}
	}

	sys.Trend.Active = s.trends.Active()
	if info, ok := s.trends.Status(); ok {
		sys.Trend.Session = &info
	}

	if s.mqtt != nil {
		sys.MQTT = &SinkStatus{Connected: s.mqtt.IsConnected()}
	}
	if s.influx != nil {
		sys.InfluxDB = &SinkStatus{Connected: s.influx.IsConnected()}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		sys.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, sys)
}
