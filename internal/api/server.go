package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/auth"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/discovery"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/config"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/database"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/influxdb"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/logging"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/mqtt"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/metrics"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/store"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/trend"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight
// requests before cutting remaining connections off.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.ServerConfig
	WS     config.WebSocketConfig

	// ScanDefaults seeds scan options when a start request leaves them out.
	ScanDefaults config.DiscoveryConfig

	Logger    *logging.Logger
	Auth      *auth.Authenticator
	Link      *controller.Link
	Trends    *trend.Manager
	Scans     *discovery.Runner
	Inventory *store.InventoryStore
	Sessions  *store.SessionStore
	Events    *store.EventStore

	// Optional. The /system endpoint reports "not configured" sections
	// for any of these left nil, and /metrics is only mounted when
	// Metrics is present.
	DB      *database.DB
	MQTT    *mqtt.Client
	Influx  *influxdb.Client
	Metrics *metrics.Metrics

	// ExternalHub, when set, is used instead of a server-owned hub. The
	// caller keeps responsibility for running it: this is how the trend
	// fan-out and the API share one hub.
	ExternalHub *Hub

	Version string
}

// validate names the first missing required dependency.
func (d Deps) validate() error {
	switch {
	case d.Logger == nil:
		return fmt.Errorf("logger is required")
	case d.Auth == nil:
		return fmt.Errorf("authenticator is required")
	case d.Link == nil:
		return fmt.Errorf("controller link is required")
	case d.Trends == nil:
		return fmt.Errorf("trend manager is required")
	case d.Scans == nil:
		return fmt.Errorf("discovery runner is required")
	case d.Inventory == nil || d.Sessions == nil || d.Events == nil:
		return fmt.Errorf("inventory, session, and event stores are required")
	}
	return nil
}

// Server is the HTTP API and WebSocket server for the trend tool.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.ServerConfig
	wsCfg        config.WebSocketConfig
	scanDefaults config.DiscoveryConfig

	logger    *logging.Logger
	auth      *auth.Authenticator
	link      *controller.Link
	trends    *trend.Manager
	scans     *discovery.Runner
	inventory *store.InventoryStore
	sessions  *store.SessionStore
	events    *store.EventStore
	db        *database.DB
	mqtt      *mqtt.Client
	influx    *influxdb.Client
	metrics   *metrics.Metrics
	version   string

	server      *http.Server
	hub         *Hub
	externalHub bool // true if hub was injected externally
	tickets     *ticketStore
	cancel      context.CancelFunc // cancels background goroutines on Close()
	startTime   time.Time
}

// New assembles a server from deps. Nothing starts listening until
// Start() is called.
func New(deps Deps) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		scanDefaults: deps.ScanDefaults,
		logger:       deps.Logger,
		auth:         deps.Auth,
		link:         deps.Link,
		trends:       deps.Trends,
		scans:        deps.Scans,
		inventory:    deps.Inventory,
		sessions:     deps.Sessions,
		events:       deps.Events,
		db:           deps.DB,
		mqtt:         deps.MQTT,
		influx:       deps.Influx,
		metrics:      deps.Metrics,
		version:      deps.Version,
		tickets:      newTicketStore(),
		startTime:    time.Now(),
	}

	// An injected hub is run by its owner, not by Start().
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Start wires the router, launches the hub and ticket sweeper, and
// begins serving in a background goroutine. It returns immediately;
// listener failures surface in the log, and shutdown goes through
// Close().
func (s *Server) Start(ctx context.Context) error {
	// Background goroutines stop on Close(), independent of the parent
	// context.
	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}
	go s.cleanTicketsLoop(srvCtx)

	timeouts := s.cfg.Timeouts
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(timeouts.Idle) * time.Second,
	}

	go s.serve()

	return nil
}

// serve blocks on the listener. ErrServerClosed is the normal Close()
// path; anything else gets reported.
func (s *Server) serve() {
	if err := s.listenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("API server error", "error", err)
	}
}

func (s *Server) listenAndServe() error {
	if s.cfg.TLS.Enabled {
		s.logger.Info("API server listening with TLS",
			"address", s.server.Addr,
			"cert", s.cfg.TLS.CertFile,
		)
		return s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	s.logger.Info("API server listening", "address", s.server.Addr)
	return s.server.ListenAndServe()
}

// Hub returns the server's WebSocket hub. It is non-nil once the server
// has started, or immediately when an external hub was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close stops the hub and ticket sweeper, then drains in-flight
// requests for up to gracefulShutdownTimeout.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	s.logger.Info("API server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the listener has been started. The
// context is consulted for cancellation only.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
