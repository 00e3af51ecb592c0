// SAS Trend Tool - Industrial Controller Trend Recorder
//
// This is the main entry point for the SAS Trend Tool service. The tool
// attaches to one industrial controller at a time and provides:
//   - Address-space discovery (probing flat files, listing tag directories)
//   - Concurrent trend sampling into a bounded in-memory buffer
//   - Session archiving, export (JSON/CSV) and import
//   - A REST + WebSocket API for operator front-ends
//   - Optional MQTT and InfluxDB mirrors of the live sample stream
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/SAS-Controls/SAS-Trend-Tool/migrations"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/api"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/auth"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/discovery"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/config"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/database"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/influxdb"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/logging"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/mqtt"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/metrics"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/sinks"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/store"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/trend"
)

// Build identity, stamped by the release pipeline:
//
//	go build -ldflags "-X main.version=1.4.0 -X main.commit=$(git rev-parse --short HEAD)"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath applies when SASTREND_CONFIG is unset.
const defaultConfigPath = "configs/sastrend.yaml"

// storeTimeout bounds the database writes made from scan and shutdown
// callbacks, which run outside any request context.
const storeTimeout = 5 * time.Second

// shutdownTimeout bounds how long shutdown waits for the active trend
// session to stop and archive.
const shutdownTimeout = 10 * time.Second

// transportDrivers maps config driver names to transport constructors.
// The emulator is the only built-in driver; wire drivers for real
// controller protocols add themselves here from build-tagged files.
var transportDrivers = map[string]func(*config.Config) (controller.Transport, error){
	"emulator": newEmulatorTransport,
}

func main() {
	// SIGINT from a terminal, SIGTERM from systemd; both mean drain and stop.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run assembles every component, blocks until ctx is cancelled, then lets
// the deferred closers unwind in reverse dependency order. Keeping main a
// one-liner puts exit-code handling in exactly one place and makes startup
// testable.
func run(ctx context.Context) error {
	// Bootstrap logger, replaced once the config names a real one.
	log := logging.Default()
	log.Info("starting SAS Trend Tool",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// From here on, logging is structured the way the config asked for.
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// SQLite holds the session archive, discovered inventory and event
	// trail. Migrations are embedded, so the binary is self-sufficient.
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("database close failed", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Stores share the single SQLite connection pool
	inventory := store.NewInventoryStore(db.DB)
	archive := store.NewSessionStore(db.DB)
	events := store.NewEventStore(db.DB)

	// Prometheus registry (optional)
	var prom *metrics.Metrics
	if cfg.Metrics.Enabled {
		prom = metrics.New()
	}

	// Controller transport and link
	transport, err := buildTransport(cfg)
	if err != nil {
		return fmt.Errorf("building controller transport: %w", err)
	}
	link := controller.NewLink(transport, controller.Config{
		CallTimeout: cfg.GetCallTimeout(),
	})
	link.SetLogger(log)
	if prom != nil {
		prom.WireLink(link.Stats)
	}
	log.Info("controller link ready",
		"driver", cfg.Controller.Driver,
		"default_endpoint", cfg.Controller.Endpoint.Address,
	)

	// Connect to MQTT broker (optional)
	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	// Connect to InfluxDB (optional)
	influxClient, err := connectInflux(cfg, log, prom)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// WebSocket hub, shared by the API server and the trend fan-out
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)
	if prom != nil {
		prom.WireWSClients(hub.ClientCount)
	}

	// Sample sinks
	var mqttSink *sinks.MQTTSink
	if mqttClient != nil {
		mqttSink = sinks.NewMQTTSink(mqttClient, sinks.MQTTSinkConfig{
			Topics: mqttClient.Topics(),
			QoS:    byte(cfg.MQTT.QoS),
		})
		mqttSink.SetLogger(log)
		if prom != nil {
			mqttSink.SetDropCounter(prom)
		}
		defer mqttSink.Close()
	}
	var influxSink *sinks.InfluxSink
	if influxClient != nil {
		influxSink = sinks.NewInfluxSink(influxClient)
		if prom != nil {
			influxSink.SetDropCounter(prom)
		}
	}

	// Trend session manager
	trends := trend.NewManager(link, trend.ManagerConfig{
		MaxCapacity: cfg.Trend.MaxCapacity,
		DefaultRate: cfg.DefaultSampleRate(),
		MinRate:     cfg.MinSampleRate(),
		MaxRate:     cfg.MaxSampleRate(),
		JoinTimeout: cfg.GetJoinTimeout(),
		OnSessionChange: func(action string, info trend.SessionInfo) {
			hub.Broadcast(api.ChannelSession, map[string]any{
				"action":  action,
				"session": info,
			})
			if mqttSink != nil {
				mqttSink.PublishSessionState(action, info)
			}
		},
	})
	trends.SetLogger(log)
	trends.SetArchiver(archive)
	trends.SetEventRecorder(events)
	trends.AddSink(api.NewHubSink(hub))
	if mqttSink != nil {
		trends.AddSink(mqttSink)
	}
	if influxSink != nil {
		trends.AddSink(influxSink)
	}
	if prom != nil {
		trends.AddSink(prom)
		prom.WireSessions(trends.Active)
	}
	defer func() {
		log.Info("stopping trend manager")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		trends.Shutdown(stopCtx)
	}()

	// Discovery engine and scan runner. Completed scans are persisted,
	// logged to the event trail and pushed to WebSocket subscribers.
	engine := discovery.NewEngine(link)
	engine.SetLogger(log)
	scans := discovery.NewRunner(engine, discovery.RunnerConfig{
		OnProgress: func(p discovery.Progress) {
			hub.Broadcast(api.ChannelDiscovery, p)
		},
		OnComplete: func(res discovery.Result) {
			onScanComplete(res, inventory, events, hub, prom, log)
		},
	})
	scans.SetLogger(log)

	// Authentication
	authn := auth.NewAuthenticator(buildUsers(cfg), cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	log.Info("authenticator ready", "users", len(cfg.Auth.Users))

	// API server
	srv, err := api.New(api.Deps{
		Config:       cfg.Server,
		WS:           cfg.WebSocket,
		ScanDefaults: cfg.Discovery,
		Logger:       log,
		Auth:         authn,
		Link:         link,
		Trends:       trends,
		Scans:        scans,
		Inventory:    inventory,
		Sessions:     archive,
		Events:       events,
		DB:           db,
		MQTT:         mqttClient,
		Influx:       influxClient,
		Metrics:      prom,
		ExternalHub:  hub,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"tls", cfg.Server.TLS.Enabled,
	)

	// One end-to-end probe before declaring ready. A tool started against
	// a dead backend should say so now, not on the first sample.
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("startup complete, running until interrupted")

	<-ctx.Done()

	log.Info("shutdown requested, stopping components")

	// Deferred calls now unwind in reverse order:
	// 1. API server (drain in-flight requests)
	// 2. Trend manager (stop and archive the active session)
	// 3. MQTT sink (drain the publish queue)
	// 4. InfluxDB (flush batched writes)
	// 5. MQTT client
	// 6. Database

	log.Info("SAS Trend Tool stopped")
	return nil
}

// getConfigPath resolves the config file: SASTREND_CONFIG wins, then the
// repo-relative default.
func getConfigPath() string {
	if path := os.Getenv("SASTREND_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildTransport constructs the controller transport selected by
// controller.driver in the configuration.
func buildTransport(cfg *config.Config) (controller.Transport, error) {
	driver, ok := transportDrivers[cfg.Controller.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown controller driver %q", cfg.Controller.Driver)
	}
	return driver(cfg)
}

// newEmulatorTransport builds the in-memory emulator from the seed in the
// configuration's emulator section.
func newEmulatorTransport(cfg *config.Config) (controller.Transport, error) {
	seed := controller.EmulatorSeed{}
	for _, tag := range cfg.Emulator.Tags {
		seed.Tags = append(seed.Tags, controller.EmulatedTag{
			Name:     tag.Name,
			TypeName: tag.Type,
			IsStruct: tag.IsStruct,
		})
	}
	for _, file := range cfg.Emulator.Files {
		seed.Files = append(seed.Files, controller.EmulatedFile{
			Type:   file.Type,
			Number: file.Number,
			Count:  file.Elements,
		})
	}
	return controller.NewEmulator(seed), nil
}

// connectMQTT connects to the broker when MQTT is enabled. A disabled
// broker is not an error: the tool runs standalone on a laptop next to
// the machine as readily as on a plant server.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if errors.Is(err, mqtt.ErrDisabled) {
		log.Info("MQTT disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	return client, nil
}

// connectInflux connects to InfluxDB when enabled. Write errors surface
// through the client's async error callback; they are logged and counted
// but never stop sampling.
func connectInflux(cfg *config.Config, log *logging.Logger, prom *metrics.Metrics) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg.InfluxDB)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	client.SetOnError(func(err error) {
		log.Warn("InfluxDB write error", "error", err)
		if prom != nil {
			prom.DropSample("influxdb")
		}
	})
	return client, nil
}

// onScanComplete settles a finished scan: observe it, persist the found
// inventory, append to the event trail, and push the terminal state to
// WebSocket subscribers. Runs on the scanning goroutine.
func onScanComplete(res discovery.Result, inventory *store.InventoryStore, events *store.EventStore, hub *api.Hub, prom *metrics.Metrics, log *logging.Logger) {
	if prom != nil {
		prom.ObserveScan(res.Outcome(), res.Elapsed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	detail := map[string]any{
		"endpoint": res.Endpoint,
		"outcome":  res.Outcome(),
		"elapsed":  res.Elapsed.String(),
	}
	if res.Err == nil {
		detail["files_found"] = len(res.Entries)
		if err := inventory.Replace(ctx, res.Endpoint, res.Entries); err != nil {
			log.Error("persisting scan inventory failed",
				"endpoint", res.Endpoint,
				"error", err,
			)
		}
	}
	events.RecordEvent(ctx, "discovery", "scan_finished", detail)

	hub.Broadcast(api.ChannelDiscovery, map[string]any{
		"outcome":     res.Outcome(),
		"endpoint":    res.Endpoint,
		"files_found": len(res.Entries),
	})
}

// buildUsers converts the configured accounts into the authenticator's
// user records. Hashes are validated lazily on first login.
func buildUsers(cfg *config.Config) []auth.User {
	users := make([]auth.User, 0, len(cfg.Auth.Users))
	for _, u := range cfg.Auth.Users {
		users = append(users, auth.User{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Role:         auth.Role(u.Role),
		})
	}
	return users
}

// healthCheck probes each connected backend once. The optional clients are
// nil when disabled in the config and skip their probe.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
