package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/auth"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/discovery"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/config"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/logging"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/store"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/trend"
)

// Test accounts. Passwords are hashed once because Argon2id is deliberately
// slow; every testServer call shares the result.
const (
	testOperator     = "op"
	testOperatorPass = "operator-pass-1"
	testViewer       = "view"
	testViewerPass   = "viewer-pass-1"
	testJWTSecret    = "test-secret-key-at-least-32-chars!"
)

var testUsers []auth.User

func testAccounts(t *testing.T) []auth.User {
	t.Helper()
	if testUsers != nil {
		return testUsers
	}
	opHash, err := auth.HashPassword(testOperatorPass)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	viewHash, err := auth.HashPassword(testViewerPass)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	testUsers = []auth.User{
		{Username: testOperator, PasswordHash: opHash, Role: auth.RoleOperator},
		{Username: testViewer, PasswordHash: viewHash, Role: auth.RoleViewer},
	}
	return testUsers
}

// testEnv bundles a fully wired server with pre-authenticated tokens.
type testEnv struct {
	srv      *Server
	router   http.Handler
	link     *controller.Link
	trends   *trend.Manager
	operator string // bearer token, operator role
	viewer   string // bearer token, viewer role
}

// setupTestDB creates an in-memory SQLite database with the full schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Each pooled connection gets its own :memory: database; pin the pool
	// to one connection so the scan and archive goroutines see the schema.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE inventories (
			endpoint TEXT NOT NULL,
			file_number INTEGER NOT NULL,
			file_type TEXT NOT NULL,
			element_count INTEGER NOT NULL,
			scanned_at TEXT NOT NULL,
			PRIMARY KEY (endpoint, file_number)
		) STRICT;
		CREATE TABLE trend_sessions (
			id TEXT PRIMARY KEY,
			endpoint TEXT NOT NULL,
			protocol_family TEXT NOT NULL,
			device_label TEXT,
			tags TEXT NOT NULL,
			sample_rate_seconds REAL NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			total_points INTEGER NOT NULL DEFAULT 0,
			stop_reason TEXT,
			document TEXT NOT NULL
		) STRICT;
		CREATE TABLE events (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			action TEXT NOT NULL,
			detail TEXT,
			created_at TEXT NOT NULL
		) STRICT;
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testServer wires a server the way main does: an emulator-backed link,
// a real trend manager and scan runner, and SQLite-backed stores.
func testServer(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	inventory := store.NewInventoryStore(db)
	sessions := store.NewSessionStore(db)
	events := store.NewEventStore(db)

	emu := controller.NewEmulator(controller.EmulatorSeed{
		Tags: []controller.EmulatedTag{
			{Name: "Conveyor_Speed", TypeName: "REAL"},
			{Name: "Line_Running", TypeName: "BOOL"},
			{Name: "Program:Main.CycleCount", TypeName: "DINT"},
			{Name: "Task:Housekeeping", TypeName: "BOOL"},
			{Name: "__SysReserved", TypeName: "DINT"},
		},
		Files: []controller.EmulatedFile{
			{Type: "N", Number: 7, Count: 10},
			{Type: "F", Number: 8, Count: 4},
		},
	})
	link := controller.NewLink(emu, controller.Config{})

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	wsCfg := config.WebSocketConfig{
		MaxMessageSize: 8192,
		PingInterval:   30,
		PongTimeout:    10,
	}
	hub := NewHub(wsCfg, log)
	hubCtx, cancelHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	t.Cleanup(cancelHub)

	manager := trend.NewManager(link, trend.ManagerConfig{
		MaxCapacity: 1000,
		DefaultRate: 25 * time.Millisecond,
		MinRate:     5 * time.Millisecond,
		MaxRate:     time.Minute,
		JoinTimeout: 2 * time.Second,
		OnSessionChange: func(action string, info trend.SessionInfo) {
			hub.Broadcast(ChannelSession, map[string]any{"action": action, "session": info})
		},
	})
	manager.AddSink(NewHubSink(hub))
	manager.SetArchiver(sessions)
	manager.SetEventRecorder(events)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})

	runner := discovery.NewRunner(discovery.NewEngine(link), discovery.RunnerConfig{
		OnComplete: func(res discovery.Result) {
			if res.Err != nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := inventory.Replace(ctx, res.Endpoint, res.Entries); err != nil {
				t.Errorf("inventory.Replace() error = %v", err)
			}
			hub.Broadcast(ChannelDiscovery, res)
		},
	})

	authn := auth.NewAuthenticator(testAccounts(t), testJWTSecret, 15)

	srv, err := New(Deps{
		Config: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.ServerTimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS:           wsCfg,
		ScanDefaults: config.DiscoveryConfig{MaxFileNumber: 12, SizeCeiling: 32, ChunkSize: 4},
		Logger:       log,
		Auth:         authn,
		Link:         link,
		Trends:       manager,
		Scans:        runner,
		Inventory:    inventory,
		Sessions:     sessions,
		Events:       events,
		ExternalHub:  hub,
		Version:      "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	env := &testEnv{
		srv:    srv,
		router: srv.buildRouter(),
		link:   link,
		trends: manager,
	}
	env.operator = env.login(t, testOperator, testOperatorPass)
	env.viewer = env.login(t, testViewer, testViewerPass)
	return env
}

// request performs one HTTP request against the router. A non-nil body is
// JSON-encoded unless it is already a []byte.
func (e *testEnv) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// login authenticates through the real endpoint and returns the token.
func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()

	rr := e.request(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Username: username,
		Password: password,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp loginResponse
	decodeBody(t, rr, &resp)
	if resp.AccessToken == "" {
		t.Fatal("login returned empty access token")
	}
	return resp.AccessToken
}

// connect attaches the link to the emulator via the API.
func (e *testEnv) connect(t *testing.T, family controller.ProtocolFamily) {
	t.Helper()

	rr := e.request(t, http.MethodPost, "/api/v1/link/connect", e.operator, map[string]any{
		"address": "10.20.1.15",
		"slot":    0,
		"family":  string(family),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("connect status = %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
}

// decodeBody unmarshals a recorded JSON response.
func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ===== Constructor and health =====

func TestNew_RequiredDependencies(t *testing.T) {
	env := testServer(t)

	valid := Deps{
		Logger:    logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Auth:      auth.NewAuthenticator(testAccounts(t), testJWTSecret, 15),
		Link:      env.link,
		Trends:    env.trends,
		Scans:     discovery.NewRunner(discovery.NewEngine(env.link), discovery.RunnerConfig{}),
		Inventory: store.NewInventoryStore(setupTestDB(t)),
		Sessions:  store.NewSessionStore(setupTestDB(t)),
		Events:    store.NewEventStore(setupTestDB(t)),
	}
	if _, err := New(valid); err != nil {
		t.Fatalf("New() with full deps error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"missing logger", func(d *Deps) { d.Logger = nil }},
		{"missing auth", func(d *Deps) { d.Auth = nil }},
		{"missing link", func(d *Deps) { d.Link = nil }},
		{"missing trend manager", func(d *Deps) { d.Trends = nil }},
		{"missing runner", func(d *Deps) { d.Scans = nil }},
		{"missing inventory store", func(d *Deps) { d.Inventory = nil }},
		{"missing session store", func(d *Deps) { d.Sessions = nil }},
		{"missing event store", func(d *Deps) { d.Events = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := valid
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Error("New() error = nil, want missing-dependency error")
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := testServer(t)

	rr := env.request(t, http.MethodGet, "/api/v1/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body map[string]any
	decodeBody(t, rr, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want %q", body["status"], "ok")
	}
	if body["version"] != "test" {
		t.Errorf("version field = %v, want %q", body["version"], "test")
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	env := testServer(t)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start error = nil, want not-started error")
	}
}

// ===== Middleware =====

func TestRequestIDHeader(t *testing.T) {
	env := testServer(t)

	t.Run("generated", func(t *testing.T) {
		rr := env.request(t, http.MethodGet, "/api/v1/health", "", nil)
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("X-Request-ID header is empty, want generated ID")
		}
	})

	t.Run("passthrough", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.Header.Set("X-Request-ID", "req-42")
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		if got := rr.Header().Get("X-Request-ID"); got != "req-42" {
			t.Errorf("X-Request-ID = %q, want %q", got, "req-42")
		}
	})
}

func TestCORSPreflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q, want the echoed origin", got)
	}
}

func TestBodySizeLimit(t *testing.T) {
	env := testServer(t)

	oversized := bytes.Repeat([]byte("a"), maxRequestBodySize+1)
	rr := env.request(t, http.MethodPost, "/api/v1/auth/login", "", oversized)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d for oversized body", rr.Code, http.StatusBadRequest)
	}
}

// ===== System endpoint =====

func TestSystemEndpoint(t *testing.T) {
	env := testServer(t)
	env.connect(t, controller.FamilyFlatAddress)

	rr := env.request(t, http.MethodGet, "/api/v1/system", env.viewer, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var sys SystemMetrics
	decodeBody(t, rr, &sys)

	if sys.Version != "test" {
		t.Errorf("version = %q, want %q", sys.Version, "test")
	}
	if sys.Runtime.Goroutines <= 0 {
		t.Errorf("goroutines = %d, want > 0", sys.Runtime.Goroutines)
	}
	if !sys.Link.Connected {
		t.Error("link.connected = false, want true after connect")
	}
	if sys.Trend.Active {
		t.Error("trend.active = true, want false with no session")
	}
	if sys.MQTT != nil || sys.InfluxDB != nil {
		t.Error("sink sections present, want omitted when not configured")
	}
	if sys.Database != nil {
		t.Error("database section present, want omitted when DB not wired")
	}
}
