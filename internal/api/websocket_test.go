package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/config"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/logging"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/trend"
)

// wsTestServer exposes the router on a real listener for WebSocket dials.
func wsTestServer(t *testing.T, env *testEnv) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(env.router)
	t.Cleanup(server.Close)
	return server
}

// wsTicket mints a single-use ticket for the given bearer token.
func wsTicket(t *testing.T, env *testEnv, token string) string {
	t.Helper()

	rr := env.request(t, http.MethodPost, "/api/v1/auth/ws-ticket", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("ticket status = %d, want %d", rr.Code, http.StatusOK)
	}
	var resp struct {
		Ticket string `json:"ticket"`
	}
	decodeBody(t, rr, &resp)
	return resp.Ticket
}

// dialWS opens a ticket-authenticated WebSocket connection.
func dialWS(t *testing.T, server *httptest.Server, ticket string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws?ticket=" + ticket
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Dial() error = %v (status %d)", err, status)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readWS reads one message with a bounded deadline.
func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

// subscribeWS subscribes the connection and consumes the acknowledgement.
func subscribeWS(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()

	msg := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON(subscribe) error = %v", err)
	}
	resp := readWS(t, conn)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe ack = %+v, want response with matching id", resp)
	}
}

func TestWebSocketAuth(t *testing.T) {
	env := testServer(t)
	server := wsTestServer(t, env)

	dialExpectingReject := func(t *testing.T, url string) {
		t.Helper()
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			conn.Close()
			t.Fatal("Dial() succeeded, want handshake rejection")
		}
		if !errors.Is(err, websocket.ErrBadHandshake) {
			t.Fatalf("Dial() error = %v, want ErrBadHandshake", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
		}
	}

	base := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"

	t.Run("missing ticket", func(t *testing.T) {
		dialExpectingReject(t, base)
	})

	t.Run("unknown ticket", func(t *testing.T) {
		dialExpectingReject(t, base+"?ticket=bogus")
	})

	t.Run("ticket is single use", func(t *testing.T) {
		ticket := wsTicket(t, env, env.viewer)

		conn := dialWS(t, server, ticket)
		conn.Close()

		dialExpectingReject(t, base+"?ticket="+ticket)
	})
}

func TestWebSocketMessages(t *testing.T) {
	env := testServer(t)
	server := wsTestServer(t, env)

	t.Run("ping pong", func(t *testing.T) {
		conn := dialWS(t, server, wsTicket(t, env, env.viewer))

		if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
			t.Fatalf("WriteJSON(ping) error = %v", err)
		}
		msg := readWS(t, conn)
		if msg.Type != WSTypePong || msg.ID != "p1" {
			t.Errorf("reply = %+v, want pong with matching id", msg)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		conn := dialWS(t, server, wsTicket(t, env, env.viewer))

		if err := conn.WriteJSON(WSMessage{Type: "bogus", ID: "x"}); err != nil {
			t.Fatalf("WriteJSON() error = %v", err)
		}
		msg := readWS(t, conn)
		if msg.Type != WSTypeError {
			t.Errorf("reply type = %q, want %q", msg.Type, WSTypeError)
		}
	})

	t.Run("subscribed channel receives broadcast", func(t *testing.T) {
		conn := dialWS(t, server, wsTicket(t, env, env.viewer))
		subscribeWS(t, conn, ChannelDiscovery)

		env.srv.Hub().Broadcast(ChannelDiscovery, map[string]any{"state": "completed"})

		msg := readWS(t, conn)
		if msg.Type != WSTypeEvent {
			t.Errorf("type = %q, want %q", msg.Type, WSTypeEvent)
		}
		if msg.EventType != ChannelDiscovery {
			t.Errorf("event_type = %q, want %q", msg.EventType, ChannelDiscovery)
		}
		payload, ok := msg.Payload.(map[string]any)
		if !ok || payload["state"] != "completed" {
			t.Errorf("payload = %v, want broadcast body", msg.Payload)
		}
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		conn := dialWS(t, server, wsTicket(t, env, env.viewer))
		subscribeWS(t, conn, ChannelDiscovery, ChannelSession)

		unsub := WSMessage{
			Type:    WSTypeUnsubscribe,
			ID:      "un-1",
			Payload: WSSubscribePayload{Channels: []string{ChannelDiscovery}},
		}
		if err := conn.WriteJSON(unsub); err != nil {
			t.Fatalf("WriteJSON(unsubscribe) error = %v", err)
		}
		if ack := readWS(t, conn); ack.Type != WSTypeResponse {
			t.Fatalf("unsubscribe ack = %+v", ack)
		}

		// The dropped channel must stay silent; the kept one still delivers.
		env.srv.Hub().Broadcast(ChannelDiscovery, map[string]any{"n": 1})
		env.srv.Hub().Broadcast(ChannelSession, map[string]any{"n": 2})

		msg := readWS(t, conn)
		if msg.EventType != ChannelSession {
			t.Errorf("event_type = %q, want %q (discovery was unsubscribed)", msg.EventType, ChannelSession)
		}
	})
}

func TestWebSocketLiveTrend(t *testing.T) {
	env := testServer(t)
	env.connect(t, controller.FamilyDirectory)
	server := wsTestServer(t, env)

	conn := dialWS(t, server, wsTicket(t, env, env.operator))
	subscribeWS(t, conn, ChannelSamples, ChannelSession)

	info := startTrend(t, env, map[string]any{
		"tags":         []string{"Conveyor_Speed"},
		"rate_seconds": 0.02,
	})
	defer stopTrend(t, env)

	var sawStarted, sawSample bool
	deadline := time.Now().Add(5 * time.Second)
	for (!sawStarted || !sawSample) && time.Now().Before(deadline) {
		msg := readWS(t, conn)
		if msg.Type != WSTypeEvent {
			continue
		}

		switch msg.EventType {
		case ChannelSession:
			raw, err := json.Marshal(msg.Payload)
			if err != nil {
				t.Fatalf("re-marshal session payload: %v", err)
			}
			var payload struct {
				Action  string            `json:"action"`
				Session trend.SessionInfo `json:"session"`
			}
			if err := json.Unmarshal(raw, &payload); err != nil {
				t.Fatalf("decode session payload: %v", err)
			}
			if payload.Action == "started" {
				if payload.Session.ID != info.ID {
					t.Errorf("session event id = %q, want %q", payload.Session.ID, info.ID)
				}
				sawStarted = true
			}

		case ChannelSamples:
			raw, err := json.Marshal(msg.Payload)
			if err != nil {
				t.Fatalf("re-marshal sample payload: %v", err)
			}
			var payload struct {
				SessionID string            `json:"session_id"`
				Point     trend.ExportPoint `json:"point"`
			}
			if err := json.Unmarshal(raw, &payload); err != nil {
				t.Fatalf("decode sample payload: %v", err)
			}
			if payload.SessionID != info.ID {
				t.Errorf("sample session_id = %q, want %q", payload.SessionID, info.ID)
			}
			reading, ok := payload.Point.Values["Conveyor_Speed"]
			if !ok {
				t.Errorf("point values = %v, want Conveyor_Speed", payload.Point.Values)
			} else if reading.Absent {
				t.Error("reading absent, want emulated value")
			}
			if payload.Point.Timestamp == "" {
				t.Error("point timestamp is empty")
			}
			sawSample = true
		}
	}

	if !sawStarted {
		t.Error("no session started event received")
	}
	if !sawSample {
		t.Error("no sample event received")
	}
}

// ===== Hub unit tests =====

func testHub(t *testing.T) *Hub {
	t.Helper()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	return NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)
}

// fakeClient builds a hub client with no network connection behind it.
func fakeClient(hub *Hub, buffer int, channels ...string) *WSClient {
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, buffer),
		subscriptions: make(map[string]struct{}, len(channels)),
	}
	for _, ch := range channels {
		client.subscriptions[ch] = struct{}{}
	}
	return client
}

func TestHubBroadcast(t *testing.T) {
	hub := testHub(t)

	subscribed := fakeClient(hub, 4, ChannelSamples)
	other := fakeClient(hub, 4, ChannelDiscovery)
	hub.Register(subscribed)
	hub.Register(other)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("ClientCount() = %d, want 2", got)
	}

	hub.Broadcast(ChannelSamples, map[string]any{"n": 1})

	select {
	case data := <-subscribed.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if msg.Type != WSTypeEvent || msg.EventType != ChannelSamples {
			t.Errorf("message = %+v, want samples event", msg)
		}
	default:
		t.Fatal("subscribed client received nothing")
	}

	select {
	case data := <-other.send:
		t.Fatalf("unsubscribed client received %s", data)
	default:
	}
}

func TestHubSlowClientDrops(t *testing.T) {
	hub := testHub(t)

	slow := fakeClient(hub, 1, ChannelSamples)
	hub.Register(slow)

	// Second broadcast overflows the single-slot buffer and must be
	// dropped rather than block the caller.
	done := make(chan struct{})
	go func() {
		hub.Broadcast(ChannelSamples, map[string]any{"n": 1})
		hub.Broadcast(ChannelSamples, map[string]any{"n": 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full client buffer")
	}

	if got := len(slow.send); got != 1 {
		t.Errorf("queued messages = %d, want 1 (overflow dropped)", got)
	}
}

func TestHubUnregisterTwice(t *testing.T) {
	hub := testHub(t)

	client := fakeClient(hub, 1, ChannelSamples)
	hub.Register(client)

	hub.Unregister(client)
	// A second unregister must not close the channel again.
	hub.Unregister(client)

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}

	// A departed client is out of the map; broadcasting must not panic.
	hub.Broadcast(ChannelSamples, map[string]any{"n": 1})
}

func TestHubSink(t *testing.T) {
	hub := testHub(t)

	client := fakeClient(hub, 4, ChannelSamples)
	hub.Register(client)

	sink := NewHubSink(hub)
	stamp := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	sink.PublishSample("trs-ab12cd34", trend.Sample{
		Timestamp: stamp,
		Values: map[string]controller.Reading{
			"N7:0": controller.Present(42),
			"N7:1": controller.Gap(),
		},
	})

	var data []byte
	select {
	case data = <-client.send:
	default:
		t.Fatal("sink published nothing")
	}

	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.EventType != ChannelSamples {
		t.Errorf("event_type = %q, want %q", msg.EventType, ChannelSamples)
	}

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		t.Fatalf("re-marshal payload: %v", err)
	}
	var payload struct {
		SessionID string            `json:"session_id"`
		Point     trend.ExportPoint `json:"point"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.SessionID != "trs-ab12cd34" {
		t.Errorf("session_id = %q, want %q", payload.SessionID, "trs-ab12cd34")
	}
	if got := payload.Point.Values["N7:0"]; got.Absent || got.Value != 42 {
		t.Errorf("N7:0 = %+v, want present 42", got)
	}
	if got := payload.Point.Values["N7:1"]; !got.Absent {
		t.Errorf("N7:1 = %+v, want absent", got)
	}
}
