package api

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/config"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/logging"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/trend"
)

// Broadcast channels clients may subscribe to.
const (
	// ChannelSamples carries one message per appended sample.
	ChannelSamples = "samples"

	// ChannelDiscovery carries scan progress and completion.
	ChannelDiscovery = "discovery"

	// ChannelSession carries session lifecycle transitions.
	ChannelSession = "session"
)

// Hub tracks connected WebSocket clients and fans events out to them.
// Delivery is best effort: a client whose send buffer is full misses the
// message, because nothing on the broadcast path may block the sampler.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub creates an empty hub. Clients join through handleWebSocket.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the broadcast set.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "user", client.username, "clients", total)
}

// Unregister removes a client. Whichever caller actually removes the client
// from the map closes the send channel; the loser of the race does nothing,
// so shutdown and read-pump exit cannot double-close.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	remaining := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", remaining)
}

// Broadcast delivers payload to every client subscribed to channel.
//
// The client set is snapshotted under the read lock and delivery happens
// outside it: trySend never blocks, but subscription checks take the client
// lock, and holding both invites ordering bugs.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("broadcast message not serialisable", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	dropped := 0
	for _, client := range clients {
		if !client.isSubscribed(channel) {
			continue
		}
		if !client.trySend(data) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Debug("websocket broadcast dropped for slow clients",
			"channel", channel, "dropped", dropped)
	}
}

// ClientCount reports how many clients are currently registered.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll evicts every client at shutdown. Closing the send channels stops
// the write pumps; closing the connections stops the read pumps.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
	}
	clear(h.clients)
}

// samplePayload is the body broadcast on the samples channel. The point
// carries the same shape as one entry of an export document's data array.
type samplePayload struct {
	SessionID string            `json:"session_id"`
	Point     trend.ExportPoint `json:"point"`
}

// HubSink adapts the hub to the trend fan-out: every appended sample is
// broadcast to clients subscribed to the samples channel. Slow clients
// drop messages rather than stall the sampling loop.
type HubSink struct {
	hub *Hub
}

var _ trend.Sink = (*HubSink)(nil)

// NewHubSink wraps a hub for use as a trend sink.
func NewHubSink(hub *Hub) *HubSink {
	return &HubSink{hub: hub}
}

// PublishSample broadcasts one sample on the samples channel.
func (s *HubSink) PublishSample(sessionID string, sample trend.Sample) {
	s.hub.Broadcast(ChannelSamples, samplePayload{
		SessionID: sessionID,
		Point:     sample.ExportPoint(),
	})
}
