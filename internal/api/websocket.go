package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/auth"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// wsSendBufferSize caps the outbound frames queued per client before the
// hub declares it slow and drops it.
const wsSendBufferSize = 256

// WSMessage is the wire envelope in both directions. Inbound frames carry
// type, id, and payload; outbound frames add event_type and timestamp.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names the channels a subscribe or unsubscribe frame
// targets.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// upgrader performs the HTTP to WebSocket handshake. Origin checking is the
// CORS middleware's job, so it accepts every origin here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	// send buffers outbound frames for writePump. The hub closes it on
	// unregister, so every sender must go through trySend.
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]struct{}

	// Identity propagated from the WebSocket ticket.
	username string
	role     auth.Role

	// Keepalive timing, resolved from config at upgrade time.
	pingInterval time.Duration
	pongWait     time.Duration
}

// handleWebSocket upgrades the connection and starts the client pumps.
// Browsers cannot attach an Authorization header to a WebSocket dial, so
// authentication uses a single-use ticket minted at POST /auth/ws-ticket
// and passed as a query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "missing ticket query parameter")
		return
	}
	entry, ok := s.validateTicket(ticket)
	if !ok {
		writeUnauthorized(w, "ticket is invalid or expired")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade error", "error", err)
		return
	}
	conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		username:      entry.username,
		role:          entry.role,
		pingInterval:  time.Duration(s.wsCfg.PingInterval) * time.Second,
		pongWait:      time.Duration(s.wsCfg.PongTimeout) * time.Second,
	}

	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// readPump consumes inbound frames until the connection drops. Its exit
// unregisters the client, which stops writePump via the closed send channel.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "user", c.username, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "user", c.username, "error", err)
			}
			return
		}
		// Data frames count as liveness too: some browsers answer
		// protocol pings lazily while still sending subscribes.
		c.extendReadDeadline()
		c.handleMessage(message)
	}
}

// extendReadDeadline pushes the read deadline one keepalive window out.
func (c *WSClient) extendReadDeadline() {
	//nolint:errcheck // Best-effort deadline on a live connection
	c.conn.SetReadDeadline(time.Now().Add(c.pingInterval + c.pongWait))
}

// writePump drains the send buffer onto the wire and keeps the connection
// alive with protocol pings. It owns all writes; gorilla/websocket allows
// only one concurrent writer per connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Unregistered while queued: close the wire politely.
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if !c.writeFrame(websocket.TextMessage, message) {
				return
			}
		case <-ticker.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// writeFrame sends one frame under a write deadline and reports success.
func (c *WSClient) writeFrame(messageType int, data []byte) bool {
	//nolint:errcheck // Best-effort deadline; the write error is decisive
	c.conn.SetWriteDeadline(time.Now().Add(c.pongWait))
	return c.conn.WriteMessage(messageType, data) == nil
}

// handleMessage dispatches one inbound frame.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.changeSubscriptions(msg, true)
	case WSTypeUnsubscribe:
		c.changeSubscriptions(msg, false)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// changeSubscriptions applies a subscribe or unsubscribe request and acks
// it. The payload arrives as generic JSON, so it is re-marshalled into the
// expected channel list.
func (c *WSClient) changeSubscriptions(msg WSMessage, add bool) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		c.sendError(msg.ID, "invalid channels payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if add {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	ackKey := "subscribed"
	if !add {
		ackKey = "unsubscribed"
	}
	c.hub.logger.Debug("websocket subscriptions changed",
		"user", c.username, ackKey, sub.Channels)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{ackKey: sub.Channels})
}

// isSubscribed reports whether the client listens on channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// trySend queues data without blocking. It reports false when the client's
// buffer is full, and absorbs the panic from a send channel closed by a
// concurrent unregister.
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// wsTimestamp is the timestamp stamped onto outbound frames.
func wsTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// sendResponse queues a reply frame. Routed through trySend so a client
// that disconnected mid-request cannot wedge the read pump.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError queues an error frame referencing the offending message id.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
