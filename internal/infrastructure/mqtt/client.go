package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/config"
)

// Client is the trend tool's connection to the plant broker.
//
// The tool is a pure publisher: it announces its own status, session
// lifecycle changes, and the live sample stream. It subscribes to
// nothing, so there is no subscription state to restore on reconnect.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	connected atomic.Bool

	// mu guards the optional callbacks and logger. They are set once
	// during startup wiring and read on connection events.
	mu           sync.Mutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is the subset of logging.Logger the client needs for
// connection event reporting.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Connect dials the broker configured in cfg and returns a ready
// client. The connection carries a Last Will so subscribers learn about
// crashes, auto-reconnects with backoff, and publishes a retained
// online status on every (re)connect.
//
// Returns ErrDisabled without dialling when MQTT is off in config, or
// ErrConnectionFailed when the initial attempt does not complete within
// the connect timeout.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	c := &Client{
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.mu.Lock()
		log := c.logger
		c.mu.Unlock()
		if log != nil {
			log.Warn("MQTT reconnecting",
				"host", cfg.Broker.Host,
				"port", cfg.Broker.Port,
			)
		}
	})

	c.client = pahomqtt.NewClient(opts)
	if err := waitToken(c.client.Connect(), defaultConnectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnectHandler fires asynchronously and may not have run
	// yet; mark the connection up before returning so IsConnected
	// reports true immediately.
	c.connected.Store(true)

	return c, nil
}

// waitToken blocks on a paho token until it completes or the deadline
// passes, whichever is first.
func waitToken(token pahomqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timeout after %v", timeout)
	}
	return token.Error()
}

// Topics returns the topic builders bound to this client's configured
// prefix. Callers publishing session data use these rather than
// constructing topic strings by hand.
func (c *Client) Topics() Topics {
	return c.topics
}

// handleConnect runs on initial connect and every reconnect.
func (c *Client) handleConnect() {
	c.connected.Store(true)

	// Retained so dashboards subscribing later still see current state.
	c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true,
		buildOnlinePayload(c.cfg.Broker.ClientID))

	c.mu.Lock()
	notify := c.onConnect
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// handleDisconnect runs when an established connection drops.
func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.mu.Lock()
	notify := c.onDisconnect
	c.mu.Unlock()
	if notify != nil {
		notify(err)
	}
}

// Close publishes a graceful offline status (distinct from the LWT
// crash status), waits briefly for in-flight publishes, and disconnects.
// Closing a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true,
			buildOfflinePayload(c.cfg.Broker.ClientID))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)

	return nil
}

// HealthCheck reports whether the broker connection is up. The context
// is only consulted for cancellation; no probe message is sent.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state combined with the
// paho library's own view.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers a callback invoked on initial connect and on
// every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = callback
}

// SetOnDisconnect registers a callback invoked when the connection is
// lost. The error describes why.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = callback
}

// SetLogger enables connection event logging. Without it, reconnect
// attempts are silent.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}
