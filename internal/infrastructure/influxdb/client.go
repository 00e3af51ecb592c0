package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the ping performed by Connect.
	connectTimeout = 10 * time.Second

	// pingTimeout bounds each HealthCheck round trip.
	pingTimeout = 5 * time.Second

	// defaultBatchSize and defaultFlushSeconds apply when the config leaves
	// the batching knobs unset. At typical capture rates (1-10 samples/s) a
	// batch of 100 flushes every few seconds anyway.
	defaultBatchSize    = 100
	defaultFlushSeconds = 10
)

// Client mirrors trend samples to the site historian over the InfluxDB v2
// API. Writes are non-blocking: points queue in the client's batch buffer
// and are shipped in the background, so a slow historian never stalls the
// sampling loop.
//
// All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig

	connected atomic.Bool

	// mu guards onError. The callback itself runs on the error-drain
	// goroutine, never under the lock.
	mu      sync.Mutex
	onError func(err error)
}

// Connect builds a client for the configured InfluxDB instance and proves
// connectivity with a ping before returning it. A config with Enabled false
// yields ErrDisabled so the caller can treat the mirror as optional.
//
// Parameters:
//   - cfg: InfluxDB section of sastrend.yaml
//
// Returns:
//   - *Client: Connected client with the async write path running
//   - error: ErrDisabled, or ErrConnectionFailed wrapping the ping failure
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: pinging %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %s reports unhealthy", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:      cfg,
	}
	c.connected.Store(true)

	// Drain async write errors for the lifetime of the client; the channel
	// closes when the client does.
	go c.drainWriteErrors(c.writeAPI.Errors())

	return c, nil
}

// clientOptions translates the config into influxdb2 options, applying
// defaults for unset batching values.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushSeconds := cfg.FlushInterval
	if flushSeconds <= 0 {
		flushSeconds = defaultFlushSeconds
	}

	// #nosec G115 -- both values forced positive above
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flushSeconds) * 1000) // the option is in milliseconds
}

// drainWriteErrors forwards async write failures to the registered
// callback. Without a drain the client's error channel would fill and leak.
func (c *Client) drainWriteErrors(errs <-chan error) {
	for err := range errs {
		c.mu.Lock()
		callback := c.onError
		c.mu.Unlock()

		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError registers a callback for asynchronous write failures. The
// service wires this to the event log and the dropped-sample counter.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// IsConnected reports the last known connection state. It does not probe
// the server; use HealthCheck for an active check.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// HealthCheck pings the historian.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: ErrNotConnected, or a description of the failed ping
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(pingCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return errors.New("influxdb health check failed: server reports unhealthy")
	}
	return nil
}

// Flush blocks until every buffered point has been handed to the server.
// Called before shutdown so the tail of a capture is not lost; no-op when
// disconnected.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes pending points and shuts the client down. The underlying
// client's Close also terminates the error-drain goroutine.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.connected.Store(false)
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
