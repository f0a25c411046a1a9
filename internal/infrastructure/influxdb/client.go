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

	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/config"
)

var (
	// ErrNotConnected is returned by operations on a closed or zero Client.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps ping failures during Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)

const (
	pingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Stats counts the points handed to the batch writer and the batches the
// server rejected.
type Stats struct {
	Recorded uint64
	Failed   uint64
}

// Client records entity updates into one bucket.
//
// Thread Safety: all methods are safe for concurrent use. Writes are batched
// and never block the caller.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	mu        sync.RWMutex
	connected bool
	onError   func(err error)

	recorded atomic.Uint64
	failed   atomic.Uint64
}

// Connect pings the server and opens a batched writer on cfg.Bucket.
// Non-positive batch settings fall back to 100 points and 10 seconds.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 2*pingTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:    cfg.Bucket,
		connected: true,
	}
	go c.drainErrors(c.writeAPI.Errors())

	return c, nil
}

func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())). //nolint:gosec // positive by construction
		SetPrecision(time.Millisecond)
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return errors.New("server not healthy")
	}
	return nil
}

// drainErrors counts rejected batches and forwards them to the error callback.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// Close flushes pending points and releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if !wasConnected || c.client == nil {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(checkCtx, c.client); err != nil {
		return fmt.Errorf("influxdb bucket %s: %w", c.bucket, err)
	}
	return nil
}

// IsConnected reports whether the client is open. It does not contact the server.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush blocks until buffered points are sent. It is a no-op once closed.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// Stats returns the recording counters.
func (c *Client) Stats() Stats {
	return Stats{Recorded: c.recorded.Load(), Failed: c.failed.Load()}
}
