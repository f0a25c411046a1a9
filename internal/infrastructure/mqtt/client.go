package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/config"
)

// Client is the agent's connection to the command bus broker.
//
// Subscriptions are remembered and replayed after every reconnect, the
// agent's online/offline state is kept retained on Topics.Status, and panics
// in message handlers are recovered and logged.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	mu           sync.RWMutex
	connected    bool
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives the concrete topic and raw payload of a message.
// A returned error is logged; the message is acknowledged either way.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and waits for the first connection.
//
// A retained offline will is registered on Topics.Status before dialling,
// and the online status replaces it after each successful connect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnecting", "client_id", cfg.Broker.ClientID)
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs on its own goroutine and may still be pending.
	c.setConnected(true)
	return c, nil
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) handleConnect() {
	c.setConnected(true)

	c.subMu.RLock()
	for topic, sub := range c.subscriptions {
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.publishStatus("online", "")

	c.mu.RLock()
	callback := c.onConnect
	c.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	c.connected = false
	callback := c.onDisconnect
	c.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

// publishStatus replaces the retained agent status and waits for the broker.
func (c *Client) publishStatus(status, reason string) {
	token := c.client.Publish(Topics{}.Status(), c.QoS(), true,
		buildStatusPayload(status, c.cfg.Broker.ClientID, reason))
	token.WaitTimeout(defaultPublishTimeout)
}

// Close publishes a graceful offline status and disconnects, so consumers
// can tell a shutdown from a crash. Closing an unconnected client is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus("offline", "graceful_shutdown")
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers a callback run after every connect and reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback run when the connection drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// QoS returns the configured default QoS level.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS) //nolint:gosec // validated to 0-2 on load
}

// SetLogger sets the logger for handler errors and panics. Nil disables logging.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, logging errors and recovering panics.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
