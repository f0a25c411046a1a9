package commandbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-iotagent/internal/device"
	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iotagent/internal/ngsi"
)

// resultTimeout bounds the Broker update triggered by one result message.
const resultTimeout = 30 * time.Second

// Bus is the subset of the MQTT client the bridge needs.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Agent is the subset of the protocol engine the bridge reports results to.
type Agent interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	DeviceCommandResult(ctx context.Context, d *device.Device, command string, result any, status string) error
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Bridge.
type Options struct {
	Bus   Bus
	Agent Agent

	// QoS is used for command publishes and the result subscription.
	QoS byte

	// DefaultService is used for devices registered without a service.
	DefaultService string

	Logger Logger
}

// Bridge publishes commands to device adapters and applies their results.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	bus            Bus
	agent          Agent
	qos            byte
	defaultService string
	log            Logger
	now            func() time.Time

	mu        sync.Mutex
	started   bool
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewBridge creates a bridge. Bus and Agent are required.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("commandbus: bus is required")
	}
	if opts.Agent == nil {
		return nil, fmt.Errorf("commandbus: agent is required")
	}
	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}
	return &Bridge{
		bus:            opts.Bus,
		agent:          opts.Agent,
		qos:            opts.QoS,
		defaultService: opts.DefaultService,
		log:            log,
		now:            time.Now,
	}, nil
}

// Start subscribes to the result topics of every device.
// Results are applied with a context derived from ctx until Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}

	b.ctx, b.ctxCancel = context.WithCancel(ctx)
	topic := mqtt.Topics{}.AllResults()
	if err := b.bus.Subscribe(topic, b.qos, b.handleResult); err != nil {
		b.ctxCancel()
		return fmt.Errorf("subscribe to results: %w", err)
	}
	b.started = true
	b.log.Info("command bus started", "topic", topic)
	return nil
}

// Stop unsubscribes from result topics and abandons in-flight results.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return ErrNotStarted
	}
	b.started = false
	b.ctxCancel()

	if err := b.bus.Unsubscribe(mqtt.Topics{}.AllResults()); err != nil {
		return fmt.Errorf("unsubscribe from results: %w", err)
	}
	b.log.Info("command bus stopped")
	return nil
}

// HandleCommands publishes the commands of one device as a single message.
// Its signature matches the engine's command handler.
func (b *Bridge) HandleCommands(_ context.Context, d *device.Device, cmds []entity.Attribute) error {
	service := b.serviceOf(d)
	msg := newCommandMessage(uuid.NewString(), d.ID, d.Name, service, d.Subservice, cmds, b.now())

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding commands for %s: %w", d.ID, err)
	}

	topic := mqtt.Topics{}.Command(service, d.ID)
	if err := b.bus.Publish(topic, payload, b.qos, false); err != nil {
		return fmt.Errorf("publishing commands for %s: %w", d.ID, err)
	}

	b.log.Debug("commands published", "device", d.ID, "topic", topic, "id", msg.ID, "count", len(cmds))
	return nil
}

// handleResult applies a result message received on a result topic.
func (b *Bridge) handleResult(topic string, payload []byte) error {
	service, deviceID, ok := mqtt.Topics{}.ParseResult(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %s", ErrInvalidResult, topic)
	}

	msg, err := ParseResult(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(b.context(), resultTimeout)
	defer cancel()

	d, err := b.agent.GetDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("result for %s: %w", deviceID, err)
	}
	if b.serviceOf(d) != service {
		return fmt.Errorf("%w: %s on %s", ErrTenantMismatch, deviceID, service)
	}

	status := msg.Status
	if status == "" {
		status = ngsi.CommandStatusOK
	}
	if err := b.agent.DeviceCommandResult(ctx, d, msg.Command, msg.Result, status); err != nil {
		return fmt.Errorf("result %s for %s: %w", msg.Command, deviceID, err)
	}

	b.log.Debug("command result applied", "device", deviceID, "command", msg.Command, "status", status)
	return nil
}

func (b *Bridge) serviceOf(d *device.Device) string {
	if d.Service != "" {
		return d.Service
	}
	return b.defaultService
}

func (b *Bridge) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}
