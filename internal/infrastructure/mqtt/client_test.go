package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/config"
)

// testConfig returns an MQTT configuration pointing at a local broker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "iotagent-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// disconnectedClient returns a Client that never dialled a broker.
func disconnectedClient() *Client {
	return &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopics(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Command", Topics{}.Command("smartgondor", "r2d2"), "iotagent/command/smartgondor/r2d2"},
		{"Result", Topics{}.Result("smartgondor", "r2d2"), "iotagent/result/smartgondor/r2d2"},
		{"AllResults", Topics{}.AllResults(), "iotagent/result/+/+"},
		{"Status", Topics{}.Status(), "iotagent/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestTopics_ParseResult(t *testing.T) {
	tests := []struct {
		topic   string
		service string
		device  string
		ok      bool
	}{
		{"iotagent/result/smartgondor/r2d2", "smartgondor", "r2d2", true},
		{"iotagent/command/smartgondor/r2d2", "", "", false},
		{"iotagent/result/smartgondor", "", "", false},
		{"iotagent/result/smartgondor/r2d2/extra", "", "", false},
		{"iotagent/result//r2d2", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			service, device, ok := Topics{}.ParseResult(tt.topic)
			if ok != tt.ok || service != tt.service || device != tt.device {
				t.Errorf("ParseResult(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.topic, service, device, ok, tt.service, tt.device, tt.ok)
			}
		})
	}
}

func TestTopics_ResultRoundTrip(t *testing.T) {
	service, device, ok := Topics{}.ParseResult(Topics{}.Result("tenant", "dev-1"))
	if !ok || service != "tenant" || device != "dev-1" {
		t.Errorf("ParseResult(Result()) = (%q, %q, %v)", service, device, ok)
	}
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "agent"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Fatalf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "iotagent-test" {
		t.Errorf("ClientID = %q, want iotagent-test", opts.ClientID)
	}
	if opts.Username != "agent" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want agent/secret", opts.Username, opts.Password)
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set without TLS enabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLSConfig missing or below minimum version")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "iotagent-test")

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if opts.WillTopic != "iotagent/status" {
		t.Errorf("WillTopic = %q, want iotagent/status", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}

	var p statusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if p.Status != "offline" || p.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", p)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var p statusPayload
	if err := json.Unmarshal(buildStatusPayload("online", "agent-1", ""), &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if p.Status != "online" || p.ClientID != "agent-1" {
		t.Errorf("payload = %+v", p)
	}
	if p.Timestamp == "" {
		t.Error("payload has no timestamp")
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestPublish_Validation(t *testing.T) {
	c := disconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"wildcard topic", "iotagent/command/+/r2d2", []byte("x"), 1, ErrInvalidTopic},
		{"bad qos", "t", []byte("x"), 3, ErrInvalidQoS},
		{"oversized", "t", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "t", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := disconnectedClient()
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("t", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("t", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	c := disconnectedClient()

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("t"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestClient_InitialState(t *testing.T) {
	c := &Client{}

	if c.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on uninitialised client error = %v", err)
	}
	if c.HasSubscription("anything") {
		t.Error("HasSubscription() should be false")
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestWrapHandler_PassesMessage(t *testing.T) {
	c := disconnectedClient()

	var gotTopic, gotPayload string
	h := c.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		return nil
	})
	h(nil, fakeMessage{topic: "iotagent/result/s/d", payload: []byte(`{}`)})

	if gotTopic != "iotagent/result/s/d" || gotPayload != "{}" {
		t.Errorf("handler got (%q, %q)", gotTopic, gotPayload)
	}
}

func TestWrapHandler_LogsErrors(t *testing.T) {
	c := disconnectedClient()
	logger := &mockLogger{}
	c.SetLogger(logger)

	h := c.wrapHandler(func(string, []byte) error { return errors.New("boom") })
	h(nil, fakeMessage{topic: "t"})

	if len(logger.warns) != 1 {
		t.Errorf("warns = %d, want 1", len(logger.warns))
	}
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	c := disconnectedClient()
	logger := &mockLogger{}
	c.SetLogger(logger)

	h := c.wrapHandler(func(string, []byte) error { panic("handler bug") })
	h(nil, fakeMessage{topic: "t"})

	if len(logger.errors) != 1 {
		t.Errorf("errors = %d, want 1", len(logger.errors))
	}
}

func TestCallbacks(t *testing.T) {
	c := disconnectedClient()

	var disconnected error
	c.SetOnDisconnect(func(err error) { disconnected = err })
	c.handleDisconnect(errors.New("network down"))

	if disconnected == nil {
		t.Error("OnDisconnect callback not called")
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
}

func TestSetLogger(t *testing.T) {
	c := disconnectedClient()

	c.SetLogger(&mockLogger{})
	if c.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger()")
	}

	c.SetLogger(nil)
	if c.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}
}

// mockLogger implements Logger for testing.
type mockLogger struct {
	errors []string
	warns  []string
	mu     sync.Mutex
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
