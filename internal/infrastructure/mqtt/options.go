package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options from the agent config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and credentials
//   - Auto-reconnect with exponential backoff
//   - Clean session mode
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// statusPayload is published retained on Topics.Status.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func buildStatusPayload(status, clientID, reason string) []byte {
	data, _ := json.Marshal(statusPayload{ //nolint:errcheck // Marshalling a plain struct
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return data
}

// configureLWT makes the broker publish an offline status if the agent
// disappears without disconnecting.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	opts.SetBinaryWill(Topics{}.Status(), buildStatusPayload("offline", clientID, "unexpected_disconnect"), 1, true)
}
