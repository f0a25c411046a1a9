package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
)

const validConfig = `
broker:
  host: "orion"
  port: 1026
  ngsi_version: "v1"
provider_url: "http://iotagent:4041"
default_type: "Thing"
service: "smartGondor"
subservice: "/gardens"
types:
  Light:
    service: "smartGondor"
    subservice: "/gardens"
    active:
      - name: "pressure"
        type: "Hgmm"
    commands:
      - name: "switch"
        type: "Boolean"
  Room:
    active:
      - name: "temp"
        type: "Number"
        entity_name: "Room1"
        object_id: "t"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.BrokerURL(); got != "http://orion:1026" {
		t.Errorf("BrokerURL() = %q, want %q", got, "http://orion:1026")
	}

	shape, err := cfg.NGSIVersion()
	if err != nil || shape != entity.ShapeLegacy {
		t.Errorf("NGSIVersion() = %v, %v, want legacy", shape, err)
	}

	light, ok := cfg.Types["Light"]
	if !ok {
		t.Fatal("Types[Light] missing")
	}
	if len(light.Commands) != 1 || light.Commands[0].Name != "switch" {
		t.Errorf("Light.Commands = %+v", light.Commands)
	}

	room := cfg.Types["Room"]
	if len(room.Active) != 1 || room.Active[0].EntityName != "Room1" || room.Active[0].ObjectID != "t" {
		t.Errorf("Room.Active = %+v", room.Active)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DeviceRegistrationDuration != "P1M" {
		t.Errorf("DeviceRegistrationDuration = %q, want P1M", cfg.DeviceRegistrationDuration)
	}
	if cfg.SubscriptionTTL != 720*time.Hour {
		t.Errorf("SubscriptionTTL = %v, want 720h", cfg.SubscriptionTTL)
	}
	if cfg.Server.NotificationPath != "/notify" {
		t.Errorf("Server.NotificationPath = %q, want /notify", cfg.Server.NotificationPath)
	}
	if cfg.DeviceRegistry.Type != "memory" {
		t.Errorf("DeviceRegistry.Type = %q, want memory", cfg.DeviceRegistry.Type)
	}
	if cfg.GetBrokerTimeout() != 10*time.Second {
		t.Errorf("GetBrokerTimeout() = %v, want 10s", cfg.GetBrokerTimeout())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_MissingMandatoryParams(t *testing.T) {
	_, err := Load(writeConfig(t, "broker:\n  host: orion\n"))
	if err == nil {
		t.Fatal("Load() expected error, got nil")
	}
	if !errors.Is(err, fault.ErrMissingConfigParams) {
		t.Errorf("Load() error = %v, want ErrMissingConfigParams", err)
	}
	if fault.KindOf(err) != fault.KindConfiguration {
		t.Errorf("KindOf() = %v, want ConfigurationError", fault.KindOf(err))
	}
	for _, key := range []string{"provider_url", "types"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name %s", err, key)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("IOTA_CB_HOST", "orion.example")
	t.Setenv("IOTA_CB_PORT", "2026")
	t.Setenv("IOTA_CB_NGSI_VERSION", "v2")
	t.Setenv("IOTA_PROVIDER_URL", "http://agent.example:4041")
	t.Setenv("IOTA_AUTH_ENABLED", "true")
	t.Setenv("IOTA_AUTH_HOST", "keystone")
	t.Setenv("IOTA_AUTH_USER", "iotagent")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.BrokerURL(); got != "http://orion.example:2026" {
		t.Errorf("BrokerURL() = %q", got)
	}
	if shape, _ := cfg.NGSIVersion(); shape != entity.ShapeCurrent {
		t.Errorf("NGSIVersion() = %v, want current", shape)
	}
	if cfg.ProviderURL != "http://agent.example:4041" {
		t.Errorf("ProviderURL = %q", cfg.ProviderURL)
	}
	if !cfg.Authentication.Enabled {
		t.Error("Authentication.Enabled = false, want true")
	}
	if got := cfg.AuthURL(); got != "http://keystone:5000" {
		t.Errorf("AuthURL() = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad version", func(c *Config) { c.Broker.NGSIVersion = "ld" }, "ngsi_version"},
		{"bad broker port", func(c *Config) { c.Broker.Port = 0 }, "broker.port"},
		{"bad registry", func(c *Config) { c.DeviceRegistry.Type = "mongodb" }, "device_registry.type"},
		{"sqlite without path", func(c *Config) {
			c.DeviceRegistry.Type = "sqlite"
			c.Database.Path = ""
		}, "database.path"},
		{"auth without host", func(c *Config) { c.Authentication.Enabled = true }, "authentication.host"},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb.url"},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.ProviderURL = "http://agent:4041"
			cfg.Types = map[string]entity.TypeConfiguration{"Thing": {Type: "Thing"}}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
