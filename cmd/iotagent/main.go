// IoT Agent - northbound NGSI engine
//
// This is the main entry point for the agent. It loads configuration,
// opens the device registry, connects the optional MQTT command bus and
// InfluxDB update history, and serves the context provider endpoints the
// Context Broker calls back into.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-iotagent/internal/api"
	"github.com/nerrad567/gray-logic-iotagent/internal/commandbus"
	"github.com/nerrad567/gray-logic-iotagent/internal/device"
	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iotagent/internal/ngsi"
	"github.com/nerrad567/gray-logic-iotagent/internal/pipeline"
	"github.com/nerrad567/gray-logic-iotagent/internal/security"
	"github.com/nerrad567/gray-logic-iotagent/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configPathEnv     = "IOTA_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// registries bundles the device stores handed to the protocol engine.
type registries struct {
	devices  device.Repository
	groups   device.GroupRepository
	commands device.CommandQueue
	db       *database.DB
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled and returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting IoT agent",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	regs, err := openRegistries(ctx, cfg, log)
	if err != nil {
		return err
	}
	if regs.db != nil {
		defer func() {
			log.Info("closing database")
			if closeErr := regs.db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
	}

	checks := make(map[string]api.HealthChecker)
	if regs.db != nil {
		checks["database"] = regs.db
	}

	deps := ngsi.Deps{
		Devices:  regs.devices,
		Groups:   regs.groups,
		Commands: regs.commands,
		Gate:     buildGate(cfg, log),
		Pipeline: pipeline.Default(cfg.Timestamp),
		Logger:   log,
	}

	// Update history (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			stats := influxClient.Stats()
			log.Info("closing InfluxDB connection", "recorded", stats.Recorded, "failed", stats.Failed)
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		deps.Recorder = influxClient
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	svc, err := ngsi.New(ngsiConfig(cfg), deps)
	if err != nil {
		return fmt.Errorf("creating protocol engine: %w", err)
	}
	log.Info("protocol engine ready",
		"broker", cfg.BrokerURL(),
		"ngsi_version", cfg.Broker.NGSIVersion,
		"types", len(cfg.Types),
	)

	// Command bus (optional)
	if cfg.CommandBus.Enabled {
		mqttClient, bridge, busErr := startCommandBus(ctx, cfg, svc, log)
		if busErr != nil {
			return busErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		defer func() {
			log.Info("stopping command bus")
			if stopErr := bridge.Stop(); stopErr != nil {
				log.Warn("error stopping command bus", "error", stopErr)
			}
		}()
		checks["mqtt"] = mqttClient
	} else {
		log.Info("command bus disabled")
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	server, err := api.New(api.Deps{
		Config:            cfg.Server,
		Logger:            log,
		Engine:            svc,
		DefaultService:    cfg.Service,
		DefaultSubservice: cfg.Subservice,
		Checks:            checks,
		Version:           version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses IOTA_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// openRegistries builds the device, group and command stores selected by
// device_registry.type.
func openRegistries(ctx context.Context, cfg *config.Config, log *logging.Logger) (registries, error) {
	if cfg.DeviceRegistry.Type != "sqlite" {
		log.Info("device registry initialised", "type", "memory")
		return registries{
			devices:  device.NewMemoryRepository(),
			groups:   device.NewMemoryGroupRepository(),
			commands: device.NewMemoryCommandQueue(),
		}, nil
	}

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return registries{}, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck,gosec // migration error takes precedence
		return registries{}, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	log.Info("device registry initialised", "type", "sqlite")

	return registries{
		devices:  device.NewSQLiteRepository(db.DB),
		groups:   device.NewSQLiteGroupRepository(db.DB),
		commands: device.NewSQLiteCommandQueue(db.DB),
		db:       db,
	}, nil
}

// buildGate returns the security gate. With authentication disabled the
// gate passes requests through without a token.
func buildGate(cfg *config.Config, log *logging.Logger) *security.Gate {
	if !cfg.Authentication.Enabled {
		log.Info("authentication disabled")
		return security.NewGate(false, nil)
	}

	keystone := security.NewKeystoneTokenService(security.KeystoneConfig{
		URL:      cfg.AuthURL(),
		User:     cfg.Authentication.User,
		Password: cfg.Authentication.Password,
		Domain:   cfg.Authentication.Domain,
		Timeout:  cfg.GetBrokerTimeout(),
	})
	log.Info("authentication enabled", "url", cfg.AuthURL(), "user", cfg.Authentication.User)
	return security.NewGate(true, security.NewCachingTokenService(keystone, cfg.GetTokenTTL()))
}

// ngsiConfig maps the loaded configuration onto the engine's settings.
// Validate has already checked the NGSI version.
func ngsiConfig(cfg *config.Config) ngsi.Config {
	shape, _ := cfg.NGSIVersion() //nolint:errcheck // validated on load
	return ngsi.Config{
		BrokerURL:            cfg.BrokerURL(),
		Version:              shape,
		ProviderURL:          cfg.ProviderURL,
		NotificationPath:     cfg.Server.NotificationPath,
		RegistrationDuration: cfg.DeviceRegistrationDuration,
		SubscriptionTTL:      cfg.SubscriptionTTL,
		DefaultType:          cfg.DefaultType,
		Service:              cfg.Service,
		Subservice:           cfg.Subservice,
		Types:                cfg.Types,
		Timestamp:            cfg.Timestamp,
		Timeout:              cfg.GetBrokerTimeout(),
	}
}

// startCommandBus connects to MQTT and routes live device commands through it.
func startCommandBus(ctx context.Context, cfg *config.Config, svc *ngsi.Service, log *logging.Logger) (*mqtt.Client, *commandbus.Bridge, error) {
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := commandbus.NewBridge(commandbus.Options{
		Bus:            mqttClient,
		Agent:          svc,
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0-2
		DefaultService: cfg.Service,
		Logger:         log,
	})
	if err != nil {
		mqttClient.Close() //nolint:errcheck,gosec // bridge error takes precedence
		return nil, nil, fmt.Errorf("creating command bus: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		mqttClient.Close() //nolint:errcheck,gosec // subscribe error takes precedence
		return nil, nil, fmt.Errorf("starting command bus: %w", err)
	}
	svc.SetCommandHandler(bridge.HandleCommands)
	log.Info("command bus started")

	return mqttClient, bridge, nil
}

// healthCheck verifies every optional collaborator before serving requests.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, check := range checks {
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
