// Package config handles loading and validating the IoT agent configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with IOTA_* environment variables
//   - Validation of mandatory parameters
//   - Default value handling
//
// Security Considerations:
//   - Credentials (token service password, MQTT password, InfluxDB token)
//     should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.BrokerURL())
package config
