// Package logging provides structured logging for the IoT agent.
//
// This package wraps github.com/rs/zerolog behind a key/value call style so
// that every package can depend on a four-method Logger interface.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Console output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("device registered", "device", id)
//	logger.Error("broker connection failed", "error", err)
//
// # Security
//
// Never log trusts, tokens or passwords. Errors from internal/fault already
// truncate them.
package logging
