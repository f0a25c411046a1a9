package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/config"
)

// serviceName is attached to every entry as the "service" field.
const serviceName = "iotagent"

// Logger wraps zerolog.Logger behind a key/value call style.
//
// It provides structured logging with default fields and level-based filtering.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	zl zerolog.Logger
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, console text for development)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	return newLogger(output, cfg.Format, cfg.Level, version)
}

func newLogger(output io.Writer, format, level, version string) *Logger {
	switch strings.ToLower(format) {
	case "text", "console":
		output = zerolog.ConsoleWriter{Out: output, NoColor: true}
	}

	zl := zerolog.New(output).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", version).
		Logger()

	return &Logger{zl: zl}
}

// parseLevel converts a string log level to zerolog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug logs at debug level. args are alternating keys and values.
func (l *Logger) Debug(msg string, args ...any) {
	l.zl.Debug().Fields(pairs(args)).Msg(msg)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	l.zl.Info().Fields(pairs(args)).Msg(msg)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.zl.Warn().Fields(pairs(args)).Msg(msg)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	l.zl.Error().Fields(pairs(args)).Msg(msg)
}

// With returns a new Logger with additional default attributes.
//
// Parameters:
//   - args: Key-value pairs to add as default attributes
//
// Returns:
//   - *Logger: New logger with added attributes
//
// Example:
//
//	mqttLogger := logger.With("component", "mqtt")
//	mqttLogger.Info("connected") // Includes component=mqtt
func (l *Logger) With(args ...any) *Logger {
	return &Logger{zl: l.zl.With().Fields(pairs(args)).Logger()}
}

// pairs turns alternating keys and values into a field map. A trailing key
// without a value is logged under "!BADKEY".
func pairs(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	fields := make(map[string]any, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 == len(args) {
			fields["!BADKEY"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		value := args[i+1]
		if err, isErr := value.(error); isErr && err != nil {
			value = err.Error()
		}
		fields[key] = value
	}
	return fields
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
//
// Returns:
//   - *Logger: Default logger
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
