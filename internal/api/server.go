package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iotagent/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iotagent/internal/ngsi"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Engine is the part of the protocol engine the Broker calls back into.
// *ngsi.Service implements it.
type Engine interface {
	HandleContextUpdate(ctx context.Context, req ngsi.ContextRequest) error
	HandleContextQuery(ctx context.Context, req ngsi.ContextRequest) (entity.Entity, error)
	HandleNotification(ctx context.Context, e entity.Entity) error
}

// HealthChecker reports the health of an optional collaborator.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.ServerConfig
	Logger *logging.Logger
	Engine Engine

	// DefaultService and DefaultSubservice apply to requests without
	// fiware-service or fiware-servicepath headers.
	DefaultService    string
	DefaultSubservice string

	// Checks are reported by GET /health, keyed by component name.
	Checks map[string]HealthChecker

	Version string
}

// Server is the context-provider HTTP server.
//
// The Broker forwards updates and queries of registered attributes here,
// and posts subscription notifications to the notification path.
type Server struct {
	cfg               config.ServerConfig
	logger            *logging.Logger
	engine            Engine
	defaultService    string
	defaultSubservice string
	checks            map[string]HealthChecker
	version           string
	server            *http.Server
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("protocol engine is required")
	}

	cfg := deps.Config
	if cfg.NotificationPath == "" {
		cfg.NotificationPath = ngsi.DefaultNotificationPath
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = maxRequestBodySize
	}
	subservice := deps.DefaultSubservice
	if subservice == "" {
		subservice = "/"
	}

	return &Server{
		cfg:               cfg,
		logger:            deps.Logger,
		engine:            deps.Engine,
		defaultService:    deps.DefaultService,
		defaultSubservice: subservice,
		checks:            deps.Checks,
		version:           deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("context provider listening",
			"address", s.server.Addr,
			"notification_path", s.cfg.NotificationPath,
		)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
