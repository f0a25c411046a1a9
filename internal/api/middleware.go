package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-iotagent/internal/ngsi"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// ctxKeyRequestID is the context key for the request ID.
	ctxKeyRequestID contextKey = "request_id"

	// ctxKeyTenant is the context key for the resolved tenant.
	ctxKeyTenant contextKey = "tenant"
)

// maxRequestBodySize is the default limit on request bodies (1 MB).
const maxRequestBodySize = 1 << 20

// tenant is the service and subservice a Broker request is scoped to.
type tenant struct {
	service    string
	subservice string
}

// requestIDMiddleware tags every request with an id. X-Request-ID is
// preferred, then the Broker's correlator; otherwise one is generated.
// The correlator is echoed back when the Broker sent one.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlator := r.Header.Get(ngsi.HeaderCorrelator)
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = correlator
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", requestID)
		if correlator != "" {
			w.Header().Set(ngsi.HeaderCorrelator, correlator)
		}
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	})
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// bodySizeLimitMiddleware limits the size of incoming request bodies.
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// tenantMiddleware resolves fiware-service and fiware-servicepath, falling
// back to the configured defaults when the Broker omits them.
func (s *Server) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := tenant{
			service:    r.Header.Get(ngsi.HeaderService),
			subservice: r.Header.Get(ngsi.HeaderServicePath),
		}
		if t.service == "" {
			t.service = s.defaultService
		}
		if t.subservice == "" {
			t.subservice = s.defaultSubservice
		}
		ctx := context.WithValue(r.Context(), ctxKeyTenant, t)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFrom(ctx context.Context) tenant {
	t, _ := ctx.Value(ctxKeyTenant).(tenant)
	return t
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
