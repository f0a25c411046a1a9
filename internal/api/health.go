package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 3 * time.Second

type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealth reports the agent and its optional collaborators.
// Any failing collaborator turns the answer into 503 degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Version: s.version}
	status := http.StatusOK

	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
		for name, c := range s.checks {
			if err := c.HealthCheck(ctx); err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Components[name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}
