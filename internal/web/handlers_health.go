package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JonMunkholm/catalog-import/internal/core"
	"github.com/JonMunkholm/catalog-import/internal/logging"
)

// healthTimeout bounds the store pings of one health check.
const healthTimeout = 3 * time.Second

// HealthResponse reports store reachability and import capacity.
type HealthResponse struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Stats  core.Stats `json:"stats"`
}

// handleHealth returns 200 when both stores answer a ping and 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Stats: s.service.Stats()}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		logging.FromContext(ctx).Warn("health check failed", "error", err)
		resp.Status = "unavailable"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
