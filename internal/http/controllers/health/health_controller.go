// Package health contiene el controller para health checks.
package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/dropDatabas3/tubelink/internal/http/helpers"
	"github.com/dropDatabas3/tubelink/internal/observability/logger"
)

// Check verifica una dependencia (store, cache).
type Check func(ctx context.Context) error

// Response es la respuesta de /readyz.
type Response struct {
	Status     string            `json:"status"` // ready | unavailable
	Components map[string]string `json:"components,omitempty"`
}

type HealthController struct {
	checks  map[string]Check
	timeout time.Duration
}

func NewHealthController(checks map[string]Check) *HealthController {
	return &HealthController{checks: checks, timeout: 2 * time.Second}
}

// Readyz maneja GET /readyz
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := Response{Status: "ready", Components: make(map[string]string, len(names))}
	for _, name := range names {
		if err := c.checks[name](ctx); err != nil {
			resp.Status = "unavailable"
			resp.Components[name] = "error"
			logger.From(ctx).Warn("readiness check failed",
				logger.Layer("controller"), logger.Component(name), logger.Err(err))
			continue
		}
		resp.Components[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	helpers.WriteJSON(w, status, resp)
}
