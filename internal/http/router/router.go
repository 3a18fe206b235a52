// Package router arma el árbol de rutas HTTP sobre chi.
package router

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"

	googlectrl "github.com/dropDatabas3/tubelink/internal/http/controllers/google"
	healthctrl "github.com/dropDatabas3/tubelink/internal/http/controllers/health"
	httperrors "github.com/dropDatabas3/tubelink/internal/http/errors"
	mw "github.com/dropDatabas3/tubelink/internal/http/middlewares"
	"github.com/dropDatabas3/tubelink/internal/metrics"
	"github.com/dropDatabas3/tubelink/internal/rate"
)

// Deps contiene todas las dependencias del router.
type Deps struct {
	Google *googlectrl.Controllers
	Health *healthctrl.HealthController

	// Opcionales
	Metrics      *metrics.Metrics
	RateLimiter  rate.MultiLimiter
	InitiateRate rate.Rule
	CallbackRate rate.Rule
	AdminAPIKey  string
	// TrustedProxies habilita X-Forwarded-For solo desde estos rangos.
	TrustedProxies []netip.Prefix
}

// New devuelve el handler raíz.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		mw.WithRecover(),
		mw.WithClientIP(d.TrustedProxies),
		mw.WithRequestID(),
		mw.WithLogging(),
	)
	if d.Metrics != nil {
		r.Use(d.Metrics.WithMetrics)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	if d.Health != nil {
		r.Get("/readyz", d.Health.Readyz)
	}
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	if d.Google != nil {
		registerGoogleRoutes(r, d)
	}
	return r
}

func registerGoogleRoutes(r chi.Router, d Deps) {
	g := d.Google

	r.Route("/v2", func(r chi.Router) {
		r.Use(mw.WithNoStore())

		// flujo OAuth: público, con rate limit
		r.With(mw.WithRateLimit(mw.RateLimitConfig{
			Limiter: d.RateLimiter,
			Rule:    d.InitiateRate,
			Name:    "initiate",
			KeyFunc: mw.TenantRateKey,
		})).Post("/tenants/{tenantID}/google/auth", g.Auth.Initiate)

		callback := mw.WithRateLimit(mw.RateLimitConfig{
			Limiter: d.RateLimiter,
			Rule:    d.CallbackRate,
			Name:    "callback",
		})
		r.With(callback).Get("/google/callback", g.Auth.Callback)
		r.With(callback).Post("/google/callback", g.Auth.Callback)

		// administración: X-Admin-API-Key
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireAdminKey(d.AdminAPIKey))

			r.Route("/tenants/{tenantID}/google", func(r chi.Router) {
				r.Get("/credential", g.Credential.Get)
				r.Delete("/credential", g.Credential.Delete)
				r.Post("/credential/refresh", g.Credential.Refresh)
				r.Put("/credential/status", g.Credential.UpdateStatus)
				r.Post("/channel/sync", g.Credential.SyncChannel)
			})
			r.Post("/admin/google/scan", g.Scan.Scan)
		})
	})
}
