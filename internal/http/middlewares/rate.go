package middlewares

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dropDatabas3/tubelink/internal/http/errors"
	"github.com/dropDatabas3/tubelink/internal/http/helpers"
	"github.com/dropDatabas3/tubelink/internal/observability/logger"
	"github.com/dropDatabas3/tubelink/internal/rate"
)

// RateKeyFunc define cómo generar la clave de rate limiting.
type RateKeyFunc func(r *http.Request) string

// IPRateKey: clave por IP.
func IPRateKey(r *http.Request) string { return helpers.ClientIP(r) }

// TenantRateKey: clave por IP y tenant de la ruta.
func TenantRateKey(r *http.Request) string {
	t := helpers.TenantID(r)
	if t == "" {
		t = "-"
	}
	return helpers.ClientIP(r) + "|" + t
}

// RateLimitConfig configura el middleware. Name separa contadores entre rutas.
type RateLimitConfig struct {
	Limiter rate.MultiLimiter
	Rule    rate.Rule
	Name    string
	KeyFunc RateKeyFunc
}

// WithRateLimit aplica un fixed window por clave. Sin limiter o con la regla
// deshabilitada no hace nada.
func WithRateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Limiter == nil || !cfg.Rule.Enabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = IPRateKey
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.Name + "|" + cfg.KeyFunc(r)
			res, err := cfg.Limiter.AllowWithLimits(r.Context(), key, cfg.Rule.Max, cfg.Rule.Window)
			if err != nil {
				// si el limiter falla se deja pasar el request
				logger.From(r.Context()).Warn("rate limit error", logger.Op("WithRateLimit"), logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			if res.WindowTTL > 0 {
				resetAt := time.Now().Add(res.WindowTTL).Unix()
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
			}
			if !res.Allowed {
				if res.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
				}
				errors.WriteError(w, errors.ErrRateLimitExceeded)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			next.ServeHTTP(w, r)
		})
	}
}
