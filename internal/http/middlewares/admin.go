package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dropDatabas3/tubelink/internal/http/errors"
	"github.com/dropDatabas3/tubelink/internal/observability/logger"
)

// AdminKeyHeader es el header con la API key de administración.
const AdminKeyHeader = "X-Admin-API-Key"

// RequireAdminKey valida X-Admin-API-Key en tiempo constante.
// Sin key configurada las rutas de admin quedan cerradas (403).
func RequireAdminKey(apiKey string) Middleware {
	expected := []byte(strings.TrimSpace(apiKey))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				errors.WriteError(w, errors.ErrForbidden.WithDetail("admin api disabled"))
				return
			}
			got := strings.TrimSpace(r.Header.Get(AdminKeyHeader))
			if got == "" {
				errors.WriteError(w, errors.ErrUnauthorized.WithDetail("missing "+AdminKeyHeader))
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				logger.From(r.Context()).Warn("admin key rejected", logger.Op("RequireAdminKey"))
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
