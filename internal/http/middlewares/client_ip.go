package middlewares

import (
	"net/http"
	"net/netip"

	"github.com/dropDatabas3/tubelink/internal/http/helpers"
)

// WithClientIP resuelve la IP del cliente una vez por request. Sin proxies
// confiables X-Forwarded-For se ignora.
func WithClientIP(trusted []netip.Prefix) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := helpers.ResolveClientIP(r, trusted)
			next.ServeHTTP(w, r.WithContext(helpers.WithClientIP(r.Context(), ip)))
		})
	}
}
