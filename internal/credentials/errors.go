package credentials

import (
	"context"
	"errors"

	"github.com/dropDatabas3/tubelink/internal/domain/repository"
	"github.com/dropDatabas3/tubelink/internal/oauth/google"
	"github.com/dropDatabas3/tubelink/internal/security/tokencipher"
)

var (
	// ErrTenantNotFound: el registry de tenants no conoce el ID.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrRevoked: la credencial está REVOKED; hay que re-vincular.
	ErrRevoked = errors.New("credential revoked")

	// ErrLeaseHeld: otra réplica tiene el lease del scan.
	ErrLeaseHeld = errors.New("scan lease held by another instance")
)

// Re-export para que los callers no importen cada paquete.
var (
	ErrNotFound          = repository.ErrNotFound
	ErrAlreadyLinked     = repository.ErrAlreadyLinked
	ErrInvalidTransition = repository.ErrInvalidTransition
	ErrInvalidInput      = repository.ErrInvalidInput
	ErrVersionConflict   = repository.ErrVersionConflict

	ErrConfiguration       = google.ErrConfiguration
	ErrInvalidState        = google.ErrInvalidState
	ErrExpiredState        = google.ErrExpiredState
	ErrMissingRefreshToken = google.ErrMissingRefreshToken
	ErrNoChannelFound      = google.ErrNoChannelFound
	ErrIdentityIncomplete  = google.ErrIdentityIncomplete
	ErrProvider            = google.ErrProvider
	ErrCrypto              = tokencipher.ErrCrypto
)

// Kind clasifica err para logs (error_kind) y métricas.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTenantNotFound):
		return "tenant_not_found"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyLinked):
		return "already_linked"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrConfiguration):
		return "config_error"
	case errors.Is(err, ErrExpiredState):
		return "expired_state"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrMissingRefreshToken):
		return "no_refresh_token"
	case errors.Is(err, ErrNoChannelFound):
		return "no_channel"
	case errors.Is(err, ErrIdentityIncomplete):
		return "identity_incomplete"
	case errors.Is(err, ErrCrypto):
		return "crypto"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrProvider):
		if google.IsTerminal(err) {
			return "provider_terminal"
		}
		return "provider"
	case errors.Is(err, ErrLeaseHeld):
		return "lease_held"
	default:
		return "internal"
	}
}
