package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/dropDatabas3/tubelink/internal/credentials"
	"github.com/dropDatabas3/tubelink/internal/oauth/google"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe la respuesta JSON del error. Los errores de dominio se
// traducen con FromError; la causa nunca llega al cliente.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}

// FromError convierte err en un AppError del catálogo. Lo desconocido es 500.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var base *AppError
	switch {
	case err == nil:
		return ErrInternalServerError
	case stderrors.Is(err, credentials.ErrInvalidInput):
		base = ErrInvalidParameter
	case stderrors.Is(err, credentials.ErrTenantNotFound):
		base = ErrTenantNotFound
	case stderrors.Is(err, credentials.ErrNotFound):
		base = ErrCredentialNotFound
	case stderrors.Is(err, credentials.ErrAlreadyLinked):
		base = ErrAlreadyLinked
	case stderrors.Is(err, credentials.ErrRevoked):
		base = ErrCredentialRevoked
	case stderrors.Is(err, credentials.ErrInvalidTransition), stderrors.Is(err, credentials.ErrVersionConflict):
		base = ErrInvalidTransition
	case stderrors.Is(err, credentials.ErrLeaseHeld):
		base = ErrScanInProgress
	case stderrors.Is(err, credentials.ErrConfiguration):
		base = ErrConfigError
	case stderrors.Is(err, credentials.ErrInvalidState), stderrors.Is(err, credentials.ErrExpiredState):
		base = ErrInvalidState
	case stderrors.Is(err, credentials.ErrMissingRefreshToken):
		base = ErrNoRefreshToken
	case stderrors.Is(err, credentials.ErrNoChannelFound):
		base = ErrNoChannel
	case stderrors.Is(err, context.DeadlineExceeded):
		base = ErrGatewayTimeout
	case google.IsTerminal(err):
		base = ErrCredentialRevoked
	case stderrors.Is(err, credentials.ErrProvider), stderrors.Is(err, credentials.ErrIdentityIncomplete):
		base = ErrOAuthFailed
	default:
		base = ErrInternalServerError
	}
	return base.WithCause(err)
}

// Clases de error que el callback expone en el redirect (?error=<class>).
const (
	ClassInvalidState  = "invalid_state"
	ClassNoRefresh     = "no_refresh_token"
	ClassNoChannel     = "no_channel"
	ClassConfig        = "config_error"
	ClassAlreadyLinked = "already_linked"
	ClassOAuthFailed   = "oauth_failed"
)

// CallbackClass resume err en una de las clases del callback.
func CallbackClass(err error) string {
	switch {
	case stderrors.Is(err, credentials.ErrInvalidState), stderrors.Is(err, credentials.ErrExpiredState):
		return ClassInvalidState
	case stderrors.Is(err, credentials.ErrMissingRefreshToken):
		return ClassNoRefresh
	case stderrors.Is(err, credentials.ErrNoChannelFound):
		return ClassNoChannel
	case stderrors.Is(err, credentials.ErrConfiguration):
		return ClassConfig
	case stderrors.Is(err, credentials.ErrAlreadyLinked):
		return ClassAlreadyLinked
	default:
		return ClassOAuthFailed
	}
}
