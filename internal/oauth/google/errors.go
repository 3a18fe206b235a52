package google

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/dropDatabas3/tubelink/internal/oauth/state"
)

var (
	// ErrConfiguration: faltan client id/secret/redirect URI. Las llamadas del flujo fallan con esto.
	ErrConfiguration = errors.New("google oauth not configured")

	// ErrMissingRefreshToken: Google no devolvió refresh_token (consent no forzado o app sin offline).
	ErrMissingRefreshToken = errors.New("provider did not return a refresh token")

	// ErrNoChannelFound: la cuenta autorizada no tiene canal de YouTube.
	ErrNoChannelFound = errors.New("no youtube channel for this account")

	// ErrIdentityIncomplete: userinfo sin email o sin sub.
	ErrIdentityIncomplete = errors.New("provider identity incomplete")

	// ErrProvider es el sentinel de todo *ProviderError.
	ErrProvider = errors.New("provider error")

	ErrInvalidState = state.ErrInvalidState
	ErrExpiredState = state.ErrExpiredState
)

// códigos OAuth que significan que el grant no sirve más
var terminalCodes = map[string]bool{
	"invalid_grant":       true,
	"unauthorized_client": true,
	"invalid_client":      true,
}

// ProviderError es una falla de Google (red, status no-2xx o error OAuth).
// Message es la descripción corta del provider; el body crudo nunca se guarda.
type ProviderError struct {
	Op      string // exchange | refresh | userinfo | channels
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	s := "google " + e.Op
	if e.Code != "" {
		s += ": " + e.Code
	}
	if e.Status != 0 {
		s += fmt.Sprintf(" (%d)", e.Status)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil && e.Code == "" {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is permite errors.Is(err, ErrProvider).
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// Terminal indica que reintentar no sirve: el usuario revocó el acceso o el client es inválido.
func (e *ProviderError) Terminal() bool { return terminalCodes[e.Code] }

// IsTerminal reporta si err contiene un *ProviderError terminal.
func IsTerminal(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Terminal()
}

func providerError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		pe := &ProviderError{Op: op, Code: re.ErrorCode, Message: re.ErrorDescription, Err: err}
		if re.Response != nil {
			pe.Status = re.Response.StatusCode
		}
		if pe.Code == "" && pe.Status != 0 {
			pe.Code = httpCode(pe.Status)
		}
		return pe
	}
	return &ProviderError{Op: op, Code: "transport", Err: err}
}

func httpCode(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusForbidden:
		return "forbidden"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	default:
		return "http_error"
	}
}
