package google

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/dropDatabas3/tubelink/internal/credentials"
	dto "github.com/dropDatabas3/tubelink/internal/http/dto/google"
	httperrors "github.com/dropDatabas3/tubelink/internal/http/errors"
	"github.com/dropDatabas3/tubelink/internal/http/helpers"
	"github.com/dropDatabas3/tubelink/internal/observability/logger"
)

// AuthController maneja el inicio del consentimiento y el callback de Google.
type AuthController struct {
	service CredentialService
	// successRedirect: si no está vacío el callback redirige ahí con el resultado.
	successRedirect string
}

func NewAuthController(service CredentialService, successRedirect string) *AuthController {
	return &AuthController{service: service, successRedirect: strings.TrimSpace(successRedirect)}
}

// Initiate maneja POST /v2/tenants/{tenantID}/google/auth
func (c *AuthController) Initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := helpers.TenantID(r)

	authURL, err := c.service.InitiateAuth(ctx, tenantID)
	if err != nil {
		logger.From(ctx).Info("initiate rejected",
			logger.Layer("controller"), logger.Op("AuthController.Initiate"),
			logger.TenantID(tenantID), logger.ErrKind(credentials.Kind(err)))
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.InitiateResponse{AuthURL: authURL})
}

// Callback maneja GET|POST /v2/google/callback
func (c *AuthController) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("AuthController.Callback"))

	// FormValue cubre query (GET) y form_post (POST)
	if idpError := strings.TrimSpace(r.FormValue("error")); idpError != "" {
		log.Warn("google returned error", logger.String("idp_error", idpError))
		c.fail(w, r, httperrors.ClassOAuthFailed, httperrors.ErrOAuthFailed.WithDetail(idpError))
		return
	}

	code := strings.TrimSpace(r.FormValue("code"))
	state := strings.TrimSpace(r.FormValue("state"))
	if state == "" {
		c.fail(w, r, httperrors.ClassInvalidState, httperrors.ErrInvalidState.WithDetail("state required"))
		return
	}
	if code == "" {
		c.fail(w, r, httperrors.ClassOAuthFailed, httperrors.ErrBadRequest.WithDetail("code required"))
		return
	}

	cred, err := c.service.CompleteAuth(ctx, code, state)
	if err != nil {
		class := httperrors.CallbackClass(err)
		log.Warn("callback failed", logger.ErrKind(credentials.Kind(err)), logger.String("class", class))
		appErr := httperrors.FromError(err)
		if class == httperrors.ClassOAuthFailed && appErr.HTTPStatus < 500 {
			// fallas del provider que no tienen entrada propia se reportan como oauth_failed
			appErr = httperrors.ErrOAuthFailed.WithCause(err)
		}
		c.fail(w, r, class, appErr)
		return
	}

	log.Info("callback completed", logger.TenantID(cred.TenantID))
	if c.successRedirect != "" {
		http.Redirect(w, r, withQuery(c.successRedirect, url.Values{
			"status":    {"linked"},
			"tenant_id": {cred.TenantID},
		}), http.StatusFound)
		return
	}
	helpers.NoContent(w)
}

// fail redirige con ?error=<class> si hay redirect configurado; si no, JSON.
func (c *AuthController) fail(w http.ResponseWriter, r *http.Request, class string, appErr *httperrors.AppError) {
	if c.successRedirect != "" {
		http.Redirect(w, r, withQuery(c.successRedirect, url.Values{"error": {class}}), http.StatusFound)
		return
	}
	httperrors.WriteError(w, httperrors.New(appErr.HTTPStatus, class, appErr.Message))
}

func withQuery(base string, v url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, vals := range v {
		for _, val := range vals {
			q.Set(k, val)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
