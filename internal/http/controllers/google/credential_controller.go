package google

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/tubelink/internal/credentials"
	"github.com/dropDatabas3/tubelink/internal/domain/repository"
	dto "github.com/dropDatabas3/tubelink/internal/http/dto/google"
	httperrors "github.com/dropDatabas3/tubelink/internal/http/errors"
	"github.com/dropDatabas3/tubelink/internal/http/helpers"
	"github.com/dropDatabas3/tubelink/internal/observability/logger"
)

// CredentialController expone la credencial vinculada de un tenant. Nunca
// devuelve material de tokens.
type CredentialController struct {
	service CredentialService
}

func NewCredentialController(service CredentialService) *CredentialController {
	return &CredentialController{service: service}
}

// Get maneja GET /v2/tenants/{tenantID}/google/credential
func (c *CredentialController) Get(w http.ResponseWriter, r *http.Request) {
	view, err := c.service.Get(r.Context(), helpers.TenantID(r))
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, view)
}

// Refresh maneja POST /v2/tenants/{tenantID}/google/credential/refresh
func (c *CredentialController) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := helpers.TenantID(r)

	if _, err := c.service.RefreshOne(ctx, tenantID); err != nil {
		logger.From(ctx).Warn("manual refresh failed",
			logger.Layer("controller"), logger.Op("CredentialController.Refresh"),
			logger.TenantID(tenantID), logger.ErrKind(credentials.Kind(err)))
		httperrors.WriteError(w, err)
		return
	}
	view, err := c.service.Get(ctx, tenantID)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, view)
}

// UpdateStatus maneja PUT /v2/tenants/{tenantID}/google/credential/status
func (c *CredentialController) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateStatusRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	status := repository.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	if status == "" {
		httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("status required"))
		return
	}

	view, err := c.service.UpdateStatus(r.Context(), helpers.TenantID(r), status, req.Reason)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, view)
}

// Delete maneja DELETE /v2/tenants/{tenantID}/google/credential
func (c *CredentialController) Delete(w http.ResponseWriter, r *http.Request) {
	if err := c.service.Delete(r.Context(), helpers.TenantID(r)); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.NoContent(w)
}

// SyncChannel maneja POST /v2/tenants/{tenantID}/google/channel/sync
func (c *CredentialController) SyncChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := c.service.SyncChannel(r.Context(), helpers.TenantID(r))
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, credentials.NewChannelView(ch))
}
