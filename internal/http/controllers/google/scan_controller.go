package google

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	httperrors "github.com/dropDatabas3/tubelink/internal/http/errors"
	"github.com/dropDatabas3/tubelink/internal/http/helpers"
)

type ScanController struct {
	service CredentialService
	trigger func()
}

func NewScanController(service CredentialService) *ScanController {
	return &ScanController{service: service}
}

// Scan maneja POST /v2/admin/google/scan[?threshold=10m][&async=true]. Sincrónico
// corre en el request, sin lease: la concurrencia con el scanner periódico la
// resuelve el manager. Con async despierta al scanner de fondo y responde 202.
func (c *ScanController) Scan(w http.ResponseWriter, r *http.Request) {
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if c.trigger == nil {
			httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithDetail("background scanner disabled"))
			return
		}
		c.trigger()
		helpers.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
		return
	}

	var threshold time.Duration
	if s := strings.TrimSpace(r.URL.Query().Get("threshold")); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("threshold must be a positive duration"))
			return
		}
		threshold = d
	}

	report, err := c.service.ScanAndRefresh(r.Context(), threshold)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, report)
}
