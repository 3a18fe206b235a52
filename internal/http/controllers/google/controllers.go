// Package google contiene los controllers de vinculación y administración de la
// cuenta de Google de cada tenant.
package google

import (
	"context"
	"time"

	"github.com/dropDatabas3/tubelink/internal/credentials"
	"github.com/dropDatabas3/tubelink/internal/domain/repository"
)

// CredentialService es lo que los controllers usan del manager de credenciales.
type CredentialService interface {
	InitiateAuth(ctx context.Context, tenantID string) (string, error)
	CompleteAuth(ctx context.Context, code, stateToken string) (*repository.Credential, error)
	Get(ctx context.Context, tenantID string) (*credentials.View, error)
	RefreshOne(ctx context.Context, tenantID string) (*repository.Credential, error)
	UpdateStatus(ctx context.Context, tenantID string, status repository.Status, reason string) (*credentials.View, error)
	Delete(ctx context.Context, tenantID string) error
	SyncChannel(ctx context.Context, tenantID string) (*repository.LinkedChannel, error)
	ScanAndRefresh(ctx context.Context, threshold time.Duration) (*credentials.ScanReport, error)
}

// Controllers agrupa los controllers del dominio.
type Controllers struct {
	Auth       *AuthController
	Credential *CredentialController
	Scan       *ScanController
}

// NewControllers arma todos los controllers sobre el mismo servicio.
func NewControllers(svc CredentialService, successRedirect string) *Controllers {
	return &Controllers{
		Auth:       NewAuthController(svc, successRedirect),
		Credential: NewCredentialController(svc),
		Scan:       NewScanController(svc),
	}
}

// WithScanTrigger habilita el modo ?async=true del scan (lo corre el Scanner de fondo).
func (c *Controllers) WithScanTrigger(trigger func()) *Controllers {
	c.Scan.trigger = trigger
	return c
}

var _ CredentialService = (*credentials.Manager)(nil)
