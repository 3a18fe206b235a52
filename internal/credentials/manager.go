// Package credentials implementa el ciclo de vida de la cuenta de Google vinculada
// a cada tenant: vinculación OAuth, refresh programado y transiciones de estado.
package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/tubelink/internal/domain/repository"
	"github.com/dropDatabas3/tubelink/internal/metrics"
	"github.com/dropDatabas3/tubelink/internal/notify"
	"github.com/dropDatabas3/tubelink/internal/oauth/google"
	"github.com/dropDatabas3/tubelink/internal/oauth/state"
	"github.com/dropDatabas3/tubelink/internal/observability/logger"
)

// OAuthFlow es lo que el manager necesita del coordinator de Google.
type OAuthFlow interface {
	BuildAuthorizationURL(tenantID string) (string, error)
	DecodeState(stateToken string) (*state.Claims, error)
	ExchangeCode(ctx context.Context, code, stateToken string) (*google.Tokens, string, error)
	FetchIdentity(ctx context.Context, accessToken string) (*google.Identity, error)
	FetchChannel(ctx context.Context, accessToken string) (*google.Channel, error)
	Refresh(ctx context.Context, refreshToken string) (*google.Tokens, error)
}

// TokenCipher cifra tokens en reposo.
type TokenCipher interface {
	Encrypt(plainText string) (string, error)
	Decrypt(envelope string) (string, error)
}

// Deps son las dependencias del Manager. Notifier, Metrics y Clock son opcionales.
type Deps struct {
	Store    repository.CredentialRepository
	Tenants  repository.TenantRegistry
	OAuth    OAuthFlow
	Cipher   TokenCipher
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Clock    func() time.Time
}

// Options del refresh y del scan.
type Options struct {
	// RefreshThreshold: se refrescan credenciales que vencen dentro de esta ventana.
	RefreshThreshold time.Duration
	// Workers: refresh concurrentes por scan.
	Workers int
	// TenantTimeout acota cada refresh individual.
	TenantTimeout time.Duration
}

const (
	DefaultRefreshThreshold = 5 * time.Minute
	DefaultWorkers          = 4
	DefaultTenantTimeout    = 30 * time.Second

	maxErrorMessage = 500
)

// Manager orquesta flujo, cifrado y persistencia. Seguro para uso concurrente.
type Manager struct {
	store    repository.CredentialRepository
	tenants  repository.TenantRegistry
	oauth    OAuthFlow
	cipher   TokenCipher
	notifier notify.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
	opts     Options

	// dedupe de refresh por tenant dentro del proceso
	sf singleflight.Group
}

func New(d Deps, opts Options) *Manager {
	if opts.RefreshThreshold <= 0 {
		opts.RefreshThreshold = DefaultRefreshThreshold
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.TenantTimeout <= 0 {
		opts.TenantTimeout = DefaultTenantTimeout
	}
	m := &Manager{
		store:    d.Store,
		tenants:  d.Tenants,
		oauth:    d.OAuth,
		cipher:   d.Cipher,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		now:      d.Clock,
		opts:     opts,
	}
	if m.notifier == nil {
		m.notifier = notify.Noop{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Options devuelve la configuración efectiva.
func (m *Manager) Options() Options { return m.opts }

func (m *Manager) log(ctx context.Context, op, tenantID string) *zap.Logger {
	return logger.From(ctx).With(logger.Component("credentials"), logger.Op(op), logger.TenantID(tenantID))
}

// InitiateAuth devuelve la URL de consentimiento de Google. No persiste nada:
// el intento vive solo en el state firmado.
func (m *Manager) InitiateAuth(ctx context.Context, tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	log := m.log(ctx, "initiate_auth", tenantID)

	authURL, err := m.initiate(ctx, tenantID)
	if err != nil {
		m.metrics.Flow("initiate", Kind(err))
		log.Info("initiate auth rejected", logger.ErrKind(Kind(err)), logger.Err(err))
		return "", err
	}
	m.metrics.Flow("initiate", "ok")
	log.Info("auth url issued")
	return authURL, nil
}

func (m *Manager) initiate(ctx context.Context, tenantID string) (string, error) {
	if tenantID == "" {
		return "", ErrInvalidInput
	}
	if m.tenants != nil {
		ok, err := m.tenants.TenantExists(ctx, tenantID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrTenantNotFound
		}
	}
	if _, err := m.store.GetByTenant(ctx, tenantID); err == nil {
		return "", ErrAlreadyLinked
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	return m.oauth.BuildAuthorizationURL(tenantID)
}

// CompleteAuth procesa el callback de Google. Todo o nada: ante cualquier
// falla no queda ninguna fila para el tenant.
func (m *Manager) CompleteAuth(ctx context.Context, code, stateToken string) (*repository.Credential, error) {
	cred, tenantID, err := m.complete(ctx, code, stateToken)
	log := m.log(ctx, "complete_auth", tenantID)
	if err != nil {
		m.metrics.Flow("complete", Kind(err))
		log.Warn("complete auth failed", logger.ErrKind(Kind(err)), logger.Err(err))
		return nil, err
	}
	m.metrics.Flow("complete", "ok")
	m.metrics.Transition(string(repository.StatusActive))
	log.Info("google account linked",
		logger.CredentialStatus(string(cred.Status)),
		logger.EnvelopeFP(fingerprint(cred.RefreshTokenCipher)),
	)
	return cred, nil
}

func (m *Manager) complete(ctx context.Context, code, stateToken string) (*repository.Credential, string, error) {
	claims, err := m.oauth.DecodeState(stateToken)
	if err != nil {
		return nil, "", err
	}
	tenantID := claims.TenantID

	// corte temprano: no gastar el code si el tenant ya está vinculado
	if _, err := m.store.GetByTenant(ctx, tenantID); err == nil {
		return nil, tenantID, ErrAlreadyLinked
	} else if !errors.Is(err, ErrNotFound) {
		return nil, tenantID, err
	}

	tokens, _, err := m.oauth.ExchangeCode(ctx, code, stateToken)
	if err != nil {
		return nil, tenantID, err
	}
	identity, err := m.oauth.FetchIdentity(ctx, tokens.AccessToken)
	if err != nil {
		return nil, tenantID, err
	}
	channel, err := m.oauth.FetchChannel(ctx, tokens.AccessToken)
	if err != nil {
		return nil, tenantID, err
	}

	accessC, err := m.cipher.Encrypt(tokens.AccessToken)
	if err != nil {
		return nil, tenantID, err
	}
	refreshC, err := m.cipher.Encrypt(tokens.RefreshToken)
	if err != nil {
		return nil, tenantID, err
	}

	now := m.now().UTC()
	cred := &repository.Credential{
		ID:                 uuid.NewString(),
		TenantID:           tenantID,
		ProviderEmail:      identity.Email,
		ProviderUserID:     identity.UserID,
		AccessTokenCipher:  accessC,
		RefreshTokenCipher: refreshC,
		TokenExpiresAt:     tokens.Expiry,
		Scope:              tokens.Scope,
		Status:             repository.StatusActive,
	}
	linked := &repository.LinkedChannel{
		TenantID:        tenantID,
		ChannelID:       channel.ID,
		Title:           channel.Title,
		URL:             channel.URL,
		ThumbnailURL:    channel.ThumbnailURL,
		SubscriberCount: channel.SubscriberCount,
		SyncStatus:      repository.SyncStatusSynced,
		LastSyncedAt:    &now,
	}
	if err := m.store.Create(ctx, cred, linked); err != nil {
		return nil, tenantID, err
	}
	return cred, tenantID, nil
}

// Get devuelve la vista de metadata (sin material de tokens).
func (m *Manager) Get(ctx context.Context, tenantID string) (*View, error) {
	cred, err := m.store.GetByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	ch, err := m.store.GetChannel(ctx, tenantID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return NewView(cred, ch), nil
}

// UpdateStatus es la transición administrativa. Destinos permitidos: REVOKED,
// EXPIRED y ERROR (con motivo). Desde REVOKED no se sale.
func (m *Manager) UpdateStatus(ctx context.Context, tenantID string, status repository.Status, reason string) (*View, error) {
	reason = strings.TrimSpace(reason)
	switch status {
	case repository.StatusRevoked, repository.StatusExpired:
	case repository.StatusError:
		if reason == "" {
			return nil, ErrInvalidInput
		}
	case repository.StatusActive, repository.StatusPending:
		// ACTIVE solo se alcanza con un refresh exitoso
		return nil, ErrInvalidTransition
	default:
		return nil, ErrInvalidInput
	}

	cred, err := m.store.UpdateStatus(ctx, tenantID, status, reason)
	log := m.log(ctx, "update_status", tenantID)
	if err != nil {
		log.Info("status update rejected", logger.CredentialStatus(string(status)), logger.ErrKind(Kind(err)))
		return nil, err
	}
	m.metrics.Transition(string(status))
	log.Info("status updated by admin", logger.CredentialStatus(string(status)))

	ch, err := m.store.GetChannel(ctx, tenantID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return NewView(cred, ch), nil
}

// Delete borra credencial y canal.
func (m *Manager) Delete(ctx context.Context, tenantID string) error {
	if err := m.store.Delete(ctx, tenantID); err != nil {
		return err
	}
	m.log(ctx, "delete", tenantID).Info("credential deleted")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
