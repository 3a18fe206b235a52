package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/tubelink/internal/domain/repository"
	"github.com/dropDatabas3/tubelink/internal/metrics"
	"github.com/dropDatabas3/tubelink/internal/notify"
	"github.com/dropDatabas3/tubelink/internal/oauth/google"
	"github.com/dropDatabas3/tubelink/internal/observability/logger"
)

// RefreshOne renueva el access token del tenant. Llamadas concurrentes para el
// mismo tenant dentro del proceso comparten un único refresh; entre procesos
// decide el chequeo de versión del store.
//
// El refresh compartido corre desacoplado del ctx del caller y acotado por
// TenantTimeout: si el caller se cancela recibe ctx.Err() y el refresh sigue
// para los demás. Solo una falla del refresh (incluido el timeout) deja la
// credencial ERROR (o REVOKED si Google dice que el grant ya no sirve).
func (m *Manager) RefreshOne(ctx context.Context, tenantID string) (*repository.Credential, error) {
	ch := m.sf.DoChan(tenantID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.TenantTimeout)
		defer cancel()
		return m.refresh(fctx, tenantID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*repository.Credential), nil
	}
}

func (m *Manager) refresh(ctx context.Context, tenantID string) (*repository.Credential, error) {
	log := m.log(ctx, "refresh", tenantID)

	cur, err := m.store.GetByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cur.Status == repository.StatusRevoked {
		m.metrics.Refresh(metrics.ResultSkipped)
		return nil, ErrRevoked
	}

	// se pasó la ventana sin refresh: queda registrado antes de intentar
	if cur.Status == repository.StatusActive && !cur.TokenExpiresAt.After(m.now()) {
		cur, err = m.store.UpdateStatus(ctx, tenantID, repository.StatusExpired, "")
		if err != nil {
			return nil, err
		}
		m.metrics.Transition(string(repository.StatusExpired))
		log.Info("credential expired before refresh", logger.Time("token_expires_at", cur.TokenExpiresAt))
	}

	refreshToken, err := m.cipher.Decrypt(cur.RefreshTokenCipher)
	if err != nil {
		log.Error("refresh token undecryptable", logger.EnvelopeFP(fingerprint(cur.RefreshTokenCipher)))
		return nil, m.fail(ctx, cur, err)
	}

	tokens, err := m.oauth.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, m.fail(ctx, cur, err)
	}

	accessC, err := m.cipher.Encrypt(tokens.AccessToken)
	if err != nil {
		return nil, m.fail(ctx, cur, err)
	}
	refreshC := cur.RefreshTokenCipher
	if tokens.Rotated {
		if refreshC, err = m.cipher.Encrypt(tokens.RefreshToken); err != nil {
			return nil, m.fail(ctx, cur, err)
		}
	}

	updated, err := m.store.UpdateTokens(ctx, tenantID, cur.Version, repository.TokenUpdate{
		AccessTokenCipher:  accessC,
		RefreshTokenCipher: refreshC,
		TokenExpiresAt:     tokens.Expiry,
		Scope:              tokens.Scope,
		RefreshedAt:        m.now().UTC(),
	})
	switch {
	case errors.Is(err, ErrVersionConflict):
		// otro writer ganó; su resultado es el vigente
		m.metrics.Refresh(metrics.ResultConflict)
		log.Info("refresh lost version race")
		return m.store.GetByTenant(ctx, tenantID)
	case errors.Is(err, ErrInvalidTransition):
		m.metrics.Refresh(metrics.ResultSkipped)
		return nil, ErrRevoked
	case err != nil:
		return nil, err
	}

	m.metrics.Refresh(metrics.ResultOK)
	if cur.Status != repository.StatusActive {
		m.metrics.Transition(string(repository.StatusActive))
	}
	log.Info("token refreshed",
		logger.Time("token_expires_at", updated.TokenExpiresAt),
		logger.Bool("rotated", tokens.Rotated),
	)
	return updated, nil
}

// fail registra la falla en la credencial y devuelve la causa. Una cancelación
// no es falla del proveedor: no se persiste nada. El registro es condicional a la
// versión leída; si otro writer ganó entretanto su resultado queda intacto.
func (m *Manager) fail(ctx context.Context, cur *repository.Credential, cause error) error {
	log := m.log(ctx, "refresh", cur.TenantID)
	if errors.Is(cause, context.Canceled) {
		m.metrics.Refresh(metrics.ResultSkipped)
		log.Info("refresh cancelled", logger.Err(cause))
		return fmt.Errorf("refresh %s: %w", cur.TenantID, cause)
	}

	status := repository.StatusError
	result := metrics.ResultError
	if google.IsTerminal(cause) {
		status = repository.StatusRevoked
		result = metrics.ResultRevoked
	}

	// el ctx del refresh puede estar vencido (timeout); el registro del error no
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	msg := truncate(cause.Error(), maxErrorMessage)
	_, err := m.store.UpdateStatusIfVersion(wctx, cur.TenantID, cur.Version, status, msg)
	switch {
	case errors.Is(err, ErrVersionConflict):
		m.metrics.Refresh(metrics.ResultConflict)
		log.Info("refresh failure superseded by another writer", logger.Err(cause))
		return fmt.Errorf("refresh %s: %w", cur.TenantID, cause)
	case err != nil:
		log.Error("could not record refresh failure", logger.Err(err))
	default:
		m.metrics.Transition(string(status))
		if nerr := m.notifier.CredentialFailed(wctx, notify.Event{
			TenantID: cur.TenantID,
			Status:   string(status),
			Reason:   msg,
			Email:    cur.ProviderEmail,
			At:       m.now().UTC(),
		}); nerr != nil {
			log.Warn("notify failed", logger.Err(nerr))
		}
	}
	m.metrics.Refresh(result)
	log.Warn("refresh failed",
		logger.ErrKind(Kind(cause)),
		logger.CredentialStatus(string(status)),
		logger.Err(cause),
	)
	return fmt.Errorf("refresh %s: %w", cur.TenantID, cause)
}

// AccessToken devuelve un access token utilizable para el pipeline de uploads.
// Si vence dentro de la ventana de refresh (o la credencial no está ACTIVE) refresca antes.
func (m *Manager) AccessToken(ctx context.Context, tenantID string) (string, time.Time, error) {
	cred, err := m.store.GetByTenant(ctx, tenantID)
	if err != nil {
		return "", time.Time{}, err
	}
	if cred.Status == repository.StatusRevoked {
		return "", time.Time{}, ErrRevoked
	}
	if cred.Status != repository.StatusActive || !cred.TokenExpiresAt.After(m.now().Add(m.opts.RefreshThreshold)) {
		if cred, err = m.RefreshOne(ctx, tenantID); err != nil {
			return "", time.Time{}, err
		}
	}
	at, err := m.cipher.Decrypt(cred.AccessTokenCipher)
	if err != nil {
		m.log(ctx, "access_token", tenantID).Error("access token undecryptable",
			logger.EnvelopeFP(fingerprint(cred.AccessTokenCipher)))
		return "", time.Time{}, err
	}
	return at, cred.TokenExpiresAt, nil
}

// SyncChannel relee la metadata del canal y actualiza el registro vinculado.
func (m *Manager) SyncChannel(ctx context.Context, tenantID string) (*repository.LinkedChannel, error) {
	existing, err := m.store.GetChannel(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	at, _, err := m.AccessToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	log := m.log(ctx, "sync_channel", tenantID)
	ch, err := m.oauth.FetchChannel(ctx, at)
	if err != nil {
		failed := *existing
		failed.SyncStatus = repository.SyncStatusFailed
		if uerr := m.store.UpdateChannel(ctx, &failed); uerr != nil {
			log.Error("could not mark channel sync failed", logger.Err(uerr))
		}
		log.Warn("channel sync failed", logger.ErrKind(Kind(err)), logger.Err(err))
		return nil, err
	}

	now := m.now().UTC()
	updated := &repository.LinkedChannel{
		TenantID:        tenantID,
		ChannelID:       ch.ID,
		Title:           ch.Title,
		URL:             ch.URL,
		ThumbnailURL:    ch.ThumbnailURL,
		SubscriberCount: ch.SubscriberCount,
		SyncStatus:      repository.SyncStatusSynced,
		LastSyncedAt:    &now,
	}
	if err := m.store.UpdateChannel(ctx, updated); err != nil {
		return nil, err
	}
	if ch.ID != existing.ChannelID {
		log.Warn("linked channel changed", logger.ChannelID(ch.ID), zap.String("previous_channel_id", existing.ChannelID))
	}
	return m.store.GetChannel(ctx, tenantID)
}
