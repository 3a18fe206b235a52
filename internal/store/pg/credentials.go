package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dropDatabas3/tubelink/internal/domain/repository"
)

const credentialColumns = `id::text, tenant_id, provider_email, provider_user_id,
	access_token_cipher, refresh_token_cipher, token_expires_at, scope, status,
	error_message, last_refresh_at, version, created_at, updated_at`

const channelColumns = `tenant_id, channel_id, title, url, thumbnail_url,
	subscriber_count, sync_status, last_synced_at, created_at, updated_at`

func scanCredential(row pgx.Row) (*repository.Credential, error) {
	var (
		c      repository.Credential
		status string
		errMsg *string
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.ProviderEmail, &c.ProviderUserID,
		&c.AccessTokenCipher, &c.RefreshTokenCipher, &c.TokenExpiresAt, &c.Scope, &status,
		&errMsg, &c.LastRefreshAt, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	c.Status = repository.Status(status)
	if errMsg != nil {
		c.ErrorMessage = *errMsg
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}

func nullIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Create inserta credencial + canal en una sola transacción.
func (s *Store) Create(ctx context.Context, cred *repository.Credential, channel *repository.LinkedChannel) error {
	if cred == nil || strings.TrimSpace(cred.TenantID) == "" {
		return repository.ErrInvalidInput
	}
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const qCred = `
		INSERT INTO google_credential (
			id, tenant_id, provider_email, provider_user_id,
			access_token_cipher, refresh_token_cipher, token_expires_at, scope,
			status, error_message, last_refresh_at, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1,$12,$12)
		RETURNING ` + credentialColumns

	created, err := scanCredential(tx.QueryRow(ctx, qCred,
		cred.ID, cred.TenantID, cred.ProviderEmail, cred.ProviderUserID,
		cred.AccessTokenCipher, cred.RefreshTokenCipher, cred.TokenExpiresAt.UTC(), cred.Scope,
		string(cred.Status), nullIfEmpty(cred.ErrorMessage), cred.LastRefreshAt, now,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrAlreadyLinked
		}
		return fmt.Errorf("insert google_credential: %w", err)
	}

	if channel != nil {
		const qChan = `
			INSERT INTO linked_channel (
				tenant_id, channel_id, title, url, thumbnail_url,
				subscriber_count, sync_status, last_synced_at, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`
		syncStatus := channel.SyncStatus
		if syncStatus == "" {
			syncStatus = repository.SyncStatusSynced
		}
		if _, err := tx.Exec(ctx, qChan,
			cred.TenantID, channel.ChannelID, channel.Title, channel.URL, channel.ThumbnailURL,
			channel.SubscriberCount, string(syncStatus), channel.LastSyncedAt, now,
		); err != nil {
			return fmt.Errorf("insert linked_channel: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	*cred = *created
	return nil
}

func (s *Store) GetByTenant(ctx context.Context, tenantID string) (*repository.Credential, error) {
	q := `SELECT ` + credentialColumns + ` FROM google_credential WHERE tenant_id = $1`
	return scanCredential(s.pool.QueryRow(ctx, q, tenantID))
}

func (s *Store) GetChannel(ctx context.Context, tenantID string) (*repository.LinkedChannel, error) {
	q := `SELECT ` + channelColumns + ` FROM linked_channel WHERE tenant_id = $1`
	var (
		ch   repository.LinkedChannel
		sync string
	)
	err := s.pool.QueryRow(ctx, q, tenantID).Scan(
		&ch.TenantID, &ch.ChannelID, &ch.Title, &ch.URL, &ch.ThumbnailURL,
		&ch.SubscriberCount, &sync, &ch.LastSyncedAt, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	ch.SyncStatus = repository.SyncStatus(sync)
	return &ch, nil
}

func (s *Store) ListActiveNearExpiry(ctx context.Context, now time.Time, within time.Duration) ([]repository.Credential, error) {
	q := `SELECT ` + credentialColumns + `
		FROM google_credential
		WHERE status = 'ACTIVE' AND token_expires_at <= $1
		ORDER BY token_expires_at, tenant_id`
	rows, err := s.pool.Query(ctx, q, now.Add(within).UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]repository.Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateTokens escribe ambos ciphers y el vencimiento en la misma sentencia,
// condicionado a la versión leída por el caller.
func (s *Store) UpdateTokens(ctx context.Context, tenantID string, expectedVersion int64, upd repository.TokenUpdate) (*repository.Credential, error) {
	if upd.AccessTokenCipher == "" || upd.RefreshTokenCipher == "" {
		return nil, repository.ErrInvalidInput
	}
	q := `
		UPDATE google_credential SET
			access_token_cipher  = $3,
			refresh_token_cipher = $4,
			token_expires_at     = $5,
			scope                = COALESCE(NULLIF($6, ''), scope),
			last_refresh_at      = $7,
			status               = 'ACTIVE',
			error_message        = NULL,
			version              = version + 1,
			updated_at           = $8
		WHERE tenant_id = $1 AND version = $2 AND status <> 'REVOKED'
		RETURNING ` + credentialColumns

	c, err := scanCredential(s.pool.QueryRow(ctx, q,
		tenantID, expectedVersion,
		upd.AccessTokenCipher, upd.RefreshTokenCipher, upd.TokenExpiresAt.UTC(), upd.Scope,
		upd.RefreshedAt.UTC(), s.now().UTC(),
	))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, s.explainMiss(ctx, tenantID, &expectedVersion)
	}
	return c, err
}

func (s *Store) UpdateStatus(ctx context.Context, tenantID string, status repository.Status, errorMessage string) (*repository.Credential, error) {
	return s.updateStatus(ctx, tenantID, nil, status, errorMessage)
}

// UpdateStatusIfVersion registra una falla solo si nadie escribió desde la lectura.
func (s *Store) UpdateStatusIfVersion(ctx context.Context, tenantID string, expectedVersion int64, status repository.Status, errorMessage string) (*repository.Credential, error) {
	return s.updateStatus(ctx, tenantID, &expectedVersion, status, errorMessage)
}

func (s *Store) updateStatus(ctx context.Context, tenantID string, expectedVersion *int64, status repository.Status, errorMessage string) (*repository.Credential, error) {
	if !status.Valid() {
		return nil, repository.ErrInvalidInput
	}
	if status == repository.StatusError && strings.TrimSpace(errorMessage) == "" {
		return nil, repository.ErrInvalidInput
	}
	// $5 NULL => sin chequeo de versión
	q := `
		UPDATE google_credential SET
			status        = $2,
			error_message = $3,
			version       = version + 1,
			updated_at    = $4
		WHERE tenant_id = $1 AND status <> 'REVOKED'
		  AND ($5::bigint IS NULL OR version = $5)
		RETURNING ` + credentialColumns

	c, err := scanCredential(s.pool.QueryRow(ctx, q,
		tenantID, string(status), nullIfEmpty(errorMessage), s.now().UTC(), expectedVersion))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, s.explainMiss(ctx, tenantID, expectedVersion)
	}
	return c, err
}

// explainMiss distingue por qué un UPDATE condicional no tocó filas.
func (s *Store) explainMiss(ctx context.Context, tenantID string, expectedVersion *int64) error {
	var (
		status  string
		version int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT status, version FROM google_credential WHERE tenant_id = $1`, tenantID,
	).Scan(&status, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	if expectedVersion != nil && version != *expectedVersion {
		return repository.ErrVersionConflict
	}
	return repository.ErrInvalidTransition
}

func (s *Store) UpdateChannel(ctx context.Context, channel *repository.LinkedChannel) error {
	if channel == nil || channel.TenantID == "" {
		return repository.ErrInvalidInput
	}
	const q = `
		UPDATE linked_channel SET
			channel_id       = $2,
			title            = $3,
			url              = $4,
			thumbnail_url    = $5,
			subscriber_count = $6,
			sync_status      = $7,
			last_synced_at   = $8,
			updated_at       = $9
		WHERE tenant_id = $1`
	tag, err := s.pool.Exec(ctx, q,
		channel.TenantID, channel.ChannelID, channel.Title, channel.URL, channel.ThumbnailURL,
		channel.SubscriberCount, string(channel.SyncStatus), channel.LastSyncedAt, s.now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete borra la credencial; linked_channel cae por ON DELETE CASCADE.
func (s *Store) Delete(ctx context.Context, tenantID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM google_credential WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ repository.CredentialRepository = (*Store)(nil)
