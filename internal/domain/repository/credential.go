package repository

import (
	"context"
	"time"
)

// Status es el estado del ciclo de vida de una credencial.
type Status string

const (
	// StatusPending existe solo como concepto: mientras el usuario autoriza no se
	// persiste ninguna fila, el estado vive en el state token.
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	// StatusExpired: el access token venció sin que corriera el refresh programado.
	StatusExpired Status = "EXPIRED"
	// StatusRevoked es terminal: no hay más refresh automático.
	StatusRevoked Status = "REVOKED"
	// StatusError: el último refresh falló; ErrorMessage siempre tiene la causa.
	StatusError Status = "ERROR"
)

// Valid indica si s es un estado conocido.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusExpired, StatusRevoked, StatusError:
		return true
	}
	return false
}

// Terminal indica si el estado no admite más transiciones.
func (s Status) Terminal() bool { return s == StatusRevoked }

// Credential es la cuenta de Google vinculada a un tenant, con tokens cifrados.
type Credential struct {
	ID                 string
	TenantID           string
	ProviderEmail      string
	ProviderUserID     string
	AccessTokenCipher  string
	RefreshTokenCipher string
	TokenExpiresAt     time.Time
	Scope              string
	Status             Status
	ErrorMessage       string
	LastRefreshAt      *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	// Version se incrementa en cada update; UpdateTokens es condicional a ella.
	Version int64
}

// SyncStatus es el estado de sincronización del canal vinculado.
type SyncStatus string

const (
	SyncStatusSynced SyncStatus = "SYNCED"
	SyncStatusStale  SyncStatus = "STALE"
	SyncStatusFailed SyncStatus = "FAILED"
)

// LinkedChannel es el canal de YouTube asociado 1:1 a la credencial.
type LinkedChannel struct {
	TenantID        string
	ChannelID       string
	Title           string
	URL             string
	ThumbnailURL    string
	SubscriberCount int64
	SyncStatus      SyncStatus
	LastSyncedAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TokenUpdate son los campos que escribe un refresh exitoso. Access cipher y
// expiración siempre viajan juntos.
type TokenUpdate struct {
	AccessTokenCipher  string
	RefreshTokenCipher string
	TokenExpiresAt     time.Time
	Scope              string
	RefreshedAt        time.Time
}

// CredentialRepository es el límite de persistencia de credenciales.
type CredentialRepository interface {
	// Create persiste credencial y canal en una sola transacción.
	// Retorna ErrAlreadyLinked si el tenant ya tiene credencial.
	Create(ctx context.Context, cred *Credential, channel *LinkedChannel) error

	// GetByTenant retorna ErrNotFound si el tenant no tiene credencial.
	GetByTenant(ctx context.Context, tenantID string) (*Credential, error)

	// GetChannel retorna el canal vinculado o ErrNotFound.
	GetChannel(ctx context.Context, tenantID string) (*LinkedChannel, error)

	// ListActiveNearExpiry lista credenciales ACTIVE con token_expires_at <= now+within,
	// ordenadas por expiración. Nunca devuelve PENDING, REVOKED ni ERROR.
	ListActiveNearExpiry(ctx context.Context, now time.Time, within time.Duration) ([]Credential, error)

	// UpdateTokens escribe los tokens nuevos si la versión coincide con expectedVersion;
	// deja la credencial ACTIVE y limpia ErrorMessage.
	// Retorna ErrVersionConflict si otro writer ganó, ErrNotFound si no existe.
	UpdateTokens(ctx context.Context, tenantID string, expectedVersion int64, upd TokenUpdate) (*Credential, error)

	// UpdateStatus cambia el estado. ERROR requiere errorMessage no vacío.
	// Retorna ErrInvalidTransition si la credencial está REVOKED.
	UpdateStatus(ctx context.Context, tenantID string, status Status, errorMessage string) (*Credential, error)

	// UpdateStatusIfVersion es UpdateStatus condicionado a expectedVersion, como
	// UpdateTokens. Retorna ErrVersionConflict si otro writer ganó.
	UpdateStatusIfVersion(ctx context.Context, tenantID string, expectedVersion int64, status Status, errorMessage string) (*Credential, error)

	// UpdateChannel reemplaza la metadata del canal vinculado.
	UpdateChannel(ctx context.Context, channel *LinkedChannel) error

	// Delete borra credencial y canal. Retorna ErrNotFound si no existe.
	Delete(ctx context.Context, tenantID string) error
}
