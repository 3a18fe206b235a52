// Package memory implementa repository.CredentialRepository y TenantRegistry en memoria.
// Útil para desarrollo y testing; misma semántica que el adapter de Postgres.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/tubelink/internal/domain/repository"
)

// Store guarda credenciales y canales indexados por tenantID.
type Store struct {
	mu          sync.RWMutex
	credentials map[string]repository.Credential
	channels    map[string]repository.LinkedChannel
	now         func() time.Time
}

// New crea un store vacío.
func New() *Store {
	return &Store{
		credentials: make(map[string]repository.Credential),
		channels:    make(map[string]repository.LinkedChannel),
		now:         time.Now,
	}
}

// WithClock reemplaza el reloj (tests).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Create(ctx context.Context, cred *repository.Credential, channel *repository.LinkedChannel) error {
	if cred == nil || strings.TrimSpace(cred.TenantID) == "" {
		return repository.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credentials[cred.TenantID]; ok {
		return repository.ErrAlreadyLinked
	}

	now := s.now().UTC()
	c := *cred
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Version = 1
	s.credentials[c.TenantID] = c
	*cred = c

	if channel != nil {
		ch := *channel
		ch.TenantID = c.TenantID
		ch.CreatedAt = now
		ch.UpdatedAt = now
		s.channels[c.TenantID] = ch
	}
	return nil
}

func (s *Store) GetByTenant(ctx context.Context, tenantID string) (*repository.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetChannel(ctx context.Context, tenantID string) (*repository.LinkedChannel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &ch, nil
}

func (s *Store) ListActiveNearExpiry(ctx context.Context, now time.Time, within time.Duration) ([]repository.Credential, error) {
	cutoff := now.Add(within)
	s.mu.RLock()
	out := make([]repository.Credential, 0)
	for _, c := range s.credentials {
		if c.Status != repository.StatusActive {
			continue
		}
		if c.TokenExpiresAt.After(cutoff) {
			continue
		}
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TokenExpiresAt.Equal(out[j].TokenExpiresAt) {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].TokenExpiresAt.Before(out[j].TokenExpiresAt)
	})
	return out, nil
}

func (s *Store) UpdateTokens(ctx context.Context, tenantID string, expectedVersion int64, upd repository.TokenUpdate) (*repository.Credential, error) {
	if upd.AccessTokenCipher == "" || upd.RefreshTokenCipher == "" {
		return nil, repository.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if c.Version != expectedVersion {
		return nil, repository.ErrVersionConflict
	}
	if c.Status.Terminal() {
		return nil, repository.ErrInvalidTransition
	}

	refreshed := upd.RefreshedAt.UTC()
	c.AccessTokenCipher = upd.AccessTokenCipher
	c.RefreshTokenCipher = upd.RefreshTokenCipher
	c.TokenExpiresAt = upd.TokenExpiresAt.UTC()
	if upd.Scope != "" {
		c.Scope = upd.Scope
	}
	c.LastRefreshAt = &refreshed
	c.Status = repository.StatusActive
	c.ErrorMessage = ""
	c.UpdatedAt = s.now().UTC()
	c.Version++
	s.credentials[tenantID] = c
	return &c, nil
}

func (s *Store) UpdateStatus(ctx context.Context, tenantID string, status repository.Status, errorMessage string) (*repository.Credential, error) {
	return s.updateStatus(tenantID, nil, status, errorMessage)
}

func (s *Store) UpdateStatusIfVersion(ctx context.Context, tenantID string, expectedVersion int64, status repository.Status, errorMessage string) (*repository.Credential, error) {
	return s.updateStatus(tenantID, &expectedVersion, status, errorMessage)
}

func (s *Store) updateStatus(tenantID string, expectedVersion *int64, status repository.Status, errorMessage string) (*repository.Credential, error) {
	if !status.Valid() {
		return nil, repository.ErrInvalidInput
	}
	if status == repository.StatusError && strings.TrimSpace(errorMessage) == "" {
		return nil, repository.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if expectedVersion != nil && c.Version != *expectedVersion {
		return nil, repository.ErrVersionConflict
	}
	if c.Status.Terminal() {
		return nil, repository.ErrInvalidTransition
	}
	c.Status = status
	c.ErrorMessage = errorMessage
	c.UpdatedAt = s.now().UTC()
	c.Version++
	s.credentials[tenantID] = c
	return &c, nil
}

func (s *Store) UpdateChannel(ctx context.Context, channel *repository.LinkedChannel) error {
	if channel == nil {
		return repository.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.channels[channel.TenantID]
	if !ok {
		return repository.ErrNotFound
	}
	ch := *channel
	ch.CreatedAt = prev.CreatedAt
	ch.UpdatedAt = s.now().UTC()
	s.channels[ch.TenantID] = ch
	return nil
}

func (s *Store) Delete(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[tenantID]; !ok {
		return repository.ErrNotFound
	}
	delete(s.credentials, tenantID)
	delete(s.channels, tenantID)
	return nil
}

// Len devuelve la cantidad de credenciales (tests).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.credentials)
}

// Tenants es un TenantRegistry estático.
type Tenants struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewTenants crea un registry con los IDs dados.
func NewTenants(ids ...string) *Tenants {
	t := &Tenants{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		t.ids[id] = struct{}{}
	}
	return t
}

// Add registra un tenant.
func (t *Tenants) Add(id string) {
	t.mu.Lock()
	t.ids[id] = struct{}{}
	t.mu.Unlock()
}

func (t *Tenants) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ids[tenantID]
	return ok, nil
}

var (
	_ repository.CredentialRepository = (*Store)(nil)
	_ repository.TenantRegistry       = (*Tenants)(nil)
)
