package credentials

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tubelink/internal/cache"
	"github.com/dropDatabas3/tubelink/internal/domain/repository"
	"github.com/dropDatabas3/tubelink/internal/notify"
	"github.com/dropDatabas3/tubelink/internal/oauth/google"
	"github.com/dropDatabas3/tubelink/internal/oauth/state"
	"github.com/dropDatabas3/tubelink/internal/security/tokencipher"
	"github.com/dropDatabas3/tubelink/internal/store/memory"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeOAuth usa un state codec real y respuestas de Google programables.
type fakeOAuth struct {
	codec *state.Codec

	mu           sync.Mutex
	omitRefresh  bool
	identityErr  error
	channelErr   error
	channel      *google.Channel
	refreshErr   map[string]error         // por refresh token
	refreshDelay map[string]time.Duration // por refresh token
	rotate       bool
	// onRefresh corre al entrar a Refresh (simula otro writer durante la llamada)
	onRefresh func()

	refreshCalls atomic.Int32
	inflight     atomic.Int32
	maxInflight  atomic.Int32
}

func newFakeOAuth(t *testing.T) *fakeOAuth {
	t.Helper()
	codec, err := state.New([]byte("0123456789abcdef0123456789abcdef"), state.DefaultTTL, cache.NewMemory("state"))
	require.NoError(t, err)
	return &fakeOAuth{
		codec:        codec,
		channel:      &google.Channel{ID: "UC-1", Title: "Channel", URL: "https://www.youtube.com/channel/UC-1", SubscriberCount: 10},
		refreshErr:   map[string]error{},
		refreshDelay: map[string]time.Duration{},
	}
}

func (f *fakeOAuth) BuildAuthorizationURL(tenantID string) (string, error) {
	st, err := f.codec.Issue(tenantID)
	if err != nil {
		return "", err
	}
	return "https://accounts.example.com/o/oauth2/auth?access_type=offline&prompt=consent&state=" + st, nil
}

func (f *fakeOAuth) DecodeState(s string) (*state.Claims, error) { return f.codec.Parse(s) }

func (f *fakeOAuth) ExchangeCode(ctx context.Context, code, s string) (*google.Tokens, string, error) {
	claims, err := f.codec.Parse(s)
	if err != nil {
		return nil, "", err
	}
	if err := f.codec.Consume(ctx, claims); err != nil {
		return nil, claims.TenantID, err
	}
	if code != "good-code" {
		return nil, claims.TenantID, &google.ProviderError{Op: "exchange", Status: 400, Code: "invalid_grant"}
	}
	f.mu.Lock()
	omit := f.omitRefresh
	f.mu.Unlock()
	if omit {
		return nil, claims.TenantID, google.ErrMissingRefreshToken
	}
	return &google.Tokens{
		AccessToken:  "at-" + claims.TenantID,
		RefreshToken: "rt-" + claims.TenantID,
		Expiry:       t0.Add(time.Hour),
		Scope:        "openid youtube.upload",
	}, claims.TenantID, nil
}

func (f *fakeOAuth) FetchIdentity(ctx context.Context, at string) (*google.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.identityErr != nil {
		return nil, f.identityErr
	}
	return &google.Identity{Email: "owner@example.com", UserID: "sub-1"}, nil
}

func (f *fakeOAuth) FetchChannel(ctx context.Context, at string) (*google.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	ch := *f.channel
	return &ch, nil
}

func (f *fakeOAuth) Refresh(ctx context.Context, rt string) (*google.Tokens, error) {
	f.refreshCalls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		max := f.maxInflight.Load()
		if n <= max || f.maxInflight.CompareAndSwap(max, n) {
			break
		}
	}

	f.mu.Lock()
	delay := f.refreshDelay[rt]
	rerr := f.refreshErr[rt]
	rotate := f.rotate
	hook := f.onRefresh
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &google.ProviderError{Op: "refresh", Code: "transport", Err: ctx.Err()}
		}
	}
	if rerr != nil {
		return nil, rerr
	}
	out := &google.Tokens{AccessToken: "new-" + rt, RefreshToken: rt, Expiry: t0.Add(2 * time.Hour)}
	if rotate {
		out.RefreshToken = rt + "-rotated"
		out.Rotated = true
	}
	return out, nil
}

func (f *fakeOAuth) setRefreshErr(rt string, err error) {
	f.mu.Lock()
	f.refreshErr[rt] = err
	f.mu.Unlock()
}

func (f *fakeOAuth) setRefreshDelay(rt string, d time.Duration) {
	f.mu.Lock()
	f.refreshDelay[rt] = d
	f.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) CredentialFailed(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) all() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

// statusRecorder envuelve el store y registra cada UpdateStatus.
type statusRecorder struct {
	*memory.Store
	mu       sync.Mutex
	statuses []repository.Status
	// beforeUpdateTokens corre antes de delegar UpdateTokens (simula otro writer)
	beforeUpdateTokens func(tenantID string)
}

func (s *statusRecorder) UpdateStatus(ctx context.Context, tenantID string, st repository.Status, msg string) (*repository.Credential, error) {
	s.mu.Lock()
	s.statuses = append(s.statuses, st)
	s.mu.Unlock()
	return s.Store.UpdateStatus(ctx, tenantID, st, msg)
}

func (s *statusRecorder) UpdateStatusIfVersion(ctx context.Context, tenantID string, v int64, st repository.Status, msg string) (*repository.Credential, error) {
	s.mu.Lock()
	s.statuses = append(s.statuses, st)
	s.mu.Unlock()
	return s.Store.UpdateStatusIfVersion(ctx, tenantID, v, st, msg)
}

func (s *statusRecorder) UpdateTokens(ctx context.Context, tenantID string, v int64, upd repository.TokenUpdate) (*repository.Credential, error) {
	if s.beforeUpdateTokens != nil {
		s.beforeUpdateTokens(tenantID)
	}
	return s.Store.UpdateTokens(ctx, tenantID, v, upd)
}

func (s *statusRecorder) recorded() []repository.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.Status(nil), s.statuses...)
}

type env struct {
	mgr      *Manager
	store    *statusRecorder
	tenants  *memory.Tenants
	oauth    *fakeOAuth
	cipher   *tokencipher.Cipher
	notifier *recordingNotifier
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	c, err := tokencipher.New(testKey)
	require.NoError(t, err)
	e := &env{
		store:    &statusRecorder{Store: memory.New().WithClock(func() time.Time { return t0 })},
		tenants:  memory.NewTenants("store-1", "store-2", "a", "b", "c", "d"),
		oauth:    newFakeOAuth(t),
		cipher:   c,
		notifier: &recordingNotifier{},
	}
	e.mgr = New(Deps{
		Store:    e.store,
		Tenants:  e.tenants,
		OAuth:    e.oauth,
		Cipher:   e.cipher,
		Notifier: e.notifier,
		Clock:    func() time.Time { return t0 },
	}, opts)
	return e
}

// seed crea una credencial ACTIVE con tokens "at-<tenant>"/"rt-<tenant>".
func (e *env) seed(t *testing.T, tenantID string, expiresAt time.Time) {
	t.Helper()
	at, err := e.cipher.Encrypt("at-" + tenantID)
	require.NoError(t, err)
	rt, err := e.cipher.Encrypt("rt-" + tenantID)
	require.NoError(t, err)
	require.NoError(t, e.store.Create(context.Background(), &repository.Credential{
		ID:                 "id-" + tenantID,
		TenantID:           tenantID,
		ProviderEmail:      tenantID + "@example.com",
		ProviderUserID:     "sub-" + tenantID,
		AccessTokenCipher:  at,
		RefreshTokenCipher: rt,
		TokenExpiresAt:     expiresAt,
		Status:             repository.StatusActive,
	}, &repository.LinkedChannel{ChannelID: "UC-" + tenantID, SyncStatus: repository.SyncStatusSynced}))
}

func (e *env) get(t *testing.T, tenantID string) *repository.Credential {
	t.Helper()
	c, err := e.store.GetByTenant(context.Background(), tenantID)
	require.NoError(t, err)
	return c
}

var errUnavailable = &google.ProviderError{Op: "refresh", Status: 503, Code: "server_error", Err: errors.New("backend unavailable")}
