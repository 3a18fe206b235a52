package credentials

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tubelink/internal/domain/repository"
	"github.com/dropDatabas3/tubelink/internal/oauth/google"
)

func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	st := u.Query().Get("state")
	require.NotEmpty(t, st)
	return st
}

func TestInitiateAuth(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := e.mgr.InitiateAuth(ctx, "nope")
		assert.ErrorIs(t, err, ErrTenantNotFound)
	})

	t.Run("empty tenant", func(t *testing.T) {
		_, err := e.mgr.InitiateAuth(ctx, "  ")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("issues url without persisting", func(t *testing.T) {
		authURL, err := e.mgr.InitiateAuth(ctx, "store-1")
		require.NoError(t, err)
		claims, err := e.oauth.DecodeState(stateFrom(t, authURL))
		require.NoError(t, err)
		assert.Equal(t, "store-1", claims.TenantID)
		assert.Equal(t, 0, e.store.Len())
	})

	t.Run("already linked", func(t *testing.T) {
		e.seed(t, "store-2", t0.Add(time.Hour))
		_, err := e.mgr.InitiateAuth(ctx, "store-2")
		assert.ErrorIs(t, err, ErrAlreadyLinked)
	})
}

func TestCompleteAuth_Links(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	authURL, err := e.mgr.InitiateAuth(ctx, "store-1")
	require.NoError(t, err)

	cred, err := e.mgr.CompleteAuth(ctx, "good-code", stateFrom(t, authURL))
	require.NoError(t, err)

	assert.Equal(t, "store-1", cred.TenantID)
	assert.Equal(t, repository.StatusActive, cred.Status)
	assert.Equal(t, "owner@example.com", cred.ProviderEmail)
	assert.Equal(t, "sub-1", cred.ProviderUserID)
	assert.True(t, cred.TokenExpiresAt.Equal(t0.Add(time.Hour)))
	assert.NotContains(t, cred.AccessTokenCipher, "at-store-1")

	at, err := e.cipher.Decrypt(cred.AccessTokenCipher)
	require.NoError(t, err)
	assert.Equal(t, "at-store-1", at)
	rt, err := e.cipher.Decrypt(cred.RefreshTokenCipher)
	require.NoError(t, err)
	assert.Equal(t, "rt-store-1", rt)

	ch, err := e.store.GetChannel(ctx, "store-1")
	require.NoError(t, err)
	assert.Equal(t, "UC-1", ch.ChannelID)
	assert.Equal(t, repository.SyncStatusSynced, ch.SyncStatus)
	require.NotNil(t, ch.LastSyncedAt)
}

func TestCompleteAuth_AllOrNothing(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fakeOAuth)
		code  string
		want  error
	}{
		{"missing refresh token", func(f *fakeOAuth) { f.omitRefresh = true }, "good-code", ErrMissingRefreshToken},
		{"no channel", func(f *fakeOAuth) { f.channelErr = google.ErrNoChannelFound }, "good-code", ErrNoChannelFound},
		{"identity incomplete", func(f *fakeOAuth) { f.identityErr = google.ErrIdentityIncomplete }, "good-code", ErrIdentityIncomplete},
		{"code rejected", func(f *fakeOAuth) {}, "bad-code", ErrProvider},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, Options{})
			tc.setup(e.oauth)
			ctx := context.Background()

			authURL, err := e.mgr.InitiateAuth(ctx, "store-1")
			require.NoError(t, err)
			_, err = e.mgr.CompleteAuth(ctx, tc.code, stateFrom(t, authURL))
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, 0, e.store.Len())
		})
	}
}

func TestCompleteAuth_RejectsStateReuseAndDoubleLink(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	first, err := e.mgr.InitiateAuth(ctx, "store-1")
	require.NoError(t, err)
	second, err := e.mgr.InitiateAuth(ctx, "store-1")
	require.NoError(t, err)

	_, err = e.mgr.CompleteAuth(ctx, "good-code", stateFrom(t, first))
	require.NoError(t, err)

	// el tenant ya quedó vinculado: el segundo intento corta antes del exchange
	_, err = e.mgr.CompleteAuth(ctx, "good-code", stateFrom(t, second))
	assert.ErrorIs(t, err, ErrAlreadyLinked)
	assert.Equal(t, 1, e.store.Len())

	require.NoError(t, e.mgr.Delete(ctx, "store-1"))
	_, err = e.mgr.CompleteAuth(ctx, "good-code", stateFrom(t, first))
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 0, e.store.Len())
}

func TestCompleteAuth_GarbageState(t *testing.T) {
	e := newEnv(t, Options{})
	_, err := e.mgr.CompleteAuth(context.Background(), "good-code", "not-a-state")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestGet_ViewHasNoTokenMaterial(t *testing.T) {
	e := newEnv(t, Options{})
	e.seed(t, "a", t0.Add(time.Hour))

	v, err := e.mgr.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", v.Status)
	require.NotNil(t, v.Channel)
	assert.Equal(t, "UC-a", v.Channel.ChannelID)

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "v1|")
	assert.NotContains(t, string(raw), "at-a")
	assert.NotContains(t, string(raw), "rt-a")

	_, err = e.mgr.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshOne_Success(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	e.seed(t, "a", t0.Add(2*time.Minute))
	before := e.get(t, "a")

	got, err := e.mgr.RefreshOne(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, repository.StatusActive, got.Status)
	assert.True(t, got.TokenExpiresAt.Equal(t0.Add(2*time.Hour)))
	require.NotNil(t, got.LastRefreshAt)
	assert.True(t, got.LastRefreshAt.Equal(t0))
	assert.Greater(t, got.Version, before.Version)

	at, err := e.cipher.Decrypt(got.AccessTokenCipher)
	require.NoError(t, err)
	assert.Equal(t, "new-rt-a", at)
	// sin rotación el refresh token cifrado queda intacto
	assert.Equal(t, before.RefreshTokenCipher, got.RefreshTokenCipher)
}

func TestRefreshOne_RotatedRefreshToken(t *testing.T) {
	e := newEnv(t, Options{})
	e.oauth.rotate = true
	e.seed(t, "a", t0.Add(2*time.Minute))

	got, err := e.mgr.RefreshOne(context.Background(), "a")
	require.NoError(t, err)
	rt, err := e.cipher.Decrypt(got.RefreshTokenCipher)
	require.NoError(t, err)
	assert.Equal(t, "rt-a-rotated", rt)
}

func TestRefreshOne_ProviderFailureMarksError(t *testing.T) {
	e := newEnv(t, Options{})
	e.seed(t, "a", t0.Add(2*time.Minute))
	e.oauth.setRefreshErr("rt-a", errUnavailable)

	_, err := e.mgr.RefreshOne(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)

	cur := e.get(t, "a")
	assert.Equal(t, repository.StatusError, cur.Status)
	assert.NotEmpty(t, cur.ErrorMessage)
	assert.NotContains(t, cur.ErrorMessage, "rt-a")

	events := e.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].TenantID)
	assert.Equal(t, "ERROR", events[0].Status)
	assert.Equal(t, "a@example.com", events[0].Email)

	// ERROR se recupera con el siguiente refresh exitoso
	e.oauth.setRefreshErr("rt-a", nil)
	got, err := e.mgr.RefreshOne(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusActive, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestRefreshOne_InvalidGrantRevokes(t *testing.T) {
	e := newEnv(t, Options{})
	e.seed(t, "a", t0.Add(2*time.Minute))
	e.oauth.setRefreshErr("rt-a", &google.ProviderError{Op: "refresh", Status: 400, Code: "invalid_grant", Message: "Token has been expired or revoked."})

	_, err := e.mgr.RefreshOne(context.Background(), "a")
	require.Error(t, err)
	assert.True(t, google.IsTerminal(err))
	assert.Equal(t, repository.StatusRevoked, e.get(t, "a").Status)

	// REVOKED es terminal: no se vuelve a llamar a Google
	calls := e.oauth.refreshCalls.Load()
	_, err = e.mgr.RefreshOne(context.Background(), "a")
	assert.ErrorIs(t, err, ErrRevoked)
	assert.Equal(t, calls, e.oauth.refreshCalls.Load())

	_, _, err = e.mgr.AccessToken(context.Background(), "a")
	assert.ErrorIs(t, err, ErrRevoked)
}

func TestRefreshOne_PastExpiryGoesThroughExpired(t *testing.T) {
	e := newEnv(t, Options{})
	e.seed(t, "a", t0.Add(-time.Minute))

	got, err := e.mgr.RefreshOne(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusActive, got.Status)
	assert.Equal(t, []repository.Status{repository.StatusExpired}, e.store.recorded())
}

func TestRefreshOne_VersionConflictKeepsWinner(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	e.seed(t, "a", t0.Add(2*time.Minute))

	winner, err := e.cipher.Encrypt("winner-token")
	require.NoError(t, err)
	var once sync.Once
	e.store.beforeUpdateTokens = func(tenantID string) {
		once.Do(func() {
			cur, err := e.store.Store.GetByTenant(ctx, tenantID)
			require.NoError(t, err)
			_, err = e.store.Store.UpdateTokens(ctx, tenantID, cur.Version, repository.TokenUpdate{
				AccessTokenCipher:  winner,
				RefreshTokenCipher: cur.RefreshTokenCipher,
				TokenExpiresAt:     t0.Add(3 * time.Hour),
				RefreshedAt:        t0,
			})
			require.NoError(t, err)
		})
	}

	got, err := e.mgr.RefreshOne(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, winner, got.AccessTokenCipher)
	assert.True(t, got.TokenExpiresAt.Equal(t0.Add(3*time.Hour)))
	assert.Empty(t, e.store.recorded(), "a lost race must not mark the credential failed")
}

func TestRefreshOne_FailureAfterLostRaceKeepsWinner(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	e.seed(t, "a", t0.Add(2*time.Minute))

	winner, err := e.cipher.Encrypt("winner-token")
	require.NoError(t, err)
	e.oauth.setRefreshErr("rt-a", errUnavailable)
	e.oauth.onRefresh = func() {
		// otra réplica refresca con éxito mientras esta espera a Google
		cur, err := e.store.Store.GetByTenant(ctx, "a")
		require.NoError(t, err)
		_, err = e.store.Store.UpdateTokens(ctx, "a", cur.Version, repository.TokenUpdate{
			AccessTokenCipher:  winner,
			RefreshTokenCipher: cur.RefreshTokenCipher,
			TokenExpiresAt:     t0.Add(3 * time.Hour),
			RefreshedAt:        t0,
		})
		require.NoError(t, err)
	}

	_, err = e.mgr.RefreshOne(ctx, "a")
	assert.ErrorIs(t, err, errUnavailable)

	got := e.get(t, "a")
	assert.Equal(t, repository.StatusActive, got.Status)
	assert.Equal(t, winner, got.AccessTokenCipher)
	assert.Empty(t, got.ErrorMessage)
	assert.Empty(t, e.notifier.all())
}

func TestRefreshOne_ConcurrentCallsShareOneRefresh(t *testing.T) {
	e := newEnv(t, Options{})
	e.seed(t, "a", t0.Add(2*time.Minute))
	e.oauth.setRefreshDelay("rt-a", 100*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.mgr.RefreshOne(context.Background(), "a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), e.oauth.refreshCalls.Load())
}

func TestRefreshOne_NotFound(t *testing.T) {
	e := newEnv(t, Options{})
	_, err := e.mgr.RefreshOne(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatus_AdminRules(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	e.seed(t, "a", t0.Add(time.Hour))

	_, err := e.mgr.UpdateStatus(ctx, "a", repository.StatusError, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.mgr.UpdateStatus(ctx, "a", repository.StatusActive, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.mgr.UpdateStatus(ctx, "a", repository.Status("BOGUS"), "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	v, err := e.mgr.UpdateStatus(ctx, "a", repository.StatusError, "manual check")
	require.NoError(t, err)
	assert.Equal(t, "ERROR", v.Status)
	assert.Equal(t, "manual check", v.ErrorMessage)

	v, err = e.mgr.UpdateStatus(ctx, "a", repository.StatusRevoked, "")
	require.NoError(t, err)
	assert.Equal(t, "REVOKED", v.Status)

	_, err = e.mgr.UpdateStatus(ctx, "a", repository.StatusExpired, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.mgr.UpdateStatus(ctx, "missing", repository.StatusRevoked, "")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, e.notifier.all())
}

func TestAccessToken(t *testing.T) {
	e := newEnv(t, Options{RefreshThreshold: 5 * time.Minute})
	ctx := context.Background()

	t.Run("fresh token returned as is", func(t *testing.T) {
		e.seed(t, "a", t0.Add(time.Hour))
		at, exp, err := e.mgr.AccessToken(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "at-a", at)
		assert.True(t, exp.Equal(t0.Add(time.Hour)))
		assert.Equal(t, int32(0), e.oauth.refreshCalls.Load())
	})

	t.Run("near expiry refreshes first", func(t *testing.T) {
		e.seed(t, "b", t0.Add(time.Minute))
		at, exp, err := e.mgr.AccessToken(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "new-rt-b", at)
		assert.True(t, exp.Equal(t0.Add(2*time.Hour)))
	})
}

func TestSyncChannel(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	e.seed(t, "a", t0.Add(time.Hour))

	e.oauth.channel = &google.Channel{ID: "UC-a", Title: "Renamed", URL: "https://www.youtube.com/@renamed", SubscriberCount: 99}
	ch, err := e.mgr.SyncChannel(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", ch.Title)
	assert.Equal(t, int64(99), ch.SubscriberCount)
	assert.Equal(t, repository.SyncStatusSynced, ch.SyncStatus)

	e.oauth.channelErr = errUnavailable
	_, err = e.mgr.SyncChannel(ctx, "a")
	require.Error(t, err)
	ch, err = e.store.GetChannel(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, repository.SyncStatusFailed, ch.SyncStatus)
	assert.Equal(t, "Renamed", ch.Title)
}

func TestKind(t *testing.T) {
	cases := map[string]error{
		"tenant_not_found":  ErrTenantNotFound,
		"already_linked":    ErrAlreadyLinked,
		"expired_state":     ErrExpiredState,
		"invalid_state":     ErrInvalidState,
		"provider":          errUnavailable,
		"provider_terminal": &google.ProviderError{Op: "refresh", Code: "invalid_grant"},
		"timeout":           context.DeadlineExceeded,
		"internal":          assert.AnError,
	}
	for want, err := range cases {
		assert.Equal(t, want, Kind(err), want)
	}
	assert.Equal(t, "", Kind(nil))
}
