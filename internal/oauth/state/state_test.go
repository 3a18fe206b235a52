package state

import (
	"context"
	"strings"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tubelink/internal/cache"
)

var (
	testKey = []byte("0123456789abcdef0123456789abcdef")
	now     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func clockAt(t time.Time) func() time.Time { return func() time.Time { return t } }

func newCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New(testKey, DefaultTTL, cache.NewMemory("test"))
	require.NoError(t, err)
	return c.WithClock(clockAt(now))
}

func TestIssueParse_RoundTrip(t *testing.T) {
	c := newCodec(t)
	tok, err := c.Issue("store-42")
	require.NoError(t, err)

	claims, err := c.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "store-42", claims.TenantID)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, now, claims.IssuedAt.Time.UTC())
}

func TestParse_TTLBoundary(t *testing.T) {
	c := newCodec(t)

	old, err := c.WithClock(clockAt(now.Add(-5*time.Minute - time.Second))).Issue("t1")
	require.NoError(t, err)
	_, err = c.Parse(old)
	assert.ErrorIs(t, err, ErrExpiredState)

	fresh, err := c.WithClock(clockAt(now.Add(-4*time.Minute - 59*time.Second))).Issue("t1")
	require.NoError(t, err)
	claims, err := c.Parse(fresh)
	require.NoError(t, err)
	assert.Equal(t, "t1", claims.TenantID)
}

func TestParse_RejectsForeignOrTampered(t *testing.T) {
	c := newCodec(t)
	tok, err := c.Issue("t1")
	require.NoError(t, err)

	other, err := New([]byte(strings.Repeat("z", 32)), DefaultTTL, nil)
	require.NoError(t, err)
	_, err = other.WithClock(clockAt(now)).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidState)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	_, err = c.Parse(parts[0] + "." + parts[1] + "." + "AAAA" + parts[2][4:])
	assert.ErrorIs(t, err, ErrInvalidState)

	for _, bad := range []string{"", "garbage", "a.b.c"} {
		_, err = c.Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidState, bad)
	}
}

func TestParse_RejectsWrongAudience(t *testing.T) {
	c := newCodec(t)
	claims := Claims{
		TenantID: "t1",
		RegisteredClaims: jwtv5.RegisteredClaims{
			Audience:  jwtv5.ClaimStrings{"social-state"},
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(time.Minute)),
			ID:        "jti-1",
		},
	}
	tok, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(testKey)
	require.NoError(t, err)

	_, err = c.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestParse_LongExpDoesNotExtendLife(t *testing.T) {
	c := newCodec(t)
	claims := Claims{
		TenantID: "t1",
		RegisteredClaims: jwtv5.RegisteredClaims{
			Audience:  jwtv5.ClaimStrings{Audience},
			IssuedAt:  jwtv5.NewNumericDate(now.Add(-10 * time.Minute)),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(time.Hour)),
			ID:        "jti-2",
		},
	}
	tok, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(testKey)
	require.NoError(t, err)

	_, err = c.Parse(tok)
	assert.ErrorIs(t, err, ErrExpiredState)
}

func TestConsume_OneTimeUse(t *testing.T) {
	c := newCodec(t)
	tok, err := c.Issue("t1")
	require.NoError(t, err)
	claims, err := c.Parse(tok)
	require.NoError(t, err)

	require.NoError(t, c.Consume(context.Background(), claims))
	err = c.Consume(context.Background(), claims)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDeriveKey(t *testing.T) {
	master := strings.Repeat("ab", 32)
	a, err := DeriveKey(master)
	require.NoError(t, err)
	b, err := DeriveKey(master)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, strings.Repeat("\xab", 32), string(a))

	_, err = DeriveKey("not-hex")
	assert.Error(t, err)
}

func TestNew_RejectsShortKey(t *testing.T) {
	_, err := New([]byte("short"), DefaultTTL, nil)
	assert.Error(t, err)
}
