// Package state firma y valida el parámetro state del flujo OAuth de Google.
//
// El state es un JWT HS256 de vida corta que transporta el tenant que inició el
// flujo. No se persiste nada mientras el usuario autoriza: el token es el único
// estado del intento (PENDING implícito).
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/dropDatabas3/tubelink/internal/cache"
)

// Audience es el aud esperado para los state tokens de vinculación.
const Audience = "google-link-state"

// DefaultTTL es la vida máxima de un state.
const DefaultTTL = 5 * time.Minute

const (
	hkdfInfo     = "tubelink/oauth-state"
	replayPrefix = "oauth_state:"
	minKeyLength = 32
)

var (
	ErrInvalidState = errors.New("invalid oauth state")
	ErrExpiredState = errors.New("oauth state expired")
)

// Claims del state token.
type Claims struct {
	TenantID string `json:"tid"`
	jwtv5.RegisteredClaims
}

// Codec emite y valida state tokens. Es inmutable después de New.
type Codec struct {
	key    []byte
	ttl    time.Duration
	now    func() time.Time
	replay cache.Client
}

// New crea un Codec. replay puede ser nil (sin protección contra reuso).
func New(key []byte, ttl time.Duration, replay cache.Client) (*Codec, error) {
	if len(key) < minKeyLength {
		return nil, fmt.Errorf("state: signing key must be at least %d bytes", minKeyLength)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{key: key, ttl: ttl, now: time.Now, replay: replay}, nil
}

// WithClock reemplaza el reloj (tests).
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// TTL devuelve la vida configurada del state.
func (c *Codec) TTL() time.Duration { return c.ttl }

// DeriveKey deriva la clave de firma desde la clave maestra de cifrado (hex) con HKDF-SHA256.
// La clave derivada nunca coincide con la que cifra tokens.
func DeriveKey(encryptionKeyHex string) ([]byte, error) {
	master, err := hex.DecodeString(strings.TrimSpace(encryptionKeyHex))
	if err != nil || len(master) == 0 {
		return nil, fmt.Errorf("state: invalid master key")
	}
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(hkdfInfo)), out); err != nil {
		return nil, fmt.Errorf("state: hkdf: %w", err)
	}
	return out, nil
}

// Issue firma un state nuevo para tenantID.
func (c *Codec) Issue(tenantID string) (string, error) {
	if strings.TrimSpace(tenantID) == "" {
		return "", fmt.Errorf("%w: empty tenant", ErrInvalidState)
	}
	now := c.now().UTC()
	claims := Claims{
		TenantID: tenantID,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Audience:  jwtv5.ClaimStrings{Audience},
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(c.key)
}

// Parse valida firma, audiencia y edad del state.
// Retorna ErrExpiredState si pasaron más de TTL desde iat, ErrInvalidState en cualquier otro caso.
func (c *Codec) Parse(token string) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidState)
	}
	claims := &Claims{}
	_, err := jwtv5.ParseWithClaims(token, claims,
		func(*jwtv5.Token) (any, error) { return c.key, nil },
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}),
		jwtv5.WithAudience(Audience),
		jwtv5.WithIssuedAt(),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, ErrExpiredState
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.TenantID == "" || claims.IssuedAt == nil || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing claims", ErrInvalidState)
	}
	// la edad manda sobre exp: un exp firmado más largo no extiende la vida
	if c.now().Sub(claims.IssuedAt.Time) > c.ttl {
		return nil, ErrExpiredState
	}
	return claims, nil
}

// Consume marca el state como usado. Un segundo Consume del mismo jti falla con ErrInvalidState.
func (c *Codec) Consume(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ID == "" {
		return ErrInvalidState
	}
	if c.replay == nil {
		return nil
	}
	ttl := c.ttl
	if claims.ExpiresAt != nil {
		if rem := claims.ExpiresAt.Time.Sub(c.now()); rem > 0 && rem < ttl {
			ttl = rem
		}
	}
	ok, err := c.replay.SetNX(ctx, replayPrefix+claims.ID, claims.TenantID, ttl+time.Second)
	if err != nil {
		return fmt.Errorf("state replay guard: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: already used", ErrInvalidState)
	}
	return nil
}
