// Package google coordina el flujo OAuth2 (authorization code + refresh) contra
// Google y las lecturas de identidad y canal de YouTube que necesita la vinculación.
package google

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/dropDatabas3/tubelink/internal/oauth/state"
)

const (
	ScopeYouTubeUpload   = "https://www.googleapis.com/auth/youtube.upload"
	ScopeYouTubeReadonly = "https://www.googleapis.com/auth/youtube.readonly"
	ScopeUserInfoEmail   = "https://www.googleapis.com/auth/userinfo.email"
	ScopeUserInfoProfile = "https://www.googleapis.com/auth/userinfo.profile"
	ScopeOpenID          = "openid"

	DefaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	DefaultChannelsURL = "https://www.googleapis.com/youtube/v3/channels"
)

// DefaultScopes son los scopes que pide la vinculación.
var DefaultScopes = []string{
	ScopeYouTubeUpload,
	ScopeYouTubeReadonly,
	ScopeUserInfoEmail,
	ScopeUserInfoProfile,
	ScopeOpenID,
}

// Config del cliente OAuth. Los endpoints vacíos toman los de Google.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
	ChannelsURL string

	HTTPTimeout time.Duration
}

// Tokens es el resultado de un exchange o refresh.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
	// Rotated: Google devolvió un refresh token distinto al que se usó.
	Rotated bool
}

// Identity es la cuenta de Google autorizada.
type Identity struct {
	Email  string
	UserID string
	Name   string
}

// Channel es el canal de YouTube de la cuenta.
type Channel struct {
	ID              string
	Title           string
	URL             string
	ThumbnailURL    string
	SubscriberCount int64
}

// Coordinator no guarda tokens: cada llamada recibe el token que necesita.
// Es seguro para uso concurrente.
type Coordinator struct {
	oauth       oauth2.Config
	codec       *state.Codec
	http        *http.Client
	userInfoURL string
	channelsURL string
	configured  bool
	now         func() time.Time
}

// New crea el coordinator. Si falta configuración no falla acá: las operaciones
// del flujo devuelven ErrConfiguration.
func New(cfg Config, codec *state.Codec) *Coordinator {
	endpoint := googleoauth.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	// Google acepta credenciales en el body; evita el auto-detect que hace dos requests
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Coordinator{
		oauth: oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			RedirectURL:  strings.TrimSpace(cfg.RedirectURL),
			Scopes:       append([]string(nil), scopes...),
			Endpoint:     endpoint,
		},
		codec:       codec,
		http:        &http.Client{Timeout: timeout},
		userInfoURL: firstNonEmpty(cfg.UserInfoURL, DefaultUserInfoURL),
		channelsURL: firstNonEmpty(cfg.ChannelsURL, DefaultChannelsURL),
		now:         time.Now,
	}
	c.configured = c.oauth.ClientID != "" && c.oauth.ClientSecret != "" && c.oauth.RedirectURL != "" && codec != nil
	return c
}

// WithHTTPClient reemplaza el cliente HTTP (tests con httptest).
func (c *Coordinator) WithHTTPClient(hc *http.Client) *Coordinator {
	cp := *c
	cp.http = hc
	return &cp
}

// WithClock reemplaza el reloj.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	cp := *c
	cp.now = now
	return &cp
}

// Configured indica si hay client id, secret y redirect URI.
func (c *Coordinator) Configured() bool { return c.configured }

// StateTTL devuelve la vida del state emitido.
func (c *Coordinator) StateTTL() time.Duration {
	if c.codec == nil {
		return state.DefaultTTL
	}
	return c.codec.TTL()
}

// ctx inyecta el cliente HTTP para las llamadas de x/oauth2.
func (c *Coordinator) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// BuildAuthorizationURL arma la URL de consentimiento con un state nuevo para tenantID.
// prompt=consent fuerza a Google a devolver refresh_token aunque ya haya autorizado antes.
func (c *Coordinator) BuildAuthorizationURL(tenantID string) (string, error) {
	if !c.configured {
		return "", ErrConfiguration
	}
	st, err := c.codec.Issue(tenantID)
	if err != nil {
		return "", err
	}
	return c.oauth.AuthCodeURL(st,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	), nil
}

// DecodeState valida el state sin consumirlo.
func (c *Coordinator) DecodeState(stateToken string) (*state.Claims, error) {
	if c.codec == nil {
		return nil, ErrConfiguration
	}
	return c.codec.Parse(stateToken)
}

// ExchangeCode valida y consume el state, y canjea el code por tokens.
// Devuelve el tenant que inició el flujo.
func (c *Coordinator) ExchangeCode(ctx context.Context, code, stateToken string) (*Tokens, string, error) {
	if !c.configured {
		return nil, "", ErrConfiguration
	}
	claims, err := c.codec.Parse(stateToken)
	if err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(code) == "" {
		return nil, claims.TenantID, &ProviderError{Op: "exchange", Code: "missing_code", Message: "authorization code missing"}
	}
	if err := c.codec.Consume(ctx, claims); err != nil {
		return nil, claims.TenantID, err
	}

	tok, err := c.oauth.Exchange(c.ctx(ctx), code)
	if err != nil {
		return nil, claims.TenantID, providerError("exchange", err)
	}
	if tok.RefreshToken == "" {
		return nil, claims.TenantID, ErrMissingRefreshToken
	}
	return c.tokens(tok, ""), claims.TenantID, nil
}

// Refresh canjea refreshToken por un access token nuevo.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if !c.configured {
		return nil, ErrConfiguration
	}
	if refreshToken == "" {
		return nil, ErrMissingRefreshToken
	}
	// token sin access => TokenSource hace el refresh grant directamente
	tok, err := c.oauth.TokenSource(c.ctx(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, providerError("refresh", err)
	}
	return c.tokens(tok, refreshToken), nil
}

func (c *Coordinator) tokens(tok *oauth2.Token, previousRefresh string) *Tokens {
	out := &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry.UTC(),
	}
	if s, ok := tok.Extra("scope").(string); ok {
		out.Scope = s
	}
	// sin expires_in se trata como vencido: el próximo scan lo refresca
	if tok.Expiry.IsZero() {
		out.Expiry = c.now().UTC()
	}
	if previousRefresh != "" {
		if out.RefreshToken == "" {
			out.RefreshToken = previousRefresh
		}
		out.Rotated = out.RefreshToken != previousRefresh
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
