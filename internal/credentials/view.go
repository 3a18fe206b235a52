package credentials

import (
	"time"

	"github.com/dropDatabas3/tubelink/internal/domain/repository"
	"github.com/dropDatabas3/tubelink/internal/security/tokencipher"
)

// View es la credencial sin material de tokens (ni plano ni cifrado).
type View struct {
	TenantID       string       `json:"tenant_id"`
	ProviderEmail  string       `json:"provider_email"`
	ProviderUserID string       `json:"provider_user_id"`
	Status         string       `json:"status"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	Scope          string       `json:"scope,omitempty"`
	TokenExpiresAt time.Time    `json:"token_expires_at"`
	LastRefreshAt  *time.Time   `json:"last_refresh_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Channel        *ChannelView `json:"channel,omitempty"`
}

type ChannelView struct {
	ChannelID       string     `json:"channel_id"`
	Title           string     `json:"title"`
	URL             string     `json:"url"`
	ThumbnailURL    string     `json:"thumbnail_url,omitempty"`
	SubscriberCount int64      `json:"subscriber_count"`
	SyncStatus      string     `json:"sync_status"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
}

func NewView(c *repository.Credential, ch *repository.LinkedChannel) *View {
	if c == nil {
		return nil
	}
	v := &View{
		TenantID:       c.TenantID,
		ProviderEmail:  c.ProviderEmail,
		ProviderUserID: c.ProviderUserID,
		Status:         string(c.Status),
		ErrorMessage:   c.ErrorMessage,
		Scope:          c.Scope,
		TokenExpiresAt: c.TokenExpiresAt,
		LastRefreshAt:  c.LastRefreshAt,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if ch != nil {
		v.Channel = NewChannelView(ch)
	}
	return v
}

func NewChannelView(ch *repository.LinkedChannel) *ChannelView {
	if ch == nil {
		return nil
	}
	return &ChannelView{
		ChannelID:       ch.ChannelID,
		Title:           ch.Title,
		URL:             ch.URL,
		ThumbnailURL:    ch.ThumbnailURL,
		SubscriberCount: ch.SubscriberCount,
		SyncStatus:      string(ch.SyncStatus),
		LastSyncedAt:    ch.LastSyncedAt,
	}
}

func fingerprint(envelope string) string { return tokencipher.Fingerprint(envelope) }
