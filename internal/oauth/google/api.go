package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

const maxBody = 1 << 20

type userInfoResponse struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

type thumbnail struct {
	URL string `json:"url"`
}

type channelsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title      string               `json:"title"`
			CustomURL  string               `json:"customUrl"`
			Thumbnails map[string]thumbnail `json:"thumbnails"`
		} `json:"snippet"`
		Statistics struct {
			SubscriberCount string `json:"subscriberCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// FetchIdentity lee email y sub de la cuenta autorizada (OpenID userinfo).
func (c *Coordinator) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	var ui userInfoResponse
	if err := c.getJSON(ctx, "userinfo", accessToken, c.userInfoURL, &ui); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ui.Email) == "" || strings.TrimSpace(ui.Sub) == "" {
		return nil, ErrIdentityIncomplete
	}
	return &Identity{Email: ui.Email, UserID: ui.Sub, Name: ui.Name}, nil
}

// FetchChannel lee el canal propio (mine=true). Sin items => ErrNoChannelFound.
func (c *Coordinator) FetchChannel(ctx context.Context, accessToken string) (*Channel, error) {
	u, err := url.Parse(c.channelsURL)
	if err != nil {
		return nil, fmt.Errorf("channels url: %w", err)
	}
	q := u.Query()
	q.Set("part", "snippet,statistics")
	q.Set("mine", "true")
	u.RawQuery = q.Encode()

	var cr channelsResponse
	if err := c.getJSON(ctx, "channels", accessToken, u.String(), &cr); err != nil {
		return nil, err
	}
	if len(cr.Items) == 0 || cr.Items[0].ID == "" {
		return nil, ErrNoChannelFound
	}
	it := cr.Items[0]

	ch := &Channel{
		ID:    it.ID,
		Title: it.Snippet.Title,
		URL:   "https://www.youtube.com/channel/" + it.ID,
	}
	if it.Snippet.CustomURL != "" {
		ch.URL = "https://www.youtube.com/" + it.Snippet.CustomURL
	}
	for _, size := range []string{"high", "medium", "default"} {
		if th, ok := it.Snippet.Thumbnails[size]; ok && th.URL != "" {
			ch.ThumbnailURL = th.URL
			break
		}
	}
	// oculto o ausente => 0
	if n, err := strconv.ParseInt(it.Statistics.SubscriberCount, 10, 64); err == nil {
		ch.SubscriberCount = n
	}
	return ch, nil
}

func (c *Coordinator) getJSON(ctx context.Context, op, accessToken, rawURL string, out any) error {
	if accessToken == "" {
		return &ProviderError{Op: op, Code: "missing_token"}
	}
	client := c.oauth.Client(c.ctx(ctx), &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &ProviderError{Op: op, Code: "transport", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &ProviderError{Op: op, Status: resp.StatusCode, Code: "transport", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(op, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ProviderError{Op: op, Status: resp.StatusCode, Code: "invalid_response", Err: err}
	}
	return nil
}

// apiError entiende los dos formatos de Google: OAuth ({error, error_description})
// y APIs ({error: {code, message, status}}).
func apiError(op string, status int, body []byte) error {
	pe := &ProviderError{Op: op, Status: status, Code: httpCode(status)}

	var oauthErr struct {
		Error            json.RawMessage `json:"error"`
		ErrorDescription string          `json:"error_description"`
	}
	if json.Unmarshal(body, &oauthErr) != nil || len(oauthErr.Error) == 0 {
		return pe
	}
	var code string
	if json.Unmarshal(oauthErr.Error, &code) == nil {
		pe.Code = code
		pe.Message = oauthErr.ErrorDescription
		return pe
	}
	var apiErr struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	if json.Unmarshal(oauthErr.Error, &apiErr) == nil {
		if apiErr.Status != "" {
			pe.Code = strings.ToLower(apiErr.Status)
		}
		pe.Message = apiErr.Message
	}
	return pe
}
