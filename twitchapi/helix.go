// Package twitchapi contains minimal helpers for the Twitch Helix and OAuth
// endpoints the relay needs: app tokens, chat token refresh and user profile
// lookup.
package twitchapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
)

// maxLoginsPerRequest is the Helix limit for repeated login parameters.
const maxLoginsPerRequest = 100

// HelixClient provides the Helix lookups used by the profile resolver.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

// User is the subset of a Helix user the relay keeps.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// GetUsers resolves logins to users, batching requests at the Helix limit.
// Unknown logins are absent from the result.
func (hc *HelixClient) GetUsers(ctx context.Context, logins []string) ([]User, error) {
	var out []User
	for start := 0; start < len(logins); start += maxLoginsPerRequest {
		end := min(start+maxLoginsPerRequest, len(logins))
		users, err := hc.getUsers(ctx, logins[start:end])
		if err != nil {
			return out, err
		}
		out = append(out, users...)
	}
	return out, nil
}

func (hc *HelixClient) getUsers(ctx context.Context, logins []string) ([]User, error) {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.twitch.tv/helix/users", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	for _, l := range logins {
		q.Add("login", l)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("helix users: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}
