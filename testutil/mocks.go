package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

// MockTwitchServer creates a test server that mocks Twitch Helix and OAuth responses.
// Point a client at it with Transport().
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	Requests []*http.Request
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.Requests = append(m.Requests, r.Clone(r.Context()))
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// RequestCount returns how many requests hit path.
func (m *MockTwitchServer) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.Requests {
		if r.URL.Path == path {
			n++
		}
	}
	return n
}

// Transport returns a RoundTripper that sends every request to the mock,
// keeping the path and query.
func (m *MockTwitchServer) Transport() http.RoundTripper {
	return &rewriteTransport{host: strings.TrimPrefix(m.URL, "http://")}
}

// Client returns an *http.Client using Transport.
func (m *MockTwitchServer) Client() *http.Client { return &http.Client{Transport: m.Transport()} }

type rewriteTransport struct{ host string }

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = "http"
	r.URL.Host = t.host
	return http.DefaultTransport.RoundTrip(r)
}

func (m *MockTwitchServer) handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUsersResponse serves /helix/users from users, keyed by lowercase login
// with the display name as value. Only the requested logins are returned.
func (m *MockTwitchServer) MockUsersResponse(users map[string]string) {
	m.handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]string{}
		for i, login := range r.URL.Query()["login"] {
			if name, ok := users[strings.ToLower(login)]; ok {
				data = append(data, map[string]string{
					"id":           strings.Repeat("1", i+1),
					"login":        strings.ToLower(login),
					"display_name": name,
				})
			}
		}
		writeJSON(w, map[string]any{"data": data})
	})
}

// MockOAuthTokenResponse serves a client credentials grant on /oauth2/token.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	})
}

// MockRefreshResponse serves a refresh_token grant on /oauth2/token.
func (m *MockTwitchServer) MockRefreshResponse(accessToken, refreshToken string, expiresIn int, scopes ...string) {
	m.handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "refresh_token" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    expiresIn,
			"scope":         scopes,
			"token_type":    "bearer",
		})
	})
}

// MockError makes path answer with status and body.
func (m *MockTwitchServer) MockError(path string, status int, body string) {
	m.handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}
