package server

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/goccy/go-json"

	"github.com/onnwee/relay/loop"
)

type pingStore struct{ err error }

func (p pingStore) Ping(context.Context) error { return p.err }
func (p pingStore) ConnectionStatus(context.Context, string) (string, error) {
	return "", p.err
}

func TestReadyzReady(t *testing.T) {
	env := newTestEnv(t, Options{})
	rr := env.request(http.MethodGet, "/readyz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ready" {
		t.Fatalf("expected status=ready, got %q", resp["status"])
	}
}

func TestReadyzNotReady(t *testing.T) {
	stopped := loop.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = stopped.Serve(ctx)

	tests := []struct {
		name   string
		loop   Runner
		store  Store
		failed string
	}{
		{"database down", newTestEnv(t, Options{}).loop, pingStore{err: errors.New("connection refused")}, "database"},
		{"loop stopped", stopped, pingStore{}, "loop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &testEnv{handler: NewRouter(NewHandlers(tt.loop, nil, nil, tt.store, nil), Options{})}
			rr := env.request(http.MethodGet, "/readyz", nil)
			if rr.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected 503, got %d", rr.Code)
			}
			var resp map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp["failed_check"] != tt.failed {
				t.Fatalf("expected failed_check=%s, got %q", tt.failed, resp["failed_check"])
			}
		})
	}
}
