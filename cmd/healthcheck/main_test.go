package main

import "testing"

func TestCheckURL(t *testing.T) {
	tests := []struct {
		addr string
		path string
		want string
	}{
		{":8080", "/healthz", "http://localhost:8080/healthz"},
		{"127.0.0.1:9000", "/readyz", "http://127.0.0.1:9000/readyz"},
	}
	for _, tt := range tests {
		if got := checkURL(tt.addr, tt.path); got != tt.want {
			t.Errorf("checkURL(%q, %q) = %q, want %q", tt.addr, tt.path, got, tt.want)
		}
	}
}

func TestAddrFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("RELAY_HTTP_ADDR", "")
	if got := addr(); got != ":8080" {
		t.Fatalf("expected default :8080, got %q", got)
	}
	t.Setenv("HTTP_ADDR", ":9090")
	if got := addr(); got != ":9090" {
		t.Fatalf("expected :9090, got %q", got)
	}
	t.Setenv("RELAY_HTTP_ADDR", ":7070")
	if got := addr(); got != ":7070" {
		t.Fatalf("expected RELAY_HTTP_ADDR to win, got %q", got)
	}
}
