package twitchapi

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/relay/testutil"
)

func TestComputeExpiry(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    time.Duration
	}{
		{"positive", 3600, time.Hour},
		{"zero defaults to an hour", 0, 60 * time.Minute},
		{"negative defaults to an hour", -5, 60 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := time.Until(ComputeExpiry(tt.seconds))
			if got < tt.want-time.Second || got > tt.want+time.Second {
				t.Errorf("ComputeExpiry(%d) in %v, want ~%v", tt.seconds, got, tt.want)
			}
		})
	}
}

func TestRefresher_Refresh(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockRefreshResponse("new-access", "new-refresh", 14400, "chat:read", "chat:edit")

	r := &Refresher{ClientID: "c", ClientSecret: "s", HTTPClient: mock.Client()}
	tok, err := r.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if tok.AccessToken != "new-access" || tok.RefreshToken != "new-refresh" {
		t.Errorf("Refresh() = %+v", tok)
	}
	if scope, _ := tok.Extra("scope").(string); scope != "chat:read chat:edit" {
		t.Errorf("scope = %q", scope)
	}
	if time.Until(tok.Expiry) < 3*time.Hour {
		t.Errorf("expiry too soon: %v", tok.Expiry)
	}
}

func TestRefresher_Errors(t *testing.T) {
	r := &Refresher{ClientID: "c", ClientSecret: "s"}
	if _, err := r.RefreshToken(context.Background(), ""); err == nil {
		t.Error("expected error for empty refresh token")
	}

	mock := testutil.NewMockTwitchServer(t)
	mock.MockError("/oauth2/token", http.StatusBadRequest, `{"message":"Invalid refresh token"}`)
	r.HTTPClient = mock.Client()
	_, err := r.RefreshToken(context.Background(), "revoked")
	if err == nil || !strings.Contains(err.Error(), "Invalid refresh token") {
		t.Errorf("RefreshToken() error = %v", err)
	}
}
