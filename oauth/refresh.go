// Package oauth keeps chat user tokens fresh. Tokens live in the oauth_tokens
// table under a provider key; the refresher wakes up with jitter and refreshes
// a token once its expiry falls within a configured window.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// TokenStore is the storage the refresher needs. *db.Store implements it.
type TokenStore interface {
	GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
	UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
}

// RefreshFunc performs the provider-specific refresh grant.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// Provider returns the oauth_tokens key of a chat server's user token.
func Provider(server string) string { return "twitch:" + server }

// Refresher refreshes one provider's token and reports every new access token.
type Refresher struct {
	Store    TokenStore
	Provider string
	Interval time.Duration
	Window   time.Duration
	Refresh  RefreshFunc
	// OnToken receives each refreshed token. It runs on the refresher goroutine.
	OnToken func(tok *oauth2.Token)
}

// Seed stores the configured tokens unless the store already holds a refresh
// token for provider. The seeded token is treated as expired so the first
// check refreshes it. It returns the access token to start with.
func Seed(ctx context.Context, store TokenStore, provider, access, refresh string) (string, error) {
	at, rt, _, _, err := store.GetOAuthToken(ctx, provider)
	if err != nil {
		return access, err
	}
	if rt != "" {
		if at == "" {
			at = access
		}
		return at, nil
	}
	if refresh == "" {
		return access, nil
	}
	return access, store.UpsertOAuthToken(ctx, provider, access, refresh, time.Now(), "")
}

func (r *Refresher) defaults() {
	if r.Interval <= 0 {
		r.Interval = 5 * time.Minute
	}
	if r.Window <= 0 {
		r.Window = 15 * time.Minute
	}
}

// Check refreshes the token if it is within the window. It reports whether a
// refresh happened.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	r.defaults()
	_, rt, exp, scope, err := r.Store.GetOAuthToken(ctx, r.Provider)
	if err != nil {
		return false, err
	}
	if rt == "" || time.Until(exp) > r.Window {
		return false, nil
	}
	if r.Refresh == nil {
		return false, errors.New("oauth: no refresh func")
	}

	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	tok, err := r.Refresh(ctx2, rt)
	cancel()
	if err != nil {
		return false, err
	}
	newRT := tok.RefreshToken
	if newRT == "" {
		newRT = rt
	}
	newScope, _ := tok.Extra("scope").(string)
	if newScope == "" {
		newScope = scope
	}
	if err := r.Store.UpsertOAuthToken(ctx, r.Provider, tok.AccessToken, newRT, tok.Expiry, strings.TrimSpace(newScope)); err != nil {
		return false, err
	}
	if r.OnToken != nil {
		r.OnToken(tok)
	}
	return true, nil
}

// Serve runs Check on a jittered interval until ctx is done.
func (r *Refresher) Serve(ctx context.Context) error {
	r.defaults()
	// Randomize the first check so several servers do not refresh together.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initial := time.Duration(rand.Int63n(int64(r.Interval/2) + 1))
	if _, err := r.Check(ctx); err != nil {
		slog.Warn("token refresh failed", slog.String("component", "oauth"), slog.String("provider", r.Provider), slog.Any("err", err))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(initial):
	}
	for {
		// Per-iteration jitter of +-20% of the interval.
		jitterRange := int64(r.Interval / 5)
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
		jitter := time.Duration(rand.Int63n(jitterRange*2+1) - jitterRange)
		next := max(r.Interval+jitter, r.Interval/2)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(next):
		}
		refreshed, err := r.Check(ctx)
		if err != nil {
			slog.Warn("token refresh failed", slog.String("component", "oauth"), slog.String("provider", r.Provider), slog.Any("err", err))
			continue
		}
		if refreshed {
			slog.Info("token refreshed", slog.String("component", "oauth"), slog.String("provider", r.Provider))
		}
	}
}
