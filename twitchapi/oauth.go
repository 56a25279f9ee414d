package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// RefreshResult represents the response from a refresh_token grant.
type RefreshResult struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// OAuth2 converts the result into an oauth2.Token. The space-joined scope is
// available as tok.Extra("scope").
func (r *RefreshResult) OAuth2() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		Expiry:       ComputeExpiry(r.ExpiresIn),
	}
	return tok.WithExtra(map[string]any{"scope": strings.Join(r.Scope, " ")})
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

// Refresher exchanges chat refresh tokens for new user tokens.
type Refresher struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

// RefreshToken exchanges a refresh token for a new access token.
func (r *Refresher) RefreshToken(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if r.ClientID == "" || r.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	form := url.Values{}
	form.Set("client_id", r.ClientID)
	form.Set("client_secret", r.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	var res RefreshResult
	if err := postForm(ctx, r.HTTPClient, form, &res); err != nil {
		return nil, fmt.Errorf("twitch refresh failed: %w", err)
	}
	if res.AccessToken == "" {
		return nil, errors.New("empty access_token in twitch refresh response")
	}
	return &res, nil
}

// Refresh matches oauth.RefreshFunc.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	res, err := r.RefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return res.OAuth2(), nil
}
