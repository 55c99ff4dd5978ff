// Package google signs users in with Google OpenID Connect.
// Only a verified email leaves the package, everything else is issued by the auth service.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/nkiryanov/passwordless/internal/apperrors"
	"github.com/nkiryanov/passwordless/internal/models"
)

const Issuer = "https://accounts.google.com"

var Scopes = []string{oidc.ScopeOpenID, "profile", "email"}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type Provider struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// New discovers Google endpoints and keys
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("google client id and secret must be set")
	}

	provider, err := oidc.NewProvider(ctx, Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover google oidc provider: %w", err)
	}

	oauth := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       Scopes,
	}

	return NewWithVerifier(oauth, provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})), nil
}

// NewWithVerifier builds provider on already known endpoints and verifier
func NewWithVerifier(oauth *oauth2.Config, verifier *oidc.IDTokenVerifier) *Provider {
	return &Provider{
		oauth:    oauth,
		verifier: verifier,
	}
}

// AuthCodeURL returns url of Google consent page
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange trades authorization code for the user profile.
// Return apperrors.ErrEmailNotVerified if Google does not vouch for the email
func (p *Provider) Exchange(ctx context.Context, code string) (models.FederatedProfile, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return models.FederatedProfile{}, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return models.FederatedProfile{}, errors.New("no id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return models.FederatedProfile{}, fmt.Errorf("failed to verify id_token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return models.FederatedProfile{}, fmt.Errorf("failed to read id_token claims: %w", err)
	}

	if claims.Email == "" || !claims.EmailVerified {
		return models.FederatedProfile{}, apperrors.ErrEmailNotVerified
	}

	return models.FederatedProfile{
		Email:  claims.Email,
		Name:   claims.Name,
		Avatar: claims.Picture,
	}, nil
}
