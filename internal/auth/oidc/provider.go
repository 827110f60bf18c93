// Package oidc implements OpenID Connect sign-in. It handles provider
// discovery, the authorization code exchange, ID token verification, and
// mapping ID token claims to an Identity.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/routedesk/routedesk/internal/config"
	"golang.org/x/oauth2"
)

// Identity is the signed-in user as described by the ID token.
type Identity struct {
	Subject string
	Email   string
	Name    string
	Login   string // preferred_username, or the email when absent
	Groups  []string
}

// claimSource is satisfied by *oidc.IDToken.
type claimSource interface {
	Claims(v interface{}) error
}

// Provider wraps a discovered OIDC provider
type Provider struct {
	verifier   *oidc.IDTokenVerifier
	config     *oauth2.Config
	provider   *oidc.Provider
	groupClaim string
	admins     []string
}

// NewProvider discovers the issuer named in cfg. ctx bounds the discovery
// request.
func NewProvider(ctx context.Context, cfg *config.OIDCConfig) (*Provider, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("OIDC is not enabled")
	}

	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}

	if cfg.ClientID == "" {
		return nil, fmt.Errorf("OIDC client ID is required")
	}

	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("OIDC client secret is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if !slices.Contains(scopes, oidc.ScopeOpenID) {
		scopes = append([]string{oidc.ScopeOpenID}, scopes...)
	}

	return &Provider{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		provider:   provider,
		groupClaim: cfg.GroupClaimName,
		admins:     cfg.AdminGroups,
	}, nil
}

// AuthURL returns the authorization URL the browser is redirected to
func (p *Provider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Authenticate exchanges the authorization code, verifies the returned ID
// token, and extracts the caller's identity.
func (p *Provider) Authenticate(ctx context.Context, code string) (*Identity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("token response has no id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	return p.identity(idToken)
}

// IsAdmin reports whether any of the identity's groups is an admin group.
func (p *Provider) IsAdmin(id *Identity) bool {
	for _, g := range id.Groups {
		if slices.Contains(p.admins, g) {
			return true
		}
	}
	return false
}

func (p *Provider) identity(src claimSource) (*Identity, error) {
	var claims struct {
		Sub               string `json:"sub"`
		Email             string `json:"email"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := src.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	if claims.Sub == "" {
		return nil, fmt.Errorf("ID token missing 'sub' claim")
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("ID token missing 'email' claim")
	}

	id := &Identity{
		Subject: claims.Sub,
		Email:   claims.Email,
		Name:    claims.Name,
		Login:   claims.PreferredUsername,
		Groups:  groups(src, p.groupClaim),
	}
	if id.Name == "" {
		id.Name = id.Email
	}
	if id.Login == "" {
		id.Login = id.Email
	}
	return id, nil
}

// groups reads the named claim and returns its string values. claimName is
// typically "groups", "roles", or "memberOf" depending on the IdP. A missing
// claim yields nil.
func groups(src claimSource, claimName string) []string {
	if claimName == "" {
		return nil
	}

	var raw map[string]interface{}
	if err := src.Claims(&raw); err != nil {
		return nil
	}

	switch v := raw[claimName].(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}
