package sso

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCProvider implements OpenID Connect login
type OIDCProvider struct {
	cfg         *Config
	provider    *oidc.Provider
	verifier    *oidc.IDTokenVerifier
	oauthConfig *oauth2.Config
	idpTimeout  time.Duration
}

// NewOIDCProvider builds the adapter for an OIDC configuration. Discovery
// hits the issuer's well-known endpoint, so constructed providers should be
// cached.
func NewOIDCProvider(ctx context.Context, cfg *Config, idpTimeout time.Duration) (*OIDCProvider, error) {
	settings := cfg.OIDC
	if settings == nil {
		return nil, fmt.Errorf("%w: oidc settings required", ErrConfigInvalid)
	}

	discoveryCtx, cancel := context.WithTimeout(ctx, idpTimeout)
	defer cancel()

	provider, err := oidc.NewProvider(discoveryCtx, settings.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: discovery: %v", ErrIdPUnreachable, err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:        settings.ClientID,
		SkipIssuerCheck: settings.SkipIssuerCheck,
	})

	return &OIDCProvider{
		cfg:      cfg,
		provider: provider,
		verifier: verifier,
		oauthConfig: &oauth2.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  settings.RedirectURL,
			Scopes:       settings.Scopes,
		},
		idpTimeout: idpTimeout,
	}, nil
}

// Protocol returns ProtocolOIDC
func (p *OIDCProvider) Protocol() Protocol { return ProtocolOIDC }

// BuildLoginURL returns the authorization endpoint redirect
func (p *OIDCProvider) BuildLoginURL(state string) (string, string, error) {
	return p.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline), "", nil
}

// Exchange redeems the code, verifies the ID token, and maps its claims
func (p *OIDCProvider) Exchange(ctx context.Context, input CallbackInput) (*Identity, error) {
	if input.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrAssertionInvalid)
	}

	ctx, cancel := context.WithTimeout(ctx, p.idpTimeout)
	defer cancel()

	oauth2Token, err := p.oauthConfig.Exchange(ctx, input.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange: %v", ErrIdPUnreachable, err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing id_token", ErrAssertionInvalid)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: id token: %v", ErrAssertionInvalid, err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: claims: %v", ErrAssertionInvalid, err)
	}

	// the groups claim is often only served from userinfo
	if p.cfg.AttributeMapping.Groups != "" && len(arrayClaim(claims, p.cfg.AttributeMapping.Groups)) == 0 {
		if userInfo, err := p.fetchUserInfo(ctx, oauth2Token); err == nil {
			for k, v := range userInfo {
				if _, exists := claims[k]; !exists {
					claims[k] = v
				}
			}
		}
	}

	return mapClaims(p.cfg, claims, idToken.Subject)
}

func (p *OIDCProvider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]interface{}, error) {
	userInfo, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, err
	}
	var claims map[string]interface{}
	if err := userInfo.Claims(&claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Validate checks the configuration without contacting the IdP
func (p *OIDCProvider) Validate() error {
	return ValidateOIDCSettings(p.cfg.OIDC)
}

// ValidateOIDCSettings checks OIDC settings; exported so configurations can
// be validated before the discovery round trip.
func ValidateOIDCSettings(settings *OIDCSettings) error {
	if settings == nil {
		return fmt.Errorf("%w: oidc settings required", ErrConfigInvalid)
	}
	switch {
	case settings.ClientID == "":
		return fmt.Errorf("%w: client_id is required", ErrConfigInvalid)
	case settings.ClientSecret == "":
		return fmt.Errorf("%w: client_secret is required", ErrConfigInvalid)
	case settings.IssuerURL == "":
		return fmt.Errorf("%w: issuer_url is required", ErrConfigInvalid)
	case settings.RedirectURL == "":
		return fmt.Errorf("%w: redirect_url is required", ErrConfigInvalid)
	}
	hasOpenID := false
	for _, scope := range settings.Scopes {
		if scope == oidc.ScopeOpenID {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("%w: %q scope is required", ErrConfigInvalid, oidc.ScopeOpenID)
	}
	return nil
}
