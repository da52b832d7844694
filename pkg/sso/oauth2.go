package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2Provider implements plain OAuth2 login with a userinfo endpoint
type OAuth2Provider struct {
	cfg         *Config
	oauthConfig *oauth2.Config
	idpTimeout  time.Duration
}

// NewOAuth2Provider builds the adapter for an OAuth2 configuration
func NewOAuth2Provider(cfg *Config, idpTimeout time.Duration) (*OAuth2Provider, error) {
	settings := cfg.OAuth2
	if settings == nil {
		return nil, fmt.Errorf("%w: oauth2 settings required", ErrConfigInvalid)
	}

	return &OAuth2Provider{
		cfg: cfg,
		oauthConfig: &oauth2.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  settings.AuthURL,
				TokenURL: settings.TokenURL,
			},
			RedirectURL: settings.RedirectURL,
			Scopes:      settings.Scopes,
		},
		idpTimeout: idpTimeout,
	}, nil
}

// Protocol returns ProtocolOAuth2
func (p *OAuth2Provider) Protocol() Protocol { return ProtocolOAuth2 }

// BuildLoginURL returns the authorization endpoint redirect
func (p *OAuth2Provider) BuildLoginURL(state string) (string, string, error) {
	return p.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline), "", nil
}

// Exchange redeems the authorization code and fetches userinfo
func (p *OAuth2Provider) Exchange(ctx context.Context, input CallbackInput) (*Identity, error) {
	if input.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrAssertionInvalid)
	}

	ctx, cancel := context.WithTimeout(ctx, p.idpTimeout)
	defer cancel()

	token, err := p.oauthConfig.Exchange(ctx, input.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange: %v", ErrIdPUnreachable, err)
	}

	client := p.oauthConfig.Client(ctx, token)
	resp, err := client.Get(p.cfg.OAuth2.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo: %v", ErrIdPUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: userinfo status %d: %s", ErrIdPUnreachable, resp.StatusCode, body)
	}

	var userInfo map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("%w: userinfo is not JSON", ErrAssertionInvalid)
	}

	return mapClaims(p.cfg, userInfo, "")
}

// Validate checks the configuration without contacting the IdP
func (p *OAuth2Provider) Validate() error {
	settings := p.cfg.OAuth2
	switch {
	case settings.ClientID == "":
		return fmt.Errorf("%w: client_id is required", ErrConfigInvalid)
	case settings.ClientSecret == "":
		return fmt.Errorf("%w: client_secret is required", ErrConfigInvalid)
	case settings.AuthURL == "":
		return fmt.Errorf("%w: auth_url is required", ErrConfigInvalid)
	case settings.TokenURL == "":
		return fmt.Errorf("%w: token_url is required", ErrConfigInvalid)
	case settings.UserInfoURL == "":
		return fmt.Errorf("%w: user_info_url is required", ErrConfigInvalid)
	case settings.RedirectURL == "":
		return fmt.Errorf("%w: redirect_url is required", ErrConfigInvalid)
	case len(settings.Scopes) == 0:
		return fmt.Errorf("%w: scopes are required", ErrConfigInvalid)
	}
	return nil
}

// mapClaims applies the attribute mapping to a claim set, shared by the
// OAuth2 and OIDC adapters. fallbackID fills ExternalID when the mapped
// claim is absent.
func mapClaims(cfg *Config, claims map[string]interface{}, fallbackID string) (*Identity, error) {
	identity := &Identity{
		ConfigID:    cfg.ID,
		WorkspaceID: cfg.WorkspaceID,
		Attributes:  make(map[string]string),
	}

	for k, v := range claims {
		if str, ok := v.(string); ok {
			identity.Attributes[k] = str
		}
	}

	mapping := cfg.AttributeMapping
	identity.ExternalID = stringClaim(claims, mapping.UserID)
	identity.Username = stringClaim(claims, mapping.Username)
	identity.Email = stringClaim(claims, mapping.Email)
	identity.FullName = stringClaim(claims, mapping.FullName)
	if mapping.Groups != "" {
		identity.Groups = arrayClaim(claims, mapping.Groups)
	}

	if identity.ExternalID == "" {
		identity.ExternalID = fallbackID
	}
	if identity.Username == "" {
		identity.Username = identity.Email
	}

	if identity.ExternalID == "" {
		return nil, fmt.Errorf("%w: user id", ErrMissingAttribute)
	}
	if identity.Email == "" {
		return nil, fmt.Errorf("%w: email", ErrMissingAttribute)
	}

	return identity, nil
}

func stringClaim(claims map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	if str, ok := claims[key].(string); ok {
		return str
	}
	return ""
}

func arrayClaim(claims map[string]interface{}, key string) []string {
	if key == "" {
		return nil
	}
	arr, ok := claims[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	return out
}
