package sso

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CallbackInput carries the protocol-specific material arriving at the
// callback endpoint.
type CallbackInput struct {
	// Code is the authorization code (OAuth2/OIDC).
	Code string
	// SAMLResponse is the base64-encoded response document (SAML).
	SAMLResponse string
}

// Provider is a protocol adapter for one IdP configuration
type Provider interface {
	Protocol() Protocol

	// BuildLoginURL returns the IdP redirect for a new login. For SAML the
	// second return value is the AuthnRequest id, needed to match the
	// response's InResponseTo; other protocols return "".
	BuildLoginURL(state string) (url string, requestID string, err error)

	// Exchange turns the callback material into a normalized identity.
	Exchange(ctx context.Context, input CallbackInput) (*Identity, error)

	// Validate checks the underlying configuration without network calls.
	Validate() error
}

// ProviderFactory builds protocol adapters from configurations
type ProviderFactory struct {
	baseURL    string
	idpTimeout time.Duration
	clockSkew  time.Duration
}

// NewProviderFactory creates a factory. baseURL is this service's external
// URL, used for SP entity ids and callback endpoints. clockSkew is the
// tolerance applied to SAML assertion validity windows.
func NewProviderFactory(baseURL string, idpTimeout, clockSkew time.Duration) *ProviderFactory {
	if idpTimeout == 0 {
		idpTimeout = 5 * time.Second
	}
	if clockSkew == 0 {
		clockSkew = 90 * time.Second
	}
	return &ProviderFactory{baseURL: baseURL, idpTimeout: idpTimeout, clockSkew: clockSkew}
}

// CreateProvider builds the adapter for cfg. OIDC configurations perform
// issuer discovery, which is a network call; callers should go through a
// ProviderCache.
func (f *ProviderFactory) CreateProvider(ctx context.Context, cfg *Config) (Provider, error) {
	if !cfg.Enabled {
		return nil, ErrConfigDisabled
	}
	switch cfg.Protocol {
	case ProtocolSAML:
		if cfg.SAML == nil {
			return nil, fmt.Errorf("%w: saml settings required", ErrConfigInvalid)
		}
		return NewSAMLProvider(cfg, f.baseURL, f.clockSkew)
	case ProtocolOAuth2:
		if cfg.OAuth2 == nil {
			return nil, fmt.Errorf("%w: oauth2 settings required", ErrConfigInvalid)
		}
		return NewOAuth2Provider(cfg, f.idpTimeout)
	case ProtocolOIDC:
		if cfg.OIDC == nil {
			return nil, fmt.Errorf("%w: oidc settings required", ErrConfigInvalid)
		}
		return NewOIDCProvider(ctx, cfg, f.idpTimeout)
	default:
		return nil, fmt.Errorf("%w: unsupported protocol %q", ErrConfigInvalid, cfg.Protocol)
	}
}

// ProviderCache memoizes built providers. Entries are keyed by config id
// and update time, so editing a configuration naturally invalidates its
// cached adapter.
type ProviderCache struct {
	factory *ProviderFactory
	cache   *lru.Cache[string, Provider]
}

// NewProviderCache creates a cache holding up to size adapters
func NewProviderCache(factory *ProviderFactory, size int) (*ProviderCache, error) {
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[string, Provider](size)
	if err != nil {
		return nil, err
	}
	return &ProviderCache{factory: factory, cache: cache}, nil
}

func cacheKey(cfg *Config) string {
	return fmt.Sprintf("%s@%d", cfg.ID, cfg.UpdatedAt.UnixNano())
}

// Get returns the adapter for cfg, building it on miss
func (c *ProviderCache) Get(ctx context.Context, cfg *Config) (Provider, error) {
	key := cacheKey(cfg)
	if p, ok := c.cache.Get(key); ok {
		return p, nil
	}
	p, err := c.factory.CreateProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, p)
	return p, nil
}
