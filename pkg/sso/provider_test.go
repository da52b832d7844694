package sso

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProviderSAML(t *testing.T) {
	factory := NewProviderFactory("https://atrium.example.com", 0, 0)

	p, err := factory.CreateProvider(context.Background(), samlTestConfig())
	require.NoError(t, err)
	assert.Equal(t, ProtocolSAML, p.Protocol())
}

func TestCreateProviderOAuth2(t *testing.T) {
	factory := NewProviderFactory("https://atrium.example.com", 0, 0)

	p, err := factory.CreateProvider(context.Background(), oauth2TestConfig())
	require.NoError(t, err)
	assert.Equal(t, ProtocolOAuth2, p.Protocol())
}

func TestCreateProviderDisabled(t *testing.T) {
	factory := NewProviderFactory("https://atrium.example.com", 0, 0)
	cfg := samlTestConfig()
	cfg.Enabled = false

	_, err := factory.CreateProvider(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrConfigDisabled)
}

func TestCreateProviderUnknownProtocol(t *testing.T) {
	factory := NewProviderFactory("https://atrium.example.com", 0, 0)
	cfg := samlTestConfig()
	cfg.Protocol = "kerberos"

	_, err := factory.CreateProvider(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestCreateProviderMissingSettings(t *testing.T) {
	factory := NewProviderFactory("https://atrium.example.com", 0, 0)
	cfg := samlTestConfig()
	cfg.SAML = nil

	_, err := factory.CreateProvider(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestProviderCacheReuse(t *testing.T) {
	factory := NewProviderFactory("https://atrium.example.com", 0, 0)
	cache, err := NewProviderCache(factory, 4)
	require.NoError(t, err)

	cfg := samlTestConfig()
	cfg.UpdatedAt = time.Now()

	first, err := cache.Get(context.Background(), cfg)
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestProviderCacheInvalidatesOnUpdate(t *testing.T) {
	factory := NewProviderFactory("https://atrium.example.com", 0, 0)
	cache, err := NewProviderCache(factory, 4)
	require.NoError(t, err)

	cfg := samlTestConfig()
	cfg.UpdatedAt = time.Now()

	first, err := cache.Get(context.Background(), cfg)
	require.NoError(t, err)

	// a config edit bumps UpdatedAt and forces a rebuild
	cfg.UpdatedAt = cfg.UpdatedAt.Add(time.Second)
	second, err := cache.Get(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestProviderCacheErrorNotCached(t *testing.T) {
	factory := NewProviderFactory("https://atrium.example.com", 0, 0)
	cache, err := NewProviderCache(factory, 4)
	require.NoError(t, err)

	cfg := samlTestConfig()
	cfg.Enabled = false
	_, err = cache.Get(context.Background(), cfg)
	require.ErrorIs(t, err, ErrConfigDisabled)

	cfg.Enabled = true
	_, err = cache.Get(context.Background(), cfg)
	assert.NoError(t, err)
}

func TestValidateOIDCSettings(t *testing.T) {
	valid := func() *OIDCSettings {
		return &OIDCSettings{
			ClientID:     "client-1",
			ClientSecret: "hunter2",
			IssuerURL:    "https://login.example.com",
			RedirectURL:  "https://atrium.example.com/sso/cfg-1/callback",
			Scopes:       []string{"openid", "profile", "email"},
		}
	}

	assert.NoError(t, ValidateOIDCSettings(valid()))
	assert.ErrorIs(t, ValidateOIDCSettings(nil), ErrConfigInvalid)

	s := valid()
	s.Scopes = []string{"profile"}
	assert.ErrorIs(t, ValidateOIDCSettings(s), ErrConfigInvalid)

	s = valid()
	s.IssuerURL = ""
	assert.ErrorIs(t, ValidateOIDCSettings(s), ErrConfigInvalid)
}
