package sso

import (
	"time"

	"github.com/atriumhq/atrium/pkg/workspaces"
)

// Protocol identifies the federation protocol a configuration speaks
type Protocol string

const (
	ProtocolSAML   Protocol = "saml"
	ProtocolOAuth2 Protocol = "oauth2"
	ProtocolOIDC   Protocol = "oidc"
)

// Valid reports whether the protocol is known
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolSAML, ProtocolOAuth2, ProtocolOIDC:
		return true
	}
	return false
}

// Config is a workspace's identity-provider configuration. A workspace may
// hold several configurations, distinguished by name.
type Config struct {
	ID          string   `json:"id"`
	WorkspaceID string   `json:"workspace_id"`
	Name        string   `json:"name"`
	Protocol    Protocol `json:"protocol"`
	Enabled     bool     `json:"enabled"`

	// AutoProvision enables JIT user creation on first login.
	AutoProvision bool            `json:"auto_provision"`
	DefaultRole   workspaces.Role `json:"default_role"`
	GroupMapping  []GroupMap      `json:"group_mapping,omitempty"`

	// EmailDomains restricts which accounts this configuration may
	// authenticate; empty means any domain.
	EmailDomains []string `json:"email_domains,omitempty"`

	AttributeMapping AttributeMap    `json:"attribute_mapping"`
	SAML             *SAMLSettings   `json:"saml,omitempty"`
	OAuth2           *OAuth2Settings `json:"oauth2,omitempty"`
	OIDC             *OIDCSettings   `json:"oidc,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SAMLSettings holds SAML 2.0 configuration
type SAMLSettings struct {
	EntityID          string `json:"entity_id"`
	SSOURL            string `json:"sso_url"`
	SLOURL            string `json:"slo_url,omitempty"`
	Certificate       string `json:"certificate"` // PEM encoded IdP certificate
	PrivateKey        string `json:"-"`           // never expose in JSON
	SignRequests      bool   `json:"sign_requests"`
	ForceAuthn        bool   `json:"force_authn"`
	AllowIdPInitiated bool   `json:"allow_idp_initiated"`
	NameIDFormat      string `json:"name_id_format,omitempty"`
}

// OAuth2Settings holds plain OAuth2 configuration
type OAuth2Settings struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"-"` // never expose in JSON
	AuthURL      string   `json:"auth_url"`
	TokenURL     string   `json:"token_url"`
	UserInfoURL  string   `json:"user_info_url"`
	Scopes       []string `json:"scopes"`
	RedirectURL  string   `json:"redirect_url"`
}

// OIDCSettings holds OpenID Connect configuration
type OIDCSettings struct {
	ClientID        string   `json:"client_id"`
	ClientSecret    string   `json:"-"` // never expose in JSON
	IssuerURL       string   `json:"issuer_url"`
	RedirectURL     string   `json:"redirect_url"`
	Scopes          []string `json:"scopes"`
	SkipIssuerCheck bool     `json:"skip_issuer_check,omitempty"`
}

// AttributeMap defines how IdP attributes map to user fields
type AttributeMap struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Groups   string `json:"groups,omitempty"`
}

// GroupMap maps an IdP group to a workspace role
type GroupMap struct {
	Group string          `json:"group"`
	Role  workspaces.Role `json:"role"`
}

// Identity is the normalized result of a successful IdP exchange
type Identity struct {
	ExternalID   string            `json:"external_id"`
	Email        string            `json:"email"`
	Username     string            `json:"username"`
	FullName     string            `json:"full_name,omitempty"`
	Groups       []string          `json:"groups,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	SessionIndex string            `json:"session_index,omitempty"`
	ConfigID     string            `json:"config_id"`
	WorkspaceID  string            `json:"workspace_id"`

	// SAML response correlation, consumed by the replay and solicitation
	// checks and never serialized.
	ResponseID   string `json:"-"`
	InResponseTo string `json:"-"`
}
