package sso

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atriumhq/atrium/pkg/audit"
	"github.com/atriumhq/atrium/pkg/identity"
	"github.com/atriumhq/atrium/pkg/observability"
	"github.com/atriumhq/atrium/pkg/workspaces"
)

// ConfigSource loads SSO configurations for the engine
type ConfigSource interface {
	Get(ctx context.Context, id string) (*Config, error)
	// WorkspaceSSOEnabled reports whether the owning workspace accepts
	// federated logins. A workspace admin turning the flag off halts
	// logins through every configuration in the workspace.
	WorkspaceSSOEnabled(ctx context.Context, workspaceID string) (bool, error)
}

// ProviderSource resolves the protocol adapter for a configuration.
// *ProviderCache is the production implementation.
type ProviderSource interface {
	Get(ctx context.Context, cfg *Config) (Provider, error)
}

// Engine drives the federation login flow: start, IdP round trip, callback
// validation, and JIT provisioning.
type Engine struct {
	configs     ConfigSource
	providers   ProviderSource
	tracker     *RequestTracker
	provisioner *Provisioner
	audit       audit.Logger
	metrics     *observability.Metrics
}

// NewEngine creates the federation engine. metrics may be nil.
func NewEngine(configs ConfigSource, providers ProviderSource, tracker *RequestTracker, provisioner *Provisioner, auditLogger audit.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		configs:     configs,
		providers:   providers,
		tracker:     tracker,
		provisioner: provisioner,
		audit:       auditLogger,
		metrics:     metrics,
	}
}

// loginConfig resolves a configuration for the login path. Both the
// per-configuration flag and the workspace-level flag must be on.
func (e *Engine) loginConfig(ctx context.Context, configID string) (*Config, error) {
	cfg, err := e.configs.Get(ctx, configID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, ErrConfigDisabled
	}
	enabled, err := e.configs.WorkspaceSSOEnabled(ctx, cfg.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, ErrConfigDisabled
	}
	return cfg, nil
}

// StartResult is the outcome of initiating a login
type StartResult struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// LoginResult is the outcome of a completed federation login
type LoginResult struct {
	User        *identity.User
	WorkspaceID string
	Role        workspaces.Role
	Protocol    Protocol
	RedirectURI string
}

// StartLogin builds the IdP redirect for a configuration and records the
// in-flight request.
func (e *Engine) StartLogin(ctx context.Context, configID, redirectURI string) (*StartResult, error) {
	cfg, err := e.loginConfig(ctx, configID)
	if err != nil {
		return nil, err
	}

	provider, err := e.providers.Get(ctx, cfg)
	if err != nil {
		return nil, err
	}

	state := uuid.NewString()
	authURL, requestID, err := provider.BuildLoginURL(state)
	if err != nil {
		return nil, err
	}

	if err := e.tracker.Begin(ctx, state, &LoginRequest{
		ConfigID:      cfg.ID,
		WorkspaceID:   cfg.WorkspaceID,
		SAMLRequestID: requestID,
		RedirectURI:   redirectURI,
	}); err != nil {
		return nil, err
	}

	audit.Record(ctx, e.audit, &audit.Event{
		EventType:   audit.EventTypeSSOLoginInitiated,
		Status:      audit.EventStatusSuccess,
		WorkspaceID: cfg.WorkspaceID,
		Metadata:    map[string]interface{}{"config_id": cfg.ID, "protocol": string(cfg.Protocol)},
	})
	return &StartResult{AuthURL: authURL, State: state}, nil
}

// CompleteLogin validates the callback and provisions the user. state may
// be empty only for SAML IdP-initiated responses, and only when the
// configuration allows them.
func (e *Engine) CompleteLogin(ctx context.Context, configID, state string, input CallbackInput) (*LoginResult, error) {
	started := time.Now()
	cfg, err := e.loginConfig(ctx, configID)
	if err != nil {
		return nil, err
	}

	result, err := e.completeLogin(ctx, cfg, state, input)
	e.observe(cfg.Protocol, time.Since(started), err)
	if err != nil {
		audit.Record(ctx, e.audit, &audit.Event{
			EventType:   audit.EventTypeSSOLoginRejected,
			Status:      audit.EventStatusDenied,
			WorkspaceID: cfg.WorkspaceID,
			Reason:      err.Error(),
			Metadata:    map[string]interface{}{"config_id": cfg.ID},
		})
		return nil, err
	}

	audit.Record(ctx, e.audit, &audit.Event{
		EventType:   audit.EventTypeSSOLoginCompleted,
		Status:      audit.EventStatusSuccess,
		UserID:      result.User.ID,
		WorkspaceID: cfg.WorkspaceID,
		Metadata:    map[string]interface{}{"config_id": cfg.ID, "protocol": string(cfg.Protocol)},
	})
	return result, nil
}

func (e *Engine) completeLogin(ctx context.Context, cfg *Config, state string, input CallbackInput) (*LoginResult, error) {
	var req *LoginRequest
	if state != "" {
		var err error
		req, err = e.tracker.Consume(ctx, state)
		if err != nil {
			return nil, err
		}
		if req.ConfigID != cfg.ID {
			return nil, ErrStateMismatch
		}
	}

	provider, err := e.providers.Get(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ident, err := provider.Exchange(ctx, input)
	e.countIdP(cfg.Protocol, err)
	if err != nil {
		return nil, err
	}

	if cfg.Protocol == ProtocolSAML {
		if err := e.checkSAMLResponse(ctx, cfg, req, ident); err != nil {
			return nil, err
		}
	} else if req == nil {
		// OAuth2 and OIDC logins are always SP-initiated
		return nil, ErrStateMismatch
	}

	provisioned, err := e.provisioner.Provision(ctx, cfg, ident)
	if err != nil {
		return nil, err
	}

	result := &LoginResult{
		User:        provisioned.User,
		WorkspaceID: cfg.WorkspaceID,
		Role:        provisioned.Role,
		Protocol:    cfg.Protocol,
	}
	if req != nil {
		result.RedirectURI = req.RedirectURI
	}
	return result, nil
}

// checkSAMLResponse applies replay and solicitation policy to a validated
// assertion.
func (e *Engine) checkSAMLResponse(ctx context.Context, cfg *Config, req *LoginRequest, ident *Identity) error {
	if ident.ResponseID != "" {
		if err := e.tracker.MarkAssertion(ctx, ident.ResponseID); err != nil {
			return err
		}
	}

	if req == nil {
		// unsolicited response
		if cfg.SAML == nil || !cfg.SAML.AllowIdPInitiated {
			return ErrUnsolicited
		}
		if ident.InResponseTo != "" {
			// a response to a request we never issued
			return ErrStateMismatch
		}
		return nil
	}

	if req.SAMLRequestID != "" && ident.InResponseTo != req.SAMLRequestID {
		return fmt.Errorf("%w: InResponseTo does not match request", ErrStateMismatch)
	}
	return nil
}

// Metadata returns SP metadata for a SAML configuration
func (e *Engine) Metadata(ctx context.Context, configID string) ([]byte, error) {
	cfg, err := e.configs.Get(ctx, configID)
	if err != nil {
		return nil, err
	}
	if cfg.Protocol != ProtocolSAML {
		return nil, fmt.Errorf("%w: metadata only exists for saml", ErrConfigInvalid)
	}
	provider, err := e.providers.Get(ctx, cfg)
	if err != nil {
		return nil, err
	}
	samlProvider, ok := provider.(*SAMLProvider)
	if !ok {
		return nil, fmt.Errorf("%w: metadata only exists for saml", ErrConfigInvalid)
	}
	return samlProvider.Metadata()
}

// ValidateConfig checks a configuration without any IdP round trip. Used by
// the configuration API as a dry run before save.
func ValidateConfig(cfg *Config) error {
	if !cfg.Protocol.Valid() {
		return fmt.Errorf("%w: unknown protocol %q", ErrConfigInvalid, cfg.Protocol)
	}
	if cfg.Name == "" {
		return fmt.Errorf("%w: name is required", ErrConfigInvalid)
	}
	if cfg.DefaultRole != "" && (!cfg.DefaultRole.Valid() || cfg.DefaultRole == workspaces.RoleOwner) {
		return fmt.Errorf("%w: bad default role %q", ErrConfigInvalid, cfg.DefaultRole)
	}
	for _, mapping := range cfg.GroupMapping {
		if !mapping.Role.Valid() || mapping.Role == workspaces.RoleOwner {
			return fmt.Errorf("%w: bad mapped role %q for group %q", ErrConfigInvalid, mapping.Role, mapping.Group)
		}
	}

	switch cfg.Protocol {
	case ProtocolSAML:
		p := &SAMLProvider{cfg: cfg}
		if cfg.SAML == nil {
			return fmt.Errorf("%w: saml settings required", ErrConfigInvalid)
		}
		return p.Validate()
	case ProtocolOAuth2:
		if cfg.OAuth2 == nil {
			return fmt.Errorf("%w: oauth2 settings required", ErrConfigInvalid)
		}
		p := &OAuth2Provider{cfg: cfg}
		return p.Validate()
	case ProtocolOIDC:
		return ValidateOIDCSettings(cfg.OIDC)
	}
	return nil
}

func (e *Engine) observe(protocol Protocol, elapsed time.Duration, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrIdPUnreachable):
		outcome = "idp_error"
	default:
		outcome = "rejected"
	}
	e.metrics.SSOLoginsTotal.WithLabelValues(string(protocol), outcome).Inc()
	e.metrics.SSOLoginDuration.WithLabelValues(string(protocol)).Observe(elapsed.Seconds())
}

func (e *Engine) countIdP(protocol Protocol, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.metrics.IdPRequestsTotal.WithLabelValues(string(protocol), outcome).Inc()
}
