package api

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/atriumhq/atrium/pkg/httputil"
	"github.com/atriumhq/atrium/pkg/middleware"
	"github.com/atriumhq/atrium/pkg/sso"
	"github.com/atriumhq/atrium/pkg/tokens"
	"github.com/atriumhq/atrium/pkg/workspaces"
)

// SSOHandlers serves SSO configuration management and the federation login
// endpoints the IdP talks to.
type SSOHandlers struct {
	engine     *sso.Engine
	storage    *sso.Storage
	tokens     *tokens.Service
	workspaces *workspaces.Service
}

// NewSSOHandlers creates the SSO handler group
func NewSSOHandlers(engine *sso.Engine, storage *sso.Storage, tokenSvc *tokens.Service, workspaceSvc *workspaces.Service) *SSOHandlers {
	return &SSOHandlers{engine: engine, storage: storage, tokens: tokenSvc, workspaces: workspaceSvc}
}

// RegisterRoutes registers configuration routes (authenticated) and the
// federation endpoints (public, the IdP round trip carries its own proof).
func (h *SSOHandlers) RegisterRoutes(router *mux.Router, auth *middleware.Authenticator) {
	protected := func(handler http.HandlerFunc) http.Handler {
		return auth.Handler(handler)
	}

	router.Handle("/v1/workspaces/{id}/sso", protected(h.createConfig)).Methods("POST")
	router.Handle("/v1/workspaces/{id}/sso", protected(h.listConfigs)).Methods("GET")
	router.Handle("/v1/workspaces/{id}/sso/validate", protected(h.validateConfig)).Methods("POST")
	router.Handle("/v1/workspaces/{id}/sso/{config_id}", protected(h.getConfig)).Methods("GET")
	router.Handle("/v1/workspaces/{id}/sso/{config_id}", protected(h.updateConfig)).Methods("PUT")
	router.Handle("/v1/workspaces/{id}/sso/{config_id}", protected(h.deleteConfig)).Methods("DELETE")

	router.HandleFunc("/sso/{config_id}/login", h.startLogin).Methods("GET")
	router.HandleFunc("/sso/{config_id}/acs", h.samlACS).Methods("POST")
	router.HandleFunc("/sso/{config_id}/callback", h.oauthCallback).Methods("GET")
	router.HandleFunc("/sso/{config_id}/metadata", h.metadata).Methods("GET")
}

// configInput is the write shape for configurations. Secret material is
// accepted on input but never echoed back; responses use sso.Config, whose
// secret fields are excluded from JSON.
type configInput struct {
	Name             string           `json:"name"`
	Protocol         string           `json:"protocol"`
	Enabled          *bool            `json:"enabled,omitempty"`
	AutoProvision    bool             `json:"auto_provision"`
	DefaultRole      string           `json:"default_role,omitempty"`
	EmailDomains     []string         `json:"email_domains,omitempty"`
	GroupMapping     []sso.GroupMap   `json:"group_mapping,omitempty"`
	AttributeMapping sso.AttributeMap `json:"attribute_mapping"`
	SAML             *samlInput       `json:"saml,omitempty"`
	OAuth2           *oauth2Input     `json:"oauth2,omitempty"`
	OIDC             *oidcInput       `json:"oidc,omitempty"`
}

type samlInput struct {
	sso.SAMLSettings
	PrivateKey string `json:"private_key,omitempty"`
}

type oauth2Input struct {
	sso.OAuth2Settings
	ClientSecret string `json:"client_secret,omitempty"`
}

type oidcInput struct {
	sso.OIDCSettings
	ClientSecret string `json:"client_secret,omitempty"`
}

// toConfig builds an sso.Config. prev, when non-nil, supplies secret
// material omitted from the request so updates need not resend secrets.
func (in *configInput) toConfig(workspaceID string, prev *sso.Config) *sso.Config {
	cfg := &sso.Config{
		WorkspaceID:      workspaceID,
		Name:             in.Name,
		Protocol:         sso.Protocol(in.Protocol),
		Enabled:          true,
		AutoProvision:    in.AutoProvision,
		DefaultRole:      workspaces.Role(in.DefaultRole),
		EmailDomains:     in.EmailDomains,
		GroupMapping:     in.GroupMapping,
		AttributeMapping: in.AttributeMapping,
	}
	if in.Enabled != nil {
		cfg.Enabled = *in.Enabled
	}
	if in.SAML != nil {
		settings := in.SAML.SAMLSettings
		settings.PrivateKey = in.SAML.PrivateKey
		if settings.PrivateKey == "" && prev != nil && prev.SAML != nil {
			settings.PrivateKey = prev.SAML.PrivateKey
		}
		cfg.SAML = &settings
	}
	if in.OAuth2 != nil {
		settings := in.OAuth2.OAuth2Settings
		settings.ClientSecret = in.OAuth2.ClientSecret
		if settings.ClientSecret == "" && prev != nil && prev.OAuth2 != nil {
			settings.ClientSecret = prev.OAuth2.ClientSecret
		}
		cfg.OAuth2 = &settings
	}
	if in.OIDC != nil {
		settings := in.OIDC.OIDCSettings
		settings.ClientSecret = in.OIDC.ClientSecret
		if settings.ClientSecret == "" && prev != nil && prev.OIDC != nil {
			settings.ClientSecret = prev.OIDC.ClientSecret
		}
		cfg.OIDC = &settings
	}
	return cfg
}

// requireAdmin checks the caller administers the workspace in the path
func (h *SSOHandlers) requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	authCtx := middleware.GetAuthContext(r)
	workspaceID := mux.Vars(r)["id"]

	role, err := h.workspaces.MemberRole(r.Context(), workspaceID, authCtx.UserID)
	if errors.Is(err, workspaces.ErrNotFound) || (err == nil && !role.AtLeast(workspaces.RoleAdmin)) {
		httputil.WriteForbidden(w)
		return "", false
	}
	if err != nil {
		httputil.WriteInternalError(w)
		return "", false
	}
	return workspaceID, true
}

func writeSSOError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sso.ErrConfigNotFound):
		httputil.WriteNotFound(w, "sso configuration not found")
	case errors.Is(err, sso.ErrNameTaken):
		httputil.WriteConflict(w, "configuration name already in use")
	case errors.Is(err, sso.ErrProtocolTaken):
		httputil.WriteConflict(w, "workspace already has a configuration for this protocol")
	case errors.Is(err, sso.ErrConfigInvalid):
		httputil.WriteValidationError(w, err.Error())
	case errors.Is(err, sso.ErrConfigDisabled):
		httputil.WriteErrorCode(w, http.StatusForbidden, "sso configuration is disabled", "sso_disabled")
	default:
		httputil.WriteInternalError(w)
	}
}

func (h *SSOHandlers) createConfig(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var in configInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	cfg := in.toConfig(workspaceID, nil)
	if err := sso.ValidateConfig(cfg); err != nil {
		writeSSOError(w, err)
		return
	}
	if err := h.storage.Create(r.Context(), cfg); err != nil {
		writeSSOError(w, err)
		return
	}
	httputil.WriteCreated(w, cfg)
}

func (h *SSOHandlers) listConfigs(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	configs, err := h.storage.ListByWorkspace(r.Context(), workspaceID)
	if err != nil {
		writeSSOError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"configurations": configs})
}

// getWorkspaceConfig loads a configuration and checks it belongs to the
// workspace in the path
func (h *SSOHandlers) getWorkspaceConfig(w http.ResponseWriter, r *http.Request, workspaceID string) *sso.Config {
	cfg, err := h.storage.Get(r.Context(), mux.Vars(r)["config_id"])
	if err != nil {
		writeSSOError(w, err)
		return nil
	}
	if cfg.WorkspaceID != workspaceID {
		httputil.WriteNotFound(w, "sso configuration not found")
		return nil
	}
	return cfg
}

func (h *SSOHandlers) getConfig(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	cfg := h.getWorkspaceConfig(w, r, workspaceID)
	if cfg == nil {
		return
	}
	httputil.WriteSuccess(w, cfg)
}

func (h *SSOHandlers) updateConfig(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	prev := h.getWorkspaceConfig(w, r, workspaceID)
	if prev == nil {
		return
	}

	var in configInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	cfg := in.toConfig(workspaceID, prev)
	cfg.ID = prev.ID
	if err := sso.ValidateConfig(cfg); err != nil {
		writeSSOError(w, err)
		return
	}
	if err := h.storage.Update(r.Context(), cfg); err != nil {
		writeSSOError(w, err)
		return
	}
	httputil.WriteSuccess(w, cfg)
}

func (h *SSOHandlers) deleteConfig(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	cfg := h.getWorkspaceConfig(w, r, workspaceID)
	if cfg == nil {
		return
	}
	if err := h.storage.Delete(r.Context(), cfg.ID); err != nil {
		writeSSOError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// validateConfig dry-runs a configuration without saving it
func (h *SSOHandlers) validateConfig(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var in configInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	if err := sso.ValidateConfig(in.toConfig(workspaceID, nil)); err != nil {
		httputil.WriteSuccess(w, map[string]interface{}{"valid": false, "error": err.Error()})
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"valid": true})
}

func (h *SSOHandlers) startLogin(w http.ResponseWriter, r *http.Request) {
	configID := mux.Vars(r)["config_id"]
	redirectURI := r.URL.Query().Get("redirect_uri")

	// only relative redirect targets are honored after login
	if redirectURI != "" {
		if u, err := url.Parse(redirectURI); err != nil || u.IsAbs() || u.Host != "" {
			httputil.WriteValidationError(w, "redirect_uri must be a relative path")
			return
		}
	}

	result, err := h.engine.StartLogin(r.Context(), configID, redirectURI)
	if err != nil {
		writeSSOError(w, err)
		return
	}
	http.Redirect(w, r, result.AuthURL, http.StatusFound)
}

// samlACS receives the IdP's POSTed SAML response
func (h *SSOHandlers) samlACS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteValidationError(w, "malformed form body")
		return
	}
	h.completeLogin(w, r, r.PostFormValue("RelayState"), sso.CallbackInput{
		SAMLResponse: r.PostFormValue("SAMLResponse"),
	})
}

// oauthCallback receives the OAuth2/OIDC authorization code redirect
func (h *SSOHandlers) oauthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errCode := query.Get("error"); errCode != "" {
		httputil.WriteErrorCode(w, http.StatusBadGateway, "identity provider returned an error", errCode)
		return
	}
	h.completeLogin(w, r, query.Get("state"), sso.CallbackInput{
		Code: query.Get("code"),
	})
}

func (h *SSOHandlers) completeLogin(w http.ResponseWriter, r *http.Request, state string, input sso.CallbackInput) {
	configID := mux.Vars(r)["config_id"]

	result, err := h.engine.CompleteLogin(r.Context(), configID, state, input)
	if err != nil {
		writeLoginError(w, err)
		return
	}

	pair, err := h.tokens.Issue(r.Context(), tokens.IssueParams{
		UserID:        result.User.ID,
		WorkspaceID:   result.WorkspaceID,
		WorkspaceRole: string(result.Role),
		GlobalRole:    string(result.User.GlobalRole),
		Grant:         tokens.GrantSSO,
	})
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"tokens":       pair,
		"user":         result.User,
		"workspace_id": result.WorkspaceID,
		"role":         result.Role,
		"redirect_uri": result.RedirectURI,
	})
}

// writeLoginError keeps rejection responses generic; the audit trail has
// the specifics
func writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sso.ErrConfigNotFound):
		httputil.WriteNotFound(w, "sso configuration not found")
	case errors.Is(err, sso.ErrConfigDisabled):
		httputil.WriteErrorCode(w, http.StatusForbidden, "sso configuration is disabled", "sso_disabled")
	case errors.Is(err, sso.ErrIdPUnreachable):
		httputil.WriteErrorCode(w, http.StatusBadGateway, "identity provider unreachable", "idp_unreachable")
	case errors.Is(err, sso.ErrProvisioningDenied),
		errors.Is(err, sso.ErrDomainNotAllowed):
		httputil.WriteForbidden(w)
	default:
		httputil.WriteErrorCode(w, http.StatusUnauthorized, "sso login rejected", "sso_rejected")
	}
}

func (h *SSOHandlers) metadata(w http.ResponseWriter, r *http.Request) {
	data, err := h.engine.Metadata(r.Context(), mux.Vars(r)["config_id"])
	if err != nil {
		writeSSOError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.Write(data)
}
