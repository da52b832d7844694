package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/atriumhq/atrium/pkg/audit"
	"github.com/atriumhq/atrium/pkg/httputil"
	"github.com/atriumhq/atrium/pkg/identity"
	"github.com/atriumhq/atrium/pkg/middleware"
	"github.com/atriumhq/atrium/pkg/tokens"
	"github.com/atriumhq/atrium/pkg/workspaces"
)

// AuthHandlers serves registration, login, token lifecycle, and password
// management endpoints.
type AuthHandlers struct {
	identity   *identity.Service
	tokens     *tokens.Service
	workspaces *workspaces.Service
	audit      audit.Logger
}

// NewAuthHandlers creates the auth handler group
func NewAuthHandlers(identitySvc *identity.Service, tokenSvc *tokens.Service, workspaceSvc *workspaces.Service, auditLogger audit.Logger) *AuthHandlers {
	return &AuthHandlers{
		identity:   identitySvc,
		tokens:     tokenSvc,
		workspaces: workspaceSvc,
		audit:      auditLogger,
	}
}

// RegisterRoutes registers the auth routes. limiter, when non-nil, wraps the
// credential endpoints.
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, auth *middleware.Authenticator, limiter func(http.Handler) http.Handler) {
	guard := func(handler http.HandlerFunc) http.Handler {
		if limiter == nil {
			return handler
		}
		return limiter(handler)
	}

	router.Handle("/v1/auth/register", guard(h.register)).Methods("POST")
	router.Handle("/v1/auth/login", guard(h.login)).Methods("POST")
	router.HandleFunc("/v1/auth/refresh", h.refresh).Methods("POST")
	router.HandleFunc("/v1/auth/logout", h.logout).Methods("POST")
	router.Handle("/v1/auth/password/reset", guard(h.requestPasswordReset)).Methods("POST")
	router.Handle("/v1/auth/password/reset/complete", guard(h.completePasswordReset)).Methods("POST")
	router.HandleFunc("/v1/auth/email/verify", h.verifyEmail).Methods("POST")

	router.Handle("/v1/auth/password/change",
		auth.Handler(http.HandlerFunc(h.changePassword))).Methods("POST")
	router.Handle("/v1/auth/me",
		auth.Handler(http.HandlerFunc(h.me))).Methods("GET")
	router.Handle("/v1/auth/sessions",
		auth.Handler(http.HandlerFunc(h.revokeSessions))).Methods("DELETE")
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	if req.Email == "" {
		httputil.WriteValidationError(w, "email is required")
		return
	}

	user, verifyToken, err := h.identity.Register(r.Context(), identity.RegisterParams{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	switch {
	case errors.Is(err, identity.ErrEmailTaken):
		httputil.WriteConflict(w, "email already registered")
		return
	case errors.Is(err, identity.ErrWeakPassword):
		httputil.WriteValidationError(w, err.Error())
		return
	case err != nil:
		httputil.WriteInternalError(w)
		return
	}

	// the verification token is returned directly until a mail sender is
	// wired; clients deliver it to the verify endpoint
	httputil.WriteCreated(w, map[string]interface{}{
		"user":               user,
		"verification_token": verifyToken,
	})
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		WorkspaceID string `json:"workspace_id,omitempty"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	user, err := h.identity.Authenticate(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, identity.ErrSSOEnforced):
		httputil.WriteErrorCode(w, http.StatusForbidden,
			"password login is disabled for this email domain", "sso_enforced")
		return
	case errors.Is(err, identity.ErrAccountDisabled):
		httputil.WriteErrorCode(w, http.StatusForbidden, "account disabled", "account_disabled")
		return
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrPasswordLoginUnavailable):
		httputil.WriteError(w, http.StatusUnauthorized, "invalid email or password")
		return
	case err != nil:
		httputil.WriteInternalError(w)
		return
	}

	pair, status := h.issuePair(w, r, user, req.WorkspaceID, tokens.GrantPassword)
	if pair == nil {
		return
	}
	httputil.WriteJSON(w, status, pair)
}

// issuePair resolves the workspace role, if any, and opens a token family.
// Returns nil after writing an error response.
func (h *AuthHandlers) issuePair(w http.ResponseWriter, r *http.Request, user *identity.User, workspaceID, grant string) (*tokens.Pair, int) {
	params := tokens.IssueParams{
		UserID:     user.ID,
		GlobalRole: string(user.GlobalRole),
		Grant:      grant,
	}
	if workspaceID != "" {
		role, err := h.workspaces.MemberRole(r.Context(), workspaceID, user.ID)
		if errors.Is(err, workspaces.ErrNotFound) {
			httputil.WriteForbidden(w)
			return nil, 0
		}
		if err != nil {
			httputil.WriteInternalError(w)
			return nil, 0
		}
		params.WorkspaceID = workspaceID
		params.WorkspaceRole = string(role)
	}

	pair, err := h.tokens.Issue(r.Context(), params)
	if err != nil {
		httputil.WriteInternalError(w)
		return nil, 0
	}
	return pair, http.StatusOK
}

func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	pair, err := h.tokens.Rotate(r.Context(), req.RefreshToken)
	switch {
	case errors.Is(err, tokens.ErrReused):
		// the family is already revoked; the holder must sign in again
		httputil.WriteErrorCode(w, http.StatusUnauthorized,
			"refresh token reuse detected, all sessions revoked", "token_reuse")
		return
	case errors.Is(err, tokens.ErrRevoked):
		httputil.WriteErrorCode(w, http.StatusUnauthorized, "session revoked", "revoked")
		return
	case err != nil:
		httputil.WriteUnauthenticated(w)
		return
	}
	httputil.WriteSuccess(w, pair)
}

func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	// logout with an invalid token still reports success; the session is
	// gone either way
	if err := h.tokens.Revoke(r.Context(), req.RefreshToken, "logout"); err != nil &&
		!errors.Is(err, tokens.ErrInvalid) && !errors.Is(err, tokens.ErrExpired) {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *AuthHandlers) revokeSessions(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthenticated(w)
		return
	}
	if err := h.tokens.RevokeUser(r.Context(), authCtx.UserID, "user_request"); err != nil {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthenticated(w)
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	err := h.identity.ChangePassword(r.Context(), authCtx.UserID, req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		httputil.WriteError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	case errors.Is(err, identity.ErrWeakPassword):
		httputil.WriteValidationError(w, err.Error())
		return
	case errors.Is(err, identity.ErrPasswordLoginUnavailable):
		httputil.WriteErrorCode(w, http.StatusForbidden,
			"this account signs in through SSO", "sso_only")
		return
	case err != nil:
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *AuthHandlers) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	token, err := h.identity.RequestPasswordReset(r.Context(), req.Email)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		httputil.WriteInternalError(w)
		return
	}

	// identical response whether or not the account exists
	response := map[string]interface{}{"status": "ok"}
	if token != "" {
		// returned directly until a mail sender is wired
		response["reset_token"] = token
	}
	httputil.WriteSuccess(w, response)
}

func (h *AuthHandlers) completePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	err := h.identity.CompletePasswordReset(r.Context(), req.Token, req.NewPassword)
	switch {
	case errors.Is(err, identity.ErrTokenInvalid):
		httputil.WriteError(w, http.StatusUnauthorized, "reset token is invalid or expired")
		return
	case errors.Is(err, identity.ErrWeakPassword):
		httputil.WriteValidationError(w, err.Error())
		return
	case err != nil:
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *AuthHandlers) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	err := h.identity.VerifyEmail(r.Context(), req.Token)
	switch {
	case errors.Is(err, identity.ErrTokenInvalid):
		httputil.WriteError(w, http.StatusUnauthorized, "verification token is invalid or expired")
		return
	case err != nil:
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthenticated(w)
		return
	}

	user, err := h.identity.Get(r.Context(), authCtx.UserID)
	if errors.Is(err, identity.ErrNotFound) {
		httputil.WriteUnauthenticated(w)
		return
	}
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, user)
}
