// Package middleware provides HTTP middleware for authentication,
// authorization, request identification, and rate limiting.
package middleware

import (
	"context"
	"net/http"

	"github.com/atriumhq/atrium/pkg/audit"
	"github.com/atriumhq/atrium/pkg/contextkeys"
	"github.com/atriumhq/atrium/pkg/httputil"
	"github.com/atriumhq/atrium/pkg/identity"
	"github.com/atriumhq/atrium/pkg/tokens"
	"github.com/atriumhq/atrium/pkg/workspaces"
)

// WorkspaceHeader lets a client state which workspace it believes it is
// operating in. When present it must match the token's workspace claim.
const WorkspaceHeader = "X-Workspace-ID"

// TokenVerifier validates access tokens. *tokens.Service is the production
// implementation.
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, raw string) (*tokens.Claims, error)
}

// AuthorizationContext carries the verified caller identity for a request
type AuthorizationContext struct {
	UserID        string
	WorkspaceID   string
	WorkspaceRole workspaces.Role
	GlobalRole    identity.GlobalRole
	FamilyID      string
}

// Authenticator verifies bearer tokens and installs the authorization
// context for downstream handlers.
type Authenticator struct {
	verifier TokenVerifier
	audit    audit.Logger
}

// NewAuthenticator creates the authentication middleware
func NewAuthenticator(verifier TokenVerifier, auditLogger audit.Logger) *Authenticator {
	return &Authenticator{verifier: verifier, audit: auditLogger}
}

// Handler rejects requests without a valid access token
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := httputil.BearerToken(r)
		if raw == "" {
			httputil.WriteUnauthenticated(w)
			return
		}

		claims, err := a.verifier.VerifyAccess(r.Context(), raw)
		if err != nil {
			// the verifier records the rejection reason in the audit trail
			httputil.WriteUnauthenticated(w)
			return
		}

		authCtx := &AuthorizationContext{
			UserID:        claims.Subject,
			WorkspaceID:   claims.WorkspaceID,
			WorkspaceRole: workspaces.Role(claims.WorkspaceRole),
			GlobalRole:    identity.GlobalRole(claims.GlobalRole),
			FamilyID:      claims.FamilyID,
		}

		// a stated workspace that disagrees with the token claim means the
		// client is holding a token for a different workspace
		if stated := r.Header.Get(WorkspaceHeader); stated != "" && stated != claims.WorkspaceID {
			audit.Record(r.Context(), a.audit, &audit.Event{
				EventType:   audit.EventTypeAuthzWorkspaceMismatch,
				Status:      audit.EventStatusDenied,
				UserID:      authCtx.UserID,
				WorkspaceID: stated,
				IPAddress:   httputil.ClientIP(r),
				Metadata:    map[string]interface{}{"token_workspace_id": claims.WorkspaceID},
			})
			httputil.WriteForbidden(w)
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithUserID(ctx, authCtx.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext returns the authorization context installed by the
// Authenticator, or nil for unauthenticated requests.
func GetAuthContext(r *http.Request) *AuthorizationContext {
	authCtx, _ := r.Context().Value(contextkeys.AuthKey).(*AuthorizationContext)
	return authCtx
}

// RequireWorkspaceRole gates a handler on a minimum workspace role
func (a *Authenticator) RequireWorkspaceRole(required workspaces.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthenticated(w)
				return
			}
			if authCtx.WorkspaceID == "" || !authCtx.WorkspaceRole.AtLeast(required) {
				a.denied(r, authCtx, string(required))
				httputil.WriteForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireGlobalRole gates a handler on a minimum instance-wide role
func (a *Authenticator) RequireGlobalRole(required identity.GlobalRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthenticated(w)
				return
			}
			if !authCtx.GlobalRole.AtLeast(required) {
				a.denied(r, authCtx, string(required))
				httputil.WriteForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Authenticator) denied(r *http.Request, authCtx *AuthorizationContext, required string) {
	audit.Record(r.Context(), a.audit, &audit.Event{
		EventType:   audit.EventTypeAuthzDenied,
		Status:      audit.EventStatusDenied,
		UserID:      authCtx.UserID,
		WorkspaceID: authCtx.WorkspaceID,
		IPAddress:   httputil.ClientIP(r),
		Metadata: map[string]interface{}{
			"required_role": required,
			"path":          r.URL.Path,
		},
	})
}
