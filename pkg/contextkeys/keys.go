// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains the resolved *middleware.AuthorizationContext
	// Set by: middleware.Authenticator (pkg/middleware/auth.go)
	// Required by: all protected endpoints and role-gated handlers
	AuthKey Key = "authorization_context"

	// WorkspaceKey contains the *workspaces.Workspace active for this request
	// Set by: middleware.Authenticator when a workspace is resolved
	// Required by: workspace-scoped endpoints
	WorkspaceKey Key = "workspace"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: HTTP middleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID string
	// Set by: middleware.Authenticator after token verification
	// Used by: logger, audit trail
	UserIDKey Key = "user_id"
)

// WithAuth adds the authorization context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithWorkspace adds the active workspace to the context
func WithWorkspace(ctx context.Context, ws interface{}) context.Context {
	return context.WithValue(ctx, WorkspaceKey, ws)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds the authenticated user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves the authenticated user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
