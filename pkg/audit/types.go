package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthRegister             EventType = "auth.register"
	EventTypeAuthLogin                EventType = "auth.login"
	EventTypeAuthLoginFailed          EventType = "auth.login_failed"
	EventTypeAuthLoginSSOOnly         EventType = "auth.login_sso_enforced"
	EventTypeAuthLogout               EventType = "auth.logout"
	EventTypeAuthPasswordChange       EventType = "auth.password_change"
	EventTypeAuthPasswordResetRequest EventType = "auth.password_reset_request"
	EventTypeAuthPasswordReset        EventType = "auth.password_reset"
	EventTypeAuthEmailVerified        EventType = "auth.email_verified"

	// Token lifecycle events
	EventTypeTokenIssue        EventType = "token.issue"
	EventTypeTokenRotate       EventType = "token.rotate"
	EventTypeTokenReuse        EventType = "token.reuse_detected"
	EventTypeTokenRevoke       EventType = "token.revoke"
	EventTypeTokenVerifyFailed EventType = "token.verify_failed"

	// SSO federation events
	EventTypeSSOLoginInitiated EventType = "sso.login_initiated"
	EventTypeSSOLoginCompleted EventType = "sso.login_completed"
	EventTypeSSOLoginRejected  EventType = "sso.login_rejected"
	EventTypeSSOConfigCreate   EventType = "sso.config_create"
	EventTypeSSOConfigUpdate   EventType = "sso.config_update"
	EventTypeSSOConfigDelete   EventType = "sso.config_delete"

	// Provisioning events
	EventTypeProvisionCreate EventType = "provision.user_created"
	EventTypeProvisionUpdate EventType = "provision.user_updated"
	EventTypeProvisionDenied EventType = "provision.denied"

	// Authorization events
	EventTypeAuthzDenied            EventType = "authz.access_denied"
	EventTypeAuthzWorkspaceMismatch EventType = "authz.workspace_mismatch"

	// Workspace events
	EventTypeWorkspaceCreate        EventType = "workspace.create"
	EventTypeWorkspaceUpdate        EventType = "workspace.update"
	EventTypeWorkspaceDelete        EventType = "workspace.delete"
	EventTypeWorkspaceMemberAdd     EventType = "workspace.member_add"
	EventTypeWorkspaceMemberUpdate  EventType = "workspace.member_update"
	EventTypeWorkspaceMemberRemove  EventType = "workspace.member_remove"
	EventTypeWorkspaceOwnerTransfer EventType = "workspace.owner_transfer"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry. Reason carries the internal
// reason code that is deliberately withheld from API responses.
type Event struct {
	ID          int64                  `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	EventType   EventType              `json:"event_type"`
	Status      EventStatus            `json:"status"`
	UserID      string                 `json:"user_id,omitempty"`
	WorkspaceID string                 `json:"workspace_id,omitempty"`
	FamilyID    string                 `json:"family_id,omitempty"`
	IPAddress   string                 `json:"ip_address,omitempty"`
	UserAgent   string                 `json:"user_agent,omitempty"`
	RequestID   string                 `json:"request_id,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}
