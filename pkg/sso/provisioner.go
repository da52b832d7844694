package sso

import (
	"context"
	"errors"
	"fmt"

	"github.com/atriumhq/atrium/pkg/audit"
	"github.com/atriumhq/atrium/pkg/identity"
	"github.com/atriumhq/atrium/pkg/observability"
	"github.com/atriumhq/atrium/pkg/workspaces"
)

// UserDirectory is the slice of the identity store the provisioner needs
type UserDirectory interface {
	GetByEmail(ctx context.Context, email string) (*identity.User, error)
	Create(ctx context.Context, u *identity.User) error
}

// MembershipStore is the slice of the workspace store the provisioner needs
type MembershipStore interface {
	GetMember(ctx context.Context, workspaceID, userID string) (*workspaces.Member, error)
	AddMember(ctx context.Context, m *workspaces.Member) error
	UpdateMemberRole(ctx context.Context, workspaceID, userID string, role workspaces.Role) error
}

// Provisioner applies just-in-time user and membership creation after a
// successful IdP exchange.
type Provisioner struct {
	users   UserDirectory
	members MembershipStore
	audit   audit.Logger
	metrics *observability.Metrics
}

// NewProvisioner creates a provisioner. metrics may be nil.
func NewProvisioner(users UserDirectory, members MembershipStore, auditLogger audit.Logger, metrics *observability.Metrics) *Provisioner {
	return &Provisioner{users: users, members: members, audit: auditLogger, metrics: metrics}
}

// ProvisionResult reports what the provisioner did for a login
type ProvisionResult struct {
	User        *identity.User
	Role        workspaces.Role
	UserCreated bool
	MemberAdded bool
}

// MapRole resolves the workspace role for an identity's groups. The highest
// matching role wins; with no match the configuration's default applies,
// falling back to viewer.
func MapRole(cfg *Config, groups []string) workspaces.Role {
	fallback := cfg.DefaultRole
	if !fallback.Valid() || fallback == workspaces.RoleOwner {
		fallback = workspaces.RoleViewer
	}

	var matched []workspaces.Role
	for _, mapping := range cfg.GroupMapping {
		// the owner role is never grantable through group mapping
		if mapping.Role == workspaces.RoleOwner || !mapping.Role.Valid() {
			continue
		}
		for _, group := range groups {
			if group == mapping.Group {
				matched = append(matched, mapping.Role)
				break
			}
		}
	}
	return workspaces.HighestRole(matched, fallback)
}

// Provision ensures the identity has a user account and a membership in the
// configuration's workspace, creating or updating as needed.
func (p *Provisioner) Provision(ctx context.Context, cfg *Config, ident *Identity) (*ProvisionResult, error) {
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"workspace_id": cfg.WorkspaceID,
		"config_id":    cfg.ID,
	})

	if len(cfg.EmailDomains) > 0 {
		domain := identity.EmailDomain(ident.Email)
		allowed := false
		for _, d := range cfg.EmailDomains {
			if d == domain {
				allowed = true
				break
			}
		}
		if !allowed {
			p.deny(ctx, cfg, ident, "domain_not_allowed")
			return nil, ErrDomainNotAllowed
		}
	}

	role := MapRole(cfg, ident.Groups)

	user, err := p.users.GetByEmail(ctx, ident.Email)
	userCreated := false
	switch {
	case errors.Is(err, identity.ErrNotFound):
		if !cfg.AutoProvision {
			p.deny(ctx, cfg, ident, "unknown_user")
			return nil, fmt.Errorf("%w: auto-provisioning disabled", ErrProvisioningDenied)
		}
		// IdP-asserted email counts as verified; no password is set, so the
		// account can only sign in through SSO
		user = &identity.User{
			Email:         ident.Email,
			FullName:      ident.FullName,
			GlobalRole:    identity.GlobalRoleUser,
			EmailVerified: true,
			Active:        true,
		}
		if err := p.users.Create(ctx, user); err != nil {
			return nil, err
		}
		userCreated = true
		logger.WithField("user_id", user.ID).Info("user provisioned")
		audit.Record(ctx, p.audit, &audit.Event{
			EventType:   audit.EventTypeProvisionCreate,
			Status:      audit.EventStatusSuccess,
			UserID:      user.ID,
			WorkspaceID: cfg.WorkspaceID,
			Metadata:    map[string]interface{}{"external_id": ident.ExternalID},
		})
	case err != nil:
		return nil, err
	}

	if !user.Active {
		p.deny(ctx, cfg, ident, "account_disabled")
		return nil, fmt.Errorf("%w: account disabled", ErrProvisioningDenied)
	}

	result := &ProvisionResult{User: user, UserCreated: userCreated}

	member, err := p.members.GetMember(ctx, cfg.WorkspaceID, user.ID)
	switch {
	case errors.Is(err, workspaces.ErrNotFound):
		if !cfg.AutoProvision {
			p.deny(ctx, cfg, ident, "not_a_member")
			return nil, fmt.Errorf("%w: auto-provisioning disabled", ErrProvisioningDenied)
		}
		if err := p.members.AddMember(ctx, &workspaces.Member{
			WorkspaceID: cfg.WorkspaceID,
			UserID:      user.ID,
			Role:        role,
		}); err != nil {
			return nil, err
		}
		result.Role = role
		result.MemberAdded = true
		p.count("created")
	case err != nil:
		return nil, err
	case member.Role == workspaces.RoleOwner:
		// group mapping never demotes the owner
		result.Role = workspaces.RoleOwner
		p.count("unchanged")
	case member.Role != role:
		if err := p.members.UpdateMemberRole(ctx, cfg.WorkspaceID, user.ID, role); err != nil {
			return nil, err
		}
		result.Role = role
		p.count("updated")
		audit.Record(ctx, p.audit, &audit.Event{
			EventType:   audit.EventTypeProvisionUpdate,
			Status:      audit.EventStatusSuccess,
			UserID:      user.ID,
			WorkspaceID: cfg.WorkspaceID,
			Metadata:    map[string]interface{}{"role": string(role), "previous_role": string(member.Role)},
		})
	default:
		result.Role = member.Role
		p.count("unchanged")
	}

	return result, nil
}

func (p *Provisioner) deny(ctx context.Context, cfg *Config, ident *Identity, reason string) {
	p.count("denied")
	audit.Record(ctx, p.audit, &audit.Event{
		EventType:   audit.EventTypeProvisionDenied,
		Status:      audit.EventStatusDenied,
		WorkspaceID: cfg.WorkspaceID,
		Reason:      reason,
		Metadata:    map[string]interface{}{"external_id": ident.ExternalID, "email": ident.Email},
	})
}

func (p *Provisioner) count(decision string) {
	if p.metrics != nil {
		p.metrics.ProvisioningTotal.WithLabelValues(decision).Inc()
	}
}
