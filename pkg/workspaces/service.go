package workspaces

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/atriumhq/atrium/pkg/audit"
	"github.com/atriumhq/atrium/pkg/observability"
)

// ServiceStore is the persistence surface the service needs
type ServiceStore interface {
	Create(ctx context.Context, ws *Workspace) error
	Get(ctx context.Context, id string) (*Workspace, error)
	GetBySlug(ctx context.Context, slug string) (*Workspace, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]*Workspace, error)
	Update(ctx context.Context, ws *Workspace) error
	Delete(ctx context.Context, id string) error
	GetMember(ctx context.Context, workspaceID, userID string) (*Member, error)
	GetMemberByID(ctx context.Context, workspaceID, memberID string) (*Member, error)
	ListMembers(ctx context.Context, workspaceID string) ([]*Member, error)
	AddMember(ctx context.Context, m *Member) error
	UpdateMemberRole(ctx context.Context, workspaceID, userID string, role Role) error
	RemoveMember(ctx context.Context, workspaceID, memberID string) error
	TransferOwnership(ctx context.Context, workspaceID, fromUserID, toUserID string) error
}

// Service implements workspace lifecycle and membership management
type Service struct {
	store ServiceStore
	audit audit.Logger
}

// NewService creates a workspace service
func NewService(store ServiceStore, auditLogger audit.Logger) *Service {
	return &Service{store: store, audit: auditLogger}
}

var (
	slugStrip    = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugCollapse = regexp.MustCompile(`[\s_-]+`)
)

// Slugify converts a display name into a URL-safe slug
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugCollapse.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// CreateParams are inputs for workspace creation
type CreateParams struct {
	Name string
	Slug string
	Plan Plan
}

// Create makes a workspace owned by ownerID. When the derived slug collides,
// a numeric suffix is appended until a free slug is found.
func (s *Service) Create(ctx context.Context, params CreateParams, ownerID string) (*Workspace, error) {
	slug := params.Slug
	if slug == "" {
		slug = Slugify(params.Name)
	}
	if slug == "" {
		return nil, ErrInvalidName
	}

	candidate := slug
	for i := 1; ; i++ {
		taken, err := s.store.SlugExists(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if !taken {
			break
		}
		candidate = fmt.Sprintf("%s-%d", slug, i)
	}

	plan := params.Plan
	if plan == "" {
		plan = PlanFree
	}

	ws := &Workspace{
		Name:    params.Name,
		Slug:    candidate,
		OwnerID: ownerID,
		Plan:    plan,
	}
	if err := s.store.Create(ctx, ws); err != nil {
		return nil, err
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"workspace_id": ws.ID,
		"slug":         ws.Slug,
	}).Info("workspace created")
	audit.Record(ctx, s.audit, &audit.Event{
		EventType:   audit.EventTypeWorkspaceCreate,
		Status:      audit.EventStatusSuccess,
		UserID:      ownerID,
		WorkspaceID: ws.ID,
	})
	return ws, nil
}

// Get returns a workspace by id
func (s *Service) Get(ctx context.Context, id string) (*Workspace, error) {
	return s.store.Get(ctx, id)
}

// GetBySlug returns a workspace by slug
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Workspace, error) {
	return s.store.GetBySlug(ctx, slug)
}

// ListForUser returns the caller's workspaces
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*Workspace, error) {
	return s.store.ListForUser(ctx, userID)
}

// UpdateParams are the mutable workspace fields
type UpdateParams struct {
	Name        *string
	Plan        *Plan
	SSOEnabled  *bool
	SSOEnforced *bool
}

// Update applies changes; the actor must be owner or admin
func (s *Service) Update(ctx context.Context, workspaceID string, params UpdateParams, actorID string) (*Workspace, error) {
	ws, err := s.store.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, workspaceID, actorID, RoleAdmin); err != nil {
		return nil, err
	}

	if params.Name != nil {
		ws.Name = *params.Name
	}
	if params.Plan != nil {
		ws.Plan = *params.Plan
	}
	if params.SSOEnabled != nil {
		ws.SSOEnabled = *params.SSOEnabled
	}
	if params.SSOEnforced != nil {
		ws.SSOEnforced = *params.SSOEnforced
	}
	if err := s.store.Update(ctx, ws); err != nil {
		return nil, err
	}

	audit.Record(ctx, s.audit, &audit.Event{
		EventType:   audit.EventTypeWorkspaceUpdate,
		Status:      audit.EventStatusSuccess,
		UserID:      actorID,
		WorkspaceID: workspaceID,
	})
	return ws, nil
}

// Delete removes a workspace; only the owner may delete
func (s *Service) Delete(ctx context.Context, workspaceID, actorID string) error {
	ws, err := s.store.Get(ctx, workspaceID)
	if err != nil {
		return err
	}
	if ws.OwnerID != actorID {
		return ErrForbidden
	}
	if err := s.store.Delete(ctx, workspaceID); err != nil {
		return err
	}
	audit.Record(ctx, s.audit, &audit.Event{
		EventType:   audit.EventTypeWorkspaceDelete,
		Status:      audit.EventStatusSuccess,
		UserID:      actorID,
		WorkspaceID: workspaceID,
	})
	return nil
}

// MemberRole returns the user's role in the workspace
func (s *Service) MemberRole(ctx context.Context, workspaceID, userID string) (Role, error) {
	m, err := s.store.GetMember(ctx, workspaceID, userID)
	if err != nil {
		return "", err
	}
	return m.Role, nil
}

// ListMembers returns the workspace's memberships
func (s *Service) ListMembers(ctx context.Context, workspaceID string) ([]*Member, error) {
	return s.store.ListMembers(ctx, workspaceID)
}

// AddMember adds a user with the given role; the actor must be owner or admin.
// The owner role can only be granted through TransferOwnership.
func (s *Service) AddMember(ctx context.Context, workspaceID, userID string, role Role, actorID string) (*Member, error) {
	if role == "" {
		role = RoleMember
	}
	if !role.Valid() || role == RoleOwner {
		return nil, ErrInvalidRole
	}
	if err := s.requireRole(ctx, workspaceID, actorID, RoleAdmin); err != nil {
		return nil, err
	}

	m := &Member{WorkspaceID: workspaceID, UserID: userID, Role: role}
	if err := s.store.AddMember(ctx, m); err != nil {
		return nil, err
	}

	audit.Record(ctx, s.audit, &audit.Event{
		EventType:   audit.EventTypeWorkspaceMemberAdd,
		Status:      audit.EventStatusSuccess,
		UserID:      actorID,
		WorkspaceID: workspaceID,
		Metadata:    map[string]interface{}{"member_user_id": userID, "role": string(role)},
	})
	return m, nil
}

// UpdateMemberRole changes a member's role; the actor must be owner or
// admin. The owner role can neither be assigned nor taken away here.
func (s *Service) UpdateMemberRole(ctx context.Context, workspaceID, memberID string, role Role, actorID string) error {
	if !role.Valid() || role == RoleOwner {
		return ErrInvalidRole
	}
	member, err := s.store.GetMemberByID(ctx, workspaceID, memberID)
	if err != nil {
		return err
	}
	if member.Role == RoleOwner {
		return ErrOwnerImmutable
	}
	if err := s.requireRole(ctx, workspaceID, actorID, RoleAdmin); err != nil {
		return err
	}
	if err := s.store.UpdateMemberRole(ctx, workspaceID, member.UserID, role); err != nil {
		return err
	}

	audit.Record(ctx, s.audit, &audit.Event{
		EventType:   audit.EventTypeWorkspaceMemberUpdate,
		Status:      audit.EventStatusSuccess,
		UserID:      actorID,
		WorkspaceID: workspaceID,
		Metadata:    map[string]interface{}{"member_user_id": member.UserID, "role": string(role)},
	})
	return nil
}

// RemoveMember removes a membership; the actor must be owner or admin, and
// the owner membership is immutable.
func (s *Service) RemoveMember(ctx context.Context, workspaceID, memberID, actorID string) error {
	member, err := s.store.GetMemberByID(ctx, workspaceID, memberID)
	if err != nil {
		return err
	}
	if member.Role == RoleOwner {
		return ErrOwnerImmutable
	}
	if err := s.requireRole(ctx, workspaceID, actorID, RoleAdmin); err != nil {
		return err
	}
	if err := s.store.RemoveMember(ctx, workspaceID, memberID); err != nil {
		return err
	}

	audit.Record(ctx, s.audit, &audit.Event{
		EventType:   audit.EventTypeWorkspaceMemberRemove,
		Status:      audit.EventStatusSuccess,
		UserID:      actorID,
		WorkspaceID: workspaceID,
		Metadata:    map[string]interface{}{"member_user_id": member.UserID},
	})
	return nil
}

// TransferOwnership moves the owner role to another existing member. Only the
// current owner may transfer; the invariant of exactly one owner holds
// throughout.
func (s *Service) TransferOwnership(ctx context.Context, workspaceID, toUserID, actorID string) error {
	ws, err := s.store.Get(ctx, workspaceID)
	if err != nil {
		return err
	}
	if ws.OwnerID != actorID {
		return ErrForbidden
	}
	if _, err := s.store.GetMember(ctx, workspaceID, toUserID); err != nil {
		return err
	}
	if err := s.store.TransferOwnership(ctx, workspaceID, actorID, toUserID); err != nil {
		return err
	}

	audit.Record(ctx, s.audit, &audit.Event{
		EventType:   audit.EventTypeWorkspaceOwnerTransfer,
		Status:      audit.EventStatusSuccess,
		UserID:      actorID,
		WorkspaceID: workspaceID,
		Metadata:    map[string]interface{}{"new_owner_id": toUserID},
	})
	return nil
}

func (s *Service) requireRole(ctx context.Context, workspaceID, userID string, required Role) error {
	m, err := s.store.GetMember(ctx, workspaceID, userID)
	if err == ErrNotFound {
		return ErrForbidden
	}
	if err != nil {
		return err
	}
	if !m.Role.AtLeast(required) {
		return ErrForbidden
	}
	return nil
}
