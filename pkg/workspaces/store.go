package workspaces

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store persists workspaces and memberships
type Store struct {
	db *sql.DB
}

// NewStore creates a workspace store backed by PostgreSQL
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const workspaceColumns = `id, name, slug, owner_id, plan, sso_enabled, sso_enforced, created_at, updated_at`

func scanWorkspace(row interface{ Scan(...interface{}) error }) (*Workspace, error) {
	ws := &Workspace{}
	err := row.Scan(&ws.ID, &ws.Name, &ws.Slug, &ws.OwnerID, &ws.Plan,
		&ws.SSOEnabled, &ws.SSOEnforced, &ws.CreatedAt, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	return ws, nil
}

// Create inserts the workspace and the owner membership in one transaction,
// preserving the exactly-one-owner invariant from the first write.
func (s *Store) Create(ctx context.Context, ws *Workspace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO workspaces (id, name, slug, owner_id, plan, sso_enabled, sso_enforced, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`, ws.ID, ws.Name, ws.Slug, ws.OwnerID, ws.Plan, ws.SSOEnabled, ws.SSOEnforced).
		Scan(&ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrSlugTaken
		}
		return fmt.Errorf("insert workspace: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workspace_members (id, workspace_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, uuid.NewString(), ws.ID, ws.OwnerID, RoleOwner)
	if err != nil {
		return fmt.Errorf("insert owner membership: %w", err)
	}

	return tx.Commit()
}

// Get returns a workspace by id
func (s *Store) Get(ctx context.Context, id string) (*Workspace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, id)
	return scanWorkspace(row)
}

// GetBySlug returns a workspace by slug
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Workspace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE slug = $1`, slug)
	return scanWorkspace(row)
}

// SlugExists reports whether a slug is already taken
func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM workspaces WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

// ListForUser returns every workspace the user is a member of
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.slug, w.owner_id, w.plan, w.sso_enabled, w.sso_enforced, w.created_at, w.updated_at
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// Update persists mutable workspace fields
func (s *Store) Update(ctx context.Context, ws *Workspace) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workspaces
		SET name = $1, plan = $2, sso_enabled = $3, sso_enforced = $4, updated_at = NOW()
		WHERE id = $5
	`, ws.Name, ws.Plan, ws.SSOEnabled, ws.SSOEnforced, ws.ID)
	if err != nil {
		return fmt.Errorf("update workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the workspace; memberships cascade
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMember returns a membership by (workspace, user)
func (s *Store) GetMember(ctx context.Context, workspaceID, userID string) (*Member, error) {
	m := &Member{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, user_id, role, created_at
		FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID).Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// ListMembers returns every membership in the workspace
func (s *Store) ListMembers(ctx context.Context, workspaceID string) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, user_id, role, created_at
		FROM workspace_members
		WHERE workspace_id = $1
		ORDER BY created_at
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []*Member
	for rows.Next() {
		m := &Member{}
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddMember inserts a membership
func (s *Store) AddMember(ctx context.Context, m *Member) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO workspace_members (id, workspace_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at
	`, m.ID, m.WorkspaceID, m.UserID, m.Role).Scan(&m.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAlreadyMember
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// UpdateMemberRole changes a member's role
func (s *Store) UpdateMemberRole(ctx context.Context, workspaceID, userID string, role Role) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workspace_members SET role = $1
		WHERE workspace_id = $2 AND user_id = $3
	`, role, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("update member role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveMember deletes a membership by member id
func (s *Store) RemoveMember(ctx context.Context, workspaceID, memberID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workspace_members WHERE workspace_id = $1 AND id = $2
	`, workspaceID, memberID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMemberByID returns a membership by its row id
func (s *Store) GetMemberByID(ctx context.Context, workspaceID, memberID string) (*Member, error) {
	m := &Member{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, user_id, role, created_at
		FROM workspace_members
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, memberID).Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// TransferOwnership atomically swaps the owner: the previous owner becomes an
// admin, the new owner takes the owner role, and workspaces.owner_id follows.
func (s *Store) TransferOwnership(ctx context.Context, workspaceID, fromUserID, toUserID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE workspace_members SET role = $1
		WHERE workspace_id = $2 AND user_id = $3 AND role = $4
	`, RoleAdmin, workspaceID, fromUserID, RoleOwner)
	if err != nil {
		return fmt.Errorf("demote owner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE workspace_members SET role = $1
		WHERE workspace_id = $2 AND user_id = $3
	`, RoleOwner, workspaceID, toUserID)
	if err != nil {
		return fmt.Errorf("promote new owner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE workspaces SET owner_id = $1, updated_at = NOW() WHERE id = $2
	`, toUserID, workspaceID); err != nil {
		return fmt.Errorf("update workspace owner: %w", err)
	}

	return tx.Commit()
}
