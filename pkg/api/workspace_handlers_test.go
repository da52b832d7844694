package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atriumhq/atrium/pkg/workspaces"
)

// seedWorkspace creates a workspace owned by ownerID and returns it
func (f *fixture) seedWorkspace(name, slug, ownerID string) *workspaces.Workspace {
	f.t.Helper()
	ws := &workspaces.Workspace{Name: name, Slug: slug, OwnerID: ownerID, Plan: workspaces.PlanFree}
	require.NoError(f.t, f.ws.Create(context.Background(), ws))
	return ws
}

func TestWorkspaceCreate(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser("owner@example.com", "strong-password-77")
	token := f.accessToken(user.ID, "", "")

	rec := f.do(http.MethodPost, "/v1/workspaces", token, map[string]string{
		"name": "Acme Corp",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var ws workspaces.Workspace
	f.decode(rec, &ws)
	assert.Equal(t, "Acme Corp", ws.Name)
	assert.Equal(t, "acme-corp", ws.Slug)
	assert.Equal(t, user.ID, ws.OwnerID)

	// the creator is the owner member
	role, err := f.ws.GetMember(context.Background(), ws.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, workspaces.RoleOwner, role.Role)
}

func TestWorkspaceCreateRequiresAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/workspaces", "", map[string]string{"name": "Acme"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWorkspaceCreateMissingName(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser("owner@example.com", "strong-password-77")

	rec := f.do(http.MethodPost, "/v1/workspaces", f.accessToken(user.ID, "", ""),
		map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkspaceList(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser("owner@example.com", "strong-password-77")
	f.seedWorkspace("Acme", "acme", user.ID)
	other := f.seedUser("other@example.com", "strong-password-77")
	f.seedWorkspace("Elsewhere", "elsewhere", other.ID)

	rec := f.do(http.MethodGet, "/v1/workspaces", f.accessToken(user.ID, "", ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Workspaces []*workspaces.Workspace `json:"workspaces"`
	}
	f.decode(rec, &body)
	require.Len(t, body.Workspaces, 1)
	assert.Equal(t, "acme", body.Workspaces[0].Slug)
}

func TestWorkspaceGet(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser("owner@example.com", "strong-password-77")
	ws := f.seedWorkspace("Acme", "acme", user.ID)

	rec := f.do(http.MethodGet, "/v1/workspaces/"+ws.ID, f.accessToken(user.ID, "", ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got workspaces.Workspace
	f.decode(rec, &got)
	assert.Equal(t, ws.ID, got.ID)
}

func TestWorkspaceGetNonMember(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser("owner@example.com", "strong-password-77")
	ws := f.seedWorkspace("Acme", "acme", owner.ID)
	outsider := f.seedUser("outsider@example.com", "strong-password-77")

	rec := f.do(http.MethodGet, "/v1/workspaces/"+ws.ID, f.accessToken(outsider.ID, "", ""), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkspaceUpdate(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser("owner@example.com", "strong-password-77")
	ws := f.seedWorkspace("Acme", "acme", owner.ID)

	rec := f.do(http.MethodPatch, "/v1/workspaces/"+ws.ID, f.accessToken(owner.ID, "", ""),
		map[string]interface{}{"name": "Acme Renamed", "sso_enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)

	var got workspaces.Workspace
	f.decode(rec, &got)
	assert.Equal(t, "Acme Renamed", got.Name)
	assert.True(t, got.SSOEnabled)
}

func TestWorkspaceUpdateByMemberForbidden(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser("owner@example.com", "strong-password-77")
	ws := f.seedWorkspace("Acme", "acme", owner.ID)
	member := f.seedUser("member@example.com", "strong-password-77")
	require.NoError(t, f.ws.AddMember(context.Background(), &workspaces.Member{
		WorkspaceID: ws.ID, UserID: member.ID, Role: workspaces.RoleMember,
	}))

	rec := f.do(http.MethodPatch, "/v1/workspaces/"+ws.ID, f.accessToken(member.ID, "", ""),
		map[string]interface{}{"name": "Hijacked"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWorkspaceDelete(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser("owner@example.com", "strong-password-77")
	ws := f.seedWorkspace("Acme", "acme", owner.ID)

	rec := f.do(http.MethodDelete, "/v1/workspaces/"+ws.ID, f.accessToken(owner.ID, "", ""), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := f.ws.Get(context.Background(), ws.ID)
	assert.ErrorIs(t, err, workspaces.ErrNotFound)
}

func TestWorkspaceDeleteByAdminForbidden(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser("owner@example.com", "strong-password-77")
	ws := f.seedWorkspace("Acme", "acme", owner.ID)
	admin := f.seedUser("admin@example.com", "strong-password-77")
	require.NoError(t, f.ws.AddMember(context.Background(), &workspaces.Member{
		WorkspaceID: ws.ID, UserID: admin.ID, Role: workspaces.RoleAdmin,
	}))

	rec := f.do(http.MethodDelete, "/v1/workspaces/"+ws.ID, f.accessToken(admin.ID, "", ""), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWorkspaceTransferOwnership(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser("owner@example.com", "strong-password-77")
	ws := f.seedWorkspace("Acme", "acme", owner.ID)
	successor := f.seedUser("successor@example.com", "strong-password-77")
	require.NoError(t, f.ws.AddMember(context.Background(), &workspaces.Member{
		WorkspaceID: ws.ID, UserID: successor.ID, Role: workspaces.RoleAdmin,
	}))

	rec := f.do(http.MethodPost, "/v1/workspaces/"+ws.ID+"/transfer",
		f.accessToken(owner.ID, "", ""), map[string]string{"to_user_id": successor.ID})
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := f.ws.Get(context.Background(), ws.ID)
	require.NoError(t, err)
	assert.Equal(t, successor.ID, got.OwnerID)

	old, err := f.ws.GetMember(context.Background(), ws.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, workspaces.RoleAdmin, old.Role)
}

func TestWorkspaceMembersList(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser("owner@example.com", "strong-password-77")
	ws := f.seedWorkspace("Acme", "acme", owner.ID)

	rec := f.do(http.MethodGet, "/v1/workspaces/"+ws.ID+"/members",
		f.accessToken(owner.ID, "", ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Members []*workspaces.Member `json:"members"`
	}
	f.decode(rec, &body)
	require.Len(t, body.Members, 1)
	assert.Equal(t, workspaces.RoleOwner, body.Members[0].Role)
}

func TestWorkspaceAddMember(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser("owner@example.com", "strong-password-77")
	ws := f.seedWorkspace("Acme", "acme", owner.ID)
	joiner := f.seedUser("joiner@example.com", "strong-password-77")

	rec := f.do(http.MethodPost, "/v1/workspaces/"+ws.ID+"/members",
		f.accessToken(owner.ID, "", ""),
		map[string]string{"user_id": joiner.ID, "role": "member"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var member workspaces.Member
	f.decode(rec, &member)
	assert.Equal(t, joiner.ID, member.UserID)
	assert.Equal(t, workspaces.RoleMember, member.Role)

	// adding again conflicts
	rec = f.do(http.MethodPost, "/v1/workspaces/"+ws.ID+"/members",
		f.accessToken(owner.ID, "", ""),
		map[string]string{"user_id": joiner.ID, "role": "member"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWorkspaceAddMemberInvalidRole(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser("owner@example.com", "strong-password-77")
	ws := f.seedWorkspace("Acme", "acme", owner.ID)
	joiner := f.seedUser("joiner@example.com", "strong-password-77")

	rec := f.do(http.MethodPost, "/v1/workspaces/"+ws.ID+"/members",
		f.accessToken(owner.ID, "", ""),
		map[string]string{"user_id": joiner.ID, "role": "emperor"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkspaceUpdateMemberRole(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser("owner@example.com", "strong-password-77")
	ws := f.seedWorkspace("Acme", "acme", owner.ID)
	member := f.seedUser("member@example.com", "strong-password-77")
	m := &workspaces.Member{WorkspaceID: ws.ID, UserID: member.ID, Role: workspaces.RoleMember}
	require.NoError(t, f.ws.AddMember(context.Background(), m))

	rec := f.do(http.MethodPatch, "/v1/workspaces/"+ws.ID+"/members/"+m.ID,
		f.accessToken(owner.ID, "", ""), map[string]string{"role": "admin"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := f.ws.GetMember(context.Background(), ws.ID, member.ID)
	require.NoError(t, err)
	assert.Equal(t, workspaces.RoleAdmin, got.Role)
}

func TestWorkspaceOwnerMembershipImmutable(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser("owner@example.com", "strong-password-77")
	ws := f.seedWorkspace("Acme", "acme", owner.ID)
	ownerMember, err := f.ws.GetMember(context.Background(), ws.ID, owner.ID)
	require.NoError(t, err)

	rec := f.do(http.MethodPatch, "/v1/workspaces/"+ws.ID+"/members/"+ownerMember.ID,
		f.accessToken(owner.ID, "", ""), map[string]string{"role": "member"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodDelete, "/v1/workspaces/"+ws.ID+"/members/"+ownerMember.ID,
		f.accessToken(owner.ID, "", ""), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWorkspaceRemoveMember(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser("owner@example.com", "strong-password-77")
	ws := f.seedWorkspace("Acme", "acme", owner.ID)
	member := f.seedUser("member@example.com", "strong-password-77")
	m := &workspaces.Member{WorkspaceID: ws.ID, UserID: member.ID, Role: workspaces.RoleMember}
	require.NoError(t, f.ws.AddMember(context.Background(), m))

	rec := f.do(http.MethodDelete, "/v1/workspaces/"+ws.ID+"/members/"+m.ID,
		f.accessToken(owner.ID, "", ""), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := f.ws.GetMember(context.Background(), ws.ID, member.ID)
	assert.ErrorIs(t, err, workspaces.ErrNotFound)
}
