package sso

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atriumhq/atrium/pkg/audit"
	"github.com/atriumhq/atrium/pkg/identity"
	"github.com/atriumhq/atrium/pkg/workspaces"
)

type fakeDirectory struct {
	byEmail map[string]*identity.User
	nextID  int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{byEmail: make(map[string]*identity.User)}
}

func (f *fakeDirectory) GetByEmail(_ context.Context, email string) (*identity.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, identity.ErrNotFound
}

func (f *fakeDirectory) Create(_ context.Context, u *identity.User) error {
	f.nextID++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	f.byEmail[u.Email] = u
	return nil
}

type fakeMemberships struct {
	members map[string]*workspaces.Member
	updates int
}

func newFakeMemberships() *fakeMemberships {
	return &fakeMemberships{members: make(map[string]*workspaces.Member)}
}

func (f *fakeMemberships) key(workspaceID, userID string) string {
	return workspaceID + "/" + userID
}

func (f *fakeMemberships) GetMember(_ context.Context, workspaceID, userID string) (*workspaces.Member, error) {
	if m, ok := f.members[f.key(workspaceID, userID)]; ok {
		return m, nil
	}
	return nil, workspaces.ErrNotFound
}

func (f *fakeMemberships) AddMember(_ context.Context, m *workspaces.Member) error {
	f.members[f.key(m.WorkspaceID, m.UserID)] = m
	return nil
}

func (f *fakeMemberships) UpdateMemberRole(_ context.Context, workspaceID, userID string, role workspaces.Role) error {
	m, ok := f.members[f.key(workspaceID, userID)]
	if !ok {
		return workspaces.ErrNotFound
	}
	m.Role = role
	f.updates++
	return nil
}

func provisionTestConfig() *Config {
	return &Config{
		ID:            "cfg-1",
		WorkspaceID:   "ws-1",
		Protocol:      ProtocolSAML,
		Enabled:       true,
		AutoProvision: true,
		DefaultRole:   workspaces.RoleMember,
		GroupMapping: []GroupMap{
			{Group: "engineering", Role: workspaces.RoleMember},
			{Group: "platform-admins", Role: workspaces.RoleAdmin},
		},
	}
}

func TestMapRole(t *testing.T) {
	cfg := provisionTestConfig()

	tests := []struct {
		name   string
		cfg    *Config
		groups []string
		want   workspaces.Role
	}{
		{"no groups falls back to default", cfg, nil, workspaces.RoleMember},
		{"single match", cfg, []string{"engineering"}, workspaces.RoleMember},
		{"highest match wins", cfg, []string{"engineering", "platform-admins"}, workspaces.RoleAdmin},
		{"unknown groups fall back", cfg, []string{"marketing"}, workspaces.RoleMember},
		{
			"owner mapping is ignored",
			&Config{GroupMapping: []GroupMap{{Group: "root", Role: workspaces.RoleOwner}}, DefaultRole: workspaces.RoleViewer},
			[]string{"root"},
			workspaces.RoleViewer,
		},
		{
			"invalid default falls back to viewer",
			&Config{DefaultRole: workspaces.Role("sorcerer")},
			nil,
			workspaces.RoleViewer,
		},
		{
			"owner default falls back to viewer",
			&Config{DefaultRole: workspaces.RoleOwner},
			nil,
			workspaces.RoleViewer,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MapRole(tc.cfg, tc.groups))
		})
	}
}

func TestProvisionCreatesUserAndMembership(t *testing.T) {
	users := newFakeDirectory()
	members := newFakeMemberships()
	p := NewProvisioner(users, members, audit.NopLogger{}, nil)

	result, err := p.Provision(context.Background(), provisionTestConfig(), &Identity{
		ExternalID: "idp-1",
		Email:      "ada@example.com",
		FullName:   "Ada Lovelace",
		Groups:     []string{"platform-admins"},
	})
	require.NoError(t, err)

	assert.True(t, result.UserCreated)
	assert.True(t, result.MemberAdded)
	assert.Equal(t, workspaces.RoleAdmin, result.Role)
	assert.Equal(t, "ada@example.com", result.User.Email)
	assert.True(t, result.User.EmailVerified)
	assert.True(t, result.User.Active)
	assert.Empty(t, result.User.PasswordHash)

	m, err := members.GetMember(context.Background(), "ws-1", result.User.ID)
	require.NoError(t, err)
	assert.Equal(t, workspaces.RoleAdmin, m.Role)
}

func TestProvisionUnknownUserDeniedWithoutAutoProvision(t *testing.T) {
	cfg := provisionTestConfig()
	cfg.AutoProvision = false
	p := NewProvisioner(newFakeDirectory(), newFakeMemberships(), audit.NopLogger{}, nil)

	_, err := p.Provision(context.Background(), cfg, &Identity{Email: "ada@example.com"})
	assert.ErrorIs(t, err, ErrProvisioningDenied)
}

func TestProvisionExistingNonMemberDeniedWithoutAutoProvision(t *testing.T) {
	cfg := provisionTestConfig()
	cfg.AutoProvision = false
	users := newFakeDirectory()
	users.byEmail["ada@example.com"] = &identity.User{ID: "user-1", Email: "ada@example.com", Active: true}
	members := newFakeMemberships()
	p := NewProvisioner(users, members, audit.NopLogger{}, nil)

	_, err := p.Provision(context.Background(), cfg, &Identity{
		Email:  "ada@example.com",
		Groups: []string{"platform-admins"},
	})
	assert.ErrorIs(t, err, ErrProvisioningDenied)
	assert.Empty(t, members.members)
}

func TestProvisionExistingMemberAllowedWithoutAutoProvision(t *testing.T) {
	cfg := provisionTestConfig()
	cfg.AutoProvision = false
	users := newFakeDirectory()
	users.byEmail["ada@example.com"] = &identity.User{ID: "user-1", Email: "ada@example.com", Active: true}
	members := newFakeMemberships()
	members.members["ws-1/user-1"] = &workspaces.Member{WorkspaceID: "ws-1", UserID: "user-1", Role: workspaces.RoleMember}
	p := NewProvisioner(users, members, audit.NopLogger{}, nil)

	result, err := p.Provision(context.Background(), cfg, &Identity{Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, workspaces.RoleMember, result.Role)
}

func TestProvisionDomainRestriction(t *testing.T) {
	cfg := provisionTestConfig()
	cfg.EmailDomains = []string{"example.com"}
	users := newFakeDirectory()
	p := NewProvisioner(users, newFakeMemberships(), audit.NopLogger{}, nil)

	_, err := p.Provision(context.Background(), cfg, &Identity{Email: "eve@attacker.net"})
	assert.ErrorIs(t, err, ErrDomainNotAllowed)

	_, err = p.Provision(context.Background(), cfg, &Identity{Email: "ada@example.com"})
	assert.NoError(t, err)
}

func TestProvisionDisabledAccount(t *testing.T) {
	users := newFakeDirectory()
	users.byEmail["ada@example.com"] = &identity.User{ID: "user-1", Email: "ada@example.com", Active: false}
	p := NewProvisioner(users, newFakeMemberships(), audit.NopLogger{}, nil)

	_, err := p.Provision(context.Background(), provisionTestConfig(), &Identity{Email: "ada@example.com"})
	assert.ErrorIs(t, err, ErrProvisioningDenied)
}

func TestProvisionUpdatesRoleOnGroupChange(t *testing.T) {
	users := newFakeDirectory()
	users.byEmail["ada@example.com"] = &identity.User{ID: "user-1", Email: "ada@example.com", Active: true}
	members := newFakeMemberships()
	members.members["ws-1/user-1"] = &workspaces.Member{WorkspaceID: "ws-1", UserID: "user-1", Role: workspaces.RoleMember}
	p := NewProvisioner(users, members, audit.NopLogger{}, nil)

	result, err := p.Provision(context.Background(), provisionTestConfig(), &Identity{
		Email:  "ada@example.com",
		Groups: []string{"platform-admins"},
	})
	require.NoError(t, err)

	assert.False(t, result.UserCreated)
	assert.False(t, result.MemberAdded)
	assert.Equal(t, workspaces.RoleAdmin, result.Role)
	assert.Equal(t, 1, members.updates)
}

func TestProvisionLeavesUnchangedRoleAlone(t *testing.T) {
	users := newFakeDirectory()
	users.byEmail["ada@example.com"] = &identity.User{ID: "user-1", Email: "ada@example.com", Active: true}
	members := newFakeMemberships()
	members.members["ws-1/user-1"] = &workspaces.Member{WorkspaceID: "ws-1", UserID: "user-1", Role: workspaces.RoleMember}
	p := NewProvisioner(users, members, audit.NopLogger{}, nil)

	result, err := p.Provision(context.Background(), provisionTestConfig(), &Identity{
		Email:  "ada@example.com",
		Groups: []string{"engineering"},
	})
	require.NoError(t, err)
	assert.Equal(t, workspaces.RoleMember, result.Role)
	assert.Zero(t, members.updates)
}

func TestProvisionNeverDemotesOwner(t *testing.T) {
	users := newFakeDirectory()
	users.byEmail["ada@example.com"] = &identity.User{ID: "user-1", Email: "ada@example.com", Active: true}
	members := newFakeMemberships()
	members.members["ws-1/user-1"] = &workspaces.Member{WorkspaceID: "ws-1", UserID: "user-1", Role: workspaces.RoleOwner}
	p := NewProvisioner(users, members, audit.NopLogger{}, nil)

	result, err := p.Provision(context.Background(), provisionTestConfig(), &Identity{
		Email:  "ada@example.com",
		Groups: []string{"engineering"},
	})
	require.NoError(t, err)
	assert.Equal(t, workspaces.RoleOwner, result.Role)
	assert.Zero(t, members.updates)
	assert.Equal(t, workspaces.RoleOwner, members.members["ws-1/user-1"].Role)
}
