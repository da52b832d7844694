package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atriumhq/atrium/pkg/httputil"
	"github.com/atriumhq/atrium/pkg/identity"
	"github.com/atriumhq/atrium/pkg/tokens"
	"github.com/atriumhq/atrium/pkg/workspaces"
)

func TestRegisterAndVerifyEmail(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email":     "ada@example.com",
		"password":  "strong-password-77",
		"full_name": "Ada Lovelace",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		User struct {
			ID            string `json:"id"`
			Email         string `json:"email"`
			EmailVerified bool   `json:"email_verified"`
		} `json:"user"`
		VerificationToken string `json:"verification_token"`
	}
	f.decode(rec, &body)
	assert.Equal(t, "ada@example.com", body.User.Email)
	assert.False(t, body.User.EmailVerified)
	require.NotEmpty(t, body.VerificationToken)

	rec = f.do(http.MethodPost, "/v1/auth/email/verify", "", map[string]string{
		"token": body.VerificationToken,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	user, err := f.users.GetByID(context.Background(), body.User.ID)
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.seedUser("taken@example.com", "strong-password-77")

	rec := f.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "taken@example.com", "password": "strong-password-77",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterWeakPassword(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "weak@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser("ada@example.com", "strong-password-77")

	rec := f.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "strong-password-77",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var pair tokens.Pair
	f.decode(rec, &pair)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := f.tokens.VerifyAccess(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Empty(t, claims.WorkspaceID)
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.seedUser("ada@example.com", "strong-password-77")

	rec := f.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "not-the-password-1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body httputil.ErrorResponse
	f.decode(rec, &body)
	assert.Equal(t, "invalid email or password", body.Error)
}

func TestLoginUnknownEmailSameResponse(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "ghost@example.com", "password": "whatever-password-1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body httputil.ErrorResponse
	f.decode(rec, &body)
	assert.Equal(t, "invalid email or password", body.Error)
}

func TestLoginSSOEnforcedDomain(t *testing.T) {
	f := newFixture(t)
	f.seedUser("eve@enforced.example.com", "strong-password-77")

	rec := f.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "eve@enforced.example.com", "password": "strong-password-77",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body httputil.ErrorResponse
	f.decode(rec, &body)
	assert.Equal(t, "sso_enforced", body.Code)
}

func TestLoginDisabledAccount(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser("off@example.com", "strong-password-77")
	user.Active = false

	rec := f.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "off@example.com", "password": "strong-password-77",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body httputil.ErrorResponse
	f.decode(rec, &body)
	assert.Equal(t, "account_disabled", body.Code)
}

func TestLoginWithWorkspace(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser("ada@example.com", "strong-password-77")
	require.NoError(t, f.ws.Create(context.Background(),
		&workspaces.Workspace{Name: "Acme", Slug: "acme", OwnerID: user.ID}))

	rec := f.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":        "ada@example.com",
		"password":     "strong-password-77",
		"workspace_id": "ws-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var pair tokens.Pair
	f.decode(rec, &pair)
	claims, err := f.tokens.VerifyAccess(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ws-1", claims.WorkspaceID)
	assert.Equal(t, string(workspaces.RoleOwner), claims.WorkspaceRole)
}

func TestLoginWorkspaceNotMember(t *testing.T) {
	f := newFixture(t)
	f.seedUser("ada@example.com", "strong-password-77")

	rec := f.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":        "ada@example.com",
		"password":     "strong-password-77",
		"workspace_id": "ws-elsewhere",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRefreshRotationAndReuse(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser("ada@example.com", "strong-password-77")

	pair, err := f.tokens.Issue(context.Background(), tokens.IssueParams{
		UserID: user.ID, Grant: tokens.GrantPassword,
	})
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var rotated tokens.Pair
	f.decode(rec, &rotated)
	require.NotEmpty(t, rotated.RefreshToken)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// replaying the consumed token burns the whole family
	rec = f.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body httputil.ErrorResponse
	f.decode(rec, &body)
	assert.Equal(t, "token_reuse", body.Code)

	rec = f.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": rotated.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser("ada@example.com", "strong-password-77")

	pair, err := f.tokens.Issue(context.Background(), tokens.IssueParams{
		UserID: user.ID, Grant: tokens.GrantPassword,
	})
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/v1/auth/logout", "", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutGarbageTokenStillSucceeds(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/auth/logout", "", map[string]string{
		"refresh_token": "not-a-jwt",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	f.seedUser("ada@example.com", "old-password-77")

	rec := f.do(http.MethodPost, "/v1/auth/password/reset", "", map[string]string{
		"email": "ada@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	f.decode(rec, &body)
	require.NotEmpty(t, body["reset_token"])

	rec = f.do(http.MethodPost, "/v1/auth/password/reset/complete", "", map[string]string{
		"token":        body["reset_token"],
		"new_password": "new-password-88",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "old-password-77",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "new-password-88",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPasswordResetUnknownEmail(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/auth/password/reset", "", map[string]string{
		"email": "ghost@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	f.decode(rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "reset_token")
}

func TestPasswordResetCompleteInvalidToken(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/auth/password/reset/complete", "", map[string]string{
		"token":        "tok-password_reset-nobody",
		"new_password": "new-password-88",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser("ada@example.com", "old-password-77")
	token := f.accessToken(user.ID, "", "")

	rec := f.do(http.MethodPost, "/v1/auth/password/change", token, map[string]string{
		"current_password": "wrong-password-1",
		"new_password":     "new-password-88",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/v1/auth/password/change", token, map[string]string{
		"current_password": "old-password-77",
		"new_password":     "new-password-88",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "new-password-88",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChangePasswordSSOOnlyAccount(t *testing.T) {
	f := newFixture(t)
	user := &identity.User{
		Email: "sso-only@corp.example.com", GlobalRole: identity.GlobalRoleUser,
		EmailVerified: true, Active: true,
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	token := f.accessToken(user.ID, "", "")

	rec := f.do(http.MethodPost, "/v1/auth/password/change", token, map[string]string{
		"current_password": "anything-at-all-1", "new_password": "new-password-88",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body httputil.ErrorResponse
	f.decode(rec, &body)
	assert.Equal(t, "sso_only", body.Code)
}

func TestChangePasswordRequiresAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/auth/password/change", "", map[string]string{
		"current_password": "a-password-11", "new_password": "b-password-22",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser("ada@example.com", "strong-password-77")
	token := f.accessToken(user.ID, "", "")

	rec := f.do(http.MethodGet, "/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	f.decode(rec, &body)
	assert.Equal(t, user.ID, body.ID)
	assert.Equal(t, "ada@example.com", body.Email)
}

func TestRevokeSessions(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser("ada@example.com", "strong-password-77")

	pair, err := f.tokens.Issue(context.Background(), tokens.IssueParams{
		UserID: user.ID, Grant: tokens.GrantPassword,
	})
	require.NoError(t, err)

	rec := f.do(http.MethodDelete, "/v1/auth/sessions", pair.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
