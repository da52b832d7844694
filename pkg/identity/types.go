package identity

import (
	"errors"
	"time"
)

// GlobalRole is a platform-wide role, distinct from per-workspace roles.
type GlobalRole string

const (
	GlobalRoleUser       GlobalRole = "user"
	GlobalRoleAdmin      GlobalRole = "admin"
	GlobalRoleSuperAdmin GlobalRole = "super_admin"
)

var globalRoleLevels = map[GlobalRole]int{
	GlobalRoleUser:       1,
	GlobalRoleAdmin:      2,
	GlobalRoleSuperAdmin: 3,
}

// Level returns the role's position in the ordering; unknown roles are 0.
func (r GlobalRole) Level() int { return globalRoleLevels[r] }

// Valid reports whether the role is a known value
func (r GlobalRole) Valid() bool { return globalRoleLevels[r] != 0 }

// AtLeast reports whether r grants everything required does
func (r GlobalRole) AtLeast(required GlobalRole) bool {
	return r.Level() >= required.Level()
}

// User is a platform identity. Users created through SSO provisioning carry
// an empty PasswordHash and can only sign in through their identity provider.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	FullName      string     `json:"full_name"`
	GlobalRole    GlobalRole `json:"global_role"`
	EmailVerified bool       `json:"email_verified"`
	Active        bool       `json:"active"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

var (
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = errors.New("identity: user not found")
	// ErrEmailTaken indicates another account already uses the email.
	ErrEmailTaken = errors.New("identity: email already registered")
	// ErrInvalidCredentials covers both unknown email and wrong password so
	// responses cannot be used to probe for accounts.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrAccountDisabled indicates the account is deactivated.
	ErrAccountDisabled = errors.New("identity: account disabled")
	// ErrSSOEnforced indicates password login is blocked because the email
	// domain requires SSO.
	ErrSSOEnforced = errors.New("identity: sso required for this email domain")
	// ErrPasswordLoginUnavailable indicates the account has no password,
	// typically because it was provisioned through SSO.
	ErrPasswordLoginUnavailable = errors.New("identity: password login not available for this account")
	// ErrTokenInvalid indicates an unknown, expired, or already-used
	// reset or verification token.
	ErrTokenInvalid = errors.New("identity: token invalid or expired")
	// ErrWeakPassword indicates the password fails the minimum policy.
	ErrWeakPassword = errors.New("identity: password does not meet requirements")
)
