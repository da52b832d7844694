package identity

import (
	"context"
	"strings"
	"time"

	"github.com/atriumhq/atrium/pkg/audit"
	"github.com/atriumhq/atrium/pkg/observability"
)

// UserStore is the persistence surface the service needs
type UserStore interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, userID, hash string) error
	RecordLogin(ctx context.Context, userID string, at time.Time) error
	SetEmailVerified(ctx context.Context, userID string) error
}

// TokenStore issues and redeems single-use tokens
type TokenStore interface {
	Issue(ctx context.Context, purpose, userID string, ttl time.Duration) (string, error)
	Redeem(ctx context.Context, purpose, token string) (string, error)
}

// EnforcementLookup reports whether an email domain is covered by a
// workspace that enforces SSO. Password logins for such domains are
// rejected.
type EnforcementLookup interface {
	DomainEnforced(ctx context.Context, domain string) (bool, error)
}

// SessionRevoker invalidates every refresh-token family a user holds.
// Password resets use it to cut off stolen sessions.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID, reason string) error
}

// ServiceConfig carries identity tunables
type ServiceConfig struct {
	BcryptCost       int
	PasswordResetTTL time.Duration
	EmailVerifyTTL   time.Duration
}

// Service implements registration and password authentication
type Service struct {
	store       UserStore
	tokens      TokenStore
	enforcement EnforcementLookup
	revoker     SessionRevoker
	audit       audit.Logger
	cfg         ServiceConfig
}

// NewService creates the identity service. enforcement and revoker may be
// nil when the corresponding integration is not wired.
func NewService(store UserStore, tokens TokenStore, enforcement EnforcementLookup, revoker SessionRevoker, auditLogger audit.Logger, cfg ServiceConfig) *Service {
	if cfg.PasswordResetTTL == 0 {
		cfg.PasswordResetTTL = time.Hour
	}
	if cfg.EmailVerifyTTL == 0 {
		cfg.EmailVerifyTTL = 24 * time.Hour
	}
	return &Service{
		store:       store,
		tokens:      tokens,
		enforcement: enforcement,
		revoker:     revoker,
		audit:       auditLogger,
		cfg:         cfg,
	}
}

// EmailDomain extracts the lowercase domain part of an email address
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// RegisterParams are inputs for self-service registration
type RegisterParams struct {
	Email    string
	Password string
	FullName string
}

// Register creates a user with a hashed password and returns an email
// verification token the caller is expected to deliver out of band.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*User, string, error) {
	if err := ValidatePassword(params.Password); err != nil {
		return nil, "", err
	}
	hash, err := HashPassword(params.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, "", err
	}

	u := &User{
		Email:        strings.ToLower(strings.TrimSpace(params.Email)),
		PasswordHash: hash,
		FullName:     params.FullName,
		GlobalRole:   GlobalRoleUser,
		Active:       true,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, "", err
	}

	verifyToken, err := s.tokens.Issue(ctx, PurposeEmailVerify, u.ID, s.cfg.EmailVerifyTTL)
	if err != nil {
		return nil, "", err
	}

	observability.FromContext(ctx).WithField("user_id", u.ID).Info("user registered")
	audit.Record(ctx, s.audit, &audit.Event{
		EventType: audit.EventTypeAuthRegister,
		Status:    audit.EventStatusSuccess,
		UserID:    u.ID,
	})
	return u, verifyToken, nil
}

// dummyHash keeps failed lookups and failed password checks on the same
// bcrypt timing path.
var dummyHash, _ = HashPassword("atrium-timing-equalizer", 0)

// Authenticate validates a password login. Domains under SSO enforcement
// are rejected before any credential check.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	if s.enforcement != nil {
		enforced, err := s.enforcement.DomainEnforced(ctx, EmailDomain(email))
		if err != nil {
			return nil, err
		}
		if enforced {
			audit.Record(ctx, s.audit, &audit.Event{
				EventType: audit.EventTypeAuthLogin,
				Status:    audit.EventStatusDenied,
				Reason:    "sso_enforced",
			})
			return nil, ErrSSOEnforced
		}
	}

	u, err := s.store.GetByEmail(ctx, email)
	if err == ErrNotFound {
		CheckPassword(dummyHash, password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if u.PasswordHash == "" {
		return nil, ErrPasswordLoginUnavailable
	}
	if !CheckPassword(u.PasswordHash, password) {
		audit.Record(ctx, s.audit, &audit.Event{
			EventType: audit.EventTypeAuthLogin,
			Status:    audit.EventStatusFailure,
			UserID:    u.ID,
			Reason:    "bad_password",
		})
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		return nil, ErrAccountDisabled
	}

	now := time.Now().UTC()
	if err := s.store.RecordLogin(ctx, u.ID, now); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("record login failed")
	}
	u.LastLoginAt = &now

	audit.Record(ctx, s.audit, &audit.Event{
		EventType: audit.EventTypeAuthLogin,
		Status:    audit.EventStatusSuccess,
		UserID:    u.ID,
	})
	return u, nil
}

// Get returns a user by id
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.GetByID(ctx, id)
}

// GetByEmail returns a user by email
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.store.GetByEmail(ctx, email)
}

// ChangePassword swaps the password after verifying the current one, then
// revokes all of the user's refresh-token families.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.PasswordHash == "" {
		// provisioned through SSO; there is no password to change
		return ErrPasswordLoginUnavailable
	}
	if !CheckPassword(u.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	hash, err := HashPassword(next, s.cfg.BcryptCost)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	s.revokeSessions(ctx, userID, "password_change")

	audit.Record(ctx, s.audit, &audit.Event{
		EventType: audit.EventTypeAuthPasswordChange,
		Status:    audit.EventStatusSuccess,
		UserID:    userID,
	})
	return nil
}

// RequestPasswordReset issues a reset token for the account. Callers must
// not reveal to the requester whether the email exists; ErrNotFound is for
// the caller's logs only.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	token, err := s.tokens.Issue(ctx, PurposePasswordReset, u.ID, s.cfg.PasswordResetTTL)
	if err != nil {
		return "", err
	}
	audit.Record(ctx, s.audit, &audit.Event{
		EventType: audit.EventTypeAuthPasswordResetRequest,
		Status:    audit.EventStatusSuccess,
		UserID:    u.ID,
	})
	return token, nil
}

// CompletePasswordReset redeems a reset token, sets the new password, and
// revokes all active sessions for the account.
func (s *Service) CompletePasswordReset(ctx context.Context, token, next string) error {
	if err := ValidatePassword(next); err != nil {
		return err
	}
	userID, err := s.tokens.Redeem(ctx, PurposePasswordReset, token)
	if err != nil {
		return err
	}
	hash, err := HashPassword(next, s.cfg.BcryptCost)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	s.revokeSessions(ctx, userID, "password_reset")

	audit.Record(ctx, s.audit, &audit.Event{
		EventType: audit.EventTypeAuthPasswordReset,
		Status:    audit.EventStatusSuccess,
		UserID:    userID,
	})
	return nil
}

// VerifyEmail redeems a verification token and marks the account verified
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	userID, err := s.tokens.Redeem(ctx, PurposeEmailVerify, token)
	if err != nil {
		return err
	}
	if err := s.store.SetEmailVerified(ctx, userID); err != nil {
		return err
	}
	audit.Record(ctx, s.audit, &audit.Event{
		EventType: audit.EventTypeAuthEmailVerified,
		Status:    audit.EventStatusSuccess,
		UserID:    userID,
	})
	return nil
}

func (s *Service) revokeSessions(ctx context.Context, userID, reason string) {
	if s.revoker == nil {
		return
	}
	if err := s.revoker.RevokeUser(ctx, userID, reason); err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("user_id", userID).Error("session revocation failed")
	}
}
