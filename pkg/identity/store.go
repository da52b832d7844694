package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store persists users in PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, email, password_hash, full_name, global_role, email_verified, active, last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	u := &User{}
	var hash sql.NullString
	err := row.Scan(&u.ID, &u.Email, &hash, &u.FullName, &u.GlobalRole,
		&u.EmailVerified, &u.Active, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.PasswordHash = hash.String
	return u, nil
}

// Create inserts a user. Emails are stored lowercase and compared
// case-insensitively.
func (s *Store) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(u.Email)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, password_hash, full_name, global_role, email_verified, active, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`, u.ID, u.Email, u.PasswordHash, u.FullName, u.GlobalRole, u.EmailVerified, u.Active).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID returns a user by id
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns a user by email, case-insensitively
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = LOWER($1)`, email)
	return scanUser(row)
}

// Update persists mutable profile fields
func (s *Store) Update(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET full_name = $1, global_role = $2, email_verified = $3, active = $4, updated_at = NOW()
		WHERE id = $5
	`, u.FullName, u.GlobalRole, u.EmailVerified, u.Active, u.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the password hash
func (s *Store) UpdatePassword(ctx context.Context, userID, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2
	`, hash, userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLogin stamps last_login_at
func (s *Store) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = $1 WHERE id = $2
	`, at, userID)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	return nil
}

// SetEmailVerified marks the account's email as verified
func (s *Store) SetEmailVerified(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("set email verified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
