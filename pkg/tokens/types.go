package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "typ" claim so an access token can never be
// presented where a refresh token is expected, and vice versa.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Grant names for metrics and audit trails
const (
	GrantPassword = "password"
	GrantSSO      = "sso"
	GrantRefresh  = "refresh"
)

// Claims is the signed payload for both token types. Access tokens carry
// the workspace and role snapshot taken at issuance; refresh tokens carry
// the rotation family and sequence.
type Claims struct {
	jwt.RegisteredClaims
	TokenType     string `json:"typ"`
	WorkspaceID   string `json:"wid,omitempty"`
	WorkspaceRole string `json:"wrole,omitempty"`
	GlobalRole    string `json:"grole,omitempty"`
	FamilyID      string `json:"fam"`
	Sequence      int64  `json:"seq,omitempty"`
}

// Pair is an access/refresh token pair from the same rotation family
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	FamilyID         string    `json:"-"`
}

var (
	// ErrInvalid indicates a malformed token or bad signature.
	ErrInvalid = errors.New("tokens: invalid token")
	// ErrExpired indicates the token's lifetime has passed.
	ErrExpired = errors.New("tokens: token expired")
	// ErrWrongType indicates an access token presented as a refresh token
	// or the reverse.
	ErrWrongType = errors.New("tokens: wrong token type")
	// ErrRevoked indicates the token's family has been revoked. It wraps
	// ErrInvalid so callers that only distinguish valid from not need a
	// single check.
	ErrRevoked = fmt.Errorf("%w: family revoked", ErrInvalid)
	// ErrReused indicates a refresh token that was already redeemed; the
	// whole family is revoked as a containment measure.
	ErrReused = errors.New("tokens: refresh token reuse detected")
)
