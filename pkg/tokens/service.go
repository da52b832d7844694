package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/atriumhq/atrium/pkg/audit"
	"github.com/atriumhq/atrium/pkg/observability"
)

// ServiceConfig carries signing material and lifetimes. Access and refresh
// secrets must differ so one token type can never validate as the other.
type ServiceConfig struct {
	Issuer        string
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Service issues, verifies, rotates, and revokes token pairs
type Service struct {
	cfg      ServiceConfig
	families *FamilyStore
	audit    audit.Logger
	metrics  *observability.Metrics
}

// NewService creates the token service. metrics may be nil.
func NewService(cfg ServiceConfig, families *FamilyStore, auditLogger audit.Logger, metrics *observability.Metrics) *Service {
	return &Service{cfg: cfg, families: families, audit: auditLogger, metrics: metrics}
}

// IssueParams is the identity and authorization snapshot baked into a pair
type IssueParams struct {
	UserID        string
	WorkspaceID   string
	WorkspaceRole string
	GlobalRole    string
	Grant         string
}

// Issue opens a new rotation family and returns its first pair
func (s *Service) Issue(ctx context.Context, params IssueParams) (*Pair, error) {
	familyID := uuid.NewString()
	refreshID := uuid.NewString()

	if err := s.families.Open(ctx, familyID, params.UserID, refreshID, s.cfg.RefreshTTL); err != nil {
		return nil, err
	}

	pair, err := s.sign(params, familyID, refreshID, 1)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		grant := params.Grant
		if grant == "" {
			grant = GrantPassword
		}
		s.metrics.TokensIssuedTotal.WithLabelValues(grant).Inc()
	}
	audit.Record(ctx, s.audit, &audit.Event{
		EventType:   audit.EventTypeTokenIssue,
		Status:      audit.EventStatusSuccess,
		UserID:      params.UserID,
		WorkspaceID: params.WorkspaceID,
		FamilyID:    familyID,
		Metadata:    map[string]interface{}{"grant": params.Grant},
	})
	return pair, nil
}

// VerifyAccess validates an access token and checks its family against the
// revocation list.
func (s *Service) VerifyAccess(ctx context.Context, raw string) (*Claims, error) {
	claims, err := s.parse(raw, s.cfg.AccessSecret, TypeAccess)
	if err != nil {
		s.countVerify("invalid")
		return nil, err
	}

	revoked, err := s.families.IsRevoked(ctx, claims.FamilyID)
	if err != nil {
		return nil, err
	}
	if revoked {
		s.countVerify("revoked")
		audit.Record(ctx, s.audit, &audit.Event{
			EventType: audit.EventTypeTokenVerifyFailed,
			Status:    audit.EventStatusDenied,
			UserID:    claims.Subject,
			FamilyID:  claims.FamilyID,
			Reason:    "family_revoked",
		})
		return nil, ErrRevoked
	}

	s.countVerify("ok")
	return claims, nil
}

// Rotate redeems a refresh token for a new pair in the same family. A token
// that was already redeemed marks the family as compromised: every token in
// it is revoked and ErrReused is returned.
func (s *Service) Rotate(ctx context.Context, rawRefresh string) (*Pair, error) {
	claims, err := s.parse(rawRefresh, s.cfg.RefreshSecret, TypeRefresh)
	if err != nil {
		s.countRotation("invalid")
		return nil, err
	}

	revoked, err := s.families.IsRevoked(ctx, claims.FamilyID)
	if err != nil {
		return nil, err
	}
	if revoked {
		s.countRotation("revoked")
		return nil, ErrRevoked
	}

	nextID := uuid.NewString()
	outcome, err := s.families.Rotate(ctx, claims.FamilyID, claims.ID, nextID, s.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case RotateReused:
		s.countRotation("reuse")
		if s.metrics != nil {
			s.metrics.TokenReuseDetected.Inc()
		}
		if err := s.families.Revoke(ctx, claims.FamilyID, "reuse", s.cfg.RefreshTTL); err != nil {
			observability.FromContext(ctx).WithError(err).Error("family revocation after reuse failed")
		}
		audit.Record(ctx, s.audit, &audit.Event{
			EventType:   audit.EventTypeTokenReuse,
			Status:      audit.EventStatusDenied,
			UserID:      claims.Subject,
			WorkspaceID: claims.WorkspaceID,
			FamilyID:    claims.FamilyID,
			Reason:      "refresh_token_replayed",
		})
		return nil, ErrReused

	case RotateGone:
		s.countRotation("gone")
		return nil, ErrExpired
	}

	pair, err := s.sign(IssueParams{
		UserID:        claims.Subject,
		WorkspaceID:   claims.WorkspaceID,
		WorkspaceRole: claims.WorkspaceRole,
		GlobalRole:    claims.GlobalRole,
	}, claims.FamilyID, nextID, claims.Sequence+1)
	if err != nil {
		return nil, err
	}

	s.countRotation("ok")
	if s.metrics != nil {
		s.metrics.TokensIssuedTotal.WithLabelValues(GrantRefresh).Inc()
	}
	audit.Record(ctx, s.audit, &audit.Event{
		EventType:   audit.EventTypeTokenRotate,
		Status:      audit.EventStatusSuccess,
		UserID:      claims.Subject,
		WorkspaceID: claims.WorkspaceID,
		FamilyID:    claims.FamilyID,
	})
	return pair, nil
}

// Revoke ends the session behind a refresh token (logout). The token does
// not need to be current, only authentic: a superseded token still names
// the family it belongs to.
func (s *Service) Revoke(ctx context.Context, rawRefresh, reason string) error {
	claims, err := s.parse(rawRefresh, s.cfg.RefreshSecret, TypeRefresh)
	if err != nil {
		return err
	}
	if err := s.families.Revoke(ctx, claims.FamilyID, reason, s.cfg.RefreshTTL); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.TokenRevocationsTotal.WithLabelValues("family").Inc()
	}
	audit.Record(ctx, s.audit, &audit.Event{
		EventType: audit.EventTypeTokenRevoke,
		Status:    audit.EventStatusSuccess,
		UserID:    claims.Subject,
		FamilyID:  claims.FamilyID,
		Reason:    reason,
	})
	return nil
}

// RevokeUser revokes every family the user holds. Used on password change
// and reset.
func (s *Service) RevokeUser(ctx context.Context, userID, reason string) error {
	n, err := s.families.RevokeAllForUser(ctx, userID, reason, s.cfg.RefreshTTL)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.TokenRevocationsTotal.WithLabelValues("user").Inc()
	}
	audit.Record(ctx, s.audit, &audit.Event{
		EventType: audit.EventTypeTokenRevoke,
		Status:    audit.EventStatusSuccess,
		UserID:    userID,
		Reason:    reason,
		Metadata:  map[string]interface{}{"families_revoked": n},
	})
	return nil
}

func (s *Service) sign(params IssueParams, familyID, refreshID string, sequence int64) (*Pair, error) {
	now := time.Now().UTC()
	accessExp := now.Add(s.cfg.AccessTTL)
	refreshExp := now.Add(s.cfg.RefreshTTL)

	access := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   params.UserID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
		TokenType:     TypeAccess,
		WorkspaceID:   params.WorkspaceID,
		WorkspaceRole: params.WorkspaceRole,
		GlobalRole:    params.GlobalRole,
		FamilyID:      familyID,
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, access).SignedString(s.cfg.AccessSecret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   params.UserID,
			ID:        refreshID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
		TokenType:     TypeRefresh,
		WorkspaceID:   params.WorkspaceID,
		WorkspaceRole: params.WorkspaceRole,
		GlobalRole:    params.GlobalRole,
		FamilyID:      familyID,
		Sequence:      sequence,
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refresh).SignedString(s.cfg.RefreshSecret)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		FamilyID:         familyID,
	}, nil
}

func (s *Service) parse(raw string, secret []byte, wantType string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(s.cfg.Issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if claims.TokenType != wantType {
		return nil, ErrWrongType
	}
	return claims, nil
}

func (s *Service) countVerify(outcome string) {
	if s.metrics != nil {
		s.metrics.TokenVerifyTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countRotation(outcome string) {
	if s.metrics != nil {
		s.metrics.TokenRotationsTotal.WithLabelValues(outcome).Inc()
	}
}
