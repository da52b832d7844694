package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Token purposes, used as key namespaces so a reset token can never be
// replayed as a verification token.
const (
	PurposePasswordReset = "pwreset"
	PurposeEmailVerify   = "verify"
)

// OneTimeTokens issues and redeems single-use, expiring tokens backed by
// Redis. Redemption deletes the token atomically, so each token can be
// consumed at most once.
type OneTimeTokens struct {
	client *redis.Client
}

// NewOneTimeTokens creates a token store on the given Redis client
func NewOneTimeTokens(client *redis.Client) *OneTimeTokens {
	return &OneTimeTokens{client: client}
}

func oneTimeKey(purpose, token string) string {
	return fmt.Sprintf("atrium:onetime:%s:%s", purpose, token)
}

// Issue creates a token bound to userID that expires after ttl
func (o *OneTimeTokens) Issue(ctx context.Context, purpose, userID string, ttl time.Duration) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := o.client.Set(ctx, oneTimeKey(purpose, token), userID, ttl).Err(); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Redeem consumes the token and returns the bound user id. A second call
// with the same token returns ErrTokenInvalid.
func (o *OneTimeTokens) Redeem(ctx context.Context, purpose, token string) (string, error) {
	userID, err := o.client.GetDel(ctx, oneTimeKey(purpose, token)).Result()
	if err == redis.Nil {
		return "", ErrTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("redeem token: %w", err)
	}
	return userID, nil
}
