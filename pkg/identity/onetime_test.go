package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokens(t *testing.T) (*OneTimeTokens, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewOneTimeTokens(client), mr
}

func TestOneTimeTokensRoundTrip(t *testing.T) {
	tokens, _ := newTestTokens(t)
	ctx := context.Background()

	token, err := tokens.Issue(ctx, PurposePasswordReset, "user-1", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := tokens.Redeem(ctx, PurposePasswordReset, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestOneTimeTokensSingleUse(t *testing.T) {
	tokens, _ := newTestTokens(t)
	ctx := context.Background()

	token, err := tokens.Issue(ctx, PurposePasswordReset, "user-1", time.Hour)
	require.NoError(t, err)

	_, err = tokens.Redeem(ctx, PurposePasswordReset, token)
	require.NoError(t, err)

	_, err = tokens.Redeem(ctx, PurposePasswordReset, token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestOneTimeTokensPurposeIsolation(t *testing.T) {
	tokens, _ := newTestTokens(t)
	ctx := context.Background()

	token, err := tokens.Issue(ctx, PurposePasswordReset, "user-1", time.Hour)
	require.NoError(t, err)

	_, err = tokens.Redeem(ctx, PurposeEmailVerify, token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestOneTimeTokensExpiry(t *testing.T) {
	tokens, mr := newTestTokens(t)
	ctx := context.Background()

	token, err := tokens.Issue(ctx, PurposeEmailVerify, "user-1", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = tokens.Redeem(ctx, PurposeEmailVerify, token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
