package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RotateOutcome is the result of a compare-and-swap rotation attempt
type RotateOutcome int

const (
	// RotateOK means the presented token was current and has been swapped.
	RotateOK RotateOutcome = iota
	// RotateReused means the presented token was already redeemed.
	RotateReused
	// RotateGone means the family no longer exists (expired or revoked).
	RotateGone
)

// FamilyStore tracks refresh-token rotation families in Redis. Each family
// holds exactly one live refresh token id; rotation swaps it atomically so
// concurrent redemptions of the same token cannot both succeed.
type FamilyStore struct {
	client *redis.Client
}

// NewFamilyStore creates a family store on the given Redis client
func NewFamilyStore(client *redis.Client) *FamilyStore {
	return &FamilyStore{client: client}
}

func familyKey(familyID string) string  { return "atrium:tokfam:" + familyID }
func revokedKey(familyID string) string { return "atrium:tokfam:revoked:" + familyID }
func userFamiliesKey(userID string) string {
	return "atrium:tokfam:user:" + userID
}

// rotateScript swaps the family's live token id only when the presented id
// is still current. Runs atomically inside Redis, which is what makes
// concurrent rotation safe.
var rotateScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
    return -1
end
if cur ~= ARGV[1] then
    return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'EX', ARGV[3])
return 1
`)

// Open registers a new family with its first refresh token id
func (f *FamilyStore) Open(ctx context.Context, familyID, userID, tokenID string, ttl time.Duration) error {
	pipe := f.client.TxPipeline()
	pipe.Set(ctx, familyKey(familyID), tokenID, ttl)
	pipe.SAdd(ctx, userFamiliesKey(userID), familyID)
	pipe.Expire(ctx, userFamiliesKey(userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("open family: %w", err)
	}
	return nil
}

// Rotate attempts to swap the live token id from presented to next
func (f *FamilyStore) Rotate(ctx context.Context, familyID, presentedID, nextID string, ttl time.Duration) (RotateOutcome, error) {
	res, err := rotateScript.Run(ctx, f.client,
		[]string{familyKey(familyID)},
		presentedID, nextID, int(ttl.Seconds())).Int()
	if err != nil {
		return RotateGone, fmt.Errorf("rotate family: %w", err)
	}
	switch res {
	case 1:
		return RotateOK, nil
	case 0:
		return RotateReused, nil
	default:
		return RotateGone, nil
	}
}

// Revoke kills the family. The revocation marker outlives the longest
// possible refresh token so late presentations still see it.
func (f *FamilyStore) Revoke(ctx context.Context, familyID, reason string, ttl time.Duration) error {
	pipe := f.client.TxPipeline()
	pipe.Del(ctx, familyKey(familyID))
	pipe.Set(ctx, revokedKey(familyID), reason, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revoke family: %w", err)
	}
	return nil
}

// IsRevoked reports whether the family carries a revocation marker
func (f *FamilyStore) IsRevoked(ctx context.Context, familyID string) (bool, error) {
	n, err := f.client.Exists(ctx, revokedKey(familyID)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// RevokeAllForUser revokes every family the user has opened
func (f *FamilyStore) RevokeAllForUser(ctx context.Context, userID, reason string, ttl time.Duration) (int, error) {
	familyIDs, err := f.client.SMembers(ctx, userFamiliesKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list user families: %w", err)
	}
	for _, id := range familyIDs {
		if err := f.Revoke(ctx, id, reason, ttl); err != nil {
			return 0, err
		}
	}
	if err := f.client.Del(ctx, userFamiliesKey(userID)).Err(); err != nil {
		return 0, fmt.Errorf("clear user families: %w", err)
	}
	return len(familyIDs), nil
}
