// Package redis provides Redis-backed ChallengeStore and ResetTokenStore
// implementations. Both records are short lived, so keys carry a TTL and
// expire on their own. Principals and links belong in a durable store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	ca "github.com/panyam/campusauth"
)

// Expired records stay readable for this long so callers can tell
// "expired" apart from "never existed".
const DefaultRetention = time.Hour

const maxWatchRetries = 5

// ChallengeStore keeps each principal's outstanding challenge in one hash
type ChallengeStore struct {
	client    redis.UniversalClient
	prefix    string
	Retention time.Duration
}

// NewChallengeStore creates a Redis-based challenge store. Keys are
// prefix + "challenge:" + principal id.
func NewChallengeStore(client redis.UniversalClient, prefix string) *ChallengeStore {
	return &ChallengeStore{client: client, prefix: prefix, Retention: DefaultRetention}
}

func (s *ChallengeStore) key(principalID string) string {
	return s.prefix + "challenge:" + principalID
}

// incrementIfCurrent bumps attempts only while the stored challenge id matches
var incrementIfCurrent = redis.NewScript(`
if redis.call("HGET", KEYS[1], "id") ~= ARGV[1] then
  return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`)

// deleteIfCurrent removes the challenge only while its id matches
var deleteIfCurrent = redis.NewScript(`
if redis.call("HGET", KEYS[1], "id") ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`)

func (s *ChallengeStore) ReplaceChallenge(ctx context.Context, c *ca.Challenge) error {
	key := s.key(c.PrincipalID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"id", c.ID,
			"method", string(c.Method),
			"code_hash", c.CodeHash,
			"attempts", c.Attempts,
			"created_at", formatTime(c.CreatedAt),
			"expires_at", formatTime(c.ExpiresAt),
		)
		pipe.ExpireAt(ctx, key, c.ExpiresAt.Add(s.Retention))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis replace challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) GetChallenge(ctx context.Context, principalID string) (*ca.Challenge, error) {
	fields, err := s.client.HGetAll(ctx, s.key(principalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get challenge: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("challenge: %w", ca.ErrNotFound)
	}
	attempts, _ := strconv.Atoi(fields["attempts"])
	c := &ca.Challenge{
		ID:          fields["id"],
		PrincipalID: principalID,
		Method:      ca.DeliveryMethod(fields["method"]),
		CodeHash:    fields["code_hash"],
		Attempts:    attempts,
	}
	if c.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, err
	}
	if c.ExpiresAt, err = parseTime(fields["expires_at"]); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ChallengeStore) IncrementAttempts(ctx context.Context, principalID, challengeID string) (int, error) {
	n, err := incrementIfCurrent.Run(ctx, s.client, []string{s.key(principalID)}, challengeID).Int()
	if err != nil {
		return 0, fmt.Errorf("redis increment attempts: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("challenge %s: %w", challengeID, ca.ErrNotFound)
	}
	return n, nil
}

func (s *ChallengeStore) DeleteChallenge(ctx context.Context, principalID, challengeID string) (bool, error) {
	n, err := deleteIfCurrent.Run(ctx, s.client, []string{s.key(principalID)}, challengeID).Int()
	if err != nil {
		return false, fmt.Errorf("redis delete challenge: %w", err)
	}
	return n == 1, nil
}

// ResetTokenStore keeps reset tokens as hashes keyed by token hash, plus a
// per-principal pointer to the live token
type ResetTokenStore struct {
	client    redis.UniversalClient
	prefix    string
	Retention time.Duration
}

// NewResetTokenStore creates a Redis-based reset token store
func NewResetTokenStore(client redis.UniversalClient, prefix string) *ResetTokenStore {
	return &ResetTokenStore{client: client, prefix: prefix, Retention: DefaultRetention}
}

func (s *ResetTokenStore) tokenKey(hash string) string {
	return s.prefix + "reset:" + hash
}

func (s *ResetTokenStore) indexKey(principalID string) string {
	return s.prefix + "reset_index:" + principalID
}

// consumeOnce sets consumed_at if the token exists and is unconsumed
var consumeOnce = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HSETNX", KEYS[1], "consumed_at", ARGV[1]) == 0 then
  return 0
end
return 1
`)

// ReplaceResetToken watches the principal's index key so two concurrent
// requests cannot both leave a live token behind
func (s *ResetTokenStore) ReplaceResetToken(ctx context.Context, t *ca.ResetToken) error {
	indexKey := s.indexKey(t.PrincipalID)
	tokenKey := s.tokenKey(t.TokenHash)
	expireAt := t.ExpiresAt.Add(s.Retention)

	txf := func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, indexKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if old != "" && old != t.TokenHash {
				pipe.Del(ctx, s.tokenKey(old))
			}
			pipe.HSet(ctx, tokenKey,
				"principal_id", t.PrincipalID,
				"email", t.Email,
				"created_at", formatTime(t.CreatedAt),
				"expires_at", formatTime(t.ExpiresAt),
			)
			pipe.ExpireAt(ctx, tokenKey, expireAt)
			pipe.Set(ctx, indexKey, t.TokenHash, 0)
			pipe.ExpireAt(ctx, indexKey, expireAt)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, indexKey)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("redis replace reset token: %w", err)
		}
	}
	return fmt.Errorf("redis replace reset token: too much contention")
}

func (s *ResetTokenStore) GetResetToken(ctx context.Context, tokenHash string) (*ca.ResetToken, error) {
	fields, err := s.client.HGetAll(ctx, s.tokenKey(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get reset token: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("reset token: %w", ca.ErrNotFound)
	}
	t := &ca.ResetToken{
		TokenHash:   tokenHash,
		PrincipalID: fields["principal_id"],
		Email:       fields["email"],
	}
	if t.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, err
	}
	if t.ExpiresAt, err = parseTime(fields["expires_at"]); err != nil {
		return nil, err
	}
	if v, ok := fields["consumed_at"]; ok {
		at, err := parseTime(v)
		if err != nil {
			return nil, err
		}
		t.ConsumedAt = &at
	}
	return t, nil
}

func (s *ResetTokenStore) ConsumeResetToken(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	n, err := consumeOnce.Run(ctx, s.client, []string{s.tokenKey(tokenHash)}, formatTime(at)).Int()
	if err != nil {
		return false, fmt.Errorf("redis consume reset token: %w", err)
	}
	return n == 1, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", v, err)
	}
	return t, nil
}
