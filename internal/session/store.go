// Package session manages resumable session tokens. A session is a signed
// JWT whose jti points at a live Redis record; resuming requires both the
// signature and the record to check out, so revocation and expiry always
// fail closed.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the Redis key prefix for all session hashes.
const KeyPrefix = "session:"

// Record is the live session state stored in Redis.
type Record struct {
	ID         string `redis:"id"` // jti
	IdentityID string `redis:"identity_id"`
	Guest      bool   `redis:"guest"`
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages session records in Redis.
type Store struct {
	client     *redis.Client
	accountTTL time.Duration
	guestTTL   time.Duration
}

// NewStore creates a session store on the given Redis client. Guests get a
// shorter TTL than accounts.
func NewStore(client *redis.Client, accountTTL, guestTTL time.Duration) *Store {
	return &Store{client: client, accountTTL: accountTTL, guestTTL: guestTTL}
}

func (s *Store) ttl(guest bool) time.Duration {
	if guest {
		return s.guestTTL
	}
	return s.accountTTL
}

// Create stores a new session record with the TTL appropriate for the
// identity type.
func (s *Store) Create(ctx context.Context, rec Record) error {
	key := KeyPrefix + rec.ID
	now := time.Now().Unix()

	fields := map[string]interface{}{
		"id":          rec.ID,
		"identity_id": rec.IdentityID,
		"guest":       rec.Guest,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl(rec.Guest))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: create: %w", err)
	}
	return nil
}

// Get retrieves a session record. Returns nil if the record has expired or
// never existed.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := s.client.HGetAll(ctx, KeyPrefix+id).Scan(&rec); err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	if rec.ID == "" {
		return nil, nil
	}
	return &rec, nil
}

// Touch refreshes the TTL and last_active timestamp of a live session.
func (s *Store) Touch(ctx context.Context, id string, guest bool) error {
	key := KeyPrefix + id
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, s.ttl(guest))
	_, err := pipe.Exec(ctx)
	return err
}

// Revoke deletes a session record, invalidating its token immediately.
func (s *Store) Revoke(ctx context.Context, id string) error {
	return s.client.Del(ctx, KeyPrefix+id).Err()
}

// RevokeAllForIdentity scans for and deletes every session belonging to the
// identity. Used when an identity is banned or deleted.
func (s *Store) RevokeAllForIdentity(ctx context.Context, identityID string) error {
	iter := s.client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		owner, err := s.client.HGet(ctx, key, "identity_id").Result()
		if err != nil {
			continue
		}
		if owner == identityID {
			s.client.Del(ctx, key)
		}
	}
	return iter.Err()
}
