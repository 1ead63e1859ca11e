package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IPBanPrefix keys transient per-IP ban records.
const IPBanPrefix = "ipban:"

// IPBans manages transient IP bans, independent of identity-level bans.
// Any session-establishment attempt from a banned IP is rejected until the
// record expires.
type IPBans struct {
	client *redis.Client
}

// NewIPBans creates the IP ban store.
func NewIPBans(client *redis.Client) *IPBans {
	return &IPBans{client: client}
}

// Block bans the IP for the given duration.
func (b *IPBans) Block(ctx context.Context, ip string, duration time.Duration) error {
	if err := b.client.Set(ctx, IPBanPrefix+ip, "blocked", duration).Err(); err != nil {
		return fmt.Errorf("moderation: ip ban: %w", err)
	}
	return nil
}

// Check returns (banned, remaining). Redis errors fail open so an outage
// does not lock everyone out.
func (b *IPBans) Check(ctx context.Context, ip string) (bool, time.Duration, error) {
	ttl, err := b.client.TTL(ctx, IPBanPrefix+ip).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	// TTL returns -2 for missing keys and -1 for keys without expiry.
	if ttl < 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}

// Unblock lifts an IP ban immediately.
func (b *IPBans) Unblock(ctx context.Context, ip string) error {
	return b.client.Del(ctx, IPBanPrefix+ip).Err()
}
