// Package ratelimit enforces per-identity send cooldowns and the link
// posting window using Redis SET NX PX reservations. A failed check reads
// the remaining TTL and mutates nothing, so rejected sends never advance
// any cooldown.
package ratelimit

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// CooldownPrefix keys the per-identity send reservation.
	CooldownPrefix = "cooldown:send:"
	// LinkPrefix keys the per-identity link window reservation.
	LinkPrefix = "cooldown:link:"
)

// urlPattern matches http/https URLs, www. URLs, and bare domains with a
// path. The bare-domain variant requires a trailing "/" to avoid false
// positives on version strings like "v2.0".
var urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

// ContainsLink reports whether content carries something URL-shaped.
// Detection is a pattern match, not full content inspection.
func ContainsLink(content string) bool {
	return urlPattern.MatchString(content)
}

// CooldownError reports an active send cooldown.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("send cooldown active, retry in %s", e.Remaining)
}

// LinkCooldownError reports an active link window.
type LinkCooldownError struct {
	Remaining time.Duration
}

func (e *LinkCooldownError) Error() string {
	return fmt.Sprintf("link cooldown active, retry in %s", e.Remaining)
}

// Engine performs cooldown checks against Redis.
type Engine struct {
	client          *redis.Client
	accountCooldown time.Duration
	guestCooldown   time.Duration
	linkWindow      time.Duration
	log             zerolog.Logger
}

// NewEngine creates the cooldown engine. Guests get a longer send cooldown
// than accounts; both apply uniformly across thread kinds.
func NewEngine(client *redis.Client, accountCooldown, guestCooldown, linkWindow time.Duration, log zerolog.Logger) *Engine {
	return &Engine{
		client:          client,
		accountCooldown: accountCooldown,
		guestCooldown:   guestCooldown,
		linkWindow:      linkWindow,
		log:             log.With().Str("component", "ratelimit").Logger(),
	}
}

// CheckAndReserve reserves the identity's send slot. On success the next
// send is blocked for the identity's cooldown; on failure nothing changes
// and the error carries the remaining wait.
func (e *Engine) CheckAndReserve(ctx context.Context, identityID string, guest bool) error {
	cooldown := e.accountCooldown
	if guest {
		cooldown = e.guestCooldown
	}
	if cooldown <= 0 {
		return nil
	}
	key := CooldownPrefix + identityID
	ok, err := e.client.SetNX(ctx, key, 1, cooldown).Result()
	if err != nil {
		// Fail open on Redis trouble so an outage does not mute the room.
		e.log.Error().Err(err).Str("identity", identityID).Msg("cooldown check failed, allowing")
		return nil
	}
	if ok {
		return nil
	}
	remaining, err := e.client.PTTL(ctx, key).Result()
	if err != nil || remaining < 0 {
		remaining = cooldown
	}
	return &CooldownError{Remaining: remaining}
}

// CheckLink reserves the identity's link slot when content carries a URL.
// At most one URL-bearing message is allowed per identity per window.
// Content without links passes untouched.
func (e *Engine) CheckLink(ctx context.Context, identityID, content string) error {
	if !ContainsLink(content) {
		return nil
	}
	key := LinkPrefix + identityID
	ok, err := e.client.SetNX(ctx, key, 1, e.linkWindow).Result()
	if err != nil {
		e.log.Error().Err(err).Str("identity", identityID).Msg("link check failed, allowing")
		return nil
	}
	if ok {
		return nil
	}
	remaining, err := e.client.PTTL(ctx, key).Result()
	if err != nil || remaining < 0 {
		remaining = e.linkWindow
	}
	return &LinkCooldownError{Remaining: remaining}
}

// Release frees the identity's send reservation. Used when a send is
// rejected after the slot was taken, so a refused message does not burn
// the cooldown.
func (e *Engine) Release(ctx context.Context, identityID string) {
	if err := e.client.Del(ctx, CooldownPrefix+identityID).Err(); err != nil {
		e.log.Error().Err(err).Str("identity", identityID).Msg("cooldown release failed")
	}
}

// ReleaseLink frees the link reservation taken by CheckLink for this
// content. Content without links holds no reservation, so there is
// nothing to refund.
func (e *Engine) ReleaseLink(ctx context.Context, identityID, content string) {
	if !ContainsLink(content) {
		return
	}
	if err := e.client.Del(ctx, LinkPrefix+identityID).Err(); err != nil {
		e.log.Error().Err(err).Str("identity", identityID).Msg("link release failed")
	}
}
