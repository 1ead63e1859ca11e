package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPBanLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	bans := NewIPBans(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	banned, _, err := bans.Check(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, bans.Block(ctx, "10.0.0.1", time.Hour))

	banned, remaining, err := bans.Check(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Greater(t, remaining, 59*time.Minute)

	// Other IPs are unaffected.
	banned, _, err = bans.Check(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.False(t, banned)

	mr.FastForward(2 * time.Hour)
	banned, _, err = bans.Check(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, banned, "ban lifts after TTL")
}

func TestIPBanUnblock(t *testing.T) {
	mr := miniredis.RunT(t)
	bans := NewIPBans(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	require.NoError(t, bans.Block(ctx, "10.0.0.1", time.Hour))
	require.NoError(t, bans.Unblock(ctx, "10.0.0.1"))

	banned, _, err := bans.Check(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, banned)
}
