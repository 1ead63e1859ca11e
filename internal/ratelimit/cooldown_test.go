package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewEngine(client, 2*time.Second, 5*time.Second, 5*time.Minute, zerolog.Nop()), mr
}

func TestContainsLink(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"check https://example.com out", true},
		{"http://foo.bar", true},
		{"www.example.com", true},
		{"example.com/path", true},
		{"plain text message", false},
		{"version v2.0 released", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContainsLink(tt.input), "input %q", tt.input)
	}
}

func TestCooldownReserveAndReject(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CheckAndReserve(ctx, "u1", false))

	err := e.CheckAndReserve(ctx, "u1", false)
	var cd *CooldownError
	require.ErrorAs(t, err, &cd)
	assert.Greater(t, cd.Remaining, time.Duration(0))
	assert.LessOrEqual(t, cd.Remaining, 2*time.Second)

	// Other identities are unaffected.
	require.NoError(t, e.CheckAndReserve(ctx, "u2", false))
}

func TestCooldownRejectionDoesNotExtend(t *testing.T) {
	e, mr := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CheckAndReserve(ctx, "u1", false))

	mr.FastForward(time.Second)
	err := e.CheckAndReserve(ctx, "u1", false)
	var cd *CooldownError
	require.ErrorAs(t, err, &cd)
	remaining := cd.Remaining

	// A second rejected attempt sees the same or smaller remaining wait.
	err = e.CheckAndReserve(ctx, "u1", false)
	require.ErrorAs(t, err, &cd)
	assert.LessOrEqual(t, cd.Remaining, remaining)

	mr.FastForward(2 * time.Second)
	assert.NoError(t, e.CheckAndReserve(ctx, "u1", false), "cooldown elapses on schedule")
}

func TestGuestCooldownLonger(t *testing.T) {
	e, mr := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CheckAndReserve(ctx, "g1", true))
	mr.FastForward(3 * time.Second)

	// An account would be free by now; the guest still waits.
	err := e.CheckAndReserve(ctx, "g1", true)
	var cd *CooldownError
	require.ErrorAs(t, err, &cd)

	mr.FastForward(3 * time.Second)
	assert.NoError(t, e.CheckAndReserve(ctx, "g1", true))
}

func TestLinkWindow(t *testing.T) {
	e, mr := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CheckLink(ctx, "u1", "see https://example.com"))

	err := e.CheckLink(ctx, "u1", "another http://link.io")
	var le *LinkCooldownError
	require.ErrorAs(t, err, &le)
	assert.Greater(t, le.Remaining, time.Duration(0))

	// Linkless content never touches the window.
	require.NoError(t, e.CheckLink(ctx, "u1", "no links here"))

	mr.FastForward(6 * time.Minute)
	assert.NoError(t, e.CheckLink(ctx, "u1", "fresh https://example.com"))
}

func TestReleaseRefundsReservation(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CheckAndReserve(ctx, "u1", false))
	e.Release(ctx, "u1")
	assert.NoError(t, e.CheckAndReserve(ctx, "u1", false))
}

func TestReleaseLinkRefundsWindow(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CheckLink(ctx, "u1", "see https://example.com"))
	e.ReleaseLink(ctx, "u1", "see https://example.com")

	// The refunded slot is immediately available again.
	assert.NoError(t, e.CheckLink(ctx, "u1", "retry https://example.com"))
}

func TestReleaseLinkIgnoresLinklessContent(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CheckLink(ctx, "u1", "first https://example.com"))

	// Releasing for a message that held no reservation must not clear
	// the window taken by an earlier link.
	e.ReleaseLink(ctx, "u1", "plain text")

	var le *LinkCooldownError
	assert.ErrorAs(t, e.CheckLink(ctx, "u1", "second https://example.com"), &le)
}
