package social

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosstalk/chat-server/internal/domain"
	"github.com/crosstalk/chat-server/internal/store/memory"
)

func newGraph(t *testing.T) *Graph {
	t.Helper()
	mem := memory.New()
	ctx := context.Background()
	for _, u := range []struct {
		id    string
		guest bool
	}{
		{"alice", false}, {"bob", false}, {"carol", false}, {"guest1", true},
	} {
		require.NoError(t, mem.PutIdentity(ctx, &domain.Identity{
			ID: u.id, Username: u.id, Guest: u.guest, CreatedAt: time.Now(),
		}))
	}
	return NewGraph(mem, mem, zerolog.Nop())
}

func TestRequestAndAccept(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	pending, err := g.Request(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, pending)

	friends, err := g.AreFriends(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, friends, "pending is not friendship")

	require.NoError(t, g.Accept(ctx, "alice", "bob"))

	friends, err = g.AreFriends(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, friends)

	// Symmetric from both sides.
	friends, err = g.AreFriends(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, friends)
}

func TestRequestSelfRejected(t *testing.T) {
	g := newGraph(t)
	_, err := g.Request(context.Background(), "alice", "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRequestGuestsExcluded(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	_, err := g.Request(ctx, "guest1", "alice")
	assert.ErrorIs(t, err, domain.ErrGuestNotAllowed)

	_, err = g.Request(ctx, "alice", "guest1")
	assert.ErrorIs(t, err, domain.ErrGuestNotAllowed)
}

func TestRequestIdempotentWhilePending(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	pending, err := g.Request(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, pending)

	pending, err = g.Request(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, pending, "re-request is a no-op")
}

func TestRequestAfterFriendedIsNoop(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	_, err := g.Request(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, g.Accept(ctx, "alice", "bob"))

	pending, err := g.Request(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestCrossingRequestsAutoAccept(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	pending, err := g.Request(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, pending)

	// Bob requesting Alice back counts as mutual consent.
	pending, err = g.Request(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, pending)

	friends, err := g.AreFriends(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, friends)
}

func TestDeclineClearsBothSides(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	_, err := g.Request(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, g.Decline(ctx, "alice", "bob"))

	friends, err := g.AreFriends(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, friends)

	// Declining twice fails: nothing left to resolve.
	assert.ErrorIs(t, g.Decline(ctx, "alice", "bob"), domain.ErrNotFound)

	// An identical re-request works after a decline.
	pending, err := g.Request(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestAcceptWithoutRequest(t *testing.T) {
	g := newGraph(t)
	assert.ErrorIs(t, g.Accept(context.Background(), "alice", "bob"), domain.ErrNotFound)
}

func TestFriendsListing(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	_, err := g.Request(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, g.Accept(ctx, "alice", "bob"))
	_, err = g.Request(ctx, "alice", "carol")
	require.NoError(t, err)
	require.NoError(t, g.Accept(ctx, "alice", "carol"))

	friends, err := g.Friends(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, friends)

	friends, err = g.Friends(ctx, "bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice"}, friends)
}
