package moderation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosstalk/chat-server/internal/domain"
	"github.com/crosstalk/chat-server/internal/store/memory"
)

func TestBlockIsAsymmetric(t *testing.T) {
	bl := NewBlockList(memory.New())
	ctx := context.Background()

	require.NoError(t, bl.Block(ctx, "alice", "bob"))

	blocked, err := bl.IsBlocked(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, blocked)

	// Bob's view of Alice is untouched.
	blocked, err = bl.IsBlocked(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestBlockSelfRejected(t *testing.T) {
	bl := NewBlockList(memory.New())
	assert.ErrorIs(t, bl.Block(context.Background(), "alice", "alice"), domain.ErrConflict)
}

func TestFilterVisibleHidesBlockedSenders(t *testing.T) {
	bl := NewBlockList(memory.New())
	ctx := context.Background()
	require.NoError(t, bl.Block(ctx, "alice", "bob"))

	msgs := []*domain.Message{
		{ID: "1", SenderID: "bob"},
		{ID: "2", SenderID: "carol"},
		{ID: "3", SenderID: "bob"},
	}

	visible, err := bl.FilterVisible(ctx, "alice", msgs)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "carol", visible[0].SenderID)

	// Another viewer of the same slice sees everything.
	visible, err = bl.FilterVisible(ctx, "carol", msgs)
	require.NoError(t, err)
	assert.Len(t, visible, 3)
}

func TestUnblockRestoresVisibility(t *testing.T) {
	bl := NewBlockList(memory.New())
	ctx := context.Background()

	require.NoError(t, bl.Block(ctx, "alice", "bob"))
	require.NoError(t, bl.Unblock(ctx, "alice", "bob"))

	assert.True(t, bl.ShouldDeliver(ctx, "alice", "bob"))
}

func TestShouldDeliver(t *testing.T) {
	bl := NewBlockList(memory.New())
	ctx := context.Background()
	require.NoError(t, bl.Block(ctx, "alice", "bob"))

	assert.False(t, bl.ShouldDeliver(ctx, "alice", "bob"))
	assert.True(t, bl.ShouldDeliver(ctx, "bob", "alice"))
	assert.True(t, bl.ShouldDeliver(ctx, "alice", "alice"), "own events always deliver")
}
