package message

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosstalk/chat-server/internal/domain"
	"github.com/crosstalk/chat-server/internal/store/memory"
)

func newLog(t *testing.T) *Log {
	t.Helper()
	return NewLog(memory.New(), time.Minute, 5, zerolog.Nop())
}

func TestAppendIdempotent(t *testing.T) {
	l := newLog(t)
	ctx := context.Background()

	m1, isNew, err := l.Append(ctx, "th", "alice", "client-1", "hello", domain.KindText)
	require.NoError(t, err)
	assert.True(t, isNew)

	// Same (sender, client id): original returned, nothing new stored.
	m2, isNew, err := l.Append(ctx, "th", "alice", "client-1", "hello again", domain.KindText)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, m1.ID, m2.ID)
	assert.Equal(t, "hello", m2.Content)

	// Same client id from a different sender is a distinct message.
	m3, isNew, err := l.Append(ctx, "th", "bob", "client-1", "hi", domain.KindText)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEqual(t, m1.ID, m3.ID)
}

func TestAppendEmptyContent(t *testing.T) {
	l := newLog(t)
	_, _, err := l.Append(context.Background(), "th", "alice", "", "", domain.KindText)
	assert.ErrorIs(t, err, domain.ErrEmptyContent)
}

func TestHistoryOrderAndBound(t *testing.T) {
	l := newLog(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, _, err := l.Append(ctx, "th", "alice", fmt.Sprintf("c%d", i), fmt.Sprintf("msg %d", i), domain.KindText)
		require.NoError(t, err)
	}

	// keep=5: only the newest five survive, in append order.
	hist, err := l.History(ctx, "th", 100)
	require.NoError(t, err)
	require.Len(t, hist, 5)
	assert.Equal(t, "msg 3", hist[0].Content)
	assert.Equal(t, "msg 7", hist[4].Content)

	hist, err = l.History(ctx, "th", 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "msg 6", hist[0].Content)
	assert.Equal(t, "msg 7", hist[1].Content)
}

func TestEditRules(t *testing.T) {
	l := newLog(t)
	ctx := context.Background()
	base := time.Now()
	l.SetNow(func() time.Time { return base })

	m, _, err := l.Append(ctx, "th", "alice", "", "original", domain.KindText)
	require.NoError(t, err)

	// Only the author may edit.
	_, err = l.Edit(ctx, "th", m.ID, "bob", "hacked")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// Inside the window.
	l.SetNow(func() time.Time { return base.Add(30 * time.Second) })
	edited, err := l.Edit(ctx, "th", m.ID, "alice", "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Content)
	require.NotNil(t, edited.EditedAt)

	// Past the window.
	l.SetNow(func() time.Time { return base.Add(2 * time.Minute) })
	_, err = l.Edit(ctx, "th", m.ID, "alice", "too late")
	assert.ErrorIs(t, err, domain.ErrEditWindowExpired)
}

func TestDeleteSoftAndTerminal(t *testing.T) {
	l := newLog(t)
	ctx := context.Background()
	base := time.Now()
	l.SetNow(func() time.Time { return base })

	m, _, err := l.Append(ctx, "th", "alice", "", "secret", domain.KindText)
	require.NoError(t, err)

	deleted, err := l.Delete(ctx, "th", m.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, DeletedMarker, deleted.Content)
	assert.True(t, deleted.Deleted())

	// The entry stays in the log for ordering.
	hist, err := l.History(ctx, "th", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, DeletedMarker, hist[0].Content)

	// Deleted messages cannot be edited or re-deleted.
	_, err = l.Edit(ctx, "th", m.ID, "alice", "resurrect")
	assert.ErrorIs(t, err, domain.ErrAlreadyDeleted)
	_, err = l.Delete(ctx, "th", m.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrAlreadyDeleted)
}

func TestDeleteWindowExpired(t *testing.T) {
	l := newLog(t)
	ctx := context.Background()
	base := time.Now()
	l.SetNow(func() time.Time { return base })

	m, _, err := l.Append(ctx, "th", "alice", "", "msg", domain.KindText)
	require.NoError(t, err)

	l.SetNow(func() time.Time { return base.Add(2 * time.Minute) })
	_, err = l.Delete(ctx, "th", m.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrEditWindowExpired)
}

func TestThreadsAreIsolated(t *testing.T) {
	l := newLog(t)
	ctx := context.Background()

	_, _, err := l.Append(ctx, "a", "alice", "", "in a", domain.KindText)
	require.NoError(t, err)
	_, _, err = l.Append(ctx, "b", "alice", "", "in b", domain.KindText)
	require.NoError(t, err)

	hist, err := l.History(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "in a", hist[0].Content)
}
