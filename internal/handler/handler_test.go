package handler

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosstalk/chat-server/internal/domain"
	"github.com/crosstalk/chat-server/internal/events"
	"github.com/crosstalk/chat-server/internal/identity"
	"github.com/crosstalk/chat-server/internal/message"
	"github.com/crosstalk/chat-server/internal/moderation"
	"github.com/crosstalk/chat-server/internal/presence"
	"github.com/crosstalk/chat-server/internal/protocol"
	"github.com/crosstalk/chat-server/internal/ratelimit"
	"github.com/crosstalk/chat-server/internal/report"
	"github.com/crosstalk/chat-server/internal/session"
	"github.com/crosstalk/chat-server/internal/social"
	"github.com/crosstalk/chat-server/internal/store/memory"
	"github.com/crosstalk/chat-server/internal/thread"
	"github.com/crosstalk/chat-server/internal/ws"
)

type handlerEnv struct {
	h        *Handlers
	mem      *memory.Store
	mr       *miniredis.Miniredis
	threads  *thread.Registry
	messages *message.Log
}

// newHandlers builds the full handler set over the memory store and
// miniredis, with send cooldowns disabled so tests exercise the pipeline
// without waiting out reservations.
func newHandlers(t *testing.T) *handlerEnv {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mem := memory.New()

	sessions := session.NewStore(client, time.Hour, 10*time.Minute)
	tokens := session.NewTokens("test-secret")
	idsvc := identity.NewService(mem, sessions, tokens, nil, time.Hour, time.Hour, zerolog.Nop())

	registry := thread.NewRegistry(mem, mem, mem, zerolog.Nop())
	require.NoError(t, registry.EnsureGlobal(ctx))

	messages := message.NewLog(mem, time.Minute, 300, zerolog.Nop())
	cooldowns := ratelimit.NewEngine(client, 0, 0, 5*time.Minute, zerolog.Nop())
	filter := moderation.NewFilter(nil)
	blocks := moderation.NewBlockList(mem)
	graph := social.NewGraph(mem, mem, zerolog.Nop())
	reports := report.NewService(mem, zerolog.Nop())
	tracker := presence.NewTracker(time.Minute, nil, zerolog.Nop())

	for _, u := range []string{"alice", "bob", "carol"} {
		require.NoError(t, mem.PutIdentity(ctx, &domain.Identity{
			ID: u, Username: u, CreatedAt: time.Now(),
		}))
	}

	h := New(ws.NewManager(), events.NewLocalBus(), idsvc, tracker, registry,
		messages, cooldowns, filter, blocks, graph, reports, zerolog.Nop())
	return &handlerEnv{h: h, mem: mem, mr: mr, threads: registry, messages: messages}
}

// testConn returns an authenticated connection over a drained pipe, so
// handler writes never block.
func testConn(t *testing.T, identityID, username string) *ws.Connection {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	go io.Copy(io.Discard, client)

	c := &ws.Connection{ID: "conn-" + identityID, Conn: server, CreatedAt: time.Now()}
	c.Authenticate(identityID, username, "sess-"+identityID, false)
	return c
}

func TestFriendRequestLandsInDMLog(t *testing.T) {
	env := newHandlers(t)
	ctx := context.Background()
	conn := testConn(t, "alice", "alice")

	env.h.handleFriendRequest(conn, protocol.FriendRequestMsg{UserID: "bob"})

	dm, err := env.threads.EnsureDM(ctx, "alice", "bob")
	require.NoError(t, err)

	history, err := env.messages.History(ctx, dm.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.KindFriendRequest, history[0].Kind)
	assert.Equal(t, "alice", history[0].SenderID)
	assert.Equal(t, "alice sent a friend request", history[0].Content)
}

func TestInviteLandsInGroupLog(t *testing.T) {
	env := newHandlers(t)
	ctx := context.Background()
	conn := testConn(t, "alice", "alice")

	group, err := env.threads.CreateGroup(ctx, "alice", "ops", []string{"bob"})
	require.NoError(t, err)

	env.h.handleInvite(conn, protocol.InviteMsg{ThreadID: group.ID, UserID: "carol"})

	history, err := env.messages.History(ctx, group.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.KindGroupInvite, history[0].Kind)
	assert.Equal(t, "alice invited carol", history[0].Content)
}

func TestCreateGroupLogsInvites(t *testing.T) {
	env := newHandlers(t)
	ctx := context.Background()
	conn := testConn(t, "alice", "alice")

	env.h.handleCreateGroup(conn, protocol.CreateGroupMsg{Name: "ops", Invitees: []string{"bob", "carol"}})

	threads, err := env.threads.ListForIdentity(ctx, "alice")
	require.NoError(t, err)
	var group *domain.Thread
	for _, th := range threads {
		if th.Kind == domain.ThreadGroup {
			group = th
		}
	}
	require.NotNil(t, group)

	history, err := env.messages.History(ctx, group.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, m := range history {
		assert.Equal(t, domain.KindGroupInvite, m.Kind)
	}
}

func TestSendDedupeRefundsLinkWindow(t *testing.T) {
	env := newHandlers(t)
	ctx := context.Background()
	conn := testConn(t, "alice", "alice")

	env.h.handleSend(conn, protocol.SendMsg{
		ThreadID: domain.GlobalThreadID,
		ClientID: "c1",
		Content:  "see https://example.com/a",
	})

	history, err := env.messages.History(ctx, domain.GlobalThreadID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)

	// The original link window elapses, then the client retries the same
	// send. The dedupe must refund the freshly taken link slot.
	env.mr.FastForward(6 * time.Minute)
	env.h.handleSend(conn, protocol.SendMsg{
		ThreadID: domain.GlobalThreadID,
		ClientID: "c1",
		Content:  "see https://example.com/a",
	})

	history, err = env.messages.History(ctx, domain.GlobalThreadID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1, "retry does not grow the log")

	// A new link-bearing message goes through immediately; the window was
	// not burned by the deduplicated retry.
	env.h.handleSend(conn, protocol.SendMsg{
		ThreadID: domain.GlobalThreadID,
		ClientID: "c2",
		Content:  "also https://example.com/b",
	})

	history, err = env.messages.History(ctx, domain.GlobalThreadID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
}
