package handler

import (
	"github.com/crosstalk/chat-server/internal/domain"
	"github.com/crosstalk/chat-server/internal/events"
	"github.com/crosstalk/chat-server/internal/protocol"
	"github.com/crosstalk/chat-server/internal/ws"
)

func (h *Handlers) handleBlock(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.BlockMsg)
	ctx, cancel := opCtx()
	defer cancel()

	if err := h.blocks.Block(ctx, conn.Identity(), m.UserID); err != nil {
		h.sendErr(conn, err)
		return
	}
	h.ok(conn, protocol.TypeBlock)
}

func (h *Handlers) handleUnblock(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.UnblockMsg)
	ctx, cancel := opCtx()
	defer cancel()

	if err := h.blocks.Unblock(ctx, conn.Identity(), m.UserID); err != nil {
		h.sendErr(conn, err)
		return
	}
	h.ok(conn, protocol.TypeUnblock)
}

func (h *Handlers) handleFriendRequest(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.FriendRequestMsg)
	ctx, cancel := opCtx()
	defer cancel()
	ident := conn.Identity()

	pending, err := h.graph.Request(ctx, ident, m.UserID)
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	if pending {
		h.publish(events.IdentitySubject(m.UserID), protocol.TypeFriendReceived, protocol.FriendReceivedMsg{
			FromID:   ident,
			Username: conn.Username(),
		})
		// The request also lands as an entry in the pair's DM log.
		if t, err := h.threads.EnsureDM(ctx, ident, m.UserID); err == nil {
			h.logEntry(ctx, t.ID, ident, conn.Username()+" sent a friend request", domain.KindFriendRequest)
		}
	}
	h.ok(conn, protocol.TypeFriendRequest)
}

func (h *Handlers) handleFriendAccept(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.FriendAcceptMsg)
	ctx, cancel := opCtx()
	defer cancel()

	if err := h.graph.Accept(ctx, m.UserID, conn.Identity()); err != nil {
		h.sendErr(conn, err)
		return
	}
	h.ok(conn, protocol.TypeFriendAccept)
}

func (h *Handlers) handleFriendDecline(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.FriendDeclineMsg)
	ctx, cancel := opCtx()
	defer cancel()

	if err := h.graph.Decline(ctx, m.UserID, conn.Identity()); err != nil {
		h.sendErr(conn, err)
		return
	}
	h.ok(conn, protocol.TypeFriendDecline)
}

func (h *Handlers) handleReport(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.ReportMsg)
	ctx, cancel := opCtx()
	defer cancel()

	if _, err := h.reports.File(ctx, conn.Identity(), m.UserID, m.ThreadID, m.Reason); err != nil {
		h.sendErr(conn, err)
		return
	}
	h.ok(conn, protocol.TypeReport)
}
