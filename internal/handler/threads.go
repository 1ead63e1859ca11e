package handler

import (
	"github.com/crosstalk/chat-server/internal/domain"
	"github.com/crosstalk/chat-server/internal/events"
	"github.com/crosstalk/chat-server/internal/metrics"
	"github.com/crosstalk/chat-server/internal/protocol"
	"github.com/crosstalk/chat-server/internal/ws"
)

func wireThread(t *domain.Thread) protocol.ThreadMsg {
	msg := protocol.ThreadMsg{
		ThreadID: t.ID,
		Kind:     string(t.Kind),
		Name:     t.Name,
		OwnerID:  t.OwnerID,
		Active:   t.Active,
	}
	for id := range t.Members {
		msg.Members = append(msg.Members, id)
	}
	for id := range t.PendingInvites {
		msg.Pending = append(msg.Pending, id)
	}
	return msg
}

func (h *Handlers) handleOpenDM(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.OpenDMMsg)
	ctx, cancel := opCtx()
	defer cancel()
	ident := conn.Identity()

	t, err := h.threads.EnsureDM(ctx, ident, m.UserID)
	if err != nil {
		h.sendErr(conn, err)
		return
	}

	for _, c := range h.conns.ForIdentity(ident) {
		h.subscribeThread(c, t.ID)
	}
	// The other party learns about the thread and starts receiving it on
	// every connection they hold.
	h.publish(events.IdentitySubject(m.UserID), protocol.TypeThread, wireThread(t))
	for _, c := range h.conns.ForIdentity(m.UserID) {
		h.subscribeThread(c, t.ID)
	}

	h.send(conn, protocol.TypeThread, wireThread(t))
}

func (h *Handlers) handleCreateGroup(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.CreateGroupMsg)
	ctx, cancel := opCtx()
	defer cancel()
	ident := conn.Identity()

	t, err := h.threads.CreateGroup(ctx, ident, m.Name, m.Invitees)
	if err != nil {
		h.sendErr(conn, err)
		return
	}

	for _, c := range h.conns.ForIdentity(ident) {
		h.subscribeThread(c, t.ID)
	}
	for invitee := range t.PendingInvites {
		h.publish(events.IdentitySubject(invitee), protocol.TypeInviteReceived, protocol.InviteReceivedMsg{
			ThreadID:  t.ID,
			GroupName: t.Name,
			InviterID: ident,
		})
		h.logEntry(ctx, t.ID, ident, conn.Username()+" invited "+h.username(ctx, invitee), domain.KindGroupInvite)
	}
	h.send(conn, protocol.TypeThread, wireThread(t))
}

func (h *Handlers) handleInvite(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.InviteMsg)
	ctx, cancel := opCtx()
	defer cancel()
	ident := conn.Identity()

	t, err := h.threads.Invite(ctx, m.ThreadID, ident, m.UserID)
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	h.publish(events.IdentitySubject(m.UserID), protocol.TypeInviteReceived, protocol.InviteReceivedMsg{
		ThreadID:  t.ID,
		GroupName: t.Name,
		InviterID: ident,
	})
	h.logEntry(ctx, t.ID, ident, conn.Username()+" invited "+h.username(ctx, m.UserID), domain.KindGroupInvite)
	h.send(conn, protocol.TypeThread, wireThread(t))
}

func (h *Handlers) handleAcceptInvite(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.AcceptInviteMsg)
	ctx, cancel := opCtx()
	defer cancel()
	ident := conn.Identity()

	t, err := h.threads.AcceptInvite(ctx, m.ThreadID, ident)
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	for _, c := range h.conns.ForIdentity(ident) {
		h.subscribeThread(c, t.ID)
	}
	if t.Active {
		metrics.ActiveGroups.Inc()
	}
	// Existing members see the membership change.
	h.publish(events.ThreadSubject(t.ID), protocol.TypeThread, wireThread(t))
}

func (h *Handlers) handleDeclineInvite(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.DeclineInviteMsg)
	ctx, cancel := opCtx()
	defer cancel()

	if _, err := h.threads.DeclineInvite(ctx, m.ThreadID, conn.Identity()); err != nil {
		h.sendErr(conn, err)
		return
	}
	h.ok(conn, protocol.TypeDeclineInvite)
}

func (h *Handlers) handleLeaveGroup(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.LeaveGroupMsg)
	ctx, cancel := opCtx()
	defer cancel()
	ident := conn.Identity()

	t, err := h.threads.Leave(ctx, m.ThreadID, ident)
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	for _, c := range h.conns.ForIdentity(ident) {
		h.unsubscribeThread(c, t.ID)
	}
	h.publish(events.ThreadSubject(t.ID), protocol.TypeThread, wireThread(t))
	h.ok(conn, protocol.TypeLeaveGroup)
}

func (h *Handlers) handleRenameGroup(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.RenameGroupMsg)
	ctx, cancel := opCtx()
	defer cancel()

	t, err := h.threads.Rename(ctx, m.ThreadID, conn.Identity(), m.Name)
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	h.publish(events.ThreadSubject(t.ID), protocol.TypeThread, wireThread(t))
}

func (h *Handlers) handleTransferOwner(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.TransferOwnerMsg)
	ctx, cancel := opCtx()
	defer cancel()

	t, err := h.threads.TransferOwner(ctx, m.ThreadID, conn.Identity(), m.UserID)
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	h.publish(events.ThreadSubject(t.ID), protocol.TypeThread, wireThread(t))
}

func (h *Handlers) handleRemoveMember(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.RemoveMemberMsg)
	ctx, cancel := opCtx()
	defer cancel()

	t, err := h.threads.RemoveMember(ctx, m.ThreadID, conn.Identity(), m.UserID)
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	for _, c := range h.conns.ForIdentity(m.UserID) {
		h.unsubscribeThread(c, t.ID)
	}
	h.publish(events.IdentitySubject(m.UserID), protocol.TypeThread, wireThread(t))
	h.publish(events.ThreadSubject(t.ID), protocol.TypeThread, wireThread(t))
}

func (h *Handlers) handleDeleteGroup(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.DeleteGroupMsg)
	ctx, cancel := opCtx()
	defer cancel()

	t, err := h.threads.Get(ctx, m.ThreadID)
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	wasActive := t.Active

	if err := h.threads.DeleteGroup(ctx, m.ThreadID, conn.Identity()); err != nil {
		h.sendErr(conn, err)
		return
	}
	h.messages.Forget(m.ThreadID)
	if wasActive {
		metrics.ActiveGroups.Dec()
	}

	gone := wireThread(t)
	gone.Active = false
	h.publish(events.ThreadSubject(m.ThreadID), protocol.TypeThread, gone)
	h.ok(conn, protocol.TypeDeleteGroup)
}
