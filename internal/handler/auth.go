package handler

import (
	"github.com/crosstalk/chat-server/internal/domain"
	"github.com/crosstalk/chat-server/internal/identity"
	"github.com/crosstalk/chat-server/internal/metrics"
	"github.com/crosstalk/chat-server/internal/protocol"
	"github.com/crosstalk/chat-server/internal/ws"
)

func (h *Handlers) handleRegister(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.RegisterMsg)
	ctx, cancel := opCtx()
	defer cancel()

	sess, err := h.identities.Register(ctx, identity.Credentials{Username: m.Username, Password: m.Password})
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	h.completeAuth(conn, sess.Identity, sess.Token, sess.SessionID)
}

func (h *Handlers) handleLogin(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.LoginMsg)
	ctx, cancel := opCtx()
	defer cancel()

	sess, err := h.identities.Login(ctx, identity.Credentials{Username: m.Username, Password: m.Password})
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	h.completeAuth(conn, sess.Identity, sess.Token, sess.SessionID)
}

func (h *Handlers) handleGuestJoin(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.GuestJoinMsg)
	ctx, cancel := opCtx()
	defer cancel()

	sess, err := h.identities.GuestJoin(ctx, m.Name)
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	h.completeAuth(conn, sess.Identity, sess.Token, sess.SessionID)
}

func (h *Handlers) handleResume(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.ResumeMsg)
	ctx, cancel := opCtx()
	defer cancel()

	id, sessionID, err := h.identities.Resume(ctx, m.Token)
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	// Resume reuses the existing session; no fresh token is issued.
	h.completeAuth(conn, id, "", sessionID)
}

func (h *Handlers) handleLogout(conn *ws.Connection, msg interface{}) {
	_ = msg.(protocol.LogoutMsg)
	ctx, cancel := opCtx()
	defer cancel()

	ident := conn.Identity()
	if err := h.identities.CloseSession(ctx, conn.SessionID(), ident, conn.Guest()); err != nil {
		h.sendErr(conn, err)
		return
	}
	h.bus.UnsubscribeAll(conn.ID)
	h.presence.Disconnect(ident)
	h.conns.Unbind(conn, ident)
	conn.ClearAuth()
	h.ok(conn, protocol.TypeLogout)
}

// completeAuth binds the identity to the connection, joins the ambient
// event streams, and sends the session result plus the current presence
// snapshot.
func (h *Handlers) completeAuth(conn *ws.Connection, id *domain.Identity, token, sessionID string) {
	conn.Authenticate(id.ID, id.Username, sessionID, id.Guest)
	h.conns.Bind(conn, id.ID)
	h.presence.Connect(id.ID, id.Username)
	metrics.OnlineIdentities.Set(float64(h.presence.Online()))

	h.subscribeIdentity(conn, id.ID)
	h.subscribeThread(conn, domain.GlobalThreadID)

	ctx, cancel := opCtx()
	defer cancel()
	if threads, err := h.threads.ListForIdentity(ctx, id.ID); err == nil {
		for _, t := range threads {
			if t.ID != domain.GlobalThreadID {
				h.subscribeThread(conn, t.ID)
			}
		}
	}

	h.send(conn, protocol.TypeSession, protocol.SessionMsg{
		IdentityID: id.ID,
		Username:   id.Username,
		Guest:      id.Guest,
		Token:      token,
	})
	h.sendPresenceSnapshot(conn)
}

func (h *Handlers) handleSetPresence(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.SetPresenceMsg)
	if err := h.presence.SetStatus(conn.Identity(), domain.PresenceStatus(m.Status)); err != nil {
		h.sendErr(conn, err)
		return
	}
	h.ok(conn, protocol.TypeSetPresence)
}

func (h *Handlers) sendPresenceSnapshot(conn *ws.Connection) {
	entries := h.presence.Snapshot()
	out := make([]protocol.PresenceEntry, len(entries))
	for i, e := range entries {
		out[i] = protocol.PresenceEntry{IdentityID: e.IdentityID, Username: e.Username, Status: string(e.Status)}
	}
	h.send(conn, protocol.TypePresence, protocol.PresenceMsg{Entries: out})
}
