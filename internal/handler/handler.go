// Package handler binds the wire protocol to the chat services: it
// registers one handler per client message type, runs the send pipeline,
// and fans events out to subscribed connections through the event bus.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/crosstalk/chat-server/internal/domain"
	"github.com/crosstalk/chat-server/internal/events"
	"github.com/crosstalk/chat-server/internal/identity"
	"github.com/crosstalk/chat-server/internal/message"
	"github.com/crosstalk/chat-server/internal/metrics"
	"github.com/crosstalk/chat-server/internal/moderation"
	"github.com/crosstalk/chat-server/internal/presence"
	"github.com/crosstalk/chat-server/internal/protocol"
	"github.com/crosstalk/chat-server/internal/ratelimit"
	"github.com/crosstalk/chat-server/internal/report"
	"github.com/crosstalk/chat-server/internal/social"
	"github.com/crosstalk/chat-server/internal/thread"
	"github.com/crosstalk/chat-server/internal/ws"
)

const opTimeout = 5 * time.Second

// Handlers owns the per-message-type handlers and the fanout wiring.
type Handlers struct {
	conns      *ws.Manager
	bus        events.Bus
	identities *identity.Service
	presence   *presence.Tracker
	threads    *thread.Registry
	messages   *message.Log
	cooldowns  *ratelimit.Engine
	filter     *moderation.Filter
	blocks     *moderation.BlockList
	graph      *social.Graph
	reports    *report.Service
	log        zerolog.Logger
}

// New wires the handler set.
func New(
	conns *ws.Manager,
	bus events.Bus,
	identities *identity.Service,
	pres *presence.Tracker,
	threads *thread.Registry,
	messages *message.Log,
	cooldowns *ratelimit.Engine,
	filter *moderation.Filter,
	blocks *moderation.BlockList,
	graph *social.Graph,
	reports *report.Service,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		conns:      conns,
		bus:        bus,
		identities: identities,
		presence:   pres,
		threads:    threads,
		messages:   messages,
		cooldowns:  cooldowns,
		filter:     filter,
		blocks:     blocks,
		graph:      graph,
		reports:    reports,
		log:        log.With().Str("component", "handler").Logger(),
	}
}

// RegisterAll registers every supported client message type on the
// dispatcher.
func (h *Handlers) RegisterAll(d *ws.Dispatcher) {
	d.Register(protocol.TypeRegister, h.handleRegister)
	d.Register(protocol.TypeLogin, h.handleLogin)
	d.Register(protocol.TypeGuestJoin, h.handleGuestJoin)
	d.Register(protocol.TypeResume, h.handleResume)
	d.Register(protocol.TypeLogout, h.handleLogout)
	d.Register(protocol.TypeSetPresence, h.handleSetPresence)
	d.Register(protocol.TypeSend, h.handleSend)
	d.Register(protocol.TypeEditMessage, h.handleEdit)
	d.Register(protocol.TypeDeleteMessage, h.handleDelete)
	d.Register(protocol.TypeHistory, h.handleHistory)
	d.Register(protocol.TypeOpenDM, h.handleOpenDM)
	d.Register(protocol.TypeCreateGroup, h.handleCreateGroup)
	d.Register(protocol.TypeInvite, h.handleInvite)
	d.Register(protocol.TypeAcceptInvite, h.handleAcceptInvite)
	d.Register(protocol.TypeDeclineInvite, h.handleDeclineInvite)
	d.Register(protocol.TypeLeaveGroup, h.handleLeaveGroup)
	d.Register(protocol.TypeRenameGroup, h.handleRenameGroup)
	d.Register(protocol.TypeTransferOwner, h.handleTransferOwner)
	d.Register(protocol.TypeRemoveMember, h.handleRemoveMember)
	d.Register(protocol.TypeDeleteGroup, h.handleDeleteGroup)
	d.Register(protocol.TypeBlock, h.handleBlock)
	d.Register(protocol.TypeUnblock, h.handleUnblock)
	d.Register(protocol.TypeFriendRequest, h.handleFriendRequest)
	d.Register(protocol.TypeFriendAccept, h.handleFriendAccept)
	d.Register(protocol.TypeFriendDecline, h.handleFriendDecline)
	d.Register(protocol.TypeReport, h.handleReport)
	d.Register(protocol.TypeTyping, h.handleTyping)
}

// OnDisconnect cleans up when a connection dies: presence refcount,
// subscriptions, and identity binding.
func (h *Handlers) OnDisconnect(conn *ws.Connection) {
	h.bus.UnsubscribeAll(conn.ID)
	if ident := conn.Identity(); ident != "" {
		h.presence.Disconnect(ident)
		metrics.OnlineIdentities.Set(float64(h.presence.Online()))
	}
}

// OnActivity records inbound traffic against the identity's idle timer.
func (h *Handlers) OnActivity(conn *ws.Connection) {
	if ident := conn.Identity(); ident != "" {
		h.presence.Activity(ident)
	}
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

// send marshals and writes a server message to one connection.
func (h *Handlers) send(conn *ws.Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		h.log.Error().Err(err).Str("type", msgType).Msg("marshal failed")
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		h.log.Debug().Err(err).Str("conn", conn.ID).Msg("write failed")
	}
}

// publish marshals and publishes a server message on a bus subject.
func (h *Handlers) publish(subject, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		h.log.Error().Err(err).Str("type", msgType).Msg("marshal failed")
		return
	}
	if err := h.bus.Publish(subject, data); err != nil {
		h.log.Error().Err(err).Str("subject", subject).Msg("publish failed")
	}
}

// logEntry appends a non-text entry to a thread's log and fans it out.
// Used for the friend-request and group-invite records; the triggering
// operation has already succeeded, so failures are only logged.
func (h *Handlers) logEntry(ctx context.Context, threadID, senderID, content string, kind domain.MessageKind) {
	stored, isNew, err := h.messages.Append(ctx, threadID, senderID, "", content, kind)
	if err != nil {
		h.log.Error().Err(err).Str("thread", threadID).Str("kind", string(kind)).Msg("log entry append failed")
		return
	}
	if !isNew {
		return
	}
	h.publish(events.ThreadSubject(threadID), protocol.TypeMessageAppended,
		protocol.MessageAppendedMsg{Message: wireMessage(stored)})
}

// username resolves an identity id for display in log entries, falling
// back to the id itself.
func (h *Handlers) username(ctx context.Context, identityID string) string {
	if id, err := h.identities.Get(ctx, identityID); err == nil {
		return id.Username
	}
	return identityID
}

// sendErr maps a service error onto the wire taxonomy.
func (h *Handlers) sendErr(conn *ws.Connection, err error) {
	var banErr *domain.BanError
	if errors.As(err, &banErr) {
		msg := protocol.BannedMsg{Permanent: banErr.Permanent, IP: banErr.IP}
		if !banErr.Until.IsZero() {
			msg.Until = banErr.Until.Unix()
		}
		h.send(conn, protocol.TypeBanned, msg)
		return
	}

	code := "internal"
	switch {
	case errors.Is(err, domain.ErrAuth):
		code = "auth_failed"
	case errors.Is(err, domain.ErrSessionExpired):
		code = "session_expired"
	case errors.Is(err, domain.ErrUsernameTaken):
		code = "username_taken"
	case errors.Is(err, domain.ErrNotFound):
		code = "not_found"
	case errors.Is(err, domain.ErrNotMember):
		code = "not_member"
	case errors.Is(err, domain.ErrNotOwner):
		code = "not_owner"
	case errors.Is(err, domain.ErrForbidden):
		code = "forbidden"
	case errors.Is(err, domain.ErrGuestNotAllowed):
		code = "guest_not_allowed"
	case errors.Is(err, domain.ErrInsufficientInvites):
		code = "insufficient_invites"
	case errors.Is(err, domain.ErrOwnerMustTransfer):
		code = "owner_must_transfer"
	case errors.Is(err, domain.ErrEditWindowExpired):
		code = "edit_window_expired"
	case errors.Is(err, domain.ErrAlreadyDeleted):
		code = "already_deleted"
	case errors.Is(err, domain.ErrEmptyContent):
		code = "empty_content"
	case errors.Is(err, domain.ErrConflict):
		code = "conflict"
	}
	if code == "internal" {
		h.log.Error().Err(err).Str("conn", conn.ID).Msg("operation failed")
	}
	h.send(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: err.Error()})
}

func (h *Handlers) ok(conn *ws.Connection, op string) {
	h.send(conn, protocol.TypeOK, protocol.OKMsg{Op: op})
}

// wireMessage converts a stored message for delivery.
func wireMessage(m *domain.Message) protocol.WireMessage {
	w := protocol.WireMessage{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		SenderID:  m.SenderID,
		ClientID:  m.ClientID,
		Content:   m.Content,
		Kind:      string(m.Kind),
		CreatedAt: m.CreatedAt.Unix(),
		Deleted:   m.Deleted(),
	}
	if m.EditedAt != nil {
		w.EditedAt = m.EditedAt.Unix()
	}
	return w
}

// subscribeThread attaches the connection to a thread's event stream.
// Message events from senders the viewer has blocked are dropped at
// delivery; typing echoes back to the originator are suppressed.
func (h *Handlers) subscribeThread(conn *ws.Connection, threadID string) {
	subject := events.ThreadSubject(threadID)
	err := h.bus.Subscribe(conn.ID, subject, func(data []byte) {
		if !h.shouldDeliver(conn, data) {
			return
		}
		_ = conn.WriteMessage(data)
	})
	if err != nil {
		h.log.Error().Err(err).Str("thread", threadID).Msg("subscribe failed")
		return
	}
	conn.JoinThread(threadID)
}

func (h *Handlers) unsubscribeThread(conn *ws.Connection, threadID string) {
	_ = h.bus.Unsubscribe(conn.ID, events.ThreadSubject(threadID))
	conn.LeaveThread(threadID)
}

// shouldDeliver applies viewer-side shaping to a thread event.
func (h *Handlers) shouldDeliver(conn *ws.Connection, data []byte) bool {
	var peek struct {
		Type    string `json:"type"`
		UserID  string `json:"user_id"`
		Message *struct {
			SenderID string `json:"sender_id"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return true
	}
	viewer := conn.Identity()
	switch peek.Type {
	case protocol.TypeMessageAppended, protocol.TypeMessageEdited:
		if peek.Message == nil {
			return true
		}
		ctx, cancel := opCtx()
		defer cancel()
		return h.blocks.ShouldDeliver(ctx, viewer, peek.Message.SenderID)
	case protocol.TypeServerTyping:
		return peek.UserID != viewer
	}
	return true
}

// subscribeIdentity attaches the connection to its identity's direct
// event stream and the broadcast channel.
func (h *Handlers) subscribeIdentity(conn *ws.Connection, identityID string) {
	deliver := func(data []byte) { _ = conn.WriteMessage(data) }
	if err := h.bus.Subscribe(conn.ID, events.IdentitySubject(identityID), deliver); err != nil {
		h.log.Error().Err(err).Str("identity", identityID).Msg("identity subscribe failed")
	}
	if err := h.bus.Subscribe(conn.ID, events.SubjectBroadcast, deliver); err != nil {
		h.log.Error().Err(err).Msg("broadcast subscribe failed")
	}
}
