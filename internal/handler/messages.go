package handler

import (
	"errors"
	"time"

	"github.com/crosstalk/chat-server/internal/domain"
	"github.com/crosstalk/chat-server/internal/events"
	"github.com/crosstalk/chat-server/internal/metrics"
	"github.com/crosstalk/chat-server/internal/protocol"
	"github.com/crosstalk/chat-server/internal/ratelimit"
	"github.com/crosstalk/chat-server/internal/ws"
)

// handleSend runs the full send pipeline: membership, cooldown
// reservation, link window, hard filter, idempotent append, fanout. A
// rejection at any stage leaves earlier stages' state untouched except
// the cooldown and link reservations, which are refunded on downstream
// failure.
func (h *Handlers) handleSend(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.SendMsg)
	ctx, cancel := opCtx()
	defer cancel()
	start := time.Now()
	ident := conn.Identity()

	if err := h.threads.CanPost(ctx, m.ThreadID, ident); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		h.sendErr(conn, err)
		return
	}

	if err := h.cooldowns.CheckAndReserve(ctx, ident, conn.Guest()); err != nil {
		var cdErr *ratelimit.CooldownError
		if errors.As(err, &cdErr) {
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			h.send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
				Scope:       "send",
				RemainingMs: cdErr.Remaining.Milliseconds(),
			})
			return
		}
		h.sendErr(conn, err)
		return
	}

	if err := h.cooldowns.CheckLink(ctx, ident, m.Content); err != nil {
		// The send slot was taken but the message is refused; refund it.
		h.cooldowns.Release(ctx, ident)
		var linkErr *ratelimit.LinkCooldownError
		if errors.As(err, &linkErr) {
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			h.send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
				Scope:       "link",
				RemainingMs: linkErr.Remaining.Milliseconds(),
			})
			return
		}
		h.sendErr(conn, err)
		return
	}

	content, res := h.filter.Apply(m.Content)
	if res.Blocked {
		metrics.MessagesTotal.WithLabelValues("filtered").Inc()
		h.log.Info().Str("identity", ident).Str("term", res.Term).Msg("message filtered")
	}

	stored, isNew, err := h.messages.Append(ctx, m.ThreadID, ident, m.ClientID, content, domain.KindText)
	if err != nil {
		h.cooldowns.Release(ctx, ident)
		h.cooldowns.ReleaseLink(ctx, ident, m.Content)
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		h.sendErr(conn, err)
		return
	}

	if !isNew {
		// A retry of an already-appended message: acknowledge with the
		// original, refund the reservations, and skip fanout.
		h.cooldowns.Release(ctx, ident)
		h.cooldowns.ReleaseLink(ctx, ident, m.Content)
		metrics.MessagesTotal.WithLabelValues("deduplicated").Inc()
		h.send(conn, protocol.TypeMessageAppended, protocol.MessageAppendedMsg{Message: wireMessage(stored)})
		return
	}

	metrics.MessagesTotal.WithLabelValues("appended").Inc()
	metrics.MessageLatency.Observe(time.Since(start).Seconds())
	h.publish(events.ThreadSubject(m.ThreadID), protocol.TypeMessageAppended,
		protocol.MessageAppendedMsg{Message: wireMessage(stored)})
}

func (h *Handlers) handleEdit(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.EditMessageMsg)
	ctx, cancel := opCtx()
	defer cancel()

	// Edits pass the hard filter too; an edit cannot smuggle in what a
	// send could not.
	content, _ := h.filter.Apply(m.Content)

	edited, err := h.messages.Edit(ctx, m.ThreadID, m.MessageID, conn.Identity(), content)
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	h.publish(events.ThreadSubject(m.ThreadID), protocol.TypeMessageEdited,
		protocol.MessageEditedMsg{Message: wireMessage(edited)})
}

func (h *Handlers) handleDelete(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.DeleteMessageMsg)
	ctx, cancel := opCtx()
	defer cancel()

	deleted, err := h.messages.Delete(ctx, m.ThreadID, m.MessageID, conn.Identity())
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	h.publish(events.ThreadSubject(m.ThreadID), protocol.TypeMessageDeleted,
		protocol.MessageDeletedMsg{ThreadID: m.ThreadID, MessageID: deleted.ID})
}

func (h *Handlers) handleHistory(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.HistoryMsg)
	ctx, cancel := opCtx()
	defer cancel()
	ident := conn.Identity()

	t, err := h.threads.Get(ctx, m.ThreadID)
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	if !t.HasMember(ident) {
		h.sendErr(conn, domain.ErrNotMember)
		return
	}

	msgs, err := h.messages.History(ctx, m.ThreadID, m.Limit)
	if err != nil {
		h.sendErr(conn, err)
		return
	}
	msgs, err = h.blocks.FilterVisible(ctx, ident, msgs)
	if err != nil {
		h.sendErr(conn, err)
		return
	}

	out := make([]protocol.WireMessage, len(msgs))
	for i, stored := range msgs {
		out[i] = wireMessage(stored)
	}
	h.send(conn, protocol.TypeHistoryResult, protocol.HistoryResultMsg{ThreadID: m.ThreadID, Messages: out})
}

func (h *Handlers) handleTyping(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.TypingMsg)
	ctx, cancel := opCtx()
	defer cancel()
	ident := conn.Identity()

	if err := h.threads.CanPost(ctx, m.ThreadID, ident); err != nil {
		return // typing is best-effort; no error traffic
	}
	h.publish(events.ThreadSubject(m.ThreadID), protocol.TypeServerTyping, protocol.ServerTypingMsg{
		ThreadID: m.ThreadID,
		UserID:   ident,
		IsTyping: m.IsTyping,
	})
}
