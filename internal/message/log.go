// Package message owns the append-only per-thread message logs: idempotent
// appends keyed by (sender, client id), bounded history, and the
// edit/delete window rules. Appends for one thread are linearized by a
// per-thread lock so ordering and dedupe stay well-defined under
// concurrent senders.
package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crosstalk/chat-server/internal/domain"
)

// DeletedMarker replaces the content of soft-deleted messages.
const DeletedMarker = "[deleted]"

// Log provides the message log operations.
type Log struct {
	repo       domain.MessageRepo
	editWindow time.Duration
	keep       int // history bound per thread
	now        func() time.Time
	log        zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-thread append serialization
}

// NewLog wires the message log. keep bounds retained history per thread;
// editWindow bounds author edits and deletes.
func NewLog(repo domain.MessageRepo, editWindow time.Duration, keep int, log zerolog.Logger) *Log {
	return &Log{
		repo:       repo,
		editWindow: editWindow,
		keep:       keep,
		now:        time.Now,
		log:        log.With().Str("component", "messages").Logger(),
		locks:      make(map[string]*sync.Mutex),
	}
}

// SetNow overrides the clock. Test hook.
func (l *Log) SetNow(now func() time.Time) { l.now = now }

func (l *Log) lockFor(threadID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[threadID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[threadID] = m
	}
	return m
}

// Append stores a new message, or returns the existing one unchanged when
// the same (sender, client id) was already appended to the thread. The
// second return reports whether the message is new; deduped appends must
// not be re-delivered.
func (l *Log) Append(ctx context.Context, threadID, senderID, clientID, content string, kind domain.MessageKind) (*domain.Message, bool, error) {
	if content == "" {
		return nil, false, domain.ErrEmptyContent
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}

	lock := l.lockFor(threadID)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := l.repo.FindByClientID(ctx, threadID, senderID, clientID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("message: dedupe lookup: %w", err)
	}

	m := &domain.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		SenderID:  senderID,
		ClientID:  clientID,
		Content:   content,
		Kind:      kind,
		CreatedAt: l.now(),
	}
	if err := l.repo.Append(ctx, m); err != nil {
		return nil, false, fmt.Errorf("message: append: %w", err)
	}
	// Trimming only affects historical fetch, never the delivery of the
	// message just appended.
	if err := l.repo.Trim(ctx, threadID, l.keep); err != nil {
		l.log.Error().Err(err).Str("thread", threadID).Msg("trim failed")
	}
	return m, true, nil
}

// Edit replaces a message's content. Author-only, inside the edit window,
// and never after a delete.
func (l *Log) Edit(ctx context.Context, threadID, messageID, requesterID, newContent string) (*domain.Message, error) {
	if newContent == "" {
		return nil, domain.ErrEmptyContent
	}
	lock := l.lockFor(threadID)
	lock.Lock()
	defer lock.Unlock()

	m, err := l.repo.GetMessage(ctx, threadID, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != requesterID {
		return nil, domain.ErrForbidden
	}
	if m.Deleted() {
		return nil, domain.ErrAlreadyDeleted
	}
	now := l.now()
	if now.Sub(m.CreatedAt) > l.editWindow {
		return nil, domain.ErrEditWindowExpired
	}
	m.Content = newContent
	m.EditedAt = &now
	if err := l.repo.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("message: edit: %w", err)
	}
	return m, nil
}

// Delete soft-deletes a message: the content is replaced by the deletion
// marker and the entry stays in the log for ordering.
func (l *Log) Delete(ctx context.Context, threadID, messageID, requesterID string) (*domain.Message, error) {
	lock := l.lockFor(threadID)
	lock.Lock()
	defer lock.Unlock()

	m, err := l.repo.GetMessage(ctx, threadID, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != requesterID {
		return nil, domain.ErrForbidden
	}
	if m.Deleted() {
		return nil, domain.ErrAlreadyDeleted
	}
	now := l.now()
	if now.Sub(m.CreatedAt) > l.editWindow {
		return nil, domain.ErrEditWindowExpired
	}
	m.Content = DeletedMarker
	m.DeletedAt = &now
	if err := l.repo.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("message: delete: %w", err)
	}
	return m, nil
}

// History returns up to limit messages, newest-last, in append order.
// Blocked or filtered content is not excluded here; visibility shaping is
// the consumer boundary's job.
func (l *Log) History(ctx context.Context, threadID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 || limit > l.keep {
		limit = l.keep
	}
	return l.repo.History(ctx, threadID, limit)
}

// Forget drops the per-thread lock after a thread is deleted.
func (l *Log) Forget(threadID string) {
	l.mu.Lock()
	delete(l.locks, threadID)
	l.mu.Unlock()
}
