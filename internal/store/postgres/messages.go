package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/crosstalk/chat-server/internal/domain"
)

// MessageStore implements domain.MessageRepo over PostgreSQL. The seq
// column defines append order; history reads newest-first then reverses
// so callers always see append order.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates the message repository.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

const messageColumns = `id, thread_id, sender_id, client_id, content, kind, created_at, edited_at, deleted_at`

func (s *MessageStore) Append(ctx context.Context, m *domain.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, sender_id, client_id, content, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ThreadID, m.SenderID, m.ClientID, m.Content, string(m.Kind), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append message: %w", err)
	}
	return nil
}

func (s *MessageStore) GetMessage(ctx context.Context, threadID, messageID string) (*domain.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE thread_id = $1 AND id = $2`,
		threadID, messageID))
}

func (s *MessageStore) FindByClientID(ctx context.Context, threadID, senderID, clientID string) (*domain.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE thread_id = $1 AND sender_id = $2 AND client_id = $3`,
		threadID, senderID, clientID))
}

func (s *MessageStore) Update(ctx context.Context, m *domain.Message) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = $1, edited_at = $2, deleted_at = $3
		WHERE thread_id = $4 AND id = $5`,
		m.Content, m.EditedAt, m.DeletedAt, m.ThreadID, m.ID)
	if err != nil {
		return fmt.Errorf("postgres: update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *MessageStore) History(ctx context.Context, threadID string, limit int) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+`, seq FROM messages
			WHERE thread_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent ORDER BY seq ASC`,
		threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: history: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *MessageStore) Trim(ctx context.Context, threadID string, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE thread_id = $1 AND seq < (
			SELECT COALESCE(MIN(seq), 0) FROM (
				SELECT seq FROM messages
				WHERE thread_id = $1
				ORDER BY seq DESC
				LIMIT $2
			) kept
		)`, threadID, keep)
	if err != nil {
		return fmt.Errorf("postgres: trim: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		m    domain.Message
		kind string
	)
	err := row.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.ClientID, &m.Content, &kind,
		&m.CreatedAt, &m.EditedAt, &m.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan message: %w", err)
	}
	m.Kind = domain.MessageKind(kind)
	return &m, nil
}
