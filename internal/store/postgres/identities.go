package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/crosstalk/chat-server/internal/domain"
)

// IdentityStore implements domain.IdentityRepo over PostgreSQL.
type IdentityStore struct {
	db *sql.DB
}

// NewIdentityStore creates the identity repository.
func NewIdentityStore(db *sql.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) PutIdentity(ctx context.Context, id *domain.Identity) error {
	settings, err := json.Marshal(id.Settings)
	if err != nil {
		return fmt.Errorf("postgres: marshal settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO identities (id, username, password_hash, guest, inactive, presence, settings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			username      = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash,
			guest         = EXCLUDED.guest,
			inactive      = EXCLUDED.inactive,
			presence      = EXCLUDED.presence,
			settings      = EXCLUDED.settings`,
		id.ID, id.Username, id.PasswordHash, id.Guest, id.Inactive, string(id.Presence), settings, id.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: put identity: %w", err)
	}
	return nil
}

func (s *IdentityStore) GetIdentity(ctx context.Context, id string) (*domain.Identity, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, guest, inactive, presence, settings, created_at
		FROM identities WHERE id = $1`, id))
}

func (s *IdentityStore) GetByUsername(ctx context.Context, username string) (*domain.Identity, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, guest, inactive, presence, settings, created_at
		FROM identities WHERE username = $1`, username))
}

func (s *IdentityStore) DeleteIdentity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *IdentityStore) scanOne(row *sql.Row) (*domain.Identity, error) {
	var (
		id       domain.Identity
		presence string
		settings []byte
	)
	err := row.Scan(&id.ID, &id.Username, &id.PasswordHash, &id.Guest, &id.Inactive, &presence, &settings, &id.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan identity: %w", err)
	}
	id.Presence = domain.PresenceStatus(presence)
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &id.Settings); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal settings: %w", err)
		}
	}
	return &id, nil
}
