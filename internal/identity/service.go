// Package identity resolves credentials and tokens to stable identities
// and owns the account/guest lifecycle. It is the only path that issues
// session tokens; everything downstream trusts the identity id it yields.
package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/crosstalk/chat-server/internal/domain"
	"github.com/crosstalk/chat-server/internal/session"
)

// BanGate answers whether an identity is currently allowed to
// authenticate. Implemented by the moderation strike engine.
type BanGate interface {
	State(ctx context.Context, identityID string) (domain.BanState, error)
}

// Service implements login, registration, guest join, resume, and logout.
type Service struct {
	repo     domain.IdentityRepo
	sessions *session.Store
	tokens   *session.Tokens
	bans     BanGate
	validate *validator.Validate
	log      zerolog.Logger

	accountTTL time.Duration
	guestTTL   time.Duration
}

// NewService wires the identity service. bans may be nil in tests that do
// not exercise the moderation engine.
func NewService(repo domain.IdentityRepo, sessions *session.Store, tokens *session.Tokens, bans BanGate, accountTTL, guestTTL time.Duration, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		sessions:   sessions,
		tokens:     tokens,
		bans:       bans,
		validate:   validator.New(),
		log:        log.With().Str("component", "identity").Logger(),
		accountTTL: accountTTL,
		guestTTL:   guestTTL,
	}
}

// Credentials are the inputs for registration and login.
type Credentials struct {
	Username string `validate:"required,min=3,max=24,alphanum"`
	Password string `validate:"required,min=8,max=128"`
}

// Session is the result of a successful authentication.
type Session struct {
	Identity  *domain.Identity
	SessionID string
	Token     string
}

// Register creates a new account and logs it in.
func (s *Service) Register(ctx context.Context, creds Credentials) (*Session, error) {
	if err := s.validate.Struct(creds); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAuth, err)
	}
	if _, err := s.repo.GetByUsername(ctx, creds.Username); err == nil {
		return nil, domain.ErrUsernameTaken
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("identity: lookup username: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("identity: hash password: %w", err)
	}

	id := &domain.Identity{
		ID:           uuid.NewString(),
		Username:     creds.Username,
		PasswordHash: string(hash),
		Presence:     domain.PresenceOnline,
		Settings:     make(map[string]string),
		CreatedAt:    time.Now(),
	}
	if err := s.repo.PutIdentity(ctx, id); err != nil {
		return nil, fmt.Errorf("identity: store: %w", err)
	}
	s.log.Info().Str("identity", id.ID).Str("username", id.Username).Msg("account registered")
	return s.open(ctx, id)
}

// Login authenticates an existing account. Bad usernames and bad passwords
// are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, creds Credentials) (*Session, error) {
	id, err := s.repo.GetByUsername(ctx, creds.Username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrAuth
	}
	if err != nil {
		return nil, fmt.Errorf("identity: lookup: %w", err)
	}
	if id.Guest {
		return nil, domain.ErrAuth
	}
	if err := bcrypt.CompareHashAndPassword([]byte(id.PasswordHash), []byte(creds.Password)); err != nil {
		return nil, domain.ErrAuth
	}
	if err := s.checkBan(ctx, id.ID); err != nil {
		return nil, err
	}
	return s.open(ctx, id)
}

// GuestJoin creates an ephemeral guest identity. If the requested name is
// empty or taken, a generated GuestNNNN name is used instead.
func (s *Service) GuestJoin(ctx context.Context, requestedName string) (*Session, error) {
	name := requestedName
	if name != "" {
		if _, err := s.repo.GetByUsername(ctx, name); err == nil {
			name = ""
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("identity: lookup guest name: %w", err)
		}
	}
	if name == "" {
		var err error
		if name, err = s.generateGuestName(ctx); err != nil {
			return nil, err
		}
	}

	id := &domain.Identity{
		ID:        uuid.NewString(),
		Username:  name,
		Guest:     true,
		Presence:  domain.PresenceOnline,
		CreatedAt: time.Now(),
	}
	if err := s.repo.PutIdentity(ctx, id); err != nil {
		return nil, fmt.Errorf("identity: store guest: %w", err)
	}
	s.log.Info().Str("identity", id.ID).Str("username", name).Msg("guest joined")
	return s.open(ctx, id)
}

// Resume reattaches a reconnecting client and returns the identity plus
// the resumed session id. It fails closed: an invalid signature, an
// expired token, a revoked Redis record, or a subject mismatch all yield
// ErrSessionExpired.
func (s *Service) Resume(ctx context.Context, token string) (*domain.Identity, string, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, "", domain.ErrSessionExpired
	}
	rec, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, "", fmt.Errorf("identity: session lookup: %w", err)
	}
	if rec == nil || rec.IdentityID != claims.IdentityID {
		return nil, "", domain.ErrSessionExpired
	}
	if err := s.checkBan(ctx, claims.IdentityID); err != nil {
		return nil, "", err
	}
	id, err := s.repo.GetIdentity(ctx, claims.IdentityID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, "", domain.ErrSessionExpired
	}
	if err != nil {
		return nil, "", fmt.Errorf("identity: load: %w", err)
	}
	if id.Inactive {
		return nil, "", domain.ErrSessionExpired
	}
	_ = s.sessions.Touch(ctx, claims.SessionID, claims.Guest)
	return id, claims.SessionID, nil
}

// Logout revokes the session behind the token. Guest identities are marked
// inactive so they cannot be resumed.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return domain.ErrSessionExpired
	}
	if err := s.sessions.Revoke(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("identity: revoke: %w", err)
	}
	if claims.Guest {
		if id, err := s.repo.GetIdentity(ctx, claims.IdentityID); err == nil {
			id.Inactive = true
			_ = s.repo.PutIdentity(ctx, id)
		}
	}
	return nil
}

// CloseSession revokes one session by id, marking guest identities
// inactive so they cannot be resumed. Used by the connection layer, which
// tracks session ids rather than tokens.
func (s *Service) CloseSession(ctx context.Context, sessionID, identityID string, guest bool) error {
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return fmt.Errorf("identity: revoke: %w", err)
	}
	if guest {
		if id, err := s.repo.GetIdentity(ctx, identityID); err == nil {
			id.Inactive = true
			_ = s.repo.PutIdentity(ctx, id)
		}
	}
	return nil
}

// Get loads an identity by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Identity, error) {
	return s.repo.GetIdentity(ctx, id)
}

// GetByUsername loads an identity by its unique username.
func (s *Service) GetByUsername(ctx context.Context, username string) (*domain.Identity, error) {
	return s.repo.GetByUsername(ctx, username)
}

// RevokeSessions drops every live session of an identity. Used by the
// moderation engine when bans land.
func (s *Service) RevokeSessions(ctx context.Context, identityID string) error {
	return s.sessions.RevokeAllForIdentity(ctx, identityID)
}

// Delete removes an identity and every session it holds. Administrative
// only; message history keeps the sender id for ordering.
func (s *Service) Delete(ctx context.Context, identityID string) error {
	if err := s.sessions.RevokeAllForIdentity(ctx, identityID); err != nil {
		return fmt.Errorf("identity: revoke sessions: %w", err)
	}
	if err := s.repo.DeleteIdentity(ctx, identityID); err != nil {
		return fmt.Errorf("identity: delete: %w", err)
	}
	s.log.Info().Str("identity", identityID).Msg("identity deleted")
	return nil
}

func (s *Service) open(ctx context.Context, id *domain.Identity) (*Session, error) {
	sid := uuid.NewString()
	if err := s.sessions.Create(ctx, session.Record{ID: sid, IdentityID: id.ID, Guest: id.Guest}); err != nil {
		return nil, err
	}
	ttl := s.accountTTL
	if id.Guest {
		ttl = s.guestTTL
	}
	token, err := s.tokens.Sign(session.Claims{IdentityID: id.ID, SessionID: sid, Guest: id.Guest}, ttl)
	if err != nil {
		return nil, fmt.Errorf("identity: sign token: %w", err)
	}
	return &Session{Identity: id, SessionID: sid, Token: token}, nil
}

func (s *Service) checkBan(ctx context.Context, identityID string) error {
	if s.bans == nil {
		return nil
	}
	state, err := s.bans.State(ctx, identityID)
	if err != nil {
		return fmt.Errorf("identity: ban lookup: %w", err)
	}
	if state.Permanent {
		return &domain.BanError{Permanent: true}
	}
	if state.Banned(time.Now()) {
		return &domain.BanError{Until: state.Until}
	}
	return nil
}

func (s *Service) generateGuestName(ctx context.Context) (string, error) {
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("Guest%04d", rand.Intn(10000))
		if _, err := s.repo.GetByUsername(ctx, name); errors.Is(err, domain.ErrNotFound) {
			return name, nil
		} else if err != nil {
			return "", fmt.Errorf("identity: guest name lookup: %w", err)
		}
	}
	// Fall back to a uuid suffix when the short namespace is crowded.
	return "Guest" + uuid.NewString()[:8], nil
}
