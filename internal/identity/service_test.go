package identity

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosstalk/chat-server/internal/domain"
	"github.com/crosstalk/chat-server/internal/session"
	"github.com/crosstalk/chat-server/internal/store/memory"
)

type banGateStub struct {
	state domain.BanState
}

func (b *banGateStub) State(ctx context.Context, identityID string) (domain.BanState, error) {
	return b.state, nil
}

func newService(t *testing.T, bans BanGate) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := session.NewStore(client, time.Hour, 10*time.Minute)
	tokens := session.NewTokens("test-secret")
	return NewService(memory.New(), sessions, tokens, bans, time.Hour, 10*time.Minute, zerolog.Nop())
}

func TestRegisterAndLogin(t *testing.T) {
	s := newService(t, nil)
	ctx := context.Background()

	sess, err := s.Register(ctx, Credentials{Username: "alice123", Password: "supersecret"})
	require.NoError(t, err)
	assert.Equal(t, "alice123", sess.Identity.Username)
	assert.False(t, sess.Identity.Guest)
	assert.NotEmpty(t, sess.Token)
	assert.NotEmpty(t, sess.SessionID)

	sess2, err := s.Login(ctx, Credentials{Username: "alice123", Password: "supersecret"})
	require.NoError(t, err)
	assert.Equal(t, sess.Identity.ID, sess2.Identity.ID)
	assert.NotEqual(t, sess.SessionID, sess2.SessionID, "each login opens a fresh session")
}

func TestLoginFailuresIndistinguishable(t *testing.T) {
	s := newService(t, nil)
	ctx := context.Background()

	_, err := s.Register(ctx, Credentials{Username: "alice123", Password: "supersecret"})
	require.NoError(t, err)

	// Wrong password and unknown username yield the same error.
	_, err = s.Login(ctx, Credentials{Username: "alice123", Password: "wrongpassword"})
	assert.ErrorIs(t, err, domain.ErrAuth)
	_, err = s.Login(ctx, Credentials{Username: "nosuchuser", Password: "supersecret"})
	assert.ErrorIs(t, err, domain.ErrAuth)
}

func TestRegisterUsernameTaken(t *testing.T) {
	s := newService(t, nil)
	ctx := context.Background()

	_, err := s.Register(ctx, Credentials{Username: "alice123", Password: "supersecret"})
	require.NoError(t, err)

	_, err = s.Register(ctx, Credentials{Username: "alice123", Password: "othersecret"})
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
}

func TestRegisterValidation(t *testing.T) {
	s := newService(t, nil)
	ctx := context.Background()

	tests := []Credentials{
		{Username: "ab", Password: "supersecret"},       // too short
		{Username: "alice123", Password: "short"},       // password too short
		{Username: "bad name!", Password: "supersecret"}, // not alphanumeric
		{Username: "", Password: "supersecret"},
	}
	for _, creds := range tests {
		_, err := s.Register(ctx, creds)
		assert.ErrorIs(t, err, domain.ErrAuth, "creds %+v", creds)
	}
}

func TestGuestJoinGeneratedName(t *testing.T) {
	s := newService(t, nil)
	ctx := context.Background()

	sess, err := s.GuestJoin(ctx, "")
	require.NoError(t, err)
	assert.True(t, sess.Identity.Guest)
	assert.Regexp(t, regexp.MustCompile(`^Guest\d{4}$`), sess.Identity.Username)
}

func TestGuestJoinTakenNameFallsBack(t *testing.T) {
	s := newService(t, nil)
	ctx := context.Background()

	_, err := s.Register(ctx, Credentials{Username: "alice123", Password: "supersecret"})
	require.NoError(t, err)

	sess, err := s.GuestJoin(ctx, "alice123")
	require.NoError(t, err)
	assert.NotEqual(t, "alice123", sess.Identity.Username)
	assert.Regexp(t, regexp.MustCompile(`^Guest`), sess.Identity.Username)
}

func TestResumeRoundtrip(t *testing.T) {
	s := newService(t, nil)
	ctx := context.Background()

	sess, err := s.Register(ctx, Credentials{Username: "alice123", Password: "supersecret"})
	require.NoError(t, err)

	id, sid, err := s.Resume(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.Identity.ID, id.ID)
	assert.Equal(t, sess.SessionID, sid)
}

func TestResumeFailsClosed(t *testing.T) {
	s := newService(t, nil)
	ctx := context.Background()

	sess, err := s.Register(ctx, Credentials{Username: "alice123", Password: "supersecret"})
	require.NoError(t, err)

	// Garbage token.
	_, _, err = s.Resume(ctx, "not-a-token")
	assert.ErrorIs(t, err, domain.ErrSessionExpired)

	// Revoked session: valid signature, no Redis record.
	require.NoError(t, s.Logout(ctx, sess.Token))
	_, _, err = s.Resume(ctx, sess.Token)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestCloseSessionDeactivatesGuest(t *testing.T) {
	s := newService(t, nil)
	ctx := context.Background()

	sess, err := s.GuestJoin(ctx, "")
	require.NoError(t, err)

	require.NoError(t, s.CloseSession(ctx, sess.SessionID, sess.Identity.ID, true))

	_, _, err = s.Resume(ctx, sess.Token)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestRevokeSessionsKillsResume(t *testing.T) {
	s := newService(t, nil)
	ctx := context.Background()

	sess, err := s.Register(ctx, Credentials{Username: "alice123", Password: "supersecret"})
	require.NoError(t, err)
	sess2, err := s.Login(ctx, Credentials{Username: "alice123", Password: "supersecret"})
	require.NoError(t, err)

	require.NoError(t, s.RevokeSessions(ctx, sess.Identity.ID))

	_, _, err = s.Resume(ctx, sess.Token)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
	_, _, err = s.Resume(ctx, sess2.Token)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestLoginBlockedWhileBanned(t *testing.T) {
	gate := &banGateStub{state: domain.BanState{Permanent: true}}
	s := newService(t, gate)
	ctx := context.Background()

	// Registration happens before the ban gate is consulted on login.
	_, err := s.Register(ctx, Credentials{Username: "alice123", Password: "supersecret"})
	require.NoError(t, err)

	_, err = s.Login(ctx, Credentials{Username: "alice123", Password: "supersecret"})
	var banErr *domain.BanError
	require.ErrorAs(t, err, &banErr)
	assert.True(t, banErr.Permanent)
}

func TestResumeBlockedWhileBanned(t *testing.T) {
	gate := &banGateStub{}
	s := newService(t, gate)
	ctx := context.Background()

	sess, err := s.Register(ctx, Credentials{Username: "alice123", Password: "supersecret"})
	require.NoError(t, err)

	gate.state = domain.BanState{Until: time.Now().Add(time.Hour)}
	_, _, err = s.Resume(ctx, sess.Token)
	var banErr *domain.BanError
	require.ErrorAs(t, err, &banErr)
	assert.False(t, banErr.Permanent)
}
