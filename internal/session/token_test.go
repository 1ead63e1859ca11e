package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundtrip(t *testing.T) {
	tk := NewTokens("test-secret")

	token, err := tk.Sign(Claims{IdentityID: "id-1", SessionID: "sess-1", Guest: true}, time.Hour)
	require.NoError(t, err)

	claims, err := tk.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "id-1", claims.IdentityID)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.True(t, claims.Guest)
}

func TestVerifyExpired(t *testing.T) {
	tk := NewTokens("test-secret")
	token, err := tk.Sign(Claims{IdentityID: "id-1", SessionID: "sess-1"}, -time.Minute)
	require.NoError(t, err)

	_, err = tk.Verify(token)
	assert.Error(t, err)
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := NewTokens("secret-a").Sign(Claims{IdentityID: "id-1", SessionID: "sess-1"}, time.Hour)
	require.NoError(t, err)

	_, err = NewTokens("secret-b").Verify(token)
	assert.Error(t, err)
}

func TestVerifyTampered(t *testing.T) {
	tk := NewTokens("test-secret")
	token, err := tk.Sign(Claims{IdentityID: "id-1", SessionID: "sess-1"}, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + ".eyJzdWIiOiJvdGhlciJ9." + parts[2]

	_, err = tk.Verify(tampered)
	assert.Error(t, err)
}

func TestVerifyGarbage(t *testing.T) {
	tk := NewTokens("test-secret")
	for _, input := range []string{"", "not-a-token", "a.b.c"} {
		_, err := tk.Verify(input)
		assert.Error(t, err, "input %q", input)
	}
}
