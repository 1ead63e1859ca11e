package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessageSend(t *testing.T) {
	raw := []byte(`{"type":"send","thread_id":"global","client_id":"c1","content":"hello"}`)

	msgType, msg, err := ParseClientMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeSend, msgType)

	send, ok := msg.(SendMsg)
	require.True(t, ok)
	assert.Equal(t, "global", send.ThreadID)
	assert.Equal(t, "c1", send.ClientID)
	assert.Equal(t, "hello", send.Content)
}

func TestParseClientMessageUnknownType(t *testing.T) {
	msgType, _, err := ParseClientMessage([]byte(`{"type":"teleport"}`))
	assert.Error(t, err)
	assert.Equal(t, "teleport", msgType)
}

func TestParseClientMessageServerTypeRejected(t *testing.T) {
	// Server-only discriminators never parse as client input.
	_, _, err := ParseClientMessage([]byte(`{"type":"message_appended"}`))
	assert.Error(t, err)
}

func TestParseClientMessageMissingType(t *testing.T) {
	for _, raw := range []string{`{}`, `{"type":""}`, `not json`, `[1,2]`} {
		_, _, err := ParseClientMessage([]byte(raw))
		assert.Error(t, err, "input %s", raw)
	}
}

func TestParseClientMessageValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"send without content", `{"type":"send","thread_id":"global"}`},
		{"send without thread", `{"type":"send","content":"hi"}`},
		{"register short password", `{"type":"register","username":"alice","password":"short"}`},
		{"presence bad status", `{"type":"set_presence","status":"away"}`},
		{"report bad reason", `{"type":"report","user_id":"u1","reason":"ugly"}`},
		{"group without invitees", `{"type":"create_group","name":"team","invitees":[]}`},
		{"history limit too high", `{"type":"history","thread_id":"global","limit":9999}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseClientMessage([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestParseClientMessageOptionalFields(t *testing.T) {
	// client_id and limit are optional.
	_, msg, err := ParseClientMessage([]byte(`{"type":"send","thread_id":"global","content":"hi"}`))
	require.NoError(t, err)
	assert.Empty(t, msg.(SendMsg).ClientID)

	_, msg, err = ParseClientMessage([]byte(`{"type":"history","thread_id":"global"}`))
	require.NoError(t, err)
	assert.Zero(t, msg.(HistoryMsg).Limit)
}

func TestNewServerMessageInjectsType(t *testing.T) {
	data, err := NewServerMessage(TypePong, PongMsg{})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "pong", decoded["type"])
}

func TestNewServerMessageOverridesStructType(t *testing.T) {
	// The discriminator argument wins over whatever the struct carried.
	data, err := NewServerMessage(TypeError, ErrorMsg{Type: "bogus", Code: "internal", Message: "boom"})
	require.NoError(t, err)

	var decoded ErrorMsg
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeError, decoded.Type)
	assert.Equal(t, "internal", decoded.Code)
	assert.Equal(t, "boom", decoded.Message)
}
