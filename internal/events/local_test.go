package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBusPublishSubscribe(t *testing.T) {
	b := NewLocalBus()

	var got []string
	require.NoError(t, b.Subscribe("conn1", ThreadSubject("th"), func(data []byte) {
		got = append(got, string(data))
	}))

	require.NoError(t, b.Publish(ThreadSubject("th"), []byte("a")))
	require.NoError(t, b.Publish(ThreadSubject("other"), []byte("b")))

	assert.Equal(t, []string{"a"}, got)
}

func TestLocalBusMultipleOwners(t *testing.T) {
	b := NewLocalBus()

	var c1, c2 int
	require.NoError(t, b.Subscribe("conn1", "subj", func([]byte) { c1++ }))
	require.NoError(t, b.Subscribe("conn2", "subj", func([]byte) { c2++ }))

	require.NoError(t, b.Publish("subj", nil))
	assert.Equal(t, 1, c1)
	assert.Equal(t, 1, c2)

	require.NoError(t, b.Unsubscribe("conn1", "subj"))
	require.NoError(t, b.Publish("subj", nil))
	assert.Equal(t, 1, c1)
	assert.Equal(t, 2, c2)
}

func TestLocalBusResubscribeReplaces(t *testing.T) {
	b := NewLocalBus()

	var first, second int
	require.NoError(t, b.Subscribe("conn1", "subj", func([]byte) { first++ }))
	require.NoError(t, b.Subscribe("conn1", "subj", func([]byte) { second++ }))

	require.NoError(t, b.Publish("subj", nil))
	assert.Zero(t, first, "second subscription replaces the first")
	assert.Equal(t, 1, second)
}

func TestLocalBusUnsubscribeAll(t *testing.T) {
	b := NewLocalBus()

	var count int
	require.NoError(t, b.Subscribe("conn1", "a", func([]byte) { count++ }))
	require.NoError(t, b.Subscribe("conn1", "b", func([]byte) { count++ }))
	require.NoError(t, b.Subscribe("conn2", "a", func([]byte) { count++ }))

	b.UnsubscribeAll("conn1")

	require.NoError(t, b.Publish("a", nil))
	require.NoError(t, b.Publish("b", nil))
	assert.Equal(t, 1, count, "only conn2's subscription survives")
}

func TestSubjectHelpers(t *testing.T) {
	assert.Equal(t, "chat.thread.th1", ThreadSubject("th1"))
	assert.Equal(t, "chat.identity.id1", IdentitySubject("id1"))
}
