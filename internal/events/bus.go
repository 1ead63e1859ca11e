// Package events carries server-side fanout between connection handlers
// and, when NATS is configured, between horizontally scaled server
// instances. Subjects are per-thread, per-identity, and a broadcast
// channel for presence and announcements.
package events

// Subject patterns.
const (
	SubjectThread    = "chat.thread"    // + .<thread_id>
	SubjectIdentity  = "chat.identity"  // + .<identity_id>
	SubjectBroadcast = "chat.broadcast" // presence snapshots, announcements
)

// Handler receives raw event payloads.
type Handler func(data []byte)

// Bus is the pub/sub fanout used by the WebSocket layer. Subscriptions
// are keyed by an owner token so several connections on one server can
// subscribe to the same subject independently.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(owner, subject string, handler Handler) error
	Unsubscribe(owner, subject string) error
	UnsubscribeAll(owner string)
	Close()
}

// ThreadSubject returns the subject for a thread's message events.
func ThreadSubject(threadID string) string {
	return SubjectThread + "." + threadID
}

// IdentitySubject returns the subject for events addressed to one
// identity (invites, friend requests, DM opens).
func IdentitySubject(identityID string) string {
	return SubjectIdentity + "." + identityID
}
