// Package domain defines the core entities of the chat service and the
// narrow repository interfaces the engine persists through. Services own
// all business rules; repositories only store and retrieve records.
package domain

import "time"

// PresenceStatus is one of the four user presence states. There are no
// other states; idle is entered automatically, dnd and invisible only by
// explicit user choice.
type PresenceStatus string

const (
	PresenceOnline    PresenceStatus = "online"
	PresenceIdle      PresenceStatus = "idle"
	PresenceDND       PresenceStatus = "dnd"
	PresenceInvisible PresenceStatus = "invisible"
)

// ValidPresence reports whether s is a user-selectable presence status.
func ValidPresence(s PresenceStatus) bool {
	switch s {
	case PresenceOnline, PresenceIdle, PresenceDND, PresenceInvisible:
		return true
	}
	return false
}

// Identity is a registered account or an ephemeral guest.
type Identity struct {
	ID           string
	Username     string
	PasswordHash string // empty for guests
	Guest        bool
	Presence     PresenceStatus
	Settings     map[string]string // persisted for accounts only
	CreatedAt    time.Time
	Inactive     bool // set for guests after disconnect timeout / logout
}

// ThreadKind discriminates the three chat surfaces.
type ThreadKind string

const (
	ThreadGlobal ThreadKind = "global"
	ThreadDM     ThreadKind = "dm"
	ThreadGroup  ThreadKind = "group"
)

// GlobalThreadID is the fixed id of the singleton global thread.
const GlobalThreadID = "global"

// Thread is any addressable chat surface. For DM threads Members holds
// exactly the two participants. For group threads Members, PendingInvites
// and ownership are maintained by the registry; the two sets are disjoint.
type Thread struct {
	ID             string
	Kind           ThreadKind
	Name           string // groups only
	OwnerID        string // groups only
	Members        map[string]struct{}
	PendingInvites map[string]struct{}
	Active         bool // groups: true once >= 2 accepted members
	CreatedAt      time.Time
	MemberJoined   map[string]time.Time // groups: accept order, for audit
}

// HasMember reports whether id is an accepted member of the thread.
// The global thread implicitly contains everyone.
func (t *Thread) HasMember(id string) bool {
	if t.Kind == ThreadGlobal {
		return true
	}
	_, ok := t.Members[id]
	return ok
}

// MessageKind discriminates message payloads.
type MessageKind string

const (
	KindText          MessageKind = "text"
	KindSystem        MessageKind = "system"
	KindFriendRequest MessageKind = "friend_request"
	KindGroupInvite   MessageKind = "group_invite"
	KindAnnouncement  MessageKind = "announcement"
)

// Message is one entry in a thread's append-only log. (SenderID, ClientID)
// is unique per thread; duplicate sends return the original entry.
type Message struct {
	ID        string
	ThreadID  string
	SenderID  string
	ClientID  string
	Content   string
	Kind      MessageKind
	CreatedAt time.Time
	EditedAt  *time.Time
	DeletedAt *time.Time
}

// Deleted reports whether the message has been soft-deleted.
func (m *Message) Deleted() bool { return m.DeletedAt != nil }

// FriendRequest is a pending friendship between two identities.
type FriendRequest struct {
	FromID    string
	ToID      string
	CreatedAt time.Time
}

// Report is an abuse report filed by one identity against another.
type Report struct {
	ID         string
	ReporterID string
	ReportedID string
	ThreadID   string
	Reason     string
	CreatedAt  time.Time
}

// BanState summarises an identity's standing with the strike engine.
type BanState struct {
	Strikes   int
	Until     time.Time // zero when not banned or permanent
	Permanent bool
}

// Banned reports whether the state blocks authentication at time now.
func (b BanState) Banned(now time.Time) bool {
	return b.Permanent || now.Before(b.Until)
}
