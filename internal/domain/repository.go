package domain

import (
	"context"
	"time"
)

// IdentityRepo stores identities. Lookups by username are case-sensitive
// and unique.
type IdentityRepo interface {
	PutIdentity(ctx context.Context, id *Identity) error
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	GetByUsername(ctx context.Context, username string) (*Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
}

// ThreadRepo stores threads and their membership state. FindDM resolves
// the unordered pair key; implementations must return the same thread for
// (a,b) and (b,a).
type ThreadRepo interface {
	PutThread(ctx context.Context, t *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	FindDM(ctx context.Context, userA, userB string) (*Thread, error)
	ListForIdentity(ctx context.Context, identityID string) ([]*Thread, error)
	DeleteThread(ctx context.Context, id string) error
}

// MessageRepo stores per-thread message logs. Append order defines history
// order. FindByClientID supports idempotent sends.
type MessageRepo interface {
	Append(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, threadID, messageID string) (*Message, error)
	FindByClientID(ctx context.Context, threadID, senderID, clientID string) (*Message, error)
	Update(ctx context.Context, m *Message) error
	History(ctx context.Context, threadID string, limit int) ([]*Message, error)
	Trim(ctx context.Context, threadID string, keep int) error
}

// SocialRepo stores friendship state and block lists.
type SocialRepo interface {
	PutRequest(ctx context.Context, r *FriendRequest) error
	GetRequest(ctx context.Context, fromID, toID string) (*FriendRequest, error)
	DeleteRequest(ctx context.Context, fromID, toID string) error
	AddFriends(ctx context.Context, a, b string) error
	AreFriends(ctx context.Context, a, b string) (bool, error)
	Friends(ctx context.Context, identityID string) ([]string, error)

	AddBlock(ctx context.Context, blockerID, targetID string) error
	RemoveBlock(ctx context.Context, blockerID, targetID string) error
	IsBlocked(ctx context.Context, blockerID, targetID string) (bool, error)
	BlockedBy(ctx context.Context, blockerID string) ([]string, error)
}

// ReportRepo stores abuse reports.
type ReportRepo interface {
	CreateReport(ctx context.Context, r *Report) error
	Recent(ctx context.Context, limit int) ([]*Report, error)
	CountAgainst(ctx context.Context, reportedID string, window time.Duration) (int, error)
}
