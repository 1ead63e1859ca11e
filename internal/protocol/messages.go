// Package protocol defines the WebSocket message types exchanged between
// clients and the chat server. Messages are JSON with a type discriminator
// in a consistent envelope; the server never trusts a client field beyond
// what these structs declare.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Client -> Server message types.
const (
	TypeRegister      = "register"
	TypeLogin         = "login"
	TypeGuestJoin     = "guest_join"
	TypeResume        = "resume"
	TypeLogout        = "logout"
	TypeSetPresence   = "set_presence"
	TypeSend          = "send"
	TypeEditMessage   = "edit_message"
	TypeDeleteMessage = "delete_message"
	TypeHistory       = "history"
	TypeOpenDM        = "open_dm"
	TypeCreateGroup   = "create_group"
	TypeInvite        = "invite"
	TypeAcceptInvite  = "accept_invite"
	TypeDeclineInvite = "decline_invite"
	TypeLeaveGroup    = "leave_group"
	TypeRenameGroup   = "rename_group"
	TypeTransferOwner = "transfer_owner"
	TypeRemoveMember  = "remove_member"
	TypeDeleteGroup   = "delete_group"
	TypeBlock         = "block"
	TypeUnblock       = "unblock"
	TypeFriendRequest = "friend_request"
	TypeFriendAccept  = "friend_accept"
	TypeFriendDecline = "friend_decline"
	TypeReport        = "report"
	TypeTyping        = "typing"
	TypePing          = "ping"
)

// Server -> Client message types.
const (
	TypeSession         = "session"
	TypePresence        = "presence"
	TypeMessageAppended = "message_appended"
	TypeMessageEdited   = "message_edited"
	TypeMessageDeleted  = "message_deleted"
	TypeHistoryResult   = "history_result"
	TypeThread          = "thread"
	TypeInviteReceived  = "invite_received"
	TypeFriendReceived  = "friend_request_received"
	TypeAnnouncement    = "announcement"
	TypeRateLimited     = "rate_limited"
	TypeBanned          = "banned"
	TypeServerTyping    = "peer_typing"
	TypeError           = "error"
	TypePong            = "pong"
	TypeOK              = "ok"
)

// Envelope captures the type discriminator and keeps the raw bytes for
// deferred decoding into the concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON extracts only the "type" field and retains the full raw
// message for the second decoding pass.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// RegisterMsg creates a new account and logs it in.
type RegisterMsg struct {
	Type     string `json:"type"`
	Username string `json:"username" validate:"required,min=3,max=24"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// LoginMsg authenticates an existing account.
type LoginMsg struct {
	Type     string `json:"type"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// GuestJoinMsg creates an ephemeral guest identity.
type GuestJoinMsg struct {
	Type string `json:"type"`
	Name string `json:"name" validate:"omitempty,max=24"`
}

// ResumeMsg reattaches a reconnecting client via its session token.
type ResumeMsg struct {
	Type  string `json:"type"`
	Token string `json:"token" validate:"required"`
}

// LogoutMsg ends the current session.
type LogoutMsg struct {
	Type string `json:"type"`
}

// SetPresenceMsg selects a presence status (online/idle/dnd/invisible).
type SetPresenceMsg struct {
	Type   string `json:"type"`
	Status string `json:"status" validate:"required,oneof=online idle dnd invisible"`
}

// SendMsg appends a message to a thread. ClientID makes retries
// idempotent: resending the same id returns the original message.
type SendMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id" validate:"required"`
	ClientID string `json:"client_id" validate:"omitempty,max=64"`
	Content  string `json:"content" validate:"required,max=2000"`
}

// EditMessageMsg edits a previously sent message inside the edit window.
type EditMessageMsg struct {
	Type      string `json:"type"`
	ThreadID  string `json:"thread_id" validate:"required"`
	MessageID string `json:"message_id" validate:"required"`
	Content   string `json:"content" validate:"required,max=2000"`
}

// DeleteMessageMsg soft-deletes a previously sent message.
type DeleteMessageMsg struct {
	Type      string `json:"type"`
	ThreadID  string `json:"thread_id" validate:"required"`
	MessageID string `json:"message_id" validate:"required"`
}

// HistoryMsg fetches recent messages from a thread.
type HistoryMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id" validate:"required"`
	Limit    int    `json:"limit" validate:"omitempty,min=1,max=500"`
}

// OpenDMMsg resolves (lazily creating) the DM thread with another user.
type OpenDMMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id" validate:"required"`
}

// CreateGroupMsg creates a group with at least one initial invitee.
type CreateGroupMsg struct {
	Type     string   `json:"type"`
	Name     string   `json:"name" validate:"required,max=48"`
	Invitees []string `json:"invitees" validate:"required,min=1,dive,required"`
}

// InviteMsg invites a user to a group (owner only).
type InviteMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id" validate:"required"`
	UserID   string `json:"user_id" validate:"required"`
}

// AcceptInviteMsg accepts a pending group invite.
type AcceptInviteMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id" validate:"required"`
}

// DeclineInviteMsg declines a pending group invite.
type DeclineInviteMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id" validate:"required"`
}

// LeaveGroupMsg leaves a group. Owners must transfer ownership first.
type LeaveGroupMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id" validate:"required"`
}

// RenameGroupMsg renames a group (owner only).
type RenameGroupMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id" validate:"required"`
	Name     string `json:"name" validate:"required,max=48"`
}

// TransferOwnerMsg reassigns group ownership to an existing member.
type TransferOwnerMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id" validate:"required"`
	UserID   string `json:"user_id" validate:"required"`
}

// RemoveMemberMsg ejects a member from a group (owner only).
type RemoveMemberMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id" validate:"required"`
	UserID   string `json:"user_id" validate:"required"`
}

// DeleteGroupMsg deletes a group and its log (owner only).
type DeleteGroupMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id" validate:"required"`
}

// BlockMsg hides another user's content from the sender's view.
type BlockMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id" validate:"required"`
}

// UnblockMsg restores visibility.
type UnblockMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id" validate:"required"`
}

// FriendRequestMsg opens (or re-opens) a friend request.
type FriendRequestMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id" validate:"required"`
}

// FriendAcceptMsg accepts a pending friend request from UserID.
type FriendAcceptMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id" validate:"required"`
}

// FriendDeclineMsg declines a pending friend request from UserID.
type FriendDeclineMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id" validate:"required"`
}

// ReportMsg files an abuse report against another user.
type ReportMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id" validate:"required"`
	ThreadID string `json:"thread_id"`
	Reason   string `json:"reason" validate:"required,oneof=harassment spam explicit other"`
}

// TypingMsg signals the sender's typing state in a thread.
type TypingMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id" validate:"required"`
	IsTyping bool   `json:"is_typing"`
}

// PingMsg is a client keepalive.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionMsg is the result of register/login/guest_join/resume.
type SessionMsg struct {
	Type       string `json:"type"`
	IdentityID string `json:"identity_id"`
	Username   string `json:"username"`
	Guest      bool   `json:"guest"`
	Token      string `json:"token,omitempty"`
}

// PresenceEntry is one visible identity in a presence snapshot.
type PresenceEntry struct {
	IdentityID string `json:"identity_id"`
	Username   string `json:"username"`
	Status     string `json:"status"`
}

// PresenceMsg is a full presence snapshot. Identities absent from the list
// are offline or invisible; clients must drop stale entries.
type PresenceMsg struct {
	Type    string          `json:"type"`
	Entries []PresenceEntry `json:"entries"`
}

// WireMessage is a message as delivered to clients.
type WireMessage struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	SenderID  string `json:"sender_id"`
	ClientID  string `json:"client_id,omitempty"`
	Content   string `json:"content"`
	Kind      string `json:"kind"`
	CreatedAt int64  `json:"created_at"`
	EditedAt  int64  `json:"edited_at,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// MessageAppendedMsg announces a new message in a subscribed thread.
type MessageAppendedMsg struct {
	Type    string      `json:"type"`
	Message WireMessage `json:"message"`
}

// MessageEditedMsg announces an edit.
type MessageEditedMsg struct {
	Type    string      `json:"type"`
	Message WireMessage `json:"message"`
}

// MessageDeletedMsg announces a soft delete.
type MessageDeletedMsg struct {
	Type      string `json:"type"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
}

// HistoryResultMsg returns a thread's recent messages, newest-last.
type HistoryResultMsg struct {
	Type     string        `json:"type"`
	ThreadID string        `json:"thread_id"`
	Messages []WireMessage `json:"messages"`
}

// ThreadMsg describes a thread to the client (result of open_dm and group
// operations).
type ThreadMsg struct {
	Type     string   `json:"type"`
	ThreadID string   `json:"thread_id"`
	Kind     string   `json:"kind"`
	Name     string   `json:"name,omitempty"`
	OwnerID  string   `json:"owner_id,omitempty"`
	Members  []string `json:"members,omitempty"`
	Pending  []string `json:"pending,omitempty"`
	Active   bool     `json:"active"`
}

// InviteReceivedMsg notifies an invitee about a pending group invite.
type InviteReceivedMsg struct {
	Type      string `json:"type"`
	ThreadID  string `json:"thread_id"`
	GroupName string `json:"group_name"`
	InviterID string `json:"inviter_id"`
}

// FriendReceivedMsg notifies about an incoming friend request.
type FriendReceivedMsg struct {
	Type     string `json:"type"`
	FromID   string `json:"from_id"`
	Username string `json:"username"`
}

// AnnouncementMsg broadcasts an administrative announcement.
type AnnouncementMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Ts      int64  `json:"ts"`
}

// RateLimitedMsg reports an active cooldown with the exact remaining wait.
type RateLimitedMsg struct {
	Type        string `json:"type"`
	Scope       string `json:"scope"` // "send" or "link"
	RemainingMs int64  `json:"remaining_ms"`
}

// BannedMsg reports an identity or IP ban.
type BannedMsg struct {
	Type      string `json:"type"`
	Permanent bool   `json:"permanent"`
	Until     int64  `json:"until,omitempty"` // unix seconds, timed bans
	IP        bool   `json:"ip"`
}

// ServerTypingMsg relays a peer's typing state.
type ServerTypingMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// ErrorMsg communicates a structured error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg answers a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// OKMsg acknowledges an operation with no richer result.
type OKMsg struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// ---------------------------------------------------------------------------
// Parsing and construction
// ---------------------------------------------------------------------------

var validate = validator.New()

// ParseClientMessage decodes raw bytes into a typed client message and
// validates it. Unknown and server-only types are errors.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeRegister:
		msg, err = decode[RegisterMsg](env.Raw)
	case TypeLogin:
		msg, err = decode[LoginMsg](env.Raw)
	case TypeGuestJoin:
		msg, err = decode[GuestJoinMsg](env.Raw)
	case TypeResume:
		msg, err = decode[ResumeMsg](env.Raw)
	case TypeLogout:
		msg, err = decode[LogoutMsg](env.Raw)
	case TypeSetPresence:
		msg, err = decode[SetPresenceMsg](env.Raw)
	case TypeSend:
		msg, err = decode[SendMsg](env.Raw)
	case TypeEditMessage:
		msg, err = decode[EditMessageMsg](env.Raw)
	case TypeDeleteMessage:
		msg, err = decode[DeleteMessageMsg](env.Raw)
	case TypeHistory:
		msg, err = decode[HistoryMsg](env.Raw)
	case TypeOpenDM:
		msg, err = decode[OpenDMMsg](env.Raw)
	case TypeCreateGroup:
		msg, err = decode[CreateGroupMsg](env.Raw)
	case TypeInvite:
		msg, err = decode[InviteMsg](env.Raw)
	case TypeAcceptInvite:
		msg, err = decode[AcceptInviteMsg](env.Raw)
	case TypeDeclineInvite:
		msg, err = decode[DeclineInviteMsg](env.Raw)
	case TypeLeaveGroup:
		msg, err = decode[LeaveGroupMsg](env.Raw)
	case TypeRenameGroup:
		msg, err = decode[RenameGroupMsg](env.Raw)
	case TypeTransferOwner:
		msg, err = decode[TransferOwnerMsg](env.Raw)
	case TypeRemoveMember:
		msg, err = decode[RemoveMemberMsg](env.Raw)
	case TypeDeleteGroup:
		msg, err = decode[DeleteGroupMsg](env.Raw)
	case TypeBlock:
		msg, err = decode[BlockMsg](env.Raw)
	case TypeUnblock:
		msg, err = decode[UnblockMsg](env.Raw)
	case TypeFriendRequest:
		msg, err = decode[FriendRequestMsg](env.Raw)
	case TypeFriendAccept:
		msg, err = decode[FriendAcceptMsg](env.Raw)
	case TypeFriendDecline:
		msg, err = decode[FriendDeclineMsg](env.Raw)
	case TypeReport:
		msg, err = decode[ReportMsg](env.Raw)
	case TypeTyping:
		msg, err = decode[TypingMsg](env.Raw)
	case TypePing:
		msg, err = decode[PingMsg](env.Raw)
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}
	if err != nil {
		return env.Type, nil, err
	}
	return env.Type, msg, nil
}

func decode[T any](raw json.RawMessage) (T, error) {
	var m T
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("protocol: decode payload: %w", err)
	}
	if err := validate.Struct(m); err != nil {
		return m, fmt.Errorf("protocol: invalid payload: %w", err)
	}
	return m, nil
}

// NewServerMessage marshals a server payload, forcing the envelope type
// discriminator regardless of what the struct carried.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal payload: %w", err)
	}
	var fieldsOnly map[string]json.RawMessage
	if err := json.Unmarshal(data, &fieldsOnly); err != nil {
		return nil, fmt.Errorf("protocol: payload is not an object: %w", err)
	}
	typeField, _ := json.Marshal(msgType)
	fieldsOnly["type"] = typeField
	return json.Marshal(fieldsOnly)
}
