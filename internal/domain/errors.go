package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across services. Everything here is an expected,
// recoverable condition returned to the caller; only storage I/O failures
// are treated as internal.
var (
	ErrAuth                = errors.New("invalid credentials")
	ErrSessionExpired      = errors.New("session expired")
	ErrNotFound            = errors.New("resource not found")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
	ErrNotOwner            = errors.New("not the group owner")
	ErrNotMember           = errors.New("not a member of this thread")
	ErrGuestNotAllowed     = errors.New("guests cannot use this feature")
	ErrInsufficientInvites = errors.New("a group needs at least one invitee")
	ErrEditWindowExpired   = errors.New("edit window expired")
	ErrAlreadyDeleted      = errors.New("message already deleted")
	ErrOwnerMustTransfer   = errors.New("owner must transfer ownership before leaving")
	ErrUsernameTaken       = errors.New("username already registered")
	ErrEmptyContent        = errors.New("message content is empty")
)

// BanError is returned when an identity or IP ban blocks an operation.
// It carries enough detail for a client to render the exact restriction.
type BanError struct {
	Until     time.Time // zero when permanent
	Permanent bool
	IP        bool // true when the ban is IP-scoped rather than identity-scoped
}

func (e *BanError) Error() string {
	scope := "identity"
	if e.IP {
		scope = "ip"
	}
	if e.Permanent {
		return fmt.Sprintf("%s permanently banned", scope)
	}
	return fmt.Sprintf("%s banned until %s", scope, e.Until.Format(time.RFC3339))
}

