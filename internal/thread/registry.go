// Package thread is the directory of chat surfaces: the global thread,
// lazily-created DM threads keyed by unordered user pair, and invite-gated
// group threads. DM creation is serialized per pair and group mutations
// per group id, so concurrent opens and invite/accept/remove races cannot
// corrupt membership.
package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crosstalk/chat-server/internal/domain"
)

// Registry owns thread lifecycle and membership.
type Registry struct {
	threads    domain.ThreadRepo
	identities domain.IdentityRepo
	social     domain.SocialRepo
	log        zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-group serialization
}

// NewRegistry wires the registry. The social repo is consulted for the
// block policy on DM creation.
func NewRegistry(threads domain.ThreadRepo, identities domain.IdentityRepo, social domain.SocialRepo, log zerolog.Logger) *Registry {
	return &Registry{
		threads:    threads,
		identities: identities,
		social:     social,
		log:        log.With().Str("component", "threads").Logger(),
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing mutations on one group.
func (r *Registry) lockFor(threadID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[threadID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[threadID] = l
	}
	return l
}

// dmLockKey names the creation lock for an unordered DM pair. Distinct
// from thread ids, which key the group locks in the same map.
func dmLockKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm\x00" + a + "\x00" + b
}

func (r *Registry) dropLock(threadID string) {
	r.mu.Lock()
	delete(r.locks, threadID)
	r.mu.Unlock()
}

// EnsureGlobal creates the singleton global thread if it does not exist.
// Called once at startup.
func (r *Registry) EnsureGlobal(ctx context.Context) error {
	if _, err := r.threads.GetThread(ctx, domain.GlobalThreadID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return r.threads.PutThread(ctx, &domain.Thread{
		ID:        domain.GlobalThreadID,
		Kind:      domain.ThreadGlobal,
		Name:      "Global",
		Active:    true,
		CreatedAt: time.Now(),
	})
}

// Get loads a thread by id.
func (r *Registry) Get(ctx context.Context, id string) (*domain.Thread, error) {
	return r.threads.GetThread(ctx, id)
}

// ListForIdentity returns the threads visible to an identity.
func (r *Registry) ListForIdentity(ctx context.Context, identityID string) ([]*domain.Thread, error) {
	return r.threads.ListForIdentity(ctx, identityID)
}

// EnsureDM returns the DM thread for the pair, creating it on first use.
// The same pair always maps to the same thread regardless of argument
// order. A user blocked by the other party cannot open a new DM; an
// existing thread is returned as-is (hiding happens at read time).
func (r *Registry) EnsureDM(ctx context.Context, initiatorID, otherID string) (*domain.Thread, error) {
	if initiatorID == otherID {
		return nil, domain.ErrConflict
	}
	if t, err := r.threads.FindDM(ctx, initiatorID, otherID); err == nil {
		return t, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// Creation is serialized per pair so concurrent first opens cannot
	// both store a thread and orphan one of them.
	l := r.lockFor(dmLockKey(initiatorID, otherID))
	l.Lock()
	defer l.Unlock()

	if t, err := r.threads.FindDM(ctx, initiatorID, otherID); err == nil {
		return t, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if _, err := r.identities.GetIdentity(ctx, otherID); err != nil {
		return nil, err
	}
	blocked, err := r.social.IsBlocked(ctx, otherID, initiatorID)
	if err != nil {
		return nil, fmt.Errorf("thread: block lookup: %w", err)
	}
	if blocked {
		return nil, domain.ErrForbidden
	}

	t := &domain.Thread{
		ID:   uuid.NewString(),
		Kind: domain.ThreadDM,
		Members: map[string]struct{}{
			initiatorID: {},
			otherID:     {},
		},
		PendingInvites: map[string]struct{}{},
		Active:         true,
		CreatedAt:      time.Now(),
	}
	if err := r.threads.PutThread(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// CreateGroup creates a pending group owned by ownerID with the given
// invitees. Groups require at least one invitee and stay inactive until an
// invite is accepted. Guests can neither own nor be invited.
func (r *Registry) CreateGroup(ctx context.Context, ownerID, name string, invitees []string) (*domain.Thread, error) {
	if len(invitees) == 0 {
		return nil, domain.ErrInsufficientInvites
	}
	if name == "" {
		return nil, domain.ErrConflict
	}
	owner, err := r.identities.GetIdentity(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if owner.Guest {
		return nil, domain.ErrGuestNotAllowed
	}

	now := time.Now()
	t := &domain.Thread{
		ID:             uuid.NewString(),
		Kind:           domain.ThreadGroup,
		Name:           name,
		OwnerID:        ownerID,
		Members:        map[string]struct{}{ownerID: {}},
		PendingInvites: map[string]struct{}{},
		Active:         false,
		CreatedAt:      now,
		MemberJoined:   map[string]time.Time{ownerID: now},
	}
	for _, inviteeID := range invitees {
		if inviteeID == ownerID {
			continue
		}
		invitee, err := r.identities.GetIdentity(ctx, inviteeID)
		if err != nil {
			return nil, err
		}
		if invitee.Guest {
			return nil, domain.ErrGuestNotAllowed
		}
		t.PendingInvites[inviteeID] = struct{}{}
	}
	if len(t.PendingInvites) == 0 {
		return nil, domain.ErrInsufficientInvites
	}
	if err := r.threads.PutThread(ctx, t); err != nil {
		return nil, err
	}
	r.log.Info().Str("group", t.ID).Str("owner", ownerID).Int("invites", len(t.PendingInvites)).Msg("group created")
	return t, nil
}

// mutateGroup runs fn on the group under its per-group lock and persists
// the result. fn sees a private copy and may mutate it freely.
func (r *Registry) mutateGroup(ctx context.Context, threadID string, fn func(*domain.Thread) error) (*domain.Thread, error) {
	l := r.lockFor(threadID)
	l.Lock()
	defer l.Unlock()

	t, err := r.threads.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if t.Kind != domain.ThreadGroup {
		return nil, domain.ErrNotFound
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	if err := r.threads.PutThread(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Invite adds inviteeID to the group's pending set. Owner-only by policy.
func (r *Registry) Invite(ctx context.Context, threadID, inviterID, inviteeID string) (*domain.Thread, error) {
	invitee, err := r.identities.GetIdentity(ctx, inviteeID)
	if err != nil {
		return nil, err
	}
	if invitee.Guest {
		return nil, domain.ErrGuestNotAllowed
	}
	return r.mutateGroup(ctx, threadID, func(t *domain.Thread) error {
		if t.OwnerID != inviterID {
			return domain.ErrNotOwner
		}
		if _, ok := t.Members[inviteeID]; ok {
			return domain.ErrConflict
		}
		if _, ok := t.PendingInvites[inviteeID]; ok {
			return domain.ErrConflict
		}
		t.PendingInvites[inviteeID] = struct{}{}
		return nil
	})
}

// AcceptInvite moves the identity from pending to members. The group
// becomes active once it has two or more accepted members.
func (r *Registry) AcceptInvite(ctx context.Context, threadID, identityID string) (*domain.Thread, error) {
	return r.mutateGroup(ctx, threadID, func(t *domain.Thread) error {
		if _, ok := t.PendingInvites[identityID]; !ok {
			return domain.ErrNotFound
		}
		delete(t.PendingInvites, identityID)
		t.Members[identityID] = struct{}{}
		if t.MemberJoined == nil {
			t.MemberJoined = make(map[string]time.Time)
		}
		t.MemberJoined[identityID] = time.Now()
		if len(t.Members) >= 2 {
			t.Active = true
		}
		return nil
	})
}

// DeclineInvite removes a pending invite.
func (r *Registry) DeclineInvite(ctx context.Context, threadID, identityID string) (*domain.Thread, error) {
	return r.mutateGroup(ctx, threadID, func(t *domain.Thread) error {
		if _, ok := t.PendingInvites[identityID]; !ok {
			return domain.ErrNotFound
		}
		delete(t.PendingInvites, identityID)
		return nil
	})
}

// RemoveMember ejects a member. Owner-only; the owner cannot be removed.
func (r *Registry) RemoveMember(ctx context.Context, threadID, requesterID, memberID string) (*domain.Thread, error) {
	return r.mutateGroup(ctx, threadID, func(t *domain.Thread) error {
		if t.OwnerID != requesterID {
			return domain.ErrNotOwner
		}
		if memberID == t.OwnerID {
			return domain.ErrForbidden
		}
		if _, ok := t.Members[memberID]; !ok {
			return domain.ErrNotMember
		}
		delete(t.Members, memberID)
		delete(t.MemberJoined, memberID)
		return nil
	})
}

// Leave removes the caller from the group. The owner must transfer
// ownership first; there is no auto-promotion.
func (r *Registry) Leave(ctx context.Context, threadID, identityID string) (*domain.Thread, error) {
	return r.mutateGroup(ctx, threadID, func(t *domain.Thread) error {
		if _, ok := t.Members[identityID]; !ok {
			return domain.ErrNotMember
		}
		if t.OwnerID == identityID {
			return domain.ErrOwnerMustTransfer
		}
		delete(t.Members, identityID)
		delete(t.MemberJoined, identityID)
		return nil
	})
}

// Rename changes the group name. Owner-only.
func (r *Registry) Rename(ctx context.Context, threadID, requesterID, name string) (*domain.Thread, error) {
	if name == "" {
		return nil, domain.ErrConflict
	}
	return r.mutateGroup(ctx, threadID, func(t *domain.Thread) error {
		if t.OwnerID != requesterID {
			return domain.ErrNotOwner
		}
		t.Name = name
		return nil
	})
}

// TransferOwner reassigns ownership to an existing member.
func (r *Registry) TransferOwner(ctx context.Context, threadID, requesterID, newOwnerID string) (*domain.Thread, error) {
	return r.mutateGroup(ctx, threadID, func(t *domain.Thread) error {
		if t.OwnerID != requesterID {
			return domain.ErrNotOwner
		}
		if _, ok := t.Members[newOwnerID]; !ok {
			return domain.ErrNotMember
		}
		t.OwnerID = newOwnerID
		return nil
	})
}

// DeleteGroup removes the group and its log. All members lose the thread
// and pending invites are void. Owner-only.
func (r *Registry) DeleteGroup(ctx context.Context, threadID, requesterID string) error {
	l := r.lockFor(threadID)
	l.Lock()
	defer l.Unlock()

	t, err := r.threads.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if t.Kind != domain.ThreadGroup {
		return domain.ErrNotFound
	}
	if t.OwnerID != requesterID {
		return domain.ErrNotOwner
	}
	if err := r.threads.DeleteThread(ctx, threadID); err != nil {
		return err
	}
	r.dropLock(threadID)
	r.log.Info().Str("group", threadID).Msg("group deleted")
	return nil
}

// CanPost reports whether the identity may append to the thread.
func (r *Registry) CanPost(ctx context.Context, threadID, identityID string) error {
	t, err := r.threads.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if !t.HasMember(identityID) {
		return domain.ErrNotMember
	}
	return nil
}
