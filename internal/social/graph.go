// Package social implements friend requests as mutual-consent workflows.
// Requests are pending pairs resolved symmetrically: accept friends both
// sides, decline clears both sides so an identical re-request works.
// Guests are excluded from the entire social graph.
package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/crosstalk/chat-server/internal/domain"
)

// Graph owns friendship state.
type Graph struct {
	repo       domain.SocialRepo
	identities domain.IdentityRepo
	log        zerolog.Logger
}

// NewGraph wires the social graph service.
func NewGraph(repo domain.SocialRepo, identities domain.IdentityRepo, log zerolog.Logger) *Graph {
	return &Graph{
		repo:       repo,
		identities: identities,
		log:        log.With().Str("component", "social").Logger(),
	}
}

// guestCheck rejects guests on either side of a social operation.
func (g *Graph) guestCheck(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		identity, err := g.identities.GetIdentity(ctx, id)
		if err != nil {
			return err
		}
		if identity.Guest {
			return domain.ErrGuestNotAllowed
		}
	}
	return nil
}

// Request creates a pending friend request from fromID to toID. Re-requesting
// an already-pending or already-friended pair is a no-op, not an error. A
// request crossing an existing one in the other direction accepts it.
func (g *Graph) Request(ctx context.Context, fromID, toID string) (pending bool, err error) {
	if fromID == toID {
		return false, domain.ErrConflict
	}
	if err := g.guestCheck(ctx, fromID, toID); err != nil {
		return false, err
	}

	if friends, err := g.repo.AreFriends(ctx, fromID, toID); err != nil {
		return false, fmt.Errorf("social: friendship lookup: %w", err)
	} else if friends {
		return false, nil
	}
	if _, err := g.repo.GetRequest(ctx, fromID, toID); err == nil {
		return true, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, fmt.Errorf("social: request lookup: %w", err)
	}

	// A crossing request from the other side counts as mutual consent.
	if _, err := g.repo.GetRequest(ctx, toID, fromID); err == nil {
		if err := g.resolve(ctx, toID, fromID, true); err != nil {
			return false, err
		}
		return false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, fmt.Errorf("social: reverse lookup: %w", err)
	}

	if err := g.repo.PutRequest(ctx, &domain.FriendRequest{FromID: fromID, ToID: toID, CreatedAt: time.Now()}); err != nil {
		return false, fmt.Errorf("social: store request: %w", err)
	}
	return true, nil
}

// Accept resolves a pending request addressed to toID.
func (g *Graph) Accept(ctx context.Context, fromID, toID string) error {
	if _, err := g.repo.GetRequest(ctx, fromID, toID); err != nil {
		return err
	}
	return g.resolve(ctx, fromID, toID, true)
}

// Decline resolves a pending request without friending. Both sides'
// pending state is cleared so a later identical request succeeds.
func (g *Graph) Decline(ctx context.Context, fromID, toID string) error {
	if _, err := g.repo.GetRequest(ctx, fromID, toID); err != nil {
		return err
	}
	return g.resolve(ctx, fromID, toID, false)
}

func (g *Graph) resolve(ctx context.Context, fromID, toID string, accepted bool) error {
	if err := g.repo.DeleteRequest(ctx, fromID, toID); err != nil {
		return fmt.Errorf("social: clear request: %w", err)
	}
	// Clear any crossing request too; resolution is symmetric.
	_ = g.repo.DeleteRequest(ctx, toID, fromID)
	if accepted {
		if err := g.repo.AddFriends(ctx, fromID, toID); err != nil {
			return fmt.Errorf("social: add friends: %w", err)
		}
		g.log.Info().Str("a", fromID).Str("b", toID).Msg("friendship established")
	}
	return nil
}

// Friends lists an identity's friends.
func (g *Graph) Friends(ctx context.Context, identityID string) ([]string, error) {
	return g.repo.Friends(ctx, identityID)
}

// AreFriends reports whether two identities are friends.
func (g *Graph) AreFriends(ctx context.Context, a, b string) (bool, error) {
	return g.repo.AreFriends(ctx, a, b)
}
