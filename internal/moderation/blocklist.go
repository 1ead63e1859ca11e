package moderation

import (
	"context"

	"github.com/crosstalk/chat-server/internal/domain"
)

// BlockList wraps the stored block relationships. Storage is asymmetric
// (A blocking B hides B from A only); the effect is applied at the
// consumer boundary via FilterVisible, never inside the message log.
type BlockList struct {
	social domain.SocialRepo
}

// NewBlockList creates the block list over the social repository.
func NewBlockList(social domain.SocialRepo) *BlockList {
	return &BlockList{social: social}
}

// Block hides targetID's content from blockerID's view.
func (b *BlockList) Block(ctx context.Context, blockerID, targetID string) error {
	if blockerID == targetID {
		return domain.ErrConflict
	}
	return b.social.AddBlock(ctx, blockerID, targetID)
}

// Unblock restores visibility.
func (b *BlockList) Unblock(ctx context.Context, blockerID, targetID string) error {
	return b.social.RemoveBlock(ctx, blockerID, targetID)
}

// IsBlocked reports whether blockerID has blocked targetID.
func (b *BlockList) IsBlocked(ctx context.Context, blockerID, targetID string) (bool, error) {
	return b.social.IsBlocked(ctx, blockerID, targetID)
}

// FilterVisible returns the messages viewerID should see: everything
// except messages from senders the viewer has blocked. Other viewers of
// the same thread are unaffected.
func (b *BlockList) FilterVisible(ctx context.Context, viewerID string, msgs []*domain.Message) ([]*domain.Message, error) {
	blocked, err := b.social.BlockedBy(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if len(blocked) == 0 {
		return msgs, nil
	}
	hidden := make(map[string]struct{}, len(blocked))
	for _, id := range blocked {
		hidden[id] = struct{}{}
	}
	out := msgs[:0:0]
	for _, m := range msgs {
		if _, ok := hidden[m.SenderID]; ok {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// ShouldDeliver reports whether a live event about a message from senderID
// should reach viewerID.
func (b *BlockList) ShouldDeliver(ctx context.Context, viewerID, senderID string) bool {
	if viewerID == senderID {
		return true
	}
	blocked, err := b.social.IsBlocked(ctx, viewerID, senderID)
	if err != nil {
		return true
	}
	return !blocked
}
