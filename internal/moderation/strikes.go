package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/crosstalk/chat-server/internal/domain"
)

const (
	// StrikePrefix keys the per-identity strike counter. Strikes have no
	// TTL; a timed ban elapsing does not reset them.
	StrikePrefix = "strikes:"
	// BanPrefix keys the per-identity ban record. Timed bans expire via
	// TTL; permanent bans are stored without one.
	BanPrefix = "ban:"

	permanentMarker = "permanent"
)

// Step maps a strike count to the ban applied when the counter reaches it.
type Step struct {
	Strikes   int
	Ban       time.Duration
	Permanent bool
}

// Strikes is the progressive strike/ban state machine. Each administrative
// strike increments the identity's counter and applies the configured
// escalation step; durations escalate monotonically and terminate in a
// permanent ban once the threshold is reached.
type Strikes struct {
	client *redis.Client
	table  []Step
	log    zerolog.Logger
}

// NewStrikes creates the strike engine with the given escalation table,
// which must be sorted by ascending strike count.
func NewStrikes(client *redis.Client, table []Step, log zerolog.Logger) *Strikes {
	return &Strikes{
		client: client,
		table:  table,
		log:    log.With().Str("component", "strikes").Logger(),
	}
}

// stepFor returns the escalation step in effect at the given count: the
// last step whose strike threshold is <= count.
func (s *Strikes) stepFor(count int) Step {
	var step Step
	for _, t := range s.table {
		if count >= t.Strikes {
			step = t
		}
	}
	return step
}

// Strike records one administrative strike against the identity and
// applies the resulting ban. Returns the new ban state.
func (s *Strikes) Strike(ctx context.Context, identityID string) (domain.BanState, error) {
	count, err := s.client.Incr(ctx, StrikePrefix+identityID).Result()
	if err != nil {
		return domain.BanState{}, fmt.Errorf("moderation: strike incr: %w", err)
	}

	step := s.stepFor(int(count))
	state := domain.BanState{Strikes: int(count)}

	switch {
	case step.Permanent:
		if err := s.client.Set(ctx, BanPrefix+identityID, permanentMarker, 0).Err(); err != nil {
			return state, fmt.Errorf("moderation: permanent ban: %w", err)
		}
		state.Permanent = true
	case step.Ban > 0:
		if err := s.client.Set(ctx, BanPrefix+identityID, "strike", step.Ban).Err(); err != nil {
			return state, fmt.Errorf("moderation: timed ban: %w", err)
		}
		state.Until = time.Now().Add(step.Ban)
	}

	s.log.Warn().Str("identity", identityID).Int("strikes", state.Strikes).
		Bool("permanent", state.Permanent).Time("until", state.Until).Msg("strike applied")
	return state, nil
}

// State reads the identity's current standing. Absent keys mean a clean
// record.
func (s *Strikes) State(ctx context.Context, identityID string) (domain.BanState, error) {
	var state domain.BanState

	count, err := s.client.Get(ctx, StrikePrefix+identityID).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return state, fmt.Errorf("moderation: strike count: %w", err)
	}
	state.Strikes = count

	val, err := s.client.Get(ctx, BanPrefix+identityID).Result()
	if errors.Is(err, redis.Nil) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("moderation: ban lookup: %w", err)
	}
	if val == permanentMarker {
		state.Permanent = true
		return state, nil
	}
	ttl, err := s.client.TTL(ctx, BanPrefix+identityID).Result()
	if err != nil || ttl <= 0 {
		// The ban key exists but its TTL cannot be read; report it as
		// still in force rather than swallowing the ban.
		state.Until = time.Now().Add(time.Minute)
		return state, nil
	}
	state.Until = time.Now().Add(ttl)
	return state, nil
}

// Pardon clears an identity's ban but keeps its strike history.
func (s *Strikes) Pardon(ctx context.Context, identityID string) error {
	return s.client.Del(ctx, BanPrefix+identityID).Err()
}
