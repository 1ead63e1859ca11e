// Package presence tracks per-identity status and publishes snapshots to
// interested connections. The state machine is exactly four states:
// online and idle flip automatically with activity, dnd and invisible are
// user-selected and never auto-overridden.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/crosstalk/chat-server/internal/domain"
)

// Entry is one identity's visible presence in a snapshot.
type Entry struct {
	IdentityID string                `json:"identity_id"`
	Username   string                `json:"username"`
	Status     domain.PresenceStatus `json:"status"`
}

// Tracker maintains live presence state. Snapshot broadcasts go through
// the publish callback, which the ws layer wires to every connection.
type Tracker struct {
	mu          sync.Mutex
	idleAfter   time.Duration
	now         func() time.Time
	publish     func([]Entry)
	identities  map[string]*state
	done        chan struct{}
	sweepEvery  time.Duration
	log         zerolog.Logger
}

type state struct {
	username     string
	status       domain.PresenceStatus
	lastActivity time.Time
	connections  int
}

// NewTracker creates a tracker. publish receives a full snapshot whenever
// any identity's visible presence changes; it must not block.
func NewTracker(idleAfter time.Duration, publish func([]Entry), log zerolog.Logger) *Tracker {
	return &Tracker{
		idleAfter:  idleAfter,
		now:        time.Now,
		publish:    publish,
		identities: make(map[string]*state),
		done:       make(chan struct{}),
		sweepEvery: 5 * time.Second,
		log:        log.With().Str("component", "presence").Logger(),
	}
}

// Start launches the idle sweeper. Stop must be called on shutdown.
func (t *Tracker) Start() {
	go func() {
		ticker := time.NewTicker(t.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				t.Sweep()
			}
		}
	}()
}

// Stop terminates the sweeper goroutine.
func (t *Tracker) Stop() { close(t.done) }

// Connect registers a live connection for the identity. The first
// connection brings the identity online.
func (t *Tracker) Connect(identityID, username string) {
	t.mu.Lock()
	st, ok := t.identities[identityID]
	if !ok {
		st = &state{username: username, status: domain.PresenceOnline}
		t.identities[identityID] = st
	}
	st.connections++
	st.lastActivity = t.now()
	changed := st.connections == 1
	t.mu.Unlock()
	if changed {
		t.broadcast()
	}
}

// Disconnect unregisters a connection. When the last connection drops the
// identity leaves the snapshot entirely.
func (t *Tracker) Disconnect(identityID string) {
	t.mu.Lock()
	st, ok := t.identities[identityID]
	if ok {
		st.connections--
		if st.connections <= 0 {
			delete(t.identities, identityID)
		}
	}
	gone := ok && st.connections <= 0
	t.mu.Unlock()
	if gone {
		t.broadcast()
	}
}

// Activity records an activity event from any of the identity's
// connections. An idle identity returns to online; dnd and invisible are
// left alone.
func (t *Tracker) Activity(identityID string) {
	t.mu.Lock()
	st, ok := t.identities[identityID]
	changed := false
	if ok {
		st.lastActivity = t.now()
		if st.status == domain.PresenceIdle {
			st.status = domain.PresenceOnline
			changed = true
		}
	}
	t.mu.Unlock()
	if changed {
		t.broadcast()
	}
}

// SetStatus applies a user-selected status. Selecting online re-enters the
// automatic online/idle cycle.
func (t *Tracker) SetStatus(identityID string, status domain.PresenceStatus) error {
	if !domain.ValidPresence(status) {
		return domain.ErrConflict
	}
	t.mu.Lock()
	st, ok := t.identities[identityID]
	changed := false
	if ok && st.status != status {
		st.status = status
		st.lastActivity = t.now()
		changed = true
	}
	t.mu.Unlock()
	if changed {
		t.broadcast()
	}
	return nil
}

// Status returns the identity's current status and whether it is tracked.
// Invisible identities are still counted here; only snapshots hide them.
func (t *Tracker) Status(identityID string) (domain.PresenceStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.identities[identityID]
	if !ok {
		return "", false
	}
	return st.status, true
}

// Online returns the number of tracked identities, invisible included.
func (t *Tracker) Online() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.identities)
}

// Sweep transitions online identities to idle after the idle timeout.
// Exposed for tests; normally driven by the Start ticker.
func (t *Tracker) Sweep() {
	now := t.now()
	t.mu.Lock()
	changed := false
	for _, st := range t.identities {
		if st.status == domain.PresenceOnline && now.Sub(st.lastActivity) >= t.idleAfter {
			st.status = domain.PresenceIdle
			changed = true
		}
	}
	t.mu.Unlock()
	if changed {
		t.broadcast()
	}
}

// Snapshot returns the visible presence list, invisible identities
// excluded, ordered by username for stable output.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	entries := make([]Entry, 0, len(t.identities))
	for id, st := range t.identities {
		if st.status == domain.PresenceInvisible {
			continue
		}
		entries = append(entries, Entry{IdentityID: id, Username: st.username, Status: st.status})
	}
	t.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Username < entries[j].Username })
	return entries
}

// SetNow overrides the clock. Test hook.
func (t *Tracker) SetNow(now func() time.Time) { t.now = now }

func (t *Tracker) broadcast() {
	if t.publish == nil {
		return
	}
	t.publish(t.Snapshot())
}
