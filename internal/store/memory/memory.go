// Package memory implements every repository interface in process memory.
// It is the authoritative backing store for single-node deployments and the
// default backend in tests. All methods copy records on the way in and out
// so callers never share mutable state with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crosstalk/chat-server/internal/domain"
)

// Store holds all record collections behind a single mutex. Contention is
// not a concern here: services serialize hot paths with their own
// per-thread and per-group locks before touching the store.
type Store struct {
	mu sync.RWMutex

	identities map[string]*domain.Identity
	byUsername map[string]string // username -> identity id

	threads map[string]*domain.Thread
	dmIndex map[string]string // pairKey -> thread id

	messages map[string][]*domain.Message          // threadID -> append order
	byClient map[string]map[string]*domain.Message // threadID -> senderID+"\x00"+clientID

	requests map[string]*domain.FriendRequest // fromID+"\x00"+toID
	friends  map[string]map[string]struct{}
	blocks   map[string]map[string]struct{} // blockerID -> targets

	reports []*domain.Report
}

// New returns an empty store.
func New() *Store {
	return &Store{
		identities: make(map[string]*domain.Identity),
		byUsername: make(map[string]string),
		threads:    make(map[string]*domain.Thread),
		dmIndex:    make(map[string]string),
		messages:   make(map[string][]*domain.Message),
		byClient:   make(map[string]map[string]*domain.Message),
		requests:   make(map[string]*domain.FriendRequest),
		friends:    make(map[string]map[string]struct{}),
		blocks:     make(map[string]map[string]struct{}),
	}
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

func cloneIdentity(in *domain.Identity) *domain.Identity {
	out := *in
	if in.Settings != nil {
		out.Settings = make(map[string]string, len(in.Settings))
		for k, v := range in.Settings {
			out.Settings[k] = v
		}
	}
	return &out
}

func cloneThread(in *domain.Thread) *domain.Thread {
	out := *in
	out.Members = make(map[string]struct{}, len(in.Members))
	for k := range in.Members {
		out.Members[k] = struct{}{}
	}
	out.PendingInvites = make(map[string]struct{}, len(in.PendingInvites))
	for k := range in.PendingInvites {
		out.PendingInvites[k] = struct{}{}
	}
	if in.MemberJoined != nil {
		out.MemberJoined = make(map[string]time.Time, len(in.MemberJoined))
		for k, v := range in.MemberJoined {
			out.MemberJoined[k] = v
		}
	}
	return &out
}

func cloneMessage(in *domain.Message) *domain.Message {
	out := *in
	if in.EditedAt != nil {
		t := *in.EditedAt
		out.EditedAt = &t
	}
	if in.DeletedAt != nil {
		t := *in.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

// --- IdentityRepo ---

func (s *Store) PutIdentity(_ context.Context, id *domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.identities[id.ID]; ok && prev.Username != id.Username {
		delete(s.byUsername, prev.Username)
	}
	s.identities[id.ID] = cloneIdentity(id)
	s.byUsername[id.Username] = id.ID
	return nil
}

func (s *Store) GetIdentity(_ context.Context, id string) (*domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.identities[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneIdentity(in), nil
}

func (s *Store) GetByUsername(_ context.Context, username string) (*domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneIdentity(s.identities[id]), nil
}

func (s *Store) DeleteIdentity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.identities[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(s.byUsername, in.Username)
	delete(s.identities, id)
	return nil
}

// --- ThreadRepo ---

func (s *Store) PutThread(_ context.Context, t *domain.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[t.ID] = cloneThread(t)
	if t.Kind == domain.ThreadDM {
		ids := make([]string, 0, 2)
		for m := range t.Members {
			ids = append(ids, m)
		}
		if len(ids) == 2 {
			s.dmIndex[pairKey(ids[0], ids[1])] = t.ID
		}
	}
	return nil
}

func (s *Store) GetThread(_ context.Context, id string) (*domain.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneThread(t), nil
}

func (s *Store) FindDM(_ context.Context, userA, userB string) (*domain.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.dmIndex[pairKey(userA, userB)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneThread(s.threads[id]), nil
}

func (s *Store) ListForIdentity(_ context.Context, identityID string) ([]*domain.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Thread
	for _, t := range s.threads {
		if t.Kind == domain.ThreadGlobal {
			out = append(out, cloneThread(t))
			continue
		}
		if _, ok := t.Members[identityID]; ok {
			out = append(out, cloneThread(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteThread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Kind == domain.ThreadDM {
		ids := make([]string, 0, 2)
		for m := range t.Members {
			ids = append(ids, m)
		}
		if len(ids) == 2 {
			delete(s.dmIndex, pairKey(ids[0], ids[1]))
		}
	}
	delete(s.threads, id)
	delete(s.messages, id)
	delete(s.byClient, id)
	return nil
}

// --- MessageRepo ---

func clientKey(senderID, clientID string) string { return senderID + "\x00" + clientID }

func (s *Store) Append(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneMessage(m)
	s.messages[m.ThreadID] = append(s.messages[m.ThreadID], c)
	idx, ok := s.byClient[m.ThreadID]
	if !ok {
		idx = make(map[string]*domain.Message)
		s.byClient[m.ThreadID] = idx
	}
	idx[clientKey(m.SenderID, m.ClientID)] = c
	return nil
}

func (s *Store) GetMessage(_ context.Context, threadID, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[threadID] {
		if m.ID == messageID {
			return cloneMessage(m), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) FindByClientID(_ context.Context, threadID, senderID, clientID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.byClient[threadID][clientKey(senderID, clientID)]; ok {
		return cloneMessage(m), nil
	}
	return nil, domain.ErrNotFound
}

func (s *Store) Update(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.messages[m.ThreadID] {
		if cur.ID == m.ID {
			c := cloneMessage(m)
			s.messages[m.ThreadID][i] = c
			s.byClient[m.ThreadID][clientKey(m.SenderID, m.ClientID)] = c
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *Store) History(_ context.Context, threadID string, limit int) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.messages[threadID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]*domain.Message, len(log))
	for i, m := range log {
		out[i] = cloneMessage(m)
	}
	return out, nil
}

func (s *Store) Trim(_ context.Context, threadID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.messages[threadID]
	if keep <= 0 || len(log) <= keep {
		return nil
	}
	dropped := log[:len(log)-keep]
	for _, m := range dropped {
		delete(s.byClient[threadID], clientKey(m.SenderID, m.ClientID))
	}
	s.messages[threadID] = append([]*domain.Message(nil), log[len(log)-keep:]...)
	return nil
}

// --- SocialRepo ---

func (s *Store) PutRequest(_ context.Context, r *domain.FriendRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	s.requests[clientKey(r.FromID, r.ToID)] = &c
	return nil
}

func (s *Store) GetRequest(_ context.Context, fromID, toID string) (*domain.FriendRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[clientKey(fromID, toID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *Store) DeleteRequest(_ context.Context, fromID, toID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, clientKey(fromID, toID))
	return nil
}

func (s *Store) AddFriends(_ context.Context, a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		set, ok := s.friends[pair[0]]
		if !ok {
			set = make(map[string]struct{})
			s.friends[pair[0]] = set
		}
		set[pair[1]] = struct{}{}
	}
	return nil
}

func (s *Store) AreFriends(_ context.Context, a, b string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.friends[a][b]
	return ok, nil
}

func (s *Store) Friends(_ context.Context, identityID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.friends[identityID]))
	for f := range s.friends[identityID] {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) AddBlock(_ context.Context, blockerID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.blocks[blockerID]
	if !ok {
		set = make(map[string]struct{})
		s.blocks[blockerID] = set
	}
	set[targetID] = struct{}{}
	return nil
}

func (s *Store) RemoveBlock(_ context.Context, blockerID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks[blockerID], targetID)
	return nil
}

func (s *Store) IsBlocked(_ context.Context, blockerID, targetID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[blockerID][targetID]
	return ok, nil
}

func (s *Store) BlockedBy(_ context.Context, blockerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.blocks[blockerID]))
	for t := range s.blocks[blockerID] {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// --- ReportRepo ---

func (s *Store) CreateReport(_ context.Context, r *domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	s.reports = append(s.reports, &c)
	return nil
}

func (s *Store) Recent(_ context.Context, limit int) ([]*domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.reports)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]*domain.Report, 0, n)
	for i := len(s.reports) - 1; i >= 0 && len(out) < n; i-- {
		c := *s.reports[i]
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) CountAgainst(_ context.Context, reportedID string, window time.Duration) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-window)
	count := 0
	for _, r := range s.reports {
		if r.ReportedID == reportedID && r.CreatedAt.After(cutoff) {
			count++
		}
	}
	return count, nil
}
