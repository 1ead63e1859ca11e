package events

import "sync"

// LocalBus is an in-process Bus for single-instance deployments and
// tests. Delivery is synchronous in subscription order.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[string]map[string]Handler // subject -> owner -> handler
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[string]Handler)}
}

// Publish invokes every handler subscribed to the subject.
func (b *LocalBus) Publish(subject string, data []byte) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

// Subscribe registers owner's handler for the subject.
func (b *LocalBus) Subscribe(owner, subject string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[string]Handler)
	}
	b.subs[subject][owner] = handler
	return nil
}

// Unsubscribe removes owner's handler for the subject.
func (b *LocalBus) Unsubscribe(owner, subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m := b.subs[subject]; m != nil {
		delete(m, owner)
		if len(m) == 0 {
			delete(b.subs, subject)
		}
	}
	return nil
}

// UnsubscribeAll removes every subscription held by owner.
func (b *LocalBus) UnsubscribeAll(owner string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for subject, m := range b.subs {
		delete(m, owner)
		if len(m) == 0 {
			delete(b.subs, subject)
		}
	}
}

// Close discards all subscriptions.
func (b *LocalBus) Close() {
	b.mu.Lock()
	b.subs = make(map[string]map[string]Handler)
	b.mu.Unlock()
}
