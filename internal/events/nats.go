package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "chatserver",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSBus implements Bus over a NATS connection so events reach every
// server instance, not just the one that produced them.
type NATSBus struct {
	conn *nats.Conn
	log  zerolog.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription // owner + "\x00" + subject
}

// NewNATSBus connects to NATS and returns a ready bus. The initial
// connection must succeed; reconnects afterwards are automatic.
func NewNATSBus(config NATSConfig, log zerolog.Logger) (*NATSBus, error) {
	log = log.With().Str("component", "events").Logger()
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("nats connected")

	return &NATSBus{
		conn: nc,
		log:  log,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

func subKey(owner, subject string) string { return owner + "\x00" + subject }

// Publish sends data to the subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

// Subscribe registers a handler for the subject on behalf of owner.
// Re-subscribing the same owner+subject pair is a no-op.
func (b *NATSBus) Subscribe(owner, subject string, handler Handler) error {
	key := subKey(owner, subject)

	b.mu.Lock()
	if _, ok := b.subs[key]; ok {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("events: subscribe %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs[key] = sub
	b.mu.Unlock()
	return nil
}

// Unsubscribe removes one owner's subscription to a subject.
func (b *NATSBus) Unsubscribe(owner, subject string) error {
	key := subKey(owner, subject)

	b.mu.Lock()
	sub, ok := b.subs[key]
	delete(b.subs, key)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("events: unsubscribe %s: %w", subject, err)
	}
	return nil
}

// UnsubscribeAll removes every subscription held by owner, used when a
// connection closes.
func (b *NATSBus) UnsubscribeAll(owner string) {
	prefix := owner + "\x00"

	b.mu.Lock()
	var doomed []*nats.Subscription
	for key, sub := range b.subs {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			doomed = append(doomed, sub)
			delete(b.subs, key)
		}
	}
	b.mu.Unlock()

	for _, sub := range doomed {
		if err := sub.Unsubscribe(); err != nil {
			b.log.Warn().Err(err).Msg("unsubscribe failed")
		}
	}
}

// Close drains subscriptions and the connection.
func (b *NATSBus) Close() {
	b.mu.Lock()
	for key, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			b.log.Warn().Err(err).Str("key", key).Msg("drain failed")
		}
	}
	b.subs = make(map[string]*nats.Subscription)
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		b.log.Warn().Err(err).Msg("connection drain failed")
	}
}
