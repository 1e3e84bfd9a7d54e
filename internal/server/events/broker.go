package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pricesync/pricesync/pkg/logging"
)

// Broker distributes events to the subscribers of the event's account.
// Publishing never blocks; events are dropped when the queue is full.
// A nil *Broker discards everything, so callers need not check.
type Broker struct {
	mu     sync.RWMutex
	subs   map[Subscriber]string
	events chan Event
	seq    uint64
	now    func() time.Time
	logger *zerolog.Logger
}

// NewBroker creates a broker. Events are delivered once Run is started.
func NewBroker(logger *zerolog.Logger) *Broker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Broker{
		subs:   make(map[Subscriber]string),
		events: make(chan Event, 256),
		now:    time.Now,
		logger: logger,
	}
}

// Run delivers queued events until ctx is canceled, then closes every
// subscriber so their streams end.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for sub := range b.subs {
				_ = sub.Close()
			}
			clear(b.subs)
			b.mu.Unlock()
			b.logger.Debug().Msg("event broker stopped")
			return

		case e := <-b.events:
			b.deliver(e)
		}
	}
}

func (b *Broker) deliver(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for sub, accountID := range b.subs {
		if accountID != e.AccountID {
			continue
		}
		if err := sub.Send(e); err != nil {
			b.logger.Warn().Err(err).
				Str("event_type", string(e.Type)).
				Str("account_id", e.AccountID).
				Msg("event not delivered")
			continue
		}
		n++
	}
	b.logger.Debug().
		Str("event_type", string(e.Type)).
		Str("account_id", e.AccountID).
		Int("subscribers", n).
		Msg("event delivered")
}

// Publish queues an event for accountID.
func (b *Broker) Publish(t Type, accountID string, data any) {
	if b == nil || accountID == "" {
		return
	}

	// Sequence and enqueue under one lock so ids arrive in order.
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	e := Event{ID: b.seq, Type: t, AccountID: accountID, Timestamp: b.now().UTC(), Data: data}

	select {
	case b.events <- e:
	default:
		b.logger.Warn().Str("event_type", string(t)).Msg("event queue full, event dropped")
	}
}

// Subscribe registers sub for the events of accountID.
func (b *Broker) Subscribe(accountID string, sub Subscriber) {
	b.mu.Lock()
	b.subs[sub] = accountID
	total := len(b.subs)
	b.mu.Unlock()
	b.logger.Debug().Str("account_id", accountID).Int("total_subscribers", total).Msg("subscriber registered")
}

// Unsubscribe removes and closes sub.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	_, ok := b.subs[sub]
	delete(b.subs, sub)
	total := len(b.subs)
	b.mu.Unlock()
	if ok {
		_ = sub.Close()
		b.logger.Debug().Int("total_subscribers", total).Msg("subscriber unregistered")
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
