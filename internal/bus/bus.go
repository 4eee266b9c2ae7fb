// Package bus carries change notifications from the connector core to
// downstream consumers keyed by (home, category, entity).
package bus

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Signal identifies a single changed entity. EntityID is empty for
// batch-level notifications (mobile devices, home data, api calls).
type Signal struct {
	HomeID   int
	Category string
	EntityID string
}

// Dispatcher is the emit contract the connector depends on.
type Dispatcher interface {
	Send(sig Signal)
}

// Bus is a small in-process fan-out dispatcher. Emits never block: slow
// subscribers drop signals rather than stalling the poll loop.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
}

type subscription struct {
	filter func(Signal) bool
	ch     chan Signal
}

func New() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers a listener. A nil filter receives every signal.
// The returned function cancels the subscription and closes the channel.
func (b *Bus) Subscribe(filter func(Signal) bool) (<-chan Signal, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Signal, 16)
	b.subs[id] = subscription{filter: filter, ch: ch}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
	}
	return ch, cancel
}

func (b *Bus) Send(sig Signal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter(sig) {
			continue
		}
		select {
		case sub.ch <- sig:
		default:
			log.Debug().
				Str("category", sig.Category).
				Str("entity", sig.EntityID).
				Msg("Dropping change signal for slow subscriber")
		}
	}
}
