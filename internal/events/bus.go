package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBuffer is the queue depth used by NewBus when buffer <= 0
const DefaultBuffer = 64

// Handler consumes one event. Handlers run on the bus goroutine, one at a
// time, in subscription order.
type Handler func(Event)

type subscription struct {
	name    string
	kinds   map[Kind]bool
	handler Handler
}

func (s subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// Bus is a single-queue publish/subscribe dispatcher. Events are delivered
// in publish order to every subscriber.
type Bus struct {
	queue   chan Event
	stopped chan struct{}
	once    sync.Once

	mu   sync.RWMutex
	subs []subscription

	published atomic.Int64
	delivered atomic.Int64
	logger    zerolog.Logger
}

// NewBus creates a bus with the given queue depth
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		queue:   make(chan Event, buffer),
		stopped: make(chan struct{}),
		logger:  log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers h for the given kinds, or for all kinds when none are given
func (b *Bus) Subscribe(name string, h Handler, kinds ...Kind) {
	sub := subscription{name: name, handler: h}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

// Publish enqueues e. It blocks while the queue is full and returns false
// once the bus has stopped.
func (b *Bus) Publish(e Event) bool {
	select {
	case <-b.stopped:
		return false
	default:
	}

	select {
	case b.queue <- e:
		b.published.Add(1)
		return true
	case <-b.stopped:
		return false
	}
}

// Run dispatches until ctx is cancelled, then delivers whatever is still
// queued and returns.
func (b *Bus) Run(ctx context.Context) error {
	defer b.once.Do(func() { close(b.stopped) })

	for {
		select {
		case e := <-b.queue:
			b.dispatch(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-b.queue:
					b.dispatch(e)
				default:
					return nil
				}
			}
		}
	}
}

// Stats returns published and delivered counts
func (b *Bus) Stats() (published, delivered int64) {
	return b.published.Load(), b.delivered.Load()
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.wants(e.Kind) {
			continue
		}
		b.deliver(s, e)
	}
	b.delivered.Add(1)
}

func (b *Bus) deliver(s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("subscriber", s.name).
				Str("event", e.Kind.String()).
				Interface("panic", r).
				Msg("Subscriber panicked")
		}
	}()
	s.handler(e)
}
