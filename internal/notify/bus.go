package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handler receives events on its subscriber's goroutine.
type Handler func(Event)

// BusConfig configures a Bus.
type BusConfig struct {
	Logger zerolog.Logger

	// QueueSize is the per-subscriber buffer. Default: 64.
	QueueSize int

	Now func() time.Time
}

// Bus delivers every published event to every subscriber. Publish never
// blocks: a subscriber whose queue is full misses the event.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextID    uint64
	closed    bool
	queueSize int
	logger    zerolog.Logger
	now       func() time.Time
	wg        sync.WaitGroup
}

type subscriber struct {
	name    string
	queue   chan Event
	handler Handler
}

// NewBus creates a Bus.
func NewBus(cfg BusConfig) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Bus{
		subs:      make(map[uint64]*subscriber),
		queueSize: cfg.QueueSize,
		logger:    cfg.Logger.With().Str("component", "notify").Logger(),
		now:       cfg.Now,
	}
}

// Subscribe registers h and returns a function that removes it. Events
// already queued for h are still delivered.
func (b *Bus) Subscribe(name string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	sub := &subscriber{name: name, queue: make(chan Event, b.queueSize), handler: h}
	b.subs[id] = sub

	b.wg.Add(1)
	go b.run(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.queue)
			}
		})
	}
}

// Publish stamps e with an id and time when missing and queues it for every
// subscriber.
func (b *Bus) Publish(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.queue <- e:
		default:
			b.logger.Warn().
				Str("subscriber", sub.name).
				Str("kind", string(e.Kind)).
				Str("event_id", e.ID).
				Msg("subscriber queue full, dropping event")
		}
	}
	return e
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes every subscriber and waits for their queues to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for id, s := range b.subs {
			delete(b.subs, id)
			close(s.queue)
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) run(sub *subscriber) {
	defer b.wg.Done()
	for e := range sub.queue {
		b.deliver(sub, e)
	}
}

func (b *Bus) deliver(sub *subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Str("subscriber", sub.name).
				Str("event_id", e.ID).
				Msg("subscriber panicked")
		}
	}()
	sub.handler(e)
}
