package eventbus

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by craftybot components.
const (
	CyclePrefix   = "broadcast.cycle."
	CycleStarted  = "broadcast.cycle.started"
	CycleFinished = "broadcast.cycle.finished"
	CycleFailed   = "broadcast.cycle.failed"

	ServerEvent = "crafty.server.event"

	SubscriberAdded   = "subscription.added"
	SubscriberRemoved = "subscription.removed"

	ConfigReloaded = "config.reloaded"
)

// Event is a small in-memory signal.
//
// Publish never blocks; subscribers own buffered channels and a slow one
// simply misses events (counted by Stats.Dropped).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events whose Type starts with one of prefixes, or
	// every event when none are given.
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
}

// Stats is implemented by the in-memory bus.
type Stats interface {
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch       chan Event
	prefixes []string
}

func (s *subscriber) wants(typ string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Holding the read lock keeps unsubscribe (which closes) from racing the send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	sub := &subscriber{ch: make(chan Event, buffer), prefixes: slices.Clone(prefixes)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
