package subscription

import (
	"hash/maphash"
	"slices"
	"sync"

	"craftybot/internal/storage"
)

const stripes = 64

// Cache is the in-process mirror of the recipient store.
//
// Reads and writes of the map go through an RWMutex. Operations that pair a
// store write with a cache write for one chat additionally hold that chat's
// stripe (Guard), so subscribe, unsubscribe and dispatch persistence for the
// same chat never interleave.
type Cache struct {
	mu     sync.RWMutex
	states map[int64]int // chat id -> last message id

	seed  maphash.Seed
	locks [stripes]sync.Mutex
}

func NewCache() *Cache {
	return &Cache{states: map[int64]int{}, seed: maphash.MakeSeed()}
}

// Load replaces the cache content with the given states (startup rebuild).
func (c *Cache) Load(states []storage.RecipientState) {
	m := make(map[int64]int, len(states))
	for _, st := range states {
		m[st.ChatID] = st.LastMessageID
	}
	c.mu.Lock()
	c.states = m
	c.mu.Unlock()
}

// Guard locks the stripe owning chatID and returns the unlock func.
func (c *Cache) Guard(chatID int64) func() {
	l := &c.locks[maphash.Comparable(c.seed, chatID)%stripes]
	l.Lock()
	return l.Unlock
}

func (c *Cache) Get(chatID int64) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.states[chatID]
	return id, ok
}

func (c *Cache) Set(chatID int64, lastMessageID int) {
	c.mu.Lock()
	c.states[chatID] = lastMessageID
	c.mu.Unlock()
}

// SetIfPresent updates chatID only when it is still subscribed.
func (c *Cache) SetIfPresent(chatID int64, lastMessageID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.states[chatID]; !ok {
		return false
	}
	c.states[chatID] = lastMessageID
	return true
}

func (c *Cache) Remove(chatID int64) {
	c.mu.Lock()
	delete(c.states, chatID)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.states)
}

// Snapshot returns a point-in-time copy ordered by chat id.
func (c *Cache) Snapshot() []storage.RecipientState {
	c.mu.RLock()
	out := make([]storage.RecipientState, 0, len(c.states))
	for id, mid := range c.states {
		out = append(out, storage.RecipientState{ChatID: id, LastMessageID: mid})
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b storage.RecipientState) int {
		switch {
		case a.ChatID < b.ChatID:
			return -1
		case a.ChatID > b.ChatID:
			return 1
		}
		return 0
	})
	return out
}
