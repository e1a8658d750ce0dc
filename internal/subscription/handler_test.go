package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"

	"craftybot/internal/eventbus"
	"craftybot/internal/storage"
)

// countingStore wraps a memory store, counting calls and optionally failing.
type countingStore struct {
	*storage.Memory

	mu      sync.Mutex
	upserts int
	deletes int
	fail    error
}

func (s *countingStore) Upsert(ctx context.Context, st storage.RecipientState) error {
	s.mu.Lock()
	s.upserts++
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	return s.Memory.Upsert(ctx, st)
}

func (s *countingStore) Delete(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	s.deletes++
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	return s.Memory.Delete(ctx, chatID)
}

func newTestHandler(t *testing.T) (*Handler, *countingStore, *Cache) {
	t.Helper()
	st := &countingStore{Memory: storage.NewMemory()}
	c := NewCache()
	return NewHandler(st, c), st, c
}

func TestSubscribeTwiceKeepsOneRecord(t *testing.T) {
	t.Parallel()

	h, st, c := newTestHandler(t)
	ctx := context.Background()

	created, err := h.Subscribe(ctx, 10)
	if err != nil || !created {
		t.Fatalf("Subscribe: created=%v err=%v", created, err)
	}
	created, err = h.Subscribe(ctx, 10)
	if err != nil || created {
		t.Fatalf("Subscribe again: created=%v err=%v", created, err)
	}

	all, _ := st.All(ctx)
	if len(all) != 1 || all[0].ChatID != 10 || all[0].LastMessageID != 0 {
		t.Fatalf("store=%+v", all)
	}
	if mid, ok := c.Get(10); !ok || mid != 0 {
		t.Fatalf("cache=(%d,%v)", mid, ok)
	}
}

func TestSubscribePreservesLastMessageID(t *testing.T) {
	t.Parallel()

	h, st, c := newTestHandler(t)
	ctx := context.Background()

	_ = st.Memory.Upsert(ctx, storage.RecipientState{ChatID: 5, LastMessageID: 77})
	if _, err := h.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	created, err := h.Subscribe(ctx, 5)
	if err != nil || created {
		t.Fatalf("Subscribe: created=%v err=%v", created, err)
	}
	if mid, _ := c.Get(5); mid != 77 {
		t.Fatalf("cache mid=%d want 77", mid)
	}
	all, _ := st.All(ctx)
	if len(all) != 1 || all[0].LastMessageID != 77 {
		t.Fatalf("store=%+v", all)
	}
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	t.Parallel()

	h, st, _ := newTestHandler(t)
	removed, err := h.Unsubscribe(context.Background(), 999)
	if err != nil || removed {
		t.Fatalf("Unsubscribe: removed=%v err=%v", removed, err)
	}
	if st.deletes != 0 {
		t.Fatalf("store deletes=%d want 0", st.deletes)
	}
}

func TestUnsubscribeRemovesFromStoreAndCache(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	st := &countingStore{Memory: storage.NewMemory()}
	c := NewCache()
	h := NewHandler(st, c, WithBus(bus))
	ctx := context.Background()

	_, _ = h.Subscribe(ctx, 3)
	removed, err := h.Unsubscribe(ctx, 3)
	if err != nil || !removed {
		t.Fatalf("Unsubscribe: removed=%v err=%v", removed, err)
	}
	if _, ok := c.Get(3); ok {
		t.Fatalf("cache still has chat 3")
	}
	if all, _ := st.All(ctx); len(all) != 0 {
		t.Fatalf("store=%+v", all)
	}

	want := []string{eventbus.SubscriberAdded, eventbus.SubscriberRemoved}
	for _, w := range want {
		ev := <-events
		if ev.Type != w || ev.Data.(int64) != 3 {
			t.Fatalf("event=%+v want %s", ev, w)
		}
	}
}

func TestStoreFailureSurfacesAndLeavesCache(t *testing.T) {
	t.Parallel()

	h, st, c := newTestHandler(t)
	ctx := context.Background()
	boom := errors.New("disk full")

	st.fail = boom
	if _, err := h.Subscribe(ctx, 1); !errors.Is(err, boom) {
		t.Fatalf("Subscribe err=%v want %v", err, boom)
	}
	if c.Len() != 0 {
		t.Fatalf("cache changed on failed subscribe")
	}

	st.fail = nil
	_, _ = h.Subscribe(ctx, 1)
	st.fail = boom
	if _, err := h.Unsubscribe(ctx, 1); !errors.Is(err, boom) {
		t.Fatalf("Unsubscribe err=%v want %v", err, boom)
	}
	if _, ok := c.Get(1); !ok {
		t.Fatalf("cache lost chat on failed unsubscribe")
	}
}

func TestConcurrentSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()

	h, st, c := newTestHandler(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = h.Subscribe(ctx, id)
			if id%2 == 0 {
				_, _ = h.Unsubscribe(ctx, id)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	if c.Len() != 16 {
		t.Fatalf("cache len=%d want 16", c.Len())
	}
	all, _ := st.All(ctx)
	if len(all) != 16 {
		t.Fatalf("store len=%d want 16", len(all))
	}
	for _, s := range all {
		if s.ChatID%2 == 0 {
			t.Fatalf("even chat %d still stored", s.ChatID)
		}
	}
}
