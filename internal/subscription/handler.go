package subscription

import (
	"context"
	"fmt"
	"time"

	"craftybot/internal/eventbus"
	"craftybot/internal/storage"
	logx "craftybot/pkg/logx"
)

// Handler applies subscribe/unsubscribe commands to the store and the cache.
// The store is written first; the cache only changes after the store accepted
// the write, so a failed command leaves both untouched.
type Handler struct {
	store storage.Store
	cache *Cache
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

type Option func(*Handler)

func WithBus(b eventbus.Bus) Option         { return func(h *Handler) { h.bus = b } }
func WithLogger(l logx.Logger) Option       { return func(h *Handler) { h.log = l } }
func WithClock(now func() time.Time) Option { return func(h *Handler) { h.now = now } }

func NewHandler(store storage.Store, cache *Cache, opts ...Option) *Handler {
	h := &Handler{store: store, cache: cache, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	return h
}

// Rebuild loads every stored recipient into the cache.
func (h *Handler) Rebuild(ctx context.Context) (int, error) {
	states, err := h.store.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("load recipients: %w", err)
	}
	h.cache.Load(states)
	return len(states), nil
}

// Subscribe is idempotent. A new chat gets a zero-state record; an existing
// chat keeps its last message id (the record is rewritten as-is).
func (h *Handler) Subscribe(ctx context.Context, chatID int64) (created bool, err error) {
	unlock := h.cache.Guard(chatID)
	defer unlock()

	mid, exists := h.cache.Get(chatID)
	if err := h.store.Upsert(ctx, storage.RecipientState{ChatID: chatID, LastMessageID: mid, UpdatedAt: h.now()}); err != nil {
		h.log.Warn("subscribe failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return false, fmt.Errorf("subscribe %d: %w", chatID, err)
	}
	h.cache.Set(chatID, mid)

	if !exists {
		h.log.Info("recipient subscribed", logx.Int64("chat_id", chatID))
		h.publish(eventbus.SubscriberAdded, chatID)
	}
	return !exists, nil
}

// Unsubscribe is idempotent; an unknown chat is a no-op without store access.
func (h *Handler) Unsubscribe(ctx context.Context, chatID int64) (removed bool, err error) {
	unlock := h.cache.Guard(chatID)
	defer unlock()

	if _, ok := h.cache.Get(chatID); !ok {
		return false, nil
	}
	if err := h.store.Delete(ctx, chatID); err != nil {
		h.log.Warn("unsubscribe failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return false, fmt.Errorf("unsubscribe %d: %w", chatID, err)
	}
	h.cache.Remove(chatID)

	h.log.Info("recipient unsubscribed", logx.Int64("chat_id", chatID))
	h.publish(eventbus.SubscriberRemoved, chatID)
	return true, nil
}

func (h *Handler) Count() int { return h.cache.Len() }

func (h *Handler) publish(typ string, chatID int64) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(eventbus.Event{Type: typ, Time: h.now(), Data: chatID})
}
