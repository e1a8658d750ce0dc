package storage

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is a process-local Store.
type Memory struct {
	mu     sync.Mutex
	states map[int64]RecipientState
	closed bool
}

func NewMemory() *Memory {
	return &Memory{states: map[int64]RecipientState{}}
}

func (m *Memory) All(ctx context.Context) ([]RecipientState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return sortedStates(m.states), nil
}

func (m *Memory) Upsert(ctx context.Context, st RecipientState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validState(st); err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.states[st.ChatID] = st
	return nil
}

func (m *Memory) Delete(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.states, chatID)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func sortedStates(m map[int64]RecipientState) []RecipientState {
	out := make([]RecipientState, 0, len(m))
	for _, st := range m {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b RecipientState) int {
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
