package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logx "craftybot/pkg/logx"
)

// Store is the durable recipient map keyed by chat id.
type Store interface {
	// All returns every stored recipient, ordered by chat id.
	All(ctx context.Context) ([]RecipientState, error)
	// Upsert creates or replaces the state for st.ChatID.
	Upsert(ctx context.Context, st RecipientState) error
	// Delete removes chatID. Deleting an absent chat is not an error.
	Delete(ctx context.Context, chatID int64) error
	Close() error
}

// Open initializes the configured store. A disabled configuration returns
// ErrDisabled so the caller can decide whether to fall back to memory.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "none":
		return nil, ErrDisabled
	case "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}

func validState(st RecipientState) error {
	if st.ChatID == 0 {
		return errors.New("storage: chat id is required")
	}
	if st.LastMessageID < 0 {
		return fmt.Errorf("storage: negative last message id %d", st.LastMessageID)
	}
	return nil
}
