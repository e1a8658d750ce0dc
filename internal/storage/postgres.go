package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "craftybot/pkg/logx"

	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS chat_states (
		chat_id         BIGINT PRIMARY KEY,
		last_message_id BIGINT NOT NULL DEFAULT 0 CHECK (last_message_id >= 0),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
	}
	log.Info("postgres store opened")
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) All(ctx context.Context) ([]RecipientState, error) {
	rows, err := s.pool.Query(ctx, `SELECT chat_id, last_message_id, updated_at FROM chat_states ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecipientState
	for rows.Next() {
		var (
			st  RecipientState
			mid int64
		)
		if err := rows.Scan(&st.ChatID, &mid, &st.UpdatedAt); err != nil {
			return nil, err
		}
		st.LastMessageID = int(mid)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *postgresStore) Upsert(ctx context.Context, st RecipientState) error {
	if err := validState(st); err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_states (chat_id, last_message_id, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (chat_id) DO UPDATE SET last_message_id = EXCLUDED.last_message_id, updated_at = EXCLUDED.updated_at`,
		st.ChatID, int64(st.LastMessageID), st.UpdatedAt,
	)
	return err
}

func (s *postgresStore) Delete(ctx context.Context, chatID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chat_states WHERE chat_id = $1`, chatID)
	return err
}
