package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrClosed        = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values: "sqlite", "postgres", "file", "memory". Empty or "none"
// means disabled; Open then reports ErrDisabled.
type Config struct {
	Driver      string
	Path        string        // sqlite, file
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RecipientState is one subscribed chat. LastMessageID is 0 until the first
// report message has been sent.
type RecipientState struct {
	ChatID        int64     `json:"chat_id"`
	LastMessageID int       `json:"last_message_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}
