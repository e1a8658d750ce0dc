package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string found at path. Empty means
// unset and yields 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration (examples: 30s, 5m, 1h30m)", path, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: %q must not be negative", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for unset or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

type durationField struct {
	path string
	raw  string
}

func durationFields(cfg *Config) []durationField {
	return []durationField{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"crafty.timeout", cfg.Crafty.Timeout},
		{"broadcast.interval", cfg.Broadcast.Interval},
		{"broadcast.send_timeout", cfg.Broadcast.SendTimeout},
		{"broadcast.persist_timeout", cfg.Broadcast.PersistTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	}
}
