package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var knownDrivers = map[string]bool{
	"": true, "none": true, "memory": true, "file": true, "sqlite": true, "postgres": true,
}

// Validate checks field syntax. It reports every problem found, not just the
// first one. Cross-component checks (schedule syntax) belong to the caller's
// validator hook.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, f := range durationFields(cfg) {
		_, err := ParseDurationField(f.path, f.raw)
		add(err)
	}

	if u := strings.TrimSpace(cfg.Crafty.BaseURL); u != "" {
		if p, err := url.Parse(u); err != nil || p.Host == "" || (p.Scheme != "http" && p.Scheme != "https") {
			add(fmt.Errorf("crafty.base_url: must be an absolute http(s) URL, got %q", u))
		}
	}
	if cfg.Crafty.MaxParallel < 0 {
		add(errors.New("crafty.max_parallel: must be >= 0"))
	}

	if tz := strings.TrimSpace(cfg.Broadcast.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("broadcast.timezone: %w", err))
		}
	}
	if cfg.Broadcast.Workers < 0 {
		add(errors.New("broadcast.workers: must be >= 0"))
	}
	if cfg.Broadcast.RatePerSec < 0 {
		add(errors.New("broadcast.rate_per_sec: must be >= 0"))
	}
	switch cfg.Broadcast.ParseMode {
	case "", "HTML", "Markdown", "MarkdownV2":
	default:
		add(fmt.Errorf("broadcast.parse_mode: unsupported %q", cfg.Broadcast.ParseMode))
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if !knownDrivers[driver] {
		add(fmt.Errorf("storage.driver: unknown %q (sqlite, postgres, file, memory, none)", cfg.Storage.Driver))
	}
	if driver == "postgres" && strings.TrimSpace(cfg.Storage.DSN) == "" {
		add(errors.New("storage.dsn: required for the postgres driver"))
	}

	if cfg.Logging.Chat.Enabled && cfg.Logging.Chat.ChatID == 0 {
		add(errors.New("logging.chat.chat_id: required when the chat sink is enabled"))
	}
	return errors.Join(errs...)
}

// ValidateRun is Validate plus what a running bot needs.
func ValidateRun(cfg *Config) error {
	err := Validate(cfg)
	if cfg != nil && strings.TrimSpace(cfg.Telegram.Token) == "" {
		err = errors.Join(err, fmt.Errorf("telegram.token: required (or set %s)", EnvTelegramToken))
	}
	return err
}

// Location resolves broadcast.timezone; empty means the local zone.
func (c BroadcastConfig) Location() *time.Location {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}
