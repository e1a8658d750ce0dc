package app

import (
	"strings"
	"time"

	"craftybot/internal/broadcast"
	"craftybot/internal/config"
	"craftybot/internal/crafty"
	"craftybot/internal/httpapi"
	"craftybot/internal/notifier"
	"craftybot/internal/storage"
	kit "craftybot/internal/transport"
	"craftybot/internal/transport/telegram"
	logx "craftybot/pkg/logx"
)

// Defaults applied when a field is omitted or zero.
const (
	defaultInterval       = time.Hour
	defaultWorkers        = 8
	defaultRatePerSec     = 25
	defaultSendTimeout    = 15 * time.Second
	defaultPersistTimeout = 5 * time.Second
	defaultBusyTimeout    = time.Second
	defaultSQLitePath     = "./data/craftybot.db"
	defaultFilePath       = "./data/recipients.json"
)

// Durations below are validated before any mapping runs, so parse errors
// fall back to the default instead of being reported twice.
func dur(path, raw string, def time.Duration) time.Duration {
	d, err := config.ParseDurationOrDefault(path, raw, def)
	if err != nil {
		return def
	}
	return d
}

func mapTelegram(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second),
		APIURL:      strings.TrimSpace(cfg.Telegram.APIURL),
	}
}

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			ChatID:     l.Chat.ChatID,
			ThreadID:   l.Chat.ThreadID,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

func mapCrafty(cfg *config.Config) crafty.Config {
	c := cfg.Crafty
	return crafty.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             c.APIKey,
		Timeout:            dur("crafty.timeout", c.Timeout, 15*time.Second),
		MaxParallel:        c.MaxParallel,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
}

func mapNotifier(cfg *config.Config) notifier.Config {
	b := cfg.Broadcast
	out := notifier.Config{
		Workers:        b.Workers,
		RatePerSec:     b.RatePerSec,
		Burst:          b.Burst,
		SendTimeout:    dur("broadcast.send_timeout", b.SendTimeout, defaultSendTimeout),
		PersistTimeout: dur("broadcast.persist_timeout", b.PersistTimeout, defaultPersistTimeout),
		SendOptions:    kit.SendOptions{ParseMode: b.ParseMode, DisablePreview: b.DisablePreview},
	}
	if out.Workers <= 0 {
		out.Workers = defaultWorkers
	}
	if out.RatePerSec == 0 {
		out.RatePerSec = defaultRatePerSec
	}
	return out
}

func mapBroadcast(cfg *config.Config) broadcast.Config {
	b := cfg.Broadcast
	return broadcast.Config{
		Interval:        dur("broadcast.interval", b.Interval, defaultInterval),
		Schedule:        strings.TrimSpace(b.Schedule),
		Location:        b.Location(),
		ShowGeneratedAt: b.ShowGeneratedAt,
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	s := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	out := storage.Config{
		Driver: driver,
		Path:   strings.TrimSpace(s.Path),
		DSN:    strings.TrimSpace(s.DSN),
	}
	switch driver {
	case "":
		out.Driver = "sqlite"
		fallthrough
	case "sqlite", "sqlite3":
		if out.Path == "" {
			out.Path = defaultSQLitePath
		}
		out.BusyTimeout = dur("storage.busy_timeout", s.BusyTimeout, defaultBusyTimeout)
	case "file":
		if out.Path == "" {
			out.Path = defaultFilePath
		}
	}
	return out
}

func mapHTTP(cfg *config.Config) httpapi.Config {
	h := cfg.HTTP
	return httpapi.Config{
		Enabled:      h.Enabled,
		Addr:         strings.TrimSpace(h.Addr),
		WebhookToken: h.WebhookToken,
		Pprof:        h.Pprof,
	}
}
