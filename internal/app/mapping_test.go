package app

import (
	"errors"
	"testing"
	"time"

	"craftybot/internal/broadcast"
	"craftybot/internal/config"
	"craftybot/internal/eventbus"
	"craftybot/internal/notifier"
)

func TestMapDefaults(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}

	n := mapNotifier(cfg)
	if n.Workers != defaultWorkers || n.RatePerSec != defaultRatePerSec {
		t.Fatalf("notifier=%+v", n)
	}
	if n.SendTimeout != defaultSendTimeout || n.PersistTimeout != defaultPersistTimeout {
		t.Fatalf("notifier timeouts=%+v", n)
	}

	b := mapBroadcast(cfg)
	if b.Interval != defaultInterval || b.Location != time.Local {
		t.Fatalf("broadcast=%+v", b)
	}

	s := mapStorage(cfg)
	if s.Driver != "sqlite" || s.Path != defaultSQLitePath || s.BusyTimeout != defaultBusyTimeout {
		t.Fatalf("storage=%+v", s)
	}

	if tg := mapTelegram(cfg); tg.PollTimeout != 10*time.Second {
		t.Fatalf("telegram=%+v", tg)
	}
}

func TestMapStorageDrivers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in         config.StorageConfig
		wantDriver string
		wantPath   string
	}{
		{config.StorageConfig{Driver: "none"}, "none", ""},
		{config.StorageConfig{Driver: "File"}, "file", defaultFilePath},
		{config.StorageConfig{Driver: "sqlite", Path: " /tmp/x.db "}, "sqlite", "/tmp/x.db"},
		{config.StorageConfig{Driver: "postgres", DSN: "postgres://u@h/db"}, "postgres", ""},
	}
	for _, tt := range tests {
		got := mapStorage(&config.Config{Storage: tt.in})
		if got.Driver != tt.wantDriver || got.Path != tt.wantPath {
			t.Fatalf("%+v -> %+v", tt.in, got)
		}
	}
}

func TestMapExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Broadcast: config.BroadcastConfig{
			Interval:       "5m",
			Schedule:       " */10 * * * * ",
			Timezone:       "UTC",
			Workers:        2,
			RatePerSec:     1.5,
			SendTimeout:    "3s",
			ParseMode:      "HTML",
			DisablePreview: true,
		},
		Logging: config.LoggingConfig{Level: "debug", Chat: config.LoggingChat{Enabled: true, ChatID: -100}},
	}

	n := mapNotifier(cfg)
	if n.Workers != 2 || n.RatePerSec != 1.5 || n.SendTimeout != 3*time.Second {
		t.Fatalf("notifier=%+v", n)
	}
	if n.SendOptions.ParseMode != "HTML" || !n.SendOptions.DisablePreview {
		t.Fatalf("send options=%+v", n.SendOptions)
	}

	b := mapBroadcast(cfg)
	if b.Interval != 5*time.Minute || b.Schedule != "*/10 * * * *" || b.Location.String() != "UTC" {
		t.Fatalf("broadcast=%+v", b)
	}

	l := mapLogging(cfg)
	if l.Level != "debug" || !l.Chat.Enabled || l.Chat.ChatID != -100 {
		t.Fatalf("logging=%+v", l)
	}
}

func TestCycleStatus(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	c := broadcast.Cycle{Started: started, Servers: 2, Summary: notifier.Summary{Recipients: 3, Sent: 1, Edited: 2}}

	got := cycleStatus(eventbus.Event{Type: eventbus.CycleFinished, Data: c})
	if got != "last cycle 09:30:00: 2 servers, 3 recipients (sent 1, edited 2, resent 0, failed 0)" {
		t.Fatalf("finished=%q", got)
	}
	c.Summary.Cancelled = 1
	got = cycleStatus(eventbus.Event{Type: eventbus.CycleFinished, Data: c})
	if got != "last cycle 09:30:00: 2 servers, 3 recipients (sent 1, edited 2, resent 0, failed 0, cancelled 1)" {
		t.Fatalf("cut short=%q", got)
	}
	c.Err = errors.New("controller down")
	if got := cycleStatus(eventbus.Event{Type: eventbus.CycleFailed, Data: c}); got != "last cycle 09:30:00 failed: controller down" {
		t.Fatalf("failed=%q", got)
	}
	if got := cycleStatus(eventbus.Event{Type: eventbus.SubscriberAdded, Data: int64(1)}); got != "" {
		t.Fatalf("unrelated=%q", got)
	}
}
