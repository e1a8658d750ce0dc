package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	kit "craftybot/internal/transport"

	"github.com/rs/zerolog"
)

func TestLoggerFieldsAndLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewFrom(zerolog.New(&buf).Level(zerolog.InfoLevel)).With(String("comp", "broadcast"))

	log.Debug("hidden")
	log.Warn("cycle failed", Int("servers", 2), Err(errors.New("boom")), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines=%q", lines)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("json: %v", err)
	}
	if m["comp"] != "broadcast" || m["message"] != "cycle failed" || m["servers"] != float64(2) || m[zerolog.ErrorFieldName] != "boom" {
		t.Fatalf("entry=%v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller=%v", m["caller"])
	}
	if log.Enabled(LevelDebug) || !log.Enabled(LevelError) {
		t.Fatalf("Enabled mismatch")
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var log Logger
	if !log.IsZero() {
		t.Fatalf("zero logger not IsZero")
	}
	log.With(String("k", "v")).Error("nothing happens")
	Nop().Info("nothing either")
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()

	got := formatChatLine([]byte(`{"level":"warn","comp":"notifier","message":"send failed","chat_id":42,"err":"timeout","time":"x"}`))
	want := "⚠️ WARN · notifier\nsend failed\nchat_id: 42\nerr: timeout"
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
	if got := formatChatLine([]byte("not json\n")); got != "not json" {
		t.Fatalf("raw=%q", got)
	}
}

type chatSender struct{ sent chan string }

func (s *chatSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	s.sent <- text
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (s *chatSender) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func TestChatSinkFiltersAndCollapsesRepeats(t *testing.T) {
	t.Parallel()

	snd := &chatSender{sent: make(chan string, 8)}
	c := newChatSink(snd)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.configure(ChatConfig{Enabled: true, ChatID: -100, RatePerSec: 100})
	defer c.close()

	line := func(level, msg string) []byte {
		return []byte(`{"level":"` + level + `","message":"` + msg + `"}`)
	}
	_, _ = c.WriteLevel(zerolog.InfoLevel, line("info", "below min level"))
	_, _ = c.WriteLevel(zerolog.WarnLevel, line("warn", "controller down"))
	_, _ = c.WriteLevel(zerolog.WarnLevel, line("warn", "controller down"))
	_, _ = c.WriteLevel(zerolog.WarnLevel, line("warn", "controller down"))
	_, _ = c.WriteLevel(zerolog.ErrorLevel, line("error", "giving up"))

	recv := func() string {
		select {
		case s := <-snd.sent:
			return s
		case <-time.After(5 * time.Second):
			t.Fatalf("no chat message")
			return ""
		}
	}
	if got := recv(); got != "⚠️ WARN\ncontroller down" {
		t.Fatalf("first=%q", got)
	}
	if got := recv(); got != "❌ ERROR\ngiving up\n(previous message repeated 2 more times)" {
		t.Fatalf("second=%q", got)
	}

	now = now.Add(chatDedupWindow)
	_, _ = c.WriteLevel(zerolog.ErrorLevel, line("error", "giving up"))
	if got := recv(); got != "❌ ERROR\ngiving up" {
		t.Fatalf("after window=%q", got)
	}
}
