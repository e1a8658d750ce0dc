package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	kit "craftybot/internal/transport"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	chatQueueSize   = 256
	chatDedupWindow = 10 * time.Minute
	chatTextLimit   = 3500
	chatValueLimit  = 600
	chatSendTimeout = 10 * time.Second
)

type chatLine struct {
	to  kit.ChatTarget
	msg string
}

// chatSink forwards log lines at or above MinLevel to an operator chat.
// Writes never block the logging caller; lines are rate limited, queued and
// sent by one worker. A line equal to the previous one within chatDedupWindow
// is only counted and the count rides along with the next distinct line.
type chatSink struct {
	mu       sync.Mutex
	sender   kit.Sender
	target   kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter
	now      func() time.Time

	last    string
	lastAt  time.Time
	repeats int

	queue chan chatLine
	once  sync.Once
	stop  context.CancelFunc
	done  chan struct{}
}

func newChatSink(sender kit.Sender) *chatSink {
	return &chatSink{
		sender: sender,
		now:    time.Now,
		queue:  make(chan chatLine, chatQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *chatSink) setSender(sender kit.Sender) {
	c.mu.Lock()
	c.sender = sender
	c.mu.Unlock()
}

// configure retargets the sink. A disabled config keeps the worker idle.
func (c *chatSink) configure(cfg ChatConfig) {
	rps := max(cfg.RatePerSec, 1)

	c.mu.Lock()
	c.target = kit.ChatTarget{}
	if cfg.Enabled {
		c.target = kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	}
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	if cfg.Enabled {
		c.once.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			c.mu.Lock()
			c.stop = cancel
			c.mu.Unlock()
			go c.run(ctx)
		})
	}
}

func (c *chatSink) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-c.queue:
			c.mu.Lock()
			sender := c.sender
			c.mu.Unlock()
			if sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_, _ = sender.SendText(sctx, ln.to, ln.msg, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (c *chatSink) close() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
		<-c.done
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	if c.target.ChatID == 0 || level < c.minLevel {
		c.mu.Unlock()
		return len(p), nil
	}
	text := formatChatLine(p)
	if text == "" {
		c.mu.Unlock()
		return len(p), nil
	}

	now := c.now()
	if text == c.last && now.Sub(c.lastAt) < chatDedupWindow {
		c.repeats++
		c.mu.Unlock()
		return len(p), nil
	}
	if !c.limiter.Allow() {
		c.mu.Unlock()
		return len(p), nil
	}
	msg := text
	if c.repeats > 0 {
		msg += fmt.Sprintf("\n(previous message repeated %d more times)", c.repeats)
	}
	c.last, c.lastAt, c.repeats = text, now, 0
	to := c.target
	c.mu.Unlock()

	select {
	case c.queue <- chatLine{to: to, msg: msg}:
	default:
	}
	return len(p), nil
}

var levelBadge = map[string]string{
	"trace": "🔎", "debug": "🐛", "info": "ℹ️", "warn": "⚠️", "error": "❌", "fatal": "💀", "panic": "💀",
}

// formatChatLine turns one zerolog JSON line into a short text block:
// a header with the level and component, the message, then sorted fields.
func formatChatLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return kit.ClampText(raw, chatTextLimit)
	}

	lvl, _ := m["level"].(string)
	var b strings.Builder
	if badge := levelBadge[lvl]; badge != "" {
		b.WriteString(badge + " ")
	}
	b.WriteString(strings.ToUpper(lvl))
	if comp, _ := m["comp"].(string); comp != "" {
		b.WriteString(" · " + comp)
	}
	if msg, _ := m["message"].(string); msg != "" {
		b.WriteString("\n" + msg)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "comp":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(m[k])
		if r := []rune(v); len(r) > chatValueLimit {
			v = string(r[:chatValueLimit]) + "…"
		}
		b.WriteString("\n" + k + ": " + v)
	}
	return kit.ClampText(b.String(), chatTextLimit)
}
