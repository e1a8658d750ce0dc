package broadcast

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"craftybot/internal/crafty"
	"craftybot/internal/eventbus"
	"craftybot/internal/notifier"
	"craftybot/internal/report"
	"craftybot/internal/storage"
	"craftybot/internal/subscription"
	logx "craftybot/pkg/logx"

	"github.com/rs/zerolog"
)

type fakeSource struct {
	mu    sync.Mutex
	stats []crafty.ServerStats
	err   error
	calls int
}

func (f *fakeSource) FetchSnapshot(ctx context.Context) ([]crafty.ServerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.stats, f.err
}

type fakeDeliverer struct {
	mu       sync.Mutex
	texts    []string
	calls    chan struct{}
	block    chan struct{}
	inflight atomic.Int32
	overlap  atomic.Bool
	action   notifier.Action
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{calls: make(chan struct{}, 16)}
}

func (f *fakeDeliverer) Deliver(ctx context.Context, text string, recipients []storage.RecipientState) []notifier.Outcome {
	if f.inflight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inflight.Add(-1)

	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	f.calls <- struct{}{}
	if f.block != nil {
		<-f.block
	}
	out := make([]notifier.Outcome, len(recipients))
	for i, r := range recipients {
		action := f.action
		if action == "" {
			action = notifier.ActionSent
		}
		out[i] = notifier.Outcome{ChatID: r.ChatID, Action: action}
	}
	return out
}

func waitCall(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
}

func recipients(ids ...int64) *subscription.Cache {
	c := subscription.NewCache()
	var st []storage.RecipientState
	for _, id := range ids {
		st = append(st, storage.RecipientState{ChatID: id})
	}
	c.Load(st)
	return c
}

func TestRunCycleDeliversRenderedReport(t *testing.T) {
	t.Parallel()

	src := &fakeSource{stats: []crafty.ServerStats{{StatsID: 1, Desc: "Alpha", Online: 3}}}
	d := newFakeDeliverer()
	s, err := New(src, d, recipients(1, 2), Config{Interval: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c := s.RunCycle(context.Background())
	if c.Err != nil || c.Servers != 1 || c.Summary.Sent != 2 || c.ID == "" {
		t.Fatalf("cycle=%+v", c)
	}
	if d.texts[0] != report.Render(src.stats) {
		t.Fatalf("delivered text=%q", d.texts[0])
	}
	if last, ok := s.LastCycle(); !ok || last.ID != c.ID {
		t.Fatalf("LastCycle=%+v ok=%v", last, ok)
	}
	if s.State() != StateIdle {
		t.Fatalf("state=%v want idle", s.State())
	}
}

func TestRunCycleLogsCancelledRecipients(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	src := &fakeSource{stats: []crafty.ServerStats{{StatsID: 1, Desc: "Alpha"}}}
	d := newFakeDeliverer()
	d.action = notifier.ActionCancelled
	s, err := New(src, d, recipients(1, 2), Config{Interval: time.Hour},
		WithLogger(logx.NewFrom(zerolog.New(&buf))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c := s.RunCycle(context.Background())
	if c.Summary.Cancelled != 2 {
		t.Fatalf("summary=%+v", c.Summary)
	}
	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"cancelled":2`, "broadcast cycle cut short"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in log: %s", want, out)
		}
	}
}

func TestRunCycleFetchFailureSkipsDelivery(t *testing.T) {
	t.Parallel()

	for _, fetchErr := range []error{errors.New("connection refused"), crafty.ErrNotConfigured} {
		bus := eventbus.New()
		events, unsub := bus.Subscribe(4)

		src := &fakeSource{err: fetchErr}
		d := newFakeDeliverer()
		s, err := New(src, d, recipients(1), Config{}, WithBus(bus))
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		c := s.RunCycle(context.Background())
		if !errors.Is(c.Err, fetchErr) {
			t.Fatalf("cycle err=%v want %v", c.Err, fetchErr)
		}
		if len(d.texts) != 0 {
			t.Fatalf("delivery ran after fetch failure")
		}
		if ev := <-events; ev.Type != eventbus.CycleStarted {
			t.Fatalf("first event=%s", ev.Type)
		}
		if ev := <-events; ev.Type != eventbus.CycleFailed {
			t.Fatalf("second event=%s", ev.Type)
		}
		unsub()
	}
}

func TestRunCycleGeneratedAtUsesClock(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{stats: []crafty.ServerStats{{StatsID: 1}}}
	d := newFakeDeliverer()
	s, err := New(src, d, recipients(1), Config{ShowGeneratedAt: true, Location: time.UTC}, WithClock(func() time.Time { return at }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.RunCycle(context.Background())
	if !strings.Contains(d.texts[0], "Generated at 01.05.2024 09:00:00") {
		t.Fatalf("text=%q", d.texts[0])
	}
}

func TestRunImmediateTriggerAndCancel(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	d := newFakeDeliverer()
	s, err := New(src, d, recipients(1), Config{Interval: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitCall(t, d.calls) // first cycle runs without waiting for the interval

	if err := s.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run err=%v", err)
	}

	s.Trigger()
	waitCall(t, d.calls)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if s.State() != StateCancelled {
		t.Fatalf("state=%v want cancelled", s.State())
	}
}

func TestRunCyclesNeverOverlap(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	d := newFakeDeliverer()
	d.block = make(chan struct{})
	s, err := New(src, d, recipients(1), Config{Interval: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitCall(t, d.calls)
	if s.State() != StateDispatching {
		t.Fatalf("state=%v want dispatching", s.State())
	}
	// Several requests during one cycle coalesce into one pending cycle.
	queued := 0
	for i := 0; i < 5; i++ {
		if s.Trigger() {
			queued++
		}
	}
	if queued != 1 {
		t.Fatalf("queued=%d want 1", queued)
	}
	d.block <- struct{}{}

	waitCall(t, d.calls)
	d.block <- struct{}{}

	select {
	case <-d.calls:
		t.Fatalf("unexpected third cycle")
	case <-time.After(50 * time.Millisecond):
	}
	if d.overlap.Load() {
		t.Fatalf("cycles overlapped")
	}
	cancel()
	<-done
}

func TestApplyRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()

	s, err := New(&fakeSource{}, newFakeDeliverer(), recipients(), Config{Interval: 10 * time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Apply(Config{Schedule: "every tuesday"}); err == nil {
		t.Fatalf("expected error")
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := s.Next(base); !got.Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("Next=%v, previous schedule not kept", got)
	}
}

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		expr     string
		interval time.Duration
		next     time.Time
		clamped  bool
	}{
		{name: "default", next: base.Add(DefaultInterval)},
		{name: "interval", interval: 3 * time.Minute, next: base.Add(3 * time.Minute)},
		{name: "interval clamped", interval: 10 * time.Second, next: base.Add(time.Minute), clamped: true},
		{name: "duration expr", expr: "15m", interval: time.Hour, next: base.Add(15 * time.Minute)},
		{name: "hhmm", expr: "01:30", next: base.Add(90 * time.Minute)},
		{name: "every descriptor clamped", expr: "@every 5s", next: base.Add(time.Minute), clamped: true},
		{name: "cron", expr: "*/20 * * * *", next: base.Add(20 * time.Minute)},
		{name: "prefixed cron", expr: "cron:0 12 * * *", next: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sched, clamped, err := ParseSchedule(tt.expr, tt.interval, time.UTC)
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.expr, err)
			}
			if clamped != tt.clamped {
				t.Fatalf("clamped=%v want %v", clamped, tt.clamped)
			}
			if got := sched.Next(base); !got.Equal(tt.next) {
				t.Fatalf("Next=%v want %v", got, tt.next)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"not-a-schedule", "cron:", "0m", "00:75", "61 * * * *"} {
		if _, _, err := ParseSchedule(expr, 0, nil); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", expr)
		}
	}
}
