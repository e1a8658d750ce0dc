// Package broadcast drives the periodic status cycle:
// fetch the snapshot, render the report, deliver it to every recipient.
//
// Cycles never overlap. The next start is computed only after the previous
// cycle finished, so a slow cycle pushes the schedule instead of stacking.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"craftybot/internal/crafty"
	"craftybot/internal/eventbus"
	"craftybot/internal/notifier"
	"craftybot/internal/report"
	"craftybot/internal/storage"
	logx "craftybot/pkg/logx"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// State is the scheduler's position in the cycle state machine.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateFormatting
	StateDispatching
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateFormatting:
		return "formatting"
	case StateDispatching:
		return "dispatching"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Source yields the statistics snapshot for one cycle.
type Source interface {
	FetchSnapshot(ctx context.Context) ([]crafty.ServerStats, error)
}

// Deliverer pushes one report to a set of recipients.
type Deliverer interface {
	Deliver(ctx context.Context, text string, recipients []storage.RecipientState) []notifier.Outcome
}

// Recipients lists the currently subscribed chats.
type Recipients interface {
	Snapshot() []storage.RecipientState
}

type Config struct {
	Interval time.Duration
	// Schedule overrides Interval (cron expression, duration or HH:MM).
	Schedule        string
	Location        *time.Location
	ShowGeneratedAt bool
}

// Cycle summarizes one completed (or failed) cycle.
type Cycle struct {
	ID       string           `json:"id"`
	Started  time.Time        `json:"started"`
	Duration time.Duration    `json:"duration"`
	Servers  int              `json:"servers"`
	Summary  notifier.Summary `json:"summary"`
	Err      error            `json:"-"`
}

var ErrAlreadyRunning = errors.New("broadcast: scheduler already running")

type Scheduler struct {
	src  Source
	disp Deliverer
	rcpt Recipients
	bus  eventbus.Bus
	log  logx.Logger
	now  func() time.Time

	state   atomic.Int32
	running atomic.Bool
	trigger chan struct{}
	resched chan struct{}

	mu    sync.Mutex
	cfg   Config
	sched cron.Schedule
	last  *Cycle
}

type Option func(*Scheduler)

func WithBus(b eventbus.Bus) Option         { return func(s *Scheduler) { s.bus = b } }
func WithLogger(l logx.Logger) Option       { return func(s *Scheduler) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func New(src Source, disp Deliverer, rcpt Recipients, cfg Config, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		src:     src,
		disp:    disp,
		rcpt:    rcpt,
		now:     time.Now,
		trigger: make(chan struct{}, 1),
		resched: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if err := s.Apply(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply validates cfg and makes the waiting loop recompute its next start.
// An invalid cfg leaves the current schedule in place.
func (s *Scheduler) Apply(cfg Config) error {
	sched, clamped, err := ParseSchedule(cfg.Schedule, cfg.Interval, cfg.Location)
	if err != nil {
		return err
	}
	if clamped {
		s.log.Warn("broadcast interval below minimum, clamped", logx.Duration("min", MinInterval), logx.Duration("interval", cfg.Interval), logx.String("schedule", cfg.Schedule))
	}
	s.mu.Lock()
	s.cfg = cfg
	s.sched = sched
	s.mu.Unlock()

	select {
	case s.resched <- struct{}{}:
	default:
	}
	return nil
}

// Trigger requests an early cycle. Requests made while one is already
// pending coalesce; the return value reports whether this call queued one.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) LastCycle() (Cycle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Cycle{}, false
	}
	return *s.last, true
}

// Next reports when the next scheduled cycle would start after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched.Next(t)
}

func (s *Scheduler) setState(st State) { s.state.Store(int32(st)) }

// Run executes a cycle immediately and then on every schedule tick until ctx
// is cancelled. Cancellation is a clean exit and returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.log.Info("broadcast scheduler started")
	for {
		s.RunCycle(ctx)
		if !s.wait(ctx) {
			s.setState(StateCancelled)
			s.log.Info("broadcast scheduler stopped")
			return nil
		}
	}
}

// wait blocks until the next cycle is due. It returns false on cancellation.
func (s *Scheduler) wait(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		now := s.now()
		next := s.Next(now)
		t := time.NewTimer(max(next.Sub(now), 0))
		s.log.Debug("next broadcast cycle scheduled", logx.Time("at", next))

		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
			return true
		case <-s.trigger:
			t.Stop()
			return true
		case <-s.resched:
			t.Stop()
		}
	}
}

// RunCycle runs one fetch, render and deliver pass and records its summary.
// A fetch failure aborts only this cycle.
func (s *Scheduler) RunCycle(ctx context.Context) Cycle {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	c := Cycle{ID: uuid.NewString(), Started: s.now()}
	log := s.log.With(logx.String("cycle", c.ID))
	s.publish(eventbus.CycleStarted, c)

	defer s.setState(StateIdle)

	s.setState(StateFetching)
	stats, err := s.src.FetchSnapshot(ctx)
	if err != nil {
		c.Err = err
		switch {
		case ctx.Err() != nil:
			log.Debug("snapshot fetch cancelled", logx.Err(err))
		case errors.Is(err, crafty.ErrNotConfigured):
			log.Error("statistics source misconfigured, cycle skipped", logx.Err(err))
		default:
			log.Warn("snapshot fetch failed, cycle skipped", logx.Err(err))
		}
		return s.finish(c, eventbus.CycleFailed)
	}
	c.Servers = len(stats)

	s.setState(StateFormatting)
	opt := report.Options{Location: cfg.Location}
	if cfg.ShowGeneratedAt {
		opt.GeneratedAt = c.Started
	}
	text := report.RenderWith(stats, opt)

	s.setState(StateDispatching)
	outcomes := s.disp.Deliver(ctx, text, s.rcpt.Snapshot())
	c.Summary = notifier.Summarize(outcomes)

	fields := []logx.Field{
		logx.Int("servers", c.Servers),
		logx.Int("recipients", c.Summary.Recipients),
		logx.Int("sent", c.Summary.Sent),
		logx.Int("edited", c.Summary.Edited),
		logx.Int("resent", c.Summary.Resent),
		logx.Int("failed", c.Summary.Failed),
		logx.Int("cancelled", c.Summary.Cancelled),
		logx.Duration("dur", s.now().Sub(c.Started)),
	}
	switch {
	case c.Summary.Cancelled > 0:
		log.Warn("broadcast cycle cut short", fields...)
	case c.Summary.Failed > 0:
		log.Warn("broadcast cycle finished with failures", fields...)
	default:
		log.Info("broadcast cycle finished", fields...)
	}
	return s.finish(c, eventbus.CycleFinished)
}

func (s *Scheduler) finish(c Cycle, event string) Cycle {
	c.Duration = s.now().Sub(c.Started)
	s.mu.Lock()
	last := c
	s.last = &last
	s.mu.Unlock()
	s.publish(event, c)
	return c
}

func (s *Scheduler) publish(typ string, c Cycle) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: c})
}
