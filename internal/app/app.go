// Package app wires the configured components into one running bot and owns
// their start, hot reload and shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"craftybot/internal/broadcast"
	"craftybot/internal/commands"
	"craftybot/internal/config"
	"craftybot/internal/crafty"
	"craftybot/internal/eventbus"
	"craftybot/internal/httpapi"
	"craftybot/internal/notifier"
	rtsup "craftybot/internal/runtime/supervisor"
	"craftybot/internal/storage"
	"craftybot/internal/subscription"
	kit "craftybot/internal/transport"
	"craftybot/internal/transport/telegram"
	logx "craftybot/pkg/logx"
	"craftybot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	source  *crafty.Client
	cache   *subscription.Cache
	subs    *subscription.Handler
	disp    *notifier.Dispatcher
	sched   *broadcast.Scheduler
	router  *commands.Router
	api     *httpapi.Server

	updates chan kit.Update
}

type Option func(*options)

type options struct {
	adapter kit.Adapter
}

// WithAdapter replaces the Telegram adapter built from telegram.* config.
func WithAdapter(ad kit.Adapter) Option { return func(o *options) { o.adapter = ad } }

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.ValidateRun(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", cfgPath, err)
	}

	logSvc, root := logx.New(mapLogging(cfg), nil)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	ad := o.adapter
	if ad == nil {
		tg, err := telegram.New(mapTelegram(cfg), root.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		ad = tg
	}
	logSvc.SetSender(ad)

	store, err := openStore(ctx, mapStorage(cfg), root, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	cache := subscription.NewCache()
	subs := subscription.NewHandler(store, cache,
		subscription.WithBus(bus),
		subscription.WithLogger(root.With(logx.String("comp", "subscription"))),
	)
	source := crafty.New(mapCrafty(cfg), root.With(logx.String("comp", "crafty")))
	disp := notifier.New(ad, store, cache, mapNotifier(cfg), root.With(logx.String("comp", "notifier")))

	sched, err := broadcast.New(source, disp, cache, mapBroadcast(cfg),
		broadcast.WithBus(bus),
		broadcast.WithLogger(root.With(logx.String("comp", "broadcast"))),
	)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	router := commands.New(ad, subs, sched,
		commands.WithLogger(root.With(logx.String("comp", "commands"))),
		commands.WithOwners(cfg.Telegram.OwnerUserIDs),
	)
	api := httpapi.New(httpapi.Deps{
		Source:     source,
		Announcer:  disp,
		Recipients: cache,
		Bus:        bus,
		Location:   cfg.Broadcast.Location(),
	}, root)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		source:  source,
		cache:   cache,
		subs:    subs,
		disp:    disp,
		sched:   sched,
		router:  router,
		api:     api,
		updates: make(chan kit.Update, 256),
	}, nil
}

// openStore falls back to the in-memory store when storage is disabled.
func openStore(ctx context.Context, sc storage.Config, root, log logx.Logger) (storage.Store, error) {
	st, err := storage.Open(ctx, sc, root)
	switch {
	case errors.Is(err, storage.ErrDisabled):
		log.Warn("storage disabled; subscriptions will not survive a restart")
		return storage.NewMemory(), nil
	case err != nil:
		return nil, fmt.Errorf("storage %s: %w", sc.Driver, err)
	}
	return st, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Scheduler exposes the broadcast scheduler (status, manual refresh).
func (a *App) Scheduler() *broadcast.Scheduler { return a.sched }

// HTTPAddr is the bound HTTP API address, empty when the API is off.
func (a *App) HTTPAddr() string { return a.api.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.ValidateRun(cfg); err != nil {
			return err
		}
		b := mapBroadcast(cfg)
		if _, _, err := broadcast.ParseSchedule(b.Schedule, b.Interval, b.Location); err != nil {
			return fmt.Errorf("broadcast.schedule: %w", err)
		}
		return nil
	})

	n, err := a.subs.Rebuild(ctx)
	if err != nil {
		return err
	}
	a.log.Info("recipients loaded", logx.Int("count", n))

	if err := a.api.Apply(ctx, mapHTTP(a.cfgm.Get())); err != nil {
		return err
	}
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("commands", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go("broadcast", a.sched.Run)

	// Debug trail of component events.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	cycles, unsubCycles := a.bus.Subscribe(8, eventbus.CyclePrefix)
	a.sup.Go0("systemd.status", func(c context.Context) {
		defer unsubCycles()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-cycles:
				if !ok {
					return
				}
				if msg := cycleStatus(e); msg != "" {
					_, _ = systemd.Status(msg)
				}
			}
		}
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.RunWatchdog(c, func() bool { return a.sup.Err() == nil })
	})

	a.log.Info("app started",
		logx.Int("recipients", n),
		logx.String("http", a.api.Addr()),
		logx.Time("next_cycle", a.sched.Next(time.Now())),
	)
	return nil
}

// cycleStatus is the one-line service status for a cycle event.
func cycleStatus(e eventbus.Event) string {
	c, ok := e.Data.(broadcast.Cycle)
	if !ok {
		return ""
	}
	at := c.Started.Format("15:04:05")
	switch e.Type {
	case eventbus.CycleStarted:
		return "broadcasting (cycle started " + at + ")"
	case eventbus.CycleFailed:
		return fmt.Sprintf("last cycle %s failed: %v", at, c.Err)
	case eventbus.CycleFinished:
		s := c.Summary
		msg := fmt.Sprintf("last cycle %s: %d servers, %d recipients (sent %d, edited %d, resent %d, failed %d",
			at, c.Servers, s.Recipients, s.Sent, s.Edited, s.Resent, s.Failed)
		if s.Cancelled > 0 {
			msg += fmt.Sprintf(", cancelled %d", s.Cancelled)
		}
		return msg + ")"
	}
	return ""
}

// applyConfig pushes a committed config into every live component.
// Sections that cannot change at runtime are only reported.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, fields, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	a.logs.Apply(mapLogging(newCfg))
	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.source.Apply(mapCrafty(newCfg))
	a.disp.Apply(mapNotifier(newCfg))
	if err := a.sched.Apply(mapBroadcast(newCfg)); err != nil {
		a.log.Warn("invalid broadcast schedule; keeping previous", logx.Err(err))
	}
	if err := a.api.Apply(ctx, mapHTTP(newCfg)); err != nil {
		a.log.Warn("http api reconfigure failed", logx.Err(err))
	}
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	fields = append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, max(time.Until(dl), 0))
			}
			if limit > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline",
					logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("http", time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// The broadcast loop finishes its in-flight persistence before returning.
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
