package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"craftybot/internal/storage"
	"craftybot/internal/subscription"
	kit "craftybot/internal/transport"
	logx "craftybot/pkg/logx"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultWorkers        = 8
	defaultSendTimeout    = 15 * time.Second
	defaultPersistTimeout = 5 * time.Second
)

// Dispatcher is safe for concurrent use; Apply may run while a delivery is
// in flight (the delivery keeps the settings it started with).
type Dispatcher struct {
	tr    kit.Sender
	store storage.Store
	cache *subscription.Cache
	log   logx.Logger
	now   func() time.Time

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(tr kit.Sender, store storage.Store, cache *subscription.Cache, cfg Config, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{tr: tr, store: store, cache: cache, log: log, now: time.Now}
	d.Apply(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	d.mu.Lock()
	d.cfg = cfg
	d.limiter = lim
	d.mu.Unlock()
}

type run struct {
	cfg     Config
	limiter *rate.Limiter
}

func (d *Dispatcher) snapshot() run {
	d.mu.Lock()
	defer d.mu.Unlock()
	return run{cfg: d.cfg, limiter: d.limiter}
}

// Deliver brings every recipient's live message up to date with text. The
// returned outcomes are in recipient order.
func (d *Dispatcher) Deliver(ctx context.Context, text string, recipients []storage.RecipientState) []Outcome {
	r := d.snapshot()
	text = kit.ClampText(text, kit.TextLimit)
	return d.fanOut(ctx, r, recipients, func(ctx context.Context, rc storage.RecipientState) Outcome {
		return d.deliverOne(ctx, r, text, rc)
	})
}

// Announce sends text as a new message to every recipient. Recipient state
// is never touched, so the live messages stay where they are.
func (d *Dispatcher) Announce(ctx context.Context, text string, recipients []storage.RecipientState) []Outcome {
	r := d.snapshot()
	return d.fanOut(ctx, r, recipients, func(ctx context.Context, rc storage.RecipientState) Outcome {
		out := Outcome{ChatID: rc.ChatID, PrevMessageID: rc.LastMessageID}
		ref, err := d.send(ctx, r, rc.ChatID, text)
		if err != nil {
			return d.failed(ctx, out, "announce failed", err)
		}
		out.Action, out.MessageID = ActionSent, ref.MessageID
		return out
	})
}

func (d *Dispatcher) fanOut(ctx context.Context, r run, recipients []storage.RecipientState, fn func(context.Context, storage.RecipientState) Outcome) []Outcome {
	outcomes := make([]Outcome, len(recipients))
	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for i, rc := range recipients {
		if ctx.Err() != nil {
			outcomes[i] = Outcome{ChatID: rc.ChatID, PrevMessageID: rc.LastMessageID, Action: ActionCancelled, Err: ctx.Err()}
			continue
		}
		g.Go(func() error {
			outcomes[i] = fn(ctx, rc)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (d *Dispatcher) deliverOne(ctx context.Context, r run, text string, rc storage.RecipientState) Outcome {
	out := Outcome{ChatID: rc.ChatID, PrevMessageID: rc.LastMessageID}
	log := d.log.With(logx.Int64("chat_id", rc.ChatID))

	if rc.LastMessageID <= 0 {
		ref, err := d.send(ctx, r, rc.ChatID, text)
		if err != nil {
			return d.failed(ctx, out, "send failed", err)
		}
		out.Action, out.MessageID = ActionSent, ref.MessageID
		out.Persisted = d.persist(ctx, r, rc.ChatID, ref.MessageID)
		return out
	}

	err := d.edit(ctx, r, rc.ChatID, rc.LastMessageID, text)
	switch {
	case err == nil:
		out.Action, out.MessageID = ActionEdited, rc.LastMessageID
		out.Persisted = d.persist(ctx, r, rc.ChatID, rc.LastMessageID)
		return out
	case kit.IsTargetInvalid(err):
		log.Info("live message gone, sending a new one", logx.Int("message_id", rc.LastMessageID), logx.Err(err))
		ref, serr := d.send(ctx, r, rc.ChatID, text)
		if serr != nil {
			return d.failed(ctx, out, "resend failed", serr)
		}
		out.Action, out.MessageID = ActionResent, ref.MessageID
		out.Persisted = d.persist(ctx, r, rc.ChatID, ref.MessageID)
		return out
	default:
		return d.failed(ctx, out, "edit failed", err)
	}
}

func (d *Dispatcher) failed(ctx context.Context, out Outcome, msg string, err error) Outcome {
	out.Err = err
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		out.Action = ActionCancelled
		return out
	}
	out.Action = ActionFailed
	d.log.Warn(msg, logx.Int64("chat_id", out.ChatID), logx.Int("message_id", out.PrevMessageID), logx.Err(err))
	return out
}

func (d *Dispatcher) send(ctx context.Context, r run, chatID int64, text string) (kit.MessageRef, error) {
	if err := wait(ctx, r.limiter); err != nil {
		return kit.MessageRef{}, err
	}
	sctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()
	opt := r.cfg.SendOptions
	return d.tr.SendText(sctx, kit.ChatTarget{ChatID: chatID}, text, &opt)
}

func (d *Dispatcher) edit(ctx context.Context, r run, chatID int64, messageID int, text string) error {
	if err := wait(ctx, r.limiter); err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()
	opt := r.cfg.SendOptions
	return d.tr.EditText(sctx, kit.MessageRef{ChatID: chatID, MessageID: messageID}, text, &opt)
}

// persist records messageID for chatID in the cache and then the store. It
// runs detached from cancellation: a message that reached the chat must be
// remembered, or the next run would send a duplicate. A chat that
// unsubscribed meanwhile is left alone.
func (d *Dispatcher) persist(ctx context.Context, r run, chatID int64, messageID int) bool {
	unlock := d.cache.Guard(chatID)
	defer unlock()

	if !d.cache.SetIfPresent(chatID, messageID) {
		d.log.Debug("recipient left during delivery", logx.Int64("chat_id", chatID))
		return false
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PersistTimeout)
	defer cancel()
	if err := d.store.Upsert(pctx, storage.RecipientState{ChatID: chatID, LastMessageID: messageID, UpdatedAt: d.now()}); err != nil {
		d.log.Warn("persist recipient state failed", logx.Int64("chat_id", chatID), logx.Int("message_id", messageID), logx.Err(err))
		return false
	}
	return true
}

func wait(ctx context.Context, lim *rate.Limiter) error {
	if lim == nil {
		return ctx.Err()
	}
	return lim.Wait(ctx)
}
