// Package commands routes inbound chat commands to the subscription handler
// and the broadcast scheduler.
package commands

import (
	"context"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"craftybot/internal/broadcast"
	rtsup "craftybot/internal/runtime/supervisor"
	kit "craftybot/internal/transport"
	logx "craftybot/pkg/logx"

	"github.com/google/uuid"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	Hidden      bool
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Message kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
}

// Subscriptions is the part of subscription.Handler the commands need.
type Subscriptions interface {
	Subscribe(ctx context.Context, chatID int64) (bool, error)
	Unsubscribe(ctx context.Context, chatID int64) (bool, error)
	Count() int
}

// Cycles is the part of broadcast.Scheduler the commands need.
type Cycles interface {
	Trigger() bool
	State() broadcast.State
	LastCycle() (broadcast.Cycle, bool)
	Next(t time.Time) time.Time
}

const defaultTimeout = 10 * time.Second

type Router struct {
	sender kit.Sender
	subs   Subscriptions
	cycles Cycles
	log    logx.Logger
	now    func() time.Time

	mu     sync.RWMutex
	cmds   []Command
	index  map[string]*Command
	owners []int64

	jobs chan func()
}

type Option func(*Router)

func WithLogger(l logx.Logger) Option       { return func(r *Router) { r.log = l } }
func WithOwners(ids []int64) Option         { return func(r *Router) { r.owners = slices.Clone(ids) } }
func WithClock(now func() time.Time) Option { return func(r *Router) { r.now = now } }

func New(sender kit.Sender, subs Subscriptions, cycles Cycles, opts ...Option) *Router {
	r := &Router{
		sender: sender,
		subs:   subs,
		cycles: cycles,
		now:    time.Now,
		jobs:   make(chan func(), 256),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.setRegistry(r.builtin())
	return r
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (r *Router) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) setRegistry(cmds []Command) {
	index := map[string]*Command{}
	for i := range cmds {
		c := &cmds[i]
		index[strings.ToLower(c.Name)] = c
		for _, a := range c.Aliases {
			index[strings.ToLower(a)] = c
		}
	}
	r.mu.Lock()
	r.cmds = cmds
	r.index = index
	r.mu.Unlock()
}

// Menu returns the bot command list for the platform menu.
func (r *Router) Menu() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return menu(r.cmds)
}

// Parse extracts the command word and its arguments. The word is lowercased
// and a "@botname" suffix is dropped. ok is false for plain text.
func Parse(text string) (word string, args []string, ok bool) {
	parts := strings.Fields(strings.TrimSpace(text))
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return "", nil, false
	}
	word = strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}

// Handle runs the command in msg and returns the reply text. handled is
// false when msg is not a command this router answers.
func (r *Router) Handle(ctx context.Context, msg kit.Message) (reply string, handled bool) {
	word, args, ok := Parse(msg.Text)
	if !ok {
		return "", false
	}

	r.mu.RLock()
	cmd, found := r.index[word]
	owners := r.owners
	r.mu.RUnlock()

	if !found {
		// Group chats see commands meant for other bots; stay quiet there.
		if msg.IsGroup {
			return "", false
		}
		return "Unknown command. Try /help", true
	}
	if cmd.Access == AccessOwnerOnly && len(owners) > 0 && !slices.Contains(owners, msg.FromID) {
		return "unauthorized", true
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	reply, err := final(ctx, req)
	if err != nil && reply == "" {
		reply = "Something went wrong, try again later."
	}
	return reply, true
}

// Run consumes updates until ctx ends or updates is closed. Commands are
// executed by a small worker pool; replies go back through the sender.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	workers := 4
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)

	if up, ok := r.sender.(kit.CommandMenuUpdater); ok {
		cmds := r.Menu()
		sup.Go0("commands.menu", func(ctx context.Context) {
			mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, cmds); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("commands.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	r.log.Info("command dispatcher started", logx.Int("workers", workers))
	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			r.enqueue(ctx, *up.Message)
		}
	}
}

func (r *Router) enqueue(ctx context.Context, msg kit.Message) {
	job := func() {
		reply, ok := r.Handle(ctx, msg)
		if !ok || reply == "" {
			return
		}
		to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
		if _, err := r.sender.SendText(ctx, to, reply, &kit.SendOptions{DisablePreview: true}); err != nil && ctx.Err() == nil {
			r.log.Warn("reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		}
	}
	select {
	case r.jobs <- job:
	default:
		r.log.Warn("command queue full, dropping", logx.Int64("chat_id", msg.ChatID))
	}
}
