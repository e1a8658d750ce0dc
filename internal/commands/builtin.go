package commands

import (
	"context"
	"fmt"
	"strings"

	logx "craftybot/pkg/logx"

	"github.com/dustin/go-humanize"
)

const (
	ReplySubscribed   = "Status reporting enabled"
	ReplyUnsubscribed = "Status reporting disabled"
)

func (r *Router) builtin() []Command {
	return []Command{
		{
			Name:        "subscribe",
			Aliases:     []string{"showstatistic", "start"},
			Description: "receive the live server status in this chat",
			Handle:      r.handleSubscribe,
		},
		{
			Name:        "unsubscribe",
			Aliases:     []string{"stop"},
			Description: "stop the live server status in this chat",
			Handle:      r.handleUnsubscribe,
		},
		{
			Name:        "status",
			Description: "show broadcast status",
			Handle:      r.handleStatus,
		},
		{
			Name:        "refresh",
			Description: "update the live status now",
			Access:      AccessOwnerOnly,
			Handle:      r.handleRefresh,
		},
		{
			Name:        "help",
			Description: "list commands",
			Handle:      r.handleHelp,
		},
	}
}

func (r *Router) handleSubscribe(ctx context.Context, req *Request) (string, error) {
	created, err := r.subs.Subscribe(ctx, req.Chat.ChatID)
	if err != nil {
		return "Could not enable status reporting, try again later.", err
	}
	req.Logger.Debug("subscribe handled", logx.Bool("created", created))
	return ReplySubscribed, nil
}

func (r *Router) handleUnsubscribe(ctx context.Context, req *Request) (string, error) {
	removed, err := r.subs.Unsubscribe(ctx, req.Chat.ChatID)
	if err != nil {
		return "Could not disable status reporting, try again later.", err
	}
	req.Logger.Debug("unsubscribe handled", logx.Bool("removed", removed))
	return ReplyUnsubscribed, nil
}

func (r *Router) handleStatus(ctx context.Context, req *Request) (string, error) {
	now := r.now()
	var b strings.Builder
	fmt.Fprintf(&b, "Subscribers: %s\n", humanize.Comma(int64(r.subs.Count())))
	fmt.Fprintf(&b, "State: %s\n", r.cycles.State())

	if c, ok := r.cycles.LastCycle(); ok {
		fmt.Fprintf(&b, "Last cycle: %s", humanize.RelTime(c.Started, now, "ago", "from now"))
		if c.Err != nil {
			fmt.Fprintf(&b, " (failed: %v)\n", c.Err)
		} else {
			s := c.Summary
			fmt.Fprintf(&b, " (%d servers; sent %d, edited %d, resent %d, failed %d)\n",
				c.Servers, s.Sent, s.Edited, s.Resent, s.Failed)
		}
	} else {
		b.WriteString("Last cycle: none yet\n")
	}
	fmt.Fprintf(&b, "Next cycle: %s", humanize.RelTime(r.cycles.Next(now), now, "ago", "from now"))
	return b.String(), nil
}

func (r *Router) handleRefresh(ctx context.Context, req *Request) (string, error) {
	if r.cycles.Trigger() {
		return "Refresh queued", nil
	}
	return "A refresh is already pending", nil
}

func (r *Router) handleHelp(ctx context.Context, req *Request) (string, error) {
	r.mu.RLock()
	cmds := r.cmds
	r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Commands:")
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		fmt.Fprintf(&b, "\n/%s - %s", c.Name, c.Description)
		if len(c.Aliases) > 0 {
			fmt.Fprintf(&b, " (also /%s)", strings.Join(c.Aliases, ", /"))
		}
	}
	return b.String(), nil
}
