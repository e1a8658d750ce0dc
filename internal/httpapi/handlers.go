package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"craftybot/internal/crafty"
	"craftybot/internal/eventbus"
	"craftybot/internal/notifier"
	"craftybot/internal/report"
	logx "craftybot/pkg/logx"
)

const (
	maxBodyBytes    = 1 << 20
	announceTimeout = 60 * time.Second
)

type webhookKind int

const (
	webhookStarted webhookKind = iota
	webhookStopped
	webhookKilled
	webhookCrashed
)

func (k webhookKind) event() report.EventKind {
	switch k {
	case webhookStarted:
		return report.EventStarted
	case webhookStopped:
		return report.EventStopped
	case webhookKilled:
		return report.EventKilled
	case webhookCrashed:
		return report.EventCrashed
	}
	return report.EventUnknown
}

// WebhookPayload is the Discord-style body Crafty posts for server events.
// Only the first embed is read.
type WebhookPayload struct {
	Username string  `json:"username"`
	Embeds   []Embed `json:"embeds"`
}

type Embed struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Timestamp   crafty.Timestamp `json:"timestamp,omitzero"`
}

// ServerEvent is published on the bus for every accepted webhook.
type ServerEvent struct {
	Server string           `json:"server"`
	Kind   report.EventKind `json:"kind"`
	At     time.Time        `json:"at"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) authorized(r *http.Request) bool {
	want := *s.token.Load()
	if want == "" {
		return true
	}
	got := r.Header.Get("X-Webhook-Token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) webhook(kind webhookKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid webhook token"})
			return
		}

		var p WebhookPayload
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload: " + err.Error()})
			return
		}

		ev := ServerEvent{Server: report.UnknownServer, Kind: kind.event(), At: s.now()}
		if len(p.Embeds) > 0 {
			if t := strings.TrimSpace(p.Embeds[0].Title); t != "" {
				ev.Server = t
			}
			if !p.Embeds[0].Timestamp.IsZero() {
				ev.At = p.Embeds[0].Timestamp.Time
			}
		}

		text := report.EventMessage(ev.Server, ev.Kind, ev.At, s.deps.Location)
		var sum notifier.Summary
		if s.deps.Announcer != nil && s.deps.Recipients != nil {
			// The announcement outlives a client that hangs up early.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), announceTimeout)
			sum = notifier.Summarize(s.deps.Announcer.Announce(ctx, text, s.deps.Recipients.Snapshot()))
			cancel()
		}
		if s.deps.Bus != nil {
			s.deps.Bus.Publish(eventbus.Event{Type: eventbus.ServerEvent, Time: s.now(), Data: ev})
		}

		s.log.Info("server event announced",
			logx.String("server", ev.Server),
			logx.String("kind", string(ev.Kind)),
			logx.Int("recipients", sum.Recipients),
			logx.Int("failed", sum.Failed),
		)
		writeJSON(w, http.StatusOK, sum)
	}
}

type onlineResponse struct {
	TotalOnline int                  `json:"totalOnline"`
	Servers     []crafty.ServerStats `json:"servers"`
}

func (s *Server) online(w http.ResponseWriter, r *http.Request) {
	if s.deps.Source == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "statistics source not available"})
		return
	}
	stats, err := s.deps.Source.FetchSnapshot(r.Context())
	switch {
	case err == nil:
	case r.Context().Err() != nil:
		return
	case errors.Is(err, crafty.ErrNotConfigured):
		s.log.Error("crafty configuration error", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	default:
		s.log.Error("crafty fetch failed", logx.Err(err))
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "Failed to retrieve data from CraftyController."})
		return
	}

	resp := onlineResponse{Servers: stats}
	if resp.Servers == nil {
		resp.Servers = []crafty.ServerStats{}
	}
	for _, st := range stats {
		resp.TotalOnline += st.Online
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
