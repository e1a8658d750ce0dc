// Package httpapi serves the Crafty webhook receiver and the read-only
// status endpoints.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"craftybot/internal/crafty"
	"craftybot/internal/eventbus"
	"craftybot/internal/notifier"
	"craftybot/internal/storage"
	logx "craftybot/pkg/logx"
)

type Config struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	// WebhookToken, when set, must be echoed in the X-Webhook-Token header.
	WebhookToken string `json:"webhook_token"`
	Pprof        bool   `json:"pprof"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	return c
}

type Source interface {
	FetchSnapshot(ctx context.Context) ([]crafty.ServerStats, error)
}

type Announcer interface {
	Announce(ctx context.Context, text string, recipients []storage.RecipientState) []notifier.Outcome
}

type Recipients interface {
	Snapshot() []storage.RecipientState
}

type Deps struct {
	Source     Source
	Announcer  Announcer
	Recipients Recipients
	Bus        eventbus.Bus
	Location   *time.Location
}

// Server manages the listener lifecycle. Apply may be called repeatedly
// with new config; the listener restarts only when the address or the pprof
// switch changes.
type Server struct {
	deps Deps
	log  logx.Logger
	now  func() time.Time

	token atomic.Pointer[string]

	mu    sync.Mutex
	srv   *http.Server
	ln    net.Listener
	addr  string
	pprof bool
}

func New(deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{deps: deps, log: log.With(logx.String("comp", "httpapi")), now: time.Now}
	s.token.Store(new(string))
	return s
}

// Handler builds the route table.
func (s *Server) Handler(withPprof bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/server-started", s.webhook(webhookStarted))
	mux.HandleFunc("POST /webhook/server-stopped", s.webhook(webhookStopped))
	mux.HandleFunc("POST /webhook/server-force-stopped", s.webhook(webhookKilled))
	mux.HandleFunc("POST /webhook/server-crashed", s.webhook(webhookCrashed))
	mux.HandleFunc("GET /crafty/online", s.online)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if withPprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// Apply starts, restarts or stops the listener according to cfg.
func (s *Server) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	tok := cfg.WebhookToken
	s.token.Store(&tok)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return nil
	}
	if s.srv != nil && s.addr == cfg.Addr && s.pprof == cfg.Pprof {
		return nil
	}

	s.stopLocked(ctx)
	return s.startLocked(cfg)
}

func (s *Server) startLocked(cfg Config) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(cfg.Pprof),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.srv = srv
	s.ln = ln
	s.addr = cfg.Addr
	s.pprof = cfg.Pprof

	bound := ln.Addr().String()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("http server error", logx.String("addr", bound), logx.Err(err))
		}
	}()
	s.log.Info("http api listening", logx.String("addr", bound), logx.Bool("pprof", cfg.Pprof))
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, addr := s.srv, s.addr
	s.srv, s.ln, s.addr = nil, nil, ""

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("http shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	s.log.Info("http api stopped", logx.String("addr", addr))
}

// Addr reports the bound listen address, empty when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
