package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	kit "craftybot/internal/transport"

	"github.com/rs/zerolog"
)

const defaultLogFile = "./craftybot.log"

// Service owns the sinks behind every Logger derived from it. Apply swaps
// level and sinks at runtime; existing Loggers follow without being rebuilt.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	file *os.File
	chat *chatSink

	root atomic.Pointer[zerolog.Logger]
}

// New creates the logging service, applies cfg immediately and returns the
// Service together with a root Logger bound to it. sender may be nil and set
// later with SetSender.
func New(cfg Config, sender kit.Sender) (*Service, Logger) {
	setGlobals()
	s := &Service{chat: newChatSink(sender)}
	zl := zerolog.New(newConsoleWriter(Stdout())).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	s.root.Store(&zl)
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func setGlobals() {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetSender installs the chat transport after construction (the transport
// itself needs a logger, so it is usually created after the Service).
func (s *Service) SetSender(sender kit.Sender) { s.chat.setSender(sender) }

// Close stops the chat worker and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	s.chat.close()
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply swaps outputs and levels at runtime. Safe to call concurrently.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, newConsoleWriter(Stdout()))
	}
	if cfg.File.Enabled {
		f, err := openLogFile(cfg.File.Path)
		if err != nil {
			fmt.Fprintf(Stderr(), "logx: %v\n", err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}

	chat := cfg.Chat
	if chat.Enabled && chat.ChatID == 0 {
		fmt.Fprintln(Stderr(), "logx: chat logging enabled but logging.chat.chat_id is not set")
		chat.Enabled = false
	}
	s.chat.configure(chat)
	if chat.Enabled {
		writers = append(writers, s.chat)
	}

	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(Stdout()))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	s.root.Store(&zl)
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log dir for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
}
