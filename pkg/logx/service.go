package logx

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender delivers log lines to a chat. Satisfied by the transport adapter;
// declared here so logx does not depend on transport packages.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Service owns the configured sinks and rebuilds the root logger on Apply().
// Loggers handed out by New() observe the rebuilt root immediately.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	root   zerolog.Logger
	file   *os.File
	sender Sender

	tgLimiter *rate.Limiter
}

// New builds the service and the root logger for the given config.
// sender may be nil; the Telegram sink then stays off regardless of config.
func New(cfg Config, sender Sender) (*Service, Logger) {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"

	s := &Service{sender: sender}
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// Apply swaps the sink set and level. Safe to call at any time; existing
// Logger values pick up the change on their next write.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: stdout(), TimeFormat: consoleTimeFormat})
	}

	// File sink: reopen only when the path changes.
	if cfg.File.Enabled && cfg.File.Path != "" {
		if s.file == nil || s.cfg.File.Path != cfg.File.Path {
			if s.file != nil {
				_ = s.file.Close()
				s.file = nil
			}
			_ = os.MkdirAll(filepath.Dir(cfg.File.Path), 0o755)
			f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err == nil {
				s.file = f
			}
		}
		if s.file != nil {
			writers = append(writers, s.file)
		}
	} else if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	if cfg.Telegram.Enabled && cfg.Telegram.ChatID != 0 && s.sender != nil {
		per := cfg.Telegram.RatePerSec
		if per <= 0 {
			per = 1
		}
		s.tgLimiter = rate.NewLimiter(rate.Limit(per), per)
		writers = append(writers, &telegramSink{
			sender:   s.sender,
			chatID:   cfg.Telegram.ChatID,
			minLevel: parseLevel(cfg.Telegram.MinLevel, zerolog.ErrorLevel),
			limiter:  s.tgLimiter,
		})
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	s.cfg = cfg
	s.root = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
}

// Close releases the file sink. The console keeps working.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// telegramSink forwards rendered lines at or above minLevel to a chat.
// Sends are best-effort, throttled, and run off the logging hot path so a
// slow transport cannot stall a log call.
type telegramSink struct {
	sender   Sender
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter
}

func (t *telegramSink) Write(p []byte) (int, error) { return len(p), nil }

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < t.minLevel || !t.limiter.Allow() {
		return len(p), nil
	}
	line := string(p)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.sender.SendText(ctx, t.chatID, line)
	}()
	return len(p), nil
}

func stdout() io.Writer { return os.Stdout }
