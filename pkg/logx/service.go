package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ---- Config ----

// Config selects the sinks and the minimum level for the process logger.
// It maps onto the logging section of the config file and can be
// re-applied at runtime when that section changes.
type Config struct {
	// Level is one of TRACE, DEBUG, INFO, WARN or ERROR (case-insensitive).
	// Anything else falls back to INFO.
	Level string
	// Console enables the human-readable stdout sink.
	Console bool
	// File enables the JSON file sink.
	File FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ---- Service (dynamic sinks) ----

// Service owns the process-wide zerolog root and swaps it atomically when
// the logging config changes. Loggers handed out by the service observe
// the swap on their next event.
type Service struct {
	mu  sync.Mutex
	cfg Config

	root atomic.Value // zerolog.Logger

	file *os.File
}

// New sets the zerolog globals, builds the service and applies cfg.
// The returned Logger follows the service root across later Apply calls.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	s := &Service{cfg: cfg}

	// Bootstrap console root; Apply replaces it with the configured sinks.
	s.root.Store(newConsoleRoot(parseLevel(cfg.Level, zerolog.InfoLevel)))
	s.Apply(cfg)

	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if v := s.root.Load(); v != nil {
		if zl, ok := v.(zerolog.Logger); ok {
			return zl
		}
	}
	return zerolog.Nop()
}

// Logger returns a live logger bound to the service root.
func (s *Service) Logger() Logger { return Logger{svc: s} }

// Close releases the file sink, if one is open.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	if f != nil {
		_ = f.Close()
	}
	return nil
}

// Apply rebuilds the sink stack from cfg and swaps in a new root.
// Safe for concurrent use; in-flight loggers pick up the new root on
// their next event.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	writers := make([]io.Writer, 0, 2)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(Stdout()))
	}
	if cfg.File.Enabled {
		if f := openFileSink(cfg.File.Path); f != nil {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	// At least one sink stays attached even when the file section is
	// misconfigured.
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(Stdout()))
	}

	lvl := parseLevel(cfg.Level, zerolog.InfoLevel)
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	s.root.Store(zl)
}

func openFileSink(path string) *os.File {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "./pland.log"
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logx: failed opening log file %q: %v\n", path, err)
		return nil
	}
	return f
}

func newConsoleRoot(lvl zerolog.Level) zerolog.Logger {
	return zerolog.New(newConsoleWriter(Stdout())).Level(lvl).With().Timestamp().Logger()
}

func newConsoleWriter(w io.Writer) io.Writer {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	// Caller is pre-formatted as file:line; bypass the default trimming.
	cw.FormatCaller = func(i interface{}) string {
		s, _ := i.(string)
		return s
	}
	return cw
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

// Stdout returns the writer console sinks attach to.
func Stdout() io.Writer { return os.Stdout }

// Stderr returns the writer used for last-resort diagnostics.
func Stderr() io.Writer { return os.Stderr }
