package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"blackbox/internal/logger"
)

// StdoutLogger writes audit entries to standard output as JSON lines.
type StdoutLogger struct {
	config *Config
	mu     sync.Mutex
}

// NewStdoutLogger creates a StdoutLogger.
func NewStdoutLogger(cfg *Config) *StdoutLogger {
	return &StdoutLogger{config: cfg}
}

// Log marshals entry to JSON and prints it. A no-op when auditing is disabled.
func (l *StdoutLogger) Log(_ context.Context, entry *Entry) error {
	if !l.config.Enabled {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	fmt.Println("[AUDIT]", string(data))
	return nil
}

// Close is a no-op for StdoutLogger.
func (l *StdoutLogger) Close() error { return nil }

// FileLogger appends audit entries to a file, one JSON object per line.
type FileLogger struct {
	config *Config
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

// NewFileLogger opens (creating if needed) cfg.FilePath for append.
func NewFileLogger(cfg *Config) (*FileLogger, error) {
	path := cfg.FilePath
	if path == "" {
		path = "audit.log"
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log file: %w", err)
	}
	return &FileLogger{config: cfg, file: file, writer: bufio.NewWriter(file)}, nil
}

// Log appends entry as a JSON line, flushing immediately: audit entries are
// rare (one per deploy/spindown/optimize), buffering across calls isn't worth
// the risk of losing the last few entries on a crash.
func (l *FileLogger) Log(_ context.Context, entry *Entry) error {
	if !l.config.Enabled {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	return l.writer.Flush()
}

// Close flushes and closes the underlying file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		logger.Log.Warn("failed to flush audit writer", "error", err)
	}
	return l.file.Close()
}

// New builds the Logger cfg selects, defaulting to stdout for an unknown backend.
func New(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return &NoopLogger{}, nil
	}
	switch cfg.Backend {
	case "file":
		return NewFileLogger(cfg)
	case "stdout", "":
		return NewStdoutLogger(cfg), nil
	default:
		logger.Log.Warn("unknown audit backend, using stdout", "backend", cfg.Backend)
		return NewStdoutLogger(cfg), nil
	}
}

// NoopLogger discards every entry.
type NoopLogger struct{}

func (l *NoopLogger) Log(_ context.Context, _ *Entry) error { return nil }
func (l *NoopLogger) Close() error                          { return nil }

var (
	globalLogger Logger = &NoopLogger{}
	globalMu     sync.RWMutex
)

// SetGlobal installs the process-wide audit logger.
func SetGlobal(l Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Get returns the process-wide audit logger.
func Get() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// LogEntry records entry with the process-wide audit logger.
func LogEntry(ctx context.Context, entry *Entry) error {
	return Get().Log(ctx, entry)
}
