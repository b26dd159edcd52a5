// Package audit keeps an append-only record of privileged actions.
package audit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Action tokens written to the log.
const (
	ActionSaveFile     = "SAVE_FILE"
	ActionCreateFile   = "CREATE_FILE"
	ActionCreateFolder = "CREATE_FOLDER"
	ActionDeleteNode   = "DELETE_NODE"
	ActionKillProcess  = "KILL_PROCESS"
)

const (
	DefaultTail  = 5
	queueSize    = 256
	timestampFmt = "2006-01-02T15:04:05.000Z07:00"
)

var ErrClosed = errors.New("audit log closed")

// PowerAction returns the token for a power action, e.g. POWER_SHUTDOWN.
func PowerAction(action string) string {
	return "POWER_" + strings.ToUpper(action)
}

// Log appends "<timestamp> <ACTION>" lines to a flat file. Writes happen on a
// single background goroutine so callers never wait on disk.
type Log struct {
	path   string
	now    func() time.Time
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan string
	done   chan struct{}
}

// New opens an audit log at path and starts its writer.
func New(path string, logger zerolog.Logger) *Log {
	return NewWithClock(path, logger, func() time.Time { return time.Now().UTC() })
}

// NewWithClock creates a Log with a custom clock.
func NewWithClock(path string, logger zerolog.Logger, now func() time.Time) *Log {
	if now == nil {
		panic("audit: nil clock")
	}
	if path == "" {
		panic("audit: empty path")
	}
	l := &Log{
		path:   path,
		now:    now,
		logger: logger.With().Str("component", "audit").Logger(),
		queue:  make(chan string, queueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Path returns the file the log writes to.
func (l *Log) Path() string {
	return l.path
}

// Record queues one action. Failures are logged and never returned.
func (l *Log) Record(action string) {
	line := l.now().UTC().Format(timestampFmt) + " " + action

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.logger.Warn().Str("action", action).Err(ErrClosed).Msg("audit entry dropped")
		return
	}
	select {
	case l.queue <- line:
	default:
		l.logger.Warn().Str("action", action).Msg("audit queue full, entry dropped")
	}
}

// Close flushes queued entries and stops the writer.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

func (l *Log) run() {
	defer close(l.done)
	for line := range l.queue {
		if err := l.appendLine(line); err != nil {
			l.logger.Error().Err(err).Msg("audit write failed")
		}
	}
}

func (l *Log) appendLine(line string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Tail returns the newest n entries, oldest first. A missing or unreadable
// file yields an empty slice.
func (l *Log) Tail(n int) []string {
	return Tail(l.path, n)
}

// Tail reads the last n non-empty lines of the log file at path.
func Tail(path string, n int) []string {
	if n <= 0 {
		n = DefaultTail
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return []string{}
	}

	lines := make([]string, 0, n)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
