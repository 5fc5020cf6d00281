package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/akarpov/vulnlab/internal/domain"
)

// TurnLogConfig configures the per-session conversation log. When
// GlobalPath is set, every entry is additionally appended to that single
// file across all users and sessions.
type TurnLogConfig struct {
	Enabled    bool
	Dir        string
	GlobalPath string
	QueueSize  int
}

// TurnLogEntry is one NDJSON line in a session's conversation log.
// Timestamp, Type and Text are filled in by the logger.
type TurnLogEntry struct {
	Timestamp string          `json:"timestamp"`
	UserID    string          `json:"user_id"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"type,omitempty"`
	Text      string          `json:"text,omitempty"`
	Message   *domain.Message `json:"message,omitempty"`
}

// TurnLogger appends conversation records to per-session NDJSON files
// under dir/<user_id>/<session_id>.ndjson. Writes happen on a background
// goroutine; entries are dropped rather than blocking the query stream
// when the queue is full.
type TurnLogger struct {
	cfg    TurnLogConfig
	logger *slog.Logger

	queue chan TurnLogEntry
	wg    sync.WaitGroup
}

// NewTurnLogger creates the logger and starts its writer. Returns nil
// when logging is disabled; a nil *TurnLogger is safe to use.
func NewTurnLogger(cfg TurnLogConfig, logger *slog.Logger) (*TurnLogger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("conversation log dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	tl := &TurnLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan TurnLogEntry, cfg.QueueSize),
	}
	tl.wg.Add(1)
	go tl.run()
	return tl, nil
}

// Log enqueues one entry. It never blocks.
func (tl *TurnLogger) Log(entry TurnLogEntry) {
	if tl == nil {
		return
	}
	entry.Timestamp = now()
	if entry.Message != nil {
		entry.Type = string(entry.Message.Type)
		entry.Text = readableText(entry.Message.FirstText())
	}
	select {
	case tl.queue <- entry:
	default:
		tl.logger.Warn("conversation log queue full, dropping entry",
			"session_id", entry.SessionID)
	}
}

// Close stops the writer after draining queued entries.
func (tl *TurnLogger) Close() error {
	if tl == nil {
		return nil
	}
	close(tl.queue)
	tl.wg.Wait()
	return nil
}

func (tl *TurnLogger) run() {
	defer tl.wg.Done()
	for entry := range tl.queue {
		if err := tl.write(entry); err != nil {
			tl.logger.Warn("failed to write conversation log entry",
				"session_id", entry.SessionID, "error", err)
		}
	}
}

func (tl *TurnLogger) write(entry TurnLogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	dir := filepath.Join(tl.cfg.Dir, pathComponent(entry.UserID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, pathComponent(entry.SessionID)+".ndjson")
	if err := appendLine(path, line); err != nil {
		return err
	}

	if tl.cfg.GlobalPath != "" {
		if err := appendLine(tl.cfg.GlobalPath, line); err != nil {
			return err
		}
	}
	return nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(line)
	return err
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// readableText strips ANSI escapes and control characters so the text
// field stays greppable even when tool output carries terminal codes.
func readableText(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

func pathComponent(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, s)
}
