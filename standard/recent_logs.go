// Package standard provides the client's logging side channel and
// connectivity bookkeeping.
package standard

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry.
type LogLevel string

const (
	LevelError LogLevel = "ERROR"
	LevelWarn  LogLevel = "WARN"
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
)

// LogEntry represents a single log entry.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp" yaml:"timestamp"`
	Level     LogLevel               `json:"level" yaml:"level"`
	Message   string                 `json:"message" yaml:"message"`
	Context   map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
}

// RecentLogs keeps the last N structured log entries and forwards every entry
// to an slog.Logger.
type RecentLogs struct {
	mu          sync.Mutex
	entries     []LogEntry
	maxEntries  int
	logger      *slog.Logger
	triggerFunc func(LogEntry) // Called on Error/Warn
}

// NewRecentLogs creates a new RecentLogs tracker. A nil logger discards output.
func NewRecentLogs(maxEntries int, logger *slog.Logger) *RecentLogs {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RecentLogs{
		entries:    make([]LogEntry, 0, maxEntries),
		maxEntries: maxEntries,
		logger:     logger,
	}
}

// NewLogger builds the slog.Logger used across the client.
// format is "text" or "json"; level is DEBUG, INFO, WARN or ERROR.
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func ParseLevel(level string) slog.Level {
	switch LogLevel(strings.ToUpper(level)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetTriggerFunc sets the function to call on Error/Warn.
func (r *RecentLogs) SetTriggerFunc(fn func(LogEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggerFunc = fn
}

// Log adds a log entry with context.
func (r *RecentLogs) Log(level LogLevel, message string, fields map[string]interface{}) LogEntry {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   fields,
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	// Keep only last N entries (ringbuffer)
	if len(r.entries) > r.maxEntries {
		r.entries = r.entries[len(r.entries)-r.maxEntries:]
	}
	r.mu.Unlock()

	r.logger.Log(context.Background(), slogLevel(level), message, attrs(fields)...)
	return entry
}

// Error logs an error message with context and fires the trigger.
func (r *RecentLogs) Error(message string, fields map[string]interface{}) {
	r.fire(r.Log(LevelError, message, fields))
}

// Warn logs a warning message with context and fires the trigger.
func (r *RecentLogs) Warn(message string, fields map[string]interface{}) {
	r.fire(r.Log(LevelWarn, message, fields))
}

// Info logs an info message with context.
func (r *RecentLogs) Info(message string, fields map[string]interface{}) {
	r.Log(LevelInfo, message, fields)
}

// Debug logs a debug message with context.
func (r *RecentLogs) Debug(message string, fields map[string]interface{}) {
	r.Log(LevelDebug, message, fields)
}

// ErrorNoTrigger logs an error WITHOUT firing the trigger.
// Use this from the trigger's own code path to avoid feedback loops.
func (r *RecentLogs) ErrorNoTrigger(message string, fields map[string]interface{}) {
	r.Log(LevelError, message, fields)
}

func (r *RecentLogs) fire(entry LogEntry) {
	r.mu.Lock()
	triggerFunc := r.triggerFunc
	r.mu.Unlock()

	if triggerFunc != nil {
		triggerFunc(entry)
	}
}

// Entries returns a copy of the buffered entries, oldest first.
func (r *RecentLogs) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// GetData returns the buffered entries with per-level counts.
func (r *RecentLogs) GetData() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errorCount, warnCount, infoCount, debugCount int
	for _, entry := range r.entries {
		switch entry.Level {
		case LevelError:
			errorCount++
		case LevelWarn:
			warnCount++
		case LevelInfo:
			infoCount++
		case LevelDebug:
			debugCount++
		}
	}

	entries := make([]LogEntry, len(r.entries))
	copy(entries, r.entries)

	return map[string]interface{}{
		"entries": entries,
		"stats": map[string]interface{}{
			"total_count":    len(entries),
			"errors_count":   errorCount,
			"warnings_count": warnCount,
			"info_count":     infoCount,
			"debug_count":    debugCount,
			"max_entries":    r.maxEntries,
		},
	}
}

func slogLevel(level LogLevel) slog.Level {
	return ParseLevel(string(level))
}

func attrs(fields map[string]interface{}) []any {
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
