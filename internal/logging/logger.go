package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// FetchLog represents a single page-fetch log entry
type FetchLog struct {
	Timestamp  time.Time `json:"timestamp"`
	URL        string    `json:"url"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	FromCache  bool      `json:"from_cache"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Size       int       `json:"size,omitempty"`
	Fetches    int64     `json:"fetches,omitempty"`
}

// Logger handles fetch logging
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a fetch log entry
func (l *Logger) Log(entry *FetchLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	// Console output (human-readable)
	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		cached := ""
		if entry.FromCache {
			cached = " [cached]"
		}
		fmt.Printf("[fetch] %s %s %dms %dB%s\n",
			status, entry.URL, entry.DurationMs, entry.Size, cached)
		if entry.Error != "" {
			fmt.Printf("[fetch]   error: %s\n", entry.Error)
		}
	}

	// File output (JSON)
	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
