// Package logbuf keeps a bounded in-memory tail of the daemon's logs
// for the /api/logs endpoint.
package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is a single log entry captured from slog.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Buffer is a thread-safe ring of the most recent log entries.
type Buffer struct {
	mu   sync.Mutex
	ring []Entry
	next int
	full bool
}

// New creates a buffer that retains up to size entries.
func New(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{ring: make([]Entry, size)}
}

// Write appends an entry, evicting the oldest when full.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	b.ring[b.next] = e
	b.next++
	if b.next == len(b.ring) {
		b.next = 0
		b.full = true
	}
	b.mu.Unlock()
}

// Len returns the number of retained entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.ring)
	}
	return b.next
}

// Query returns entries at or above minLevel and not before since,
// oldest first. A zero since matches everything; limit <= 0 means no
// limit, otherwise the newest matching entries win.
func (b *Buffer) Query(since time.Time, minLevel slog.Level, limit int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.next
	start := 0
	if b.full {
		n = len(b.ring)
		start = b.next
	}

	var out []Entry
	for i := 0; i < n; i++ {
		e := b.ring[(start+i)%len(b.ring)]
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		if levelFromString(e.Level) < minLevel {
			continue
		}
		out = append(out, e)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func levelFromString(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
