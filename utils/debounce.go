package utils

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Debouncer absorbs repeated triggers of the same key inside a window.
// The first trigger passes, later ones are dropped until the window elapses.
type Debouncer struct {
	keys   map[string]*debounceEntry
	mutex  sync.Mutex
	window time.Duration
}

type debounceEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewDebouncer creates a debouncer with the given window
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		keys:   make(map[string]*debounceEntry),
		window: window,
	}
}

// Allow reports whether a trigger for key should run
func (d *Debouncer) Allow(key string) bool {
	if d.window <= 0 {
		return true
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()

	now := time.Now()
	entry, exists := d.keys[key]
	if !exists {
		entry = &debounceEntry{limiter: rate.NewLimiter(rate.Every(d.window), 1)}
		d.keys[key] = entry
	}
	entry.lastSeen = now
	d.pruneLocked(now)
	return entry.limiter.AllowN(now, 1)
}

// pruneLocked drops keys idle for more than ten windows
func (d *Debouncer) pruneLocked(now time.Time) {
	if len(d.keys) < 64 {
		return
	}
	for key, entry := range d.keys {
		if now.Sub(entry.lastSeen) > 10*d.window {
			delete(d.keys, key)
		}
	}
}
