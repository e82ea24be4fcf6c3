// Package watcher re-syncs collections when their files change on disk.
// It backs the `update --watch` mode.
package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of keys: each key fires once, quietPeriod
// after its last arrival. Editors and git operations produce event storms;
// one sync per burst is enough.
type Debouncer struct {
	quietPeriod time.Duration
	fire        func(key string)

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewDebouncer creates a debouncer firing fire(key) after quietPeriod of
// silence for that key.
func NewDebouncer(quietPeriod time.Duration, fire func(key string)) *Debouncer {
	if quietPeriod <= 0 {
		quietPeriod = 500 * time.Millisecond
	}
	return &Debouncer{
		quietPeriod: quietPeriod,
		fire:        fire,
		timers:      make(map[string]*time.Timer),
	}
}

// Hit records an event for key, resetting its quiet period.
func (d *Debouncer) Hit(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if timer, ok := d.timers[key]; ok {
		timer.Reset(d.quietPeriod)
		return
	}
	d.timers[key] = time.AfterFunc(d.quietPeriod, func() {
		d.mu.Lock()
		delete(d.timers, key)
		closed := d.closed
		d.mu.Unlock()
		if !closed {
			d.fire(key)
		}
	})
}

// Close stops all pending timers; nothing fires afterwards.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
	}
}
