package watcher

import (
	"sort"
	"sync"
	"time"
)

// debouncer collapses bursts of filesystem events into one batch. Paths
// accumulate in a pending set; a single long-lived timer is re-armed on
// every new event and fires once no event has arrived for a full
// interval, draining the whole set at once.
type debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	pending  map[string]time.Time
	flush    func(paths []string)
	stopped  bool
}

func newDebouncer(interval time.Duration, flush func(paths []string)) *debouncer {
	d := &debouncer{
		interval: interval,
		pending:  make(map[string]time.Time),
		flush:    flush,
	}
	d.timer = time.AfterFunc(interval, d.fire)
	d.timer.Stop()
	return d
}

// Record notes an event for path and pushes the batch deadline out by a
// full interval.
func (d *debouncer) Record(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending[path] = time.Now()
	d.timer.Reset(d.interval)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := d.pending
	d.pending = make(map[string]time.Time)
	d.mu.Unlock()

	paths := make([]string, 0, len(batch))
	for path := range batch {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	d.flush(paths)
}

// Stop cancels the timer and discards any pending events.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.timer.Stop()
	d.pending = make(map[string]time.Time)
}
