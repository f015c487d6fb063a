package errtrack

import (
	"sync"
	"time"
)

// counterKey identifies one error stream.
type counterKey struct {
	typ string
	msg string
}

// counter tracks occurrences of one key.
type counter struct {
	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

// counterTable is the in-memory occurrence table. All access goes
// through its mutex; the lock is held only for the map update, never
// across I/O.
type counterTable struct {
	mu       sync.Mutex
	window   time.Duration
	counters map[counterKey]*counter
}

func newCounterTable(window time.Duration) *counterTable {
	return &counterTable{
		window:   window,
		counters: make(map[counterKey]*counter),
	}
}

// observe records one occurrence at now and returns the resulting
// in-window count with its first/last-seen bounds. An occurrence
// arriving more than window after the previous one restarts the
// counter, so the returned count is always a windowed count.
func (t *counterTable) observe(key counterKey, now time.Time) (count int, firstSeen, lastSeen time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.counters[key]
	if !ok || now.Sub(c.lastSeen) > t.window {
		c = &counter{count: 1, firstSeen: now, lastSeen: now}
		t.counters[key] = c
		return c.count, c.firstSeen, c.lastSeen
	}

	c.count++
	c.lastSeen = now
	return c.count, c.firstSeen, c.lastSeen
}

// evictBefore drops counters whose last occurrence is older than
// cutoff and returns the count evicted.
func (t *counterTable) evictBefore(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for key, c := range t.counters {
		if c.lastSeen.Before(cutoff) {
			delete(t.counters, key)
			evicted++
		}
	}
	return evicted
}

// size returns the number of live counters.
func (t *counterTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counters)
}
