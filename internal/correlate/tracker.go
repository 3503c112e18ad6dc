package correlate

import (
	"sync"
	"time"
)

type toolCallEntry struct {
	start    time.Time
	inserted time.Time
}

// Tracker is the Tool-Call Tracker: an in-flight map of tool-call id to start
// time, capped in size and TTL-swept, used to backfill tool_end durations.
type Tracker struct {
	mu          sync.Mutex
	entries     map[string]*toolCallEntry
	order       []string // insertion order, for oldest-eviction
	cap         int
	ttl         time.Duration
	onEvict     func(id string)
	onDupWarn   func(id string)
	onSkewWarn  func(id string)
}

func NewTracker(cap int, ttl time.Duration) *Tracker {
	return &Tracker{
		entries: make(map[string]*toolCallEntry),
		cap:     cap,
		ttl:     ttl,
	}
}

// OnDuplicate registers a callback invoked when Start overwrites an existing
// in-flight entry for the same id.
func (tr *Tracker) OnDuplicate(f func(id string)) { tr.onDupWarn = f }

// OnClockSkew registers a callback invoked when a computed duration would be
// negative.
func (tr *Tracker) OnClockSkew(f func(id string)) { tr.onSkewWarn = f }

// Start records a tool_start at time t. If id is already tracked, the entry
// is overwritten and onDupWarn fires. If the tracker is at capacity, the
// oldest entry (by insertion order) is evicted first.
func (tr *Tracker) Start(id string, t time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, exists := tr.entries[id]; exists {
		if tr.onDupWarn != nil {
			tr.onDupWarn(id)
		}
		tr.entries[id] = &toolCallEntry{start: t, inserted: t}
		return
	}

	if len(tr.entries) >= tr.cap && len(tr.order) > 0 {
		oldest := tr.order[0]
		tr.order = tr.order[1:]
		delete(tr.entries, oldest)
	}

	tr.entries[id] = &toolCallEntry{start: t, inserted: t}
	tr.order = append(tr.order, id)
}

// End looks up id's start time and returns the duration in milliseconds to
// backfill, removing the entry. ok is false if id was never tracked or the
// computed duration would be negative (clock skew guard; the skew callback
// fires and the entry is still removed).
func (tr *Tracker) End(id string, t time.Time) (durationMs int64, ok bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	entry, exists := tr.entries[id]
	if !exists {
		return 0, false
	}
	delete(tr.entries, id)
	tr.removeFromOrder(id)

	d := t.Sub(entry.start).Milliseconds()
	if d < 0 {
		if tr.onSkewWarn != nil {
			tr.onSkewWarn(id)
		}
		return 0, false
	}
	return d, true
}

func (tr *Tracker) removeFromOrder(id string) {
	for i, v := range tr.order {
		if v == id {
			tr.order = append(tr.order[:i], tr.order[i+1:]...)
			return
		}
	}
}

// Sweep drops entries older than the tracker's TTL as of now.
func (tr *Tracker) Sweep(now time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	cutoff := now.Add(-tr.ttl)
	var kept []string
	for _, id := range tr.order {
		entry := tr.entries[id]
		if entry.inserted.Before(cutoff) {
			delete(tr.entries, id)
			if tr.onEvict != nil {
				tr.onEvict(id)
			}
			continue
		}
		kept = append(kept, id)
	}
	tr.order = kept
}

// StartSweeper launches a periodic goroutine calling Sweep every interval.
// The returned function stops it.
func (tr *Tracker) StartSweeper(interval time.Duration) func() {
	stop := make(chan struct{})
	var once sync.Once
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				tr.Sweep(now)
			}
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}

// Len reports the number of in-flight entries. Test/diagnostic use.
func (tr *Tracker) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.entries)
}
