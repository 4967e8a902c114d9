package rules

import (
	"strings"
	"sync"
	"time"
)

// WindowStore maintains per-(rule, grouping key) sliding windows of event
// timestamps with lazy eviction and periodic garbage collection. Mutation is
// serialized per key so a flood on one topic cannot block unrelated keys.
type WindowStore struct {
	mu       sync.RWMutex
	windows  map[string]*keyWindow
	maxIdle  time.Duration
	gcTicker *time.Ticker
	stopGC   chan struct{}
}

// keyWindow holds the recent timestamps for a single grouping key
type keyWindow struct {
	mu        sync.Mutex
	times     []time.Time
	lastTouch time.Time
}

// NewWindowStore creates a window store. Keys untouched for longer than
// maxIdle are reclaimed by the GC sweep.
func NewWindowStore(maxIdle time.Duration) *WindowStore {
	return &WindowStore{
		windows: make(map[string]*keyWindow),
		maxIdle: maxIdle,
	}
}

// windowKey builds the composite map key for a rule and grouping key
func windowKey(ruleID, groupingKey string) string {
	return ruleID + "\x00" + groupingKey
}

// Record appends a timestamp to the window for (ruleID, groupingKey) and
// evicts entries that have aged past the horizon.
func (ws *WindowStore) Record(ruleID, groupingKey string, ts time.Time, horizon time.Duration) {
	kw := ws.getOrCreate(windowKey(ruleID, groupingKey))

	kw.mu.Lock()
	defer kw.mu.Unlock()

	kw.times = append(kw.times, ts)
	kw.lastTouch = ts
	kw.evict(ts.Add(-horizon))
}

// Count returns the number of recorded timestamps within the horizon,
// evicting expired entries first.
func (ws *WindowStore) Count(ruleID, groupingKey string, now time.Time, horizon time.Duration) int {
	ws.mu.RLock()
	kw, exists := ws.windows[windowKey(ruleID, groupingKey)]
	ws.mu.RUnlock()

	if !exists {
		return 0
	}

	kw.mu.Lock()
	defer kw.mu.Unlock()

	cutoff := now.Add(-horizon)
	kw.evict(cutoff)

	// Timestamps are non-decreasing per key in practice, but an out-of-order
	// delivery must still be counted correctly, so count by comparison
	// rather than by slice position.
	count := 0
	for _, t := range kw.times {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

// ResetRule drops all window state held for a rule. Used when a reload
// changes the rule's definition.
func (ws *WindowStore) ResetRule(ruleID string) {
	prefix := ruleID + "\x00"

	ws.mu.Lock()
	defer ws.mu.Unlock()

	for key := range ws.windows {
		if strings.HasPrefix(key, prefix) {
			delete(ws.windows, key)
		}
	}
}

// ActiveWindows returns the number of live grouping keys
func (ws *WindowStore) ActiveWindows() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.windows)
}

// StartGC starts the garbage collection routine
func (ws *WindowStore) StartGC(gcInterval time.Duration) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.gcTicker != nil {
		return
	}

	ws.gcTicker = time.NewTicker(gcInterval)
	ws.stopGC = make(chan struct{})

	go ws.gcRoutine(ws.gcTicker, ws.stopGC)
}

// StopGC stops the garbage collection routine
func (ws *WindowStore) StopGC() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.gcTicker != nil {
		ws.gcTicker.Stop()
		ws.gcTicker = nil
	}

	if ws.stopGC != nil {
		close(ws.stopGC)
		ws.stopGC = nil
	}
}

// GC removes windows whose keys have been idle longer than maxIdle. Bounds
// memory when grouping keys churn (ephemeral client identifiers).
func (ws *WindowStore) GC(now time.Time) {
	cutoff := now.Add(-ws.maxIdle)

	ws.mu.Lock()
	defer ws.mu.Unlock()

	for key, kw := range ws.windows {
		kw.mu.Lock()
		idle := kw.lastTouch.Before(cutoff)
		kw.mu.Unlock()

		if idle {
			delete(ws.windows, key)
		}
	}
}

func (ws *WindowStore) getOrCreate(key string) *keyWindow {
	ws.mu.RLock()
	kw, exists := ws.windows[key]
	ws.mu.RUnlock()

	if exists {
		return kw
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	if kw, exists = ws.windows[key]; exists {
		return kw
	}

	kw = &keyWindow{}
	ws.windows[key] = kw
	return kw
}

// evict drops expired timestamps. The common case is a sorted prefix of
// expired entries; out-of-order timestamps trigger a full compaction scan
// instead of being assumed away. Caller holds kw.mu.
func (kw *keyWindow) evict(cutoff time.Time) {
	i := 0
	for i < len(kw.times) && !kw.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		kw.times = append(kw.times[:0], kw.times[i:]...)
	}

	for _, t := range kw.times {
		if !t.After(cutoff) {
			kept := kw.times[:0]
			for _, ts := range kw.times {
				if ts.After(cutoff) {
					kept = append(kept, ts)
				}
			}
			kw.times = kept
			break
		}
	}
}

func (ws *WindowStore) gcRoutine(ticker *time.Ticker, stopChan chan struct{}) {
	for {
		select {
		case <-ticker.C:
			ws.GC(time.Now())
		case <-stopChan:
			return
		}
	}
}
