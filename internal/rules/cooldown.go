package rules

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CooldownTracker remembers the last alert time per (rule, grouping key) so a
// sustained anomaly produces one alert per cooldown instead of an alert
// storm. Backed by an LRU so churn-prone grouping keys cannot grow the
// tracker without bound.
type CooldownTracker struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
}

// NewCooldownTracker creates a cooldown tracker with a bounded capacity
func NewCooldownTracker(capacity int) *CooldownTracker {
	cache, _ := lru.New[string, time.Time](capacity)
	return &CooldownTracker{cache: cache}
}

// ShouldEmit reports whether an alert for (ruleID, groupingKey) is outside
// the cooldown, and records the alert time when it is. Check and record are
// one atomic step so concurrent deliveries cannot double-emit.
func (ct *CooldownTracker) ShouldEmit(ruleID, groupingKey string, now time.Time, cooldown time.Duration) bool {
	key := windowKey(ruleID, groupingKey)

	ct.mu.Lock()
	defer ct.mu.Unlock()

	if last, ok := ct.cache.Get(key); ok {
		if now.Sub(last) < cooldown {
			return false
		}
	}

	ct.cache.Add(key, now)
	return true
}

// ResetRule forgets cooldown state for a rule
func (ct *CooldownTracker) ResetRule(ruleID string) {
	prefix := ruleID + "\x00"

	ct.mu.Lock()
	defer ct.mu.Unlock()

	for _, key := range ct.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			ct.cache.Remove(key)
		}
	}
}

// Len returns the number of tracked cooldown keys
func (ct *CooldownTracker) Len() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.cache.Len()
}
