// Package watch implements the log watcher / auto-blocker: it consumes
// security log and broker log lines, extracts offending source addresses,
// and drives deduplicated firewall enforcement through the block registry.
package watch

import (
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/j0ons/SafeNest/internal/block"
	"github.com/j0ons/SafeNest/internal/config"
	"github.com/j0ons/SafeNest/internal/metrics"
	"github.com/j0ons/SafeNest/internal/model"
	"github.com/j0ons/SafeNest/internal/seclog"
)

// Class is a watcher-side classification of a security-relevant log line
type Class string

const (
	ClassAuthFailure  Class = "auth_failure"
	ClassDoS          Class = "dos"
	ClassUnauthorized Class = "unauthorized"
)

// Signature sets for free-text matching. These cover the broker's own log
// lines as well as this system's structured alerts, so enforcement works
// even when only the broker log is available.
var (
	authFailurePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)authentication failed`),
		regexp.MustCompile(`(?i)bad username or password`),
		regexp.MustCompile(`(?i)not authori[sz]ed`),
		regexp.MustCompile(`(?i)connection refused`),
	}
	dosPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)DOS_ATTACK_DETECTED`),
		regexp.MustCompile(`(?i)message flooding`),
		regexp.MustCompile(`(?i)rate limit exceeded`),
	}
	unauthorizedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)UNAUTHORIZED_`),
		regexp.MustCompile(`(?i)ACL_VIOLATION`),
		regexp.MustCompile(`(?i)ACL denied`),
	}

	addressPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
)

// Config holds the watcher's blocking thresholds
type Config struct {
	AuthFailureThreshold  int
	UnauthorizedThreshold int
	Window                time.Duration
	Source                string
	EventCacheSize        int
}

// DefaultConfig returns the stock thresholds: three failed authentications
// or five unauthorized-access events within five minutes, or a single DoS
// detection, trigger a block.
func DefaultConfig() Config {
	return Config{
		AuthFailureThreshold:  3,
		UnauthorizedThreshold: 5,
		Window:                5 * time.Minute,
		Source:                "logwatcher",
		EventCacheSize:        4096,
	}
}

// Notifier publishes a best-effort notice when an address is blocked
type Notifier interface {
	PublishBlockNotice(entry *model.BlockEntry) error
}

type addressEvent struct {
	at    time.Time
	class Class
}

// Watcher analyzes log lines and blocks offending addresses. Logically
// single-threaded per log source; ProcessLine serializes internally so
// multiple tailers can feed one watcher.
type Watcher struct {
	cfg       Config
	registry  *block.Registry
	fw        block.Firewall
	whitelist *config.Whitelist
	notifier  Notifier
	metrics   *metrics.WatcherMetrics
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	events *lru.Cache[string, []addressEvent]
}

// NewWatcher creates a log watcher
func NewWatcher(cfg Config, registry *block.Registry, fw block.Firewall, whitelist *config.Whitelist, m *metrics.WatcherMetrics, logger *slog.Logger) *Watcher {
	if cfg.EventCacheSize <= 0 {
		cfg.EventCacheSize = DefaultConfig().EventCacheSize
	}
	events, _ := lru.New[string, []addressEvent](cfg.EventCacheSize)

	return &Watcher{
		cfg:       cfg,
		registry:  registry,
		fw:        fw,
		whitelist: whitelist,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
		events:    events,
	}
}

// SetNotifier registers the optional block notifier
func (w *Watcher) SetNotifier(n Notifier) {
	w.notifier = n
}

// ProcessLine analyzes one log line. A failure processing one line never
// stops consumption of subsequent lines; this method does not return errors.
func (w *Watcher) ProcessLine(source, line string) {
	if w.metrics != nil {
		w.metrics.IncLinesProcessed(source)
	}

	class, address, ok := w.classify(line)
	if !ok {
		return
	}

	if address == "" {
		w.logger.Debug("Security event without resolvable address", "source", source, "class", class)
		return
	}

	if w.whitelist.Contains(address) {
		w.logger.Debug("Whitelisted address exempt from blocking", "address", address)
		return
	}

	if w.metrics != nil {
		w.metrics.IncSecurityEvents(string(class))
	}

	now := w.now()
	reason := w.record(address, class, now)
	if reason == "" {
		return
	}

	w.enforce(address, reason, now)
}

// classify determines whether a line is security-relevant and extracts the
// offending address. Structured security log lines are preferred; raw broker
// lines fall back to signature matching over the free text.
func (w *Watcher) classify(line string) (Class, string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", "", false
	}

	if strings.HasPrefix(trimmed, "{") {
		ll, err := seclog.ParseLine([]byte(trimmed))
		if err != nil {
			w.logger.Warn("Skipping unparsable structured log line", "error", err)
			if w.metrics != nil {
				w.metrics.IncLinesUnparsed()
			}
			return "", "", false
		}

		class, ok := classForEventType(ll.EventType)
		if !ok {
			// Structured but not alert-worthy (informational entries).
			return "", "", false
		}

		address := ll.SourceAddress
		if address == "" {
			address = extractAddress(ll.Message)
		}
		return class, address, true
	}

	for _, p := range dosPatterns {
		if p.MatchString(trimmed) {
			return ClassDoS, extractAddress(trimmed), true
		}
	}
	for _, p := range authFailurePatterns {
		if p.MatchString(trimmed) {
			return ClassAuthFailure, extractAddress(trimmed), true
		}
	}
	for _, p := range unauthorizedPatterns {
		if p.MatchString(trimmed) {
			return ClassUnauthorized, extractAddress(trimmed), true
		}
	}

	return "", "", false
}

// record appends an event for the address and returns a block reason once a
// threshold is crossed, or "" when no action is due
func (w *Watcher) record(address string, class Class, now time.Time) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	events, _ := w.events.Get(address)
	cutoff := now.Add(-w.cfg.Window)

	kept := events[:0]
	for _, ev := range events {
		if ev.at.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	kept = append(kept, addressEvent{at: now, class: class})
	w.events.Add(address, kept)

	var authFailures, dosEvents, unauthorized int
	for _, ev := range kept {
		switch ev.class {
		case ClassAuthFailure:
			authFailures++
		case ClassDoS:
			dosEvents++
		case ClassUnauthorized:
			unauthorized++
		}
	}

	switch {
	case dosEvents >= 1:
		// A single DoS detection is enough; the detector already applied
		// its own threshold.
		return "DoS attack detected"
	case authFailures >= w.cfg.AuthFailureThreshold:
		return fmt.Sprintf("%d authentication failures", authFailures)
	case unauthorized >= w.cfg.UnauthorizedThreshold:
		return fmt.Sprintf("%d unauthorized access attempts", unauthorized)
	}
	return ""
}

// enforce blocks the address unless the registry already knows it. Firewall
// failure leaves no registry entry, so the next qualifying detection retries.
func (w *Watcher) enforce(address, reason string, now time.Time) {
	if w.registry.IsBlocked(address) {
		w.registry.Touch(address, now)
		return
	}

	if err := w.fw.Block(address); err != nil {
		w.logger.Error("Firewall block failed, will retry on next trigger",
			"address", address, "reason", reason, "error", err)
		if w.metrics != nil {
			w.metrics.IncBlockFailures()
		}
		return
	}

	entry := w.registry.RecordBlock(address, reason, w.cfg.Source, now)

	if w.metrics != nil {
		w.metrics.IncBlocksIssued()
		w.metrics.SetBlockedAddresses(float64(w.registry.Len()))
	}

	w.logger.Info("Address blocked", "address", address, "reason", reason)

	if w.notifier != nil {
		if err := w.notifier.PublishBlockNotice(entry); err != nil {
			w.logger.Debug("Could not publish block notice", "error", err)
		}
	}
}

// classForEventType maps structured alert event types onto watcher classes
func classForEventType(eventType string) (Class, bool) {
	upper := strings.ToUpper(eventType)
	switch {
	case upper == "":
		return "", false
	case strings.Contains(upper, "DOS"):
		return ClassDoS, true
	case strings.Contains(upper, "AUTH_FAILURE"):
		return ClassAuthFailure, true
	case strings.Contains(upper, "UNAUTHORIZED"), strings.Contains(upper, "ACL"):
		return ClassUnauthorized, true
	}
	return "", false
}

// extractAddress pulls the first valid IPv4 address out of free text
func extractAddress(text string) string {
	for _, candidate := range addressPattern.FindAllString(text, -1) {
		if net.ParseIP(candidate) != nil {
			return candidate
		}
	}
	return ""
}
