package rules

import (
	"fmt"
	"log/slog"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/j0ons/SafeNest/internal/config"
	"github.com/j0ons/SafeNest/internal/metrics"
	"github.com/j0ons/SafeNest/internal/model"
)

// AlertPublisher publishes alerts to the live alert channel on the bus
type AlertPublisher interface {
	PublishAlert(a *model.Alert) error
}

// AlertLogger appends alerts to the durable security log
type AlertLogger interface {
	WriteAlert(a *model.Alert) error
}

const (
	defaultWindowMaxIdle    = 10 * time.Minute
	defaultCooldownCapacity = 100000
	globalGroupingKey       = "global"
)

// Engine is the detection engine. OnEvent is the single entry point, called
// for every bus delivery; it updates the window store, evaluates the loaded
// rules, and emits alerts to the bus channel and the security log.
type Engine struct {
	loader    *Loader
	windows   *WindowStore
	cooldowns *CooldownTracker
	publisher AlertPublisher
	alertLog  AlertLogger
	whitelist *config.Whitelist
	metrics   *metrics.DetectorMetrics
	logger    *slog.Logger
	onAlert   func(*model.Alert)
	now       func() time.Time

	mu       sync.RWMutex
	snapshot *RuleSnapshot
}

// NewEngine creates a detection engine over the given rule loader. The
// publisher may fail at any time without affecting detection; the alert log
// append is the contract with the log watcher and is attempted regardless.
func NewEngine(loader *Loader, publisher AlertPublisher, alertLog AlertLogger, whitelist *config.Whitelist, m *metrics.DetectorMetrics, logger *slog.Logger) *Engine {
	e := &Engine{
		loader:    loader,
		windows:   NewWindowStore(defaultWindowMaxIdle),
		cooldowns: NewCooldownTracker(defaultCooldownCapacity),
		publisher: publisher,
		alertLog:  alertLog,
		whitelist: whitelist,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
	e.snapshot = loader.GetSnapshot()
	if m != nil {
		m.SetRulesLoaded(float64(len(e.snapshot.Rules)))
	}
	return e
}

// SetOnAlert registers a hook invoked for every emitted alert (e.g. the
// operator API's alert store)
func (e *Engine) SetOnAlert(fn func(*model.Alert)) {
	e.onAlert = fn
}

// StartGC starts the window store garbage collection routine
func (e *Engine) StartGC(gcInterval time.Duration) {
	e.windows.StartGC(gcInterval)
}

// StopGC stops the window store garbage collection routine
func (e *Engine) StopGC() {
	e.windows.StopGC()
}

// WatchRules applies rule reloads until the stop channel closes. Window and
// cooldown state is reset only for rules whose definition changed.
func (e *Engine) WatchRules(stop <-chan struct{}) {
	changes := e.loader.Subscribe()
	for {
		select {
		case <-changes:
			e.applySnapshot(e.loader.GetSnapshot())
		case <-stop:
			return
		}
	}
}

// OnEvent evaluates every matching rule against one event. A malformed
// event, a rule missing its grouping key, or a downstream publish failure
// never affects processing of the next event.
func (e *Engine) OnEvent(ev *model.Event) {
	if ev == nil || ev.Kind == "" {
		if e.metrics != nil {
			e.metrics.IncEventsInvalid()
		}
		return
	}

	start := time.Now()

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}

	e.mu.RLock()
	snapshot := e.snapshot
	e.mu.RUnlock()

	for i := range snapshot.Rules {
		e.evaluateRule(&snapshot.Rules[i], ev, ts)
	}

	if e.metrics != nil {
		e.metrics.IncEventsProcessed()
		e.metrics.ObserveEventDuration(time.Since(start).Seconds())
		e.metrics.SetActiveWindows(float64(e.windows.ActiveWindows()))
	}
}

// evaluateRule runs a single rule against an event
func (e *Engine) evaluateRule(rule *Rule, ev *model.Event, ts time.Time) {
	if !rule.MatchesKind(ev.Kind) {
		return
	}
	if !rule.Match.Matches(ev.Topic, ev.Payload) {
		return
	}

	groupingKey, ok := groupingKeyFor(rule, ev)
	if !ok {
		// The event cannot supply this rule's grouping key; skip the rule,
		// not the event.
		return
	}

	observed := 1
	if rule.Kind != KindSingleEvent {
		e.windows.Record(rule.ID, groupingKey, ts, rule.Window())
		observed = e.windows.Count(rule.ID, groupingKey, ts, rule.Window())
		if observed < rule.Threshold {
			return
		}
	}

	if e.whitelist.Contains(ev.SourceKey) {
		e.logger.Debug("Alert suppressed for whitelisted source",
			"rule_id", rule.ID, "source", ev.SourceKey)
		return
	}

	if !e.cooldowns.ShouldEmit(rule.ID, groupingKey, ts, rule.Cooldown()) {
		if e.metrics != nil {
			e.metrics.IncAlertsSuppressed()
		}
		return
	}

	e.emit(rule, ev, groupingKey, observed, ts)
}

// emit builds and delivers an alert. The security log append happens first
// and independently of the live channel publish: the log watcher still
// enforces even when the bus path is down.
func (e *Engine) emit(rule *Rule, ev *model.Event, groupingKey string, observed int, ts time.Time) {
	alert := &model.Alert{
		ID:            uuid.NewString(),
		Severity:      rule.Severity,
		EventType:     rule.EventType,
		RuleID:        rule.ID,
		GroupingKey:   groupingKey,
		Topic:         ev.Topic,
		SourceAddress: resolveAddress(ev.SourceKey),
		ObservedCount: observed,
		WindowSeconds: rule.WindowSeconds,
		Timestamp:     ts.UTC(),
		Message:       alertMessage(rule, ev, observed),
	}

	if e.alertLog != nil {
		if err := e.alertLog.WriteAlert(alert); err != nil {
			e.logger.Error("Failed to append alert to security log",
				"rule_id", rule.ID, "error", err)
		}
	}

	if e.publisher != nil {
		if err := e.publisher.PublishAlert(alert); err != nil {
			e.logger.Warn("Failed to publish alert to bus",
				"rule_id", rule.ID, "error", err)
			if e.metrics != nil {
				e.metrics.IncPublishFailures()
			}
		}
	}

	if e.onAlert != nil {
		e.onAlert(alert)
	}

	if e.metrics != nil {
		e.metrics.IncAlertsEmitted(string(alert.Severity))
	}

	e.logger.Info("Alert emitted",
		"alert_id", alert.ID,
		"rule_id", rule.ID,
		"event_type", alert.EventType,
		"severity", alert.Severity,
		"grouping_key", groupingKey,
		"observed_count", observed)
}

// applySnapshot swaps in a new rule snapshot, resetting state for rules that
// changed or disappeared
func (e *Engine) applySnapshot(next *RuleSnapshot) {
	e.mu.Lock()
	prev := e.snapshot
	e.snapshot = next
	e.mu.Unlock()

	prevByID := make(map[string]Rule, len(prev.Rules))
	for _, r := range prev.Rules {
		r.SourceFile = ""
		prevByID[r.ID] = r
	}

	nextIDs := make(map[string]struct{}, len(next.Rules))
	for _, r := range next.Rules {
		nextIDs[r.ID] = struct{}{}
		old, existed := prevByID[r.ID]
		r.SourceFile = ""
		if existed && reflect.DeepEqual(old, r) {
			continue
		}
		e.windows.ResetRule(r.ID)
		e.cooldowns.ResetRule(r.ID)
		if existed {
			e.logger.Info("Rule changed, state reset", "rule_id", r.ID)
		}
	}

	for id := range prevByID {
		if _, still := nextIDs[id]; !still {
			e.windows.ResetRule(id)
			e.cooldowns.ResetRule(id)
			e.logger.Info("Rule removed, state dropped", "rule_id", id)
		}
	}

	if e.metrics != nil {
		e.metrics.SetRulesLoaded(float64(len(next.Rules)))
	}
}

// groupingKeyFor computes the rule's grouping key from the event, reporting
// whether the event can supply it
func groupingKeyFor(rule *Rule, ev *model.Event) (string, bool) {
	switch rule.GroupBy {
	case GroupByTopic:
		if ev.Topic == "" {
			return "", false
		}
		return ev.Topic, true
	case GroupBySource:
		if ev.SourceKey == "" {
			return "", false
		}
		return ev.SourceKey, true
	case GroupByTopicSource:
		if ev.Topic == "" || ev.SourceKey == "" {
			return "", false
		}
		return ev.Topic + "|" + ev.SourceKey, true
	case GroupByGlobal:
		return globalGroupingKey, true
	}
	return "", false
}

// resolveAddress returns the source key only when it is a usable network
// address; client identifiers stay out of the blockable address field
func resolveAddress(sourceKey string) string {
	if sourceKey == "" {
		return ""
	}
	if net.ParseIP(sourceKey) == nil {
		return ""
	}
	return sourceKey
}

func alertMessage(rule *Rule, ev *model.Event, observed int) string {
	switch rule.Kind {
	case KindSingleEvent:
		return fmt.Sprintf("%s on topic %s", rule.EventType, ev.Topic)
	case KindACLDenial:
		return fmt.Sprintf("%s: %d denied attempts within %ds (source %s)",
			rule.EventType, observed, rule.WindowSeconds, ev.SourceKey)
	default:
		return fmt.Sprintf("%s on topic %s: %d messages within %ds",
			rule.EventType, ev.Topic, observed, rule.WindowSeconds)
	}
}
