package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DetectorMetrics holds Prometheus collectors for the detection engine
type DetectorMetrics struct {
	eventsProcessed  prometheus.Counter
	eventsInvalid    prometheus.Counter
	alertsEmitted    *prometheus.CounterVec
	alertsSuppressed prometheus.Counter
	publishFailures  prometheus.Counter
	eventDuration    prometheus.Histogram
	rulesLoaded      prometheus.Gauge
	activeWindows    prometheus.Gauge
}

// NewDetectorMetrics creates and registers the detector metric set
func NewDetectorMetrics(reg prometheus.Registerer) *DetectorMetrics {
	factory := promauto.With(reg)

	return &DetectorMetrics{
		eventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "safenest_detector_events_processed_total",
			Help: "Total number of bus events processed",
		}),
		eventsInvalid: factory.NewCounter(prometheus.CounterOpts{
			Name: "safenest_detector_events_invalid_total",
			Help: "Total number of malformed bus events skipped",
		}),
		alertsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safenest_detector_alerts_emitted_total",
			Help: "Total number of alerts emitted, by severity",
		}, []string{"severity"}),
		alertsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "safenest_detector_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by cooldown",
		}),
		publishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "safenest_detector_publish_failures_total",
			Help: "Total number of failed alert channel publishes",
		}),
		eventDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "safenest_detector_event_processing_seconds",
			Help:    "Time spent processing a single event",
			Buckets: prometheus.ExponentialBuckets(0.000005, 4, 10),
		}),
		rulesLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "safenest_detector_rules_loaded",
			Help: "Number of detection rules currently loaded",
		}),
		activeWindows: factory.NewGauge(prometheus.GaugeOpts{
			Name: "safenest_detector_active_windows",
			Help: "Number of live sliding windows in the window store",
		}),
	}
}

func (m *DetectorMetrics) IncEventsProcessed()  { m.eventsProcessed.Inc() }
func (m *DetectorMetrics) IncEventsInvalid()    { m.eventsInvalid.Inc() }
func (m *DetectorMetrics) IncAlertsSuppressed() { m.alertsSuppressed.Inc() }
func (m *DetectorMetrics) IncPublishFailures()  { m.publishFailures.Inc() }

func (m *DetectorMetrics) IncAlertsEmitted(severity string) {
	m.alertsEmitted.WithLabelValues(severity).Inc()
}

func (m *DetectorMetrics) ObserveEventDuration(seconds float64) {
	m.eventDuration.Observe(seconds)
}

func (m *DetectorMetrics) SetRulesLoaded(n float64)   { m.rulesLoaded.Set(n) }
func (m *DetectorMetrics) SetActiveWindows(n float64) { m.activeWindows.Set(n) }

// WatcherMetrics holds Prometheus collectors for the log watcher
type WatcherMetrics struct {
	linesProcessed *prometheus.CounterVec
	linesUnparsed  prometheus.Counter
	securityEvents *prometheus.CounterVec
	blocksIssued   prometheus.Counter
	blockFailures  prometheus.Counter
	blockedTotal   prometheus.Gauge
	rotations      prometheus.Counter
}

// NewWatcherMetrics creates and registers the log watcher metric set
func NewWatcherMetrics(reg prometheus.Registerer) *WatcherMetrics {
	factory := promauto.With(reg)

	return &WatcherMetrics{
		linesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safenest_watcher_lines_processed_total",
			Help: "Total number of log lines consumed, by source",
		}, []string{"source"}),
		linesUnparsed: factory.NewCounter(prometheus.CounterOpts{
			Name: "safenest_watcher_lines_unparsed_total",
			Help: "Total number of log lines that matched no known format",
		}),
		securityEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safenest_watcher_security_events_total",
			Help: "Total number of classified security events, by class",
		}, []string{"class"}),
		blocksIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "safenest_watcher_blocks_issued_total",
			Help: "Total number of firewall blocks issued",
		}),
		blockFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "safenest_watcher_block_failures_total",
			Help: "Total number of failed firewall block commands",
		}),
		blockedTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "safenest_watcher_blocked_addresses",
			Help: "Number of addresses currently in the block registry",
		}),
		rotations: factory.NewCounter(prometheus.CounterOpts{
			Name: "safenest_watcher_log_rotations_total",
			Help: "Total number of log rotations detected",
		}),
	}
}

func (m *WatcherMetrics) IncLinesProcessed(source string) {
	m.linesProcessed.WithLabelValues(source).Inc()
}

func (m *WatcherMetrics) IncLinesUnparsed() { m.linesUnparsed.Inc() }

func (m *WatcherMetrics) IncSecurityEvents(class string) {
	m.securityEvents.WithLabelValues(class).Inc()
}

func (m *WatcherMetrics) IncBlocksIssued()  { m.blocksIssued.Inc() }
func (m *WatcherMetrics) IncBlockFailures() { m.blockFailures.Inc() }
func (m *WatcherMetrics) IncRotations()     { m.rotations.Inc() }

func (m *WatcherMetrics) SetBlockedAddresses(n float64) { m.blockedTotal.Set(n) }
