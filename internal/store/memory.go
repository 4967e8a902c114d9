package store

import (
	"container/ring"
	"sync"

	"github.com/j0ons/SafeNest/internal/model"
)

// AlertStore provides thread-safe in-memory retention of recent alerts for
// the operator API. Old alerts fall off the ring once capacity is reached;
// the security log is the durable record.
type AlertStore struct {
	mu        sync.RWMutex
	alerts    *ring.Ring
	maxAlerts int
	total     int64
}

// NewAlertStore creates an alert store with the given capacity
func NewAlertStore(maxAlerts int) *AlertStore {
	return &AlertStore{
		alerts:    ring.New(maxAlerts),
		maxAlerts: maxAlerts,
	}
}

// Add appends an alert to the ring buffer
func (s *AlertStore) Add(alert *model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts.Value = alert
	s.alerts = s.alerts.Next()
	s.total++
}

// GetAlerts returns all retained alerts in chronological order (oldest first)
func (s *AlertStore) GetAlerts() []*model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var alerts []*model.Alert
	s.alerts.Do(func(value interface{}) {
		if alert, ok := value.(*model.Alert); ok {
			alerts = append(alerts, alert)
		}
	})

	return alerts
}

// GetAlertsBySeverity returns retained alerts with the given severity
func (s *AlertStore) GetAlertsBySeverity(severity model.Severity) []*model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var alerts []*model.Alert
	s.alerts.Do(func(value interface{}) {
		if alert, ok := value.(*model.Alert); ok && alert.Severity == severity {
			alerts = append(alerts, alert)
		}
	})

	return alerts
}

// Stats returns store statistics
func (s *AlertStore) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	retained := 0
	s.alerts.Do(func(value interface{}) {
		if value != nil {
			retained++
		}
	})

	return map[string]interface{}{
		"retained_alerts": retained,
		"total_alerts":    s.total,
		"max_alerts":      s.maxAlerts,
	}
}
