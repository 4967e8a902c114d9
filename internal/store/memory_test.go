package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j0ons/SafeNest/internal/model"
)

func TestAlertStore_AddAndGet(t *testing.T) {
	s := NewAlertStore(10)

	s.Add(&model.Alert{ID: "a-1", Severity: model.SeverityWarning})
	s.Add(&model.Alert{ID: "a-2", Severity: model.SeverityCritical})

	alerts := s.GetAlerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, "a-1", alerts[0].ID)
	assert.Equal(t, "a-2", alerts[1].ID)
}

func TestAlertStore_CapacityEviction(t *testing.T) {
	s := NewAlertStore(3)

	for i := 1; i <= 5; i++ {
		s.Add(&model.Alert{ID: fmt.Sprintf("a-%d", i)})
	}

	// Only the three most recent survive, oldest first
	alerts := s.GetAlerts()
	require.Len(t, alerts, 3)
	assert.Equal(t, "a-3", alerts[0].ID)
	assert.Equal(t, "a-4", alerts[1].ID)
	assert.Equal(t, "a-5", alerts[2].ID)
}

func TestAlertStore_GetAlertsBySeverity(t *testing.T) {
	s := NewAlertStore(10)

	s.Add(&model.Alert{ID: "w-1", Severity: model.SeverityWarning})
	s.Add(&model.Alert{ID: "c-1", Severity: model.SeverityCritical})
	s.Add(&model.Alert{ID: "w-2", Severity: model.SeverityWarning})

	critical := s.GetAlertsBySeverity(model.SeverityCritical)
	require.Len(t, critical, 1)
	assert.Equal(t, "c-1", critical[0].ID)

	warnings := s.GetAlertsBySeverity(model.SeverityWarning)
	assert.Len(t, warnings, 2)
}

func TestAlertStore_Stats(t *testing.T) {
	s := NewAlertStore(3)

	stats := s.Stats()
	assert.Equal(t, 0, stats["retained_alerts"])
	assert.Equal(t, int64(0), stats["total_alerts"])
	assert.Equal(t, 3, stats["max_alerts"])

	for i := 0; i < 5; i++ {
		s.Add(&model.Alert{ID: fmt.Sprintf("a-%d", i)})
	}

	stats = s.Stats()
	assert.Equal(t, 3, stats["retained_alerts"])
	assert.Equal(t, int64(5), stats["total_alerts"])
}
