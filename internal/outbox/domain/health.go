package domain

import "time"

type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusCritical HealthStatus = "critical"
)

// HealthSnapshot es la foto del backlog en un instante.
type HealthSnapshot struct {
	PendingCount     int64         `json:"pending_count"`
	OldestPendingAge time.Duration `json:"oldest_pending_age"`
	FailedCount      int64         `json:"failed_count"`
	Status           HealthStatus  `json:"status"`
	CheckedAt        time.Time     `json:"checked_at"`
}

// HealthThresholds: se alcanza un nivel cuando cualquiera de sus límites se cumple.
type HealthThresholds struct {
	DegradedPending int64
	CriticalPending int64
	DegradedAge     time.Duration
	CriticalAge     time.Duration
	// FailureThreshold es el retry_count a partir del cual un sobre cuenta como fallido.
	FailureThreshold int
}

func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		DegradedPending:  1000,
		CriticalPending:  10000,
		DegradedAge:      30 * time.Second,
		CriticalAge:      5 * time.Minute,
		FailureThreshold: 10,
	}
}

// Evaluate clasifica unas estadísticas. Los sobres fallidos degradan como mínimo.
func Evaluate(stats PendingStats, now time.Time, th HealthThresholds) HealthSnapshot {
	snap := HealthSnapshot{
		PendingCount: stats.Count,
		FailedCount:  stats.FailingCount,
		Status:       StatusHealthy,
		CheckedAt:    now.UTC(),
	}
	if stats.OldestCreatedAt != nil && stats.Count > 0 {
		if age := now.Sub(*stats.OldestCreatedAt); age > 0 {
			snap.OldestPendingAge = age
		}
	}

	switch {
	case reached(snap.PendingCount, th.CriticalPending) || reached(int64(snap.OldestPendingAge), int64(th.CriticalAge)):
		snap.Status = StatusCritical
	case reached(snap.PendingCount, th.DegradedPending) || reached(int64(snap.OldestPendingAge), int64(th.DegradedAge)) || snap.FailedCount > 0:
		snap.Status = StatusDegraded
	}
	return snap
}

// Un límite a cero está desactivado.
func reached(v, limit int64) bool {
	return limit > 0 && v >= limit
}
