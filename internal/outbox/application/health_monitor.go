package application

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/outbox/domain"
	"github.com/davicafu/eventrelay/internal/shared/infra/platform/cache"
)

var healthCacheKey = cache.Key("outbox", "health")

// HealthMonitor responde cuánto backlog hay y qué tan viejo es. Solo lee.
type HealthMonitor struct {
	stats      domain.StatsReader
	thresholds domain.HealthThresholds
	cache      cache.Cache
	cacheTTL   int
	log        *zap.Logger
	now        func() time.Time
	last       atomic.Pointer[domain.HealthSnapshot]
}

// NewHealthMonitor: con c == nil o cacheTTL <= 0 cada consulta va al almacenamiento.
func NewHealthMonitor(stats domain.StatsReader, thresholds domain.HealthThresholds, c cache.Cache, cacheTTL int, log *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		stats:      stats,
		thresholds: thresholds,
		cache:      c,
		cacheTTL:   cacheTTL,
		log:        log,
		now:        time.Now,
	}
}

// Snapshot devuelve la foto cacheada si sigue viva; si no, la calcula.
func (m *HealthMonitor) Snapshot(ctx context.Context) (domain.HealthSnapshot, error) {
	if m.cachingEnabled() {
		var snap domain.HealthSnapshot
		hit, err := m.cache.Get(ctx, healthCacheKey, &snap)
		if err != nil {
			m.log.Warn("⚠️ Error leyendo health de caché", zap.Error(err))
		} else if hit {
			return snap, nil
		}
	}
	return m.Check(ctx)
}

// Check consulta siempre el almacenamiento y refresca la caché.
func (m *HealthMonitor) Check(ctx context.Context) (domain.HealthSnapshot, error) {
	stats, err := m.stats.PendingStats(ctx, m.thresholds.FailureThreshold)
	if err != nil {
		return domain.HealthSnapshot{}, fmt.Errorf("%w: pending stats: %v", domain.ErrStorage, err)
	}

	snap := domain.Evaluate(stats, m.now(), m.thresholds)
	m.last.Store(&snap)
	if m.cachingEnabled() {
		cache.AsyncCacheSet(m.cache, healthCacheKey, snap, m.cacheTTL, m.log)
	}
	return snap, nil
}

// Start comprueba el estado periódicamente y deja constancia en el log de
// cada cambio de nivel.
func (m *HealthMonitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := domain.HealthStatus("")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := m.Check(ctx)
			if err != nil {
				m.log.Warn("⚠️ Health check del outbox falló", zap.Error(err))
				continue
			}
			fields := []zap.Field{
				zap.String("status", string(snap.Status)),
				zap.Int64("pending_count", snap.PendingCount),
				zap.Duration("oldest_pending_age", snap.OldestPendingAge),
				zap.Int64("failed_count", snap.FailedCount),
			}
			switch {
			case snap.Status != last && snap.Status == domain.StatusHealthy:
				m.log.Info("💚 Outbox sano", fields...)
			case snap.Status != last:
				m.log.Warn("🚨 Cambio de estado del outbox", fields...)
			default:
				m.log.Debug("🩺 Outbox health", fields...)
			}
			last = snap.Status
		}
	}
}

func (m *HealthMonitor) cachingEnabled() bool {
	return m.cache != nil && m.cacheTTL > 0
}
