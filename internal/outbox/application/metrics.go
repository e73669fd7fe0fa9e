package application

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const meterName = "github.com/davicafu/eventrelay/outbox"

func defaultMeter() metric.Meter {
	return otel.Meter(meterName)
}

// workerMetrics son los contadores del Publisher. Sin MeterProvider
// configurado, otel los resuelve a no-op.
type workerMetrics struct {
	published metric.Int64Counter
	failed    metric.Int64Counter
}

func newWorkerMetrics(meter metric.Meter, log *zap.Logger) workerMetrics {
	published, err := meter.Int64Counter("outbox.published",
		metric.WithDescription("Envelopes confirmed by the broker and marked published"),
		metric.WithUnit("{envelope}"))
	if err != nil {
		log.Warn("⚠️ No se pudo crear la métrica outbox.published", zap.Error(err))
		published = noop.Int64Counter{}
	}
	failed, err := meter.Int64Counter("outbox.failed",
		metric.WithDescription("Send attempts that failed and were counted against the envelope"),
		metric.WithUnit("{envelope}"))
	if err != nil {
		log.Warn("⚠️ No se pudo crear la métrica outbox.failed", zap.Error(err))
		failed = noop.Int64Counter{}
	}
	return workerMetrics{published: published, failed: failed}
}

func (m workerMetrics) record(ctx context.Context, res CycleResult) {
	if res.Published > 0 {
		m.published.Add(ctx, int64(res.Published))
	}
	if res.Failed > 0 {
		m.failed.Add(ctx, int64(res.Failed))
	}
}

// RegisterMetrics publica como gauges la última foto calculada por Check.
// No consulta el almacenamiento: el valor lo refresca Start o cada petición
// de health.
func (m *HealthMonitor) RegisterMetrics(meter metric.Meter) (metric.Registration, error) {
	pending, err := meter.Int64ObservableGauge("outbox.pending",
		metric.WithDescription("Envelopes not yet published"),
		metric.WithUnit("{envelope}"))
	if err != nil {
		return nil, err
	}
	failing, err := meter.Int64ObservableGauge("outbox.failing",
		metric.WithDescription("Pending envelopes at or above the failure threshold"),
		metric.WithUnit("{envelope}"))
	if err != nil {
		return nil, err
	}
	oldest, err := meter.Float64ObservableGauge("outbox.oldest_pending_age",
		metric.WithDescription("Age of the oldest pending envelope"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := m.last.Load()
		if snap == nil {
			return nil
		}
		o.ObserveInt64(pending, snap.PendingCount)
		o.ObserveInt64(failing, snap.FailedCount)
		o.ObserveFloat64(oldest, snap.OldestPendingAge.Seconds())
		return nil
	}, pending, failing, oldest)
}
