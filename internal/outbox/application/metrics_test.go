package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/embedded"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/outbox/domain"
	"github.com/davicafu/eventrelay/internal/shared/events"
	"github.com/davicafu/eventrelay/internal/shared/infra/platform/bus"
	"github.com/davicafu/eventrelay/tests/mocks"
)

type countingCounter struct {
	noop.Int64Counter
	mu    sync.Mutex
	total int64
}

func (c *countingCounter) Add(_ context.Context, n int64, _ ...metric.AddOption) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total += n
}

func (c *countingCounter) value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// recordingMeter guarda los contadores creados y el callback registrado.
type recordingMeter struct {
	noop.Meter
	counters map[string]*countingCounter
	gauges   map[string]any
	callback metric.Callback
}

func newRecordingMeter() *recordingMeter {
	return &recordingMeter{counters: map[string]*countingCounter{}, gauges: map[string]any{}}
}

func (m *recordingMeter) Int64Counter(name string, _ ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	c := &countingCounter{}
	m.counters[name] = c
	return c, nil
}

func (m *recordingMeter) Int64ObservableGauge(name string, _ ...metric.Int64ObservableGaugeOption) (metric.Int64ObservableGauge, error) {
	g := &namedInt64Gauge{name: name}
	m.gauges[name] = g
	return g, nil
}

func (m *recordingMeter) Float64ObservableGauge(name string, _ ...metric.Float64ObservableGaugeOption) (metric.Float64ObservableGauge, error) {
	g := &namedFloat64Gauge{name: name}
	m.gauges[name] = g
	return g, nil
}

func (m *recordingMeter) RegisterCallback(f metric.Callback, _ ...metric.Observable) (metric.Registration, error) {
	m.callback = f
	return noop.Registration{}, nil
}

type namedInt64Gauge struct {
	noop.Int64ObservableGauge
	name string
}

type namedFloat64Gauge struct {
	noop.Float64ObservableGauge
	name string
}

type recordingObserver struct {
	embedded.Observer
	values map[string]float64
}

func (o *recordingObserver) ObserveInt64(obs metric.Int64Observable, v int64, _ ...metric.ObserveOption) {
	o.values[obs.(*namedInt64Gauge).name] = float64(v)
}

func (o *recordingObserver) ObserveFloat64(obs metric.Float64Observable, v float64, _ ...metric.ObserveOption) {
	o.values[obs.(*namedFloat64Gauge).name] = v
}

func TestOutboxWorker_CountsPublishedAndFailed(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	bad := uuid.New()
	broker := &mocks.RecordingBus{FailWith: func(m bus.Message) error {
		if m.Key == bad.String() {
			return errors.New("broker unreachable")
		}
		return nil
	}}
	insert(t, repo, pendingEnvelope(t, uuid.New(), events.PostCreatedType, events.PriorityNormal, time.Now()))
	insert(t, repo, pendingEnvelope(t, uuid.New(), events.PostCreatedType, events.PriorityNormal, time.Now()))
	insert(t, repo, pendingEnvelope(t, bad, events.PostCreatedType, events.PriorityNormal, time.Now()))

	meter := newRecordingMeter()
	worker := NewOutboxWorker(repo, broker, testConfig(), zap.NewNop(), WithMeter(meter))

	_, err := worker.ProcessBatch(context.Background())
	require.NoError(t, err)

	require.Contains(t, meter.counters, "outbox.published")
	require.Contains(t, meter.counters, "outbox.failed")
	assert.Equal(t, int64(2), meter.counters["outbox.published"].value())
	assert.Equal(t, int64(1), meter.counters["outbox.failed"].value())
}

func TestHealthMonitor_RegisterMetricsReportsLastSnapshot(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	now := time.Now()
	insert(t, repo, pendingEnvelope(t, uuid.New(), events.PostCreatedType, events.PriorityNormal, now.Add(-90*time.Second)))
	insert(t, repo, pendingEnvelope(t, uuid.New(), events.PostCreatedType, events.PriorityNormal, now))

	monitor := NewHealthMonitor(repo, domain.DefaultHealthThresholds(), nil, 0, zap.NewNop())
	monitor.now = func() time.Time { return now }

	meter := newRecordingMeter()
	_, err := monitor.RegisterMetrics(meter)
	require.NoError(t, err)
	require.NotNil(t, meter.callback)

	// Sin ninguna comprobación todavía no se observa nada.
	obs := &recordingObserver{values: map[string]float64{}}
	require.NoError(t, meter.callback(context.Background(), obs))
	assert.Empty(t, obs.values)

	_, err = monitor.Check(context.Background())
	require.NoError(t, err)

	require.NoError(t, meter.callback(context.Background(), obs))
	assert.Equal(t, float64(2), obs.values["outbox.pending"])
	assert.Equal(t, float64(0), obs.values["outbox.failing"])
	assert.InDelta(t, 90, obs.values["outbox.oldest_pending_age"], 1)
}

func TestHealthMonitor_RegisterMetricsWithNoopMeter(t *testing.T) {
	monitor := NewHealthMonitor(mocks.NewInMemoryOutboxRepo(), domain.DefaultHealthThresholds(), nil, 0, zap.NewNop())
	reg, err := monitor.RegisterMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	assert.NoError(t, reg.Unregister())
}
