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
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/outbox/domain"
	"github.com/davicafu/eventrelay/internal/shared/events"
	"github.com/davicafu/eventrelay/internal/shared/infra/platform/bus"
	"github.com/davicafu/eventrelay/tests/mocks"
)

func insert(t *testing.T, repo *mocks.InMemoryOutboxRepo, env domain.Envelope) domain.Envelope {
	t.Helper()
	require.NoError(t, repo.Insert(context.Background(), &env))
	return env
}

func sentIDs(msgs []bus.Message) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.Headers[events.HeaderEventID])
	}
	return ids
}

// Tres eventos del mismo agregado, con prioridades mezcladas, salen en orden de creación.
func TestOutboxWorker_PublishesAggregateInCreationOrder(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	broker := &mocks.RecordingBus{}
	agg := uuid.New()
	t0 := time.Now().Add(-time.Minute)

	created := insert(t, repo, pendingEnvelope(t, agg, events.MessageCreatedType, events.PriorityCritical, t0))
	edited := insert(t, repo, pendingEnvelope(t, agg, events.MessageEditedType, events.PriorityNormal, t0.Add(time.Second)))
	deleted := insert(t, repo, pendingEnvelope(t, agg, events.MessageDeletedType, events.PriorityHigh, t0.Add(2*time.Second)))

	worker := NewOutboxWorker(repo, broker, testConfig(), zap.NewNop())
	res, err := worker.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Published)

	sent := broker.Sent()
	assert.Equal(t, []string{created.ID.String(), edited.ID.String(), deleted.ID.String()}, sentIDs(sent))
	for _, m := range sent {
		assert.Equal(t, agg.String(), m.Key)
	}
	for _, row := range repo.All() {
		assert.NotNil(t, row.PublishedAt)
		assert.Zero(t, row.RetryCount)
	}
}

// Un evento pendiente más nuevo pero más urgente no adelanta a los anteriores de su agregado.
func TestOutboxWorker_OrderHoldsAcrossBatchBoundaries(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	broker := &mocks.RecordingBus{}
	agg := uuid.New()
	t0 := time.Now().Add(-time.Minute)

	var older []domain.Envelope
	for i := 0; i < 5; i++ {
		older = append(older, insert(t, repo, pendingEnvelope(t, agg, events.PostUpdatedType, events.PriorityLow, t0.Add(time.Duration(i)*time.Second))))
	}
	urgent := insert(t, repo, pendingEnvelope(t, agg, events.PostCreatedType, events.PriorityCritical, t0.Add(10*time.Second)))

	cfg := testConfig()
	cfg.BatchSize = 1
	worker := NewOutboxWorker(repo, broker, cfg, zap.NewNop())

	// Un sobre por ciclo: primero el atraso del agregado, el urgente al final.
	for i := 0; i < 6; i++ {
		res, err := worker.ProcessBatch(context.Background())
		require.NoError(t, err)
		assert.LessOrEqual(t, res.Selected, 1)
	}

	want := make([]string, 0, 6)
	for _, e := range older {
		want = append(want, e.ID.String())
	}
	want = append(want, urgent.ID.String())
	assert.Equal(t, want, sentIDs(broker.Sent()))
}

// Broker caído: los sobres siguen pendientes con retry_count y last_error; al volver, salen.
func TestOutboxWorker_KeepsEnvelopesPendingUntilBrokerRecovers(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	var down sync.Mutex
	outage := true
	broker := &mocks.RecordingBus{FailWith: func(bus.Message) error {
		down.Lock()
		defer down.Unlock()
		if outage {
			return errors.New("broker unreachable")
		}
		return nil
	}}
	env := insert(t, repo, pendingEnvelope(t, uuid.New(), events.NotificationCreatedType, events.PriorityCritical, time.Now().Add(-time.Second)))

	worker := NewOutboxWorker(repo, broker, testConfig(), zap.NewNop())
	monitor := NewHealthMonitor(repo, domain.DefaultHealthThresholds(), nil, 0, zap.NewNop())

	_, err := worker.ProcessBatch(context.Background())
	require.NoError(t, err)

	row, err := repo.Get(env.ID)
	require.NoError(t, err)
	assert.Nil(t, row.PublishedAt)
	assert.Equal(t, 1, row.RetryCount)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "broker unreachable")

	snap, err := monitor.Check(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snap.PendingCount, int64(1))
	assert.Positive(t, snap.OldestPendingAge)

	down.Lock()
	outage = false
	down.Unlock()

	_, err = worker.ProcessBatch(context.Background())
	require.NoError(t, err)

	row, _ = repo.Get(env.ID)
	assert.NotNil(t, row.PublishedAt)
	assert.Equal(t, 1, row.RetryCount, "retry_count never decreases")
	assert.Len(t, broker.Sent(), 1)
}

// Con backlog de baja prioridad, los críticos salen en el primer lote.
func TestOutboxWorker_CriticalEventsJumpTheBacklog(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	broker := &mocks.RecordingBus{}
	t0 := time.Now().Add(-time.Hour)

	for i := 0; i < 150; i++ {
		insert(t, repo, pendingEnvelope(t, uuid.New(), events.PostUpdatedType, events.PriorityNormal, t0.Add(time.Duration(i)*time.Millisecond)))
	}
	var critical []domain.Envelope
	for i := 0; i < 5; i++ {
		critical = append(critical, insert(t, repo, pendingEnvelope(t, uuid.New(), events.MessageCreatedType, events.PriorityCritical, time.Now())))
	}

	cfg := testConfig()
	cfg.BatchSize = 100
	worker := NewOutboxWorker(repo, broker, cfg, zap.NewNop())

	res, err := worker.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, res.Selected)

	for _, c := range critical {
		row, err := repo.Get(c.ID)
		require.NoError(t, err)
		assert.NotNil(t, row.PublishedAt, "critical event %s must be in the first batch", c.ID)
	}

	stats, err := repo.PendingStats(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(55), stats.Count)
}

// Marcar dos veces no cambia published_at.
func TestOutboxRepo_MarkPublishedIsNoOpOnPublishedRows(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	env := insert(t, repo, pendingEnvelope(t, uuid.New(), events.StreamStartedType, events.PriorityCritical, time.Now()))
	ctx := context.Background()
	first := time.Now().Add(-time.Minute)

	require.NoError(t, repo.MarkPublished(ctx, env.ID, first))
	assert.ErrorIs(t, repo.MarkPublished(ctx, env.ID, time.Now()), domain.ErrEnvelopeNotPending)
	assert.ErrorIs(t, repo.MarkFailed(ctx, env.ID, "late failure"), domain.ErrEnvelopeNotPending)

	row, _ := repo.Get(env.ID)
	assert.True(t, row.PublishedAt.Equal(first.UTC()))
	assert.Zero(t, row.RetryCount)
}

// Apagado con envío colgado: pasado el margen, el sobre sigue pendiente y sin intento contado.
func TestOutboxWorker_ShutdownGraceLeavesEnvelopePending(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	broker := &mocks.RecordingBus{Block: make(chan struct{})}
	env := insert(t, repo, pendingEnvelope(t, uuid.New(), events.MessageCreatedType, events.PriorityCritical, time.Now()))

	cfg := testConfig()
	cfg.ShutdownGrace = 50 * time.Millisecond
	cfg.SendTimeout = time.Minute
	worker := NewOutboxWorker(repo, broker, cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond) // el envío ya está en vuelo
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop within the grace period")
	}

	row, _ := repo.Get(env.ID)
	assert.Nil(t, row.PublishedAt)
	assert.Zero(t, row.RetryCount)
	assert.Empty(t, broker.Sent())
}

// Apagado con margen suficiente: el lote en curso termina y se marca.
func TestOutboxWorker_ShutdownLetsInFlightBatchFinish(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	broker := &mocks.RecordingBus{Block: make(chan struct{})}
	env := insert(t, repo, pendingEnvelope(t, uuid.New(), events.MessageCreatedType, events.PriorityCritical, time.Now()))

	cfg := testConfig()
	cfg.ShutdownGrace = 5 * time.Second
	worker := NewOutboxWorker(repo, broker, cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(broker.Block)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	row, _ := repo.Get(env.ID)
	assert.NotNil(t, row.PublishedAt)
	assert.Len(t, broker.Sent(), 1)
}

func TestOutboxWorker_StartDrainsBacklogWithoutWaiting(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	broker := &mocks.RecordingBus{}
	for i := 0; i < 25; i++ {
		insert(t, repo, pendingEnvelope(t, uuid.New(), events.SearchIndexUpdatedType, events.PriorityLow, time.Now()))
	}

	cfg := testConfig()
	cfg.BatchSize = 10
	cfg.Interval = time.Hour
	worker := NewOutboxWorker(repo, broker, cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Start(ctx)

	assert.Eventually(t, func() bool {
		published, _ := worker.Totals()
		return published == 25
	}, 2*time.Second, 10*time.Millisecond)
	_, failed := worker.Totals()
	assert.Zero(t, failed)
	assert.Len(t, broker.Sent(), 25)
}
