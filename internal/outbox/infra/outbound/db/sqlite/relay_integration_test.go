package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/outbox/application"
	"github.com/davicafu/eventrelay/internal/outbox/domain"
	"github.com/davicafu/eventrelay/internal/schema"
	"github.com/davicafu/eventrelay/internal/shared/events"
	"github.com/davicafu/eventrelay/internal/shared/infra/platform/bus"
	"github.com/davicafu/eventrelay/tests/mocks"
)

// Ingesta -> SQLite -> Publisher -> broker, con el SQL real.
func TestRelay_EndToEndOverSQLite(t *testing.T) {
	repo, ctx := newRepo(t)
	ingest := application.NewIngestionService(repo, schema.DefaultRegistry(), zap.NewNop())
	broker := &mocks.RecordingBus{}
	worker := application.NewOutboxWorker(repo, broker, application.WorkerConfig{BatchSize: 50, TopicPrefix: "chat"}, zap.NewNop())

	agg := uuid.New()
	payloads := []struct {
		eventType string
		priority  int
		body      string
	}{
		{events.StreamStartedType, 0, `{"stream_id":"` + agg.String() + `","host_id":"` + uuid.NewString() + `","title":"live"}`},
		{events.StreamEndedType, 1, `{"stream_id":"` + agg.String() + `","host_id":"` + uuid.NewString() + `","duration_secs":42}`},
	}
	var want []string
	for _, p := range payloads {
		res, err := ingest.Submit(ctx, application.SubmitRequest{
			EventType: p.eventType, AggregateID: agg.String(), Payload: []byte(p.body), Priority: p.priority,
		})
		require.NoError(t, err)
		want = append(want, res.EventID.String())
	}

	res, err := worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Published)

	sent := broker.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, want, []string{sent[0].Headers[events.HeaderEventID], sent[1].Headers[events.HeaderEventID]})
	assert.Equal(t, "chat.stream.started", sent[0].Topic)

	wire, err := events.DecodeEnvelope(sent[1].Value)
	require.NoError(t, err)
	evt, err := events.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, int64(42), evt.(events.StreamEnded).DurationSecs)

	stats, err := repo.PendingStats(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
}

func TestRelay_OutageKeepsRowsPendingOverSQLite(t *testing.T) {
	repo, ctx := newRepo(t)
	env := newEnv(t, uuid.New(), events.NotificationCreatedType, events.PriorityCritical, time.Now().Add(-time.Second))
	require.NoError(t, repo.Insert(ctx, env))

	failing := &mocks.RecordingBus{FailWith: func(bus.Message) error { return errors.New("leader not available") }}
	worker := application.NewOutboxWorker(repo, failing, application.WorkerConfig{BatchSize: 10}, zap.NewNop())
	monitor := application.NewHealthMonitor(repo, domain.DefaultHealthThresholds(), nil, 0, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := worker.ProcessBatch(ctx)
		require.NoError(t, err)
	}

	got, err := repo.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].RetryCount)
	assert.Equal(t, "leader not available", *got[0].LastError)

	snap, err := monitor.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.PendingCount)
	assert.GreaterOrEqual(t, snap.OldestPendingAge, time.Second)
}
