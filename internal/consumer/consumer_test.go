package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/outbox/domain"
	"github.com/davicafu/eventrelay/internal/schema"
	"github.com/davicafu/eventrelay/internal/shared/events"
)

func wireValue(t *testing.T, evt events.DomainEvent, at time.Time) (events.Envelope, []byte) {
	t.Helper()
	env, err := domain.FromDomainEvent(evt, at)
	require.NoError(t, err)
	w := env.Wire()
	raw, err := json.Marshal(w)
	require.NoError(t, err)
	return w, raw
}

func newConsumer(h Handler, d Deduper, opts ...Option) *IdempotentConsumer {
	versions := map[string]int{
		events.FollowAddedType: 1,
		events.PostCreatedType: 2,
	}
	return NewIdempotentConsumer(h, d, schema.DefaultRegistry(), versions, zap.NewNop(), opts...)
}

// La misma identidad entregada dos veces se aplica una vez.
func TestIdempotentConsumer_DuplicateAppliedOnce(t *testing.T) {
	var applied atomic.Int32
	c := newConsumer(HandlerFunc(func(context.Context, events.Envelope, events.DomainEvent) error {
		applied.Add(1)
		return nil
	}), NewInMemoryDeduper())

	_, raw := wireValue(t, events.FollowAdded{FollowerID: uuid.New(), FolloweeID: uuid.New()}, time.Now())
	ctx := context.Background()

	out, err := c.HandleMessage(ctx, "k", raw)
	require.NoError(t, err)
	assert.Equal(t, Processed, out)

	out, err = c.HandleMessage(ctx, "k", raw)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)

	assert.Equal(t, int32(1), applied.Load())
}

func TestIdempotentConsumer_FailureLeavesEventUnprocessed(t *testing.T) {
	calls := 0
	c := newConsumer(HandlerFunc(func(context.Context, events.Envelope, events.DomainEvent) error {
		calls++
		if calls == 1 {
			return errors.New("db down")
		}
		return nil
	}), NewInMemoryDeduper())

	_, raw := wireValue(t, events.FollowAdded{FollowerID: uuid.New(), FolloweeID: uuid.New()}, time.Now())

	out, err := c.HandleMessage(context.Background(), "k", raw)
	assert.Error(t, err)
	assert.Equal(t, Failed, out)

	out, err = c.HandleMessage(context.Background(), "k", raw)
	require.NoError(t, err)
	assert.Equal(t, Processed, out, "redelivery after a failure is processed")
	assert.Equal(t, 2, calls)
}

func TestIdempotentConsumer_CrashMidHandlerIsRedelivered(t *testing.T) {
	inbox := newSQLiteInbox(t, "notifier")
	_, raw := wireValue(t, events.FollowAdded{FollowerID: uuid.New(), FolloweeID: uuid.New()}, time.Now())
	ctx := context.Background()

	// El proceso cae dentro del handler, antes de terminar.
	crashing := newConsumer(HandlerFunc(func(context.Context, events.Envelope, events.DomainEvent) error {
		panic("process killed")
	}), inbox)
	assert.Panics(t, func() { _, _ = crashing.HandleMessage(ctx, "k", raw) })

	// Tras reiniciar, el mismo inbox no da el evento por visto.
	var applied atomic.Int32
	restarted := newConsumer(HandlerFunc(func(context.Context, events.Envelope, events.DomainEvent) error {
		applied.Add(1)
		return nil
	}), inbox)

	out, err := restarted.HandleMessage(ctx, "k", raw)
	require.NoError(t, err)
	assert.Equal(t, Processed, out)
	assert.Equal(t, int32(1), applied.Load())

	out, err = restarted.HandleMessage(ctx, "k", raw)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)
	assert.Equal(t, int32(1), applied.Load())
}

type failingMark struct{ *InMemoryDeduper }

func (failingMark) MarkProcessed(context.Context, uuid.UUID) error { return errors.New("inbox down") }

func TestIdempotentConsumer_MarkFailureIsRetried(t *testing.T) {
	c := newConsumer(HandlerFunc(func(context.Context, events.Envelope, events.DomainEvent) error {
		return nil
	}), failingMark{NewInMemoryDeduper()})

	_, raw := wireValue(t, events.FollowAdded{FollowerID: uuid.New(), FolloweeID: uuid.New()}, time.Now())
	out, err := c.HandleMessage(context.Background(), "k", raw)
	assert.Equal(t, Failed, out)
	assert.ErrorContains(t, err, "inbox down")
}

func TestIdempotentConsumer_Rejections(t *testing.T) {
	handled := false
	c := newConsumer(HandlerFunc(func(context.Context, events.Envelope, events.DomainEvent) error {
		handled = true
		return nil
	}), NewInMemoryDeduper())

	agg := uuid.New()
	future := events.Envelope{
		EventID:       uuid.New(),
		EventType:     events.FollowAddedType,
		AggregateID:   agg,
		SchemaVersion: 2,
		OccurredAt:    time.Now(),
		Data:          json.RawMessage(`{}`),
	}
	futureRaw, _ := json.Marshal(future)

	_, notSubscribed := wireValue(t, events.FollowRemoved{FollowerID: uuid.New(), FolloweeID: uuid.New()}, time.Now())

	badData := future
	badData.SchemaVersion = 1
	badData.Data = json.RawMessage(`[1,2]`)
	badRaw, _ := json.Marshal(badData)

	for name, raw := range map[string][]byte{
		"malformed":      []byte("{"),
		"newer version":  futureRaw,
		"not subscribed": notSubscribed,
		"bad payload":    badRaw,
	} {
		t.Run(name, func(t *testing.T) {
			out, err := c.HandleMessage(context.Background(), "k", raw)
			require.NoError(t, err)
			assert.Equal(t, Rejected, out)
		})
	}
	assert.False(t, handled, "rejected messages never reach the handler")
}

func TestIdempotentConsumer_ReadsOlderVersionUpgraded(t *testing.T) {
	var got events.PostCreated
	router := NewRouter()
	On(router, events.PostCreatedType, func(_ context.Context, _ events.Envelope, evt events.PostCreated) error {
		got = evt
		return nil
	})
	c := newConsumer(router, NewInMemoryDeduper())

	legacy := events.PostCreatedV1{PostID: uuid.New(), AuthorID: uuid.New(), Content: "hola"}
	_, raw := wireValue(t, legacy, time.Now())

	out, err := c.HandleMessage(context.Background(), "k", raw)
	require.NoError(t, err)
	assert.Equal(t, Processed, out)
	assert.Equal(t, legacy.PostID, got.PostID)
	assert.Equal(t, events.VisibilityPublic, got.Visibility)
}

func TestIdempotentConsumer_VersionTrackerSkipsStale(t *testing.T) {
	applied := 0
	c := newConsumer(HandlerFunc(func(context.Context, events.Envelope, events.DomainEvent) error {
		applied++
		return nil
	}), NewInMemoryDeduper(), WithVersionTracker(NewInMemoryVersionTracker()))

	follower := uuid.New()
	now := time.Now()
	_, newer := wireValue(t, events.FollowAdded{FollowerID: follower, FolloweeID: uuid.New()}, now)
	_, older := wireValue(t, events.FollowAdded{FollowerID: follower, FolloweeID: uuid.New()}, now.Add(-time.Second))

	out, err := c.HandleMessage(context.Background(), "k", newer)
	require.NoError(t, err)
	assert.Equal(t, Processed, out)

	out, err = c.HandleMessage(context.Background(), "k", older)
	require.NoError(t, err)
	assert.Equal(t, Stale, out)
	assert.Equal(t, 1, applied)
}

func TestIdempotentConsumer_FailedEventDoesNotAdvanceVersion(t *testing.T) {
	fail := true
	applied := 0
	c := newConsumer(HandlerFunc(func(context.Context, events.Envelope, events.DomainEvent) error {
		if fail {
			return errors.New("db down")
		}
		applied++
		return nil
	}), NewInMemoryDeduper(), WithVersionTracker(NewInMemoryVersionTracker()))

	follower := uuid.New()
	now := time.Now()
	_, newer := wireValue(t, events.FollowAdded{FollowerID: follower, FolloweeID: uuid.New()}, now)
	_, older := wireValue(t, events.FollowAdded{FollowerID: follower, FolloweeID: uuid.New()}, now.Add(-time.Second))

	out, _ := c.HandleMessage(context.Background(), "k", newer)
	require.Equal(t, Failed, out)

	fail = false
	out, err := c.HandleMessage(context.Background(), "k", older)
	require.NoError(t, err)
	assert.Equal(t, Processed, out, "a failed newer event does not make older ones stale")
	assert.Equal(t, 1, applied)
}

func TestRouter_UnroutedTypeIsNoop(t *testing.T) {
	r := NewRouter()
	On(r, events.FollowAddedType, func(context.Context, events.Envelope, events.FollowAdded) error {
		return errors.New("should not run")
	})
	assert.NoError(t, r.Handle(context.Background(), events.Envelope{EventType: events.PostDeletedType}, events.PostDeleted{}))
	assert.Equal(t, []string{events.FollowAddedType}, r.EventTypes())

	err := r.Handle(context.Background(), events.Envelope{EventType: events.FollowAddedType}, events.PostDeleted{})
	assert.Error(t, err, "variant mismatch is reported")
}
