package application

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/outbox/domain"
	"github.com/davicafu/eventrelay/internal/schema"
	"github.com/davicafu/eventrelay/internal/shared/events"
	"github.com/davicafu/eventrelay/tests/mocks"
)

func followPayload() []byte {
	return []byte(fmt.Sprintf(`{"follower_id":%q,"followee_id":%q}`, uuid.New(), uuid.New()))
}

func TestIngestion_Submit_Queued(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	svc := NewIngestionService(repo, schema.DefaultRegistry(), zap.NewNop())
	agg := uuid.New()

	res, err := svc.Submit(context.Background(), SubmitRequest{
		EventType:   events.FollowAddedType,
		AggregateID: agg.String(),
		Payload:     followPayload(),
		Priority:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, res.Status)

	row, err := repo.Get(res.EventID)
	require.NoError(t, err)
	assert.Equal(t, agg, row.AggregateID)
	assert.Equal(t, events.PriorityHigh, row.Priority)
	assert.Equal(t, 1, row.SchemaVersion)
	assert.True(t, row.Pending())
	assert.Zero(t, row.RetryCount)
	assert.Nil(t, row.LastError)
}

// Peticiones inválidas: error de argumento y nada escrito.
func TestIngestion_Submit_Rejects(t *testing.T) {
	valid := SubmitRequest{EventType: events.FollowAddedType, AggregateID: uuid.NewString(), Payload: followPayload(), Priority: 2}

	cases := map[string]func(r *SubmitRequest){
		"missing aggregate_id":  func(r *SubmitRequest) { r.AggregateID = "" },
		"malformed aggregate":   func(r *SubmitRequest) { r.AggregateID = "not-a-uuid" },
		"nil aggregate":         func(r *SubmitRequest) { r.AggregateID = uuid.Nil.String() },
		"missing event_type":    func(r *SubmitRequest) { r.EventType = "  " },
		"unknown event_type":    func(r *SubmitRequest) { r.EventType = "user.teleported" },
		"priority out of range": func(r *SubmitRequest) { r.Priority = 9 },
		"negative priority":     func(r *SubmitRequest) { r.Priority = -1 },
		"empty payload":         func(r *SubmitRequest) { r.Payload = nil },
		"invalid json":          func(r *SubmitRequest) { r.Payload = []byte(`{"follower_id":`) },
		"schema mismatch":       func(r *SubmitRequest) { r.Payload = []byte(`{"who":"me"}`) },
		"unknown version":       func(r *SubmitRequest) { r.SchemaVersion = 4 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			repo := mocks.NewInMemoryOutboxRepo()
			svc := NewIngestionService(repo, schema.DefaultRegistry(), zap.NewNop())
			req := valid
			mutate(&req)

			_, err := svc.Submit(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.True(t, IsInvalidArgument(err))
			assert.Empty(t, repo.All())
		})
	}
}

func TestIngestion_Submit_PinnedVersion(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	svc := NewIngestionService(repo, schema.DefaultRegistry(), zap.NewNop())
	payload := fmt.Sprintf(`{"post_id":%q,"author_id":%q,"content":"hola"}`, uuid.New(), uuid.New())

	res, err := svc.Submit(context.Background(), SubmitRequest{
		EventType: events.PostCreatedType, AggregateID: uuid.NewString(), Payload: []byte(payload), SchemaVersion: 1,
	})
	require.NoError(t, err)

	row, _ := repo.Get(res.EventID)
	assert.Equal(t, 1, row.SchemaVersion)
}

func TestIngestion_Submit_StorageFailure(t *testing.T) {
	writer := new(mocks.MockEnvelopeWriter)
	writer.On("Insert", mock.Anything, mock.Anything).Return(errors.New("connection refused")).Once()
	svc := NewIngestionService(writer, schema.DefaultRegistry(), zap.NewNop())

	_, err := svc.Submit(context.Background(), SubmitRequest{
		EventType: events.FollowAddedType, AggregateID: uuid.NewString(), Payload: followPayload(),
	})

	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.False(t, IsInvalidArgument(err))
	writer.AssertExpectations(t)
}

func TestIngestion_SubmitBatch_AllOrNothing(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	svc := NewIngestionService(repo, schema.DefaultRegistry(), zap.NewNop())
	ok := SubmitRequest{EventType: events.FollowAddedType, AggregateID: uuid.NewString(), Payload: followPayload()}
	bad := SubmitRequest{EventType: events.FollowAddedType, AggregateID: "nope", Payload: followPayload()}

	_, err := svc.SubmitBatch(context.Background(), []SubmitRequest{ok, bad})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Empty(t, repo.All())

	results, err := svc.SubmitBatch(context.Background(), []SubmitRequest{ok, ok})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotEqual(t, results[0].EventID, results[1].EventID)
	assert.Len(t, repo.All(), 2)

	_, err = svc.SubmitBatch(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestIngestion_SubmitBatch_StorageFailure(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	repo.FailInserts = errors.New("disk full")
	svc := NewIngestionService(repo, schema.DefaultRegistry(), zap.NewNop())

	_, err := svc.SubmitBatch(context.Background(), []SubmitRequest{
		{EventType: events.FollowAddedType, AggregateID: uuid.NewString(), Payload: followPayload()},
	})
	assert.ErrorIs(t, err, domain.ErrStorage)
}
