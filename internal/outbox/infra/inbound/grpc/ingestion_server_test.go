package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/davicafu/eventrelay/internal/outbox/application"
	"github.com/davicafu/eventrelay/internal/schema"
	"github.com/davicafu/eventrelay/internal/shared/events"
	"github.com/davicafu/eventrelay/tests/mocks"
)

func startServer(t *testing.T) (*IngestionClient, *mocks.InMemoryOutboxRepo) {
	t.Helper()
	repo := mocks.NewInMemoryOutboxRepo()
	svc := application.NewIngestionService(repo, schema.DefaultRegistry(), zap.NewNop())

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(svc, zap.NewNop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewIngestionClient(conn), repo
}

func reactionRequest(target uuid.UUID) *SubmitRequest {
	p := int32(events.PriorityHigh)
	return &SubmitRequest{
		EventType:   events.ReactionAddedType,
		AggregateID: target.String(),
		Payload: []byte(fmt.Sprintf(`{"target_id":%q,"target_type":"message","user_id":%q,"emoji":"👍"}`,
			target, uuid.New())),
		Priority: &p,
	}
}

func TestGrpcSubmit_Queued(t *testing.T) {
	client, repo := startServer(t)
	target := uuid.New()

	res, err := client.Submit(context.Background(), reactionRequest(target))
	require.NoError(t, err)
	assert.Equal(t, application.StatusQueued, res.Status)

	id, err := uuid.Parse(res.EventID)
	require.NoError(t, err)
	row, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, target, row.AggregateID)
	assert.Equal(t, events.PriorityHigh, row.Priority)
}

func TestGrpcSubmit_InvalidArgument(t *testing.T) {
	client, repo := startServer(t)

	req := reactionRequest(uuid.New())
	req.AggregateID = "not-a-uuid"
	_, err := client.Submit(context.Background(), req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	req = reactionRequest(uuid.New())
	req.Payload = []byte(`{"target_id":"x"}`)
	_, err = client.Submit(context.Background(), req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	assert.Empty(t, repo.All())
}

func TestGrpcSubmit_StorageFailureIsInternal(t *testing.T) {
	client, repo := startServer(t)
	repo.FailInserts = errors.New("connection reset")

	_, err := client.Submit(context.Background(), reactionRequest(uuid.New()))
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.NotContains(t, status.Convert(err).Message(), "connection reset")
}

func TestGrpcSubmitBatch(t *testing.T) {
	client, repo := startServer(t)
	target := uuid.New()

	res, err := client.SubmitBatch(context.Background(), &SubmitBatchRequest{
		Events: []*SubmitRequest{reactionRequest(target), reactionRequest(target)},
	})
	require.NoError(t, err)
	assert.Len(t, res.Results, 2)
	assert.Len(t, repo.All(), 2)

	_, err = client.SubmitBatch(context.Background(), &SubmitBatchRequest{Events: []*SubmitRequest{reactionRequest(target), nil}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRecoveryInterceptor(t *testing.T) {
	intercept := RecoveryInterceptor(zap.NewNop())
	_, err := intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: SubmitMethod},
		func(context.Context, interface{}) (interface{}, error) { panic("boom") })
	assert.Equal(t, codes.Internal, status.Code(err))
}
