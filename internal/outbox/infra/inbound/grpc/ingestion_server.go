package grpc

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/davicafu/eventrelay/internal/outbox/application"
	"github.com/davicafu/eventrelay/internal/shared/events"
)

type Ingestor interface {
	Submit(ctx context.Context, req application.SubmitRequest) (application.SubmitResult, error)
	SubmitBatch(ctx context.Context, reqs []application.SubmitRequest) ([]application.SubmitResult, error)
}

// GrpcIngestionServer traduce las llamadas RPC al servicio de ingesta.
type GrpcIngestionServer struct {
	service Ingestor
	log     *zap.Logger
}

var _ IngestionServer = (*GrpcIngestionServer)(nil)

func NewGrpcIngestionServer(service Ingestor, log *zap.Logger) *GrpcIngestionServer {
	return &GrpcIngestionServer{service: service, log: log}
}

// NewServer crea el servidor gRPC con el servicio de ingesta registrado.
func NewServer(service Ingestor, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(RecoveryInterceptor(log), LoggingInterceptor(log)),
	}, opts...)
	srv := grpc.NewServer(opts...)
	RegisterIngestionServer(srv, NewGrpcIngestionServer(service, log))
	return srv
}

func (s *GrpcIngestionServer) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "empty request")
	}
	res, err := s.service.Submit(ctx, toApp(req))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &SubmitResponse{EventID: res.EventID.String(), Status: res.Status}, nil
}

func (s *GrpcIngestionServer) SubmitBatch(ctx context.Context, req *SubmitBatchRequest) (*SubmitBatchResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "empty request")
	}
	reqs := make([]application.SubmitRequest, 0, len(req.Events))
	for i, e := range req.Events {
		if e == nil {
			return nil, status.Errorf(codes.InvalidArgument, "event %d is empty", i)
		}
		reqs = append(reqs, toApp(e))
	}

	results, err := s.service.SubmitBatch(ctx, reqs)
	if err != nil {
		return nil, s.toStatus(err)
	}
	out := &SubmitBatchResponse{Results: make([]*SubmitResponse, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, &SubmitResponse{EventID: r.EventID.String(), Status: r.Status})
	}
	return out, nil
}

func toApp(req *SubmitRequest) application.SubmitRequest {
	priority := int(events.PriorityNormal)
	if req.Priority != nil {
		priority = int(*req.Priority)
	}
	return application.SubmitRequest{
		EventType:     req.EventType,
		AggregateID:   req.AggregateID,
		Payload:       req.Payload,
		Priority:      priority,
		SchemaVersion: int(req.SchemaVersion),
	}
}

func (s *GrpcIngestionServer) toStatus(err error) error {
	if application.IsInvalidArgument(err) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	s.log.Error("❌ Error de ingesta gRPC", zap.Error(err))
	return status.Error(codes.Internal, "event could not be stored")
}
