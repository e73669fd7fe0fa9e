package grpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
)

const (
	ServiceName       = "eventrelay.v1.Ingestion"
	SubmitMethod      = "/" + ServiceName + "/Submit"
	SubmitBatchMethod = "/" + ServiceName + "/SubmitBatch"
)

type SubmitRequest struct {
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	Priority      *int32          `json:"priority,omitempty"` // nil = normal
	SchemaVersion int32           `json:"schema_version,omitempty"`
}

type SubmitResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

type SubmitBatchRequest struct {
	Events []*SubmitRequest `json:"events"`
}

type SubmitBatchResponse struct {
	Results []*SubmitResponse `json:"results"`
}

// IngestionServer es el contrato del servicio eventrelay.v1.Ingestion.
type IngestionServer interface {
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error)
	SubmitBatch(ctx context.Context, req *SubmitBatchRequest) (*SubmitBatchResponse, error)
}

func RegisterIngestionServer(s grpc.ServiceRegistrar, srv IngestionServer) {
	s.RegisterService(&ingestionServiceDesc, srv)
}

var ingestionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "SubmitBatch", Handler: submitBatchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "eventrelay/v1/ingestion",
}

func submitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SubmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestionServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IngestionServer).Submit(ctx, req.(*SubmitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func submitBatchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SubmitBatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestionServer).SubmitBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitBatchMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IngestionServer).SubmitBatch(ctx, req.(*SubmitBatchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// IngestionClient llama al servicio usando el codec JSON.
type IngestionClient struct {
	cc grpc.ClientConnInterface
}

func NewIngestionClient(cc grpc.ClientConnInterface) *IngestionClient {
	return &IngestionClient{cc: cc}
}

func (c *IngestionClient) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	out := new(SubmitResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, SubmitMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IngestionClient) SubmitBatch(ctx context.Context, in *SubmitBatchRequest, opts ...grpc.CallOption) (*SubmitBatchResponse, error) {
	out := new(SubmitBatchResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, SubmitBatchMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
