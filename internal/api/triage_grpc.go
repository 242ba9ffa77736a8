package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// TriageServiceName is the fully qualified gRPC service name.
const TriageServiceName = "triage.v1.Triage"

// TriageServer is the server API for the triage.v1.Triage service. Requests and responses travel
// as google.protobuf.Struct envelopes holding the JSON shapes of the models package.
type TriageServer interface {
	AnalyzeLogs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Investigate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPatterns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterTriageServer attaches srv to a gRPC registrar.
func RegisterTriageServer(s grpc.ServiceRegistrar, srv TriageServer) {
	s.RegisterService(&TriageServiceDesc, srv)
}

type unaryCall func(TriageServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// TriageServiceDesc describes triage.v1.Triage for grpc.Server.
var TriageServiceDesc = grpc.ServiceDesc{
	ServiceName: TriageServiceName,
	HandlerType: (*TriageServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("AnalyzeLogs", TriageServer.AnalyzeLogs),
		unaryMethod("Investigate", TriageServer.Investigate),
		unaryMethod("GetPatterns", TriageServer.GetPatterns),
		unaryMethod("HealthCheck", TriageServer.HealthCheck),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "triage/v1/triage.proto",
}

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + TriageServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TriageServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TriageServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// TriageClient calls triage.v1.Triage over an existing connection.
type TriageClient struct {
	cc grpc.ClientConnInterface
}

// NewTriageClient wraps cc.
func NewTriageClient(cc grpc.ClientConnInterface) *TriageClient {
	return &TriageClient{cc: cc}
}

func (c *TriageClient) AnalyzeLogs(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "AnalyzeLogs", in, opts...)
}

func (c *TriageClient) Investigate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Investigate", in, opts...)
}

func (c *TriageClient) GetPatterns(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetPatterns", in, opts...)
}

func (c *TriageClient) HealthCheck(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "HealthCheck", in, opts...)
}

func (c *TriageClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+TriageServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
