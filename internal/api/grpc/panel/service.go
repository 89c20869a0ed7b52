package panel

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tuyaalarm.v1.PanelService"

// Full method names, also used by the client.
const (
	GetStatusMethod     = "/" + ServiceName + "/GetStatus"
	WatchMethod         = "/" + ServiceName + "/Watch"
	ArmMethod           = "/" + ServiceName + "/Arm"
	DisarmMethod        = "/" + ServiceName + "/Disarm"
	SetOptionMethod     = "/" + ServiceName + "/SetOption"
	ListFunctionsMethod = "/" + ServiceName + "/ListFunctions"
	ListHistoryMethod   = "/" + ServiceName + "/ListHistory"
)

// PanelServiceServer is the server API of the panel service.
// Messages are well-known protobuf types, so no generated code is needed.
type PanelServiceServer interface {
	GetStatus(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	Watch(req *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error
	Arm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Disarm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SetOption(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListFunctions(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	ListHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedPanelServiceServer can be embedded to get forward compatible implementations.
type UnimplementedPanelServiceServer struct{}

// GetStatus implements PanelServiceServer.
func (UnimplementedPanelServiceServer) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetStatus not implemented")
}

// Watch implements PanelServiceServer.
func (UnimplementedPanelServiceServer) Watch(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Error(codes.Unimplemented, "method Watch not implemented")
}

// Arm implements PanelServiceServer.
func (UnimplementedPanelServiceServer) Arm(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Arm not implemented")
}

// Disarm implements PanelServiceServer.
func (UnimplementedPanelServiceServer) Disarm(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Disarm not implemented")
}

// SetOption implements PanelServiceServer.
func (UnimplementedPanelServiceServer) SetOption(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method SetOption not implemented")
}

// ListFunctions implements PanelServiceServer.
func (UnimplementedPanelServiceServer) ListFunctions(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListFunctions not implemented")
}

// ListHistory implements PanelServiceServer.
func (UnimplementedPanelServiceServer) ListHistory(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListHistory not implemented")
}

// RegisterPanelServiceServer registers the panel service on a gRPC server.
func RegisterPanelServiceServer(registrar grpc.ServiceRegistrar, srv PanelServiceServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the panel service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PanelServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: emptyHandler(GetStatusMethod, PanelServiceServer.GetStatus)},
		{MethodName: "Arm", Handler: structHandler(ArmMethod, PanelServiceServer.Arm)},
		{MethodName: "Disarm", Handler: structHandler(DisarmMethod, PanelServiceServer.Disarm)},
		{MethodName: "SetOption", Handler: structHandler(SetOptionMethod, PanelServiceServer.SetOption)},
		{MethodName: "ListFunctions", Handler: emptyHandler(ListFunctionsMethod, PanelServiceServer.ListFunctions)},
		{MethodName: "ListHistory", Handler: structHandler(ListHistoryMethod, PanelServiceServer.ListHistory)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "tuyaalarm/v1/panel.proto",
}

type unaryMethod[Req any] func(PanelServiceServer, context.Context, *Req) (*structpb.Struct, error)

func emptyHandler(fullMethod string, method unaryMethod[emptypb.Empty]) grpc.MethodHandler {
	return unaryHandler(fullMethod, method)
}

func structHandler(fullMethod string, method unaryMethod[structpb.Struct]) grpc.MethodHandler {
	return unaryHandler(fullMethod, method)
}

func unaryHandler[Req any](fullMethod string, method unaryMethod[Req]) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		if interceptor == nil {
			return method(srv.(PanelServiceServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(srv.(PanelServiceServer), ctx, req.(*Req))
		}

		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(PanelServiceServer).Watch(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// PanelServiceClient calls the panel service.
type PanelServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPanelServiceClient wraps a client connection.
func NewPanelServiceClient(cc grpc.ClientConnInterface) *PanelServiceClient {
	return &PanelServiceClient{cc: cc}
}

func invoke[Req any](ctx context.Context, cc grpc.ClientConnInterface, method string, in *Req, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// GetStatus returns the current snapshot.
func (c *PanelServiceClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, GetStatusMethod, new(emptypb.Empty), opts...)
}

// Arm arms the panel.
func (c *PanelServiceClient) Arm(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, ArmMethod, in, opts...)
}

// Disarm disarms the panel.
func (c *PanelServiceClient) Disarm(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, DisarmMethod, in, opts...)
}

// SetOption writes a settings data point.
func (c *PanelServiceClient) SetOption(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, SetOptionMethod, in, opts...)
}

// ListFunctions returns the writable data points.
func (c *PanelServiceClient) ListFunctions(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, ListFunctionsMethod, new(emptypb.Empty), opts...)
}

// ListHistory returns the latest commands.
func (c *PanelServiceClient) ListHistory(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, ListHistoryMethod, in, opts...)
}

// Watch streams snapshots until the context ends.
func (c *PanelServiceClient) Watch(ctx context.Context, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], WatchMethod, opts...)
	if err != nil {
		return nil, err
	}

	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.SendMsg(new(emptypb.Empty)); err != nil {
		return nil, err
	}

	if err := x.CloseSend(); err != nil {
		return nil, err
	}

	return x, nil
}
