// Package control exposes the simulation clock over gRPC.
//
// The service is declared by hand with well-known protobuf messages so no
// generated code is needed: control calls take google.protobuf.Empty (or
// DoubleValue for the speed) and answer with a google.protobuf.Struct holding
// a shared.Status. Watch streams shared.Frame values encoded the same way.
package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "simhost.control.v1.ControlService"

const (
	StartMethod     = "/" + ServiceName + "/Start"
	PauseMethod     = "/" + ServiceName + "/Pause"
	ResetMethod     = "/" + ServiceName + "/Reset"
	SetSpeedMethod  = "/" + ServiceName + "/SetSpeed"
	GetStatusMethod = "/" + ServiceName + "/GetStatus"
	WatchMethod     = "/" + ServiceName + "/Watch"
)

// ControlServer is the server API for the control service
type ControlServer interface {
	Start(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Pause(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Reset(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetSpeed(context.Context, *wrapperspb.DoubleValue) (*structpb.Struct, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Watch(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// ServiceDesc describes the control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Start", Handler: unary(StartMethod, ControlServer.Start)},
		{MethodName: "Pause", Handler: unary(PauseMethod, ControlServer.Pause)},
		{MethodName: "Reset", Handler: unary(ResetMethod, ControlServer.Reset)},
		{MethodName: "SetSpeed", Handler: unary(SetSpeedMethod, ControlServer.SetSpeed)},
		{MethodName: "GetStatus", Handler: unary(GetStatusMethod, ControlServer.GetStatus)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "simhost/control/v1/control.proto",
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req any](fullMethod string, call func(ControlServer, context.Context, *Req) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).Watch(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}
