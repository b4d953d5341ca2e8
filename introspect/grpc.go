package introspect

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceDesc is a hand-built grpc.ServiceDesc for IntrospectionServer. A
// protoc-gen-go-grpc run would normally produce this; lacking generated
// code to build against, it is written by hand here, over the same
// structpb.Struct request/response shape connect.go's handlers use —
// grpc's built-in proto codec marshals/unmarshals a structpb.Struct
// exactly as it would any generated message, since it already is one.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "quill.introspect.v1.Introspection",
	HandlerType: (*IntrospectionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stats", Handler: statsGRPCHandler},
		{MethodName: "Collect", Handler: collectGRPCHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quill/introspect.proto",
}

// RegisterGRPC registers svc on s the ordinary generated-stub way: a
// caller that already has a *grpc.Server just calls this instead of a
// generated RegisterIntrospectionServer function.
func RegisterGRPC(s *grpc.Server, svc *Service) {
	s.RegisterService(&ServiceDesc, svc)
}

func statsGRPCHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(IntrospectionServer)
	if interceptor == nil {
		return svc.Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/quill.introspect.v1.Introspection/Stats"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return svc.Stats(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func collectGRPCHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(IntrospectionServer)
	if interceptor == nil {
		return svc.Collect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/quill.introspect.v1.Introspection/Collect"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return svc.Collect(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
