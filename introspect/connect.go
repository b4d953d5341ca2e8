package introspect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	statsProcedure   = "/quill.introspect.v1.Introspection/Stats"
	collectProcedure = "/quill.introspect.v1.Introspection/Collect"
)

// NewConnectMux mounts Stats/Collect as Connect handlers on a fresh
// http.ServeMux, the same dual-protocol-on-one-mux shape
// server.MaggieServer.New uses for its own six RPC services (Connect
// answers plain HTTP/JSON or gRPC-over-HTTP2 from the same handler; a
// separate *grpc.Server, via RegisterGRPC in grpc.go, answers classic
// gRPC-over-HTTP2 on its own port for callers that need it).
func NewConnectMux(svc *Service) *http.ServeMux {
	mux := http.NewServeMux()
	statsHandler := connect.NewUnaryHandler(statsProcedure, svc.connectStats)
	mux.Handle(statsProcedure, statsHandler)
	collectHandler := connect.NewUnaryHandler(collectProcedure, svc.connectCollect)
	mux.Handle(collectProcedure, collectHandler)
	return mux
}

func (s *Service) connectStats(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	out, err := s.Stats(ctx, req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

func (s *Service) connectCollect(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	out, err := s.Collect(ctx, req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}
