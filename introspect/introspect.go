// Package introspect exposes a Context's collector statistics to a remote
// caller over both gRPC and Connect, and a Collect RPC that forces an
// out-of-band mark-and-sweep. It never touches VM stacks or executes
// script code: every RPC bottoms out in Heap.Stats or Heap.Collect, the
// same entry points an embedding host would call directly.
//
// The wire contract would ordinarily be a .proto-described
// QuillIntrospection service compiled by protoc-gen-go/protoc-gen-connect-go,
// but no generated protobuf or Connect reference code was available to
// build against here, and hand-fabricating protoc-gen-go output (raw
// descriptor bytes, protoimpl.MessageState bookkeeping) with no way to
// compile or run it is too likely to be subtly wrong. Instead, both RPCs
// use structpb.Struct — a real, already-compiled proto.Message, part of
// google.golang.org/protobuf itself — as the envelope, with a strongly
// typed Stats on this side of the boundary doing the conversion.
package introspect

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/quill-vm/quill/heap"
	"github.com/quill-vm/quill/vm"
)

// Service wraps one Context's heap for remote introspection. It holds no
// state of its own beyond the Context reference; every call is a direct
// pass-through to Heap.Stats/Heap.Collect.
type Service struct {
	ctx *vm.Context
}

// New wraps ctx for introspection. The embedding host registers the
// result with RegisterGRPC and/or mounts NewConnectMux's handlers; nothing
// here starts a listener itself.
func New(ctx *vm.Context) *Service {
	return &Service{ctx: ctx}
}

// Stats is the Go-native shape of one statistics snapshot, independent of
// the structpb.Struct wire encoding.
type Stats struct {
	Collections    uint64
	LastFreed      int64
	LastMarked     int64
	LastDurationMs float64
	LiveCells      int64
	Threshold      int64
	WeakHandles    int64
	CorrelationID  string
}

func (s *Service) snapshot(hs heap.Stats) Stats {
	return Stats{
		Collections:    hs.Collections,
		LastFreed:      int64(hs.LastFreed),
		LastMarked:     int64(hs.LastMarked),
		LastDurationMs: float64(hs.LastDuration.Microseconds()) / 1000,
		LiveCells:      int64(hs.LiveCells),
		Threshold:      int64(hs.Threshold),
		WeakHandles:    hs.WeakHandles,
		CorrelationID:  s.ctx.CorrelationID.String(),
	}
}

func (st Stats) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"collections":      float64(st.Collections),
		"last_freed":       float64(st.LastFreed),
		"last_marked":      float64(st.LastMarked),
		"last_duration_ms": st.LastDurationMs,
		"live_cells":       float64(st.LiveCells),
		"threshold":        float64(st.Threshold),
		"weak_handles":     float64(st.WeakHandles),
		"correlation_id":   st.CorrelationID,
	})
}

// StatsFromStruct decodes a Stats back out of its structpb.Struct wire
// form, the inverse of toStruct — used by a Connect/gRPC client on the
// other end of either handler.
func StatsFromStruct(s *structpb.Struct) Stats {
	f := s.GetFields()
	num := func(key string) float64 { return f[key].GetNumberValue() }
	return Stats{
		Collections:    uint64(num("collections")),
		LastFreed:      int64(num("last_freed")),
		LastMarked:     int64(num("last_marked")),
		LastDurationMs: num("last_duration_ms"),
		LiveCells:      int64(num("live_cells")),
		Threshold:      int64(num("threshold")),
		WeakHandles:    int64(num("weak_handles")),
		CorrelationID:  f["correlation_id"].GetStringValue(),
	}
}

// IntrospectionServer is the interface both the hand-built grpc.ServiceDesc
// and the Connect handlers dispatch through; *Service is its only
// implementation, but the indirection mirrors the server-interface shape
// protoc-gen-go-grpc would otherwise generate.
type IntrospectionServer interface {
	Stats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Collect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var _ IntrospectionServer = (*Service)(nil)

// Stats reports current collector statistics without triggering a
// collection. req is ignored (the RPC takes no parameters); accepting and
// returning structpb.Struct keeps the method signature uniform with
// Collect's, which is what lets both share one dispatch shape in grpc.go.
func (s *Service) Stats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return s.snapshot(s.ctx.Heap.Stats()).toStruct()
}

// Collect forces an out-of-band mark-and-sweep cycle and reports the
// statistics that resulted from it.
func (s *Service) Collect(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return s.snapshot(s.ctx.Heap.Collect()).toStruct()
}
