package introspect

import (
	"context"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/quill-vm/quill/heap"
	"github.com/quill-vm/quill/vm"
)

func newTestContext(t *testing.T) *vm.Context {
	t.Helper()
	return vm.NewContext(heap.MinThreshold)
}

func TestStatsReportsLiveCells(t *testing.T) {
	ctx := newTestContext(t)
	svc := New(ctx)

	root := heap.Alloc(ctx.Heap, vm.String{Bytes: []byte("hi")})
	defer root.Release()

	out, err := svc.Stats(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	got := StatsFromStruct(out)
	if got.LiveCells == 0 {
		t.Errorf("LiveCells = %d, want > 0 with a live root outstanding", got.LiveCells)
	}
	if got.CorrelationID != ctx.CorrelationID.String() {
		t.Errorf("CorrelationID = %q, want %q", got.CorrelationID, ctx.CorrelationID.String())
	}
}

func TestCollectFreesUnrootedCells(t *testing.T) {
	ctx := newTestContext(t)
	svc := New(ctx)

	root := heap.Alloc(ctx.Heap, vm.String{Bytes: []byte("garbage")})
	root.Release()

	before := ctx.Heap.Stats().LiveCells
	out, err := svc.Collect(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	got := StatsFromStruct(out)
	if got.Collections == 0 {
		t.Errorf("Collections = %d, want > 0 after a forced collection", got.Collections)
	}
	if got.LiveCells >= int64(before) {
		t.Errorf("LiveCells after Collect = %d, want fewer than %d (unrooted cell should be swept)", got.LiveCells, before)
	}
}

func TestConnectMuxServesStats(t *testing.T) {
	ctx := newTestContext(t)
	svc := New(ctx)
	mux := NewConnectMux(svc)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := connect.NewClient[structpb.Struct, structpb.Struct](
		srv.Client(), srv.URL+statsProcedure,
	)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&structpb.Struct{}))
	if err != nil {
		t.Fatalf("CallUnary(Stats) failed: %v", err)
	}
	got := StatsFromStruct(resp.Msg)
	if got.CorrelationID != ctx.CorrelationID.String() {
		t.Errorf("CorrelationID = %q, want %q", got.CorrelationID, ctx.CorrelationID.String())
	}
}
