package store

import (
	"path/filepath"
	"testing"

	"github.com/quill-vm/quill/heap"
	"github.com/quill-vm/quill/vm"
)

func newTestContext(t *testing.T) *vm.Context {
	t.Helper()
	return vm.NewContext(heap.MinThreshold)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := newTestContext(t)
	dsn := filepath.Join(t.TempDir(), "quill.db")

	svc, err := Install(ctx, dsn)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	defer svc.Close()

	storeVal, ok := ctx.Globals["Store"]
	if !ok {
		t.Fatal("Store global was not installed")
	}

	v := vm.NewVM(ctx)

	key := newTestString(ctx, "greeting")
	val := newTestString(ctx, "hello")

	if _, err := v.SendCall(storeVal, newTestMsg(ctx, "put"), []vm.Value{key, val}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := v.SendCall(storeVal, newTestMsg(ctx, "get"), []vm.Value{key})
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	gotStr, ok := got.AsString()
	if !ok {
		t.Fatalf("get returned non-string value: %s", got.Inspect())
	}
	if string(gotStr.Get().Bytes) != "hello" {
		t.Errorf("round-tripped value = %q, want %q", gotStr.Get().Bytes, "hello")
	}

	if _, err := v.SendCall(storeVal, newTestMsg(ctx, "delete"), []vm.Value{key}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	got, err = v.SendCall(storeVal, newTestMsg(ctx, "get"), []vm.Value{key})
	if err != nil {
		t.Fatalf("get after delete failed: %v", err)
	}
	if !got.IsNil() {
		t.Errorf("get after delete = %s, want nil", got.Inspect())
	}
}

func TestStoreMissingKey(t *testing.T) {
	ctx := newTestContext(t)
	dsn := filepath.Join(t.TempDir(), "quill.db")

	svc, err := Install(ctx, dsn)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	defer svc.Close()

	storeVal := ctx.Globals["Store"]
	v := vm.NewVM(ctx)

	got, err := v.SendCall(storeVal, newTestMsg(ctx, "get"), []vm.Value{newTestString(ctx, "nope")})
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.IsNil() {
		t.Errorf("get on missing key = %s, want nil", got.Inspect())
	}
}

func newTestString(ctx *vm.Context, s string) vm.Value {
	root := heap.Alloc(ctx.Heap, vm.String{Bytes: []byte(s)})
	return vm.StringValue(root.Value)
}

func newTestMsg(ctx *vm.Context, s string) heap.Ptr[vm.String] {
	root := heap.Alloc(ctx.Heap, vm.String{Bytes: []byte(s)})
	return root.Value
}
