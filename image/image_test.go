package image

import (
	"testing"

	"github.com/quill-vm/quill/heap"
	"github.com/quill-vm/quill/vm"
)

func newTestContext(t *testing.T) *vm.Context {
	t.Helper()
	return vm.NewContext(heap.MinThreshold)
}

func TestEncodeDecodeScalarsAndArray(t *testing.T) {
	ctx := newTestContext(t)

	items := []vm.Value{
		vm.Nil,
		vm.Bool(true),
		vm.Int(-42),
		vm.StringValue(heap.Alloc(ctx.Heap, vm.String{Bytes: []byte("hi")}).Value),
	}
	root := heap.Alloc(ctx.Heap, vm.Array{Items: items})
	arrRoot := heap.NewRoot(ctx.Heap, vm.ArrayValue(root.Value))
	defer arrRoot.Release()

	data, err := Encode(arrRoot)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decodeCtx := newTestContext(t)
	decoded, err := Decode(decodeCtx, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer decoded.Release()

	arr, ok := decoded.Value.AsArray()
	if !ok {
		t.Fatalf("decoded value is not an Array: %s", decoded.Value.Inspect())
	}
	got := arr.Get().Items
	if len(got) != len(items) {
		t.Fatalf("len(decoded) = %d, want %d", len(got), len(items))
	}
	if got[0].Tag() != vm.TagNil {
		t.Errorf("items[0] = %v, want Nil", got[0].Inspect())
	}
	if b, ok := got[1].AsBool(); !ok || !b {
		t.Errorf("items[1] = %v, want true", got[1].Inspect())
	}
	if i, ok := got[2].AsInt(); !ok || i != -42 {
		t.Errorf("items[2] = %v, want -42", got[2].Inspect())
	}
	if s, ok := got[3].AsString(); !ok || string(s.Get().Bytes) != "hi" {
		t.Errorf("items[3] = %v, want \"hi\"", got[3].Inspect())
	}
}

func TestEncodeDecodeObjectResolvesClassByName(t *testing.T) {
	ctx := newTestContext(t)

	classVal, err := vm.NewVM(ctx).SendCall(ctx.Globals["Object"], newTestMsg(ctx, "subclass"),
		[]vm.Value{vm.StringValue(heap.Alloc(ctx.Heap, vm.String{Bytes: []byte("Point")}).Value)})
	if err != nil {
		t.Fatalf("Object.subclass: %v", err)
	}
	classPtr, ok := classVal.AsClass()
	if !ok {
		t.Fatalf("subclass result is not a Class: %s", classVal.Inspect())
	}
	ctx.Globals["Point"] = classVal

	obj := vm.NewObject(classPtr)
	obj.SetProp("x", vm.Int(3))
	objRoot := heap.Alloc(ctx.Heap, obj)
	root := heap.NewRoot(ctx.Heap, vm.ObjectValue(objRoot.Value))
	defer root.Release()

	data, err := Encode(root)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(ctx, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer decoded.Release()

	decodedObj, ok := decoded.Value.AsObject()
	if !ok {
		t.Fatalf("decoded value is not an Object: %s", decoded.Value.Inspect())
	}
	x, ok := decodedObj.Get().Props["x"]
	if !ok {
		t.Fatal("decoded object missing property \"x\"")
	}
	if gi, ok := x.AsInt(); !ok || gi != 3 {
		t.Errorf("decoded.x = %v, want 3", x.Inspect())
	}
}

func TestDecodeUnknownClassFails(t *testing.T) {
	ctx := newTestContext(t)
	classVal, err := vm.NewVM(ctx).SendCall(ctx.Globals["Object"], newTestMsg(ctx, "subclass"),
		[]vm.Value{vm.StringValue(heap.Alloc(ctx.Heap, vm.String{Bytes: []byte("Gone")}).Value)})
	if err != nil {
		t.Fatalf("Object.subclass: %v", err)
	}
	classPtr, _ := classVal.AsClass()
	obj := vm.NewObject(classPtr)
	objRoot := heap.Alloc(ctx.Heap, obj)
	root := heap.NewRoot(ctx.Heap, vm.ObjectValue(objRoot.Value))
	defer root.Release()

	data, err := Encode(root)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// A fresh Context never bound "Gone" as a global, so decoding must fail
	// rather than silently fabricate a class.
	fresh := newTestContext(t)
	if _, err := Decode(fresh, data); err == nil {
		t.Fatal("Decode succeeded against an unresolved class name, want error")
	}
}

func TestEncodeClassValueFails(t *testing.T) {
	ctx := newTestContext(t)
	root := heap.NewRoot(ctx.Heap, ctx.Globals["Object"])
	defer root.Release()

	if _, err := Encode(root); err == nil {
		t.Fatal("Encode succeeded on a Class value, want *rterrors.HostFault")
	}
}

func newTestMsg(ctx *vm.Context, s string) heap.Ptr[vm.String] {
	root := heap.Alloc(ctx.Heap, vm.String{Bytes: []byte(s)})
	defer root.Release()
	return root.Value
}
