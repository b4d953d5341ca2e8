package vm

import (
	"testing"

	"github.com/quill-vm/quill/heap"
)

func newValueTestContext(t *testing.T) *Context {
	t.Helper()
	return NewContext(heap.MinThreshold)
}

func TestIsTruthy(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"nil", Nil, false},
		{"false", Bool(false), false},
		{"true", Bool(true), true},
		{"zero", Int(0), true},
		{"negative", Int(-1), true},
	}
	for _, tc := range cases {
		if got := tc.v.IsTruthy(); got != tc.want {
			t.Errorf("%s.IsTruthy() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEqualComparesByIdentityForManagedHandles(t *testing.T) {
	ctx := newValueTestContext(t)

	a := heap.Alloc(ctx.Heap, Array{Items: []Value{Int(1)}})
	defer a.Release()
	b := heap.Alloc(ctx.Heap, Array{Items: []Value{Int(1)}})
	defer b.Release()

	av := ArrayValue(a.Value)
	bv := ArrayValue(b.Value)

	if av.Equal(bv) {
		t.Error("two distinct arrays with identical contents compared equal, want identity comparison")
	}
	if !av.Equal(av) {
		t.Error("an array did not compare equal to itself")
	}
}

func TestEqualAcrossDifferentTagsIsFalse(t *testing.T) {
	if Int(0).Equal(Bool(false)) {
		t.Error("Int(0).Equal(Bool(false)) = true, want false (different tags never compare equal)")
	}
	if Nil.Equal(Int(0)) {
		t.Error("Nil.Equal(Int(0)) = true, want false")
	}
}

func TestClassOfPrimitives(t *testing.T) {
	ctx := newValueTestContext(t)

	cases := []struct {
		name string
		v    Value
		want heap.Ptr[Class]
	}{
		{"nil", Nil, ctx.NilClass},
		{"bool", Bool(true), ctx.BoolClass},
		{"int", Int(5), ctx.IntClass},
	}
	for _, tc := range cases {
		if got := tc.v.ClassOf(ctx); got != tc.want {
			t.Errorf("%s.ClassOf() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestClassOfClassIsItsMeta(t *testing.T) {
	ctx := newValueTestContext(t)
	intClassVal := ClassValue(ctx.IntClass)
	if got := intClassVal.ClassOf(ctx); got != ctx.IntClass.Get().Meta {
		t.Errorf("Int class's ClassOf() = %v, want its own Meta", got)
	}
}

func TestInspectRoundTripsScalars(t *testing.T) {
	ctx := newValueTestContext(t)
	s := heap.Alloc(ctx.Heap, String{Bytes: []byte("hi")})
	defer s.Release()

	cases := []struct {
		v    Value
		want string
	}{
		{Nil, "nil"},
		{Bool(true), "true"},
		{Bool(false), "false"},
		{Int(42), "42"},
		{StringValue(s.Value), `"hi"`},
	}
	for _, tc := range cases {
		if got := tc.v.Inspect(); got != tc.want {
			t.Errorf("Inspect() = %q, want %q", got, tc.want)
		}
	}
}

func TestTraceOnNonHandleValueIsNoOp(t *testing.T) {
	// Int and friends carry no pointer; Trace on them must not panic.
	vis := &heap.Visitor{}
	Int(7).Trace(vis)
	Nil.Trace(vis)
	Bool(true).Trace(vis)
}
