package vm

import (
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/quill-vm/quill/heap"
)

// Context is the shared state every running script and every foreign
// function sees: the heap, the bootstrap classes every primitive resolves
// ClassOf against, the global bindings a compiled main function closes
// over, and the ambient logging/correlation handles used for diagnostics.
//
// A Context is not safe for concurrent script execution — the language has
// a single-threaded execution model — but its Heap may be inspected from
// another goroutine via the introspection service, which is why Heap owns
// its own mutex rather than Context owning a coarser one.
type Context struct {
	Heap *heap.Heap

	ObjectClass       heap.Ptr[Class]
	ClassClass        heap.Ptr[Class]
	NilClass          heap.Ptr[Class]
	BoolClass         heap.Ptr[Class]
	IntClass          heap.Ptr[Class]
	StringClass       heap.Ptr[Class]
	ArrayClass        heap.Ptr[Class]
	FunctionClass     heap.Ptr[Class]
	RuntimeErrorClass heap.Ptr[Class]

	Globals map[string]Value

	// notUnderstood is the trampoline Send/SendCall fall back to on a
	// method-lookup miss: a single ForeignFunction, allocated once at
	// bootstrap, shared by every VM built over this Context.
	notUnderstood heap.Ptr[ForeignFunction]

	Log           commonlog.Logger
	CorrelationID uuid.UUID

	// roots pins the bootstrap classes and anything else allocated during
	// NewContext for the lifetime of the Context, since nothing on the Go
	// call stack keeps them rooted once bootstrap returns.
	roots   []*heap.Root[heap.Ptr[Class]]
	fnRoots []*heap.Root[heap.Ptr[ForeignFunction]]
}

// NewContext allocates a heap and bootstraps the primitive class hierarchy
// described by the runtime's data model: Object has no base; Class's base
// is Object; every primitive class's base is Object; Object's meta and
// Class's meta are both Class.
func NewContext(initialThreshold int) *Context {
	h := heap.New(initialThreshold)
	ctx := &Context{
		Heap:          h,
		Globals:       make(map[string]Value),
		Log:           commonlog.GetLogger("quill.vm"),
		CorrelationID: uuid.New(),
	}
	ctx.bootstrap()
	return ctx
}

func (ctx *Context) pin(r *heap.Root[heap.Ptr[Class]]) heap.Ptr[Class] {
	ctx.roots = append(ctx.roots, r)
	return r.Value
}

func (ctx *Context) pinFn(r *heap.Root[heap.Ptr[ForeignFunction]]) heap.Ptr[ForeignFunction] {
	ctx.fnRoots = append(ctx.fnRoots, r)
	return r.Value
}

func (ctx *Context) bootstrap() {
	// Object and Class are mutually referential (Object.meta = Class,
	// Class.meta = Class, Class.base = Object), so both are allocated with
	// a placeholder before either's fields are filled in.
	objectRoot := heap.Alloc(ctx.Heap, Class{Name: "Object", Props: map[string]Value{}, Methods: map[string]MethodEntry{}})
	classRoot := heap.Alloc(ctx.Heap, Class{Name: "Class", Props: map[string]Value{}, Methods: map[string]MethodEntry{}})

	ctx.ObjectClass = ctx.pin(objectRoot)
	ctx.ClassClass = ctx.pin(classRoot)

	objectRoot.Value.Get().Meta = ctx.ClassClass
	classRoot.Value.Get().Meta = ctx.ClassClass
	classRoot.Value.Get().Base = ctx.ObjectClass

	ctx.NilClass = ctx.newPrimitiveClass("Nil")
	ctx.BoolClass = ctx.newPrimitiveClass("Bool")
	ctx.IntClass = ctx.newPrimitiveClass("Int")
	ctx.StringClass = ctx.newPrimitiveClass("String")
	ctx.ArrayClass = ctx.newPrimitiveClass("Array")
	ctx.FunctionClass = ctx.newPrimitiveClass("Function")
	ctx.RuntimeErrorClass = ctx.newPrimitiveClass("RuntimeError")

	notUnderstoodRoot := heap.Alloc(ctx.Heap, ForeignFunction{
		Name:  "not_understood",
		Arity: -1,
		Call:  notUnderstoodTrampoline,
	})
	ctx.notUnderstood = ctx.pinFn(notUnderstoodRoot)

	LoadBuiltins(ctx)
}

func (ctx *Context) newPrimitiveClass(name string) heap.Ptr[Class] {
	root := heap.Alloc(ctx.Heap, NewClass(name, ctx.ClassClass, ctx.ObjectClass))
	return ctx.pin(root)
}
