package vm

import (
	"github.com/quill-vm/quill/heap"
)

// String is an immutable, UTF-8-agnostic byte sequence. It carries no
// pointer fields, so its Trace is a no-op — strings are leaves in the
// reachability graph.
type String struct {
	Bytes []byte
}

func (s String) Trace(v *heap.Visitor) {}

// Array is a mutable, ordered sequence of Value. Unlike String it must
// trace every element, since elements may themselves be managed handles.
type Array struct {
	Items []Value
}

func (a Array) Trace(v *heap.Visitor) {
	for _, item := range a.Items {
		item.Trace(v)
	}
}

// Object is a property bag with a class: a dictionary-like instance
// creatable from script code, as opposed to a ForeignObject created by the
// host. Properties are read and written only by GetProp/SetProp; Send
// resolves through Class method lookup and never consults them.
type Object struct {
	Props map[string]Value
	Class heap.Ptr[Class]
}

func NewObject(class heap.Ptr[Class]) Object {
	return Object{Props: make(map[string]Value), Class: class}
}

func (o Object) Trace(v *heap.Visitor) {
	for _, val := range o.Props {
		val.Trace(v)
	}
	o.Class.Trace(v)
}

func (o Object) GetProp(name string) (Value, bool) {
	val, ok := o.Props[name]
	return val, ok
}

func (o *Object) SetProp(name string, val Value) {
	o.Props[name] = val
}

// ForeignObject wraps a host-opaque payload behind a script-visible class.
// The payload itself is not traced: a host embedding Quill is responsible
// for making sure anything it stashes in Payload either holds no managed
// handles or implements heap.Traceable itself, in which case Trace forwards
// to it.
type ForeignObject struct {
	Payload any
	Class   heap.Ptr[Class]
}

func (f ForeignObject) Trace(v *heap.Visitor) {
	if t, ok := f.Payload.(heap.Traceable); ok {
		t.Trace(v)
	}
	f.Class.Trace(v)
}

func (f ForeignObject) Destroy() {
	if d, ok := f.Payload.(heap.Destroyable); ok {
		d.Destroy()
	}
}

// ForeignFunction is a closure implemented in Go rather than compiled
// script bytecode. Arity is advisory — negative means variadic. Captures
// holds any managed handles the closure captured from the host side, so
// they stay reachable and are reported to the collector.
type ForeignFunction struct {
	Name     string
	Arity    int
	Call     func(ctx *Context, args []Value) (Value, error)
	Captures []Value
}

func (f ForeignFunction) Trace(v *heap.Visitor) {
	for _, c := range f.Captures {
		c.Trace(v)
	}
}

// FunctionProto is the constant part of a compiled function: its bytecode
// and constant pool, shared by every closure instantiated from it.
type FunctionProto struct {
	Name      string
	Nargs     int
	Code      []Instruction
	Constants []Value
}

func (p FunctionProto) Trace(v *heap.Visitor) {
	for _, c := range p.Constants {
		c.Trace(v)
	}
}

// Upvalue is either an open reference (an absolute index into the
// currently executing VM's data stack) or a closed one (a captured Value,
// once the defining frame has returned). GetUp/SetUp dereference through
// the owning VM when Open is true; when Open is false the indexed stack
// slot no longer exists and Closed is authoritative.
type Upvalue struct {
	Open   bool
	Index  int
	Closed Value
}

func (u Upvalue) Trace(v *heap.Visitor) {
	if !u.Open {
		u.Closed.Trace(v)
	}
}

// Function is a script closure: an instantiation of a FunctionProto paired
// with the upvalues it captured at creation time via MakeUp/CopyUp.
type Function struct {
	Proto     heap.Ptr[FunctionProto]
	Upvalues  []heap.Ptr[Upvalue]
}

func (f Function) Trace(v *heap.Visitor) {
	f.Proto.Trace(v)
	for _, u := range f.Upvalues {
		u.Trace(v)
	}
}
