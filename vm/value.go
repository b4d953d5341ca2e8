// Package vm implements the Quill virtual machine: the closed Value union,
// the class/method-table model, the bytecode interpreter, and the bootstrap
// library of foreign methods.
package vm

import (
	"fmt"

	"github.com/quill-vm/quill/heap"
)

// Tag identifies which variant of Value is populated. Value is a closed
// union — unlike a host embedding library with an open-ended value space,
// every kind a script can observe is listed here once, and this package
// switches on Tag exhaustively wherever it matters (equality, inspect,
// class lookup).
type Tag uint8

const (
	TagNil Tag = iota
	TagBool
	TagInt
	TagString
	TagArray
	TagFunction
	TagForeignFunction
	TagObject
	TagForeignObject
	TagClass
)

func (t Tag) String() string {
	switch t {
	case TagNil:
		return "Nil"
	case TagBool:
		return "Bool"
	case TagInt:
		return "Int"
	case TagString:
		return "String"
	case TagArray:
		return "Array"
	case TagFunction:
		return "Function"
	case TagForeignFunction:
		return "ForeignFunction"
	case TagObject:
		return "Object"
	case TagForeignObject:
		return "ForeignObject"
	case TagClass:
		return "Class"
	default:
		return "Unknown"
	}
}

// Value is a script value. It is a literal tagged struct rather than a
// NaN-boxed word: the value space here is closed and small (ten kinds, seven
// of them managed handles), so there is nothing to gain from packing it into
// a float's bit pattern, and a lot to lose in readability. Exactly one of
// the payload fields is meaningful, selected by tag.
type Value struct {
	tag Tag

	b bool
	i int64

	str  heap.Ptr[String]
	arr  heap.Ptr[Array]
	fn   heap.Ptr[Function]
	ffn  heap.Ptr[ForeignFunction]
	obj  heap.Ptr[Object]
	fobj heap.Ptr[ForeignObject]
	cls  heap.Ptr[Class]
}

var Nil = Value{tag: TagNil}

func Bool(b bool) Value { return Value{tag: TagBool, b: b} }
func Int(i int64) Value { return Value{tag: TagInt, i: i} }

func StringValue(p heap.Ptr[String]) Value { return Value{tag: TagString, str: p} }
func ArrayValue(p heap.Ptr[Array]) Value   { return Value{tag: TagArray, arr: p} }
func FunctionValue(p heap.Ptr[Function]) Value {
	return Value{tag: TagFunction, fn: p}
}
func ForeignFnValue(p heap.Ptr[ForeignFunction]) Value {
	return Value{tag: TagForeignFunction, ffn: p}
}
func ObjectValue(p heap.Ptr[Object]) Value { return Value{tag: TagObject, obj: p} }
func ForeignObjectValue(p heap.Ptr[ForeignObject]) Value {
	return Value{tag: TagForeignObject, fobj: p}
}
func ClassValue(p heap.Ptr[Class]) Value { return Value{tag: TagClass, cls: p} }

func (v Value) Tag() Tag { return v.tag }

func (v Value) IsNil() bool { return v.tag == TagNil }

// IsTruthy implements the language's boolean-coercion rule: only nil and
// false are falsy, every other value — including 0 and the empty string —
// is truthy.
func (v Value) IsTruthy() bool {
	switch v.tag {
	case TagNil:
		return false
	case TagBool:
		return v.b
	default:
		return true
	}
}

func (v Value) AsBool() (bool, bool)              { return v.b, v.tag == TagBool }
func (v Value) AsInt() (int64, bool)              { return v.i, v.tag == TagInt }
func (v Value) AsString() (heap.Ptr[String], bool) { return v.str, v.tag == TagString }
func (v Value) AsArray() (heap.Ptr[Array], bool)   { return v.arr, v.tag == TagArray }
func (v Value) AsFunction() (heap.Ptr[Function], bool) {
	return v.fn, v.tag == TagFunction
}
func (v Value) AsForeignFunction() (heap.Ptr[ForeignFunction], bool) {
	return v.ffn, v.tag == TagForeignFunction
}
func (v Value) AsObject() (heap.Ptr[Object], bool) { return v.obj, v.tag == TagObject }
func (v Value) AsForeignObject() (heap.Ptr[ForeignObject], bool) {
	return v.fobj, v.tag == TagForeignObject
}
func (v Value) AsClass() (heap.Ptr[Class], bool) { return v.cls, v.tag == TagClass }

// Trace implements heap.Traceable. Nil, Bool and Int carry no pointer and
// trace to nothing; each managed-handle variant forwards to its own Ptr.
func (v Value) Trace(vis *heap.Visitor) {
	switch v.tag {
	case TagString:
		v.str.Trace(vis)
	case TagArray:
		v.arr.Trace(vis)
	case TagFunction:
		v.fn.Trace(vis)
	case TagForeignFunction:
		v.ffn.Trace(vis)
	case TagObject:
		v.obj.Trace(vis)
	case TagForeignObject:
		v.fobj.Trace(vis)
	case TagClass:
		v.cls.Trace(vis)
	}
}

// ClassOf returns the handle of the class v is an instance of. Primitives
// resolve to a context-wide bootstrap class; managed handles either carry
// their class directly (Object, ForeignObject) or resolve to a bootstrap
// class dedicated to their kind (String, Array, Function); a Class resolves
// to its own meta class.
func (v Value) ClassOf(ctx *Context) heap.Ptr[Class] {
	switch v.tag {
	case TagNil:
		return ctx.NilClass
	case TagBool:
		return ctx.BoolClass
	case TagInt:
		return ctx.IntClass
	case TagString:
		return ctx.StringClass
	case TagArray:
		return ctx.ArrayClass
	case TagFunction:
		return ctx.FunctionClass
	case TagForeignFunction:
		return ctx.FunctionClass
	case TagObject:
		return v.obj.Get().Class
	case TagForeignObject:
		return v.fobj.Get().Class
	case TagClass:
		return v.cls.Get().Meta
	default:
		return ctx.ObjectClass
	}
}

// Equal implements value equality for Object's `==` method. Managed handles
// compare by cell identity (Ptr equality), not by structural content — two
// distinct arrays holding the same elements are not equal unless a
// script-level method says otherwise.
func (v Value) Equal(other Value) bool {
	if v.tag != other.tag {
		return false
	}
	switch v.tag {
	case TagNil:
		return true
	case TagBool:
		return v.b == other.b
	case TagInt:
		return v.i == other.i
	case TagString:
		return v.str == other.str
	case TagArray:
		return v.arr == other.arr
	case TagFunction:
		return v.fn == other.fn
	case TagForeignFunction:
		return v.ffn == other.ffn
	case TagObject:
		return v.obj == other.obj
	case TagForeignObject:
		return v.fobj == other.fobj
	case TagClass:
		return v.cls == other.cls
	default:
		return false
	}
}

// Inspect returns a human-readable representation, used by error messages
// and the `inspect` foreign method.
func (v Value) Inspect() string {
	switch v.tag {
	case TagNil:
		return "nil"
	case TagBool:
		if v.b {
			return "true"
		}
		return "false"
	case TagInt:
		return fmt.Sprintf("%d", v.i)
	case TagString:
		if !v.str.IsValid() {
			return "<invalid string>"
		}
		return fmt.Sprintf("%q", string(v.str.Get().Bytes))
	case TagArray:
		if !v.arr.IsValid() {
			return "<invalid array>"
		}
		items := v.arr.Get().Items
		s := "["
		for i, item := range items {
			if i > 0 {
				s += ", "
			}
			s += item.Inspect()
		}
		return s + "]"
	case TagFunction:
		return "<function>"
	case TagForeignFunction:
		return "<foreign function>"
	case TagObject:
		return "<object>"
	case TagForeignObject:
		return "<foreign object>"
	case TagClass:
		if v.cls.IsValid() {
			return "<class " + v.cls.Get().Name + ">"
		}
		return "<invalid class>"
	default:
		return "<?>"
	}
}
