package vm

import (
	"fmt"
	"math"
	"sort"

	"github.com/quill-vm/quill/heap"
)

// LoadBuiltins installs the standard foreign methods on the primitive
// classes Context.bootstrap allocated just before calling it, and
// populates Context.Globals with the compiler-pre-bound names (class
// objects keyed by name) every compiled main function closes over.
func LoadBuiltins(ctx *Context) {
	loadObject(ctx)
	loadClassClass(ctx)
	loadNil(ctx)
	loadBool(ctx)
	loadInt(ctx)
	loadString(ctx)
	loadArray(ctx)
	loadFunction(ctx)
	loadRuntimeError(ctx)

	ctx.Globals["Object"] = ClassValue(ctx.ObjectClass)
	ctx.Globals["Class"] = ClassValue(ctx.ClassClass)
	ctx.Globals["Nil"] = ClassValue(ctx.NilClass)
	ctx.Globals["Bool"] = ClassValue(ctx.BoolClass)
	ctx.Globals["Int"] = ClassValue(ctx.IntClass)
	ctx.Globals["String"] = ClassValue(ctx.StringClass)
	ctx.Globals["Array"] = ClassValue(ctx.ArrayClass)
	ctx.Globals["Function"] = ClassValue(ctx.FunctionClass)
	ctx.Globals["RuntimeError"] = ClassValue(ctx.RuntimeErrorClass)
}

// def installs a lambda-style foreign method (arity counts self) on class.
func def(ctx *Context, class heap.Ptr[Class], name string, arity int, fn func(ctx *Context, args []Value) (Value, error)) {
	root := heap.Alloc(ctx.Heap, ForeignFunction{Name: name, Arity: arity, Call: fn})
	ClassDefine(ctx, class, name, ForeignFnValue(root.Value))
	root.Release()
}

func errorf(ctx *Context, format string, args ...any) error {
	return &UncaughtThrow{Value: newRuntimeError(ctx, format, args...)}
}

func coerceInt(ctx *Context, v Value, where string) (int64, error) {
	i, ok := v.AsInt()
	if !ok {
		return 0, errorf(ctx, "%s: expected an Int, got %s", where, v.Inspect())
	}
	return i, nil
}

func coerceString(ctx *Context, v Value, where string) (heap.Ptr[String], error) {
	s, ok := v.AsString()
	if !ok {
		return heap.Ptr[String]{}, errorf(ctx, "%s: expected a String, got %s", where, v.Inspect())
	}
	return s, nil
}

func coerceArray(ctx *Context, v Value, where string) (heap.Ptr[Array], error) {
	a, ok := v.AsArray()
	if !ok {
		return heap.Ptr[Array]{}, errorf(ctx, "%s: expected an Array, got %s", where, v.Inspect())
	}
	return a, nil
}

// coerceSeqIndex resolves a script-supplied Int index against a sequence of
// length n, allowing negative indices counted from the end, in [0, n).
func coerceSeqIndex(ctx *Context, n int, v Value, where string) (int, error) {
	i, err := coerceInt(ctx, v, where)
	if err != nil {
		return 0, err
	}
	idx := int(i)
	if idx < 0 {
		idx += n
	}
	if idx < 0 || idx >= n {
		return 0, errorf(ctx, "%s: index out of range", where)
	}
	return idx, nil
}

func newString(ctx *Context, s string) Value {
	root := heap.Alloc(ctx.Heap, String{Bytes: []byte(s)})
	root.Release()
	return StringValue(root.Value)
}

// notUnderstoodTrampoline implements Send's fallback path: try sending
// "not_understood" to the receiver, which by convention returns a function
// of one argument (the original message); call that function with msg
// (plus any extra Send-call arguments). If the receiver's class has no
// not_understood either, this is the double-miss case and a runtime script
// error is thrown.
func notUnderstoodTrampoline(ctx *Context, args []Value) (Value, error) {
	obj := args[0]
	msg, extra := args[1], args[2:]

	class := obj.ClassOf(ctx)
	handler, ok := ClassLookup(ctx, class, "not_understood")
	if !ok {
		ms, _ := msg.AsString()
		return Nil, errorf(ctx, "%s does not understand %q", obj.Inspect(), string(ms.Get().Bytes))
	}

	v := NewVM(ctx)
	defer v.Close()
	curried, err := v.callValue(handler, []Value{obj})
	if err != nil {
		return Nil, err
	}
	return v.callValue(curried, append([]Value{msg}, extra...))
}

func loadObject(ctx *Context) {
	def(ctx, ctx.ObjectClass, "==", 2, func(ctx *Context, args []Value) (Value, error) {
		return Bool(args[0].Equal(args[1])), nil
	})
	def(ctx, ctx.ObjectClass, "class", 1, func(ctx *Context, args []Value) (Value, error) {
		return ClassValue(args[0].ClassOf(ctx)), nil
	})
	def(ctx, ctx.ObjectClass, "inspect", 1, func(ctx *Context, args []Value) (Value, error) {
		return newString(ctx, args[0].Inspect()), nil
	})
	def(ctx, ctx.ObjectClass, "send", 2, func(ctx *Context, args []Value) (Value, error) {
		msg, err := coerceString(ctx, args[1], "Object.send")
		if err != nil {
			return Nil, err
		}
		v := NewVM(ctx)
		return v.SendCall(args[0], msg, nil)
	})
}

func loadClassClass(ctx *Context) {
	def(ctx, ctx.ClassClass, "==", 2, func(ctx *Context, args []Value) (Value, error) {
		a, aok := args[0].AsClass()
		b, bok := args[1].AsClass()
		return Bool(aok && bok && a == b), nil
	})
	def(ctx, ctx.ClassClass, "inspect", 1, func(ctx *Context, args []Value) (Value, error) {
		return newString(ctx, args[0].Inspect()), nil
	})
	def(ctx, ctx.ClassClass, "superclass", 1, func(ctx *Context, args []Value) (Value, error) {
		cp, err := coerceClass(ctx, args[0], "Class.superclass")
		if err != nil {
			return Nil, err
		}
		base := cp.Get().Base
		if base.IsNil() {
			return Nil, nil
		}
		return ClassValue(base), nil
	})
	def(ctx, ctx.ClassClass, "subclass", 2, func(ctx *Context, args []Value) (Value, error) {
		base, err := coerceClass(ctx, args[0], "Class.subclass")
		if err != nil {
			return Nil, err
		}
		name, err := coerceString(ctx, args[1], "Class.subclass")
		if err != nil {
			return Nil, err
		}
		root := heap.Alloc(ctx.Heap, NewClass(string(name.Get().Bytes), ctx.ClassClass, base))
		root.Release()
		return ClassValue(root.Value), nil
	})
	def(ctx, ctx.ClassClass, "lookup", 2, func(ctx *Context, args []Value) (Value, error) {
		cp, err := coerceClass(ctx, args[0], "Class.lookup")
		if err != nil {
			return Nil, err
		}
		name, err := coerceString(ctx, args[1], "Class.lookup")
		if err != nil {
			return Nil, err
		}
		method, ok := ClassLookup(ctx, cp, string(name.Get().Bytes))
		if !ok {
			return Nil, nil
		}
		return method, nil
	})
	def(ctx, ctx.ClassClass, "define", 3, func(ctx *Context, args []Value) (Value, error) {
		cp, err := coerceClass(ctx, args[0], "Class.define")
		if err != nil {
			return Nil, err
		}
		name, err := coerceString(ctx, args[1], "Class.define")
		if err != nil {
			return Nil, err
		}
		ClassDefine(ctx, cp, string(name.Get().Bytes), args[2])
		return args[2], nil
	})
	def(ctx, ctx.ClassClass, "undefine", 2, func(ctx *Context, args []Value) (Value, error) {
		cp, err := coerceClass(ctx, args[0], "Class.undefine")
		if err != nil {
			return Nil, err
		}
		name, err := coerceString(ctx, args[1], "Class.undefine")
		if err != nil {
			return Nil, err
		}
		old, ok := ClassRemove(ctx, cp, string(name.Get().Bytes))
		if !ok {
			return Nil, nil
		}
		return old, nil
	})
}

func coerceClass(ctx *Context, v Value, where string) (heap.Ptr[Class], error) {
	c, ok := v.AsClass()
	if !ok {
		return heap.Ptr[Class]{}, errorf(ctx, "%s: expected a Class, got %s", where, v.Inspect())
	}
	return c, nil
}

func loadNil(ctx *Context) {
	def(ctx, ctx.NilClass, "==", 2, func(ctx *Context, args []Value) (Value, error) {
		return Bool(args[1].IsNil()), nil
	})
	def(ctx, ctx.NilClass, "inspect", 1, func(ctx *Context, args []Value) (Value, error) {
		return newString(ctx, "nil"), nil
	})
}

func loadBool(ctx *Context) {
	def(ctx, ctx.BoolClass, "==", 2, func(ctx *Context, args []Value) (Value, error) {
		b, ok := args[0].AsBool()
		o, ook := args[1].AsBool()
		return Bool(ok && ook && b == o), nil
	})
	def(ctx, ctx.BoolClass, "!", 1, func(ctx *Context, args []Value) (Value, error) {
		b, _ := args[0].AsBool()
		return Bool(!b), nil
	})
	def(ctx, ctx.BoolClass, "inspect", 1, func(ctx *Context, args []Value) (Value, error) {
		return newString(ctx, args[0].Inspect()), nil
	})
}

func binaryIntOp(ctx *Context, where string, fn func(ctx *Context, x, y int64) (int64, error)) func(*Context, []Value) (Value, error) {
	return func(ctx *Context, args []Value) (Value, error) {
		x, err := coerceInt(ctx, args[0], where)
		if err != nil {
			return Nil, err
		}
		y, err := coerceInt(ctx, args[1], where)
		if err != nil {
			return Nil, err
		}
		z, err := fn(ctx, x, y)
		if err != nil {
			return Nil, err
		}
		return Int(z), nil
	}
}

func boolIntOp(ctx *Context, where string, fn func(x, y int64) bool) func(*Context, []Value) (Value, error) {
	return func(ctx *Context, args []Value) (Value, error) {
		x, err := coerceInt(ctx, args[0], where)
		if err != nil {
			return Nil, err
		}
		y, err := coerceInt(ctx, args[1], where)
		if err != nil {
			return Nil, err
		}
		return Bool(fn(x, y)), nil
	}
}

func loadInt(ctx *Context) {
	def(ctx, ctx.IntClass, "==", 2, func(ctx *Context, args []Value) (Value, error) {
		x, xok := args[0].AsInt()
		y, yok := args[1].AsInt()
		return Bool(xok && yok && x == y), nil
	})
	def(ctx, ctx.IntClass, "inspect", 1, func(ctx *Context, args []Value) (Value, error) {
		return newString(ctx, args[0].Inspect()), nil
	})
	def(ctx, ctx.IntClass, "~", 1, func(ctx *Context, args []Value) (Value, error) {
		x, err := coerceInt(ctx, args[0], "Int.~")
		if err != nil {
			return Nil, err
		}
		if x == math.MinInt64 {
			return Nil, errorf(ctx, "Int overflow")
		}
		return Int(-x), nil
	})

	def(ctx, ctx.IntClass, "+", 2, binaryIntOp(ctx, "Int.+", func(ctx *Context, x, y int64) (int64, error) {
		z := x + y
		if (y > 0 && z < x) || (y < 0 && z > x) {
			return 0, errorf(ctx, "Int overflow")
		}
		return z, nil
	}))
	def(ctx, ctx.IntClass, "-", 2, binaryIntOp(ctx, "Int.-", func(ctx *Context, x, y int64) (int64, error) {
		z := x - y
		if (y < 0 && z < x) || (y > 0 && z > x) {
			return 0, errorf(ctx, "Int overflow")
		}
		return z, nil
	}))
	def(ctx, ctx.IntClass, "*", 2, binaryIntOp(ctx, "Int.*", func(ctx *Context, x, y int64) (int64, error) {
		if x == 0 || y == 0 {
			return 0, nil
		}
		if (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
			return 0, errorf(ctx, "Int overflow")
		}
		z := x * y
		if z/y != x {
			return 0, errorf(ctx, "Int overflow")
		}
		return z, nil
	}))
	def(ctx, ctx.IntClass, "/", 2, binaryIntOp(ctx, "Int./", func(ctx *Context, x, y int64) (int64, error) {
		if y == 0 {
			return 0, errorf(ctx, "Division by zero")
		}
		if x == math.MinInt64 && y == -1 {
			return 0, errorf(ctx, "Int overflow")
		}
		return x / y, nil
	}))
	def(ctx, ctx.IntClass, "%", 2, binaryIntOp(ctx, "Int.%", func(ctx *Context, x, y int64) (int64, error) {
		if y == 0 {
			return 0, errorf(ctx, "Division by zero")
		}
		return x % y, nil
	}))

	def(ctx, ctx.IntClass, "<", 2, boolIntOp(ctx, "Int.<", func(x, y int64) bool { return x < y }))
	def(ctx, ctx.IntClass, ">", 2, boolIntOp(ctx, "Int.>", func(x, y int64) bool { return x > y }))
	def(ctx, ctx.IntClass, "<=", 2, boolIntOp(ctx, "Int.<=", func(x, y int64) bool { return x <= y }))
	def(ctx, ctx.IntClass, ">=", 2, boolIntOp(ctx, "Int.>=", func(x, y int64) bool { return x >= y }))

	def(ctx, ctx.IntClass.Get().Meta, "max", 1, func(ctx *Context, args []Value) (Value, error) {
		return Int(math.MaxInt64), nil
	})
	def(ctx, ctx.IntClass.Get().Meta, "min", 1, func(ctx *Context, args []Value) (Value, error) {
		return Int(math.MinInt64), nil
	})
}

func loadString(ctx *Context) {
	def(ctx, ctx.StringClass, "==", 2, func(ctx *Context, args []Value) (Value, error) {
		x, xok := args[0].AsString()
		y, yok := args[1].AsString()
		if !xok || !yok {
			return Bool(false), nil
		}
		return Bool(string(x.Get().Bytes) == string(y.Get().Bytes)), nil
	})
	def(ctx, ctx.StringClass, "inspect", 1, func(ctx *Context, args []Value) (Value, error) {
		s, err := coerceString(ctx, args[0], "String.inspect")
		if err != nil {
			return Nil, err
		}
		return newString(ctx, fmt.Sprintf("%q", string(s.Get().Bytes))), nil
	})
	def(ctx, ctx.StringClass, "display", 1, func(ctx *Context, args []Value) (Value, error) {
		return args[0], nil
	})
	def(ctx, ctx.StringClass, "++", 2, func(ctx *Context, args []Value) (Value, error) {
		x, err := coerceString(ctx, args[0], "String.++")
		if err != nil {
			return Nil, err
		}
		other := args[1]
		if _, ok := other.AsString(); !ok {
			v := NewVM(ctx)
			disp, err := v.Send(other, stringSelector(ctx, "display"))
			if err != nil {
				return Nil, err
			}
			other = disp
		}
		y, err := coerceString(ctx, other, "String.++")
		if err != nil {
			return Nil, err
		}
		return newString(ctx, string(x.Get().Bytes)+string(y.Get().Bytes)), nil
	})
	def(ctx, ctx.StringClass, "len", 1, func(ctx *Context, args []Value) (Value, error) {
		s, err := coerceString(ctx, args[0], "String.len")
		if err != nil {
			return Nil, err
		}
		return Int(int64(len(s.Get().Bytes))), nil
	})
	getStr := func(ctx *Context, args []Value) (Value, error) {
		s, err := coerceString(ctx, args[0], "String.get")
		if err != nil {
			return Nil, err
		}
		bytes := s.Get().Bytes
		i, err := coerceSeqIndex(ctx, len(bytes), args[1], "String.get")
		if err != nil {
			return Nil, err
		}
		return newString(ctx, string(bytes[i:i+1])), nil
	}
	def(ctx, ctx.StringClass, "get", 2, getStr)
	def(ctx, ctx.StringClass, "[]", 2, getStr)
	def(ctx, ctx.StringClass, "slice", 3, func(ctx *Context, args []Value) (Value, error) {
		s, err := coerceString(ctx, args[0], "String.slice")
		if err != nil {
			return Nil, err
		}
		bytes := s.Get().Bytes
		lo, err := coerceSeqIndex(ctx, len(bytes)+1, args[1], "String.slice")
		if err != nil {
			return Nil, err
		}
		hi, err := coerceSeqIndex(ctx, len(bytes)+1, args[2], "String.slice")
		if err != nil {
			return Nil, err
		}
		if hi < lo {
			hi = lo
		}
		return newString(ctx, string(bytes[lo:hi])), nil
	})
}

func stringSelector(ctx *Context, s string) heap.Ptr[String] {
	root := heap.Alloc(ctx.Heap, String{Bytes: []byte(s)})
	root.Release()
	return root.Value
}

func loadArray(ctx *Context) {
	def(ctx, ctx.ArrayClass, "==", 2, func(ctx *Context, args []Value) (Value, error) {
		xs, err := coerceArray(ctx, args[0], "Array.==")
		if err != nil {
			return Nil, err
		}
		ys, yerr := coerceArray(ctx, args[1], "Array.==")
		if yerr != nil {
			return Bool(false), nil
		}
		xi, yi := xs.Get().Items, ys.Get().Items
		if len(xi) != len(yi) {
			return Bool(false), nil
		}
		v := NewVM(ctx)
		defer v.Close()
		for i := range xi {
			res, err := v.sendTopLevel(xi[i], stringSelector(ctx, "=="), []Value{yi[i]})
			if err != nil {
				return Nil, err
			}
			if !res.IsTruthy() {
				return Bool(false), nil
			}
		}
		return Bool(true), nil
	})
	def(ctx, ctx.ArrayClass, "inspect", 1, func(ctx *Context, args []Value) (Value, error) {
		return newString(ctx, args[0].Inspect()), nil
	})
	def(ctx, ctx.ArrayClass, "len", 1, func(ctx *Context, args []Value) (Value, error) {
		a, err := coerceArray(ctx, args[0], "Array.len")
		if err != nil {
			return Nil, err
		}
		return Int(int64(len(a.Get().Items))), nil
	})
	def(ctx, ctx.ArrayClass, "first", 1, func(ctx *Context, args []Value) (Value, error) {
		a, err := coerceArray(ctx, args[0], "Array.first")
		if err != nil {
			return Nil, err
		}
		items := a.Get().Items
		if len(items) == 0 {
			return Nil, errorf(ctx, "Array.first: index out of range")
		}
		return items[0], nil
	})
	def(ctx, ctx.ArrayClass, "last", 1, func(ctx *Context, args []Value) (Value, error) {
		a, err := coerceArray(ctx, args[0], "Array.last")
		if err != nil {
			return Nil, err
		}
		items := a.Get().Items
		if len(items) == 0 {
			return Nil, errorf(ctx, "Array.last: index out of range")
		}
		return items[len(items)-1], nil
	})
	getArr := func(ctx *Context, args []Value) (Value, error) {
		a, err := coerceArray(ctx, args[0], "Array.get")
		if err != nil {
			return Nil, err
		}
		items := a.Get().Items
		i, err := coerceSeqIndex(ctx, len(items), args[1], "Array.get")
		if err != nil {
			return Nil, err
		}
		return items[i], nil
	}
	def(ctx, ctx.ArrayClass, "get", 2, getArr)
	def(ctx, ctx.ArrayClass, "[]", 2, getArr)
	def(ctx, ctx.ArrayClass, "set", 3, func(ctx *Context, args []Value) (Value, error) {
		a, err := coerceArray(ctx, args[0], "Array.set")
		if err != nil {
			return Nil, err
		}
		items := a.Get().Items
		i, err := coerceSeqIndex(ctx, len(items), args[1], "Array.set")
		if err != nil {
			return Nil, err
		}
		items[i] = args[2]
		return args[2], nil
	})
	def(ctx, ctx.ArrayClass, "push", 2, func(ctx *Context, args []Value) (Value, error) {
		a, err := coerceArray(ctx, args[0], "Array.push")
		if err != nil {
			return Nil, err
		}
		arr := a.Get()
		arr.Items = append(arr.Items, args[1])
		return args[0], nil
	})
	def(ctx, ctx.ArrayClass, "pop", 1, func(ctx *Context, args []Value) (Value, error) {
		a, err := coerceArray(ctx, args[0], "Array.pop")
		if err != nil {
			return Nil, err
		}
		arr := a.Get()
		n := len(arr.Items)
		if n == 0 {
			return Nil, errorf(ctx, "Array.pop: index out of range")
		}
		last := arr.Items[n-1]
		arr.Items = arr.Items[:n-1]
		return last, nil
	})
	def(ctx, ctx.ArrayClass, "drain", 1, func(ctx *Context, args []Value) (Value, error) {
		// Runs every element (LIFO, last pushed first) as a zero-argument
		// call, emptying the array regardless of whether any call errors —
		// the defer desugaring relies on this to let every closure it
		// registered in a block run once, even if an earlier one throws.
		// Only the first error is kept and returned, after the loop has
		// finished, so the caller's own unwind continues from there.
		a, err := coerceArray(ctx, args[0], "Array.drain")
		if err != nil {
			return Nil, err
		}
		arr := a.Get()
		items := arr.Items
		arr.Items = nil
		v := NewVM(ctx)
		defer v.Close()
		var firstErr error
		for i := len(items) - 1; i >= 0; i-- {
			if _, callErr := v.callValue(items[i], nil); callErr != nil && firstErr == nil {
				firstErr = callErr
			}
		}
		if firstErr != nil {
			return Nil, firstErr
		}
		return Nil, nil
	})
	def(ctx, ctx.ArrayClass, "clear", 1, func(ctx *Context, args []Value) (Value, error) {
		a, err := coerceArray(ctx, args[0], "Array.clear")
		if err != nil {
			return Nil, err
		}
		a.Get().Items = nil
		return args[0], nil
	})
	def(ctx, ctx.ArrayClass, "clone", 1, func(ctx *Context, args []Value) (Value, error) {
		a, err := coerceArray(ctx, args[0], "Array.clone")
		if err != nil {
			return Nil, err
		}
		root := heap.Alloc(ctx.Heap, Array{Items: append([]Value(nil), a.Get().Items...)})
		root.Release()
		return ArrayValue(root.Value), nil
	})
	def(ctx, ctx.ArrayClass, "map", 2, func(ctx *Context, args []Value) (Value, error) {
		a, err := coerceArray(ctx, args[0], "Array.map")
		if err != nil {
			return Nil, err
		}
		items := a.Get().Items
		out := make([]Value, len(items))
		v := NewVM(ctx)
		defer v.Close()
		for i, item := range items {
			res, err := v.callValue(args[1], []Value{item})
			if err != nil {
				return Nil, err
			}
			out[i] = res
		}
		root := heap.Alloc(ctx.Heap, Array{Items: out})
		root.Release()
		return ArrayValue(root.Value), nil
	})
	def(ctx, ctx.ArrayClass, "filter", 2, func(ctx *Context, args []Value) (Value, error) {
		a, err := coerceArray(ctx, args[0], "Array.filter")
		if err != nil {
			return Nil, err
		}
		items := a.Get().Items
		var out []Value
		v := NewVM(ctx)
		defer v.Close()
		for _, item := range items {
			res, err := v.callValue(args[1], []Value{item})
			if err != nil {
				return Nil, err
			}
			if res.IsTruthy() {
				out = append(out, item)
			}
		}
		root := heap.Alloc(ctx.Heap, Array{Items: out})
		root.Release()
		return ArrayValue(root.Value), nil
	})
	def(ctx, ctx.ArrayClass, "reverse", 1, func(ctx *Context, args []Value) (Value, error) {
		a, err := coerceArray(ctx, args[0], "Array.reverse")
		if err != nil {
			return Nil, err
		}
		items := a.Get().Items
		out := make([]Value, len(items))
		for i, item := range items {
			out[len(items)-1-i] = item
		}
		root := heap.Alloc(ctx.Heap, Array{Items: out})
		root.Release()
		return ArrayValue(root.Value), nil
	})
	def(ctx, ctx.ArrayClass, "sort_by", 2, func(ctx *Context, args []Value) (Value, error) {
		a, err := coerceArray(ctx, args[0], "Array.sort_by")
		if err != nil {
			return Nil, err
		}
		items := append([]Value(nil), a.Get().Items...)
		v := NewVM(ctx)
		defer v.Close()
		var sortErr error
		sort.SliceStable(items, func(i, j int) bool {
			if sortErr != nil {
				return false
			}
			res, err := v.callValue(args[1], []Value{items[i], items[j]})
			if err != nil {
				sortErr = err
				return false
			}
			return res.IsTruthy()
		})
		if sortErr != nil {
			return Nil, sortErr
		}
		root := heap.Alloc(ctx.Heap, Array{Items: items})
		root.Release()
		return ArrayValue(root.Value), nil
	})

	def(ctx, ctx.ArrayClass.Get().Meta, "new", 1, func(ctx *Context, args []Value) (Value, error) {
		root := heap.Alloc(ctx.Heap, Array{})
		root.Release()
		return ArrayValue(root.Value), nil
	})
}

func loadFunction(ctx *Context) {
	def(ctx, ctx.FunctionClass, "==", 2, func(ctx *Context, args []Value) (Value, error) {
		xf, xok := args[0].AsFunction()
		yf, yok := args[1].AsFunction()
		if xok && yok {
			return Bool(xf == yf), nil
		}
		xff, xok := args[0].AsForeignFunction()
		yff, yok := args[1].AsForeignFunction()
		return Bool(xok && yok && xff == yff), nil
	})
	def(ctx, ctx.FunctionClass, "inspect", 1, func(ctx *Context, args []Value) (Value, error) {
		return newString(ctx, args[0].Inspect()), nil
	})
	def(ctx, ctx.FunctionClass, "apply", 2, func(ctx *Context, args []Value) (Value, error) {
		argsArr, err := coerceArray(ctx, args[1], "Function.apply")
		if err != nil {
			return Nil, err
		}
		v := NewVM(ctx)
		defer v.Close()
		return v.callValue(args[0], argsArr.Get().Items)
	})
}

func loadRuntimeError(ctx *Context) {
	def(ctx, ctx.RuntimeErrorClass, "inspect", 1, func(ctx *Context, args []Value) (Value, error) {
		op, ok := args[0].AsObject()
		if !ok {
			return newString(ctx, args[0].Inspect()), nil
		}
		msg, ok := op.Get().GetProp("message")
		if !ok {
			return newString(ctx, "<RuntimeError>"), nil
		}
		ms, _ := msg.AsString()
		return newString(ctx, "RuntimeError: "+string(ms.Get().Bytes)), nil
	})
}
