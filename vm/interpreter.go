package vm

import (
	"fmt"

	"github.com/quill-vm/quill/heap"
	"github.com/quill-vm/quill/rterrors"
)

// frame is one activation record on the interpreter's call stack: the
// closure being executed, its instruction pointer, the absolute data-stack
// index below its locals, and the open upvalues it has created via MakeUp
// so far, closed when the frame returns.
type frame struct {
	fn           heap.Ptr[Function]
	ip           int
	bottom       int
	openUpvalues []heap.Ptr[Upvalue]
}

// VM is one execution of the bytecode interpreter over a Context. It is
// not reused across unrelated top-level calls into the runtime — callers
// construct one with NewVM, and Run, Call, Send and SendCall each run it to
// completion or to an uncaught throw and then Close it.
type VM struct {
	ctx      *Context
	data     []Value
	frames   []*frame
	handlers []ExceptionHandler

	notUnderstood heap.Ptr[ForeignFunction]

	selfRoot *heap.Root[*VM]
}

// NewVM constructs an interpreter bound to ctx. Each call into the runtime
// gets its own VM; Context (and its Heap) is the thing that outlives any
// single call. The VM roots its own operand stack and call frames for its
// whole lifetime — callers must defer Close once they are done with it, the
// same discipline heap.Alloc's returned Root expects everywhere else.
func NewVM(ctx *Context) *VM {
	vm := &VM{
		ctx:           ctx,
		notUnderstood: ctx.notUnderstood,
	}
	vm.selfRoot = heap.NewRoot(ctx.Heap, vm)
	return vm
}

// Close releases the root keeping this VM's data stack and frames reachable.
// A VM allocates transient values (boxed strings and arrays, cloned
// closures, upvalue cells) throughout its run and relies on its own stack
// tracing them, rather than on each individual allocation's Root, once that
// value is installed on the stack; Close lets the collector finally see
// everything this VM ever touched as unreachable once it is actually done.
func (vm *VM) Close() {
	vm.selfRoot.Release()
}

// Trace implements heap.Traceable: a VM roots its own operand stack and the
// Function each live frame is executing — the two places a running call can
// hold the only remaining reference to a heap cell. A callee popped off the
// data stack into a frame, for instance, has no other root once OpCall's
// callee pop runs; only the frame's fn field still points at it.
func (vm *VM) Trace(v *heap.Visitor) {
	for _, val := range vm.data {
		val.Trace(v)
	}
	for _, fr := range vm.frames {
		fr.fn.Trace(v)
	}
}

func (vm *VM) push(v Value) {
	vm.data = append(vm.data, v)
}

func (vm *VM) pop() Value {
	n := len(vm.data) - 1
	v := vm.data[n]
	vm.data = vm.data[:n]
	return v
}

func (vm *VM) top() *frame {
	return vm.frames[len(vm.frames)-1]
}

// Run executes main with no arguments and returns its final top-of-stack
// value, or an *UncaughtThrow if a script-level Throw reached an empty
// exception stack, or a *rterrors.HostFault for anything else gone wrong.
func (vm *VM) Run(main heap.Ptr[Function]) (Value, error) {
	defer vm.Close()
	return vm.callValue(FunctionValue(main), nil)
}

// Call invokes f with args from outside any running frame — the host
// boundary's general entry point. Send and SendCall do not go through it;
// they share sendTopLevel.
func (vm *VM) Call(f heap.Ptr[Function], args []Value) (Value, error) {
	defer vm.Close()
	return vm.callValue(FunctionValue(f), args)
}

// Send resolves msg against obj's class and invokes the result with obj
// prepended as the receiver argument, falling back to not_understood on a
// lookup miss.
func (vm *VM) Send(obj Value, msg heap.Ptr[String]) (Value, error) {
	defer vm.Close()
	return vm.sendTopLevel(obj, msg, nil)
}

// SendCall resolves msg against obj's class and invokes the result with
// obj followed by args.
func (vm *VM) SendCall(obj Value, msg heap.Ptr[String], args []Value) (Value, error) {
	defer vm.Close()
	return vm.sendTopLevel(obj, msg, args)
}

// sendTopLevel is Send/SendCall's shared body, kept apart from Close so a
// caller within this package that wants to reuse one VM's data stack (and
// so its self-root) across several sends from the same loop — Array.==,
// for instance — can call it directly instead of going through the
// self-closing exported wrappers.
func (vm *VM) sendTopLevel(obj Value, msg heap.Ptr[String], extra []Value) (Value, error) {
	name := string(msg.Get().Bytes)
	class := obj.ClassOf(vm.ctx)
	method, ok := ClassLookup(vm.ctx, class, name)
	if !ok {
		args := append([]Value{obj, StringValue(msg)}, extra...)
		return vm.callValue(ForeignFnValue(vm.notUnderstood), args)
	}
	// Mirrors dispatchSend/OpSendCall: obj and every extra argument are
	// assembled into one args slice and passed to the method in a single
	// call. A method's Go closure (or a compiled function's Nargs check)
	// expects its whole argument list up front, not one argument at a
	// time, so there is no "curried" intermediate result to call again.
	args := append([]Value{obj}, extra...)
	return vm.callValue(method, args)
}

// callValue dispatches a callable Value (Function or ForeignFunction) with
// args already assembled in call order, running the bytecode loop until
// that call's frame returns (for a Function) or returning the Go call's
// result directly (for a ForeignFunction).
func (vm *VM) callValue(callee Value, args []Value) (Value, error) {
	switch callee.Tag() {
	case TagFunction:
		fp, _ := callee.AsFunction()
		return vm.runFunction(fp, args)
	case TagForeignFunction:
		ffp, _ := callee.AsForeignFunction()
		ff := ffp.Get()
		v, err := ff.Call(vm.ctx, args)
		if err != nil {
			if uc, ok := err.(*UncaughtThrow); ok {
				return vm.throwValue(uc.Value)
			}
			return Nil, err
		}
		return v, nil
	default:
		return vm.throwValue(vm.runtimeError("not a callable value: %s", callee.Inspect()))
	}
}

// runFunction pushes a new frame for fp, runs the dispatch loop starting
// at instruction 0, and returns the single value left on the data stack by
// its Return, unless execution instead ended in an uncaught throw that
// propagated past this call's own frame.
func (vm *VM) runFunction(fp heap.Ptr[Function], args []Value) (Value, error) {
	proto := fp.Get().Proto.Get()
	if len(args) != proto.Nargs {
		return vm.throwValue(vm.runtimeError(
			"%s expects %d argument(s), got %d", proto.Name, proto.Nargs, len(args)))
	}

	callDepth := len(vm.frames)
	bottom := len(vm.data)
	vm.data = append(vm.data, args...)
	vm.frames = append(vm.frames, &frame{fn: fp, ip: 0, bottom: bottom})

	for {
		result, done, threw, err := vm.step(vm.top())
		if err != nil {
			vm.popFramesTo(callDepth)
			return Nil, err
		}
		if threw {
			if len(vm.frames) <= callDepth {
				return Nil, &UncaughtThrow{Value: vm.data[len(vm.data)-1]}
			}
			continue
		}
		if done {
			if len(vm.frames) <= callDepth {
				return result, nil
			}
			continue
		}
	}
}

func (vm *VM) popFramesTo(depth int) {
	for len(vm.frames) > depth {
		vm.closeFrame(vm.frames[len(vm.frames)-1])
		vm.frames = vm.frames[:len(vm.frames)-1]
	}
}

// closeFrame converts every upvalue the frame created via MakeUp from open
// to closed, capturing its current stack slot's value, since that slot
// stops existing once the frame is popped.
func (vm *VM) closeFrame(fr *frame) {
	for _, up := range fr.openUpvalues {
		u := up.Get()
		if u.Open {
			u.Closed = vm.data[u.Index]
			u.Open = false
		}
	}
}

// step executes a single instruction of the innermost frame. Returns
// (result, true, false, nil) on Return, (_, false, true, nil) right after a
// Throw has been processed (the caller inspects frame depth to tell a
// handled throw from one that unwound past it), and (_, false, false, nil)
// to keep looping.
func (vm *VM) step(fr *frame) (result Value, done bool, threw bool, err error) {
	proto := fr.fn.Get().Proto.Get()
	if fr.ip >= len(proto.Code) {
		return Nil, false, false, rterrors.NewHostFaultf("instruction pointer %d past end of code (len %d)", fr.ip, len(proto.Code))
	}
	inst := proto.Code[fr.ip]
	fr.ip++

	switch inst.Op {
	case OpNop:
		// no-op

	case OpPop:
		vm.pop()

	case OpNip:
		top := vm.pop()
		vm.pop()
		vm.push(top)

	case OpDup:
		vm.push(vm.data[len(vm.data)-1])

	case OpNil:
		vm.push(Nil)

	case OpGetVar:
		idx := fr.bottom + int(inst.Arg)
		vm.push(vm.data[idx])

	case OpSetVar:
		idx := fr.bottom + int(inst.Arg)
		vm.data[idx] = vm.pop()

	case OpGetConst:
		if int(inst.Arg) >= len(proto.Constants) {
			return Nil, false, false, rterrors.NewHostFaultf("constant index %d out of range", inst.Arg)
		}
		vm.push(proto.Constants[inst.Arg])

	case OpGetUp:
		fn := fr.fn.Get()
		if int(inst.Arg) >= len(fn.Upvalues) {
			return Nil, false, false, rterrors.NewHostFaultf("upvalue index %d out of range", inst.Arg)
		}
		u := fn.Upvalues[inst.Arg].Get()
		if u.Open {
			vm.push(vm.data[u.Index])
		} else {
			vm.push(u.Closed)
		}

	case OpSetUp:
		fn := fr.fn.Get()
		if int(inst.Arg) >= len(fn.Upvalues) {
			return Nil, false, false, rterrors.NewHostFaultf("upvalue index %d out of range", inst.Arg)
		}
		u := fn.Upvalues[inst.Arg].Get()
		val := vm.pop()
		if u.Open {
			vm.data[u.Index] = val
		} else {
			u.Closed = val
		}

	case OpResetUp:
		top := vm.data[len(vm.data)-1]
		fp, ok := top.AsFunction()
		if !ok {
			return Nil, false, false, rterrors.NewHostFaultf("ResetUp on non-function value")
		}
		// Every execution of a lambda site pushes the same constant-pool
		// Function; clone it here so MakeUp/CopyUp build a fresh upvalue
		// set for this closure instance instead of mutating (and aliasing)
		// the shared prototype every other closure from this site points to.
		clone := heap.Alloc(vm.ctx.Heap, Function{Proto: fp.Get().Proto})
		vm.data[len(vm.data)-1] = FunctionValue(clone.Value)
		clone.Release()

	case OpMakeUp:
		top := vm.data[len(vm.data)-1]
		fp, _ := top.AsFunction()
		fn := fp.Get()
		idx := fr.bottom + int(inst.Arg)
		root := heap.Alloc(vm.ctx.Heap, Upvalue{Open: true, Index: idx})
		fn.Upvalues = append(fn.Upvalues, root.Value)
		fr.openUpvalues = append(fr.openUpvalues, root.Value)
		root.Release()

	case OpCopyUp:
		top := vm.data[len(vm.data)-1]
		fp, _ := top.AsFunction()
		fn := fp.Get()
		enclosing := fr.fn.Get()
		if int(inst.Arg) >= len(enclosing.Upvalues) {
			return Nil, false, false, rterrors.NewHostFaultf("upvalue index %d out of range", inst.Arg)
		}
		fn.Upvalues = append(fn.Upvalues, enclosing.Upvalues[inst.Arg])

	case OpGetProp:
		name := vm.pop()
		obj := vm.pop()
		ns, ok := name.AsString()
		if !ok {
			return vm.throwStep(vm.runtimeError("property name must be a string, got %s", name.Inspect()))
		}
		val, ok := vm.getProp(obj, string(ns.Get().Bytes))
		if !ok {
			return vm.throwStep(vm.runtimeError("undefined property %q", string(ns.Get().Bytes)))
		}
		vm.push(val)

	case OpSetProp:
		val := vm.pop()
		name := vm.pop()
		obj := vm.pop()
		ns, ok := name.AsString()
		if !ok {
			return vm.throwStep(vm.runtimeError("property name must be a string, got %s", name.Inspect()))
		}
		if !vm.setProp(obj, string(ns.Get().Bytes), val) {
			return vm.throwStep(vm.runtimeError("cannot set properties on a %s", obj.Tag()))
		}

	case OpCall:
		n := int(inst.Arg)
		args := append([]Value(nil), vm.data[len(vm.data)-n:]...)
		vm.data = vm.data[:len(vm.data)-n]
		callee := vm.pop()
		return vm.dispatchCall(callee, args)

	case OpSend:
		msg := vm.pop()
		obj := vm.pop()
		ms, ok := msg.AsString()
		if !ok {
			return vm.throwStep(vm.runtimeError("message selector must be a string, got %s", msg.Inspect()))
		}
		return vm.dispatchSend(obj, ms, nil)

	case OpSendCall:
		n := int(inst.Arg)
		msg := vm.pop()
		args := append([]Value(nil), vm.data[len(vm.data)-n:]...)
		vm.data = vm.data[:len(vm.data)-n]
		obj := vm.pop()
		ms, ok := msg.AsString()
		if !ok {
			return vm.throwStep(vm.runtimeError("message selector must be a string, got %s", msg.Inspect()))
		}
		return vm.dispatchSend(obj, ms, args)

	case OpReturn:
		val := vm.pop()
		// Drop the handlers this frame installed and never Uncatch'ed.
		for len(vm.handlers) > 0 && vm.handlers[len(vm.handlers)-1].CallDepth >= len(vm.frames) {
			vm.handlers = vm.handlers[:len(vm.handlers)-1]
		}
		vm.closeFrame(fr)
		vm.data = vm.data[:fr.bottom]
		vm.frames = vm.frames[:len(vm.frames)-1]
		vm.push(val)
		return val, true, false, nil

	case OpJump:
		fr.ip = int(inst.Arg)

	case OpJumpIf:
		v := vm.pop()
		b, ok := v.AsBool()
		if !ok {
			return vm.throwStep(vm.runtimeError("Expected bool in conditional"))
		}
		if b {
			fr.ip = int(inst.Arg)
		}

	case OpJumpUnless:
		v := vm.pop()
		b, ok := v.AsBool()
		if !ok {
			return vm.throwStep(vm.runtimeError("Expected bool in conditional"))
		}
		if !b {
			fr.ip = int(inst.Arg)
		}

	case OpThrow:
		exv := vm.pop()
		return vm.throwStep(exv)

	case OpCatch:
		vm.handlers = append(vm.handlers, ExceptionHandler{
			Address:   inst.Arg,
			DataDepth: len(vm.data),
			CallDepth: len(vm.frames),
		})

	case OpUncatch:
		if len(vm.handlers) == 0 {
			return Nil, false, false, rterrors.NewHostFaultf("Uncatch with no active handler")
		}
		vm.handlers = vm.handlers[:len(vm.handlers)-1]

	default:
		return Nil, false, false, rterrors.NewHostFaultf("unknown opcode %d", inst.Op)
	}

	return Nil, false, false, nil
}

// dispatchCall implements the Call opcode's stack effect beyond plain
// Value plumbing: a Function callee keeps running inside this same step
// loop (by pushing a new frame and reporting "not yet done"), while a
// ForeignFunction callee runs to completion immediately, since it never
// participates in this VM's bytecode loop.
func (vm *VM) dispatchCall(callee Value, args []Value) (Value, bool, bool, error) {
	switch callee.Tag() {
	case TagFunction:
		fp, _ := callee.AsFunction()
		proto := fp.Get().Proto.Get()
		if len(args) != proto.Nargs {
			return vm.throwStep(vm.runtimeError(
				"%s expects %d argument(s), got %d", proto.Name, proto.Nargs, len(args)))
		}
		bottom := len(vm.data)
		vm.data = append(vm.data, args...)
		vm.frames = append(vm.frames, &frame{fn: fp, ip: 0, bottom: bottom})
		return Nil, false, false, nil

	case TagForeignFunction:
		ffp, _ := callee.AsForeignFunction()
		ff := ffp.Get()
		v, err := ff.Call(vm.ctx, args)
		if err != nil {
			if uc, ok := err.(*UncaughtThrow); ok {
				return vm.throwStep(uc.Value)
			}
			return Nil, false, false, err
		}
		vm.push(v)
		return Nil, false, false, nil

	default:
		return vm.throwStep(vm.runtimeError("not a callable value: %s", callee.Inspect()))
	}
}

// dispatchSend implements Send's stack effect inline in the step loop, the
// same way dispatchCall does for Call: resolve msg on obj's class, then
// reuse dispatchCall with the resolved method and obj prepended, falling
// back to the not_understood trampoline on a lookup miss.
func (vm *VM) dispatchSend(obj Value, msg heap.Ptr[String], extra []Value) (Value, bool, bool, error) {
	name := string(msg.Get().Bytes)
	class := obj.ClassOf(vm.ctx)
	method, ok := ClassLookup(vm.ctx, class, name)
	if !ok {
		args := append([]Value{obj, StringValue(msg)}, extra...)
		return vm.dispatchCall(ForeignFnValue(vm.notUnderstood), args)
	}
	args := append([]Value{obj}, extra...)
	return vm.dispatchCall(method, args)
}

// getProp resolves a property read against every kind of Value that can
// carry one: an Object's instance properties, or a Class's own property
// bag when obj is itself a Class (class-side configuration).
func (vm *VM) getProp(obj Value, name string) (Value, bool) {
	switch obj.Tag() {
	case TagObject:
		op, _ := obj.AsObject()
		return op.Get().GetProp(name)
	case TagClass:
		cp, _ := obj.AsClass()
		return cp.Get().GetProp(name)
	default:
		return Nil, false
	}
}

func (vm *VM) setProp(obj Value, name string, val Value) bool {
	switch obj.Tag() {
	case TagObject:
		op, _ := obj.AsObject()
		op.Get().SetProp(name, val)
		return true
	case TagClass:
		cp, _ := obj.AsClass()
		cp.Get().SetProp(name, val)
		return true
	default:
		return false
	}
}

// throwStep implements the throw/unwind algorithm from inside the step
// loop: on an empty exception stack, drop every frame, leave the thrown
// value as the sole data-stack entry, and report "threw" so the caller
// (runFunction) can tell this unwound past its own call. Otherwise pop the
// innermost handler, truncate both stacks to its recorded depths, push the
// thrown value, and resume at its recorded address.
func (vm *VM) throwStep(ex Value) (Value, bool, bool, error) {
	if len(vm.handlers) == 0 {
		vm.popFramesTo(0)
		vm.data = vm.data[:0]
		vm.push(ex)
		return Nil, false, true, nil
	}
	h := vm.handlers[len(vm.handlers)-1]
	vm.handlers = vm.handlers[:len(vm.handlers)-1]

	vm.popFramesTo(h.CallDepth)
	vm.data = vm.data[:h.DataDepth]
	vm.push(ex)

	if len(vm.frames) > 0 {
		vm.top().ip = int(h.Address)
	}
	return Nil, false, true, nil
}

// throwValue is throwStep's counterpart for call sites outside the step
// loop (callValue, runFunction's arity check): it performs the same unwind
// and reports an *UncaughtThrow if it reached the bottom of the handler
// stack, otherwise resumes the dispatch loop at the handler's frame.
func (vm *VM) throwValue(ex Value) (Value, error) {
	if len(vm.handlers) == 0 {
		vm.popFramesTo(0)
		vm.data = vm.data[:0]
		vm.push(ex)
		return Nil, &UncaughtThrow{Value: ex}
	}
	h := vm.handlers[len(vm.handlers)-1]
	vm.handlers = vm.handlers[:len(vm.handlers)-1]

	vm.popFramesTo(h.CallDepth)
	vm.data = vm.data[:h.DataDepth]
	vm.push(ex)

	if len(vm.frames) == 0 {
		return Nil, &UncaughtThrow{Value: ex}
	}
	vm.top().ip = int(h.Address)

	callDepth := h.CallDepth
	for {
		result, done, threw, err := vm.step(vm.top())
		if err != nil {
			vm.popFramesTo(callDepth)
			return Nil, err
		}
		if threw {
			if len(vm.frames) <= callDepth {
				return Nil, &UncaughtThrow{Value: vm.data[len(vm.data)-1]}
			}
			continue
		}
		if done {
			if len(vm.frames) <= callDepth {
				return result, nil
			}
			continue
		}
	}
}

// runtimeError builds the ordinary script-visible Value thrown for a
// failure the interpreter itself detects (wrong arity, non-callable Call
// target, missing property) rather than one a script Throw raised
// explicitly. It is an Object of the runtime's RuntimeError class carrying
// a message property — a script Value, never a Go error, per the
// throw/unwind contract; it only crosses into *UncaughtThrow if it escapes
// every handler.
func (vm *VM) runtimeError(format string, args ...any) Value {
	return newRuntimeError(vm.ctx, format, args...)
}

// newRuntimeError is runtimeError's free-function form, used by bootstrap
// foreign methods (including the not_understood trampoline) that have a
// *Context but no VM of their own.
func newRuntimeError(ctx *Context, format string, args ...any) Value {
	msg := fmt.Sprintf(format, args...)
	objRoot := heap.Alloc(ctx.Heap, NewObject(ctx.RuntimeErrorClass))
	errObj := objRoot.Value.Get()
	strRoot := heap.Alloc(ctx.Heap, String{Bytes: []byte(msg)})
	errObj.SetProp("message", StringValue(strRoot.Value))
	strRoot.Release()
	objRoot.Release()
	return ObjectValue(objRoot.Value)
}
