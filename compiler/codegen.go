package compiler

import (
	"fmt"
	"sort"

	"github.com/quill-vm/quill/heap"
	"github.com/quill-vm/quill/rterrors"
	"github.com/quill-vm/quill/vm"
)

// ---------------------------------------------------------------------------
// Codegen: a single-pass AST-to-bytecode compiler.
//
// The central invariant every compile* function must preserve is that the
// compiler's tracked local count (funcEnv.nlocals) always equals the real
// data-stack depth, relative to the current function's frame bottom, at
// every point in the emitted instruction stream. Every pushLocalVar/popLocalVar
// call below exists only to keep that bookkeeping in sync; the surrounding
// emit calls are what actually produce the bytecode.
// ---------------------------------------------------------------------------

// loopEnv tracks the unpatched break/continue jumps belonging to the block
// a WhileExpr pushed for its own condition+body.
type loopEnv struct {
	continueJumps []int
	breakJumps    []int
}

// blockEnv is one lexical scope: the local slot its first declaration would
// occupy, the names already bound to a slot, and the names declared but not
// yet reached in program order (declareExpr pre-reserves a nil slot for
// every let in a block before any of the block's statements compile, so
// inner closures can capture a slot that hasn't been assigned yet).
type blockEnv struct {
	bottom       int
	definitions  map[string]int
	declarations map[string][]int
	loop         *loopEnv

	// deferRegistry is the generated local name holding this block's defer
	// closures (an Array), set only when the block actually contained a
	// DeferExpr. break/continue/return walk the block stack and drain every
	// registry they pass through before jumping out.
	deferRegistry string
}

// funcEnv is one activation of the compiler itself: the FunctionProto being
// built, the block stack within it, and the upvalue slots it has resolved
// so far.
type funcEnv struct {
	proto    *vm.FunctionProto
	nlocals  int
	blocks   []*blockEnv
	upvalues map[string]int
}

type releasable interface{ Release() }

// compiler holds the state of one Compile call. It is not reused across
// calls.
type compiler struct {
	ctx     *vm.Context
	funcs   []*funcEnv
	gensymN int

	// keep pins every heap allocation made during compilation (string
	// constants, nested FunctionProto/Function values) so a collection
	// triggered by a later allocation can't sweep them before the
	// top-level Function — which is what will actually keep them
	// reachable — exists. Released in one pass once compilation succeeds
	// or fails; the in-progress FunctionProto/Function graph is plain Go
	// memory until then and gives the heap nothing to trace.
	keep []releasable
}

// Compile compiles a top-level program (the statement list produced by
// parsing a whole script) into a zero-argument Function ready for
// (*vm.VM).Run. The returned Root must be kept alive by the caller for as
// long as the compiled program may run; it is the only root compilation
// hands back; everything else compilation pinned internally is released
// before Compile returns.
func Compile(ctx *vm.Context, program []Expr) (*heap.Root[heap.Ptr[vm.Function]], error) {
	c := &compiler{ctx: ctx}
	fnRoot, err := c.compileMain(program)
	c.releaseAll()
	if err != nil {
		return nil, err
	}
	return fnRoot, nil
}

func (c *compiler) track(r releasable) { c.keep = append(c.keep, r) }

func (c *compiler) releaseAll() {
	for _, r := range c.keep {
		r.Release()
	}
	c.keep = nil
}

func (c *compiler) gensym(prefix string) string {
	c.gensymN++
	return fmt.Sprintf("$%s%d", prefix, c.gensymN)
}

func posOf(n Node) rterrors.Position {
	p := n.Span().Start
	return rterrors.Position{Line: p.Line, Column: p.Column}
}

// ---------------------------------------------------------------------------
// Function/block/local stack management
// ---------------------------------------------------------------------------

func (c *compiler) pushFunc(name string) {
	c.funcs = append(c.funcs, &funcEnv{
		proto:    &vm.FunctionProto{Name: name},
		upvalues: map[string]int{},
	})
}

func (c *compiler) popFunc() *vm.FunctionProto {
	fn := c.funcs[len(c.funcs)-1]
	c.funcs = c.funcs[:len(c.funcs)-1]
	return fn.proto
}

func (c *compiler) curFunc() *funcEnv { return c.funcs[len(c.funcs)-1] }

func (c *compiler) peekProto() *vm.FunctionProto { return c.curFunc().proto }

func (c *compiler) pushBlock() {
	fn := c.curFunc()
	fn.blocks = append(fn.blocks, &blockEnv{
		bottom:       fn.nlocals,
		definitions:  map[string]int{},
		declarations: map[string][]int{},
	})
}

func (c *compiler) popBlock() {
	fn := c.curFunc()
	b := fn.blocks[len(fn.blocks)-1]
	fn.blocks = fn.blocks[:len(fn.blocks)-1]
	fn.nlocals = b.bottom
}

func (c *compiler) peekBlock() *blockEnv {
	fn := c.curFunc()
	return fn.blocks[len(fn.blocks)-1]
}

func (c *compiler) pushLocalVar() { c.curFunc().nlocals++ }
func (c *compiler) popLocalVar()  { c.curFunc().nlocals-- }

// ---------------------------------------------------------------------------
// Instruction emission
// ---------------------------------------------------------------------------

func (c *compiler) getAddress() int { return len(c.peekProto().Code) }

func (c *compiler) emit0(op vm.Opcode) {
	c.peekProto().Code = append(c.peekProto().Code, vm.Instruction{Op: op})
}

func (c *compiler) emit1(op vm.Opcode, arg uint32) {
	c.peekProto().Code = append(c.peekProto().Code, vm.Instruction{Op: op, Arg: arg})
}

// patchJump backfills a jump emitted at addr with the current address —
// used for "jump to here, once I know where here is" forward jumps.
func (c *compiler) patchJump(addr int) {
	c.peekProto().Code[addr].Arg = uint32(c.getAddress())
}

// patchJumpTo backfills a jump emitted at addr with an explicit target —
// used for break/continue jumps collected in a loopEnv and resolved once
// the loop's start/end addresses are known.
func (c *compiler) patchJumpTo(addr, target int) {
	c.peekProto().Code[addr].Arg = uint32(target)
}

func (c *compiler) compilePop(n int) {
	for i := 0; i < n; i++ {
		c.emit0(vm.OpPop)
	}
}

func (c *compiler) compileNip(n int) {
	for i := 0; i < n; i++ {
		c.emit0(vm.OpNip)
	}
}

// compilePopAll discards every local the current block has accumulated,
// used when a block's result isn't wanted (e.g. the false path of an if
// with no else still needs its locals cleared before falling through).
func (c *compiler) compilePopAll() {
	c.compilePop(c.curFunc().nlocals - c.peekBlock().bottom)
}

// compileNipAll collapses every local the current block has accumulated
// down to just the one on top (the block's result), discarding the rest
// with Nip rather than Pop so the top survives.
func (c *compiler) compileNipAll() {
	c.compileNip(c.curFunc().nlocals - c.peekBlock().bottom - 1)
}

func (c *compiler) compileConstant(v vm.Value) {
	proto := c.peekProto()
	idx := len(proto.Constants)
	proto.Constants = append(proto.Constants, v)
	c.emit1(vm.OpGetConst, uint32(idx))
	c.pushLocalVar()
}

func (c *compiler) compileStringLit(s string) {
	root := heap.Alloc(c.ctx.Heap, vm.String{Bytes: []byte(s)})
	c.track(root)
	c.compileConstant(vm.StringValue(root.Value))
}

func (c *compiler) compileInt(i int64) { c.compileConstant(vm.Int(i)) }
func (c *compiler) compileBool(b bool) { c.compileConstant(vm.Bool(b)) }

func (c *compiler) compileNil() {
	c.emit0(vm.OpNil)
	c.pushLocalVar()
}

// defineVariable binds name, in the current block, to whatever the current
// top-of-stack local already is (the caller is responsible for having put a
// value there), and accounts for it.
func (c *compiler) defineVariable(name string) {
	b := c.peekBlock()
	b.definitions[name] = c.curFunc().nlocals
	c.pushLocalVar()
}

// ---------------------------------------------------------------------------
// Variable resolution
// ---------------------------------------------------------------------------

func (c *compiler) lookupLocal(name string) (int, bool) {
	fn := c.curFunc()
	for i := len(fn.blocks) - 1; i >= 0; i-- {
		if idx, ok := fn.blocks[i].definitions[name]; ok {
			return idx, true
		}
	}
	return 0, false
}

func (c *compiler) lookupUpvalue(name string) (int, bool) {
	return c.lookupUpvalueRec(len(c.funcs)-1, name)
}

// lookupUpvalueRec resolves name as an upvalue of funcs[level], recursing
// outward and emitting a MakeUp (name is a direct local one level out) or
// CopyUp (name is itself an upvalue further out, forwarded one level in)
// into the OUTER function's code the first time name is requested at this
// level. Later requests at the same level hit the memoized funcs[level]
// upvalues map and emit nothing further.
func (c *compiler) lookupUpvalueRec(level int, name string) (int, bool) {
	current := c.funcs[level]
	if _, ok := current.upvalues[name]; !ok && level > 0 {
		outer := c.funcs[level-1]
		if idx, ok := c.lookupUpvalueOrigin(level-1, name); ok {
			outer.proto.Code = append(outer.proto.Code, vm.Instruction{Op: vm.OpMakeUp, Arg: uint32(idx)})
			current.upvalues[name] = len(current.upvalues)
		} else if idx, ok := c.lookupUpvalueRec(level-1, name); ok {
			outer.proto.Code = append(outer.proto.Code, vm.Instruction{Op: vm.OpCopyUp, Arg: uint32(idx)})
			current.upvalues[name] = len(current.upvalues)
		}
	}
	idx, ok := current.upvalues[name]
	return idx, ok
}

// lookupUpvalueOrigin reports whether name is a direct local of funcs[level]
// — either already bound, or declared (pre-reserved by declareExpr) but not
// yet reached.
func (c *compiler) lookupUpvalueOrigin(level int, name string) (int, bool) {
	fn := c.funcs[level]
	for i := len(fn.blocks) - 1; i >= 0; i-- {
		b := fn.blocks[i]
		if idx, ok := b.definitions[name]; ok {
			return idx, true
		}
		if decls := b.declarations[name]; len(decls) > 0 {
			return decls[0], true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Declaration pre-pass
//
// Every block's statement list is scanned once, before any of it compiles,
// to pre-reserve a nil-initialized local slot for every `let` — in
// execution order, matching the order those lets will actually run in —
// so a closure declared earlier in the block can already capture a slot a
// later statement hasn't assigned into yet.
// ---------------------------------------------------------------------------

func (c *compiler) declareExpr(expr Expr) {
	switch e := expr.(type) {
	case *LetExpr:
		c.declareExpr(e.Value)
		b := c.peekBlock()
		b.declarations[e.Name] = append(b.declarations[e.Name], c.curFunc().nlocals)
		c.compileNil()
	case *AssignExpr:
		c.declareExpr(e.Value)
	case *GetPropExpr:
		c.declareExpr(e.Receiver)
	case *SetPropExpr:
		c.declareExpr(e.Receiver)
		c.declareExpr(e.Value)
	case *CallExpr:
		c.declareExpr(e.Callee)
		for _, a := range e.Args {
			c.declareExpr(a)
		}
	case *SendExpr:
		c.declareExpr(e.Receiver)
		for _, a := range e.Args {
			c.declareExpr(a)
		}
	case *UnaryExpr:
		c.declareExpr(e.Operand)
	case *BinaryExpr:
		c.declareExpr(e.Left)
		c.declareExpr(e.Right)
	case *ArrayExpr:
		for _, el := range e.Elements {
			c.declareExpr(el)
		}
	case *ReturnExpr:
		if e.Value != nil {
			c.declareExpr(e.Value)
		}
	case *ThrowExpr:
		c.declareExpr(e.Value)
		// IntExpr, StringExpr, NilExpr, BoolExpr, VariableExpr, BlockExpr,
		// IfExpr, WhileExpr, LambdaExpr, MethodExpr, TryExpr, BreakExpr,
		// ContinueExpr: each is its own scope or has no top-level `let` of
		// this block's to hoist, so there's nothing to pre-declare here —
		// their own compile* calls run their own declare pass if they need
		// one. DeferExpr never reaches here: desugarDefers replaces it
		// before the declare pass runs.
	}
}

// ---------------------------------------------------------------------------
// Statement sequencing
// ---------------------------------------------------------------------------

func (c *compiler) compileStatements(exprs []Expr) error {
	exprs = c.desugarDefers(exprs)
	for _, x := range exprs {
		c.declareExpr(x)
	}
	return c.compileExprChain(exprs)
}

func (c *compiler) compileExprChain(exprs []Expr) error {
	if len(exprs) == 0 {
		c.compileNil()
		return nil
	}
	if err := c.compileExpr(exprs[0]); err != nil {
		return err
	}
	for _, x := range exprs[1:] {
		c.compilePop(1)
		c.popLocalVar()
		if err := c.compileExpr(x); err != nil {
			return err
		}
	}
	return nil
}

// compileBlock compiles exprs as a fresh lexical scope whose value is the
// last expression's value (Nil if empty), collapsing every local the block
// accumulated down to that one result before returning to the enclosing
// scope.
func (c *compiler) compileBlock(exprs []Expr) error {
	if len(exprs) == 0 {
		c.compileNil()
		return nil
	}
	c.pushBlock()
	if err := c.compileStatements(exprs); err != nil {
		return err
	}
	c.compileNipAll()
	c.popBlock()
	c.pushLocalVar()
	return nil
}

// ---------------------------------------------------------------------------
// defer desugaring
//
// defer is implemented entirely as an AST rewrite, not a new opcode: a block
// containing one or more top-level DeferExpr statements is rewritten, before
// its declare pass runs, into
//
//	let $defer1 = Array.new()
//	try {
//	    $defer1.push(fn() { <defer body 1> })   // in place of each DeferExpr
//	    ...
//	    let $result3 = <original last statement>
//	    $defer1.drain()
//	    $result3
//	} catch $err2 {
//	    $defer1.drain()
//	    throw $err2
//	}
//
// so every existing path through a block — falling off the end, or an
// exception unwinding through it — runs the registered closures in LIFO
// order (Array.drain pops from the end) exactly once. The registry local is
// declared in the enclosing block, sequenced before the `try`, so it lives
// below the Catch handler's recorded data-stack bottom and survives the
// interpreter's stack truncation on throw, unlike anything declared inside
// the protected block itself.
//
// break/continue/return bypass this normal-exit path entirely (they jump or
// return directly out of the bytecode stream), so they separately drain
// every deferRegistry belonging to a block they jump out of — see
// runDefersDownTo.
// ---------------------------------------------------------------------------

func (c *compiler) desugarDefers(exprs []Expr) []Expr {
	hasDefer := false
	for _, x := range exprs {
		if _, ok := x.(*DeferExpr); ok {
			hasDefer = true
			break
		}
	}
	if !hasDefer {
		return exprs
	}

	reg := c.gensym("defer")
	errName := c.gensym("err")
	resultName := c.gensym("result")

	rest := make([]Expr, 0, len(exprs))
	for _, x := range exprs {
		if d, ok := x.(*DeferExpr); ok {
			rest = append(rest, &SendExpr{
				SpanVal:  d.SpanVal,
				Receiver: &VariableExpr{SpanVal: d.SpanVal, Name: reg},
				Message:  "push",
				Args:     []Expr{&LambdaExpr{SpanVal: d.SpanVal, Body: d.Body}},
			})
			continue
		}
		rest = append(rest, x)
	}
	if len(rest) == 0 {
		rest = []Expr{&NilExpr{}}
	}
	last := rest[len(rest)-1]
	butLast := rest[:len(rest)-1]

	drainCall := func() Expr {
		return &SendExpr{Receiver: &VariableExpr{Name: reg}, Message: "drain"}
	}

	tryBody := make([]Expr, 0, len(butLast)+3)
	tryBody = append(tryBody, butLast...)
	tryBody = append(tryBody,
		&LetExpr{Name: resultName, Value: last},
		drainCall(),
		&VariableExpr{Name: resultName},
	)

	c.peekBlock().deferRegistry = reg

	return []Expr{
		&LetExpr{
			Name:  reg,
			Value: &SendExpr{Receiver: &VariableExpr{Name: "Array"}, Message: "new"},
		},
		&TryExpr{
			Body:      &BlockExpr{Body: tryBody},
			CatchName: errName,
			Handler: &BlockExpr{Body: []Expr{
				drainCall(),
				&ThrowExpr{Value: &VariableExpr{Name: errName}},
			}},
		},
	}
}

// runDefersDownTo compiles a drain call for every block, from the innermost
// up to and including fn.blocks[idx], that registered a defer registry —
// used by break/continue (idx = the loop block) and return (idx = 0, the
// whole function).
func (c *compiler) runDefersDownTo(idx int) error {
	fn := c.curFunc()
	for i := len(fn.blocks) - 1; i >= idx; i-- {
		if reg := fn.blocks[i].deferRegistry; reg != "" {
			if err := c.compileDrainStatement(reg); err != nil {
				return err
			}
		}
	}
	return nil
}

// compileDrainStatement compiles and discards a `reg.drain()` call as a
// bare statement — it isn't part of any compileExprChain list, so it pops
// its own result rather than relying on the chain's inter-statement pop.
func (c *compiler) compileDrainStatement(reg string) error {
	if err := c.compileExpr(&VariableExpr{Name: reg}); err != nil {
		return err
	}
	if err := c.compileMessageRaw("drain", nil); err != nil {
		return err
	}
	c.compilePop(1)
	c.popLocalVar()
	return nil
}

// ---------------------------------------------------------------------------
// Expression dispatch
// ---------------------------------------------------------------------------

func (c *compiler) compileExpr(expr Expr) error {
	switch e := expr.(type) {
	case *IntExpr:
		c.compileInt(e.Value)
		return nil
	case *StringExpr:
		c.compileStringLit(e.Value)
		return nil
	case *NilExpr:
		c.compileNil()
		return nil
	case *BoolExpr:
		c.compileBool(e.Value)
		return nil
	case *ArrayExpr:
		return c.compileArray(e)
	case *VariableExpr:
		return c.compileVariable(e)
	case *LetExpr:
		return c.compileLet(e)
	case *AssignExpr:
		return c.compileAssign(e)
	case *GetPropExpr:
		return c.compileGetProp(e)
	case *SetPropExpr:
		return c.compileSetProp(e)
	case *CallExpr:
		return c.compileCallExpr(e)
	case *SendExpr:
		return c.compileSendExpr(e)
	case *UnaryExpr:
		return c.compileUnaryExpr(e)
	case *BinaryExpr:
		return c.compileBinaryExpr(e)
	case *BlockExpr:
		return c.compileBlock(e.Body)
	case *IfExpr:
		return c.compileIf(e)
	case *WhileExpr:
		return c.compileWhile(e)
	case *TryExpr:
		return c.compileTry(e)
	case *DeferExpr:
		return rterrors.NewCompileError(posOf(e), "defer must be a direct statement of a block")
	case *LambdaExpr:
		return c.compileLambda(e)
	case *MethodExpr:
		return c.compileMethod(e)
	case *BreakExpr:
		return c.compileBreak(e)
	case *ContinueExpr:
		return c.compileContinue(e)
	case *ReturnExpr:
		return c.compileReturn(e)
	case *ThrowExpr:
		return c.compileThrow(e)
	default:
		return rterrors.NewCompileError(rterrors.Position{}, "unknown expression node %T", expr)
	}
}

func (c *compiler) compileVariable(expr *VariableExpr) error {
	if idx, ok := c.lookupLocal(expr.Name); ok {
		c.emit1(vm.OpGetVar, uint32(idx))
		c.pushLocalVar()
		return nil
	}
	if idx, ok := c.lookupUpvalue(expr.Name); ok {
		c.emit1(vm.OpGetUp, uint32(idx))
		c.pushLocalVar()
		return nil
	}
	return rterrors.NewCompileError(posOf(expr), "variable `%s` not found", expr.Name)
}

// compileLet consumes the next not-yet-bound declaration recorded for this
// name by the block's declare pass (declarations are consumed in the same
// order they were recorded, which is the same order the `let` statements
// that recorded them appear in the block), assigns it, and leaves the
// assigned value as the expression's own result — matching compileAssign's
// Dup-before-SetVar convention below.
func (c *compiler) compileLet(expr *LetExpr) error {
	b := c.peekBlock()
	decls := b.declarations[expr.Name]
	idx := decls[0]
	b.declarations[expr.Name] = decls[1:]
	if err := c.compileExpr(expr.Value); err != nil {
		return err
	}
	c.emit0(vm.OpDup)
	c.emit1(vm.OpSetVar, uint32(idx))
	b.definitions[expr.Name] = idx
	return nil
}

// compileAssign, like compileLet, Dups the assigned value before SetVar/
// SetUp so the assignment expression evaluates to what was assigned — the
// Dup's +1 and the SetVar/SetUp's -1 cancel, so no push_local/pop_local
// bookkeeping is needed around the pair.
func (c *compiler) compileAssign(expr *AssignExpr) error {
	if err := c.compileExpr(expr.Value); err != nil {
		return err
	}
	c.emit0(vm.OpDup)
	if idx, ok := c.lookupLocal(expr.Name); ok {
		c.emit1(vm.OpSetVar, uint32(idx))
		return nil
	}
	if idx, ok := c.lookupUpvalue(expr.Name); ok {
		c.emit1(vm.OpSetUp, uint32(idx))
		return nil
	}
	return rterrors.NewCompileError(posOf(expr), "variable `%s` not found", expr.Name)
}

// compileGetProp emits GetProp, ( obj name -- value ).
func (c *compiler) compileGetProp(expr *GetPropExpr) error {
	if err := c.compileExpr(expr.Receiver); err != nil {
		return err
	}
	c.compileStringLit(expr.Name)
	c.emit0(vm.OpGetProp)
	c.popLocalVar()
	return nil
}

// compileSetProp reserves a Nil slot below the receiver and, before
// SetProp, stores a Dup of the assigned value into that slot, so the
// assignment expression evaluates to the assigned value the same way
// compileAssign does for a plain variable. SetProp itself is
// ( obj name value -- ), leaving nothing, so the reserved slot is this
// expression's result:
// ( slot obj name value value ) -> SetVar(slot) -> ( value obj name value )
// -> SetProp -> ( value ).
func (c *compiler) compileSetProp(expr *SetPropExpr) error {
	slot := c.curFunc().nlocals
	c.compileNil()
	if err := c.compileExpr(expr.Receiver); err != nil {
		return err
	}
	c.compileStringLit(expr.Name)
	if err := c.compileExpr(expr.Value); err != nil {
		return err
	}
	c.emit0(vm.OpDup)
	c.emit1(vm.OpSetVar, uint32(slot))
	c.emit0(vm.OpSetProp)
	c.popLocalVar()
	c.popLocalVar()
	c.popLocalVar()
	return nil
}

// compileCallExpr compiles a direct call of a Function/ForeignFunction
// value: callee, then each argument, then Call with the argument count
// carried directly in the instruction — the interpreter's Call reads its
// arity from the instruction's Arg, not from a stack-pushed count, so
// unlike a stack-machine encoding there is no separate arg-count push to
// account for here.
func (c *compiler) compileCallExpr(expr *CallExpr) error {
	if err := c.compileExpr(expr.Callee); err != nil {
		return err
	}
	for _, a := range expr.Args {
		if err := c.compileExpr(a); err != nil {
			return err
		}
	}
	c.emit1(vm.OpCall, uint32(len(expr.Args)))
	for range expr.Args {
		c.popLocalVar()
	}
	return nil
}

// compileMessageRaw compiles a Send of msg against a receiver already on
// the stack. A bare send (no extra arguments) resolves and invokes the
// method with just the receiver via Send. A send with one or more extra
// arguments compiles the full argument list before the message name and
// uses SendCall, which resolves and invokes the method with every
// argument already assembled — Send's own single-argument contract has
// no way to supply them afterward, since every multi-argument method
// (foreign or compiled) expects its full argument list in one call, not
// one argument at a time.
func (c *compiler) compileMessageRaw(msg string, extraArgs []Expr) error {
	if len(extraArgs) == 0 {
		c.compileStringLit(msg)
		c.emit0(vm.OpSend)
		c.popLocalVar()
		return nil
	}
	for _, a := range extraArgs {
		if err := c.compileExpr(a); err != nil {
			return err
		}
	}
	c.compileStringLit(msg)
	c.emit1(vm.OpSendCall, uint32(len(extraArgs)))
	for range extraArgs {
		c.popLocalVar()
	}
	c.popLocalVar()
	return nil
}

func (c *compiler) compileSendExpr(expr *SendExpr) error {
	if err := c.compileExpr(expr.Receiver); err != nil {
		return err
	}
	return c.compileMessageRaw(expr.Message, expr.Args)
}

func (c *compiler) compileUnaryExpr(expr *UnaryExpr) error {
	if err := c.compileExpr(expr.Operand); err != nil {
		return err
	}
	return c.compileMessageRaw(expr.Operator, nil)
}

// compileBinaryExpr compiles `a OP b` as a SendCall of OP against a with b
// as its one extra argument, for every operator except `&&`/`||`, which
// short-circuit and so are compiled the same way an if's condition is: a
// JumpUnless/Jump over the right operand, sharing the strict-Bool
// requirement that conditional jump carries.
func (c *compiler) compileBinaryExpr(expr *BinaryExpr) error {
	switch expr.Operator {
	case "&&":
		return c.compileIf(&IfExpr{
			SpanVal: expr.SpanVal,
			Cond:    expr.Left,
			Then:    &BlockExpr{Body: []Expr{expr.Right}},
			Else:    &BlockExpr{Body: []Expr{&BoolExpr{Value: false}}},
		})
	case "||":
		return c.compileIf(&IfExpr{
			SpanVal: expr.SpanVal,
			Cond:    expr.Left,
			Then:    &BlockExpr{Body: []Expr{&BoolExpr{Value: true}}},
			Else:    &BlockExpr{Body: []Expr{expr.Right}},
		})
	default:
		if err := c.compileExpr(expr.Left); err != nil {
			return err
		}
		return c.compileMessageRaw(expr.Operator, []Expr{expr.Right})
	}
}

// compileArray compiles `[a, b, c]` as Array.new() followed by one push per
// element; Array.push returns its receiver, so each push leaves the same
// array on the stack for the next one.
func (c *compiler) compileArray(expr *ArrayExpr) error {
	if err := c.compileVariable(&VariableExpr{SpanVal: expr.SpanVal, Name: "Array"}); err != nil {
		return err
	}
	if err := c.compileMessageRaw("new", nil); err != nil {
		return err
	}
	for _, el := range expr.Elements {
		if err := c.compileMessageRaw("push", []Expr{el}); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// compileIf compiles `if cond { then } else { else_ }` (else_ defaults to
// Nil). An `else if` is not its own node — the parser nests a fresh IfExpr
// as the sole statement of the outer Else block, which reaches this same
// function recursively and needs no special handling.
func (c *compiler) compileIf(expr *IfExpr) error {
	c.pushBlock()
	c.declareExpr(expr.Cond)
	if err := c.compileExpr(expr.Cond); err != nil {
		return err
	}
	nextJump := c.getAddress()
	c.emit1(vm.OpJumpUnless, 0)
	c.popLocalVar()

	if err := c.compileBlock(expr.Then.Body); err != nil {
		return err
	}
	c.compileNipAll()
	finishJump := c.getAddress()
	c.emit1(vm.OpJump, 0)
	c.popLocalVar()

	c.patchJump(nextJump)
	c.compilePopAll()
	c.popBlock()

	if expr.Else != nil {
		if err := c.compileBlock(expr.Else.Body); err != nil {
			return err
		}
	} else {
		c.compileNil()
	}
	c.patchJump(finishJump)
	return nil
}

// compileWhile compiles `while cond { body }`, looping back to re-evaluate
// cond after body runs, and producing Nil as the whole expression's value
// once cond is false (a while loop is never itself a source of a useful
// result; break doesn't carry one either).
func (c *compiler) compileWhile(expr *WhileExpr) error {
	startAddr := c.getAddress()
	c.pushBlock()
	c.declareExpr(expr.Cond)
	if err := c.compileExpr(expr.Cond); err != nil {
		return err
	}
	finishJump := c.getAddress()
	c.emit1(vm.OpJumpUnless, 0)
	c.popLocalVar()

	c.peekBlock().loop = &loopEnv{}
	if err := c.compileBlock(expr.Body.Body); err != nil {
		return err
	}
	c.compilePop(1)
	c.popLocalVar()

	loop := c.peekBlock().loop
	for _, j := range loop.continueJumps {
		c.patchJumpTo(j, c.getAddress())
	}
	c.compilePopAll()
	c.emit1(vm.OpJump, uint32(startAddr))

	c.patchJumpTo(finishJump, c.getAddress())
	for _, j := range loop.breakJumps {
		c.patchJumpTo(j, c.getAddress())
	}
	c.compilePopAll()
	c.popBlock()
	c.compileNil()
	return nil
}

// compileTry compiles `try { body } catch name { handler }`. Catch records
// the handler's jump target and the current data/call depth; a Throw
// reaching the interpreter with this handler still on the stack truncates
// back to that depth before jumping here, so name resolves to whatever was
// thrown.
func (c *compiler) compileTry(expr *TryExpr) error {
	handlerJump := c.getAddress()
	c.emit1(vm.OpCatch, 0)

	if err := c.compileBlock(expr.Body.Body); err != nil {
		return err
	}
	c.emit0(vm.OpUncatch)
	finishJump := c.getAddress()
	c.emit1(vm.OpJump, 0)
	c.popLocalVar()

	c.patchJumpTo(handlerJump, c.getAddress())
	c.pushBlock()
	c.defineVariable(expr.CatchName)
	if err := c.compileBlock(expr.Handler.Body); err != nil {
		return err
	}
	c.compileNipAll()
	c.popBlock()

	c.patchJump(finishJump)
	c.pushLocalVar()
	return nil
}

// findLoopBlock returns the index, within the current function's block
// stack, of the nearest enclosing WhileExpr's own block.
func (c *compiler) findLoopBlock() int {
	fn := c.curFunc()
	for i := len(fn.blocks) - 1; i >= 0; i-- {
		if fn.blocks[i].loop != nil {
			return i
		}
	}
	return -1
}

func (c *compiler) compileBreak(expr *BreakExpr) error {
	fn := c.curFunc()
	loopIdx := c.findLoopBlock()
	if loopIdx < 0 {
		return rterrors.NewCompileError(posOf(expr), "break can only be used inside of a loop")
	}
	if err := c.runDefersDownTo(loopIdx); err != nil {
		return err
	}
	c.compilePop(fn.nlocals - fn.blocks[loopIdx+1].bottom)
	loop := fn.blocks[loopIdx].loop
	loop.breakJumps = append(loop.breakJumps, c.getAddress())
	c.emit1(vm.OpJump, 0)
	c.pushLocalVar()
	return nil
}

func (c *compiler) compileContinue(expr *ContinueExpr) error {
	fn := c.curFunc()
	loopIdx := c.findLoopBlock()
	if loopIdx < 0 {
		return rterrors.NewCompileError(posOf(expr), "continue can only be used inside of a loop")
	}
	if err := c.runDefersDownTo(loopIdx); err != nil {
		return err
	}
	c.compilePop(fn.nlocals - fn.blocks[loopIdx+1].bottom)
	loop := fn.blocks[loopIdx].loop
	loop.continueJumps = append(loop.continueJumps, c.getAddress())
	c.emit1(vm.OpJump, 0)
	c.pushLocalVar()
	return nil
}

func (c *compiler) compileReturn(expr *ReturnExpr) error {
	if expr.Value != nil {
		if err := c.compileExpr(expr.Value); err != nil {
			return err
		}
	} else {
		c.compileNil()
	}
	if err := c.runDefersDownTo(0); err != nil {
		return err
	}
	c.emit0(vm.OpReturn)
	return nil
}

func (c *compiler) compileThrow(expr *ThrowExpr) error {
	if err := c.compileExpr(expr.Value); err != nil {
		return err
	}
	c.emit0(vm.OpThrow)
	return nil
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

// compileLambda compiles `fn(params) body`. The slot the resulting Function
// will occupy in the enclosing proto's constant pool is reserved (and a
// GetConst against it emitted) before the child function is compiled, so
// MakeUp/CopyUp instructions the child's upvalue resolution emits into the
// *outer* proto land immediately after that GetConst/ResetUp pair, exactly
// where the runtime will execute them: right after the not-yet-closed
// Function value is pushed, before it is handed off as this expression's
// result.
func (c *compiler) compileLambda(expr *LambdaExpr) error {
	outerProto := c.peekProto()
	constIdx := len(outerProto.Constants)
	c.emit1(vm.OpGetConst, uint32(constIdx))
	c.emit0(vm.OpResetUp)
	c.pushLocalVar()

	c.pushFunc(fmt.Sprintf("lambda@%d:%d", expr.SpanVal.Start.Line, expr.SpanVal.Start.Column))
	c.peekProto().Nargs = len(expr.Params)
	c.pushBlock()
	for _, p := range expr.Params {
		c.defineVariable(p)
	}
	c.pushBlock()
	if err := c.compileStatements(expr.Body.Body); err != nil {
		c.popFunc()
		return err
	}
	c.emit0(vm.OpReturn)
	proto := c.popFunc()

	protoRoot := heap.Alloc(c.ctx.Heap, *proto)
	c.track(protoRoot)
	fnRoot := heap.Alloc(c.ctx.Heap, vm.Function{Proto: protoRoot.Value})
	c.track(fnRoot)

	outerProto.Constants = append(outerProto.Constants, vm.FunctionValue(fnRoot.Value))
	return nil
}

// compileMethod compiles `method(params) body` by transpiling it to a
// single LambdaExpr taking an explicit leading `self` ahead of params —
// one flat function of arity 1+len(params), never a curried fn(self){
// fn(params){...} }. A curried shape would need two separate invocations
// (one to peel off self, a second for the rest), but OpSendCall resolves
// and invokes a method exactly once with self and every extra argument
// already assembled into a single args slice, so the installed method
// itself must accept all of them in that one call.
func (c *compiler) compileMethod(expr *MethodExpr) error {
	params := append([]string{"self"}, expr.Params...)
	lambda := &LambdaExpr{SpanVal: expr.SpanVal, Params: params, Body: expr.Body}
	return c.compileLambda(lambda)
}

// ---------------------------------------------------------------------------
// Top level
// ---------------------------------------------------------------------------

// compileMain compiles a whole program as a zero-argument Function: every
// context global (Object, Class, Array, ... and anything a host embedder
// added) is pre-bound as an ordinary local in the outermost block, in name
// order for reproducible bytecode across compiles of the same Context, the
// same way the program's own top-level `let`s are bound — so script code
// can shadow a builtin with a local of the same name, and nested closures
// resolve builtins through the ordinary upvalue machinery rather than a
// separate global-lookup opcode.
func (c *compiler) compileMain(body []Expr) (*heap.Root[heap.Ptr[vm.Function]], error) {
	c.pushFunc("main")
	c.peekProto().Nargs = 0
	c.pushBlock()

	names := make([]string, 0, len(c.ctx.Globals))
	for name := range c.ctx.Globals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.compileConstant(c.ctx.Globals[name])
		c.popLocalVar()
		c.defineVariable(name)
	}

	if err := c.compileStatements(body); err != nil {
		c.popFunc()
		return nil, err
	}
	c.emit0(vm.OpReturn)
	proto := c.popFunc()

	protoRoot := heap.Alloc(c.ctx.Heap, *proto)
	c.track(protoRoot)
	fnRoot := heap.Alloc(c.ctx.Heap, vm.Function{Proto: protoRoot.Value})
	return fnRoot, nil
}
