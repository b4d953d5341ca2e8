package compiler

// ---------------------------------------------------------------------------
// AST: the node shapes produced by the external parser (§3), consumed by
// the compiler's single-pass codegen below.
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int
	Line   int
	Column int
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

func MakeSpan(start, end Position) Span { return Span{Start: start, End: end} }
func ZeroSpan() Span                    { return Span{} }

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node()
}

// Expr is the interface for expression nodes. Every statement-like
// construct (if, while, try, blocks, assignment) is itself an expression,
// matching the grammar's "everything routes through send/call" design —
// there is no separate statement hierarchy.
type Expr interface {
	Node
	expr()
}

// IntExpr is an integer literal.
type IntExpr struct {
	SpanVal Span
	Value   int64
}

func (n *IntExpr) Span() Span { return n.SpanVal }
func (n *IntExpr) node()      {}
func (n *IntExpr) expr()      {}

// StringExpr is a string literal.
type StringExpr struct {
	SpanVal Span
	Value   string
}

func (n *StringExpr) Span() Span { return n.SpanVal }
func (n *StringExpr) node()      {}
func (n *StringExpr) expr()      {}

// NilExpr is the 'nil' literal.
type NilExpr struct {
	SpanVal Span
}

func (n *NilExpr) Span() Span { return n.SpanVal }
func (n *NilExpr) node()      {}
func (n *NilExpr) expr()      {}

// BoolExpr is a 'true'/'false' literal.
type BoolExpr struct {
	SpanVal Span
	Value   bool
}

func (n *BoolExpr) Span() Span { return n.SpanVal }
func (n *BoolExpr) node()      {}
func (n *BoolExpr) expr()      {}

// ArrayExpr is a literal array of expressions, e.g. `[1, 2, 3]`.
type ArrayExpr struct {
	SpanVal  Span
	Elements []Expr
}

func (n *ArrayExpr) Span() Span { return n.SpanVal }
func (n *ArrayExpr) node()      {}
func (n *ArrayExpr) expr()      {}

// VariableExpr references a local, upvalue, or global by name; resolution
// to one of those three kinds happens in codegen, not in the AST.
type VariableExpr struct {
	SpanVal Span
	Name    string
}

func (n *VariableExpr) Span() Span { return n.SpanVal }
func (n *VariableExpr) node()      {}
func (n *VariableExpr) expr()      {}

// LetExpr introduces a new local binding in the enclosing block, scoped
// from this point to the end of that block.
type LetExpr struct {
	SpanVal Span
	Name    string
	Value   Expr
}

func (n *LetExpr) Span() Span { return n.SpanVal }
func (n *LetExpr) node()      {}
func (n *LetExpr) expr()      {}

// AssignExpr is `name = value` against an existing local, upvalue, or
// global binding.
type AssignExpr struct {
	SpanVal Span
	Name    string
	Value   Expr
}

func (n *AssignExpr) Span() Span { return n.SpanVal }
func (n *AssignExpr) node()      {}
func (n *AssignExpr) expr()      {}

// GetPropExpr reads a property off an object, `recv@name`.
type GetPropExpr struct {
	SpanVal  Span
	Receiver Expr
	Name     string
}

func (n *GetPropExpr) Span() Span { return n.SpanVal }
func (n *GetPropExpr) node()      {}
func (n *GetPropExpr) expr()      {}

// SetPropExpr assigns a property on an object, `recv@name = value`.
type SetPropExpr struct {
	SpanVal  Span
	Receiver Expr
	Name     string
	Value    Expr
}

func (n *SetPropExpr) Span() Span { return n.SpanVal }
func (n *SetPropExpr) node()      {}
func (n *SetPropExpr) expr()      {}

// CallExpr invokes a Function/ForeignFunction value with positional
// arguments: `callee(args...)`.
type CallExpr struct {
	SpanVal  Span
	Callee   Expr
	Args     []Expr
}

func (n *CallExpr) Span() Span { return n.SpanVal }
func (n *CallExpr) node()      {}
func (n *CallExpr) expr()      {}

// SendExpr sends a message selector to a receiver, with optional extra
// arguments beyond the implicit receiver: `recv.msg` or `recv.msg(args...)`.
type SendExpr struct {
	SpanVal  Span
	Receiver Expr
	Message  string
	Args     []Expr
}

func (n *SendExpr) Span() Span { return n.SpanVal }
func (n *SendExpr) node()      {}
func (n *SendExpr) expr()      {}

// UnaryExpr is a prefix operator (`-x`, `!x`), compiled as a Send of the
// operator's selector to the operand.
type UnaryExpr struct {
	SpanVal  Span
	Operator string
	Operand  Expr
}

func (n *UnaryExpr) Span() Span { return n.SpanVal }
func (n *UnaryExpr) node()      {}
func (n *UnaryExpr) expr()      {}

// BinaryExpr is an infix operator, compiled as a SendCall of the
// operator's selector to the left operand with the right as its argument
// — except `&&`/`||`, which short-circuit and never reach the VM as a
// Send at all (see codegen).
type BinaryExpr struct {
	SpanVal  Span
	Operator string
	Left     Expr
	Right    Expr
}

func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *BinaryExpr) node()      {}
func (n *BinaryExpr) expr()      {}

// BlockExpr is a `{ ... }` sequence of expressions evaluated for effect,
// whose value is its last expression's value (Nil if empty). It is its
// own lexical scope for `let`.
type BlockExpr struct {
	SpanVal Span
	Body    []Expr
}

func (n *BlockExpr) Span() Span { return n.SpanVal }
func (n *BlockExpr) node()      {}
func (n *BlockExpr) expr()      {}

// IfExpr is `if cond { then } else { else_ }`; Else may be nil.
type IfExpr struct {
	SpanVal Span
	Cond    Expr
	Then    *BlockExpr
	Else    *BlockExpr
}

func (n *IfExpr) Span() Span { return n.SpanVal }
func (n *IfExpr) node()      {}
func (n *IfExpr) expr()      {}

// WhileExpr is `while cond { body }`.
type WhileExpr struct {
	SpanVal Span
	Cond    Expr
	Body    *BlockExpr
}

func (n *WhileExpr) Span() Span { return n.SpanVal }
func (n *WhileExpr) node()      {}
func (n *WhileExpr) expr()      {}

// TryExpr is `try { body } catch name { handler }`.
type TryExpr struct {
	SpanVal    Span
	Body       *BlockExpr
	CatchName  string
	Handler    *BlockExpr
}

func (n *TryExpr) Span() Span { return n.SpanVal }
func (n *TryExpr) node()      {}
func (n *TryExpr) expr()      {}

// DeferExpr is `defer { body }`: body runs, in LIFO order relative to
// sibling defers, when the enclosing block exits by any means.
type DeferExpr struct {
	SpanVal Span
	Body    *BlockExpr
}

func (n *DeferExpr) Span() Span { return n.SpanVal }
func (n *DeferExpr) node()      {}
func (n *DeferExpr) expr()      {}

// LambdaExpr is `fn(params) body`: a plain closure, compiled to a
// Function whose first bytecode-level argument slot is Params[0].
type LambdaExpr struct {
	SpanVal Span
	Params  []string
	Body    *BlockExpr
}

func (n *LambdaExpr) Span() Span { return n.SpanVal }
func (n *LambdaExpr) node()      {}
func (n *LambdaExpr) expr()      {}

// MethodExpr is `method(params) body`: like LambdaExpr but compiled with
// an implicit leading `self` parameter ahead of Params, for installation
// as a class method via Class.define.
type MethodExpr struct {
	SpanVal Span
	Params  []string
	Body    *BlockExpr
}

func (n *MethodExpr) Span() Span { return n.SpanVal }
func (n *MethodExpr) node()      {}
func (n *MethodExpr) expr()      {}

// BreakExpr exits the nearest enclosing WhileExpr.
type BreakExpr struct {
	SpanVal Span
}

func (n *BreakExpr) Span() Span { return n.SpanVal }
func (n *BreakExpr) node()      {}
func (n *BreakExpr) expr()      {}

// ContinueExpr jumps to the next iteration of the nearest enclosing
// WhileExpr.
type ContinueExpr struct {
	SpanVal Span
}

func (n *ContinueExpr) Span() Span { return n.SpanVal }
func (n *ContinueExpr) node()      {}
func (n *ContinueExpr) expr()      {}

// ReturnExpr exits the enclosing LambdaExpr/MethodExpr (or the top-level
// main function) with Value's result, or Nil if Value is nil.
type ReturnExpr struct {
	SpanVal Span
	Value   Expr
}

func (n *ReturnExpr) Span() Span { return n.SpanVal }
func (n *ReturnExpr) node()      {}
func (n *ReturnExpr) expr()      {}

// ThrowExpr raises Value as a script exception.
type ThrowExpr struct {
	SpanVal Span
	Value   Expr
}

func (n *ThrowExpr) Span() Span { return n.SpanVal }
func (n *ThrowExpr) node()      {}
func (n *ThrowExpr) expr()      {}
