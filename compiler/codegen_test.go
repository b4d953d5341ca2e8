package compiler

import (
	"testing"

	"github.com/quill-vm/quill/heap"
	"github.com/quill-vm/quill/vm"
)

func newCodegenTestContext(t *testing.T) *vm.Context {
	t.Helper()
	return vm.NewContext(heap.MinThreshold)
}

func runProgram(t *testing.T, ctx *vm.Context, program []Expr) vm.Value {
	t.Helper()
	fnRoot, err := Compile(ctx, program)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer fnRoot.Release()
	result, err := vm.NewVM(ctx).Run(fnRoot.Value)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return result
}

func strExpr(s string) *StringExpr { return &StringExpr{Value: s} }
func varExpr(n string) *VariableExpr { return &VariableExpr{Name: n} }
func blk(body ...Expr) *BlockExpr { return &BlockExpr{Body: body} }
func sendExpr(recv Expr, msg string, args ...Expr) *SendExpr {
	return &SendExpr{Receiver: recv, Message: msg, Args: args}
}

// A method with no parameters must compile to a flat, directly-callable
// function taking just self — compileMethod must not wrap it in an outer
// arity-1 lambda that returns a second, inner lambda.
func TestCompileMethodZeroParamsIsCallableAsInstalled(t *testing.T) {
	ctx := newCodegenTestContext(t)
	program := []Expr{
		sendExpr(varExpr("Int"), "define", strExpr("double"),
			&MethodExpr{Body: blk(&BinaryExpr{Operator: "*", Left: varExpr("self"), Right: &IntExpr{Value: 2}})}),
		sendExpr(&IntExpr{Value: 21}, "double"),
	}
	result := runProgram(t, ctx, program)
	got, ok := result.AsInt()
	if !ok || got != 42 {
		t.Fatalf("21.double() = %v, want 42", result.Inspect())
	}
}

// A method taking one or more parameters must compile to a single flat
// function of arity 1+len(params) (self followed by the real parameters),
// invoked in one shot by OpSendCall — not a curried fn(self){ fn(params){} }
// that SendCall's single combined invocation could never satisfy.
func TestCompileMethodWithParamsIsCallableInOneSend(t *testing.T) {
	ctx := newCodegenTestContext(t)
	program := []Expr{
		sendExpr(varExpr("Int"), "define", strExpr("addBoth"),
			&MethodExpr{
				Params: []string{"a", "b"},
				Body: blk(&BinaryExpr{Operator: "+",
					Left:  &BinaryExpr{Operator: "+", Left: varExpr("self"), Right: varExpr("a")},
					Right: varExpr("b"),
				}),
			}),
		sendExpr(&IntExpr{Value: 1}, "addBoth", &IntExpr{Value: 2}, &IntExpr{Value: 3}),
	}
	result := runProgram(t, ctx, program)
	got, ok := result.AsInt()
	if !ok || got != 6 {
		t.Fatalf("1.addBoth(2, 3) = %v, want 6", result.Inspect())
	}
}

// A send with one extra argument against a foreign Class method
// (Object.subclass) resolves and invokes correctly via OpSendCall.
func TestCompileMessageRawSendCallToForeignMethod(t *testing.T) {
	ctx := newCodegenTestContext(t)
	program := []Expr{
		sendExpr(varExpr("Object"), "subclass", strExpr("Thing")),
	}
	result := runProgram(t, ctx, program)
	if _, ok := result.AsClass(); !ok {
		t.Fatalf("Object.subclass(\"Thing\") = %v, want a Class value", result.Inspect())
	}
}

// Binary operators desugar through the same SendCall path as an explicit
// multi-argument message send.
func TestCompileBinaryExprUsesSendCall(t *testing.T) {
	ctx := newCodegenTestContext(t)
	program := []Expr{
		&BinaryExpr{Operator: "+", Left: &IntExpr{Value: 2}, Right: &IntExpr{Value: 3}},
	}
	result := runProgram(t, ctx, program)
	got, ok := result.AsInt()
	if !ok || got != 5 {
		t.Fatalf("2 + 3 = %v, want 5", result.Inspect())
	}
}

func TestIfExprRequiresStrictBool(t *testing.T) {
	ctx := newCodegenTestContext(t)
	program := []Expr{
		&IfExpr{
			Cond: &IntExpr{Value: 1},
			Then: blk(&IntExpr{Value: 1}),
			Else: blk(&IntExpr{Value: 0}),
		},
	}
	fnRoot, err := Compile(ctx, program)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer fnRoot.Release()
	if _, err := vm.NewVM(ctx).Run(fnRoot.Value); err == nil {
		t.Fatal("if with a non-Bool condition succeeded, want a runtime error")
	}
}
