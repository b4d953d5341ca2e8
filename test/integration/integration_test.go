// Package integration_test exercises the compiler and VM together,
// end-to-end, the way a host embedder actually drives them: build an AST
// by hand (the lexer/parser is out of scope here), compile it against a
// live Context, run it, and send further messages against the resulting
// state.
package integration_test

import (
	"testing"

	"github.com/quill-vm/quill/compiler"
	"github.com/quill-vm/quill/heap"
	"github.com/quill-vm/quill/vm"
)

func newContext(t *testing.T) *vm.Context {
	t.Helper()
	return vm.NewContext(heap.MinThreshold)
}

// run compiles program against ctx and executes it to completion.
func run(t *testing.T, ctx *vm.Context, program []compiler.Expr) vm.Value {
	t.Helper()
	fnRoot, err := compiler.Compile(ctx, program)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	defer fnRoot.Release()

	result, err := vm.NewVM(ctx).Run(fnRoot.Value)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	return result
}

// msg interns name as a message selector for Send/SendCall.
func msg(t *testing.T, ctx *vm.Context, name string) heap.Ptr[vm.String] {
	t.Helper()
	root := heap.Alloc(ctx.Heap, vm.String{Bytes: []byte(name)})
	defer root.Release()
	return root.Value
}

func str(s string) *compiler.StringExpr {
	return &compiler.StringExpr{Value: s}
}

func v(n string) *compiler.VariableExpr { return &compiler.VariableExpr{Name: n} }

func block(body ...compiler.Expr) *compiler.BlockExpr { return &compiler.BlockExpr{Body: body} }

func send(recv compiler.Expr, message string, args ...compiler.Expr) *compiler.SendExpr {
	return &compiler.SendExpr{Receiver: recv, Message: message, Args: args}
}

func bin(op string, l, r compiler.Expr) *compiler.BinaryExpr {
	return &compiler.BinaryExpr{Operator: op, Left: l, Right: r}
}

// ---------------------------------------------------------------------------
// 1. Recursive arithmetic via a method installed on a bootstrap class.
// ---------------------------------------------------------------------------

func TestFactorialViaIntMethod(t *testing.T) {
	ctx := newContext(t)

	// Int.define("factorial", method() {
	//   if self <= 1 { 1 } else { self * (self - 1).factorial }
	// })
	body := block(&compiler.IfExpr{
		Cond: bin("<=", v("self"), &compiler.IntExpr{Value: 1}),
		Then: block(&compiler.IntExpr{Value: 1}),
		Else: block(bin("*", v("self"),
			send(bin("-", v("self"), &compiler.IntExpr{Value: 1}), "factorial"),
		)),
	})
	program := []compiler.Expr{
		send(v("Int"), "define", str("factorial"), &compiler.MethodExpr{Body: body}),
	}
	run(t, ctx, program)

	selector := msg(t, ctx, "factorial")
	cases := []struct{ n, want int64 }{
		{0, 1}, {1, 1}, {5, 120}, {10, 3628800},
	}
	for _, tc := range cases {
		got, err := vm.NewVM(ctx).Send(vm.Int(tc.n), selector)
		if err != nil {
			t.Fatalf("%d.factorial: %v", tc.n, err)
		}
		gi, ok := got.AsInt()
		if !ok || gi != tc.want {
			t.Errorf("%d.factorial = %v, want %d", tc.n, got.Inspect(), tc.want)
		}
	}
}

func TestFibonacciViaIntMethod(t *testing.T) {
	ctx := newContext(t)

	// Int.define("fib", method() {
	//   if self < 2 { self } else { (self - 1).fib + (self - 2).fib }
	// })
	body := block(&compiler.IfExpr{
		Cond: bin("<", v("self"), &compiler.IntExpr{Value: 2}),
		Then: block(v("self")),
		Else: block(bin("+",
			send(bin("-", v("self"), &compiler.IntExpr{Value: 1}), "fib"),
			send(bin("-", v("self"), &compiler.IntExpr{Value: 2}), "fib"),
		)),
	})
	program := []compiler.Expr{
		send(v("Int"), "define", str("fib"), &compiler.MethodExpr{Body: body}),
	}
	run(t, ctx, program)

	selector := msg(t, ctx, "fib")
	cases := []struct{ n, want int64 }{
		{0, 0}, {1, 1}, {2, 1}, {5, 5}, {10, 55},
	}
	for _, tc := range cases {
		got, err := vm.NewVM(ctx).Send(vm.Int(tc.n), selector)
		if err != nil {
			t.Fatalf("%d.fib: %v", tc.n, err)
		}
		gi, ok := got.AsInt()
		if !ok || gi != tc.want {
			t.Errorf("%d.fib = %v, want %d", tc.n, got.Inspect(), tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// 2. User-defined classes: subclass, instance properties, multi-arg methods.
// ---------------------------------------------------------------------------

func TestUserDefinedClassWithMethods(t *testing.T) {
	ctx := newContext(t)

	// let Point = Object.subclass("Point")
	// Point.define("x", method() { self@x })
	// Point.define("y", method() { self@y })
	// Point.define("setX", method(ax) { self@x = ax })
	// Point.define("setY", method(ay) { self@y = ay })
	// Point.define("distanceSquared", method() { (self.x * self.x) + (self.y * self.y) })
	program := []compiler.Expr{
		&compiler.LetExpr{Name: "Point", Value: send(v("Object"), "subclass", str("Point"))},
		send(v("Point"), "define", str("x"),
			&compiler.MethodExpr{Body: block(&compiler.GetPropExpr{Receiver: v("self"), Name: "x"})}),
		send(v("Point"), "define", str("y"),
			&compiler.MethodExpr{Body: block(&compiler.GetPropExpr{Receiver: v("self"), Name: "y"})}),
		send(v("Point"), "define", str("setX"),
			&compiler.MethodExpr{Params: []string{"ax"}, Body: block(
				&compiler.SetPropExpr{Receiver: v("self"), Name: "x", Value: v("ax")},
			)}),
		send(v("Point"), "define", str("setY"),
			&compiler.MethodExpr{Params: []string{"ay"}, Body: block(
				&compiler.SetPropExpr{Receiver: v("self"), Name: "y", Value: v("ay")},
			)}),
		send(v("Point"), "define", str("distanceSquared"),
			&compiler.MethodExpr{Body: block(bin("+",
				bin("*", send(v("self"), "x"), send(v("self"), "x")),
				bin("*", send(v("self"), "y"), send(v("self"), "y")),
			))}),
		v("Point"),
	}
	pointVal := run(t, ctx, program)

	classPtr, ok := pointVal.AsClass()
	if !ok {
		t.Fatalf("program result is not a Class value: %s", pointVal.Inspect())
	}
	point := vm.ObjectValue(heap.Alloc(ctx.Heap, vm.NewObject(classPtr)).Value)

	if _, err := vm.NewVM(ctx).SendCall(point, msg(t, ctx, "setX"), []vm.Value{vm.Int(3)}); err != nil {
		t.Fatalf("setX: %v", err)
	}
	if _, err := vm.NewVM(ctx).SendCall(point, msg(t, ctx, "setY"), []vm.Value{vm.Int(4)}); err != nil {
		t.Fatalf("setY: %v", err)
	}

	xVal, err := vm.NewVM(ctx).Send(point, msg(t, ctx, "x"))
	if err != nil {
		t.Fatalf("x: %v", err)
	}
	if gi, ok := xVal.AsInt(); !ok || gi != 3 {
		t.Errorf("point.x = %v, want 3", xVal.Inspect())
	}

	dist, err := vm.NewVM(ctx).Send(point, msg(t, ctx, "distanceSquared"))
	if err != nil {
		t.Fatalf("distanceSquared: %v", err)
	}
	if gi, ok := dist.AsInt(); !ok || gi != 25 {
		t.Errorf("point.distanceSquared = %v, want 25", dist.Inspect())
	}
}

func TestInheritanceOverride(t *testing.T) {
	ctx := newContext(t)

	// let Animal = Object.subclass("Animal")
	// Animal.define("speak", method() { "..." })
	// let Dog = Animal.subclass("Dog")
	// Dog.define("speak", method() { "Woof!" })
	program := []compiler.Expr{
		&compiler.LetExpr{Name: "Animal", Value: send(v("Object"), "subclass", str("Animal"))},
		send(v("Animal"), "define", str("speak"), &compiler.MethodExpr{Body: block(str("..."))}),
		&compiler.LetExpr{Name: "Dog", Value: send(v("Animal"), "subclass", str("Dog"))},
		send(v("Dog"), "define", str("speak"), &compiler.MethodExpr{Body: block(str("Woof!"))}),
		&compiler.ArrayExpr{Elements: []compiler.Expr{v("Dog"), v("Animal")}},
	}
	result := run(t, ctx, program)

	arr, ok := result.AsArray()
	if !ok || len(arr.Get().Items) != 2 {
		t.Fatalf("program result is not a 2-element Array: %s", result.Inspect())
	}
	dogClass, ok := arr.Get().Items[0].AsClass()
	if !ok {
		t.Fatal("Dog element is not a Class value")
	}
	animalClass, ok := arr.Get().Items[1].AsClass()
	if !ok {
		t.Fatal("Animal element is not a Class value")
	}

	dog := vm.ObjectValue(heap.Alloc(ctx.Heap, vm.NewObject(dogClass)).Value)
	animal := vm.ObjectValue(heap.Alloc(ctx.Heap, vm.NewObject(animalClass)).Value)

	speak := msg(t, ctx, "speak")

	dogSaid, err := vm.NewVM(ctx).Send(dog, speak)
	if err != nil {
		t.Fatalf("dog.speak: %v", err)
	}
	if s, ok := dogSaid.AsString(); !ok || string(s.Get().Bytes) != "Woof!" {
		t.Errorf("dog.speak = %v, want Woof!", dogSaid.Inspect())
	}

	animalSaid, err := vm.NewVM(ctx).Send(animal, speak)
	if err != nil {
		t.Fatalf("animal.speak: %v", err)
	}
	if s, ok := animalSaid.AsString(); !ok || string(s.Get().Bytes) != "..." {
		t.Errorf("animal.speak = %v, want ...", animalSaid.Inspect())
	}
}

// ---------------------------------------------------------------------------
// 3. Arrays, closures, and exceptions together.
// ---------------------------------------------------------------------------

func TestArrayMapAndFilter(t *testing.T) {
	ctx := newContext(t)

	// [1, 2, 3, 4].map(fn(x) { x * 2 }).filter(fn(x) { x > 4 })
	doubled := send(
		&compiler.ArrayExpr{Elements: []compiler.Expr{
			&compiler.IntExpr{Value: 1}, &compiler.IntExpr{Value: 2},
			&compiler.IntExpr{Value: 3}, &compiler.IntExpr{Value: 4},
		}},
		"map",
		&compiler.LambdaExpr{Params: []string{"x"}, Body: block(bin("*", v("x"), &compiler.IntExpr{Value: 2}))},
	)
	filtered := send(doubled, "filter",
		&compiler.LambdaExpr{Params: []string{"x"}, Body: block(bin(">", v("x"), &compiler.IntExpr{Value: 4}))},
	)
	program := []compiler.Expr{filtered}

	result := run(t, ctx, program)
	arr, ok := result.AsArray()
	if !ok {
		t.Fatalf("result is not an Array: %s", result.Inspect())
	}
	items := arr.Get().Items
	if len(items) != 2 {
		t.Fatalf("len(result) = %d, want 2", len(items))
	}
	want := []int64{6, 8}
	for i, item := range items {
		gi, ok := item.AsInt()
		if !ok || gi != want[i] {
			t.Errorf("result[%d] = %v, want %d", i, item.Inspect(), want[i])
		}
	}
}

func TestTryCatchRecoversThrow(t *testing.T) {
	ctx := newContext(t)

	// let result = try { throw "boom" } catch e { e }
	program := []compiler.Expr{
		&compiler.LetExpr{
			Name: "result",
			Value: &compiler.TryExpr{
				Body:      block(&compiler.ThrowExpr{Value: str("boom")}),
				CatchName: "e",
				Handler:   block(v("e")),
			},
		},
		v("result"),
	}
	result := run(t, ctx, program)
	s, ok := result.AsString()
	if !ok || string(s.Get().Bytes) != "boom" {
		t.Errorf("result = %v, want \"boom\"", result.Inspect())
	}
}

func TestWhileLoopAndBreak(t *testing.T) {
	ctx := newContext(t)

	// let i = 0
	// let sum = 0
	// while i < 10 {
	//   i = i + 1
	//   if i == 5 { break }
	//   sum = sum + i
	// }
	// sum
	program := []compiler.Expr{
		&compiler.LetExpr{Name: "i", Value: &compiler.IntExpr{Value: 0}},
		&compiler.LetExpr{Name: "sum", Value: &compiler.IntExpr{Value: 0}},
		&compiler.WhileExpr{
			Cond: bin("<", v("i"), &compiler.IntExpr{Value: 10}),
			Body: block(
				&compiler.AssignExpr{Name: "i", Value: bin("+", v("i"), &compiler.IntExpr{Value: 1})},
				&compiler.IfExpr{
					Cond: bin("==", v("i"), &compiler.IntExpr{Value: 5}),
					Then: block(&compiler.BreakExpr{}),
				},
				&compiler.AssignExpr{Name: "sum", Value: bin("+", v("sum"), v("i"))},
			),
		},
		v("sum"),
	}
	result := run(t, ctx, program)
	gi, ok := result.AsInt()
	// i reaches 1,2,3,4 added to sum (10) before breaking at i == 5.
	if !ok || gi != 10 {
		t.Errorf("sum = %v, want 10", result.Inspect())
	}
}

func TestDeferRunsOnBlockExit(t *testing.T) {
	ctx := newContext(t)

	// let log = Array.new()
	// fn() {
	//   defer { log.push(1) }
	//   defer { log.push(2) }
	//   log.push(0)
	// }()
	// log
	program := []compiler.Expr{
		&compiler.LetExpr{Name: "log", Value: send(v("Array"), "new")},
		&compiler.CallExpr{
			Callee: &compiler.LambdaExpr{Body: block(
				&compiler.DeferExpr{Body: block(send(v("log"), "push", &compiler.IntExpr{Value: 1}))},
				&compiler.DeferExpr{Body: block(send(v("log"), "push", &compiler.IntExpr{Value: 2}))},
				send(v("log"), "push", &compiler.IntExpr{Value: 0}),
			)},
		},
		v("log"),
	}
	result := run(t, ctx, program)
	arr, ok := result.AsArray()
	if !ok {
		t.Fatalf("result is not an Array: %s", result.Inspect())
	}
	items := arr.Get().Items
	want := []int64{0, 2, 1}
	if len(items) != len(want) {
		t.Fatalf("len(log) = %d, want %d", len(items), len(want))
	}
	for i, item := range items {
		gi, ok := item.AsInt()
		if !ok || gi != want[i] {
			t.Errorf("log[%d] = %v, want %d", i, item.Inspect(), want[i])
		}
	}
}
