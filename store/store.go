// Package store implements a persistent key/value object store over
// modernc.org/sqlite, backing the `Store` global a compiled script sends
// get/put/delete to. Values round-trip through the image package's CBOR
// encoding, so anything a script can put into the store is exactly
// anything image.Encode accepts.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/quill-vm/quill/heap"
	"github.com/quill-vm/quill/image"
	"github.com/quill-vm/quill/rterrors"
	"github.com/quill-vm/quill/vm"
)

// Service wraps an open SQLite-backed store and the bootstrap Class/
// ForeignObject machinery that makes it reachable from script code as
// ctx.Globals["Store"].
//
// Every class in this runtime shares one metaclass (ctx.ClassClass, per
// Context.bootstrap), so a script-level static constructor — `Store.open`
// sent to the Class value the way `Array.new` is — would have to live on
// that single shared method table, the same place `Array.new` and
// `Int.max`/`Int.min` already live. Adding another such entry would only
// compound that simplification rather than fix it. Opening a store is
// instead a host-side decision (which DSN, when) made once at Context
// construction via Install, exactly like the embedding host choosing an
// initial GC threshold or a log level; the script only ever sees the one
// already-open Store instance as a global, and sends get/put/delete/close
// directly to it — plain instance methods dispatched off the
// ForeignObject's own Class field, the same mechanism Array/String/Int
// already use safely.
type Service struct {
	db    *sql.DB
	class heap.Ptr[vm.Class]

	// roots pins everything Install allocates (the Store class and its
	// ForeignObject instance) for the lifetime of the Service, since
	// nothing else in the traced object graph reaches them once Install
	// returns — ctx.Globals is a plain Go map, not itself heap-traced.
	roots []releasable
}

type releasable interface {
	Release()
}

// Install opens dsn, creates the schema if needed, and wires a `Store`
// global into ctx with get/put/delete/close foreign methods. The returned
// Service's Close should be called when the embedding host is done with
// ctx.
func Install(ctx *vm.Context, dsn string) (*Service, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dsn, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS quill_objects (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}

	classRoot := heap.Alloc(ctx.Heap, vm.NewClass("Store", ctx.ClassClass, ctx.ObjectClass))
	svc := &Service{db: db, class: classRoot.Value, roots: []releasable{classRoot}}

	def(ctx, svc.class, "get", 2, svc.methodGet)
	def(ctx, svc.class, "put", 3, svc.methodPut)
	def(ctx, svc.class, "delete", 2, svc.methodDelete)
	def(ctx, svc.class, "close", 1, svc.methodClose)

	instRoot := heap.Alloc(ctx.Heap, vm.ForeignObject{Payload: svc, Class: svc.class})
	svc.roots = append(svc.roots, instRoot)

	ctx.Globals["Store"] = vm.ForeignObjectValue(instRoot.Value)
	ctx.Log.Info("store: opened %s", dsn)

	return svc, nil
}

// Close releases the underlying database connection. It does not unpin the
// Store class/instance from the Context's heap — a script that has already
// captured the Store global in a local or upvalue must keep seeing a valid
// (if now inert) handle rather than a dangling one.
func (s *Service) Close() error {
	return s.db.Close()
}

// def installs a lambda-style foreign method (arity counts self), mirroring
// vm/bootstrap.go's own unexported def helper since that one is not
// exported outside package vm.
func def(ctx *vm.Context, class heap.Ptr[vm.Class], name string, arity int, fn func(ctx *vm.Context, args []vm.Value) (vm.Value, error)) {
	root := heap.Alloc(ctx.Heap, vm.ForeignFunction{Name: name, Arity: arity, Call: fn})
	vm.ClassDefine(ctx, class, name, vm.ForeignFnValue(root.Value))
	root.Release()
}

func selfOf(v vm.Value) (*Service, error) {
	fobj, ok := v.AsForeignObject()
	if !ok {
		return nil, hostFault("store: receiver is not a Store instance")
	}
	svc, ok := fobj.Get().Payload.(*Service)
	if !ok {
		return nil, hostFault("store: receiver is not a Store instance")
	}
	return svc, nil
}

func hostFault(format string, args ...any) error {
	return rterrors.NewHostFaultf(format, args...)
}

func (s *Service) methodGet(ctx *vm.Context, args []vm.Value) (vm.Value, error) {
	svc, err := selfOf(args[0])
	if err != nil {
		return vm.Nil, err
	}
	key, ok := args[1].AsString()
	if !ok {
		return vm.Nil, hostFault("store: get: key must be a String")
	}

	var data []byte
	row := svc.db.QueryRow(`SELECT value FROM quill_objects WHERE key = ?`, string(key.Get().Bytes))
	switch err := row.Scan(&data); err {
	case nil:
		root, err := image.Decode(ctx, data)
		if err != nil {
			return vm.Nil, err
		}
		return root.Value, nil
	case sql.ErrNoRows:
		return vm.Nil, nil
	default:
		return vm.Nil, hostFault("store: get: %v", err)
	}
}

func (s *Service) methodPut(ctx *vm.Context, args []vm.Value) (vm.Value, error) {
	svc, err := selfOf(args[0])
	if err != nil {
		return vm.Nil, err
	}
	key, ok := args[1].AsString()
	if !ok {
		return vm.Nil, hostFault("store: put: key must be a String")
	}

	root := heap.NewRoot(ctx.Heap, args[2])
	data, err := image.Encode(root)
	root.Release()
	if err != nil {
		return vm.Nil, err
	}

	if _, err := svc.db.Exec(
		`INSERT INTO quill_objects (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		string(key.Get().Bytes), data,
	); err != nil {
		return vm.Nil, hostFault("store: put: %v", err)
	}
	return args[2], nil
}

func (s *Service) methodDelete(ctx *vm.Context, args []vm.Value) (vm.Value, error) {
	svc, err := selfOf(args[0])
	if err != nil {
		return vm.Nil, err
	}
	key, ok := args[1].AsString()
	if !ok {
		return vm.Nil, hostFault("store: delete: key must be a String")
	}
	if _, err := svc.db.Exec(`DELETE FROM quill_objects WHERE key = ?`, string(key.Get().Bytes)); err != nil {
		return vm.Nil, hostFault("store: delete: %v", err)
	}
	return vm.Nil, nil
}

func (s *Service) methodClose(ctx *vm.Context, args []vm.Value) (vm.Value, error) {
	svc, err := selfOf(args[0])
	if err != nil {
		return vm.Nil, err
	}
	if err := svc.Close(); err != nil {
		return vm.Nil, hostFault("store: close: %v", err)
	}
	return vm.Nil, nil
}
