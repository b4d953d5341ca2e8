// Package image serializes a reachable Quill value graph to a portable
// byte representation (CBOR) and rebuilds it into a fresh Context, the
// runtime's snapshot/image format.
package image

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/quill-vm/quill/heap"
	"github.com/quill-vm/quill/rterrors"
	"github.com/quill-vm/quill/vm"
)

// wireValue is the CBOR wire shape for one node of the value graph. Only
// the fields relevant to Tag are populated; cbor's omitempty keeps the
// encoding compact.
type wireValue struct {
	Tag   uint8                `cbor:"t"`
	Bool  bool                 `cbor:"b,omitempty"`
	Int   int64                `cbor:"i,omitempty"`
	Str   []byte               `cbor:"s,omitempty"`
	Items []wireValue          `cbor:"a,omitempty"`
	Class string               `cbor:"c,omitempty"`
	Props map[string]wireValue `cbor:"p,omitempty"`
}

// Encode serializes the value graph reachable from root. Only the portable
// subset of the value set round-trips: Nil, Bool, Int, String, Array, and
// Object (keyed by its class's name, which must resolve back to a global
// class binding on Decode). Function, ForeignFunction, ForeignObject, and
// Class values carry host-side or bytecode state that has no portable
// representation, and cause Encode to fail with a *rterrors.HostFault.
func Encode(root *heap.Root[vm.Value]) ([]byte, error) {
	w, err := encodeValue(root.Value, make(map[vm.Value]bool))
	if err != nil {
		return nil, err
	}
	data, err := cbor.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("image: encode: %w", err)
	}
	return data, nil
}

func encodeValue(v vm.Value, seen map[vm.Value]bool) (wireValue, error) {
	switch v.Tag() {
	case vm.TagNil:
		return wireValue{Tag: uint8(vm.TagNil)}, nil
	case vm.TagBool:
		b, _ := v.AsBool()
		return wireValue{Tag: uint8(vm.TagBool), Bool: b}, nil
	case vm.TagInt:
		i, _ := v.AsInt()
		return wireValue{Tag: uint8(vm.TagInt), Int: i}, nil
	case vm.TagString:
		p, _ := v.AsString()
		return wireValue{Tag: uint8(vm.TagString), Str: append([]byte(nil), p.Get().Bytes...)}, nil
	case vm.TagArray:
		if seen[v] {
			return wireValue{}, rterrors.NewHostFaultf("image: cyclic array is not part of the portable value set")
		}
		seen[v] = true
		defer delete(seen, v)

		p, _ := v.AsArray()
		items := p.Get().Items
		out := make([]wireValue, len(items))
		for i, item := range items {
			wv, err := encodeValue(item, seen)
			if err != nil {
				return wireValue{}, err
			}
			out[i] = wv
		}
		return wireValue{Tag: uint8(vm.TagArray), Items: out}, nil
	case vm.TagObject:
		if seen[v] {
			return wireValue{}, rterrors.NewHostFaultf("image: cyclic object is not part of the portable value set")
		}
		seen[v] = true
		defer delete(seen, v)

		p, _ := v.AsObject()
		obj := p.Get()
		props := make(map[string]wireValue, len(obj.Props))
		for name, pv := range obj.Props {
			wv, err := encodeValue(pv, seen)
			if err != nil {
				return wireValue{}, err
			}
			props[name] = wv
		}
		return wireValue{Tag: uint8(vm.TagObject), Class: obj.Class.Get().Name, Props: props}, nil
	default:
		return wireValue{}, rterrors.NewHostFaultf("image: %s values are not part of the portable value set", v.Tag())
	}
}

// releasable matches heap.Root[T].Release without importing the compiler
// package's identical helper — it is small enough that sharing it across
// packages would cost more in coupling than it saves in duplication.
type releasable interface {
	Release()
}

// Decode rebuilds a value graph from data, allocating every node fresh in
// ctx's heap. Objects resolve their class by name against ctx.Globals; a
// class name with no matching global binding fails with a *rterrors.HostFault,
// since that means the decoding Context's bootstrap/script state does not
// match the one the image was encoded from closely enough to be meaningful.
func Decode(ctx *vm.Context, data []byte) (*heap.Root[vm.Value], error) {
	var w wireValue
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("image: decode: %w", err)
	}

	var keep []releasable
	v, err := decodeValue(ctx, w, &keep)
	for _, r := range keep {
		r.Release()
	}
	if err != nil {
		return nil, err
	}
	return heap.NewRoot(ctx.Heap, v), nil
}

func decodeValue(ctx *vm.Context, w wireValue, keep *[]releasable) (vm.Value, error) {
	switch vm.Tag(w.Tag) {
	case vm.TagNil:
		return vm.Nil, nil
	case vm.TagBool:
		return vm.Bool(w.Bool), nil
	case vm.TagInt:
		return vm.Int(w.Int), nil
	case vm.TagString:
		root := heap.Alloc(ctx.Heap, vm.String{Bytes: w.Str})
		*keep = append(*keep, root)
		return vm.StringValue(root.Value), nil
	case vm.TagArray:
		items := make([]vm.Value, len(w.Items))
		for i, iw := range w.Items {
			iv, err := decodeValue(ctx, iw, keep)
			if err != nil {
				return vm.Nil, err
			}
			items[i] = iv
		}
		root := heap.Alloc(ctx.Heap, vm.Array{Items: items})
		*keep = append(*keep, root)
		return vm.ArrayValue(root.Value), nil
	case vm.TagObject:
		classVal, ok := ctx.Globals[w.Class]
		if !ok {
			return vm.Nil, rterrors.NewHostFaultf("image: decode: no global class named %q", w.Class)
		}
		classPtr, ok := classVal.AsClass()
		if !ok {
			return vm.Nil, rterrors.NewHostFaultf("image: decode: global %q is not a class", w.Class)
		}
		obj := vm.NewObject(classPtr)
		for name, pw := range w.Props {
			pv, err := decodeValue(ctx, pw, keep)
			if err != nil {
				return vm.Nil, err
			}
			obj.SetProp(name, pv)
		}
		root := heap.Alloc(ctx.Heap, obj)
		*keep = append(*keep, root)
		return vm.ObjectValue(root.Value), nil
	default:
		return vm.Nil, rterrors.NewHostFaultf("image: decode: unknown wire tag %d", w.Tag)
	}
}
