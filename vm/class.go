package vm

import (
	"github.com/quill-vm/quill/heap"
)

// MethodEntry is one row of a Class's method table. Own is true for a
// method defined directly on the class; false for an entry the lookup
// cache copied down from a base class. Token is a shared validity cell: a
// redefinition in a base class invalidates every cached entry that pointed
// through it by flipping Token.Get().Live to false, without having to walk
// every subclass's cache eagerly.
type MethodEntry struct {
	Value Value
	Own   bool
	Token heap.Ptr[validityToken]
}

func (m MethodEntry) Trace(v *heap.Visitor) {
	m.Value.Trace(v)
	m.Token.Trace(v)
}

type validityToken struct {
	Live bool
}

func (validityToken) Trace(v *heap.Visitor) {}

// Class is a script class: a property bag (inherited Object behavior) plus
// a method table and an optional superclass. We keep methods string-keyed
// rather than by an integer selector table, since nothing in this runtime
// interns selectors ahead of compilation the way a closed-world Smalltalk
// image does.
type Class struct {
	Name     string
	Props    map[string]Value
	Meta     heap.Ptr[Class]
	Base     heap.Ptr[Class] // IsNil() == no superclass
	Methods  map[string]MethodEntry
	InstVars []string
}

func NewClass(name string, meta, base heap.Ptr[Class]) Class {
	return Class{
		Name:    name,
		Props:   make(map[string]Value),
		Meta:    meta,
		Base:    base,
		Methods: make(map[string]MethodEntry),
	}
}

func (c Class) Trace(v *heap.Visitor) {
	for _, val := range c.Props {
		val.Trace(v)
	}
	c.Meta.Trace(v)
	c.Base.Trace(v)
	for _, m := range c.Methods {
		m.Trace(v)
	}
}

func (c Class) GetProp(name string) (Value, bool) {
	val, ok := c.Props[name]
	return val, ok
}

func (c *Class) SetProp(name string, val Value) {
	c.Props[name] = val
}

// Lookup finds a method by name, walking the superclass chain and caching
// the result (with Own=false) on the class where the lookup started, so the
// next lookup for the same name on the same class is O(1); the
// intermediate classes passed through get no cache entry. An owned entry
// is returned directly even when its token has been flipped by a
// subclass's Define. Returns false if no class in the chain defines name.
func (c *heapClass) Lookup(ctx *Context, name string) (Value, bool) {
	self := c.self.Get()
	if entry, ok := self.Methods[name]; ok && (entry.Own || entry.Token.Get().Live) {
		return entry.Value, true
	}
	value, token, ok := c.lookupRec(name)
	if !ok {
		return Nil, false
	}
	self.Methods[name] = MethodEntry{Value: value, Own: false, Token: token}
	return value, true
}

// lookupRec walks up the base chain looking for an owned definition of
// name, returning its value and validity token without mutating any cache
// along the way — the caller installs the cache entry only at the class
// where the lookup originated.
func (c *heapClass) lookupRec(name string) (Value, heap.Ptr[validityToken], bool) {
	self := c.self.Get()
	if entry, ok := self.Methods[name]; ok && entry.Own {
		return entry.Value, entry.Token, true
	}
	if self.Base.IsNil() {
		return Nil, heap.Ptr[validityToken]{}, false
	}
	base := heapClass{self: self.Base}
	return base.lookupRec(name)
}

// Remove deletes an owned method definition and returns it, invalidating
// every cache entry that had copied it down into a subclass.
func (c *heapClass) Remove(ctx *Context, name string) (Value, bool) {
	self := c.self.Get()
	entry, ok := self.Methods[name]
	if !ok || !entry.Own {
		return Nil, false
	}
	delete(self.Methods, name)
	entry.Token.Get().Live = false
	return entry.Value, true
}

// Define creates or overwrites an owned method, then runs a fixup pass that
// invalidates the validity token of whatever definition of name was
// previously in effect at this class — whether that was a local entry
// (owned or itself copied down from a base) or, when self has never looked
// name up before, an ancestor's owned entry found by walking the base
// chain — so every subclass that had cached it (at any depth) will
// re-resolve on next Lookup instead of returning the now-shadowed value.
func (c *heapClass) Define(ctx *Context, name string, value Value) {
	self := c.self.Get()
	if old, ok := self.Methods[name]; ok {
		old.Token.Get().Live = false
	} else if _, oldToken, ok := c.lookupRec(name); ok {
		oldToken.Get().Live = false
	}
	token := heap.Alloc(ctx.Heap, validityToken{Live: true})
	self.Methods[name] = MethodEntry{Value: value, Own: true, Token: token.Value}
	token.Release()
}

// heapClass is a thin cursor over a heap.Ptr[Class], letting the lookup
// recursion above walk the Base chain without repeatedly unwrapping Ptrs
// by hand.
type heapClass struct {
	self heap.Ptr[Class]
}

// Lookup, Remove and Define as free functions operating directly on a
// heap.Ptr[Class] — the entry points used by the interpreter and by
// bootstrap setup, which don't otherwise need the heapClass cursor type.
func ClassLookup(ctx *Context, p heap.Ptr[Class], name string) (Value, bool) {
	return (&heapClass{self: p}).Lookup(ctx, name)
}

func ClassDefine(ctx *Context, p heap.Ptr[Class], name string, value Value) {
	(&heapClass{self: p}).Define(ctx, name, value)
}

func ClassRemove(ctx *Context, p heap.Ptr[Class], name string) (Value, bool) {
	return (&heapClass{self: p}).Remove(ctx, name)
}

// IsSubclassOf reports whether p is class itself or inherits from it,
// transitively, through Base.
func IsSubclassOf(p heap.Ptr[Class], class heap.Ptr[Class]) bool {
	for {
		if p == class {
			return true
		}
		self := p.Get()
		if self.Base.IsNil() {
			return false
		}
		p = self.Base
	}
}
