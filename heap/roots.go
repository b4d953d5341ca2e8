package heap

// Root is a guard representing a rooted value: for as long as it has not
// been Released, everything reachable from its Value is protected from
// collection. Go has no RAII, so — unlike the C++ original — a Root must be
// explicitly released; the idiomatic call site pattern is:
//
//	root := heap.Alloc(h, payload)
//	defer root.Release()
//
// Roots are intended to be short-lived and stack-scoped, exactly as in the
// original design; a Root embedded in a heap-managed payload is a leak (a
// root cycle), never a valid pattern.
type Root[T any] struct {
	h  *Heap
	id uint64

	// Value is the rooted payload itself.
	Value T
}

// Release unregisters the root. After Release, the value it held is no
// longer protected from collection by virtue of this root (it may still be
// reachable through other roots or live cells).
func (r *Root[T]) Release() {
	if r == nil || r.h == nil {
		return
	}
	r.h.mu.Lock()
	delete(r.h.roots, r.id)
	r.h.mu.Unlock()
	r.h = nil
}

// registerRoot installs value's trace function in the heap's root set and
// returns a handle for later release. value must implement Traceable
// unless it is a primitive with no reachable cells (in which case Trace is
// a no-op and registration is harmless but unnecessary).
func registerRoot[T any](h *Heap, value T) *Root[T] {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	r := &Root[T]{h: h, id: id, Value: value}
	h.roots[id] = rootEntry{trace: func(v *Visitor) {
		if t, ok := any(r.Value).(Traceable); ok {
			t.Trace(v)
		}
	}}
	h.mu.Unlock()
	return r
}

// RootCount returns the number of currently registered roots, surfaced by
// the introspection service.
func (h *Heap) RootCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.roots)
}
