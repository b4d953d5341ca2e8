// Package heap implements a precise, tracing mark-and-sweep collector over
// a singly-linked list of cells, with weak handles (Ptr) and stack-scoped
// roots (Root).
//
// Go already reclaims memory on its own; this package exists to model, on
// top of that, the exact reachability and weak-handle-invalidation contract
// a script runtime promises to its own values and to foreign code embedding
// it: a Ptr surviving a collection only while its cell is marked, a Root
// guaranteeing its contents (and everything reachable from them) survive
// for as long as the Root is alive.
package heap

import (
	"sync"
	"sync/atomic"
	"time"
)

// Traceable is implemented by every payload type a Cell can hold. Trace
// must forward the visitor over every directly reachable Ptr the payload
// holds. Types with no Ptr fields (primitives, plain strings) implement it
// as a no-op.
type Traceable interface {
	Trace(v *Visitor)
}

// Destroyable is optionally implemented by payloads that hold a resource
// which must be released when the cell is swept (e.g. an open file or
// foreign handle). Most payloads do not need this.
type Destroyable interface {
	Destroy()
}

// cell is the GC-managed node. Cells form a singly-linked list rooted at
// Heap.head; the list is the only thing the sweeper walks.
type cell struct {
	valid    bool
	marked   bool
	weakRefs int64 // atomic; count of outstanding Hold calls not yet Released
	next     *cell
	payload  Traceable
}

// MinThreshold is the floor below which the collection threshold never
// drops, matching the original allocator's max(allocations*2, 128) rule.
const MinThreshold = 128

// Heap owns the cell list, the live root set, and the allocation threshold.
// A Heap is not safe for concurrent use by script execution (per the
// single-threaded execution model); the mutex exists only to let an
// introspection goroutine observe stats and request collections safely
// between script runs.
type Heap struct {
	mu sync.Mutex

	head  *cell
	count int64 // live cell count (allocated minus swept)

	threshold int

	roots   map[uint64]rootEntry
	nextID  uint64

	stats Stats
}

type rootEntry struct {
	trace func(*Visitor)
}

// Stats reports collector activity, surfaced by the introspection service.
type Stats struct {
	Collections   uint64
	LastFreed     int
	LastMarked    int
	LastDuration  time.Duration
	LiveCells     int
	Threshold     int
	WeakHandles   int64
}

// New creates an empty heap with the given initial threshold floor. A
// threshold below MinThreshold uses MinThreshold.
func New(initialThreshold int) *Heap {
	if initialThreshold < MinThreshold {
		initialThreshold = MinThreshold
	}
	return &Heap{
		threshold: initialThreshold,
		roots:     make(map[uint64]rootEntry),
	}
}

// Visitor is handed to a payload's Trace method. Visit marks the cell
// backing a weak handle reachable and enqueues it for further tracing.
type Visitor struct {
	h     *Heap
	queue []*cell
}

// visit is called by Ptr[T].Trace.
func (v *Visitor) visit(c *cell) {
	if c == nil || !c.valid || c.marked {
		return
	}
	c.marked = true
	v.queue = append(v.queue, c)
}

// Ptr is a weak handle to a heap-managed value of type T. Holding a Ptr
// keeps the cell *header* alive (so IsValid can observe invalidation) but
// does not keep the payload alive across a collection.
type Ptr[T any] struct {
	c *cell
}

// Trace implements Traceable: a Ptr forwards the visitor to its own cell.
func (p Ptr[T]) Trace(v *Visitor) {
	v.visit(p.c)
}

// IsValid reports whether the referenced cell has survived every collection
// since the Ptr was obtained.
func (p Ptr[T]) IsValid() bool {
	return p.c != nil && p.c.valid
}

// IsNil reports whether the Ptr was never assigned a target.
func (p Ptr[T]) IsNil() bool {
	return p.c == nil
}

// Hold increments the cell's weak-handle refcount, instructing the next
// mark phase to treat the cell as reachable even if nothing else traces to
// it. Go has no destructors to pair with a C++ Ptr's RAII lifetime, so this
// is explicit: callers that keep a long-lived weak handle outside the
// traced object graph call Hold when they start relying on it and Release
// when they stop. An unreleased Hold only keeps a cell
// alive longer than strictly necessary; it can never cause a use-after-free,
// since Go's own collector is the final backstop underneath this one.
func (p Ptr[T]) Hold() {
	if p.c != nil {
		atomic.AddInt64(&p.c.weakRefs, 1)
	}
}

// Release decrements the cell's weak-handle refcount. See Hold.
func (p Ptr[T]) Release() {
	if p.c != nil {
		atomic.AddInt64(&p.c.weakRefs, -1)
	}
}

// Get dereferences the pointer. It panics with InvalidHandleAccess if the
// handle's target has been collected — callers that must recover should
// check IsValid first. The interpreter's opcode dispatch calls Get directly,
// so an invalid handle there panics out of the interpreter loop.
func (p Ptr[T]) Get() *T {
	if !p.IsValid() {
		panic(InvalidHandleAccess{})
	}
	v := p.c.payload.(*boxed[T])
	return &v.value
}

// InvalidHandleAccess is the failure mode for dereferencing a Ptr whose
// target cell has been swept, or for a narrowing cast that would change
// pointer identity. It is a host fault (non-recoverable), not a script
// exception.
type InvalidHandleAccess struct {
	Reason string
}

func (e InvalidHandleAccess) Error() string {
	if e.Reason == "" {
		return "heap: invalid handle access"
	}
	return "heap: invalid handle access: " + e.Reason
}

// boxed wraps a payload value of type T so that Ptr[T].Get can return a
// stable *T independent of how the payload interface value is stored.
type boxed[T any] struct {
	value T
	trace func(*Visitor)
}

func (b *boxed[T]) Trace(v *Visitor) {
	if b.trace != nil {
		b.trace(v)
	}
}

func (b *boxed[T]) Destroy() {
	if d, ok := any(&b.value).(Destroyable); ok {
		d.Destroy()
	}
}

// traceFunc extracts a Trace call bound to a *T, used so Alloc/Root can
// accept any T whose *T implements Traceable, without requiring T itself
// (the value type) to.
func traceFunc[T any](v *T) func(*Visitor) {
	if t, ok := any(v).(Traceable); ok {
		return t.Trace
	}
	return nil
}

// Alloc constructs a new payload of type T in a fresh cell, triggering a
// collection first if the live-cell count has reached the threshold, and
// returns a Root holding a Ptr to the new cell. After every collection the
// threshold is reset to twice the surviving live-cell count (floor
// MinThreshold) — it is the allocator's only tuning knob.
func Alloc[T any](h *Heap, value T) *Root[Ptr[T]] {
	h.mu.Lock()
	if h.count >= int64(h.threshold) {
		h.collectLocked()
		next := int(h.count) * 2
		if next < MinThreshold {
			next = MinThreshold
		}
		h.threshold = next
	}

	b := &boxed[T]{value: value}
	b.trace = traceFunc(&b.value)

	c := &cell{valid: true, next: h.head, payload: b}
	h.head = c
	h.count++
	h.mu.Unlock()

	return registerRoot(h, Ptr[T]{c: c})
}

// NewRoot registers value as a GC root and returns a handle that keeps
// everything reachable from it alive for as long as the Root is not
// Released. Roots are intended to be short-lived and stack-scoped; Go has
// no RAII, so callers must defer root.Release().
func NewRoot[T any](h *Heap, value T) *Root[T] {
	return registerRoot(h, value)
}

// Collect runs one full mark-and-sweep cycle regardless of the threshold.
// It is exposed directly for the introspection service's forced-collection
// RPC and for tests asserting reachability-closure properties.
func (h *Heap) Collect() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.collectLocked()
	return h.StatsLocked()
}

func (h *Heap) collectLocked() {
	start := time.Now()
	v := &Visitor{h: h}

	// Mark phase: seed from every registered root...
	for _, r := range h.roots {
		r.trace(v)
	}
	// ...and from every cell with outstanding weak handles, so later
	// cycles can still report validity for handles nobody roots directly.
	for c := h.head; c != nil; c = c.next {
		if c.valid && atomic.LoadInt64(&c.weakRefs) > 0 {
			v.visit(c)
		}
	}
	marked := 0
	for len(v.queue) > 0 {
		c := v.queue[len(v.queue)-1]
		v.queue = v.queue[:len(v.queue)-1]
		marked++
		c.payload.Trace(v)
	}

	// Sweep phase.
	freed := 0
	var prev *cell
	for c := h.head; c != nil; {
		next := c.next
		if c.marked {
			c.marked = false
			prev = c
		} else if c.valid {
			if d, ok := c.payload.(Destroyable); ok {
				d.Destroy()
			}
			c.valid = false
			c.payload = nil
			h.count--
			if atomic.LoadInt64(&c.weakRefs) == 0 {
				freed++
				if prev == nil {
					h.head = next
				} else {
					prev.next = next
				}
			} else {
				prev = c
			}
		} else {
			prev = c
		}
		c = next
	}

	h.stats.Collections++
	h.stats.LastFreed = freed
	h.stats.LastMarked = marked
	h.stats.LastDuration = time.Since(start)
}

// StatsLocked returns a snapshot of collector statistics. Call sites
// outside this package should use Stats() instead, which takes the lock.
func (h *Heap) StatsLocked() Stats {
	s := h.stats
	s.LiveCells = int(h.count)
	s.Threshold = h.threshold
	var weak int64
	for c := h.head; c != nil; c = c.next {
		weak += atomic.LoadInt64(&c.weakRefs)
	}
	s.WeakHandles = weak
	return s
}

// Stats returns a snapshot of collector statistics, safe to call from the
// introspection service while script execution may be in flight — it is
// purely observational and never mutates collector state.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.StatsLocked()
}

// LiveCount reports the number of currently live (valid) cells.
func (h *Heap) LiveCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
