package dispatch

// GloballyAllocated wraps a value whose storage must outlive the goroutine
// that created it — typically a shared message body handed across a
// thread boundary — and guarantees every allocation that value's own
// construction, mutation, or teardown triggers happens while the active
// tag is Global, regardless of whatever tag the calling goroutine was
// actually under.
//
// This exists because some collection types defer their first allocation
// (an empty map or slice allocates nothing until its first write): without
// this guard, a collection constructed under a thread-local tag but grown
// later under a different tag would free its backing storage against the
// wrong engine.
type GloballyAllocated[T any] struct {
	d     *Dispatcher
	value T
}

// NewGloballyAllocated constructs value while pinning the active tag to
// Global, then restores whatever tag was active before.
func NewGloballyAllocated[T any](d *Dispatcher, construct func() T) *GloballyAllocated[T] {
	g := &GloballyAllocated[T]{d: d}
	d.UnderTag(Global, func() {
		g.value = construct()
	})
	return g
}

// Mutate runs fn against the wrapped value with the active tag pinned to
// Global, so any allocation fn triggers (e.g. growing a slice field)
// lands in the global engine.
func (g *GloballyAllocated[T]) Mutate(fn func(*T)) {
	g.d.UnderTag(Global, func() {
		fn(&g.value)
	})
}

// Value returns the wrapped value. Reading it performs no allocation and
// needs no tag pinning.
func (g *GloballyAllocated[T]) Value() T {
	return g.value
}

// Drop tears the wrapped value down (resetting it to its zero value) with
// the active tag pinned to Global, so that any deallocation triggered by
// the teardown (e.g. a map or slice release) is routed to the same engine
// that allocated it.
func (g *GloballyAllocated[T]) Drop() {
	g.d.UnderTag(Global, func() {
		var zero T
		g.value = zero
	})
}

// UnderTag runs fn with the calling goroutine's active tag pinned to tag,
// restoring whatever tag was active beforehand once fn returns.
//
// This is the one sanctioned way to change active_tag outside of
// WithCoroutineAllocator: pkg/adapter uses it to bind a host allocator
// handle to a fixed tag (e.g. "this Vec always allocates ThreadLocal")
// without a general SetTag escape hatch that would let a caller leave the
// tag changed indefinitely.
func (d *Dispatcher) UnderTag(tag Tag, fn func()) {
	cb := d.controlBlock()
	prev := cb.activeTag
	cb.activeTag = tag
	defer func() { cb.activeTag = prev }()
	fn()
}
