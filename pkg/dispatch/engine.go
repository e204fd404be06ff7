// Package dispatch implements the global allocator dispatcher: the layer
// that routes an allocation request to whichever of a coroutine-local,
// thread-local, or global engine currently owns it, and that lets a
// caller swap the coroutine-local engine around a function call (the
// feature the whole module is named after).
//
// Grounded on original_source's PerThreadState.rs / choose_allocator.rs
// for the per-thread control block
// and the dispatch-table shape. Per-thread storage uses
// github.com/timandy/routine's goroutine-local storage: Go has no
// first-class notion of a "thread" a library can hook into the way the
// original's host language does, and no stackful cooperative primitive
// other than the goroutine, so a goroutine stands in for both "coroutine"
// and "thread" here — see DESIGN.md's Open Question resolution.
package dispatch

import (
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
)

// Engine is the uniform surface pkg/bump.Allocator, pkg/bitset.Allocator,
// and pkg/buddy.Allocator are each adapted to, so the dispatcher can hold
// any of them behind one interface.
//
// The three concrete allocators don't actually share method signatures
// (pkg/bump tracks a single alignment-free "last" pointer and needs no
// size on Deallocate; pkg/bitset and pkg/buddy need the size on every
// call since they have no such fast path, and neither takes an align
// parameter on Shrink) — see adapters.go for the small BumpEngine/
// BitsetEngine/BuddyEngine wrappers that paper over that.
type Engine interface {
	// Range reports the [from, to) byte span this engine owns, for
	// pointer-ownership dispatch.
	Range() (from, to xunsafe.Addr[byte])

	// Allocate reserves size bytes aligned to align.
	Allocate(size uintptr, align int) (xunsafe.Addr[byte], error)

	// Deallocate releases the size bytes at ptr.
	Deallocate(ptr xunsafe.Addr[byte], size uintptr)

	// Grow extends ptr from oldSize to newSize bytes aligned to align. If
	// noMove is set and growing in place is impossible,
	// ctxerr.ErrCannotMoveInPlace is returned.
	Grow(ptr xunsafe.Addr[byte], oldSize, newSize uintptr, align int, noMove bool) (xunsafe.Addr[byte], error)

	// Shrink reduces ptr from oldSize to newSize bytes aligned to align.
	Shrink(ptr xunsafe.Addr[byte], oldSize, newSize uintptr, align int) (xunsafe.Addr[byte], error)
}

// Closer is implemented by an Engine whose backing MemorySource must be
// released explicitly when the engine is torn down.
type Closer interface {
	Close() error
}

func closeIfCloser(e Engine) error {
	if e == nil {
		return nil
	}
	if c, ok := e.(Closer); ok {
		return c.Close()
	}
	return nil
}

func inRange(e Engine, ptr xunsafe.Addr[byte]) bool {
	if e == nil {
		return false
	}
	from, to := e.Range()
	return ptr >= from && ptr < to
}
