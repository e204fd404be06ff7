// Package adapter plugs a dispatch.Dispatcher into a bare two-method
// allocator shape: Alloc(size int) *byte / Release(p *byte, size int).
// This mirrors pkg/arena.Arena's own Obtain/Release pair (pkg/arena/
// arena.go), collapsed to raw sizes instead of block indices, so a host
// type written against that shape works unchanged against a
// dispatcher-backed allocator instead of a single fixed-block Arena.
package adapter

import (
	"github.com/ctxalloc/ctxalloc/internal/debug"
	"github.com/ctxalloc/ctxalloc/pkg/dispatch"
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
)

// DefaultAlign is the alignment used for every request made through this
// package, since the host contract's Alloc(size int) carries no alignment
// of its own. It matches the platform's worst-case scalar alignment.
const DefaultAlign = 8

// Allocator is a bare two-method allocator contract: get a pointer to
// size bytes, give it back.
type Allocator interface {
	Alloc(size int) *byte
	Release(p *byte, size int)
}

// GrowShrinker is implemented by hosts — a growable slice or buffer type
// — that need to resize an existing allocation without re-deriving an
// alignment on every call.
type GrowShrinker interface {
	Grow(p *byte, old, new int) *byte
	Shrink(p *byte, old, new int) *byte
}

// hostAdapter adapts a Dispatcher, pinned to one Tag, into Allocator and
// GrowShrinker.
type hostAdapter struct {
	d   *dispatch.Dispatcher
	tag dispatch.Tag
}

var (
	_ Allocator    = (*hostAdapter)(nil)
	_ GrowShrinker = (*hostAdapter)(nil)
)

// FromDispatcher adapts d into the host Allocator contract, bound to tag.
// Alloc and Grow pin the calling goroutine's active tag to tag for their
// duration via Dispatcher.UnderTag, so a host type bound to, say,
// ThreadLocal always allocates there regardless of whatever tag ambient
// code elsewhere left active. Release and Shrink do not change the tag:
// the dispatcher finds the owning engine by pointer range.
func FromDispatcher(d *dispatch.Dispatcher, tag dispatch.Tag) Allocator {
	return &hostAdapter{d: d, tag: tag}
}

// Alloc implements Allocator by translating the host's bare size into a
// (size, DefaultAlign) request and short-circuiting size == 0 to the
// sentinel.
func (a *hostAdapter) Alloc(size int) *byte {
	if size == 0 {
		return dispatch.Sentinel.AssertValid()
	}

	var (
		addr xunsafe.Addr[byte]
		err  error
	)
	a.d.UnderTag(a.tag, func() {
		addr, err = a.d.Allocate(uintptr(size), DefaultAlign)
	})
	debug.Assert(err == nil, "adapter: allocate %d bytes failed: %v", size, err)

	return addr.AssertValid()
}

// Release implements Allocator by range-dispatching the deallocation; it
// short-circuits the sentinel the same way Alloc produced it.
func (a *hostAdapter) Release(p *byte, size int) {
	addr := xunsafe.AddrOf(p)
	if addr == dispatch.Sentinel {
		return
	}

	a.d.Deallocate(addr, uintptr(size))
}

// Grow implements GrowShrinker.
func (a *hostAdapter) Grow(p *byte, old, new int) *byte {
	addr := xunsafe.AddrOf(p)

	var (
		grown xunsafe.Addr[byte]
		err   error
	)
	a.d.UnderTag(a.tag, func() {
		grown, err = a.d.Grow(addr, uintptr(old), uintptr(new), DefaultAlign, false)
	})
	debug.Assert(err == nil, "adapter: grow %d -> %d bytes failed: %v", old, new, err)

	return grown.AssertValid()
}

// Shrink implements GrowShrinker.
func (a *hostAdapter) Shrink(p *byte, old, new int) *byte {
	addr := xunsafe.AddrOf(p)

	shrunk, err := a.d.Shrink(addr, uintptr(old), uintptr(new), DefaultAlign)
	debug.Assert(err == nil, "adapter: shrink %d -> %d bytes failed: %v", old, new, err)

	return shrunk.AssertValid()
}
