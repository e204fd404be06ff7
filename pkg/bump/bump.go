// Package bump implements a monotonic pointer-bump allocator over a single
// memsource.MemorySource: the cheapest of the three engines, and the only
// one that can shrink or grow an allocation in place without bookkeeping
// beyond "was this the most recent allocation."
//
// Tracks a single cursor: Allocate rounds up to the requested alignment and
// moves the cursor past the new block, and fails once the cursor would run
// off the end of the one backing MemorySource, since this engine never owns
// more than one source. The cursor moves back only when the most recent
// allocation is deallocated or shrunk in place.
package bump

import (
	"github.com/ctxalloc/ctxalloc/internal/debug"
	"github.com/ctxalloc/ctxalloc/pkg/ctxerr"
	"github.com/ctxalloc/ctxalloc/pkg/memsource"
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
)

// maxAlign is the largest alignment an allocate/grow/shrink request may
// name; anything past it is a programming error.
const maxAlign = 4096

// Allocator is a single-owner, monotonic bump allocator.
//
// A zero Allocator is not ready to use; construct one with New.
type Allocator struct {
	_ xunsafe.NoCopy

	src  memsource.MemorySource
	base xunsafe.Addr[byte]
	end  xunsafe.Addr[byte]
	next xunsafe.Addr[byte]
	last xunsafe.Addr[byte]
}

// New creates a bump allocator over the whole of src.
func New(src memsource.MemorySource) *Allocator {
	base := src.AllocationsStartFrom()
	end := base.ByteAdd(int(src.Size()))

	return &Allocator{
		src:  src,
		base: base,
		end:  end,
		next: base,
		last: base,
	}
}

// Range returns the [base, end) span this allocator owns, for the
// dispatcher's pointer-ownership lookup.
func (a *Allocator) Range() (from, to xunsafe.Addr[byte]) {
	return a.base, a.end
}

// Close releases the backing MemorySource: a local engine's lifetime
// nests inside its source's.
func (a *Allocator) Close() error {
	if c, ok := a.src.(memsource.Closer); ok {
		return c.Close()
	}
	return nil
}

// Allocate reserves size bytes aligned to align.
//
// align must be a non-zero power of two no larger than maxAlign; size must
// be non-zero. Both are debug-time assertions: violating either is a
// programming error.
func (a *Allocator) Allocate(size uintptr, align int) (xunsafe.Addr[byte], error) {
	debug.Assert(size > 0, "bump: size must be non-zero")
	debug.Assert(align > 0 && align <= maxAlign, "bump: align %d out of range", align)

	start := a.next.RoundUpTo(align)
	endAlloc := start.ByteAdd(int(size))
	if endAlloc > a.end {
		return 0, ctxerr.ErrOutOfMemory
	}

	a.last = start
	a.next = endAlloc

	debug.Log(nil, "allocate", "%v, %d bytes, next=%v", start, size, a.next)

	return start, nil
}

// Deallocate releases a previously-allocated pointer.
//
// If ptr is the most recent allocation, its space is reclaimed immediately
// by rewinding next. Otherwise this is a no-op: the region stays "frozen"
// until the whole allocator is discarded.
func (a *Allocator) Deallocate(ptr xunsafe.Addr[byte]) {
	if ptr == a.last {
		a.next = a.last
		debug.Log(nil, "deallocate", "%v was last, next=%v", ptr, a.next)
		return
	}

	debug.Log(nil, "deallocate", "%v frozen, not last (%v)", ptr, a.last)
}

// Shrink reduces a live allocation at ptr (previously sized oldSize aligned
// to oldAlign) to newSize bytes aligned to newAlign.
//
// If ptr is the most recent allocation and newAlign still divides ptr, the
// tail is released in place. If ptr is not the most recent allocation but
// newAlign still divides it, the original pointer is returned unchanged and
// its tail stays frozen. Otherwise (newAlign does not divide ptr) a fresh
// allocation is made, the live bytes are copied over, and the old
// allocation is deallocated.
func (a *Allocator) Shrink(ptr xunsafe.Addr[byte], oldSize, newSize uintptr, oldAlign, newAlign int) (xunsafe.Addr[byte], error) {
	debug.Assert(newSize < oldSize, "bump: shrink requires new_size < old_size")

	if ptr == a.last && ptr.AlignedTo(newAlign) {
		a.next = ptr.ByteAdd(int(newSize))
		debug.Log(nil, "shrink", "%v in place to %d bytes, next=%v", ptr, newSize, a.next)
		return ptr, nil
	}

	if ptr.AlignedTo(newAlign) {
		return ptr, nil
	}

	fresh, err := a.Allocate(newSize, newAlign)
	if err != nil {
		return 0, err
	}

	xunsafe.Copy(fresh.AssertValid(), ptr.AssertValid(), int(newSize))
	a.Deallocate(ptr)

	return fresh, nil
}

// Grow extends a live allocation at ptr (previously sized oldSize aligned
// to oldAlign) to newSize bytes aligned to newAlign.
//
// If ptr is the most recent allocation and newAlign still divides ptr, the
// cursor is simply advanced. Otherwise the allocation is relocated: a fresh
// block is obtained, the live bytes are copied over, and the old allocation
// is deallocated. If noMove is set and relocation is the only option,
// ctxerr.ErrCannotMoveInPlace is returned instead.
func (a *Allocator) Grow(ptr xunsafe.Addr[byte], oldSize, newSize uintptr, oldAlign, newAlign int, noMove bool) (xunsafe.Addr[byte], error) {
	debug.Assert(newSize > oldSize, "bump: grow requires new_size > old_size")

	if ptr == a.last && ptr.AlignedTo(newAlign) {
		grown := ptr.ByteAdd(int(newSize))
		if grown > a.end {
			if noMove {
				return 0, ctxerr.ErrCannotMoveInPlace
			}
			return a.growByMoving(ptr, oldSize, newSize, newAlign)
		}

		a.next = grown
		debug.Log(nil, "grow", "%v in place to %d bytes, next=%v", ptr, newSize, a.next)
		return ptr, nil
	}

	if noMove {
		return 0, ctxerr.ErrCannotMoveInPlace
	}

	return a.growByMoving(ptr, oldSize, newSize, newAlign)
}

func (a *Allocator) growByMoving(ptr xunsafe.Addr[byte], oldSize, newSize uintptr, newAlign int) (xunsafe.Addr[byte], error) {
	fresh, err := a.Allocate(newSize, newAlign)
	if err != nil {
		return 0, err
	}

	xunsafe.Copy(fresh.AssertValid(), ptr.AssertValid(), int(oldSize))
	a.Deallocate(ptr)

	return fresh, nil
}
