//go:build go1.22

package arena

import (
	"github.com/ctxalloc/ctxalloc/internal/debug"
	"github.com/ctxalloc/ctxalloc/pkg/ctxerr"
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
)

// Obtain pops the head of the free list and returns its address.
//
// Obtain never inspects size beyond asserting it fits in one block: unlike
// the engines in pkg/bump, pkg/bitset, and pkg/buddy, an Arena's blocks are
// all the same size, so there is nothing to round or search.
func (a *Arena) Obtain(size uint32) (xunsafe.Addr[byte], error) {
	debug.Assert(size > 0, "arena: size must be non-zero")
	debug.Assert(size <= a.blockSize, "arena: size %d exceeds block size %d", size, a.blockSize)

	if a.nextFree == MaxSlotIndex {
		return 0, ctxerr.ErrOutOfMemory
	}

	index := a.nextFree
	addr := a.blockAt(index)
	a.nextFree = *xunsafe.Cast[uint32](addr.AssertValid())
	a.numFree--

	debug.Log(nil, "obtain", "block %d -> %v, %d free remain", index, addr, a.numFree)

	return addr, nil
}

// Release pushes a previously obtained block back onto the free list.
//
// addr must be a value this Arena's Obtain previously returned and must not
// have been released already; violating either is a debug-mode assertion
// and undefined behavior otherwise — a programming error, not a
// recoverable runtime condition.
func (a *Arena) Release(addr xunsafe.Addr[byte]) {
	from, to := a.Range()
	debug.Assert(addr >= from && addr < to, "arena: %v is not owned by this arena [%v, %v)", addr, from, to)

	index := a.indexOf(addr)
	*xunsafe.Cast[uint32](addr.AssertValid()) = a.nextFree
	a.nextFree = index
	a.numFree++

	debug.Log(nil, "release", "block %d <- %v, %d free remain", index, addr, a.numFree)
}
