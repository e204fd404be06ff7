//go:build go1.22

// Package arena implements the fixed-size block allocator that every other
// engine in this module can use to carve a MemorySource into uniformly
// sized slots: a memory-source arena, not to be confused with the
// per-request BumpAllocator in pkg/bump (a different, growable kind of
// arena).
//
// # Design
//
// An Arena divides its backing MemorySource into N blocks of block_size
// bytes up front. Free blocks are threaded into a single LIFO linked list:
// the first machine word of a free block holds the index of the next free
// block, terminated by the sentinel MaxSlotIndex. Obtain pops the head,
// Release pushes back onto it. Both are O(1) and allocate nothing of their
// own; this is the same free-list-in-the-payload trick a Recycled
// allocator uses, generalized from "a recycler built on an unlimited GC
// arena" to "a fixed-capacity pool over one caller-supplied MemorySource."
package arena

import (
	"fmt"

	"github.com/ctxalloc/ctxalloc/pkg/memsource"
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
)

// MaxSlotIndex is the sentinel slot_index value marking the end of the
// free list: "no next block."
const MaxSlotIndex uint32 = ^uint32(0)

// minBlockSize is the smallest block size that can hold a slot_index.
const minBlockSize = 4

// Arena is a fixed-block-size allocator over a single MemorySource.
//
// A zero Arena is not ready to use; construct one with New.
type Arena struct {
	_ xunsafe.NoCopy

	src       memsource.MemorySource
	base      xunsafe.Addr[byte]
	blockSize uint32
	numBlocks uint32
	numFree   uint32
	nextFree  uint32 // index of the free-list head, or MaxSlotIndex
}

// New divides src into blocks of blockSize bytes (src.Size() / blockSize of
// them, rounded down) and threads them into a free list.
func New(src memsource.MemorySource, blockSize uint32) (*Arena, error) {
	if blockSize < minBlockSize {
		return nil, fmt.Errorf("ctxalloc: arena block size must be at least %d bytes", minBlockSize)
	}

	numBlocks := uint32(src.Size() / uintptr(blockSize))
	if numBlocks == 0 {
		return nil, fmt.Errorf("ctxalloc: memory source too small for even one %d-byte block", blockSize)
	}

	a := &Arena{
		src:       src,
		base:      src.AllocationsStartFrom(),
		blockSize: blockSize,
		numBlocks: numBlocks,
		numFree:   numBlocks,
		nextFree:  0,
	}

	for i := uint32(0); i < numBlocks; i++ {
		next := i + 1
		if next == numBlocks {
			next = MaxSlotIndex
		}
		*xunsafe.Cast[uint32](a.blockAt(i).AssertValid()) = next
	}

	return a, nil
}

// BlockSize returns the size in bytes of every block this arena hands out.
func (a *Arena) BlockSize() uint32 { return a.blockSize }

// NumBlocks returns the total number of blocks, free or allocated.
func (a *Arena) NumBlocks() uint32 { return a.numBlocks }

// NumFree returns the number of blocks currently on the free list.
func (a *Arena) NumFree() uint32 { return a.numFree }

// Range returns the [from, to) byte range this arena's blocks live in.
func (a *Arena) Range() (from, to xunsafe.Addr[byte]) {
	return a.base, a.base.ByteAdd(int(a.numBlocks) * int(a.blockSize))
}

func (a *Arena) blockAt(index uint32) xunsafe.Addr[byte] {
	return a.base.ByteAdd(int(index) * int(a.blockSize))
}

func (a *Arena) indexOf(addr xunsafe.Addr[byte]) uint32 {
	return uint32(addr.ByteSub(a.base) / int(a.blockSize))
}
