// Package bitset implements a fixed-block-size allocator backed by a
// bitmap of allocated/free blocks: a first-fit scan with a resume cursor,
// the middle-weight engine between pkg/bump's O(1) cursor and pkg/buddy's
// tree-structured splitting.
//
// Packs flags into machine words rather than per-element bookkeeping,
// the same bit-level style internal/xsync and pkg/xunsafe both favor.
// Bit-ordering convention: block k is bit k%64 of word k/64, counted
// from the most significant end, kept fixed so a dump of the bitmap is
// reproducible across implementations.
package bitset

import (
	"github.com/ctxalloc/ctxalloc/internal/debug"
	"github.com/ctxalloc/ctxalloc/pkg/ctxerr"
	"github.com/ctxalloc/ctxalloc/pkg/memsource"
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe/layout"
)

const bitsPerWord = 64

// Allocator is a single-owner, bitmap-backed, fixed-block-size allocator.
//
// A zero Allocator is not ready to use; construct one with New.
type Allocator struct {
	_ xunsafe.NoCopy

	src       memsource.MemorySource
	base      xunsafe.Addr[byte]
	blockSize uint32
	numBlocks uint32
	bitmap    []uint64
	cursor    uint32 // block index at which the next scan resumes
}

// New lays out an Allocator over src: the allocatable region comes first,
// sized to hold as many blockSize blocks as fit alongside their own
// bitmap, which immediately follows in the same source.
//
// blockSize must be a power of two no smaller than 8.
func New(src memsource.MemorySource, blockSize uint32) (*Allocator, error) {
	if !layout.IsPow2(blockSize) || blockSize < 8 {
		return nil, ctxerr.Unsupported()
	}

	numBlocks := capacity(src.Size(), blockSize)
	if numBlocks == 0 {
		return nil, ctxerr.ErrOutOfMemory
	}

	base := src.AllocationsStartFrom()
	words := wordsFor(numBlocks)
	bitmapAddr := base.ByteAdd(int(numBlocks) * int(blockSize))
	bitmap := xunsafe.Slice(xunsafe.Cast[uint64](bitmapAddr.AssertValid()), words)

	for i := range bitmap {
		bitmap[i] = 0
	}
	// Pad bits past numBlocks in the final word are marked permanently
	// allocated, so a scan never selects them. Under this package's
	// MSB-first convention (bitIndex: mask = 1<<(63-local)), the real
	// blocks 0..tail-1 occupy the word's high tail bits and the
	// non-existent padding slots occupy the low 64-tail bits.
	if tail := numBlocks % bitsPerWord; tail != 0 {
		bitmap[words-1] = ^uint64(0) >> tail
	}

	return &Allocator{
		src:       src,
		base:      base,
		blockSize: blockSize,
		numBlocks: numBlocks,
		bitmap:    bitmap,
	}, nil
}

// capacity computes the largest number of blockSize blocks whose bytes,
// plus their own bitmap (8 bytes per 64 blocks, rounded up), fit in total
// bytes.
func capacity(total uintptr, blockSize uint32) uint32 {
	denom := uintptr(blockSize)*bitsPerWord + 8
	guess := uintptr(0)
	if denom > 0 {
		guess = (total * bitsPerWord) / denom
	}

	bytesNeeded := func(n uintptr) uintptr {
		words := (n + bitsPerWord - 1) / bitsPerWord
		return n*uintptr(blockSize) + words*8
	}

	for bytesNeeded(guess+1) <= total {
		guess++
	}
	for guess > 0 && bytesNeeded(guess) > total {
		guess--
	}

	return uint32(guess)
}

func wordsFor(numBlocks uint32) int {
	return int((numBlocks + bitsPerWord - 1) / bitsPerWord)
}

// BlockSize returns the size in bytes of every block this allocator hands
// out.
func (a *Allocator) BlockSize() uint32 { return a.blockSize }

// NumBlocks returns the total number of blocks, free or allocated.
func (a *Allocator) NumBlocks() uint32 { return a.numBlocks }

// Range returns the [base, end) span of allocatable bytes this allocator
// owns — not including its own bitmap, which lives just past end.
func (a *Allocator) Range() (from, to xunsafe.Addr[byte]) {
	return a.base, a.base.ByteAdd(int(a.numBlocks) * int(a.blockSize))
}

// Close releases the backing MemorySource: a local engine's lifetime
// nests inside its source's.
func (a *Allocator) Close() error {
	if c, ok := a.src.(memsource.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *Allocator) bitIndex(block uint32) (word int, mask uint64) {
	return int(block / bitsPerWord), uint64(1) << (bitsPerWord - 1 - block%bitsPerWord)
}

func (a *Allocator) isFree(block uint32) bool {
	word, mask := a.bitIndex(block)
	return a.bitmap[word]&mask == 0
}

func (a *Allocator) allFree(start, count uint32) bool {
	for i := start; i < start+count; i++ {
		if !a.isFree(i) {
			return false
		}
	}
	return true
}

func (a *Allocator) setRun(start, count uint32) {
	for i := start; i < start+count; i++ {
		word, mask := a.bitIndex(i)
		a.bitmap[word] |= mask
	}
}

func (a *Allocator) clearRun(start, count uint32) {
	for i := start; i < start+count; i++ {
		word, mask := a.bitIndex(i)
		a.bitmap[word] &^= mask
	}
}

// findRun returns the first run of count contiguous free blocks, starting
// at a block index aligned to alignBlocks, at or after from.
//
// Fully occupied words are skipped a word at a time; elsewhere each aligned
// candidate start is checked block by block.
func (a *Allocator) findRun(count, alignBlocks, from uint32) (uint32, bool) {
	if count == 0 || from+count > a.numBlocks {
		return 0, false
	}

	start := roundUp(from, alignBlocks)
	for start+count <= a.numBlocks {
		word, _ := a.bitIndex(start)
		if a.bitmap[word] == ^uint64(0) {
			// Whole word occupied; skip past it to the next aligned
			// candidate.
			start = roundUp((uint32(word)+1)*bitsPerWord, alignBlocks)
			continue
		}

		if a.allFree(start, count) {
			return start, true
		}

		start += alignBlocks
	}

	return 0, false
}

func roundUp(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Allocate reserves size bytes aligned to align.
func (a *Allocator) Allocate(size uintptr, align int) (xunsafe.Addr[byte], error) {
	debug.Assert(size > 0, "bitset: size must be non-zero")
	debug.Assert(align > 0 && layout.IsPow2(align), "bitset: align %d is not a power of two", align)

	need := uint32((size + uintptr(a.blockSize) - 1) / uintptr(a.blockSize))

	alignBlocks := uint32(1)
	if align > int(a.blockSize) {
		exp := layout.Log2Floor(uint32(align)) - layout.Log2Floor(a.blockSize)
		if exp > layout.Log2Floor(uint32(bitsPerWord)) {
			return 0, ctxerr.Unsupported()
		}
		alignBlocks = uint32(1) << exp
	}

	start, ok := a.findRun(need, alignBlocks, a.cursor)
	if !ok {
		start, ok = a.findRun(need, alignBlocks, 0)
		if !ok {
			return 0, ctxerr.ErrOutOfMemory
		}
	}

	a.setRun(start, need)
	// The next scan resumes at the first block of the word holding the last
	// block just claimed, so space freed earlier in that word is found again.
	a.cursor = (start + need - 1) / bitsPerWord * bitsPerWord

	addr := a.base.ByteAdd(int(start) * int(a.blockSize))
	debug.Log(nil, "allocate", "blocks [%d, %d) -> %v", start, start+need, addr)

	return addr, nil
}

func (a *Allocator) blockIndex(ptr xunsafe.Addr[byte]) uint32 {
	return uint32(ptr.ByteSub(a.base) / int(a.blockSize))
}

func (a *Allocator) blockCount(size uintptr) uint32 {
	return uint32((size + uintptr(a.blockSize) - 1) / uintptr(a.blockSize))
}

// Deallocate releases the size bytes at ptr previously returned by
// Allocate.
func (a *Allocator) Deallocate(ptr xunsafe.Addr[byte], size uintptr) {
	idx := a.blockIndex(ptr)
	count := a.blockCount(size)
	a.clearRun(idx, count)

	debug.Log(nil, "deallocate", "blocks [%d, %d) <- %v", idx, idx+count, ptr)
}

// Shrink reduces a live allocation at ptr from oldSize to newSize bytes,
// both rounded up to whole blocks. If the rounded block counts are equal
// this is a no-op; otherwise the freed tail blocks are released and ptr is
// returned unchanged, since a bitset allocation never needs to move to get
// smaller.
func (a *Allocator) Shrink(ptr xunsafe.Addr[byte], oldSize, newSize uintptr) (xunsafe.Addr[byte], error) {
	debug.Assert(newSize < oldSize, "bitset: shrink requires new_size < old_size")

	oldBlocks := a.blockCount(oldSize)
	newBlocks := a.blockCount(newSize)
	if oldBlocks == newBlocks {
		return ptr, nil
	}

	idx := a.blockIndex(ptr)
	a.clearRun(idx+newBlocks, oldBlocks-newBlocks)

	return ptr, nil
}

// Grow extends a live allocation at ptr from oldSize to newSize bytes
// aligned to align, both rounded up to whole blocks.
//
// If the rounded block counts are equal this is a no-op. If the blocks
// immediately following the allocation are free, it grows in place.
// Otherwise — unless noMove forbids it — the allocation is released,
// reallocated (with the scan cursor rewound to prefer the freed span, so
// the common case still lands in place), and the live bytes are copied
// over.
func (a *Allocator) Grow(ptr xunsafe.Addr[byte], oldSize, newSize uintptr, align int, noMove bool) (xunsafe.Addr[byte], error) {
	debug.Assert(newSize > oldSize, "bitset: grow requires new_size > old_size")

	oldBlocks := a.blockCount(oldSize)
	newBlocks := a.blockCount(newSize)
	if oldBlocks == newBlocks {
		return ptr, nil
	}

	idx := a.blockIndex(ptr)
	extra := newBlocks - oldBlocks

	if idx+oldBlocks+extra <= a.numBlocks && a.allFree(idx+oldBlocks, extra) {
		a.setRun(idx+oldBlocks, extra)
		return ptr, nil
	}

	if noMove {
		return 0, ctxerr.ErrCannotMoveInPlace
	}

	a.clearRun(idx, oldBlocks)
	a.cursor = idx

	fresh, err := a.Allocate(newSize, align)
	if err != nil {
		a.setRun(idx, oldBlocks)
		return 0, err
	}

	if fresh != ptr {
		xunsafe.Copy(fresh.AssertValid(), ptr.AssertValid(), int(oldSize))
	}

	return fresh, nil
}
