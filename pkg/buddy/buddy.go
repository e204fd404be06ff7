// Package buddy implements the segregated free-list allocator built on
// sixteen pkg/rbtree instances, one per power-of-two size class: the
// heaviest-weight of the three engines, and the only one that reclaims
// fragmented space by coalescing adjacent free blocks into larger ones.
//
// Grounded on original_source/src/allocators/MultipleBinarySearchTreeAllocator.rs
// for the two-pass allocate algorithm (an exact-size scan of tree i, then a
// probe-and-split scan of trees i+1..15) and the coalesce-on-deallocate
// walk; byte-range arithmetic goes through pkg/xunsafe.Addr throughout, and
// free-block bookkeeping is delegated to pkg/rbtree.
package buddy

import (
	"github.com/ctxalloc/ctxalloc/internal/debug"
	"github.com/ctxalloc/ctxalloc/pkg/ctxerr"
	"github.com/ctxalloc/ctxalloc/pkg/memsource"
	"github.com/ctxalloc/ctxalloc/pkg/rbtree"
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe/layout"
)

// numClasses is the number of size classes (tree count).
const numClasses = 16

// MinBlock is the smallest block size this allocator ever hands out: the
// rbtree node header, rounded up to a 16-byte alignment so the header's
// parent-pointer low bit is always free for the color flag.
var MinBlock = uintptr(layout.RoundUp[int](rbtree.HeaderSize, 16))

// Allocator is a single-owner, size-classed, coalescing free-block
// allocator over one MemorySource.
//
// A zero Allocator is not ready to use; construct one with New.
type Allocator struct {
	_ xunsafe.NoCopy

	src   memsource.MemorySource
	base  xunsafe.Addr[byte]
	size  uintptr
	trees [numClasses]rbtree.Tree
}

// New populates an Allocator over the whole of src, greedily inserting the
// largest aligned blocks the size class downward.
func New(src memsource.MemorySource) (*Allocator, error) {
	if src.Size() < MinBlock {
		return nil, ctxerr.ErrOutOfMemory
	}

	a := &Allocator{
		src:  src,
		base: src.AllocationsStartFrom(),
		size: src.Size(),
	}

	a.populate(a.base.ByteAdd(int(a.size)))

	return a, nil
}

// populate greedily fills [base, end) with the largest aligned blocks that
// fit, via insertSpan: at each position it places the largest class whose
// block is aligned there and still fits.
func (a *Allocator) populate(end xunsafe.Addr[byte]) {
	a.insertSpan(a.base, end)
}

func (a *Allocator) blockSizeAt(i int) uintptr { return MinBlock << uint(i) }

func (a *Allocator) maxBlock() uintptr { return a.blockSizeAt(numClasses - 1) }

// Range returns the [base, base+size) span this allocator owns.
func (a *Allocator) Range() (from, to xunsafe.Addr[byte]) {
	return a.base, a.base.ByteAdd(int(a.size))
}

// Close releases the backing MemorySource: a local engine's lifetime
// nests inside its source's.
func (a *Allocator) Close() error {
	if c, ok := a.src.(memsource.Closer); ok {
		return c.Close()
	}
	return nil
}

// classify rounds size up to a size class, returning the class's block
// size and tree index.
func (a *Allocator) classify(size uintptr) (blockSize uintptr, index int, err error) {
	debug.Assert(size > 0, "buddy: size must be non-zero")

	if size > a.maxBlock() {
		return 0, 0, ctxerr.Unsupported()
	}
	if size < MinBlock {
		size = MinBlock
	}

	rounded := layout.NextPow2(size)
	index = int(layout.Log2Floor(rounded) - layout.Log2Floor(MinBlock))

	return rounded, index, nil
}

// insertSpan fills [from, to) with the largest aligned blocks that fit,
// greedily from the top size class down: the "split into smallest
// power-of-two differences" routine both allocate and deallocate rely on.
// Each block placed is then run through insertAndCoalesce, so a span that
// happens to close the gap next to an existing free buddy is merged
// immediately rather than left as two same-size neighbors in one tree.
func (a *Allocator) insertSpan(from, to xunsafe.Addr[byte]) {
	cur := from
	for cur < to {
		remaining := uintptr(to.ByteSub(cur))

		placed := false
		for i := numClasses - 1; i >= 0; i-- {
			bs := a.blockSizeAt(i)
			if bs <= remaining && cur.AlignedTo(int(bs)) {
				a.insertAndCoalesce(cur, i)
				cur = cur.ByteAdd(int(bs))
				placed = true
				break
			}
		}
		if !placed {
			// Leftover smaller than MinBlock or misaligned for every
			// class: this is waste and stays unindexed.
			return
		}
	}
}

// insertAndCoalesce inserts a free block of class i at addr into trees[i],
// then merges it with any address-contiguous free neighbors already
// resident there. A merge re-inserts the combined span through insertSpan,
// which recurses back into insertAndCoalesce for each block it places, so
// coalescing cascades up through the size classes instead of stopping
// after the first merge.
//
// A run is merged only when it covers at least one aligned block of class
// i+1; otherwise (for example two contiguous blocks that are not buddies)
// the blocks stay as they are in trees[i]. Blocks of the top class are
// never merged.
func (a *Allocator) insertAndCoalesce(addr xunsafe.Addr[byte], i int) {
	blockSize := a.blockSizeAt(i)
	node := rbtree.NodeRef(addr)
	tree := &a.trees[i]
	tree.Insert(node)

	back := tree.FurthestContiguousBack(node, blockSize)
	forward := tree.FurthestContiguousForward(node, blockSize)
	if back == forward || i == numClasses-1 {
		return
	}

	span := uintptr(forward.Addr().ByteSub(back.Addr())) + blockSize
	double := int(2 * blockSize)
	if back.Addr().RoundUpTo(double).ByteAdd(double) > back.Addr().ByteAdd(int(span)) {
		return
	}

	for cur := back; ; {
		next := tree.Next(cur)
		tree.Remove(cur)
		if cur == forward {
			break
		}
		cur = next
	}

	a.insertSpan(back.Addr(), back.Addr().ByteAdd(int(span)))
}

// Allocate reserves size bytes aligned to align.
func (a *Allocator) Allocate(size uintptr, align int) (xunsafe.Addr[byte], error) {
	debug.Assert(align > 0 && layout.IsPow2(align), "buddy: align %d is not a power of two", align)
	if align > int(a.maxBlock()) {
		return 0, ctxerr.Unsupported()
	}

	blockSize, i, err := a.classify(size)
	if err != nil {
		return 0, err
	}

	// First pass: an exact-size block already aligned the way we need.
	for n := a.trees[i].Leftmost(); !n.IsNil(); n = a.trees[i].Next(n) {
		if n.Addr().AlignedTo(align) {
			a.trees[i].Remove(n)
			debug.Log(nil, "allocate", "exact class %d -> %v", i, n.Addr())
			return n.Addr(), nil
		}
	}

	// Second pass: split a larger block.
	stride := align
	if int(MinBlock) > stride {
		stride = int(MinBlock)
	}

	for j := i + 1; j < numClasses; j++ {
		bj := a.blockSizeAt(j)

		for n := a.trees[j].Leftmost(); !n.IsNil(); n = a.trees[j].Next(n) {
			nodeStart := n.Addr()
			regionEnd := nodeStart.ByteAdd(int(bj))

			for cand := nodeStart.RoundUpTo(align); cand.ByteAdd(int(blockSize)) <= regionEnd; cand = cand.ByteAdd(stride) {
				a.trees[j].Remove(n)
				a.insertSpan(nodeStart, cand)
				a.insertSpan(cand.ByteAdd(int(blockSize)), regionEnd)

				debug.Log(nil, "allocate", "split class %d node %v -> %v", j, nodeStart, cand)
				return cand, nil
			}
		}
	}

	return 0, ctxerr.ErrOutOfMemory
}

// Deallocate releases the size bytes at ptr, then coalesces it with any
// address-contiguous free neighbors, cascading through successively
// larger size classes until a pass produces no further merge.
func (a *Allocator) Deallocate(ptr xunsafe.Addr[byte], size uintptr) {
	_, i, _ := a.classify(size)
	a.insertAndCoalesce(ptr, i)
	debug.Log(nil, "deallocate", "class %d <- %v", i, ptr)
}

// Shrink reduces a live allocation at ptr from oldSize to newSize bytes. If
// the two round to the same size class this is a no-op; otherwise the
// freed tail is released via insertSpan.
func (a *Allocator) Shrink(ptr xunsafe.Addr[byte], oldSize, newSize uintptr) (xunsafe.Addr[byte], error) {
	debug.Assert(newSize < oldSize, "buddy: shrink requires new_size < old_size")

	oldBlockSize, oldIdx, err := a.classify(oldSize)
	if err != nil {
		return 0, err
	}
	newBlockSize, newIdx, err := a.classify(newSize)
	if err != nil {
		return 0, err
	}
	if oldIdx == newIdx {
		return ptr, nil
	}

	a.insertSpan(ptr.ByteAdd(int(newBlockSize)), ptr.ByteAdd(int(oldBlockSize)))

	return ptr, nil
}

// Grow extends a live allocation at ptr from oldSize to newSize bytes
// aligned to align.
//
// If the new size is exactly double the old and the immediately following
// block is free at the old size class, growth happens in place. Otherwise
// — unless noMove forbids it — a fresh block is allocated, the live bytes
// are copied over, and the old block is released.
func (a *Allocator) Grow(ptr xunsafe.Addr[byte], oldSize, newSize uintptr, align int, noMove bool) (xunsafe.Addr[byte], error) {
	debug.Assert(newSize > oldSize, "buddy: grow requires new_size > old_size")

	oldBlockSize, oldIdx, err := a.classify(oldSize)
	if err != nil {
		return 0, err
	}
	newBlockSize, newIdx, err := a.classify(newSize)
	if err != nil {
		return 0, err
	}
	if oldIdx == newIdx {
		return ptr, nil
	}

	if newBlockSize == oldBlockSize*2 {
		neighbor := rbtree.NodeRef(ptr.ByteAdd(int(oldBlockSize)))
		if found := a.trees[oldIdx].Find(neighbor); !found.IsNil() {
			a.trees[oldIdx].Remove(found)
			debug.Log(nil, "grow", "%v doubled in place to class %d", ptr, newIdx)
			return ptr, nil
		}
	}

	if noMove {
		return 0, ctxerr.ErrCannotMoveInPlace
	}

	fresh, err := a.Allocate(newSize, align)
	if err != nil {
		return 0, err
	}

	xunsafe.Copy(fresh.AssertValid(), ptr.AssertValid(), int(oldSize))
	a.Deallocate(ptr, oldSize)

	return fresh, nil
}
