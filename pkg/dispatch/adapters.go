package dispatch

import (
	"github.com/ctxalloc/ctxalloc/pkg/bitset"
	"github.com/ctxalloc/ctxalloc/pkg/bump"
	"github.com/ctxalloc/ctxalloc/pkg/buddy"
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
)

// BumpEngine adapts a *bump.Allocator to Engine.
//
// pkg/bump tracks only one alignment per live tail allocation, so Grow and
// Shrink use align as both the old and new alignment: a caller that grows
// or shrinks a bump allocation to a coarser alignment than it was
// allocated with will see it relocate instead of resize in place, which is
// conservative but always correct.
type BumpEngine struct{ *bump.Allocator }

var _ Engine = BumpEngine{}

func (e BumpEngine) Deallocate(ptr xunsafe.Addr[byte], _ uintptr) {
	e.Allocator.Deallocate(ptr)
}

func (e BumpEngine) Grow(ptr xunsafe.Addr[byte], oldSize, newSize uintptr, align int, noMove bool) (xunsafe.Addr[byte], error) {
	return e.Allocator.Grow(ptr, oldSize, newSize, align, align, noMove)
}

func (e BumpEngine) Shrink(ptr xunsafe.Addr[byte], oldSize, newSize uintptr, align int) (xunsafe.Addr[byte], error) {
	return e.Allocator.Shrink(ptr, oldSize, newSize, align, align)
}

// BitsetEngine adapts a *bitset.Allocator to Engine.
type BitsetEngine struct{ *bitset.Allocator }

var _ Engine = BitsetEngine{}

func (e BitsetEngine) Deallocate(ptr xunsafe.Addr[byte], size uintptr) {
	e.Allocator.Deallocate(ptr, size)
}

func (e BitsetEngine) Shrink(ptr xunsafe.Addr[byte], oldSize, newSize uintptr, _ int) (xunsafe.Addr[byte], error) {
	return e.Allocator.Shrink(ptr, oldSize, newSize)
}

// BuddyEngine adapts a *buddy.Allocator to Engine.
type BuddyEngine struct{ *buddy.Allocator }

var _ Engine = BuddyEngine{}

func (e BuddyEngine) Deallocate(ptr xunsafe.Addr[byte], size uintptr) {
	e.Allocator.Deallocate(ptr, size)
}

func (e BuddyEngine) Shrink(ptr xunsafe.Addr[byte], oldSize, newSize uintptr, _ int) (xunsafe.Addr[byte], error) {
	return e.Allocator.Shrink(ptr, oldSize, newSize)
}
