package memsource

import (
	"fmt"

	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
)

// SubSource carves a fixed-size sub-range out of an already-obtained
// MemorySource, without mapping or allocating anything of its own.
//
// Grounded on original_source/src/memory_sources/mmap and
// CoroutineStackMemory.rs, which size a coroutine's heap as a slice of one
// shared underlying mapping rather than mmap'ing afresh per coroutine. In
// this module, SubSource lets a pool of coroutine-local engines share one
// OSSource: each coroutine's BumpAllocator or BitsetAllocator is built over
// its own SubSource, and only the pool's single underlying OSSource is ever
// mmap'd or munmap'd.
type SubSource struct {
	start xunsafe.Addr[byte]
	size  uintptr
}

var _ MemorySource = SubSource{}

// NewSubSource carves out [offset, offset+size) of parent. It is the
// caller's responsibility to ensure sub-ranges handed out this way do not
// overlap and do not outlive parent.
func NewSubSource(parent MemorySource, offset, size uintptr) (SubSource, error) {
	if offset+size > parent.Size() {
		return SubSource{}, fmt.Errorf("ctxalloc: sub-source [%d,%d) exceeds parent of size %d", offset, offset+size, parent.Size())
	}

	return SubSource{
		start: parent.AllocationsStartFrom().ByteAdd(int(offset)),
		size:  size,
	}, nil
}

// Size implements MemorySource.
func (s SubSource) Size() uintptr { return s.size }

// AllocationsStartFrom implements MemorySource.
func (s SubSource) AllocationsStartFrom() xunsafe.Addr[byte] { return s.start }
