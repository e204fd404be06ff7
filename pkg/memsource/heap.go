package memsource

import (
	"fmt"

	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
)

// DefaultAlignment is the alignment HeapSource rounds its allocations up
// to when none is requested. It matches a typical host page size, which is
// conservative but keeps HeapSource's guarantees close to OSSource's.
const DefaultAlignment = 4096

// HeapSource is a MemorySource backed by a regular Go-heap byte slice.
//
// It exists for hosts that cannot mmap (sandboxed runtimes, WASM) and for
// tests, where standing up a real OS mapping per test case is wasteful.
// Go's garbage collector does not move heap allocations once made, so
// holding the slice header alive in the struct is enough to keep the
// region's address stable for the source's lifetime: HeapSource's region is
// itself the top-level GC object.
type HeapSource struct {
	base []byte
}

var _ MemorySource = (*HeapSource)(nil)

// NewHeapSource allocates exactly size bytes whose first byte is aligned to
// align (which must be a power of two; zero means DefaultAlignment).
func NewHeapSource(size uintptr, align int) (*HeapSource, error) {
	if size == 0 {
		return nil, fmt.Errorf("ctxalloc: memory source size must be non-zero")
	}
	if align == 0 {
		align = DefaultAlignment
	}

	// Over-allocate so an aligned sub-slice of the requested size is
	// always available, then trim the unaligned head.
	raw := make([]byte, int(size)+align)
	padding := xunsafe.AddrOf(&raw[0]).Padding(align)

	return &HeapSource{base: raw[padding : padding+int(size)]}, nil
}

// Size implements MemorySource.
func (s *HeapSource) Size() uintptr { return uintptr(len(s.base)) }

// AllocationsStartFrom implements MemorySource.
func (s *HeapSource) AllocationsStartFrom() xunsafe.Addr[byte] {
	return xunsafe.AddrOf(&s.base[0])
}
