//go:build unix

package memsource

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe/layout"
)

// OSSource is a MemorySource backed by an anonymous, private mmap mapping.
//
// This is the concrete stand-in for the raw OS mapping primitive: NUMA
// placement, huge pages, and madvise hints are deliberately not exposed
// here. OSSource obtains its mapping
// eagerly in NewOSSource and releases it in Close; callers (an engine's
// constructor/teardown pair) are expected to call Close exactly once, after
// every pointer the engine handed out has stopped being used.
type OSSource struct {
	base []byte
}

var _ MemorySource = (*OSSource)(nil)
var _ Closer = (*OSSource)(nil)

// NewOSSource maps size bytes of zero-filled, anonymous, private memory.
//
// size is rounded up to the host page size, so an OS-backed source's
// natural alignment is always at least the page size.
func NewOSSource(size uintptr) (*OSSource, error) {
	if size == 0 {
		return nil, fmt.Errorf("ctxalloc: memory source size must be non-zero")
	}

	pageSize := uintptr(unix.Getpagesize())
	size = uintptr(layout.RoundUp(int(size), int(pageSize)))

	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("ctxalloc: mmap %d bytes: %w", size, err)
	}

	return &OSSource{base: b}, nil
}

// Size implements MemorySource.
func (s *OSSource) Size() uintptr { return uintptr(len(s.base)) }

// AllocationsStartFrom implements MemorySource.
func (s *OSSource) AllocationsStartFrom() xunsafe.Addr[byte] {
	return xunsafe.AddrOf(&s.base[0])
}

// Close unmaps the backing region. The source must not be used afterwards.
func (s *OSSource) Close() error {
	if s.base == nil {
		return nil
	}

	err := unix.Munmap(s.base)
	s.base = nil
	if err != nil {
		return fmt.Errorf("ctxalloc: munmap: %w", err)
	}
	return nil
}
