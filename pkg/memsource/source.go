// Package memsource provides the MemorySource abstraction that every
// allocator engine in this module draws its bulk memory from.
//
// A MemorySource is responsible only for producing a contiguous, readable,
// writable byte range and releasing it again; it knows nothing about how
// that range gets carved into allocations. This mirrors the engines'
// separation of concerns: pkg/bump, pkg/bitset, and pkg/buddy each take a
// MemorySource at construction and never reach past it.
package memsource

import (
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
)

// MemorySource supplies a contiguous, aligned byte range of a given size.
//
// Implementations are expected to obtain bulk memory eagerly at
// construction and release it when the owning engine tears down (see
// Close on the concrete sources in this package). The region must be
// readable and writable for the source's entire lifetime.
type MemorySource interface {
	// Size returns the total number of bytes this source owns.
	Size() uintptr

	// AllocationsStartFrom returns the address of the first byte available
	// for allocation. It is aligned to the source's natural alignment,
	// which for an OS-backed source is at least the host page size.
	AllocationsStartFrom() xunsafe.Addr[byte]
}

// Range returns the [from, to) byte range a MemorySource owns.
//
// This is a free function rather than a method on the interface because
// every implementation derives it identically from Size and
// AllocationsStartFrom; giving it one definition keeps that identity from
// drifting between implementations.
func Range(src MemorySource) (from, to xunsafe.Addr[byte]) {
	from = src.AllocationsStartFrom()
	to = from.ByteAdd(int(src.Size()))
	return from, to
}

// Closer is implemented by sources that hold an external resource (an OS
// mapping) that must be released explicitly. HeapSource and SubSource do
// not need one: the Go garbage collector reclaims them.
type Closer interface {
	Close() error
}
