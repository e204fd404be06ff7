//go:build go1.20

package xunsafe

import (
	"fmt"
	"unsafe"

	"github.com/ctxalloc/ctxalloc/pkg/xunsafe/layout"
)

// Addr is a typed address: a uintptr that remembers what it points to,
// without holding a GC-visible reference to it.
//
// Every allocator engine in this module tracks its bookkeeping (base, end,
// cursor, node links, free-list heads, ...) as an Addr rather than a raw
// pointer, because the memory an Addr refers to usually comes from a
// MemorySource outside the Go heap: storing a *T to it would either not
// compile (the GC doesn't know the pointer is valid) or would pin memory
// the GC has no business tracking.
//
// The zero Addr is the null address.
type Addr[T any] uintptr

// AddrOf returns the address of p.
func AddrOf[T any](p *T) Addr[T] {
	return Addr[T](uintptr(unsafe.Pointer(p)))
}

// EndOf returns the address one past the last element of s.
func EndOf[T any](s []T) Addr[T] {
	if len(s) == 0 {
		return AddrOf(unsafe.SliceData(s))
	}
	return AddrOf(&s[len(s)-1]).Add(1)
}

// AssertValid converts this address back into a pointer.
//
// This performs no validity check beyond what unsafe.Pointer already
// requires: the caller must know the address refers to live, readable
// memory of the right type and alignment. The name is a reminder that
// calling this on a dangling or out-of-range Addr is undefined behavior,
// not a recoverable error.
func (a Addr[T]) AssertValid() *T {
	return (*T)(unsafe.Pointer(uintptr(a)))
}

// IsNil reports whether this address is the null address.
func (a Addr[T]) IsNil() bool { return a == 0 }

// Add adds n elements' worth of offset to a.
func (a Addr[T]) Add(n int) Addr[T] {
	return a + Addr[T](layout.Size[T]()*n)
}

// ByteAdd adds n bytes of offset to a, without scaling by the element size.
func (a Addr[T]) ByteAdd(n int) Addr[T] {
	return a + Addr[T](n)
}

// Sub returns the number of T-sized elements between a and b (a-b).
func (a Addr[T]) Sub(b Addr[T]) int {
	return int(a-b) / layout.Size[T]()
}

// ByteSub returns the number of bytes between a and b (a-b).
func (a Addr[T]) ByteSub(b Addr[T]) int {
	return int(a - b)
}

// Padding returns how many bytes must be added to a to reach the next
// address aligned to align, which must be a power of two.
func (a Addr[T]) Padding(align int) int {
	return layout.Padding(int(a), align)
}

// RoundUpTo rounds a up to the nearest address aligned to align, which must
// be a power of two.
func (a Addr[T]) RoundUpTo(align int) Addr[T] {
	return Addr[T](layout.RoundUp(int(a), align))
}

// RoundDownTo rounds a down to the nearest address aligned to align, which
// must be a power of two.
func (a Addr[T]) RoundDownTo(align int) Addr[T] {
	return Addr[T](layout.RoundDown(int(a), align))
}

// AlignedTo reports whether a is aligned to align, which must be a power of
// two.
func (a Addr[T]) AlignedTo(align int) bool {
	return int(a)&(align-1) == 0
}

// SignBit returns the high bit of the address, interpreted as a flag.
//
// No engine in this module calls it: pkg/rbtree keeps its node color in the
// low bit of the parent pointer field, not the high bit.
func (a Addr[T]) SignBit() bool {
	return a&(1<<(unsafe.Sizeof(uintptr(0))*8-1)) != 0
}

// SignBitMask returns all-ones if SignBit is set, all-zeros otherwise.
func (a Addr[T]) SignBitMask() Addr[T] {
	return Addr[T](int(a) >> (unsafe.Sizeof(uintptr(0))*8 - 1))
}

// ClearSignBit returns a with its high bit cleared.
func (a Addr[T]) ClearSignBit() Addr[T] {
	return a &^ (1 << (unsafe.Sizeof(uintptr(0))*8 - 1))
}

// String implements fmt.Stringer, printing the address in hexadecimal.
func (a Addr[T]) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}

// Format implements fmt.Formatter so that %x and %v both do something
// sensible without going through String's allocation for the common case.
func (a Addr[T]) Format(s fmt.State, verb rune) {
	switch verb {
	case 'x':
		fmt.Fprintf(s, "%x", uintptr(a)) //nolint:errcheck
	default:
		fmt.Fprintf(s, "%#x", uintptr(a)) //nolint:errcheck
	}
}
