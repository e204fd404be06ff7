//go:build go1.22

package arena

import (
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe/layout"
)

// New obtains a block from a and initializes it to value. Free returns
// the block to a's free list.
func New[T any](a *Arena, value T) (*T, error) {
	l := layout.Of[T]()
	if l.Size > int(a.BlockSize()) {
		return nil, blockTooSmall(l.Size, a.BlockSize())
	}

	addr, err := a.Obtain(uint32(l.Size))
	if err != nil {
		return nil, err
	}

	p := xunsafe.Cast[T](addr.AssertValid())
	*p = value
	return p, nil
}

// Free releases a value of type T previously allocated with New back to a's
// free list.
func Free[T any](a *Arena, p *T) {
	a.Release(xunsafe.AddrOf(xunsafe.Cast[byte](p)))
}

func blockTooSmall(want int, have uint32) error {
	return &errBlockTooSmall{want, have}
}

type errBlockTooSmall struct {
	want int
	have uint32
}

func (e *errBlockTooSmall) Error() string {
	return "ctxalloc: value does not fit in an arena block"
}
