//go:build debug

package dispatch

import (
	"github.com/dolthub/maphash"

	"github.com/ctxalloc/ctxalloc/internal/debug"
	"github.com/ctxalloc/ctxalloc/internal/xsync"
)

// rangeHasher and seen back a debug-only duplicate-registration check: the
// invariant that no two live local engines' ranges overlap is, for
// disjoint engines, equivalent to "no engine registers the same [from,
// to) pair twice" — a cheap necessary condition this package checks on
// every AttachThread/WithCoroutineAllocator, rather than an O(n) pairwise
// overlap scan against every other live engine.
var (
	rangeHasher = maphash.NewHasher[[2]uintptr]()
	seenRanges  xsync.Set[uint64]
)

func registerRange(e Engine) {
	if e == nil {
		return
	}
	from, to := e.Range()
	key := rangeHasher.Hash([2]uintptr{uintptr(from), uintptr(to)})
	debug.Assert(!seenRanges.Load(key), "dispatch: range [%v, %v) registered twice", from, to)
	seenRanges.Store(key)
}

func unregisterRange(e Engine) {
	if e == nil {
		return
	}
	from, to := e.Range()
	key := rangeHasher.Hash([2]uintptr{uintptr(from), uintptr(to)})
	seenRanges.Delete(key)
}
