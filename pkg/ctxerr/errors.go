// Package ctxerr defines the three failure classes every allocator engine
// in this module can return, per the error handling design: allocation
// failures are always a returned error, never a panic or exception; the one
// exception is a programming error (zero size, bad alignment, a pointer
// that belongs to no known engine), which is a debug.Assert and therefore
// undefined behavior in release builds.
package ctxerr

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/ctxalloc/ctxalloc/pkg/xerrors"
)

// ErrOutOfMemory is returned when an engine's own bookkeeping cannot
// satisfy a request, even though the request was otherwise well-formed.
var ErrOutOfMemory = errors.New("ctxalloc: out of memory")

// ErrCannotMoveInPlace is returned by Grow/Shrink when the caller forbade
// moving the allocation (a "must not move" hint) and satisfying the new
// size without moving was impossible.
var ErrCannotMoveInPlace = errors.New("ctxalloc: cannot grow or shrink in place")

// Unsupported returns an error naming the calling function, for alignment
// or size requests an engine cannot represent (e.g. a bitset alignment
// wider than one bitmap word, or a buddy request over its MAX_BLOCK).
//
// Mirrors internal/debug.Unsupported, which exists for the same purpose
// one layer down (a caller-named "not supported" error rather than a
// hand-written string per call site).
func Unsupported() error {
	pc, _, _, _ := runtime.Caller(1)
	return &errUnsupported{pc}
}

type errUnsupported struct{ pc uintptr }

func (e *errUnsupported) Error() string {
	name := runtime.FuncForPC(e.pc).Name()
	if name == "" {
		return "ctxalloc: unsupported request"
	}

	slash := strings.LastIndexByte(name, '/')
	name = name[slash+1:]
	return fmt.Sprintf("ctxalloc: %s() cannot satisfy this request", name)
}

// IsUnsupported reports whether err was produced by Unsupported.
func IsUnsupported(err error) bool {
	_, ok := xerrors.AsA[*errUnsupported](err)
	return ok
}
