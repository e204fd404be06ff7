package dispatch

import (
	"sync"

	"github.com/timandy/routine"

	"github.com/ctxalloc/ctxalloc/internal/debug"
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
)

// Sentinel is the process-wide zero-size allocation placeholder: the
// maximum representable address, chosen because it can never collide
// with a real allocation from any engine — every real engine range sits
// strictly below the top of the address space. Never dereference it.
const Sentinel = xunsafe.Addr[byte](^uintptr(0))

// ControlBlock is the per-goroutine dispatch state: which engine is
// currently active, and the two local engines (if any) this goroutine
// owns. The fourth field, global, is set to the owning Dispatcher's
// process-wide engine when the block is created; routing and range lookup
// read that engine from the Dispatcher itself.
type ControlBlock struct {
	activeTag Tag
	coroutine Engine
	thread    Engine
	global    Engine
}

// Dispatcher routes every allocate/deallocate/grow/shrink call to the
// right engine for the calling goroutine. One Dispatcher exists per
// process; its global engine is shared by every goroutine, guarded by
// globalMu since, unlike the local engines, it must behave as if calls
// into it are serialised.
type Dispatcher struct {
	_ xunsafe.NoCopy

	tls      routine.ThreadLocal[*ControlBlock]
	global   Engine
	globalMu sync.Mutex

	Stats Stats
}

// NewDispatcher creates a Dispatcher whose global engine is global. global
// must not be nil: every goroutine's control block defaults to routing
// through it until AttachThread or WithCoroutineAllocator narrows that.
func NewDispatcher(global Engine) *Dispatcher {
	debug.Assert(global != nil, "dispatch: global engine must not be nil")

	return &Dispatcher{
		tls:    routine.NewThreadLocal[*ControlBlock](),
		global: global,
	}
}

// controlBlock returns the calling goroutine's control block, creating one
// defaulted to the Global tag on first use.
func (d *Dispatcher) controlBlock() *ControlBlock {
	cb := d.tls.Get()
	if cb == nil {
		cb = &ControlBlock{activeTag: Global, global: d.global}
		d.tls.Set(cb)
	}
	return cb
}

// withGlobalLock runs fn while holding globalMu if eng is the shared global
// engine; local engines are single-owner and need no such lock.
func (d *Dispatcher) withGlobalLock(eng Engine, fn func()) {
	if eng == d.global {
		d.globalMu.Lock()
		defer d.globalMu.Unlock()
	}
	fn()
}

// Allocate reserves size bytes aligned to align, routed by the calling
// goroutine's active tag. A zero-size request short-circuits to Sentinel
// without reaching any engine.
func (d *Dispatcher) Allocate(size uintptr, align int) (xunsafe.Addr[byte], error) {
	d.Stats.Allocates.Add(1)

	if size == 0 {
		return Sentinel, nil
	}

	cb := d.controlBlock()
	eng := choose(cb, d.global)
	debug.Assert(eng != nil, "dispatch: no engine bound for tag %v", cb.activeTag)

	var (
		addr xunsafe.Addr[byte]
		err  error
	)
	d.withGlobalLock(eng, func() {
		addr, err = eng.Allocate(size, align)
	})
	return addr, err
}

// locate finds the engine owning ptr, checking coroutine, then thread,
// then global ranges in that order. It returns nil if no known engine's
// range contains ptr.
func (d *Dispatcher) locate(ptr xunsafe.Addr[byte]) Engine {
	cb := d.controlBlock()

	if inRange(cb.coroutine, ptr) {
		return cb.coroutine
	}
	if inRange(cb.thread, ptr) {
		return cb.thread
	}
	if inRange(d.global, ptr) {
		return d.global
	}
	return nil
}

// Deallocate releases the size bytes at ptr, found by range lookup rather
// than the calling goroutine's active tag. Deallocating Sentinel is a
// no-op.
func (d *Dispatcher) Deallocate(ptr xunsafe.Addr[byte], size uintptr) {
	d.Stats.Deallocates.Add(1)

	if ptr == Sentinel || ptr.IsNil() {
		return
	}

	eng := d.locate(ptr)
	debug.Assert(eng != nil, "dispatch: %v is not owned by any known engine", ptr)

	d.withGlobalLock(eng, func() {
		eng.Deallocate(ptr, size)
	})
}

// Grow extends ptr from oldSize to newSize bytes aligned to align, found by
// range lookup. Growing Sentinel is equivalent to a fresh
// Allocate(newSize, align).
func (d *Dispatcher) Grow(ptr xunsafe.Addr[byte], oldSize, newSize uintptr, align int, noMove bool) (xunsafe.Addr[byte], error) {
	d.Stats.Grows.Add(1)

	if ptr == Sentinel || ptr.IsNil() {
		return d.Allocate(newSize, align)
	}

	eng := d.locate(ptr)
	debug.Assert(eng != nil, "dispatch: %v is not owned by any known engine", ptr)

	var (
		addr xunsafe.Addr[byte]
		err  error
	)
	d.withGlobalLock(eng, func() {
		addr, err = eng.Grow(ptr, oldSize, newSize, align, noMove)
	})
	return addr, err
}

// Shrink reduces ptr from oldSize to newSize bytes aligned to align, found
// by range lookup.
func (d *Dispatcher) Shrink(ptr xunsafe.Addr[byte], oldSize, newSize uintptr, align int) (xunsafe.Addr[byte], error) {
	d.Stats.Shrinks.Add(1)

	if ptr == Sentinel || ptr.IsNil() {
		return ptr, nil
	}

	eng := d.locate(ptr)
	debug.Assert(eng != nil, "dispatch: %v is not owned by any known engine", ptr)

	var (
		addr xunsafe.Addr[byte]
		err  error
	)
	d.withGlobalLock(eng, func() {
		addr, err = eng.Shrink(ptr, oldSize, newSize, align)
	})
	return addr, err
}

// AttachThread binds eng as the calling goroutine's thread-local engine
// for the rest of its lifetime, initialized once per thread on attach. It
// does not change the active tag; callers that want requests routed there
// immediately still need to set that themselves (there is deliberately no
// SetTag: the only sanctioned ways to change active_tag outside
// construction are WithCoroutineAllocator and UnderTag, which
// GloballyAllocated scopes use).
func (d *Dispatcher) AttachThread(eng Engine) {
	cb := d.controlBlock()
	debug.Assert(cb.thread == nil, "dispatch: thread engine already attached")

	registerRange(eng)
	cb.thread = eng
}

// DetachThread releases the calling goroutine's thread-local engine,
// closing it if it implements Closer: a local engine's lifetime nests
// inside its MemorySource's.
func (d *Dispatcher) DetachThread() error {
	cb := d.controlBlock()
	eng := cb.thread
	cb.thread = nil

	unregisterRange(eng)
	return closeIfCloser(eng)
}

// WithCoroutineAllocator runs fn with eng bound as the calling goroutine's
// coroutine-local engine and the active tag set to CoroutineLocal, then
// restores both and closes eng.
//
// Go has no cooperative yield point a library can intercept mid-function —
// a goroutine either runs a call to completion or blocks on a channel/lock
// the runtime itself manages — so the usual switch-in/switch-out/restore-
// on-final-drop sequence collapses here: fn always runs to completion in
// one synchronous call, so "return" and "final drop" are the same event.
// eng is closed after fn returns: a coroutine-local engine's lifetime must
// strictly nest inside its thread's.
func (d *Dispatcher) WithCoroutineAllocator(eng Engine, fn func()) error {
	cb := d.controlBlock()

	prevTag := cb.activeTag
	prevCoroutine := cb.coroutine

	registerRange(eng)
	cb.coroutine = eng
	cb.activeTag = CoroutineLocal

	fn()

	cb.activeTag = prevTag
	cb.coroutine = prevCoroutine
	unregisterRange(eng)

	return closeIfCloser(eng)
}
