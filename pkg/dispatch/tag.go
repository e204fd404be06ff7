package dispatch

// Tag names which of a per-goroutine control block's three engines a
// request is routed through. Grounded on original_source's
// PerThreadState.rs active_tag field, given here a named type and a
// String method so debug.Log lines can print it directly.
type Tag int

const (
	// CoroutineLocal routes to the current goroutine's coroutine engine,
	// set by WithCoroutineAllocator.
	CoroutineLocal Tag = iota
	// ThreadLocal routes to the engine attached for the goroutine's
	// lifetime via AttachThread.
	ThreadLocal
	// Global routes to the single process-wide engine.
	Global
)

// String implements fmt.Stringer.
func (t Tag) String() string {
	switch t {
	case CoroutineLocal:
		return "coroutine-local"
	case ThreadLocal:
		return "thread-local"
	case Global:
		return "global"
	default:
		return "unknown tag"
	}
}

// choose returns the engine a control block's active tag currently points
// at, or nil if that slot was never filled. Kept as a small named helper
// rather than an inline switch at each call site, mirroring
// original_source's choose_allocator dispatch table.
func choose(cb *ControlBlock, global Engine) Engine {
	switch cb.activeTag {
	case CoroutineLocal:
		return cb.coroutine
	case ThreadLocal:
		return cb.thread
	case Global:
		return global
	default:
		return nil
	}
}
