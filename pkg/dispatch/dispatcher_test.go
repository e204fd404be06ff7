package dispatch_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxalloc/ctxalloc/pkg/bump"
	"github.com/ctxalloc/ctxalloc/pkg/dispatch"
	"github.com/ctxalloc/ctxalloc/pkg/memsource"
)

func newEngine(t testing.TB, size uintptr) dispatch.BumpEngine {
	t.Helper()

	src, err := memsource.NewHeapSource(size, 64)
	require.NoError(t, err)

	return dispatch.BumpEngine{Allocator: bump.New(src)}
}

func TestDispatcherRangeRouting(t *testing.T) {
	Convey("Given a dispatcher with a global engine plus a coroutine engine", t, func() {
		global := newEngine(t, 4096)
		d := dispatch.NewDispatcher(global)

		coroutine := newEngine(t, 1024)
		from, to := coroutine.Range()

		Convey("Allocating under CoroutineLocal returns a pointer owned by the coroutine engine", func() {
			err := d.WithCoroutineAllocator(coroutine, func() {
				p, err := d.Allocate(64, 8)
				So(err, ShouldBeNil)
				So(p, ShouldBeGreaterThanOrEqualTo, from)
				So(p, ShouldBeLessThan, to)

				Convey("Deallocating it still routes to the coroutine engine after the fact", func() {
					d.Deallocate(p, 64)
				})
			})
			So(err, ShouldBeNil)
		})
	})
}

func TestDispatcherZeroSizeSentinel(t *testing.T) {
	global := newEngine(t, 4096)
	d := dispatch.NewDispatcher(global)

	p, err := d.Allocate(0, 8)
	require.NoError(t, err)
	assert.Equal(t, dispatch.Sentinel, p)

	// A no-op; must not panic via the "owned by no known engine" assert.
	d.Deallocate(p, 0)

	grown, err := d.Grow(p, 0, 100, 8, false)
	require.NoError(t, err)
	assert.NotEqual(t, dispatch.Sentinel, grown)
	from, to := global.Range()
	assert.GreaterOrEqual(t, grown, from)
	assert.Less(t, grown, to)
}

func TestDispatcherDefaultsToGlobal(t *testing.T) {
	global := newEngine(t, 4096)
	d := dispatch.NewDispatcher(global)

	p, err := d.Allocate(32, 8)
	require.NoError(t, err)

	from, to := global.Range()
	assert.GreaterOrEqual(t, p, from)
	assert.Less(t, p, to)
}

func TestDispatcherAttachDetachThread(t *testing.T) {
	global := newEngine(t, 4096)
	d := dispatch.NewDispatcher(global)

	thread := newEngine(t, 512)
	from, to := thread.Range()

	d.AttachThread(thread)
	d.UnderTag(dispatch.ThreadLocal, func() {
		p, err := d.Allocate(16, 8)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, from)
		assert.Less(t, p, to)
	})

	require.NoError(t, d.DetachThread())
}

func TestDispatcherWithCoroutineAllocatorRestoresTag(t *testing.T) {
	global := newEngine(t, 4096)
	d := dispatch.NewDispatcher(global)

	coroutine := newEngine(t, 512)

	before, _ := d.Allocate(8, 8)
	globalFrom, globalTo := global.Range()
	require.GreaterOrEqual(t, before, globalFrom)
	require.Less(t, before, globalTo)

	err := d.WithCoroutineAllocator(coroutine, func() {
		p, err := d.Allocate(8, 8)
		require.NoError(t, err)
		from, to := coroutine.Range()
		assert.GreaterOrEqual(t, p, from)
		assert.Less(t, p, to)
	})
	require.NoError(t, err)

	// Tag is restored: a fresh allocation lands back in the global engine.
	after, err := d.Allocate(8, 8)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, after, globalFrom)
	assert.Less(t, after, globalTo)
}

func TestDispatcherStats(t *testing.T) {
	global := newEngine(t, 4096)
	d := dispatch.NewDispatcher(global)

	p, err := d.Allocate(16, 8)
	require.NoError(t, err)
	d.Deallocate(p, 16)

	snap := d.Stats.Snapshot()
	assert.Equal(t, int64(1), snap.Allocates)
	assert.Equal(t, int64(1), snap.Deallocates)
}
