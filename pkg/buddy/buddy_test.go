package buddy_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxalloc/ctxalloc/pkg/buddy"
	"github.com/ctxalloc/ctxalloc/pkg/ctxerr"
	"github.com/ctxalloc/ctxalloc/pkg/memsource"
)

func TestBuddySplit(t *testing.T) {
	Convey("Given a buddy allocator over a region sized for many min blocks", t, func() {
		src, err := memsource.NewHeapSource(uintptr(buddy.MinBlock)*64, int(buddy.MinBlock)*64)
		So(err, ShouldBeNil)

		a, err := buddy.New(src)
		So(err, ShouldBeNil)

		Convey("A request smaller than one min block rounds up and splits a larger one", func() {
			p1, err := a.Allocate(buddy.MinBlock/2, 8)
			So(err, ShouldBeNil)

			p2, err := a.Allocate(buddy.MinBlock/2, 8)
			So(err, ShouldBeNil)
			So(p2, ShouldNotEqual, p1)

			Convey("Deallocating both and they were buddies coalesces them back", func() {
				a.Deallocate(p1, buddy.MinBlock/2)
				a.Deallocate(p2, buddy.MinBlock/2)

				// A request for a full min-block-sized region should now
				// succeed again without exhausting the arena.
				p3, err := a.Allocate(buddy.MinBlock, 8)
				So(err, ShouldBeNil)
				So(p3, ShouldNotEqual, 0)
			})
		})
	})
}

func TestBuddyExhaustion(t *testing.T) {
	t.Parallel()

	src, err := memsource.NewHeapSource(uintptr(buddy.MinBlock)*4, int(buddy.MinBlock)*4)
	require.NoError(t, err)

	a, err := buddy.New(src)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := a.Allocate(buddy.MinBlock, 8)
		require.NoError(t, err)
	}

	_, err = a.Allocate(buddy.MinBlock, 8)
	assert.ErrorIs(t, err, ctxerr.ErrOutOfMemory)
}

func TestBuddyGrowDoublingWithNeighbor(t *testing.T) {
	t.Parallel()

	src, err := memsource.NewHeapSource(uintptr(buddy.MinBlock)*64, int(buddy.MinBlock)*64)
	require.NoError(t, err)

	a, err := buddy.New(src)
	require.NoError(t, err)

	p, err := a.Allocate(buddy.MinBlock, 8)
	require.NoError(t, err)

	grown, err := a.Grow(p, buddy.MinBlock, buddy.MinBlock+1, 8, false)
	require.NoError(t, err)
	assert.Equal(t, p, grown)
}

func TestBuddyRejectsOversizedRequest(t *testing.T) {
	t.Parallel()

	src, err := memsource.NewHeapSource(uintptr(buddy.MinBlock)*4, int(buddy.MinBlock)*4)
	require.NoError(t, err)

	a, err := buddy.New(src)
	require.NoError(t, err)

	_, err = a.Allocate(buddy.MinBlock<<16, 8)
	assert.True(t, ctxerr.IsUnsupported(err))
}

func TestBuddyShrinkReleasesTail(t *testing.T) {
	t.Parallel()

	src, err := memsource.NewHeapSource(uintptr(buddy.MinBlock)*64, int(buddy.MinBlock)*64)
	require.NoError(t, err)

	a, err := buddy.New(src)
	require.NoError(t, err)

	p, err := a.Allocate(buddy.MinBlock*4, 8)
	require.NoError(t, err)

	shrunk, err := a.Shrink(p, buddy.MinBlock*4, buddy.MinBlock)
	require.NoError(t, err)
	assert.Equal(t, p, shrunk)
}
