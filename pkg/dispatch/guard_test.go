package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxalloc/ctxalloc/pkg/dispatch"
)

func TestGloballyAllocatedPinsConstructionToGlobal(t *testing.T) {
	global := newEngine(t, 4096)
	d := dispatch.NewDispatcher(global)

	coroutine := newEngine(t, 512)

	err := d.WithCoroutineAllocator(coroutine, func() {
		// Ambient tag here is CoroutineLocal, but everything the guard
		// does internally must still go through Global.
		g := dispatch.NewGloballyAllocated(d, func() []byte {
			return make([]byte, 0)
		})

		g.Mutate(func(b *[]byte) {
			*b = append(*b, 1, 2, 3)
		})
		assert.Equal(t, []byte{1, 2, 3}, g.Value())

		g.Drop()
		assert.Empty(t, g.Value())
	})
	require.NoError(t, err)
}

func TestUnderTagRestoresPreviousTag(t *testing.T) {
	global := newEngine(t, 4096)
	d := dispatch.NewDispatcher(global)

	before, err := d.Allocate(8, 8)
	require.NoError(t, err)

	d.UnderTag(dispatch.Global, func() {
		p, err := d.Allocate(8, 8)
		require.NoError(t, err)
		from, to := global.Range()
		assert.GreaterOrEqual(t, p, from)
		assert.Less(t, p, to)
	})

	after, err := d.Allocate(8, 8)
	require.NoError(t, err)

	from, to := global.Range()
	assert.GreaterOrEqual(t, before, from)
	assert.Less(t, before, to)
	assert.GreaterOrEqual(t, after, from)
	assert.Less(t, after, to)
}
