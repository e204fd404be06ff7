package memsource_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxalloc/ctxalloc/pkg/memsource"
)

func TestHeapSource(t *testing.T) {
	t.Parallel()

	src, err := memsource.NewHeapSource(4096, 64)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, src.Size())

	from, to := memsource.Range(src)
	assert.True(t, from.AlignedTo(64))
	assert.Equal(t, 4096, to.ByteSub(from))
}

func TestHeapSourceDefaultAlignment(t *testing.T) {
	t.Parallel()

	src, err := memsource.NewHeapSource(128, 0)
	require.NoError(t, err)

	from, _ := memsource.Range(src)
	assert.True(t, from.AlignedTo(memsource.DefaultAlignment))
}

func TestHeapSourceRejectsZero(t *testing.T) {
	t.Parallel()

	_, err := memsource.NewHeapSource(0, 8)
	assert.Error(t, err)
}

func TestSubSource(t *testing.T) {
	t.Parallel()

	parent, err := memsource.NewHeapSource(4096, 64)
	require.NoError(t, err)

	sub, err := memsource.NewSubSource(parent, 1024, 512)
	require.NoError(t, err)
	assert.EqualValues(t, 512, sub.Size())
	assert.Equal(t, parent.AllocationsStartFrom().ByteAdd(1024), sub.AllocationsStartFrom())

	_, err = memsource.NewSubSource(parent, 4000, 512)
	assert.Error(t, err)
}
