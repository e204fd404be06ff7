package rbtree_test

import (
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxalloc/ctxalloc/pkg/rbtree"
)

const slotSize = 32

// arena backs a fixed number of node-sized, node-aligned slots so tests can
// build NodeRef values without going through any other package.
type arena struct {
	buf  []byte
	base uintptr
}

func newArena(t *testing.T, slots int) *arena {
	t.Helper()
	buf := make([]byte, slots*slotSize+slotSize)
	base := uintptr(unsafe.Pointer(&buf[0]))
	base = (base + slotSize - 1) &^ (slotSize - 1)
	return &arena{buf: buf, base: base}
}

func (a *arena) slot(i int) rbtree.NodeRef {
	return rbtree.NodeRef(a.base + uintptr(i)*slotSize)
}

func TestInOrderIsIncreasingAddress(t *testing.T) {
	a := newArena(t, 64)

	var tree rbtree.Tree
	order := rand.New(rand.NewSource(1)).Perm(64)
	for _, i := range order {
		tree.Insert(a.slot(i))
	}

	require.Equal(t, 64, tree.Len())

	prev := rbtree.NodeRef(0)
	count := 0
	n := tree.Leftmost()
	for !n.IsNil() {
		if !prev.IsNil() {
			assert.Greater(t, uintptr(n), uintptr(prev))
		}
		prev = n
		n = tree.Next(n)
		count++
	}
	assert.Equal(t, 64, count)
}

func TestLeftmostCacheTracksRemovals(t *testing.T) {
	a := newArena(t, 8)

	var tree rbtree.Tree
	for i := 7; i >= 0; i-- {
		tree.Insert(a.slot(i))
	}

	assert.Equal(t, a.slot(0), tree.Leftmost())

	tree.Remove(a.slot(0))
	assert.Equal(t, a.slot(1), tree.Leftmost())

	tree.Remove(a.slot(1))
	assert.Equal(t, a.slot(2), tree.Leftmost())
}

func TestFindLowerUpperBound(t *testing.T) {
	a := newArena(t, 10)

	var tree rbtree.Tree
	for _, i := range []int{0, 2, 4, 6, 8} {
		tree.Insert(a.slot(i))
	}

	assert.Equal(t, a.slot(4), tree.Find(a.slot(4)))
	assert.True(t, tree.Find(a.slot(5)).IsNil())

	assert.Equal(t, a.slot(4), tree.LowerBound(a.slot(4)))
	assert.Equal(t, a.slot(6), tree.LowerBound(a.slot(5)))
	assert.Equal(t, a.slot(6), tree.UpperBound(a.slot(4)))
	assert.True(t, tree.UpperBound(a.slot(8)).IsNil())
}

func TestContiguousWalks(t *testing.T) {
	a := newArena(t, 8)

	var tree rbtree.Tree
	// slots 1,2,3 are address-contiguous at stride slotSize; slot 5 is not.
	tree.Insert(a.slot(1))
	tree.Insert(a.slot(2))
	tree.Insert(a.slot(3))
	tree.Insert(a.slot(5))

	back := tree.FurthestContiguousBack(a.slot(3), slotSize)
	assert.Equal(t, a.slot(1), back)

	forward := tree.FurthestContiguousForward(a.slot(1), slotSize)
	assert.Equal(t, a.slot(3), forward)

	assert.Equal(t, a.slot(5), tree.FurthestContiguousBack(a.slot(5), slotSize))
	assert.Equal(t, a.slot(5), tree.FurthestContiguousForward(a.slot(5), slotSize))
}

func TestInsertRemoveRandomStress(t *testing.T) {
	const n = 200
	a := newArena(t, n)

	var tree rbtree.Tree
	rng := rand.New(rand.NewSource(42))

	present := make(map[int]bool)
	for _, i := range rng.Perm(n) {
		tree.Insert(a.slot(i))
		present[i] = true
	}
	require.Equal(t, n, tree.Len())

	order := rng.Perm(n)
	for _, i := range order[:n/2] {
		tree.Remove(a.slot(i))
		delete(present, i)
	}
	assert.Equal(t, len(present), tree.Len())

	// Remaining in-order walk must match the surviving set, in address order.
	var walked []int
	for node := tree.Leftmost(); !node.IsNil(); node = tree.Next(node) {
		idx := int((uintptr(node) - a.base) / slotSize)
		walked = append(walked, idx)
	}
	assert.Len(t, walked, len(present))
	for k := 1; k < len(walked); k++ {
		assert.Less(t, walked[k-1], walked[k])
	}
	for _, idx := range walked {
		assert.True(t, present[idx])
	}
}
