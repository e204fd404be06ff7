// Package rbtree implements an intrusive red-black multi-set keyed by node
// address: nodes are never allocated by this package, only overlaid on
// memory the caller already owns (typically a free block of some other
// engine). Colors are stolen from the low bit of the parent pointer field,
// so node alignment must be at least 2; every engine in this module that
// uses pkg/rbtree picks a minimum block size far larger than that.
//
// Grounded on original_source/src/binary_search_trees/red_black_tree's
// NodePointer/ParentAndColor/Cursor contract, adapted to xunsafe.Addr-based
// pointer juggling so the header never leaks an unsafe.Pointer across the
// package boundary: callers see only the opaque NodeRef handle.
package rbtree

import (
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe"
	"github.com/ctxalloc/ctxalloc/pkg/xunsafe/layout"
)

// HeaderSize is the number of bytes every node needs for its left, right,
// and parent|color fields: the smallest free block pkg/buddy may ever hand
// this package.
const HeaderSize = layout.Size[uintptr]() * 3

// NodeRef is an opaque handle to a tree node: the address of a free block
// with the intrusive header overlaid on its first HeaderSize bytes. The
// zero NodeRef is "no node," playing the role a nil pointer or sentinel
// leaf would in a non-intrusive tree.
type NodeRef uintptr

// IsNil reports whether r refers to no node.
func (r NodeRef) IsNil() bool { return r == 0 }

// Addr returns the byte address this node occupies: by construction, a
// node's key equals its own address.
func (r NodeRef) Addr() xunsafe.Addr[byte] { return xunsafe.Addr[byte](r) }

func (r NodeRef) field(i int) *uintptr {
	return xunsafe.Addr[uintptr](r).Add(i).AssertValid()
}

func (r NodeRef) left() NodeRef  { return NodeRef(*r.field(0)) }
func (r NodeRef) right() NodeRef { return NodeRef(*r.field(1)) }

func (r NodeRef) setLeft(v NodeRef)  { *r.field(0) = uintptr(v) }
func (r NodeRef) setRight(v NodeRef) { *r.field(1) = uintptr(v) }

func (r NodeRef) parentColor() uintptr { return *r.field(2) }
func (r NodeRef) parent() NodeRef      { return NodeRef(r.parentColor() &^ 1) }
func (r NodeRef) isRed() bool          { return r.parentColor()&1 == 1 }

func (r NodeRef) setColor(red bool) {
	pc := r.parentColor() &^ 1
	if red {
		pc |= 1
	}
	*r.field(2) = pc
}

func (r NodeRef) setParent(p NodeRef) {
	*r.field(2) = uintptr(p) | (r.parentColor() & 1)
}

func (r NodeRef) setParentAndColor(p NodeRef, red bool) {
	pc := uintptr(p)
	if red {
		pc |= 1
	}
	*r.field(2) = pc
}

// Tree is an intrusive red-black multi-set of NodeRef, ordered by address.
//
// A zero Tree is empty and ready to use.
type Tree struct {
	_ xunsafe.NoCopy

	root     NodeRef
	leftmost NodeRef
	size     int
}

// Len returns the number of nodes currently in the tree.
func (t *Tree) Len() int { return t.size }

// Leftmost returns the lowest-address node, in O(1): the owning allocator
// relies on this for its free-block fast path.
func (t *Tree) Leftmost() NodeRef { return t.leftmost }

// Rightmost returns the highest-address node. Unlike Leftmost this is not
// cached and costs O(log n).
func (t *Tree) Rightmost() NodeRef {
	if t.root.IsNil() {
		return 0
	}
	return t.maximum(t.root)
}

func (t *Tree) minimum(n NodeRef) NodeRef {
	for !n.left().IsNil() {
		n = n.left()
	}
	return n
}

func (t *Tree) maximum(n NodeRef) NodeRef {
	for !n.right().IsNil() {
		n = n.right()
	}
	return n
}

// Find returns the node at key, or the zero NodeRef if none is present.
func (t *Tree) Find(key NodeRef) NodeRef {
	n := t.root
	for !n.IsNil() {
		switch {
		case key == n:
			return n
		case key < n:
			n = n.left()
		default:
			n = n.right()
		}
	}
	return 0
}

// LowerBound returns the smallest node whose address is >= key, or zero if
// none exists.
func (t *Tree) LowerBound(key NodeRef) NodeRef {
	n := t.root
	var result NodeRef
	for !n.IsNil() {
		if n >= key {
			result = n
			n = n.left()
		} else {
			n = n.right()
		}
	}
	return result
}

// UpperBound returns the smallest node whose address is > key, or zero if
// none exists.
func (t *Tree) UpperBound(key NodeRef) NodeRef {
	n := t.root
	var result NodeRef
	for !n.IsNil() {
		if n > key {
			result = n
			n = n.left()
		} else {
			n = n.right()
		}
	}
	return result
}

// Next returns n's in-order successor, or zero if n is the rightmost node.
func (t *Tree) Next(n NodeRef) NodeRef {
	if !n.right().IsNil() {
		return t.minimum(n.right())
	}
	p := n.parent()
	for !p.IsNil() && n == p.right() {
		n = p
		p = p.parent()
	}
	return p
}

// Previous returns n's in-order predecessor, or zero if n is the leftmost
// node.
func (t *Tree) Previous(n NodeRef) NodeRef {
	if !n.left().IsNil() {
		return t.maximum(n.left())
	}
	p := n.parent()
	for !p.IsNil() && n == p.left() {
		n = p
		p = p.parent()
	}
	return p
}

// IterRange calls visit for every node whose address lies in [from, to), in
// ascending order, stopping early if visit returns false.
func (t *Tree) IterRange(from, to NodeRef, visit func(NodeRef) bool) {
	for n := t.LowerBound(from); !n.IsNil() && n < to; n = t.Next(n) {
		if !visit(n) {
			return
		}
	}
}

// FurthestContiguousBack walks Previous from n as long as each predecessor
// abuts n's span (predecessor's address + blockSize equals the current
// node's address), returning the furthest node reached.
//
// This is the coalescing primitive: all nodes visited, plus n, form one
// unbroken run of blockSize-sized free blocks.
func (t *Tree) FurthestContiguousBack(n NodeRef, blockSize uintptr) NodeRef {
	for {
		p := t.Previous(n)
		if p.IsNil() || uintptr(p)+blockSize != uintptr(n) {
			return n
		}
		n = p
	}
}

// FurthestContiguousForward is FurthestContiguousBack's mirror image,
// walking Next as long as n's span abuts its successor.
func (t *Tree) FurthestContiguousForward(n NodeRef, blockSize uintptr) NodeRef {
	for {
		next := t.Next(n)
		if next.IsNil() || uintptr(n)+blockSize != uintptr(next) {
			return n
		}
		n = next
	}
}

// Insert adds n to the tree. n's address must not already be present;
// addresses are unique by construction (two free blocks never start at the
// same address), so this is never checked.
func (t *Tree) Insert(n NodeRef) {
	n.setLeft(0)
	n.setRight(0)
	n.setParentAndColor(0, true)

	if t.root.IsNil() {
		t.root = n
		n.setColor(false)
		t.leftmost = n
		t.size++
		return
	}

	cur := t.root
	var parent NodeRef
	onLeft := false
	for !cur.IsNil() {
		parent = cur
		if n < cur {
			onLeft = true
			cur = cur.left()
		} else {
			onLeft = false
			cur = cur.right()
		}
	}

	n.setParentAndColor(parent, true)
	if onLeft {
		parent.setLeft(n)
		if parent == t.leftmost {
			t.leftmost = n
		}
	} else {
		parent.setRight(n)
	}
	t.size++

	t.insertFixup(n)
}

func (t *Tree) rotateLeft(x NodeRef) {
	y := x.right()
	x.setRight(y.left())
	if !y.left().IsNil() {
		y.left().setParent(x)
	}
	y.setParent(x.parent())
	switch {
	case x.parent().IsNil():
		t.root = y
	case x == x.parent().left():
		x.parent().setLeft(y)
	default:
		x.parent().setRight(y)
	}
	y.setLeft(x)
	x.setParent(y)
}

func (t *Tree) rotateRight(x NodeRef) {
	y := x.left()
	x.setLeft(y.right())
	if !y.right().IsNil() {
		y.right().setParent(x)
	}
	y.setParent(x.parent())
	switch {
	case x.parent().IsNil():
		t.root = y
	case x == x.parent().right():
		x.parent().setRight(y)
	default:
		x.parent().setLeft(y)
	}
	y.setRight(x)
	x.setParent(y)
}

func (t *Tree) insertFixup(z NodeRef) {
	for !z.parent().IsNil() && z.parent().isRed() {
		p := z.parent()
		g := p.parent()
		if g.IsNil() {
			break
		}

		if p == g.left() {
			u := g.right()
			if !u.IsNil() && u.isRed() {
				p.setColor(false)
				u.setColor(false)
				g.setColor(true)
				z = g
				continue
			}
			if z == p.right() {
				z = p
				t.rotateLeft(z)
				p = z.parent()
			}
			p.setColor(false)
			g.setColor(true)
			t.rotateRight(g)
		} else {
			u := g.left()
			if !u.IsNil() && u.isRed() {
				p.setColor(false)
				u.setColor(false)
				g.setColor(true)
				z = g
				continue
			}
			if z == p.left() {
				z = p
				t.rotateRight(z)
				p = z.parent()
			}
			p.setColor(false)
			g.setColor(true)
			t.rotateLeft(g)
		}
	}
	t.root.setColor(false)
}

func (t *Tree) transplant(u, v NodeRef) {
	p := u.parent()
	switch {
	case p.IsNil():
		t.root = v
	case u == p.left():
		p.setLeft(v)
	default:
		p.setRight(v)
	}
	if !v.IsNil() {
		v.setParent(p)
	}
}

// Remove removes n from the tree. n must currently be in the tree.
func (t *Tree) Remove(z NodeRef) {
	if z == t.leftmost {
		t.leftmost = t.Next(z)
	}

	y := z
	yWasRed := y.isRed()
	var x, xParent NodeRef

	switch {
	case z.left().IsNil():
		x = z.right()
		xParent = z.parent()
		t.transplant(z, z.right())
	case z.right().IsNil():
		x = z.left()
		xParent = z.parent()
		t.transplant(z, z.left())
	default:
		y = t.minimum(z.right())
		yWasRed = y.isRed()
		x = y.right()

		if y.parent() == z {
			xParent = y
			if !x.IsNil() {
				x.setParent(y)
			}
		} else {
			xParent = y.parent()
			t.transplant(y, y.right())
			y.setRight(z.right())
			y.right().setParent(y)
		}

		t.transplant(z, y)
		y.setLeft(z.left())
		y.left().setParent(y)
		y.setColor(z.isRed())
	}

	if !yWasRed {
		t.removeFixup(x, xParent)
	}
	t.size--
}

func (t *Tree) removeFixup(x, parent NodeRef) {
	for x != t.root && (x.IsNil() || !x.isRed()) {
		if x == parent.left() {
			w := parent.right()
			if w.isRed() {
				w.setColor(false)
				parent.setColor(true)
				t.rotateLeft(parent)
				w = parent.right()
			}
			if (w.left().IsNil() || !w.left().isRed()) && (w.right().IsNil() || !w.right().isRed()) {
				w.setColor(true)
				x = parent
				parent = x.parent()
				continue
			}
			if w.right().IsNil() || !w.right().isRed() {
				if !w.left().IsNil() {
					w.left().setColor(false)
				}
				w.setColor(true)
				t.rotateRight(w)
				w = parent.right()
			}
			w.setColor(parent.isRed())
			parent.setColor(false)
			if !w.right().IsNil() {
				w.right().setColor(false)
			}
			t.rotateLeft(parent)
			x = t.root
			parent = 0
		} else {
			w := parent.left()
			if w.isRed() {
				w.setColor(false)
				parent.setColor(true)
				t.rotateRight(parent)
				w = parent.left()
			}
			if (w.right().IsNil() || !w.right().isRed()) && (w.left().IsNil() || !w.left().isRed()) {
				w.setColor(true)
				x = parent
				parent = x.parent()
				continue
			}
			if w.left().IsNil() || !w.left().isRed() {
				if !w.right().IsNil() {
					w.right().setColor(false)
				}
				w.setColor(true)
				t.rotateLeft(w)
				w = parent.left()
			}
			w.setColor(parent.isRed())
			parent.setColor(false)
			if !w.left().IsNil() {
				w.left().setColor(false)
			}
			t.rotateRight(parent)
			x = t.root
			parent = 0
		}
	}
	if !x.IsNil() {
		x.setColor(false)
	}
}
