package bptree

import (
	"bytes"
)

// Tree is an in-memory B+Tree over an arena of nodes addressed by
// NodeID. All values live in leaves; internal nodes hold only
// separator keys. Leaves are chained through Next/Prev for range
// scans.
//
// The tree itself is not goroutine-safe; callers synchronize access
// (the engine holds a single-writer mutex for mutations and an RWMutex
// for readers).
//
// Deletion policy: no merging or rebalancing. Underfull nodes are
// tolerated; the only structural cleanup is pruning nodes that would
// otherwise be left with zero keys (an emptied leaf is unlinked from
// its parent and the leaf chain, an internal node left with a single
// child collapses into that child). Collapsing the root is the one
// case where tree height decreases.
type Tree struct {
	root     NodeID
	nodes    map[NodeID]*Node
	nextID   NodeID
	leafHead NodeID
	leafCap  int
	branchCap int

	// version increments on every mutation. Even a plain insert or
	// delete shifts entries inside a leaf, so scanners treat any
	// version change as a signal that their cached position is stale.
	version uint64
	size    int
}

// New creates an empty tree. leafCap is the maximum number of entries
// per leaf, branchCap the maximum number of separator keys per
// internal node.
func New(leafCap, branchCap int) *Tree {
	if leafCap < 2 {
		leafCap = 2
	}
	if branchCap < 2 {
		branchCap = 2
	}
	return &Tree{
		nodes:     make(map[NodeID]*Node),
		nextID:    1,
		leafCap:   leafCap,
		branchCap: branchCap,
	}
}

func (t *Tree) alloc(leaf bool) *Node {
	n := newNode(t.nextID, leaf)
	t.nextID++
	t.nodes[n.ID] = n
	return n
}

// Len returns the number of stored entries.
func (t *Tree) Len() int { return t.size }

// Height returns the number of levels, 0 for an empty tree.
func (t *Tree) Height() int {
	if t.root == nilNode {
		return 0
	}
	h := 1
	id := t.root
	for {
		n := t.nodes[id]
		if n.Leaf {
			return h
		}
		id = n.Children[0]
		h++
	}
}

// Get returns the value stored under key, or (nil, false) when absent.
func (t *Tree) Get(key []byte) ([]byte, bool) {
	leaf := t.findLeaf(key)
	if leaf == nil {
		return nil, false
	}
	i := leaf.findKeyIndex(key)
	if i < len(leaf.Keys) && bytes.Equal(leaf.Keys[i], key) {
		return leaf.Values[i], true
	}
	return nil, false
}

// findLeaf descends to the leaf whose range contains key. Returns nil
// on an empty tree.
func (t *Tree) findLeaf(key []byte) *Node {
	if t.root == nilNode {
		return nil
	}
	n := t.nodes[t.root]
	for !n.Leaf {
		n = t.nodes[n.Children[n.childIndex(key)]]
	}
	return n
}

// Put inserts or overwrites the entry for key.
func (t *Tree) Put(key, value []byte) {
	t.version++
	if t.root == nilNode {
		root := t.alloc(true)
		root.Keys = [][]byte{key}
		root.Values = [][]byte{value}
		t.root = root.ID
		t.leafHead = root.ID
		t.size = 1
		return
	}
	sep, right, split := t.insert(t.root, key, value)
	if split {
		newRoot := t.alloc(false)
		newRoot.Keys = [][]byte{sep}
		newRoot.Children = []NodeID{t.root, right}
		t.root = newRoot.ID
	}
}

// insert descends to the target leaf. When the visited node splits,
// it returns the separator key and the new right sibling's ID for the
// parent to absorb.
func (t *Tree) insert(id NodeID, key, value []byte) ([]byte, NodeID, bool) {
	n := t.nodes[id]
	if n.Leaf {
		i := n.findKeyIndex(key)
		if i < len(n.Keys) && bytes.Equal(n.Keys[i], key) {
			n.Values[i] = value // duplicate put overwrites
			return nil, nilNode, false
		}
		n.Keys = insertAt(n.Keys, i, key)
		n.Values = insertAt(n.Values, i, value)
		t.size++
		if len(n.Keys) > t.leafCap {
			return t.splitLeaf(n)
		}
		return nil, nilNode, false
	}

	ci := n.childIndex(key)
	sep, right, split := t.insert(n.Children[ci], key, value)
	if !split {
		return nil, nilNode, false
	}
	j := n.findKeyIndex(sep)
	n.Keys = insertAt(n.Keys, j, sep)
	n.Children = insertIDAt(n.Children, j+1, right)
	if len(n.Keys) > t.branchCap {
		return t.splitInternal(n)
	}
	return nil, nilNode, false
}

func (t *Tree) splitLeaf(n *Node) ([]byte, NodeID, bool) {
	mid := len(n.Keys) / 2
	right := t.alloc(true)
	right.Keys = append([][]byte(nil), n.Keys[mid:]...)
	right.Values = append([][]byte(nil), n.Values[mid:]...)
	n.Keys = n.Keys[:mid:mid]
	n.Values = n.Values[:mid:mid]

	right.Next = n.Next
	right.Prev = n.ID
	if right.Next != nilNode {
		t.nodes[right.Next].Prev = right.ID
	}
	n.Next = right.ID

	return right.Keys[0], right.ID, true
}

func (t *Tree) splitInternal(n *Node) ([]byte, NodeID, bool) {
	mid := len(n.Keys) / 2
	sep := n.Keys[mid]
	right := t.alloc(false)
	right.Keys = append([][]byte(nil), n.Keys[mid+1:]...)
	right.Children = append([]NodeID(nil), n.Children[mid+1:]...)
	n.Keys = n.Keys[:mid:mid]
	n.Children = n.Children[: mid+1 : mid+1]

	return sep, right.ID, true
}

// Delete removes the entry for key. Returns false when the key was
// absent.
func (t *Tree) Delete(key []byte) bool {
	if t.root == nilNode {
		return false
	}
	if !t.remove(t.root, key) {
		return false
	}
	t.size--
	t.version++

	root := t.nodes[t.root]
	if root.Leaf && len(root.Keys) == 0 {
		// Last entry gone: back to the empty tree.
		delete(t.nodes, t.root)
		t.root = nilNode
		t.leafHead = nilNode
		return true
	}
	for !root.Leaf && len(root.Keys) == 0 {
		child := root.Children[0]
		delete(t.nodes, t.root)
		t.root = child
		root = t.nodes[t.root]
	}
	return true
}

func (t *Tree) remove(id NodeID, key []byte) bool {
	n := t.nodes[id]
	if n.Leaf {
		i := n.findKeyIndex(key)
		if i >= len(n.Keys) || !bytes.Equal(n.Keys[i], key) {
			return false
		}
		n.Keys = removeAt(n.Keys, i)
		n.Values = removeAt(n.Values, i)
		return true
	}

	ci := n.childIndex(key)
	if !t.remove(n.Children[ci], key) {
		return false
	}

	child := t.nodes[n.Children[ci]]
	switch {
	case child.Leaf && len(child.Keys) == 0:
		t.unlinkLeaf(child)
		delete(t.nodes, child.ID)
		si := ci - 1
		if si < 0 {
			si = 0
		}
		n.Keys = removeAt(n.Keys, si)
		n.Children = removeIDAt(n.Children, ci)
	case !child.Leaf && len(child.Keys) == 0:
		// Zero-key internal node has exactly one child: collapse it.
		n.Children[ci] = child.Children[0]
		delete(t.nodes, child.ID)
	}
	return true
}

func (t *Tree) unlinkLeaf(n *Node) {
	if n.Prev != nilNode {
		t.nodes[n.Prev].Next = n.Next
	}
	if n.Next != nilNode {
		t.nodes[n.Next].Prev = n.Prev
	}
	if t.leafHead == n.ID {
		t.leafHead = n.Next
	}
}

// Clone returns a point-in-time copy sharing key/value bytes with the
// original. Container slices are copied, so subsequent mutations of
// the live tree never show through. Used by the snapshot task as its
// consistency point.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		root:      t.root,
		nodes:     make(map[NodeID]*Node, len(t.nodes)),
		nextID:    t.nextID,
		leafHead:  t.leafHead,
		leafCap:   t.leafCap,
		branchCap: t.branchCap,
		version:   t.version,
		size:      t.size,
	}
	for id, n := range t.nodes {
		c.nodes[id] = n.clone()
	}
	return c
}

func insertAt(s [][]byte, i int, v []byte) [][]byte {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertIDAt(s []NodeID, i int, v NodeID) []NodeID {
	s = append(s, nilNode)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeAt(s [][]byte, i int) [][]byte {
	return append(s[:i], s[i+1:]...)
}

func removeIDAt(s []NodeID, i int) []NodeID {
	return append(s[:i], s[i+1:]...)
}
