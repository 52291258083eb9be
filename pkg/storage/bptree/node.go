package bptree

import (
	"bytes"
	"sort"
)

// NodeID is a stable identifier resolving to a node's slot in the
// arena. Parent/child and leaf-chain relationships are held as IDs,
// never as pointers, so nodes can be serialized, reloaded and shared
// across reader goroutines.
type NodeID uint64

const nilNode NodeID = 0

// Node is either an internal node (separator keys + child IDs) or a
// leaf node (key/value entries + next/prev leaf IDs). Keys within a
// node are strictly increasing.
type Node struct {
	ID       NodeID
	Leaf     bool
	Keys     [][]byte
	Values   [][]byte // leaf only, len(Values) == len(Keys)
	Children []NodeID // internal only, len(Children) == len(Keys)+1
	Next     NodeID   // leaf chain
	Prev     NodeID
}

func newNode(id NodeID, leaf bool) *Node {
	return &Node{ID: id, Leaf: leaf}
}

// findKeyIndex returns the first index whose key is >= key.
func (n *Node) findKeyIndex(key []byte) int {
	return sort.Search(len(n.Keys), func(i int) bool {
		return bytes.Compare(n.Keys[i], key) >= 0
	})
}

// childIndex returns the index of the child whose key range contains
// key. Separator i is the smallest key of child i+1.
func (n *Node) childIndex(key []byte) int {
	return sort.Search(len(n.Keys), func(i int) bool {
		return bytes.Compare(key, n.Keys[i]) < 0
	})
}

// clone copies the node with fresh container slices. The key and
// value byte slices themselves are shared; the tree never mutates
// them in place.
func (n *Node) clone() *Node {
	c := &Node{ID: n.ID, Leaf: n.Leaf, Next: n.Next, Prev: n.Prev}
	c.Keys = append([][]byte(nil), n.Keys...)
	if n.Leaf {
		c.Values = append([][]byte(nil), n.Values...)
	} else {
		c.Children = append([]NodeID(nil), n.Children...)
	}
	return c
}
