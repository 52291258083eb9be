package bptree

import (
	"bytes"
)

// Scanner is a lazy in-order iterator over [start, end). A nil end
// scans to the last key. The scanner walks the leaf chain and is not
// restartable once consumed.
//
// A scanner tolerates mutations between Next calls: it remembers the
// tree version at which its leaf position was taken and re-seeks past
// the last returned key whenever the tree has changed since. Any
// mutation can shift entries within the cached leaf, so every version
// change invalidates the position, not just splits and prunes.
// Callers provide synchronization around each Next call, same as for
// the tree itself.
type Scanner struct {
	t       *Tree
	start   []byte
	end     []byte
	leaf    NodeID
	idx     int
	version uint64
	lastKey []byte
	started bool
	done    bool

	key   []byte
	value []byte
}

// NewScanner positions a scanner at the first key >= start.
func (t *Tree) NewScanner(start, end []byte) *Scanner {
	s := &Scanner{t: t, start: start, end: end}
	s.seek(start, true)
	return s
}

// seek positions the scanner at the first key >= bound (inclusive) or
// > bound (exclusive).
func (s *Scanner) seek(bound []byte, inclusive bool) {
	s.version = s.t.version
	leaf := s.t.findLeaf(bound)
	if leaf == nil {
		s.leaf = nilNode
		return
	}
	i := leaf.findKeyIndex(bound)
	if !inclusive && i < len(leaf.Keys) && bytes.Equal(leaf.Keys[i], bound) {
		i++
	}
	s.leaf = leaf.ID
	s.idx = i
}

// Next advances to the following entry. It returns false once the end
// bound or the last leaf is passed.
func (s *Scanner) Next() bool {
	if s.done {
		return false
	}
	if s.version != s.t.version {
		// Tree changed under us: recover the position from the last
		// key handed out.
		if s.started {
			s.seek(s.lastKey, false)
		} else {
			s.seek(s.start, true)
		}
	}

	for s.leaf != nilNode {
		n := s.t.nodes[s.leaf]
		if s.idx < len(n.Keys) {
			key := n.Keys[s.idx]
			if s.end != nil && bytes.Compare(key, s.end) >= 0 {
				break
			}
			s.key = key
			s.value = n.Values[s.idx]
			s.lastKey = key
			s.started = true
			s.idx++
			return true
		}
		s.leaf = n.Next
		s.idx = 0
	}
	s.done = true
	s.key = nil
	s.value = nil
	return false
}

// Key returns the current entry's key. Valid after Next returned true.
func (s *Scanner) Key() []byte { return s.key }

// Value returns the current entry's value. Valid after Next returned
// true.
func (s *Scanner) Value() []byte { return s.value }
