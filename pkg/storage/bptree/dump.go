package bptree

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Stream layout for a serialized tree:
//
//	[root 8B] [leafHead 8B] [nextID 8B] [nodeCount 8B]
//	nodeCount * ([blockLen 4B] [node block])
//
// Node blocks are self-describing and individually checksummed (see
// codec.go), so a flipped bit surfaces as a CorruptPageError carrying
// the block's offset within the stream.

// Dump writes the full tree state to w.
func (t *Tree) Dump(w io.Writer) error {
	header := make([]byte, 32)
	binary.LittleEndian.PutUint64(header[0:8], uint64(t.root))
	binary.LittleEndian.PutUint64(header[8:16], uint64(t.leafHead))
	binary.LittleEndian.PutUint64(header[16:24], uint64(t.nextID))
	binary.LittleEndian.PutUint64(header[24:32], uint64(len(t.nodes)))
	if _, err := w.Write(header); err != nil {
		return err
	}

	var lenBuf [4]byte
	for _, n := range t.nodes {
		block := EncodeNode(n)
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(block)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := w.Write(block); err != nil {
			return err
		}
	}
	return nil
}

// Load rebuilds a tree from a Dump stream. leafCap and branchCap come
// from configuration, not from the stream, so capacity changes take
// effect on the next splits after a restart.
func Load(r io.Reader, leafCap, branchCap int) (*Tree, error) {
	header := make([]byte, 32)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("bptree: read tree header: %w", err)
	}

	t := New(leafCap, branchCap)
	t.root = NodeID(binary.LittleEndian.Uint64(header[0:8]))
	t.leafHead = NodeID(binary.LittleEndian.Uint64(header[8:16]))
	t.nextID = NodeID(binary.LittleEndian.Uint64(header[16:24]))
	count := binary.LittleEndian.Uint64(header[24:32])

	offset := int64(len(header))
	var lenBuf [4]byte
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("bptree: read block length: %w", err)
		}
		blockLen := binary.LittleEndian.Uint32(lenBuf[:])
		block := make([]byte, blockLen)
		if _, err := io.ReadFull(r, block); err != nil {
			return nil, fmt.Errorf("bptree: read block: %w", err)
		}
		n, err := DecodeNode(block, offset+4)
		if err != nil {
			return nil, err
		}
		t.nodes[n.ID] = n
		if n.Leaf {
			t.size += len(n.Keys)
		}
		offset += 4 + int64(blockLen)
	}
	return t, nil
}
