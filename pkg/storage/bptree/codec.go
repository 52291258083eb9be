package bptree

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Node block layout (all integers LittleEndian):
//
//	[CRC32 4B] [type 1B] [id 8B] [next 8B] [prev 8B] [count 4B] [payload]
//
// Leaf payload:     count * ([keyLen uvarint][key][valLen uvarint][val])
// Internal payload: count * ([keyLen uvarint][key]) + (count+1) * [child 8B]
//
// The CRC covers everything after the checksum itself.

const (
	nodeTypeInternal = 0
	nodeTypeLeaf     = 1

	blockHeaderSize = 4 + 1 + 8 + 8 + 8 + 4
)

// CorruptPageError reports a node block that failed checksum or
// structural validation, carrying the offending file offset.
type CorruptPageError struct {
	Offset int64
	Reason string
}

func (e *CorruptPageError) Error() string {
	return fmt.Sprintf("bptree: corrupt page at offset %d: %s", e.Offset, e.Reason)
}

// EncodeNode serializes a node to a self-describing block.
func EncodeNode(n *Node) []byte {
	size := blockHeaderSize
	for _, k := range n.Keys {
		size += binary.MaxVarintLen32 + len(k)
	}
	if n.Leaf {
		for _, v := range n.Values {
			size += binary.MaxVarintLen32 + len(v)
		}
	} else {
		size += 8 * len(n.Children)
	}

	buf := make([]byte, blockHeaderSize, size)
	if n.Leaf {
		buf[4] = nodeTypeLeaf
	} else {
		buf[4] = nodeTypeInternal
	}
	binary.LittleEndian.PutUint64(buf[5:13], uint64(n.ID))
	binary.LittleEndian.PutUint64(buf[13:21], uint64(n.Next))
	binary.LittleEndian.PutUint64(buf[21:29], uint64(n.Prev))
	binary.LittleEndian.PutUint32(buf[29:33], uint32(len(n.Keys)))

	if n.Leaf {
		for i, k := range n.Keys {
			buf = binary.AppendUvarint(buf, uint64(len(k)))
			buf = append(buf, k...)
			buf = binary.AppendUvarint(buf, uint64(len(n.Values[i])))
			buf = append(buf, n.Values[i]...)
		}
	} else {
		for _, k := range n.Keys {
			buf = binary.AppendUvarint(buf, uint64(len(k)))
			buf = append(buf, k...)
		}
		for _, c := range n.Children {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(c))
		}
	}

	binary.LittleEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(buf[4:]))
	return buf
}

// DecodeNode parses a block produced by EncodeNode. offset is the
// block's position in its containing file and is used only for error
// reporting.
func DecodeNode(data []byte, offset int64) (*Node, error) {
	if len(data) < blockHeaderSize {
		return nil, &CorruptPageError{Offset: offset, Reason: "block shorter than header"}
	}
	stored := binary.LittleEndian.Uint32(data[0:4])
	if crc32.ChecksumIEEE(data[4:]) != stored {
		return nil, &CorruptPageError{Offset: offset, Reason: "checksum mismatch"}
	}

	typ := data[4]
	if typ != nodeTypeLeaf && typ != nodeTypeInternal {
		return nil, &CorruptPageError{Offset: offset, Reason: fmt.Sprintf("unknown node type %d", typ)}
	}
	n := &Node{
		ID:   NodeID(binary.LittleEndian.Uint64(data[5:13])),
		Leaf: typ == nodeTypeLeaf,
		Next: NodeID(binary.LittleEndian.Uint64(data[13:21])),
		Prev: NodeID(binary.LittleEndian.Uint64(data[21:29])),
	}
	count := int(binary.LittleEndian.Uint32(data[29:33]))
	rest := data[blockHeaderSize:]

	readChunk := func() ([]byte, bool) {
		l, read := binary.Uvarint(rest)
		if read <= 0 || uint64(len(rest)-read) < l {
			return nil, false
		}
		chunk := rest[read : read+int(l)]
		rest = rest[read+int(l):]
		return chunk, true
	}

	if n.Leaf {
		n.Keys = make([][]byte, 0, count)
		n.Values = make([][]byte, 0, count)
		for i := 0; i < count; i++ {
			k, ok := readChunk()
			if !ok {
				return nil, &CorruptPageError{Offset: offset, Reason: "truncated leaf entry"}
			}
			v, ok := readChunk()
			if !ok {
				return nil, &CorruptPageError{Offset: offset, Reason: "truncated leaf entry"}
			}
			n.Keys = append(n.Keys, append([]byte(nil), k...))
			n.Values = append(n.Values, append([]byte(nil), v...))
		}
		return n, nil
	}

	n.Keys = make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		k, ok := readChunk()
		if !ok {
			return nil, &CorruptPageError{Offset: offset, Reason: "truncated separator key"}
		}
		n.Keys = append(n.Keys, append([]byte(nil), k...))
	}
	if len(rest) != 8*(count+1) {
		return nil, &CorruptPageError{Offset: offset, Reason: "child table size mismatch"}
	}
	n.Children = make([]NodeID, 0, count+1)
	for i := 0; i <= count; i++ {
		n.Children = append(n.Children, NodeID(binary.LittleEndian.Uint64(rest[8*i:])))
	}
	return n, nil
}
