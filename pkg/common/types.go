package common

import "fmt"

// KeyType is an ordered byte-sequence key. Total order is byte-wise
// comparison (bytes.Compare).
type KeyType []byte

// ValueType is an opaque byte-sequence value; the engine is agnostic
// to row encoding.
type ValueType []byte

// OpType tags a mutating operation in the write-ahead log.
type OpType uint8

const (
	OpPut    OpType = 1
	OpDelete OpType = 2
)

func (op OpType) String() string {
	switch op {
	case OpPut:
		return "PUT"
	case OpDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("OP(%d)", uint8(op))
	}
}

// Record is one write-ahead log entry. Seq is assigned by the log on
// append and defines replay order.
type Record struct {
	Seq   uint64
	Op    OpType
	Key   KeyType
	Value ValueType
}

func (r *Record) String() string {
	return fmt.Sprintf("Record{Seq: %d, Op: %s, KeyLen: %d, ValLen: %d}", r.Seq, r.Op, len(r.Key), len(r.Value))
}
