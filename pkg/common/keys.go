package common

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Table keys are stored in a single tree, namespaced by a
// length-prefixed table name so that byte-wise key order groups each
// table's entries into one contiguous range:
//
//	[table name length (uvarint)] [table name] [user key]

var ErrBadTableKey = errors.New("common: malformed table key")

// EncodeTableKey builds the composite storage key for (table, key).
func EncodeTableKey(table string, key KeyType) KeyType {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(table)+len(key))
	buf = binary.AppendUvarint(buf, uint64(len(table)))
	buf = append(buf, table...)
	buf = append(buf, key...)
	return buf
}

// DecodeTableKey splits a composite storage key back into table name
// and user key.
func DecodeTableKey(k KeyType) (string, KeyType, error) {
	n, read := binary.Uvarint(k)
	if read <= 0 || uint64(len(k)-read) < n {
		return "", nil, fmt.Errorf("%w: %d bytes", ErrBadTableKey, len(k))
	}
	table := string(k[read : read+int(n)])
	return table, k[read+int(n):], nil
}

// TablePrefix returns the composite-key prefix shared by every key of
// the given table.
func TablePrefix(table string) KeyType {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(table))
	buf = binary.AppendUvarint(buf, uint64(len(table)))
	buf = append(buf, table...)
	return buf
}

// PrefixEnd returns the smallest key greater than every key starting
// with prefix, or nil if no such key exists (all 0xff).
func PrefixEnd(prefix KeyType) KeyType {
	end := append(KeyType(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
