package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"wundradb/pkg/storage/bptree"
)

// Snapshot file layout:
//
//	[magic 8B] [version 4B] [sequence 8B] [tree dump]
//
// A snapshot taken at sequence S reflects every WAL record with
// sequence <= S and none after. The file is written to a temporary
// name and renamed into place, never edited in place.

const (
	snapshotMagic   uint64 = 0x5742_4454_5245_4531 // "WBDTREE1"
	snapshotVersion uint32 = 1

	snapshotHeaderSize = 8 + 4 + 8
)

var ErrBadSnapshot = errors.New("snapshot: invalid header")

// WriteSnapshot atomically serializes tree state taken at the given
// WAL sequence number to path.
func WriteSnapshot(path string, tree *bptree.Tree, seq uint64) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	header := make([]byte, snapshotHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], snapshotMagic)
	binary.LittleEndian.PutUint32(header[8:12], snapshotVersion)
	binary.LittleEndian.PutUint64(header[12:20], seq)
	if _, err := w.Write(header); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tree.Dump(w); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// ReadSnapshot loads a snapshot file, returning the rebuilt tree and
// the WAL sequence number it was taken at.
func ReadSnapshot(path string, leafCap, branchCap int) (*bptree.Tree, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if binary.LittleEndian.Uint64(header[0:8]) != snapshotMagic {
		return nil, 0, fmt.Errorf("%w: bad magic", ErrBadSnapshot)
	}
	if v := binary.LittleEndian.Uint32(header[8:12]); v != snapshotVersion {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, v)
	}
	seq := binary.LittleEndian.Uint64(header[12:20])

	tree, err := bptree.Load(r, leafCap, branchCap)
	if err != nil {
		return nil, 0, err
	}
	return tree, seq, nil
}
