package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"wundradb/pkg/storage/bptree"
)

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storage.db")

	tree := bptree.New(4, 4)
	for i := 0; i < 1000; i++ {
		tree.Put([]byte(fmt.Sprintf("key%04d", i)), []byte(fmt.Sprintf("val%d", i)))
	}

	if err := WriteSnapshot(path, tree, 1000); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	loaded, seq, err := ReadSnapshot(path, 4, 4)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if seq != 1000 {
		t.Fatalf("snapshot seq: got %d, want 1000", seq)
	}
	if loaded.Len() != tree.Len() {
		t.Fatalf("snapshot len: got %d, want %d", loaded.Len(), tree.Len())
	}
	for i := 0; i < 1000; i++ {
		k := []byte(fmt.Sprintf("key%04d", i))
		v, ok := loaded.Get(k)
		if !ok || string(v) != fmt.Sprintf("val%d", i) {
			t.Fatalf("loaded value for %s: %q, %v", k, v, ok)
		}
	}
}

func TestSnapshotWriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storage.db")

	tree := bptree.New(4, 4)
	tree.Put([]byte("k"), []byte("v1"))
	if err := WriteSnapshot(path, tree, 1); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}

	tree.Put([]byte("k"), []byte("v2"))
	if err := WriteSnapshot(path, tree, 2); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	// No temp file left behind; the live file holds the new state.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
	loaded, seq, err := ReadSnapshot(path, 4, 4)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if seq != 2 {
		t.Fatalf("seq: got %d, want 2", seq)
	}
	if v, ok := loaded.Get([]byte("k")); !ok || string(v) != "v2" {
		t.Fatalf("value: %q, %v", v, ok)
	}
}

func TestSnapshotBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storage.db")
	if err := os.WriteFile(path, []byte("definitely not a snapshot file"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := ReadSnapshot(path, 4, 4); err == nil {
		t.Fatal("bad magic must fail to load")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m, err := LoadMetadata(dir)
	if err != nil {
		t.Fatalf("load missing metadata: %v", err)
	}
	if m != nil {
		t.Fatal("missing metadata must load as nil")
	}

	want := &Metadata{
		SnapshotPath:    "storage.db",
		LastSnapshotSeq: 42,
		Tables:          []string{"orders", "users"},
	}
	if err := SaveMetadata(dir, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := LoadMetadata(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.SnapshotPath != want.SnapshotPath || got.LastSnapshotSeq != want.LastSnapshotSeq {
		t.Fatalf("metadata mismatch: %+v", got)
	}
	if len(got.Tables) != 2 || got.Tables[0] != "orders" {
		t.Fatalf("table directory mismatch: %v", got.Tables)
	}

	// Overwrite goes through a temp file and rename.
	want.LastSnapshotSeq = 99
	if err := SaveMetadata(dir, want); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, MetadataFile+".tmp")); !os.IsNotExist(err) {
		t.Fatalf("temp metadata left behind: %v", err)
	}
	got, err = LoadMetadata(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.LastSnapshotSeq != 99 {
		t.Fatalf("reload seq: got %d, want 99", got.LastSnapshotSeq)
	}
}
