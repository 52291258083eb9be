package core

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"wundradb/pkg/common"
	"wundradb/pkg/config"
	"wundradb/pkg/storage"
	"wundradb/pkg/storage/bptree"
)

func recoveryConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Storage: config.StorageConfig{
			Path:              t.TempDir(),
			SnapshotThreshold: 1000,
			WALSyncMode:       "always",
			LeafCapacity:      4,
			BranchCapacity:    4,
			BlockSize:         4096,
		},
	}
}

func appendRecords(t *testing.T, dir string, recs []common.Record) {
	t.Helper()
	w, err := storage.OpenWAL(filepath.Join(dir, WALFile), storage.SyncAlways)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	defer w.Close()
	for _, r := range recs {
		if _, err := w.Append(r.Op, r.Key, r.Value); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestRecoveryFreshDirectory(t *testing.T) {
	cfg := recoveryConfig(t)
	r := NewRecovery(cfg)
	if r.State() != StateNoState {
		t.Fatalf("initial state: %v", r.State())
	}
	if err := r.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.State() != StateReady {
		t.Fatalf("final state: %v", r.State())
	}
	if r.Tree().Len() != 0 || r.LastSeq() != 0 {
		t.Fatalf("fresh recovery: len=%d seq=%d", r.Tree().Len(), r.LastSeq())
	}
}

func TestRecoveryReplaysUnappliedRecords(t *testing.T) {
	// Simulate a crash after WAL appends that never reached any
	// snapshot: recovery must equal applying the records directly.
	cfg := recoveryConfig(t)
	k := func(i int) common.KeyType {
		return common.EncodeTableKey("t", []byte(fmt.Sprintf("%03d", i)))
	}

	var recs []common.Record
	for i := 0; i < 50; i++ {
		recs = append(recs, common.Record{Op: common.OpPut, Key: k(i), Value: []byte(fmt.Sprintf("v%d", i))})
	}
	for i := 0; i < 50; i += 3 {
		recs = append(recs, common.Record{Op: common.OpDelete, Key: k(i)})
	}
	appendRecords(t, cfg.Storage.Path, recs)

	expected := bptree.New(4, 4)
	for _, r := range recs {
		if r.Op == common.OpPut {
			expected.Put(r.Key, r.Value)
		} else {
			expected.Delete(r.Key)
		}
	}

	rec := NewRecovery(cfg)
	if err := rec.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.Replayed() != len(recs) {
		t.Fatalf("replayed: got %d, want %d", rec.Replayed(), len(recs))
	}
	if rec.Tree().Len() != expected.Len() {
		t.Fatalf("len: got %d, want %d", rec.Tree().Len(), expected.Len())
	}
	for i := 0; i < 50; i++ {
		got, gok := rec.Tree().Get(k(i))
		want, wok := expected.Get(k(i))
		if gok != wok || string(got) != string(want) {
			t.Fatalf("key %03d: recovered (%q,%v), expected (%q,%v)", i, got, gok, want, wok)
		}
	}
	if !rec.Tables()["t"] {
		t.Fatalf("table directory not rebuilt: %v", rec.Tables())
	}
}

func TestRecoverySnapshotPlusTail(t *testing.T) {
	// Snapshot at S plus replay of S+1.. must equal full replay
	// from sequence 0.
	cfg := recoveryConfig(t)
	dir := cfg.Storage.Path
	k := func(i int) common.KeyType {
		return common.EncodeTableKey("t", []byte(fmt.Sprintf("%03d", i)))
	}

	var recs []common.Record
	for i := 0; i < 40; i++ {
		recs = append(recs, common.Record{Op: common.OpPut, Key: k(i), Value: []byte(fmt.Sprintf("v%d", i))})
	}
	appendRecords(t, dir, recs)

	// Build the snapshot state by applying the first 25 records.
	snapTree := bptree.New(4, 4)
	for _, r := range recs[:25] {
		snapTree.Put(r.Key, r.Value)
	}
	if err := storage.WriteSnapshot(filepath.Join(dir, SnapshotFile), snapTree, 25); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if err := storage.SaveMetadata(dir, &storage.Metadata{
		SnapshotPath:    SnapshotFile,
		LastSnapshotSeq: 25,
		Tables:          []string{"t"},
	}); err != nil {
		t.Fatalf("save metadata: %v", err)
	}

	rec := NewRecovery(cfg)
	if err := rec.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.Replayed() != 15 {
		t.Fatalf("tail replay: got %d records, want 15", rec.Replayed())
	}
	if rec.LastSeq() != 40 {
		t.Fatalf("last seq: got %d, want 40", rec.LastSeq())
	}

	// Full replay from scratch for comparison.
	full := bptree.New(4, 4)
	for _, r := range recs {
		full.Put(r.Key, r.Value)
	}
	if rec.Tree().Len() != full.Len() {
		t.Fatalf("len: got %d, want %d", rec.Tree().Len(), full.Len())
	}
	for i := 0; i < 40; i++ {
		got, ok := rec.Tree().Get(k(i))
		want, _ := full.Get(k(i))
		if !ok || string(got) != string(want) {
			t.Fatalf("key %03d: got (%q,%v), want %q", i, got, ok, want)
		}
	}
}

func TestRecoveryCorruptSnapshotFallsBackToFullReplay(t *testing.T) {
	cfg := recoveryConfig(t)
	dir := cfg.Storage.Path

	recs := []common.Record{
		{Op: common.OpPut, Key: common.EncodeTableKey("t", []byte("a")), Value: []byte("1")},
		{Op: common.OpPut, Key: common.EncodeTableKey("t", []byte("b")), Value: []byte("2")},
	}
	appendRecords(t, dir, recs)

	// Metadata points at garbage: recovery must fall back to a full
	// WAL replay instead of failing startup.
	if err := os.WriteFile(filepath.Join(dir, SnapshotFile), []byte("garbage"), 0644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := storage.SaveMetadata(dir, &storage.Metadata{
		SnapshotPath:    SnapshotFile,
		LastSnapshotSeq: 1,
	}); err != nil {
		t.Fatalf("save metadata: %v", err)
	}

	rec := NewRecovery(cfg)
	if err := rec.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.State() != StateReady {
		t.Fatalf("state: %v", rec.State())
	}
	if v, ok := rec.Tree().Get(common.EncodeTableKey("t", []byte("a"))); !ok || string(v) != "1" {
		t.Fatalf("fallback replay lost a: %q, %v", v, ok)
	}
	if v, ok := rec.Tree().Get(common.EncodeTableKey("t", []byte("b"))); !ok || string(v) != "2" {
		t.Fatalf("fallback replay lost b: %q, %v", v, ok)
	}
}

func TestRecoveryStopsAtCorruptRecord(t *testing.T) {
	cfg := recoveryConfig(t)
	dir := cfg.Storage.Path

	recs := []common.Record{
		{Op: common.OpPut, Key: common.EncodeTableKey("t", []byte("a")), Value: []byte("1")},
		{Op: common.OpPut, Key: common.EncodeTableKey("t", []byte("b")), Value: []byte("2")},
		{Op: common.OpPut, Key: common.EncodeTableKey("t", []byte("c")), Value: []byte("3")},
	}
	appendRecords(t, dir, recs)

	// Flip a byte in the middle of the log.
	walPath := filepath.Join(dir, WALFile)
	data, err := os.ReadFile(walPath)
	if err != nil {
		t.Fatalf("read wal: %v", err)
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(walPath, data, 0644); err != nil {
		t.Fatalf("write wal: %v", err)
	}

	rec := NewRecovery(cfg)
	if err := rec.Run(); err != nil {
		t.Fatalf("best-effort recovery must not fail startup: %v", err)
	}
	if rec.State() != StateReady {
		t.Fatalf("state: %v", rec.State())
	}
	// Everything before the corruption point survives.
	if v, ok := rec.Tree().Get(common.EncodeTableKey("t", []byte("a"))); !ok || string(v) != "1" {
		t.Fatalf("record before corruption lost: %q, %v", v, ok)
	}
	if rec.Replayed() >= len(recs) {
		t.Fatalf("replay should have stopped early, replayed %d", rec.Replayed())
	}
}
