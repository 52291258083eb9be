package core

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"wundradb/pkg/common"
	"wundradb/pkg/config"
	"wundradb/pkg/monitor"
	"wundradb/pkg/storage"
	"wundradb/pkg/storage/bptree"
)

// Persisted layout inside the data directory.
const (
	WALFile      = "wal.log"
	SnapshotFile = "storage.db"
)

// ErrCapacityExceeded reports a single key/value pair larger than one
// storage block. Rejected before any durability attempt.
var ErrCapacityExceeded = errors.New("core: key/value pair exceeds block size")

// Engine is the storage facade consumed by the SQL execution layer.
// Every mutation is appended to the WAL and fsynced before it is
// applied to the in-memory B+Tree; a background task snapshots the
// tree every SnapshotThreshold mutations and truncates the log.
//
// Reads run concurrently; mutations are serialized by a single-writer
// mutex around the WAL-append-then-tree-apply sequence, so readers
// observe either the pre- or post-mutation state, never a half-applied
// split.
type Engine struct {
	conf  *config.Config
	stats *monitor.WorkloadStats

	// writeMu serializes the WAL-append + tree-apply sequence.
	writeMu sync.Mutex
	wal     *storage.WAL

	// mu guards the tree, the table directory and lastApplied.
	mu          sync.RWMutex
	tree        *bptree.Tree
	tables      map[string]bool
	lastApplied uint64

	opsSinceSnapshot int    // guarded by writeMu
	lastSnapshotSeq  uint64 // written under mu; only the snapshot task writes it
	snapMu           sync.Mutex // one snapshot at a time

	snapCh  chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Open recovers state from the data directory and starts the
// background snapshot task. The engine accepts operations only after
// recovery reached the Ready state.
func Open(cfg *config.Config) (*Engine, error) {
	if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
		return nil, fmt.Errorf("core: create data dir: %w", err)
	}

	recovery := NewRecovery(cfg)
	if err := recovery.Run(); err != nil {
		return nil, fmt.Errorf("core: recovery failed: %w", err)
	}

	syncMode, err := storage.ParseSyncMode(cfg.Storage.WALSyncMode)
	if err != nil {
		return nil, err
	}
	wal, err := storage.OpenWAL(filepath.Join(cfg.Storage.Path, WALFile), syncMode)
	if err != nil {
		return nil, fmt.Errorf("core: open wal: %w", err)
	}
	wal.Advance(recovery.LastSeq())

	e := &Engine{
		conf:            cfg,
		stats:           monitor.NewWorkloadStats(),
		wal:             wal,
		tree:            recovery.Tree(),
		tables:          recovery.Tables(),
		lastApplied:     recovery.LastSeq(),
		lastSnapshotSeq: recovery.LastSeq() - uint64(recovery.Replayed()),
		snapCh:          make(chan struct{}, 1),
		closeCh:         make(chan struct{}),
	}

	e.wg.Add(1)
	go e.backgroundSnapshots()

	return e, nil
}

// Put durably stores row under (table, key). The WAL append happens
// first; if it fails the tree is left untouched.
func (e *Engine) Put(table string, key, row []byte) error {
	ck := common.EncodeTableKey(table, key)
	if len(ck)+len(row) > e.conf.Storage.BlockSize {
		return ErrCapacityExceeded
	}
	e.stats.RecordWrite()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	seq, err := e.wal.Append(common.OpPut, ck, row)
	if err != nil {
		return fmt.Errorf("core: wal append: %w", err)
	}

	e.mu.Lock()
	e.tree.Put(ck, row)
	e.tables[table] = true
	e.lastApplied = seq
	e.mu.Unlock()

	e.noteMutation()
	return nil
}

// Delete durably removes (table, key). Deleting an absent key is not
// an error.
func (e *Engine) Delete(table string, key []byte) error {
	ck := common.EncodeTableKey(table, key)
	e.stats.RecordDelete()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	seq, err := e.wal.Append(common.OpDelete, ck, nil)
	if err != nil {
		return fmt.Errorf("core: wal append: %w", err)
	}

	e.mu.Lock()
	e.tree.Delete(ck)
	e.lastApplied = seq
	e.mu.Unlock()

	e.noteMutation()
	return nil
}

// Get returns the row stored under (table, key), or (nil, false) when
// absent.
func (e *Engine) Get(table string, key []byte) ([]byte, bool) {
	e.stats.RecordRead()
	ck := common.EncodeTableKey(table, key)

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tree.Get(ck)
}

// Scan returns a lazy iterator over the table's entries with
// start <= key <= end, in ascending key order. A nil start begins at
// the table's first key; a nil end runs to its last. The scanner is
// not restartable once consumed.
func (e *Engine) Scan(table string, start, end []byte) *Scanner {
	e.stats.RecordRead()

	lower := common.EncodeTableKey(table, start)
	var upper []byte
	if end != nil {
		// The tree bound is exclusive; extend by one zero byte to
		// include end itself.
		upper = append(common.EncodeTableKey(table, end), 0)
	} else {
		upper = common.PrefixEnd(common.TablePrefix(table))
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return &Scanner{e: e, inner: e.tree.NewScanner(lower, upper)}
}

// Tables returns the sorted table directory.
func (e *Engine) Tables() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.tables))
	for t := range e.tables {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

// noteMutation counts applied mutations and wakes the snapshot task
// when the threshold is reached. Called with writeMu held.
func (e *Engine) noteMutation() {
	e.opsSinceSnapshot++
	if e.opsSinceSnapshot < e.conf.Storage.SnapshotThreshold {
		return
	}
	e.opsSinceSnapshot = 0
	select {
	case e.snapCh <- struct{}{}:
	default: // a snapshot is already pending
	}
}

func (e *Engine) backgroundSnapshots() {
	defer e.wg.Done()
	for {
		select {
		case <-e.snapCh:
			if err := e.snapshot(); err != nil {
				log.Printf("[Snapshot] Error: %v", err)
			}
		case <-e.closeCh:
			return
		}
	}
}

// snapshot serializes a point-in-time view of the tree, publishes the
// metadata atomically, then truncates the WAL up to the captured
// sequence number. Only the O(n)-pointer clone holds the read lock;
// the disk write runs concurrently with subsequent mutations.
func (e *Engine) snapshot() error {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	e.mu.RLock()
	clone := e.tree.Clone()
	seq := e.lastApplied
	tables := make([]string, 0, len(e.tables))
	for t := range e.tables {
		tables = append(tables, t)
	}
	e.mu.RUnlock()

	if seq <= e.lastSnapshotSeq {
		return nil // nothing new since the last snapshot
	}
	sort.Strings(tables)

	path := filepath.Join(e.conf.Storage.Path, SnapshotFile)
	if err := storage.WriteSnapshot(path, clone, seq); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	meta := &storage.Metadata{
		SnapshotPath:    SnapshotFile,
		LastSnapshotSeq: seq,
		Tables:          tables,
	}
	if err := storage.SaveMetadata(e.conf.Storage.Path, meta); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	// The snapshot is durable and published; records <= seq are no
	// longer needed for recovery.
	if err := e.wal.TruncateBefore(seq + 1); err != nil {
		return fmt.Errorf("truncate wal: %w", err)
	}

	e.mu.Lock()
	e.lastSnapshotSeq = seq
	e.mu.Unlock()
	e.stats.RecordSnapshot()
	log.Printf("[Snapshot] Completed at seq=%d (%d entries)", seq, clone.Len())
	return nil
}

// Stats reports engine counters for diagnostics.
func (e *Engine) Stats() map[string]interface{} {
	e.mu.RLock()
	entries := e.tree.Len()
	height := e.tree.Height()
	lastApplied := e.lastApplied
	lastSnapshot := e.lastSnapshotSeq
	tableCount := len(e.tables)
	e.mu.RUnlock()

	return map[string]interface{}{
		"entries":           entries,
		"tree_height":       height,
		"tables":            tableCount,
		"last_applied_seq":  lastApplied,
		"last_snapshot_seq": lastSnapshot,
		"snapshots_taken":   e.stats.Snapshots(),
		"rw_ratio":          e.stats.GetReadWriteRatio(),
	}
}

// Close stops the background task, takes a final snapshot so the next
// start recovers without replay, and closes the WAL.
func (e *Engine) Close() error {
	close(e.closeCh)
	e.wg.Wait()

	if err := e.snapshot(); err != nil {
		log.Printf("[Engine] Warning: final snapshot failed: %v", err)
	}
	if err := e.wal.Sync(); err != nil {
		e.wal.Close()
		return err
	}
	return e.wal.Close()
}

// Scanner adapts the tree scanner to the facade: it takes the read
// lock around each step and strips the table prefix from keys.
type Scanner struct {
	e     *Engine
	inner *bptree.Scanner
	key   []byte
	value []byte
}

// Next advances to the following row, returning false when the range
// is exhausted.
func (s *Scanner) Next() bool {
	s.e.mu.RLock()
	defer s.e.mu.RUnlock()
	if !s.inner.Next() {
		s.key = nil
		s.value = nil
		return false
	}
	_, key, err := common.DecodeTableKey(s.inner.Key())
	if err != nil {
		log.Printf("[Engine] Warning: malformed composite key in scan: %v", err)
		s.key = s.inner.Key()
	} else {
		s.key = key
	}
	s.value = s.inner.Value()
	return true
}

// Key returns the current row's key within its table.
func (s *Scanner) Key() []byte { return s.key }

// Value returns the current row.
func (s *Scanner) Value() []byte { return s.value }
