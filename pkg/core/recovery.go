package core

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"

	"wundradb/pkg/common"
	"wundradb/pkg/config"
	"wundradb/pkg/storage"
	"wundradb/pkg/storage/bptree"
)

// RecoveryState tracks the startup state machine:
// NoState -> LoadedSnapshot -> Replayed -> Ready.
type RecoveryState int

const (
	StateNoState RecoveryState = iota
	StateLoadedSnapshot
	StateReplayed
	StateReady
)

func (s RecoveryState) String() string {
	switch s {
	case StateNoState:
		return "NoState"
	case StateLoadedSnapshot:
		return "LoadedSnapshot"
	case StateReplayed:
		return "Replayed"
	case StateReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// Recovery rebuilds engine state at startup: load the last snapshot
// if one exists, then replay trailing WAL records in sequence order.
// Corruption during replay stops the replay at the last good record
// without failing startup; a missing or unreadable snapshot falls
// back to a full replay from an empty tree.
type Recovery struct {
	conf  *config.Config
	state RecoveryState

	tree     *bptree.Tree
	tables   map[string]bool
	lastSeq  uint64
	replayed int
}

func NewRecovery(cfg *config.Config) *Recovery {
	return &Recovery{
		conf:   cfg,
		state:  StateNoState,
		tables: make(map[string]bool),
	}
}

func (r *Recovery) State() RecoveryState { return r.state }
func (r *Recovery) Tree() *bptree.Tree   { return r.tree }
func (r *Recovery) LastSeq() uint64      { return r.lastSeq }
func (r *Recovery) Replayed() int        { return r.replayed }
func (r *Recovery) Tables() map[string]bool {
	return r.tables
}

// Run executes the full startup sequence and leaves the coordinator
// in the Ready state.
func (r *Recovery) Run() error {
	if err := r.loadSnapshot(); err != nil {
		return err
	}
	if err := r.replayWAL(); err != nil {
		return err
	}
	r.state = StateReady
	log.Printf("[Recovery] Ready: seq=%d, entries=%d, replayed=%d", r.lastSeq, r.tree.Len(), r.replayed)
	return nil
}

func (r *Recovery) loadSnapshot() error {
	sc := r.conf.Storage
	r.tree = bptree.New(sc.LeafCapacity, sc.BranchCapacity)
	r.lastSeq = 0

	meta, err := storage.LoadMetadata(sc.Path)
	if err != nil {
		log.Printf("[Recovery] Warning: unreadable metadata, starting from WAL only: %v", err)
		r.state = StateLoadedSnapshot
		return nil
	}
	if meta == nil || meta.SnapshotPath == "" {
		log.Println("[Recovery] No snapshot on record, starting fresh")
		r.state = StateLoadedSnapshot
		return nil
	}

	path := meta.SnapshotPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(sc.Path, path)
	}
	tree, seq, err := storage.ReadSnapshot(path, sc.LeafCapacity, sc.BranchCapacity)
	if err != nil {
		// A bad snapshot is not fatal: full replay from sequence 0
		// rebuilds the same state from the log.
		var corrupt *bptree.CorruptPageError
		if errors.As(err, &corrupt) {
			log.Printf("[Recovery] Warning: corrupt snapshot, falling back to full WAL replay: %v", err)
		} else {
			log.Printf("[Recovery] Warning: snapshot unreadable, falling back to full WAL replay: %v", err)
		}
		r.tree = bptree.New(sc.LeafCapacity, sc.BranchCapacity)
		r.lastSeq = 0
		r.state = StateLoadedSnapshot
		return nil
	}

	r.tree = tree
	r.lastSeq = seq
	for _, t := range meta.Tables {
		r.tables[t] = true
	}
	log.Printf("[Recovery] Loaded snapshot at seq=%d (%d entries)", seq, tree.Len())
	r.state = StateLoadedSnapshot
	return nil
}

func (r *Recovery) replayWAL() error {
	walPath := filepath.Join(r.conf.Storage.Path, WALFile)
	reader, err := storage.OpenWALReader(walPath, r.lastSeq+1)
	if err != nil {
		if os.IsNotExist(err) {
			r.state = StateReplayed
			return nil
		}
		return err
	}
	defer reader.Close()

	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, storage.ErrCorruptLog) {
			// Best-effort recovery: everything before the corruption
			// point was durable and is kept.
			log.Printf("[Recovery] Warning: WAL corrupt after seq=%d, replay stopped", r.lastSeq)
			break
		}
		if err != nil {
			return err
		}
		r.apply(&rec)
		r.lastSeq = rec.Seq
		r.replayed++
	}
	r.state = StateReplayed
	return nil
}

func (r *Recovery) apply(rec *common.Record) {
	switch rec.Op {
	case common.OpPut:
		r.tree.Put(rec.Key, rec.Value)
		if table, _, err := common.DecodeTableKey(rec.Key); err == nil {
			r.tables[table] = true
		}
	case common.OpDelete:
		r.tree.Delete(rec.Key)
	default:
		log.Printf("[Recovery] Warning: skipping record seq=%d with unknown op %d", rec.Seq, rec.Op)
	}
}
