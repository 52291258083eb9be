package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"wundradb/pkg/common"
)

// Record layout: [CRC32 4B] [Seq 8B] [Op 1B] [KeyLen 4B] [ValLen 4B] [Key NB] [Value NB]
//
// The CRC covers everything after the checksum itself. A record is
// durable before Append returns (in SyncAlways mode), so a record
// that ends mid-stream can only be the incomplete tail of a crashed
// write: readers treat it as "log ends here". A checksum mismatch on
// a complete record is real corruption and surfaces as ErrCorruptLog.

const (
	walHeaderSize = 4 + 8 + 1 + 4 + 4 // 21 bytes

	// maxRecordLen guards length fields read from a damaged log.
	maxRecordLen = 1 << 30
)

// ErrCorruptLog reports a checksum mismatch on a fully present record.
var ErrCorruptLog = errors.New("wal: checksum mismatch")

// SyncMode controls when appended records are forced to disk.
type SyncMode int

const (
	// SyncAlways fsyncs after every append. The only mode that
	// guarantees durability before the append is acknowledged.
	SyncAlways SyncMode = iota
	// SyncBatch flushes to the OS after every append but leaves
	// fsync to the kernel.
	SyncBatch
	// SyncNever leaves records in the user-space buffer until the
	// buffer fills or the log is synced explicitly.
	SyncNever
)

// ParseSyncMode maps the config strings to a SyncMode.
func ParseSyncMode(s string) (SyncMode, error) {
	switch s {
	case "always", "":
		return SyncAlways, nil
	case "batch":
		return SyncBatch, nil
	case "never":
		return SyncNever, nil
	default:
		return SyncAlways, fmt.Errorf("wal: unknown sync mode %q", s)
	}
}

type WAL struct {
	mu       sync.Mutex
	file     *os.File
	buf      *bufio.Writer
	path     string
	lastSeq  uint64
	syncMode SyncMode
}

// OpenWAL opens or creates the log at path and scans it to find the
// last durable sequence number. Any incomplete or corrupt tail is cut
// off so that new appends follow the last good record.
func OpenWAL(path string, mode SyncMode) (*WAL, error) {
	lastSeq, goodEnd, err := scanLog(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if st, err := f.Stat(); err == nil && st.Size() > goodEnd {
		if err := f.Truncate(goodEnd); err != nil {
			f.Close()
			return nil, err
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}

	return &WAL{
		file:     f,
		buf:      bufio.NewWriter(f),
		path:     path,
		lastSeq:  lastSeq,
		syncMode: mode,
	}, nil
}

// scanLog walks the log and returns the last valid sequence number
// and the byte offset just past the last valid record.
func scanLog(path string) (uint64, int64, error) {
	r, err := OpenWALReader(path, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	defer r.Close()

	var lastSeq uint64
	for {
		rec, err := r.Next()
		if err != nil {
			// Both a clean EOF and a corrupt tail end the scan;
			// goodEnd excludes whatever follows.
			break
		}
		lastSeq = rec.Seq
	}
	return lastSeq, r.goodEnd, nil
}

// Append assigns the next sequence number, writes the record, and
// forces it to durable storage per the sync mode before returning.
// On error the record must be considered not written; the caller must
// not apply the mutation.
func (w *WAL) Append(op common.OpType, key common.KeyType, value common.ValueType) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.lastSeq + 1
	header := make([]byte, walHeaderSize)
	binary.LittleEndian.PutUint64(header[4:12], seq)
	header[12] = byte(op)
	binary.LittleEndian.PutUint32(header[13:17], uint32(len(key)))
	binary.LittleEndian.PutUint32(header[17:21], uint32(len(value)))

	checksum := crc32.NewIEEE()
	checksum.Write(header[4:])
	checksum.Write(key)
	checksum.Write(value)
	binary.LittleEndian.PutUint32(header[0:4], checksum.Sum32())

	if _, err := w.buf.Write(header); err != nil {
		return 0, err
	}
	if _, err := w.buf.Write(key); err != nil {
		return 0, err
	}
	if _, err := w.buf.Write(value); err != nil {
		return 0, err
	}

	switch w.syncMode {
	case SyncAlways:
		if err := w.buf.Flush(); err != nil {
			return 0, err
		}
		if err := w.file.Sync(); err != nil {
			return 0, err
		}
	case SyncBatch:
		if err := w.buf.Flush(); err != nil {
			return 0, err
		}
	}

	w.lastSeq = seq
	return seq, nil
}

// Advance raises the sequence counter to seq. Used after recovery so
// that numbering continues from the last applied record even when the
// log was truncated up to a snapshot.
func (w *WAL) Advance(seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq > w.lastSeq {
		w.lastSeq = seq
	}
}

// LastSeq returns the sequence number of the last appended record.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// Sync flushes buffered records and fsyncs the file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Size returns the current log file size.
func (w *WAL) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return 0, err
	}
	st, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// TruncateBefore physically reclaims records with sequence numbers
// below seq by rewriting the log and renaming it into place. The
// caller guarantees that everything below seq is captured by a
// durable snapshot.
func (w *WAL) TruncateBefore(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		return err
	}

	tmpPath := w.path + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	out := bufio.NewWriter(tmp)

	r, err := OpenWALReader(w.path, seq)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.Close()
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		if err := writeRecord(out, &rec); err != nil {
			r.Close()
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
	}
	r.Close()

	if err := out.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Open the replacement before touching the live handle: the
	// descriptor follows the rename, and any failure up to that point
	// leaves the old log open and fully usable.
	f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	w.file.Close()
	w.file = f
	w.buf = bufio.NewWriter(f)
	return nil
}

func writeRecord(out *bufio.Writer, rec *common.Record) error {
	header := make([]byte, walHeaderSize)
	binary.LittleEndian.PutUint64(header[4:12], rec.Seq)
	header[12] = byte(rec.Op)
	binary.LittleEndian.PutUint32(header[13:17], uint32(len(rec.Key)))
	binary.LittleEndian.PutUint32(header[17:21], uint32(len(rec.Value)))

	checksum := crc32.NewIEEE()
	checksum.Write(header[4:])
	checksum.Write(rec.Key)
	checksum.Write(rec.Value)
	binary.LittleEndian.PutUint32(header[0:4], checksum.Sum32())

	if _, err := out.Write(header); err != nil {
		return err
	}
	if _, err := out.Write(rec.Key); err != nil {
		return err
	}
	_, err := out.Write(rec.Value)
	return err
}

// ReadFrom returns a reader over all records with sequence >= seq, in
// order. The WAL's buffered writes are flushed first so the reader
// sees everything appended so far.
func (w *WAL) ReadFrom(seq uint64) (*WALReader, error) {
	w.mu.Lock()
	if err := w.buf.Flush(); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	w.mu.Unlock()
	return OpenWALReader(w.path, seq)
}

// WALReader lazily produces records for replay.
type WALReader struct {
	file    *os.File
	reader  *bufio.Reader
	minSeq  uint64
	offset  int64 // bytes consumed, including partial reads
	goodEnd int64 // offset just past the last valid record
}

// OpenWALReader opens path for replay of records with sequence >= seq.
func OpenWALReader(path string, seq uint64) (*WALReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &WALReader{
		file:   f,
		reader: bufio.NewReader(f),
		minSeq: seq,
	}, nil
}

// Next returns the next record with sequence >= the reader's minimum.
// It returns io.EOF at the end of the log — including an incomplete
// trailing record, which indicates a write cut short by a crash — and
// ErrCorruptLog when a complete record fails its checksum.
func (r *WALReader) Next() (common.Record, error) {
	for {
		rec, err := r.next()
		if err != nil {
			return common.Record{}, err
		}
		if rec.Seq >= r.minSeq {
			return rec, nil
		}
	}
}

func (r *WALReader) next() (common.Record, error) {
	header := make([]byte, walHeaderSize)
	n, err := io.ReadFull(r.reader, header)
	r.offset += int64(n)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return common.Record{}, io.EOF
	}
	if err != nil {
		return common.Record{}, err
	}

	storedCRC := binary.LittleEndian.Uint32(header[0:4])
	seq := binary.LittleEndian.Uint64(header[4:12])
	op := common.OpType(header[12])
	keyLen := binary.LittleEndian.Uint32(header[13:17])
	valLen := binary.LittleEndian.Uint32(header[17:21])

	if keyLen > maxRecordLen || valLen > maxRecordLen {
		return common.Record{}, ErrCorruptLog
	}

	body := make([]byte, int(keyLen)+int(valLen))
	n, err = io.ReadFull(r.reader, body)
	r.offset += int64(n)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// Incomplete tail: the append never finished. Not an error.
		return common.Record{}, io.EOF
	}
	if err != nil {
		return common.Record{}, err
	}

	checksum := crc32.NewIEEE()
	checksum.Write(header[4:])
	checksum.Write(body)
	if checksum.Sum32() != storedCRC {
		return common.Record{}, ErrCorruptLog
	}

	r.goodEnd = r.offset
	return common.Record{
		Seq:   seq,
		Op:    op,
		Key:   body[:keyLen:keyLen],
		Value: body[keyLen:],
	}, nil
}

func (r *WALReader) Close() {
	r.file.Close()
}
