package monitor

import (
	"sync/atomic"
)

type WorkloadStats struct {
	ReadCount     uint64
	WriteCount    uint64
	DeleteCount   uint64
	SnapshotCount uint64
}

func NewWorkloadStats() *WorkloadStats {
	return &WorkloadStats{}
}

func (ws *WorkloadStats) RecordRead() {
	atomic.AddUint64(&ws.ReadCount, 1)
}

func (ws *WorkloadStats) RecordWrite() {
	atomic.AddUint64(&ws.WriteCount, 1)
}

func (ws *WorkloadStats) RecordDelete() {
	atomic.AddUint64(&ws.DeleteCount, 1)
}

func (ws *WorkloadStats) RecordSnapshot() {
	atomic.AddUint64(&ws.SnapshotCount, 1)
}

func (ws *WorkloadStats) GetReadWriteRatio() float64 {
	reads := atomic.LoadUint64(&ws.ReadCount)
	writes := atomic.LoadUint64(&ws.WriteCount) + atomic.LoadUint64(&ws.DeleteCount)

	if writes == 0 {
		if reads > 0 {
			return 100.0
		}
		return 0.0
	}
	return float64(reads) / float64(writes)
}

func (ws *WorkloadStats) Snapshots() uint64 {
	return atomic.LoadUint64(&ws.SnapshotCount)
}
