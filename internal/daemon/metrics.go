package daemon

import (
	"sync/atomic"
)

// SourceMetrics counts what the tailing daemon is doing. Counters are
// atomics so workers never contend on a lock just to bump a number.
type SourceMetrics struct {
	filesDiscovered     atomic.Int64
	filesProcessed      atomic.Int64
	filesFailed         atomic.Int64
	queuedFiles         atomic.Int64
	workersActive       atomic.Int64
	workersBusy         atomic.Int64
	scaleUpOperations   atomic.Int64
	scaleDownOperations atomic.Int64

	FilesQueueCapacity int
}

// MetricsStamp is a point-in-time snapshot of the counters.
type MetricsStamp struct {
	FilesDiscovered     int
	FilesProcessed      int
	FilesFailed         int
	QueuedFiles         int
	FilesQueueCapacity  int
	WorkersActive       int
	WorkersBusy         int
	ScaleUpOperations   int
	ScaleDownOperations int
}

func (m *SourceMetrics) IncFilesDiscovered() { m.filesDiscovered.Add(1) }
func (m *SourceMetrics) IncFilesProcessed()  { m.filesProcessed.Add(1) }
func (m *SourceMetrics) IncFilesFailed()     { m.filesFailed.Add(1) }

func (m *SourceMetrics) IncAmountQueueFiles() { m.queuedFiles.Add(1) }
func (m *SourceMetrics) DecAmountQueueFiles() { m.queuedFiles.Add(-1) }

func (m *SourceMetrics) IncWorkersActive() { m.workersActive.Add(1) }
func (m *SourceMetrics) DecWorkersActive() { m.workersActive.Add(-1) }

func (m *SourceMetrics) IncWorkersBusy() { m.workersBusy.Add(1) }
func (m *SourceMetrics) DecWorkersBusy() { m.workersBusy.Add(-1) }

func (m *SourceMetrics) IncScaleUpOperations()   { m.scaleUpOperations.Add(1) }
func (m *SourceMetrics) IncScaleDownOperations() { m.scaleDownOperations.Add(1) }

func (m *SourceMetrics) GetMetricsStamp() MetricsStamp {
	return MetricsStamp{
		FilesDiscovered:     int(m.filesDiscovered.Load()),
		FilesProcessed:      int(m.filesProcessed.Load()),
		FilesFailed:         int(m.filesFailed.Load()),
		QueuedFiles:         int(m.queuedFiles.Load()),
		FilesQueueCapacity:  m.FilesQueueCapacity,
		WorkersActive:       int(m.workersActive.Load()),
		WorkersBusy:         int(m.workersBusy.Load()),
		ScaleUpOperations:   int(m.scaleUpOperations.Load()),
		ScaleDownOperations: int(m.scaleDownOperations.Load()),
	}
}

func (m *SourceMetrics) GetQueueUsage() float64 {
	return m.GetMetricsStamp().GetQueueUsage()
}

func (s MetricsStamp) GetQueueUsage() float64 {
	if s.FilesQueueCapacity == 0 {
		return 0
	}
	return float64(s.QueuedFiles) / float64(s.FilesQueueCapacity)
}
