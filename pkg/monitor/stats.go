// Package monitor tracks the live workload: per-verb command counts,
// errors, and the read/write ratio. Counters double as Prometheus series
// through the metrics package's default set.
package monitor

import (
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

type WorkloadStats struct {
	ReadCount  uint64
	WriteCount uint64
	ErrorCount uint64

	commandTotal *metrics.Counter
	errorTotal   *metrics.Counter
}

func NewWorkloadStats() *WorkloadStats {
	return &WorkloadStats{
		commandTotal: metrics.GetOrCreateCounter(`hyperiondb_commands_total`),
		errorTotal:   metrics.GetOrCreateCounter(`hyperiondb_command_errors_total`),
	}
}

// RecordCommand counts one executed verb. isWrite splits the read/write
// ratio; each verb also gets its own Prometheus counter.
func (ws *WorkloadStats) RecordCommand(verb string, isWrite bool) {
	if isWrite {
		atomic.AddUint64(&ws.WriteCount, 1)
	} else {
		atomic.AddUint64(&ws.ReadCount, 1)
	}
	ws.commandTotal.Inc()
	metrics.GetOrCreateCounter(`hyperiondb_commands_total{verb="` + verb + `"}`).Inc()
}

func (ws *WorkloadStats) RecordError() {
	atomic.AddUint64(&ws.ErrorCount, 1)
	ws.errorTotal.Inc()
}

func (ws *WorkloadStats) GetReadWriteRatio() float64 {
	reads := atomic.LoadUint64(&ws.ReadCount)
	writes := atomic.LoadUint64(&ws.WriteCount)

	if writes == 0 {
		if reads > 0 {
			return 100.0
		}
		return 0.0
	}
	return float64(reads) / float64(writes)
}

// Snapshot is the stats payload served over HTTP.
type Snapshot struct {
	Reads          uint64  `json:"reads"`
	Writes         uint64  `json:"writes"`
	Errors         uint64  `json:"errors"`
	ReadWriteRatio float64 `json:"read_write_ratio"`
}

func (ws *WorkloadStats) Snapshot() Snapshot {
	return Snapshot{
		Reads:          atomic.LoadUint64(&ws.ReadCount),
		Writes:         atomic.LoadUint64(&ws.WriteCount),
		Errors:         atomic.LoadUint64(&ws.ErrorCount),
		ReadWriteRatio: ws.GetReadWriteRatio(),
	}
}
