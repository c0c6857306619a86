package observability

import (
	"os"
	"sync/atomic"

	"github.com/shirou/gopsutil/process"
)

// Metrics aggregates the gateway counters exposed through the admin
// surface. All counters are atomic; there is no sampling loop, the
// snapshot is computed on demand.
type Metrics struct {
	ConnectionsAccepted uint64
	ConnectionsRejected uint64
	EventsRouted        uint64
	EventsDropped       uint64
	HandlerErrors       uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncrConnectionsAccepted() {
	atomic.AddUint64(&m.ConnectionsAccepted, 1)
}

func (m *Metrics) IncrConnectionsRejected() {
	atomic.AddUint64(&m.ConnectionsRejected, 1)
}

func (m *Metrics) IncrEventsRouted() {
	atomic.AddUint64(&m.EventsRouted, 1)
}

func (m *Metrics) IncrEventsDropped() {
	atomic.AddUint64(&m.EventsDropped, 1)
}

func (m *Metrics) IncrHandlerErrors() {
	atomic.AddUint64(&m.HandlerErrors, 1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	ConnectionsRejected uint64 `json:"connections_rejected"`
	EventsRouted        uint64 `json:"events_routed"`
	EventsDropped       uint64 `json:"events_dropped"`
	HandlerErrors       uint64 `json:"handler_errors"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ConnectionsAccepted: atomic.LoadUint64(&m.ConnectionsAccepted),
		ConnectionsRejected: atomic.LoadUint64(&m.ConnectionsRejected),
		EventsRouted:        atomic.LoadUint64(&m.EventsRouted),
		EventsDropped:       atomic.LoadUint64(&m.EventsDropped),
		HandlerErrors:       atomic.LoadUint64(&m.HandlerErrors),
	}
}

// ProcessStats holds technical metrics (Memory, CPU, and OS status) for
// the gateway process itself.
type ProcessStats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Status     string  `json:"status"`
}

// SelfStats retrieves the current process metrics.
func SelfStats() (ProcessStats, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ProcessStats{}, err
	}

	memInfo, err := p.MemoryInfo()
	if err != nil {
		return ProcessStats{}, err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return ProcessStats{}, err
	}

	status, err := p.Status()
	if err != nil {
		return ProcessStats{}, err
	}

	return ProcessStats{RSSBytes: memInfo.RSS, CPUPercent: cpuPercent, Status: status}, nil
}
