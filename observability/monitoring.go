package observability

import (
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Stats aggregates the fan-out counters and process health for /debug/stats.
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`

	Admitted         uint64 `json:"admitted"`
	Refused          uint64 `json:"refused"`
	Closed           uint64 `json:"closed"`
	Persisted        uint64 `json:"persisted"`
	Deliveries       uint64 `json:"deliveries"`
	DeliveryFailures uint64 `json:"delivery_failures"`
	ValidationErrors uint64 `json:"validation_errors"`
	StoreErrors      uint64 `json:"store_errors"`

	AllocMemMb uint64  `json:"alloc_mem_mb"`
	NumGC      uint32  `json:"num_gc"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`

	SampledAt time.Time `json:"sampled_at"`
}

// GaugeFunc reports the live rooms and connections.
type GaugeFunc func() (rooms, connections int)

// Monitoring holds the counters. A nil *Monitoring is valid and records nothing.
type Monitoring struct {
	log    *slog.Logger
	gauges GaugeFunc

	admitted         atomic.Uint64
	refused          atomic.Uint64
	closed           atomic.Uint64
	persisted        atomic.Uint64
	deliveries       atomic.Uint64
	deliveryFailures atomic.Uint64
	validationErrors atomic.Uint64
	storeErrors      atomic.Uint64

	mu     sync.RWMutex
	system Stats
	proc   *process.Process
}

func NewMonitoring(log *slog.Logger) *Monitoring {
	m := &Monitoring{log: log}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("process stats unavailable", "error", err)
	} else {
		m.proc = p
	}
	return m
}

// WithGauges plugs the registry counts into snapshots.
func (m *Monitoring) WithGauges(g GaugeFunc) *Monitoring {
	if m == nil {
		return nil
	}
	m.gauges = g
	return m
}

func (m *Monitoring) IncrAdmitted() {
	if m != nil {
		m.admitted.Add(1)
	}
}

func (m *Monitoring) IncrRefused() {
	if m != nil {
		m.refused.Add(1)
	}
}

func (m *Monitoring) IncrClosed() {
	if m != nil {
		m.closed.Add(1)
	}
}

func (m *Monitoring) IncrPersisted() {
	if m != nil {
		m.persisted.Add(1)
	}
}

func (m *Monitoring) AddDeliveries(n int) {
	if m != nil && n > 0 {
		m.deliveries.Add(uint64(n))
	}
}

func (m *Monitoring) IncrDeliveryFailures() {
	if m != nil {
		m.deliveryFailures.Add(1)
	}
}

func (m *Monitoring) IncrValidationErrors() {
	if m != nil {
		m.validationErrors.Add(1)
	}
}

func (m *Monitoring) IncrStoreErrors() {
	if m != nil {
		m.storeErrors.Add(1)
	}
}

// Refresh samples Go runtime memory and process RSS/CPU.
func (m *Monitoring) Refresh() {
	if m == nil {
		return
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.system.AllocMemMb = ms.Alloc / 1024 / 1024
	m.system.NumGC = ms.NumGC
	m.system.SampledAt = time.Now().UTC()

	if m.proc == nil {
		return
	}
	if memInfo, err := m.proc.MemoryInfo(); err == nil {
		m.system.RSSBytes = memInfo.RSS
	}
	if cpu, err := m.proc.CPUPercent(); err == nil {
		m.system.CPUPercent = cpu
	}
}

// Snapshot returns the current counters plus the last sampled system stats.
func (m *Monitoring) Snapshot() Stats {
	if m == nil {
		return Stats{}
	}
	m.mu.RLock()
	stats := m.system
	m.mu.RUnlock()

	if m.gauges != nil {
		stats.Rooms, stats.Connections = m.gauges()
	}
	stats.Admitted = m.admitted.Load()
	stats.Refused = m.refused.Load()
	stats.Closed = m.closed.Load()
	stats.Persisted = m.persisted.Load()
	stats.Deliveries = m.deliveries.Load()
	stats.DeliveryFailures = m.deliveryFailures.Load()
	stats.ValidationErrors = m.validationErrors.Load()
	stats.StoreErrors = m.storeErrors.Load()
	return stats
}
