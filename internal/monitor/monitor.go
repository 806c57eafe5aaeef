package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/yourusername/craft-server-supervisor/internal/config"
	"github.com/yourusername/craft-server-supervisor/internal/database"
	"github.com/yourusername/craft-server-supervisor/internal/events"
	"github.com/yourusername/craft-server-supervisor/internal/logging"
)

// Sample is one CPU/memory observation of the tracked process
type Sample struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sampler reads resource usage for a PID. The process-backed
// implementation is the default; tests substitute a fake.
type Sampler interface {
	// Sample returns usage for the pid, or ok=false when the process
	// no longer exists
	Sample(pid int) (Sample, bool, error)
}

type gopsutilSampler struct {
	mu    sync.Mutex
	procs map[int]*process.Process
}

func newGopsutilSampler() *gopsutilSampler {
	return &gopsutilSampler{procs: make(map[int]*process.Process)}
}

// Sample reuses the process handle across calls so CPUPercent measures
// usage since the previous sample rather than since process start
func (g *gopsutilSampler) Sample(pid int) (Sample, bool, error) {
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return Sample{}, false, err
	}
	if !exists {
		g.mu.Lock()
		delete(g.procs, pid)
		g.mu.Unlock()
		return Sample{}, false, nil
	}

	g.mu.Lock()
	proc, cached := g.procs[pid]
	if !cached {
		proc, err = process.NewProcess(int32(pid))
		if err != nil {
			g.mu.Unlock()
			return Sample{}, false, nil
		}
		g.procs[pid] = proc
	}
	g.mu.Unlock()

	cpu, err := proc.CPUPercent()
	if err != nil {
		return Sample{}, false, nil
	}

	mem, err := proc.MemoryInfo()
	if err != nil {
		return Sample{}, false, nil
	}

	return Sample{
		PID:        pid,
		CPUPercent: cpu,
		MemoryRSS:  mem.RSS,
		Timestamp:  time.Now(),
	}, true, nil
}

// VanishFunc is called when the tracked process disappears between
// samples without the monitor having been told to untrack it
type VanishFunc func(pid int)

// Monitor samples the supervised process on a fixed interval, publishes
// each sample, persists it, and raises the vanish callback when the PID
// is gone.
type Monitor struct {
	cfg       config.MonitorConfig
	sampler   Sampler
	db        *database.DB
	bus       *events.Bus
	onVanish  VanishFunc
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration

	mu          sync.Mutex
	pid         int
	latest      *Sample
	cpuAlerting bool
	memAlerting bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a monitor using the OS-backed sampler
func New(cfg config.MonitorConfig, db *database.DB, bus *events.Bus, onVanish VanishFunc) *Monitor {
	return newWithSampler(cfg, db, bus, onVanish, newGopsutilSampler())
}

func newWithSampler(cfg config.MonitorConfig, db *database.DB, bus *events.Bus, onVanish VanishFunc, sampler Sampler) *Monitor {
	interval := time.Duration(cfg.Interval) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 48 * time.Hour
	}

	return &Monitor{
		cfg:       cfg,
		sampler:   sampler,
		db:        db,
		bus:       bus,
		onVanish:  onVanish,
		logger:    logging.Component("monitor"),
		interval:  interval,
		retention: retention,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the sampling loop. No samples are taken until a PID is
// tracked.
func (m *Monitor) Start() {
	go m.run()
}

// Stop terminates the sampling loop and waits for it to finish
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Track begins sampling the given PID
func (m *Monitor) Track(pid int) {
	m.mu.Lock()
	m.pid = pid
	m.latest = nil
	m.cpuAlerting = false
	m.memAlerting = false
	m.mu.Unlock()
}

// Untrack stops sampling and clears the latest sample
func (m *Monitor) Untrack() {
	m.mu.Lock()
	m.pid = 0
	m.latest = nil
	m.cpuAlerting = false
	m.memAlerting = false
	m.mu.Unlock()
}

// Latest returns the most recent sample, or nil when nothing is tracked
func (m *Monitor) Latest() *Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return nil
	}
	s := *m.latest
	return &s
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	pruneTicker := time.NewTicker(time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-pruneTicker.C:
			m.prune()
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

func (m *Monitor) sampleOnce() {
	m.mu.Lock()
	pid := m.pid
	m.mu.Unlock()
	if pid == 0 {
		return
	}

	sample, ok, err := m.sampler.Sample(pid)
	if err != nil {
		m.logger.Warn("failed to sample process", "pid", pid, "error", err)
		return
	}
	if !ok {
		// Process is gone; report it once and stop tracking
		m.mu.Lock()
		stillTracked := m.pid == pid
		m.pid = 0
		m.latest = nil
		m.mu.Unlock()

		if stillTracked {
			m.logger.Warn("tracked process vanished", "pid", pid)
			if m.onVanish != nil {
				m.onVanish(pid)
			}
		}
		return
	}

	m.mu.Lock()
	m.latest = &sample
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.TypeMetricsUpdated, events.MetricsPayload{
			CPUPercent: sample.CPUPercent,
			MemoryRSS:  sample.MemoryRSS,
			PID:        sample.PID,
		})
	}

	if m.db != nil {
		if err := m.db.RecordResourceSample(sample.PID, sample.CPUPercent, sample.MemoryRSS); err != nil {
			m.logger.Warn("failed to persist resource sample", "error", err)
		}
	}

	m.checkAlerts(sample)
}

// checkAlerts publishes an alert when a sample crosses a configured
// threshold. An alert fires once per excursion and re-arms when the
// reading falls back under the threshold.
func (m *Monitor) checkAlerts(sample Sample) {
	if m.bus == nil {
		return
	}

	if threshold := m.cfg.CPUAlertPercent; threshold > 0 {
		over := sample.CPUPercent >= threshold
		m.mu.Lock()
		fire := over && !m.cpuAlerting
		m.cpuAlerting = over
		m.mu.Unlock()

		if fire {
			m.logger.Warn("cpu usage above threshold",
				"pid", sample.PID,
				"cpu_percent", sample.CPUPercent,
				"threshold", threshold,
			)
			m.bus.Publish(events.TypeResourceAlert, events.ResourceAlertPayload{
				Metric:    "cpu",
				Value:     sample.CPUPercent,
				Threshold: threshold,
				PID:       sample.PID,
			})
		}
	}

	if thresholdMB := m.cfg.MemoryAlertMB; thresholdMB > 0 {
		thresholdBytes := uint64(thresholdMB) * 1024 * 1024
		over := sample.MemoryRSS >= thresholdBytes
		m.mu.Lock()
		fire := over && !m.memAlerting
		m.memAlerting = over
		m.mu.Unlock()

		if fire {
			m.logger.Warn("memory usage above threshold",
				"pid", sample.PID,
				"memory_rss", sample.MemoryRSS,
				"threshold_mb", thresholdMB,
			)
			m.bus.Publish(events.TypeResourceAlert, events.ResourceAlertPayload{
				Metric:    "memory",
				Value:     float64(sample.MemoryRSS),
				Threshold: float64(thresholdBytes),
				PID:       sample.PID,
			})
		}
	}
}

func (m *Monitor) prune() {
	if m.db == nil {
		return
	}
	pruned, err := m.db.PruneResourceSamples(time.Now().Add(-m.retention))
	if err != nil {
		m.logger.Warn("failed to prune resource samples", "error", err)
		return
	}
	if pruned > 0 {
		m.logger.Debug("pruned resource samples", "count", pruned)
	}
}
