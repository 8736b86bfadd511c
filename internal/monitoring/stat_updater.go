package monitoring

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/isdelr/bookshelf-be/internal/models"
	"github.com/isdelr/bookshelf-be/internal/services"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	defaultSampleInterval = 15 * time.Second
	highMemoryThreshold   = 90.0
	alertCooldown         = 15 * time.Minute
)

// SystemStats is a point-in-time sample of host and process resources.
type SystemStats struct {
	MemoryTotal       uint64    `json:"memory_total"`
	MemoryUsed        uint64    `json:"memory_used"`
	MemoryUsedPercent float64   `json:"memory_used_percent"`
	ProcessRSS        uint64    `json:"process_rss"`
	ProcessCPUPercent float64   `json:"process_cpu_percent"`
	Goroutines        int       `json:"goroutines"`
	SampledAt         time.Time `json:"sampled_at"`
}

// StatUpdater periodically samples system stats for the health endpoint and
// raises an event when host memory runs high.
type StatUpdater struct {
	eventSvc services.EventServiceProvider
	interval time.Duration
	sample   func(ctx context.Context) (SystemStats, error)
	now      func() time.Time

	mu        sync.RWMutex
	latest    *SystemStats
	lastAlert time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// NewStatUpdater creates a new StatUpdater. eventSvc may be nil.
func NewStatUpdater(eventSvc services.EventServiceProvider) *StatUpdater {
	return &StatUpdater{
		eventSvc: eventSvc,
		interval: defaultSampleInterval,
		sample:   SampleSystemStats,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Run starts the periodic updates. It returns after Stop.
func (su *StatUpdater) Run() {
	log.Info().Dur("interval", su.interval).Msg("Starting background stat updater...")
	ticker := time.NewTicker(su.interval)
	defer ticker.Stop()

	// Run once immediately on start
	su.update()

	for {
		select {
		case <-su.done:
			log.Info().Msg("Stopping background stat updater.")
			return
		case <-ticker.C:
			su.update()
		}
	}
}

// Stop halts the periodic updates.
func (su *StatUpdater) Stop() {
	su.stopOnce.Do(func() { close(su.done) })
}

// Latest returns the most recent sample, if any.
func (su *StatUpdater) Latest() (SystemStats, bool) {
	su.mu.RLock()
	defer su.mu.RUnlock()
	if su.latest == nil {
		return SystemStats{}, false
	}
	return *su.latest, true
}

func (su *StatUpdater) update() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := su.sample(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("StatUpdater: Failed to sample system stats")
		return
	}

	su.mu.Lock()
	su.latest = &stats
	su.mu.Unlock()

	su.checkAndAlertForHighMemory(ctx, stats)
}

func (su *StatUpdater) checkAndAlertForHighMemory(ctx context.Context, stats SystemStats) {
	if su.eventSvc == nil || stats.MemoryUsedPercent <= highMemoryThreshold {
		return
	}

	now := su.now()
	su.mu.Lock()
	if !su.lastAlert.IsZero() && now.Sub(su.lastAlert) < alertCooldown {
		su.mu.Unlock()
		return
	}
	su.lastAlert = now
	su.mu.Unlock()

	msg := fmt.Sprintf("High memory usage (%.1f%%) detected on host.", stats.MemoryUsedPercent)
	if err := su.eventSvc.CreateEvent(ctx, models.EventSystemAlertMemory, services.LevelWarn, msg, nil); err != nil {
		log.Warn().Err(err).Msg("StatUpdater: Failed to record memory alert")
	}
}

// SampleSystemStats reads host memory and this process's usage via gopsutil.
func SampleSystemStats(ctx context.Context) (SystemStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return SystemStats{}, fmt.Errorf("read virtual memory: %w", err)
	}
	stats := SystemStats{
		MemoryTotal:       vm.Total,
		MemoryUsed:        vm.Used,
		MemoryUsedPercent: vm.UsedPercent,
		Goroutines:        runtime.NumGoroutine(),
		SampledAt:         time.Now().UTC(),
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return SystemStats{}, fmt.Errorf("open process: %w", err)
	}
	if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
		stats.ProcessRSS = info.RSS
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		stats.ProcessCPUPercent = cpu
	}
	return stats, nil
}
