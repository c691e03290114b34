package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/confra/outreach/internal/followup"
)

// JobStatsProvider provides job population statistics for gauges
type JobStatsProvider interface {
	JobStats(ctx context.Context) (*followup.Statistics, error)
}

// Collector periodically refreshes job and system gauges
type Collector struct {
	metrics     *Metrics
	jobStats    JobStatsProvider
	storagePath string
	interval    time.Duration
	startTime   time.Time

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewCollector creates a new gauge collector
func NewCollector(m *Metrics, jobStats JobStatsProvider, storagePath string, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		metrics:     m,
		jobStats:    jobStats,
		storagePath: storagePath,
		interval:    interval,
		startTime:   time.Now(),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the collector background loop
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// Refresh updates all gauges once
func (c *Collector) Refresh(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.jobStats == nil {
		return
	}
	stats, err := c.jobStats.JobStats(ctx)
	if err != nil {
		return
	}
	c.metrics.JobsByStatus.WithLabelValues("active").Set(float64(stats.Active))
	c.metrics.JobsByStatus.WithLabelValues("paused").Set(float64(stats.Paused))
	c.metrics.JobsByStatus.WithLabelValues("completed").Set(float64(stats.Completed))
	c.metrics.JobsByStatus.WithLabelValues("failed").Set(float64(stats.Failed))
	for stage, count := range stats.Breakdown {
		c.metrics.JobsByStage.WithLabelValues(string(stage)).Set(float64(count))
	}
}
