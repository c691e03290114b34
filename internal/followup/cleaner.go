package followup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CleanerConfig contains retention settings for terminal jobs
type CleanerConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

func (c *CleanerConfig) applyDefaults() {
	if c.MaxAge == 0 {
		c.MaxAge = 30 * 24 * time.Hour
	}
	if c.Interval == 0 {
		c.Interval = time.Hour
	}
}

// Cleaner periodically purges completed and failed jobs past retention
type Cleaner struct {
	jobs   Repository
	cfg    CleanerConfig
	logger *slog.Logger
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewCleaner creates a new cleaner service
func NewCleaner(jobs Repository, cfg CleanerConfig, logger *slog.Logger) *Cleaner {
	cfg.applyDefaults()
	return &Cleaner{
		jobs:   jobs,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start starts the cleanup goroutine
func (c *Cleaner) Start(ctx context.Context) {
	if c.cfg.MaxAge <= 0 {
		c.logger.Info("cleaner disabled")
		return
	}

	c.wg.Add(1)
	go c.loop(ctx)

	c.logger.Info("cleaner started",
		"max_age", c.cfg.MaxAge,
		"interval", c.cfg.Interval,
	)
}

// Stop stops the cleaner and waits for the goroutine to finish
func (c *Cleaner) Stop() {
	close(c.done)
	c.wg.Wait()
	c.logger.Info("cleaner stopped")
}

func (c *Cleaner) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on start
	c.run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.run(ctx)
		}
	}
}

func (c *Cleaner) run(ctx context.Context) {
	deleted, err := c.jobs.CleanupTerminal(ctx, c.cfg.MaxAge)
	if err != nil {
		c.logger.Error("failed to cleanup terminal jobs", "error", err)
		return
	}

	if deleted > 0 {
		c.logger.Info("cleaned up terminal jobs", "deleted", deleted)
	}
}
