// Package followup implements the per-client drip-campaign scheduler: it
// advances clients through outreach stages, computes next-send times under
// calendar constraints, and owns the follow-up job lifecycle.
package followup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/confra/outreach/internal/crm"
	"github.com/confra/outreach/internal/mailer"
	"github.com/confra/outreach/internal/template"
)

// AccountSelector chooses the outbound account for an organization
type AccountSelector interface {
	SelectForOrganization(ctx context.Context, orgID string) (*crm.MailAccount, error)
}

// Observer receives engine events, typically for metrics
type Observer interface {
	EmailSent(stage crm.Stage)
	EmailFailed(stage crm.Stage, reason string)
	JobCompleted(stage crm.Stage, reason string)
	ScanCompleted(due int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) EmailSent(crm.Stage)              {}
func (nopObserver) EmailFailed(crm.Stage, string)    {}
func (nopObserver) JobCompleted(crm.Stage, string)   {}
func (nopObserver) ScanCompleted(int, time.Duration) {}

// Config contains engine tuning
type Config struct {
	// TickInterval is the period of the due-job scan
	TickInterval time.Duration
	// Concurrency caps parallel in-flight sends
	Concurrency int
	// SendTimeout bounds one send attempt
	SendTimeout time.Duration
	// SendRetries bounds transient send-failure retries per attempt
	SendRetries int
	// RetryBackoff is the base delay before a transient-failure retry,
	// doubled per retry
	RetryBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 2 * time.Minute
	}
	if c.SendRetries < 0 {
		c.SendRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 15 * time.Minute
	}
}

// Engine owns the follow-up job set: it scans for due jobs on a fixed tick,
// dispatches sends, and applies stage transitions. All job mutations go
// through the engine's per-job checkout so overlapping ticks and manual
// pause/resume calls never race.
type Engine struct {
	jobs        Repository
	clients     crm.ClientRepository
	conferences crm.ConferenceRepository
	templates   crm.TemplateRepository
	selector    AccountSelector
	sender      mailer.Sender
	renderer    *template.Engine
	cfg         Config
	obs         Observer
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	sem    chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates the automation engine
func NewEngine(jobs Repository, clients crm.ClientRepository, conferences crm.ConferenceRepository,
	templates crm.TemplateRepository, selector AccountSelector, sender mailer.Sender,
	cfg Config, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		jobs:        jobs,
		clients:     clients,
		conferences: conferences,
		templates:   templates,
		selector:    selector,
		sender:      sender,
		renderer:    template.NewEngine(),
		cfg:         cfg,
		obs:         nopObserver{},
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
		sem:         make(chan struct{}, cfg.Concurrency),
		stopCh:      make(chan struct{}),
	}
}

// SetObserver installs a metrics observer
func (e *Engine) SetObserver(obs Observer) {
	if obs != nil {
		e.obs = obs
	}
}

// Start launches the periodic scan loop
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("starting follow-up engine",
		"tick_interval", e.cfg.TickInterval,
		"concurrency", e.cfg.Concurrency,
	)
	e.wg.Add(1)
	go e.loop(ctx)
}

// Stop stops the scan loop and waits for in-flight processing to finish
func (e *Engine) Stop() {
	e.logger.Info("stopping follow-up engine")
	close(e.stopCh)
	e.wg.Wait()
	e.logger.Info("follow-up engine stopped")
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.Scan(ctx)
		}
	}
}

// Scan processes all currently due jobs. Sends run as independent bounded
// goroutines so a slow send never blocks the next tick; Scan itself returns
// once every due job has been dispatched.
func (e *Engine) Scan(ctx context.Context) {
	started := time.Now()
	due, err := e.jobs.FindDue(ctx, started)
	if err != nil {
		e.logger.Error("failed to query due jobs", "error", err)
		return
	}
	if len(due) > 0 {
		e.logger.Debug("scan found due jobs", "count", len(due))
	}

	for _, job := range due {
		lock := e.lockFor(job.ID)
		if !lock.TryLock() {
			// Already checked out by an overlapping tick or a manual call
			continue
		}

		select {
		case e.sem <- struct{}{}:
		case <-e.stopCh:
			lock.Unlock()
			return
		case <-ctx.Done():
			lock.Unlock()
			return
		}

		e.wg.Add(1)
		go func(id string) {
			defer e.wg.Done()
			defer func() { <-e.sem }()
			defer lock.Unlock()
			e.processJob(ctx, id)
		}(job.ID)
	}

	e.obs.ScanCompleted(len(due), time.Since(started))
}

// lockFor returns the checkout lock for a job, creating it on first use
func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

// dropLock forgets a terminal job's checkout lock. Callers must hold the lock.
func (e *Engine) dropLock(id string) {
	e.mu.Lock()
	delete(e.locks, id)
	e.mu.Unlock()
}

// withJob runs fn holding the job's checkout lock, serializing manual
// operations against in-flight processing
func (e *Engine) withJob(id string, fn func() error) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}
