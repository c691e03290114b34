package campaign

import (
	"context"
	"fmt"
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

// Observer receives per-recipient send outcomes
type Observer interface {
	RecipientSent(campaignID string)
	RecipientFailed(campaignID string)
}

type nopObserver struct{}

func (nopObserver) RecipientSent(string)   {}
func (nopObserver) RecipientFailed(string) {}

// Runner drains campaign recipient lists in throttled batches
type Runner struct {
	campaigns Repository
	clients   crm.ClientRepository
	templates crm.TemplateRepository
	selector  AccountSelector
	sender    mailer.Sender
	renderer  *template.Engine
	obs       Observer
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// NewRunner creates a campaign runner
func NewRunner(campaigns Repository, clients crm.ClientRepository, templates crm.TemplateRepository,
	selector AccountSelector, sender mailer.Sender, logger *slog.Logger) *Runner {
	return &Runner{
		campaigns: campaigns,
		clients:   clients,
		templates: templates,
		selector:  selector,
		sender:    sender,
		renderer:  template.NewEngine(),
		obs:       nopObserver{},
		logger:    logger,
		running:   make(map[string]struct{}),
		stopCh:    make(chan struct{}),
	}
}

// SetObserver installs a metrics observer
func (r *Runner) SetObserver(obs Observer) {
	if obs != nil {
		r.obs = obs
	}
}

// Start launches a campaign in the background. It fails fast when the
// campaign is unknown, already running, or its template or account is
// missing.
func (r *Runner) Start(ctx context.Context, id string) error {
	c, err := r.campaigns.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("campaign %s not found", id)
	}
	if c.Status == StatusRunning {
		return fmt.Errorf("campaign %s is already running", id)
	}

	tmpl, err := r.templates.GetTemplate(ctx, c.TemplateID)
	if err != nil {
		return err
	}
	if tmpl == nil {
		return fmt.Errorf("campaign template %s: %w", c.TemplateID, template.ErrNotFound)
	}

	account, err := r.selector.SelectForOrganization(ctx, c.OrganizationID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, busy := r.running[id]; busy {
		r.mu.Unlock()
		return fmt.Errorf("campaign %s is already running", id)
	}
	r.running[id] = struct{}{}
	r.mu.Unlock()

	now := time.Now()
	c.Status = StatusRunning
	c.StartedAt = &now
	if err := r.campaigns.PutCampaign(ctx, c); err != nil {
		r.release(id)
		return err
	}

	// The campaign must outlive the caller's context, so its run is bound
	// to the runner's own lifetime instead. Stop cancels it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(id)
		defer cancel()
		r.run(runCtx, c, tmpl, account)
	}()
	return nil
}

// Wait blocks until all launched campaigns finish
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Stop cancels in-flight campaigns and waits for them to record their
// final state. Interrupted campaigns end up cancelled, not completed.
func (r *Runner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	delete(r.running, id)
	r.mu.Unlock()
}

// run drains the recipient list. One recipient's failure never aborts the
// campaign.
func (r *Runner) run(ctx context.Context, c *Campaign, tmpl *crm.EmailTemplate, account *crm.MailAccount) {
	logger := r.logger.With("campaign_id", c.ID)
	logger.Info("campaign started", "recipients", len(c.Recipients))

	batchSize := c.Settings.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	for start := 0; start < len(c.Recipients); start += batchSize {
		if ctx.Err() != nil {
			r.finish(c, StatusCancelled, logger)
			return
		}

		end := min(start+batchSize, len(c.Recipients))
		for i := start; i < end; i++ {
			r.sendRecipient(ctx, c, &c.Recipients[i], tmpl, account, logger)
		}
		if err := r.campaigns.PutCampaign(ctx, c); err != nil {
			logger.Error("failed to persist campaign progress", "error", err)
		}

		if end < len(c.Recipients) {
			if !sleepCtx(ctx, batchPause(c.Settings, end-start)) {
				r.finish(c, StatusCancelled, logger)
				return
			}
		}
	}

	r.finish(c, StatusCompleted, logger)
}

func (r *Runner) finish(c *Campaign, status Status, logger *slog.Logger) {
	now := time.Now()
	c.Status = status
	c.FinishedAt = &now
	if err := r.campaigns.PutCampaign(context.Background(), c); err != nil {
		logger.Error("failed to persist campaign state", "error", err)
	}
	logger.Info("campaign finished", "status", status, "sent", c.SentCount, "failed", c.FailedCount)
}

// sendRecipient tries one recipient with bounded retries
func (r *Runner) sendRecipient(ctx context.Context, c *Campaign, rcpt *Recipient,
	tmpl *crm.EmailTemplate, account *crm.MailAccount, logger *slog.Logger) {
	if rcpt.Status == RecipientSent {
		return
	}

	scope := template.NewScope(nil, nil)
	if rcpt.ClientID != "" {
		if client, err := r.clients.GetClient(ctx, rcpt.ClientID); err == nil && client != nil {
			scope = template.NewScope(client, nil)
		}
	}
	rendered, err := r.renderer.Render(tmpl, scope)
	if err != nil {
		rcpt.Status = RecipientFailed
		rcpt.Error = err.Error()
		c.FailedCount++
		r.obs.RecipientFailed(c.ID)
		return
	}

	msg := &mailer.Message{
		To:          rcpt.Email,
		Subject:     rendered.Subject,
		HTML:        rendered.HTML,
		Text:        rendered.Text,
		Attachments: rendered.Attachments,
	}

	maxTries := 1 + c.Settings.RetryAttempts
	for try := 1; try <= maxTries; try++ {
		rcpt.Attempts++
		_, err = r.sender.Send(ctx, account, msg)
		if err == nil {
			rcpt.Status = RecipientSent
			rcpt.Error = ""
			c.SentCount++
			r.obs.RecipientSent(c.ID)
			return
		}
		logger.Warn("recipient send failed",
			"recipient", rcpt.Email,
			"attempt", rcpt.Attempts,
			"error", err,
		)
		if try < maxTries {
			if !sleepCtx(ctx, c.Settings.RetryDelay) {
				break
			}
		}
	}

	rcpt.Status = RecipientFailed
	rcpt.Error = err.Error()
	c.FailedCount++
	r.obs.RecipientFailed(c.ID)
}

// batchPause returns the inter-batch delay honoring the emails-per-minute
// throttle rate.
func batchPause(s Settings, sent int) time.Duration {
	if s.ThrottleRate <= 0 || sent <= 0 {
		return 0
	}
	return time.Duration(float64(sent) / float64(s.ThrottleRate) * float64(time.Minute))
}

// sleepCtx sleeps for d unless the context is cancelled first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
