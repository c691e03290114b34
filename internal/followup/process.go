package followup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/confra/outreach/internal/crm"
	"github.com/confra/outreach/internal/mailer"
	"github.com/confra/outreach/internal/schedule"
	"github.com/confra/outreach/internal/template"
)

// processJob runs one processing pass over a checked-out job. Failures are
// recorded on the job and never propagate: one job must not stop the scan.
func (e *Engine) processJob(ctx context.Context, id string) {
	logger := e.logger.With("job_id", id)
	now := time.Now()

	// Reload: the job may have been paused or completed since the scan query
	job, err := e.jobs.GetJob(ctx, id)
	if err != nil {
		logger.Error("failed to load job", "error", err)
		return
	}
	if job == nil || !job.Eligible(now) {
		return
	}
	logger = logger.With("client_id", job.ClientID, "stage", job.Stage)

	client, err := e.clients.GetClient(ctx, job.ClientID)
	if err != nil {
		// Storage error: leave the job for the next tick
		logger.Error("failed to load client", "error", err)
		return
	}
	if client == nil {
		e.failJob(ctx, job, "client not found", &NotFoundError{Kind: "client", ID: job.ClientID}, logger)
		return
	}

	// Skip conditions are normal completions, not errors: no send, no
	// attempt increment.
	if reason, skip := skipReason(client, job.Stage); skip {
		logger.Info("job skipped", "reason", reason)
		e.completeJob(ctx, job, reason, logger)
		return
	}

	conf, err := e.conferences.GetConference(ctx, job.ConferenceID)
	if err != nil {
		logger.Error("failed to load conference", "error", err)
		return
	}
	if conf == nil {
		e.failJob(ctx, job, "conference not found", &NotFoundError{Kind: "conference", ID: job.ConferenceID}, logger)
		return
	}

	tmpl, err := e.templates.GetTemplate(ctx, job.TemplateID)
	if err != nil {
		logger.Error("failed to load template", "error", err)
		return
	}
	if tmpl == nil {
		e.failJob(ctx, job, "template not found",
			fmt.Errorf("template %s: %w", job.TemplateID, template.ErrNotFound), logger)
		return
	}

	scope := template.NewScope(client, conf)
	scope.System["attemptNumber"] = job.CurrentAttempt + 1
	e.checkVariables(tmpl, scope, logger)

	rendered, err := e.renderer.Render(tmpl, scope)
	if err != nil {
		e.failJob(ctx, job, "template render failed", err, logger)
		return
	}

	account, err := e.selector.SelectForOrganization(ctx, conf.OrganizationID)
	if errors.Is(err, mailer.ErrNoAccount) {
		e.failJob(ctx, job, "no account configured", err, logger)
		return
	}
	if err != nil {
		logger.Error("failed to select account", "error", err)
		return
	}

	msg := &mailer.Message{
		To:          client.Email,
		Subject:     threadSubject(client, rendered.Subject),
		HTML:        rendered.HTML,
		Text:        rendered.Text,
		Attachments: rendered.Attachments,
		InReplyTo:   client.ThreadRootMessageID,
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	res, err := e.sender.Send(sendCtx, account, msg)
	cancel()

	if err != nil {
		e.handleSendFailure(ctx, job, err, now, logger)
		return
	}
	e.handleSendSuccess(ctx, job, client, msg, res, now, logger)
}

// skipReason reports whether the client state makes this job obsolete
func skipReason(client *crm.Client, stage crm.Stage) (string, bool) {
	switch {
	case !client.IsActive:
		return "client inactive", true
	case client.IsUnsubscribed:
		return "client unsubscribed", true
	case client.TerminalStatus():
		return fmt.Sprintf("client status %s is terminal", client.Status), true
	case client.AdvancedPast(stage):
		return fmt.Sprintf("client advanced past %s", stage), true
	}
	return "", false
}

// checkVariables logs template variables the scope cannot resolve. Rendering
// still proceeds: unresolved tokens are left verbatim by contract.
func (e *Engine) checkVariables(tmpl *crm.EmailTemplate, scope *template.Scope, logger *slog.Logger) {
	vars := template.ExtractVariables(tmpl.Subject + "\n" + tmpl.BodyHTML + "\n" + tmpl.BodyText)
	var unresolved []string
	for _, v := range vars {
		if _, ok := scope.Resolve(v); !ok {
			unresolved = append(unresolved, v)
		}
	}
	if len(unresolved) > 0 {
		logger.Warn("template variables unresolved", "variables", strings.Join(unresolved, ","))
	}
}

// threadSubject keeps follow-ups in the initial email's thread
func threadSubject(client *crm.Client, subject string) string {
	if client.ThreadRootMessageID == "" || client.InitialEmailSubject == "" {
		return subject
	}
	if strings.HasPrefix(client.InitialEmailSubject, "Re: ") {
		return client.InitialEmailSubject
	}
	return "Re: " + client.InitialEmailSubject
}

func (e *Engine) handleSendSuccess(ctx context.Context, job *Job, client *crm.Client,
	msg *mailer.Message, res *mailer.SendResult, now time.Time, logger *slog.Logger) {
	job.CurrentAttempt++
	job.RetryCount = 0
	job.LastError = ""
	job.LastSentAt = &now

	err := e.clients.UpdateClient(ctx, client.ID, func(c *crm.Client) error {
		c.Engagement.EmailsSent++
		c.Engagement.LastEmailSentAt = &now
		if c.ThreadRootMessageID == "" {
			c.ThreadRootMessageID = res.MessageID
			c.InitialEmailSubject = msg.Subject
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to update client engagement", "error", err)
	}

	e.obs.EmailSent(job.Stage)
	logger.Info("follow-up sent",
		"attempt", job.CurrentAttempt,
		"max_attempts", job.MaxAttempts,
		"message_id", res.MessageID,
	)

	if job.CurrentAttempt >= job.MaxAttempts {
		e.completeJob(ctx, job, "max attempts reached", logger)
		e.autoDecline(ctx, job.ClientID, job.Stage, logger)
		return
	}

	next, err := schedule.NextSendTime(now, job.Settings.Interval, scheduleOptions(job.Settings))
	if err != nil {
		// Settings were validated at creation; a failure here means the
		// snapshot is corrupt
		e.failJob(ctx, job, "reschedule failed", err, logger)
		return
	}
	job.NextSendAt = next
	if err := e.jobs.UpdateJob(ctx, job); err != nil {
		logger.Error("failed to persist job", "error", err)
		return
	}
	logger.Debug("job rescheduled", "next_send_at", next)
}

// handleSendFailure retries transient transport failures a bounded number of
// times through the calendar calculator, then marks the job failed.
func (e *Engine) handleSendFailure(ctx context.Context, job *Job, sendErr error, now time.Time, logger *slog.Logger) {
	job.LastError = sendErr.Error()

	if mailer.IsTemporary(sendErr) && job.RetryCount < e.cfg.SendRetries {
		job.RetryCount++
		backoff := e.cfg.RetryBackoff * time.Duration(1<<(job.RetryCount-1))
		next, err := schedule.NextSendTime(now,
			crm.Interval{Value: int(backoff / time.Minute), Unit: crm.UnitMinutes},
			scheduleOptions(job.Settings))
		if err != nil {
			e.failJob(ctx, job, "send failed", sendErr, logger)
			return
		}
		job.NextSendAt = next
		if err := e.jobs.UpdateJob(ctx, job); err != nil {
			logger.Error("failed to persist job", "error", err)
			return
		}
		logger.Warn("send failed, retry scheduled",
			"error", sendErr,
			"retry", job.RetryCount,
			"next_send_at", next,
		)
		return
	}

	e.failJob(ctx, job, "send failed", sendErr, logger)
}

// completeJob transitions a job to its terminal completed state
func (e *Engine) completeJob(ctx context.Context, job *Job, reason string, logger *slog.Logger) {
	now := time.Now()
	job.Status = StatusCompleted
	job.CompletedAt = &now
	job.CompletionReason = reason
	if err := e.jobs.UpdateJob(ctx, job); err != nil {
		logger.Error("failed to persist job completion", "error", err)
		return
	}
	e.obs.JobCompleted(job.Stage, reason)
	e.dropLock(job.ID)
	logger.Info("job completed", "reason", reason)
}

// failJob transitions a job to its terminal failed state. NextSendAt is left
// untouched: no reschedule happens for fatal conditions.
func (e *Engine) failJob(ctx context.Context, job *Job, reason string, cause error, logger *slog.Logger) {
	now := time.Now()
	job.Status = StatusFailed
	job.CompletedAt = &now
	job.CompletionReason = reason
	if cause != nil {
		job.LastError = cause.Error()
	}
	if err := e.jobs.UpdateJob(ctx, job); err != nil {
		logger.Error("failed to persist job failure", "error", err)
		return
	}
	e.obs.EmailFailed(job.Stage, reason)
	e.dropLock(job.ID)
	logger.Error("job failed", "reason", reason, "error", cause)
}

// autoDecline applies the business rule when a stage's follow-up cap is
// exhausted without the client advancing.
func (e *Engine) autoDecline(ctx context.Context, clientID string, stage crm.Stage, logger *slog.Logger) {
	err := e.clients.UpdateClient(ctx, clientID, func(c *crm.Client) error {
		switch {
		case stage == crm.StageOne && c.Status == crm.StatusLead:
			c.Status = crm.StatusUnresponsive
		case stage == crm.StageTwo && c.Status == crm.StatusAbstractSubmitted:
			c.Status = crm.StatusRegistrationUnresponsive
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to apply auto-decline", "error", err)
		return
	}
	logger.Info("auto-decline evaluated", "stage", stage)
}

// scheduleOptions maps a job's settings snapshot to calculator options
func scheduleOptions(s JobSettings) schedule.Options {
	return schedule.Options{
		SkipWeekends: s.SkipWeekends,
		WorkingHours: s.WorkingHours,
		Timezone:     s.Timezone,
	}
}
