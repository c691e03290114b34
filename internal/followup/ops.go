package followup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/confra/outreach/internal/crm"
	"github.com/confra/outreach/internal/schedule"
)

// CreateParams describes a follow-up job to create
type CreateParams struct {
	ClientID     string
	ConferenceID string
	// TemplateID overrides the conference's per-stage template when set
	TemplateID string
	Stage      crm.Stage
	// ScheduledAt overrides the computed first send time when set
	ScheduledAt *time.Time
}

// CreateJob creates a follow-up job for a client entering a stage. Manual
// follow-up counts seed the attempt counter so automation continues the
// numbering; a client already at the cap completes immediately without a
// send.
func (e *Engine) CreateJob(ctx context.Context, p CreateParams) (*Job, error) {
	if p.ClientID == "" {
		return nil, &ValidationError{Field: "clientId", Reason: "required"}
	}
	if p.ConferenceID == "" {
		return nil, &ValidationError{Field: "conferenceId", Reason: "required"}
	}
	if p.Stage != crm.StageOne && p.Stage != crm.StageTwo {
		return nil, &ValidationError{Field: "stage", Reason: fmt.Sprintf("%q is not an automatable stage", p.Stage)}
	}

	client, err := e.clients.GetClient(ctx, p.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, &NotFoundError{Kind: "client", ID: p.ClientID}
	}

	conf, err := e.conferences.GetConference(ctx, p.ConferenceID)
	if err != nil {
		return nil, err
	}
	if conf == nil {
		return nil, &NotFoundError{Kind: "conference", ID: p.ConferenceID}
	}

	interval, ok := conf.IntervalFor(p.Stage)
	if !ok {
		return nil, &ValidationError{Field: "stage", Reason: fmt.Sprintf("conference has no interval for %s", p.Stage)}
	}
	if err := interval.Validate(); err != nil {
		return nil, &ValidationError{Field: "interval", Reason: err.Error()}
	}
	maxAttempts, ok := conf.MaxAttemptsFor(p.Stage)
	if !ok || maxAttempts <= 0 {
		return nil, &ValidationError{Field: "stage", Reason: fmt.Sprintf("conference has no attempt cap for %s", p.Stage)}
	}

	templateID := p.TemplateID
	if templateID == "" {
		templateID, _ = conf.TemplateFor(p.Stage)
	}
	if templateID == "" {
		return nil, &ValidationError{Field: "templateId", Reason: fmt.Sprintf("conference has no template for %s", p.Stage)}
	}

	now := time.Now()
	job := &Job{
		ID:           uuid.New().String(),
		ClientID:     p.ClientID,
		ConferenceID: p.ConferenceID,
		TemplateID:   templateID,
		Stage:        p.Stage,
		MaxAttempts:  maxAttempts,
		Status:       StatusActive,
		Settings: JobSettings{
			Interval:     interval,
			SkipWeekends: conf.SkipWeekends,
			WorkingHours: conf.WorkingHours,
			Timezone:     conf.Timezone,
		},
		CreatedAt: now,
	}

	manual := client.ManualCount(p.Stage)
	if manual > maxAttempts {
		manual = maxAttempts
	}
	job.CurrentAttempt = manual

	if manual >= maxAttempts {
		// The cap was already reached by human sends: terminal from birth
		job.Status = StatusCompleted
		job.CompletedAt = &now
		job.CompletionReason = "max attempts reached by manual follow-ups"
		if err := e.jobs.CreateJob(ctx, job); err != nil {
			return nil, err
		}
		e.obs.JobCompleted(job.Stage, job.CompletionReason)
		e.autoDecline(ctx, client.ID, p.Stage, e.logger.With("job_id", job.ID))
		e.logger.Info("job created at cap", "job_id", job.ID, "client_id", client.ID, "stage", p.Stage)
		return job, nil
	}

	if p.ScheduledAt != nil {
		job.NextSendAt = *p.ScheduledAt
	} else {
		next, err := schedule.NextSendTime(now, interval, scheduleOptions(job.Settings))
		if err != nil {
			return nil, &ValidationError{Field: "settings", Reason: err.Error()}
		}
		job.NextSendAt = next
	}

	if err := e.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	e.logger.Info("job created",
		"job_id", job.ID,
		"client_id", client.ID,
		"stage", p.Stage,
		"next_send_at", job.NextSendAt,
		"starting_attempt", job.CurrentAttempt,
	)
	return job, nil
}

// Pause suspends a job. Idempotent on already-paused jobs.
func (e *Engine) Pause(ctx context.Context, jobID, reason string) error {
	return e.withJob(jobID, func() error {
		job, err := e.jobs.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return &NotFoundError{Kind: "job", ID: jobID}
		}
		if job.Paused {
			return nil
		}
		job.Paused = true
		job.PauseReason = reason
		if job.Status == StatusActive {
			job.Status = StatusPaused
		}
		if err := e.jobs.UpdateJob(ctx, job); err != nil {
			return err
		}
		e.logger.Info("job paused", "job_id", jobID, "reason", reason)
		return nil
	})
}

// Resume lifts a pause. NextSendAt is not recomputed, so a job paused past
// its due time becomes eligible on the next scan.
func (e *Engine) Resume(ctx context.Context, jobID string) error {
	return e.withJob(jobID, func() error {
		job, err := e.jobs.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return &NotFoundError{Kind: "job", ID: jobID}
		}
		if !job.Paused {
			return nil
		}
		job.Paused = false
		job.PauseReason = ""
		if job.Status == StatusPaused {
			job.Status = StatusActive
		}
		if err := e.jobs.UpdateJob(ctx, job); err != nil {
			return err
		}
		e.logger.Info("job resumed", "job_id", jobID, "next_send_at", job.NextSendAt)
		return nil
	})
}

// Cancel transitions a job to completed with an operator-supplied reason
func (e *Engine) Cancel(ctx context.Context, jobID, reason string) error {
	return e.withJob(jobID, func() error {
		job, err := e.jobs.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return &NotFoundError{Kind: "job", ID: jobID}
		}
		if job.Terminal() {
			return nil
		}
		if reason == "" {
			reason = "cancelled"
		}
		now := time.Now()
		job.Status = StatusCompleted
		job.CompletedAt = &now
		job.CompletionReason = reason
		if err := e.jobs.UpdateJob(ctx, job); err != nil {
			return err
		}
		e.obs.JobCompleted(job.Stage, reason)
		e.logger.Info("job cancelled", "job_id", jobID, "reason", reason)
		return nil
	})
}

// Stats returns job population statistics
func (e *Engine) Stats(ctx context.Context) (*Statistics, error) {
	return e.jobs.JobStats(ctx)
}
