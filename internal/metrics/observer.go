package metrics

import (
	"time"

	"github.com/confra/outreach/internal/crm"
)

// EngineObserver feeds follow-up engine events into Prometheus counters
type EngineObserver struct {
	metrics *Metrics
}

// NewEngineObserver creates an observer backed by m
func NewEngineObserver(m *Metrics) *EngineObserver {
	return &EngineObserver{metrics: m}
}

func (o *EngineObserver) EmailSent(stage crm.Stage) {
	o.metrics.EmailsSentTotal.WithLabelValues(string(stage)).Inc()
}

func (o *EngineObserver) EmailFailed(stage crm.Stage, reason string) {
	o.metrics.EmailsFailedTotal.WithLabelValues(string(stage), reason).Inc()
}

func (o *EngineObserver) JobCompleted(stage crm.Stage, reason string) {
	o.metrics.JobsCompletedTotal.WithLabelValues(string(stage), reason).Inc()
}

func (o *EngineObserver) ScanCompleted(due int, elapsed time.Duration) {
	o.metrics.ScanDueJobs.Set(float64(due))
	o.metrics.ScanDurationSeconds.Observe(elapsed.Seconds())
}

// CampaignObserver feeds campaign runner outcomes into Prometheus counters
type CampaignObserver struct {
	metrics *Metrics
}

// NewCampaignObserver creates an observer backed by m
func NewCampaignObserver(m *Metrics) *CampaignObserver {
	return &CampaignObserver{metrics: m}
}

func (o *CampaignObserver) RecipientSent(campaignID string) {
	o.metrics.CampaignEmailsSentTotal.Inc()
}

func (o *CampaignObserver) RecipientFailed(campaignID string) {
	o.metrics.CampaignEmailsFailedTotal.Inc()
}
