// Package metrics exposes Prometheus instrumentation for the outreach
// engine, the campaign runner, and the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the outreach server
type Metrics struct {
	// Follow-up engine counters
	EmailsSentTotal    *prometheus.CounterVec
	EmailsFailedTotal  *prometheus.CounterVec
	JobsCompletedTotal *prometheus.CounterVec

	// Scan instrumentation
	ScanDurationSeconds prometheus.Histogram
	ScanDueJobs         prometheus.Gauge

	// Job population gauges, refreshed by the collector
	JobsByStatus *prometheus.GaugeVec
	JobsByStage  *prometheus.GaugeVec

	// Campaign counters
	CampaignEmailsSentTotal   prometheus.Counter
	CampaignEmailsFailedTotal prometheus.Counter

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EmailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_emails_sent_total",
				Help: "Total number of follow-up emails sent",
			},
			[]string{"stage"},
		),
		EmailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_emails_failed_total",
				Help: "Total number of follow-up sends that failed permanently",
			},
			[]string{"stage", "reason"},
		),
		JobsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_jobs_completed_total",
				Help: "Total number of follow-up jobs completed",
			},
			[]string{"stage", "reason"},
		),

		ScanDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "outreach_scan_duration_seconds",
				Help:    "Duration of one due-job scan",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		ScanDueJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_scan_due_jobs",
				Help: "Number of due jobs found by the last scan",
			},
		),

		JobsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "outreach_jobs",
				Help: "Number of follow-up jobs by status",
			},
			[]string{"status"},
		),
		JobsByStage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "outreach_jobs_active_by_stage",
				Help: "Number of active follow-up jobs by stage",
			},
			[]string{"stage"},
		),

		CampaignEmailsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_campaign_emails_sent_total",
				Help: "Total number of campaign emails sent",
			},
		),
		CampaignEmailsFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_campaign_emails_failed_total",
				Help: "Total number of campaign emails that failed",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outreach_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.EmailsSentTotal,
		m.EmailsFailedTotal,
		m.JobsCompletedTotal,
		m.ScanDurationSeconds,
		m.ScanDueJobs,
		m.JobsByStatus,
		m.JobsByStage,
		m.CampaignEmailsSentTotal,
		m.CampaignEmailsFailedTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
