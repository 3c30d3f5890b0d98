package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics contains all business-level metrics for Site-Watch.
//
// Business metrics track high-level domain operations:
//   - Scheduler dispatch (how many projects become due, cooldown hits)
//   - Fingerprint probing and significance scoring
//   - Selective-regeneration planner decisions
//   - Crawl job outcomes
//
// All metrics follow the taxonomy:
// sitewatch_business_<subsystem>_<metric_name>_<unit>
type BusinessMetrics struct {
	namespace string

	// Scheduler subsystem
	SchedulerDueTotal      *prometheus.CounterVec // Projects returned by get_due_* per timer
	SchedulerCooldownHits  *prometheus.CounterVec // Rescrape attempts blocked by cooldown
	SchedulerBackoffHours  prometheus.Histogram   // Distribution of resulting backoff intervals (hours)

	// Fingerprint probe subsystem
	ProbeClassificationsTotal     *prometheus.CounterVec   // Per-page HEAD classification outcomes
	ProbeDurationSeconds          *prometheus.HistogramVec // Probe round-trip duration
	SignificanceScore             prometheus.Histogram     // Distribution of per-page significance scores (0-100)
	SignificanceBatchDecisions    *prometheus.CounterVec   // Batch significance verdicts (reason label)

	// Planner subsystem
	PlannerDecisionsTotal  *prometheus.CounterVec // full_regen|selective|noop, plus fired rule
	PlannerSectionsChanged prometheus.Histogram   // Sections touched per selective run

	// Crawl job subsystem
	CrawlJobsTotal            *prometheus.CounterVec   // Crawl jobs by trigger_reason and terminal status
	CrawlJobDurationSeconds   *prometheus.HistogramVec // Crawl job wall-clock duration
	ArtifactVersionsTotal     *prometheus.CounterVec   // Artifact versions written, by trigger_reason

	// LLM subsystem
	LLMCallsTotal           *prometheus.CounterVec // LLM provider calls by operation and outcome
	LLMCallDurationSeconds  *prometheus.HistogramVec
}

// NewBusinessMetrics creates a new BusinessMetrics instance with standard configuration.
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	return &BusinessMetrics{
		namespace: namespace,

		SchedulerDueTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_scheduler",
				Name:      "due_total",
				Help:      "Total number of projects returned by get_due_* dispatch calls",
			},
			[]string{"timer"}, // timer: full_check|lightweight_check
		),

		SchedulerCooldownHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_scheduler",
				Name:      "cooldown_hits_total",
				Help:      "Total number of trigger_rescrape calls rejected by an active cooldown",
			},
			[]string{"project_id"},
		),

		SchedulerBackoffHours: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "business_scheduler",
				Name:      "backoff_hours",
				Help:      "Distribution of check intervals after apply_backoff",
				Buckets:   []float64{6, 12, 24, 48, 96, 168},
			},
		),

		ProbeClassificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_probe",
				Name:      "classifications_total",
				Help:      "Total fingerprint probe classifications by outcome",
			},
			[]string{"classification"}, // unchanged|changed_etag|changed_last_modified|changed_length|needs_sample_check|first_observation|unchanged_with_error
		),

		ProbeDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "business_probe",
				Name:      "duration_seconds",
				Help:      "Duration of a single conditional HEAD probe",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"result"},
		),

		SignificanceScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "business_significance",
				Name:      "score",
				Help:      "Distribution of per-page significance scores (0-100)",
				Buckets:   []float64{5, 10, 20, 30, 40, 50, 70, 90, 100},
			},
		),

		SignificanceBatchDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_significance",
				Name:      "batch_decisions_total",
				Help:      "Total batch significance verdicts by reason",
			},
			[]string{"significant", "reason"}, // reason: bulk_change|cumulative_drift|none
		),

		PlannerDecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_planner",
				Name:      "decisions_total",
				Help:      "Total planner decisions by kind and fired rule",
			},
			[]string{"kind", "rule"}, // kind: full_regen|selective|noop, rule: R1|R2|R3|R4|none
		),

		PlannerSectionsChanged: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "business_planner",
				Name:      "sections_changed",
				Help:      "Number of sections touched per selective regeneration run",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
			},
		),

		CrawlJobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_crawl",
				Name:      "jobs_total",
				Help:      "Total crawl jobs by trigger reason and terminal status",
			},
			[]string{"trigger_reason", "status"},
		),

		CrawlJobDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "business_crawl",
				Name:      "job_duration_seconds",
				Help:      "Wall-clock duration of a full-rescrape crawl job",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 660},
			},
			[]string{"status"},
		),

		ArtifactVersionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_crawl",
				Name:      "artifact_versions_total",
				Help:      "Total artifact versions written, by trigger reason",
			},
			[]string{"trigger_reason"},
		),

		LLMCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_llm",
				Name:      "calls_total",
				Help:      "Total LLM provider calls by operation and outcome",
			},
			[]string{"operation", "outcome"}, // outcome: success|provider_error|breaker_open
		),

		LLMCallDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "business_llm",
				Name:      "call_duration_seconds",
				Help:      "Duration of LLM provider calls",
				Buckets:   []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 20.0},
			},
			[]string{"operation"},
		),
	}
}

// RecordSchedulerDue records projects returned from a get_due_* dispatch.
func (m *BusinessMetrics) RecordSchedulerDue(timer string, count int) {
	m.SchedulerDueTotal.WithLabelValues(timer).Add(float64(count))
}

// RecordCooldownHit records a trigger_rescrape call rejected by cooldown.
func (m *BusinessMetrics) RecordCooldownHit(projectID string) {
	m.SchedulerCooldownHits.WithLabelValues(projectID).Inc()
}

// RecordBackoff records the resulting interval after apply_backoff.
func (m *BusinessMetrics) RecordBackoff(hours int) {
	m.SchedulerBackoffHours.Observe(float64(hours))
}

// RecordProbeClassification records a single fingerprint probe outcome.
func (m *BusinessMetrics) RecordProbeClassification(classification string, duration float64) {
	m.ProbeClassificationsTotal.WithLabelValues(classification).Inc()
	m.ProbeDurationSeconds.WithLabelValues(classification).Observe(duration)
}

// RecordSignificanceScore records a per-page significance score.
func (m *BusinessMetrics) RecordSignificanceScore(score int) {
	m.SignificanceScore.Observe(float64(score))
}

// RecordSignificanceBatchDecision records a batch significance verdict.
func (m *BusinessMetrics) RecordSignificanceBatchDecision(significant bool, reason string) {
	m.SignificanceBatchDecisions.WithLabelValues(boolLabel(significant), reason).Inc()
}

// RecordPlannerDecision records a planner decision kind and the rule that fired it, if any.
func (m *BusinessMetrics) RecordPlannerDecision(kind, rule string) {
	m.PlannerDecisionsTotal.WithLabelValues(kind, rule).Inc()
}

// RecordPlannerSectionsChanged records the number of sections touched by a selective run.
func (m *BusinessMetrics) RecordPlannerSectionsChanged(count int) {
	m.PlannerSectionsChanged.Observe(float64(count))
}

// RecordCrawlJob records a terminal crawl job outcome.
func (m *BusinessMetrics) RecordCrawlJob(triggerReason, status string, duration float64) {
	m.CrawlJobsTotal.WithLabelValues(triggerReason, status).Inc()
	m.CrawlJobDurationSeconds.WithLabelValues(status).Observe(duration)
}

// RecordArtifactVersion records a newly written artifact version.
func (m *BusinessMetrics) RecordArtifactVersion(triggerReason string) {
	m.ArtifactVersionsTotal.WithLabelValues(triggerReason).Inc()
}

// RecordLLMCall records an LLM provider call outcome and duration.
func (m *BusinessMetrics) RecordLLMCall(operation, outcome string, duration float64) {
	m.LLMCallsTotal.WithLabelValues(operation, outcome).Inc()
	m.LLMCallDurationSeconds.WithLabelValues(operation).Observe(duration)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
