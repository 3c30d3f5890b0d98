package metrics

import (
	"testing"
)

func TestNewBusinessMetrics(t *testing.T) {
	bm := NewBusinessMetrics("test")

	if bm == nil {
		t.Fatal("NewBusinessMetrics returned nil")
	}

	if bm.namespace != "test" {
		t.Errorf("namespace = %q, want %q", bm.namespace, "test")
	}

	if bm.SchedulerDueTotal == nil {
		t.Error("SchedulerDueTotal not initialized")
	}
	if bm.SchedulerCooldownHits == nil {
		t.Error("SchedulerCooldownHits not initialized")
	}
	if bm.SchedulerBackoffHours == nil {
		t.Error("SchedulerBackoffHours not initialized")
	}
	if bm.ProbeClassificationsTotal == nil {
		t.Error("ProbeClassificationsTotal not initialized")
	}
	if bm.SignificanceScore == nil {
		t.Error("SignificanceScore not initialized")
	}
	if bm.PlannerDecisionsTotal == nil {
		t.Error("PlannerDecisionsTotal not initialized")
	}
	if bm.CrawlJobsTotal == nil {
		t.Error("CrawlJobsTotal not initialized")
	}
	if bm.LLMCallsTotal == nil {
		t.Error("LLMCallsTotal not initialized")
	}
}

func TestBusinessMetrics_AllRecordMethods(t *testing.T) {
	// Use a single instance to avoid duplicate registration
	bm := NewBusinessMetrics("test_business")

	t.Run("RecordSchedulerDue", func(t *testing.T) {
		bm.RecordSchedulerDue("full_check", 3)
		bm.RecordSchedulerDue("lightweight_check", 12)
	})

	t.Run("RecordCooldownHit", func(t *testing.T) {
		bm.RecordCooldownHit("proj-1")
	})

	t.Run("RecordBackoff", func(t *testing.T) {
		for _, hours := range []int{6, 12, 24, 48, 168} {
			bm.RecordBackoff(hours)
		}
	})

	t.Run("RecordProbeClassification", func(t *testing.T) {
		tests := []string{"unchanged", "changed_etag", "changed_last_modified", "needs_sample_check", "first_observation"}
		for _, c := range tests {
			bm.RecordProbeClassification(c, 0.2)
		}
	})

	t.Run("RecordSignificanceScore", func(t *testing.T) {
		for _, score := range []int{0, 20, 40, 75, 100} {
			bm.RecordSignificanceScore(score)
		}
	})

	t.Run("RecordSignificanceBatchDecision", func(t *testing.T) {
		bm.RecordSignificanceBatchDecision(true, "bulk_change")
		bm.RecordSignificanceBatchDecision(true, "cumulative_drift")
		bm.RecordSignificanceBatchDecision(false, "none")
	})

	t.Run("RecordPlannerDecision", func(t *testing.T) {
		tests := []struct{ kind, rule string }{
			{"full_regen", "R1"},
			{"full_regen", "R4"},
			{"selective", "none"},
			{"noop", "none"},
		}
		for _, tt := range tests {
			bm.RecordPlannerDecision(tt.kind, tt.rule)
		}
	})

	t.Run("RecordPlannerSectionsChanged", func(t *testing.T) {
		bm.RecordPlannerSectionsChanged(3)
	})

	t.Run("RecordCrawlJob", func(t *testing.T) {
		bm.RecordCrawlJob("manual", "completed", 45.2)
		bm.RecordCrawlJob("scheduled_check", "failed", 600.1)
	})

	t.Run("RecordArtifactVersion", func(t *testing.T) {
		bm.RecordArtifactVersion("lightweight_change_detected")
	})

	t.Run("RecordLLMCall", func(t *testing.T) {
		bm.RecordLLMCall("curate_full", "success", 2.1)
		bm.RecordLLMCall("filter_relevance", "provider_error", 0.9)
	})
}

func BenchmarkBusinessMetrics_RecordSchedulerDue(b *testing.B) {
	bm := NewBusinessMetrics("bench_business1")
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		bm.RecordSchedulerDue("full_check", 1)
	}
}

func BenchmarkBusinessMetrics_RecordSignificanceScore(b *testing.B) {
	bm := NewBusinessMetrics("bench_business2")
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		bm.RecordSignificanceScore(42)
	}
}

func BenchmarkBusinessMetrics_RecordCrawlJob(b *testing.B) {
	bm := NewBusinessMetrics("bench_business3")
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		bm.RecordCrawlJob("manual", "completed", 12.5)
	}
}
