package metrics

// TechnicalMetrics aggregates all technical-level metrics for Site-Watch.
//
// Technical metrics track system internals: HTTP request handling and retry
// behavior of outbound operations (crawler fetches, LLM calls, DB/Redis
// round trips).
type TechnicalMetrics struct {
	namespace string

	// HTTP subsystem
	HTTP *HTTPMetrics

	// Retry subsystem - resilience retry/backoff metrics
	Retry *RetryMetrics
}

// NewTechnicalMetrics creates a new TechnicalMetrics aggregator.
func NewTechnicalMetrics(namespace string) *TechnicalMetrics {
	return &TechnicalMetrics{
		namespace: namespace,
		HTTP:      NewHTTPMetricsWithNamespace(namespace, "technical_http"),
		Retry:     NewRetryMetrics(),
	}
}
