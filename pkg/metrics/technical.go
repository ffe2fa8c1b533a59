package metrics

// TechnicalMetrics aggregates technical-level metrics: HTTP request
// handling and other cross-cutting transport concerns.
//
// This is an aggregator struct that groups existing metrics under the
// technical category.
//
// Example:
//
//	tm := NewTechnicalMetrics("baileys_auth_store")
//	handler = tm.HTTP.Middleware(handler)
type TechnicalMetrics struct {
	namespace string

	// HTTP subsystem - existing metrics from prometheus.go
	HTTP *HTTPMetrics
}

// NewTechnicalMetrics creates a new TechnicalMetrics aggregator.
func NewTechnicalMetrics(namespace string) *TechnicalMetrics {
	return &TechnicalMetrics{
		namespace: namespace,
		HTTP:      NewHTTPMetrics(),
	}
}
