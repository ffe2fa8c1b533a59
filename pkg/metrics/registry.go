// Package metrics provides centralized metrics management for the
// session-state store.
//
// This package implements a unified taxonomy for Prometheus metrics:
//   - AuthStore metrics: hot/cold tier effectiveness, outbox, circuit breaker
//   - Technical metrics: HTTP
//   - Infrastructure metrics: database, cache, repositories
//
// Metrics follow the naming convention:
// <namespace>_<category>_<subsystem>_<metric_name>_<unit>
// except the HTTP metrics, which are always named
// baileys_auth_store_http_<metric_name>_<unit> whatever the namespace.
//
// Example:
//
//	registry := metrics.DefaultRegistry()
//	registry.AuthStore().RedisHits.Inc()
//	registry.Infra().DB.ConnectionsActive.Set(42)
package metrics

import (
	"sync"
)

// MetricCategory represents the category of a metric.
type MetricCategory string

const (
	// CategoryAuthStore represents auth-store metrics (hot/cold tiers, outbox, circuit breaker)
	CategoryAuthStore MetricCategory = "authstore"

	// CategoryTechnical represents technical metrics (HTTP)
	CategoryTechnical MetricCategory = "technical"

	// CategoryInfra represents infrastructure metrics (database, cache, repositories)
	CategoryInfra MetricCategory = "infra"
)

// MetricsRegistry is the central registry for all Prometheus metrics.
// Provides organized access to metrics by category (AuthStore, Technical, Infra).
//
// This is a simplified registry design (vs. full validation/map approach)
// for better maintainability and performance.
//
// Usage:
//
//	registry := metrics.DefaultRegistry()
//	registry.AuthStore().RedisHits.Inc()
//
// Thread-safe: All Prometheus metrics are thread-safe by design.
// Singleton: Use DefaultRegistry() to get the global instance.
type MetricsRegistry struct {
	namespace string

	// Category managers (lazy-initialized)
	technical *TechnicalMetrics
	infra     *InfraMetrics
	authStore *AuthStoreMetrics

	// Separate sync.Once for each category for true lazy initialization
	technicalOnce sync.Once
	infraOnce     sync.Once
	authStoreOnce sync.Once
}

var (
	// Global singleton registry instance
	defaultRegistry     *MetricsRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the global singleton MetricsRegistry.
// Safe for concurrent use. Initialized once on first call.
//
// Example:
//
//	registry := metrics.DefaultRegistry()
//	registry.Infra().DB.ConnectionsActive.Set(10)
func DefaultRegistry() *MetricsRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewMetricsRegistry("baileys_auth_store")
	})
	return defaultRegistry
}

// NewMetricsRegistry creates a new MetricsRegistry with the specified namespace.
// For most use cases, use DefaultRegistry() instead of calling this directly.
//
// Parameters:
//   - namespace: The Prometheus namespace for all metrics (typically "baileys_auth_store")
//
// Returns:
//   - *MetricsRegistry: A new registry instance
func NewMetricsRegistry(namespace string) *MetricsRegistry {
	if namespace == "" {
		namespace = "baileys_auth_store"
	}

	return &MetricsRegistry{
		namespace: namespace,
	}
}

// Technical returns the Technical metrics manager.
// Lazy-initialized on first access.
//
// Technical metrics include:
//   - HTTP requests (count, duration, size)
//
// Example:
//
//	handler = registry.Technical().HTTP.Middleware(handler)
func (r *MetricsRegistry) Technical() *TechnicalMetrics {
	r.technicalOnce.Do(func() {
		r.technical = NewTechnicalMetrics(r.namespace)
	})
	return r.technical
}

// Infra returns the Infrastructure metrics manager.
// Lazy-initialized on first access.
//
// Infrastructure metrics include:
//   - Database (connections, queries, errors)
//   - Cache (hits, misses, evictions)
//   - Repository (query duration, errors, results)
//
// Example:
//
//	registry.Infra().DB.ConnectionsActive.Set(42)
//	registry.Infra().Repository.QueryDurationSeconds.WithLabelValues("GetTopAlerts", "success").Observe(0.05)
func (r *MetricsRegistry) Infra() *InfraMetrics {
	r.infraOnce.Do(func() {
		r.infra = NewInfraMetrics(r.namespace)
	})
	return r.infra
}

// AuthStore returns the auth-store metrics manager.
// Lazy-initialized on first access.
//
// Example:
//
//	registry.AuthStore().RedisHits.Inc()
//	registry.AuthStore().CircuitBreakerState.Set(1)
func (r *MetricsRegistry) AuthStore() *AuthStoreMetrics {
	r.authStoreOnce.Do(func() {
		r.authStore = NewAuthStoreMetrics(r.namespace)
	})
	return r.authStore
}

// Namespace returns the configured namespace for this registry.
//
// Returns:
//   - string: The Prometheus namespace (e.g., "baileys_auth_store")
func (r *MetricsRegistry) Namespace() string {
	return r.namespace
}

// ValidateMetricName validates a metric name against naming conventions.
// Currently a placeholder for future validation logic.
//
// Naming convention:
// <namespace>_<category>_<subsystem>_<metric_name>_<unit>
//
// Examples:
// ✅ baileys_auth_store_authstore_redis_hits_total
// ✅ baileys_auth_store_technical_http_request_duration_seconds
// ✅ baileys_auth_store_infra_db_connections_active
// ❌ redis_hits (missing namespace)
// ❌ baileys_auth_store_processed (missing category/subsystem)
//
// Parameters:
//   - name: The metric name to validate
//
// Returns:
//   - error: always nil; the name is not checked
//
// TODO: Implement validation logic (regex, taxonomy check)
func (r *MetricsRegistry) ValidateMetricName(name string) error {
	// Placeholder for future validation
	// Could check:
	// 1. Starts with namespace
	// 2. Contains category (authstore/technical/infra)
	// 3. Follows snake_case
	// 4. Has appropriate unit suffix (_total, _seconds, etc.)
	return nil
}
