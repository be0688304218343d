// Package metrics is the nil-safe metrics facade consumed by the session
// runtime's core packages. It never imports Prometheus directly — the
// concrete implementation lives in pkg/xcoder/metrics/prometheus and
// registers itself via RegisterConstructor, mirroring the teacher's
// pkg/metrics + pkg/metrics/prometheus indirection (grounded on
// pkg/metrics/cache.go's NewCacheMetrics/RegisterCacheMetricsConstructor
// split).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry enables metrics collection and creates the Prometheus
// registry every exporter in this package registers against. Call once at
// process startup before any session is opened; calling it is optional —
// with it never called, NewSessionMetrics returns nil and every Record*
// call becomes a no-op.
func InitRegistry() *prometheus.Registry {
	registry = prometheus.NewRegistry()
	enabled = true
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool { return enabled }

// GetRegistry returns the active registry, or nil if metrics are disabled.
func GetRegistry() *prometheus.Registry { return registry }
