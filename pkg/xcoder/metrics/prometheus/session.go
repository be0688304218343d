// Package prometheus is the concrete Prometheus implementation of
// pkg/xcoder/metrics's facade interfaces, grounded on the teacher's
// pkg/metrics/prometheus/cache.go constructor-registration pattern.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/metrics"
)

type sessionMetrics struct {
	opens               *prometheus.CounterVec
	closes              *prometheus.CounterVec
	openFailures        *prometheus.CounterVec
	retryExhausted      *prometheus.CounterVec
	keepAliveHeartbeats *prometheus.CounterVec
	consecutiveFailures *prometheus.GaugeVec
	writeDuration       *prometheus.HistogramVec
	readDuration        *prometheus.HistogramVec
}

func init() {
	metrics.RegisterConstructor(newSessionMetrics)
}

func newSessionMetrics() metrics.SessionMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &sessionMetrics{
		opens: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "xcoder_session_opens_total",
			Help: "Total number of sessions successfully opened, by device type.",
		}, []string{"device_type"}),
		closes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "xcoder_session_closes_total",
			Help: "Total number of sessions closed, by device type.",
		}, []string{"device_type"}),
		openFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "xcoder_session_open_failures_total",
			Help: "Total number of failed session open attempts, by device type.",
		}, []string{"device_type"}),
		retryExhausted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "xcoder_retry_exhausted_total",
			Help: "Total number of bounded retry loops that exhausted their cap, by device type and loop name.",
		}, []string{"device_type", "loop"}),
		keepAliveHeartbeats: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "xcoder_keepalive_heartbeats_total",
			Help: "Total number of keep-alive heartbeat round-trips, by device type.",
		}, []string{"device_type"}),
		consecutiveFailures: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "xcoder_consecutive_failures",
			Help: "Current consecutive-failure count per open session, by device type.",
		}, []string{"device_type"}),
		writeDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xcoder_write_duration_milliseconds",
			Help:    "Duration of Write calls in milliseconds, by device type.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000},
		}, []string{"device_type"}),
		readDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xcoder_read_duration_milliseconds",
			Help:    "Duration of Read calls in milliseconds, by device type.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000},
		}, []string{"device_type"}),
	}
}

func (m *sessionMetrics) RecordOpen(deviceType string)  { m.opens.WithLabelValues(deviceType).Inc() }
func (m *sessionMetrics) RecordClose(deviceType string) { m.closes.WithLabelValues(deviceType).Inc() }
func (m *sessionMetrics) RecordOpenFailure(deviceType string) {
	m.openFailures.WithLabelValues(deviceType).Inc()
}
func (m *sessionMetrics) RecordRetryExhausted(deviceType, loop string) {
	m.retryExhausted.WithLabelValues(deviceType, loop).Inc()
}
func (m *sessionMetrics) RecordKeepAliveHeartbeat(deviceType string) {
	m.keepAliveHeartbeats.WithLabelValues(deviceType).Inc()
}
func (m *sessionMetrics) RecordConsecutiveFailures(deviceType string, n int) {
	m.consecutiveFailures.WithLabelValues(deviceType).Set(float64(n))
}
func (m *sessionMetrics) ObserveWriteDuration(deviceType string, d time.Duration) {
	m.writeDuration.WithLabelValues(deviceType).Observe(float64(d.Microseconds()) / 1000)
}
func (m *sessionMetrics) ObserveReadDuration(deviceType string, d time.Duration) {
	m.readDuration.WithLabelValues(deviceType).Observe(float64(d.Microseconds()) / 1000)
}
