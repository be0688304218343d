package metrics

import "time"

// SessionMetrics is the interface the session/decode/encode/keepalive
// packages record against. A nil SessionMetrics is valid everywhere below —
// every package-level Record*/Observe* helper guards against it, giving
// zero overhead when metrics are disabled.
type SessionMetrics interface {
	RecordOpen(deviceType string)
	RecordClose(deviceType string)
	RecordOpenFailure(deviceType string)
	RecordRetryExhausted(deviceType, loop string)
	RecordKeepAliveHeartbeat(deviceType string)
	RecordConsecutiveFailures(deviceType string, n int)
	ObserveWriteDuration(deviceType string, d time.Duration)
	ObserveReadDuration(deviceType string, d time.Duration)
}

// newSessionMetrics is registered by pkg/xcoder/metrics/prometheus at
// package-init time; nil until that package is imported (blank or
// otherwise) by the process's main package.
var newSessionMetrics func() SessionMetrics

// RegisterConstructor is called by pkg/xcoder/metrics/prometheus's init to
// wire its concrete implementation into this nil-safe facade.
func RegisterConstructor(constructor func() SessionMetrics) {
	newSessionMetrics = constructor
}

// NewSessionMetrics returns a Prometheus-backed SessionMetrics, or nil if
// metrics are not enabled or no constructor has been registered.
func NewSessionMetrics() SessionMetrics {
	if !IsEnabled() || newSessionMetrics == nil {
		return nil
	}
	return newSessionMetrics()
}

// RecordOpen records a successful session open.
func RecordOpen(m SessionMetrics, deviceType string) {
	if m != nil {
		m.RecordOpen(deviceType)
	}
}

// RecordClose records a session close.
func RecordClose(m SessionMetrics, deviceType string) {
	if m != nil {
		m.RecordClose(deviceType)
	}
}

// RecordOpenFailure records a failed session open.
func RecordOpenFailure(m SessionMetrics, deviceType string) {
	if m != nil {
		m.RecordOpenFailure(deviceType)
	}
}

// RecordRetryExhausted records a bounded retry loop (named by loop, e.g.
// "write_buf_avail", "read_poll") exhausting its cap without success.
func RecordRetryExhausted(m SessionMetrics, deviceType, loop string) {
	if m != nil {
		m.RecordRetryExhausted(deviceType, loop)
	}
}

// RecordKeepAliveHeartbeat records one keep-alive heartbeat round-trip.
func RecordKeepAliveHeartbeat(m SessionMetrics, deviceType string) {
	if m != nil {
		m.RecordKeepAliveHeartbeat(deviceType)
	}
}

// RecordConsecutiveFailures records the current consecutive-failure count.
func RecordConsecutiveFailures(m SessionMetrics, deviceType string, n int) {
	if m != nil {
		m.RecordConsecutiveFailures(deviceType, n)
	}
}

// ObserveWriteDuration records how long a Write call took.
func ObserveWriteDuration(m SessionMetrics, deviceType string, d time.Duration) {
	if m != nil {
		m.ObserveWriteDuration(deviceType, d)
	}
}

// ObserveReadDuration records how long a Read call took.
func ObserveReadDuration(m SessionMetrics, deviceType string, d time.Duration) {
	if m != nil {
		m.ObserveReadDuration(deviceType, d)
	}
}
