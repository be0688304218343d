package metrics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/metrics"
)

func TestRecordHelpersAreNilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.RecordOpen(nil, "decoder")
		metrics.RecordClose(nil, "decoder")
		metrics.RecordOpenFailure(nil, "decoder")
		metrics.RecordRetryExhausted(nil, "decoder", "write_buf_avail")
		metrics.RecordKeepAliveHeartbeat(nil, "decoder")
		metrics.RecordConsecutiveFailures(nil, "decoder", 3)
		metrics.ObserveWriteDuration(nil, "decoder", time.Millisecond)
		metrics.ObserveReadDuration(nil, "decoder", time.Millisecond)
	})
}

func TestNewSessionMetricsNilWithoutConstructorOrRegistry(t *testing.T) {
	assert.Nil(t, metrics.NewSessionMetrics(), "disabled metrics must never allocate a concrete implementation")
}

type fakeMetrics struct{ opens int }

func (f *fakeMetrics) RecordOpen(string)                         { f.opens++ }
func (f *fakeMetrics) RecordClose(string)                         {}
func (f *fakeMetrics) RecordOpenFailure(string)                   {}
func (f *fakeMetrics) RecordRetryExhausted(string, string)        {}
func (f *fakeMetrics) RecordKeepAliveHeartbeat(string)             {}
func (f *fakeMetrics) RecordConsecutiveFailures(string, int)      {}
func (f *fakeMetrics) ObserveWriteDuration(string, time.Duration) {}
func (f *fakeMetrics) ObserveReadDuration(string, time.Duration)  {}

func TestRegisterConstructorWiresIntoNewSessionMetrics(t *testing.T) {
	metrics.InitRegistry()
	f := &fakeMetrics{}
	metrics.RegisterConstructor(func() metrics.SessionMetrics { return f })

	m := metrics.NewSessionMetrics()
	assert.Same(t, f, m)

	metrics.RecordOpen(m, "decoder")
	assert.Equal(t, 1, f.opens)
}
