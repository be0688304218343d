package status_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsball-ai/go-xcoder-session/internal/testdevice"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/status"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/xerr"
)

func openedContext(t *testing.T, kind session.DeviceKind) (*testdevice.Device, *session.Context) {
	t.Helper()
	dev := testdevice.NewDevice([]string{kind.String()}, 1)
	sctx := session.New(kind)
	require.NoError(t, session.Open(context.Background(), sctx, session.OpenOptions{Transport: dev, Pool: dev}))
	return dev, sctx
}

func TestQueryInstanceStatusEchoesSessionTimestamp(t *testing.T) {
	dev, sctx := openedContext(t, session.Decoder)

	sctx.Lock()
	wantTimestamp := sctx.SessionTimestamp
	sctx.Unlock()

	_, _, echoed, err := status.QueryInstanceStatus(context.Background(), dev, sctx)
	require.NoError(t, err)
	assert.Equal(t, wantTimestamp, echoed)
}

func TestQueryGeneralStatusSucceeds(t *testing.T) {
	dev, sctx := openedContext(t, session.Decoder)

	load, err := status.QueryGeneralStatus(context.Background(), dev, sctx)
	require.NoError(t, err)
	assert.Equal(t, int32(0), load)
}

func TestWrapRoundTripTransportErrorIsFatal(t *testing.T) {
	sctx := session.New(session.Decoder)

	res := status.WrapRoundTrip(sctx, 0, assertError{}, false)
	assert.Equal(t, xerr.ClassFatal, res.Classification)

	sctx.Lock()
	assert.Equal(t, 1, sctx.ConsecutiveFailures)
	sctx.Unlock()
}

func TestWrapRoundTripSuccessResetsFailureCounter(t *testing.T) {
	sctx := session.New(session.Decoder)
	sctx.Lock()
	sctx.ConsecutiveFailures = 4
	sctx.Unlock()

	res := status.WrapRoundTrip(sctx, int(xerr.DeviceSuccess), nil, false)
	assert.Equal(t, xerr.ClassContinue, res.Classification)

	sctx.Lock()
	assert.Equal(t, 0, sctx.ConsecutiveFailures)
	sctx.Unlock()
}

func TestWrapRoundTripRetryBackoffIncrementsFailureCounter(t *testing.T) {
	sctx := session.New(session.Decoder)
	sctx.Lock()
	sctx.ConsecutiveFailures = 2
	sctx.Unlock()

	res := status.WrapRoundTrip(sctx, int(xerr.DeviceRequestPending), nil, false)
	assert.Equal(t, xerr.ClassRetryBackoff, res.Classification)

	sctx.Lock()
	assert.Equal(t, 3, sctx.ConsecutiveFailures)
	sctx.Unlock()
}

func TestWrapRoundTripSustainedBackoffEscalatesToFatal(t *testing.T) {
	sctx := session.New(session.Decoder)
	sctx.Lock()
	sctx.ConsecutiveFailures = xerr.FatalConsecutiveFailureThreshold - 1
	sctx.Unlock()

	res := status.WrapRoundTrip(sctx, int(xerr.DeviceRequestPending), nil, false)
	assert.Equal(t, xerr.ClassFatal, res.Classification)

	sctx.Lock()
	assert.Equal(t, xerr.FatalConsecutiveFailureThreshold, sctx.ConsecutiveFailures)
	sctx.Unlock()
}

func TestWrapRoundTripTimestampMismatchOverridesStatus(t *testing.T) {
	sctx := session.New(session.Decoder)

	res := status.WrapRoundTrip(sctx, int(xerr.DeviceSuccess), nil, true)
	assert.Equal(t, xerr.ClassResourceUnavailable, res.Classification)
}

type assertError struct{}

func (assertError) Error() string { return "transport failure" }
