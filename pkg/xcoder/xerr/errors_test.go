package xerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeString(t *testing.T) {
	assert.Equal(t, "InvalidSession", InvalidSession.String())
	assert.Equal(t, "Recovery", Recovery.String())
	assert.Contains(t, Code(999).String(), "Unknown")
}

func TestNewAndError(t *testing.T) {
	err := New(NvmeCmdFailed, 0x12, "OpCloseSession", "device nacked")
	assert.Equal(t, "xcoder: NvmeCmdFailed (session=0x0012 opcode=OpCloseSession): device nacked", err.Error())

	bare := New(LockDown, 0, "Lock", "")
	assert.Equal(t, "xcoder: LockDown (session=0x0000 opcode=Lock)", bare.Error())
}

func TestWrapChainsCause(t *testing.T) {
	cause := errors.New("transport reset")
	err := Wrap(DeviceOpen, 7, "Open", cause)

	require.Error(t, err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "transport reset")
}

func TestSentinelIsComparable(t *testing.T) {
	err := New(Recovery, 3, "Query", "vpu reset")
	assert.True(t, errors.Is(err, Sentinel(Recovery)))
	assert.False(t, errors.Is(err, Sentinel(LockDown)))
}

func TestClassifyTimestampMismatchTakesPriority(t *testing.T) {
	got := Classify(DeviceSuccess, 0, true)
	assert.Equal(t, ClassResourceUnavailable, got)
}

func TestClassifyDeviceStatusTable(t *testing.T) {
	cases := []struct {
		status DeviceStatus
		want   Classification
	}{
		{DeviceSuccess, ClassContinue},
		{DeviceRequestPending, ClassRetryBackoff},
		{DeviceWriteBufferFull, ClassBufferFull},
		{DeviceResourceInsufficient, ClassResourceUnavailable},
		{DeviceVpuRecovery, ClassVpuRecovery},
		{DeviceGeneralError, ClassFatal},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.status, 0, false), "status=%v", c.status)
	}
}

func TestClassifyConsecutiveFailureEscalatesToFatal(t *testing.T) {
	assert.Equal(t, ClassContinue, Classify(DeviceStatus(99), FatalConsecutiveFailureThreshold-1, false))
	assert.Equal(t, ClassFatal, Classify(DeviceStatus(99), FatalConsecutiveFailureThreshold, false))
}

func TestClassifyConsecutiveFailureEscalatesKnownStatusesToo(t *testing.T) {
	// The threshold must fire for every enumerated non-success status, not
	// just unrecognized ones: a context stuck retrying ResourceInsufficient
	// or VpuRecovery for 25 straight round-trips is fatal on its own.
	cases := []DeviceStatus{DeviceRequestPending, DeviceWriteBufferFull, DeviceResourceInsufficient, DeviceVpuRecovery}
	for _, status := range cases {
		assert.Equal(t, ClassFatal, Classify(status, FatalConsecutiveFailureThreshold, false), "status=%v", status)
	}
}
