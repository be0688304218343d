// Package xerr provides the error codes and error classification table shared
// across every xcoder session-runtime component. It is a leaf package: no
// internal dependencies, importable by codec, buffer, timestamp, session,
// decode, encode, and hwframe without introducing import cycles.
package xerr

import "fmt"

// Code identifies the kind of failure returned by a session-runtime call.
type Code int

const (
	// Success indicates the call completed; callers should not normally see
	// this wrapped in a SessionError, but it's defined for completeness of
	// the classification table.
	Success Code = iota

	// InvalidParam indicates a caller-supplied argument was malformed.
	InvalidParam

	// InvalidSession indicates a data-path call was made against a context
	// with no live device-side session (session_id invalid, Close asserted,
	// or the keep-alive goroutine observed a fatal condition).
	InvalidSession

	// MemAlloc indicates a buffer or pool allocation failed.
	MemAlloc

	// NvmeCmdFailed indicates the transport round-trip itself returned a
	// failure status.
	NvmeCmdFailed

	// DeviceOpen indicates the block-device open/probe step failed.
	DeviceOpen

	// LockDown indicates the device-pool Lock(device_type) call failed.
	LockDown

	// UnlockDown indicates the device-pool Unlock(device_type) call failed.
	UnlockDown

	// Recovery indicates the device returned VpuRecovery: the context is
	// unusable and must be re-opened.
	Recovery

	// ResourceUnavailable indicates resource exhaustion at open, or a
	// session_timestamp mismatch detected on any subsequent query.
	ResourceUnavailable

	// WriteBufferFull indicates back-pressure: the device's write buffer
	// could not accept the payload within the retry budget.
	WriteBufferFull

	// ParamTooBig indicates an out-of-range parameter value, too large.
	ParamTooBig

	// ParamTooSmall indicates an out-of-range parameter value, too small.
	ParamTooSmall

	// ParamOutOfRange indicates a parameter value outside its legal set.
	ParamOutOfRange

	// ParamInvalidName indicates an unrecognized parameter name.
	ParamInvalidName

	// ParamInvalidValue indicates a structurally invalid parameter value.
	ParamInvalidValue
)

// String returns a human-readable name for the error code.
func (c Code) String() string {
	switch c {
	case Success:
		return "Success"
	case InvalidParam:
		return "InvalidParam"
	case InvalidSession:
		return "InvalidSession"
	case MemAlloc:
		return "MemAlloc"
	case NvmeCmdFailed:
		return "NvmeCmdFailed"
	case DeviceOpen:
		return "DeviceOpen"
	case LockDown:
		return "LockDown"
	case UnlockDown:
		return "UnlockDown"
	case Recovery:
		return "Recovery"
	case ResourceUnavailable:
		return "ResourceUnavailable"
	case WriteBufferFull:
		return "WriteBufferFull"
	case ParamTooBig:
		return "ParamTooBig"
	case ParamTooSmall:
		return "ParamTooSmall"
	case ParamOutOfRange:
		return "ParamOutOfRange"
	case ParamInvalidName:
		return "ParamInvalidName"
	case ParamInvalidValue:
		return "ParamInvalidValue"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// SessionError wraps a Code with the session/opcode context it occurred in,
// so callers get both an errors.Is-comparable sentinel and a readable
// message, without string-matching.
type SessionError struct {
	Code      Code
	SessionID uint16
	Opcode    string
	Message   string
	cause     error
}

func (e *SessionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("xcoder: %s (session=%#04x opcode=%s): %s", e.Code, e.SessionID, e.Opcode, e.Message)
	}
	return fmt.Sprintf("xcoder: %s (session=%#04x opcode=%s)", e.Code, e.SessionID, e.Opcode)
}

func (e *SessionError) Unwrap() error { return e.cause }

// Is supports errors.Is(err, xerr.InvalidSession) style comparisons against
// a bare Code by wrapping it in a sentinel SessionError.
func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New constructs a SessionError for the given code.
func New(code Code, sessionID uint16, opcode, message string) *SessionError {
	return &SessionError{Code: code, SessionID: sessionID, Opcode: opcode, Message: message}
}

// Wrap constructs a SessionError that also chains a lower-level cause.
func Wrap(code Code, sessionID uint16, opcode string, cause error) *SessionError {
	return &SessionError{Code: code, SessionID: sessionID, Opcode: opcode, Message: cause.Error(), cause: cause}
}

// Sentinel returns a comparison-only SessionError usable with errors.Is,
// e.g. errors.Is(err, xerr.Sentinel(xerr.Recovery)).
func Sentinel(code Code) *SessionError {
	return &SessionError{Code: code}
}

// Classification is the outcome of applying the device error-classification
// table (SPEC_FULL.md §4.4/§7) to a device-returned instance error.
type Classification int

const (
	// ClassContinue means the round-trip succeeded; no action needed.
	ClassContinue Classification = iota

	// ClassRetryBackoff means the caller should back off 100-200us and
	// retry, up to the operation's retry cap.
	ClassRetryBackoff

	// ClassBufferFull means back-pressure: record the required buffer
	// size and let the caller re-queue.
	ClassBufferFull

	// ClassFatal means the context must be marked Failed.
	ClassFatal

	// ClassVpuRecovery means the context is unusable and must be
	// re-opened, but the keep-alive goroutine should keep running.
	ClassVpuRecovery

	// ClassResourceUnavailable means a session_timestamp mismatch (or
	// open-time resource exhaustion) was observed.
	ClassResourceUnavailable
)

// DeviceStatus is the raw instance-error code reported by the device, as
// distinct from the host-side Code taxonomy above.
type DeviceStatus int

const (
	DeviceSuccess DeviceStatus = iota
	DeviceRequestPending
	DeviceWriteBufferFull
	DeviceResourceInsufficient
	DeviceVpuRecovery
	DeviceGeneralError
)

// FatalConsecutiveFailureThreshold is the consecutive-failure count at which
// a context is classified fatal even absent an explicit GeneralError.
const FatalConsecutiveFailureThreshold = 25

// Classify applies the SPEC_FULL.md §4.4 classification table.
// timestampMismatch takes priority over the raw device status per §4.4's
// final rule. GeneralError or a consecutive-failure count at or above
// FatalConsecutiveFailureThreshold are independently fatal, so the threshold
// is checked ahead of the per-status switch: otherwise no enumerated status
// other than GeneralError could ever escalate, no matter how many times it
// recurs.
func Classify(status DeviceStatus, consecutiveFailures int, timestampMismatch bool) Classification {
	if timestampMismatch {
		return ClassResourceUnavailable
	}
	if status == DeviceSuccess {
		return ClassContinue
	}
	if status == DeviceGeneralError || consecutiveFailures >= FatalConsecutiveFailureThreshold {
		return ClassFatal
	}
	switch status {
	case DeviceRequestPending:
		return ClassRetryBackoff
	case DeviceWriteBufferFull:
		return ClassBufferFull
	case DeviceResourceInsufficient:
		return ClassResourceUnavailable
	case DeviceVpuRecovery:
		return ClassVpuRecovery
	}
	return ClassContinue
}
