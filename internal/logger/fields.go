package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// These keys are designed to be device-kind-agnostic, supporting decoder,
// encoder, scaler, ai, and uploader sessions alike.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Device & Operation (device-kind-agnostic)
	// ========================================================================
	KeyDeviceType = "device_type" // Device kind: decoder, encoder, scaler, ai, uploader
	KeyOperation  = "operation"   // Open, Close, Write, Read, Query, KeepAlive, ...
	KeyOpcode     = "opcode"      // Command channel opcode
	KeyLBA        = "lba"         // Packed opcode/session-id/instance-type LBA field
	KeyStatus     = "status"      // Device status/result code
	KeyStatusMsg  = "status_msg"  // Human-readable status message

	// ========================================================================
	// Session Identity
	// ========================================================================
	KeySessionID    = "session_id"    // Device-assigned session identifier
	KeyInstanceID   = "instance_id"   // Instance guid allocated from the device pool
	KeySessionState = "session_state" // Closed, Opening, Ready, Failed, SeqChangeDraining
	KeyCodecFormat  = "codec_format"  // h264, h265, av1, vp9, ...

	// ========================================================================
	// Command Codec / I/O
	// ========================================================================
	KeyCommandSize = "command_size" // Size in bytes of an encoded command
	KeyBufferSize  = "buffer_size"  // Aligned buffer allocation size
	KeyBytesSent   = "bytes_sent"   // Bytes written across the command channel
	KeyBytesRecv   = "bytes_recv"   // Bytes read across the command channel
	KeyAlignment   = "alignment"    // Page alignment applied to a buffer

	// ========================================================================
	// Frame / Packet Accounting
	// ========================================================================
	KeyFrameNum   = "frame_num"   // Frame sequence number
	KeyPktNum     = "pkt_num"     // Packet sequence number
	KeyPTS        = "pts"         // Presentation timestamp
	KeyDTS        = "dts"         // Decode timestamp
	KeyFrameBytes = "frame_bytes" // Frame payload size in bytes

	// ========================================================================
	// HW Frame Surfaces
	// ========================================================================
	KeySurfaceIndex = "surface_index" // Device-owned hwframe arena index
	KeyRecycleIndex = "recycle_index" // Index enqueued for recycling on release
	KeyDmaBufFD     = "dmabuf_fd"     // Exported DMA-buf file descriptor

	// ========================================================================
	// Keep-Alive
	// ========================================================================
	KeyKeepAlivePeriodMs  = "keepalive_period_ms"  // Heartbeat period (timeout/3)
	KeyKeepAliveTimeoutMs = "keepalive_timeout_ms" // Session timeout in milliseconds

	// ========================================================================
	// Error Classification & Retry
	// ========================================================================
	KeyErrorClass    = "error_class"    // recoverable, fatal, vpu_recovery
	KeyErrorCode     = "error_code"     // Numeric device error code
	KeyConsecFailure = "consec_failure" // Consecutive failure counter
	KeyAttempt       = "attempt"        // Retry attempt number
	KeyMaxRetries    = "max_retries"    // Maximum retry attempts

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeySource     = "source"      // Component that emitted the log line
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// ----------------------------------------------------------------------------
// Distributed Tracing
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ----------------------------------------------------------------------------
// Device & Operation
// ----------------------------------------------------------------------------

// DeviceType returns a slog.Attr for device kind (decoder, encoder, scaler, ai, uploader)
func DeviceType(kind string) slog.Attr {
	return slog.String(KeyDeviceType, kind)
}

// Operation returns a slog.Attr for the operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Opcode returns a slog.Attr for the command channel opcode
func Opcode(op uint8) slog.Attr {
	return slog.Any(KeyOpcode, op)
}

// LBA returns a slog.Attr for the packed LBA field (formatted as hex)
func LBA(lba uint64) slog.Attr {
	return slog.String(KeyLBA, fmt.Sprintf("%#x", lba))
}

// Status returns a slog.Attr for device status/result code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// StatusMsg returns a slog.Attr for human-readable status message
func StatusMsg(msg string) slog.Attr {
	return slog.String(KeyStatusMsg, msg)
}

// ----------------------------------------------------------------------------
// Session Identity
// ----------------------------------------------------------------------------

// SessionID returns a slog.Attr for the device-assigned session identifier
func SessionID(id uint16) slog.Attr {
	return slog.Any(KeySessionID, id)
}

// InstanceID returns a slog.Attr for the instance guid
func InstanceID(id string) slog.Attr {
	return slog.String(KeyInstanceID, id)
}

// SessionState returns a slog.Attr for the session lifecycle state
func SessionState(state string) slog.Attr {
	return slog.String(KeySessionState, state)
}

// CodecFormat returns a slog.Attr for the codec format
func CodecFormat(format string) slog.Attr {
	return slog.String(KeyCodecFormat, format)
}

// ----------------------------------------------------------------------------
// Command Codec / I/O
// ----------------------------------------------------------------------------

// CommandSize returns a slog.Attr for an encoded command's size in bytes
func CommandSize(n int) slog.Attr {
	return slog.Int(KeyCommandSize, n)
}

// BufferSize returns a slog.Attr for an aligned buffer allocation size
func BufferSize(n int) slog.Attr {
	return slog.Int(KeyBufferSize, n)
}

// BytesSent returns a slog.Attr for bytes written across the command channel
func BytesSent(n int) slog.Attr {
	return slog.Int(KeyBytesSent, n)
}

// BytesRecv returns a slog.Attr for bytes read across the command channel
func BytesRecv(n int) slog.Attr {
	return slog.Int(KeyBytesRecv, n)
}

// Alignment returns a slog.Attr for page alignment applied to a buffer
func Alignment(n int) slog.Attr {
	return slog.Int(KeyAlignment, n)
}

// ----------------------------------------------------------------------------
// Frame / Packet Accounting
// ----------------------------------------------------------------------------

// FrameNum returns a slog.Attr for a frame sequence number
func FrameNum(n uint64) slog.Attr {
	return slog.Uint64(KeyFrameNum, n)
}

// PktNum returns a slog.Attr for a packet sequence number
func PktNum(n uint64) slog.Attr {
	return slog.Uint64(KeyPktNum, n)
}

// PTS returns a slog.Attr for a presentation timestamp
func PTS(ts int64) slog.Attr {
	return slog.Int64(KeyPTS, ts)
}

// DTS returns a slog.Attr for a decode timestamp
func DTS(ts int64) slog.Attr {
	return slog.Int64(KeyDTS, ts)
}

// FrameBytes returns a slog.Attr for a frame payload size in bytes
func FrameBytes(n int) slog.Attr {
	return slog.Int(KeyFrameBytes, n)
}

// ----------------------------------------------------------------------------
// HW Frame Surfaces
// ----------------------------------------------------------------------------

// SurfaceIndex returns a slog.Attr for the device-owned hwframe arena index
func SurfaceIndex(idx int) slog.Attr {
	return slog.Int(KeySurfaceIndex, idx)
}

// RecycleIndex returns a slog.Attr for an index enqueued for recycling
func RecycleIndex(idx int) slog.Attr {
	return slog.Int(KeyRecycleIndex, idx)
}

// DmaBufFD returns a slog.Attr for an exported DMA-buf file descriptor
func DmaBufFD(fd int) slog.Attr {
	return slog.Int(KeyDmaBufFD, fd)
}

// ----------------------------------------------------------------------------
// Keep-Alive
// ----------------------------------------------------------------------------

// KeepAlivePeriodMs returns a slog.Attr for the heartbeat period
func KeepAlivePeriodMs(ms int64) slog.Attr {
	return slog.Int64(KeyKeepAlivePeriodMs, ms)
}

// KeepAliveTimeoutMs returns a slog.Attr for the session timeout
func KeepAliveTimeoutMs(ms int64) slog.Attr {
	return slog.Int64(KeyKeepAliveTimeoutMs, ms)
}

// ----------------------------------------------------------------------------
// Error Classification & Retry
// ----------------------------------------------------------------------------

// ErrorClass returns a slog.Attr for the classified error kind
func ErrorClass(class string) slog.Attr {
	return slog.String(KeyErrorClass, class)
}

// ErrorCode returns a slog.Attr for a numeric device error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// ConsecFailure returns a slog.Attr for the consecutive failure counter
func ConsecFailure(n int) slog.Attr {
	return slog.Int(KeyConsecFailure, n)
}

// Attempt returns a slog.Attr for the retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for the maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// ----------------------------------------------------------------------------
// Operation Metadata
// ----------------------------------------------------------------------------

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Source returns a slog.Attr for the component that emitted the log line
func Source(src string) slog.Attr {
	return slog.String(KeySource, src)
}
