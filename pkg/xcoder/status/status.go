// Package status implements the Status Query & Error Classifier (C4): the
// per-op query for session/instance status and the wrapper that applies
// xerr.Classify to every data-path NVMe round-trip.
package status

import (
	"context"

	"github.com/sportsball-ai/go-xcoder-session/internal/telemetry"
	"github.com/sportsball-ai/go-xcoder-session/internal/transport"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/codec"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/xerr"
)

// Result is the outcome of a classified round-trip.
type Result struct {
	Classification xerr.Classification
	RawStatus      xerr.DeviceStatus
}

// WrapRoundTrip executes fn (a single SubmitRead/SubmitWrite call already
// performed by the caller, passed in as its raw status + error) and applies
// the SPEC_FULL.md §4.4 classification, updating sctx's consecutive-failure
// counter as a side effect. Call sites pass the status/err they already
// obtained rather than a closure, since the transport call shape (Read vs
// Write, response length) varies per opcode.
func WrapRoundTrip(sctx *session.Context, rawStatus int, transportErr error, timestampMismatch bool) Result {
	sctx.Lock()
	defer sctx.Unlock()

	if transportErr != nil {
		sctx.ConsecutiveFailures++
		return Result{Classification: xerr.ClassFatal, RawStatus: xerr.DeviceGeneralError}
	}

	ds := xerr.DeviceStatus(rawStatus)
	// The threshold check counts this round-trip: Classify returns Continue
	// for success and ResourceUnavailable for a mismatch before it looks at
	// the count, so the +1 only affects failing statuses.
	class := xerr.Classify(ds, sctx.ConsecutiveFailures+1, timestampMismatch)

	if class == xerr.ClassContinue {
		sctx.ConsecutiveFailures = 0
	} else {
		sctx.ConsecutiveFailures++
	}

	return Result{Classification: class, RawStatus: ds}
}

// QueryInstanceStatus issues QueryInstanceStatus and returns the decoded
// session_error_no / instance_error_no pair plus the echoed
// session_timestamp, for the caller to compare against sctx.SessionTimestamp.
func QueryInstanceStatus(ctx context.Context, t transport.DeviceTransport, sctx *session.Context) (sessionErrNo, instanceErrNo int32, echoedTimestamp uint64, err error) {
	ctx, span := telemetry.StartSpan(ctx, "xcoder.status.QueryInstanceStatus")
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	sctx.Lock()
	handle := sctx.Handle
	sessionID := sctx.SessionID
	kind := sctx.DeviceKind
	sctx.Unlock()

	lba := codec.EncodeLba(codec.OpQueryInstanceStatus, sessionID, kind.InstanceType(), 0, false)
	resp := make([]byte, 24)
	status, terr := t.SubmitRead(ctx, handle, lba, resp)
	if terr != nil {
		return 0, 0, 0, terr
	}
	if status != 0 {
		return 0, 0, 0, xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpQueryInstanceStatus.String(), "query failed")
	}

	dec := codec.NewDecoder(resp)
	echoedTimestamp, _ = dec.Uint64()
	se, _ := dec.Int32()
	ie, _ := dec.Int32()
	return se, ie, echoedTimestamp, nil
}

// QueryGeneralStatus issues QueryGeneralStatus, used by the CLI/metrics
// layer rather than the hot data path.
func QueryGeneralStatus(ctx context.Context, t transport.DeviceTransport, sctx *session.Context) (modelLoad int32, err error) {
	ctx, span := telemetry.StartSpan(ctx, "xcoder.status.QueryGeneralStatus")
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	sctx.Lock()
	handle := sctx.Handle
	sessionID := sctx.SessionID
	kind := sctx.DeviceKind
	sctx.Unlock()

	lba := codec.EncodeLba(codec.OpQueryGeneralStatus, sessionID, kind.InstanceType(), 0, false)
	resp := make([]byte, 4)
	st, terr := t.SubmitRead(ctx, handle, lba, resp)
	if terr != nil {
		return 0, terr
	}
	if st != 0 {
		return 0, xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpQueryGeneralStatus.String(), "query failed")
	}
	dec := codec.NewDecoder(resp)
	modelLoad, _ = dec.Int32()
	return modelLoad, nil
}
