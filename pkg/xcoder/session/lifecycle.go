package session

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sportsball-ai/go-xcoder-session/internal/logger"
	"github.com/sportsball-ai/go-xcoder-session/internal/telemetry"
	"github.com/sportsball-ai/go-xcoder-session/internal/transport"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/buffer"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/codec"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/metrics"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/timestamp"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/xerr"
)

// OpenConfig carries the per-type open-configuration blob fields of
// SPEC_FULL.md §4.6 step 3.
type OpenConfig struct {
	CodecFormat     CodecFormat
	ModelLoad       int
	LowDelayMode    bool
	HwDescriptorMode bool
	Priority        int

	// Encoder-only.
	Width, Height int
	SyncQuery     bool
}

// KeepAliveRunner starts the keep-alive goroutine described in
// SPEC_FULL.md §4.5 and returns a channel closed when it exits. It is
// supplied by pkg/xcoder/keepalive to avoid an import cycle (keepalive
// depends on session for the Context/KeepAliveArgs types).
type KeepAliveRunner func(args *KeepAliveArgs, transport transport.DeviceTransport) (done chan struct{})

// OpenOptions bundles the collaborators Open needs, matching the "external
// collaborators with named interfaces only" boundary of SPEC_FULL.md §1.
type OpenOptions struct {
	Transport  transport.DeviceTransport
	Pool       transport.Pool
	Hint       transport.InstanceHint
	Config     OpenConfig
	StartKeepAlive KeepAliveRunner
}

// Open implements the Session Lifecycle (C6) open sequence.
func Open(ctx context.Context, sctx *Context, opts OpenOptions) error {
	ctx, span := telemetry.StartSpan(ctx, "xcoder.session.Open")
	defer span.End()

	sctx.mu.Lock()
	sctx.State = StateOpening
	sctx.mu.Unlock()

	kindStr := sctx.DeviceKind.String()
	span.SetAttributes(attribute.String("xcoder.device_type", kindStr))

	if err := opts.Pool.Lock(ctx, kindStr); err != nil {
		sctx.mu.Lock()
		sctx.State = StateClosed
		sctx.mu.Unlock()
		metrics.RecordOpenFailure(sctx.Metrics, kindStr)
		telemetry.RecordError(ctx, err)
		return xerr.Wrap(xerr.LockDown, InvalidSessionID, "Lock", err)
	}
	defer func() {
		_ = opts.Pool.Unlock(ctx, kindStr)
	}()

	picked, err := opts.Pool.PickInstance(ctx, kindStr, opts.Hint)
	if err != nil {
		sctx.mu.Lock()
		sctx.State = StateClosed
		sctx.mu.Unlock()
		metrics.RecordOpenFailure(sctx.Metrics, kindStr)
		return xerr.Wrap(xerr.DeviceOpen, InvalidSessionID, "PickInstance", err)
	}

	lba := codec.EncodeLba(codec.OpOpenGetSid, 0, sctx.DeviceKind.InstanceType(), 0, false)
	respBuf := buffer.Alloc(buffer.MemPageAlignment)
	defer buffer.Free(respBuf)

	status, err := opts.Transport.SubmitRead(ctx, picked.Handle, lba, respBuf.Bytes())
	if err != nil || status != 0 {
		sctx.mu.Lock()
		sctx.State = StateClosed
		sctx.mu.Unlock()
		return xerr.New(xerr.NvmeCmdFailed, InvalidSessionID, codec.OpOpenGetSid.String(), "allocate session failed")
	}

	dec := codec.NewDecoder(respBuf.Bytes())
	sessionID, err := dec.Uint16()
	if err != nil || sessionID == InvalidSessionID {
		sctx.mu.Lock()
		sctx.State = StateClosed
		sctx.mu.Unlock()
		return xerr.New(xerr.ResourceUnavailable, InvalidSessionID, codec.OpOpenGetSid.String(), "device returned invalid session id")
	}
	sessionTimestamp, err := dec.Uint64()
	if err != nil {
		sctx.mu.Lock()
		sctx.State = StateClosed
		sctx.mu.Unlock()
		return xerr.Wrap(xerr.NvmeCmdFailed, sessionID, codec.OpOpenGetSid.String(), err)
	}

	if err := sendOpenConfigBlob(ctx, opts.Transport, picked.Handle, sessionID, sctx.DeviceKind, opts.Config); err != nil {
		return err
	}

	if err := sendKeepAliveTimeout(ctx, opts.Transport, picked.Handle, sessionID, sctx.KeepAliveTimeout); err != nil {
		return err
	}

	if sctx.DeviceKind == Encoder {
		if err := encoderOpenHook(ctx, opts.Transport, picked.Handle, sessionID); err != nil {
			return err
		}
	}

	scratch := buffer.Alloc(buffer.MemPageAlignment)
	for i := range scratch.Bytes() {
		scratch.Bytes()[i] = 0
	}

	args := &KeepAliveArgs{
		SessionID:        sessionID,
		SessionTimestamp: sessionTimestamp,
		DeviceKind:       sctx.DeviceKind,
		Handle:           picked.Handle,
		Scratch:          scratch,
		Timeout:          sctx.KeepAliveTimeout,
		Metrics:          sctx.Metrics,
	}

	sctx.mu.Lock()
	sctx.Handle = picked.Handle
	sctx.InstanceID = picked.GUID
	sctx.SessionID = sessionID
	sctx.SessionTimestamp = sessionTimestamp
	sctx.CodecFormat = opts.Config.CodecFormat
	sctx.State = StateReady
	sctx.keepAliveArgs = args
	if opts.StartKeepAlive != nil {
		sctx.keepAliveDone = opts.StartKeepAlive(args, opts.Transport)
	}
	if sctx.Timestamps == nil {
		sctx.Timestamps = timestamp.NewStore(256)
	}
	sctx.mu.Unlock()

	metrics.RecordOpen(sctx.Metrics, kindStr)
	span.SetAttributes(attribute.Int("xcoder.session_id", int(sessionID)))
	return nil
}

func sendOpenConfigBlob(ctx context.Context, t transport.DeviceTransport, handle transport.Handle, sessionID uint16, kind DeviceKind, cfg OpenConfig) error {
	enc := codec.NewEncoder()
	_ = enc.PutUint32(uint32(cfg.CodecFormat))
	_ = enc.PutInt32(int32(cfg.ModelLoad))
	_ = enc.PutBool(cfg.LowDelayMode)
	_ = enc.PutBool(cfg.HwDescriptorMode)
	_ = enc.PutInt32(int32(cfg.Priority))
	if kind == Encoder {
		_ = enc.PutInt32(int32(cfg.Width))
		_ = enc.PutInt32(int32(cfg.Height))
		_ = enc.PutBool(cfg.SyncQuery)
	}
	lba := codec.EncodeLba(codec.OpOpenSession, sessionID, kind.InstanceType(), 0, false)
	status, err := t.SubmitWrite(ctx, handle, lba, enc.Bytes())
	if err != nil || status != 0 {
		return xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpOpenSession.String(), "write open-config blob failed")
	}
	return nil
}

func sendKeepAliveTimeout(ctx context.Context, t transport.DeviceTransport, handle transport.Handle, sessionID uint16, timeout time.Duration) error {
	enc := codec.NewEncoder()
	_ = enc.PutUint64(uint64(timeout.Microseconds()))
	lba := codec.EncodeLba(codec.OpConfigSessionKeepAliveTimeout, sessionID, codec.InstanceDecoder, 0, false)
	status, err := t.SubmitWrite(ctx, handle, lba, enc.Bytes())
	if err != nil || status != 0 {
		return xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpConfigSessionKeepAliveTimeout.String(), "write keep-alive timeout failed")
	}
	return nil
}

// encoderOpenHookMaxTries is the 3000-try post-config spin budget of
// SPEC_FULL.md §4.6 step 5.
const encoderOpenHookMaxTries = 3000

func encoderOpenHook(ctx context.Context, t transport.DeviceTransport, handle transport.Handle, sessionID uint16) error {
	lba := codec.EncodeLba(codec.OpQueryInstanceBufInfo, sessionID, codec.InstanceEncoder, 0, false)
	respBuf := buffer.Alloc(buffer.MemPageAlignment)
	defer buffer.Free(respBuf)

	for i := 0; i < encoderOpenHookMaxTries; i++ {
		status, err := t.SubmitRead(ctx, handle, lba, respBuf.Bytes())
		if err != nil {
			return xerr.Wrap(xerr.NvmeCmdFailed, sessionID, codec.OpQueryInstanceBufInfo.String(), err)
		}
		if status == 0 {
			dec := codec.NewDecoder(respBuf.Bytes())
			avail, err := dec.Uint32()
			if err == nil && avail > 0 {
				return nil
			}
		}
		time.Sleep(time.Millisecond)
	}
	return xerr.New(xerr.ResourceUnavailable, sessionID, codec.OpQueryInstanceBufInfo.String(), "wr_buf_avail_size never became positive")
}

// CloseMaxRetries and CloseRetryInterval implement the bounded close-retry
// budget of SPEC_FULL.md §4.6.
const (
	CloseMaxRetries    = 10
	CloseRetryInterval = 500 * time.Millisecond
)

// Close implements the Session Lifecycle (C6) close sequence.
func Close(ctx context.Context, sctx *Context, t transport.DeviceTransport, pool transport.Pool) error {
	ctx, span := telemetry.StartSpan(ctx, "xcoder.session.Close")
	defer span.End()

	sctx.mu.Lock()
	sctx.SetBit(BitClose)
	args := sctx.keepAliveArgs
	sessionID := sctx.SessionID
	handle := sctx.Handle
	kind := sctx.DeviceKind
	sctx.mu.Unlock()

	if args != nil {
		args.SetCloseThread(true)
	}
	if sctx.keepAliveDone != nil {
		<-sctx.keepAliveDone
	}

	if sessionID != InvalidSessionID {
		lba := codec.EncodeLba(codec.OpCloseSession, sessionID, kind.InstanceType(), 0, false)
		respBuf := buffer.Alloc(buffer.MemPageAlignment)
		defer buffer.Free(respBuf)

		acked := false
		for i := 0; i < CloseMaxRetries; i++ {
			status, err := t.SubmitRead(ctx, handle, lba, respBuf.Bytes())
			if err == nil && status == 0 {
				dec := codec.NewDecoder(respBuf.Bytes())
				if closed, derr := dec.Bool(); derr == nil && closed {
					acked = true
					break
				}
			}
			time.Sleep(CloseRetryInterval)
		}
		if !acked {
			// Non-fatal per SPEC_FULL.md §4.6: logged, and Close still succeeds.
			logger.Warn("close session not acknowledged within retry budget", logger.SessionID(sessionID))
		}
	}

	sctx.mu.Lock()
	if sctx.Pool != nil {
		sctx.Pool.Drain()
	}
	sctx.Pool = nil
	sctx.Timestamps = nil
	sctx.SavedHeaders = nil
	if sctx.keepAliveArgs != nil && sctx.keepAliveArgs.Scratch != nil {
		buffer.Free(sctx.keepAliveArgs.Scratch)
	}
	sctx.keepAliveArgs = nil
	sctx.SessionID = InvalidSessionID
	sctx.State = StateClosed
	sctx.ClearBit(BitClose)
	sctx.mu.Unlock()

	metrics.RecordClose(sctx.Metrics, kind.String())
	span.SetAttributes(attribute.String("xcoder.device_type", kind.String()), attribute.Int("xcoder.session_id", int(sessionID)))
	return nil
}
