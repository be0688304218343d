// Package hwframe implements the HW-Frame Uploader/Downloader (C9): a
// decoder-class session internally, flagged as an upload session at open,
// that moves pixel payloads to device-resident frame slots and hands back
// move-only surface handles instead of pixel data.
package hwframe

import (
	"context"
	"time"

	"github.com/sportsball-ai/go-xcoder-session/internal/telemetry"
	"github.com/sportsball-ai/go-xcoder-session/internal/transport"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/buffer"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/codec"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/xerr"
)

const (
	writeBufRetryInterval = 100 * time.Microsecond
	writeBufRetryMax      = 2000
)

// PoolConfig is the frame-pool configuration sent at Configure time
// (SPEC_FULL.md §4.9 step 2).
type PoolConfig struct {
	Width, Height  int
	BitDepthFactor int
	PoolSize       int
	P2P            bool
}

// Pipeline wraps a session.Context with the hw-frame upload/download data
// path, plus the optional P2P DMA-buf fence helper.
type Pipeline struct {
	Transport transport.DeviceTransport
	Session   *session.Context
	Fence     transport.P2PFence // nil unless P2P builds are in use

	sentSOS bool
}

// New returns an hw-frame pipeline bound to an already-open, upload-flagged
// session context.
func New(t transport.DeviceTransport, sctx *session.Context, fence transport.P2PFence) *Pipeline {
	return &Pipeline{Transport: t, Session: sctx, Fence: fence}
}

// Configure sends the frame-pool configuration command (SPEC_FULL.md §4.9
// step 2), must be called once before the first Write.
func (p *Pipeline) Configure(ctx context.Context, cfg PoolConfig) error {
	p.Session.Lock()
	sessionID := p.Session.SessionID
	handle := p.Session.Handle
	kind := p.Session.DeviceKind
	p.Session.Unlock()

	enc := codec.NewEncoder()
	_ = enc.PutInt32(int32(cfg.Width))
	_ = enc.PutInt32(int32(cfg.Height))
	_ = enc.PutInt32(int32(cfg.BitDepthFactor))
	_ = enc.PutInt32(int32(cfg.PoolSize))
	_ = enc.PutBool(cfg.P2P)

	lba := codec.EncodeLba(codec.OpConfigInstanceInitFramePool, sessionID, kind.InstanceType(), 0, false)
	status, err := p.Transport.SubmitWrite(ctx, handle, lba, enc.Bytes())
	if err != nil || status != 0 {
		return xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpConfigInstanceInitFramePool.String(), "frame pool configuration failed")
	}
	return nil
}

// Write uploads one raw pixel payload to the device (SPEC_FULL.md §4.9
// step 3): no timestamp state is enqueued for upload sessions.
func (p *Pipeline) Write(ctx context.Context, payload []byte) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "xcoder.hwframe.Write")
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	release, ok := p.Session.Admit(session.BitHwUp)
	if !ok {
		return nil
	}
	defer release()

	p.Session.Lock()
	sessionID := p.Session.SessionID
	handle := p.Session.Handle
	kind := p.Session.DeviceKind
	p.Session.Unlock()

	if sessionID == session.InvalidSessionID {
		return xerr.New(xerr.InvalidSession, sessionID, "Write", "no open session")
	}

	size := len(payload)
	done, err := p.Session.RetryUntil(func() (bool, error) {
		avail, qerr := p.queryWriteBufAvail(ctx, handle, sessionID, kind)
		if qerr != nil {
			return false, qerr
		}
		return avail >= size, nil
	}, writeBufRetryInterval, writeBufRetryMax)
	if err != nil {
		return err
	}
	if !done {
		return xerr.New(xerr.WriteBufferFull, sessionID, codec.OpWriteInstance.String(), "write buffer never freed enough space")
	}

	if !p.sentSOS {
		if err := p.sendSos(ctx, handle, sessionID, kind); err != nil {
			return err
		}
		p.sentSOS = true
	}

	if err := p.sendPktSize(ctx, handle, sessionID, kind, size); err != nil {
		return err
	}

	aligned := buffer.Alloc(buffer.AlignUp(size))
	defer buffer.Free(aligned)
	copy(aligned.Bytes(), payload)

	lba := codec.EncodeLba(codec.OpWriteInstance, sessionID, kind.InstanceType(), 0, true)
	status, terr := p.Transport.SubmitWrite(ctx, handle, lba, aligned.Bytes())
	if terr != nil || status != 0 {
		return xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpWriteInstance.String(), "upload write failed")
	}
	return nil
}

// Fetch fetches the next assigned HwFrameSurface (SPEC_FULL.md §4.9 step 4)
// without copying any pixel payload to host memory.
func (p *Pipeline) Fetch(ctx context.Context) (surf *session.HwFrameSurface, err error) {
	ctx, span := telemetry.StartSpan(ctx, "xcoder.hwframe.Fetch")
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	release, ok := p.Session.Admit(session.BitHwDl)
	if !ok {
		return nil, nil
	}
	defer release()

	p.Session.Lock()
	sessionID := p.Session.SessionID
	handle := p.Session.Handle
	kind := p.Session.DeviceKind
	codecFmt := p.Session.CodecFormat
	instanceID := p.Session.InstanceID
	p.Session.Unlock()

	if sessionID == session.InvalidSessionID {
		return nil, xerr.New(xerr.InvalidSession, sessionID, "Fetch", "no open session")
	}

	lba := codec.EncodeLba(codec.OpQueryInstanceUploadId, sessionID, kind.InstanceType(), 0, true)
	resp := make([]byte, 16)
	status, err := p.Transport.SubmitRead(ctx, handle, lba, resp)
	if err != nil || status != 0 {
		return nil, xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpQueryInstanceUploadId.String(), "surface fetch failed")
	}

	dec := codec.NewDecoder(resp)
	frameIndex, _ := dec.Int32()
	width, _ := dec.Int32()
	height, _ := dec.Int32()
	bitDepth, _ := dec.Int32()

	surf = &session.HwFrameSurface{
		FrameIndex:   int(frameIndex),
		InstanceID:   instanceID,
		SessionID:    sessionID,
		EncodingType: codecFmt,
		Width:        int(width),
		Height:       int(height),
		BitDepth:     int(bitDepth),
		DeviceHandle: handle,
		DmaBufFD:     -1,
	}

	if p.Fence != nil {
		fd, ferr := p.Fence.ExportDmaBuf(ctx, handle, surf.FrameIndex)
		if ferr == nil {
			surf.DmaBufFD = fd
			if aerr := p.Fence.AttachReadFence(ctx, fd); aerr == nil {
				surf.SetP2PLocked()
			}
		}
	}

	return surf, nil
}

// Download copies the pixel payload of a named frame slot back to host
// memory (SPEC_FULL.md §4.9 "Download").
func (p *Pipeline) Download(ctx context.Context, frameIndex int, into []byte) (n int, err error) {
	ctx, span := telemetry.StartSpan(ctx, "xcoder.hwframe.Download")
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	p.Session.Lock()
	sessionID := p.Session.SessionID
	handle := p.Session.Handle
	kind := p.Session.DeviceKind
	p.Session.Unlock()

	enc := codec.NewEncoder()
	_ = enc.PutInt32(int32(frameIndex))
	cfgLba := codec.EncodeLba(codec.OpConfigInstanceSetPktSize, sessionID, kind.InstanceType(), 0, true)
	status, err := p.Transport.SubmitWrite(ctx, handle, cfgLba, enc.Bytes())
	if err != nil || status != 0 {
		return 0, xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpConfigInstanceSetPktSize.String(), "download frame-index config failed")
	}

	readLba := codec.EncodeLba(codec.OpReadInstance, sessionID, kind.InstanceType(), 0, true)
	status, err = p.Transport.SubmitRead(ctx, handle, readLba, into)
	if err != nil || status != 0 {
		return 0, xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpReadInstance.String(), "download data read failed")
	}
	return len(into), nil
}

// RecycleSurface returns an acquired surface to the device. Must be called
// exactly once per surface returned by Fetch (SPEC_FULL.md §4.9 "Recycle
// protocol"); calling it twice is a host-side bug, not a classified device
// error, so the second call returns an InvalidParam error rather than
// attempting another device round-trip.
func (p *Pipeline) RecycleSurface(ctx context.Context, surf *session.HwFrameSurface) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "xcoder.hwframe.RecycleSurface")
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	if surf.Recycled() {
		return xerr.New(xerr.InvalidParam, surf.SessionID, codec.OpConfigInstanceRecycleBuf.String(), "surface already recycled")
	}

	if surf.P2PLocked() {
		if err := p.unlockP2P(ctx, surf); err != nil {
			return err
		}
	}

	p.Session.Lock()
	handle := p.Session.Handle
	kind := p.Session.DeviceKind
	p.Session.Unlock()

	enc := codec.NewEncoder()
	_ = enc.PutInt32(int32(surf.FrameIndex))
	lba := codec.EncodeLba(codec.OpConfigInstanceRecycleBuf, surf.SessionID, kind.InstanceType(), 0, true)
	status, err := p.Transport.SubmitWrite(ctx, handle, lba, enc.Bytes())
	if err != nil || status != 0 {
		return xerr.New(xerr.NvmeCmdFailed, surf.SessionID, codec.OpConfigInstanceRecycleBuf.String(), "recycle failed")
	}

	if surf.DmaBufFD >= 0 && p.Fence != nil {
		_ = p.Fence.SignalReadFence(ctx, surf.DmaBufFD)
	}

	surf.MarkRecycled()
	return nil
}

func (p *Pipeline) unlockP2P(ctx context.Context, surf *session.HwFrameSurface) error {
	if p.Fence == nil || surf.DmaBufFD < 0 {
		surf.ClearP2PLock()
		return nil
	}
	if err := p.Fence.SignalReadFence(ctx, surf.DmaBufFD); err != nil {
		return xerr.Wrap(xerr.NvmeCmdFailed, surf.SessionID, "SignalReadFence", err)
	}
	surf.ClearP2PLock()
	return nil
}

func (p *Pipeline) sendSos(ctx context.Context, handle transport.Handle, sessionID uint16, kind session.DeviceKind) error {
	lba := codec.EncodeLba(codec.OpConfigInstanceSos, sessionID, kind.InstanceType(), 0, true)
	status, err := p.Transport.SubmitWrite(ctx, handle, lba, nil)
	if err != nil || status != 0 {
		return xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpConfigInstanceSos.String(), "start-of-stream failed")
	}
	return nil
}

func (p *Pipeline) sendPktSize(ctx context.Context, handle transport.Handle, sessionID uint16, kind session.DeviceKind, size int) error {
	enc := codec.NewEncoder()
	_ = enc.PutUint32(uint32(size))
	lba := codec.EncodeLba(codec.OpConfigInstanceSetPktSize, sessionID, kind.InstanceType(), 0, true)
	status, err := p.Transport.SubmitWrite(ctx, handle, lba, enc.Bytes())
	if err != nil || status != 0 {
		return xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpConfigInstanceSetPktSize.String(), "packet-size config failed")
	}
	return nil
}

func (p *Pipeline) queryWriteBufAvail(ctx context.Context, handle transport.Handle, sessionID uint16, kind session.DeviceKind) (int, error) {
	lba := codec.EncodeLba(codec.OpQueryInstanceWbuffSize, sessionID, kind.InstanceType(), 0, true)
	resp := make([]byte, 4)
	status, err := p.Transport.SubmitRead(ctx, handle, lba, resp)
	if err != nil {
		return 0, err
	}
	if status != 0 {
		return 0, nil
	}
	dec := codec.NewDecoder(resp)
	v, derr := dec.Uint32()
	if derr != nil {
		return 0, derr
	}
	return int(v), nil
}
