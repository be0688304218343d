// Package decode implements the Decode Pipeline (C7): packet-in/frame-out
// data path built on the Command Codec, Aligned I/O Buffer, and Timestamp
// Store primitives.
package decode

import (
	"context"
	"time"

	"github.com/sportsball-ai/go-xcoder-session/internal/logger"
	"github.com/sportsball-ai/go-xcoder-session/internal/telemetry"
	"github.com/sportsball-ai/go-xcoder-session/internal/transport"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/buffer"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/codec"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/status"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/timestamp"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/xerr"
)

// writeBufRetryInterval and writeBufRetryMax bound the write-buffer
// availability poll of SPEC_FULL.md §4.7 step 2.
const (
	writeBufRetryInterval = 100 * time.Microsecond
	writeBufRetryMax      = 2000
)

// cleanupInterval is the periodic timestamp-store sweep cadence.
const cleanupInterval = 500

// cleanupHorizon bounds how far behind the current offset a PTS slot may
// fall before it is considered unreclaimable and swept.
const cleanupHorizon = 1 << 20

// Pipeline wraps a session.Context with the decode-specific data path. One
// Pipeline per open decoder/uploader-class session.
type Pipeline struct {
	Transport transport.DeviceTransport
	Session   *session.Context

	lowDelayRetryBudget int  // read-path zero-byte retry cap, step 1
	reorderDelay        int  // picture reorder delay consumed on seq change
	pendingGeomRefresh  bool // set when a SeqChange was signalled; cleared on next geometry re-query
}

// New returns a decode pipeline bound to an already-open session context.
func New(t transport.DeviceTransport, sctx *session.Context) *Pipeline {
	return &Pipeline{Transport: t, Session: sctx, lowDelayRetryBudget: 50, reorderDelay: 4}
}

// WriteInput is one packet submitted to the decoder.
type WriteInput struct {
	Payload       []byte
	PTS           int64
	DTS           int64
	Flags         uint32
	SEI           timestamp.SEIPayload
	StartOfStream bool
	EndOfStream   bool
}

// Write implements SPEC_FULL.md §4.7's write path.
func (p *Pipeline) Write(ctx context.Context, in WriteInput) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "xcoder.decode.Write")
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	release, ok := p.Session.Admit(session.BitWrite)
	if !ok {
		return nil
	}
	defer release()

	p.Session.Lock()
	sessionID := p.Session.SessionID
	handle := p.Session.Handle
	kind := p.Session.DeviceKind
	pktNum := p.Session.PktNum
	p.Session.Unlock()

	if sessionID == session.InvalidSessionID {
		return xerr.New(xerr.InvalidSession, sessionID, "Write", "no open session")
	}
	if args := p.Session.KeepAliveArgs(); args != nil && args.CloseThread() {
		return xerr.New(xerr.InvalidSession, sessionID, "Write", "keep-alive observed a fatal condition")
	}

	packetSize := len(in.Payload)
	done, err := p.Session.RetryUntil(func() (bool, error) {
		avail, qerr := p.queryWriteBufAvail(ctx, handle, sessionID, kind)
		if qerr != nil {
			return false, qerr
		}
		return avail >= packetSize, nil
	}, writeBufRetryInterval, writeBufRetryMax)
	if err != nil {
		return err
	}
	if !done {
		return xerr.New(xerr.WriteBufferFull, sessionID, codec.OpWriteInstance.String(), "write buffer never freed enough space")
	}

	if in.StartOfStream {
		if err := p.sendSos(ctx, handle, sessionID, kind); err != nil {
			return err
		}
	}

	if err := p.sendPktSize(ctx, handle, sessionID, kind, packetSize); err != nil {
		return err
	}

	aligned := buffer.Alloc(buffer.AlignUp(packetSize))
	defer buffer.Free(aligned)
	copy(aligned.Bytes(), in.Payload)

	lba := codec.EncodeLba(codec.OpWriteInstance, sessionID, kind.InstanceType(), 0, false)
	rawStatus, werr := p.Transport.SubmitWrite(ctx, handle, lba, aligned.Bytes())
	switch status.WrapRoundTrip(p.Session, rawStatus, werr, false).Classification {
	case xerr.ClassContinue:
	case xerr.ClassVpuRecovery:
		p.Session.Lock()
		p.Session.SessionID = session.InvalidSessionID
		p.Session.State = session.StateFailed
		p.Session.Unlock()
		return xerr.New(xerr.Recovery, sessionID, codec.OpWriteInstance.String(), "device signalled VPU recovery")
	default:
		return xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpWriteInstance.String(), "packet write failed")
	}

	p.Session.Lock()
	cumulative := p.cumulativeOffsetLocked()
	if p.Session.Timestamps != nil {
		p.Session.Timestamps.PutPTS(int(pktNum), cumulative, cumulative+int64(packetSize), in.PTS, in.Flags, in.SEI)
		p.Session.Timestamps.PushDTS(in.DTS, cumulative+int64(packetSize))
	}
	p.Session.PktNum++
	p.Session.Unlock()

	if in.EndOfStream {
		if err := p.sendEos(ctx, handle, sessionID, kind); err != nil {
			return err
		}
		p.Session.Lock()
		p.Session.ReadyToClose = true
		p.Session.Unlock()
	}

	return nil
}

// cumulativeOffsetLocked returns the running input-byte offset. Callers must
// hold the session mutex; PktNum is used as a stand-in running counter since
// the pipeline does not separately track raw byte totals outside the
// timestamp store's own bookkeeping.
func (p *Pipeline) cumulativeOffsetLocked() int64 {
	return int64(p.Session.PktNum)
}

// ReadOutput is one frame produced by the decoder.
type ReadOutput struct {
	Frame       session.Frame
	SeqChange   bool
	EndOfStream bool
	HaveData    bool
}

// Read implements SPEC_FULL.md §4.7's read path.
func (p *Pipeline) Read(ctx context.Context) (out ReadOutput, err error) {
	ctx, span := telemetry.StartSpan(ctx, "xcoder.decode.Read")
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	release, ok := p.Session.Admit(session.BitRead)
	if !ok {
		return ReadOutput{}, nil
	}
	defer release()

	p.Session.Lock()
	sessionID := p.Session.SessionID
	handle := p.Session.Handle
	kind := p.Session.DeviceKind
	readyToClose := p.Session.ReadyToClose
	frameNum := p.Session.FrameNum
	p.Session.Unlock()

	if sessionID == session.InvalidSessionID {
		return ReadOutput{}, xerr.New(xerr.InvalidSession, sessionID, "Read", "no open session")
	}
	if args := p.Session.KeepAliveArgs(); args != nil && args.CloseThread() {
		return ReadOutput{}, xerr.New(xerr.InvalidSession, sessionID, "Read", "keep-alive observed a fatal condition")
	}

	avail, isFlushed, err := p.queryReadBufAvail(ctx, handle, sessionID, kind)
	if err != nil {
		return ReadOutput{}, err
	}

	switch {
	case avail > 0 && avail < metadataHeaderSize:
		p.pendingGeomRefresh = true
		p.Session.Lock()
		if p.Session.Timestamps != nil {
			p.Session.Timestamps.DrainReorderDelay(p.reorderDelay)
		}
		p.Session.Unlock()
		return ReadOutput{SeqChange: true}, nil
	case avail == 0 && readyToClose:
		if isFlushed {
			return ReadOutput{EndOfStream: true}, nil
		}
		return ReadOutput{}, nil
	case avail == 0:
		for i := 0; i < p.lowDelayRetryBudget; i++ {
			time.Sleep(200 * time.Microsecond)
			avail, _, err = p.queryReadBufAvail(ctx, handle, sessionID, kind)
			if err != nil {
				return ReadOutput{}, err
			}
			if avail > 0 {
				break
			}
		}
		if avail == 0 {
			return ReadOutput{}, nil
		}
	}

	if frameNum == 0 || p.pendingGeomRefresh {
		geom, err := p.queryStreamInfo(ctx, handle, sessionID, kind)
		if err != nil {
			return ReadOutput{}, err
		}
		p.pendingGeomRefresh = false
		p.Session.Lock()
		p.Session.Geometry = geom
		p.Session.Pool = buffer.NewPool(geom.Width * geom.Height * geom.BitDepthFactor)
		p.Session.Unlock()
	}

	buf := buffer.Alloc(buffer.AlignUp(avail))
	defer buffer.Free(buf)

	lba := codec.EncodeLba(codec.OpReadInstance, sessionID, kind.InstanceType(), 0, false)
	status, err := p.Transport.SubmitRead(ctx, handle, lba, buf.Bytes())
	if err != nil || status != 0 {
		return ReadOutput{}, xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpReadInstance.String(), "frame read failed")
	}

	frame, aux := parseFrame(buf.Bytes())

	p.Session.Lock()
	var dts int64
	var haveDTS bool
	if p.Session.Timestamps != nil {
		dts, haveDTS = p.Session.Timestamps.GetWithThreshold(p.cumulativeOffsetLocked(), dtsThreshold)
	}
	var pts int64
	var havePTS bool
	if p.Session.Timestamps != nil {
		if e, ok := p.Session.Timestamps.FindPTS(p.cumulativeOffsetLocked()); ok {
			pts, havePTS = e.PTS, true
		}
	}
	if p.Session.Timestamps != nil {
		frame.PTS = p.Session.Timestamps.GuessPTS(pts, havePTS, dts, haveDTS)
	}
	if haveDTS {
		frame.DTS = dts
	}
	frame.Aux = aux
	frame.Geometry = p.Session.Geometry
	p.Session.FrameNum++
	if p.Session.FrameNum%cleanupInterval == 0 && p.Session.Timestamps != nil {
		p.Session.Timestamps.Cleanup(p.cumulativeOffsetLocked(), cleanupHorizon)
	}
	p.Session.Unlock()

	logger.Debug("decode read", logger.SessionID(sessionID), logger.FrameNum(frameNum))

	return ReadOutput{Frame: frame, HaveData: true}, nil
}

// dtsThreshold bounds how far a FIFO head offset may differ from the query
// offset before it is treated as stale (SPEC_FULL.md §4.7 step 5).
const dtsThreshold = 1 << 16

// metadataHeaderSize is the size of the trailing metadata block that
// accompanies a frame read; an avail strictly below this but nonzero
// indicates a sequence-change notification with no frame payload.
const metadataHeaderSize = 64

// SaveHeaders stashes the currently-buffered stream headers for a later
// flush-for-continuation (SPEC_FULL.md §4.7's "Flush-for-continuation").
func (p *Pipeline) SaveHeaders(headers []byte) {
	p.Session.Lock()
	p.Session.SavedHeaders = append([]byte(nil), headers...)
	p.Session.Unlock()
}

// SavedHeaders returns whatever was last stashed via SaveHeaders, for the
// continuation path to replay after reopening.
func (p *Pipeline) SavedHeaders() []byte {
	p.Session.Lock()
	defer p.Session.Unlock()
	return p.Session.SavedHeaders
}

func (p *Pipeline) sendSos(ctx context.Context, handle transport.Handle, sessionID uint16, kind session.DeviceKind) error {
	lba := codec.EncodeLba(codec.OpConfigInstanceSos, sessionID, kind.InstanceType(), 0, false)
	status, err := p.Transport.SubmitWrite(ctx, handle, lba, nil)
	if err != nil || status != 0 {
		return xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpConfigInstanceSos.String(), "start-of-stream failed")
	}
	return nil
}

func (p *Pipeline) sendEos(ctx context.Context, handle transport.Handle, sessionID uint16, kind session.DeviceKind) error {
	lba := codec.EncodeLba(codec.OpConfigInstanceEos, sessionID, kind.InstanceType(), 0, false)
	status, err := p.Transport.SubmitWrite(ctx, handle, lba, nil)
	if err != nil || status != 0 {
		return xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpConfigInstanceEos.String(), "end-of-stream failed")
	}
	return nil
}

func (p *Pipeline) sendPktSize(ctx context.Context, handle transport.Handle, sessionID uint16, kind session.DeviceKind, size int) error {
	enc := codec.NewEncoder()
	_ = enc.PutUint32(uint32(size))
	lba := codec.EncodeLba(codec.OpConfigInstanceSetPktSize, sessionID, kind.InstanceType(), 0, false)
	status, err := p.Transport.SubmitWrite(ctx, handle, lba, enc.Bytes())
	if err != nil || status != 0 {
		return xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpConfigInstanceSetPktSize.String(), "packet-size config failed")
	}
	return nil
}

func (p *Pipeline) queryWriteBufAvail(ctx context.Context, handle transport.Handle, sessionID uint16, kind session.DeviceKind) (int, error) {
	lba := codec.EncodeLba(codec.OpQueryInstanceWbuffSize, sessionID, kind.InstanceType(), 0, false)
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

func (p *Pipeline) queryReadBufAvail(ctx context.Context, handle transport.Handle, sessionID uint16, kind session.DeviceKind) (avail int, isFlushed bool, err error) {
	lba := codec.EncodeLba(codec.OpQueryInstanceRbuffSize, sessionID, kind.InstanceType(), 0, false)
	resp := make([]byte, 8)
	status, terr := p.Transport.SubmitRead(ctx, handle, lba, resp)
	if terr != nil {
		return 0, false, terr
	}
	if status != 0 {
		return 0, false, nil
	}
	dec := codec.NewDecoder(resp)
	v, _ := dec.Uint32()
	flushed, _ := dec.Bool()
	return int(v), flushed, nil
}

func (p *Pipeline) queryStreamInfo(ctx context.Context, handle transport.Handle, sessionID uint16, kind session.DeviceKind) (session.Geometry, error) {
	lba := codec.EncodeLba(codec.OpQueryStreamInfo, sessionID, kind.InstanceType(), 0, false)
	resp := make([]byte, 32)
	status, err := p.Transport.SubmitRead(ctx, handle, lba, resp)
	if err != nil || status != 0 {
		return session.Geometry{}, xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpQueryStreamInfo.String(), "stream-info query failed")
	}
	dec := codec.NewDecoder(resp)
	w, _ := dec.Uint32()
	h, _ := dec.Uint32()
	bitDepth, _ := dec.Uint32()
	return session.Geometry{Width: int(w), Height: int(h), BitDepthFactor: int(bitDepth)}, nil
}

// parseFrame splits a raw frame read into its plane payload and SEI
// auxiliary data, scanning for the T.35 prefixed messages described in
// SPEC_FULL.md §4.7 step 4. The trailing metadata layout is this port's own
// fixed convention, not a device wire format.
func parseFrame(raw []byte) (session.Frame, []session.AuxData) {
	f := session.Frame{}
	if len(raw) <= metadataHeaderSize {
		f.Planes[0] = raw
		return f, nil
	}
	payload := raw[:len(raw)-metadataHeaderSize]
	meta := raw[len(raw)-metadataHeaderSize:]
	f.Planes[0] = payload

	aux := scanSEI(meta)
	return f, aux
}

// sei prefix markers this port recognizes, per SPEC_FULL.md §4.7 step 4:
// HDR10+ and closed-captions are each identified by a fixed tag byte rather
// than the real ITU-T T.35 country/provider code registry, since this is an
// internal convention (SPEC_FULL.md §9 Open Questions), not wire-compatible
// with any real device.
const (
	seiTagMasteringDisplay = 0x01
	seiTagContentLightLvl  = 0x02
	seiTagHDR10Plus        = 0x03
	seiTagClosedCaptions   = 0x04
	seiMaxSlots            = 8
)

func scanSEI(meta []byte) []session.AuxData {
	var aux []session.AuxData
	for i := 0; i < seiMaxSlots && i < len(meta); i++ {
		tag := meta[i]
		var kind session.AuxKind
		switch tag {
		case seiTagMasteringDisplay:
			kind = session.AuxMasteringDisplay
		case seiTagContentLightLvl:
			kind = session.AuxContentLightLevel
		case seiTagHDR10Plus:
			kind = session.AuxHDR10Plus
		case seiTagClosedCaptions:
			kind = session.AuxClosedCaptions
		default:
			continue
		}
		aux = append(aux, session.AuxData{Kind: kind, Payload: []byte{tag}})
	}
	return aux
}
