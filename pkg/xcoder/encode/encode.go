// Package encode implements the Encode Pipeline (C8): frame-in/packet-out
// data path, including the 8-frame in-flight cap for hardware-frame input
// and AV1 multi-chunk rotation-buffer assembly.
package encode

import (
	"context"
	"sync"
	"time"

	"github.com/sportsball-ai/go-xcoder-session/internal/logger"
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

	// hwFrameInFlightCap is the "frame_num < pkt_num + 8" admission rule of
	// SPEC_FULL.md §4.8 step 4.
	hwFrameInFlightCap = 8

	// packetChunkHeaderSize is this port's own trailing-metadata convention
	// for a read chunk: bs_frame_size (uint32), end_of_packet (bool),
	// frame_type (int32), frame_cycle (int32, accumulated into a codec-tick
	// total rather than retained per packet), average QP (int32) and
	// recycle_index (int32), in that order, followed by reserved padding.
	packetChunkHeaderSize = 24
)

// Pipeline wraps a session.Context with the encode-specific data path.
type Pipeline struct {
	Transport transport.DeviceTransport
	Session   *session.Context

	lowDelay        bool
	strictTimeout   bool
	readRetryBudget int

	// ptsQueue carries each written frame's PTS through to the packet Read
	// eventually produces from it, in submission order. Guarded separately
	// from the session mutex since Write and Read run concurrently.
	ptsMu    sync.Mutex
	ptsQueue []int64
}

// New returns an encode pipeline bound to an already-open session context.
func New(t transport.DeviceTransport, sctx *session.Context, lowDelay, strictTimeout bool) *Pipeline {
	return &Pipeline{Transport: t, Session: sctx, lowDelay: lowDelay, strictTimeout: strictTimeout, readRetryBudget: 50}
}

// Write implements SPEC_FULL.md §4.8's write path.
func (p *Pipeline) Write(ctx context.Context, frame session.Frame) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "xcoder.encode.Write")
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
	frameNum := p.Session.FrameNum
	pktNum := p.Session.PktNum
	if !frame.Geometry.Empty() {
		p.Session.Geometry = frame.Geometry
	}
	pending := p.Session.Pending
	p.Session.Pending.Clear()
	p.Session.Unlock()

	if sessionID == session.InvalidSessionID {
		return xerr.New(xerr.InvalidSession, sessionID, "Write", "no open session")
	}
	if args := p.Session.KeepAliveArgs(); args != nil && args.CloseThread() {
		return xerr.New(xerr.InvalidSession, sessionID, "Write", "keep-alive observed a fatal condition")
	}

	if frame.Surface != nil && frameNum >= pktNum+hwFrameInFlightCap {
		return xerr.New(xerr.WriteBufferFull, sessionID, codec.OpWriteInstance.String(), "hw-frame in-flight cap reached")
	}

	payload := flattenPlanes(frame)
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

	meta := buildMetaTrailer(frame, pending)
	aligned := buffer.Alloc(buffer.AlignUp(size + len(meta)))
	defer buffer.Free(aligned)
	n := copy(aligned.Bytes(), payload)
	copy(aligned.Bytes()[n:], meta)

	lba := codec.EncodeLba(codec.OpWriteInstance, sessionID, kind.InstanceType(), 0, frame.Surface != nil)
	status, terr := p.Transport.SubmitWrite(ctx, handle, lba, aligned.Bytes())
	if terr != nil || status != 0 {
		return xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpWriteInstance.String(), "frame write failed")
	}

	p.ptsMu.Lock()
	p.ptsQueue = append(p.ptsQueue, frame.PTS)
	p.ptsMu.Unlock()

	p.Session.Lock()
	p.Session.FrameNum++
	p.Session.Unlock()

	if frame.EndOfStream {
		if err := p.sendEos(ctx, handle, sessionID, kind); err != nil {
			return err
		}
		p.Session.Lock()
		p.Session.ReadyToClose = true
		p.Session.Unlock()
	}

	return nil
}

// buildMetaTrailer fills the per-frame metadata trailer of SPEC_FULL.md
// §4.8 step 6.
func buildMetaTrailer(frame session.Frame, pending session.PendingReconfig) []byte {
	enc := codec.NewEncoder()
	_ = enc.PutInt64(frame.PTS) // frame_tstamp, PTS echo
	_ = enc.PutUint32(uint32(len(frame.Aux)))

	reconfSize := uint32(0)
	if pending.Any() {
		reconfSize = 1
	}
	_ = enc.PutUint32(reconfSize)

	if pending.TargetBitrate != nil {
		_ = enc.PutUint32(*pending.TargetBitrate)
	} else {
		_ = enc.PutUint32(0)
	}
	_ = enc.PutBool(pending.ForceIdrFrame)
	if pending.LtrToSet != nil {
		_ = enc.PutUint32(*pending.LtrToSet)
	} else {
		_ = enc.PutUint32(0)
	}
	if pending.LtrInterval != nil {
		_ = enc.PutUint32(*pending.LtrInterval)
	} else {
		_ = enc.PutUint32(0)
	}
	return enc.Bytes()
}

// flattenPlanes concatenates a frame's plane payloads for wire transfer. A
// hardware frame (Surface != nil) carries no plane bytes — only the
// descriptor travels, encoded separately into the LBA's is_hw flag.
func flattenPlanes(frame session.Frame) []byte {
	if frame.Surface != nil {
		return nil
	}
	var total int
	for _, pl := range frame.Planes {
		total += len(pl)
	}
	out := make([]byte, 0, total)
	for _, pl := range frame.Planes {
		out = append(out, pl...)
	}
	return out
}

// ReadOutput is one packet produced by the encoder.
type ReadOutput struct {
	Packet   session.Packet
	HaveData bool
}

// Read implements SPEC_FULL.md §4.8's read path.
func (p *Pipeline) Read(ctx context.Context) (out ReadOutput, err error) {
	ctx, span := telemetry.StartSpan(ctx, "xcoder.encode.Read")
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
	closePending := p.Session.HasBit(session.BitClose)
	p.Session.Unlock()

	if sessionID == session.InvalidSessionID {
		return ReadOutput{}, xerr.New(xerr.InvalidSession, sessionID, "Read", "no open session")
	}
	if args := p.Session.KeepAliveArgs(); args != nil && args.CloseThread() {
		return ReadOutput{}, xerr.New(xerr.InvalidSession, sessionID, "Read", "keep-alive observed a fatal condition")
	}

	avail, err := p.queryReadBufAvail(ctx, handle, sessionID, kind)
	if err != nil {
		return ReadOutput{}, err
	}

	if avail == 0 {
		if p.lowDelay || closePending {
			for i := 0; i < p.readRetryBudget && avail == 0; i++ {
				time.Sleep(200 * time.Microsecond)
				avail, err = p.queryReadBufAvail(ctx, handle, sessionID, kind)
				if err != nil {
					return ReadOutput{}, err
				}
			}
		}
		if avail == 0 {
			if p.strictTimeout {
				return ReadOutput{}, xerr.New(xerr.ResourceUnavailable, sessionID, codec.OpReadInstance.String(), "read buffer budget exceeded")
			}
			return ReadOutput{}, nil
		}
	}

	pkt := session.Packet{}
	var rotation []session.PacketRotationSlot

	for {
		buf := buffer.Alloc(buffer.AlignUp(avail))
		lba := codec.EncodeLba(codec.OpReadInstance, sessionID, kind.InstanceType(), 0, false)
		status, terr := p.Transport.SubmitRead(ctx, handle, lba, buf.Bytes())
		if terr != nil || status != 0 {
			buffer.Free(buf)
			return ReadOutput{}, xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpReadInstance.String(), "packet read failed")
		}

		chunkSize, endOfPacket := parseChunkHeader(buf.Bytes())
		rotation = append(rotation, session.PacketRotationSlot{Backing: buf, Size: buf.Len(), Length: chunkSize})

		if endOfPacket {
			frameType, avgQP, recycleIdx := parsePacketMeta(buf.Bytes())
			pkt.PTS = p.nextQueuedPTS()
			pkt.FrameType = frameType
			pkt.AverageQP = avgQP
			pkt.RecycleIndex = recycleIdx
			break
		}

		if len(rotation) >= session.MaxAV1RotationBuffers {
			break
		}

		avail, err = p.queryReadBufAvail(ctx, handle, sessionID, kind)
		if err != nil {
			return ReadOutput{}, err
		}
		if avail == 0 {
			break
		}
	}

	pkt.Rotation = rotation
	if len(rotation) > 0 {
		pkt.Backing = rotation[0].Backing
	}

	p.Session.Lock()
	var dts int64
	if p.Session.Timestamps != nil {
		dts, _ = p.Session.Timestamps.GetWithThreshold(pkt.PTS, dtsThreshold)
	}
	pkt.DTS = dts
	p.Session.PktNum++
	p.Session.Unlock()

	logger.Debug("encode read", logger.SessionID(sessionID), logger.PktNum(p.Session.PktNum))

	return ReadOutput{Packet: pkt, HaveData: true}, nil
}

const dtsThreshold = 1 << 16

// nextQueuedPTS pops the PTS of the oldest written-but-not-yet-read frame,
// or 0 if the queue has run dry (e.g. a packet produced before any Write).
func (p *Pipeline) nextQueuedPTS() int64 {
	p.ptsMu.Lock()
	defer p.ptsMu.Unlock()
	if len(p.ptsQueue) == 0 {
		return 0
	}
	pts := p.ptsQueue[0]
	p.ptsQueue = p.ptsQueue[1:]
	return pts
}

func parseChunkHeader(raw []byte) (size int, endOfPacket bool) {
	if len(raw) < packetChunkHeaderSize {
		return len(raw), true
	}
	dec := codec.NewDecoder(raw[len(raw)-packetChunkHeaderSize:])
	v, _ := dec.Uint32()
	eop, _ := dec.Bool()
	return int(v), eop
}

// parsePacketMeta decodes the per-packet metadata trailer of SPEC_FULL.md
// §4.8 Read step 5. frame_cycle is consumed (it belongs to a session-wide
// codec-tick total, not to the Packet itself, mirroring the reference
// decoder's codec_total_ticks accumulator) but not returned here.
func parsePacketMeta(raw []byte) (frameType int, avgQP int, recycleIndex int) {
	if len(raw) < packetChunkHeaderSize {
		return 0, 0, -1
	}
	dec := codec.NewDecoder(raw[len(raw)-packetChunkHeaderSize:])
	_, _ = dec.Uint32() // bs_frame_size
	_, _ = dec.Bool()   // end_of_packet
	ft, _ := dec.Int32()
	_, _ = dec.Int32() // frame_cycle
	qp, _ := dec.Int32()
	recycleIdx, _ := dec.Int32()
	return int(ft), int(qp), int(recycleIdx)
}

func (p *Pipeline) sendEos(ctx context.Context, handle transport.Handle, sessionID uint16, kind session.DeviceKind) error {
	lba := codec.EncodeLba(codec.OpConfigInstanceEos, sessionID, kind.InstanceType(), 0, false)
	status, err := p.Transport.SubmitWrite(ctx, handle, lba, nil)
	if err != nil || status != 0 {
		return xerr.New(xerr.NvmeCmdFailed, sessionID, codec.OpConfigInstanceEos.String(), "end-of-stream failed")
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

func (p *Pipeline) queryReadBufAvail(ctx context.Context, handle transport.Handle, sessionID uint16, kind session.DeviceKind) (int, error) {
	lba := codec.EncodeLba(codec.OpQueryInstanceRbuffSize, sessionID, kind.InstanceType(), 0, false)
	resp := make([]byte, 8)
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
