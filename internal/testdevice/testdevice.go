// Package testdevice is an in-process fake satisfying internal/transport's
// DeviceTransport and Pool interfaces entirely in memory, playing the role
// the teacher's testcontainers-go-backed integration fixtures play for a
// real Postgres/S3 backend — except the "external service" here is a real
// accelerator card, which cannot be containerized for CI.
package testdevice

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sportsball-ai/go-xcoder-session/internal/transport"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/codec"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/xerr"
)

// Instance is one simulated device engine instance.
type Instance struct {
	GUID string
	Kind string
	Load int
}

// instanceHandle is the Handle value this fake hands back from PickInstance;
// it is opaque to callers and only meaningful to Device itself.
type instanceHandle struct {
	guid string
}

// sessionState tracks the simulated per-session command-processing state
// backing a fake session, exercised by the Decode/Encode/HwFrame pipelines'
// command sequences.
type sessionState struct {
	mu               sync.Mutex
	sessionID        uint16
	sessionTimestamp uint64
	kind             codec.InstanceType
	open             bool
	closed           bool
	writeBufAvail    uint32
	readBufAvail     uint32
	readFlushed      bool
	streamWidth      uint32
	streamHeight     uint32
	streamBitDepth   uint32
	keepAliveCount   int

	// framePoolSize, nextFrameIndex and freeFrameIndices simulate the
	// hw-frame pool's slot allocator: fresh slots hand out sequentially,
	// recycled slots are handed back out before any new one. framePoolSize
	// is recorded but does not cap the indices handed out.
	framePoolSize    int
	nextFrameIndex   int32
	freeFrameIndices []int32

	// injectedWriteStatus, when nonzero, is returned once (then reset to
	// DeviceSuccess) by the next OpWriteInstance write, simulating a
	// one-shot device-reported error such as VpuRecovery.
	injectedWriteStatus xerr.DeviceStatus

	// injectedQueryStatus is returned by every OpQueryInstanceStatus query
	// until changed, simulating the keep-alive heartbeat observing a
	// persistent device condition (e.g. a dropped session).
	injectedQueryStatus xerr.DeviceStatus

	// avgQP and recycleIndex are echoed in the packet-metadata trailer
	// handleReadInstance appends to encoder reads, mirroring
	// encode.Pipeline's packetChunkHeaderSize layout so avgQP/recycleIndex
	// parsing has something real to decode.
	avgQP        int32
	recycleIndex int32
}

// Device is the in-memory fake device: a fixed pool of instances per kind,
// plus a table of open fake sessions addressed by sessionID.
type Device struct {
	mu        sync.Mutex
	instances map[string][]*Instance
	locks     map[string]*sync.Mutex
	sessions  map[uint16]*sessionState
	nextSID   uint16

	// forcedNextTimestamp, when non-nil, overrides the session_timestamp
	// the next OpOpenGetSid allocates; consumed once. Paired with a forced
	// nextSID via SetNextSessionID.
	forcedNextTimestamp *uint64

	// DefaultWriteBufAvail/DefaultReadBufAvail seed new sessions'
	// buffer-availability responses; tests change a session's values
	// afterwards through the Set* hooks (SetReadAvail and the like).
	DefaultWriteBufAvail uint32
	DefaultReadBufAvail  uint32
}

// NewDevice creates a fake device with poolSize instances of each of the
// given kinds.
func NewDevice(kinds []string, poolSize int) *Device {
	d := &Device{
		instances:            make(map[string][]*Instance),
		locks:                make(map[string]*sync.Mutex),
		sessions:             make(map[uint16]*sessionState),
		DefaultWriteBufAvail: 1 << 20,
		DefaultReadBufAvail:  0,
	}
	for _, k := range kinds {
		d.locks[k] = &sync.Mutex{}
		for i := 0; i < poolSize; i++ {
			d.instances[k] = append(d.instances[k], &Instance{GUID: uuid.NewString(), Kind: k})
		}
	}
	return d
}

// PickInstance implements transport.Pool.
func (d *Device) PickInstance(ctx context.Context, kind string, hint transport.InstanceHint) (transport.PickedInstance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.instances[kind]
	if len(list) == 0 {
		return transport.PickedInstance{}, fmt.Errorf("testdevice: no instances of kind %q", kind)
	}

	if hint.HwID != "" {
		for _, inst := range list {
			if inst.GUID == hint.HwID {
				return transport.PickedInstance{Handle: instanceHandle{guid: inst.GUID}, GUID: inst.GUID, MaxIOSize: 1 << 24}, nil
			}
		}
		return transport.PickedInstance{}, fmt.Errorf("testdevice: no instance with hw id %q", hint.HwID)
	}

	best := list[0]
	for _, inst := range list[1:] {
		if inst.Load < best.Load {
			best = inst
		}
	}
	best.Load++
	return transport.PickedInstance{Handle: instanceHandle{guid: best.GUID}, GUID: best.GUID, MaxIOSize: 1 << 24}, nil
}

// Lock implements transport.Pool.
func (d *Device) Lock(ctx context.Context, kind string) error {
	d.mu.Lock()
	l, ok := d.locks[kind]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("testdevice: unknown kind %q", kind)
	}
	l.Lock()
	return nil
}

// Unlock implements transport.Pool.
func (d *Device) Unlock(ctx context.Context, kind string) error {
	d.mu.Lock()
	l, ok := d.locks[kind]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("testdevice: unknown kind %q", kind)
	}
	l.Unlock()
	return nil
}

// SubmitRead implements transport.DeviceTransport.
func (d *Device) SubmitRead(ctx context.Context, handle transport.Handle, lba uint32, buf []byte) (int, error) {
	opcode, sessionID, instanceType, _ := codec.DecodeLba(lba)

	switch opcode {
	case codec.OpOpenGetSid:
		return d.handleOpenGetSid(instanceType, buf)
	case codec.OpQueryInstanceWbuffSize:
		return d.handleQueryWbuf(sessionID, buf)
	case codec.OpQueryInstanceRbuffSize:
		return d.handleQueryRbuf(sessionID, buf)
	case codec.OpQueryStreamInfo:
		return d.handleQueryStreamInfo(sessionID, buf)
	case codec.OpQueryInstanceStatus:
		return d.handleQueryInstanceStatus(sessionID, buf)
	case codec.OpQueryGeneralStatus:
		return d.handleQueryGeneralStatus(buf)
	case codec.OpCloseSession:
		return d.handleCloseQuery(sessionID, buf)
	case codec.OpReadInstance:
		return d.handleReadInstance(sessionID, buf)
	case codec.OpQueryInstanceBufInfo:
		return d.handleQueryBufInfo(buf)
	case codec.OpQueryInstanceUploadId:
		return d.handleQueryUploadID(sessionID, buf)
	default:
		return 0, fmt.Errorf("testdevice: unsupported read opcode %s", opcode)
	}
}

// SubmitWrite implements transport.DeviceTransport.
func (d *Device) SubmitWrite(ctx context.Context, handle transport.Handle, lba uint32, buf []byte) (int, error) {
	opcode, sessionID, _, _ := codec.DecodeLba(lba)

	switch opcode {
	case codec.OpOpenSession, codec.OpConfigSessionKeepAliveTimeout, codec.OpConfigInstanceSetPktSize,
		codec.OpConfigInstanceSos, codec.OpConfigInstanceEos:
		return 0, nil
	case codec.OpConfigInstanceInitFramePool:
		return d.handleInitFramePool(sessionID, buf)
	case codec.OpConfigInstanceRecycleBuf:
		return d.handleRecycleBuf(sessionID, buf)
	case codec.OpConfigSessionKeepAlive:
		return d.handleKeepAlive(sessionID, buf)
	case codec.OpWriteInstance:
		return d.handleWriteInstance(sessionID, len(buf))
	default:
		return 0, fmt.Errorf("testdevice: unsupported write opcode %s", opcode)
	}
}

func (d *Device) handleOpenGetSid(kind codec.InstanceType, resp []byte) (int, error) {
	d.mu.Lock()
	d.nextSID++
	sid := d.nextSID
	ts := uint64(sid)*0x1000 + 1
	if d.forcedNextTimestamp != nil {
		ts = *d.forcedNextTimestamp
		d.forcedNextTimestamp = nil
	}
	st := &sessionState{
		sessionID:        sid,
		sessionTimestamp: ts,
		kind:             kind,
		open:             true,
		writeBufAvail:    d.DefaultWriteBufAvail,
		readBufAvail:     d.DefaultReadBufAvail,
		streamWidth:      1920,
		streamHeight:     1080,
		streamBitDepth:   1,
		recycleIndex:     -1,
	}
	d.sessions[sid] = st
	d.mu.Unlock()

	enc := codec.NewEncoder()
	_ = enc.PutUint16(sid)
	_ = enc.PutUint64(st.sessionTimestamp)
	copy(resp, enc.Bytes())
	return 0, nil
}

func (d *Device) session(sessionID uint16) *sessionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[sessionID]
}

func (d *Device) handleQueryWbuf(sessionID uint16, resp []byte) (int, error) {
	st := d.session(sessionID)
	if st == nil {
		return 1, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	enc := codec.NewEncoder()
	_ = enc.PutUint32(st.writeBufAvail)
	copy(resp, enc.Bytes())
	return 0, nil
}

func (d *Device) handleQueryRbuf(sessionID uint16, resp []byte) (int, error) {
	st := d.session(sessionID)
	if st == nil {
		return 1, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	enc := codec.NewEncoder()
	_ = enc.PutUint32(st.readBufAvail)
	_ = enc.PutBool(st.readFlushed)
	copy(resp, enc.Bytes())
	return 0, nil
}

func (d *Device) handleQueryStreamInfo(sessionID uint16, resp []byte) (int, error) {
	st := d.session(sessionID)
	if st == nil {
		return 1, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	enc := codec.NewEncoder()
	_ = enc.PutUint32(st.streamWidth)
	_ = enc.PutUint32(st.streamHeight)
	_ = enc.PutUint32(st.streamBitDepth)
	copy(resp, enc.Bytes())
	return 0, nil
}

func (d *Device) handleQueryInstanceStatus(sessionID uint16, resp []byte) (int, error) {
	st := d.session(sessionID)
	if st == nil {
		return 1, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	enc := codec.NewEncoder()
	_ = enc.PutUint64(st.sessionTimestamp)
	_ = enc.PutInt32(0)
	_ = enc.PutInt32(0)
	copy(resp, enc.Bytes())
	return int(st.injectedQueryStatus), nil
}

func (d *Device) handleQueryGeneralStatus(resp []byte) (int, error) {
	enc := codec.NewEncoder()
	_ = enc.PutInt32(0)
	copy(resp, enc.Bytes())
	return 0, nil
}

func (d *Device) handleCloseQuery(sessionID uint16, resp []byte) (int, error) {
	st := d.session(sessionID)
	if st == nil {
		return 1, nil
	}
	st.mu.Lock()
	st.closed = true
	st.open = false
	st.mu.Unlock()
	enc := codec.NewEncoder()
	_ = enc.PutBool(true)
	copy(resp, enc.Bytes())
	return 0, nil
}

func (d *Device) handleQueryBufInfo(resp []byte) (int, error) {
	enc := codec.NewEncoder()
	_ = enc.PutUint32(1)
	copy(resp, enc.Bytes())
	return 0, nil
}

// handleQueryUploadID hands out the next frame-pool slot: a recycled slot
// (if any are free) before a fresh one, mirroring a real pool's preference
// for reuse over growth.
func (d *Device) handleQueryUploadID(sessionID uint16, resp []byte) (int, error) {
	st := d.session(sessionID)
	if st == nil {
		return 1, nil
	}
	st.mu.Lock()
	var idx int32
	if n := len(st.freeFrameIndices); n > 0 {
		idx = st.freeFrameIndices[n-1]
		st.freeFrameIndices = st.freeFrameIndices[:n-1]
	} else {
		idx = st.nextFrameIndex
		st.nextFrameIndex++
	}
	width, height := int32(st.streamWidth), int32(st.streamHeight)
	st.mu.Unlock()

	enc := codec.NewEncoder()
	_ = enc.PutInt32(idx)
	_ = enc.PutInt32(width)
	_ = enc.PutInt32(height)
	_ = enc.PutInt32(1)
	copy(resp, enc.Bytes())
	return 0, nil
}

// handleInitFramePool records the pool size requested by Configure; the
// fake doesn't enforce the cap, and nothing reads the recorded value back.
func (d *Device) handleInitFramePool(sessionID uint16, buf []byte) (int, error) {
	st := d.session(sessionID)
	if st == nil {
		return 1, nil
	}
	dec := codec.NewDecoder(buf)
	_, _ = dec.Int32() // width
	_, _ = dec.Int32() // height
	_, _ = dec.Int32() // bitDepthFactor
	poolSize, _ := dec.Int32()
	st.mu.Lock()
	st.framePoolSize = int(poolSize)
	st.mu.Unlock()
	return 0, nil
}

// handleRecycleBuf returns a frame-pool slot to the free list so the next
// handleQueryUploadID hands it back out instead of growing the pool.
func (d *Device) handleRecycleBuf(sessionID uint16, buf []byte) (int, error) {
	st := d.session(sessionID)
	if st == nil {
		return 1, nil
	}
	dec := codec.NewDecoder(buf)
	idx, _ := dec.Int32()
	st.mu.Lock()
	st.freeFrameIndices = append(st.freeFrameIndices, idx)
	st.mu.Unlock()
	return 0, nil
}

// encodePacketTrailerSize mirrors encode.Pipeline's packetChunkHeaderSize:
// bs_frame_size(uint32) + end_of_packet(bool) + frame_type(int32) +
// frame_cycle(int32) + avg_qp(int32) + recycle_index(int32), padded to 24.
const encodePacketTrailerSize = 24

func (d *Device) handleReadInstance(sessionID uint16, resp []byte) (int, error) {
	st := d.session(sessionID)
	if st == nil {
		return 1, nil
	}
	for i := range resp {
		resp[i] = byte(i)
	}
	st.mu.Lock()
	isEncoder := st.kind == codec.InstanceEncoder
	avgQP, recycleIdx := st.avgQP, st.recycleIndex
	st.mu.Unlock()
	if isEncoder && len(resp) >= encodePacketTrailerSize {
		enc := codec.NewEncoder()
		_ = enc.PutUint32(uint32(len(resp)))
		_ = enc.PutBool(true)
		_ = enc.PutInt32(0) // frame_type
		_ = enc.PutInt32(0) // frame_cycle
		_ = enc.PutInt32(avgQP)
		_ = enc.PutInt32(recycleIdx)
		copy(resp[len(resp)-encodePacketTrailerSize:], enc.Bytes())
	}
	return 0, nil
}

func (d *Device) handleKeepAlive(sessionID uint16, _ []byte) (int, error) {
	st := d.session(sessionID)
	if st == nil {
		return 1, nil
	}
	st.mu.Lock()
	st.keepAliveCount++
	st.mu.Unlock()
	return 0, nil
}

func (d *Device) handleWriteInstance(sessionID uint16, n int) (int, error) {
	st := d.session(sessionID)
	if st == nil {
		return 1, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.injectedWriteStatus != xerr.DeviceSuccess {
		s := st.injectedWriteStatus
		st.injectedWriteStatus = xerr.DeviceSuccess
		return int(s), nil
	}
	if uint32(n) > st.writeBufAvail {
		return int(xerr.DeviceWriteBufferFull), nil
	}
	return int(xerr.DeviceSuccess), nil
}

// SetNextSessionID forces the next OpOpenGetSid allocation to report sid and
// timestamp, instead of the device's own auto-incrementing defaults, for
// tests asserting against literal device-assigned values.
func (d *Device) SetNextSessionID(sid uint16, timestamp uint64) {
	d.mu.Lock()
	d.nextSID = sid - 1
	ts := timestamp
	d.forcedNextTimestamp = &ts
	d.mu.Unlock()
}

// SetStreamInfo updates the geometry a session's OpQueryStreamInfo reports,
// simulating a mid-stream sequence change for a decoder session that has
// already produced frames at its original geometry.
func (d *Device) SetStreamInfo(sessionID uint16, width, height, bitDepth uint32) {
	st := d.session(sessionID)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.streamWidth, st.streamHeight, st.streamBitDepth = width, height, bitDepth
	st.mu.Unlock()
}

// SetWriteStatus makes the next OpWriteInstance write for sessionID report
// rawStatus instead of success; consumed on first use.
func (d *Device) SetWriteStatus(sessionID uint16, rawStatus xerr.DeviceStatus) {
	st := d.session(sessionID)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.injectedWriteStatus = rawStatus
	st.mu.Unlock()
}

// SetPacketMeta makes every subsequent encoder read's packet trailer report
// avgQP/recycleIndex, for tests asserting those values flow through
// parsePacketMeta into the produced Packet.
func (d *Device) SetPacketMeta(sessionID uint16, avgQP, recycleIndex int32) {
	st := d.session(sessionID)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.avgQP, st.recycleIndex = avgQP, recycleIndex
	st.mu.Unlock()
}

// SetInstanceStatus makes every subsequent OpQueryInstanceStatus query for
// sessionID report rawStatus, until changed again.
func (d *Device) SetInstanceStatus(sessionID uint16, rawStatus xerr.DeviceStatus) {
	st := d.session(sessionID)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.injectedQueryStatus = rawStatus
	st.mu.Unlock()
}

// DropSession simulates a cooperative stub unilaterally dropping sessionID
// after observing a keep-alive lapse: every subsequent instance-status query
// reports DeviceGeneralError, which the C4 classification table treats as
// fatal regardless of consecutive-failure count.
func (d *Device) DropSession(sessionID uint16) {
	d.SetInstanceStatus(sessionID, xerr.DeviceGeneralError)
}

// SetReadAvail is a test hook that simulates the device making n bytes of
// decoded/encoded output available for the next Read.
func (d *Device) SetReadAvail(sessionID uint16, n uint32, flushed bool) {
	st := d.session(sessionID)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.readBufAvail = n
	st.readFlushed = flushed
	st.mu.Unlock()
}

// KeepAliveCount returns how many keep-alive heartbeats a session has
// received, for test assertions.
func (d *Device) KeepAliveCount(sessionID uint16) int {
	st := d.session(sessionID)
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.keepAliveCount
}

// RunConcurrentSessions drives n independent fake command-processing
// functions under an errgroup.Group so multi-session integration tests can
// assert on first-error without hand-rolled channel fan-in (grounded on the
// pack's bounded-goroutine worker-pool shape, adapted to errgroup).
func RunConcurrentSessions(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error { return fn(gctx, i) })
	}
	return g.Wait()
}
