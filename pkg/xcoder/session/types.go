// Package session implements the Session Coordinator (C10) and Session
// Lifecycle (C6): the SessionContext root entity, its state bitmask and
// mutex discipline, and the Open/Close sequences that allocate and tear
// down a device-side session.
package session

import (
	"sync"
	"time"

	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/buffer"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/codec"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/metrics"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/timestamp"
)

// DeviceKind is the sum type over device_type (SPEC_FULL.md §9 Design
// Notes: "model this as a sum type DeviceKind{...} with a per-variant
// strategy record").
type DeviceKind int

const (
	Decoder DeviceKind = iota
	Encoder
	Scaler
	AI
	Uploader
)

func (k DeviceKind) String() string {
	switch k {
	case Decoder:
		return "decoder"
	case Encoder:
		return "encoder"
	case Scaler:
		return "scaler"
	case AI:
		return "ai"
	case Uploader:
		return "uploader"
	default:
		return "unknown"
	}
}

func (k DeviceKind) InstanceType() codec.InstanceType {
	switch k {
	case Decoder, Uploader:
		return codec.InstanceDecoder
	case Encoder:
		return codec.InstanceEncoder
	case Scaler:
		return codec.InstanceScaler
	case AI:
		return codec.InstanceAI
	default:
		return codec.InstanceDecoder
	}
}

// CodecFormat identifies the bitstream format a decoder/encoder session
// operates on.
type CodecFormat int

const (
	H264 CodecFormat = iota
	H265
	AV1
	JPEG
	VP9
)

// RunState is the context's run-state, distinct from the coarser open/close
// lifecycle State below.
type RunState int

const (
	RunNormal RunState = iota
	RunResetting
	RunSeqChangeDraining
	RunSeqChangeBuffering
)

// State is the coarse session lifecycle state machine of SPEC_FULL.md §4.6.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateBit is a bit of the xcoder_state admission bitmask (SPEC_FULL.md
// §3/§4.10): any subset may be asserted concurrently.
type StateBit uint32

const (
	BitOpen StateBit = 1 << iota
	BitClose
	BitRead
	BitWrite
	BitFlush
	BitHwDl
	BitHwUp
	BitGeneral
)

// Geometry is the active frame geometry for a session.
type Geometry struct {
	Width, Height  int
	BitDepthFactor int
	PixelFormat    int
	BigEndian      bool
	Planar         bool
}

// Empty reports whether the geometry has never been set.
func (g Geometry) Empty() bool { return g.Width == 0 && g.Height == 0 }

// InvalidSessionID is re-exported for convenience; see codec.InvalidSessionID.
const InvalidSessionID = codec.InvalidSessionID

// HwFrameSurface is the fixed-shape descriptor naming an on-device frame
// slot (SPEC_FULL.md §3). It is the only entity whose ownership is split
// between host and device: every surface handed to the host must be
// recycled exactly once.
type HwFrameSurface struct {
	FrameIndex   int
	InstanceID   string
	SessionID    uint16
	EncodingType CodecFormat
	Width        int
	Height       int
	BitDepth     int
	Planar       bool
	DeviceHandle any
	DmaBufFD     int // -1 if not exported
	p2pLocked    bool
	recycled     bool
}

// P2PLocked reports whether this surface still holds a P2P read-fence lock
// that must be released before recycle.
func (s *HwFrameSurface) P2PLocked() bool { return s.p2pLocked }

// ClearP2PLock marks the P2P read-fence as released.
func (s *HwFrameSurface) ClearP2PLock() { s.p2pLocked = false }

// SetP2PLocked marks the surface as holding an attached P2P read fence.
func (s *HwFrameSurface) SetP2PLocked() { s.p2pLocked = true }

// Recycled reports whether RecycleSurface has already been called for this
// surface; a true result on a second call is a host-side bug (SPEC_FULL.md
// §4.9 "Recycle protocol").
func (s *HwFrameSurface) Recycled() bool { return s.recycled }

// MarkRecycled records that this surface has been returned to the device.
func (s *HwFrameSurface) MarkRecycled() { s.recycled = true }

// AuxKind identifies the type of auxiliary side-data entry attached to a
// Frame.
type AuxKind int

const (
	AuxMasteringDisplay AuxKind = iota
	AuxContentLightLevel
	AuxClosedCaptions
	AuxUnregisteredSEI
	AuxVUI
	AuxROIMap
	AuxReconfigRequest
	AuxHDR10Plus
)

// AuxData is one typed auxiliary side-data entry on a Frame.
type AuxData struct {
	Kind    AuxKind
	Payload []byte
}

// Frame is the decode-pipeline output / encode-pipeline input container.
type Frame struct {
	Planes   [4][]byte
	Surface  *HwFrameSurface // non-nil when Planes[3] carries a hw descriptor
	Backing  *buffer.Buf
	Geometry Geometry
	PTS      int64
	DTS      int64
	PictType int
	SeqChange bool
	EndOfStream bool
	Aux      []AuxData
}

// PacketRotationSlot is one AV1 multi-chunk rotation buffer.
type PacketRotationSlot struct {
	Backing *buffer.Buf
	Size    int
	Length  int
}

// MaxAV1RotationBuffers bounds the AV1 rotation slot capacity (SPEC_FULL.md
// §9 Open Questions decision).
const MaxAV1RotationBuffers = 32

// Packet is the encode-pipeline output / decode-pipeline input container.
type Packet struct {
	Backing      *buffer.Buf
	Rotation     []PacketRotationSlot // AV1 only; len <= rotationCapacity
	rotationCap  int
	PTS          int64
	DTS          int64
	FrameType    int
	AverageQP    int
	RecycleIndex int
	EndOfStream  bool
	StartOfStream bool
}

// WithRotationCapacity overrides this packet's AV1 rotation buffer capacity
// (default MaxAV1RotationBuffers).
func (p *Packet) WithRotationCapacity(n int) *Packet {
	if n > 0 && n <= MaxAV1RotationBuffers {
		p.rotationCap = n
	}
	return p
}

func (p *Packet) rotationCapacity() int {
	if p.rotationCap > 0 {
		return p.rotationCap
	}
	return MaxAV1RotationBuffers
}

// PendingReconfig holds the encoder reconfiguration fields set by the
// Reconfig* public API calls, applied atomically under the context mutex on
// the next Write (SPEC_FULL.md §4.8 step 3).
type PendingReconfig struct {
	TargetBitrate      *uint32
	ForceIdrFrame      bool
	LtrToSet           *uint32
	LtrInterval        *uint32
	LtrFrameRefInvalid *uint32
	Framerate          *float64
}

// Clear resets all pending fields after they have been applied.
func (r *PendingReconfig) Clear() { *r = PendingReconfig{} }

// Any reports whether any field is pending.
func (r *PendingReconfig) Any() bool {
	return r.TargetBitrate != nil || r.ForceIdrFrame || r.LtrToSet != nil ||
		r.LtrInterval != nil || r.LtrFrameRefInvalid != nil || r.Framerate != nil
}

// KeepAliveArgs is the immutable-after-publish handoff to the keep-alive
// goroutine (SPEC_FULL.md §3, §9 "Cyclic ownership"): the goroutine never
// dereferences the Context, only this snapshot. CloseThread is the one
// permitted cross-goroutine mutation point, so it is an atomic-style bool
// guarded by its own mutex rather than a field on Context.
type KeepAliveArgs struct {
	SessionID        uint16
	SessionTimestamp uint64
	DeviceKind       DeviceKind
	Handle           any
	Scratch          *buffer.Buf
	Timeout          time.Duration
	Metrics          metrics.SessionMetrics

	mu          sync.Mutex
	closeThread bool
}

// CloseThread reports whether the keep-alive goroutine has been asked to
// stop, or has stopped itself after a fatal classification.
func (a *KeepAliveArgs) CloseThread() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeThread
}

// SetCloseThread requests (or records) keep-alive goroutine shutdown.
func (a *KeepAliveArgs) SetCloseThread(v bool) {
	a.mu.Lock()
	a.closeThread = v
	a.mu.Unlock()
}

// Context is the SessionContext root entity (SPEC_FULL.md §3). All mutation
// happens under mu; callers never touch fields directly.
type Context struct {
	mu sync.Mutex

	Transport any // transport.DeviceTransport, typed any to avoid an import cycle with internal/transport in tests
	Handle    any
	BlockIO   any

	InstanceID string
	SessionID  uint16
	SessionTimestamp uint64

	DeviceKind  DeviceKind
	CodecFormat CodecFormat
	Geometry    Geometry

	State    State
	RunState RunState

	FrameNum uint64
	PktNum   uint64

	stateBits StateBit

	ReadyToClose bool
	ConsecutiveFailures int

	KeepAliveTimeout time.Duration
	keepAliveArgs    *KeepAliveArgs
	keepAliveDone    chan struct{}

	Pool         *buffer.Pool
	Timestamps   *timestamp.Store
	Pending      PendingReconfig
	SavedHeaders []byte

	DiagDumpDir string

	Metrics metrics.SessionMetrics
}

// New constructs a Closed, unopened Context for the given device kind.
func New(kind DeviceKind) *Context {
	return &Context{
		DeviceKind: kind,
		SessionID:  InvalidSessionID,
		State:      StateClosed,
	}
}

// Lock acquires the context mutex. Exposed for the decode/encode packages,
// which live in separate packages from session but must participate in the
// same mutex discipline described in SPEC_FULL.md §4.10.
func (c *Context) Lock() { c.mu.Lock() }

// Unlock releases the context mutex.
func (c *Context) Unlock() { c.mu.Unlock() }

// StateBits returns the current xcoder_state bitmask.
func (c *Context) StateBits() StateBit { return c.stateBits }

// SetBit ORs a bit into the state bitmask. Must be called with the mutex
// held.
func (c *Context) SetBit(b StateBit) { c.stateBits |= b }

// ClearBit AND-NOTs a bit out of the state bitmask. Must be called with the
// mutex held.
func (c *Context) ClearBit(b StateBit) { c.stateBits &^= b }

// HasBit reports whether b is asserted. Must be called with the mutex held.
func (c *Context) HasBit(b StateBit) bool { return c.stateBits&b != 0 }

// Idle reports whether no bit beyond BitGeneral bookkeeping is asserted —
// used by the "xcoder_state == Idle implies no inner retry loop is running"
// invariant in tests.
func (c *Context) Idle() bool {
	return c.stateBits&(BitOpen|BitClose|BitRead|BitWrite|BitFlush|BitHwDl|BitHwUp) == 0
}

// IsOpen reports whether a device-side session exists for this context.
func (c *Context) IsOpen() bool { return c.SessionID != InvalidSessionID }

// KeepAliveArgs returns the published snapshot handed to the keep-alive
// goroutine, or nil if no session is open.
func (c *Context) KeepAliveArgs() *KeepAliveArgs { return c.keepAliveArgs }
