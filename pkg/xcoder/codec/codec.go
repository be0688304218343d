// Package codec implements the command channel's wire encoding (C1): packing
// the (opcode, session-id, instance-type, sub-op) tuple into the NVMe LBA
// field, and encoding/decoding the big-endian multi-byte scalars that flow
// in command payloads.
//
// This is not RFC 4506 XDR framing — there is no length-prefixed opaque data
// or 4-byte padding rule here, just flat big-endian scalars packed into a
// fixed wire struct per opcode. The helpers below intentionally mirror the
// shape of an XDR encoder (bytes.Buffer + binary.Write) without its framing
// rules, since the device's command payloads are fixed-layout structs, not
// self-describing XDR values.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Opcode names the command-channel operation. The bit layout that packs
// these into an LBA is device-firmware private (SPEC_FULL.md §9 Open
// Questions); this package fixes only the functional tuple.
type Opcode uint8

const (
	OpOpenGetSid Opcode = iota + 1
	OpOpenSession
	OpCloseSession
	OpReadInstance
	OpWriteInstance
	OpQueryStreamInfo
	OpQueryInstanceBufInfo
	OpQueryInstanceStatus
	OpQueryGeneralStatus
	OpConfigInstanceSos
	OpConfigInstanceEos
	OpConfigInstanceSetPktSize
	OpConfigInstanceSetEncPara
	OpConfigInstanceRecycleBuf
	OpConfigInstanceInitFramePool
	OpConfigSessionKeepAlive
	OpConfigSessionKeepAliveTimeout
	OpConfigSessionWrite
	OpQueryInstanceUploadId
	OpQueryInstanceRbuffSize
	OpQueryInstanceWbuffSize
)

func (o Opcode) String() string {
	switch o {
	case OpOpenGetSid:
		return "OpenGetSid"
	case OpOpenSession:
		return "OpenSession"
	case OpCloseSession:
		return "CloseSession"
	case OpReadInstance:
		return "ReadInstance"
	case OpWriteInstance:
		return "WriteInstance"
	case OpQueryStreamInfo:
		return "QueryStreamInfo"
	case OpQueryInstanceBufInfo:
		return "QueryInstanceBufInfo"
	case OpQueryInstanceStatus:
		return "QueryInstanceStatus"
	case OpQueryGeneralStatus:
		return "QueryGeneralStatus"
	case OpConfigInstanceSos:
		return "ConfigInstanceSos"
	case OpConfigInstanceEos:
		return "ConfigInstanceEos"
	case OpConfigInstanceSetPktSize:
		return "ConfigInstanceSetPktSize"
	case OpConfigInstanceSetEncPara:
		return "ConfigInstanceSetEncPara"
	case OpConfigInstanceRecycleBuf:
		return "ConfigInstanceRecycleBuf"
	case OpConfigInstanceInitFramePool:
		return "ConfigInstanceInitFramePool"
	case OpConfigSessionKeepAlive:
		return "ConfigSessionKeepAlive"
	case OpConfigSessionKeepAliveTimeout:
		return "ConfigSessionKeepAliveTimeout"
	case OpConfigSessionWrite:
		return "ConfigSessionWrite"
	case OpQueryInstanceUploadId:
		return "QueryInstanceUploadId"
	case OpQueryInstanceRbuffSize:
		return "QueryInstanceRbuffSize"
	case OpQueryInstanceWbuffSize:
		return "QueryInstanceWbuffSize"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(o))
	}
}

// InstanceType identifies the device engine kind a session targets.
type InstanceType uint8

const (
	InstanceDecoder InstanceType = iota
	InstanceEncoder
	InstanceScaler
	InstanceAI
	InstanceUploader
)

// InvalidSessionID is the sentinel the device returns from OpenGetSid when
// no session could be allocated.
const InvalidSessionID uint16 = 0xFFFF

// hwFlagBit marks an LBA as carrying a hardware-frame (as opposed to
// software pixel) payload.
const hwFlagBit = 1 << 20

// EncodeLba packs (opcode, instanceType, sessionID, isHW) into a single
// 32-bit LBA. subOp is accepted but not encoded: two calls that differ only
// in subOp return the same LBA. The layout is this library's own documented choice —
// it is NOT the real device's firmware bit layout, which is private to the
// device vendor (SPEC_FULL.md §9).
//
// Layout (low to high bit):
//
//	[0:16)   session_id
//	[16:20)  instance_type
//	[20:21)  is_hw flag
//	[21:24)  reserved
//	[24:32)  opcode
func EncodeLba(opcode Opcode, sessionID uint16, instanceType InstanceType, subOp uint8, isHW bool) uint32 {
	lba := uint32(sessionID)
	lba |= uint32(instanceType&0xF) << 16
	if isHW {
		lba |= hwFlagBit
	}
	lba |= uint32(opcode) << 24
	_ = subOp // not part of the LBA layout above
	return lba
}

// DecodeLba reverses EncodeLba, for tests and diagnostics.
func DecodeLba(lba uint32) (opcode Opcode, sessionID uint16, instanceType InstanceType, isHW bool) {
	sessionID = uint16(lba & 0xFFFF)
	instanceType = InstanceType((lba >> 16) & 0xF)
	isHW = lba&hwFlagBit != 0
	opcode = Opcode(lba >> 24)
	return
}

// Encoder accumulates a command payload in network (big-endian) byte order,
// mirroring the teacher's XDR-style bytes.Buffer + binary.Write idiom
// without XDR's length-prefix/padding framing.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an empty command payload encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the accumulated payload.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int { return e.buf.Len() }

// PutUint16 appends a big-endian uint16.
func (e *Encoder) PutUint16(v uint16) error {
	if err := binary.Write(&e.buf, binary.BigEndian, v); err != nil {
		return fmt.Errorf("codec: write uint16: %w", err)
	}
	return nil
}

// PutUint32 appends a big-endian uint32.
func (e *Encoder) PutUint32(v uint32) error {
	if err := binary.Write(&e.buf, binary.BigEndian, v); err != nil {
		return fmt.Errorf("codec: write uint32: %w", err)
	}
	return nil
}

// PutUint64 appends a big-endian uint64.
func (e *Encoder) PutUint64(v uint64) error {
	if err := binary.Write(&e.buf, binary.BigEndian, v); err != nil {
		return fmt.Errorf("codec: write uint64: %w", err)
	}
	return nil
}

// PutInt32 appends a big-endian int32.
func (e *Encoder) PutInt32(v int32) error {
	if err := binary.Write(&e.buf, binary.BigEndian, v); err != nil {
		return fmt.Errorf("codec: write int32: %w", err)
	}
	return nil
}

// PutInt64 appends a big-endian int64 (used for PTS/DTS fields).
func (e *Encoder) PutInt64(v int64) error {
	if err := binary.Write(&e.buf, binary.BigEndian, v); err != nil {
		return fmt.Errorf("codec: write int64: %w", err)
	}
	return nil
}

// PutBool appends a boolean as a single byte (0 or 1).
func (e *Encoder) PutBool(v bool) error {
	var b byte
	if v {
		b = 1
	}
	return e.buf.WriteByte(b)
}

// PutBytes appends raw bytes verbatim (no length prefix, no padding — the
// caller is responsible for page-alignment via the buffer package).
func (e *Encoder) PutBytes(b []byte) error {
	if _, err := e.buf.Write(b); err != nil {
		return fmt.Errorf("codec: write bytes: %w", err)
	}
	return nil
}

// Decoder reads a command response payload in network byte order.
type Decoder struct {
	r *bytes.Reader
}

// NewDecoder wraps a response payload for field-at-a-time decoding.
func NewDecoder(payload []byte) *Decoder {
	return &Decoder{r: bytes.NewReader(payload)}
}

// Uint16 reads a big-endian uint16, converting device (network) order to
// host order (ToHostOrder for the 16-bit case).
func (d *Decoder) Uint16() (uint16, error) {
	var v uint16
	if err := binary.Read(d.r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("codec: read uint16: %w", err)
	}
	return v, nil
}

// Uint32 reads a big-endian uint32 (ToHostOrder for the 32-bit case).
func (d *Decoder) Uint32() (uint32, error) {
	var v uint32
	if err := binary.Read(d.r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("codec: read uint32: %w", err)
	}
	return v, nil
}

// Uint64 reads a big-endian uint64 (ToHostOrder for the 64-bit case; used
// for session_timestamp).
func (d *Decoder) Uint64() (uint64, error) {
	var v uint64
	if err := binary.Read(d.r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("codec: read uint64: %w", err)
	}
	return v, nil
}

// Int32 reads a big-endian int32.
func (d *Decoder) Int32() (int32, error) {
	var v int32
	if err := binary.Read(d.r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("codec: read int32: %w", err)
	}
	return v, nil
}

// Int64 reads a big-endian int64 (PTS/DTS fields).
func (d *Decoder) Int64() (int64, error) {
	var v int64
	if err := binary.Read(d.r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("codec: read int64: %w", err)
	}
	return v, nil
}

// Bool reads a single byte as a boolean.
func (d *Decoder) Bool() (bool, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("codec: read bool: %w", err)
	}
	return b != 0, nil
}

// Bytes reads exactly n raw bytes.
func (d *Decoder) Bytes(n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := d.r.Read(out); err != nil {
		return nil, fmt.Errorf("codec: read %d bytes: %w", n, err)
	}
	return out, nil
}

// ToHostOrder16/32/64 and ToDeviceOrder16/32/64 are explicit named
// round-trip helpers matching SPEC_FULL.md §4.1's ToHostOrder/ToDeviceOrder
// contract, for call sites that convert a single scalar rather than
// streaming through an Encoder/Decoder.

// ToHostOrder16 converts a device-order (big-endian) 16-bit field, read as
// raw bytes, to a host uint16.
func ToHostOrder16(b [2]byte) uint16 {
	return binary.BigEndian.Uint16(b[:])
}

// ToDeviceOrder16 converts a host uint16 to device-order (big-endian) bytes.
func ToDeviceOrder16(v uint16) [2]byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return b
}

// ToHostOrder32 converts device-order bytes to a host uint32.
func ToHostOrder32(b [4]byte) uint32 {
	return binary.BigEndian.Uint32(b[:])
}

// ToDeviceOrder32 converts a host uint32 to device-order bytes.
func ToDeviceOrder32(v uint32) [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b
}

// ToHostOrder64 converts device-order bytes to a host uint64 (used for
// session_timestamp, which must be treated as an opaque cookie — callers
// should not assume any internal structure).
func ToHostOrder64(b [8]byte) uint64 {
	return binary.BigEndian.Uint64(b[:])
}

// ToDeviceOrder64 converts a host uint64 to device-order bytes.
func ToDeviceOrder64(v uint64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b
}
