package buffer

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	assert.Equal(t, MemPageAlignment, AlignUp(0))
	assert.Equal(t, MemPageAlignment, AlignUp(1))
	assert.Equal(t, MemPageAlignment, AlignUp(MemPageAlignment))
	assert.Equal(t, 2*MemPageAlignment, AlignUp(MemPageAlignment+1))
}

func TestAllocFreeStandalone(t *testing.T) {
	b := Alloc(1000)
	require.NotNil(t, b)
	assert.Equal(t, 1000, b.Len())
	assert.GreaterOrEqual(t, len(b.Bytes()), 1000)
	assert.Nil(t, b.Pool())

	addr := uintptr(unsafe.Pointer(&b.Bytes()[0]))
	assert.Equal(t, uintptr(0), addr%MemPageAlignment, "Alloc must return page-aligned storage")

	Free(b)
	assert.Nil(t, b.Bytes())
}

func TestFreeOnPoolOwnedBufIsNoop(t *testing.T) {
	p := NewPool(64)
	b := p.Acquire()
	Free(b) // must not panic or corrupt pool bookkeeping
	assert.NotNil(t, b.Bytes())
	p.Release(b)
}

func TestPoolAcquireReleaseReusesBackingStorage(t *testing.T) {
	p := NewPool(128)
	b1 := p.Acquire()
	raw1 := b1.Bytes()
	p.Release(b1)
	assert.Equal(t, int64(0), p.Outstanding())

	b2 := p.Acquire()
	assert.Equal(t, int64(1), p.Outstanding())
	// same backing slice re-handed out from the free-list
	assert.Equal(t, &raw1[0], &b2.Bytes()[0])
	p.Release(b2)
}

func TestPoolReleaseDoesNotZeroBuffer(t *testing.T) {
	p := NewPool(16)
	b := p.Acquire()
	for i := range b.Bytes() {
		b.Bytes()[i] = 0xFF
	}
	p.Release(b)

	b2 := p.Acquire()
	allSet := true
	for _, v := range b2.Bytes()[:16] {
		if v != 0xFF {
			allSet = false
		}
	}
	assert.True(t, allSet, "Release must not zero the returned buffer")
}

func TestPoolDrainDiscardsFreeListWhenIdle(t *testing.T) {
	p := NewPool(32)
	b := p.Acquire()
	p.Release(b)

	p.Drain()

	p.mu.Lock()
	free := len(p.free)
	p.mu.Unlock()
	assert.Equal(t, 0, free)
}

func TestPoolDrainWaitsForOutstandingLoans(t *testing.T) {
	p := NewPool(32)
	b := p.Acquire()

	p.Drain()
	assert.Equal(t, int64(1), p.Outstanding())

	p.Release(b)
	assert.Equal(t, int64(0), p.Outstanding())
}

func TestPoolReleaseForeignBufIsNoop(t *testing.T) {
	p1 := NewPool(16)
	p2 := NewPool(16)
	b := p1.Acquire()

	p2.Release(b) // must not touch p1's loan count
	assert.Equal(t, int64(1), p1.Outstanding())
}

func TestPoolBufferSizeIsAligned(t *testing.T) {
	p := NewPool(1)
	assert.Equal(t, MemPageAlignment, p.BufferSize())
}
