package encode_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsball-ai/go-xcoder-session/internal/testdevice"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/encode"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
)

func openedEncoder(t *testing.T, lowDelay, strictTimeout bool) (*testdevice.Device, *session.Context, *encode.Pipeline) {
	t.Helper()
	dev := testdevice.NewDevice([]string{"encoder"}, 1)
	sctx := session.New(session.Encoder)
	require.NoError(t, session.Open(context.Background(), sctx, session.OpenOptions{Transport: dev, Pool: dev}))
	return dev, sctx, encode.New(dev, sctx, lowDelay, strictTimeout)
}

func TestWriteAdvancesFrameNum(t *testing.T) {
	_, sctx, p := openedEncoder(t, false, false)

	frame := session.Frame{Planes: [4][]byte{[]byte("frame-bytes")}}
	err := p.Write(context.Background(), frame)
	require.NoError(t, err)

	sctx.Lock()
	assert.Equal(t, uint64(1), sctx.FrameNum)
	sctx.Unlock()
}

func TestWriteEndOfStreamMarksReadyToClose(t *testing.T) {
	_, sctx, p := openedEncoder(t, false, false)

	frame := session.Frame{Planes: [4][]byte{[]byte("x")}, EndOfStream: true}
	err := p.Write(context.Background(), frame)
	require.NoError(t, err)

	sctx.Lock()
	assert.True(t, sctx.ReadyToClose)
	sctx.Unlock()
}

func TestWriteRejectsHwFrameBeyondInFlightCap(t *testing.T) {
	_, sctx, p := openedEncoder(t, false, false)

	sctx.Lock()
	sctx.FrameNum = 8 // pktNum is 0, so frameNum >= pktNum+8 trips the cap
	sctx.Unlock()

	frame := session.Frame{Surface: &session.HwFrameSurface{}}
	err := p.Write(context.Background(), frame)
	require.Error(t, err)
}

func TestReadWithNoDataAvailableReturnsEmpty(t *testing.T) {
	_, _, p := openedEncoder(t, false, false)

	out, err := p.Read(context.Background())
	require.NoError(t, err)
	assert.False(t, out.HaveData)
}

func TestReadStrictTimeoutErrorsWhenEmpty(t *testing.T) {
	_, _, p := openedEncoder(t, false, true)

	_, err := p.Read(context.Background())
	require.Error(t, err)
}

func TestReadReturnsPacketWhenDataAvailable(t *testing.T) {
	dev, sctx, p := openedEncoder(t, false, false)

	sctx.Lock()
	sid := sctx.SessionID
	sctx.Unlock()
	// Read allocates a page-aligned buffer (4096 bytes for 8 available), so
	// the fake device appends its end_of_packet trailer and the response is
	// a single end-of-packet chunk.
	dev.SetReadAvail(sid, 8, false)

	out, err := p.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, out.HaveData)
	assert.Len(t, out.Packet.Rotation, 1)

	sctx.Lock()
	assert.Equal(t, uint64(1), sctx.PktNum)
	sctx.Unlock()
}

func TestReadParsesPacketMetaFromTrailer(t *testing.T) {
	dev, sctx, p := openedEncoder(t, false, false)

	sctx.Lock()
	sid := sctx.SessionID
	sctx.Unlock()
	dev.SetPacketMeta(sid, 27, 5)
	// A response at least as long as the chunk-trailer size carries a real
	// bs_frame_size/end_of_packet/frame_type/frame_cycle/avg_qp/recycle_index
	// trailer that parsePacketMeta decodes.
	dev.SetReadAvail(sid, 64, false)

	out, err := p.Read(context.Background())
	require.NoError(t, err)
	require.True(t, out.HaveData)
	assert.Equal(t, 27, out.Packet.AverageQP)
	assert.Equal(t, 5, out.Packet.RecycleIndex)
}

func TestWriteOnUnopenedSessionFails(t *testing.T) {
	dev := testdevice.NewDevice([]string{"encoder"}, 1)
	sctx := session.New(session.Encoder)
	p := encode.New(dev, sctx, false, false)

	err := p.Write(context.Background(), session.Frame{Planes: [4][]byte{[]byte("x")}})
	require.Error(t, err)
}
