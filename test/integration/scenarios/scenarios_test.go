// Package scenarios_test runs the six named end-to-end scenarios against
// internal/testdevice's in-process fake, the same way the teacher's own
// test/integration suites run against a fixture standing in for an external
// service it can't meaningfully mock at the unit level. Unlike those
// suites this one carries no //go:build integration tag: the fixture here
// is an in-memory fake, not a container, so there's no reason to gate it
// out of a normal `go test ./...` run.
package scenarios_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsball-ai/go-xcoder-session/internal/testdevice"
	"github.com/sportsball-ai/go-xcoder-session/internal/transport"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/decode"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/encode"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/hwframe"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/keepalive"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/xerr"
)

// withKeepAlive wires session.Open's StartKeepAlive hook to the real
// keepalive engine, the way a production caller would (openSmokeTestSession
// deliberately skips this so smoke-test sessions stay quiet).
func withKeepAlive(opts session.OpenOptions) session.OpenOptions {
	opts.StartKeepAlive = func(args *session.KeepAliveArgs, t transport.DeviceTransport) chan struct{} {
		return keepalive.Start(args, t, nil)
	}
	return opts
}

// S1: decoding a single H.264 frame reproduces the device-assigned session
// identity and echoes the packet's PTS/DTS through to the decoded frame.
func TestScenarioDecodeSingleFrame(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	dev.SetNextSessionID(0x0041, 0xDEADBEEF)

	sctx := session.New(session.Decoder)
	require.NoError(t, session.Open(context.Background(), sctx, session.OpenOptions{
		Transport: dev,
		Pool:      dev,
		Config:    session.OpenConfig{CodecFormat: session.H264},
	}))

	sctx.Lock()
	sid := sctx.SessionID
	ts := sctx.SessionTimestamp
	sctx.Unlock()
	assert.Equal(t, uint16(0x0041), sid)
	assert.Equal(t, uint64(0xDEADBEEF), ts)

	p := decode.New(dev, sctx)
	require.NoError(t, p.Write(context.Background(), decode.WriteInput{
		Payload: []byte("s1-h264-nalu"),
		PTS:     1000,
		DTS:     500,
	}))

	dev.SetReadAvail(sid, 128, false)
	out, err := p.Read(context.Background())
	require.NoError(t, err)
	require.True(t, out.HaveData)

	assert.Equal(t, int64(1000), out.Frame.PTS)
	assert.Equal(t, int64(500), out.Frame.DTS)
	assert.Equal(t, 1920, out.Frame.Geometry.Width)
	assert.Equal(t, 1080, out.Frame.Geometry.Height)

	sctx.Lock()
	assert.Equal(t, uint64(1), sctx.FrameNum)
	assert.Equal(t, uint64(1), sctx.PktNum)
	sctx.Unlock()
}

// S2: flushing 120 encoded frames yields exactly 120 packets with
// non-decreasing PTS, tracking each packet back to the frame that produced
// it via the pipeline's submission-order PTS queue.
func TestScenarioEncodeFlushProducesMonotonicPackets(t *testing.T) {
	dev := testdevice.NewDevice([]string{"encoder"}, 1)
	sctx := session.New(session.Encoder)
	require.NoError(t, session.Open(context.Background(), sctx, session.OpenOptions{Transport: dev, Pool: dev}))

	sctx.Lock()
	sid := sctx.SessionID
	sctx.Unlock()

	p := encode.New(dev, sctx, false, false)
	dev.SetReadAvail(sid, 8, false) // page-aligned read carries the device's end_of_packet trailer: one packet per Read

	const frameCount = 120
	for i := 0; i < frameCount; i++ {
		frame := session.Frame{Planes: [4][]byte{[]byte("frame-bytes")}, PTS: int64(i * 33)}
		if i == frameCount-1 {
			frame.EndOfStream = true
		}
		require.NoError(t, p.Write(context.Background(), frame))
	}

	var lastPTS int64 = -1
	packets := 0
	for i := 0; i < frameCount; i++ {
		out, err := p.Read(context.Background())
		require.NoError(t, err)
		require.True(t, out.HaveData)
		assert.GreaterOrEqual(t, out.Packet.PTS, lastPTS)
		lastPTS = out.Packet.PTS
		packets++
	}
	assert.Equal(t, frameCount, packets)

	sctx.Lock()
	assert.True(t, sctx.ReadyToClose)
	assert.Equal(t, uint64(frameCount), sctx.PktNum)
	sctx.Unlock()
}

// S3: a mid-stream sequence change (1280x720 -> 1920x1080) is reported as a
// SeqChange notification, and the session's frame pool is reallocated
// exactly once as a result — not on every subsequent read at the new
// geometry.
func TestScenarioDecodeSequenceChangeReallocatesPoolOnce(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	sctx := session.New(session.Decoder)
	require.NoError(t, session.Open(context.Background(), sctx, session.OpenOptions{Transport: dev, Pool: dev}))

	sctx.Lock()
	sid := sctx.SessionID
	sctx.Unlock()
	dev.SetStreamInfo(sid, 1280, 720, 1)

	p := decode.New(dev, sctx)
	dev.SetReadAvail(sid, 128, false)

	// 49 ordinary frames at the original geometry (standing in for packets
	// 1-49; the scenario's "packet 50" is where the change below lands).
	for i := 0; i < 49; i++ {
		out, err := p.Read(context.Background())
		require.NoError(t, err)
		require.True(t, out.HaveData)
	}

	sctx.Lock()
	poolBefore := sctx.Pool
	assert.Equal(t, 1280, sctx.Geometry.Width)
	sctx.Unlock()

	// Packet 50: the device reports a metadata-only sequence-change notice,
	// then the new geometry.
	dev.SetReadAvail(sid, 32, false)
	out, err := p.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, out.SeqChange)

	dev.SetStreamInfo(sid, 1920, 1080, 1)
	dev.SetReadAvail(sid, 128, false)
	out, err = p.Read(context.Background())
	require.NoError(t, err)
	require.True(t, out.HaveData)
	assert.Equal(t, 1920, out.Frame.Geometry.Width)
	assert.Equal(t, 1080, out.Frame.Geometry.Height)

	sctx.Lock()
	poolAfter := sctx.Pool
	sctx.Unlock()
	assert.NotSame(t, poolBefore, poolAfter)

	// A further read at the same (now current) geometry must not trigger a
	// second reallocation.
	out, err = p.Read(context.Background())
	require.NoError(t, err)
	require.True(t, out.HaveData)

	sctx.Lock()
	poolStill := sctx.Pool
	sctx.Unlock()
	assert.Same(t, poolAfter, poolStill)
}

// S4: uploading through a 4-slot hw-frame pool hands out distinct
// frame_index values, and recycling a surface makes its slot available for
// reuse on the next fetch.
func TestScenarioHwFrameUploadPoolRecyclesSlots(t *testing.T) {
	dev := testdevice.NewDevice([]string{"uploader"}, 1)
	sctx := session.New(session.Uploader)
	require.NoError(t, session.Open(context.Background(), sctx, session.OpenOptions{Transport: dev, Pool: dev}))

	p := hwframe.New(dev, sctx, nil)
	require.NoError(t, p.Configure(context.Background(), hwframe.PoolConfig{
		Width: 1920, Height: 1080, BitDepthFactor: 1, PoolSize: 4,
	}))

	surfaces := make([]*session.HwFrameSurface, 4)
	seen := map[int]bool{}
	for i := range surfaces {
		surf, err := p.Fetch(context.Background())
		require.NoError(t, err)
		require.False(t, seen[surf.FrameIndex], "frame_index %d reused before any recycle", surf.FrameIndex)
		seen[surf.FrameIndex] = true
		surfaces[i] = surf
	}

	recycled := surfaces[1]
	require.NoError(t, p.RecycleSurface(context.Background(), recycled))

	reused, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, recycled.FrameIndex, reused.FrameIndex)
}

// S5: a VPU-recovery status on decode Write invalidates the session (the
// next Write returns InvalidSession) without disturbing the keep-alive
// goroutine, and Close still completes without error.
func TestScenarioVpuRecoveryInvalidatesSessionButKeepAliveSurvives(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	sctx := session.New(session.Decoder)
	sctx.KeepAliveTimeout = 200 * time.Millisecond
	require.NoError(t, session.Open(context.Background(), sctx, withKeepAlive(session.OpenOptions{Transport: dev, Pool: dev})))

	sctx.Lock()
	sid := sctx.SessionID
	sctx.Unlock()

	p := decode.New(dev, sctx)
	dev.SetWriteStatus(sid, xerr.DeviceVpuRecovery)

	err := p.Write(context.Background(), decode.WriteInput{Payload: []byte("x"), PTS: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.Sentinel(xerr.Recovery)))

	sctx.Lock()
	assert.Equal(t, session.InvalidSessionID, sctx.SessionID)
	assert.Equal(t, session.StateFailed, sctx.State)
	args := sctx.KeepAliveArgs()
	sctx.Unlock()
	require.NotNil(t, args)
	assert.False(t, args.CloseThread(), "keep-alive goroutine must keep running through a VPU-recovery write")

	err = p.Write(context.Background(), decode.WriteInput{Payload: []byte("y"), PTS: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.Sentinel(xerr.InvalidSession)))

	assert.NoError(t, session.Close(context.Background(), sctx, dev, dev))
}

// S6: when the cooperative stub drops a session (reporting a persistent
// fatal instance status), the keep-alive goroutine observes it at the next
// heartbeat and stops itself, and the following Read reports InvalidSession
// rather than hanging or panicking.
func TestScenarioKeepAliveObservesDroppedSession(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	sctx := session.New(session.Decoder)
	// The scenario's literal keep_alive_timeout is 3_000_000us (3s); scaled
	// down here so the heartbeat period (timeout/3) fires within a test's
	// patience without changing the ratio the keep-alive engine depends on.
	sctx.KeepAliveTimeout = 30 * time.Millisecond
	require.NoError(t, session.Open(context.Background(), sctx, withKeepAlive(session.OpenOptions{Transport: dev, Pool: dev})))

	sctx.Lock()
	sid := sctx.SessionID
	sctx.Unlock()

	dev.DropSession(sid)

	require.Eventually(t, func() bool {
		args := sctx.KeepAliveArgs()
		return args != nil && args.CloseThread()
	}, time.Second, 5*time.Millisecond, "keep-alive goroutine never observed the dropped session")

	p := decode.New(dev, sctx)
	_, err := p.Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.Sentinel(xerr.InvalidSession)))

	assert.NoError(t, session.Close(context.Background(), sctx, dev, dev))
}
