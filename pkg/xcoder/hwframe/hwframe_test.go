package hwframe_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsball-ai/go-xcoder-session/internal/testdevice"
	"github.com/sportsball-ai/go-xcoder-session/internal/transport"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/hwframe"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
)

func openedUploader(t *testing.T) (*testdevice.Device, *session.Context, *hwframe.Pipeline) {
	t.Helper()
	dev := testdevice.NewDevice([]string{"uploader"}, 1)
	sctx := session.New(session.Uploader)
	require.NoError(t, session.Open(context.Background(), sctx, session.OpenOptions{Transport: dev, Pool: dev}))
	return dev, sctx, hwframe.New(dev, sctx, nil)
}

func TestConfigureSucceeds(t *testing.T) {
	_, _, p := openedUploader(t)
	err := p.Configure(context.Background(), hwframe.PoolConfig{Width: 1920, Height: 1080, BitDepthFactor: 1, PoolSize: 4})
	require.NoError(t, err)
}

func TestConsecutiveWritesSucceed(t *testing.T) {
	_, _, p := openedUploader(t)

	require.NoError(t, p.Write(context.Background(), []byte("frame-one")))
	require.NoError(t, p.Write(context.Background(), []byte("frame-two")))
}

func TestFetchReturnsSurfaceFromUploadIdQuery(t *testing.T) {
	_, sctx, p := openedUploader(t)

	surf, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, surf)

	sctx.Lock()
	assert.Equal(t, sctx.SessionID, surf.SessionID)
	assert.Equal(t, sctx.InstanceID, surf.InstanceID)
	sctx.Unlock()
	assert.Equal(t, 1920, surf.Width)
	assert.Equal(t, 1080, surf.Height)
	assert.Equal(t, -1, surf.DmaBufFD)
	assert.False(t, surf.P2PLocked())
}

func TestRecycleSurfaceMarksRecycled(t *testing.T) {
	_, _, p := openedUploader(t)

	surf, err := p.Fetch(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.RecycleSurface(context.Background(), surf))
	assert.True(t, surf.Recycled())
}

func TestRecycleSurfaceTwiceFails(t *testing.T) {
	_, _, p := openedUploader(t)

	surf, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.RecycleSurface(context.Background(), surf))

	err = p.RecycleSurface(context.Background(), surf)
	require.Error(t, err)
}

func TestDownloadCopiesRequestedLength(t *testing.T) {
	_, _, p := openedUploader(t)

	buf := make([]byte, 64)
	n, err := p.Download(context.Background(), 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 64, n)
}

// recordingFence fakes transport.P2PFence, granting a fence on every
// attach attempt so Fetch/RecycleSurface exercise the P2P lock/unlock path.
type recordingFence struct {
	exportCalls, attachCalls, signalCalls int
}

func (f *recordingFence) ExportDmaBuf(ctx context.Context, handle transport.Handle, frameIndex int) (int, error) {
	f.exportCalls++
	return 7, nil
}

func (f *recordingFence) AttachReadFence(ctx context.Context, fd int) error {
	f.attachCalls++
	return nil
}

func (f *recordingFence) SignalReadFence(ctx context.Context, fd int) error {
	f.signalCalls++
	return nil
}

func (f *recordingFence) IssueRequest(ctx context.Context, fd int, data []byte, toDevice bool) error {
	return nil
}

func TestFetchWithP2PFenceLocksSurface(t *testing.T) {
	dev := testdevice.NewDevice([]string{"uploader"}, 1)
	sctx := session.New(session.Uploader)
	require.NoError(t, session.Open(context.Background(), sctx, session.OpenOptions{Transport: dev, Pool: dev}))
	fence := &recordingFence{}
	p := hwframe.New(dev, sctx, fence)

	surf, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, surf.P2PLocked())
	assert.Equal(t, 7, surf.DmaBufFD)
	assert.Equal(t, 1, fence.exportCalls)
	assert.Equal(t, 1, fence.attachCalls)

	require.NoError(t, p.RecycleSurface(context.Background(), surf))
	assert.False(t, surf.P2PLocked())
	// once to release the P2P read fence, once more as RecycleSurface's own
	// post-write signal, sent because the surface has a DMA-buf fd and a
	// fence is configured.
	assert.Equal(t, 2, fence.signalCalls)
}
