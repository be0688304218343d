package keepalive_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsball-ai/go-xcoder-session/internal/testdevice"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/keepalive"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
)

func openedArgs(t *testing.T, dev *testdevice.Device, kind session.DeviceKind, timeout time.Duration) *session.KeepAliveArgs {
	t.Helper()
	sctx := session.New(kind)
	sctx.KeepAliveTimeout = timeout
	err := session.Open(context.Background(), sctx, session.OpenOptions{Transport: dev, Pool: dev})
	require.NoError(t, err)
	return sctx.KeepAliveArgs()
}

func TestStartStopsOnCloseThread(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	args := openedArgs(t, dev, session.Decoder, 30*time.Millisecond)

	done := keepalive.Start(args, dev, nil)
	args.SetCloseThread(true)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepalive goroutine did not exit after SetCloseThread(true)")
	}
}

func TestStartSendsHeartbeatBeforeTimeout(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	// Timeout/3 sets the heartbeat period; a short timeout forces at least
	// one heartbeat within the test's wait window.
	args := openedArgs(t, dev, session.Decoder, 30*time.Millisecond)

	done := keepalive.Start(args, dev, nil)
	defer func() {
		args.SetCloseThread(true)
		<-done
	}()

	assert.Eventually(t, func() bool {
		return dev.KeepAliveCount(args.SessionID) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestKeepAliveArgsCloseThreadDefaultsFalse(t *testing.T) {
	args := &session.KeepAliveArgs{}
	assert.False(t, args.CloseThread())
	args.SetCloseThread(true)
	assert.True(t, args.CloseThread())
}

func TestKeepAliveArgsScratchFreedOnClose(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	sctx := session.New(session.Decoder)
	require.NoError(t, session.Open(context.Background(), sctx, session.OpenOptions{Transport: dev, Pool: dev}))

	args := sctx.KeepAliveArgs()
	require.NotNil(t, args.Scratch)

	require.NoError(t, session.Close(context.Background(), sctx, dev, dev))
	// Close frees the scratch buffer and clears the published args entirely.
	assert.Nil(t, sctx.KeepAliveArgs())
}
