package controlplane_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsball-ai/go-xcoder-session/internal/testdevice"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/controlplane"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
)

func openedSession(t *testing.T) (*testdevice.Device, *session.Context) {
	t.Helper()
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	sctx := session.New(session.Decoder)
	require.NoError(t, session.Open(context.Background(), sctx, session.OpenOptions{Transport: dev, Pool: dev}))
	return dev, sctx
}

func TestLookupUnregisteredSessionMisses(t *testing.T) {
	reg := controlplane.NewRegistry()

	_, ok := reg.Lookup(1)
	assert.False(t, ok)
}

func TestRegisterLookupRoundTrip(t *testing.T) {
	_, sctx := openedSession(t)
	reg := controlplane.NewRegistry()

	reg.Register(sctx)

	sctx.Lock()
	id := sctx.SessionID
	sctx.Unlock()

	got, ok := reg.Lookup(id)
	require.True(t, ok)
	assert.Same(t, sctx, got)
}

func TestRegisterSkipsUnopenedSession(t *testing.T) {
	sctx := session.New(session.Decoder)
	reg := controlplane.NewRegistry()

	reg.Register(sctx)

	assert.Empty(t, reg.Snapshot())
}

func TestUnregisterRemovesSession(t *testing.T) {
	_, sctx := openedSession(t)
	reg := controlplane.NewRegistry()
	reg.Register(sctx)

	sctx.Lock()
	id := sctx.SessionID
	sctx.Unlock()

	reg.Unregister(id)

	_, ok := reg.Lookup(id)
	assert.False(t, ok)
}

func TestSnapshotReflectsCurrentFieldValues(t *testing.T) {
	_, sctx := openedSession(t)
	reg := controlplane.NewRegistry()
	reg.Register(sctx)

	sctx.Lock()
	sctx.FrameNum = 7
	sctx.PktNum = 3
	sctx.ConsecutiveFailures = 2
	sctx.ReadyToClose = true
	id := sctx.SessionID
	sctx.Unlock()

	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	summary := snap[0]
	assert.Equal(t, id, summary.SessionID)
	assert.Equal(t, "decoder", summary.DeviceType)
	assert.Equal(t, uint64(7), summary.FrameNum)
	assert.Equal(t, uint64(3), summary.PktNum)
	assert.Equal(t, 2, summary.ConsecutiveFailures)
	assert.True(t, summary.ReadyToClose)
}

func TestSnapshotAggregatesMultipleSessions(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 2)
	reg := controlplane.NewRegistry()

	for i := 0; i < 2; i++ {
		sctx := session.New(session.Decoder)
		require.NoError(t, session.Open(context.Background(), sctx, session.OpenOptions{Transport: dev, Pool: dev}))
		reg.Register(sctx)
	}

	assert.Len(t, reg.Snapshot(), 2)
}

func TestRegistryConcurrentRegisterUnregister(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 8)
	reg := controlplane.NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sctx := session.New(session.Decoder)
			if err := session.Open(context.Background(), sctx, session.OpenOptions{Transport: dev, Pool: dev}); err != nil {
				return
			}
			reg.Register(sctx)
			sctx.Lock()
			id := sctx.SessionID
			sctx.Unlock()
			reg.Unregister(id)
		}()
	}
	wg.Wait()

	assert.Empty(t, reg.Snapshot())
}
