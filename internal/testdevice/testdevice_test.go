package testdevice_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsball-ai/go-xcoder-session/internal/testdevice"
	"github.com/sportsball-ai/go-xcoder-session/internal/transport"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/codec"
)

func TestPickInstanceBalancesLoad(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 2)

	first, err := dev.PickInstance(context.Background(), "decoder", transport.InstanceHint{})
	require.NoError(t, err)
	second, err := dev.PickInstance(context.Background(), "decoder", transport.InstanceHint{})
	require.NoError(t, err)

	assert.NotEqual(t, first.GUID, second.GUID, "load balancing should pick the least-loaded instance next")
}

func TestPickInstanceUnknownKindErrors(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	_, err := dev.PickInstance(context.Background(), "encoder", transport.InstanceHint{})
	assert.Error(t, err)
}

func TestPickInstanceUnknownHwIDErrors(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	_, err := dev.PickInstance(context.Background(), "decoder", transport.InstanceHint{HwID: "does-not-exist"})
	assert.Error(t, err)
}

func TestLockUnlockUnknownKindErrors(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	assert.Error(t, dev.Lock(context.Background(), "encoder"))
	assert.Error(t, dev.Unlock(context.Background(), "encoder"))
}

func TestLockUnlockRoundTrip(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	require.NoError(t, dev.Lock(context.Background(), "decoder"))
	require.NoError(t, dev.Unlock(context.Background(), "decoder"))
}

func TestOpenGetSidAssignsIncreasingSessionIDs(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	handle := struct{}{}

	lba := codec.EncodeLba(codec.OpOpenGetSid, 0, codec.InstanceDecoder, 0, false)
	resp1 := make([]byte, 10)
	status, err := dev.SubmitRead(context.Background(), handle, lba, resp1)
	require.NoError(t, err)
	require.Equal(t, 0, status)

	resp2 := make([]byte, 10)
	status, err = dev.SubmitRead(context.Background(), handle, lba, resp2)
	require.NoError(t, err)
	require.Equal(t, 0, status)

	dec1 := codec.NewDecoder(resp1)
	sid1, _ := dec1.Uint16()
	dec2 := codec.NewDecoder(resp2)
	sid2, _ := dec2.Uint16()
	assert.Less(t, sid1, sid2)
}

func TestCloseQueryMarksSessionClosed(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	handle := struct{}{}

	openLba := codec.EncodeLba(codec.OpOpenGetSid, 0, codec.InstanceDecoder, 0, false)
	resp := make([]byte, 10)
	_, err := dev.SubmitRead(context.Background(), handle, openLba, resp)
	require.NoError(t, err)
	dec := codec.NewDecoder(resp)
	sid, _ := dec.Uint16()

	closeLba := codec.EncodeLba(codec.OpCloseSession, sid, codec.InstanceDecoder, 0, false)
	closeResp := make([]byte, 1)
	status, err := dev.SubmitRead(context.Background(), handle, closeLba, closeResp)
	require.NoError(t, err)
	assert.Equal(t, 0, status)

	// A closed session still answers queries (the fake never evicts it),
	// but a second close-query on an unknown session ID fails.
	status, err = dev.SubmitRead(context.Background(), handle, codec.EncodeLba(codec.OpCloseSession, sid+100, codec.InstanceDecoder, 0, false), closeResp)
	require.NoError(t, err)
	assert.Equal(t, 1, status)
}

func TestKeepAliveCountIncrementsOnConfigKeepAlive(t *testing.T) {
	dev := testdevice.NewDevice([]string{"decoder"}, 1)
	handle := struct{}{}

	openLba := codec.EncodeLba(codec.OpOpenGetSid, 0, codec.InstanceDecoder, 0, false)
	resp := make([]byte, 10)
	_, err := dev.SubmitRead(context.Background(), handle, openLba, resp)
	require.NoError(t, err)
	dec := codec.NewDecoder(resp)
	sid, _ := dec.Uint16()

	assert.Equal(t, 0, dev.KeepAliveCount(sid))

	kaLba := codec.EncodeLba(codec.OpConfigSessionKeepAlive, sid, codec.InstanceDecoder, 0, false)
	_, err = dev.SubmitWrite(context.Background(), handle, kaLba, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.KeepAliveCount(sid))
}

func TestRunConcurrentSessionsAggregatesFirstError(t *testing.T) {
	var calls int32

	err := testdevice.RunConcurrentSessions(context.Background(), 5, func(ctx context.Context, i int) error {
		atomic.AddInt32(&calls, 1)
		if i == 3 {
			return assertErr{}
		}
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
