package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
)

func TestParseDeviceKindRecognizesAllKinds(t *testing.T) {
	cases := map[string]session.DeviceKind{
		"decoder":  session.Decoder,
		"encoder":  session.Encoder,
		"scaler":   session.Scaler,
		"ai":       session.AI,
		"uploader": session.Uploader,
	}
	for s, want := range cases {
		got, err := parseDeviceKind(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseDeviceKindRejectsUnknown(t *testing.T) {
	_, err := parseDeviceKind("gpu")
	assert.Error(t, err)
}

func TestOpenSmokeTestSessionOpensAndReportsInstance(t *testing.T) {
	dev, sctx, err := openSmokeTestSession(context.Background(), session.Decoder)
	require.NoError(t, err)
	require.NotNil(t, dev)

	sctx.Lock()
	defer sctx.Unlock()
	assert.NotEqual(t, session.InvalidSessionID, sctx.SessionID)
	assert.Equal(t, "decoder", sctx.DeviceKind.String())
	assert.Equal(t, time.Duration(0), sctx.KeepAliveTimeout)
}

func TestHwframePipelineForBuildsUsablePipeline(t *testing.T) {
	dev, sctx, err := openSmokeTestSession(context.Background(), session.Uploader)
	require.NoError(t, err)

	pipe := hwframePipelineFor(dev, sctx)
	require.NotNil(t, pipe)
}

func TestRunSchemaFrameWritesValidJSON(t *testing.T) {
	schemaFor = "frame"
	schemaOutput = ""
	defer func() { schemaFor = "frame" }()

	cmd := &cobra.Command{}
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	require.NoError(t, runSchema(cmd, nil))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "xcoder decode Frame", parsed["title"])
}

func TestRunSchemaPacketWritesValidJSON(t *testing.T) {
	schemaFor = "packet"
	schemaOutput = ""
	defer func() { schemaFor = "frame" }()

	cmd := &cobra.Command{}
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	require.NoError(t, runSchema(cmd, nil))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "xcoder encode Packet", parsed["title"])
}

func TestRunSchemaRejectsUnknownTarget(t *testing.T) {
	schemaFor = "bogus"
	defer func() { schemaFor = "frame" }()

	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})

	err := runSchema(cmd, nil)
	assert.Error(t, err)
}
