package commands

import (
	"context"
	"fmt"

	"github.com/sportsball-ai/go-xcoder-session/internal/testdevice"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/hwframe"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/xerr"
)

// parseDeviceKind maps the --type flag value to a session.DeviceKind.
func parseDeviceKind(s string) (session.DeviceKind, error) {
	switch s {
	case "decoder":
		return session.Decoder, nil
	case "encoder":
		return session.Encoder, nil
	case "scaler":
		return session.Scaler, nil
	case "ai":
		return session.AI, nil
	case "uploader":
		return session.Uploader, nil
	default:
		return 0, fmt.Errorf("unknown device type %q (want decoder|encoder|scaler|ai|uploader)", s)
	}
}

// openSmokeTestSession opens a session against a fresh in-memory simulated
// device, since this CLI ships with no real hardware transport binding
// (see DESIGN.md). It exists so an operator can exercise the open/close/
// write/read sequence once, end to end, without real hardware.
func openSmokeTestSession(ctx context.Context, kind session.DeviceKind) (*testdevice.Device, *session.Context, error) {
	dev := testdevice.NewDevice([]string{kind.String()}, 1)
	sctx := session.New(kind)
	sctx.KeepAliveTimeout = 0 // smoke-test sessions run a single request/response cycle, no keep-alive goroutine

	opts := session.OpenOptions{
		Transport: dev,
		Pool:      dev,
		Config:    session.OpenConfig{},
	}

	if err := session.Open(ctx, sctx, opts); err != nil {
		return nil, nil, xerr.Wrap(xerr.DeviceOpen, session.InvalidSessionID, "Open", err)
	}
	return dev, sctx, nil
}

// hwframePipelineFor is a convenience constructor used by the recycle
// command; kept in this file alongside the other smoke-test helpers.
func hwframePipelineFor(dev *testdevice.Device, sctx *session.Context) *hwframe.Pipeline {
	return hwframe.New(dev, sctx, nil)
}
