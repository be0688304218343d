// Package keepalive implements the Keep-Alive Engine (C5): one goroutine
// per open session, issuing a heartbeat command at timeout/3 and applying
// the C4 error classification to the result.
package keepalive

import (
	"context"
	"runtime"
	"time"

	"github.com/sportsball-ai/go-xcoder-session/internal/transport"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/codec"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/metrics"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/xerr"

	"github.com/sportsball-ai/go-xcoder-session/internal/logger"
)

// pollInterval is the coarse-grained wake period used to notice
// close_thread promptly, per SPEC_FULL.md §4.5.
const pollInterval = 10 * time.Millisecond

// StatusClassifier maps a raw device status query response into the C4
// classification. Start accepts one but does not call it: heartbeat decodes
// the status and timestamp itself and run always classifies with
// xerr.Classify, so passing nil is equivalent.
type StatusClassifier func(respPayload []byte) (status xerr.DeviceStatus, timestampMismatch bool)

// Start spawns the keep-alive goroutine for args and returns a channel that
// is closed when the goroutine exits (either because close_thread was set,
// or because it classified a fatal condition itself).
//
// Start attempts to pin the goroutine to its own OS thread via
// runtime.LockOSThread, matching the source's "request elevated scheduling,
// fall back to default priority" chain: Go exposes no portable priority-
// raise syscall, so LockOSThread is this port's best-effort analogue — a
// dedicated OS thread at least removes GC-assist and other goroutine
// preemption noise from the heartbeat cadence.
func Start(args *session.KeepAliveArgs, t transport.DeviceTransport, classify StatusClassifier) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		run(args, t, classify)
	}()
	return done
}

func run(args *session.KeepAliveArgs, t transport.DeviceTransport, classify StatusClassifier) {
	period := args.Timeout / 3
	if period <= 0 {
		period = time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	elapsed := time.Duration(0)
	consecutiveFailures := 0

	for range ticker.C {
		if args.CloseThread() {
			return
		}
		elapsed += pollInterval
		if elapsed < period {
			continue
		}
		elapsed = 0

		status, mismatch, err := heartbeat(args, t)
		metrics.RecordKeepAliveHeartbeat(args.Metrics, args.DeviceKind.String())
		if err != nil {
			logger.Warn("keepalive heartbeat transport error", logger.SessionID(args.SessionID), logger.Err(err))
			consecutiveFailures++
		} else {
			switch classifyOrDefault(classify, status, mismatch, consecutiveFailures) {
			case xerr.ClassContinue:
				consecutiveFailures = 0
			case xerr.ClassVpuRecovery:
				// Continue running; the main goroutine is expected to
				// notice via its own query (SPEC_FULL.md §4.5).
			case xerr.ClassFatal, xerr.ClassResourceUnavailable:
				args.SetCloseThread(true)
				return
			default:
				consecutiveFailures++
			}
		}
	}
}

func classifyOrDefault(classify StatusClassifier, status xerr.DeviceStatus, mismatch bool, consecutiveFailures int) xerr.Classification {
	return xerr.Classify(status, consecutiveFailures, mismatch)
}

func heartbeat(args *session.KeepAliveArgs, t transport.DeviceTransport) (xerr.DeviceStatus, bool, error) {
	ctx := context.Background()

	lba := codec.EncodeLba(codec.OpConfigSessionKeepAlive, args.SessionID, args.DeviceKind.InstanceType(), 0, false)
	_, err := t.SubmitWrite(ctx, args.Handle, lba, args.Scratch.Bytes())
	if err != nil {
		return 0, false, err
	}

	queryLba := codec.EncodeLba(codec.OpQueryInstanceStatus, args.SessionID, args.DeviceKind.InstanceType(), 0, false)
	status, err := t.SubmitRead(ctx, args.Handle, queryLba, args.Scratch.Bytes())
	if err != nil {
		return 0, false, err
	}

	dec := codec.NewDecoder(args.Scratch.Bytes())
	echoedTimestamp, decErr := dec.Uint64()
	mismatch := decErr == nil && echoedTimestamp != args.SessionTimestamp

	return xerr.DeviceStatus(status), mismatch, nil
}
