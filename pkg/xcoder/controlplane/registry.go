// Package controlplane implements the optional diagnostic control surface
// of SPEC_FULL.md §11: a small gRPC service exposing Status/ListSessions
// RPCs for introspecting live session.Context values from an external
// operator tool. The data path itself (decode/encode/hwframe) never
// touches gRPC; this package only observes session state, never drives it.
package controlplane

import (
	"sync"

	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
)

// Registry tracks the sessions a process has open, keyed by their
// device-assigned session id, so the diagnostic server can answer
// ListSessions without needing a reference threaded through every caller.
type Registry struct {
	mu       sync.Mutex
	sessions map[uint16]*session.Context
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uint16]*session.Context)}
}

// Register records sctx under its current SessionID. Call after a
// successful session.Open.
func (r *Registry) Register(sctx *session.Context) {
	sctx.Lock()
	id := sctx.SessionID
	sctx.Unlock()
	if id == session.InvalidSessionID {
		return
	}

	r.mu.Lock()
	r.sessions[id] = sctx
	r.mu.Unlock()
}

// Unregister removes a session previously passed to Register. Call after
// session.Close.
func (r *Registry) Unregister(sessionID uint16) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Lookup returns the registered context for sessionID, if any.
func (r *Registry) Lookup(sessionID uint16) (*session.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sctx, ok := r.sessions[sessionID]
	return sctx, ok
}

// Snapshot returns a point-in-time copy of every registered session's
// summary fields.
func (r *Registry) Snapshot() []SessionSummary {
	r.mu.Lock()
	ctxs := make([]*session.Context, 0, len(r.sessions))
	for _, sctx := range r.sessions {
		ctxs = append(ctxs, sctx)
	}
	r.mu.Unlock()

	out := make([]SessionSummary, 0, len(ctxs))
	for _, sctx := range ctxs {
		out = append(out, summarize(sctx))
	}
	return out
}

// SessionSummary is the diagnostic view of one session.Context.
type SessionSummary struct {
	SessionID           uint16
	InstanceID          string
	DeviceType          string
	State               string
	ConsecutiveFailures int
	FrameNum            uint64
	PktNum              uint64
	ReadyToClose        bool
}

func summarize(sctx *session.Context) SessionSummary {
	sctx.Lock()
	defer sctx.Unlock()
	return SessionSummary{
		SessionID:          sctx.SessionID,
		InstanceID:         sctx.InstanceID,
		DeviceType:         sctx.DeviceKind.String(),
		State:              sctx.State.String(),
		ConsecutiveFailures: sctx.ConsecutiveFailures,
		FrameNum:           sctx.FrameNum,
		PktNum:             sctx.PktNum,
		ReadyToClose:       sctx.ReadyToClose,
	}
}
