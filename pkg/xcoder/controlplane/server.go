package controlplane

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sportsball-ai/go-xcoder-session/internal/logger"
)

// StatusRequest asks for a single session's diagnostic summary.
type StatusRequest struct {
	SessionID uint16
}

// StatusResponse carries one session's diagnostic summary.
type StatusResponse struct {
	Found   bool
	Summary SessionSummary
}

// ListSessionsRequest has no fields; every registered session is returned.
type ListSessionsRequest struct{}

// ListSessionsResponse carries every currently registered session.
type ListSessionsResponse struct {
	Sessions []SessionSummary
}

// server is the Server RPC handler, unexported so the public surface is
// just NewGRPCServer.
type server struct {
	registry *Registry
}

func (s *server) status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	sctx, ok := s.registry.Lookup(req.SessionID)
	if !ok {
		return &StatusResponse{Found: false}, nil
	}
	return &StatusResponse{Found: true, Summary: summarize(sctx)}, nil
}

func (s *server) listSessions(ctx context.Context, req *ListSessionsRequest) (*ListSessionsResponse, error) {
	return &ListSessionsResponse{Sessions: s.registry.Snapshot()}, nil
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode StatusRequest: %v", err)
	}
	if interceptor == nil {
		return srv.(*server).status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/xcoder.controlplane.Diagnostics/Status"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*server).status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listSessionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListSessionsRequest)
	if err := dec(in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode ListSessionsRequest: %v", err)
	}
	if interceptor == nil {
		return srv.(*server).listSessions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/xcoder.controlplane.Diagnostics/ListSessions"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*server).listSessions(ctx, req.(*ListSessionsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is this package's hand-written equivalent of a protoc-gen-go
// service descriptor: two unary RPCs, Status and ListSessions.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "xcoder.controlplane.Diagnostics",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: statusHandler},
		{MethodName: "ListSessions", Handler: listSessionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "xcoder/controlplane/diagnostics.proto",
}

// NewGRPCServer returns a *grpc.Server exposing the Status/ListSessions
// diagnostic RPCs backed by registry. The server is configured to exchange
// messages via the package's JSON codec (codec.go) so no protoc step is
// required for this internal-tooling-only surface.
func NewGRPCServer(registry *Registry, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
	s := grpc.NewServer(opts...)
	s.RegisterService(&serviceDesc, &server{registry: registry})
	logger.Info("controlplane gRPC service registered", "service", serviceDesc.ServiceName)
	return s
}
