package controlplane

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a thin wrapper around a grpc.ClientConn dialed against a
// NewGRPCServer, forcing the same JSON codec the server registers.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the controlplane diagnostic service at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(JSONCodec)),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Status invokes the Status RPC for the given session id.
func (c *Client) Status(ctx context.Context, sessionID uint16) (*StatusResponse, error) {
	req := &StatusRequest{SessionID: sessionID}
	resp := new(StatusResponse)
	if err := c.conn.Invoke(ctx, "/xcoder.controlplane.Diagnostics/Status", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListSessions invokes the ListSessions RPC.
func (c *Client) ListSessions(ctx context.Context) (*ListSessionsResponse, error) {
	req := &ListSessionsRequest{}
	resp := new(ListSessionsResponse)
	if err := c.conn.Invoke(ctx, "/xcoder.controlplane.Diagnostics/ListSessions", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
