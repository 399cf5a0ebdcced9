// Package rpcconn carries internal/wire frames over websockets: a
// coder/websocket-based dialer on the client (matching the teacher's
// preference for a context-first, minimal-dependency HTTP/WS client) and a
// gorilla/websocket-based acceptor on the server (grounded on
// ipiton-alert-history-service's gorilla/mux + gorilla/websocket stack).
package rpcconn

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/claudesync/claudesync/internal/wire"
)

// Conn is the minimal bidirectional frame stream both the client dialer
// and server acceptor implement.
type Conn interface {
	Send(ctx context.Context, f wire.Frame) error
	Recv(ctx context.Context) (wire.Frame, error)
	Close() error
}

// ClientConn wraps a coder/websocket connection dialed against the sync
// server. It satisfies both Conn and (via Ping) transport.Channel, so it
// can live in an internal/transport.Pool.
type ClientConn struct {
	ws *websocket.Conn
}

// DialClient opens a websocket connection to addr (a full ws(s):// URL)
// and wraps it for frame exchange.
func DialClient(ctx context.Context, addr string) (*ClientConn, error) {
	return DialClientWithHeader(ctx, addr, nil)
}

// DialClientWithHeader is DialClient with caller-supplied request headers,
// used to carry the bearer token and user/device identity the server's
// authMiddleware expects on the websocket upgrade request.
func DialClientWithHeader(ctx context.Context, addr string, header http.Header) (*ClientConn, error) {
	ws, _, err := websocket.Dial(ctx, addr, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("rpcconn: dialing %s: %w", addr, err)
	}

	ws.SetReadLimit(int64(wire.MaxFramePayload) + 64)

	return &ClientConn{ws: ws}, nil
}

// Send encodes f and writes it as one binary websocket message.
func (c *ClientConn) Send(ctx context.Context, f wire.Frame) error {
	if err := c.ws.Write(ctx, websocket.MessageBinary, wire.Encode(f)); err != nil {
		return fmt.Errorf("rpcconn: writing frame: %w", err)
	}

	return nil
}

// Recv reads one binary websocket message and decodes it as a Frame.
func (c *ClientConn) Recv(ctx context.Context) (wire.Frame, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return wire.Frame{}, fmt.Errorf("rpcconn: reading frame: %w", err)
	}

	if typ != websocket.MessageBinary {
		return wire.Frame{}, fmt.Errorf("rpcconn: unexpected message type %v", typ)
	}

	f, err := wire.Decode(data)
	if err != nil {
		return wire.Frame{}, err
	}

	return f, nil
}

// Ping sends a websocket ping, satisfying transport.Channel's health
// check. Used by internal/transport.Pool's periodic idle-channel probe.
func (c *ClientConn) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.ws.Ping(pingCtx); err != nil {
		return fmt.Errorf("rpcconn: ping: %w", err)
	}

	return nil
}

// Close closes the underlying websocket with a normal closure code.
func (c *ClientConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "closing")
}
