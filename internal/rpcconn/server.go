package rpcconn

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/claudesync/claudesync/internal/wire"
)

// Upgrader wraps a gorilla/websocket.Upgrader configured for the sync
// server's RPC surface. Origin checking is left to the caller (typically
// wired to the server's configured allowed-origins list).
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
}

// ServerConn wraps an accepted gorilla/websocket connection for one RPC
// stream. Unlike ClientConn it is not pooled — a server accepts one
// connection per inbound stream rather than dialing out.
type ServerConn struct {
	ws *websocket.Conn
}

// Accept upgrades an HTTP request to a websocket and wraps it for frame
// exchange. Call sites are internal/server/httpapi's two websocket
// handlers, mounted on /v1/ws/transfer (chunked upload/download) and
// /v1/ws/stream (heartbeats).
func Accept(w http.ResponseWriter, r *http.Request) (*ServerConn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("rpcconn: upgrading connection: %w", err)
	}

	ws.SetReadLimit(int64(wire.MaxFramePayload) + 64)

	return &ServerConn{ws: ws}, nil
}

// Send encodes f and writes it as one binary websocket message.
func (c *ServerConn) Send(ctx context.Context, f wire.Frame) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}

	if err := c.ws.WriteMessage(websocket.BinaryMessage, wire.Encode(f)); err != nil {
		return fmt.Errorf("rpcconn: writing frame: %w", err)
	}

	return nil
}

// Recv reads one binary websocket message and decodes it as a Frame.
func (c *ServerConn) Recv(ctx context.Context) (wire.Frame, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(deadline)
	}

	typ, data, err := c.ws.ReadMessage()
	if err != nil {
		return wire.Frame{}, fmt.Errorf("rpcconn: reading frame: %w", err)
	}

	if typ != websocket.BinaryMessage {
		return wire.Frame{}, fmt.Errorf("rpcconn: unexpected message type %d", typ)
	}

	f, err := wire.Decode(data)
	if err != nil {
		return wire.Frame{}, err
	}

	return f, nil
}

// SetSilenceDeadline arms a read deadline matching spec.md §4.12's "30s of
// silence closes the stream" rule for Heartbeat and SubscribeChanges.
func (c *ServerConn) SetSilenceDeadline(d time.Duration) error {
	return c.ws.SetReadDeadline(time.Now().Add(d))
}

// Close closes the underlying websocket with a normal closure code.
func (c *ServerConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	return c.ws.Close()
}
