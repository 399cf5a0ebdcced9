package httpapi

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"time"

	"github.com/claudesync/claudesync/internal/rpcconn"
	"github.com/claudesync/claudesync/internal/transfer"
	"github.com/claudesync/claudesync/internal/wire"
)

// silenceDeadline matches spec.md §4.12's "30s of silence closes the
// stream" rule for the long-lived transfer and notification sockets.
const silenceDeadline = 30 * time.Second

// handleTransferWS upgrades to a websocket carrying one streamed
// UploadFile or DownloadFile exchange, per spec.md §4.12. The client
// names the direction and path via the initial metadata frame plus a
// query parameter, since upload and download otherwise share the same
// frame kinds.
func (s *Server) handleTransferWS(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	conn, err := rpcconn.Accept(w, r)
	if err != nil {
		s.logger.Warn("httpapi: transfer websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	_ = conn.SetSilenceDeadline(silenceDeadline)

	if r.URL.Query().Get("direction") == "download" {
		s.serveDownload(r.Context(), ident, r.URL.Query().Get("path"), r.URL.Query().Get("version_id"), conn)
		return
	}

	s.serveUpload(r.Context(), ident, conn)
}

func (s *Server) serveUpload(ctx context.Context, ident identity, conn *rpcconn.ServerConn) {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		for {
			f, err := conn.Recv(ctx)
			if err != nil {
				pw.CloseWithError(err)
				return
			}

			if _, err := pw.Write(wire.Encode(f)); err != nil {
				return
			}

			if f.Kind == wire.KindChunk {
				var chunk wire.ChunkFrame
				if err := wire.DecodeJSON(f, wire.KindChunk, &chunk); err == nil && chunk.Final {
					return
				}
			}
		}
	}()

	v, err := s.svc.UploadFile(ctx, ident.userID, ident.deviceID, pr)
	if err != nil {
		ack, _ := wire.EncodeJSON(wire.KindError, wire.ErrorFrame{Code: "upload_failed", Message: err.Error()})
		_ = conn.Send(ctx, ack)
		return
	}

	ack, _ := wire.EncodeJSON(wire.KindAck, wire.AckFrame{OK: true, Detail: v.ID})
	_ = conn.Send(ctx, ack)
}

func (s *Server) serveDownload(ctx context.Context, ident identity, path, versionID string, conn *rpcconn.ServerConn) {
	fw := &frameSender{ctx: ctx, conn: conn}

	if err := s.svc.DownloadFile(ctx, ident.userID, path, versionID, transfer.ChunkSize, fw); err != nil {
		ack, _ := wire.EncodeJSON(wire.KindError, wire.ErrorFrame{Code: "download_failed", Message: err.Error()})
		_ = conn.Send(ctx, ack)
	}
}

// frameSender implements io.Writer over a ServerConn by reassembling the
// wire-encoded byte stream DownloadFile writes (header+payload per frame)
// back into Frame values and forwarding each as one websocket message —
// the inverse of serveUpload's re-encoding of received frames into a byte
// stream for UploadFile to read.
type frameSender struct {
	ctx  context.Context
	conn *rpcconn.ServerConn
	buf  []byte
}

func (fw *frameSender) Write(p []byte) (int, error) {
	fw.buf = append(fw.buf, p...)

	for {
		if len(fw.buf) < 5 {
			return len(p), nil
		}

		length := binary.BigEndian.Uint32(fw.buf[1:5])
		total := 5 + int(length)

		if len(fw.buf) < total {
			return len(p), nil
		}

		f, err := wire.Decode(fw.buf[:total])
		if err != nil {
			return 0, err
		}

		if err := fw.conn.Send(fw.ctx, f); err != nil {
			return 0, err
		}

		fw.buf = fw.buf[total:]
	}
}

// handleStreamWS upgrades to a websocket for one device's session: it
// marks the device online when the socket opens and on each heartbeat,
// acks heartbeats, and marks the device offline on close. It pushes no
// change notifications and never pops the device's change queue.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	conn, err := rpcconn.Accept(w, r)
	if err != nil {
		s.logger.Warn("httpapi: stream websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()

	if s.fanout != nil {
		_ = s.fanout.MarkDeviceOnline(ctx, ident.userID, ident.deviceID)
		defer func() { _ = s.fanout.MarkDeviceOffline(context.Background(), ident.userID, ident.deviceID) }()
	}

	for {
		_ = conn.SetSilenceDeadline(silenceDeadline)

		f, err := conn.Recv(ctx)
		if err != nil {
			return
		}

		switch f.Kind {
		case wire.KindHeartbeat:
			if s.fanout != nil {
				_ = s.fanout.MarkDeviceOnline(ctx, ident.userID, ident.deviceID)
			}

			ack, _ := wire.EncodeJSON(wire.KindAck, wire.AckFrame{OK: true})
			_ = conn.Send(ctx, ack)

		default:
			ack, _ := wire.EncodeJSON(wire.KindError, wire.ErrorFrame{Code: "unexpected_frame", Message: f.Kind.String()})
			_ = conn.Send(ctx, ack)
		}
	}
}
