// Package wsapi implements Transit's WebSocket adapter: /send/<uid> for
// uploads and the deprecated, symmetric /receive/<uid> for downloads. Both
// speak a small JSON-handshake-then-binary-frames protocol, with Transfer
// doing the actual chunk relay the same way it does for the HTTP adapter.
package wsapi

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/marmos91/transit/internal/logger"
	"github.com/marmos91/transit/pkg/filemeta"
	"github.com/marmos91/transit/pkg/transfer"
	"github.com/marmos91/transit/pkg/transiterr"
)

const (
	metadataReadTimeout = 10 * time.Second
	handshakeTimeout    = 10 * time.Second
)

// uidPattern matches the charset the HTTP adapter accepts for transfer
// identifiers, applied here too since Transfer itself treats uid as opaque.
var uidPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Dependencies are the services the WebSocket handlers need.
type Dependencies struct {
	Transfer            *transfer.Coordinator
	MaxUploadSize       int64
	ReceiverWaitTimeout time.Duration
}

// Server upgrades HTTP connections to WebSocket and runs the send/receive
// protocol over them.
type Server struct {
	deps     Dependencies
	upgrader websocket.Upgrader
}

// NewServer builds a Server around deps.
func NewServer(deps Dependencies) *Server {
	return &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts /send/{uid} and /receive/{uid} onto r, letting the
// WebSocket adapter share a listener and middleware stack with the HTTP
// adapter's chi.Router.
func RegisterRoutes(r chi.Router, deps Dependencies) {
	srv := NewServer(deps)
	r.Get("/send/{uid}", func(w http.ResponseWriter, r *http.Request) {
		srv.HandleSend(w, r, chi.URLParam(r, "uid"))
	})
	r.Get("/receive/{uid}", func(w http.ResponseWriter, r *http.Request) {
		srv.HandleReceive(w, r, chi.URLParam(r, "uid"))
	})
}

// HandleSend implements /send/<uid>: the socket's first frame declares file
// metadata, then the socket streams the file as binary frames.
func (srv *Server) HandleSend(w http.ResponseWriter, r *http.Request, uid string) {
	if !uidPattern.MatchString(uid) {
		http.Error(w, "invalid transfer id", http.StatusBadRequest)
		return
	}

	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCtx(r.Context(), "websocket upgrade failed", logger.HandleHex(uid), logger.Err(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()

	meta, err := readMetadataFrame(conn)
	if err != nil {
		sendErrorAndClose(conn, "Cannot decode file metadata JSON header.")
		return
	}
	if meta.Size > srv.deps.MaxUploadSize {
		sendErrorAndClose(conn, "File exceeds the maximum upload size.")
		return
	}

	if err := srv.deps.Transfer.Create(ctx, uid, meta); err != nil {
		if transiterr.IsConflictError(err) {
			sendErrorAndClose(conn, "Transfer ID is already used.")
			return
		}
		sendErrorAndClose(conn, err.Error())
		return
	}

	if err := srv.deps.Transfer.WaitForClientConnected(ctx, uid, srv.deps.ReceiverWaitTimeout); err != nil {
		sendErrorAndClose(conn, "Receiver did not connect in time.")
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("Go for file chunks")); err != nil {
		logger.WarnCtx(ctx, "failed to send go-ahead", logger.HandleHex(uid), logger.Err(err))
		return
	}

	onError := sendErrorAndCloseCallback(conn)
	reader := &binaryFrameReader{conn: conn}
	if err := srv.deps.Transfer.CollectUpload(ctx, uid, reader, meta.Size, onError); err != nil {
		logger.WarnCtx(ctx, "websocket upload failed", logger.HandleHex(uid), logger.Err(err))
	}
}

// HandleReceive implements the deprecated, symmetric /receive/<uid>: the
// server sends metadata, waits for the client's go-ahead, claims the
// receiver slot, signals client_connected, then streams binary frames
// followed by a terminal empty frame.
func (srv *Server) HandleReceive(w http.ResponseWriter, r *http.Request, uid string) {
	if !uidPattern.MatchString(uid) {
		http.Error(w, "invalid transfer id", http.StatusBadRequest)
		return
	}

	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCtx(r.Context(), "websocket upgrade failed", logger.HandleHex(uid), logger.Err(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()

	meta, err := srv.deps.Transfer.Get(ctx, uid)
	if err != nil {
		sendErrorAndClose(conn, err.Error())
		return
	}

	if err := writeMetadataFrame(conn, meta); err != nil {
		logger.WarnCtx(ctx, "failed to send metadata frame", logger.HandleHex(uid), logger.Err(err))
		return
	}

	if err := awaitGoAhead(conn); err != nil {
		sendErrorAndClose(conn, "Did not receive go-ahead for file chunks.")
		return
	}

	if err := srv.deps.Transfer.ConnectReceiver(ctx, uid); err != nil {
		if transiterr.IsConflictError(err) {
			sendErrorAndClose(conn, "A receiver is already connected.")
			return
		}
		sendErrorAndClose(conn, err.Error())
		return
	}
	if err := srv.deps.Transfer.SetClientConnected(ctx, uid); err != nil {
		sendErrorAndClose(conn, err.Error())
		return
	}

	onError := sendErrorAndCloseCallback(conn)
	writer := &binaryFrameWriter{conn: conn}
	if _, err := srv.deps.Transfer.SupplyDownload(ctx, uid, meta.Size, writer, onError); err != nil {
		logger.WarnCtx(ctx, "websocket download failed", logger.HandleHex(uid), logger.Err(err))
	}

	// Terminal empty binary frame marks end-of-stream for this legacy path.
	_ = conn.WriteMessage(websocket.BinaryMessage, []byte{})

	go func() {
		finalizeCtx := context.Background()
		if err := srv.deps.Transfer.FinalizeDownload(finalizeCtx, uid); err != nil {
			logger.WarnCtx(finalizeCtx, "finalize download failed", logger.HandleHex(uid), logger.Err(err))
		}
	}()
}

func readMetadataFrame(conn *websocket.Conn) (*filemeta.FileMetadata, error) {
	_ = conn.SetReadDeadline(time.Now().Add(metadataReadTimeout))
	defer conn.SetReadDeadline(time.Time{})

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return nil, transiterr.NewInvalidInputError("", "failed to read metadata frame: %v", err)
	}
	if msgType != websocket.TextMessage {
		return nil, transiterr.NewInvalidInputError("", "expected text frame for metadata, got binary")
	}
	return filemeta.FromJSON(data)
}

func writeMetadataFrame(conn *websocket.Conn, meta *filemeta.FileMetadata) error {
	return conn.WriteJSON(map[string]any{
		"file_name": meta.Name,
		"file_size": meta.Size,
		"file_type": meta.Type,
	})
}

func awaitGoAhead(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	if msgType != websocket.TextMessage || string(data) != "Go for file chunks" {
		return transiterr.NewInvalidInputError("", "unexpected handshake frame")
	}
	return nil
}

// sendErrorAndClose implements the send_error_and_close(websocket) factory
// from spec section 4.4: if the socket is still open, send "Error: <msg>" as
// a text frame, then close with code 1011.
func sendErrorAndClose(conn *websocket.Conn, msg string) {
	_ = conn.WriteMessage(websocket.TextMessage, []byte("Error: "+msg))
	closeMsg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, msg)
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
}

// sendErrorAndCloseCallback adapts sendErrorAndClose into a transfer.OnError
// closure, the WebSocket counterpart of the HTTP adapter's response-aware
// error callback.
func sendErrorAndCloseCallback(conn *websocket.Conn) transfer.OnError {
	return func(_ context.Context, err error) {
		sendErrorAndClose(conn, err.Error())
	}
}

// binaryFrameReader adapts a sequence of WebSocket binary frames into an
// io.Reader, the shape collect_upload expects from iter_binary_frames.
type binaryFrameReader struct {
	conn    *websocket.Conn
	pending []byte
}

func (r *binaryFrameReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		msgType, data, err := r.conn.ReadMessage()
		if err != nil {
			// A normal close means the sender finished writing its
			// declared byte count and hung up, the WS equivalent of a
			// TCP EOF; any other close or transport error is a real
			// disconnect.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if len(data) == 0 {
			return 0, io.EOF
		}
		r.pending = data
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// binaryFrameWriter adapts io.Writer onto one WebSocket binary frame per
// Write call, the shape supply_download writes into.
type binaryFrameWriter struct {
	conn *websocket.Conn
}

func (w *binaryFrameWriter) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
