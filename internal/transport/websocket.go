package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/actual-software/chat-relay/internal/logging"
)

const (
	defaultWebSocketPath = "/chat"
	readBufferSize       = 2048
	writeBufferSize      = 2048
	// A frame's length field is 16 bits, so no legal frame exceeds this.
	maxMessageSize = 1 << 16
	closeTimeout   = time.Second
)

// WebSocketListener accepts WebSocket upgrades on one path and hands each
// upgraded connection out through Accept.
type WebSocketListener struct {
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	logger   *zap.Logger

	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

// ListenWebSocket starts an HTTP server on addr upgrading requests for path.
func ListenWebSocket(ctx context.Context, addr, path string, logger *zap.Logger) (*WebSocketListener, error) {
	if path == "" {
		path = defaultWebSocketPath
	}

	var lc net.ListenConfig

	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	wl := &WebSocketListener{
		listener: l,
		logger:   logger.With(zap.String(logging.FieldTransport, "websocket")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, wl.handleUpgrade)

	wl.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := wl.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wl.logger.Error("websocket server stopped", zap.Error(err))
		}
	}()

	return wl, nil
}

func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Debug("websocket upgrade failed", zap.Error(err), zap.String(logging.FieldRemoteAddr, r.RemoteAddr))

		return
	}

	conn := newWSConn(ws)

	select {
	case l.conns <- conn:
	case <-l.closed:
		_ = conn.Close()
	}
}

// Accept waits for the next upgraded connection.
func (l *WebSocketListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, &net.OpError{Op: "accept", Net: "websocket", Addr: l.Addr(), Err: net.ErrClosed}
	}
}

// Close stops the HTTP server. Connections already accepted stay open.
func (l *WebSocketListener) Close() error {
	var err error

	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.server.Close()
	})

	return err
}

// Addr returns the TCP address the HTTP server listens on.
func (l *WebSocketListener) Addr() net.Addr {
	return l.listener.Addr()
}

// DialWebSocket connects to ws://addr/path.
func DialWebSocket(ctx context.Context, addr, path string, timeout time.Duration) (net.Conn, error) {
	if path == "" {
		path = defaultWebSocketPath
	}

	u := url.URL{Scheme: "ws", Host: addr, Path: path}

	dialer := &websocket.Dialer{
		HandshakeTimeout: timeout,
		ReadBufferSize:   readBufferSize,
		WriteBufferSize:  writeBufferSize,
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed with status %d: %w", resp.StatusCode, err)
		}

		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWSConn(ws), nil
}

// wsConn presents a WebSocket as a byte stream. Each Write is one binary
// message; reads concatenate binary messages.
type wsConn struct {
	ws      *websocket.Conn
	reader  io.Reader
	readErr error
	writeMu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ws.SetReadLimit(maxMessageSize)

	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	if c.readErr != nil {
		return 0, c.readErr
	}

	for {
		if c.reader == nil {
			msgType, r, err := c.ws.NextReader()
			if err != nil {
				// gorilla panics on repeated reads after a failure
				c.readErr = streamError(err)

				return 0, c.readErr
			}

			if msgType != websocket.BinaryMessage {
				continue
			}

			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil

			if n == 0 {
				continue
			}

			err = nil
		}

		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}

	return len(p), nil
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
	c.writeMu.Unlock()

	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}

	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

// streamError reports a closed WebSocket as end of stream.
func streamError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return io.EOF
	}

	return err
}

