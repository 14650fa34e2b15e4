// Package transport establishes the byte streams that carry chat frames,
// either raw TCP or one frame per binary WebSocket message.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/actual-software/chat-relay/internal/config"
)

const defaultDialTimeout = 10 * time.Second

// ListenOptions selects the listening transport.
type ListenOptions struct {
	Transport     string
	WebSocketPath string
}

// DialOptions selects the dialing transport.
type DialOptions struct {
	Transport     string
	WebSocketPath string
	Timeout       time.Duration
}

// Listen opens a listener on addr. The returned listener yields net.Conns
// regardless of transport.
func Listen(ctx context.Context, addr string, opts ListenOptions, logger *zap.Logger) (net.Listener, error) {
	switch opts.Transport {
	case "", config.TransportTCP:
		var lc net.ListenConfig

		l, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}

		return l, nil
	case config.TransportWebSocket:
		l, err := ListenWebSocket(ctx, addr, opts.WebSocketPath, logger)
		if err != nil {
			return nil, err
		}

		return l, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", opts.Transport)
	}
}

// Dial connects to host:port.
func Dial(ctx context.Context, host, port string, opts DialOptions) (net.Conn, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	addr := net.JoinHostPort(host, port)

	switch opts.Transport {
	case "", config.TransportTCP:
		dialer := &net.Dialer{Timeout: timeout}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
		}

		return conn, nil
	case config.TransportWebSocket:
		return DialWebSocket(ctx, addr, opts.WebSocketPath, timeout)
	default:
		return nil, fmt.Errorf("unsupported transport %q", opts.Transport)
	}
}
