// Package server runs the chat relay's dispatch loop: it accepts connections,
// receives frames one at a time and hands them to the router.
package server

import (
	"context"
	stderrors "errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/actual-software/chat-relay/internal/errors"
	"github.com/actual-software/chat-relay/internal/logging"
	"github.com/actual-software/chat-relay/internal/metrics"
	"github.com/actual-software/chat-relay/internal/poll"
	"github.com/actual-software/chat-relay/internal/registry"
	"github.com/actual-software/chat-relay/internal/router"
	"github.com/actual-software/chat-relay/pkg/wire"
)

const (
	component = "server"

	// ListenerFD is the descriptor number of the listening socket.
	ListenerFD = 0

	reasonRateLimited = "rate_limited"
	reasonFrameLength = "invalid_length"
	reasonFrameSize   = "frame_too_large"
)

// Options tunes a Server. Zero values select defaults.
type Options struct {
	InitialCapacity int

	// FramesPerSecond enables per-connection flood control when positive.
	FramesPerSecond float64
	Burst           int
}

type connection struct {
	fd        int
	id        string
	remote    string
	transport *wire.Transport
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// Server owns the registry, the router and every client connection. All of
// its state is touched only by the goroutine running Serve.
type Server struct {
	opts     Options
	mux      poll.Multiplexer
	listener *poll.ListenerSource
	registry *registry.Registry
	router   *router.Router
	logger   *zap.Logger
	metrics  *metrics.Registry

	conns  map[int]*connection
	nextFD int

	closeOnce sync.Once
}

// New creates a server accepting from l and waiting on mux. metrics may be nil.
func New(l net.Listener, mux poll.Multiplexer, opts Options, logger *zap.Logger, m *metrics.Registry) *Server {
	if opts.InitialCapacity <= 0 {
		opts.InitialCapacity = registry.DefaultInitialCapacity
	}

	s := &Server{
		opts:     opts,
		mux:      mux,
		listener: poll.NewListenerSource(l),
		registry: registry.New(opts.InitialCapacity),
		logger:   logger.With(zap.String(logging.FieldComponent, component)),
		metrics:  m,
		conns:    make(map[int]*connection),
		nextFD:   ListenerFD + 1,
	}
	s.router = router.New(s.registry, outbox{s}, logger, m)
	m.SetRegistry(s.registry.Len(), s.registry.Capacity())

	return s
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the dispatch loop until ctx is canceled, which returns nil, or
// until a fatal transport error, which is returned with TypeFatal.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.mux.Register(ListenerFD, s.listener); err != nil {
		return errors.NewFatalError("register listener", err).WithComponent(component)
	}

	s.logger.Info("server listening", zap.String(logging.FieldAddress, s.Addr().String()))

	for {
		fd, err := s.mux.Wait(ctx, poll.WaitForever)
		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			if stderrors.Is(err, poll.ErrTimeout) {
				continue
			}

			return errors.NewFatalError("wait", err).WithComponent(component)
		}

		if fd == ListenerFD {
			err = s.accept()
		} else {
			err = s.receive(fd)
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}
	}
}

func (s *Server) accept() error {
	conn, err := s.listener.Accept()
	if err != nil {
		return errors.NewFatalError("accept", err).WithComponent(component)
	}

	if conn == nil {
		return nil
	}

	fd := s.nextFD
	s.nextFD++

	c := &connection{
		fd:        fd,
		id:        logging.NewConnID(),
		remote:    conn.RemoteAddr().String(),
		transport: wire.NewTransport(conn),
	}
	c.logger = s.logger.With(zap.String(logging.FieldConnID, c.id), zap.Int(logging.FieldFD, fd))

	if s.opts.FramesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.opts.FramesPerSecond), max(s.opts.Burst, 1))
	}

	if err := s.mux.Register(fd, c.transport); err != nil {
		_ = conn.Close()

		return errors.NewFatalError("register connection", err).WithComponent(component)
	}

	s.conns[fd] = c
	s.metrics.ConnectionOpened()
	c.logger.Info("client connected", zap.String(logging.FieldRemoteAddr, c.remote))

	return nil
}

func (s *Server) receive(fd int) error {
	c, ok := s.conns[fd]
	if !ok {
		s.mux.Deregister(fd)

		return nil
	}

	frame, err := c.transport.Receive()
	if err != nil {
		return s.receiveError(c, err)
	}

	s.metrics.FrameReceived(frame.Flag.String(), frame.Len())

	if c.limiter != nil && !c.limiter.Allow() {
		s.metrics.IncrementProtocolErrors(reasonRateLimited)
		c.logger.Warn("frame discarded, rate limit exceeded", zap.String(logging.FieldFlag, frame.Flag.String()))

		return nil
	}

	disp, err := s.router.Route(registry.ConnID(fd), frame)
	if err != nil {
		if errors.IsFatal(err) {
			return err
		}

		logging.LogError(c.logger, "frame discarded", err)
	}

	if disp == router.Close {
		c.logger.Info("client exited")
		s.closeConn(c)
	}

	return nil
}

// receiveError classifies a failed read. Framing errors keep the connection;
// anything else means the peer is gone.
func (s *Server) receiveError(c *connection, err error) error {
	switch {
	case stderrors.Is(err, wire.ErrInvalidLength):
		s.metrics.IncrementProtocolErrors(reasonFrameLength)
		logging.LogError(c.logger, "frame discarded", errors.WrapWithType(err, errors.TypeProtocol, "bad frame length"))

		return nil
	case stderrors.Is(err, wire.ErrFrameTooLarge):
		s.metrics.IncrementProtocolErrors(reasonFrameSize)
		logging.LogError(c.logger, "frame discarded", errors.WrapWithType(err, errors.TypeProtocol, "oversized frame"))

		return nil
	case stderrors.Is(err, wire.ErrPeerClosed):
		logging.LogError(c.logger, "client disconnected",
			errors.WrapWithType(err, errors.TypePeerClosed, "peer closed").WithComponent(component).WithOperation("receive"))
	default:
		logging.LogError(c.logger, "client connection failed", errors.Wrapf(err, "receive from %s", c.remote))
	}

	s.router.Disconnect(registry.ConnID(c.fd))
	s.closeConn(c)

	return nil
}

func (s *Server) closeConn(c *connection) {
	s.mux.Deregister(c.fd)
	delete(s.conns, c.fd)

	if err := c.transport.Close(); err != nil {
		c.logger.Debug("close failed", zap.Error(err))
	}

	s.metrics.ConnectionClosed()
}

// Close closes every connection and the listener. It must not run
// concurrently with Serve.
func (s *Server) Close() error {
	var err error

	s.closeOnce.Do(func() {
		for _, c := range s.conns {
			s.router.Disconnect(registry.ConnID(c.fd))
			s.closeConn(c)
		}

		s.mux.Deregister(ListenerFD)
		err = s.listener.Close()

		s.logger.Info("server stopped")
	})

	return err
}

// outbox delivers router output to connections.
type outbox struct {
	s *Server
}

func (o outbox) Send(conn registry.ConnID, frame wire.Frame) error {
	c, ok := o.s.conns[int(conn)]
	if !ok {
		return errors.New(errors.TypeInternal, "no connection for slot").WithContext("conn", int(conn))
	}

	start := time.Now()

	if err := c.transport.SendFrame(frame); err != nil {
		return err
	}

	o.s.metrics.FrameSent(frame.Flag.String(), frame.Len())
	c.logger.Debug("frame sent", zap.String(logging.FieldFlag, frame.Flag.String()), zap.Duration(logging.FieldDuration, time.Since(start)))

	return nil
}
