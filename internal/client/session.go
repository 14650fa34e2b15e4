package client

import (
	stderrors "errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/actual-software/chat-relay/internal/errors"
	"github.com/actual-software/chat-relay/internal/logging"
	"github.com/actual-software/chat-relay/internal/poll"
	"github.com/actual-software/chat-relay/pkg/wire"
)

const component = "client"

// State is the position of a Session in the registration handshake.
type State int

const (
	StateUnregistered State = iota
	StateAwaitingAck
	StateReady
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state_%d", int(s))
	}
}

// Terminal outcomes of a session. ErrExitAcknowledged is the only clean one.
var (
	ErrExitAcknowledged = stderrors.New("exit acknowledged")
	ErrDuplicateHandle  = stderrors.New("handle already in use")
	ErrServerClosed     = stderrors.New("server terminated")
	ErrNotReady         = stderrors.New("session is not registered")
)

// Session speaks the chat protocol on behalf of one handle. It is driven
// from a single goroutine.
type Session struct {
	handle    string
	transport *wire.Transport
	out       io.Writer
	logger    *zap.Logger
	state     State
}

// NewSession validates handle and wraps conn. Server output and local
// diagnostics are written to out.
func NewSession(handle string, conn io.ReadWriteCloser, out io.Writer, logger *zap.Logger) (*Session, error) {
	if err := wire.ValidateHandle(handle); err != nil {
		return nil, errors.WrapWithType(&HandleError{Handle: handle, Err: err}, errors.TypeValidation, "bad handle").
			WithComponent(component)
	}

	return &Session{
		handle:    handle,
		transport: wire.NewTransport(conn),
		out:       out,
		logger:    logger.With(zap.String(logging.FieldComponent, component), zap.String(logging.FieldHandle, handle)),
	}, nil
}

// Handle returns the session's handle.
func (s *Session) Handle() string {
	return s.handle
}

// State returns the current handshake state.
func (s *Session) State() State {
	return s.state
}

// Source returns the server connection as a poll source.
func (s *Session) Source() poll.Source {
	return s.transport
}

// Close closes the server connection.
func (s *Session) Close() error {
	return s.transport.Close()
}

// Register sends REGISTER and blocks for the server's answer.
func (s *Session) Register() error {
	if s.state != StateUnregistered {
		return errors.New(errors.TypeInternal, "register called twice").WithComponent(component)
	}

	if err := s.send(wire.Register{Handle: s.handle}); err != nil {
		return err
	}

	s.state = StateAwaitingAck

	for {
		p, err := s.next()
		if err != nil {
			return err
		}

		switch p.(type) {
		case nil:
		case wire.RegisterOK:
			s.state = StateReady
			s.logger.Debug("registered")

			return nil
		case wire.RegisterDuplicate:
			s.state = StateTerminated
			s.printf("Handle already in use: <%s>\n", s.handle)

			return ErrDuplicateHandle
		default:
			s.logger.Warn("unexpected packet before registration", zap.String(logging.FieldFlag, p.Flag().String()))
		}
	}
}

// HandleInput executes one console line. Invalid commands are reported to
// the user and produce no traffic.
func (s *Session) HandleInput(line string) error {
	if s.state != StateReady {
		return ErrNotReady
	}

	cmd, err := ParseCommand(line)
	if err != nil {
		s.printf("%v\n", err)

		return nil
	}

	switch cmd.Kind {
	case KindMessage:
		for _, chunk := range Fragment([]byte(cmd.Text), wire.MaxTextSize) {
			msg := wire.Message{Source: s.handle, Destinations: cmd.Destinations, Text: chunk}
			if err := s.send(msg); err != nil {
				return err
			}
		}
	case KindBroadcast:
		for _, chunk := range Fragment([]byte(cmd.Text), wire.MaxTextSize) {
			if err := s.send(wire.Broadcast{Source: s.handle, Text: chunk}); err != nil {
				return err
			}
		}
	case KindList:
		return s.List()
	case KindExit:
		return s.Exit()
	}

	return nil
}

// List requests the handle list and displays it, along with anything else
// the server sends before LIST_END.
func (s *Session) List() error {
	if err := s.send(wire.ListRequest{}); err != nil {
		return err
	}

	for {
		p, err := s.next()
		if err != nil {
			return err
		}

		if p == nil {
			continue
		}

		if err := s.present(p); err != nil {
			return err
		}

		if _, ok := p.(wire.ListEnd); ok {
			return nil
		}
	}
}

// Exit asks the server to drop the connection. The session ends when the
// acknowledgement arrives through HandleServer.
func (s *Session) Exit() error {
	return s.send(wire.Exit{})
}

// HandleServer reads and displays one frame from the server.
func (s *Session) HandleServer() error {
	p, err := s.next()
	if err != nil || p == nil {
		return err
	}

	return s.present(p)
}

func (s *Session) present(p wire.Packet) error {
	switch p := p.(type) {
	case wire.Message:
		s.printf("\n%s: %s\n", p.Source, p.Text)
	case wire.Broadcast:
		s.printf("\n%s: %s\n", p.Source, p.Text)
	case wire.InvalidDest:
		s.printf("Client with handle <%s> does not exist\n", p.Handle)
	case wire.ListCount:
		s.printf("Number of clients: %d\n", p.Count)
	case wire.ListEntry:
		s.printf("  %s\n", p.Handle)
	case wire.ListEnd:
	case wire.ExitAck:
		s.state = StateTerminated
		s.logger.Debug("exit acknowledged")

		return ErrExitAcknowledged
	default:
		s.logger.Warn("unexpected packet", zap.String(logging.FieldFlag, p.Flag().String()))
	}

	return nil
}

// next reads one frame. A frame that cannot be decoded is logged and yields
// a nil packet.
func (s *Session) next() (wire.Packet, error) {
	frame, err := s.transport.Receive()
	if err != nil {
		return nil, s.receiveError(err)
	}

	p, err := wire.Unmarshal(frame)
	if err != nil {
		s.logger.Warn("discarding frame from server",
			zap.String(logging.FieldFlag, frame.Flag.String()),
			zap.Error(err))

		return nil, nil
	}

	return p, nil
}

func (s *Session) receiveError(err error) error {
	switch {
	case stderrors.Is(err, wire.ErrPeerClosed):
		s.state = StateTerminated
		s.printf("Server Terminated\n")

		return ErrServerClosed
	case stderrors.Is(err, wire.ErrInvalidLength), stderrors.Is(err, wire.ErrFrameTooLarge):
		s.logger.Warn("discarding frame from server", zap.Error(err))

		return nil
	default:
		return errors.NewFatalError("receive", err).WithComponent(component)
	}
}

func (s *Session) send(p wire.Packet) error {
	if err := s.transport.Send(p); err != nil {
		return errors.NewFatalError("send", err).WithComponent(component).WithContext("flag", p.Flag().String())
	}

	return nil
}

func (s *Session) printf(format string, args ...any) {
	if _, err := fmt.Fprintf(s.out, format, args...); err != nil {
		s.logger.Debug("console write failed", zap.Error(err))
	}
}
