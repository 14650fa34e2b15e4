package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/actual-software/chat-relay/internal/errors"
	"github.com/actual-software/chat-relay/internal/logging"
	"github.com/actual-software/chat-relay/internal/poll"
)

const (
	// StdinFD and ServerFD are the descriptors the client loop waits on.
	StdinFD  = 0
	ServerFD = 1

	// Prompt is printed before every wait.
	Prompt = "$: "
)

// Client couples a Session with the console and runs the dispatch loop.
type Client struct {
	session *Session
	console *LineReader
	mux     poll.Multiplexer
	out     io.Writer
	logger  *zap.Logger
}

// New creates a client. out receives the prompt; the session writes its own
// output.
func New(session *Session, console *LineReader, mux poll.Multiplexer, out io.Writer, logger *zap.Logger) *Client {
	return &Client{
		session: session,
		console: console,
		mux:     mux,
		out:     out,
		logger:  logger.With(zap.String(logging.FieldComponent, component)),
	}
}

// Run registers the handle and then serves the console and the server
// connection until the session ends. ErrExitAcknowledged marks a clean
// exit; every other return is a failure.
func (c *Client) Run(ctx context.Context) error {
	if err := c.session.Register(); err != nil {
		return err
	}

	if err := c.mux.Register(ServerFD, c.session.Source()); err != nil {
		return errors.NewFatalError("register server", err).WithComponent(component)
	}
	defer c.mux.Deregister(ServerFD)

	if err := c.mux.Register(StdinFD, c.console); err != nil {
		return errors.NewFatalError("register console", err).WithComponent(component)
	}
	defer c.mux.Deregister(StdinFD)

	for {
		fmt.Fprint(c.out, Prompt)

		fd, err := c.mux.Wait(ctx, poll.WaitForever)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			if stderrors.Is(err, poll.ErrTimeout) {
				continue
			}

			return errors.NewFatalError("wait", err).WithComponent(component)
		}

		switch fd {
		case StdinFD:
			err = c.readConsole()
		case ServerFD:
			err = c.session.HandleServer()
		default:
			c.logger.Warn("wakeup for unknown descriptor", zap.Int(logging.FieldFD, fd))
		}

		if err != nil {
			return err
		}
	}
}

// readConsole handles one console line. End of input stops console
// watching and requests an exit.
func (c *Client) readConsole() error {
	line, err := c.console.ReadLine()
	if stderrors.Is(err, io.EOF) {
		c.mux.Deregister(StdinFD)
		c.logger.Debug("console closed, exiting")

		return c.session.Exit()
	}

	if err != nil {
		return errors.NewFatalError("read console", err).WithComponent(component)
	}

	return c.session.HandleInput(line)
}
