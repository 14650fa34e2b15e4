// Package router decides where each frame received by the server goes.
package router

import (
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/actual-software/chat-relay/internal/errors"
	"github.com/actual-software/chat-relay/internal/logging"
	"github.com/actual-software/chat-relay/internal/metrics"
	"github.com/actual-software/chat-relay/internal/registry"
	"github.com/actual-software/chat-relay/pkg/wire"
)

const component = "router"

// Protocol error reasons, used as log context and metric labels.
const (
	ReasonUnknownFlag      = "unknown_flag"
	ReasonMalformedPayload = "malformed_payload"
	ReasonDestinationCount = "destination_count"
	ReasonUnexpectedFlag   = "unexpected_flag"
	ReasonNotRegistered    = "not_registered"
	ReasonReregister       = "already_registered"
	ReasonInvalidHandle    = "invalid_handle"
)

// Outbox delivers frames to connections. A returned error is treated as a
// fatal transport failure.
type Outbox interface {
	Send(conn registry.ConnID, frame wire.Frame) error
}

// Disposition tells the dispatch loop what to do with the originating
// connection after a frame has been routed.
type Disposition int

const (
	// Keep leaves the connection open.
	Keep Disposition = iota
	// Close tears the connection down; its registry slot is already closed.
	Close
)

// Router applies the relay rules against a registry.
type Router struct {
	registry *registry.Registry
	outbox   Outbox
	logger   *zap.Logger
	metrics  *metrics.Registry
}

// New creates a router. metrics may be nil.
func New(reg *registry.Registry, outbox Outbox, logger *zap.Logger, m *metrics.Registry) *Router {
	return &Router{
		registry: reg,
		outbox:   outbox,
		logger:   logger.With(zap.String(logging.FieldComponent, component)),
		metrics:  m,
	}
}

// Route handles one frame received from conn. Protocol errors leave the
// connection open and are returned with TypeProtocol; send failures are
// returned with TypeFatal.
func (r *Router) Route(from registry.ConnID, frame wire.Frame) (Disposition, error) {
	start := time.Now()
	defer func() {
		r.metrics.RecordRoutingDuration(frame.Flag.String(), time.Since(start))
	}()

	packet, err := wire.Unmarshal(frame)
	if err != nil {
		return Keep, r.decodeError(from, frame, err)
	}

	switch p := packet.(type) {
	case wire.Register:
		return Keep, r.register(from, p)
	case wire.Message:
		return Keep, r.message(from, frame, p)
	case wire.Broadcast:
		return Keep, r.broadcast(from, frame)
	case wire.ListRequest:
		return Keep, r.list(from)
	case wire.Exit:
		return Close, r.exit(from)
	default:
		return Keep, r.protocolError(ReasonUnexpectedFlag, nil, "flag not accepted from clients").
			WithContext("flag", frame.Flag.String())
	}
}

// Disconnect closes the slot owned by conn, if any. It is the teardown for a
// peer that went away without EXIT.
func (r *Router) Disconnect(conn registry.ConnID) {
	if r.registry.Remove(conn) {
		r.logger.Debug("slot closed", zap.Int(logging.FieldConn, int(conn)))
	}

	r.updateRegistryMetrics()
}

func (r *Router) register(from registry.ConnID, p wire.Register) error {
	if _, ok := r.registry.Handle(from); ok {
		return r.protocolError(ReasonReregister, nil, "connection already registered").
			WithContext("handle", p.Handle)
	}

	if err := wire.ValidateHandle(p.Handle); err != nil {
		return r.protocolError(ReasonInvalidHandle, err, "invalid handle")
	}

	if _, taken := r.registry.Lookup(p.Handle); taken {
		r.logger.Info("handle already in use", zap.String(logging.FieldHandle, p.Handle), zap.Int(logging.FieldConn, int(from)))

		return r.send(from, wire.RegisterDuplicate{})
	}

	if _, err := r.registry.Insert(from, p.Handle); err != nil {
		return r.protocolError(ReasonReregister, err, "insert failed")
	}

	r.updateRegistryMetrics()
	r.logger.Info("handle registered", zap.String(logging.FieldHandle, p.Handle), zap.Int(logging.FieldConn, int(from)))

	return r.send(from, wire.RegisterOK{})
}

func (r *Router) message(from registry.ConnID, frame wire.Frame, p wire.Message) error {
	if err := r.requireRegistered(from, frame.Flag); err != nil {
		return err
	}

	for _, dest := range p.Destinations {
		idx, ok := r.registry.Lookup(dest)
		if !ok {
			if err := r.send(from, wire.InvalidDest{Handle: dest}); err != nil {
				return err
			}

			continue
		}

		if err := r.forward(r.registry.At(idx).Conn, frame); err != nil {
			return err
		}
	}

	return nil
}

func (r *Router) broadcast(from registry.ConnID, frame wire.Frame) error {
	if err := r.requireRegistered(from, frame.Flag); err != nil {
		return err
	}

	return r.registry.ForEachOpen(func(_ int, slot registry.Slot) error {
		if slot.Conn == from {
			return nil
		}

		return r.forward(slot.Conn, frame)
	})
}

func (r *Router) list(from registry.ConnID) error {
	if err := r.requireRegistered(from, wire.FlagListRequest); err != nil {
		return err
	}

	if err := r.send(from, wire.ListCount{Count: uint32(r.registry.Len())}); err != nil {
		return err
	}

	err := r.registry.ForEachOpen(func(_ int, slot registry.Slot) error {
		return r.send(from, wire.ListEntry{Handle: slot.Handle})
	})
	if err != nil {
		return err
	}

	return r.send(from, wire.ListEnd{})
}

func (r *Router) exit(from registry.ConnID) error {
	err := r.send(from, wire.ExitAck{})

	r.Disconnect(from)

	return err
}

func (r *Router) requireRegistered(from registry.ConnID, flag wire.Flag) error {
	if _, ok := r.registry.Handle(from); ok {
		return nil
	}

	return r.protocolError(ReasonNotRegistered, nil, "connection has not registered").
		WithContext("flag", flag.String())
}

func (r *Router) send(to registry.ConnID, p wire.Packet) error {
	frame, err := wire.Marshal(p)
	if err != nil {
		return errors.WrapWithType(err, errors.TypeInternal, "encode reply").
			WithComponent(component).
			WithOperation("send")
	}

	return r.forward(to, frame)
}

// forward writes frame to conn unchanged.
func (r *Router) forward(to registry.ConnID, frame wire.Frame) error {
	if err := r.outbox.Send(to, frame); err != nil {
		return errors.NewFatalError("send", err).
			WithComponent(component).
			WithContext("conn", int(to)).
			WithContext("flag", frame.Flag.String())
	}

	return nil
}

func (r *Router) decodeError(from registry.ConnID, frame wire.Frame, err error) *errors.ChatError {
	reason := ReasonMalformedPayload

	switch {
	case stderrors.Is(err, wire.ErrUnknownFlag):
		reason = ReasonUnknownFlag
	case stderrors.Is(err, wire.ErrDestinationCount):
		reason = ReasonDestinationCount
	}

	return r.protocolError(reason, err, "frame discarded").
		WithContext("conn", int(from)).
		WithContext("flag", frame.Flag.String())
}

func (r *Router) protocolError(reason string, cause error, message string) *errors.ChatError {
	r.metrics.IncrementProtocolErrors(reason)

	var ce *errors.ChatError
	if cause != nil {
		ce = errors.WrapWithType(cause, errors.TypeProtocol, message)
	} else {
		ce = errors.NewProtocolError(message)
	}

	return ce.WithComponent(component).WithOperation("route").WithContext("reason", reason)
}

func (r *Router) updateRegistryMetrics() {
	r.metrics.SetRegistry(r.registry.Len(), r.registry.Capacity())
}
