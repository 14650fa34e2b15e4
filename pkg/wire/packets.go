package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MaxDestinations is the largest destination count a MESSAGE may carry.
	MaxDestinations = 9

	// MaxTextSize bounds the text of one MESSAGE or BROADCAST, terminator included.
	MaxTextSize = 200

	countSize = 4
)

// ErrDestinationCount is returned for a MESSAGE destination count outside 1..MaxDestinations.
var ErrDestinationCount = errors.New("wire: destination count out of range")

// Packet is the typed form of a frame payload. Each flag in the catalog has
// exactly one implementation.
type Packet interface {
	Flag() Flag
	MarshalPayload() ([]byte, error)
}

// Register asks the server to bind Handle to the sending connection.
type Register struct {
	Handle string
}

// RegisterOK confirms a Register.
type RegisterOK struct{}

// RegisterDuplicate rejects a Register whose handle is already bound.
type RegisterDuplicate struct{}

// Broadcast carries Text from Source to every other registered client.
type Broadcast struct {
	Source string
	Text   []byte
}

// Message carries Text from Source to each handle in Destinations.
type Message struct {
	Source       string
	Destinations []string
	Text         []byte
}

// InvalidDest tells a sender that Handle is not registered.
type InvalidDest struct {
	Handle string
}

// Exit asks the server to drop the sending connection.
type Exit struct{}

// ExitAck confirms an Exit.
type ExitAck struct{}

// ListRequest asks for the registered handles.
type ListRequest struct{}

// ListCount announces how many ListEntry packets follow.
type ListCount struct {
	Count uint32
}

// ListEntry carries one registered handle.
type ListEntry struct {
	Handle string
}

// ListEnd terminates a ListEntry sequence.
type ListEnd struct{}

func (Register) Flag() Flag          { return FlagRegister }
func (RegisterOK) Flag() Flag        { return FlagRegisterOK }
func (RegisterDuplicate) Flag() Flag { return FlagRegisterDuplicate }
func (Broadcast) Flag() Flag         { return FlagBroadcast }
func (Message) Flag() Flag           { return FlagMessage }
func (InvalidDest) Flag() Flag       { return FlagInvalidDest }
func (Exit) Flag() Flag              { return FlagExit }
func (ExitAck) Flag() Flag           { return FlagExitAck }
func (ListRequest) Flag() Flag       { return FlagListRequest }
func (ListCount) Flag() Flag         { return FlagListCount }
func (ListEntry) Flag() Flag         { return FlagListEntry }
func (ListEnd) Flag() Flag           { return FlagListEnd }

func (p Register) MarshalPayload() ([]byte, error)        { return appendHandle(nil, p.Handle) }
func (RegisterOK) MarshalPayload() ([]byte, error)        { return nil, nil }
func (RegisterDuplicate) MarshalPayload() ([]byte, error) { return nil, nil }
func (p InvalidDest) MarshalPayload() ([]byte, error)     { return appendHandle(nil, p.Handle) }
func (Exit) MarshalPayload() ([]byte, error)              { return nil, nil }
func (ExitAck) MarshalPayload() ([]byte, error)           { return nil, nil }
func (ListRequest) MarshalPayload() ([]byte, error)       { return nil, nil }
func (p ListEntry) MarshalPayload() ([]byte, error)       { return appendHandle(nil, p.Handle) }
func (ListEnd) MarshalPayload() ([]byte, error)           { return nil, nil }

func (p ListCount) MarshalPayload() ([]byte, error) {
	return binary.BigEndian.AppendUint32(nil, p.Count), nil
}

func (p Broadcast) MarshalPayload() ([]byte, error) {
	buf, err := appendHandle(nil, p.Source)
	if err != nil {
		return nil, err
	}

	return appendText(buf, p.Text), nil
}

func (p Message) MarshalPayload() ([]byte, error) {
	if len(p.Destinations) < 1 || len(p.Destinations) > MaxDestinations {
		return nil, fmt.Errorf("%w: %d", ErrDestinationCount, len(p.Destinations))
	}

	buf, err := appendHandle(nil, p.Source)
	if err != nil {
		return nil, err
	}

	buf = append(buf, byte(len(p.Destinations)))
	for _, dest := range p.Destinations {
		if buf, err = appendHandle(buf, dest); err != nil {
			return nil, err
		}
	}

	return appendText(buf, p.Text), nil
}

// Marshal converts a packet into a frame, enforcing MaxFrameSize.
func Marshal(p Packet) (Frame, error) {
	payload, err := p.MarshalPayload()
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %s: %w", p.Flag(), err)
	}

	if len(payload) > MaxPayloadSize {
		return Frame{}, fmt.Errorf("%w: %s payload of %d bytes", ErrFrameTooLarge, p.Flag(), len(payload))
	}

	return Frame{Flag: p.Flag(), Payload: payload}, nil
}

// Unmarshal decodes a frame into its typed packet. Every length byte is
// checked against the remaining payload before it is used.
//
//nolint:ireturn // sum type over the flag catalog
func Unmarshal(f Frame) (Packet, error) {
	r := payloadReader{buf: f.Payload}

	var (
		p   Packet
		err error
	)

	switch f.Flag {
	case FlagRegister:
		var h string
		h, err = r.readHandle()
		p = Register{Handle: h}
	case FlagInvalidDest:
		var h string
		h, err = r.readHandle()
		p = InvalidDest{Handle: h}
	case FlagListEntry:
		var h string
		h, err = r.readHandle()
		p = ListEntry{Handle: h}
	case FlagListCount:
		var n uint32
		n, err = r.readUint32()
		p = ListCount{Count: n}
	case FlagBroadcast:
		p, err = unmarshalBroadcast(&r)
	case FlagMessage:
		p, err = unmarshalMessage(&r)
	case FlagRegisterOK:
		p = RegisterOK{}
	case FlagRegisterDuplicate:
		p = RegisterDuplicate{}
	case FlagExit:
		p = Exit{}
	case FlagExitAck:
		p = ExitAck{}
	case FlagListRequest:
		p = ListRequest{}
	case FlagListEnd:
		p = ListEnd{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFlag, uint8(f.Flag))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", f.Flag, err)
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("failed to decode %s: %w: %d trailing bytes", f.Flag, ErrMalformedPayload, r.remaining())
	}

	return p, nil
}

func unmarshalBroadcast(r *payloadReader) (Broadcast, error) {
	src, err := r.readHandle()
	if err != nil {
		return Broadcast{}, err
	}

	return Broadcast{Source: src, Text: r.readText()}, nil
}

func unmarshalMessage(r *payloadReader) (Message, error) {
	src, err := r.readHandle()
	if err != nil {
		return Message{}, err
	}

	count, err := r.readByte()
	if err != nil {
		return Message{}, err
	}

	if count < 1 || count > MaxDestinations {
		return Message{}, fmt.Errorf("%w: %d", ErrDestinationCount, count)
	}

	dests := make([]string, 0, count)
	for range int(count) {
		dest, err := r.readHandle()
		if err != nil {
			return Message{}, err
		}

		dests = append(dests, dest)
	}

	return Message{Source: src, Destinations: dests, Text: r.readText()}, nil
}

func appendHandle(buf []byte, h string) ([]byte, error) {
	if len(h) == 0 || len(h) > MaxHandleLen {
		return nil, fmt.Errorf("%w: handle length %d", ErrMalformedPayload, len(h))
	}

	buf = append(buf, byte(len(h)))

	return append(buf, h...), nil
}

func appendText(buf, text []byte) []byte {
	buf = append(buf, text...)

	return append(buf, 0)
}

// payloadReader walks a payload positionally.
type payloadReader struct {
	buf []byte
	off int
}

func (r *payloadReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *payloadReader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrMalformedPayload, r.off)
	}

	b := r.buf[r.off]
	r.off++

	return b, nil
}

func (r *payloadReader) readHandle() (string, error) {
	n, err := r.readByte()
	if err != nil {
		return "", err
	}

	if n == 0 || int(n) > MaxHandleLen {
		return "", fmt.Errorf("%w: handle length %d", ErrMalformedPayload, n)
	}

	if r.remaining() < int(n) {
		return "", fmt.Errorf("%w: handle length %d exceeds %d remaining bytes", ErrMalformedPayload, n, r.remaining())
	}

	h := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)

	return h, nil
}

func (r *payloadReader) readUint32() (uint32, error) {
	if r.remaining() < countSize {
		return 0, fmt.Errorf("%w: truncated count", ErrMalformedPayload)
	}

	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+countSize])
	r.off += countSize

	return v, nil
}

// readText consumes the rest of the payload and returns the bytes before the
// first NUL.
func (r *payloadReader) readText() []byte {
	rest := r.buf[r.off:]
	r.off = len(r.buf)

	if i := bytes.IndexByte(rest, 0); i >= 0 {
		rest = rest[:i]
	}

	return rest
}
