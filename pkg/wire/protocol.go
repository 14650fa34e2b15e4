// Package wire implements the chat relay binary framing: a 2-byte big-endian
// total length, a 1-byte flag and a flag-specific positional payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Constants for the wire protocol.
const (
	// LengthSize is the size of the total-length field.
	LengthSize = 2

	// FlagSize is the size of the flag field.
	FlagSize = 1

	// HeaderSize is the size of the fixed header.
	HeaderSize = LengthSize + FlagSize

	// MaxFrameSize bounds every frame, header included. Client and server share it.
	MaxFrameSize = 1400

	// MaxPayloadSize is the largest payload that fits in one frame.
	MaxPayloadSize = MaxFrameSize - HeaderSize
)

// Flag selects the payload schema of a frame.
type Flag uint8

const (
	FlagRegister          Flag = 1
	FlagRegisterOK        Flag = 2
	FlagRegisterDuplicate Flag = 3
	FlagBroadcast         Flag = 4
	FlagMessage           Flag = 5
	FlagInvalidDest       Flag = 7
	FlagExit              Flag = 8
	FlagExitAck           Flag = 9
	FlagListRequest       Flag = 10
	FlagListCount         Flag = 11
	FlagListEntry         Flag = 12
	FlagListEnd           Flag = 13
)

var flagNames = map[Flag]string{
	FlagRegister:          "register",
	FlagRegisterOK:        "register_ok",
	FlagRegisterDuplicate: "register_duplicate",
	FlagBroadcast:         "broadcast",
	FlagMessage:           "message",
	FlagInvalidDest:       "invalid_dest",
	FlagExit:              "exit",
	FlagExitAck:           "exit_ack",
	FlagListRequest:       "list_request",
	FlagListCount:         "list_count",
	FlagListEntry:         "list_entry",
	FlagListEnd:           "list_end",
}

// String returns the lower-case name of the flag, or "unknown_<n>".
func (f Flag) String() string {
	if name, ok := flagNames[f]; ok {
		return name
	}

	return fmt.Sprintf("unknown_%d", uint8(f))
}

// Known reports whether the flag is part of the catalog.
func (f Flag) Known() bool {
	_, ok := flagNames[f]

	return ok
}

var (
	// ErrPeerClosed is returned when the peer closed the stream, including a
	// zero length field and a stream that ends inside a frame.
	ErrPeerClosed = errors.New("wire: peer closed connection")

	// ErrInvalidLength is returned for a length field smaller than the header.
	ErrInvalidLength = errors.New("wire: invalid frame length")

	// ErrFrameTooLarge is returned for frames larger than MaxFrameSize.
	ErrFrameTooLarge = errors.New("wire: frame too large")

	// ErrUnknownFlag is returned when decoding a flag outside the catalog.
	ErrUnknownFlag = errors.New("wire: unknown flag")

	// ErrMalformedPayload is returned when a payload does not match its flag's layout.
	ErrMalformedPayload = errors.New("wire: malformed payload")
)

// Frame is one complete wire unit. The length field is derived on encode.
type Frame struct {
	Flag    Flag
	Payload []byte
}

// Len returns the value of the frame's length field.
func (f Frame) Len() int {
	return HeaderSize + len(f.Payload)
}

// Encode returns the frame's wire bytes.
func (f Frame) Encode() ([]byte, error) {
	total := f.Len()
	if total > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}

	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:LengthSize], uint16(total)) // #nosec G115 - bounded by MaxFrameSize
	buf[LengthSize] = byte(f.Flag)
	copy(buf[HeaderSize:], f.Payload)

	return buf, nil
}

// WriteTo writes the encoded frame to w in a single Write call.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	buf, err := f.Encode()
	if err != nil {
		return 0, err
	}

	n, err := w.Write(buf)
	if err != nil {
		return int64(n), fmt.Errorf("failed to write frame: %w", err)
	}

	if n != len(buf) {
		return int64(n), io.ErrShortWrite
	}

	return int64(n), nil
}

// ReadFrame reads exactly one frame from r.
//
// A frame whose length is 1 or 2 is reported as ErrInvalidLength and a frame
// larger than MaxFrameSize has its body discarded before ErrFrameTooLarge is
// returned; in both cases r is left at the next frame boundary.
func ReadFrame(r io.Reader) (Frame, error) {
	total, err := readLength(r)
	if err != nil {
		return Frame{}, err
	}

	switch {
	case total == 0:
		return Frame{}, ErrPeerClosed
	case total < HeaderSize:
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidLength, total)
	case total > MaxFrameSize:
		if err := discard(r, int64(total-LengthSize)); err != nil {
			return Frame{}, err
		}

		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}

	body := make([]byte, total-LengthSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, readError(err, "failed to read frame body")
	}

	return Frame{Flag: Flag(body[0]), Payload: body[FlagSize:]}, nil
}

// readLength reads the 2-byte length field. A stream that ends before or
// inside the field means the peer is gone.
func readLength(r io.Reader) (int, error) {
	var hdr [LengthSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, readError(err, "failed to read frame length")
	}

	return int(binary.BigEndian.Uint16(hdr[:])), nil
}

func discard(r io.Reader, n int64) error {
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return readError(err, "failed to discard oversized frame")
	}

	return nil
}

func readError(err error, msg string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrPeerClosed
	}

	return fmt.Errorf("%s: %w", msg, err)
}
