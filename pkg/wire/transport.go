package wire

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// Transport provides framed packet transport over a stream.
//
// Transport doubles as a readiness source: Ready blocks until a byte (or a
// read error) is available and Pending reports, without blocking, whether a
// Receive would make progress. Reads are serialised so a watcher parked in
// Ready never races a Receive.
type Transport struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader

	readMutex  sync.Mutex
	writeMutex sync.Mutex
	peekErr    error
}

// NewTransport creates a new transport from a connection.
func NewTransport(conn io.ReadWriteCloser) *Transport {
	return &Transport{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, MaxFrameSize),
	}
}

// Send marshals and writes a packet.
func (t *Transport) Send(p Packet) error {
	frame, err := Marshal(p)
	if err != nil {
		return err
	}

	return t.SendFrame(frame)
}

// SendFrame writes one frame in a single write. A short write is an error.
func (t *Transport) SendFrame(f Frame) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	if _, err := f.WriteTo(t.conn); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", f.Flag, err)
	}

	return nil
}

// Receive reads one frame.
func (t *Transport) Receive() (Frame, error) {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	t.peekErr = nil

	return ReadFrame(t.reader)
}

// ReceivePacket reads one frame and decodes it. The raw frame is returned
// alongside so callers can log or forward it even when decoding fails.
func (t *Transport) ReceivePacket() (Packet, Frame, error) {
	frame, err := t.Receive()
	if err != nil {
		return nil, Frame{}, err
	}

	p, err := Unmarshal(frame)

	return p, frame, err
}

// Ready blocks until data or a read error is available.
func (t *Transport) Ready() error {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	_, err := t.reader.Peek(1)
	t.peekErr = err

	return err
}

// Pending reports whether buffered data or a pending read error exists.
func (t *Transport) Pending() bool {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	return t.reader.Buffered() > 0 || t.peekErr != nil
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}
