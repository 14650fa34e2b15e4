package client

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/actual-software/chat-relay/pkg/wire"
)

// MaxLineLength is the longest console line kept; the rest of a longer line
// is read and dropped.
const MaxLineLength = wire.MaxFrameSize - 1

// LineReader reads console lines and doubles as a poll source.
type LineReader struct {
	mu      sync.Mutex
	reader  *bufio.Reader
	peekErr error
}

// NewLineReader creates a LineReader over r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{reader: bufio.NewReader(r)}
}

// Ready blocks until input or a read error is available.
func (l *LineReader) Ready() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.reader.Peek(1)
	l.peekErr = err

	return err
}

// Pending reports whether a ReadLine would return without blocking.
func (l *LineReader) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.reader.Buffered() > 0 || l.peekErr != nil
}

// ReadLine returns the next line without its line terminator. A final line
// lacking a newline is returned as is; io.EOF is returned once input is
// exhausted.
func (l *LineReader) ReadLine() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.peekErr = nil

	var b strings.Builder

	for {
		chunk, err := l.reader.ReadSlice('\n')
		if room := MaxLineLength - b.Len(); room > 0 {
			b.Write(chunk[:min(len(chunk), room)])
		}

		switch {
		case err == nil:
			return strings.TrimRight(b.String(), "\r\n"), nil
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF && b.Len() > 0:
			return strings.TrimRight(b.String(), "\r\n"), nil
		default:
			return "", err
		}
	}
}
