package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Encode(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  []byte
	}{
		{
			name:  "empty payload",
			frame: Frame{Flag: FlagRegisterOK},
			want:  []byte{0x00, 0x03, 0x02},
		},
		{
			name:  "register payload",
			frame: Frame{Flag: FlagRegister, Payload: []byte{3, 'B', 'o', 'b'}},
			want:  []byte{0x00, 0x07, 0x01, 3, 'B', 'o', 'b'},
		},
		{
			name:  "list count payload",
			frame: Frame{Flag: FlagListCount, Payload: []byte{0, 0, 1, 2}},
			want:  []byte{0x00, 0x07, 0x0B, 0, 0, 1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.frame.Encode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.want), tt.frame.Len())
		})
	}
}

func TestFrame_EncodeTooLarge(t *testing.T) {
	frame := Frame{Flag: FlagBroadcast, Payload: make([]byte, MaxPayloadSize+1)}

	_, err := frame.Encode()
	require.ErrorIs(t, err, ErrFrameTooLarge)

	frame.Payload = frame.Payload[:MaxPayloadSize]
	buf, err := frame.Encode()
	require.NoError(t, err)
	assert.Equal(t, uint16(MaxFrameSize), binary.BigEndian.Uint16(buf))
}

func TestReadFrame(t *testing.T) {
	in := Frame{Flag: FlagInvalidDest, Payload: []byte{4, 'D', 'a', 'v', 'e'}}
	buf, err := in.Encode()
	require.NoError(t, err)

	out, err := ReadFrame(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, in.Flag, out.Flag)
	assert.Equal(t, in.Payload, out.Payload)
}

func TestReadFrame_Sequence(t *testing.T) {
	var stream bytes.Buffer

	for _, f := range []Frame{{Flag: FlagListCount, Payload: []byte{0, 0, 0, 1}}, {Flag: FlagListEnd}} {
		_, err := f.WriteTo(&stream)
		require.NoError(t, err)
	}

	first, err := ReadFrame(&stream)
	require.NoError(t, err)
	assert.Equal(t, FlagListCount, first.Flag)

	second, err := ReadFrame(&stream)
	require.NoError(t, err)
	assert.Equal(t, FlagListEnd, second.Flag)
	assert.Empty(t, second.Payload)

	_, err = ReadFrame(&stream)
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestReadFrame_PeerClosed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "no bytes", data: nil},
		{name: "short length header", data: []byte{0x00}},
		{name: "zero length", data: []byte{0x00, 0x00}},
		{name: "truncated body", data: []byte{0x00, 0x08, 0x01, 3, 'B'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, ErrPeerClosed)
		})
	}
}

func TestReadFrame_ZeroLengthIsNotFlagZero(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x00}))
	require.ErrorIs(t, err, ErrPeerClosed)

	f, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x03, 0x00}))
	require.NoError(t, err)
	assert.Equal(t, Flag(0), f.Flag)
}

func TestReadFrame_InvalidLengthKeepsStreamInSync(t *testing.T) {
	stream := bytes.NewReader([]byte{0x00, 0x02, 0x00, 0x03, 0x0A})

	_, err := ReadFrame(stream)
	require.ErrorIs(t, err, ErrInvalidLength)

	f, err := ReadFrame(stream)
	require.NoError(t, err)
	assert.Equal(t, FlagListRequest, f.Flag)
}

func TestReadFrame_OversizedFrameIsDiscarded(t *testing.T) {
	var stream bytes.Buffer

	oversized := MaxFrameSize + 10
	hdr := make([]byte, LengthSize)
	binary.BigEndian.PutUint16(hdr, uint16(oversized))
	stream.Write(hdr)
	stream.Write(bytes.Repeat([]byte{0xAB}, oversized-LengthSize))
	stream.Write([]byte{0x00, 0x03, byte(FlagExit)})

	_, err := ReadFrame(&stream)
	require.ErrorIs(t, err, ErrFrameTooLarge)

	f, err := ReadFrame(&stream)
	require.NoError(t, err)
	assert.Equal(t, FlagExit, f.Flag)
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestReadFrame_TransportError(t *testing.T) {
	boom := errors.New("boom")

	_, err := ReadFrame(failingReader{err: boom})
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrPeerClosed)
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) - 1, nil }

func TestFrame_WriteToShortWrite(t *testing.T) {
	_, err := Frame{Flag: FlagExit}.WriteTo(shortWriter{})
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestFlag_String(t *testing.T) {
	assert.Equal(t, "message", FlagMessage.String())
	assert.Equal(t, "unknown_6", Flag(6).String())
	assert.True(t, FlagListEnd.Known())
	assert.False(t, Flag(6).Known())
}
