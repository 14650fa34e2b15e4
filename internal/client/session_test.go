package client

import (
	"bytes"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	customerrors "github.com/actual-software/chat-relay/internal/errors"
	"github.com/actual-software/chat-relay/pkg/wire"
)

// newPair returns a session for handle and the server end of its connection.
func newPair(t *testing.T, handle string) (*Session, *wire.Transport, *bytes.Buffer) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	out := &bytes.Buffer{}

	s, err := NewSession(handle, clientConn, out, zaptest.NewLogger(t))
	require.NoError(t, err)

	server := wire.NewTransport(serverConn)
	t.Cleanup(func() {
		_ = s.Close()
		_ = server.Close()
	})

	return s, server, out
}

func registered(t *testing.T, handle string) (*Session, *wire.Transport, *bytes.Buffer) {
	t.Helper()

	s, server, out := newPair(t, handle)

	go func() {
		_, _, _ = server.ReceivePacket()
		_ = server.Send(wire.RegisterOK{})
	}()

	require.NoError(t, s.Register())
	require.Equal(t, StateReady, s.State())

	return s, server, out
}

func async(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	return done
}

func receive(t *testing.T, server *wire.Transport) wire.Packet {
	t.Helper()

	p, _, err := server.ReceivePacket()
	require.NoError(t, err)

	return p
}

func TestNewSession_InvalidHandle(t *testing.T) {
	clientConn, _ := net.Pipe()

	_, err := NewSession("1abc", clientConn, &bytes.Buffer{}, zaptest.NewLogger(t))
	assert.True(t, customerrors.IsType(err, customerrors.TypeValidation))
	assert.ErrorIs(t, err, wire.ErrHandleStart)
}

func TestSession_Register(t *testing.T) {
	s, server, _ := newPair(t, "Alice")
	assert.Equal(t, StateUnregistered, s.State())

	done := async(s.Register)

	assert.Equal(t, wire.Register{Handle: "Alice"}, receive(t, server))
	require.NoError(t, server.Send(wire.RegisterOK{}))

	require.NoError(t, <-done)
	assert.Equal(t, StateReady, s.State())
}

func TestSession_RegisterDuplicate(t *testing.T) {
	s, server, out := newPair(t, "Alice")

	done := async(s.Register)

	receive(t, server)
	require.NoError(t, server.Send(wire.RegisterDuplicate{}))

	assert.ErrorIs(t, <-done, ErrDuplicateHandle)
	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, "Handle already in use: <Alice>\n", out.String())
}

func TestSession_RegisterServerClosed(t *testing.T) {
	s, server, out := newPair(t, "Alice")

	done := async(s.Register)

	receive(t, server)
	require.NoError(t, server.Close())

	assert.ErrorIs(t, <-done, ErrServerClosed)
	assert.Equal(t, "Server Terminated\n", out.String())
}

func TestSession_RegisterSkipsUndecodableFrames(t *testing.T) {
	s, server, _ := newPair(t, "Alice")

	done := async(s.Register)

	receive(t, server)
	require.NoError(t, server.SendFrame(wire.Frame{Flag: 6}))
	require.NoError(t, server.Send(wire.RegisterOK{}))

	require.NoError(t, <-done)
}

func TestSession_RegisterTwice(t *testing.T) {
	s, _, _ := registered(t, "Alice")

	assert.True(t, customerrors.IsType(s.Register(), customerrors.TypeInternal))
}

func TestSession_InputBeforeRegister(t *testing.T) {
	s, _, _ := newPair(t, "Alice")

	assert.ErrorIs(t, s.HandleInput("%L"), ErrNotReady)
}

func TestSession_Message(t *testing.T) {
	s, server, _ := registered(t, "Alice")

	done := async(func() error { return s.HandleInput("%M 2 Bob Carol hello there") })

	want := wire.Message{Source: "Alice", Destinations: []string{"Bob", "Carol"}, Text: []byte("hello there")}
	assert.Equal(t, want, receive(t, server))
	require.NoError(t, <-done)
}

func TestSession_EmptyMessageSendsNewline(t *testing.T) {
	s, server, _ := registered(t, "Alice")

	done := async(func() error { return s.HandleInput("%M 1 Bob") })

	want := wire.Message{Source: "Alice", Destinations: []string{"Bob"}, Text: []byte("\n")}
	assert.Equal(t, want, receive(t, server))
	require.NoError(t, <-done)
}

func TestSession_BroadcastFragments(t *testing.T) {
	s, server, _ := registered(t, "Alice")

	text := strings.Repeat("y", 450)
	done := async(func() error { return s.HandleInput("%B " + text) })

	for _, chunk := range []string{text[:199], text[199:398], text[398:]} {
		assert.Equal(t, wire.Broadcast{Source: "Alice", Text: []byte(chunk)}, receive(t, server))
	}

	require.NoError(t, <-done)
}

func TestSession_InvalidInputSendsNothing(t *testing.T) {
	s, _, out := registered(t, "Alice")

	// net.Pipe is unbuffered: any write here would block the call forever.
	require.NoError(t, s.HandleInput("hello"))
	require.NoError(t, s.HandleInput("%M 12 Bob hi"))
	require.NoError(t, s.HandleInput("%M 1 7up hi"))

	assert.Equal(t,
		"Invalid command\n"+
			"num handles must be [1-9]\n"+
			"Invalid handle, handle must start with a letter: <7up>\n",
		out.String())
}

func TestSession_List(t *testing.T) {
	s, server, out := registered(t, "Alice")

	done := async(func() error { return s.HandleInput("%L") })

	assert.Equal(t, wire.ListRequest{}, receive(t, server))

	for _, p := range []wire.Packet{
		wire.ListCount{Count: 2},
		wire.Message{Source: "Bob", Destinations: []string{"Alice"}, Text: []byte("psst")},
		wire.ListEntry{Handle: "Alice"},
		wire.ListEntry{Handle: "Bob"},
		wire.ListEnd{},
	} {
		require.NoError(t, server.Send(p))
	}

	require.NoError(t, <-done)
	assert.Equal(t, "Number of clients: 2\n\nBob: psst\n  Alice\n  Bob\n", out.String())
}

func TestSession_HandleServer(t *testing.T) {
	s, server, out := registered(t, "Alice")

	go func() {
		_ = server.Send(wire.Broadcast{Source: "Bob", Text: []byte("hi all")})
		_ = server.Send(wire.InvalidDest{Handle: "Dave"})
		_ = server.Send(wire.ExitAck{})
	}()

	require.NoError(t, s.HandleServer())
	require.NoError(t, s.HandleServer())
	assert.ErrorIs(t, s.HandleServer(), ErrExitAcknowledged)
	assert.Equal(t, StateTerminated, s.State())

	assert.Equal(t, "\nBob: hi all\nClient with handle <Dave> does not exist\n", out.String())
}

func TestSession_HandleServerClosed(t *testing.T) {
	s, server, out := registered(t, "Alice")

	require.NoError(t, server.Close())

	assert.ErrorIs(t, s.HandleServer(), ErrServerClosed)
	assert.Equal(t, "Server Terminated\n", out.String())
}

func TestSession_SendFailureIsFatal(t *testing.T) {
	s, server, _ := registered(t, "Alice")

	require.NoError(t, server.Close())

	err := s.HandleInput("%B hello")
	assert.True(t, customerrors.IsFatal(err))
}
