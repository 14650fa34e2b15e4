package poll

import (
	"net"
	"sync"
)

// ListenerSource turns a listener into a Source. The accept itself happens
// in Ready; the dispatch loop collects the result with Accept.
type ListenerSource struct {
	listener net.Listener

	mu   sync.Mutex
	conn net.Conn
	err  error
}

// NewListenerSource wraps l.
func NewListenerSource(l net.Listener) *ListenerSource {
	return &ListenerSource{listener: l}
}

// Ready blocks until a connection is accepted or the listener fails.
func (s *ListenerSource) Ready() error {
	conn, err := s.listener.Accept()

	s.mu.Lock()
	s.conn, s.err = conn, err
	s.mu.Unlock()

	return err
}

// Pending reports whether an accept result is waiting to be collected.
func (s *ListenerSource) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn != nil || s.err != nil
}

// Accept returns the connection accepted by the last Ready.
func (s *ListenerSource) Accept() (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.conn, s.err
	s.conn, s.err = nil, nil

	return conn, err
}

// Addr returns the listener's address.
func (s *ListenerSource) Addr() net.Addr {
	return s.listener.Addr()
}

// Close closes the listener, unblocking a pending Ready.
func (s *ListenerSource) Close() error {
	return s.listener.Close()
}
