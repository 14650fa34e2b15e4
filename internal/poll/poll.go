// Package poll reports which of a set of descriptors is ready to be read.
//
// A Multiplexer delivers one ready descriptor per Wait. A descriptor that was
// reported is not watched again until the following Wait, so the caller can
// drain it from its own goroutine without racing the watcher.
package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// WaitForever makes Wait block until a descriptor is ready or ctx is done.
const WaitForever time.Duration = -1

var (
	// ErrTimeout is returned by Wait when no descriptor became ready in time.
	ErrTimeout = errors.New("poll: wait timed out")

	// ErrAlreadyRegistered is returned when a descriptor number is reused
	// while still registered.
	ErrAlreadyRegistered = errors.New("poll: descriptor already registered")
)

// Source blocks in Ready until it has input or has failed. A failure counts
// as readiness; the handler discovers it on its next read.
type Source interface {
	Ready() error
}

// PendingSource can tell whether input is still waiting after a reported
// readiness, letting Wait drop wakeups whose input was consumed elsewhere.
type PendingSource interface {
	Source
	Pending() bool
}

// Multiplexer is the readiness wait used by the dispatch loops.
type Multiplexer interface {
	Register(fd int, src Source) error
	Deregister(fd int)
	Wait(ctx context.Context, timeout time.Duration) (int, error)
}

type watcher struct {
	fd     int
	src    Source
	resume chan struct{}
	done   chan struct{}
}

// Set is a Multiplexer with one watcher goroutine per source. Register,
// Deregister and Wait must be called from a single goroutine.
type Set struct {
	mu       sync.Mutex
	watchers map[int]*watcher
	ready    chan *watcher
	last     *watcher
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{
		watchers: make(map[int]*watcher),
		ready:    make(chan *watcher),
	}
}

// Register starts watching src under descriptor fd.
func (s *Set) Register(fd int, src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watchers[fd]; ok {
		return fmt.Errorf("%w: %d", ErrAlreadyRegistered, fd)
	}

	w := &watcher{
		fd:     fd,
		src:    src,
		resume: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.watchers[fd] = w

	go s.watch(w)

	return nil
}

// Deregister stops watching fd. Unknown descriptors are ignored.
func (s *Set) Deregister(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watchers[fd]
	if !ok {
		return
	}

	delete(s.watchers, fd)
	close(w.done)

	if s.last == w {
		s.last = nil
	}
}

// Close deregisters every descriptor.
func (s *Set) Close() {
	s.mu.Lock()
	fds := make([]int, 0, len(s.watchers))
	for fd := range s.watchers {
		fds = append(fds, fd)
	}
	s.mu.Unlock()

	for _, fd := range fds {
		s.Deregister(fd)
	}
}

// Wait returns the next ready descriptor. A negative timeout waits forever.
func (s *Set) Wait(ctx context.Context, timeout time.Duration) (int, error) {
	s.rearm()

	var expired <-chan time.Time

	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		expired = timer.C
	}

	for {
		select {
		case w := <-s.ready:
			if !s.registered(w) {
				continue
			}

			if p, ok := w.src.(PendingSource); ok && !p.Pending() {
				w.resume <- struct{}{}

				continue
			}

			s.mu.Lock()
			s.last = w
			s.mu.Unlock()

			return w.fd, nil
		case <-expired:
			return -1, ErrTimeout
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
}

func (s *Set) rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == nil {
		return
	}

	select {
	case s.last.resume <- struct{}{}:
	default:
	}

	s.last = nil
}

func (s *Set) registered(w *watcher) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.watchers[w.fd] == w
}

func (s *Set) watch(w *watcher) {
	for {
		_ = w.src.Ready()

		select {
		case s.ready <- w:
		case <-w.done:
			return
		}

		select {
		case <-w.resume:
		case <-w.done:
			return
		}
	}
}
