// Package registry tracks which connection owns which handle on the server.
//
// Slots are never compacted and never move: a slot index stays valid for the
// lifetime of the registry. Closed slots keep their stale handle and are
// recycled by the next Insert that finds them first.
package registry

import (
	"errors"
)

// DefaultInitialCapacity is the number of slots a new registry starts with.
const DefaultInitialCapacity = 10

// ConnID identifies a live connection.
type ConnID int

// Status is the state of a slot.
type Status uint8

const (
	StatusClosed Status = iota
	StatusOpen
)

// ErrAlreadyRegistered is returned when a connection that already owns an
// open slot tries to register again.
var ErrAlreadyRegistered = errors.New("registry: connection already registered")

// Slot binds a connection to a handle while open.
type Slot struct {
	Conn   ConnID
	Status Status
	Handle string
}

// Registry owns all slots. It is not safe for concurrent use; the server's
// dispatch loop is its only owner.
type Registry struct {
	slots []Slot
	open  int
}

// New creates a registry with the given number of slots. A non-positive
// capacity selects DefaultInitialCapacity.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultInitialCapacity
	}

	return &Registry{slots: make([]Slot, capacity)}
}

// Capacity returns the current number of slots.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// Len returns the number of open slots.
func (r *Registry) Len() int {
	return r.open
}

// Insert binds handle to conn in the lowest-index closed slot, doubling the
// capacity first when every slot is open. It returns the slot index.
func (r *Registry) Insert(conn ConnID, handle string) (int, error) {
	if _, ok := r.slotOf(conn); ok {
		return -1, ErrAlreadyRegistered
	}

	if r.open == len(r.slots) {
		r.grow()
	}

	for i := range r.slots {
		if r.slots[i].Status == StatusClosed {
			r.slots[i] = Slot{Conn: conn, Status: StatusOpen, Handle: handle}
			r.open++

			return i, nil
		}
	}

	// unreachable: grow guarantees a closed slot
	panic("registry: no closed slot after grow")
}

// grow doubles the slot count, preserving every existing slot in place.
func (r *Registry) grow() {
	next := make([]Slot, 2*len(r.slots))
	copy(next, r.slots)
	r.slots = next
}

// Lookup returns the index of the open slot holding handle. The comparison
// is exact and case-sensitive; closed slots never match.
func (r *Registry) Lookup(handle string) (int, bool) {
	for i := range r.slots {
		if r.slots[i].Status == StatusOpen && r.slots[i].Handle == handle {
			return i, true
		}
	}

	return -1, false
}

// Remove closes the open slot owned by conn. The stale handle is left in
// place. It reports whether a slot was closed.
func (r *Registry) Remove(conn ConnID) bool {
	i, ok := r.slotOf(conn)
	if !ok {
		return false
	}

	r.slots[i].Status = StatusClosed
	r.open--

	return true
}

// At returns a copy of the slot at index i.
func (r *Registry) At(i int) Slot {
	return r.slots[i]
}

// Handle returns the handle registered by conn.
func (r *Registry) Handle(conn ConnID) (string, bool) {
	i, ok := r.slotOf(conn)
	if !ok {
		return "", false
	}

	return r.slots[i].Handle, true
}

// ForEachOpen calls fn for every open slot in slot-index order. Iteration
// stops early when fn returns a non-nil error, which is returned.
func (r *Registry) ForEachOpen(fn func(index int, slot Slot) error) error {
	for i := range r.slots {
		if r.slots[i].Status != StatusOpen {
			continue
		}

		if err := fn(i, r.slots[i]); err != nil {
			return err
		}
	}

	return nil
}

func (r *Registry) slotOf(conn ConnID) (int, bool) {
	for i := range r.slots {
		if r.slots[i].Status == StatusOpen && r.slots[i].Conn == conn {
			return i, true
		}
	}

	return -1, false
}
