package registry

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultInitialCapacity, New(0).Capacity())
	assert.Equal(t, 4, New(4).Capacity())
}

func TestInsert_UsesLowestClosedSlot(t *testing.T) {
	r := New(4)

	for i, h := range []string{"Alice", "Bob", "Carol"} {
		idx, err := r.Insert(ConnID(10+i), h)
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}

	require.True(t, r.Remove(11))
	assert.Equal(t, 2, r.Len())

	idx, err := r.Insert(20, "Dave")
	require.NoError(t, err)
	assert.Equal(t, 1, idx, "closed slot 1 is recycled before slot 3")
	assert.Equal(t, Slot{Conn: 20, Status: StatusOpen, Handle: "Dave"}, r.At(1))
}

func TestInsert_GrowsByDoublingAndPreservesSlots(t *testing.T) {
	r := New(2)

	_, err := r.Insert(1, "Alice")
	require.NoError(t, err)
	_, err = r.Insert(2, "Bob")
	require.NoError(t, err)

	before := []Slot{r.At(0), r.At(1)}

	idx, err := r.Insert(3, "Carol")
	require.NoError(t, err)

	assert.Equal(t, 4, r.Capacity())
	assert.Equal(t, 2, idx)
	assert.Equal(t, before[0], r.At(0))
	assert.Equal(t, before[1], r.At(1))
	assert.Equal(t, 3, r.Len())

	_, err = r.Insert(4, "Dave")
	require.NoError(t, err)
	assert.Equal(t, 4, r.Capacity(), "no growth while a closed slot remains")

	_, err = r.Insert(5, "Eve")
	require.NoError(t, err)
	assert.Equal(t, 8, r.Capacity())
}

func TestInsert_GrowthOnlyWhenFull(t *testing.T) {
	r := New(2)

	_, _ = r.Insert(1, "A")
	_, _ = r.Insert(2, "B")
	r.Remove(1)

	idx, err := r.Insert(3, "C")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 2, r.Capacity())
}

func TestInsert_RejectsSecondRegistrationOfConnection(t *testing.T) {
	r := New(2)

	_, err := r.Insert(1, "Alice")
	require.NoError(t, err)

	_, err = r.Insert(1, "Alias")
	assert.True(t, errors.Is(err, ErrAlreadyRegistered))
	assert.Equal(t, 1, r.Len())
}

func TestLookup(t *testing.T) {
	r := New(4)
	_, _ = r.Insert(1, "Alice")
	_, _ = r.Insert(2, "Bob")

	idx, ok := r.Lookup("Bob")
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = r.Lookup("bob")
	assert.False(t, ok, "lookup is case-sensitive")

	_, ok = r.Lookup("Bo")
	assert.False(t, ok, "lookup matches exact length")

	_, ok = r.Lookup("Zed")
	assert.False(t, ok)
}

func TestLookup_IgnoresClosedSlots(t *testing.T) {
	r := New(4)
	_, _ = r.Insert(1, "Alice")
	r.Remove(1)

	assert.Equal(t, "Alice", r.At(0).Handle, "stale handle stays in the closed slot")

	_, ok := r.Lookup("Alice")
	assert.False(t, ok)

	idx, err := r.Insert(2, "Alice")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	got, ok := r.Lookup("Alice")
	require.True(t, ok)
	assert.Equal(t, ConnID(2), r.At(got).Conn)
}

func TestRemove_UnknownConnection(t *testing.T) {
	r := New(2)
	_, _ = r.Insert(1, "Alice")

	assert.False(t, r.Remove(99))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Remove(1))
	assert.False(t, r.Remove(1), "second remove is a no-op")
	assert.Equal(t, 0, r.Len())
}

func TestHandle(t *testing.T) {
	r := New(2)
	_, _ = r.Insert(7, "Alice")

	h, ok := r.Handle(7)
	require.True(t, ok)
	assert.Equal(t, "Alice", h)

	r.Remove(7)
	_, ok = r.Handle(7)
	assert.False(t, ok)
}

func TestForEachOpen_SlotOrder(t *testing.T) {
	r := New(2)
	for i, h := range []string{"A", "B", "C", "D", "E"} {
		_, err := r.Insert(ConnID(i), h)
		require.NoError(t, err)
	}
	r.Remove(1)
	r.Remove(3)

	var got []string
	err := r.ForEachOpen(func(index int, slot Slot) error {
		got = append(got, fmt.Sprintf("%d:%s", index, slot.Handle))

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"0:A", "2:C", "4:E"}, got)
}

func TestForEachOpen_StopsOnError(t *testing.T) {
	r := New(4)
	_, _ = r.Insert(1, "A")
	_, _ = r.Insert(2, "B")

	stop := errors.New("stop")
	calls := 0
	err := r.ForEachOpen(func(int, Slot) error {
		calls++

		return stop
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestOpenCountInvariant(t *testing.T) {
	r := New(1)
	ops := []struct {
		insert bool
		conn   ConnID
	}{
		{true, 1}, {true, 2}, {true, 3}, {false, 2}, {true, 4}, {false, 1}, {false, 9}, {true, 5}, {false, 3},
	}

	for _, op := range ops {
		if op.insert {
			_, err := r.Insert(op.conn, fmt.Sprintf("h%d", op.conn))
			require.NoError(t, err)
		} else {
			r.Remove(op.conn)
		}

		open := 0
		_ = r.ForEachOpen(func(int, Slot) error {
			open++

			return nil
		})
		assert.Equal(t, open, r.Len())
	}
}
