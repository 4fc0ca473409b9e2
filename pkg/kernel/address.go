package kernel

import "fmt"

// Address is a location in target memory. It is only ever passed back to
// the Port inside a new expression, never dereferenced on the host.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("0x%08x", uint64(a))
}

// AddressMap is an insertion ordered map keyed by target address.
type AddressMap[T any] struct {
	order []Address
	items map[Address]T
}

func newAddressMap[T any]() *AddressMap[T] {
	return &AddressMap[T]{items: make(map[Address]T)}
}

// put appends v under a. It returns false, leaving the map unchanged, if a
// is already present.
func (m *AddressMap[T]) put(a Address, v T) bool {
	if _, dup := m.items[a]; dup {
		return false
	}
	m.order = append(m.order, a)
	m.items[a] = v
	return true
}

// Len returns the number of entries.
func (m *AddressMap[T]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// Get returns the entry stored at a.
func (m *AddressMap[T]) Get(a Address) (T, bool) {
	if m == nil {
		var zero T
		return zero, false
	}
	v, ok := m.items[a]
	return v, ok
}

// Keys returns the addresses in discovery order.
func (m *AddressMap[T]) Keys() []Address {
	if m == nil {
		return nil
	}
	r := make([]Address, len(m.order))
	copy(r, m.order)
	return r
}

// Values returns the entries in discovery order.
func (m *AddressMap[T]) Values() []T {
	if m == nil {
		return nil
	}
	r := make([]T, 0, len(m.order))
	for _, a := range m.order {
		r = append(r, m.items[a])
	}
	return r
}

// ThreadList is the registry snapshot, in registry order.
type ThreadList = AddressMap[ThreadSnapshot]

// TimerList is the delta list snapshot, in firing order.
type TimerList = AddressMap[TimerSnapshot]
