package toolkit

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/cycsim/cycsim/sim/resource"
)

// ResMap holds one resource per key with a total quantity capacity.
type ResMap[K cmp.Ordered, R resource.Resource] struct {
	capacity float64
	items    map[K]R
}

// NewResMap creates an empty map; math.Inf(1) means unbounded.
func NewResMap[K cmp.Ordered, R resource.Resource](capacity float64) *ResMap[K, R] {
	return &ResMap[K, R]{capacity: capacity, items: make(map[K]R)}
}

// Capacity returns the maximum total quantity.
func (m *ResMap[K, R]) Capacity() float64 { return m.capacity }

// Len returns the number of keys held.
func (m *ResMap[K, R]) Len() int { return len(m.items) }

// Quantity returns the summed quantity, in key order.
func (m *ResMap[K, R]) Quantity() float64 {
	total := 0.0
	for _, k := range m.Keys() {
		total += m.items[k].Quantity()
	}
	return total
}

// Set stores r under k, replacing any previous resource.
func (m *ResMap[K, R]) Set(k K, r R) error {
	after := m.Quantity() + r.Quantity()
	if old, ok := m.items[k]; ok {
		after -= old.Quantity()
	}
	if after > m.capacity+resource.EpsRsrc {
		return fmt.Errorf("%w: key %v would bring total to %v of %v", ErrCapacity, k, after, m.capacity)
	}
	m.items[k] = r
	return nil
}

// Get returns the resource stored under k.
func (m *ResMap[K, R]) Get(k K) (R, bool) {
	r, ok := m.items[k]
	return r, ok
}

// Pop removes and returns the resource stored under k.
func (m *ResMap[K, R]) Pop(k K) (R, error) {
	r, ok := m.items[k]
	if !ok {
		var zero R
		return zero, fmt.Errorf("%w: no key %v", ErrEmpty, k)
	}
	delete(m.items, k)
	return r, nil
}

// Keys returns the keys in ascending order.
func (m *ResMap[K, R]) Keys() []K {
	keys := make([]K, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Values returns the resources in key order.
func (m *ResMap[K, R]) Values() []R {
	out := make([]R, 0, len(m.items))
	for _, k := range m.Keys() {
		out = append(out, m.items[k])
	}
	return out
}
