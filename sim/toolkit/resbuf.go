// Package toolkit provides the resource inventories archetypes keep their
// stock in: a capacity-bounded FIFO buffer (ResBuf), a keyed map of
// resources (ResMap) and a shared capacity over several buffers
// (TotalInvTracker).
package toolkit

import (
	"errors"
	"fmt"
	"math"

	"github.com/cycsim/cycsim/sim/resource"
)

var (
	// ErrCapacity is returned when a push would overfill an inventory.
	ErrCapacity = fmt.Errorf("%w: capacity exceeded", resource.ErrValue)
	// ErrEmpty is returned when popping from an empty inventory.
	ErrEmpty = errors.New("inventory empty")
	// ErrDuplicate is returned when the same resource object is pushed twice.
	ErrDuplicate = fmt.Errorf("%w: resource already held", resource.ErrValue)
)

// ResBuf is a FIFO buffer of resources with a quantity capacity.
type ResBuf[R resource.Resource] struct {
	capacity float64
	qty      float64
	items    []R
	held     map[int]bool // object ids
}

// NewResBuf creates a buffer; math.Inf(1) means unbounded.
func NewResBuf[R resource.Resource](capacity float64) *ResBuf[R] {
	return &ResBuf[R]{capacity: capacity, held: make(map[int]bool)}
}

// Capacity returns the maximum quantity the buffer holds.
func (b *ResBuf[R]) Capacity() float64 { return b.capacity }

// SetCapacity changes the capacity; it may not drop below the held quantity.
func (b *ResBuf[R]) SetCapacity(c float64) error {
	if c < 0 || c < b.qty-resource.EpsRsrc {
		return fmt.Errorf("%w: capacity %v below held quantity %v", ErrCapacity, c, b.qty)
	}
	b.capacity = c
	return nil
}

// Quantity returns the summed quantity of the held resources.
func (b *ResBuf[R]) Quantity() float64 { return b.qty }

// Space returns the remaining capacity.
func (b *ResBuf[R]) Space() float64 {
	if math.IsInf(b.capacity, 1) {
		return b.capacity
	}
	return math.Max(0, b.capacity-b.qty)
}

// Count returns the number of held resources.
func (b *ResBuf[R]) Count() int { return len(b.items) }

// Empty reports whether the buffer holds nothing.
func (b *ResBuf[R]) Empty() bool { return len(b.items) == 0 }

// Push appends r.
func (b *ResBuf[R]) Push(r R) error {
	if b.held[r.ObjID()] {
		return fmt.Errorf("%w: object %d", ErrDuplicate, r.ObjID())
	}
	if r.Quantity() > b.Space()+resource.EpsRsrc {
		return fmt.Errorf("%w: pushing %v into %v of space", ErrCapacity, r.Quantity(), b.Space())
	}
	b.items = append(b.items, r)
	b.held[r.ObjID()] = true
	b.qty += r.Quantity()
	return nil
}

// PushAll appends every resource or none of them.
func (b *ResBuf[R]) PushAll(rs []R) error {
	total := 0.0
	for _, r := range rs {
		total += r.Quantity()
	}
	if total > b.Space()+resource.EpsRsrc {
		return fmt.Errorf("%w: pushing %v into %v of space", ErrCapacity, total, b.Space())
	}
	for i, r := range rs {
		if err := b.Push(r); err != nil {
			for range i {
				_, _ = b.PopBack()
			}
			return err
		}
	}
	return nil
}

// Pop removes and returns the oldest resource.
func (b *ResBuf[R]) Pop() (R, error) {
	var zero R
	if len(b.items) == 0 {
		return zero, ErrEmpty
	}
	r := b.items[0]
	b.items[0] = zero
	b.items = b.items[1:]
	b.forget(r)
	return r, nil
}

// PopBack removes and returns the newest resource.
func (b *ResBuf[R]) PopBack() (R, error) {
	var zero R
	if len(b.items) == 0 {
		return zero, ErrEmpty
	}
	r := b.items[len(b.items)-1]
	b.items = b.items[:len(b.items)-1]
	b.forget(r)
	return r, nil
}

// PopN removes the n oldest resources.
func (b *ResBuf[R]) PopN(n int) ([]R, error) {
	if n < 0 || n > len(b.items) {
		return nil, fmt.Errorf("%w: popping %d of %d", ErrEmpty, n, len(b.items))
	}
	out := make([]R, 0, n)
	for i := 0; i < n; i++ {
		r, _ := b.Pop()
		out = append(out, r)
	}
	return out, nil
}

// PopQty removes exactly qty from the front, splitting the last resource
// touched and merging the pieces into one.
func (b *ResBuf[R]) PopQty(qty float64) (R, error) {
	var zero R
	if qty < 0 || qty > b.qty+resource.EpsRsrc {
		return zero, fmt.Errorf("%w: popping %v of %v", ErrEmpty, qty, b.qty)
	}
	var out R
	have := false
	for left := qty; left > resource.EpsRsrc && len(b.items) > 0; {
		front := b.items[0]
		var piece R
		if front.Quantity() <= left+resource.EpsRsrc {
			piece, _ = b.Pop()
		} else {
			var err error
			if piece, err = split(front, left); err != nil {
				return zero, err
			}
			b.qty -= piece.Quantity()
		}
		left -= piece.Quantity()
		if !have {
			out, have = piece, true
			continue
		}
		if err := absorb(out, piece); err != nil {
			return zero, err
		}
	}
	if !have {
		return zero, ErrEmpty
	}
	return out, nil
}

// Peek returns the oldest resource without removing it.
func (b *ResBuf[R]) Peek() (R, error) {
	var zero R
	if len(b.items) == 0 {
		return zero, ErrEmpty
	}
	return b.items[0], nil
}

// Resources returns the held resources, oldest first.
func (b *ResBuf[R]) Resources() []R {
	return append([]R(nil), b.items...)
}

func (b *ResBuf[R]) forget(r R) {
	delete(b.held, r.ObjID())
	b.qty -= r.Quantity()
	if len(b.items) == 0 || b.qty < 0 {
		b.qty = 0
	}
}

// split takes qty off r as a new resource of the same kind.
func split[R resource.Resource](r R, qty float64) (R, error) {
	var zero R
	switch x := any(r).(type) {
	case *resource.Material:
		m, err := x.ExtractQty(qty)
		if err != nil {
			return zero, err
		}
		return any(m).(R), nil
	case *resource.Product:
		p, err := x.Extract(qty)
		if err != nil {
			return zero, err
		}
		return any(p).(R), nil
	}
	return zero, fmt.Errorf("%w: cannot split %T", resource.ErrValue, r)
}

// absorb merges other into r.
func absorb[R resource.Resource](r, other R) error {
	switch x := any(r).(type) {
	case *resource.Material:
		return x.Absorb(any(other).(*resource.Material))
	case *resource.Product:
		return x.Absorb(any(other).(*resource.Product))
	}
	return fmt.Errorf("%w: cannot merge %T", resource.ErrValue, r)
}
