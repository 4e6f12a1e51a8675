package toolkit

import (
	"fmt"
	"math"

	"github.com/cycsim/cycsim/sim/resource"
)

// TotalInvTracker bounds the combined quantity of several buffers.
type TotalInvTracker[R resource.Resource] struct {
	capacity float64
	bufs     []*ResBuf[R]
}

// NewTotalInvTracker tracks bufs under one shared capacity.
func NewTotalInvTracker[R resource.Resource](capacity float64, bufs ...*ResBuf[R]) (*TotalInvTracker[R], error) {
	t := &TotalInvTracker[R]{capacity: capacity, bufs: bufs}
	if t.Quantity() > capacity+resource.EpsRsrc {
		return nil, fmt.Errorf("%w: buffers already hold %v of %v", ErrCapacity, t.Quantity(), capacity)
	}
	return t, nil
}

// Capacity returns the shared capacity.
func (t *TotalInvTracker[R]) Capacity() float64 { return t.capacity }

// Quantity returns the summed quantity of every tracked buffer.
func (t *TotalInvTracker[R]) Quantity() float64 {
	total := 0.0
	for _, b := range t.bufs {
		total += b.Quantity()
	}
	return total
}

// Space returns the shared remaining capacity.
func (t *TotalInvTracker[R]) Space() float64 {
	if math.IsInf(t.capacity, 1) {
		return t.capacity
	}
	return math.Max(0, t.capacity-t.Quantity())
}

// BufSpace returns how much more b can take under both its own capacity and
// the shared one.
func (t *TotalInvTracker[R]) BufSpace(b *ResBuf[R]) float64 {
	return math.Min(b.Space(), t.Space())
}

// Empty reports whether every tracked buffer is empty.
func (t *TotalInvTracker[R]) Empty() bool { return t.Quantity() <= resource.EpsRsrc }

// Push adds r to b if both b and the shared capacity allow it.
func (t *TotalInvTracker[R]) Push(b *ResBuf[R], r R) error {
	if r.Quantity() > t.Space()+resource.EpsRsrc {
		return fmt.Errorf("%w: pushing %v into %v of shared space", ErrCapacity, r.Quantity(), t.Space())
	}
	return b.Push(r)
}
