// Package resource implements the two tracked resource variants exchanged
// between agents: Material (mass with a nuclide composition) and Product
// (opaque quantity with a quality tag).
//
// Every resource carries an object id that survives state transitions and a
// state id that is bumped, never reused, whenever an observable field
// changes. Tracked resources journal each new state to the Resources table.
package resource

import (
	"errors"
	"fmt"
	"math"
)

// EpsRsrc is the mass tolerance used for every conservation check (kg).
const EpsRsrc = 1e-6

// Type names a resource variant.
type Type string

const (
	MaterialType Type = "Material"
	ProductType  Type = "Product"
)

var (
	// ErrValue is returned for invalid arguments such as negative quantities.
	ErrValue = errors.New("invalid value")
	// ErrQualityMismatch is returned when absorbing a product of a different quality.
	ErrQualityMismatch = errors.New("quality mismatch")
	// ErrConservation is returned when an operation would create or destroy
	// mass beyond EpsRsrc.
	ErrConservation = errors.New("conservation violation")
)

// Resource is the interface shared by Material and Product.
type Resource interface {
	// ObjID is stable across state transitions of the same object.
	ObjID() int
	// StateID identifies the current observable state.
	StateID() int
	// QualID is the composition handle (Material) or quality id (Product).
	QualID() int
	Type() Type
	Quantity() float64
	Units() string
}

func checkAmount(amt float64) error {
	if math.IsNaN(amt) || math.IsInf(amt, 0) || amt < 0 {
		return fmt.Errorf("%w: quantity %v", ErrValue, amt)
	}
	return nil
}

// checkConserved verifies that mass before an operation equals mass after.
func checkConserved(op string, before float64, after ...float64) error {
	return checkConservedWithin(op, EpsRsrc*float64(len(after)), before, after...)
}

func checkConservedWithin(op string, tol, before float64, after ...float64) error {
	total := 0.0
	for _, a := range after {
		total += a
	}
	if math.Abs(total-before) > tol {
		return fmt.Errorf("%w: %s turned %v into %v", ErrConservation, op, before, total)
	}
	return nil
}

// base holds the identity and tracking fields common to both variants.
type base struct {
	tracker *Tracker
	tracked bool
	objID   int
	stateID int
	qty     float64
	retired bool
}

func (b *base) ObjID() int        { return b.objID }
func (b *base) StateID() int      { return b.stateID }
func (b *base) Quantity() float64 { return b.qty }

// Tracked reports whether state changes are journalled.
func (b *base) Tracked() bool { return b.tracked }

// Retired reports whether the resource was absorbed into another.
func (b *base) Retired() bool { return b.retired }

func (b *base) live(op string) error {
	if b.retired {
		return fmt.Errorf("%w: %s on retired resource (obj %d)", ErrValue, op, b.objID)
	}
	return nil
}

// discardResidue zeroes a sub-EpsRsrc remainder left by an extraction.
func (b *base) discardResidue() {
	if b.qty > 0 && b.qty < EpsRsrc {
		_ = b.tracker.warn("resource", fmt.Sprintf("discarding residual %.3g of resource obj %d", b.qty, b.objID))
		b.qty = 0
	}
}
