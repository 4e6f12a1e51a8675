package resource

import (
	"fmt"
	"math"
)

// ProductUnits is the unit of Product quantities.
const ProductUnits = "NONE"

// Product is an opaque quantity distinguished by a quality tag.
type Product struct {
	base
	quality int
}

var _ Resource = (*Product)(nil)

// NewProduct creates a tracked product owned by creator and journals it.
func NewProduct(t *Tracker, creator int, qty float64, quality string) (*Product, error) {
	p, err := newProduct(t, qty, quality, true)
	if err != nil {
		return nil, err
	}
	if err := t.bump(&p.base, p, 0, 0); err != nil {
		return nil, err
	}
	return p, t.recordCreator(p, creator)
}

// NewProductUntracked creates a scratch product that is never journalled.
func NewProductUntracked(t *Tracker, qty float64, quality string) (*Product, error) {
	p, err := newProduct(t, qty, quality, false)
	if err != nil {
		return nil, err
	}
	return p, t.bump(&p.base, p, 0, 0)
}

func newProduct(t *Tracker, qty float64, quality string, tracked bool) (*Product, error) {
	if err := checkAmount(qty); err != nil {
		return nil, err
	}
	return &Product{base: t.newBase(qty, tracked), quality: t.InternQuality(quality)}, nil
}

func (p *Product) Type() Type    { return ProductType }
func (p *Product) Units() string { return ProductUnits }
func (p *Product) QualID() int   { return p.quality }

// Quality returns the quality tag.
func (p *Product) Quality() string { return p.tracker.Quality(p.quality) }

// Extract splits off min(amt, Quantity()) with the same quality.
func (p *Product) Extract(amt float64) (*Product, error) {
	if err := p.live("extract"); err != nil {
		return nil, err
	}
	if err := checkAmount(amt); err != nil {
		return nil, err
	}
	before := p.qty
	take := math.Min(amt, p.qty)
	parent := p.stateID
	child := &Product{base: p.tracker.newBase(take, p.tracked), quality: p.quality}
	p.qty -= take
	p.discardResidue()
	if err := checkConserved("extract", before, p.qty, child.qty); err != nil {
		return nil, err
	}
	if err := p.tracker.bump(&p.base, p, parent, 0); err != nil {
		return nil, err
	}
	return child, p.tracker.bump(&child.base, child, parent, 0)
}

// Absorb merges other into p. Both must share the same quality.
func (p *Product) Absorb(other *Product) error {
	if other == p {
		return fmt.Errorf("%w: product cannot absorb itself", ErrValue)
	}
	if err := p.live("absorb"); err != nil {
		return err
	}
	if err := other.live("absorb"); err != nil {
		return err
	}
	if other.quality != p.quality {
		return fmt.Errorf("%w: %q vs %q", ErrQualityMismatch, p.Quality(), other.Quality())
	}
	before := p.qty + other.qty
	parent1, parent2 := p.stateID, other.stateID
	p.qty += other.qty
	other.qty = 0
	other.retired = true
	if err := checkConserved("absorb", before, p.qty); err != nil {
		return err
	}
	other.stateID = p.tracker.ids.NextStateID()
	return p.tracker.bump(&p.base, p, parent1, parent2)
}

func (p *Product) String() string {
	return fmt.Sprintf("Product{obj=%d state=%d qty=%g quality=%q}", p.objID, p.stateID, p.qty, p.Quality())
}
