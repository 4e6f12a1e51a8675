package resource

import (
	"fmt"
	"math"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/cycsim/cycsim/sim/comp"
)

// MaterialUnits is the unit of Material quantities.
const MaterialUnits = "kg"

// Material is a quantity of mass with a nuclide composition.
type Material struct {
	base
	comp      comp.Handle
	prevDecay int
}

var _ Resource = (*Material)(nil)

// NewMaterial creates a tracked material owned by creator and journals it.
func NewMaterial(t *Tracker, creator int, qty float64, c comp.Handle) (*Material, error) {
	m, err := newMaterial(t, qty, c, true)
	if err != nil {
		return nil, err
	}
	if err := t.bump(&m.base, m, 0, 0); err != nil {
		return nil, err
	}
	if err := t.recordCreator(m, creator); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMaterialUntracked creates a scratch material that is never journalled.
func NewMaterialUntracked(t *Tracker, qty float64, c comp.Handle) (*Material, error) {
	m, err := newMaterial(t, qty, c, false)
	if err != nil {
		return nil, err
	}
	return m, t.bump(&m.base, m, 0, 0)
}

func newMaterial(t *Tracker, qty float64, c comp.Handle, tracked bool) (*Material, error) {
	if err := checkAmount(qty); err != nil {
		return nil, err
	}
	if _, err := t.comps.MassOf(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValue, err)
	}
	return &Material{base: t.newBase(qty, tracked), comp: c, prevDecay: t.now()}, nil
}

func (m *Material) Type() Type     { return MaterialType }
func (m *Material) Units() string  { return MaterialUnits }
func (m *Material) QualID() int    { return int(m.comp) }
func (m *Material) PrevDecay() int { return m.prevDecay }

// Comp returns the current composition handle. With lazy decay the
// material is first decayed to the current time.
func (m *Material) Comp() comp.Handle {
	if m.tracker.comps.Mode() == comp.DecayLazy {
		if err := m.Decay(m.tracker.now()); err != nil {
			logrus.Warnf("resource: lazy decay of obj %d: %v", m.objID, err)
		}
	}
	return m.comp
}

// MassOf returns the mass (kg) of one nuclide in this material.
func (m *Material) MassOf(nuc comp.Nuc) float64 {
	frac, err := m.tracker.comps.MassOf(m.Comp())
	if err != nil {
		return 0
	}
	return frac[nuc] * m.qty
}

// massVector returns nuclide masses in kg.
func (m *Material) massVector() map[comp.Nuc]float64 {
	frac, _ := m.tracker.comps.MassOf(m.Comp())
	for nuc := range frac {
		frac[nuc] *= m.qty
	}
	return frac
}

// ExtractQty splits off min(amt, Quantity()) kg with the same composition.
// The returned material has a fresh object id; m keeps its object id.
func (m *Material) ExtractQty(amt float64) (*Material, error) {
	if err := m.live("extract"); err != nil {
		return nil, err
	}
	if err := checkAmount(amt); err != nil {
		return nil, err
	}
	before := m.qty
	take := math.Min(amt, m.qty)
	parent := m.stateID
	child := &Material{base: m.tracker.newBase(take, m.tracked), comp: m.comp, prevDecay: m.prevDecay}
	m.qty -= take
	m.discardResidue()
	if err := checkConserved("extract", before, m.qty, child.qty); err != nil {
		return nil, err
	}
	if err := m.tracker.bump(&m.base, m, parent, 0); err != nil {
		return nil, err
	}
	return child, m.tracker.bump(&child.base, child, parent, 0)
}

// ExtractComp splits off amt kg of the target composition; m's composition
// becomes the remainder. It fails if m does not contain enough of every
// nuclide in target within threshold kg.
func (m *Material) ExtractComp(amt float64, target comp.Handle, threshold float64) (*Material, error) {
	if err := m.live("extract"); err != nil {
		return nil, err
	}
	if err := checkAmount(amt); err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = EpsRsrc
	}
	if amt > m.qty+threshold {
		return nil, fmt.Errorf("%w: cannot extract %v kg from %v kg", ErrValue, amt, m.qty)
	}
	want, err := m.tracker.comps.MassOf(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValue, err)
	}
	have := m.massVector()
	remainder := make(map[comp.Nuc]float64, len(have))
	for nuc, mass := range have {
		remainder[nuc] = mass
	}
	for nuc, frac := range want {
		left := remainder[nuc] - amt*frac
		if left < -threshold {
			return nil, fmt.Errorf("%w: material obj %d lacks %.6g kg of nuclide %d", ErrValue, m.objID, -left, nuc)
		}
		remainder[nuc] = math.Max(left, 0)
	}
	left := 0.0
	for _, nuc := range sortedNucs(remainder) {
		left += remainder[nuc]
	}
	// Shortfalls clamped to zero above must not add mass.
	if err := checkConservedWithin("extract", EpsRsrc*float64(len(want)+1), m.qty, left, amt); err != nil {
		return nil, err
	}

	parent := m.stateID
	child := &Material{base: m.tracker.newBase(amt, m.tracked), comp: target, prevDecay: m.prevDecay}
	m.qty = left
	m.discardResidue()
	if m.qty > 0 {
		h, err := m.tracker.comps.Intern(remainder)
		if err != nil {
			return nil, err
		}
		m.comp = h
	}
	if err := m.tracker.bump(&m.base, m, parent, 0); err != nil {
		return nil, err
	}
	return child, m.tracker.bump(&child.base, child, parent, 0)
}

// Absorb merges other into m. Mass adds, compositions blend by mass, and
// other is zeroed and retired.
func (m *Material) Absorb(other *Material) error {
	if other == m {
		return fmt.Errorf("%w: material cannot absorb itself", ErrValue)
	}
	if err := m.live("absorb"); err != nil {
		return err
	}
	if err := other.live("absorb"); err != nil {
		return err
	}
	before := m.qty + other.qty
	if m.qty+other.qty > 0 {
		blend := m.massVector()
		for nuc, mass := range other.massVector() {
			blend[nuc] += mass
		}
		h, err := m.tracker.comps.Intern(blend)
		if err != nil {
			return err
		}
		m.comp = h
	}
	parent1, parent2 := m.stateID, other.stateID
	m.qty += other.qty
	other.qty = 0
	other.retired = true
	if err := checkConserved("absorb", before, m.qty); err != nil {
		return err
	}
	other.stateID = m.tracker.ids.NextStateID()
	return m.tracker.bump(&m.base, m, parent1, parent2)
}

// Transmute replaces the composition in place, preserving mass.
func (m *Material) Transmute(c comp.Handle) error {
	if err := m.live("transmute"); err != nil {
		return err
	}
	if _, err := m.tracker.comps.MassOf(c); err != nil {
		return fmt.Errorf("%w: %v", ErrValue, err)
	}
	parent := m.stateID
	m.comp = c
	return m.tracker.bump(&m.base, m, parent, 0)
}

// Decay advances the composition to curTime using the composition store.
func (m *Material) Decay(curTime int) error {
	dt := curTime - m.prevDecay
	if dt <= 0 {
		return nil
	}
	h, err := m.tracker.comps.Decay(m.comp, dt)
	if err != nil {
		return err
	}
	m.prevDecay = curTime
	if h == m.comp {
		return nil
	}
	parent := m.stateID
	m.comp = h
	return m.tracker.bump(&m.base, m, parent, 0)
}

func (m *Material) String() string {
	return fmt.Sprintf("Material{obj=%d state=%d qty=%g comp=%d}", m.objID, m.stateID, m.qty, m.comp)
}

func sortedNucs(m map[comp.Nuc]float64) []comp.Nuc {
	nucs := make([]comp.Nuc, 0, len(m))
	for nuc := range m {
		nucs = append(nucs, nuc)
	}
	slices.Sort(nucs)
	return nucs
}
