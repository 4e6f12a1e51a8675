package resource

import (
	"errors"
	"fmt"

	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/ids"
	"github.com/cycsim/cycsim/sim/recorder"
)

// Tracker is the environment resources are created in: id allocation, the
// composition store, the recorder and the simulation clock.
type Tracker struct {
	ids       *ids.Service
	comps     *comp.Store
	rec       *recorder.Recorder
	now       func() int
	onWarn    func(kind, msg string) error
	qualities map[string]int
	quality   []string
	compsSeen map[comp.Handle]bool
}

// NewTracker creates a Tracker. rec may be nil, in which case nothing is journalled.
func NewTracker(idsvc *ids.Service, comps *comp.Store, rec *recorder.Recorder, now func() int) *Tracker {
	if now == nil {
		now = func() int { return 0 }
	}
	return &Tracker{
		ids:       idsvc,
		comps:     comps,
		rec:       rec,
		now:       now,
		qualities: make(map[string]int),
		compsSeen: make(map[comp.Handle]bool),
	}
}

// SetWarnFunc installs the sink for non-fatal warnings. kind is "resource"
// for quantity residues and "backend" for recorder backend failures; a
// non-nil return is fatal.
func (t *Tracker) SetWarnFunc(f func(kind, msg string) error) { t.onWarn = f }

// Comps returns the composition store.
func (t *Tracker) Comps() *comp.Store { return t.comps }

// Now returns the current simulation time.
func (t *Tracker) Now() int { return t.now() }

func (t *Tracker) warn(kind, msg string) error {
	if t.onWarn == nil {
		return nil
	}
	return t.onWarn(kind, msg)
}

// push records d. A backend failure is a warning, not an error of the
// operation that produced the row.
func (t *Tracker) push(d *recorder.Datum) error {
	err := d.Record()
	if err != nil && errors.Is(err, recorder.ErrBackend) {
		return t.warn("backend", err.Error())
	}
	return err
}

// InternQuality returns the stable id of a product quality string.
func (t *Tracker) InternQuality(q string) int {
	if id, ok := t.qualities[q]; ok {
		return id
	}
	t.quality = append(t.quality, q)
	id := len(t.quality)
	t.qualities[q] = id
	if t.rec != nil {
		if err := t.push(t.rec.NewDatum("Products").AddVal("QualId", id).AddVal("Quality", q)); err != nil {
			// A fatal warning is latched by the sink; anything else is reported here.
			_ = t.warn("resource", fmt.Sprintf("recording quality %q: %v", q, err))
		}
	}
	return id
}

// Quality returns the string for a quality id.
func (t *Tracker) Quality(id int) string {
	if id <= 0 || id > len(t.quality) {
		return ""
	}
	return t.quality[id-1]
}

// record journals one resource state.
func (t *Tracker) record(r Resource, parent1, parent2 int) error {
	if t.rec == nil {
		return nil
	}
	if m, ok := r.(*Material); ok {
		if err := t.recordComp(m.comp); err != nil {
			return err
		}
	}
	return t.push(t.rec.NewDatum("Resources").
		AddVal("ResourceId", r.StateID()).
		AddVal("ObjId", r.ObjID()).
		AddVal("Type", string(r.Type())).
		AddVal("TimeCreated", t.now()).
		AddVal("Quantity", r.Quantity()).
		AddVal("Units", r.Units()).
		AddVal("QualId", r.QualID()).
		AddVal("Parent1", parent1).
		AddVal("Parent2", parent2))
}

func (t *Tracker) recordComp(h comp.Handle) error {
	if t.compsSeen[h] {
		return nil
	}
	mass, err := t.comps.MassOf(h)
	if err != nil {
		return err
	}
	for _, nuc := range sortedNucs(mass) {
		if err := t.push(t.rec.NewDatum("Compositions").
			AddVal("QualId", int(h)).
			AddVal("NucId", nuc).
			AddVal("MassFrac", mass[nuc])); err != nil {
			return err
		}
	}
	t.compsSeen[h] = true
	return nil
}

func (t *Tracker) recordCreator(r Resource, creator int) error {
	if t.rec == nil {
		return nil
	}
	return t.push(t.rec.NewDatum("ResCreators").
		AddVal("ResourceId", r.StateID()).
		AddVal("AgentId", creator))
}

// bump moves b to a fresh state and journals it when tracked.
func (t *Tracker) bump(b *base, r Resource, parent1, parent2 int) error {
	b.stateID = t.ids.NextStateID()
	if !b.tracked {
		return nil
	}
	if err := t.record(r, parent1, parent2); err != nil {
		return fmt.Errorf("recording resource %d: %w", b.stateID, err)
	}
	return nil
}

func (t *Tracker) newBase(qty float64, tracked bool) base {
	return base{tracker: t, tracked: tracked, objID: t.ids.NextObjID(), qty: qty}
}
