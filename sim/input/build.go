package input

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cycsim/cycsim/sim"
	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/nucname"
)

// Build validates the scenario and returns a simulator ready to Run.
func (s *Scenario) Build(opts ...sim.Option) (*sim.Simulator, error) {
	return s.BuildWith(s.Info(), opts...)
}

// BuildWith is Build with an explicit control block, typically s.Info()
// with command-line overrides applied.
func (s *Scenario) BuildWith(info sim.SimInfo, opts ...sim.Option) (*sim.Simulator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	simulator, err := sim.NewSimulator(info, opts...)
	if err != nil {
		return nil, err
	}
	ctx := simulator.Context()

	for _, c := range s.Commodities {
		priority := c.Priority
		if priority == 0 {
			priority = 1
		}
		if err := ctx.RegisterCommodity(c.Name, priority); err != nil {
			return nil, fmt.Errorf("commodity %s: %w", c.Name, err)
		}
	}
	for _, r := range s.Recipes {
		h, err := internRecipe(ctx.Comps(), r)
		if err != nil {
			return nil, fmt.Errorf("recipe %s: %w", r.Name, err)
		}
		if err := ctx.AddRecipe(r.Name, h); err != nil {
			return nil, err
		}
	}
	for _, p := range s.Prototypes {
		lifetime := -1
		if p.Lifetime != nil {
			lifetime = *p.Lifetime
		}
		if err := ctx.AddPrototype(p.Name, p.Archetype, lifetime, p.Config); err != nil {
			return nil, err
		}
	}
	for _, m := range s.Modifiers {
		if err := ctx.SetPrototypeModifier(m.Prototype, m.Commodity, m.Factor); err != nil {
			return nil, err
		}
	}
	for _, r := range s.Regions {
		if err := simulator.AddRegion(r.buildSpec()); err != nil {
			return nil, err
		}
	}
	logrus.Debugf("input: %d prototypes, %d recipes, %d regions", len(s.Prototypes), len(s.Recipes), len(s.Regions))
	return simulator, nil
}

func (r RegionSpec) buildSpec() sim.BuildSpec {
	spec := sim.BuildSpec{Prototype: r.Prototype}
	for _, inst := range r.Institutions {
		child := sim.BuildSpec{Prototype: inst.Prototype}
		for _, f := range inst.InitialFacilities {
			child.Children = append(child.Children, sim.BuildSpec{Prototype: f.Prototype, Number: f.Number})
		}
		spec.Children = append(spec.Children, child)
	}
	return spec
}

func internRecipe(store *comp.Store, r RecipeSpec) (comp.Handle, error) {
	fracs := make(map[comp.Nuc]float64, len(r.Nuclides))
	for _, n := range r.Nuclides {
		id, err := nucname.ID(fmt.Sprint(n.ID))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", sim.ErrValidation, err)
		}
		fracs[id] += n.Comp
	}
	if r.Basis == "atom" {
		return store.InternAtom(fracs)
	}
	return store.Intern(fracs)
}
