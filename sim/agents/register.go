// Package agents provides the reference archetypes shipped with the kernel:
// a material source and sink, a capacity-growing facility, a batch reactor,
// a separations plant, and the null and deployment region and institution
// types used to hold them.
//
// Importing the package registers every archetype with sim.DefaultRegistry
// under the ":agents:" library.
package agents

import "github.com/cycsim/cycsim/sim"

// Library is the path and library part of every spec registered here.
const Library = ":agents"

// largeDouble stands in for "unbounded" in double-valued defaults.
const largeDouble = 1e299

func init() {
	for _, a := range Archetypes() {
		sim.RegisterArchetype(a)
	}
}

// Archetypes returns the reference archetype definitions in registration order.
func Archetypes() []sim.Archetype {
	return []sim.Archetype{
		{
			Spec: Library + ":Source", Kind: sim.KindFacility,
			Doc:  "Offers material of one recipe, or products of one quality, up to a throughput per time step.",
			Vars: sourceVars,
			New:  func() sim.Agent { return &Source{} },
		},
		{
			Spec: Library + ":Sink", Kind: sim.KindFacility,
			Doc:  "Requests material or products on a list of commodities and keeps everything it receives.",
			Vars: sinkVars,
			New:  func() sim.Agent { return &Sink{} },
		},
		{
			Spec: Library + ":KFacility", Kind: sim.KindFacility,
			Doc:  "Trades one commodity in and one out at a capacity that is multiplied by k_factor every time step.",
			Vars: kFacilityVars,
			New:  func() sim.Agent { return &KFacility{} },
		},
		{
			Spec: Library + ":Reactor", Kind: sim.KindFacility,
			Doc:  "Loads one batch of fresh fuel, irradiates it for cycle_time steps and offers the discharged batch.",
			Vars: reactorVars,
			New:  func() sim.Agent { return &Reactor{} },
		},
		{
			Spec: Library + ":Separations", Kind: sim.KindFacility,
			Doc:  "Splits received feed into product streams by per-nuclide efficiency and offers each stream and the leftovers.",
			Vars: separationsVars,
			New:  func() sim.Agent { return &Separations{} },
		},
		{
			Spec: Library + ":NullRegion", Kind: sim.KindRegion,
			Doc: "A region with no behavior of its own.",
			New: func() sim.Agent { return &NullRegion{} },
		},
		{
			Spec: Library + ":NullInst", Kind: sim.KindInstitution,
			Doc:  "An institution that optionally scales the request preferences of its facilities per commodity.",
			Vars: nullInstVars,
			New:  func() sim.Agent { return &NullInst{} },
		},
		{
			Spec: Library + ":DeployInst", Kind: sim.KindInstitution,
			Doc:  "An institution that builds prototypes at fixed times.",
			Vars: deployInstVars,
			New:  func() sim.Agent { return &DeployInst{} },
		},
	}
}
