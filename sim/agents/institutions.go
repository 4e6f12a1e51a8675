package agents

import (
	"fmt"

	"github.com/cycsim/cycsim/sim"
)

// NullRegion does nothing beyond holding institutions.
type NullRegion struct {
	sim.AgentBase
}

var nullInstVars = []sim.StateVar{
	{
		Name: "pref_modifiers", Type: "map<string,double>", Default: map[string]any{},
		Doc: "multiplier applied to the preferences of descendant requests per commodity",
	},
}

// NullInst holds facilities and optionally scales their request preferences.
type NullInst struct {
	sim.AgentBase

	mods map[string]float64
}

func (n *NullInst) Configure(v sim.Values) error {
	n.mods = v.FloatMap("pref_modifiers")
	for c, f := range n.mods {
		if f < 0 {
			return fmt.Errorf("%w: negative preference modifier %v for %q", sim.ErrValidation, f, c)
		}
	}
	return nil
}

func (n *NullInst) AdjustMatlPrefs(prefs sim.MatlPrefMap) error {
	if len(n.mods) == 0 {
		return nil
	}
	for req, bids := range prefs {
		f, ok := n.mods[req.Commodity]
		if !ok {
			continue
		}
		for bid := range bids {
			bids[bid] *= f
		}
	}
	return nil
}

var deployInstVars = []sim.StateVar{
	{Name: "prototypes", Type: "vector<string>", Doc: "prototype to build, one entry per deployment"},
	{Name: "build_times", Type: "vector<int>", Doc: "absolute time step of each deployment"},
	{Name: "n_build", Type: "vector<int>", Default: []any{}, Doc: "copies per deployment, 1 when omitted"},
}

// DeployInst schedules a fixed deployment plan when it enters.
type DeployInst struct {
	sim.AgentBase

	protos []string
	times  []int
	counts []int
}

func (d *DeployInst) Configure(v sim.Values) error {
	d.protos, d.times, d.counts = v.Strings("prototypes"), v.Ints("build_times"), v.Ints("n_build")
	if len(d.protos) != len(d.times) {
		return fmt.Errorf("%w: %d prototypes but %d build times", sim.ErrValidation, len(d.protos), len(d.times))
	}
	if len(d.counts) != 0 && len(d.counts) != len(d.protos) {
		return fmt.Errorf("%w: %d prototypes but %d n_build entries", sim.ErrValidation, len(d.protos), len(d.counts))
	}
	for _, n := range d.counts {
		if n < 0 {
			return fmt.Errorf("%w: negative n_build %d", sim.ErrValidation, n)
		}
	}
	return nil
}

func (d *DeployInst) EnterNotify() error {
	ctx := d.Context()
	for i, proto := range d.protos {
		n := 1
		if len(d.counts) > 0 {
			n = d.counts[i]
		}
		for range n {
			if err := ctx.ScheduleBuild(d, proto, d.times[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *DeployInst) Snapshot() sim.Values {
	return sim.Values{"prototypes": d.protos, "build_times": d.times}
}
