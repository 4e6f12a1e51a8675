package agents

import (
	"fmt"
	"maps"
	"slices"

	"github.com/cycsim/cycsim/sim"
	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/resource"
	"github.com/cycsim/cycsim/sim/toolkit"
)

var separationsVars = []sim.StateVar{
	{Name: "feed_commods", Type: "vector<string>"},
	{Name: "feed_recipe", Type: "string", Default: ""},
	{Name: "feed", Type: "ResBuf<Material>", Alias: "feedbuf_size"},
	{Name: "throughput", Type: "double", Default: largeDouble, Doc: "most feed processed per time step (kg)"},
	{
		Name: "streams", Type: "map<string,map<int,double>>", UIType: "nuclide",
		Doc: "output commodity to per-nuclide separation efficiency",
	},
	{Name: "leftover_commod", Type: "string", Default: "default-waste"},
}

// Separations pulls feed each Tick and splits every batch into its
// streams; whatever no stream takes goes to the leftover buffer.
type Separations struct {
	sim.AgentBase

	feedCommods []string
	feedRecipe  string
	throughput  float64
	leftCommod  string

	effs     map[string]map[comp.Nuc]float64
	feed     *matlBuf
	streams  map[string]*matlBuf
	leftover *matlBuf
}

func (s *Separations) Configure(v sim.Values) error {
	s.feedCommods = v.Strings("feed_commods")
	s.feedRecipe = v.String("feed_recipe")
	s.throughput = v.Float("throughput")
	s.leftCommod = v.String("leftover_commod")
	if len(s.feedCommods) == 0 {
		return fmt.Errorf("%w: separations needs a feed commodity", sim.ErrValidation)
	}
	raw, _ := v["streams"].(map[any]any)
	s.effs = make(map[string]map[comp.Nuc]float64, len(raw))
	s.streams = make(map[string]*matlBuf, len(raw))
	total := make(map[comp.Nuc]float64)
	for k, val := range raw {
		name, _ := k.(string)
		if name == s.leftCommod {
			return fmt.Errorf("%w: stream %q collides with leftover_commod", sim.ErrValidation, name)
		}
		effs := make(map[comp.Nuc]float64)
		inner, _ := val.(map[any]any)
		for nk, nv := range inner {
			nuc, _ := nk.(int)
			eff, _ := nv.(float64)
			if eff < 0 || eff > 1 {
				return fmt.Errorf("%w: stream %q efficiency %v outside [0, 1]", sim.ErrValidation, name, eff)
			}
			effs[comp.Nuc(nuc)] = eff
			total[comp.Nuc(nuc)] += eff
		}
		s.effs[name] = effs
		s.streams[name] = toolkit.NewResBuf[*resource.Material](largeDouble)
	}
	for nuc, t := range total {
		if t > 1+resource.EpsRsrc {
			return fmt.Errorf("%w: efficiencies for nuclide %d sum to %v", sim.ErrValidation, nuc, t)
		}
	}
	s.feed = toolkit.NewResBuf[*resource.Material](v.Float("feed"))
	s.leftover = toolkit.NewResBuf[*resource.Material](largeDouble)
	return nil
}

func (s *Separations) streamNames() []string {
	return slices.Sorted(maps.Keys(s.streams))
}

// Stream returns the material waiting in the named output stream.
func (s *Separations) Stream(name string) []*resource.Material {
	if b, ok := s.streams[name]; ok {
		return b.Resources()
	}
	if name == s.leftCommod {
		return s.leftover.Resources()
	}
	return nil
}

func (s *Separations) Tick() error {
	if s.feed.Empty() {
		return nil
	}
	m, err := s.feed.PopQty(min(s.throughput, s.feed.Quantity()))
	if err != nil {
		return err
	}
	for _, name := range s.streamNames() {
		if err := s.separate(m, name); err != nil {
			return err
		}
	}
	if m.Quantity() < resource.EpsRsrc {
		return nil
	}
	return s.leftover.Push(m)
}

// separate extracts the share of m the named stream takes.
func (s *Separations) separate(m *resource.Material, name string) error {
	effs := s.effs[name]
	mass := make(map[comp.Nuc]float64, len(effs))
	qty := 0.0
	for _, nuc := range slices.Sorted(maps.Keys(effs)) {
		if x := effs[nuc] * m.MassOf(nuc); x > 0 {
			mass[nuc] = x
			qty += x
		}
	}
	if qty < resource.EpsRsrc {
		return nil
	}
	h, err := s.Context().Comps().Intern(mass)
	if err != nil {
		return err
	}
	piece, err := m.ExtractComp(min(qty, m.Quantity()), h, resource.EpsRsrc)
	if err != nil {
		return err
	}
	return s.streams[name].Push(piece)
}

func (s *Separations) GetMatlRequests() ([]*sim.MatlRequestPortfolio, error) {
	qty := min(s.throughput, s.feed.Space())
	if qty < resource.EpsRsrc {
		return nil, nil
	}
	port := newMatlRequests()
	var reqs []*sim.MatlRequest
	for _, c := range s.feedCommods {
		target, err := requestTarget(s.Context(), s.feedRecipe, qty)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, port.AddRequest(target, c, 1, false))
	}
	if len(reqs) > 1 {
		if err := port.AddMutualRequests(reqs...); err != nil {
			return nil, err
		}
	}
	return []*sim.MatlRequestPortfolio{port}, nil
}

func (s *Separations) AcceptMatlTrades(responses []sim.MatlResponse) error {
	for _, r := range responses {
		if err := s.feed.Push(r.Resource); err != nil {
			return err
		}
	}
	return nil
}

func (s *Separations) outputs() map[string]*matlBuf {
	out := make(map[string]*matlBuf, len(s.streams)+1)
	for n, b := range s.streams {
		out[n] = b
	}
	out[s.leftCommod] = s.leftover
	return out
}

func (s *Separations) GetMatlBids(commods sim.MatlCommodMap) ([]*sim.MatlBidPortfolio, error) {
	var ports []*sim.MatlBidPortfolio
	for _, name := range append(s.streamNames(), s.leftCommod) {
		port, err := offerFrom(s.Context(), s.outputs()[name], commods, name)
		if err != nil {
			return nil, err
		}
		ports = append(ports, port)
	}
	return collect(ports...), nil
}

func (s *Separations) GetMatlTrades(trades []sim.MatlTrade) ([]sim.MatlResponse, error) {
	return supplyFrom(s.outputs(), trades)
}

func (s *Separations) Inventories() map[string][]*resource.Material {
	inv := map[string][]*resource.Material{
		"feed":     s.feed.Resources(),
		"leftover": s.leftover.Resources(),
	}
	for n, b := range s.streams {
		inv["stream_"+n] = b.Resources()
	}
	return inv
}

func (s *Separations) Snapshot() sim.Values {
	held := make(map[string]float64, len(s.streams))
	for n, b := range s.streams {
		held[n] = b.Quantity()
	}
	return sim.Values{"feed": s.feed.Quantity(), "streams": held, "leftover": s.leftover.Quantity()}
}
