package agents

import (
	"fmt"

	"github.com/cycsim/cycsim/sim"
	"github.com/cycsim/cycsim/sim/exchange"
	"github.com/cycsim/cycsim/sim/resource"
	"github.com/cycsim/cycsim/sim/toolkit"
)

var kFacilityVars = []sim.StateVar{
	{Name: "in_commod", Type: "string"},
	{Name: "out_commod", Type: "string"},
	{Name: "recipe_name", Type: "string", Doc: "composition of both requested and created material"},
	{Name: "capacity", Type: "double", Default: 1.0, Doc: "initial per-step capacity"},
	{Name: "k_factor", Type: "double", Default: 1.0, Doc: "capacity multiplier applied every step"},
	{Name: "inventory", Type: "ResBuf<Material>"},
}

// KFacility requests and offers up to its current capacity, then grows or
// shrinks that capacity by k_factor in Tock.
type KFacility struct {
	sim.AgentBase

	in, out  string
	recipe   string
	capacity float64
	k        float64
	inv      *matlBuf
}

func (f *KFacility) Configure(v sim.Values) error {
	f.in, f.out = v.String("in_commod"), v.String("out_commod")
	f.recipe = v.String("recipe_name")
	f.capacity, f.k = v.Float("capacity"), v.Float("k_factor")
	if f.capacity < 0 || f.k < 0 {
		return fmt.Errorf("%w: capacity and k_factor must be >= 0", sim.ErrValidation)
	}
	f.inv = toolkit.NewResBuf[*resource.Material](v.Float("inventory"))
	return nil
}

// Capacity is the current per-step capacity.
func (f *KFacility) Capacity() float64 { return f.capacity }

func (f *KFacility) Tock() error {
	f.capacity *= f.k
	return nil
}

func (f *KFacility) GetMatlRequests() ([]*sim.MatlRequestPortfolio, error) {
	qty := min(f.capacity, f.inv.Space())
	if qty < resource.EpsRsrc {
		return nil, nil
	}
	target, err := requestTarget(f.Context(), f.recipe, qty)
	if err != nil {
		return nil, err
	}
	port := exchange.NewRequestPortfolio[*resource.Material]()
	port.AddRequest(target, f.in, 1, false)
	return []*sim.MatlRequestPortfolio{port}, nil
}

func (f *KFacility) GetMatlBids(commods sim.MatlCommodMap) ([]*sim.MatlBidPortfolio, error) {
	reqs := commods[f.out]
	if len(reqs) == 0 || f.capacity < resource.EpsRsrc {
		return nil, nil
	}
	ctx := f.Context()
	h, err := ctx.Recipe(f.recipe)
	if err != nil {
		return nil, err
	}
	port := exchange.NewBidPortfolio[*resource.Material]()
	for _, req := range reqs {
		offer, err := ctx.NewMaterialUntracked(min(f.capacity, req.Qty()), h)
		if err != nil {
			return nil, err
		}
		port.AddBid(req, offer, f.out, false)
	}
	port.AddConstraint(exchange.CapacityConstraint[*resource.Material]{Capacity: f.capacity})
	return []*sim.MatlBidPortfolio{port}, nil
}

func (f *KFacility) GetMatlTrades(trades []sim.MatlTrade) ([]sim.MatlResponse, error) {
	ctx := f.Context()
	h, err := ctx.Recipe(f.recipe)
	if err != nil {
		return nil, err
	}
	out := make([]sim.MatlResponse, 0, len(trades))
	for _, tr := range trades {
		m, err := ctx.NewMaterial(f, tr.Amount, h)
		if err != nil {
			return nil, err
		}
		out = append(out, sim.MatlResponse{Trade: tr, Resource: m})
	}
	return out, nil
}

func (f *KFacility) AcceptMatlTrades(responses []sim.MatlResponse) error {
	for _, r := range responses {
		if err := f.inv.Push(r.Resource); err != nil {
			return err
		}
	}
	return nil
}

func (f *KFacility) Inventories() map[string][]*resource.Material {
	return map[string][]*resource.Material{"inventory": f.inv.Resources()}
}

func (f *KFacility) Snapshot() sim.Values {
	return sim.Values{"capacity": f.capacity, "k_factor": f.k}
}
