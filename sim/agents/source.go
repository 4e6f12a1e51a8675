package agents

import (
	"fmt"

	"github.com/cycsim/cycsim/sim"
	"github.com/cycsim/cycsim/sim/exchange"
	"github.com/cycsim/cycsim/sim/resource"
)

var sourceVars = []sim.StateVar{
	{Name: "outcommod", Type: "string", Doc: "commodity offered"},
	{Name: "outrecipe", Type: "string", Default: "", Doc: "recipe of offered material"},
	{Name: "outquality", Type: "string", Default: "", Doc: "offer products of this quality instead of material"},
	{Name: "throughput", Type: "double", Default: largeDouble, Doc: "most that can be supplied per time step"},
}

// Source creates what it sells. Exactly one of outrecipe and outquality
// must be set.
type Source struct {
	sim.AgentBase

	commod     string
	recipe     string
	quality    string
	throughput float64
	supplied   float64
}

func (s *Source) Configure(v sim.Values) error {
	s.commod = v.String("outcommod")
	s.recipe = v.String("outrecipe")
	s.quality = v.String("outquality")
	s.throughput = v.Float("throughput")
	if (s.recipe == "") == (s.quality == "") {
		return fmt.Errorf("%w: exactly one of outrecipe and outquality must be set", sim.ErrValidation)
	}
	if s.throughput <= 0 {
		return fmt.Errorf("%w: throughput must be positive, got %v", sim.ErrValidation, s.throughput)
	}
	return nil
}

// Supplied is the total quantity handed out so far.
func (s *Source) Supplied() float64 { return s.supplied }

func (s *Source) GetMatlBids(commods sim.MatlCommodMap) ([]*sim.MatlBidPortfolio, error) {
	reqs := commods[s.commod]
	if s.recipe == "" || len(reqs) == 0 {
		return nil, nil
	}
	ctx := s.Context()
	h, err := ctx.Recipe(s.recipe)
	if err != nil {
		return nil, err
	}
	port := exchange.NewBidPortfolio[*resource.Material]()
	for _, req := range reqs {
		offer, err := ctx.NewMaterialUntracked(min(s.throughput, req.Qty()), h)
		if err != nil {
			return nil, err
		}
		port.AddBid(req, offer, s.commod, false)
	}
	port.AddConstraint(exchange.CapacityConstraint[*resource.Material]{Capacity: s.throughput})
	return []*sim.MatlBidPortfolio{port}, nil
}

func (s *Source) GetMatlTrades(trades []sim.MatlTrade) ([]sim.MatlResponse, error) {
	ctx := s.Context()
	h, err := ctx.Recipe(s.recipe)
	if err != nil {
		return nil, err
	}
	out := make([]sim.MatlResponse, 0, len(trades))
	for _, tr := range trades {
		m, err := ctx.NewMaterial(s, tr.Amount, h)
		if err != nil {
			return nil, err
		}
		s.supplied += tr.Amount
		out = append(out, sim.MatlResponse{Trade: tr, Resource: m})
	}
	return out, nil
}

func (s *Source) GetProductBids(commods sim.ProdCommodMap) ([]*sim.ProdBidPortfolio, error) {
	reqs := commods[s.commod]
	if s.quality == "" || len(reqs) == 0 {
		return nil, nil
	}
	port := exchange.NewBidPortfolio[*resource.Product]()
	for _, req := range reqs {
		offer, err := s.Context().NewProductUntracked(min(s.throughput, req.Qty()), s.quality)
		if err != nil {
			return nil, err
		}
		port.AddBid(req, offer, s.commod, false)
	}
	port.AddConstraint(exchange.CapacityConstraint[*resource.Product]{Capacity: s.throughput})
	return []*sim.ProdBidPortfolio{port}, nil
}

func (s *Source) GetProductTrades(trades []sim.ProdTrade) ([]sim.ProdResponse, error) {
	out := make([]sim.ProdResponse, 0, len(trades))
	for _, tr := range trades {
		p, err := s.Context().NewProduct(s, tr.Amount, s.quality)
		if err != nil {
			return nil, err
		}
		s.supplied += tr.Amount
		out = append(out, sim.ProdResponse{Trade: tr, Resource: p})
	}
	return out, nil
}

func (s *Source) Snapshot() sim.Values {
	return sim.Values{"outcommod": s.commod, "throughput": s.throughput, "supplied": s.supplied}
}
