package agents

import (
	"fmt"

	"github.com/cycsim/cycsim/sim"
	"github.com/cycsim/cycsim/sim/exchange"
	"github.com/cycsim/cycsim/sim/resource"
	"github.com/cycsim/cycsim/sim/toolkit"
)

var sinkVars = []sim.StateVar{
	{Name: "in_commods", Type: "vector<string>", Doc: "commodities requested"},
	{Name: "in_commod_prefs", Type: "vector<double>", Default: []any{}, Doc: "preference per commodity, 1 when omitted"},
	{Name: "recipe_name", Type: "string", Default: "", Doc: "requested composition; empty accepts any"},
	{Name: "inquality", Type: "string", Default: "", Doc: "request products of this quality instead of material"},
	{Name: "capacity", Type: "double", Default: largeDouble, Doc: "most that can be received per time step"},
	{Name: "inventory", Type: "ResBuf<Material>", Alias: "max_inv_size", Doc: "total storage"},
	{Name: "request_jitter", Type: "double", Default: 0.0, Doc: "requests shrink by a random fraction up to this value"},
}

// Sink requests up to its capacity every time step and never gives
// anything back.
type Sink struct {
	sim.AgentBase

	commods  []string
	prefs    []float64
	recipe   string
	quality  string
	capacity float64
	jitter   float64
	inv      *matlBuf
	products *toolkit.ResBuf[*resource.Product]
}

func (s *Sink) Configure(v sim.Values) error {
	s.commods = v.Strings("in_commods")
	s.prefs = v.Floats("in_commod_prefs")
	s.recipe = v.String("recipe_name")
	s.quality = v.String("inquality")
	s.capacity = v.Float("capacity")
	s.jitter = v.Float("request_jitter")
	if len(s.commods) == 0 {
		return fmt.Errorf("%w: sink needs at least one commodity", sim.ErrValidation)
	}
	if len(s.prefs) > len(s.commods) {
		return fmt.Errorf("%w: %d preferences for %d commodities", sim.ErrValidation, len(s.prefs), len(s.commods))
	}
	if s.jitter < 0 || s.jitter >= 1 {
		return fmt.Errorf("%w: request_jitter must be in [0, 1), got %v", sim.ErrValidation, s.jitter)
	}
	s.inv = toolkit.NewResBuf[*resource.Material](v.Float("inventory"))
	s.products = toolkit.NewResBuf[*resource.Product](v.Float("inventory"))
	return nil
}

// Received is the total quantity held.
func (s *Sink) Received() float64 { return s.inv.Quantity() + s.products.Quantity() }

// Materials returns the held material in arrival order.
func (s *Sink) Materials() []*resource.Material { return s.inv.Resources() }

// Products returns the held products in arrival order.
func (s *Sink) Products() []*resource.Product { return s.products.Resources() }

// requestQty is what the sink asks for this step, or 0 for nothing.
func (s *Sink) requestQty() float64 {
	qty := min(s.capacity, s.inv.Space(), s.products.Space())
	if s.jitter > 0 {
		qty *= 1 - s.jitter*s.Context().RNG(s).Float64()
	}
	if qty < resource.EpsRsrc {
		return 0
	}
	return qty
}

func (s *Sink) pref(i int) float64 {
	if i < len(s.prefs) {
		return s.prefs[i]
	}
	return 1
}

func (s *Sink) GetMatlRequests() ([]*sim.MatlRequestPortfolio, error) {
	if s.quality != "" {
		return nil, nil
	}
	qty := s.requestQty()
	if qty == 0 {
		return nil, nil
	}
	port := exchange.NewRequestPortfolio[*resource.Material]()
	var reqs []*sim.MatlRequest
	for i, c := range s.commods {
		target, err := requestTarget(s.Context(), s.recipe, qty)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, port.AddRequest(target, c, s.pref(i), false))
	}
	if len(reqs) > 1 {
		if err := port.AddMutualRequests(reqs...); err != nil {
			return nil, err
		}
	}
	port.AddConstraint(exchange.CapacityConstraint[*resource.Material]{Capacity: qty})
	return []*sim.MatlRequestPortfolio{port}, nil
}

func (s *Sink) AcceptMatlTrades(responses []sim.MatlResponse) error {
	for _, r := range responses {
		if err := s.inv.Push(r.Resource); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) GetProductRequests() ([]*sim.ProdRequestPortfolio, error) {
	if s.quality == "" {
		return nil, nil
	}
	qty := s.requestQty()
	if qty == 0 {
		return nil, nil
	}
	port := exchange.NewRequestPortfolio[*resource.Product]()
	var reqs []*sim.ProdRequest
	for i, c := range s.commods {
		target, err := s.Context().NewProductUntracked(qty, s.quality)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, port.AddRequest(target, c, s.pref(i), false))
	}
	if len(reqs) > 1 {
		if err := port.AddMutualRequests(reqs...); err != nil {
			return nil, err
		}
	}
	port.AddConstraint(exchange.CapacityConstraint[*resource.Product]{Capacity: qty})
	return []*sim.ProdRequestPortfolio{port}, nil
}

func (s *Sink) AcceptProductTrades(responses []sim.ProdResponse) error {
	for _, r := range responses {
		if err := s.products.Push(r.Resource); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Inventories() map[string][]*resource.Material {
	return map[string][]*resource.Material{"inventory": s.inv.Resources()}
}

func (s *Sink) Snapshot() sim.Values {
	return sim.Values{"in_commods": s.commods, "capacity": s.capacity, "received": s.Received()}
}
