package agents

import (
	"fmt"

	"github.com/cycsim/cycsim/sim"
	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/resource"
	"github.com/cycsim/cycsim/sim/toolkit"
)

var reactorVars = []sim.StateVar{
	{Name: "fuel_incommod", Type: "string"},
	{Name: "fuel_inrecipe", Type: "string"},
	{Name: "fuel_outcommod", Type: "string"},
	{Name: "fuel_outrecipe", Type: "string", Doc: "composition of discharged fuel"},
	{Name: "assem_size", Type: "double", Default: 1.0, Doc: "mass of one batch (kg)"},
	{Name: "cycle_time", Type: "int", Default: 1, Doc: "time steps a batch stays in the core"},
	{Name: "spent", Type: "ResBuf<Material>", Alias: "spent_size", Doc: "discharged fuel storage"},
}

// ReactorEventsTable receives one row per batch load and discharge.
const ReactorEventsTable = "ReactorEvents"

// Reactor holds one batch. A batch loaded at t is discharged in the Tick
// of t+cycle_time, transmuted to the discharge recipe, and offered on
// fuel_outcommod until someone takes it.
type Reactor struct {
	sim.AgentBase

	inCommod, inRecipe   string
	outCommod, outRecipe string
	assemSize            float64
	cycleTime            int

	core     *matlBuf
	spent    *matlBuf
	loadedAt int
}

func (r *Reactor) Configure(v sim.Values) error {
	r.inCommod, r.inRecipe = v.String("fuel_incommod"), v.String("fuel_inrecipe")
	r.outCommod, r.outRecipe = v.String("fuel_outcommod"), v.String("fuel_outrecipe")
	r.assemSize, r.cycleTime = v.Float("assem_size"), v.Int("cycle_time")
	if r.assemSize <= 0 {
		return fmt.Errorf("%w: assem_size must be positive, got %v", sim.ErrValidation, r.assemSize)
	}
	if r.cycleTime < 1 {
		return fmt.Errorf("%w: cycle_time must be >= 1, got %d", sim.ErrValidation, r.cycleTime)
	}
	r.core = toolkit.NewResBuf[*resource.Material](r.assemSize)
	r.spent = toolkit.NewResBuf[*resource.Material](v.Float("spent"))
	return nil
}

func (r *Reactor) event(name string, qty float64) error {
	ctx := r.Context()
	return ctx.Record(ctx.NewDatum(ReactorEventsTable).
		AddVal("AgentId", r.ID()).
		AddVal("Time", ctx.Time()).
		AddVal("Event", name).
		AddVal("Quantity", qty))
}

func (r *Reactor) Tick() error {
	if r.core.Empty() || r.Context().Time()-r.loadedAt < r.cycleTime {
		return nil
	}
	h, err := r.Context().Recipe(r.outRecipe)
	if err != nil {
		return err
	}
	batch, err := r.core.PopN(r.core.Count())
	if err != nil {
		return err
	}
	total := 0.0
	for _, m := range batch {
		if err := m.Transmute(h); err != nil {
			return err
		}
		total += m.Quantity()
	}
	if err := r.spent.PushAll(batch); err != nil {
		return err
	}
	return r.event("DISCHARGE", total)
}

func (r *Reactor) GetMatlRequests() ([]*sim.MatlRequestPortfolio, error) {
	need := r.core.Space()
	if need < resource.EpsRsrc {
		return nil, nil
	}
	target, err := requestTarget(r.Context(), r.inRecipe, need)
	if err != nil {
		return nil, err
	}
	port := newMatlRequests()
	port.AddRequest(target, r.inCommod, 1, false)
	return []*sim.MatlRequestPortfolio{port}, nil
}

func (r *Reactor) AcceptMatlTrades(responses []sim.MatlResponse) error {
	qty := 0.0
	for _, resp := range responses {
		if err := r.core.Push(resp.Resource); err != nil {
			return err
		}
		qty += resp.Resource.Quantity()
	}
	if qty == 0 {
		return nil
	}
	r.loadedAt = r.Context().Time()
	return r.event("LOAD", qty)
}

func (r *Reactor) GetMatlBids(commods sim.MatlCommodMap) ([]*sim.MatlBidPortfolio, error) {
	port, err := offerFrom(r.Context(), r.spent, commods, r.outCommod)
	if err != nil {
		return nil, err
	}
	return collect(port), nil
}

func (r *Reactor) GetMatlTrades(trades []sim.MatlTrade) ([]sim.MatlResponse, error) {
	return supplyFrom(map[string]*matlBuf{r.outCommod: r.spent}, trades)
}

// Discharged is the total mass of nuc sitting in spent fuel storage.
func (r *Reactor) Discharged(nuc comp.Nuc) float64 {
	total := 0.0
	for _, m := range r.spent.Resources() {
		total += m.MassOf(nuc)
	}
	return total
}

func (r *Reactor) Inventories() map[string][]*resource.Material {
	return map[string][]*resource.Material{
		"core":  r.core.Resources(),
		"spent": r.spent.Resources(),
	}
}

func (r *Reactor) Snapshot() sim.Values {
	return sim.Values{"loaded_at": r.loadedAt, "core": r.core.Quantity(), "spent": r.spent.Quantity()}
}
