package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cycsim/cycsim/sim"
	_ "github.com/cycsim/cycsim/sim/agents"
	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/recorder"
)

// World is a simulator over the default archetype registry that records
// into memory. NewWorld registers the "region" and "inst" prototypes.
type World struct {
	Sim *sim.Simulator
	Ctx *sim.Context
	Mem *recorder.MemBackend
}

// NewWorld builds a simulator for info. Extra options come after the
// registry and backend options, so they can override either.
func NewWorld(t *testing.T, info sim.SimInfo, opts ...sim.Option) *World {
	t.Helper()
	mem := recorder.NewMemBackend()
	opts = append([]sim.Option{sim.WithRegistry(sim.DefaultRegistry), sim.WithBackends(mem)}, opts...)
	s, err := sim.NewSimulator(info, opts...)
	require.NoError(t, err)
	w := &World{Sim: s, Ctx: s.Context(), Mem: mem}
	w.Proto(t, "region", ":agents:NullRegion", -1, nil)
	w.Proto(t, "inst", ":agents:NullInst", -1, nil)
	return w
}

// Recipe registers a mass-basis recipe.
func (w *World) Recipe(t *testing.T, name string, mass map[comp.Nuc]float64) {
	t.Helper()
	h, err := w.Ctx.Comps().Intern(mass)
	require.NoError(t, err)
	require.NoError(t, w.Ctx.AddRecipe(name, h))
}

// Proto registers a prototype; lifetime -1 means forever.
func (w *World) Proto(t *testing.T, name, spec string, lifetime int, config map[string]any) {
	t.Helper()
	require.NoError(t, w.Ctx.AddPrototype(name, spec, lifetime, config))
}

// Place builds one region and institution holding the given facilities.
func (w *World) Place(t *testing.T, facilities ...string) {
	t.Helper()
	w.PlaceUnder(t, "inst", facilities...)
}

// PlaceUnder is Place with a chosen institution prototype.
func (w *World) PlaceUnder(t *testing.T, inst string, facilities ...string) {
	t.Helper()
	var children []sim.BuildSpec
	for _, f := range facilities {
		children = append(children, sim.BuildSpec{Prototype: f})
	}
	require.NoError(t, w.Sim.AddRegion(sim.BuildSpec{
		Prototype: "region",
		Children:  []sim.BuildSpec{{Prototype: inst, Children: children}},
	}))
}

// Run runs the simulation to completion and requires success.
func (w *World) Run(t *testing.T) {
	t.Helper()
	require.NoError(t, w.Sim.Run(context.Background()))
}

// Rows returns the rows of table matching every condition. A table that
// was never written reads as empty.
func (w *World) Rows(t *testing.T, table string, conds ...recorder.Cond) *recorder.QueryResult {
	t.Helper()
	return Rows(t, w.Mem, table, conds...)
}

// Rows queries an in-memory backend the same way World.Rows does.
func Rows(t *testing.T, mem *recorder.MemBackend, table string, conds ...recorder.Cond) *recorder.QueryResult {
	t.Helper()
	if mem.Count(table) == 0 {
		return &recorder.QueryResult{}
	}
	res, err := mem.Query(table, conds)
	require.NoError(t, err)
	return res
}

// TradedQuantities returns the quantity of every transaction in table order.
func TradedQuantities(t *testing.T, mem *recorder.MemBackend) []float64 {
	t.Helper()
	tx := Rows(t, mem, "Transactions")
	out := make([]float64, len(tx.Rows))
	for i := range tx.Rows {
		res := Rows(t, mem, "Resources", Eq("ResourceId", tx.Get(i, "ResourceId")))
		require.Len(t, res.Rows, 1, "transaction %d resource", i)
		out[i] = res.Get(0, "Quantity").(float64)
	}
	return out
}

// Eq is an equality condition.
func Eq(col string, v any) recorder.Cond {
	return recorder.Cond{Column: col, Op: recorder.OpEq, Value: v}
}

// NucMass returns the kg of nuc in the recorded resource state resourceID.
func NucMass(t *testing.T, mem *recorder.MemBackend, resourceID any, nuc comp.Nuc) float64 {
	t.Helper()
	res := Rows(t, mem, "Resources", Eq("ResourceId", resourceID))
	require.Len(t, res.Rows, 1, "resource %v", resourceID)
	frac := Rows(t, mem, "Compositions", Eq("QualId", res.Get(0, "QualId")), Eq("NucId", nuc))
	if len(frac.Rows) == 0 {
		return 0
	}
	return res.Get(0, "Quantity").(float64) * frac.Get(0, "MassFrac").(float64)
}
