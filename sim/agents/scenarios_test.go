package agents_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycsim/cycsim/sim"
	"github.com/cycsim/cycsim/sim/agents"
	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/exchange"
	"github.com/cycsim/cycsim/sim/internal/testutil"
	"github.com/cycsim/cycsim/sim/resource"
)

const (
	u235  comp.Nuc = 922350000
	u238  comp.Nuc = 922380000
	pu239 comp.Nuc = 942390000
	cs137 comp.Nuc = 551370000
)

// newWorld is a testutil.World with the fuel-cycle recipes registered.
func newWorld(t *testing.T, info sim.SimInfo) *testutil.World {
	t.Helper()
	w := testutil.NewWorld(t, info)
	w.Recipe(t, "natu", map[comp.Nuc]float64{u235: 0.007, u238: 0.993})
	w.Recipe(t, "fresh", map[comp.Nuc]float64{u235: 0.04, u238: 0.96})
	w.Recipe(t, "spent", map[comp.Nuc]float64{u235: 0.01, u238: 0.94, pu239: 0.01, cs137: 0.04})
	w.Recipe(t, "pu", map[comp.Nuc]float64{pu239: 1})
	return w
}

func sourceCfg(commod string, throughput float64) map[string]any {
	return map[string]any{"outcommod": commod, "outrecipe": "natu", "throughput": throughput}
}

func sinkCfg(commod string, capacity, pref float64) map[string]any {
	return map[string]any{"in_commods": []any{commod}, "in_commod_prefs": []any{pref}, "capacity": capacity}
}

func TestScenario_SourceFeedsSink(t *testing.T) {
	// GIVEN a unit-throughput uox source and a unit-capacity sink
	w := newWorld(t, sim.DefaultSimInfo(10))
	w.Proto(t, "src", ":agents:Source", -1, sourceCfg("uox", 1))
	w.Proto(t, "snk", ":agents:Sink", -1, sinkCfg("uox", 1, 1))
	w.Place(t, "src", "snk")

	// WHEN run for ten steps
	w.Run(t)

	// THEN ten unit transactions go from the source (3) to the sink (4)
	tx := w.Rows(t, "Transactions")
	require.Len(t, tx.Rows, 10)
	assert.Equal(t, []any{3, 3, 3, 3, 3, 3, 3, 3, 3, 3}, tx.Column("SenderId"))
	assert.Equal(t, []any{4, 4, 4, 4, 4, 4, 4, 4, 4, 4}, tx.Column("ReceiverId"))
	for i, q := range testutil.TradedQuantities(t, w.Mem) {
		assert.InDelta(t, 1.0, q, resource.EpsRsrc, "transaction %d", i)
	}
}

func TestScenario_KFactorGrowth(t *testing.T) {
	// GIVEN a facility trading with itself whose capacity doubles every step
	w := newWorld(t, sim.DefaultSimInfo(5))
	w.Proto(t, "kf", ":agents:KFacility", -1, map[string]any{
		"in_commod": "k", "out_commod": "k", "recipe_name": "natu",
		"capacity": 1.0, "k_factor": 2.0,
	})
	w.Place(t, "kf")

	// WHEN run for five steps
	w.Run(t)

	// THEN the traded quantities double: 1, 2, 4, 8, 16
	got := testutil.TradedQuantities(t, w.Mem)
	require.Len(t, got, 5)
	for i, want := range []float64{1, 2, 4, 8, 16} {
		assert.InDelta(t, want, got[i], resource.EpsRsrc, "step %d", i)
	}
	assert.Equal(t, []any{3, 3, 3, 3, 3}, w.Rows(t, "Transactions").Column("SenderId"))
}

func TestScenario_LoneSink(t *testing.T) {
	// GIVEN a sink with nothing to buy from
	w := newWorld(t, sim.DefaultSimInfo(5))
	w.Proto(t, "snk", ":agents:Sink", -1, sinkCfg("uox", 1, 1))
	w.Place(t, "snk")

	// WHEN run
	w.Run(t)

	// THEN nothing trades but the sink entered
	assert.Empty(t, w.Rows(t, "Transactions").Rows)
	entry := w.Rows(t, "AgentEntry", testutil.Eq("Prototype", "snk"))
	require.Len(t, entry.Rows, 1)
	assert.Equal(t, ":agents:Sink", entry.Get(0, "Spec"))
	assert.Equal(t, 0, entry.Get(0, "EnterTime"))
}

func TestScenario_PreferredSinkWins(t *testing.T) {
	tests := []struct {
		name     string
		ordering exchange.GroupOrdering
		place    []string
		receiver int
	}{
		// a=3 requests first and prefers more
		{name: "agent id, preferred first", ordering: exchange.OrderAgentID, place: []string{"a", "b", "src"}, receiver: 3},
		// b=3, a=4: average preference puts a's group first
		{name: "avg pref, preferred second", ordering: exchange.OrderAvgPref, place: []string{"b", "a", "src"}, receiver: 4},
		// b=3, a=4: group order follows ids, so b takes the only unit
		{name: "agent id, preferred second", ordering: exchange.OrderAgentID, place: []string{"b", "a", "src"}, receiver: 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN two unit sinks with preferences a:2 b:1 and one unit of supply
			info := sim.DefaultSimInfo(1)
			info.Exchange.Ordering = tc.ordering
			w := newWorld(t, info)
			w.Proto(t, "src", ":agents:Source", -1, sourceCfg("uox", 1))
			w.Proto(t, "a", ":agents:Sink", -1, sinkCfg("uox", 1, 2))
			w.Proto(t, "b", ":agents:Sink", -1, sinkCfg("uox", 1, 1))
			w.Place(t, tc.place...)

			// WHEN run for one step
			w.Run(t)

			// THEN exactly one trade happens
			tx := w.Rows(t, "Transactions")
			require.Len(t, tx.Rows, 1)
			assert.Equal(t, tc.receiver, tx.Get(0, "ReceiverId"))
		})
	}
}

func TestScenario_SourceLifetime(t *testing.T) {
	// GIVEN a source that lives three steps and a sink that lives forever
	w := newWorld(t, sim.DefaultSimInfo(5))
	w.Proto(t, "src", ":agents:Source", 3, sourceCfg("uox", 1))
	w.Proto(t, "snk", ":agents:Sink", -1, sinkCfg("uox", 1, 1))
	w.Place(t, "src", "snk")

	// WHEN run for five steps
	w.Run(t)

	// THEN trades stop after t=2 and the source exits at 3
	assert.Equal(t, []any{0, 1, 2}, w.Rows(t, "Transactions").Column("Time"))
	exit := w.Rows(t, "AgentExit", testutil.Eq("AgentId", 3))
	require.Len(t, exit.Rows, 1)
	assert.Equal(t, 3, exit.Get(0, "ExitTime"))
	assert.Empty(t, w.Rows(t, "AgentExit", testutil.Eq("AgentId", 4)).Rows)
}

func TestScenario_RecyclePlutonium(t *testing.T) {
	// GIVEN fresh fuel feeding a reactor whose spent fuel is separated and
	// the plutonium stream sent to a repository
	w := newWorld(t, sim.DefaultSimInfo(8))
	w.Proto(t, "mine", ":agents:Source", -1, map[string]any{
		"outcommod": "fresh_uox", "outrecipe": "fresh", "throughput": 1.0,
	})
	w.Proto(t, "lwr", ":agents:Reactor", 4, map[string]any{
		"fuel_incommod": "fresh_uox", "fuel_inrecipe": "fresh",
		"fuel_outcommod": "spent_uox", "fuel_outrecipe": "spent",
		"assem_size": 1.0, "cycle_time": 1,
	})
	w.Proto(t, "sep", ":agents:Separations", -1, map[string]any{
		"feed_commods":    []any{"spent_uox"},
		"streams":         map[string]any{"sep_pu": map[string]any{"Pu239": 1.0}},
		"leftover_commod": "waste",
	})
	w.Proto(t, "repo", ":agents:Sink", -1, map[string]any{
		"in_commods": []any{"sep_pu"}, "recipe_name": "pu",
	})
	w.Place(t, "mine", "lwr", "sep", "repo")

	// WHEN run long enough for the last discharge to reach the repository
	w.Run(t)

	// THEN the reactor discharged three batches
	discharges := w.Rows(t, agents.ReactorEventsTable, testutil.Eq("Event", "DISCHARGE"))
	assert.Equal(t, []any{1, 2, 3}, discharges.Column("Time"))
	produced := 0.0
	for _, q := range discharges.Column("Quantity") {
		produced += q.(float64) * 0.01
	}
	require.InDelta(t, 0.03, produced, resource.EpsRsrc)

	// AND every kilogram of that plutonium reached the repository (id 6)
	tx := w.Rows(t, "Transactions", testutil.Eq("ReceiverId", 6))
	require.NotEmpty(t, tx.Rows)
	received := 0.0
	for _, id := range tx.Column("ResourceId") {
		received += testutil.NucMass(t, w.Mem, id, pu239)
	}
	assert.InDelta(t, produced, received, resource.EpsRsrc)
	for _, c := range tx.Column("Commodity") {
		assert.Equal(t, "sep_pu", c)
	}
}
