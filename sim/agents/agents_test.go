package agents_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycsim/cycsim/sim"
	"github.com/cycsim/cycsim/sim/agents"
	"github.com/cycsim/cycsim/sim/exchange"
	"github.com/cycsim/cycsim/sim/internal/testutil"
	"github.com/cycsim/cycsim/sim/resource"
)

func TestArchetypes_RegisteredWithDefaultRegistry(t *testing.T) {
	for _, a := range agents.Archetypes() {
		got, err := sim.DefaultRegistry.Lookup(a.Spec)
		require.NoError(t, err, a.Spec)
		assert.Equal(t, a.Kind, got.Kind, a.Spec)
	}
}

// configure validates cfg against spec's variables and hands the result to a.
func configure(t *testing.T, spec string, a sim.Configurable, cfg map[string]any) error {
	t.Helper()
	arch, err := sim.DefaultRegistry.Lookup(spec)
	require.NoError(t, err)
	v, err := sim.ValidateConfig(arch.Vars, cfg)
	if err != nil {
		return err
	}
	return a.Configure(v)
}

func TestConfigure_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		spec  string
		agent sim.Configurable
		cfg   map[string]any
	}{
		{"source with recipe and quality", ":agents:Source", &agents.Source{},
			map[string]any{"outcommod": "x", "outrecipe": "natu", "outquality": "power"}},
		{"source with neither", ":agents:Source", &agents.Source{},
			map[string]any{"outcommod": "x"}},
		{"source with zero throughput", ":agents:Source", &agents.Source{},
			map[string]any{"outcommod": "x", "outrecipe": "natu", "throughput": 0.0}},
		{"sink without commodities", ":agents:Sink", &agents.Sink{},
			map[string]any{"in_commods": []any{}}},
		{"sink with extra prefs", ":agents:Sink", &agents.Sink{},
			map[string]any{"in_commods": []any{"a"}, "in_commod_prefs": []any{1.0, 2.0}}},
		{"sink jitter of one", ":agents:Sink", &agents.Sink{},
			map[string]any{"in_commods": []any{"a"}, "request_jitter": 1.0}},
		{"reactor zero cycle", ":agents:Reactor", &agents.Reactor{}, map[string]any{
			"fuel_incommod": "a", "fuel_inrecipe": "r", "fuel_outcommod": "b", "fuel_outrecipe": "s", "cycle_time": 0,
		}},
		{"separations over unity", ":agents:Separations", &agents.Separations{}, map[string]any{
			"feed_commods": []any{"spent"},
			"streams": map[string]any{
				"a": map[string]any{"Pu239": 0.6},
				"b": map[string]any{"Pu239": 0.6},
			},
		}},
		{"separations stream named like leftovers", ":agents:Separations", &agents.Separations{}, map[string]any{
			"feed_commods": []any{"spent"}, "leftover_commod": "a",
			"streams": map[string]any{"a": map[string]any{"Pu239": 1.0}},
		}},
		{"deploy length mismatch", ":agents:DeployInst", &agents.DeployInst{}, map[string]any{
			"prototypes": []any{"a", "b"}, "build_times": []any{1},
		}},
		{"null inst negative modifier", ":agents:NullInst", &agents.NullInst{}, map[string]any{
			"pref_modifiers": map[string]any{"uox": -1.0},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := configure(t, tc.spec, tc.agent, tc.cfg)
			assert.ErrorIs(t, err, sim.ErrValidation)
		})
	}
}

func TestSource_ProductTrades(t *testing.T) {
	// GIVEN a product source of 3 per step and a sink that can hold 5
	w := newWorld(t, sim.DefaultSimInfo(3))
	w.Proto(t, "plant", ":agents:Source", -1, map[string]any{
		"outcommod": "power", "outquality": "MWh", "throughput": 3.0,
	})
	w.Proto(t, "city", ":agents:Sink", -1, map[string]any{
		"in_commods": []any{"power"}, "inquality": "MWh", "max_inv_size": 5.0,
	})
	w.Place(t, "plant", "city")

	// WHEN run for three steps
	w.Run(t)

	// THEN the sink fills up: 3, then the 2 left, then nothing
	got := testutil.TradedQuantities(t, w.Mem)
	require.Len(t, got, 2)
	assert.InDelta(t, 3.0, got[0], resource.EpsRsrc)
	assert.InDelta(t, 2.0, got[1], resource.EpsRsrc)
	res := w.Rows(t, "Resources", testutil.Eq("Type", "Product"))
	assert.NotEmpty(t, res.Rows)

	a, ok := w.Ctx.Agent(4)
	require.True(t, ok)
	city := a.(*agents.Sink)
	assert.InDelta(t, 5.0, city.Received(), resource.EpsRsrc)
	assert.Len(t, city.Products(), 2)
	assert.Empty(t, city.Materials())

	plant, _ := w.Ctx.Agent(3)
	assert.InDelta(t, 5.0, plant.(*agents.Source).Supplied(), resource.EpsRsrc)
}

func TestSink_RequestJitterIsSeeded(t *testing.T) {
	run := func(seed int64) []float64 {
		info := sim.DefaultSimInfo(6)
		info.Seed = seed
		w := newWorld(t, info)
		w.Proto(t, "src", ":agents:Source", -1, sourceCfg("uox", 100))
		w.Proto(t, "snk", ":agents:Sink", -1, map[string]any{
			"in_commods": []any{"uox"}, "capacity": 10.0, "request_jitter": 0.5,
		})
		w.Place(t, "src", "snk")
		w.Run(t)
		return testutil.TradedQuantities(t, w.Mem)
	}

	// GIVEN a sink that shrinks each request by up to half
	// WHEN the same seed runs twice
	a, b := run(7), run(7)

	// THEN the draws repeat and stay within bounds
	assert.Equal(t, a, b)
	require.Len(t, a, 6)
	for _, q := range a {
		assert.GreaterOrEqual(t, q, 5.0)
		assert.LessOrEqual(t, q, 10.0)
	}
	assert.NotEqual(t, a, run(8))
}

func TestDeployInst_BuildsOnSchedule(t *testing.T) {
	// GIVEN an institution deploying one sink at 2 and two at 4
	w := newWorld(t, sim.DefaultSimInfo(6))
	w.Proto(t, "snk", ":agents:Sink", -1, sinkCfg("uox", 1, 1))
	w.Proto(t, "deployer", ":agents:DeployInst", -1, map[string]any{
		"prototypes": []any{"snk", "snk"}, "build_times": []any{2, 4}, "n_build": []any{1, 2},
	})
	w.PlaceUnder(t, "deployer")

	// WHEN run
	w.Run(t)

	// THEN the sinks enter on schedule under the deployer (2)
	entry := w.Rows(t, "AgentEntry", testutil.Eq("Prototype", "snk"))
	assert.Equal(t, []any{2, 4, 4}, entry.Column("EnterTime"))
	assert.Equal(t, []any{2, 2, 2}, entry.Column("ParentId"))
}

func TestDeployInst_PastBuildFails(t *testing.T) {
	// GIVEN a deployer asked to build before the simulation starts
	w := newWorld(t, sim.DefaultSimInfo(2))
	w.Proto(t, "snk", ":agents:Sink", -1, sinkCfg("uox", 1, 1))
	w.Proto(t, "deployer", ":agents:DeployInst", -1, map[string]any{
		"prototypes": []any{"snk"}, "build_times": []any{-1},
	})
	w.PlaceUnder(t, "deployer")

	// WHEN run
	err := w.Sim.Run(context.Background())

	// THEN scheduling into the past fails the run
	require.Error(t, err)
	assert.ErrorIs(t, err, sim.ErrState)
}

func TestNullInst_PrefModifiersReachDescendants(t *testing.T) {
	// GIVEN sink a (pref 2) under an institution scaling uox by 0.1 and
	// sink b (pref 1) under a plain one, with a single unit on offer
	info := sim.DefaultSimInfo(1)
	info.Exchange.Ordering = exchange.OrderAvgPref
	w := newWorld(t, info)
	w.Proto(t, "src", ":agents:Source", -1, sourceCfg("uox", 1))
	w.Proto(t, "a", ":agents:Sink", -1, sinkCfg("uox", 1, 2))
	w.Proto(t, "b", ":agents:Sink", -1, sinkCfg("uox", 1, 1))
	w.Proto(t, "thrifty", ":agents:NullInst", -1, map[string]any{"pref_modifiers": map[string]any{"uox": 0.1}})
	require.NoError(t, w.Sim.AddRegion(sim.BuildSpec{Prototype: "region", Children: []sim.BuildSpec{
		{Prototype: "thrifty", Children: []sim.BuildSpec{{Prototype: "a"}}},
		{Prototype: "inst", Children: []sim.BuildSpec{{Prototype: "b"}, {Prototype: "src"}}},
	}}))

	// WHEN run for one step
	w.Run(t)

	// THEN b (5) wins on its unscaled preference
	a, ok := w.Ctx.Agent(3)
	require.True(t, ok)
	require.Equal(t, "a", a.Base().Prototype())
	tx := w.Rows(t, "Transactions")
	require.Len(t, tx.Rows, 1)
	assert.Equal(t, 5, tx.Get(0, "ReceiverId"))
}

func TestReactor_LoadsAndDischarges(t *testing.T) {
	// GIVEN a reactor with a two-step cycle fed by a fresh fuel source
	w := newWorld(t, sim.DefaultSimInfo(6))
	w.Proto(t, "mine", ":agents:Source", -1, map[string]any{
		"outcommod": "fresh_uox", "outrecipe": "fresh", "throughput": 1.0,
	})
	w.Proto(t, "lwr", ":agents:Reactor", -1, map[string]any{
		"fuel_incommod": "fresh_uox", "fuel_inrecipe": "fresh",
		"fuel_outcommod": "spent_uox", "fuel_outrecipe": "spent",
		"assem_size": 1.0, "cycle_time": 2,
	})
	w.Place(t, "mine", "lwr")

	// WHEN run with nobody taking spent fuel
	w.Run(t)

	// THEN batches load at 0, 2, 4 and discharge at 2, 4
	loads := w.Rows(t, agents.ReactorEventsTable, testutil.Eq("Event", "LOAD"))
	assert.Equal(t, []any{0, 2, 4}, loads.Column("Time"))
	discharges := w.Rows(t, agents.ReactorEventsTable, testutil.Eq("Event", "DISCHARGE"))
	assert.Equal(t, []any{2, 4}, discharges.Column("Time"))

	a, ok := w.Ctx.Agent(4)
	require.True(t, ok)
	lwr := a.(*agents.Reactor)
	assert.InDelta(t, 0.02, lwr.Discharged(pu239), resource.EpsRsrc)
	assert.Len(t, lwr.Inventories()["spent"], 2)
}
