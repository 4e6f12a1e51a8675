package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycsim/cycsim/sim/exchange"
	"github.com/cycsim/cycsim/sim/ids"
	"github.com/cycsim/cycsim/sim/recorder"
	"github.com/cycsim/cycsim/sim/trace"
)

func addTradingProtos(t *testing.T, w *testWorld) {
	t.Helper()
	require.NoError(t, w.ctx.AddPrototype("src", ":test:Source", -1, map[string]any{"commodity": "uox"}))
	require.NoError(t, w.ctx.AddPrototype("snk", ":test:Sink", -1, map[string]any{"commodity": "uox"}))
}

func TestSimulator_PhaseOrderAndAgentOrder(t *testing.T) {
	// GIVEN a region, institution and two scripted facilities
	w := newTestWorld(t, DefaultSimInfo(2))
	w.facilities(t, "scripted", "scripted")

	// WHEN the simulation runs two ticks
	require.NoError(t, w.sim.Run(context.Background()))

	// THEN builds cascade in the first Build phase and every later phase
	// visits agents in ascending id
	want := []string{
		"1:enter@0", "2:enter@0", "3:enter@0", "4:enter@0",
		"1:tick@0", "2:tick@0", "3:tick@0", "4:tick@0",
		"1:tock@0", "2:tock@0", "3:tock@0", "4:tock@0",
		"1:tick@1", "2:tick@1", "3:tick@1", "4:tick@1",
		"1:tock@1", "2:tock@1", "3:tock@1", "4:tock@1",
	}
	assert.Equal(t, want, w.log.entries)
}

func TestSimulator_AgentEntryRows(t *testing.T) {
	w := newTestWorld(t, DefaultSimInfo(1))
	w.facilities(t, "scripted")
	require.NoError(t, w.sim.Run(context.Background()))

	res := w.rows(t, "AgentEntry")
	require.Len(t, res.Rows, 3)
	assert.Equal(t, []any{1, 2, 3}, res.Column("AgentId"))
	assert.Equal(t, []any{"Region", "Institution", "Facility"}, res.Column("Kind"))
	assert.Equal(t, []any{-1, 1, 2}, res.Column("ParentId"))
	assert.Equal(t, []any{":test:Region", ":test:Inst", ":test:Scripted"}, res.Column("Spec"))
	assert.Equal(t, []any{-1, -1, -1}, res.Column("Lifetime"))
	assert.Equal(t, []any{0, 0, 0}, res.Column("EnterTime"))
}

func TestSimulator_SourceToSink(t *testing.T) {
	// GIVEN a unit-capacity source and a unit-demand sink
	w := newTestWorld(t, DefaultSimInfo(10))
	addTradingProtos(t, w)
	w.facilities(t, "src", "snk")

	// WHEN run for ten ticks
	require.NoError(t, w.sim.Run(context.Background()))

	// THEN one unit moves from source (3) to sink (4) every tick
	tx := w.rows(t, "Transactions")
	require.Len(t, tx.Rows, 10)
	for i := range tx.Rows {
		assert.Equal(t, 3, tx.Get(i, "SenderId"))
		assert.Equal(t, 4, tx.Get(i, "ReceiverId"))
		assert.Equal(t, "uox", tx.Get(i, "Commodity"))
		assert.Equal(t, i, tx.Get(i, "Time"))

		rsrc := w.rows(t, "Resources", eq("ResourceId", tx.Get(i, "ResourceId")))
		require.Len(t, rsrc.Rows, 1)
		assert.InDelta(t, 1.0, rsrc.Get(0, "Quantity").(float64), 1e-9)
	}
	assert.Equal(t, 10.0, testutil.ToFloat64(w.sim.Metrics().ticks))
	assert.Equal(t, 10.0, testutil.ToFloat64(w.sim.Metrics().trades.WithLabelValues("material")))
	assert.InDelta(t, 10.0, w.sim.Metrics().CommodityFlow["uox"], 1e-9)
}

func TestSimulator_MILPMatchesGreedyOnSimpleChain(t *testing.T) {
	info := DefaultSimInfo(3)
	info.Exchange.AllowMILP = true
	et := trace.NewExchangeTrace(trace.TraceConfig{Level: trace.TraceLevelTrades})
	w := newTestWorld(t, info, WithTrace(et))
	addTradingProtos(t, w)
	w.facilities(t, "src", "snk")

	require.NoError(t, w.sim.Run(context.Background()))

	assert.Equal(t, 3, w.mem.Count("Transactions"))
	summary := trace.Summarize(et)
	assert.Equal(t, 3, summary.TotalTrades)
	assert.Equal(t, 0, summary.Fallbacks)
	for _, s := range et.Solves {
		assert.Equal(t, "milp", s.Solver)
	}
}

func TestSimulator_LifetimeDecommission(t *testing.T) {
	// GIVEN a facility with a lifetime of 3 ticks in a 5 tick run
	w := newTestWorld(t, DefaultSimInfo(5))
	require.NoError(t, w.ctx.AddPrototype("short", ":test:Scripted", 3, nil))
	w.facilities(t, "short")

	require.NoError(t, w.sim.Run(context.Background()))

	// THEN it is decommissioned in tick 2 and exits at 3
	assert.Contains(t, w.log.entries, "3:decom@2")
	assert.NotContains(t, w.log.entries, "3:tick@3")
	exits := w.rows(t, "AgentExit")
	require.Len(t, exits.Rows, 1)
	assert.Equal(t, 3, exits.Get(0, "AgentId"))
	assert.Equal(t, 3, exits.Get(0, "ExitTime"))
}

func TestSimulator_ChildrenDecommissionFirst(t *testing.T) {
	// GIVEN an institution with lifetime 2 holding two facilities
	w := newTestWorld(t, DefaultSimInfo(4))
	require.NoError(t, w.ctx.AddPrototype("shortinst", ":test:Inst", 2, nil))
	require.NoError(t, w.sim.AddRegion(BuildSpec{
		Prototype: "region",
		Children: []BuildSpec{{
			Prototype: "shortinst",
			Children:  []BuildSpec{{Prototype: "scripted", Number: 2}},
		}},
	}))

	require.NoError(t, w.sim.Run(context.Background()))

	// THEN facilities leave before their institution, all at tick 1
	var decoms []string
	for _, e := range w.log.entries {
		if len(e) > 6 && e[2:7] == "decom" {
			decoms = append(decoms, e)
		}
	}
	assert.Equal(t, []string{"3:decom@1", "4:decom@1", "2:decom@1"}, decoms)
	exits := w.rows(t, "AgentExit")
	assert.Equal(t, []any{3, 4, 2}, exits.Column("AgentId"))
	assert.Equal(t, []any{2, 2, 2}, exits.Column("ExitTime"))
}

func TestSimulator_ZeroDuration(t *testing.T) {
	// GIVEN a source/sink world with no ticks
	w := newTestWorld(t, DefaultSimInfo(0))
	addTradingProtos(t, w)
	w.facilities(t, "src", "snk")

	require.NoError(t, w.sim.Run(context.Background()))

	// THEN agents are built but nothing ticks or trades
	assert.Equal(t, 4, w.mem.Count("AgentEntry"))
	assert.Zero(t, w.mem.Count("Transactions"))
	for _, e := range w.log.entries {
		assert.Contains(t, e, "enter")
	}
	fin := w.rows(t, "Finish")
	require.Len(t, fin.Rows, 1)
	assert.Equal(t, 0, fin.Get(0, "RunTime"))
	assert.Equal(t, true, fin.Get(0, "Success"))
}

func TestSimulator_AgentFaults(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
		phase  Phase
		time   int
	}{
		{"tick error", map[string]any{"fail_on": "tick"}, PhaseTick, 0},
		{"tock panic", map[string]any{"panic_on": "tock"}, PhaseTock, 0},
		{"enter error", map[string]any{"fail_on": "enter"}, PhaseBuild, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN a faulty facility next to a healthy one
			w := newTestWorld(t, DefaultSimInfo(3))
			require.NoError(t, w.ctx.AddPrototype("faulty", ":test:Scripted", -1, tt.config))
			w.facilities(t, "scripted", "faulty")

			// WHEN run
			err := w.sim.Run(context.Background())

			// THEN the run aborts with an AgentFault naming agent 4
			var se *Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, KindAgentFault, se.Kind)
			assert.Equal(t, 4, se.AgentID)
			assert.Equal(t, tt.phase, se.Phase)
			assert.Equal(t, tt.time, se.Time)

			fin := w.rows(t, "Finish")
			require.Len(t, fin.Rows, 1)
			assert.Equal(t, false, fin.Get(0, "Success"))
			assert.Equal(t, "AgentFault", fin.Get(0, "ErrorKind"))
		})
	}
}

// cancelScripted cancels the run from inside a tick.
type cancelScripted struct {
	scripted
	at     int
	cancel context.CancelFunc
}

func (c *cancelScripted) Tick() error {
	if c.Context().Time() == c.at {
		c.cancel()
	}
	return nil
}

func TestSimulator_CancellationBetweenTicks(t *testing.T) {
	// GIVEN a facility that cancels the run during tick 2
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := &callLog{}
	reg := newTestRegistry(t, log)
	require.NoError(t, reg.Register(Archetype{
		Spec: ":test:Canceller", Kind: KindFacility,
		New: func() Agent { return &cancelScripted{scripted: scripted{log: log}, at: 2, cancel: cancel} },
	}))
	w := newTestWorld(t, DefaultSimInfo(10), WithRegistry(reg))
	require.NoError(t, w.ctx.AddPrototype("canceller", ":test:Canceller", -1, nil))
	w.facilities(t, "canceller")

	// WHEN run
	err := w.sim.Run(ctx)

	// THEN tick 2 completes and the run stops before tick 3
	assert.Equal(t, KindCancelled, KindOf(err))
	fin := w.rows(t, "Finish")
	require.Len(t, fin.Rows, 1)
	assert.Equal(t, 3, fin.Get(0, "RunTime"))
	assert.Equal(t, "Cancelled", fin.Get(0, "ErrorKind"))
	assert.Contains(t, log.entries, "1:tock@2")
	assert.NotContains(t, log.entries, "1:tick@3")
}

func TestSimulator_RegionKindRules(t *testing.T) {
	w := newTestWorld(t, DefaultSimInfo(1))
	require.NoError(t, w.sim.AddRegion(BuildSpec{Prototype: "scripted"}))

	err := w.sim.Run(context.Background())
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestSimulator_RunTwiceIsStateError(t *testing.T) {
	w := newTestWorld(t, DefaultSimInfo(1))
	require.NoError(t, w.sim.Run(context.Background()))
	assert.ErrorIs(t, w.sim.Run(context.Background()), ErrState)
	assert.ErrorIs(t, w.sim.AddRegion(BuildSpec{Prototype: "region"}), ErrState)
}

func TestSimulator_InfoRow(t *testing.T) {
	info := DefaultSimInfo(2)
	info.Handle = "unit"
	w := newTestWorld(t, info)
	require.NoError(t, w.sim.Run(context.Background()))

	res := w.rows(t, "Info")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "unit", res.Get(0, "Handle"))
	assert.Equal(t, 2, res.Get(0, "Duration"))
	assert.Equal(t, 2000, res.Get(0, "StartYear"))
	assert.Equal(t, "init", res.Get(0, "ParentType"))
	assert.Equal(t, w.ctx.SimID(), res.Get(0, "SimId"))
}

func TestSimulator_ExplicitInventory(t *testing.T) {
	info := DefaultSimInfo(1)
	info.ExplicitInventory = true
	w := newTestWorld(t, info)
	addTradingProtos(t, w)
	w.facilities(t, "src", "snk")

	require.NoError(t, w.sim.Run(context.Background()))

	res := w.rows(t, "ExplicitInventory", eq("AgentId", 4))
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []any{922350000, 922380000}, res.Column("NucId"))
	assert.InDelta(t, 0.007, res.Get(0, "Quantity").(float64), 1e-9)
	assert.InDelta(t, 0.993, res.Get(1, "Quantity").(float64), 1e-9)
	assert.Equal(t, "received", res.Get(0, "InventoryName"))
}

func TestSimulator_Snapshots(t *testing.T) {
	info := DefaultSimInfo(4)
	info.SnapshotInterval = 2
	w := newTestWorld(t, info)
	addTradingProtos(t, w)
	w.facilities(t, "src", "snk")

	require.NoError(t, w.sim.Run(context.Background()))

	assert.Equal(t, []any{1, 3}, w.rows(t, "Snapshots").Column("Time"))
	counts := w.rows(t, "AgentStateVars", eq("Variable", "count"))
	assert.Equal(t, []any{"2\n", "4\n"}, counts.Column("Value"))
}

func TestSimulator_Deterministic(t *testing.T) {
	simID := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	run := func() *testWorld {
		info := DefaultSimInfo(6)
		info.Exchange.Ordering = exchange.OrderAvgPref
		w := newTestWorld(t, info, WithIDs(ids.NewWithSimID(simID)))
		addTradingProtos(t, w)
		require.NoError(t, w.ctx.AddPrototype("snk2", ":test:Sink", -1, map[string]any{"commodity": "uox", "pref": 2.0}))
		w.facilities(t, "src", "snk", "snk2")
		require.NoError(t, w.sim.Run(context.Background()))
		return w
	}
	a, b := run(), run()
	for _, table := range []string{"AgentEntry", "Resources", "Transactions", "Compositions"} {
		assert.Equal(t, a.rows(t, table).Rows, b.rows(t, table).Rows, table)
	}
	// Under avg-pref ordering the preferred sink (5) wins every tick.
	assert.Equal(t, []any{5, 5, 5, 5, 5, 5}, a.rows(t, "Transactions").Column("ReceiverId"))
}

// failingBackend rejects every batch it is sent.
type failingBackend struct{}

func (failingBackend) Name() string { return "failing" }
func (failingBackend) Notify(string, recorder.Schema, []recorder.Row) error {
	return errors.New("disk full")
}
func (failingBackend) Close() error { return nil }

func TestSimulator_BackendFailuresAreWarnings(t *testing.T) {
	// GIVEN a source and sink recording through a backend that always fails,
	// flushed after every row
	info := DefaultSimInfo(3)
	info.DumpCount = 1
	w := newTestWorld(t, info, WithBackends(failingBackend{}))
	addTradingProtos(t, w)
	w.facilities(t, "src", "snk")

	// WHEN the simulation runs
	err := w.sim.Run(context.Background())

	// THEN resource, composition and transaction rows that hit the failure
	// are warned about and trading carries on
	require.NoError(t, err)
	assert.Greater(t, w.ctx.WarnCount("backend"), 0)
	assert.Len(t, w.rows(t, "Transactions").Rows, 3)
}
