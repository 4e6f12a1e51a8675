package input

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycsim/cycsim/sim"
	"github.com/cycsim/cycsim/sim/ids"
	"github.com/cycsim/cycsim/sim/internal/testutil"
	"github.com/cycsim/cycsim/sim/recorder"
	"github.com/cycsim/cycsim/sim/resource"
)

func TestGoldenScenarios(t *testing.T) {
	dataset := testutil.LoadGoldenDataset(t)
	require.NotEmpty(t, dataset.Tests)
	for _, tc := range dataset.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			// GIVEN the scenario input file
			s, err := Load(filepath.Join(testutil.TestdataDir(t), tc.Input))
			require.NoError(t, err)
			mem := recorder.NewMemBackend()
			simulator, err := s.Build(sim.WithBackends(mem))
			require.NoError(t, err)

			// WHEN run to completion
			require.NoError(t, simulator.Run(context.Background()))

			// THEN the recorded tables match the golden metrics
			want := tc.Metrics
			tx := testutil.Rows(t, mem, "Transactions")
			assert.Len(t, tx.Rows, want.Transactions)
			assert.Len(t, testutil.Rows(t, mem, "AgentEntry").Rows, want.AgentsEntered)

			times := make([]int, len(tx.Rows))
			for i, v := range tx.Column("Time") {
				times[i] = v.(int)
			}
			assert.Equal(t, want.TradeTimes, times)

			got := testutil.TradedQuantities(t, mem)
			total := 0.0
			for _, q := range got {
				total += q
			}
			assert.InDelta(t, want.TotalQuantity, total, resource.EpsRsrc*float64(len(got)+1))
			if want.Quantities != nil {
				require.Len(t, got, len(want.Quantities))
				for i := range got {
					testutil.AssertFloat64Equal(t, "quantity", want.Quantities[i], got[i], 1e-9)
				}
			}

			fin := testutil.Rows(t, mem, "Finish")
			require.Len(t, fin.Rows, 1)
			assert.Equal(t, true, fin.Get(0, "Success"))
		})
	}
}

func TestGoldenScenarios_Deterministic(t *testing.T) {
	// GIVEN the recycle scenario with its snapshots and inventories
	path := filepath.Join(testutil.TestdataDir(t), "scenarios", "s6_recycle.yaml")
	simID := uuid.MustParse("0b7f3c52-5a4e-4c39-9d7e-2f1a6c8e4b10")
	run := func() *recorder.MemBackend {
		s, err := Load(path)
		require.NoError(t, err)
		mem := recorder.NewMemBackend()
		simulator, err := s.Build(sim.WithBackends(mem), sim.WithIDs(ids.NewWithSimID(simID)))
		require.NoError(t, err)
		require.NoError(t, simulator.Run(context.Background()))
		return mem
	}

	// WHEN run twice
	a, b := run(), run()

	// THEN every table but the wall-clock ones is identical
	for _, table := range a.Tables() {
		if table == "Info" || table == "Finish" {
			continue
		}
		assert.Equal(t, testutil.Rows(t, a, table).Rows, testutil.Rows(t, b, table).Rows, table)
	}
	assert.NotZero(t, a.Count("ExplicitInventory"))
	assert.Equal(t, []any{3, 7}, testutil.Rows(t, a, "Snapshots").Column("Time"))
}
