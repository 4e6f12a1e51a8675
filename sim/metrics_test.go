package sim

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersStartAtZero(t *testing.T) {
	m := NewMetrics()
	assert.Zero(t, testutil.ToFloat64(m.ticks))
	assert.Zero(t, testutil.ToFloat64(m.liveAgents))
	assert.Zero(t, testutil.CollectAndCount(m.trades))
}

func TestMetrics_RecordsMirrorIntoRegistry(t *testing.T) {
	// GIVEN a fresh Metrics
	m := NewMetrics()

	// WHEN agents come and go and trades and warnings are recorded
	m.agentEntered()
	m.agentEntered()
	m.agentExited()
	m.recordTrade("material", "uox", 1.5)
	m.recordTrade("product", "power", 3)
	m.recordWarning("exchange")
	m.recordExchange("material", 0, true)

	// THEN plain fields and collectors agree
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liveAgents))
	assert.Equal(t, 2, m.Transactions)
	assert.Equal(t, 1.5, testutil.ToFloat64(m.quantity.WithLabelValues("material", "uox")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.warnings.WithLabelValues("exchange")))
	assert.Equal(t, 1, m.Fallbacks)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("material")))
	assert.Equal(t, map[string]float64{"uox": 1.5, "power": 3}, m.CommodityFlow)
}

func TestMetrics_PrintAndTextfile(t *testing.T) {
	w := newTestWorld(t, DefaultSimInfo(2))
	addTradingProtos(t, w)
	w.facilities(t, "src", "snk")
	require.NoError(t, w.sim.Run(t.Context()))

	var sb strings.Builder
	w.sim.Metrics().Print(&sb)
	out := sb.String()
	assert.Contains(t, out, "=== Simulation Metrics ===")
	assert.Contains(t, out, "Ticks Run            : 2")
	assert.Contains(t, out, "Transactions         : 2")
	assert.Contains(t, out, "Flow uox")

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, w.sim.Metrics().WriteToTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cycsim_ticks_total 2")
	assert.Contains(t, string(data), `cycsim_traded_quantity_total{commodity="uox",kind="material"} 2`)
}
