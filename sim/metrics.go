// Tracks simulation-wide counters such as ticks run, trades executed, traded
// quantity per commodity, warnings and solver fallbacks.

package sim

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates statistics about one simulation for final reporting.
// Every counter is mirrored into a per-simulation prometheus registry so runs
// in the same process never share collectors.
type Metrics struct {
	TicksRun        int                // Number of ticks executed
	Transactions    int                // Number of executed trades
	AgentsBuilt     int                // Number of agents entered
	AgentsExited    int                // Number of agents decommissioned
	Fallbacks       int                // MILP solves that fell back to greedy
	CommodityFlow   map[string]float64 // commodity -> traded quantity
	WarningsByKind  map[string]int     // warning kind -> count
	ExchangeLatency time.Duration      // total wall time spent in exchanges

	registry     *prometheus.Registry
	ticks        prometheus.Counter
	trades       *prometheus.CounterVec
	quantity     *prometheus.CounterVec
	warnings     *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	exchangeTime *prometheus.HistogramVec
	liveAgents   prometheus.Gauge
}

// NewMetrics creates a Metrics with its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		CommodityFlow:  make(map[string]float64),
		WarningsByKind: make(map[string]int),
		registry:       prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cycsim", Name: "ticks_total", Help: "Ticks executed.",
		}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cycsim", Name: "transactions_total", Help: "Executed trades by resource kind.",
		}, []string{"kind"}),
		quantity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cycsim", Name: "traded_quantity_total", Help: "Traded quantity by resource kind and commodity.",
		}, []string{"kind", "commodity"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cycsim", Name: "warnings_total", Help: "Warnings raised by kind.",
		}, []string{"kind"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cycsim", Name: "solver_fallbacks_total", Help: "MILP solves that fell back to greedy.",
		}, []string{"kind"}),
		exchangeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cycsim", Name: "exchange_duration_seconds", Help: "Wall time of one exchange.",
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"kind"}),
		liveAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cycsim", Name: "live_agents", Help: "Agents currently live.",
		}),
	}
	m.registry.MustRegister(m.ticks, m.trades, m.quantity, m.warnings, m.fallbacks, m.exchangeTime, m.liveAgents)
	return m
}

// Registry returns the prometheus registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) recordTick() {
	m.TicksRun++
	m.ticks.Inc()
}

func (m *Metrics) recordTrade(kind, commodity string, qty float64) {
	m.Transactions++
	m.CommodityFlow[commodity] += qty
	m.trades.WithLabelValues(kind).Inc()
	m.quantity.WithLabelValues(kind, commodity).Add(qty)
}

func (m *Metrics) recordWarning(kind string) {
	m.WarningsByKind[kind]++
	m.warnings.WithLabelValues(kind).Inc()
}

func (m *Metrics) recordExchange(kind string, d time.Duration, fallback bool) {
	m.ExchangeLatency += d
	m.exchangeTime.WithLabelValues(kind).Observe(d.Seconds())
	if fallback {
		m.Fallbacks++
		m.fallbacks.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) agentEntered() {
	m.AgentsBuilt++
	m.liveAgents.Inc()
}

func (m *Metrics) agentExited() {
	m.AgentsExited++
	m.liveAgents.Dec()
}

// WriteToTextfile writes the registry in the prometheus text format.
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Print displays aggregated metrics at the end of the simulation.
func (m *Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Ticks Run            : %d\n", m.TicksRun)
	fmt.Fprintf(w, "Agents Built         : %d\n", m.AgentsBuilt)
	fmt.Fprintf(w, "Agents Exited        : %d\n", m.AgentsExited)
	fmt.Fprintf(w, "Transactions         : %d\n", m.Transactions)
	if m.TicksRun > 0 {
		fmt.Fprintf(w, "Avg Exchange Time    : %v\n", m.ExchangeLatency/time.Duration(m.TicksRun))
	}
	if m.Fallbacks > 0 {
		fmt.Fprintf(w, "Solver Fallbacks     : %d\n", m.Fallbacks)
	}
	for _, c := range sortedNames(m.CommodityFlow) {
		fmt.Fprintf(w, "  Flow %-15s : %.6g\n", c, m.CommodityFlow[c])
	}
	for _, k := range sortedNames(m.WarningsByKind) {
		fmt.Fprintf(w, "  Warnings %-11s : %d\n", k, m.WarningsByKind[k])
	}
}

func sortedNames[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
