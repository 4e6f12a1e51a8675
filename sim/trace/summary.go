package trace

// TraceSummary aggregates statistics from an ExchangeTrace.
type TraceSummary struct {
	TotalSolves     int
	TotalTrades     int
	Fallbacks       int
	TotalQuantity   float64
	MeanPreference  float64
	UniqueReceivers int
	CommodityFlow   map[string]float64 // commodity → total traded quantity
}

// Summarize computes aggregate statistics from an ExchangeTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(et *ExchangeTrace) *TraceSummary {
	summary := &TraceSummary{
		CommodityFlow: make(map[string]float64),
	}
	if et == nil {
		return summary
	}

	summary.TotalSolves = len(et.Solves)
	for _, s := range et.Solves {
		if s.Fallback {
			summary.Fallbacks++
		}
	}

	receivers := make(map[int]bool)
	if len(et.Trades) > 0 {
		totalPref := 0.0
		for _, t := range et.Trades {
			summary.CommodityFlow[t.Commodity] += t.Amount
			summary.TotalQuantity += t.Amount
			totalPref += t.Preference
			receivers[t.RequesterID] = true
		}
		summary.MeanPreference = totalPref / float64(len(et.Trades))
	}
	summary.TotalTrades = len(et.Trades)
	summary.UniqueReceivers = len(receivers)

	return summary
}
