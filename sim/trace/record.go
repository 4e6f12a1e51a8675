// Package trace provides decision-trace recording for resource exchanges.
// This package has no dependencies on sim/ or sim/exchange/; it stores pure data types.
package trace

// TradeRecord captures a single matched trade.
type TradeRecord struct {
	Time        int
	Kind        string // resource kind: "Material" or "Product"
	Commodity   string
	RequestID   int
	BidID       int
	RequesterID int
	BidderID    int
	Amount      float64
	Preference  float64 // final preference after all adjusters
}

// SolveRecord captures one exchange solve.
type SolveRecord struct {
	Time     int
	Kind     string
	Solver   string // solver that produced the trades
	Requests int
	Bids     int
	Arcs     int
	Dropped  int // arcs removed for non-positive preference
	Trades   int
	Fallback bool   // the configured solver failed and greedy was used
	Reason   string // fallback reason, empty otherwise
}
