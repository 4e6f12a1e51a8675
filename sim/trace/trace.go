package trace

// TraceLevel controls the verbosity of exchange tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelSolves captures one record per exchange solve.
	TraceLevelSolves TraceLevel = "solves"
	// TraceLevelTrades additionally captures every matched trade.
	TraceLevelTrades TraceLevel = "trades"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:   true,
	TraceLevelSolves: true,
	TraceLevelTrades: true,
	"":               true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// ExchangeTrace collects exchange records during a simulation.
type ExchangeTrace struct {
	Config TraceConfig
	Solves []SolveRecord
	Trades []TradeRecord
}

// NewExchangeTrace creates an ExchangeTrace ready for recording.
func NewExchangeTrace(config TraceConfig) *ExchangeTrace {
	return &ExchangeTrace{
		Config: config,
		Solves: make([]SolveRecord, 0),
		Trades: make([]TradeRecord, 0),
	}
}

// Enabled reports whether anything is recorded. Safe on a nil trace.
func (et *ExchangeTrace) Enabled() bool {
	return et != nil && et.Config.Level != TraceLevelNone && et.Config.Level != ""
}

// RecordSolve appends a solve record.
func (et *ExchangeTrace) RecordSolve(record SolveRecord) {
	if !et.Enabled() {
		return
	}
	et.Solves = append(et.Solves, record)
}

// RecordTrade appends a trade record when trades are traced.
func (et *ExchangeTrace) RecordTrade(record TradeRecord) {
	if !et.Enabled() || et.Config.Level != TraceLevelTrades {
		return
	}
	et.Trades = append(et.Trades, record)
}
