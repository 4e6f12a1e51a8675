package sim

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/exchange"
)

// DefaultWarnLimit is the number of warnings of one kind printed before
// later ones are counted silently (or escalated with WarnAsError).
const DefaultWarnLimit = 42

// Solver names accepted by ExchangeConfig.Solver.
const (
	SolverGreedy = "greedy"
	SolverMILP   = "milp"
)

// ValidSolvers is the set of recognized exchange solver names.
var ValidSolvers = map[string]bool{"": true, SolverGreedy: true, SolverMILP: true}

// ExchangeConfig groups dynamic resource exchange settings.
type ExchangeConfig struct {
	AllowMILP   bool                   // permit the MILP solver; greedy otherwise
	MILPTimeout time.Duration          // wall-clock limit per MILP solve (0 = none)
	Ordering    exchange.GroupOrdering // greedy request-group ordering ("agent_id" default)
}

// WarnConfig groups the warning policy.
type WarnConfig struct {
	Limit   int  // warnings printed per kind (default 42)
	AsError bool // escalate warnings past Limit to fatal errors
}

// SimInfo holds the simulation control parameters.
type SimInfo struct {
	Handle     string         // user label stored in the Info table
	Duration   int            // number of ticks (>= 0)
	StartYear  int            // calendar year of tick 0
	StartMonth int            // calendar month of tick 0 (1-12)
	Dt         float64        // seconds per tick (default comp.DefaultTimeStep)
	DecayMode  comp.DecayMode // "never" (default), "manual" or "lazy"
	Seed       int64          // master seed for per-agent RNG streams

	Exchange ExchangeConfig
	Warn     WarnConfig

	ExplicitInventory bool // record ExplicitInventory rows every tick
	SnapshotInterval  int  // ticks between snapshots (0 = never)
	DumpCount         int  // recorder rows buffered before flushing (0 = recorder default)
	InjectSimID       bool // prepend SimId to every recorded row

	ParentSimID uuid.UUID // non-nil when branched from another simulation
	ParentType  string    // "init" for fresh runs
	BranchTime  int       // tick of the parent simulation this one branched from
}

// DefaultSimInfo returns a SimInfo with every optional field defaulted.
func DefaultSimInfo(duration int) SimInfo {
	return SimInfo{
		Duration:    duration,
		StartYear:   2000,
		StartMonth:  1,
		Dt:          comp.DefaultTimeStep,
		DecayMode:   comp.DecayNever,
		Warn:        WarnConfig{Limit: DefaultWarnLimit},
		InjectSimID: true,
		ParentType:  "init",
		Exchange:    ExchangeConfig{Ordering: exchange.OrderAgentID},
	}
}

// Validate checks ranges and enumerated values.
func (i *SimInfo) Validate() error {
	if i.Duration < 0 {
		return fmt.Errorf("%w: duration must be >= 0, got %d", ErrValidation, i.Duration)
	}
	if i.StartMonth < 1 || i.StartMonth > 12 {
		return fmt.Errorf("%w: start month must be in 1..12, got %d", ErrValidation, i.StartMonth)
	}
	if i.Dt <= 0 {
		return fmt.Errorf("%w: dt must be > 0, got %v", ErrValidation, i.Dt)
	}
	if !comp.ValidDecayModes[i.DecayMode] {
		return fmt.Errorf("%w: unknown decay mode %q", ErrValidation, i.DecayMode)
	}
	if !exchange.ValidGroupOrderings[i.Exchange.Ordering] {
		return fmt.Errorf("%w: unknown exchange ordering %q", ErrValidation, i.Exchange.Ordering)
	}
	if i.Exchange.MILPTimeout < 0 {
		return fmt.Errorf("%w: MILP timeout must be >= 0", ErrValidation)
	}
	if i.Warn.Limit < 0 {
		return fmt.Errorf("%w: warn limit must be >= 0, got %d", ErrValidation, i.Warn.Limit)
	}
	if i.SnapshotInterval < 0 {
		return fmt.Errorf("%w: snapshot interval must be >= 0, got %d", ErrValidation, i.SnapshotInterval)
	}
	if i.DumpCount < 0 {
		return fmt.Errorf("%w: dump count must be >= 0, got %d", ErrValidation, i.DumpCount)
	}
	return nil
}
