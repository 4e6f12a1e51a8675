package sim

// Phase is a step of the per-tick phase machine.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseBuild
	PhaseTick
	PhaseExchange
	PhaseTock
	PhaseDecommission
	PhaseSnapshot
	PhaseDone
)

var phaseNames = map[Phase]string{
	PhaseInit:         "init",
	PhaseBuild:        "build",
	PhaseTick:         "tick",
	PhaseExchange:     "exchange",
	PhaseTock:         "tock",
	PhaseDecommission: "decommission",
	PhaseSnapshot:     "snapshot",
	PhaseDone:         "done",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}
