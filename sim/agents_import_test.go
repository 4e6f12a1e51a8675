package sim_test

// Blank import triggers sim/agents' init(), which registers the reference
// archetypes in sim.DefaultRegistry. This allows package sim's internal test
// files to build them without importing sim/agents (an import cycle).
import _ "github.com/cycsim/cycsim/sim/agents"
