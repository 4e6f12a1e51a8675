// Package sim provides the discrete-event, agent-based simulation kernel for
// staged-commodity flow networks.
//
// # Reading Guide
//
// Start with these three files to understand the kernel:
//   - agent.go: the Agent interface, AgentBase and the optional callbacks
//   - context.go: the Context agents use to schedule, trade and record
//   - simulator.go: the per-tick phase machine (Build, Tick, Exchange, Tock,
//     Decommission, Snapshot)
//
// # Architecture
//
// The sim package wires the phase machine to leaf sub-packages that hold no
// reference back to it:
//   - sim/ids/: agent, object, state and transaction id allocation
//   - sim/recorder/: typed row journal with pluggable backends (sqlbackend/ for SQL)
//   - sim/comp/: interned compositions and decay
//   - sim/resource/: Material and Product with conservation checks
//   - sim/exchange/: the dynamic resource exchange (graph, preferences, solvers, executor)
//   - sim/trace/: exchange decision traces
//   - sim/toolkit/: resource inventories used by archetypes
//   - sim/agents/: reference archetypes
//   - sim/input/: YAML input files
//
// Archetypes register themselves with RegisterArchetype from init() functions,
// keyed by a "path:lib:name" spec string. Each declares typed state variables
// (StateVar) that are validated against prototype configuration before any
// agent is built.
//
// # Determinism
//
// Within a phase agents are visited in ascending agent id. Exchange ties break
// on bidder id, then arc insertion order. Per-agent random streams are derived
// from SimInfo.Seed and the agent id, so identical inputs give identical
// tables.
package sim
