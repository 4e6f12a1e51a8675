// Package input loads simulation input files. An input file is YAML (JSON
// is accepted as the YAML subset it is) describing the simulation control
// block, commodities, recipes, prototypes, preference modifiers and the
// initial region/institution/facility hierarchy.
package input

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cycsim/cycsim/sim"
	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/exchange"
)

// Scenario is the top-level input document.
// Loaded from YAML via Load(path).
type Scenario struct {
	Simulation  SimulationSpec  `yaml:"simulation"`
	Commodities []CommoditySpec `yaml:"commodities,omitempty"`
	Recipes     []RecipeSpec    `yaml:"recipes,omitempty"`
	Prototypes  []PrototypeSpec `yaml:"prototypes"`
	Modifiers   []ModifierSpec  `yaml:"modifiers,omitempty"`
	Regions     []RegionSpec    `yaml:"regions"`
}

// SimulationSpec is the control block. Zero values mean "use the default".
type SimulationSpec struct {
	Handle            string       `yaml:"handle,omitempty"`
	Duration          int          `yaml:"duration"`
	StartYear         int          `yaml:"start_year,omitempty"`
	StartMonth        int          `yaml:"start_month,omitempty"`
	Dt                float64      `yaml:"dt,omitempty"` // seconds per time step
	Decay             string       `yaml:"decay,omitempty"`
	Seed              int64        `yaml:"seed,omitempty"`
	ExplicitInventory bool         `yaml:"explicit_inventory,omitempty"`
	SnapshotInterval  int          `yaml:"snapshot_interval,omitempty"`
	DumpCount         int          `yaml:"dump_count,omitempty"`
	Exchange          ExchangeSpec `yaml:"exchange,omitempty"`
	Warn              WarnSpec     `yaml:"warn,omitempty"`
}

// ExchangeSpec selects the solver and its limits.
type ExchangeSpec struct {
	Solver      string        `yaml:"solver,omitempty"`   // greedy (default) or milp
	Ordering    string        `yaml:"ordering,omitempty"` // agent_id (default) or avg-pref
	MILPTimeout time.Duration `yaml:"milp_timeout,omitempty"`
}

// WarnSpec is the warning policy. A nil Limit keeps sim.DefaultWarnLimit.
type WarnSpec struct {
	Limit   *int `yaml:"limit,omitempty"`
	AsError bool `yaml:"as_error,omitempty"`
}

// CommoditySpec registers a commodity and its solution priority.
type CommoditySpec struct {
	Name     string  `yaml:"name"`
	Priority float64 `yaml:"solution_priority,omitempty"` // 0 means 1
}

// RecipeSpec is a named composition.
type RecipeSpec struct {
	Name     string        `yaml:"name"`
	Basis    string        `yaml:"basis"` // mass or atom
	Nuclides []NuclideSpec `yaml:"nuclides"`
}

// NuclideSpec is one recipe entry. ID is a name ("U235") or a numeric id.
type NuclideSpec struct {
	ID   any     `yaml:"id"`
	Comp float64 `yaml:"comp"`
}

// PrototypeSpec configures an archetype under a prototype name.
type PrototypeSpec struct {
	Name      string         `yaml:"name"`
	Archetype string         `yaml:"archetype"`
	Lifetime  *int           `yaml:"lifetime,omitempty"` // nil means forever
	Config    map[string]any `yaml:"config,omitempty"`
}

// ModifierSpec scales the preferences of every agent built from Prototype
// for requests on Commodity.
type ModifierSpec struct {
	Prototype string  `yaml:"prototype"`
	Commodity string  `yaml:"commodity"`
	Factor    float64 `yaml:"factor"`
}

// RegionSpec is one top-level agent and its institutions.
type RegionSpec struct {
	Prototype    string            `yaml:"prototype"`
	Institutions []InstitutionSpec `yaml:"institutions,omitempty"`
}

// InstitutionSpec is an institution and the facilities it starts with.
type InstitutionSpec struct {
	Prototype         string         `yaml:"prototype"`
	InitialFacilities []FacilitySpec `yaml:"initial_facilities,omitempty"`
}

// FacilitySpec builds Number copies (default 1) of a facility prototype.
type FacilitySpec struct {
	Prototype string `yaml:"prototype"`
	Number    int    `yaml:"number,omitempty"`
}

// Valid value registries.
var (
	validBases  = map[string]bool{"": true, "mass": true, "atom": true}
	validSolver = map[string]bool{"": true, sim.SolverGreedy: true, sim.SolverMILP: true}
)

// Load reads and parses an input file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading input file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses an input document from r.
func Read(r io.Reader) (*Scenario, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: input is empty", sim.ErrValidation)
		}
		return nil, fmt.Errorf("%w: parsing input: %v", sim.ErrValidation, err)
	}
	return &s, nil
}

// Validate checks the document shape. Archetype configuration is checked
// against the archetype's state variables when the simulator is built.
func (s *Scenario) Validate() error {
	if s.Simulation.Duration < 0 {
		return invalid("simulation.duration must be >= 0, got %d", s.Simulation.Duration)
	}
	if !validSolver[s.Simulation.Exchange.Solver] {
		return invalid("simulation.exchange.solver: unknown solver %q; valid: greedy, milp", s.Simulation.Exchange.Solver)
	}
	if s.Simulation.Warn.Limit != nil && *s.Simulation.Warn.Limit < 0 {
		return invalid("simulation.warn.limit must be >= 0, got %d", *s.Simulation.Warn.Limit)
	}
	seen := make(map[string]bool)
	for i, c := range s.Commodities {
		if c.Name == "" {
			return invalid("commodities[%d]: name is required", i)
		}
		if seen[c.Name] {
			return invalid("commodities[%d]: duplicate commodity %q", i, c.Name)
		}
		seen[c.Name] = true
		if c.Priority < 0 || math.IsNaN(c.Priority) || math.IsInf(c.Priority, 0) {
			return invalid("commodities[%d]: solution_priority must be finite and >= 0, got %v", i, c.Priority)
		}
	}
	seen = make(map[string]bool)
	for i, r := range s.Recipes {
		if r.Name == "" {
			return invalid("recipes[%d]: name is required", i)
		}
		if seen[r.Name] {
			return invalid("recipes[%d]: duplicate recipe %q", i, r.Name)
		}
		seen[r.Name] = true
		if !validBases[r.Basis] {
			return invalid("recipes[%d]: unknown basis %q; valid: mass, atom", i, r.Basis)
		}
		if len(r.Nuclides) == 0 {
			return invalid("recipe %s: no nuclides", r.Name)
		}
	}
	protos := make(map[string]bool)
	for i, p := range s.Prototypes {
		if p.Name == "" || p.Archetype == "" {
			return invalid("prototypes[%d]: name and archetype are required", i)
		}
		if protos[p.Name] {
			return invalid("prototypes[%d]: duplicate prototype %q", i, p.Name)
		}
		protos[p.Name] = true
	}
	known := func(where, name string) error {
		if !protos[name] {
			return invalid("%s: unknown prototype %q", where, name)
		}
		return nil
	}
	for i, m := range s.Modifiers {
		if err := known(fmt.Sprintf("modifiers[%d]", i), m.Prototype); err != nil {
			return err
		}
	}
	if len(s.Regions) == 0 {
		return invalid("at least one region is required")
	}
	for i, r := range s.Regions {
		where := fmt.Sprintf("regions[%d]", i)
		if err := known(where, r.Prototype); err != nil {
			return err
		}
		for j, inst := range r.Institutions {
			where := fmt.Sprintf("%s.institutions[%d]", where, j)
			if err := known(where, inst.Prototype); err != nil {
				return err
			}
			for k, f := range inst.InitialFacilities {
				where := fmt.Sprintf("%s.initial_facilities[%d]", where, k)
				if err := known(where, f.Prototype); err != nil {
					return err
				}
				if f.Number < 0 {
					return invalid("%s: number must be >= 0, got %d", where, f.Number)
				}
			}
		}
	}
	return nil
}

// Info converts the control block to a sim.SimInfo.
func (s *Scenario) Info() sim.SimInfo {
	spec := s.Simulation
	info := sim.DefaultSimInfo(spec.Duration)
	info.Handle = spec.Handle
	info.Seed = spec.Seed
	if spec.StartYear != 0 {
		info.StartYear = spec.StartYear
	}
	if spec.StartMonth != 0 {
		info.StartMonth = spec.StartMonth
	}
	if spec.Dt != 0 {
		info.Dt = spec.Dt
	}
	if spec.Decay != "" {
		info.DecayMode = comp.DecayMode(spec.Decay)
	}
	info.ExplicitInventory = spec.ExplicitInventory
	info.SnapshotInterval = spec.SnapshotInterval
	info.DumpCount = spec.DumpCount
	info.Exchange.AllowMILP = spec.Exchange.Solver == sim.SolverMILP
	info.Exchange.MILPTimeout = spec.Exchange.MILPTimeout
	if spec.Exchange.Ordering != "" {
		info.Exchange.Ordering = exchange.GroupOrdering(spec.Exchange.Ordering)
	}
	if spec.Warn.Limit != nil {
		info.Warn.Limit = *spec.Warn.Limit
	}
	info.Warn.AsError = spec.Warn.AsError
	return info
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", sim.ErrValidation, fmt.Sprintf(format, args...))
}
