package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/exchange"
	"github.com/cycsim/cycsim/sim/ids"
	"github.com/cycsim/cycsim/sim/recorder"
	"github.com/cycsim/cycsim/sim/resource"
)

// Prototype is a named, fully validated archetype configuration.
type Prototype struct {
	Name      string
	Archetype string
	Lifetime  int // -1 for unbounded
	Config    map[string]any

	arch   *Archetype
	values Values
}

// Context is the single handle agents use to reach the simulation: the
// clock, recipes, commodities, scheduling, resource factories and the
// recorder.
type Context struct {
	info     SimInfo
	time     int
	phase    Phase
	ids      *ids.Service
	rec      *recorder.Recorder
	comps    *comp.Store
	tracker  *resource.Tracker
	rng      *PartitionedRNG
	registry *Registry
	metrics  *Metrics

	recipes     map[string]comp.Handle
	commodities map[string]float64
	traderMods  map[exchange.TraderCommodity]float64
	protoMods   map[string]map[string]float64 // prototype -> commodity -> factor
	protos      map[string]*Prototype

	agents map[int]Agent
	builds buildQueue
	decoms map[int][]int // time -> agent ids

	warnCounts map[string]int
	fatal      error
}

func newContext(info SimInfo, idsvc *ids.Service, rec *recorder.Recorder, comps *comp.Store, registry *Registry, metrics *Metrics) *Context {
	c := &Context{
		info:        info,
		phase:       PhaseInit,
		ids:         idsvc,
		rec:         rec,
		comps:       comps,
		rng:         NewPartitionedRNG(NewSimulationKey(info.Seed)),
		registry:    registry,
		metrics:     metrics,
		recipes:     make(map[string]comp.Handle),
		commodities: make(map[string]float64),
		traderMods:  make(map[exchange.TraderCommodity]float64),
		protoMods:   make(map[string]map[string]float64),
		protos:      make(map[string]*Prototype),
		agents:      make(map[int]Agent),
		decoms:      make(map[int][]int),
		warnCounts:  make(map[string]int),
	}
	c.tracker = resource.NewTracker(idsvc, comps, rec, c.Time)
	c.tracker.SetWarnFunc(c.Warn)
	return c
}

// Time returns the current tick.
func (c *Context) Time() int { return c.time }

// Phase returns the phase currently executing.
func (c *Context) Phase() Phase { return c.phase }

// Info returns the simulation control parameters.
func (c *Context) Info() SimInfo { return c.info }

// SimID returns the simulation's UUID.
func (c *Context) SimID() uuid.UUID { return c.ids.SimID() }

// Comps returns the composition store.
func (c *Context) Comps() *comp.Store { return c.comps }

// Tracker returns the resource tracker resources are created against.
func (c *Context) Tracker() *resource.Tracker { return c.tracker }

// Registry returns the archetype registry prototypes resolve against.
func (c *Context) Registry() *Registry { return c.registry }

// NewDatum starts a row for an agent-defined or kernel table.
func (c *Context) NewDatum(table string) *recorder.Datum { return c.rec.NewDatum(table) }

// Record pushes d, turning backend failures into warnings.
func (c *Context) Record(d *recorder.Datum) error {
	err := d.Record()
	if err != nil && errors.Is(err, recorder.ErrBackend) {
		return c.Warn("backend", err.Error())
	}
	return err
}

// RNG returns the deterministic random stream of agent a.
func (c *Context) RNG(a Agent) *rand.Rand {
	return c.rng.ForSubsystem(SubsystemAgent(a.Base().id))
}

// === Recipes and commodities ===

// AddRecipe registers a named composition and records it in the Recipes table.
func (c *Context) AddRecipe(name string, h comp.Handle) error {
	if name == "" {
		return fmt.Errorf("%w: recipe name is empty", ErrValidation)
	}
	if _, err := c.comps.MassOf(h); err != nil {
		return fmt.Errorf("recipe %s: %w", name, err)
	}
	c.recipes[name] = h
	return c.Record(c.rec.NewDatum("Recipes").AddVal("Recipe", name).AddVal("QualId", int(h)))
}

// Recipe looks up a named composition.
func (c *Context) Recipe(name string) (comp.Handle, error) {
	h, ok := c.recipes[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown recipe %q", ErrValidation, name)
	}
	return h, nil
}

// RegisterCommodity declares a commodity with a preference scale applied to
// every request for it.
func (c *Context) RegisterCommodity(name string, scale float64) error {
	if name == "" || scale <= 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		return fmt.Errorf("%w: commodity %q needs a positive finite scale, got %v", ErrValidation, name, scale)
	}
	c.commodities[name] = scale
	return nil
}

// Commodities returns the registered commodity names in sorted order.
func (c *Context) Commodities() []string { return sortedNames(c.commodities) }

// SetTraderModifier multiplies the preferences of agentID's requests for commodity.
func (c *Context) SetTraderModifier(agentID int, commodity string, factor float64) error {
	if factor < 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("%w: modifier for agent %d on %s must be finite and >= 0", ErrValidation, agentID, commodity)
	}
	c.traderMods[exchange.TraderCommodity{AgentID: agentID, Commodity: commodity}] = factor
	return nil
}

// SetPrototypeModifier applies a trader modifier to every agent later built
// from proto.
func (c *Context) SetPrototypeModifier(proto, commodity string, factor float64) error {
	if _, ok := c.protos[proto]; !ok {
		return fmt.Errorf("%w: modifier names unknown prototype %q", ErrValidation, proto)
	}
	if factor < 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("%w: modifier for %s on %s must be finite and >= 0", ErrValidation, proto, commodity)
	}
	if c.protoMods[proto] == nil {
		c.protoMods[proto] = make(map[string]float64)
	}
	c.protoMods[proto][commodity] = factor
	return nil
}

// === Prototypes ===

// AddPrototype validates config against the archetype's state variables and
// registers the result under name.
func (c *Context) AddPrototype(name, archetype string, lifetime int, config map[string]any) error {
	if name == "" {
		return fmt.Errorf("%w: prototype name is empty", ErrValidation)
	}
	if _, dup := c.protos[name]; dup {
		return fmt.Errorf("%w: prototype %s defined twice", ErrValidation, name)
	}
	if lifetime < -1 {
		return fmt.Errorf("%w: prototype %s lifetime must be >= -1, got %d", ErrValidation, name, lifetime)
	}
	arch, err := c.registry.Lookup(archetype)
	if err != nil {
		return fmt.Errorf("prototype %s: %w", name, err)
	}
	values, err := ValidateConfig(arch.Vars, config)
	if err != nil {
		return fmt.Errorf("prototype %s: %w", name, err)
	}
	c.protos[name] = &Prototype{
		Name:      name,
		Archetype: archetype,
		Lifetime:  lifetime,
		Config:    config,
		arch:      arch,
		values:    values,
	}
	return nil
}

// Prototype returns a registered prototype.
func (c *Context) Prototype(name string) (*Prototype, bool) {
	p, ok := c.protos[name]
	return p, ok
}

// === Scheduling ===

// ScheduleBuild queues a build of proto under parent at tick t. A build for
// the current tick requested after the Build phase lands at t+1; a build in
// the past is a StateError.
func (c *Context) ScheduleBuild(parent Agent, proto string, t int) error {
	return c.scheduleBuild(parent, BuildSpec{Prototype: proto}, t)
}

func (c *Context) scheduleBuild(parent Agent, spec BuildSpec, t int) error {
	if _, ok := c.protos[spec.Prototype]; !ok {
		return fmt.Errorf("%w: unknown prototype %q", ErrValidation, spec.Prototype)
	}
	t, err := c.resolveTime("build", t, PhaseBuild)
	if err != nil {
		return err
	}
	c.builds.schedule(buildOrder{time: t, parent: parent, spec: spec})
	return nil
}

// ScheduleDecommission retires a at tick t. Children go first.
func (c *Context) ScheduleDecommission(a Agent, t int) error {
	b := a.Base()
	if !b.live {
		return fmt.Errorf("%w: agent %d is not live", ErrState, b.id)
	}
	t, err := c.resolveTime("decommission", t, PhaseDecommission)
	if err != nil {
		return err
	}
	c.decoms[t] = append(c.decoms[t], b.id)
	return nil
}

// resolveTime maps a requested tick onto the tick the request is served in.
func (c *Context) resolveTime(what string, t int, served Phase) (int, error) {
	if t < c.time {
		return 0, fmt.Errorf("%w: cannot schedule %s at t=%d from t=%d", ErrState, what, t, c.time)
	}
	if t == c.time && c.phase > served {
		return t + 1, nil
	}
	return t, nil
}

// === Agents ===

// Agent returns the live agent with the given id.
func (c *Context) Agent(id int) (Agent, bool) {
	a, ok := c.agents[id]
	return a, ok
}

// Agents returns every live agent in ascending id.
func (c *Context) Agents() []Agent {
	ids := make([]int, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Agent, len(ids))
	for i, id := range ids {
		out[i] = c.agents[id]
	}
	return out
}

// === Resources ===

// NewMaterial creates a tracked material owned by creator.
func (c *Context) NewMaterial(creator Agent, qty float64, h comp.Handle) (*resource.Material, error) {
	return resource.NewMaterial(c.tracker, creator.Base().id, qty, h)
}

// NewMaterialUntracked creates a material that is never recorded.
func (c *Context) NewMaterialUntracked(qty float64, h comp.Handle) (*resource.Material, error) {
	return resource.NewMaterialUntracked(c.tracker, qty, h)
}

// NewProduct creates a tracked product owned by creator.
func (c *Context) NewProduct(creator Agent, qty float64, quality string) (*resource.Product, error) {
	return resource.NewProduct(c.tracker, creator.Base().id, qty, quality)
}

// NewProductUntracked creates a product that is never recorded.
func (c *Context) NewProductUntracked(qty float64, quality string) (*resource.Product, error) {
	return resource.NewProductUntracked(c.tracker, qty, quality)
}

// === Warnings ===

// Warn counts a warning of the given kind. The first Limit warnings of a kind
// are logged; later ones are counted silently unless AsError is set, in which
// case the first one past the limit becomes a fatal error. The error is
// returned and also latched so the phase machine aborts even when the caller
// drops it.
func (c *Context) Warn(kind, msg string) error {
	c.warnCounts[kind]++
	n := c.warnCounts[kind]
	c.metrics.recordWarning(kind)
	limit := c.info.Warn.Limit
	switch {
	case n <= limit:
		logrus.Warnf("[tick %07d] %s warning: %s", c.time, kind, msg)
		return nil
	case c.info.Warn.AsError:
		err := &Error{
			Kind:    KindWarning,
			Message: fmt.Sprintf("%s warning limit (%d) exceeded: %s", kind, limit, msg),
			Time:    c.time,
			Phase:   c.phase,
		}
		if c.fatal == nil {
			c.fatal = err
		}
		return err
	case n == limit+1:
		logrus.Warnf("[tick %07d] %s warning limit (%d) reached; further warnings are counted silently", c.time, kind, limit)
	}
	return nil
}

// WarnCount returns how many warnings of kind have been raised.
func (c *Context) WarnCount(kind string) int { return c.warnCounts[kind] }
