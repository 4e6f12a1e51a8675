// sim/simulator.go
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/exchange"
	"github.com/cycsim/cycsim/sim/ids"
	"github.com/cycsim/cycsim/sim/recorder"
	"github.com/cycsim/cycsim/sim/resource"
	"github.com/cycsim/cycsim/sim/trace"
)

// options collects the optional collaborators of a Simulator.
type options struct {
	backends []recorder.Backend
	nucData  comp.NuclideData
	decayer  comp.Decayer
	trace    *trace.ExchangeTrace
	registry *Registry
	metrics  *Metrics
	solver   exchange.Solver
	ids      *ids.Service
}

// Option configures a Simulator.
type Option func(*options)

// WithBackends registers recorder sinks, in dispatch order.
func WithBackends(b ...recorder.Backend) Option {
	return func(o *options) { o.backends = append(o.backends, b...) }
}

// WithNuclideData supplies atomic masses for atom-basis compositions.
func WithNuclideData(d comp.NuclideData) Option { return func(o *options) { o.nucData = d } }

// WithDecayer supplies the decay transform used by manual and lazy decay.
func WithDecayer(d comp.Decayer) Option { return func(o *options) { o.decayer = d } }

// WithTrace records every exchange solve (and trade, at trade level).
func WithTrace(t *trace.ExchangeTrace) Option { return func(o *options) { o.trace = t } }

// WithRegistry resolves archetypes against r instead of DefaultRegistry.
func WithRegistry(r *Registry) Option { return func(o *options) { o.registry = r } }

// WithMetrics reports into m instead of a fresh Metrics.
func WithMetrics(m *Metrics) Option { return func(o *options) { o.metrics = m } }

// WithSolver overrides the solver selected by SimInfo.Exchange.
func WithSolver(s exchange.Solver) Option { return func(o *options) { o.solver = s } }

// WithIDs supplies the identifier service, fixing the simulation UUID.
func WithIDs(s *ids.Service) Option { return func(o *options) { o.ids = s } }

// Simulator owns one simulation: its context, recorder, exchanges and the
// per-tick phase machine.
type Simulator struct {
	ctx     *Context
	rec     *recorder.Recorder
	metrics *Metrics
	matl    *exchange.Exchange[*resource.Material]
	prod    *exchange.Exchange[*resource.Product]
	ran     bool
	ticks   int
}

// NewSimulator validates info and wires a fresh simulation.
func NewSimulator(info SimInfo, opts ...Option) (*Simulator, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = DefaultRegistry
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}
	if o.ids == nil {
		o.ids = ids.New()
	}
	rec := recorder.New(o.ids.SimID(), recorder.Config{InjectSimID: info.InjectSimID, DumpCount: info.DumpCount})
	for _, b := range o.backends {
		rec.RegisterBackend(b)
	}
	storeOpts := []comp.Option{comp.WithTimeStep(info.Dt)}
	if o.nucData != nil {
		storeOpts = append(storeOpts, comp.WithNuclideData(o.nucData))
	}
	if o.decayer != nil {
		storeOpts = append(storeOpts, comp.WithDecayer(o.decayer))
	}
	comps := comp.NewStore(info.DecayMode, storeOpts...)

	ctx := newContext(info, o.ids, rec, comps, o.registry, o.metrics)
	solver := o.solver
	if solver == nil && info.Exchange.AllowMILP {
		solver = &exchange.MILPSolver{Timeout: info.Exchange.MILPTimeout}
	}
	base := exchange.Config{Solver: solver, Ordering: info.Exchange.Ordering, Trace: o.trace}
	matlCfg, prodCfg := base, base
	matlCfg.Kind, prodCfg.Kind = "material", "product"

	return &Simulator{
		ctx:     ctx,
		rec:     rec,
		metrics: o.metrics,
		matl: exchange.New(matlCfg,
			exchange.CommodityScale[*resource.Material](ctx.commodities),
			exchange.TraderModifiers[*resource.Material](ctx.traderMods)),
		prod: exchange.New(prodCfg,
			exchange.CommodityScale[*resource.Product](ctx.commodities),
			exchange.TraderModifiers[*resource.Product](ctx.traderMods)),
	}, nil
}

// Context returns the simulation context, for registering recipes,
// commodities and prototypes before Run.
func (s *Simulator) Context() *Context { return s.ctx }

// Recorder returns the simulation's recorder.
func (s *Simulator) Recorder() *recorder.Recorder { return s.rec }

// Metrics returns the simulation's metrics.
func (s *Simulator) Metrics() *Metrics { return s.metrics }

// AddRegion schedules a region, with its institutions and their initial
// facilities, for the first Build phase.
func (s *Simulator) AddRegion(spec BuildSpec) error {
	if s.ran {
		return fmt.Errorf("%w: regions must be added before Run", ErrState)
	}
	return s.ctx.scheduleBuild(nil, spec, 0)
}

// Run executes every tick, then records the Finish row and closes the
// recorder. A cancelled ctx stops the run between ticks. The returned error,
// if any, is a *Error.
func (s *Simulator) Run(ctx context.Context) error {
	if s.ran {
		return fmt.Errorf("%w: simulation already ran", ErrState)
	}
	s.ran = true
	c := s.ctx
	start := time.Now()

	err := s.recordInfo()
	if err == nil {
		logrus.Infof("[tick %07d] Simulation %s started: %d ticks", 0, c.SimID(), c.info.Duration)
		err = s.loop(ctx)
	}
	err = s.asError(err)
	c.phase = PhaseDone

	if ferr := s.recordFinish(err); ferr != nil && err == nil {
		err = s.asError(ferr)
	}
	if cerr := s.rec.Close(); cerr != nil {
		if werr := c.Warn("backend", cerr.Error()); werr != nil && err == nil {
			err = werr
		}
	}
	if err != nil {
		logrus.Errorf("[tick %07d] Simulation failed: %v", c.time, err)
		return err
	}
	logrus.Infof("[tick %07d] Simulation ended after %d ticks in %v", c.time, s.ticks, time.Since(start))
	return nil
}

func (s *Simulator) loop(ctx context.Context) error {
	c := s.ctx
	if c.info.Duration == 0 {
		if err := s.buildPhase(); err != nil {
			return err
		}
		return s.decommissionPhase()
	}
	for c.time = 0; c.time < c.info.Duration; c.time++ {
		if ctx.Err() != nil {
			return &Error{Kind: KindCancelled, Time: c.time, Phase: c.phase, Err: errors.Join(errCancelled, ctx.Err())}
		}
		if err := s.step(ctx); err != nil {
			return err
		}
		s.ticks++
		s.metrics.recordTick()
	}
	c.time = c.info.Duration
	return nil
}

// step runs the phases of one tick in order.
func (s *Simulator) step(ctx context.Context) error {
	logrus.Infof("[tick %07d] %d agents live", s.ctx.time, len(s.ctx.agents))
	phases := []func() error{
		s.buildPhase,
		func() error { return s.eachAgent(PhaseTick, tickHook) },
		func() error { return s.exchangePhase(ctx) },
		s.tockPhase,
		s.decommissionPhase,
		s.snapshotPhase,
	}
	for _, run := range phases {
		if err := run(); err != nil {
			return err
		}
		if s.ctx.fatal != nil {
			return s.ctx.fatal
		}
	}
	return nil
}

// asError gives err a structured kind, time and phase.
func (s *Simulator) asError(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	var te *exchange.TraderError
	if errors.As(err, &te) {
		return &Error{Kind: KindAgentFault, AgentID: te.AgentID, Time: s.ctx.time, Phase: s.ctx.phase, Err: err}
	}
	return &Error{Kind: KindOf(err), Time: s.ctx.time, Phase: s.ctx.phase, Err: err}
}

// === Build ===

func (s *Simulator) buildPhase() error {
	c := s.ctx
	c.phase = PhaseBuild
	for {
		order, ok := c.builds.popDue(c.time)
		if !ok {
			return nil
		}
		for i := 0; i < order.spec.count(); i++ {
			if err := s.build(order); err != nil {
				return err
			}
		}
	}
}

func (s *Simulator) build(order buildOrder) error {
	c := s.ctx
	proto := c.protos[order.spec.Prototype]
	if order.parent != nil && !order.parent.Base().live {
		return c.Warn("build", fmt.Sprintf("skipping build of %s: parent %d has exited", proto.Name, order.parent.Base().id))
	}

	a := proto.arch.New()
	b := a.Base()
	if want, ok := parentKind[proto.arch.Kind]; ok {
		if order.parent == nil || order.parent.Base().kind != want {
			return &Error{Kind: KindValidation, Time: c.time, Phase: c.phase,
				Message: fmt.Sprintf("%s %s must be built under a %s", proto.arch.Kind, proto.Name, want)}
		}
	} else if order.parent != nil {
		return &Error{Kind: KindValidation, Time: c.time, Phase: c.phase,
			Message: fmt.Sprintf("region %s cannot have a parent", proto.Name)}
	}

	*b = AgentBase{
		ctx:       c,
		id:        c.ids.NextAgentID(),
		kind:      proto.arch.Kind,
		spec:      proto.arch.Spec,
		prototype: proto.Name,
		parent:    order.parent,
		enterTime: c.time,
		lifetime:  proto.Lifetime,
		exitTime:  Forever,
		live:      true,
	}
	if proto.Lifetime >= 0 {
		b.exitTime = c.time + proto.Lifetime
	}
	if order.parent != nil {
		b.exitTime = min(b.exitTime, order.parent.Base().exitTime)
	}
	if cfg, ok := a.(Configurable); ok {
		if err := callAgent(b.id, c.time, c.phase, func() error { return cfg.Configure(copyValues(proto.values)) }); err != nil {
			return err
		}
	}

	c.agents[b.id] = a
	if order.parent != nil {
		p := order.parent.Base()
		p.children = append(p.children, a)
	}
	for commodity, f := range c.protoMods[proto.Name] {
		c.traderMods[exchange.TraderCommodity{AgentID: b.id, Commodity: commodity}] = f
	}
	if err := c.Record(c.rec.NewDatum("AgentEntry").
		AddVal("AgentId", b.id).
		AddVal("Kind", string(b.kind)).
		AddVal("Spec", b.spec).
		AddVal("Prototype", b.prototype).
		AddVal("ParentId", b.ParentID()).
		AddVal("Lifetime", b.lifetime).
		AddVal("EnterTime", b.enterTime)); err != nil {
		return err
	}
	s.metrics.agentEntered()
	logrus.Debugf("[tick %07d] built %s %d (%s) under %d", c.time, b.kind, b.id, b.prototype, b.ParentID())

	if b.exitTime != Forever {
		at := max(b.enterTime, b.exitTime-1)
		c.decoms[at] = append(c.decoms[at], b.id)
	}
	if n, ok := a.(EnterNotifier); ok {
		if err := callAgent(b.id, c.time, c.phase, n.EnterNotify); err != nil {
			return err
		}
	}
	for _, child := range order.spec.Children {
		if err := c.scheduleBuild(a, child, c.time); err != nil {
			return err
		}
	}
	return nil
}

func copyValues(v Values) Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// === Tick / Tock ===

func tickHook(a Agent) (func() error, bool) {
	t, ok := a.(Ticker)
	if !ok {
		return nil, false
	}
	return t.Tick, true
}

func tockHook(a Agent) (func() error, bool) {
	t, ok := a.(Tocker)
	if !ok {
		return nil, false
	}
	return t.Tock, true
}

// eachAgent calls hook on every agent live at the start of the phase, in
// ascending id.
func (s *Simulator) eachAgent(phase Phase, hook func(Agent) (func() error, bool)) error {
	c := s.ctx
	c.phase = phase
	for _, a := range c.Agents() {
		fn, ok := hook(a)
		if !ok || !a.Base().live {
			continue
		}
		if err := callAgent(a.Base().id, c.time, phase, fn); err != nil {
			return err
		}
		if c.fatal != nil {
			return c.fatal
		}
	}
	return nil
}

func (s *Simulator) tockPhase() error {
	if err := s.eachAgent(PhaseTock, tockHook); err != nil {
		return err
	}
	if s.ctx.info.ExplicitInventory {
		return s.recordInventories()
	}
	return nil
}

// === Exchange ===

func (s *Simulator) exchangePhase(ctx context.Context) error {
	c := s.ctx
	c.phase = PhaseExchange
	env := exchange.Env{
		Time:     c.time,
		IDs:      c.ids,
		Recorder: c.rec,
		Warn:     c.Warn,
	}
	agents := c.Agents()
	if err := runExchange(ctx, s, "material", s.matl, env, tradersOf(agents, &materialHooks)); err != nil {
		return err
	}
	return runExchange(ctx, s, "product", s.prod, env, tradersOf(agents, &productHooks))
}

func runExchange[R resource.Resource](ctx context.Context, s *Simulator, kind string, ex *exchange.Exchange[R], env exchange.Env, traders []exchange.Trader[R]) error {
	if len(traders) == 0 {
		return nil
	}
	start := time.Now()
	res, err := ex.Run(ctx, env, traders)
	if err != nil {
		return s.asError(err)
	}
	s.metrics.recordExchange(kind, time.Since(start), res.Fallback)
	if res.Fallback {
		if err := s.ctx.Warn("solver", fmt.Sprintf("%s exchange fell back to greedy: %s", kind, res.FallbackReason)); err != nil {
			return err
		}
	}
	for _, d := range res.Delivered {
		s.metrics.recordTrade(kind, d.Trade.Request.Commodity, d.Resource.Quantity())
	}
	return nil
}

// === Decommission ===

func (s *Simulator) decommissionPhase() error {
	c := s.ctx
	c.phase = PhaseDecommission
	due := c.decoms[c.time]
	delete(c.decoms, c.time)
	sort.Ints(due)
	for _, id := range due {
		a, ok := c.agents[id]
		if !ok {
			continue
		}
		if err := s.decommission(a); err != nil {
			return err
		}
	}
	return nil
}

// decommission retires a after its children, in post-order.
func (s *Simulator) decommission(a Agent) error {
	c := s.ctx
	b := a.Base()
	for _, child := range b.Children() {
		if err := s.decommission(child); err != nil {
			return err
		}
	}
	if d, ok := a.(Decommissioner); ok {
		if err := callAgent(b.id, c.time, c.phase, d.Decommission); err != nil {
			return err
		}
	}
	if b.parent != nil {
		b.parent.Base().removeChild(b.id)
	}
	delete(c.agents, b.id)
	b.live = false
	b.exitTime = min(c.time+1, b.exitTime)
	s.metrics.agentExited()
	logrus.Debugf("[tick %07d] decommissioned %s %d (%s)", c.time, b.kind, b.id, b.prototype)
	return c.Record(c.rec.NewDatum("AgentExit").AddVal("AgentId", b.id).AddVal("ExitTime", b.exitTime))
}

// === Snapshot ===

func (s *Simulator) snapshotPhase() error {
	c := s.ctx
	c.phase = PhaseSnapshot
	interval := c.info.SnapshotInterval
	if interval <= 0 || (c.time+1)%interval != 0 {
		return nil
	}
	if err := c.Record(c.rec.NewDatum("Snapshots").AddVal("Time", c.time)); err != nil {
		return err
	}
	for _, a := range c.Agents() {
		snap, ok := a.(Snapshotter)
		if !ok {
			continue
		}
		var vals Values
		if err := callAgent(a.Base().id, c.time, c.phase, func() error { vals = snap.Snapshot(); return nil }); err != nil {
			return err
		}
		for _, name := range sortedNames(vals) {
			text, err := yaml.Marshal(vals[name])
			if err != nil {
				return s.asError(fmt.Errorf("%w: agent %d variable %s: %v", ErrValidation, a.Base().id, name, err))
			}
			if err := c.Record(c.rec.NewDatum("AgentStateVars").
				AddVal("AgentId", a.Base().id).
				AddVal("Time", c.time).
				AddVal("Variable", name).
				AddVal("Value", string(text))); err != nil {
				return err
			}
		}
	}
	if err := s.rec.Flush(); err != nil {
		return c.Warn("backend", err.Error())
	}
	return nil
}

// === Tables ===

func (s *Simulator) recordInventories() error {
	c := s.ctx
	for _, a := range c.Agents() {
		rep, ok := a.(InventoryReporter)
		if !ok {
			continue
		}
		invs := rep.Inventories()
		for _, name := range sortedNames(invs) {
			totals := make(map[comp.Nuc]float64)
			for _, m := range invs[name] {
				fracs, err := c.comps.MassOf(m.Comp())
				if err != nil {
					return s.asError(err)
				}
				for nuc, f := range fracs {
					totals[nuc] += f * m.Quantity()
				}
			}
			nucs := make([]int, 0, len(totals))
			for nuc := range totals {
				nucs = append(nucs, nuc)
			}
			sort.Ints(nucs)
			for _, nuc := range nucs {
				if err := c.Record(c.rec.NewDatum("ExplicitInventory").
					AddVal("AgentId", a.Base().id).
					AddVal("Time", c.time).
					AddVal("InventoryName", name).
					AddVal("NucId", nuc).
					AddVal("Quantity", totals[nuc])); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Simulator) recordInfo() error {
	i := s.ctx.info
	return s.ctx.Record(s.rec.NewDatum("Info").
		AddVal("Handle", i.Handle).
		AddVal("Duration", i.Duration).
		AddVal("StartYear", i.StartYear).
		AddVal("StartMonth", i.StartMonth).
		AddVal("ParentSimId", i.ParentSimID).
		AddVal("ParentType", i.ParentType).
		AddVal("BranchTime", i.BranchTime).
		AddVal("DecayMode", string(i.DecayMode)).
		AddVal("Dt", i.Dt).
		AddVal("Seed", int(i.Seed)))
}

func (s *Simulator) recordFinish(runErr error) error {
	d := s.rec.NewDatum("Finish").
		AddVal("RunTime", s.ticks).
		AddVal("Success", runErr == nil)
	kind, msg := "", ""
	if runErr != nil {
		kind, msg = string(KindOf(runErr)), runErr.Error()
	}
	return s.ctx.Record(d.AddVal("ErrorKind", kind).AddVal("Message", msg))
}
