package sim

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/exchange"
	"github.com/cycsim/cycsim/sim/recorder"
	"github.com/cycsim/cycsim/sim/resource"
)

// callLog collects "id:callback@time" entries from scripted agents.
type callLog struct {
	entries []string
}

func (l *callLog) add(id int, what string, t int) {
	l.entries = append(l.entries, fmt.Sprintf("%d:%s@%d", id, what, t))
}

// scripted logs every lifecycle callback and can be told to fail or panic in one.
type scripted struct {
	AgentBase
	log     *callLog
	failOn  string
	panicOn string
}

func (p *scripted) Configure(v Values) error {
	p.failOn, p.panicOn = v.String("fail_on"), v.String("panic_on")
	return nil
}

func (p *scripted) hit(what string) error {
	p.log.add(p.ID(), what, p.Context().Time())
	if p.panicOn == what {
		panic(what + " exploded")
	}
	if p.failOn == what {
		return errors.New(what + " failed")
	}
	return nil
}

func (p *scripted) EnterNotify() error  { return p.hit("enter") }
func (p *scripted) Tick() error         { return p.hit("tick") }
func (p *scripted) Tock() error         { return p.hit("tock") }
func (p *scripted) Decommission() error { return p.hit("decom") }

var scriptedVars = []StateVar{
	{Name: "fail_on", Type: "string", Default: ""},
	{Name: "panic_on", Type: "string", Default: ""},
}

// testSource bids up to capacity of a fixed recipe on every request for its commodity.
type testSource struct {
	scripted
	commodity string
	capacity  float64
	recipe    string
}

func (s *testSource) Configure(v Values) error {
	s.commodity, s.capacity, s.recipe = v.String("commodity"), v.Float("capacity"), v.String("recipe")
	return nil
}

func (s *testSource) GetMatlBids(commods MatlCommodMap) ([]*MatlBidPortfolio, error) {
	reqs := commods[s.commodity]
	if len(reqs) == 0 {
		return nil, nil
	}
	ctx := s.Context()
	h, err := ctx.Recipe(s.recipe)
	if err != nil {
		return nil, err
	}
	port := exchange.NewBidPortfolio[*resource.Material]()
	for _, req := range reqs {
		offer, err := ctx.NewMaterialUntracked(min(s.capacity, req.Qty()), h)
		if err != nil {
			return nil, err
		}
		port.AddBid(req, offer, s.commodity, false)
	}
	port.AddConstraint(exchange.CapacityConstraint[*resource.Material]{Capacity: s.capacity})
	return []*MatlBidPortfolio{port}, nil
}

func (s *testSource) GetMatlTrades(trades []MatlTrade) ([]MatlResponse, error) {
	h, err := s.Context().Recipe(s.recipe)
	if err != nil {
		return nil, err
	}
	var out []MatlResponse
	for _, tr := range trades {
		m, err := s.Context().NewMaterial(s, tr.Amount, h)
		if err != nil {
			return nil, err
		}
		out = append(out, MatlResponse{Trade: tr, Resource: m})
	}
	return out, nil
}

// testSink requests a fixed amount of one commodity every tick.
type testSink struct {
	scripted
	commodity string
	amount    float64
	pref      float64
	received  []*resource.Material
}

func (s *testSink) Configure(v Values) error {
	s.commodity, s.amount, s.pref = v.String("commodity"), v.Float("amount"), v.Float("pref")
	return nil
}

func (s *testSink) GetMatlRequests() ([]*MatlRequestPortfolio, error) {
	h, err := s.Context().Recipe("natu")
	if err != nil {
		return nil, err
	}
	target, err := s.Context().NewMaterialUntracked(s.amount, h)
	if err != nil {
		return nil, err
	}
	port := exchange.NewRequestPortfolio[*resource.Material]()
	port.AddRequest(target, s.commodity, s.pref, false)
	return []*MatlRequestPortfolio{port}, nil
}

func (s *testSink) AcceptMatlTrades(responses []MatlResponse) error {
	for _, r := range responses {
		s.received = append(s.received, r.Resource)
	}
	return nil
}

func (s *testSink) Inventories() map[string][]*resource.Material {
	return map[string][]*resource.Material{"received": s.received}
}

func (s *testSink) Snapshot() Values {
	return Values{"commodity": s.commodity, "count": len(s.received)}
}

// newTestRegistry registers the test archetypes under ":test:".
func newTestRegistry(t *testing.T, log *callLog) *Registry {
	t.Helper()
	r := NewRegistry()
	archs := []Archetype{
		{Spec: ":test:Region", Kind: KindRegion, Vars: scriptedVars, New: func() Agent { return &scripted{log: log} }},
		{Spec: ":test:Inst", Kind: KindInstitution, Vars: scriptedVars, New: func() Agent { return &scripted{log: log} }},
		{Spec: ":test:Scripted", Kind: KindFacility, Vars: scriptedVars, New: func() Agent { return &scripted{log: log} }},
		{Spec: ":test:Source", Kind: KindFacility, Vars: []StateVar{
			{Name: "commodity", Type: "string"},
			{Name: "capacity", Type: "double", Default: 1.0},
			{Name: "recipe", Type: "string", Default: "natu"},
		}, New: func() Agent { return &testSource{scripted: scripted{log: log}} }},
		{Spec: ":test:Sink", Kind: KindFacility, Vars: []StateVar{
			{Name: "commodity", Type: "string"},
			{Name: "amount", Type: "double", Default: 1.0},
			{Name: "pref", Type: "double", Default: 1.0},
		}, New: func() Agent { return &testSink{scripted: scripted{log: log}} }},
	}
	for _, a := range archs {
		require.NoError(t, r.Register(a))
	}
	return r
}

// testWorld is a simulator over the test registry with an in-memory backend.
type testWorld struct {
	sim *Simulator
	ctx *Context
	mem *recorder.MemBackend
	log *callLog
}

func newTestWorld(t *testing.T, info SimInfo, opts ...Option) *testWorld {
	t.Helper()
	log := &callLog{}
	mem := recorder.NewMemBackend()
	opts = append([]Option{WithRegistry(newTestRegistry(t, log)), WithBackends(mem)}, opts...)
	s, err := NewSimulator(info, opts...)
	require.NoError(t, err)
	ctx := s.Context()
	h, err := ctx.Comps().Intern(map[comp.Nuc]float64{922350000: 0.007, 922380000: 0.993})
	require.NoError(t, err)
	require.NoError(t, ctx.AddRecipe("natu", h))
	for _, p := range []struct{ name, spec string }{
		{"region", ":test:Region"},
		{"inst", ":test:Inst"},
		{"scripted", ":test:Scripted"},
	} {
		require.NoError(t, ctx.AddPrototype(p.name, p.spec, -1, nil))
	}
	return &testWorld{sim: s, ctx: ctx, mem: mem, log: log}
}

// facilities places one region and institution holding the given facilities.
func (w *testWorld) facilities(t *testing.T, protos ...string) {
	t.Helper()
	var children []BuildSpec
	for _, p := range protos {
		children = append(children, BuildSpec{Prototype: p})
	}
	require.NoError(t, w.sim.AddRegion(BuildSpec{
		Prototype: "region",
		Children:  []BuildSpec{{Prototype: "inst", Children: children}},
	}))
}

func (w *testWorld) rows(t *testing.T, table string, conds ...recorder.Cond) *recorder.QueryResult {
	t.Helper()
	if w.mem.Count(table) == 0 {
		return &recorder.QueryResult{}
	}
	res, err := w.mem.Query(table, conds)
	require.NoError(t, err)
	return res
}

func eq(col string, v any) recorder.Cond {
	return recorder.Cond{Column: col, Op: recorder.OpEq, Value: v}
}
