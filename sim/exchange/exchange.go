// Package exchange implements the dynamic resource exchange: each tick,
// traders publish request and bid portfolios, candidate arcs are weighted by
// a chain of preference adjusters, a solver picks trades under every
// portfolio's capacity constraints, and the executor moves resources from
// bidders to requesters.
//
// The package is generic over the resource kind; one Exchange value serves
// one kind (Material or Product).
package exchange

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/cycsim/cycsim/sim/ids"
	"github.com/cycsim/cycsim/sim/recorder"
	"github.com/cycsim/cycsim/sim/resource"
	"github.com/cycsim/cycsim/sim/trace"
)

// ErrPortfolio is returned for malformed request or bid portfolios.
var ErrPortfolio = errors.New("invalid portfolio")

// Trader is an agent as seen by one exchange.
type Trader[R resource.Resource] interface {
	AgentID() int
	// Requests returns the trader's request portfolios for this tick.
	Requests() ([]*RequestPortfolio[R], error)
	// Bids returns bid portfolios answering the requested commodities.
	Bids(commods CommodMap[R]) ([]*BidPortfolio[R], error)
	// AdjustPrefs may rewrite the preferences of the trader's own requests.
	AdjustPrefs(prefs PrefMap[R]) error
	// Supply produces the resources for trades the trader bid on.
	Supply(trades []Trade[R]) ([]Response[R], error)
	// Accept takes ownership of resources for the trader's requests.
	Accept(responses []Response[R]) error
}

// TraderError wraps a failing trader callback.
type TraderError struct {
	AgentID int
	Op      string
	Err     error
}

func (e *TraderError) Error() string {
	return fmt.Sprintf("agent %d %s: %v", e.AgentID, e.Op, e.Err)
}

func (e *TraderError) Unwrap() error { return e.Err }

// guard runs fn, converting errors and panics into a TraderError.
func guard(agentID int, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TraderError{AgentID: agentID, Op: op, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(); err != nil {
		return &TraderError{AgentID: agentID, Op: op, Err: err}
	}
	return nil
}

// Solver turns a weighted graph into matches.
type Solver interface {
	Name() string
	Solve(ctx context.Context, g *Graph) ([]Match, error)
}

// Trade is a solver decision expressed over typed requests and bids.
type Trade[R resource.Resource] struct {
	Request    *Request[R]
	Bid        *Bid[R]
	Amount     float64
	Preference float64
}

// Response pairs a trade with the resource the bidder produced for it.
type Response[R resource.Resource] struct {
	Trade    Trade[R]
	Resource R
}

// Config holds the per-kind exchange settings.
type Config struct {
	Kind     string // resource kind label for logs and traces
	Solver   Solver // nil selects the greedy solver
	Ordering GroupOrdering
	Trace    *trace.ExchangeTrace
}

// Env is the per-tick environment the executor records into.
type Env struct {
	Time     int
	IDs      *ids.Service
	Recorder *recorder.Recorder // may be nil
	// Warn reports a non-fatal problem of kind "exchange" or "backend"; a
	// non-nil return aborts the exchange.
	Warn func(kind, msg string) error
}

// Result summarizes one exchange run.
type Result[R resource.Resource] struct {
	Requests       int
	Bids           int
	Arcs           int
	Dropped        int
	Solver         string
	Fallback       bool
	FallbackReason string
	Trades         []Trade[R]
	Delivered      []Response[R]
}

// Quantity returns the total delivered quantity.
func (r *Result[R]) Quantity() float64 {
	total := 0.0
	for _, d := range r.Delivered {
		total += d.Resource.Quantity()
	}
	return total
}

// Exchange runs the per-tick exchange for one resource kind.
type Exchange[R resource.Resource] struct {
	cfg       Config
	greedy    *GreedySolver
	adjusters []Adjuster[R]
}

// New creates an Exchange. Adjusters run in the given order after each
// request's declared preference is set and before traders adjust their own.
func New[R resource.Resource](cfg Config, adjusters ...Adjuster[R]) *Exchange[R] {
	return &Exchange[R]{
		cfg:       cfg,
		greedy:    &GreedySolver{Ordering: cfg.Ordering},
		adjusters: adjusters,
	}
}

// collected is the typed state of one run between collection and solve.
type collected[R resource.Resource] struct {
	traders  []Trader[R]
	reqPorts []*RequestPortfolio[R]
	bidPorts []*BidPortfolio[R]
	reqs     []*Request[R]
	bids     []*Bid[R]
	commods  CommodMap[R]
}

// Run executes one full exchange among traders.
func (e *Exchange[R]) Run(ctx context.Context, env Env, traders []Trader[R]) (*Result[R], error) {
	c := &collected[R]{traders: slices.Clone(traders), commods: make(CommodMap[R])}
	slices.SortStableFunc(c.traders, func(a, b Trader[R]) int { return cmp.Compare(a.AgentID(), b.AgentID()) })

	res := &Result[R]{}
	if err := e.collectRequests(c); err != nil {
		return nil, err
	}
	res.Requests = len(c.reqs)
	if len(c.reqs) == 0 {
		e.traceSolve(env, res)
		return res, nil
	}
	if err := e.collectBids(c); err != nil {
		return nil, err
	}
	res.Bids = len(c.bids)

	prefs, err := e.preferences(c)
	if err != nil {
		return nil, err
	}
	g, arcs, dropped := e.translate(c, prefs)
	res.Arcs, res.Dropped = len(g.Arcs), dropped

	matches, err := e.solve(ctx, g, res)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		pair := arcs[m.Arc.ID]
		res.Trades = append(res.Trades, Trade[R]{
			Request:    pair.req,
			Bid:        pair.bid,
			Amount:     m.Amount,
			Preference: m.Arc.Pref,
		})
	}
	e.traceSolve(env, res)
	logrus.Debugf("[tick %07d] %s exchange: %d requests, %d bids, %d arcs (%d dropped), %d trades via %s",
		env.Time, e.cfg.Kind, res.Requests, res.Bids, res.Arcs, res.Dropped, len(res.Trades), res.Solver)

	if res.Delivered, err = e.execute(env, c, res.Trades); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Exchange[R]) collectRequests(c *collected[R]) error {
	for _, tr := range c.traders {
		var ports []*RequestPortfolio[R]
		if err := guard(tr.AgentID(), "requests", func() (err error) {
			ports, err = tr.Requests()
			return err
		}); err != nil {
			return err
		}
		for _, port := range ports {
			if port == nil {
				continue
			}
			port.Requester = tr.AgentID()
			for _, req := range port.Requests {
				if req.portfolio != port {
					return &TraderError{AgentID: tr.AgentID(), Op: "requests", Err: fmt.Errorf("%w: request not created by its portfolio", ErrPortfolio)}
				}
				if q := req.Qty(); math.IsNaN(q) || q < 0 || req.Commodity == "" {
					return &TraderError{AgentID: tr.AgentID(), Op: "requests", Err: fmt.Errorf("%w: %s", ErrPortfolio, req)}
				}
				req.ID = len(c.reqs) + 1
				c.reqs = append(c.reqs, req)
				c.commods[req.Commodity] = append(c.commods[req.Commodity], req)
			}
			c.reqPorts = append(c.reqPorts, port)
		}
	}
	return nil
}

func (e *Exchange[R]) collectBids(c *collected[R]) error {
	for _, tr := range c.traders {
		var ports []*BidPortfolio[R]
		if err := guard(tr.AgentID(), "bids", func() (err error) {
			ports, err = tr.Bids(c.commods)
			return err
		}); err != nil {
			return err
		}
		for _, port := range ports {
			if port == nil {
				continue
			}
			port.Bidder = tr.AgentID()
			for _, bid := range port.Bids {
				if err := c.validBid(bid, port); err != nil {
					return &TraderError{AgentID: tr.AgentID(), Op: "bids", Err: err}
				}
				bid.ID = len(c.bids) + 1
				c.bids = append(c.bids, bid)
			}
			c.bidPorts = append(c.bidPorts, port)
		}
	}
	return nil
}

func (c *collected[R]) validBid(bid *Bid[R], port *BidPortfolio[R]) error {
	if bid.portfolio != port {
		return fmt.Errorf("%w: bid not created by its portfolio", ErrPortfolio)
	}
	if q := bid.Qty(); math.IsNaN(q) || q < 0 {
		return fmt.Errorf("%w: %s", ErrPortfolio, bid)
	}
	if bid.Request != nil {
		id := bid.Request.ID
		if id < 1 || id > len(c.reqs) || c.reqs[id-1] != bid.Request {
			return fmt.Errorf("%w: %s answers a request outside this exchange", ErrPortfolio, bid)
		}
	}
	return nil
}

// preferences builds the preference map and runs the adjuster chain.
func (e *Exchange[R]) preferences(c *collected[R]) (PrefMap[R], error) {
	prefs := make(PrefMap[R])
	for _, req := range c.reqs {
		if req.Qty() <= Eps {
			continue
		}
		for _, bid := range c.bids {
			if bid.Qty() <= Eps || !bid.matches(req) {
				continue
			}
			if prefs[req] == nil {
				prefs[req] = make(map[*Bid[R]]float64)
			}
			prefs[req][bid] = req.Preference
		}
	}
	for _, adj := range e.adjusters {
		adj.Adjust(prefs)
		logrus.Tracef("%s exchange: applied adjuster %s", e.cfg.Kind, adj.Name())
	}
	requesters := make(map[int]bool)
	for _, port := range c.reqPorts {
		requesters[port.Requester] = true
	}
	for _, tr := range c.traders {
		if !requesters[tr.AgentID()] {
			continue
		}
		sub := subMap(prefs, tr.AgentID())
		if err := guard(tr.AgentID(), "adjust prefs", func() error { return tr.AdjustPrefs(sub) }); err != nil {
			return nil, err
		}
	}
	return prefs, nil
}

type arcPair[R resource.Resource] struct {
	req *Request[R]
	bid *Bid[R]
}

// translate builds the solver graph. Arcs with non-positive preference are
// dropped and counted.
func (e *Exchange[R]) translate(c *collected[R], prefs PrefMap[R]) (*Graph, []arcPair[R], int) {
	g := NewGraph()
	reqNodes := make(map[*Request[R]]*Node)
	bidNodes := make(map[*Bid[R]]*Node)

	for i, port := range c.reqPorts {
		grp := &Group{ID: i + 1, AgentID: port.Requester, Request: true}
		for _, con := range port.Constraints {
			grp.Caps = append(grp.Caps, con.Capacity)
		}
		for _, mutual := range port.mutual {
			most := 0.0
			for _, req := range mutual {
				most = math.Max(most, req.Qty())
			}
			grp.Caps = append(grp.Caps, most)
		}
		for _, req := range port.Requests {
			n := &Node{ID: req.ID, AgentID: port.Requester, Commodity: req.Commodity, Qty: req.Qty(), Exclusive: req.Exclusive, Group: grp}
			for _, con := range port.Constraints {
				n.Coeffs = append(n.Coeffs, con.coeff(req.Target))
			}
			for k := range port.mutual {
				n.Coeffs = append(n.Coeffs, boolCoeff(req.mutual == k+1))
			}
			grp.Nodes = append(grp.Nodes, n)
			reqNodes[req] = n
		}
		g.AddGroup(grp)
	}
	for i, port := range c.bidPorts {
		grp := &Group{ID: i + 1, AgentID: port.Bidder}
		for _, con := range port.Constraints {
			grp.Caps = append(grp.Caps, con.Capacity)
		}
		for _, bid := range port.Bids {
			n := &Node{ID: bid.ID, AgentID: port.Bidder, Commodity: bid.Commodity, Qty: bid.Qty(), Exclusive: bid.Exclusive, Group: grp}
			for _, con := range port.Constraints {
				n.Coeffs = append(n.Coeffs, con.coeff(bid.Offer))
			}
			grp.Nodes = append(grp.Nodes, n)
			bidNodes[bid] = n
		}
		g.AddGroup(grp)
	}

	var pairs []arcPair[R]
	dropped := 0
	for _, req := range prefs.Requests() {
		for _, bid := range prefs.Bids(req) {
			pref := prefs[req][bid]
			if !(pref > 0) || math.IsInf(pref, 1) {
				dropped++
				continue
			}
			g.AddArc(reqNodes[req], bidNodes[bid], pref)
			pairs = append(pairs, arcPair[R]{req: req, bid: bid})
		}
	}
	return g, pairs, dropped
}

func boolCoeff(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// solve runs the configured solver, falling back to greedy on ErrSolver.
func (e *Exchange[R]) solve(ctx context.Context, g *Graph, res *Result[R]) ([]Match, error) {
	if e.cfg.Solver == nil || e.cfg.Solver.Name() == e.greedy.Name() {
		res.Solver = e.greedy.Name()
		return e.greedy.Solve(ctx, g)
	}
	matches, err := e.cfg.Solver.Solve(ctx, g)
	if err == nil {
		res.Solver = e.cfg.Solver.Name()
		return matches, nil
	}
	if !errors.Is(err, ErrSolver) {
		return nil, err
	}
	logrus.Warnf("%s exchange: %s solver failed, falling back to greedy: %v", e.cfg.Kind, e.cfg.Solver.Name(), err)
	res.Solver, res.Fallback, res.FallbackReason = e.greedy.Name(), true, err.Error()
	return e.greedy.Solve(ctx, g)
}

func (e *Exchange[R]) traceSolve(env Env, res *Result[R]) {
	e.cfg.Trace.RecordSolve(trace.SolveRecord{
		Time:     env.Time,
		Kind:     e.cfg.Kind,
		Solver:   res.Solver,
		Requests: res.Requests,
		Bids:     res.Bids,
		Arcs:     res.Arcs,
		Dropped:  res.Dropped,
		Trades:   len(res.Trades),
		Fallback: res.Fallback,
		Reason:   res.FallbackReason,
	})
	for _, t := range res.Trades {
		e.cfg.Trace.RecordTrade(trace.TradeRecord{
			Time:        env.Time,
			Kind:        e.cfg.Kind,
			Commodity:   t.Request.Commodity,
			RequestID:   t.Request.ID,
			BidID:       t.Bid.ID,
			RequesterID: t.Request.Requester(),
			BidderID:    t.Bid.Bidder(),
			Amount:      t.Amount,
			Preference:  t.Preference,
		})
	}
}
