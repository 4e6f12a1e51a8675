package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// ErrSolver is returned by optimizing solvers that fail or time out. The
// exchange treats it as a signal to fall back to the greedy solver.
var ErrSolver = errors.New("solver error")

// DefaultMaxNodes bounds the branch-and-bound tree of MILPSolver.
const DefaultMaxNodes = 10000

// tieBreak scales the per-arc objective perturbation that makes equal
// preference solutions favour lower (request id, bid id) arcs.
const tieBreak = 1e-7

// MILPSolver maximizes total preference-weighted flow with gonum's simplex
// on the LP relaxation and branch-and-bound over exclusive arcs.
type MILPSolver struct {
	Timeout  time.Duration // 0 means no wall-clock limit
	MaxNodes int           // 0 means DefaultMaxNodes
	Tol      float64       // simplex tolerance; 0 means 1e-10
}

// Name returns "milp".
func (s *MILPSolver) Name() string { return "milp" }

// Solve returns an optimal assignment or an error wrapping ErrSolver. It
// never returns a partial solution.
func (s *MILPSolver) Solve(ctx context.Context, g *Graph) (matches []Match, err error) {
	if len(g.Arcs) == 0 {
		return nil, nil
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			matches, err = nil, fmt.Errorf("%w: simplex panic: %v", ErrSolver, r)
		}
	}()

	p := newProgram(g)
	bb := &branchBound{
		ctx:      ctx,
		prog:     p,
		maxNodes: s.MaxNodes,
		tol:      s.Tol,
		best:     math.Inf(-1),
	}
	if bb.maxNodes <= 0 {
		bb.maxNodes = DefaultMaxNodes
	}
	if bb.tol <= 0 {
		bb.tol = 1e-10
	}
	if err := bb.search(make(map[int]float64)); err != nil {
		return nil, err
	}
	if bb.incumbent == nil {
		return nil, fmt.Errorf("%w: no integer solution found", ErrSolver)
	}
	for _, a := range g.Arcs {
		amt := bb.incumbent[a.ID]
		if a.Exclusive() {
			if amt < 0.5 {
				continue
			}
			amt = a.Required()
		} else {
			amt = p.unit[a.ID] * amt
		}
		if amt > Eps {
			matches = append(matches, Match{Arc: a, Amount: amt})
		}
	}
	if err := g.Verify(matches); err != nil {
		return nil, fmt.Errorf("%w: infeasible rounding: %v", ErrSolver, err)
	}
	logrus.Tracef("milp: %d arcs, %d matches, objective %g, %d nodes", len(g.Arcs), len(matches), bb.best, bb.nodes)
	return matches, nil
}

// program is the matching problem as "maximize w·v s.t. M v <= h, v >= 0",
// where v holds one variable per arc: a flow for ordinary arcs and a 0/1
// selector for exclusive arcs.
type program struct {
	weight []float64   // objective coefficient per arc variable
	unit   []float64   // flow per unit of the variable
	rows   [][]float64 // constraint rows over arc variables
	bound  []float64
	binary []bool
}

func newProgram(g *Graph) *program {
	n := len(g.Arcs)
	p := &program{
		weight: make([]float64, n),
		unit:   make([]float64, n),
		binary: make([]bool, n),
	}
	incident := make(map[*Node][]*Arc)
	for _, a := range g.Arcs {
		p.unit[a.ID] = 1
		if a.Exclusive() {
			p.binary[a.ID] = true
			p.unit[a.ID] = a.Required()
		}
		p.weight[a.ID] = a.Pref * p.unit[a.ID] * (1 - tieBreak*float64(a.ID+1)/float64(n+1))
		incident[a.Req] = append(incident[a.Req], a)
		incident[a.Bid] = append(incident[a.Bid], a)
	}
	addRow := func(row []float64, bound float64) {
		for _, v := range row {
			if v != 0 {
				p.rows = append(p.rows, row)
				p.bound = append(p.bound, math.Max(bound, 0))
				return
			}
		}
	}
	for _, grp := range slices.Concat(g.ReqGroups, g.BidGroups) {
		for _, node := range grp.Nodes {
			row := make([]float64, n)
			for _, a := range incident[node] {
				row[a.ID] = p.unit[a.ID]
			}
			addRow(row, node.Qty)
		}
		for i, capacity := range grp.Caps {
			row := make([]float64, n)
			for _, node := range grp.Nodes {
				for _, a := range incident[node] {
					row[a.ID] += node.Coeffs[i] * p.unit[a.ID]
				}
			}
			addRow(row, capacity)
		}
	}
	for id, bin := range p.binary {
		if bin {
			row := make([]float64, n)
			row[id] = 1
			addRow(row, 1)
		}
	}
	return p
}

// relax solves the LP relaxation with the variables in fixed pinned. It
// returns the objective and the full variable vector, or ok=false when the
// pinned values are infeasible.
func (p *program) relax(fixed map[int]float64, tol float64) (obj float64, vals []float64, ok bool, err error) {
	n := len(p.weight)
	vals = make([]float64, n)
	free := make([]int, 0, n)
	for id := 0; id < n; id++ {
		if v, pinned := fixed[id]; pinned {
			vals[id] = v
			obj += p.weight[id] * v
		} else {
			free = append(free, id)
		}
	}
	bound := make([]float64, len(p.rows))
	for r, row := range p.rows {
		bound[r] = p.bound[r]
		for id, v := range fixed {
			bound[r] -= row[id] * v
		}
		if bound[r] < -Eps {
			return 0, nil, false, nil
		}
		bound[r] = math.Max(bound[r], 0)
	}
	if len(free) == 0 {
		return obj, vals, true, nil
	}

	// Standard form: one column per free variable plus one slack per row.
	rows, cols := len(p.rows), len(free)+len(p.rows)
	a := mat.NewDense(rows, cols, nil)
	c := make([]float64, cols)
	for j, id := range free {
		c[j] = -p.weight[id]
		for r, row := range p.rows {
			a.Set(r, j, row[id])
		}
	}
	basic := make([]int, rows)
	for r := range p.rows {
		a.Set(r, len(free)+r, 1)
		basic[r] = len(free) + r
	}
	optF, x, err := lp.Simplex(c, a, bound, tol, basic)
	if err != nil {
		return 0, nil, false, fmt.Errorf("%w: %v", ErrSolver, err)
	}
	for j, id := range free {
		vals[id] = math.Max(x[j], 0)
	}
	return obj - optF, vals, true, nil
}

type branchBound struct {
	ctx       context.Context
	prog      *program
	maxNodes  int
	nodes     int
	tol       float64
	best      float64
	incumbent []float64
}

func (b *branchBound) search(fixed map[int]float64) error {
	if err := b.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSolver, err)
	}
	b.nodes++
	if b.nodes > b.maxNodes {
		return fmt.Errorf("%w: node limit %d exceeded", ErrSolver, b.maxNodes)
	}
	obj, vals, ok, err := b.prog.relax(fixed, b.tol)
	if err != nil {
		return err
	}
	if !ok || obj <= b.best+1e-12 {
		return nil
	}
	branch := -1
	for id, bin := range b.prog.binary {
		if bin && vals[id] > 1e-6 && vals[id] < 1-1e-6 {
			if _, pinned := fixed[id]; !pinned {
				branch = id
				break
			}
		}
	}
	if branch < 0 {
		for id, bin := range b.prog.binary {
			if bin {
				vals[id] = math.Round(vals[id])
			}
		}
		b.best, b.incumbent = obj, vals
		return nil
	}
	for _, v := range []float64{1, 0} {
		child := make(map[int]float64, len(fixed)+1)
		for k, fv := range fixed {
			child[k] = fv
		}
		child[branch] = v
		if err := b.search(child); err != nil {
			return err
		}
	}
	return nil
}
