package exchange

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// Eps is the tolerance applied to quantities and constraint slack.
const Eps = 1e-6

// Node is one request or bid in the solver-facing graph.
type Node struct {
	ID        int // request or bid id
	AgentID   int
	Commodity string
	Qty       float64
	Exclusive bool
	Group     *Group
	// Coeffs holds this node's coefficient in each of Group.Caps.
	Coeffs []float64
}

// Group is the solver view of one portfolio.
type Group struct {
	ID      int
	AgentID int
	Request bool
	Nodes   []*Node
	Caps    []float64
}

// Arc is a candidate match between a request node and a bid node.
// Arc ids follow (request id, bid id) order.
type Arc struct {
	ID   int
	Req  *Node
	Bid  *Node
	Pref float64
}

// Exclusive reports whether the arc is all-or-nothing.
func (a *Arc) Exclusive() bool { return a.Req.Exclusive || a.Bid.Exclusive }

// Required is the amount an exclusive arc must carry: every exclusive
// endpoint has to be matched in full.
func (a *Arc) Required() float64 {
	need := 0.0
	if a.Req.Exclusive {
		need = a.Req.Qty
	}
	if a.Bid.Exclusive {
		need = math.Max(need, a.Bid.Qty)
	}
	return need
}

// Match is a solver decision to move Amount along Arc.
type Match struct {
	Arc    *Arc
	Amount float64
}

// Graph is the typeless bipartite graph solvers operate on.
type Graph struct {
	ReqGroups []*Group
	BidGroups []*Group
	Arcs      []*Arc

	byReqGroup map[*Group][]*Arc
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{byReqGroup: make(map[*Group][]*Arc)}
}

// AddGroup appends a portfolio group.
func (g *Graph) AddGroup(grp *Group) {
	if grp.Request {
		g.ReqGroups = append(g.ReqGroups, grp)
	} else {
		g.BidGroups = append(g.BidGroups, grp)
	}
}

// AddArc appends an arc; its id is its position.
func (g *Graph) AddArc(req, bid *Node, pref float64) *Arc {
	a := &Arc{ID: len(g.Arcs), Req: req, Bid: bid, Pref: pref}
	g.Arcs = append(g.Arcs, a)
	g.byReqGroup[req.Group] = append(g.byReqGroup[req.Group], a)
	return a
}

// GroupArcs returns the arcs of a request group ordered by descending
// preference, then ascending bidder agent id, then arc id.
func (g *Graph) GroupArcs(grp *Group) []*Arc {
	arcs := slices.Clone(g.byReqGroup[grp])
	slices.SortStableFunc(arcs, func(a, b *Arc) int {
		if c := cmp.Compare(b.Pref, a.Pref); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Bid.AgentID, b.Bid.AgentID); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return arcs
}

// Verify checks matches against node quantities, exclusivity and group
// capacities, each within Eps.
func (g *Graph) Verify(matches []Match) error {
	nodeUse := make(map[*Node]float64)
	arcUse := make(map[*Arc]float64)
	for _, m := range matches {
		if m.Amount < 0 || math.IsNaN(m.Amount) {
			return fmt.Errorf("arc %d: negative amount %v", m.Arc.ID, m.Amount)
		}
		nodeUse[m.Arc.Req] += m.Amount
		nodeUse[m.Arc.Bid] += m.Amount
		arcUse[m.Arc] += m.Amount
	}
	for n, used := range nodeUse {
		if used > n.Qty+Eps {
			return fmt.Errorf("node %d (agent %d) matched %v of %v", n.ID, n.AgentID, used, n.Qty)
		}
	}
	for a, amt := range arcUse {
		if a.Exclusive() && amt > Eps && math.Abs(amt-a.Required()) > Eps {
			return fmt.Errorf("exclusive arc %d carries %v, need %v", a.ID, amt, a.Required())
		}
	}
	for _, grp := range slices.Concat(g.ReqGroups, g.BidGroups) {
		for i, capacity := range grp.Caps {
			total := 0.0
			for _, n := range grp.Nodes {
				total += n.Coeffs[i] * nodeUse[n]
			}
			if total > capacity+Eps {
				return fmt.Errorf("group %d (agent %d) constraint %d: %v exceeds %v", grp.ID, grp.AgentID, i, total, capacity)
			}
		}
	}
	return nil
}

// residuals tracks remaining node quantities and group capacities while a
// solver assigns matches.
type residuals struct {
	node map[*Node]float64
	caps map[*Group][]float64
}

func newResiduals(g *Graph) *residuals {
	r := &residuals{node: make(map[*Node]float64), caps: make(map[*Group][]float64)}
	for _, grp := range slices.Concat(g.ReqGroups, g.BidGroups) {
		r.caps[grp] = slices.Clone(grp.Caps)
		for _, n := range grp.Nodes {
			r.node[n] = n.Qty
		}
	}
	return r
}

// slack is the largest amount n can still take under its group's capacities.
func (r *residuals) slack(n *Node) float64 {
	s := math.Inf(1)
	for i, c := range n.Coeffs {
		if c > 0 {
			s = math.Min(s, r.caps[n.Group][i]/c)
		}
	}
	return math.Max(s, 0)
}

// available is the largest amount arc a can carry now.
func (r *residuals) available(a *Arc) float64 {
	return math.Max(0, min(r.node[a.Req], r.node[a.Bid], r.slack(a.Req), r.slack(a.Bid)))
}

func (r *residuals) take(a *Arc, amt float64) {
	for _, n := range []*Node{a.Req, a.Bid} {
		r.node[n] -= amt
		for i, c := range n.Coeffs {
			r.caps[n.Group][i] -= c * amt
		}
	}
}
