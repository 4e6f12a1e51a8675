package exchange

import (
	"cmp"
	"context"
	"slices"

	"github.com/sirupsen/logrus"
)

// GroupOrdering selects the order in which the greedy solver visits request groups.
type GroupOrdering string

const (
	// OrderAgentID visits groups in ascending requester agent id.
	OrderAgentID GroupOrdering = "agent_id"
	// OrderAvgPref visits groups by descending average arc preference.
	OrderAvgPref GroupOrdering = "avg-pref"
)

// ValidGroupOrderings is the set of recognized greedy orderings.
var ValidGroupOrderings = map[GroupOrdering]bool{
	OrderAgentID: true,
	OrderAvgPref: true,
	"":           true, // empty defaults to agent_id
}

// GreedySolver matches request groups one at a time, saturating each
// request from its most preferred bids first.
type GreedySolver struct {
	Ordering GroupOrdering
}

// Name returns "greedy".
func (s *GreedySolver) Name() string { return "greedy" }

// Solve never fails; an empty graph yields no matches.
func (s *GreedySolver) Solve(_ context.Context, g *Graph) ([]Match, error) {
	res := newResiduals(g)
	var matches []Match
	for _, grp := range s.order(g) {
		for _, a := range g.GroupArcs(grp) {
			if res.node[a.Req] <= Eps {
				continue
			}
			avail := res.available(a)
			amt := avail
			if a.Exclusive() {
				need := a.Required()
				if avail < need-Eps {
					continue
				}
				amt = need
			}
			if amt <= Eps {
				continue
			}
			res.take(a, amt)
			matches = append(matches, Match{Arc: a, Amount: amt})
			logrus.Tracef("greedy: arc %d req %d <- bid %d amount %g pref %g", a.ID, a.Req.ID, a.Bid.ID, amt, a.Pref)
		}
	}
	return matches, nil
}

func (s *GreedySolver) order(g *Graph) []*Group {
	groups := slices.Clone(g.ReqGroups)
	byAgent := func(a, b *Group) int {
		if c := cmp.Compare(a.AgentID, b.AgentID); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	}
	if s.Ordering != OrderAvgPref {
		slices.SortStableFunc(groups, byAgent)
		return groups
	}
	avg := make(map[*Group]float64, len(groups))
	for _, grp := range groups {
		arcs := g.byReqGroup[grp]
		if len(arcs) == 0 {
			continue
		}
		sum := 0.0
		for _, a := range arcs {
			sum += a.Pref
		}
		avg[grp] = sum / float64(len(arcs))
	}
	slices.SortStableFunc(groups, func(a, b *Group) int {
		if c := cmp.Compare(avg[b], avg[a]); c != 0 {
			return c
		}
		return byAgent(a, b)
	})
	return groups
}
