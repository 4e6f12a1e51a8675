package exchange

import (
	"cmp"
	"maps"
	"slices"

	"github.com/cycsim/cycsim/sim/resource"
)

// PrefMap holds the preference of every candidate (request, bid) pair.
// Adjusters may change any value; pairs left at or below zero are dropped.
type PrefMap[R resource.Resource] map[*Request[R]]map[*Bid[R]]float64

// Requests returns the map's requests in id order.
func (m PrefMap[R]) Requests() []*Request[R] {
	reqs := slices.Collect(maps.Keys(m))
	slices.SortFunc(reqs, func(a, b *Request[R]) int { return cmp.Compare(a.ID, b.ID) })
	return reqs
}

// Bids returns the bids paired with req in id order.
func (m PrefMap[R]) Bids(req *Request[R]) []*Bid[R] {
	bids := slices.Collect(maps.Keys(m[req]))
	slices.SortFunc(bids, func(a, b *Bid[R]) int { return cmp.Compare(a.ID, b.ID) })
	return bids
}

// Adjuster rewrites preferences in place. Adjusters run in registration order.
type Adjuster[R resource.Resource] interface {
	Name() string
	Adjust(prefs PrefMap[R])
}

// AdjusterFunc adapts a function to the Adjuster interface.
type AdjusterFunc[R resource.Resource] struct {
	Label string
	Fn    func(PrefMap[R])
}

func (f AdjusterFunc[R]) Name() string            { return f.Label }
func (f AdjusterFunc[R]) Adjust(prefs PrefMap[R]) { f.Fn(prefs) }

// CommodityScale multiplies each preference by the scale registered for its
// request's commodity. Unregistered commodities are left untouched.
func CommodityScale[R resource.Resource](scales map[string]float64) Adjuster[R] {
	return AdjusterFunc[R]{Label: "commodity-scale", Fn: func(prefs PrefMap[R]) {
		for req, bids := range prefs {
			scale, ok := scales[req.Commodity]
			if !ok {
				continue
			}
			for bid := range bids {
				bids[bid] *= scale
			}
		}
	}}
}

// TraderCommodity keys a per-(requester, commodity) preference modifier.
type TraderCommodity struct {
	AgentID   int
	Commodity string
}

// TraderModifiers multiplies each preference by the factor registered for
// its (requester, commodity) pair.
func TraderModifiers[R resource.Resource](mods map[TraderCommodity]float64) Adjuster[R] {
	return AdjusterFunc[R]{Label: "trader-modifiers", Fn: func(prefs PrefMap[R]) {
		for req, bids := range prefs {
			f, ok := mods[TraderCommodity{AgentID: req.Requester(), Commodity: req.Commodity}]
			if !ok {
				continue
			}
			for bid := range bids {
				bids[bid] *= f
			}
		}
	}}
}

// subMap returns the part of prefs whose requests belong to requester. The
// inner maps are shared, so edits are visible in prefs.
func subMap[R resource.Resource](prefs PrefMap[R], requester int) PrefMap[R] {
	out := make(PrefMap[R])
	for req, bids := range prefs {
		if req.Requester() == requester {
			out[req] = bids
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := slices.Collect(maps.Keys(m))
	slices.Sort(keys)
	return keys
}
