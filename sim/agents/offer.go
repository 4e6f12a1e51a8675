package agents

import (
	"fmt"

	"github.com/cycsim/cycsim/sim"
	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/exchange"
	"github.com/cycsim/cycsim/sim/resource"
	"github.com/cycsim/cycsim/sim/toolkit"
)

type matlBuf = toolkit.ResBuf[*resource.Material]

// anyNuc is the placeholder composition of requests that accept any material.
const anyNuc comp.Nuc = 10010000

// requestTarget returns an untracked material of qty kg to put in a request.
// An empty recipe means any composition is acceptable.
func requestTarget(ctx *sim.Context, recipe string, qty float64) (*resource.Material, error) {
	var (
		h   comp.Handle
		err error
	)
	if recipe == "" {
		h, err = ctx.Comps().Intern(map[comp.Nuc]float64{anyNuc: 1})
	} else {
		h, err = ctx.Recipe(recipe)
	}
	if err != nil {
		return nil, err
	}
	return ctx.NewMaterialUntracked(qty, h)
}

// offerFrom bids the contents of buf on every request for commodity. The
// offered composition is that of the oldest held material.
func offerFrom(ctx *sim.Context, buf *matlBuf, commods sim.MatlCommodMap, commodity string) (*sim.MatlBidPortfolio, error) {
	reqs := commods[commodity]
	if len(reqs) == 0 || buf.Quantity() < resource.EpsRsrc {
		return nil, nil
	}
	head, err := buf.Peek()
	if err != nil {
		return nil, err
	}
	port := exchange.NewBidPortfolio[*resource.Material]()
	for _, req := range reqs {
		offer, err := ctx.NewMaterialUntracked(min(buf.Quantity(), req.Qty()), head.Comp())
		if err != nil {
			return nil, err
		}
		port.AddBid(req, offer, commodity, false)
	}
	port.AddConstraint(exchange.CapacityConstraint[*resource.Material]{Capacity: buf.Quantity()})
	return port, nil
}

// supplyFrom answers trades by popping the traded quantity from the buffer
// held for each trade's commodity.
func supplyFrom(bufs map[string]*matlBuf, trades []sim.MatlTrade) ([]sim.MatlResponse, error) {
	out := make([]sim.MatlResponse, 0, len(trades))
	for _, tr := range trades {
		buf, ok := bufs[tr.Bid.Commodity]
		if !ok {
			return nil, fmt.Errorf("no inventory for commodity %q", tr.Bid.Commodity)
		}
		m, err := buf.PopQty(min(tr.Amount, buf.Quantity()))
		if err != nil {
			return nil, err
		}
		out = append(out, sim.MatlResponse{Trade: tr, Resource: m})
	}
	return out, nil
}

// collect gathers non-nil bid portfolios.
func collect(ports ...*sim.MatlBidPortfolio) []*sim.MatlBidPortfolio {
	var out []*sim.MatlBidPortfolio
	for _, p := range ports {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func newMatlRequests() *sim.MatlRequestPortfolio {
	return exchange.NewRequestPortfolio[*resource.Material]()
}
