package exchange

import (
	"fmt"

	"github.com/cycsim/cycsim/sim/resource"
)

// Converter maps a resource to the quantity a capacity constraint measures
// (e.g. fissile mass, volume). A nil Converter measures Quantity().
type Converter[R resource.Resource] func(R) float64

// CapacityConstraint bounds the converted sum of all matched resources on
// the arcs of one portfolio.
type CapacityConstraint[R resource.Resource] struct {
	Capacity  float64
	Converter Converter[R]
}

// coeff returns the constraint coefficient per unit of r's quantity.
func (c CapacityConstraint[R]) coeff(r R) float64 {
	qty := r.Quantity()
	if c.Converter == nil {
		return 1
	}
	if qty <= 0 {
		return 0
	}
	return c.Converter(r) / qty
}

// Request is one desired resource within a RequestPortfolio.
type Request[R resource.Resource] struct {
	ID         int
	Commodity  string
	Target     R
	Preference float64
	Exclusive  bool

	portfolio *RequestPortfolio[R]
	mutual    int // 1-based index into portfolio.mutual, 0 if none
}

// Requester returns the agent id of the requesting trader.
func (r *Request[R]) Requester() int { return r.portfolio.Requester }

// Portfolio returns the portfolio that owns r.
func (r *Request[R]) Portfolio() *RequestPortfolio[R] { return r.portfolio }

// Qty is the requested quantity.
func (r *Request[R]) Qty() float64 { return r.Target.Quantity() }

func (r *Request[R]) String() string {
	return fmt.Sprintf("request %d (%s, %g, pref %g)", r.ID, r.Commodity, r.Qty(), r.Preference)
}

// RequestPortfolio bundles one trader's requests and its capacity
// constraints for a single exchange.
type RequestPortfolio[R resource.Resource] struct {
	Requester   int
	Requests    []*Request[R]
	Constraints []CapacityConstraint[R]

	mutual [][]*Request[R]
}

// NewRequestPortfolio creates an empty portfolio.
func NewRequestPortfolio[R resource.Resource]() *RequestPortfolio[R] {
	return &RequestPortfolio[R]{}
}

// AddRequest appends a request for target under commodity.
func (p *RequestPortfolio[R]) AddRequest(target R, commodity string, pref float64, exclusive bool) *Request[R] {
	req := &Request[R]{
		Commodity:  commodity,
		Target:     target,
		Preference: pref,
		Exclusive:  exclusive,
		portfolio:  p,
	}
	p.Requests = append(p.Requests, req)
	return req
}

// AddConstraint appends a capacity constraint.
func (p *RequestPortfolio[R]) AddConstraint(c CapacityConstraint[R]) {
	p.Constraints = append(p.Constraints, c)
}

// AddMutualRequests marks reqs as alternatives for one need: the total
// matched over all of them is bounded by the largest of their quantities.
func (p *RequestPortfolio[R]) AddMutualRequests(reqs ...*Request[R]) error {
	if len(reqs) < 2 {
		return fmt.Errorf("%w: mutual group needs at least two requests", ErrPortfolio)
	}
	for _, r := range reqs {
		if r.portfolio != p {
			return fmt.Errorf("%w: %s belongs to another portfolio", ErrPortfolio, r)
		}
		if r.mutual != 0 {
			return fmt.Errorf("%w: %s is already in a mutual group", ErrPortfolio, r)
		}
	}
	p.mutual = append(p.mutual, reqs)
	for _, r := range reqs {
		r.mutual = len(p.mutual)
	}
	return nil
}

// MutualGroups returns the groups registered with AddMutualRequests.
func (p *RequestPortfolio[R]) MutualGroups() [][]*Request[R] { return p.mutual }

// Bid is one offer within a BidPortfolio. A nil Request makes it a generic
// bid matching every request for Commodity.
type Bid[R resource.Resource] struct {
	ID        int
	Request   *Request[R]
	Commodity string
	Offer     R
	Exclusive bool

	portfolio *BidPortfolio[R]
}

// Bidder returns the agent id of the bidding trader.
func (b *Bid[R]) Bidder() int { return b.portfolio.Bidder }

// Portfolio returns the portfolio that owns b.
func (b *Bid[R]) Portfolio() *BidPortfolio[R] { return b.portfolio }

// Qty is the offered quantity.
func (b *Bid[R]) Qty() float64 { return b.Offer.Quantity() }

// matches reports whether b may satisfy req.
func (b *Bid[R]) matches(req *Request[R]) bool {
	if b.Request != nil {
		return b.Request == req
	}
	return b.Commodity == req.Commodity
}

func (b *Bid[R]) String() string {
	return fmt.Sprintf("bid %d (%s, %g)", b.ID, b.Commodity, b.Qty())
}

// BidPortfolio bundles one trader's bids and its capacity constraints.
type BidPortfolio[R resource.Resource] struct {
	Bidder      int
	Bids        []*Bid[R]
	Constraints []CapacityConstraint[R]
}

// NewBidPortfolio creates an empty portfolio.
func NewBidPortfolio[R resource.Resource]() *BidPortfolio[R] {
	return &BidPortfolio[R]{}
}

// AddBid offers offer against req. When req is nil the bid is generic over commodity.
func (p *BidPortfolio[R]) AddBid(req *Request[R], offer R, commodity string, exclusive bool) *Bid[R] {
	if req != nil {
		commodity = req.Commodity
	}
	bid := &Bid[R]{
		Request:   req,
		Commodity: commodity,
		Offer:     offer,
		Exclusive: exclusive,
		portfolio: p,
	}
	p.Bids = append(p.Bids, bid)
	return bid
}

// AddConstraint appends a capacity constraint.
func (p *BidPortfolio[R]) AddConstraint(c CapacityConstraint[R]) {
	p.Constraints = append(p.Constraints, c)
}

// CommodMap indexes the requests of one exchange by commodity, in request id order.
type CommodMap[R resource.Resource] map[string][]*Request[R]

// Commodities returns the requested commodities in sorted order.
func (m CommodMap[R]) Commodities() []string {
	return sortedKeys(m)
}
