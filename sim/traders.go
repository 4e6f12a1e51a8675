package sim

import (
	"github.com/cycsim/cycsim/sim/exchange"
	"github.com/cycsim/cycsim/sim/resource"
)

// kindHooks binds the typed agent interfaces of one resource kind.
type kindHooks[R resource.Resource] struct {
	participates func(Agent) bool
	requests     func(Agent) ([]*exchange.RequestPortfolio[R], error)
	bids         func(Agent, exchange.CommodMap[R]) ([]*exchange.BidPortfolio[R], error)
	adjust       func(Agent, exchange.PrefMap[R]) error
	supply       func(Agent, []exchange.Trade[R]) ([]exchange.Response[R], error)
	accept       func(Agent, []exchange.Response[R]) error
}

var materialHooks = kindHooks[*resource.Material]{
	participates: func(a Agent) bool {
		_, req := a.(MaterialRequester)
		_, bid := a.(MaterialBidder)
		return req || bid
	},
	requests: func(a Agent) ([]*MatlRequestPortfolio, error) {
		if r, ok := a.(MaterialRequester); ok {
			return r.GetMatlRequests()
		}
		return nil, nil
	},
	bids: func(a Agent, commods MatlCommodMap) ([]*MatlBidPortfolio, error) {
		if b, ok := a.(MaterialBidder); ok {
			return b.GetMatlBids(commods)
		}
		return nil, nil
	},
	adjust: func(a Agent, prefs MatlPrefMap) error {
		if p, ok := a.(MaterialPrefAdjuster); ok {
			return p.AdjustMatlPrefs(prefs)
		}
		return nil
	},
	supply: func(a Agent, trades []MatlTrade) ([]MatlResponse, error) {
		if b, ok := a.(MaterialBidder); ok {
			return b.GetMatlTrades(trades)
		}
		return nil, nil
	},
	accept: func(a Agent, responses []MatlResponse) error {
		if r, ok := a.(MaterialAcceptor); ok {
			return r.AcceptMatlTrades(responses)
		}
		return nil
	},
}

var productHooks = kindHooks[*resource.Product]{
	participates: func(a Agent) bool {
		_, req := a.(ProductRequester)
		_, bid := a.(ProductBidder)
		return req || bid
	},
	requests: func(a Agent) ([]*ProdRequestPortfolio, error) {
		if r, ok := a.(ProductRequester); ok {
			return r.GetProductRequests()
		}
		return nil, nil
	},
	bids: func(a Agent, commods ProdCommodMap) ([]*ProdBidPortfolio, error) {
		if b, ok := a.(ProductBidder); ok {
			return b.GetProductBids(commods)
		}
		return nil, nil
	},
	adjust: func(a Agent, prefs ProdPrefMap) error {
		if p, ok := a.(ProductPrefAdjuster); ok {
			return p.AdjustProductPrefs(prefs)
		}
		return nil
	},
	supply: func(a Agent, trades []ProdTrade) ([]ProdResponse, error) {
		if b, ok := a.(ProductBidder); ok {
			return b.GetProductTrades(trades)
		}
		return nil, nil
	},
	accept: func(a Agent, responses []ProdResponse) error {
		if r, ok := a.(ProductAcceptor); ok {
			return r.AcceptProductTrades(responses)
		}
		return nil
	},
}

// agentTrader presents a live agent to one exchange.
type agentTrader[R resource.Resource] struct {
	agent Agent
	hooks *kindHooks[R]
}

func (t agentTrader[R]) AgentID() int { return t.agent.Base().id }

func (t agentTrader[R]) Requests() ([]*exchange.RequestPortfolio[R], error) {
	return t.hooks.requests(t.agent)
}

func (t agentTrader[R]) Bids(commods exchange.CommodMap[R]) ([]*exchange.BidPortfolio[R], error) {
	return t.hooks.bids(t.agent, commods)
}

// AdjustPrefs lets the requester, then its institution, then its region
// rewrite the preferences of the requester's arcs.
func (t agentTrader[R]) AdjustPrefs(prefs exchange.PrefMap[R]) error {
	for a := t.agent; a != nil; a = a.Base().parent {
		if err := t.hooks.adjust(a, prefs); err != nil {
			return err
		}
	}
	return nil
}

func (t agentTrader[R]) Supply(trades []exchange.Trade[R]) ([]exchange.Response[R], error) {
	return t.hooks.supply(t.agent, trades)
}

func (t agentTrader[R]) Accept(responses []exchange.Response[R]) error {
	return t.hooks.accept(t.agent, responses)
}

// tradersOf wraps every participating agent, in ascending id.
func tradersOf[R resource.Resource](agents []Agent, hooks *kindHooks[R]) []exchange.Trader[R] {
	var out []exchange.Trader[R]
	for _, a := range agents {
		if hooks.participates(a) {
			out = append(out, agentTrader[R]{agent: a, hooks: hooks})
		}
	}
	return out
}
