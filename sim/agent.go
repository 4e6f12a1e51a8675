package sim

import (
	"math"

	"github.com/cycsim/cycsim/sim/exchange"
	"github.com/cycsim/cycsim/sim/resource"
)

// Kind is the tier of an agent in the region/institution/facility tree.
type Kind string

const (
	KindRegion      Kind = "Region"
	KindInstitution Kind = "Institution"
	KindFacility    Kind = "Facility"
)

// ValidKinds is the set of agent kinds.
var ValidKinds = map[Kind]bool{KindRegion: true, KindInstitution: true, KindFacility: true}

// parentKind is the kind each agent kind must be attached to.
var parentKind = map[Kind]Kind{KindInstitution: KindRegion, KindFacility: KindInstitution}

// Forever is the exit time of agents with an unbounded lifetime.
const Forever = math.MaxInt

// Agent is implemented by every archetype, usually by embedding AgentBase.
type Agent interface {
	Base() *AgentBase
}

// AgentBase carries the identity and tree fields the kernel manages.
type AgentBase struct {
	ctx       *Context
	id        int
	kind      Kind
	spec      string
	prototype string
	parent    Agent
	children  []Agent
	enterTime int
	lifetime  int
	exitTime  int
	live      bool
}

// Base returns b; it lets embedding types satisfy Agent.
func (b *AgentBase) Base() *AgentBase { return b }

func (b *AgentBase) ID() int           { return b.id }
func (b *AgentBase) Kind() Kind        { return b.kind }
func (b *AgentBase) Spec() string      { return b.spec }
func (b *AgentBase) Prototype() string { return b.prototype }
func (b *AgentBase) Context() *Context { return b.ctx }
func (b *AgentBase) Parent() Agent     { return b.parent }
func (b *AgentBase) EnterTime() int    { return b.enterTime }
func (b *AgentBase) Lifetime() int     { return b.lifetime }
func (b *AgentBase) Live() bool        { return b.live }

// ExitTime is the first tick the agent is no longer live, or Forever.
func (b *AgentBase) ExitTime() int { return b.exitTime }

// ParentID returns the parent's agent id, or -1 for regions.
func (b *AgentBase) ParentID() int {
	if b.parent == nil {
		return -1
	}
	return b.parent.Base().id
}

// Children returns the live children in ascending agent id.
func (b *AgentBase) Children() []Agent {
	return append([]Agent(nil), b.children...)
}

func (b *AgentBase) removeChild(id int) {
	for i, c := range b.children {
		if c.Base().id == id {
			b.children = append(b.children[:i], b.children[i+1:]...)
			return
		}
	}
}

// EnterNotifier is called once when the agent is inserted.
type EnterNotifier interface {
	EnterNotify() error
}

// Ticker is called in the Tick phase.
type Ticker interface {
	Tick() error
}

// Tocker is called in the Tock phase.
type Tocker interface {
	Tock() error
}

// Decommissioner is called once before the agent is removed.
type Decommissioner interface {
	Decommission() error
}

// Configurable receives the agent's validated state variables when built.
type Configurable interface {
	Configure(v Values) error
}

// Snapshotter exposes state variables for snapshot rows.
type Snapshotter interface {
	Snapshot() Values
}

// InventoryReporter exposes named material inventories for ExplicitInventory rows.
type InventoryReporter interface {
	Inventories() map[string][]*resource.Material
}

// Shorthands for the material and product exchange types.
type (
	MatlRequest          = exchange.Request[*resource.Material]
	MatlRequestPortfolio = exchange.RequestPortfolio[*resource.Material]
	MatlBidPortfolio     = exchange.BidPortfolio[*resource.Material]
	MatlCommodMap        = exchange.CommodMap[*resource.Material]
	MatlPrefMap          = exchange.PrefMap[*resource.Material]
	MatlTrade            = exchange.Trade[*resource.Material]
	MatlResponse         = exchange.Response[*resource.Material]

	ProdRequest          = exchange.Request[*resource.Product]
	ProdRequestPortfolio = exchange.RequestPortfolio[*resource.Product]
	ProdBidPortfolio     = exchange.BidPortfolio[*resource.Product]
	ProdCommodMap        = exchange.CommodMap[*resource.Product]
	ProdPrefMap          = exchange.PrefMap[*resource.Product]
	ProdTrade            = exchange.Trade[*resource.Product]
	ProdResponse         = exchange.Response[*resource.Product]
)

// MaterialRequester publishes material requests each exchange.
type MaterialRequester interface {
	GetMatlRequests() ([]*MatlRequestPortfolio, error)
}

// MaterialBidder answers material requests and supplies matched trades.
type MaterialBidder interface {
	GetMatlBids(commods MatlCommodMap) ([]*MatlBidPortfolio, error)
	GetMatlTrades(trades []MatlTrade) ([]MatlResponse, error)
}

// MaterialAcceptor receives traded material.
type MaterialAcceptor interface {
	AcceptMatlTrades(responses []MatlResponse) error
}

// MaterialPrefAdjuster rewrites material preferences. Facilities see their
// own requests; institutions and regions see those of their descendants.
type MaterialPrefAdjuster interface {
	AdjustMatlPrefs(prefs MatlPrefMap) error
}

// ProductRequester publishes product requests each exchange.
type ProductRequester interface {
	GetProductRequests() ([]*ProdRequestPortfolio, error)
}

// ProductBidder answers product requests and supplies matched trades.
type ProductBidder interface {
	GetProductBids(commods ProdCommodMap) ([]*ProdBidPortfolio, error)
	GetProductTrades(trades []ProdTrade) ([]ProdResponse, error)
}

// ProductAcceptor receives traded products.
type ProductAcceptor interface {
	AcceptProductTrades(responses []ProdResponse) error
}

// ProductPrefAdjuster rewrites product preferences.
type ProductPrefAdjuster interface {
	AdjustProductPrefs(prefs ProdPrefMap) error
}
