package exchange

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"

	"github.com/cycsim/cycsim/sim/recorder"
	"github.com/cycsim/cycsim/sim/resource"
)

// execute asks every bidder for its resources, journals the transfers, and
// then hands the resources to requesters. All bidders supply before any
// requester accepts.
func (e *Exchange[R]) execute(env Env, c *collected[R], trades []Trade[R]) ([]Response[R], error) {
	if len(trades) == 0 {
		return nil, nil
	}
	byID := make(map[int]Trader[R], len(c.traders))
	for _, tr := range c.traders {
		byID[tr.AgentID()] = tr
	}

	supplied := make(map[arcPair[R]]R, len(trades))
	for _, bidder := range traderOrder(trades, func(t Trade[R]) int { return t.Bid.Bidder() }) {
		mine := filterTrades(trades, func(t Trade[R]) bool { return t.Bid.Bidder() == bidder })
		var resps []Response[R]
		if err := guard(bidder, "supply", func() (err error) {
			resps, err = byID[bidder].Supply(mine)
			return err
		}); err != nil {
			return nil, err
		}
		for _, r := range resps {
			supplied[arcPair[R]{req: r.Trade.Request, bid: r.Trade.Bid}] = r.Resource
		}
	}

	var delivered []Response[R]
	for _, t := range trades {
		rsrc, ok := supplied[arcPair[R]{req: t.Request, bid: t.Bid}]
		if !ok || isNil(rsrc) || rsrc.Quantity() <= resource.EpsRsrc {
			if err := e.warn(env, fmt.Sprintf("agent %d did not deliver %g of %s to agent %d; trade dropped",
				t.Bid.Bidder(), t.Amount, t.Request.Commodity, t.Request.Requester())); err != nil {
				return nil, err
			}
			continue
		}
		if q := rsrc.Quantity(); math.Abs(q-t.Amount) > resource.EpsRsrc {
			if err := e.warn(env, fmt.Sprintf("agent %d delivered %g of %s to agent %d, promised %g",
				t.Bid.Bidder(), q, t.Request.Commodity, t.Request.Requester(), t.Amount)); err != nil {
				return nil, err
			}
		}
		if err := e.recordTransaction(env, t, rsrc); err != nil {
			return nil, err
		}
		delivered = append(delivered, Response[R]{Trade: t, Resource: rsrc})
	}

	for _, requester := range traderOrder(delivered, func(r Response[R]) int { return r.Trade.Request.Requester() }) {
		mine := filterTrades(delivered, func(r Response[R]) bool { return r.Trade.Request.Requester() == requester })
		if err := guard(requester, "accept", func() error { return byID[requester].Accept(mine) }); err != nil {
			return nil, err
		}
	}
	return delivered, nil
}

func (e *Exchange[R]) recordTransaction(env Env, t Trade[R], rsrc R) error {
	if env.IDs == nil || env.Recorder == nil {
		return nil
	}
	err := env.Recorder.NewDatum("Transactions").
		AddVal("TransactionId", env.IDs.NextTransactionID()).
		AddVal("SenderId", t.Bid.Bidder()).
		AddVal("ReceiverId", t.Request.Requester()).
		AddVal("ResourceId", rsrc.StateID()).
		AddVal("Commodity", t.Request.Commodity).
		AddVal("Time", env.Time).
		Record()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, recorder.ErrBackend):
		if env.Warn == nil {
			return nil
		}
		return env.Warn("backend", fmt.Sprintf("recording transaction: %v", err))
	default:
		return fmt.Errorf("recording transaction: %w", err)
	}
}

func (e *Exchange[R]) warn(env Env, msg string) error {
	if env.Warn == nil {
		return nil
	}
	return env.Warn("exchange", fmt.Sprintf("%s exchange: %s", e.cfg.Kind, msg))
}

// traderOrder returns the distinct agent ids of items in ascending order.
func traderOrder[T any](items []T, id func(T) int) []int {
	var ids []int
	for _, it := range items {
		ids = append(ids, id(it))
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func filterTrades[T any](items []T, keep func(T) bool) []T {
	var out []T
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func isNil(r any) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
