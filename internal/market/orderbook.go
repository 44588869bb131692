package market

import (
	"sort"
	"time"
)

// Level is one price rung of an order book ladder.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook is a depth snapshot. Bids are sorted by price descending, asks ascending.
type OrderBook struct {
	Symbol    string    `json:"symbol"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

// Sorted returns a copy with ladders in canonical order and empty rungs removed.
func (ob OrderBook) Sorted() OrderBook {
	out := ob
	out.Bids = cleanLevels(ob.Bids)
	out.Asks = cleanLevels(ob.Asks)
	sort.Slice(out.Bids, func(i, j int) bool { return out.Bids[i].Price > out.Bids[j].Price })
	sort.Slice(out.Asks, func(i, j int) bool { return out.Asks[i].Price < out.Asks[j].Price })
	return out
}

// Mid is the midpoint of best bid and best ask, or 0 when a side is empty.
func (ob OrderBook) Mid() float64 {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return 0
	}
	return (ob.Bids[0].Price + ob.Asks[0].Price) / 2
}

func cleanLevels(in []Level) []Level {
	out := make([]Level, 0, len(in))
	for _, lv := range in {
		if lv.Price > 0 && lv.Size > 0 {
			out = append(out, lv)
		}
	}
	return out
}
