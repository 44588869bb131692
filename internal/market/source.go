package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrDataUnavailable marks insufficient history or a failed fetch. Callers exclude the
// affected timeframe or symbol from the current cycle instead of failing it.
var ErrDataUnavailable = errors.New("market data unavailable")

// MarketType selects the product family on a venue.
type MarketType int

const (
	MarketSpot MarketType = iota + 1
	MarketFutures
)

func (m MarketType) String() string {
	switch m {
	case MarketSpot:
		return "spot"
	case MarketFutures:
		return "futures"
	default:
		return "unknown"
	}
}

func ParseMarketType(s string) (MarketType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot":
		return MarketSpot, nil
	case "futures", "linear", "perp", "usdm":
		return MarketFutures, nil
	default:
		return 0, fmt.Errorf("unknown market type %q", s)
	}
}

// Venue identifies where data comes from.
type Venue struct {
	Exchange   string
	MarketType MarketType
}

func (v Venue) String() string {
	return strings.ToLower(v.Exchange) + ":" + v.MarketType.String()
}

// Source is the market-data collaborator. Implementations normalize venue payloads.
type Source interface {
	FetchCandles(ctx context.Context, symbol string, tf Timeframe, limit int) (Candles, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
}

// Resolver maps a venue to its Source.
type Resolver interface {
	Source(v Venue) (Source, error)
}

// Registry is a Resolver backed by a map.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

func (r *Registry) Register(v Venue, src Source) {
	r.mu.Lock()
	r.sources[v.String()] = src
	r.mu.Unlock()
}

func (r *Registry) Source(v Venue) (Source, error) {
	r.mu.RLock()
	src, ok := r.sources[v.String()]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no source for %s", ErrDataUnavailable, v)
	}
	return src, nil
}
