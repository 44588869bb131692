// Package paper is a simulated execution venue: market orders fill immediately at
// the request price, protective orders rest. Orders are remembered by link id, so a
// repeated request returns the first report.
package paper

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradeengine/internal/gateway/exchange"
	"tradeengine/internal/logger"
)

type Config struct {
	// FeeRate is charged on filled notional (0.0004 = 4 bps).
	FeeRate decimal.Decimal
	// Slippage moves market fills against the taker (0.0005 = 5 bps).
	Slippage decimal.Decimal
	Now      func() time.Time
}

type Gateway struct {
	mu     sync.Mutex
	cfg    Config
	orders map[string]exchange.ExecutionReport
	seq    int64
	// Reject, when set, decides whether to refuse a request (tests, dry runs).
	Reject func(req exchange.OrderRequest) string
}

func New(cfg Config) *Gateway {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gateway{cfg: cfg, orders: make(map[string]exchange.ExecutionReport)}
}

func (g *Gateway) Name() string { return "paper" }

func (g *Gateway) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.ExecutionReport, error) {
	if req.OrderLinkID == "" {
		return exchange.ExecutionReport{}, fmt.Errorf("%w: order link id required", exchange.ErrOrderRejected)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if rep, ok := g.orders[req.OrderLinkID]; ok {
		logger.Debugf("paper duplicate order link=%s -> %s", req.OrderLinkID, rep.OrderID)
		return rep, nil
	}
	if reason := g.validate(req); reason != "" {
		rep := exchange.ExecutionReport{OrderLinkID: req.OrderLinkID, Symbol: req.Symbol, Side: req.Side, Type: req.Type, Status: exchange.StatusRejected, Reason: reason, At: g.cfg.Now()}
		return rep, fmt.Errorf("%w: %s", exchange.ErrOrderRejected, reason)
	}
	g.seq++
	typ := req.Type
	if typ == "" {
		typ = exchange.OrderMarket
	}
	rep := exchange.ExecutionReport{
		OrderID:     "paper-" + strconv.FormatInt(g.seq, 10),
		OrderLinkID: req.OrderLinkID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        typ,
		Status:      exchange.StatusNew,
		At:          g.cfg.Now(),
	}
	if typ == exchange.OrderMarket || typ == exchange.OrderLimit {
		price := req.Price
		if typ == exchange.OrderMarket && g.cfg.Slippage.IsPositive() {
			adj := decimal.NewFromInt(int64(req.Side.Sign())).Mul(g.cfg.Slippage)
			price = price.Mul(decimal.NewFromInt(1).Add(adj))
		}
		rep.Status = exchange.StatusFilled
		rep.FilledQty = req.Quantity
		rep.AvgPrice = price
		rep.Fee = price.Mul(req.Quantity).Mul(g.cfg.FeeRate)
	}
	g.orders[req.OrderLinkID] = rep
	return rep, nil
}

func (g *Gateway) QueryOrder(_ context.Context, _ string, link string) (exchange.ExecutionReport, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rep, ok := g.orders[link]
	return rep, ok, nil
}

// Orders returns how many distinct orders were accepted.
func (g *Gateway) Orders() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}

func (g *Gateway) validate(req exchange.OrderRequest) string {
	switch {
	case !req.Side.Valid():
		return "invalid side"
	case !req.Quantity.IsPositive():
		return "quantity must be positive"
	case (req.Type == "" || req.Type == exchange.OrderMarket || req.Type == exchange.OrderLimit) && !req.Price.IsPositive():
		return "price required"
	case (req.Type == exchange.OrderStopMarket || req.Type == exchange.OrderTakeProfit) && !req.StopPrice.IsPositive():
		return "stop price required"
	}
	if g.Reject != nil {
		return g.Reject(req)
	}
	return ""
}
