package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/metrics"
	"tradeengine/internal/position"
	"tradeengine/internal/risk"
	"tradeengine/internal/signal"
)

// MonitorCycle expires stale signals, executes approved ones and walks every
// live position: price tick, protective-order retry, risk adjustments.
func (e *Engine) MonitorCycle(ctx context.Context) (err error) {
	started := time.Now()
	defer func() { metrics.ObserveCycle("monitor", started, err) }()
	if err := e.checkHealth(ctx); err != nil {
		return err
	}
	expired, err := e.signals.ExpireStale(ctx)
	if err != nil {
		return fmt.Errorf("%w: expire stale signals: %v", ErrPersistenceUnavailable, err)
	}
	if expired > 0 {
		metrics.SignalsTotal.WithLabelValues(signal.StatusExpired.String()).Add(float64(expired))
	}
	if err := e.ExecuteApproved(ctx); err != nil {
		return err
	}
	live, err := e.positions.List(ctx, "", position.StatusOpen, position.StatusPartiallyClosed, position.StatusManualReview)
	if err != nil {
		return fmt.Errorf("%w: list positions: %v", ErrPersistenceUnavailable, err)
	}
	bySymbol := make(map[string][]*position.Position)
	var order []string
	for _, p := range live {
		key := p.Symbol + "|" + p.Exchange + "|" + p.MarketType.String()
		if _, ok := bySymbol[key]; !ok {
			order = append(order, key)
		}
		bySymbol[key] = append(bySymbol[key], p)
	}
	var eg errgroup.Group
	eg.SetLimit(e.cfg.Workers)
	for _, key := range order {
		group := bySymbol[key]
		eg.Go(func() error {
			e.monitorSymbol(ctx, group)
			return nil
		})
	}
	return eg.Wait()
}

// monitorSymbol shares one book snapshot between the positions of a symbol.
func (e *Engine) monitorSymbol(ctx context.Context, group []*position.Position) {
	first := group[0]
	venue := e.venueOf(first)
	src, err := e.market.Source(venue)
	if err != nil {
		logger.Warnf("monitor %s: %v", first.Symbol, err)
		return
	}
	bctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	book, err := src.FetchOrderBook(bctx, first.Symbol, e.cfg.BookDepth)
	cancel()
	if err != nil {
		logger.Warnf("monitor %s: order book unavailable: %v", first.Symbol, err)
		return
	}
	book = book.Sorted()
	mid := book.Mid()
	if mid <= 0 {
		logger.Warnf("monitor %s: empty order book", first.Symbol)
		return
	}
	an := e.risk.Analyze(book, e.momentum(ctx, src, first.Symbol))
	price := decimal.NewFromFloat(mid)
	for _, p := range group {
		e.monitorPosition(ctx, p.ID, price, an)
	}
}

func (e *Engine) monitorPosition(ctx context.Context, id string, price decimal.Decimal, an risk.Analysis) {
	p, err := e.positions.UpdateOnPriceTick(ctx, id, price)
	if err != nil {
		if !errors.Is(err, position.ErrTerminal) {
			logger.Warnf("monitor position %s: tick: %v", id, err)
		}
		return
	}
	if p.Status.Terminal() {
		metrics.PositionEvents.WithLabelValues("closed").Inc()
		return
	}
	if !p.Status.Live() {
		return
	}
	if !p.SLTPApplied {
		if p, err = e.positions.ApplyProtectiveOrders(ctx, id); err != nil {
			logger.Warnf("monitor position %s: protective orders: %v", id, err)
			return
		}
	}
	recs := e.risk.Recommend(an, p.Exposure())
	if len(recs) == 0 {
		return
	}
	applied, err := e.positions.ApplyRiskAdjustments(ctx, id, recs)
	if err != nil {
		logger.Warnf("monitor position %s: risk adjustments: %v", id, err)
	}
	for _, rec := range applied {
		metrics.PositionEvents.WithLabelValues("adjust_" + string(rec.Kind)).Inc()
	}
}

// momentum over the fastest configured timeframe; 0 when candles are unavailable.
func (e *Engine) momentum(ctx context.Context, src market.Source, sym string) float64 {
	if len(e.cfg.Timeframes) == 0 {
		return 0
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	candles, err := src.FetchCandles(cctx, sym, e.cfg.Timeframes[0], e.cfg.MomentumLookback+1)
	if err != nil {
		logger.Debugf("monitor %s: momentum unavailable: %v", sym, err)
		return 0
	}
	closes, _, _, _ := candles.Series()
	return risk.Momentum(closes, e.cfg.MomentumLookback)
}

func (e *Engine) venueOf(p *position.Position) market.Venue {
	v := market.Venue{Exchange: p.Exchange, MarketType: p.MarketType}
	if v.Exchange == "" {
		v.Exchange = e.cfg.Venue.Exchange
	}
	if v.MarketType == 0 {
		v.MarketType = e.cfg.Venue.MarketType
	}
	return v
}
