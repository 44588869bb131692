package position

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeengine/internal/broadcast"
	"tradeengine/internal/gateway/exchange"
	"tradeengine/internal/logger"
	"tradeengine/internal/pkg/keylock"
	"tradeengine/internal/pkg/trading"
	"tradeengine/internal/signal"
	"tradeengine/internal/store/journal"
)

type Config struct {
	// TrailingActivation is the favourable move from entry that must be
	// exceeded to arm the trailing stop (0.01 = 1%).
	TrailingActivation decimal.Decimal
	// TrailingDistance is how far the trailing stop sits behind the best price.
	TrailingDistance decimal.Decimal
	FeeRate          decimal.Decimal
	// MinAdjustmentConfidence filters risk recommendations (strictly greater).
	MinAdjustmentConfidence float64
}

func DefaultConfig() Config {
	return Config{
		TrailingActivation:      decimal.RequireFromString("0.01"),
		TrailingDistance:        decimal.RequireFromString("0.005"),
		FeeRate:                 decimal.RequireFromString("0.0004"),
		MinAdjustmentConfidence: 0.7,
	}
}

type Options struct {
	Config    Config
	Publisher broadcast.Publisher
	Journal   journal.Recorder
	Now       func() time.Time
}

// Reconciler serializes mutations per position; different positions proceed
// concurrently.
type Reconciler struct {
	store   Store
	signals SignalLookup
	gw      exchange.Gateway
	cfg     Config
	pub     broadcast.Publisher
	journal journal.Recorder
	now     func() time.Time
	locks   *keylock.Map
}

func NewReconciler(store Store, signals SignalLookup, gw exchange.Gateway, opts Options) *Reconciler {
	r := &Reconciler{
		store:   store,
		signals: signals,
		gw:      gw,
		cfg:     opts.Config,
		pub:     opts.Publisher,
		journal: opts.Journal,
		now:     opts.Now,
		locks:   keylock.New(),
	}
	if r.pub == nil {
		r.pub = broadcast.Nop{}
	}
	if r.journal == nil {
		r.journal = journal.Nop{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

func (r *Reconciler) Config() Config { return r.cfg }

// OpenFromFill creates the position for a filled entry. A second call for the same
// orderLinkId returns the existing position with created=false.
func (r *Reconciler) OpenFromFill(ctx context.Context, rep exchange.ExecutionReport, sig *signal.Signal) (pos *Position, created bool, err error) {
	if sig == nil {
		return nil, false, fmt.Errorf("open position: originating signal required")
	}
	if !rep.Filled() {
		return nil, false, fmt.Errorf("open position for signal %s: order %s not filled (%s)", sig.ID, rep.OrderID, rep.Status)
	}
	if rep.OrderLinkID != "" && rep.OrderLinkID != sig.OrderLinkID {
		return nil, false, fmt.Errorf("open position: report link %s does not match signal link %s", rep.OrderLinkID, sig.OrderLinkID)
	}
	unlock := r.locks.Lock("link:" + sig.OrderLinkID)
	defer unlock()

	existing, err := r.store.GetPositionByOrderLinkID(ctx, sig.OrderLinkID)
	switch {
	case err == nil:
		logger.Infof("position for link %s already exists (%s), skipping open", sig.OrderLinkID, existing.ID)
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	now := r.now().UTC()
	price := rep.AvgPrice
	if !price.IsPositive() {
		price = sig.EntryPrice
	}
	p := &Position{
		ID:               uuid.NewString(),
		Symbol:           sig.Symbol,
		Side:             sig.Side,
		Status:           StatusOpen,
		Exchange:         sig.Exchange,
		MarketType:       sig.MarketType,
		EntryPrice:       price,
		CurrentPrice:     price,
		Quantity:         rep.FilledQty,
		InitialQuantity:  rep.FilledQty,
		StopLossPrice:    sig.StopLoss,
		TakeProfitPrice:  sig.TakeProfit,
		OriginalSignalID: sig.ID,
		OrderLinkID:      sig.OrderLinkID,
		SignalSource:     sig.Source,
		HighestPrice:     price,
		LowestPrice:      price,
		Fees:             rep.Fee,
		OpenTime:         now,
		UpdatedAt:        now,
	}
	if err := r.store.CreatePosition(ctx, p); err != nil {
		return nil, false, fmt.Errorf("persist position: %w", err)
	}
	r.audit(ctx, p, "", "opened from order "+rep.OrderID)
	r.publish(broadcast.PositionOpened, p)
	logger.Infof("position opened id=%s %s %s qty=%s @ %s link=%s", p.ID, p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.OrderLinkID)
	return p.Clone(), true, nil
}

// ApplyProtectiveOrders places stop-loss and take-profit once per position.
func (r *Reconciler) ApplyProtectiveOrders(ctx context.Context, id string) (*Position, error) {
	return r.mutate(ctx, id, func(p *Position) (broadcast.EventType, error) {
		placed, err := r.protectLocked(ctx, p)
		if err != nil || !placed {
			return "", err
		}
		return broadcast.PositionUpdated, nil
	})
}

// protectLocked places missing protective orders; the caller holds the lock and
// persists. It reports whether the position changed.
func (r *Reconciler) protectLocked(ctx context.Context, p *Position) (bool, error) {
	if p.SLTPApplied {
		return false, nil
	}
	if !p.Status.Live() {
		return false, fmt.Errorf("%w: %s is %s", ErrTerminal, p.ID, p.Status)
	}
	if r.gw == nil {
		return false, fmt.Errorf("no execution gateway")
	}
	if p.StopLossPrice.IsZero() && p.TakeProfitPrice.IsZero() {
		logger.Warnf("position %s has no stop-loss or take-profit to place", p.ID)
		return false, nil
	}
	orders := []struct {
		kind  string
		typ   exchange.OrderType
		price decimal.Decimal
	}{
		{"sl", exchange.OrderStopMarket, p.StopLossPrice},
		{"tp", exchange.OrderTakeProfit, p.TakeProfitPrice},
	}
	for _, o := range orders {
		if !o.price.IsPositive() {
			continue
		}
		rep, err := r.gw.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:      p.Symbol,
			Side:        p.Side.Opposite(),
			Type:        o.typ,
			Quantity:    p.Quantity,
			StopPrice:   o.price,
			OrderLinkID: exchange.DerivedLinkID(p.OrderLinkID, o.kind),
			ReduceOnly:  true,
		})
		if err != nil {
			return false, fmt.Errorf("place %s for %s: %w", o.kind, p.ID, err)
		}
		if !rep.Accepted() {
			return false, fmt.Errorf("place %s for %s: venue status %s %s", o.kind, p.ID, rep.Status, rep.Reason)
		}
	}
	now := r.now().UTC()
	p.SLTPApplied = true
	p.LastSLTPCheck = &now
	logger.Infof("protective orders placed position=%s sl=%s tp=%s", p.ID, p.StopLossPrice, p.TakeProfitPrice)
	return true, nil
}

// UpdateOnPriceTick tracks price extrema and P&L, arms and trails the trailing stop,
// and exits when a stop, target or trailing stop is crossed.
func (r *Reconciler) UpdateOnPriceTick(ctx context.Context, id string, price decimal.Decimal) (*Position, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("tick for %s: price must be positive", id)
	}
	return r.mutate(ctx, id, func(p *Position) (broadcast.EventType, error) {
		if p.Status.Terminal() {
			return "", fmt.Errorf("%w: %s", ErrTerminal, p.ID)
		}
		now := r.now().UTC()
		p.CurrentPrice = price
		if price.GreaterThan(p.HighestPrice) {
			p.HighestPrice = price
		}
		if p.LowestPrice.IsZero() || price.LessThan(p.LowestPrice) {
			p.LowestPrice = price
		}
		p.UnrealizedPnL = p.PnLAt(price)
		if !p.Status.Live() {
			return broadcast.PositionUpdated, nil
		}
		r.trail(p)
		p.LastSLTPCheck = &now
		if reason := exitHit(p, price); reason != "" {
			if err := r.exitLocked(ctx, p, price, reason); err != nil {
				return "", err
			}
			return broadcast.PositionClosed, nil
		}
		return broadcast.PositionUpdated, nil
	})
}

func (r *Reconciler) trail(p *Position) {
	one := decimal.NewFromInt(1)
	if p.IsLong() {
		move := p.HighestPrice.Sub(p.EntryPrice).Div(p.EntryPrice)
		if !p.TrailingStopInitialized && move.GreaterThan(r.cfg.TrailingActivation) {
			p.TrailingStopInitialized = true
			logger.Infof("trailing stop armed position=%s move=%s", p.ID, move.StringFixed(4))
		}
		if p.TrailingStopInitialized {
			cand := p.HighestPrice.Mul(one.Sub(r.cfg.TrailingDistance))
			if cand.GreaterThan(p.TrailingStopPrice) {
				p.TrailingStopPrice = cand
			}
		}
		return
	}
	move := p.EntryPrice.Sub(p.LowestPrice).Div(p.EntryPrice)
	if !p.TrailingStopInitialized && move.GreaterThan(r.cfg.TrailingActivation) {
		p.TrailingStopInitialized = true
		logger.Infof("trailing stop armed position=%s move=%s", p.ID, move.StringFixed(4))
	}
	if p.TrailingStopInitialized {
		cand := p.LowestPrice.Mul(one.Add(r.cfg.TrailingDistance))
		if p.TrailingStopPrice.IsZero() || cand.LessThan(p.TrailingStopPrice) {
			p.TrailingStopPrice = cand
		}
	}
}

func exitHit(p *Position, price decimal.Decimal) string {
	if p.IsLong() {
		switch {
		case p.StopLossPrice.IsPositive() && price.LessThanOrEqual(p.StopLossPrice):
			return ExitStopLoss
		case p.TakeProfitPrice.IsPositive() && price.GreaterThanOrEqual(p.TakeProfitPrice):
			return ExitTakeProfit
		case p.TrailingStopInitialized && price.LessThanOrEqual(p.TrailingStopPrice):
			return ExitTrailingStop
		}
		return ""
	}
	switch {
	case p.StopLossPrice.IsPositive() && price.GreaterThanOrEqual(p.StopLossPrice):
		return ExitStopLoss
	case p.TakeProfitPrice.IsPositive() && price.LessThanOrEqual(p.TakeProfitPrice):
		return ExitTakeProfit
	case p.TrailingStopInitialized && p.TrailingStopPrice.IsPositive() && price.GreaterThanOrEqual(p.TrailingStopPrice):
		return ExitTrailingStop
	}
	return ""
}

// ApplyPartialClose records an executed partial exit.
func (r *Reconciler) ApplyPartialClose(ctx context.Context, id string, qty, exitPrice decimal.Decimal, reason string) (*Position, error) {
	return r.mutate(ctx, id, func(p *Position) (broadcast.EventType, error) {
		if err := r.partialLocked(p, qty, exitPrice, reason); err != nil {
			return "", err
		}
		if p.Status.Terminal() {
			return broadcast.PositionClosed, nil
		}
		return broadcast.PositionUpdated, nil
	})
}

func (r *Reconciler) partialLocked(p *Position, qty, exitPrice decimal.Decimal, reason string) error {
	if p.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, p.ID)
	}
	if !qty.IsPositive() {
		return fmt.Errorf("partial close of %s: quantity must be positive", p.ID)
	}
	if qty.GreaterThan(p.Quantity) {
		return fmt.Errorf("%w: %s > %s on %s", ErrOverClose, qty, p.Quantity, p.ID)
	}
	p.RealizedPnL = p.RealizedPnL.Add(trading.PnL(p.IsLong(), p.EntryPrice, exitPrice, qty))
	p.Quantity = p.Quantity.Sub(qty)
	p.CurrentPrice = exitPrice
	p.PartialCloses++
	if p.Quantity.IsZero() {
		r.finish(p, StatusClosed, nonEmpty(reason, ExitManual))
		return nil
	}
	p.Status = StatusPartiallyClosed
	p.UnrealizedPnL = p.PnLAt(exitPrice)
	return nil
}

// ReducePosition sells ratio of the open quantity at market and records the fill.
func (r *Reconciler) ReducePosition(ctx context.Context, id string, ratio, price decimal.Decimal, reason string) (*Position, error) {
	return r.mutate(ctx, id, func(p *Position) (broadcast.EventType, error) {
		if !p.Status.Live() {
			return "", fmt.Errorf("%w: %s is %s", ErrTerminal, p.ID, p.Status)
		}
		qty := trading.CloseQuantity(p.Quantity, p.InitialQuantity, ratio, false)
		if !qty.IsPositive() {
			return "", nil
		}
		rep, err := r.placeExit(ctx, p, qty, price, fmt.Sprintf("p%d", p.PartialCloses+1))
		if err != nil {
			return "", err
		}
		if err := r.partialLocked(p, rep.FilledQty, fillPrice(rep, price), reason); err != nil {
			return "", err
		}
		p.Fees = p.Fees.Add(rep.Fee)
		if p.Status.Terminal() {
			return broadcast.PositionClosed, nil
		}
		return broadcast.PositionUpdated, nil
	})
}

// ClosePosition records a terminal exit. Closing a closed position is a logged no-op.
func (r *Reconciler) ClosePosition(ctx context.Context, id string, exitPrice decimal.Decimal, reason string) (*Position, error) {
	return r.mutate(ctx, id, func(p *Position) (broadcast.EventType, error) {
		if p.Status.Terminal() {
			logger.Warnf("close position %s ignored: already %s (%s)", p.ID, p.Status, p.ExitReason)
			return "", nil
		}
		r.closeLocked(p, exitPrice, reason)
		return broadcast.PositionClosed, nil
	})
}

// Exit flattens the position at market and closes it.
func (r *Reconciler) Exit(ctx context.Context, id string, price decimal.Decimal, reason string) (*Position, error) {
	return r.mutate(ctx, id, func(p *Position) (broadcast.EventType, error) {
		if p.Status.Terminal() {
			logger.Warnf("exit position %s ignored: already %s", p.ID, p.Status)
			return "", nil
		}
		if err := r.exitLocked(ctx, p, price, reason); err != nil {
			return "", err
		}
		return broadcast.PositionClosed, nil
	})
}

// MarkLiquidated records a venue liquidation.
func (r *Reconciler) MarkLiquidated(ctx context.Context, id string, price decimal.Decimal) (*Position, error) {
	return r.mutate(ctx, id, func(p *Position) (broadcast.EventType, error) {
		if p.Status.Terminal() {
			return "", nil
		}
		p.RealizedPnL = p.RealizedPnL.Add(p.PnLAt(price))
		p.CurrentPrice = price
		p.Quantity = decimal.Zero
		r.finish(p, StatusLiquidated, ExitLiquidation)
		return broadcast.PositionClosed, nil
	})
}

func (r *Reconciler) exitLocked(ctx context.Context, p *Position, price decimal.Decimal, reason string) error {
	if p.Quantity.IsPositive() {
		rep, err := r.placeExit(ctx, p, p.Quantity, price, "cx")
		if err != nil {
			return err
		}
		price = fillPrice(rep, price)
		p.Fees = p.Fees.Add(rep.Fee)
	}
	r.closeLocked(p, price, reason)
	return nil
}

func (r *Reconciler) closeLocked(p *Position, price decimal.Decimal, reason string) {
	if p.Quantity.IsPositive() {
		p.RealizedPnL = p.RealizedPnL.Add(p.PnLAt(price))
	}
	p.CurrentPrice = price
	p.Quantity = decimal.Zero
	p.UnrealizedPnL = decimal.Zero
	r.finish(p, StatusClosed, nonEmpty(reason, ExitManual))
	logger.Infof("position closed id=%s reason=%s price=%s realized=%s", p.ID, p.ExitReason, price, p.RealizedPnL)
}

func (r *Reconciler) finish(p *Position, status Status, reason string) {
	now := r.now().UTC()
	p.Status = status
	p.CloseTime = &now
	p.ExitReason = reason
	p.UnrealizedPnL = decimal.Zero
}

func (r *Reconciler) placeExit(ctx context.Context, p *Position, qty, price decimal.Decimal, kind string) (exchange.ExecutionReport, error) {
	if r.gw == nil {
		return exchange.ExecutionReport{}, fmt.Errorf("no execution gateway")
	}
	rep, err := r.gw.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:      p.Symbol,
		Side:        p.Side.Opposite(),
		Type:        exchange.OrderMarket,
		Quantity:    qty,
		Price:       price,
		OrderLinkID: exchange.DerivedLinkID(p.OrderLinkID, kind),
		ReduceOnly:  true,
	})
	if err != nil {
		return rep, fmt.Errorf("exit order for %s: %w", p.ID, err)
	}
	if !rep.Filled() {
		return rep, fmt.Errorf("exit order for %s not filled: %s %s", p.ID, rep.Status, rep.Reason)
	}
	return rep, nil
}

func (r *Reconciler) Get(ctx context.Context, id string) (*Position, error) {
	return r.store.GetPosition(ctx, id)
}

func (r *Reconciler) GetByOrderLinkID(ctx context.Context, link string) (*Position, error) {
	return r.store.GetPositionByOrderLinkID(ctx, link)
}

func (r *Reconciler) List(ctx context.Context, symbol string, statuses ...Status) ([]*Position, error) {
	return r.store.ListPositions(ctx, symbol, statuses...)
}

// mutate runs fn on a copy of the position under its lock and persists the copy
// when fn reports an event. On error nothing is written.
func (r *Reconciler) mutate(ctx context.Context, id string, fn func(p *Position) (broadcast.EventType, error)) (*Position, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	current, err := r.store.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	event, err := fn(next)
	if err != nil {
		return current, err
	}
	if event == "" {
		return current, nil
	}
	next.UpdatedAt = r.now().UTC()
	if err := r.store.UpdatePosition(ctx, next); err != nil {
		return current, fmt.Errorf("persist position %s: %w", id, err)
	}
	if current.Status != next.Status {
		r.audit(ctx, next, current.Status.String(), nonEmpty(next.ExitReason, next.ReviewReason))
	}
	r.publish(event, next)
	return next.Clone(), nil
}

func (r *Reconciler) publish(t broadcast.EventType, p *Position) {
	r.pub.Publish(broadcast.Event{Topic: broadcast.TopicPositions, Type: t, Payload: p.Clone()})
}

func (r *Reconciler) audit(ctx context.Context, p *Position, from, reason string) {
	err := r.journal.Append(ctx, journal.Entry{
		At:       r.now().UTC(),
		Entity:   journal.EntityPosition,
		EntityID: p.ID,
		From:     from,
		To:       p.Status.String(),
		Actor:    "reconciler",
		Reason:   reason,
	})
	if err != nil {
		logger.Warnf("journal position %s: %v", p.ID, err)
	}
}

func fillPrice(rep exchange.ExecutionReport, fallback decimal.Decimal) decimal.Decimal {
	if rep.AvgPrice.IsPositive() {
		return rep.AvgPrice
	}
	return fallback
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
