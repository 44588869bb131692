package position

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradeengine/internal/broadcast"
	"tradeengine/internal/logger"
	"tradeengine/internal/risk"
)

// Exposure is the view the risk analyzer works on.
func (p *Position) Exposure() risk.Exposure {
	return risk.Exposure{
		Side:       p.Side,
		Current:    p.CurrentPrice,
		StopLoss:   p.StopLossPrice,
		TakeProfit: p.TakeProfitPrice,
	}
}

// ApplyRiskAdjustments applies recommendations whose confidence exceeds the
// configured minimum. A stop is only ever tightened, and never past the
// breakeven-with-fees price. It returns what was applied.
func (r *Reconciler) ApplyRiskAdjustments(ctx context.Context, id string, recs []risk.Recommendation) ([]risk.Recommendation, error) {
	var applied []risk.Recommendation
	var reduce *risk.Recommendation
	_, err := r.mutate(ctx, id, func(p *Position) (broadcast.EventType, error) {
		if !p.Status.Live() {
			return "", nil
		}
		changed := false
		for _, rec := range recs {
			if rec.Confidence <= r.cfg.MinAdjustmentConfidence {
				continue
			}
			switch rec.Kind {
			case risk.AdjustStopLoss:
				if sl, ok := r.clampStop(p, rec.Price); ok {
					logger.Infof("position %s stop-loss %s -> %s (%s)", p.ID, p.StopLossPrice, sl, rec.Reason)
					p.StopLossPrice = sl
					rec.Price = sl
					applied = append(applied, rec)
					changed = true
				}
			case risk.AdjustTakeProfit:
				if validTarget(p, rec.Price) {
					logger.Infof("position %s take-profit %s -> %s (%s)", p.ID, p.TakeProfitPrice, rec.Price, rec.Reason)
					p.TakeProfitPrice = rec.Price
					applied = append(applied, rec)
					changed = true
				}
			case risk.ReduceSize:
				rec := rec
				reduce = &rec
			}
		}
		if !changed {
			return "", nil
		}
		return broadcast.PositionUpdated, nil
	})
	if err != nil {
		return applied, err
	}
	if reduce != nil {
		p, err := r.Get(ctx, id)
		if err != nil {
			return applied, err
		}
		if _, err := r.ReducePosition(ctx, id, reduce.Ratio, p.CurrentPrice, ExitRiskReduce); err != nil {
			return applied, fmt.Errorf("reduce %s: %w", id, err)
		}
		applied = append(applied, *reduce)
	}
	return applied, nil
}

// clampStop returns the stop to apply: tighter than the current one, on the loss
// side of the current price, and capped at breakeven-with-fees.
func (r *Reconciler) clampStop(p *Position, sl decimal.Decimal) (decimal.Decimal, bool) {
	if !sl.IsPositive() {
		return sl, false
	}
	be := p.BreakevenWithFees(r.cfg.FeeRate)
	if p.IsLong() {
		if sl.GreaterThan(be) {
			sl = be
		}
		if sl.GreaterThanOrEqual(p.CurrentPrice) || (!p.StopLossPrice.IsZero() && !sl.GreaterThan(p.StopLossPrice)) {
			return sl, false
		}
		return sl, true
	}
	if sl.LessThan(be) {
		sl = be
	}
	if sl.LessThanOrEqual(p.CurrentPrice) || (!p.StopLossPrice.IsZero() && !sl.LessThan(p.StopLossPrice)) {
		return sl, false
	}
	return sl, true
}

func validTarget(p *Position, tp decimal.Decimal) bool {
	if !tp.IsPositive() || tp.Equal(p.TakeProfitPrice) {
		return false
	}
	if p.IsLong() {
		return tp.GreaterThan(p.CurrentPrice)
	}
	return tp.LessThan(p.CurrentPrice)
}
