package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tradeengine/internal/confluence"
	"tradeengine/internal/gateway/provider"
	"tradeengine/internal/logger"
	"tradeengine/internal/metrics"
	"tradeengine/internal/position"
	"tradeengine/internal/signal"
	"tradeengine/internal/types"
)

// ScanOutcome records what one symbol produced in a scan cycle.
type ScanOutcome struct {
	Symbol string
	Signal *signal.Signal
	Skip   string
}

type snapshot struct {
	Confluence   confluence.Verdict            `json:"confluence"`
	Confirmation confluence.ConfirmationResult `json:"confirmation"`
	Boost        *boostNote                    `json:"ai_boost,omitempty"`
}

type boostNote struct {
	Value  float64 `json:"value"`
	Reason string  `json:"reason,omitempty"`
	Model  string  `json:"model,omitempty"`
}

// ScanCycle evaluates every configured symbol on a bounded pool.
func (e *Engine) ScanCycle(ctx context.Context) error {
	_, err := e.Scan(ctx)
	return err
}

// Scan is ScanCycle returning per-symbol outcomes.
func (e *Engine) Scan(ctx context.Context) (out []ScanOutcome, err error) {
	started := time.Now()
	defer func() { metrics.ObserveCycle("scan", started, err) }()
	if err := e.checkHealth(ctx); err != nil {
		return nil, err
	}
	var mu sync.Mutex
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.Workers)
	for _, sym := range e.cfg.Symbols {
		sym := sym
		eg.Go(func() error {
			res, err := e.scanSymbol(gctx, sym)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, res)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return out, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return out, nil
}

// scanSymbol returns an error only when persistence fails; every analysis
// problem degrades to a skip.
func (e *Engine) scanSymbol(ctx context.Context, sym string) (ScanOutcome, error) {
	out := ScanOutcome{Symbol: sym}
	busy, err := e.hasLiveWork(ctx, sym)
	if err != nil {
		return out, err
	}
	if busy {
		out.Skip = "live signal or position"
		return out, nil
	}

	v := e.scorer.Score(ctx, sym, e.cfg.Venue, e.cfg.Timeframes...)
	for _, tf := range v.Missing {
		metrics.AnalysisFailures.WithLabelValues(tf.String()).Inc()
	}
	if !v.HasConfluence {
		out.Skip = "no confluence: " + v.Reason
		return out, nil
	}
	side, ok := types.SideFor(v.Dominant)
	if !ok {
		out.Skip = "dominant signal is neutral"
		return out, nil
	}
	primary, ok := v.Primary()
	if !ok || primary.LastClose <= 0 {
		out.Skip = "no primary price"
		return out, nil
	}

	conf := e.scorer.ConfirmHigherTimeframes(ctx, sym, primary.Timeframe, side, e.cfg.Venue)
	if conf.Verdict.Blocks() {
		out.Skip = fmt.Sprintf("higher timeframes: %s (%s)", conf.Verdict, conf.Reason)
		logger.Infof("scan %s: %s %s blocked, %s", sym, side, primary.Timeframe, out.Skip)
		return out, nil
	}

	confidence := v.Strength
	snap := snapshot{Confluence: v, Confirmation: conf}
	if note := e.boost(ctx, sym, side, v, conf); note != nil {
		snap.Boost = note
		confidence = math.Min(1, confidence+note.Value)
	}
	if confidence < e.cfg.MinConfidence {
		out.Skip = fmt.Sprintf("confidence %.2f below %.2f", confidence, e.cfg.MinConfidence)
		return out, nil
	}

	entry := decimal.NewFromFloat(primary.LastClose)
	qty := e.cfg.OrderNotional.Div(entry).Truncate(e.cfg.QuantityPrecision)
	if !qty.IsPositive() {
		out.Skip = fmt.Sprintf("notional %s too small for price %s", e.cfg.OrderNotional, entry)
		logger.Warnf("scan %s: %s", sym, out.Skip)
		return out, nil
	}
	sl, tp := e.protectiveLevels(side, entry)
	raw, err := json.Marshal(snap)
	if err != nil {
		logger.Warnf("scan %s: snapshot encode: %v", sym, err)
		raw = nil
	}
	sig, err := e.signals.Create(ctx, signal.Candidate{
		Symbol:       sym,
		Side:         side,
		EntryPrice:   entry,
		Quantity:     qty,
		StopLoss:     sl,
		TakeProfit:   tp,
		Confidence:   confidence,
		Timeframe:    primary.Timeframe,
		Venue:        e.cfg.Venue,
		Source:       signal.SourceConfluence,
		Confirmation: conf.Verdict.String(),
		Snapshot:     raw,
	})
	if err != nil {
		return out, fmt.Errorf("create signal %s: %w", sym, err)
	}
	metrics.SignalsTotal.WithLabelValues(sig.Status.String()).Inc()

	switch {
	case e.cfg.RequireUserConfirmation:
		sig, err = e.signals.RequestConfirmation(ctx, sig.ID, "confirmation "+conf.Verdict.String())
	case e.cfg.AutoApprove:
		sig, err = e.signals.Approve(ctx, sig.ID, "engine")
	}
	if err != nil {
		return out, fmt.Errorf("route signal %s: %w", sym, err)
	}
	metrics.SignalsTotal.WithLabelValues(sig.Status.String()).Inc()
	out.Signal = sig
	return out, nil
}

func (e *Engine) hasLiveWork(ctx context.Context, sym string) (bool, error) {
	sigs, err := e.signals.List(ctx, sym, signal.StatusPending, signal.StatusPendingUserConfirmation, signal.StatusApproved)
	if err != nil {
		return false, err
	}
	if len(sigs) > 0 {
		return true, nil
	}
	pos, err := e.positions.List(ctx, sym, position.StatusOpen, position.StatusPartiallyClosed, position.StatusManualReview)
	if err != nil {
		return false, err
	}
	return len(pos) > 0, nil
}

func (e *Engine) protectiveLevels(side types.Side, entry decimal.Decimal) (sl, tp decimal.Decimal) {
	one := decimal.NewFromInt(1)
	if side.IsLong() {
		return entry.Mul(one.Sub(e.cfg.StopLossPct)).Round(8), entry.Mul(one.Add(e.cfg.TakeProfitPct)).Round(8)
	}
	return entry.Mul(one.Add(e.cfg.StopLossPct)).Round(8), entry.Mul(one.Sub(e.cfg.TakeProfitPct)).Round(8)
}

// boost asks the AI provider for extra confidence; any failure means no boost.
func (e *Engine) boost(ctx context.Context, sym string, side types.Side, v confluence.Verdict, conf confluence.ConfirmationResult) *boostNote {
	if e.booster == nil {
		return nil
	}
	req := provider.BoostRequest{
		Symbol:       sym,
		Side:         string(side),
		Dominant:     v.Dominant.String(),
		Strength:     v.Strength,
		Confirmation: conf.Verdict.String(),
	}
	for _, tv := range v.Timeframes {
		req.Timeframes = append(req.Timeframes, provider.TimeframeView{
			Timeframe:  tv.Timeframe.String(),
			Direction:  tv.Direction.String(),
			Confidence: tv.Confidence,
		})
	}
	bctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	b, err := e.booster.Boost(bctx, req)
	if err != nil {
		logger.Warnf("scan %s: ai boost skipped: %v", sym, err)
		return nil
	}
	if b.Value <= 0 {
		return nil
	}
	return &boostNote{Value: b.Value, Reason: b.Reason, Model: b.Model}
}
