package position

import (
	"context"
	"errors"
	"fmt"

	"tradeengine/internal/broadcast"
	"tradeengine/internal/logger"
	"tradeengine/internal/signal"
)

// Recovery summarizes one RecoverAfterRestart pass.
type Recovery struct {
	Checked      int      `json:"checked"`
	Relinked     int      `json:"relinked"`
	Protected    int      `json:"protected"`
	ManualReview []string `json:"manual_review,omitempty"`
	Failed       []string `json:"failed,omitempty"`
}

// RecoverAfterRestart re-links every live position without confirmed protective
// orders to its signal (orderLinkId first, then originalSignalId), restores the
// intended stop-loss/take-profit and places them. Positions whose origin cannot be
// resolved move to MANUAL_REVIEW. Running it again is a no-op for positions that
// were protected by the first run.
func (r *Reconciler) RecoverAfterRestart(ctx context.Context) (Recovery, error) {
	var out Recovery
	live, err := r.store.ListPositions(ctx, "", StatusOpen, StatusPartiallyClosed)
	if err != nil {
		return out, fmt.Errorf("list live positions: %w", err)
	}
	for _, p := range live {
		if p.SLTPApplied {
			continue
		}
		out.Checked++
		res, err := r.recoverOne(ctx, p.ID)
		switch {
		case errors.Is(err, ErrRestartInconsistency):
			out.ManualReview = append(out.ManualReview, p.ID)
			logger.Warnf("restart recovery: position %s (%s link=%s) left for manual review: %v", p.ID, p.Symbol, p.OrderLinkID, err)
		case err != nil:
			out.Failed = append(out.Failed, p.ID)
			logger.Warnf("restart recovery: position %s: %v", p.ID, err)
		default:
			if res.relinked {
				out.Relinked++
			}
			if res.protected {
				out.Protected++
			}
		}
	}
	logger.Infof("restart recovery checked=%d relinked=%d protected=%d manual_review=%d failed=%d",
		out.Checked, out.Relinked, out.Protected, len(out.ManualReview), len(out.Failed))
	return out, nil
}

type recoverResult struct {
	relinked  bool
	protected bool
}

func (r *Reconciler) recoverOne(ctx context.Context, id string) (recoverResult, error) {
	var res recoverResult
	var inconsistency error
	_, err := r.mutate(ctx, id, func(p *Position) (broadcast.EventType, error) {
		if p.SLTPApplied || !p.Status.Live() {
			return "", nil
		}
		sig, err := r.resolveSignal(ctx, p)
		if errors.Is(err, ErrRestartInconsistency) {
			p.Status = StatusManualReview
			p.ReviewReason = err.Error()
			inconsistency = err
			return broadcast.PositionUpdated, nil
		}
		if err != nil {
			return "", err
		}
		res.relinked = true
		if p.StopLossPrice.IsZero() {
			p.StopLossPrice = sig.StopLoss
		}
		if p.TakeProfitPrice.IsZero() {
			p.TakeProfitPrice = sig.TakeProfit
		}
		if p.SignalSource == "" {
			p.SignalSource = sig.Source
		}
		placed, err := r.protectLocked(ctx, p)
		if err != nil {
			// keep the restored levels even if the venue is down; the next pass retries
			logger.Warnf("restart recovery: protective orders for %s: %v", p.ID, err)
		}
		res.protected = placed
		return broadcast.PositionUpdated, nil
	})
	if err != nil {
		return res, err
	}
	return res, inconsistency
}

func (r *Reconciler) resolveSignal(ctx context.Context, p *Position) (*signal.Signal, error) {
	if r.signals == nil {
		return nil, fmt.Errorf("%w: no signal store", ErrRestartInconsistency)
	}
	if p.OrderLinkID != "" {
		sig, err := r.signals.GetSignalByOrderLinkID(ctx, p.OrderLinkID)
		if err == nil {
			return sig, nil
		}
		if !errors.Is(err, signal.ErrNotFound) {
			return nil, err
		}
	}
	if p.OriginalSignalID != "" {
		sig, err := r.signals.GetSignal(ctx, p.OriginalSignalID)
		if err == nil {
			return sig, nil
		}
		if !errors.Is(err, signal.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: link=%q signal=%q", ErrRestartInconsistency, p.OrderLinkID, p.OriginalSignalID)
}
