package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tradeengine/internal/gateway/exchange"
	"tradeengine/internal/logger"
	"tradeengine/internal/metrics"
	"tradeengine/internal/position"
	"tradeengine/internal/signal"
)

// ErrExecutionInFlight is returned when another process holds the signal's guard.
var ErrExecutionInFlight = errors.New("execution in flight elsewhere")

// ExecuteApproved places entries for every APPROVED signal. Per-signal failures
// are logged; only a store failure is returned.
func (e *Engine) ExecuteApproved(ctx context.Context) error {
	approved, err := e.signals.List(ctx, "", signal.StatusApproved)
	if err != nil {
		return fmt.Errorf("%w: list approved signals: %v", ErrPersistenceUnavailable, err)
	}
	var eg errgroup.Group
	eg.SetLimit(e.cfg.Workers)
	for _, sig := range approved {
		sig := sig
		eg.Go(func() error {
			if _, err := e.ExecuteSignal(ctx, sig.ID); err != nil {
				logger.Warnf("execute signal %s (%s %s): %v", sig.ID, sig.Symbol, sig.Side, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// ExecuteSignal places the entry order for an APPROVED signal and opens its
// position. Calling it again for an EXECUTED signal returns the position that
// was opened the first time; no second order or position is created.
//
// The venue is asked for the signal's order link before anything is sent, so
// an entry that filled on an earlier attempt (whose bookkeeping then failed)
// is picked up from the venue's record instead of being placed again.
func (e *Engine) ExecuteSignal(ctx context.Context, id string) (*position.Position, error) {
	sig, err := e.signals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch sig.Status {
	case signal.StatusExecuted:
		return e.positionForExecuted(ctx, sig)
	case signal.StatusApproved:
	default:
		return nil, &signal.InvalidStateError{ID: sig.ID, From: sig.Status, Op: "execute"}
	}

	if e.guard != nil {
		ok, err := e.guard.Acquire(ctx, sig.OrderLinkID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrExecutionInFlight, sig.OrderLinkID)
		}
		defer e.release(ctx, sig.OrderLinkID)
	}

	rep, err := e.placeEntry(ctx, sig)
	if errors.Is(err, exchange.ErrOrderRejected) {
		metrics.OrdersTotal.WithLabelValues(sig.Symbol, string(sig.Side), "rejected").Inc()
		reason := rep.Reason
		if reason == "" {
			reason = err.Error()
		}
		if _, ferr := e.signals.Fail(ctx, sig.ID, reason); ferr != nil {
			return nil, fmt.Errorf("record failure of %s: %w", sig.ID, ferr)
		}
		metrics.SignalsTotal.WithLabelValues(signal.StatusFailed.String()).Inc()
		return nil, err
	}
	if err != nil {
		// Transient: stay APPROVED and retry with the same link next cycle.
		metrics.OrdersTotal.WithLabelValues(sig.Symbol, string(sig.Side), "error").Inc()
		return nil, err
	}
	if !rep.Filled() {
		metrics.OrdersTotal.WithLabelValues(sig.Symbol, string(sig.Side), "resting").Inc()
		return nil, fmt.Errorf("entry %s not filled yet (%s)", sig.OrderLinkID, rep.Status)
	}
	metrics.OrdersTotal.WithLabelValues(sig.Symbol, string(sig.Side), "filled").Inc()

	// From here on the fill exists at the venue. A failure leaves the signal
	// APPROVED and the next attempt resolves it through placeEntry's lookup.
	if sig, err = e.signals.Execute(ctx, sig.ID, rep.OrderID); err != nil {
		return nil, fmt.Errorf("mark %s executed: %w", id, err)
	}
	metrics.SignalsTotal.WithLabelValues(sig.Status.String()).Inc()
	return e.open(ctx, rep, sig)
}

// placeEntry returns the venue's record for the signal's link when one exists
// and only sends a new market order when the venue has never seen it.
func (e *Engine) placeEntry(ctx context.Context, sig *signal.Signal) (exchange.ExecutionReport, error) {
	qctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	known, found, err := e.gateway.QueryOrder(qctx, sig.Symbol, sig.OrderLinkID)
	cancel()
	if err != nil {
		return exchange.ExecutionReport{}, fmt.Errorf("look up entry %s: %w", sig.OrderLinkID, err)
	}
	if found {
		logger.Infof("signal %s: entry %s already at venue as %s (%s), not placing again",
			sig.ID, sig.OrderLinkID, known.OrderID, known.Status)
		if known.Status == exchange.StatusRejected {
			return known, fmt.Errorf("%w: venue status %s", exchange.ErrOrderRejected, known.Status)
		}
		return known, nil
	}

	octx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.gateway.PlaceOrder(octx, exchange.OrderRequest{
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		Type:        exchange.OrderMarket,
		Quantity:    sig.Quantity,
		Price:       sig.EntryPrice,
		OrderLinkID: sig.OrderLinkID,
	})
}

// positionForExecuted resolves the position of an already executed signal,
// opening it from the venue's record when a previous run stopped in between.
func (e *Engine) positionForExecuted(ctx context.Context, sig *signal.Signal) (*position.Position, error) {
	p, err := e.positions.GetByOrderLinkID(ctx, sig.OrderLinkID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, position.ErrNotFound) {
		return nil, err
	}
	qctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	rep, found, err := e.gateway.QueryOrder(qctx, sig.Symbol, sig.OrderLinkID)
	cancel()
	if err != nil {
		return nil, err
	}
	if !found || !rep.Filled() {
		return nil, fmt.Errorf("signal %s executed but venue has no fill for %s", sig.ID, sig.OrderLinkID)
	}
	logger.Warnf("signal %s executed without position, reopening from venue order %s", sig.ID, rep.OrderID)
	return e.open(ctx, rep, sig)
}

func (e *Engine) open(ctx context.Context, rep exchange.ExecutionReport, sig *signal.Signal) (*position.Position, error) {
	p, created, err := e.positions.OpenFromFill(ctx, rep, sig)
	if err != nil {
		return nil, err
	}
	if created {
		metrics.PositionEvents.WithLabelValues("opened").Inc()
	}
	if !p.SLTPApplied {
		if protected, err := e.positions.ApplyProtectiveOrders(ctx, p.ID); err != nil {
			logger.Warnf("position %s: protective orders pending: %v", p.ID, err)
		} else {
			p = protected
		}
	}
	return p, nil
}

func (e *Engine) release(ctx context.Context, link string) {
	if e.guard == nil {
		return
	}
	if err := e.guard.Release(ctx, link); err != nil {
		logger.Warnf("release guard %s: %v", link, err)
	}
}
