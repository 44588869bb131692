package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tradeengine/internal/logger"
	"tradeengine/internal/pkg/circuit"
)

// RetryPolicy bounds how often one call is retried within a cycle.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.MaxInterval = p.MaxDelay
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
}

// Resilient wraps a Gateway with bounded exponential retries and a circuit
// breaker. Retries reuse the request unchanged, so the venue sees the same link
// id, and each retry first asks the venue whether that link already exists: a
// failed send may still have reached the book.
type Resilient struct {
	inner   Gateway
	policy  RetryPolicy
	breaker *circuit.CircuitBreaker
}

func NewResilient(inner Gateway, policy RetryPolicy, breaker *circuit.CircuitBreaker) *Resilient {
	return &Resilient{inner: inner, policy: policy.withDefaults(), breaker: breaker}
}

func (r *Resilient) Name() string { return r.inner.Name() }

func (r *Resilient) PlaceOrder(ctx context.Context, req OrderRequest) (ExecutionReport, error) {
	var rep ExecutionReport
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			known, found, err := r.inner.QueryOrder(ctx, req.Symbol, req.OrderLinkID)
			if err != nil {
				if permanent(err) {
					return backoff.Permanent(err)
				}
				logger.Warnf("%s lookup link=%s before retry %d: %v", r.inner.Name(), req.OrderLinkID, attempt, err)
				return err
			}
			if found {
				logger.Infof("%s link=%s already known to venue (%s), not resending", r.inner.Name(), req.OrderLinkID, known.Status)
				rep = known
				if known.Status == StatusRejected {
					return backoff.Permanent(fmt.Errorf("%w: venue status %s", ErrOrderRejected, known.Status))
				}
				return nil
			}
		}
		err := r.guard(func() error {
			var callErr error
			rep, callErr = r.inner.PlaceOrder(ctx, req)
			return callErr
		})
		if err == nil {
			return nil
		}
		if permanent(err) {
			return backoff.Permanent(err)
		}
		logger.Warnf("%s place order link=%s attempt %d/%d: %v", r.inner.Name(), req.OrderLinkID, attempt, r.policy.MaxAttempts, err)
		return err
	}, r.policy.backOff(ctx))
	return rep, err
}

func (r *Resilient) QueryOrder(ctx context.Context, symbol, link string) (ExecutionReport, bool, error) {
	var (
		rep   ExecutionReport
		found bool
	)
	err := backoff.Retry(func() error {
		err := r.guard(func() error {
			var callErr error
			rep, found, callErr = r.inner.QueryOrder(ctx, symbol, link)
			return callErr
		})
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, r.policy.backOff(ctx))
	return rep, found, err
}

func (r *Resilient) guard(fn func() error) error {
	if r.breaker == nil {
		return fn()
	}
	return r.breaker.Execute(fn, func(err error) bool { return !errors.Is(err, ErrOrderRejected) })
}

func permanent(err error) bool {
	return errors.Is(err, ErrOrderRejected) ||
		errors.Is(err, circuit.ErrOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
