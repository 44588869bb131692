// Package engine drives the control loop: a scan cycle turns multi-timeframe
// confluence into signals, a monitor cycle executes approved signals and keeps
// open positions protected.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"tradeengine/internal/confluence"
	"tradeengine/internal/gateway/exchange"
	"tradeengine/internal/gateway/provider"
	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/position"
	"tradeengine/internal/risk"
	"tradeengine/internal/scheduler"
	"tradeengine/internal/signal"
)

// ErrPersistenceUnavailable stops the control loop.
var ErrPersistenceUnavailable = fmt.Errorf("persistence unavailable: %w", scheduler.ErrFatal)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ExecutionGuard keeps concurrent processes from placing the same entry twice.
type ExecutionGuard interface {
	Acquire(ctx context.Context, orderLinkID string) (bool, error)
	Release(ctx context.Context, orderLinkID string) error
}

// Booster adds optional AI confidence.
type Booster interface {
	Boost(ctx context.Context, req provider.BoostRequest) (provider.Boost, error)
}

type Deps struct {
	Scorer    *confluence.Scorer
	Signals   *signal.Manager
	Positions *position.Reconciler
	Risk      *risk.Analyzer
	Market    market.Resolver
	Gateway   exchange.Gateway
	Health    HealthChecker
	Guard     ExecutionGuard
	Booster   Booster
	Clock     scheduler.Clock
}

type Engine struct {
	cfg       Config
	scorer    *confluence.Scorer
	signals   *signal.Manager
	positions *position.Reconciler
	risk      *risk.Analyzer
	market    market.Resolver
	gateway   exchange.Gateway
	health    HealthChecker
	guard     ExecutionGuard
	booster   Booster
	clock     scheduler.Clock
}

func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Scorer == nil:
		return nil, errors.New("engine: scorer is required")
	case deps.Signals == nil:
		return nil, errors.New("engine: signal manager is required")
	case deps.Positions == nil:
		return nil, errors.New("engine: position reconciler is required")
	case deps.Market == nil:
		return nil, errors.New("engine: market resolver is required")
	case deps.Gateway == nil:
		return nil, errors.New("engine: order gateway is required")
	}
	e := &Engine{
		cfg:       cfg.withDefaults(),
		scorer:    deps.Scorer,
		signals:   deps.Signals,
		positions: deps.Positions,
		risk:      deps.Risk,
		market:    deps.Market,
		gateway:   deps.Gateway,
		health:    deps.Health,
		guard:     deps.Guard,
		booster:   deps.Booster,
		clock:     deps.Clock,
	}
	if e.risk == nil {
		e.risk = risk.NewAnalyzer(risk.DefaultConfig())
	}
	if e.clock == nil {
		e.clock = scheduler.SystemClock
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Recover runs restart recovery once before the loops start.
func (e *Engine) Recover(ctx context.Context) (position.Recovery, error) {
	if err := e.checkHealth(ctx); err != nil {
		return position.Recovery{}, err
	}
	return e.positions.RecoverAfterRestart(ctx)
}

// Run schedules the scan and monitor cycles until ctx is cancelled or a cycle
// reports ErrPersistenceUnavailable.
func (e *Engine) Run(ctx context.Context) error {
	scan := &scheduler.Loop{
		Name:           "scan",
		Interval:       e.cfg.ScanInterval,
		Offset:         5 * time.Second,
		Align:          true,
		RunImmediately: true,
		Clock:          e.clock,
	}
	monitor := &scheduler.Loop{
		Name:           "monitor",
		Interval:       e.cfg.MonitorInterval,
		RunImmediately: true,
		Clock:          e.clock,
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return scan.Run(gctx, e.ScanCycle) })
	eg.Go(func() error { return monitor.Run(gctx, e.MonitorCycle) })
	return eg.Wait()
}

// Confluence scores one symbol on demand with the configured venue and timeframes.
func (e *Engine) Confluence(ctx context.Context, symbol string) confluence.Verdict {
	return e.scorer.Score(ctx, symbol, e.cfg.Venue, e.cfg.Timeframes...)
}

func (e *Engine) checkHealth(ctx context.Context) error {
	if e.health == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	if err := e.health.Ping(pctx); err != nil {
		logger.Errorf("persistence health check failed: %v", err)
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return nil
}

func (e *Engine) now() time.Time { return e.clock.Now() }
