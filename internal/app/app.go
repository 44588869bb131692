package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"tradeengine/internal/broadcast"
	"tradeengine/internal/config"
	"tradeengine/internal/engine"
	"tradeengine/internal/gateway/notifier"
	"tradeengine/internal/logger"
	livehttp "tradeengine/internal/transport/http/live"
)

// App owns the wired engine, the operator server and the resources they share.
type App struct {
	cfg        *config.Config
	configPath string
	engine     *engine.Engine
	http       *livehttp.Server
	hub        *broadcast.Hub
	relay      *notifier.Relay
	closers    []func() error
	Summary    *StartupSummary
}

// NewApp builds the application without starting it. configPath, when set,
// is watched for log-level changes while running.
func NewApp(cfg *config.Config, configPath string, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	a, err := NewAppBuilder(cfg, opts...).Build(context.Background())
	if err != nil {
		return nil, err
	}
	a.configPath = strings.TrimSpace(configPath)
	return a, nil
}

// Engine exposes the wired engine for replay harnesses and tests.
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Run recovers open positions, then drives the control loop and the HTTP
// server until ctx is cancelled or the loop hits a fatal error.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.engine == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	rec, err := a.engine.Recover(ctx)
	if err != nil {
		return fmt.Errorf("restart recovery: %w", err)
	}
	logger.Infof("restart recovery: checked=%d relinked=%d protected=%d manual=%d failed=%d",
		rec.Checked, rec.Relinked, rec.Protected, len(rec.ManualReview), len(rec.Failed))
	for _, id := range rec.ManualReview {
		logger.Warnf("position %s needs manual review", id)
	}

	if a.configPath != "" {
		if err := config.Watch(a.configPath, config.ApplyLogLevel); err != nil {
			logger.Warnf("config watch disabled: %v", err)
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(gctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}
	if a.relay != nil {
		group.Go(func() error { return a.relay.Run(gctx) })
	}
	group.Go(func() error {
		err := a.engine.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return group.Wait()
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warnf("close: %v", err)
		}
	}
	a.closers = nil
}
