package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradeengine/internal/broadcast"
	"tradeengine/internal/config"
	"tradeengine/internal/engine"
	"tradeengine/internal/gateway/exchange"
	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/pkg/symbol"
	"tradeengine/internal/position"
	"tradeengine/internal/risk"
	"tradeengine/internal/signal"
	"tradeengine/internal/store/gormstore"
	"tradeengine/internal/store/journal"
	livehttp "tradeengine/internal/transport/http/live"
)

// AppBuilder assembles the process. Each external dependency is built by a
// replaceable function so tests can swap venues and stores.
type AppBuilder struct {
	cfg *config.Config

	marketSourceFn func(config.MarketConfig) (market.Source, error)
	gatewayFn      func(config.Config) (exchange.Gateway, error)
	guardFn        func(context.Context, config.RedisConfig) (engine.ExecutionGuard, func() error, error)
	boosterFn      func(config.AIConfig) (engine.Booster, error)
}

type AppBuilderOption func(*AppBuilder)

// WithMarketSource replaces the venue market-data source.
func WithMarketSource(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.marketSourceFn = func(config.MarketConfig) (market.Source, error) { return src, nil }
	}
}

// WithGateway replaces the order gateway.
func WithGateway(gw exchange.Gateway) AppBuilderOption {
	return func(b *AppBuilder) {
		b.gatewayFn = func(config.Config) (exchange.Gateway, error) { return gw, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:            cfg,
		marketSourceFn: buildMarketSource,
		gatewayFn:      buildGateway,
		guardFn:        buildGuard,
		boosterFn:      buildBooster,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (_ *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	app := &App{cfg: cfg}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	store, err := gormstore.NewGormStore(cfg.Store.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.closers = append(app.closers, store.Close)
	logger.Infof("✓ store ready at %s", absPath(cfg.Store.SQLitePath))

	var rec journal.Recorder = journal.Nop{}
	var history livehttp.HistoryReader
	if strings.TrimSpace(cfg.Store.JournalPath) != "" {
		j, err := journal.Open(cfg.Store.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		app.closers = append(app.closers, j.Close)
		rec, history = j, j
		logger.Infof("✓ transition journal at %s", absPath(cfg.Store.JournalPath))
	}

	hub := broadcast.NewHub()
	app.hub = hub
	app.closers = append(app.closers, func() error { hub.Close(); return nil })

	venue, err := venueFromConfig(cfg.Market)
	if err != nil {
		return nil, err
	}
	src, err := b.marketSourceFn(cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("market source: %w", err)
	}
	registry := market.NewRegistry()
	registry.Register(venue, src)

	timeframes, err := market.ParseTimeframes(cfg.Market.Timeframes)
	if err != nil {
		return nil, err
	}
	scorer := buildScorer(cfg, registry, timeframes)

	gw, err := b.gatewayFn(*cfg)
	if err != nil {
		return nil, fmt.Errorf("order gateway: %w", err)
	}
	gw = exchange.NewResilient(gw, retryPolicy(cfg.Engine), breaker(gw.Name(), cfg.Engine))

	signals := signal.NewManager(store, signal.Options{
		TTL:       seconds(cfg.Signal.TTLSeconds),
		Publisher: hub,
		Journal:   rec,
	})
	positions := position.NewReconciler(store, store, gw, position.Options{
		Config:    positionConfig(cfg.Position),
		Publisher: hub,
		Journal:   rec,
	})

	deps := engine.Deps{
		Scorer:    scorer,
		Signals:   signals,
		Positions: positions,
		Risk:      risk.NewAnalyzer(riskConfig(cfg.Risk)),
		Market:    registry,
		Gateway:   gw,
		Health:    store,
	}
	if cfg.Redis.Enabled {
		guard, closeGuard, err := b.guardFn(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis guard: %w", err)
		}
		deps.Guard = guard
		app.closers = append(app.closers, closeGuard)
		logger.Infof("✓ execution guard on redis %s", cfg.Redis.Addr)
	}
	if cfg.AI.Enabled {
		booster, err := b.boosterFn(cfg.AI)
		if err != nil {
			return nil, fmt.Errorf("ai booster: %w", err)
		}
		deps.Booster = booster
		logger.Infof("✓ ai boost via %s/%s (max %.2f)", cfg.AI.Provider, cfg.AI.Model, cfg.AI.MaxBoost)
	}
	eng, err := engine.New(engineConfig(cfg, venue, timeframes), deps)
	if err != nil {
		return nil, err
	}
	app.engine = eng

	if cfg.Notify.Telegram.Enabled {
		app.relay = buildRelay(hub, cfg.Notify.Telegram)
	}

	logPaths := map[string]string{}
	if p := strings.TrimSpace(cfg.App.LogPath); p != "" {
		logPaths["engine"] = p
	}
	srvCfg := livehttp.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		Signals:   signals,
		Positions: positions,
		Engine:    eng,
		History:   history,
		Hub:       hub,
		Health:    store,
		LogPaths:  logPaths,
	}
	if !cfg.Metrics.Enabled {
		srvCfg.DisableMetrics = true
	}
	app.http, err = livehttp.NewServer(srvCfg)
	if err != nil {
		return nil, err
	}
	app.Summary = newStartupSummary(cfg, eng.Config(), gw.Name())
	return app, nil
}

func venueFromConfig(m config.MarketConfig) (market.Venue, error) {
	mt, err := market.ParseMarketType(m.MarketType)
	if err != nil {
		return market.Venue{}, err
	}
	return market.Venue{Exchange: m.Exchange, MarketType: mt}, nil
}

func engineConfig(cfg *config.Config, venue market.Venue, tfs []market.Timeframe) engine.Config {
	e := cfg.Engine
	return engine.Config{
		Symbols:                 symbol.NormalizeList(cfg.Market.Symbols),
		Timeframes:              tfs,
		Venue:                   venue,
		ScanInterval:            seconds(e.ScanIntervalSeconds),
		MonitorInterval:         seconds(monitorSeconds(cfg)),
		CallTimeout:             seconds(e.CallTimeoutSeconds),
		Workers:                 e.Workers,
		MinConfidence:           cfg.Signal.MinConfidence,
		RequireUserConfirmation: cfg.Signal.RequireUserConfirmation,
		AutoApprove:             cfg.Signal.AutoApprove,
		OrderNotional:           decimal.NewFromFloat(e.OrderNotional),
		QuantityPrecision:       int32(e.QuantityPrecision),
		StopLossPct:             decimal.NewFromFloat(e.StopLossPct),
		TakeProfitPct:           decimal.NewFromFloat(e.TakeProfitPct),
		BookDepth:               cfg.Market.BookDepth,
		MomentumLookback:        cfg.Risk.MomentumLookback,
	}
}

func positionConfig(p config.PositionConfig) position.Config {
	return position.Config{
		TrailingActivation:      decimal.NewFromFloat(p.TrailingActivationPct),
		TrailingDistance:        decimal.NewFromFloat(p.TrailingPct),
		FeeRate:                 decimal.NewFromFloat(p.FeeRate),
		MinAdjustmentConfidence: p.AdjustmentMinConfidence,
	}
}

func riskConfig(r config.RiskConfig) risk.Config {
	return risk.Config{
		LevelJump:          r.LevelJump,
		MaxLevels:          r.MaxLevels,
		SentimentThreshold: r.SentimentThreshold,
		Buffer:             r.BufferPct,
		ReduceThreshold:    r.ReduceThreshold,
		ReduceRatio:        r.ReduceRatio,
	}
}

func retryPolicy(e config.EngineConfig) exchange.RetryPolicy {
	return exchange.RetryPolicy{
		MaxAttempts: e.MaxRetries,
		BaseDelay:   time.Duration(e.RetryBaseMillis) * time.Millisecond,
	}
}

func monitorSeconds(cfg *config.Config) int {
	if cfg.Engine.MonitorIntervalSeconds > 0 {
		return cfg.Engine.MonitorIntervalSeconds
	}
	return cfg.Position.CheckIntervalSeconds
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
