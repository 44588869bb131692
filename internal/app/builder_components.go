package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeengine/internal/analysis/indicator"
	"tradeengine/internal/analysis/timeframe"
	"tradeengine/internal/broadcast"
	"tradeengine/internal/config"
	"tradeengine/internal/confluence"
	"tradeengine/internal/engine"
	"tradeengine/internal/gateway/binance"
	"tradeengine/internal/gateway/exchange"
	"tradeengine/internal/gateway/gate"
	"tradeengine/internal/gateway/notifier"
	"tradeengine/internal/gateway/paper"
	"tradeengine/internal/gateway/provider"
	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/pkg/circuit"
	"tradeengine/internal/store/redisguard"
)

func buildMarketSource(m config.MarketConfig) (market.Source, error) {
	switch strings.ToLower(strings.TrimSpace(m.Exchange)) {
	case "", "binance":
		return binance.New(binance.Config{
			RESTBaseURL:  m.RESTBaseURL,
			HTTPTimeout:  seconds(m.FetchTimeoutSeconds),
			Testnet:      m.Testnet,
			ProxyEnabled: m.Proxy.Enabled,
			RESTProxyURL: m.Proxy.RESTURL,
		})
	case "gate":
		return gate.New(gate.Config{
			RESTBaseURL:  m.RESTBaseURL,
			HTTPTimeout:  seconds(m.FetchTimeoutSeconds),
			ProxyEnabled: m.Proxy.Enabled,
			RESTProxyURL: m.Proxy.RESTURL,
		})
	default:
		return nil, fmt.Errorf("unsupported exchange %q", m.Exchange)
	}
}

func buildGateway(cfg config.Config) (exchange.Gateway, error) {
	ex := cfg.Execution
	switch strings.ToLower(strings.TrimSpace(ex.Mode)) {
	case "", "paper":
		logger.Infof("✓ paper execution (fee %.4f, slippage %.4f)", ex.PaperFeeRate, ex.PaperSlippage)
		return paper.New(paper.Config{
			FeeRate:  decimal.NewFromFloat(ex.PaperFeeRate),
			Slippage: decimal.NewFromFloat(ex.PaperSlippage),
		}), nil
	case "binance":
		logger.Warnf("live execution on binance (testnet=%v)", cfg.Market.Testnet)
		return binance.NewOrderGateway(binance.Config{
			RESTBaseURL:  cfg.Market.RESTBaseURL,
			HTTPTimeout:  seconds(cfg.Engine.CallTimeoutSeconds),
			Testnet:      cfg.Market.Testnet,
			APIKey:       ex.APIKey,
			APISecret:    ex.APISecret,
			ProxyEnabled: cfg.Market.Proxy.Enabled,
			RESTProxyURL: cfg.Market.Proxy.RESTURL,
			RecvWindow:   ex.RecvWindow,
		})
	default:
		return nil, fmt.Errorf("unsupported execution mode %q", ex.Mode)
	}
}

func buildGuard(ctx context.Context, r config.RedisConfig) (engine.ExecutionGuard, func() error, error) {
	g, err := redisguard.New(ctx, redisguard.Options{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
		TTL:      seconds(r.GuardTTLSeconds),
		Owner:    "tradeengine-" + uuid.NewString()[:8],
	})
	if err != nil {
		return nil, nil, err
	}
	return g, g.Close, nil
}

func buildBooster(ai config.AIConfig) (engine.Booster, error) {
	c, err := provider.Build(provider.ModelCfg{
		ID:       "boost",
		Provider: ai.Provider,
		APIURL:   ai.APIURL,
		APIKey:   ai.APIKey,
		Model:    ai.Model,
		Headers:  ai.Headers,
		Timeout:  seconds(ai.TimeoutSeconds),
	})
	if err != nil {
		return nil, err
	}
	return provider.NewBooster(c, ai.MaxBoost)
}

func buildScorer(cfg *config.Config, resolver market.Resolver, tfs []market.Timeframe) *confluence.Scorer {
	ind := cfg.Indicator
	settings := indicator.DefaultSettings()
	if ind.RSIPeriod > 0 {
		settings.RSIPeriod = ind.RSIPeriod
	}
	if ind.RSIOverbought > 0 {
		settings.RSIOverbought = ind.RSIOverbought
	}
	if ind.RSIOversold > 0 {
		settings.RSIOversold = ind.RSIOversold
	}
	if ind.MAPeriod > 0 {
		settings.MAPeriod = ind.MAPeriod
	}
	if ind.MABandPct > 0 {
		settings.MABand = ind.MABandPct
	}
	if ind.TrendLookback > 0 {
		settings.TrendLookback = ind.TrendLookback
	}
	if ind.TrendThresholdPct > 0 {
		settings.TrendThreshold = ind.TrendThresholdPct
	}
	analyzer := timeframe.NewAnalyzer(resolver, timeframe.Options{
		Settings: settings,
		Limit:    cfg.Market.CandleLimit,
		Timeout:  seconds(cfg.Market.FetchTimeoutSeconds),
	})

	var weights map[market.Timeframe]float64
	if len(cfg.Confluence.Weights) > 0 {
		weights = make(map[market.Timeframe]float64, len(cfg.Confluence.Weights))
		for k, w := range cfg.Confluence.Weights {
			weights[market.Timeframe(strings.ToLower(strings.TrimSpace(k)))] = w
		}
	}
	return confluence.NewScorer(analyzer, confluence.Config{
		Threshold:  cfg.Confluence.Threshold,
		Weights:    weights,
		Timeout:    seconds(cfg.Confluence.PerTimeframeTimeoutSeconds),
		Workers:    cfg.Confluence.Workers,
		Timeframes: tfs,
	})
}

func breaker(name string, e config.EngineConfig) *circuit.CircuitBreaker {
	cb := circuit.NewCircuitBreaker(name, e.BreakerThreshold, time.Duration(e.BreakerCooldownSeconds)*time.Second)
	cb.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("order gateway %s breaker %s -> %s", name, from, to)
	})
	return cb
}

func buildRelay(hub *broadcast.Hub, t config.TelegramConfig) *notifier.Relay {
	logger.Infof("✓ telegram notifications to chat %s", t.ChatID)
	return notifier.NewRelay(hub, notifier.NewTelegram(t.BotToken, t.ChatID))
}
