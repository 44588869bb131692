package config

import (
	"strings"
)

const (
	defaultAppEnv         = "dev"
	defaultAppLogLevel    = "info"
	defaultAppHTTPAddr    = ":9991"
	defaultMarketExchange = "binance"
	defaultMarketType     = "futures"
	defaultCandleLimit    = 200
	defaultFetchTimeout   = 10
	defaultBookDepth      = 50
	defaultThreshold      = 0.60
	defaultTFTimeout      = 20
	defaultWorkers        = 4
	defaultSignalTTL      = 900
	defaultMinConfidence  = 0.3
	defaultTrailingAct    = 0.01
	defaultTrailingPct    = 0.005
	defaultFeeRate        = 0.0004
	defaultAdjustConf     = 0.7
	defaultCheckInterval  = 60
	defaultScanInterval   = 900
	defaultCallTimeout    = 10
	defaultOrderNotional  = 100
	defaultQtyPrecision   = 3
	defaultStopLossPct    = 0.02
	defaultTakeProfitPct  = 0.04
	defaultMaxRetries     = 3
	defaultRetryBase      = 200
	defaultBreakerFails   = 5
	defaultBreakerCool    = 60
	defaultSQLitePath     = "data/tradeengine.db"
	defaultJournalPath    = "data/journal.db"
	defaultGuardTTL       = 600
	defaultExecutionMode  = "paper"
	defaultAITimeout      = 30
	defaultMaxBoost       = 0.1
)

var defaultSymbols = []string{"BTC/USDT", "ETH/USDT"}

var defaultTimeframes = []string{"15m", "1h", "4h", "1d"}

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Confluence.applyDefaults(keys)
	c.Signal.applyDefaults(keys)
	c.Position.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Redis.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	c.AI.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	m.Proxy.normalize()
	m.Exchange = strings.ToLower(strings.TrimSpace(m.Exchange))
	m.MarketType = strings.ToLower(strings.TrimSpace(m.MarketType))
	applyFieldDefaults(keys,
		stringFieldDefault("market.exchange", &m.Exchange, defaultMarketExchange),
		stringFieldDefault("market.market_type", &m.MarketType, defaultMarketType),
		intFieldDefault("market.candle_limit", &m.CandleLimit, defaultCandleLimit),
		intFieldDefault("market.fetch_timeout_seconds", &m.FetchTimeoutSeconds, defaultFetchTimeout),
		intFieldDefault("market.book_depth", &m.BookDepth, defaultBookDepth),
		fieldDefault{
			need:  func() bool { return len(m.Symbols) == 0 },
			apply: func() { m.Symbols = append([]string(nil), defaultSymbols...) },
		},
		fieldDefault{
			need:  func() bool { return len(m.Timeframes) == 0 },
			apply: func() { m.Timeframes = append([]string(nil), defaultTimeframes...) },
		},
	)
}

func (c *ConfluenceConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("confluence.threshold", &c.Threshold, defaultThreshold),
		intFieldDefault("confluence.per_timeframe_timeout_seconds", &c.PerTimeframeTimeoutSeconds, defaultTFTimeout),
		intFieldDefault("confluence.workers", &c.Workers, defaultWorkers),
	)
}

func (s *SignalConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("signal.ttl_seconds", &s.TTLSeconds, defaultSignalTTL),
		floatFieldDefault("signal.min_confidence", &s.MinConfidence, defaultMinConfidence),
		boolFieldDefault("signal.auto_approve", &s.AutoApprove, true),
	)
}

func (p *PositionConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("position.trailing_activation_pct", &p.TrailingActivationPct, defaultTrailingAct),
		floatFieldDefault("position.trailing_pct", &p.TrailingPct, defaultTrailingPct),
		floatFieldDefault("position.fee_rate", &p.FeeRate, defaultFeeRate),
		floatFieldDefault("position.adjustment_min_confidence", &p.AdjustmentMinConfidence, defaultAdjustConf),
		intFieldDefault("position.check_interval_seconds", &p.CheckIntervalSeconds, defaultCheckInterval),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("engine.scan_interval_seconds", &e.ScanIntervalSeconds, defaultScanInterval),
		intFieldDefault("engine.workers", &e.Workers, defaultWorkers),
		intFieldDefault("engine.call_timeout_seconds", &e.CallTimeoutSeconds, defaultCallTimeout),
		floatFieldDefault("engine.order_notional", &e.OrderNotional, defaultOrderNotional),
		intFieldDefault("engine.quantity_precision", &e.QuantityPrecision, defaultQtyPrecision),
		floatFieldDefault("engine.stop_loss_pct", &e.StopLossPct, defaultStopLossPct),
		floatFieldDefault("engine.take_profit_pct", &e.TakeProfitPct, defaultTakeProfitPct),
		intFieldDefault("engine.max_retries", &e.MaxRetries, defaultMaxRetries),
		intFieldDefault("engine.retry_base_millis", &e.RetryBaseMillis, defaultRetryBase),
		intFieldDefault("engine.breaker_threshold", &e.BreakerThreshold, defaultBreakerFails),
		intFieldDefault("engine.breaker_cooldown_seconds", &e.BreakerCooldownSeconds, defaultBreakerCool),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.sqlite_path", &s.SQLitePath, defaultSQLitePath),
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultJournalPath),
	)
}

func (r *RedisConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("redis.guard_ttl_seconds", &r.GuardTTLSeconds, defaultGuardTTL),
	)
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	e.Mode = strings.ToLower(strings.TrimSpace(e.Mode))
	applyFieldDefaults(keys,
		stringFieldDefault("execution.mode", &e.Mode, defaultExecutionMode),
	)
}

func (a *AIConfig) applyDefaults(keys keySet) {
	a.Provider = strings.ToLower(strings.TrimSpace(a.Provider))
	applyFieldDefaults(keys,
		intFieldDefault("ai.timeout_seconds", &a.TimeoutSeconds, defaultAITimeout),
		floatFieldDefault("ai.max_boost", &a.MaxBoost, defaultMaxBoost),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
