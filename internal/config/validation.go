package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	checks := []func() error{
		c.Market.validate,
		c.Confluence.validate,
		c.Signal.validate,
		c.Position.validate,
		c.Engine.validate,
		c.Store.validate,
		c.Redis.validate,
		c.Execution.validate,
		c.AI.validate,
		c.Notify.validate,
		func() error {
			if c.Execution.Mode == "binance" && c.Market.Exchange != "binance" {
				return fmt.Errorf("execution.mode binance requires market.exchange binance, got %q", c.Market.Exchange)
			}
			return nil
		},
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch m.Exchange {
	case "binance", "gate":
	default:
		return fmt.Errorf("market.exchange must be binance or gate, got %q", m.Exchange)
	}
	switch m.MarketType {
	case "spot", "futures":
	default:
		return fmt.Errorf("market.market_type must be spot or futures, got %q", m.MarketType)
	}
	if len(m.Symbols) == 0 {
		return fmt.Errorf("market.symbols requires at least one symbol")
	}
	for _, s := range m.Symbols {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("market.symbols contains an empty entry")
		}
	}
	for _, tf := range m.Timeframes {
		if !IsValidInterval(strings.TrimSpace(tf)) {
			return fmt.Errorf("market.timeframes contains invalid interval %q", tf)
		}
	}
	if m.Proxy.Enabled && m.Proxy.RESTURL == "" {
		return fmt.Errorf("market.proxy enabled but rest_url is empty")
	}
	return nil
}

func (c *ConfluenceConfig) validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("confluence.threshold must be in (0, 1]")
	}
	for tf, w := range c.Weights {
		if !IsValidInterval(tf) {
			return fmt.Errorf("confluence.weights has invalid timeframe %q", tf)
		}
		if w < 0 {
			return fmt.Errorf("confluence.weights.%s must be >= 0", tf)
		}
	}
	return nil
}

func (s *SignalConfig) validate() error {
	if s.TTLSeconds <= 0 {
		return fmt.Errorf("signal.ttl_seconds must be > 0")
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return fmt.Errorf("signal.min_confidence must be in [0, 1]")
	}
	return nil
}

func (p *PositionConfig) validate() error {
	if p.TrailingPct < 0 || p.TrailingPct >= 1 {
		return fmt.Errorf("position.trailing_pct must be in [0, 1)")
	}
	if p.FeeRate < 0 {
		return fmt.Errorf("position.fee_rate must be >= 0")
	}
	if p.AdjustmentMinConfidence < 0 || p.AdjustmentMinConfidence > 1 {
		return fmt.Errorf("position.adjustment_min_confidence must be in [0, 1]")
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.ScanIntervalSeconds <= 0 {
		return fmt.Errorf("engine.scan_interval_seconds must be > 0")
	}
	if e.OrderNotional <= 0 {
		return fmt.Errorf("engine.order_notional must be > 0")
	}
	if e.StopLossPct <= 0 || e.StopLossPct >= 1 {
		return fmt.Errorf("engine.stop_loss_pct must be in (0, 1)")
	}
	if e.TakeProfitPct <= 0 {
		return fmt.Errorf("engine.take_profit_pct must be > 0")
	}
	if e.QuantityPrecision < 0 || e.QuantityPrecision > 12 {
		return fmt.Errorf("engine.quantity_precision must be in [0, 12]")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.SQLitePath) == "" {
		return fmt.Errorf("store.sqlite_path cannot be empty")
	}
	return nil
}

func (r *RedisConfig) validate() error {
	if r.Enabled && strings.TrimSpace(r.Addr) == "" {
		return fmt.Errorf("redis enabled but addr is empty")
	}
	return nil
}

func (e *ExecutionConfig) validate() error {
	switch e.Mode {
	case "paper":
		if e.PaperFeeRate < 0 || e.PaperSlippage < 0 {
			return fmt.Errorf("execution.paper_fee_rate and paper_slippage must be >= 0")
		}
	case "binance":
		if strings.TrimSpace(e.APIKey) == "" || strings.TrimSpace(e.APISecret) == "" {
			return fmt.Errorf("execution.mode binance requires api_key and api_secret")
		}
	default:
		return fmt.Errorf("execution.mode must be paper or binance, got %q", e.Mode)
	}
	return nil
}

func (a *AIConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	switch a.Provider {
	case "openai", "deepseek", "qwen", "anthropic", "claude":
	default:
		return fmt.Errorf("ai.provider %q is not supported", a.Provider)
	}
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("ai.model cannot be empty")
	}
	if strings.TrimSpace(a.APIKey) == "" {
		return fmt.Errorf("ai.api_key cannot be empty")
	}
	if a.MaxBoost < 0 || a.MaxBoost > 1 {
		return fmt.Errorf("ai.max_boost must be in [0, 1]")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

// IsValidInterval accepts a number followed by m, h, d or w.
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
