package config

import "strings"

// Config is the process configuration, one struct per YAML section.
type Config struct {
	App        AppConfig        `toml:"app"`
	Market     MarketConfig     `toml:"market"`
	Indicator  IndicatorConfig  `toml:"indicator"`
	Confluence ConfluenceConfig `toml:"confluence"`
	Signal     SignalConfig     `toml:"signal"`
	Position   PositionConfig   `toml:"position"`
	Risk       RiskConfig       `toml:"risk"`
	Engine     EngineConfig     `toml:"engine"`
	Store      StoreConfig      `toml:"store"`
	Redis      RedisConfig      `toml:"redis"`
	Execution  ExecutionConfig  `toml:"execution"`
	AI         AIConfig         `toml:"ai"`
	Notify     NotifyConfig     `toml:"notify"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogJSON  bool   `toml:"log_json"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

type MarketConfig struct {
	Exchange            string      `toml:"exchange"`
	MarketType          string      `toml:"market_type"`
	RESTBaseURL         string      `toml:"rest_base_url"`
	Testnet             bool        `toml:"testnet"`
	Proxy               ProxyConfig `toml:"proxy"`
	Symbols             []string    `toml:"symbols"`
	Timeframes          []string    `toml:"timeframes"`
	CandleLimit         int         `toml:"candle_limit"`
	FetchTimeoutSeconds int         `toml:"fetch_timeout_seconds"`
	BookDepth           int         `toml:"book_depth"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

type IndicatorConfig struct {
	RSIPeriod         int     `toml:"rsi_period"`
	RSIOverbought     float64 `toml:"rsi_overbought"`
	RSIOversold       float64 `toml:"rsi_oversold"`
	MAPeriod          int     `toml:"ma_period"`
	MABandPct         float64 `toml:"ma_band_pct"`
	TrendLookback     int     `toml:"trend_lookback"`
	TrendThresholdPct float64 `toml:"trend_threshold_pct"`
}

type ConfluenceConfig struct {
	Threshold float64            `toml:"threshold"`
	Weights   map[string]float64 `toml:"weights"`
	// PerTimeframeTimeoutSeconds bounds one timeframe analysis; late ones are excluded.
	PerTimeframeTimeoutSeconds int `toml:"per_timeframe_timeout_seconds"`
	Workers                    int `toml:"workers"`
}

type SignalConfig struct {
	TTLSeconds              int     `toml:"ttl_seconds"`
	RequireUserConfirmation bool    `toml:"require_user_confirmation"`
	AutoApprove             bool    `toml:"auto_approve"`
	MinConfidence           float64 `toml:"min_confidence"`
}

type PositionConfig struct {
	TrailingActivationPct   float64 `toml:"trailing_activation_pct"`
	TrailingPct             float64 `toml:"trailing_pct"`
	FeeRate                 float64 `toml:"fee_rate"`
	AdjustmentMinConfidence float64 `toml:"adjustment_min_confidence"`
	CheckIntervalSeconds    int     `toml:"check_interval_seconds"`
}

type RiskConfig struct {
	LevelJump          float64 `toml:"level_jump"`
	MaxLevels          int     `toml:"max_levels"`
	SentimentThreshold float64 `toml:"sentiment_threshold"`
	BufferPct          float64 `toml:"buffer_pct"`
	ReduceThreshold    float64 `toml:"reduce_threshold"`
	ReduceRatio        float64 `toml:"reduce_ratio"`
	MomentumLookback   int     `toml:"momentum_lookback"`
}

type EngineConfig struct {
	ScanIntervalSeconds    int     `toml:"scan_interval_seconds"`
	MonitorIntervalSeconds int     `toml:"monitor_interval_seconds"`
	Workers                int     `toml:"workers"`
	CallTimeoutSeconds     int     `toml:"call_timeout_seconds"`
	OrderNotional          float64 `toml:"order_notional"`
	QuantityPrecision      int     `toml:"quantity_precision"`
	StopLossPct            float64 `toml:"stop_loss_pct"`
	TakeProfitPct          float64 `toml:"take_profit_pct"`
	MaxRetries             int     `toml:"max_retries"`
	RetryBaseMillis        int     `toml:"retry_base_millis"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
}

type StoreConfig struct {
	SQLitePath  string `toml:"sqlite_path"`
	JournalPath string `toml:"journal_path"`
}

type RedisConfig struct {
	Enabled         bool   `toml:"enabled"`
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	GuardTTLSeconds int    `toml:"guard_ttl_seconds"`
}

type ExecutionConfig struct {
	Mode          string  `toml:"mode"`
	APIKey        string  `toml:"api_key"`
	APISecret     string  `toml:"api_secret"`
	RecvWindow    int64   `toml:"recv_window"`
	PaperFeeRate  float64 `toml:"paper_fee_rate"`
	PaperSlippage float64 `toml:"paper_slippage"`
}

// AIConfig configures the optional confidence boost.
type AIConfig struct {
	Enabled        bool              `toml:"enabled"`
	Provider       string            `toml:"provider"`
	APIURL         string            `toml:"api_url"`
	APIKey         string            `toml:"api_key"`
	Model          string            `toml:"model"`
	Headers        map[string]string `toml:"headers"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	MaxBoost       float64           `toml:"max_boost"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// keySet tracks the key paths set explicitly in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
