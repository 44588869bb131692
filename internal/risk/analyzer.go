// Package risk reads order-book snapshots into support/resistance, imbalance and
// sentiment, and turns them into position adjustment recommendations. It never
// executes anything itself.
package risk

import (
	"math"
	"time"

	"tradeengine/internal/market"
)

type Sentiment string

const (
	SentimentBullish Sentiment = "BULLISH"
	SentimentBearish Sentiment = "BEARISH"
	SentimentNeutral Sentiment = "NEUTRAL"
)

type Config struct {
	// LevelJump is the size ratio over the previous rung that makes a level.
	LevelJump float64
	MaxLevels int
	// SentimentThreshold is the |score| needed for a non-neutral sentiment.
	SentimentThreshold float64
	// MomentumScale is the relative price change treated as full momentum.
	MomentumScale float64
	// Buffer offsets recommended prices from the level (0.001 = 0.1%).
	Buffer float64
	// ReduceThreshold is the adverse score that triggers a size reduction.
	ReduceThreshold float64
	ReduceRatio     float64
}

func DefaultConfig() Config {
	return Config{
		LevelJump:          1.5,
		MaxLevels:          3,
		SentimentThreshold: 0.2,
		MomentumScale:      0.02,
		Buffer:             0.001,
		ReduceThreshold:    0.5,
		ReduceRatio:        0.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LevelJump <= 1 {
		c.LevelJump = d.LevelJump
	}
	if c.MaxLevels <= 0 {
		c.MaxLevels = d.MaxLevels
	}
	if c.SentimentThreshold <= 0 {
		c.SentimentThreshold = d.SentimentThreshold
	}
	if c.MomentumScale <= 0 {
		c.MomentumScale = d.MomentumScale
	}
	if c.Buffer < 0 {
		c.Buffer = d.Buffer
	}
	if c.ReduceThreshold <= 0 {
		c.ReduceThreshold = d.ReduceThreshold
	}
	if c.ReduceRatio <= 0 || c.ReduceRatio > 1 {
		c.ReduceRatio = d.ReduceRatio
	}
	return c
}

// Level is a support or resistance price with its jump ratio over the previous rung.
type Level struct {
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
	Strength float64 `json:"strength"`
}

type Analysis struct {
	Symbol     string    `json:"symbol"`
	Mid        float64   `json:"mid"`
	Support    []Level   `json:"support"`
	Resistance []Level   `json:"resistance"`
	BuyVolume  float64   `json:"buy_volume"`
	SellVolume float64   `json:"sell_volume"`
	Imbalance  float64   `json:"imbalance"`
	Momentum   float64   `json:"momentum"`
	Score      float64   `json:"score"`
	Sentiment  Sentiment `json:"sentiment"`
	Timestamp  time.Time `json:"timestamp"`
}

type Analyzer struct {
	cfg Config
}

func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg.withDefaults()}
}

// Analyze reads one snapshot. momentum is a relative price change, e.g. from Momentum.
func (a *Analyzer) Analyze(book market.OrderBook, momentum float64) Analysis {
	book = book.Sorted()
	out := Analysis{
		Symbol:     book.Symbol,
		Mid:        book.Mid(),
		Support:    jumpLevels(book.Bids, a.cfg.LevelJump, a.cfg.MaxLevels),
		Resistance: jumpLevels(book.Asks, a.cfg.LevelJump, a.cfg.MaxLevels),
		BuyVolume:  totalSize(book.Bids),
		SellVolume: totalSize(book.Asks),
		Momentum:   momentum,
		Timestamp:  book.Timestamp,
	}
	out.Imbalance = Imbalance(out.BuyVolume, out.SellVolume)
	mom := clamp(momentum/a.cfg.MomentumScale, -1, 1)
	out.Score = clamp(0.6*out.Imbalance+0.4*mom, -1, 1)
	switch {
	case out.Score >= a.cfg.SentimentThreshold:
		out.Sentiment = SentimentBullish
	case out.Score <= -a.cfg.SentimentThreshold:
		out.Sentiment = SentimentBearish
	default:
		out.Sentiment = SentimentNeutral
	}
	return out
}

// Imbalance is (buy-sell)/(buy+sell), 0 for an empty book.
func Imbalance(buy, sell float64) float64 {
	total := buy + sell
	if total <= 0 {
		return 0
	}
	return (buy - sell) / total
}

// Momentum is the relative change of the last close over the close lookback bars earlier.
func Momentum(closes []float64, lookback int) float64 {
	if lookback <= 0 || len(closes) <= lookback {
		return 0
	}
	base := closes[len(closes)-1-lookback]
	if base == 0 {
		return 0
	}
	return (closes[len(closes)-1] - base) / base
}

// jumpLevels walks a ladder away from the touch and keeps rungs whose size exceeds
// jump times the previous rung's size.
func jumpLevels(ladder []market.Level, jump float64, limit int) []Level {
	var out []Level
	for i := 1; i < len(ladder) && len(out) < limit; i++ {
		prev := ladder[i-1].Size
		if prev <= 0 || ladder[i].Size <= jump*prev {
			continue
		}
		out = append(out, Level{Price: ladder[i].Price, Size: ladder[i].Size, Strength: ladder[i].Size / prev})
	}
	return out
}

func totalSize(ladder []market.Level) float64 {
	sum := 0.0
	for _, lv := range ladder {
		sum += lv.Size
	}
	return sum
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
