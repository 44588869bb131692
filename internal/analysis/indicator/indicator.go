// Package indicator computes the per-timeframe technical indicators the confluence
// engine votes on. It is pure: no I/O, no shared state.
package indicator

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Class is the qualitative reading of one indicator.
type Class int

const (
	Neutral Class = iota
	Bullish
	Bearish
	Overbought
	Oversold
)

func (c Class) String() string {
	switch c {
	case Bullish:
		return "BULLISH"
	case Bearish:
		return "BEARISH"
	case Overbought:
		return "OVERBOUGHT"
	case Oversold:
		return "OVERSOLD"
	default:
		return "NEUTRAL"
	}
}

// Lean folds a class into a direction: +1 bullish-leaning (BULLISH, OVERSOLD),
// -1 bearish-leaning (BEARISH, OVERBOUGHT), 0 neutral.
func (c Class) Lean() int {
	switch c {
	case Bullish, Oversold:
		return 1
	case Bearish, Overbought:
		return -1
	case Neutral:
		return 0
	default:
		return 0
	}
}

func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Result is one indicator's latest value and classification.
type Result struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Class Class   `json:"signal"`
}

const (
	NameRSI    = "rsi"
	NameSMA    = "sma"
	NameTrend  = "trend"
	NameMACD   = "macd"
	NameStoch  = "stoch"
	NameVolume = "volume"
)

// Names lists every indicator Compute returns, in a stable order.
var Names = []string{NameRSI, NameSMA, NameTrend, NameMACD, NameStoch, NameVolume}

// Settings holds lookbacks and thresholds.
type Settings struct {
	RSIPeriod     int     `json:"rsi_period"`
	RSIOverbought float64 `json:"rsi_overbought"`
	RSIOversold   float64 `json:"rsi_oversold"`
	// MAPeriod is the SMA lookback; MABand the tolerance band around it (0.02 = ±2%).
	MAPeriod int     `json:"ma_period"`
	MABand   float64 `json:"ma_band"`
	// TrendLookback bounds the window the half-vs-half trend compares (0 = whole series);
	// TrendThreshold is the relative change that counts as a trend (0.05 = ±5%).
	TrendLookback  int     `json:"trend_lookback"`
	TrendThreshold float64 `json:"trend_threshold"`
	MACDFast       int     `json:"macd_fast"`
	MACDSlow       int     `json:"macd_slow"`
	MACDSignal     int     `json:"macd_signal"`
	StochK         int     `json:"stoch_k"`
	StochSlow      int     `json:"stoch_slow"`
	// VolumeSpike is the last/average volume ratio that makes a bar count as a thrust.
	VolumeSpike float64 `json:"volume_spike"`
}

func DefaultSettings() Settings {
	return Settings{
		RSIPeriod:      14,
		RSIOverbought:  70,
		RSIOversold:    30,
		MAPeriod:       20,
		MABand:         0.02,
		TrendLookback:  0,
		TrendThreshold: 0.05,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
		StochK:         14,
		StochSlow:      3,
		VolumeSpike:    1.5,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = d.RSIPeriod
	}
	if s.RSIOverbought <= 0 {
		s.RSIOverbought = d.RSIOverbought
	}
	if s.RSIOversold <= 0 {
		s.RSIOversold = d.RSIOversold
	}
	if s.MAPeriod <= 0 {
		s.MAPeriod = d.MAPeriod
	}
	if s.MABand <= 0 {
		s.MABand = d.MABand
	}
	if s.TrendThreshold <= 0 {
		s.TrendThreshold = d.TrendThreshold
	}
	if s.MACDFast <= 0 || s.MACDSlow <= s.MACDFast || s.MACDSignal <= 0 {
		s.MACDFast, s.MACDSlow, s.MACDSignal = d.MACDFast, d.MACDSlow, d.MACDSignal
	}
	if s.StochK <= 0 {
		s.StochK = d.StochK
	}
	if s.StochSlow <= 0 {
		s.StochSlow = d.StochSlow
	}
	if s.VolumeSpike <= 0 {
		s.VolumeSpike = d.VolumeSpike
	}
	return s
}

// Compute evaluates every indicator on the given series. A series shorter than an
// indicator's lookback yields a NEUTRAL result with value 0 for that indicator; it never fails.
func Compute(closes, highs, lows, volumes []float64, cfg Settings) map[string]Result {
	cfg = cfg.withDefaults()
	out := make(map[string]Result, len(Names))
	out[NameRSI] = rsi(closes, cfg)
	out[NameSMA] = sma(closes, cfg)
	out[NameTrend] = trend(closes, cfg)
	out[NameMACD] = macd(closes, cfg)
	out[NameStoch] = stoch(closes, highs, lows, cfg)
	out[NameVolume] = volume(closes, volumes, cfg)
	return out
}

func neutral(name string) Result {
	return Result{Name: name, Value: 0, Class: Neutral}
}

func rsi(closes []float64, cfg Settings) Result {
	if len(closes) <= cfg.RSIPeriod {
		return neutral(NameRSI)
	}
	val := lastValid(talib.Rsi(closes, cfg.RSIPeriod))
	return Result{Name: NameRSI, Value: round4(val), Class: ClassifyOscillator(val, cfg.RSIOverbought, cfg.RSIOversold)}
}

func sma(closes []float64, cfg Settings) Result {
	if len(closes) < cfg.MAPeriod {
		return neutral(NameSMA)
	}
	avg := lastValid(talib.Sma(closes, cfg.MAPeriod))
	return Result{Name: NameSMA, Value: round4(avg), Class: ClassifyBand(closes[len(closes)-1], avg, cfg.MABand)}
}

func trend(closes []float64, cfg Settings) Result {
	window := closes
	if cfg.TrendLookback > 0 {
		if len(closes) < cfg.TrendLookback {
			return neutral(NameTrend)
		}
		window = closes[len(closes)-cfg.TrendLookback:]
	}
	if len(window) < 4 {
		return neutral(NameTrend)
	}
	half := len(window) / 2
	first := mean(window[:half])
	second := mean(window[half:])
	if first == 0 {
		return neutral(NameTrend)
	}
	change := (second - first) / first
	return Result{Name: NameTrend, Value: round4(change), Class: ClassifyChange(change, cfg.TrendThreshold)}
}

func macd(closes []float64, cfg Settings) Result {
	if len(closes) < cfg.MACDSlow+cfg.MACDSignal {
		return neutral(NameMACD)
	}
	_, _, hist := talib.Macd(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	h := lastValid(hist)
	class := Neutral
	switch {
	case h > 0:
		class = Bullish
	case h < 0:
		class = Bearish
	}
	return Result{Name: NameMACD, Value: round4(h), Class: class}
}

func stoch(closes, highs, lows []float64, cfg Settings) Result {
	n := len(closes)
	if len(highs) != n || len(lows) != n || n < cfg.StochK+2*cfg.StochSlow {
		return neutral(NameStoch)
	}
	k, _ := talib.Stoch(highs, lows, closes, cfg.StochK, cfg.StochSlow, talib.SMA, cfg.StochSlow, talib.SMA)
	val := lastValid(k)
	return Result{Name: NameStoch, Value: round4(val), Class: ClassifyOscillator(val, 80, 20)}
}

func volume(closes, volumes []float64, cfg Settings) Result {
	n := len(volumes)
	if n != len(closes) || n < cfg.MAPeriod+1 {
		return neutral(NameVolume)
	}
	avg := mean(volumes[n-1-cfg.MAPeriod : n-1])
	if avg <= 0 {
		return neutral(NameVolume)
	}
	ratio := volumes[n-1] / avg
	class := Neutral
	if ratio >= cfg.VolumeSpike {
		switch {
		case closes[n-1] > closes[n-2]:
			class = Bullish
		case closes[n-1] < closes[n-2]:
			class = Bearish
		}
	}
	return Result{Name: NameVolume, Value: round4(ratio), Class: class}
}

// ClassifyOscillator maps an oscillator reading to OVERBOUGHT / OVERSOLD / NEUTRAL.
func ClassifyOscillator(v, overbought, oversold float64) Class {
	switch {
	case v > overbought:
		return Overbought
	case v < oversold:
		return Oversold
	default:
		return Neutral
	}
}

// ClassifyBand compares price to a reference with a relative tolerance band.
func ClassifyBand(price, ref, band float64) Class {
	if ref <= 0 {
		return Neutral
	}
	switch {
	case price > ref*(1+band):
		return Bullish
	case price < ref*(1-band):
		return Bearish
	default:
		return Neutral
	}
}

// ClassifyChange classifies a relative change against a symmetric threshold.
func ClassifyChange(change, threshold float64) Class {
	switch {
	case change > threshold:
		return Bullish
	case change < -threshold:
		return Bearish
	default:
		return Neutral
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
