package market

import "time"

// Candle is one OHLCV bar. Times are unix milliseconds, ordered by OpenTime ascending.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time,omitempty"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

func (c Candle) OpenedAt() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

type Candles []Candle

// Series splits the bars into the parallel slices indicator code works on.
func (cs Candles) Series() (closes, highs, lows, volumes []float64) {
	closes = make([]float64, len(cs))
	highs = make([]float64, len(cs))
	lows = make([]float64, len(cs))
	volumes = make([]float64, len(cs))
	for i, c := range cs {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}
	return closes, highs, lows, volumes
}

// Last returns the most recent bar.
func (cs Candles) Last() (Candle, bool) {
	if len(cs) == 0 {
		return Candle{}, false
	}
	return cs[len(cs)-1], true
}

// DropUnclosed removes the trailing bar while it is still forming at now.
func (cs Candles) DropUnclosed(interval time.Duration, now time.Time) Candles {
	last, ok := cs.Last()
	if !ok {
		return cs
	}
	closeAt := last.CloseTime
	if closeAt <= 0 {
		closeAt = last.OpenTime + interval.Milliseconds() - 1
	}
	if closeAt >= now.UnixMilli() {
		return cs[:len(cs)-1]
	}
	return cs
}
