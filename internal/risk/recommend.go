package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"tradeengine/internal/types"
)

type Kind string

const (
	AdjustStopLoss   Kind = "STOP_LOSS"
	AdjustTakeProfit Kind = "TAKE_PROFIT"
	ReduceSize       Kind = "REDUCE_SIZE"
)

// Recommendation is a suggested change; the position owner decides whether to apply it.
type Recommendation struct {
	Kind       Kind            `json:"kind"`
	Price      decimal.Decimal `json:"price,omitempty"`
	Ratio      decimal.Decimal `json:"ratio,omitempty"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
}

// Exposure is the slice of a position the analyzer needs.
type Exposure struct {
	Side       types.Side
	Current    decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Recommend proposes a tighter stop at the nearest protective level, an earlier
// take-profit in front of the nearest opposing wall, and a size cut when the book
// leans hard against the position.
func (a *Analyzer) Recommend(an Analysis, pos Exposure) []Recommendation {
	current, _ := pos.Current.Float64()
	if current <= 0 || !pos.Side.Valid() {
		return nil
	}
	long := pos.Side.IsLong()
	protect, oppose := an.Support, an.Resistance
	if !long {
		protect, oppose = an.Resistance, an.Support
	}
	// score seen from the position: positive is favourable
	stance := an.Score * float64(pos.Side.Sign())

	var out []Recommendation
	if lv, ok := nearest(protect, current, long); ok {
		price := a.offset(lv.Price, long)
		if tighter(price, pos.StopLoss, long) {
			out = append(out, Recommendation{
				Kind:       AdjustStopLoss,
				Price:      price,
				Confidence: confidence(lv.Strength, -stance),
				Reason:     fmt.Sprintf("%s level %.6g (%.1fx) behind price, sentiment %s", protectName(long), lv.Price, lv.Strength, an.Sentiment),
			})
		}
	}
	if lv, ok := nearest(oppose, current, !long); ok {
		price := a.offset(lv.Price, long)
		if earlier(price, pos.TakeProfit, long) {
			out = append(out, Recommendation{
				Kind:       AdjustTakeProfit,
				Price:      price,
				Confidence: confidence(lv.Strength, -stance),
				Reason:     fmt.Sprintf("%s wall %.6g (%.1fx) ahead of target", protectName(!long), lv.Price, lv.Strength),
			})
		}
	}
	if -stance >= a.cfg.ReduceThreshold {
		out = append(out, Recommendation{
			Kind:       ReduceSize,
			Ratio:      decimal.NewFromFloat(a.cfg.ReduceRatio),
			Confidence: clamp(-stance, 0, 1),
			Reason:     fmt.Sprintf("order book %s against position (score %.2f)", an.Sentiment, an.Score),
		})
	}
	return out
}

// nearest finds the closest level below price (below=true) or above it.
func nearest(levels []Level, price float64, below bool) (Level, bool) {
	var best Level
	found := false
	for _, lv := range levels {
		if below && lv.Price >= price || !below && lv.Price <= price {
			continue
		}
		if !found || math.Abs(price-lv.Price) < math.Abs(price-best.Price) {
			best, found = lv, true
		}
	}
	return best, found
}

// offset nudges a level price down (down=true) or up by the buffer, so stops sit
// beyond the level and targets in front of it.
func (a *Analyzer) offset(price float64, down bool) decimal.Decimal {
	f := 1 + a.cfg.Buffer
	if down {
		f = 1 - a.cfg.Buffer
	}
	return decimal.NewFromFloat(price * f)
}

func tighter(candidate, current decimal.Decimal, long bool) bool {
	if current.IsZero() {
		return true
	}
	if long {
		return candidate.GreaterThan(current)
	}
	return candidate.LessThan(current)
}

func earlier(candidate, current decimal.Decimal, long bool) bool {
	if current.IsZero() {
		return false
	}
	if long {
		return candidate.LessThan(current)
	}
	return candidate.GreaterThan(current)
}

// confidence mixes level strength with how adverse the book is (adverse in [-1,1]).
func confidence(strength, adverse float64) float64 {
	s := clamp((strength-1)/2, 0, 1)
	return clamp(0.5*s+0.5*clamp(adverse, 0, 1)+0.25, 0, 1)
}

func protectName(long bool) string {
	if long {
		return "support"
	}
	return "resistance"
}
