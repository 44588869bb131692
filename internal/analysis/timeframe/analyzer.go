// Package timeframe reduces one symbol+timeframe's indicators to a directional verdict.
package timeframe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeengine/internal/analysis/indicator"
	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/types"
)

// MinCandles is the least history an analysis accepts.
const MinCandles = 30

const defaultLimit = 100

// Verdict is the per-timeframe outcome of one analysis cycle. It is never persisted.
type Verdict struct {
	Timeframe  market.Timeframe   `json:"timeframe"`
	Direction  types.Direction    `json:"signal"`
	Confidence float64            `json:"confidence"`
	Indicators []indicator.Result `json:"indicators"`
	LastClose  float64            `json:"last_close"`
}

// Options tune an Analyzer; zero values take defaults.
type Options struct {
	Settings   indicator.Settings
	MinCandles int
	Limit      int
	Timeout    time.Duration
}

type Analyzer struct {
	resolver   market.Resolver
	settings   indicator.Settings
	minCandles int
	limit      int
	timeout    time.Duration
}

func NewAnalyzer(resolver market.Resolver, opts Options) *Analyzer {
	if opts.MinCandles < MinCandles {
		opts.MinCandles = MinCandles
	}
	if opts.Limit < opts.MinCandles {
		opts.Limit = defaultLimit
		if opts.Limit < opts.MinCandles {
			opts.Limit = opts.MinCandles
		}
	}
	return &Analyzer{
		resolver:   resolver,
		settings:   opts.Settings,
		minCandles: opts.MinCandles,
		limit:      opts.Limit,
		timeout:    opts.Timeout,
	}
}

// Analyze returns nil when data is missing or short; callers drop that timeframe.
func (a *Analyzer) Analyze(ctx context.Context, symbol string, tf market.Timeframe, venue market.Venue) *Verdict {
	v, err := a.analyze(ctx, symbol, tf, venue)
	if err != nil {
		logger.Warnf("timeframe analysis skipped symbol=%s tf=%s venue=%s: %v", symbol, tf, venue, err)
		return nil
	}
	return v
}

func (a *Analyzer) analyze(ctx context.Context, symbol string, tf market.Timeframe, venue market.Venue) (*Verdict, error) {
	if a.resolver == nil {
		return nil, fmt.Errorf("%w: no resolver", market.ErrDataUnavailable)
	}
	src, err := a.resolver.Source(venue)
	if err != nil {
		return nil, err
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	candles, err := src.FetchCandles(ctx, symbol, tf, a.limit)
	if err != nil {
		if errors.Is(err, market.ErrDataUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", market.ErrDataUnavailable, err)
	}
	if len(candles) < a.minCandles {
		return nil, fmt.Errorf("%w: %d candles, need %d", market.ErrDataUnavailable, len(candles), a.minCandles)
	}
	closes, highs, lows, volumes := candles.Series()
	results := indicator.Compute(closes, highs, lows, volumes, a.settings)
	ordered := make([]indicator.Result, 0, len(results))
	for _, name := range indicator.Names {
		if r, ok := results[name]; ok {
			ordered = append(ordered, r)
		}
	}
	dir, conf := Derive(ordered)
	return &Verdict{
		Timeframe:  tf,
		Direction:  dir,
		Confidence: conf,
		Indicators: ordered,
		LastClose:  closes[len(closes)-1],
	}, nil
}

// Derive votes the indicator classes into a direction. Confidence is the share of
// indicators agreeing with it; neutral indicators only agree with NEUTRAL.
func Derive(results []indicator.Result) (types.Direction, float64) {
	var bull, bear, flat int
	for _, r := range results {
		switch r.Class.Lean() {
		case 1:
			bull++
		case -1:
			bear++
		default:
			flat++
		}
	}
	total := bull + bear + flat
	if total == 0 {
		return types.DirNeutral, 0
	}
	var dir types.Direction
	var agree int
	switch {
	case bull > bear+flat:
		dir, agree = types.StrongBuy, bull
	case bull > bear:
		dir, agree = types.Buy, bull
	case bear > bull+flat:
		dir, agree = types.StrongSell, bear
	case bear > bull:
		dir, agree = types.Sell, bear
	default:
		dir, agree = types.DirNeutral, flat
	}
	return dir, float64(agree) / float64(total)
}
