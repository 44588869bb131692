// Package confluence scores agreement of timeframe verdicts and checks a candidate
// trade against higher timeframes.
package confluence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tradeengine/internal/analysis/timeframe"
	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/types"
)

// DefaultThreshold is the dominant-signal share that counts as confluence.
const DefaultThreshold = 0.60

// DefaultWeight applies to any timeframe missing from the weight table.
const DefaultWeight = 0.20

// DefaultWeights favours the slower timeframes.
func DefaultWeights() map[market.Timeframe]float64 {
	return map[market.Timeframe]float64{
		market.TF15m: 0.10,
		market.TF1h:  0.20,
		market.TF4h:  0.35,
		market.TF1d:  0.35,
	}
}

// Analyzer is the per-timeframe collaborator; nil means "exclude this timeframe".
type Analyzer interface {
	Analyze(ctx context.Context, symbol string, tf market.Timeframe, venue market.Venue) *timeframe.Verdict
}

type Config struct {
	Threshold     float64
	Weights       map[market.Timeframe]float64
	DefaultWeight float64
	// Timeout bounds each timeframe analysis; a late timeframe is excluded.
	Timeout time.Duration
	// Workers bounds concurrent analyses per Score call.
	Workers    int
	Timeframes []market.Timeframe
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = DefaultThreshold
	}
	if len(c.Weights) == 0 {
		c.Weights = DefaultWeights()
	}
	if c.DefaultWeight <= 0 {
		c.DefaultWeight = DefaultWeight
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if len(c.Timeframes) == 0 {
		c.Timeframes = market.DefaultTimeframes
	}
	return c
}

// Weight returns the configured weight of tf.
func (c Config) Weight(tf market.Timeframe) float64 {
	if w, ok := c.Weights[tf]; ok && w > 0 {
		return w
	}
	return c.DefaultWeight
}

// Verdict is the cycle-local outcome of one confluence evaluation.
type Verdict struct {
	Symbol        string               `json:"symbol"`
	Dominant      types.Direction      `json:"dominant_signal"`
	Strength      float64              `json:"confluence_strength"`
	HasConfluence bool                 `json:"has_confluence"`
	Agreeing      int                  `json:"agreeing"`
	Analyzed      int                  `json:"analyzed"`
	Timeframes    []*timeframe.Verdict `json:"timeframes"`
	Missing       []market.Timeframe   `json:"missing,omitempty"`
	Reason        string               `json:"reason"`
}

// Primary returns the verdict of the fastest analyzed timeframe.
func (v Verdict) Primary() (*timeframe.Verdict, bool) {
	if len(v.Timeframes) == 0 {
		return nil, false
	}
	return v.Timeframes[0], true
}

type Scorer struct {
	analyzer Analyzer
	cfg      Config
}

func NewScorer(analyzer Analyzer, cfg Config) *Scorer {
	return &Scorer{analyzer: analyzer, cfg: cfg.withDefaults()}
}

func (s *Scorer) Config() Config { return s.cfg }

// Score analyzes every timeframe concurrently and aggregates whatever came back in time.
func (s *Scorer) Score(ctx context.Context, symbol string, venue market.Venue, tfs ...market.Timeframe) Verdict {
	if len(tfs) == 0 {
		tfs = s.cfg.Timeframes
	}
	got := s.collect(ctx, symbol, venue, tfs)
	v := Aggregate(symbol, tfs, got, s.cfg)
	logger.Debugf("confluence symbol=%s %s", symbol, v.Reason)
	return v
}

// collect runs the analyses on a bounded pool; slot i holds tfs[i]'s verdict or nil.
func (s *Scorer) collect(ctx context.Context, symbol string, venue market.Venue, tfs []market.Timeframe) []*timeframe.Verdict {
	out := make([]*timeframe.Verdict, len(tfs))
	var eg errgroup.Group
	eg.SetLimit(s.cfg.Workers)
	for i, tf := range tfs {
		i, tf := i, tf
		eg.Go(func() error {
			out[i] = s.analyzeBounded(ctx, symbol, tf, venue)
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

func (s *Scorer) analyzeBounded(ctx context.Context, symbol string, tf market.Timeframe, venue market.Venue) *timeframe.Verdict {
	if s.analyzer == nil {
		return nil
	}
	tctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	ch := make(chan *timeframe.Verdict, 1)
	go func() { ch <- s.analyzer.Analyze(tctx, symbol, tf, venue) }()
	select {
	case v := <-ch:
		return v
	case <-tctx.Done():
		logger.Warnf("confluence timeframe excluded symbol=%s tf=%s: %v", symbol, tf, tctx.Err())
		return nil
	}
}

// Aggregate reduces per-timeframe verdicts (aligned with tfs, nil = excluded).
// Dominant is the most frequent direction, ties going to the earliest timeframe.
// Strength is the weighted confidence of agreeing timeframes over the weight of
// every requested timeframe, so missing data lowers it.
func Aggregate(symbol string, tfs []market.Timeframe, verdicts []*timeframe.Verdict, cfg Config) Verdict {
	cfg = cfg.withDefaults()
	out := Verdict{Symbol: symbol, Dominant: types.DirNeutral}

	var totalWeight float64
	counts := make(map[types.Direction]int)
	var order []types.Direction
	for i, tf := range tfs {
		totalWeight += cfg.Weight(tf)
		var v *timeframe.Verdict
		if i < len(verdicts) {
			v = verdicts[i]
		}
		if v == nil {
			out.Missing = append(out.Missing, tf)
			continue
		}
		out.Timeframes = append(out.Timeframes, v)
		if _, seen := counts[v.Direction]; !seen {
			order = append(order, v.Direction)
		}
		counts[v.Direction]++
	}
	out.Analyzed = len(out.Timeframes)
	if out.Analyzed == 0 {
		out.Reason = "no timeframe analysis succeeded"
		return out
	}

	best := -1
	for _, d := range order {
		if counts[d] > best {
			best = counts[d]
			out.Dominant = d
		}
	}
	out.Agreeing = best

	var agreeingWeight float64
	var agreeing []string
	for _, v := range out.Timeframes {
		if v.Direction != out.Dominant {
			continue
		}
		agreeingWeight += cfg.Weight(v.Timeframe) * clamp01(v.Confidence)
		agreeing = append(agreeing, string(v.Timeframe))
	}
	if totalWeight > 0 {
		out.Strength = clamp01(agreeingWeight / totalWeight)
	}
	share := float64(out.Agreeing) / float64(out.Analyzed)
	out.HasConfluence = share >= cfg.Threshold

	verb := "below"
	if out.HasConfluence {
		verb = "meets"
	}
	out.Reason = fmt.Sprintf("%s on %d/%d timeframes [%s], strength %.2f; share %.2f %s threshold %.2f",
		out.Dominant, out.Agreeing, out.Analyzed, strings.Join(agreeing, ","), out.Strength, share, verb, cfg.Threshold)
	if len(out.Missing) > 0 {
		out.Reason += fmt.Sprintf("; missing %v", out.Missing)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
