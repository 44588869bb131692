package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/types"
)

// Confirmation classifies how higher timeframes relate to a candidate side.
type Confirmation int

const (
	NotApplicable Confirmation = iota
	StrongConfirmation
	WeakConfirmation
	NoConfirmation
	Contradiction
	ServiceError
)

func (c Confirmation) String() string {
	switch c {
	case NotApplicable:
		return "NOT_APPLICABLE"
	case StrongConfirmation:
		return "STRONG_CONFIRMATION"
	case WeakConfirmation:
		return "WEAK_CONFIRMATION"
	case NoConfirmation:
		return "NO_CONFIRMATION"
	case Contradiction:
		return "CONTRADICTION"
	case ServiceError:
		return "SERVICE_ERROR"
	default:
		return fmt.Sprintf("Confirmation(%d)", int(c))
	}
}

func ParseConfirmation(s string) (Confirmation, error) {
	for c := NotApplicable; c <= ServiceError; c++ {
		if strings.EqualFold(c.String(), strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return NotApplicable, fmt.Errorf("unknown confirmation %q", s)
}

func (c Confirmation) MarshalJSON() ([]byte, error) { return json.Marshal(c.String()) }

// Blocks reports whether the verdict vetoes a new signal.
func (c Confirmation) Blocks() bool {
	return c == Contradiction || c == ServiceError
}

// Relation is one higher timeframe's stance on the candidate side.
type Relation string

const (
	Aligns      Relation = "ALIGNS"
	Contradicts Relation = "CONTRADICTS"
	Indifferent Relation = "NEUTRAL"
	Failed      Relation = "FAILED"
)

type Check struct {
	Timeframe market.Timeframe `json:"timeframe"`
	Direction types.Direction  `json:"signal"`
	Relation  Relation         `json:"relation"`
}

type ConfirmationResult struct {
	Verdict Confirmation `json:"verdict"`
	Checks  []Check      `json:"checks,omitempty"`
	Reason  string       `json:"reason"`
}

var escalation = []market.Timeframe{market.TF4h, market.TF1d}

// HigherTimeframes returns the escalation set strictly above primary:
// up to 1h checks 4h and 1d, 4h checks 1d, 1d and above have none.
func HigherTimeframes(primary market.Timeframe) []market.Timeframe {
	pd, ok := primary.Duration()
	if !ok {
		return nil
	}
	var out []market.Timeframe
	for _, tf := range escalation {
		d, _ := tf.Duration()
		if d > pd {
			out = append(out, tf)
		}
	}
	return out
}

// ConfirmHigherTimeframes analyzes the escalation set and decides, in order:
// all failed, any contradiction, all valid align, some align, otherwise none.
func (s *Scorer) ConfirmHigherTimeframes(ctx context.Context, symbol string, primary market.Timeframe, side types.Side, venue market.Venue) ConfirmationResult {
	higher := HigherTimeframes(primary)
	if len(higher) == 0 {
		return ConfirmationResult{Verdict: NotApplicable, Reason: fmt.Sprintf("no timeframe above %s", primary)}
	}
	checks := make([]Check, len(higher))
	var eg errgroup.Group
	eg.SetLimit(s.cfg.Workers)
	for i, tf := range higher {
		i, tf := i, tf
		eg.Go(func() error {
			c := Check{Timeframe: tf, Relation: Failed}
			if v := s.analyzeBounded(ctx, symbol, tf, venue); v != nil {
				c.Direction = v.Direction
				c.Relation = relate(side, v.Direction)
			}
			checks[i] = c
			return nil
		})
	}
	_ = eg.Wait()
	res := Decide(checks)
	logger.Debugf("confirmation symbol=%s primary=%s side=%s %s", symbol, primary, side, res.Reason)
	return res
}

// Decide folds higher-timeframe checks into a confirmation verdict.
func Decide(checks []Check) ConfirmationResult {
	if len(checks) == 0 {
		return ConfirmationResult{Verdict: NotApplicable, Reason: "no higher timeframes"}
	}
	var valid, align, contra int
	var parts []string
	for _, c := range checks {
		parts = append(parts, fmt.Sprintf("%s=%s", c.Timeframe, c.Relation))
		switch c.Relation {
		case Failed:
			continue
		case Aligns:
			align++
		case Contradicts:
			contra++
		case Indifferent:
		}
		valid++
	}
	res := ConfirmationResult{Checks: checks}
	switch {
	case valid == 0:
		res.Verdict = ServiceError
	case contra > 0:
		res.Verdict = Contradiction
	case align == valid:
		res.Verdict = StrongConfirmation
	case align > 0:
		res.Verdict = WeakConfirmation
	default:
		res.Verdict = NoConfirmation
	}
	res.Reason = fmt.Sprintf("%s (%s)", res.Verdict, strings.Join(parts, ", "))
	return res
}

func relate(side types.Side, d types.Direction) Relation {
	switch side.Sign() * d.Sign() {
	case 1:
		return Aligns
	case -1:
		return Contradicts
	default:
		return Indifferent
	}
}
