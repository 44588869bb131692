package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeframe is a candle aggregation interval such as "15m" or "4h".
type Timeframe string

const (
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// DefaultTimeframes is the configured confluence set, lowest first.
var DefaultTimeframes = []Timeframe{TF15m, TF1h, TF4h, TF1d}

// Duration parses "15m", "1h", "4h", "1d", "1w". Returns (0, false) on invalid input.
func (tf Timeframe) Duration() (time.Duration, bool) {
	interval := strings.ToLower(strings.TrimSpace(string(tf)))
	if len(interval) < 2 {
		return 0, false
	}
	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(strings.TrimSpace(interval[:len(interval)-1]))
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

func (tf Timeframe) String() string { return string(tf) }

// ParseTimeframes validates and normalizes a configured list.
func ParseTimeframes(raw []string) ([]Timeframe, error) {
	out := make([]Timeframe, 0, len(raw))
	seen := make(map[Timeframe]struct{}, len(raw))
	for _, r := range raw {
		tf := Timeframe(strings.ToLower(strings.TrimSpace(r)))
		if _, ok := tf.Duration(); !ok {
			return nil, fmt.Errorf("invalid timeframe %q", r)
		}
		if _, dup := seen[tf]; dup {
			continue
		}
		seen[tf] = struct{}{}
		out = append(out, tf)
	}
	return out, nil
}
