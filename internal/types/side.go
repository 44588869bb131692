package types

import (
	"fmt"
	"strings"
)

// Side is the direction of a trade: BUY opens a long, SELL opens a short.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return SideBuy, nil
	case "SELL", "SHORT":
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// IsLong reports whether the side profits from rising prices.
func (s Side) IsLong() bool { return s == SideBuy }

// Opposite is the side that closes a position opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign is +1 for BUY and -1 for SELL.
func (s Side) Sign() int {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	default:
		return 0
	}
}

// SideFor maps a directional verdict to a trade side; NEUTRAL has none.
func SideFor(d Direction) (Side, bool) {
	switch d.Sign() {
	case 1:
		return SideBuy, true
	case -1:
		return SideSell, true
	default:
		return "", false
	}
}
