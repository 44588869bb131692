// Package types holds the small enums shared by analysis, signals and positions.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Direction is a five-level directional verdict.
type Direction int

const (
	StrongSell Direction = iota - 2
	Sell
	DirNeutral
	Buy
	StrongBuy
)

func (d Direction) String() string {
	switch d {
	case StrongSell:
		return "STRONG_SELL"
	case Sell:
		return "SELL"
	case DirNeutral:
		return "NEUTRAL"
	case Buy:
		return "BUY"
	case StrongBuy:
		return "STRONG_BUY"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Sign is +1 for BUY/STRONG_BUY, -1 for SELL/STRONG_SELL, 0 otherwise.
func (d Direction) Sign() int {
	switch d {
	case Buy, StrongBuy:
		return 1
	case Sell, StrongSell:
		return -1
	case DirNeutral:
		return 0
	default:
		return 0
	}
}

func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Direction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STRONG_SELL":
		return StrongSell, nil
	case "SELL":
		return Sell, nil
	case "NEUTRAL", "":
		return DirNeutral, nil
	case "BUY":
		return Buy, nil
	case "STRONG_BUY":
		return StrongBuy, nil
	default:
		return DirNeutral, fmt.Errorf("unknown direction %q", s)
	}
}
