// Package symbol converts between the engine's "BASE/QUOTE" notation and venue notations.
package symbol

import (
	"strings"
)

// Symbol is a parsed trading pair.
type Symbol struct {
	Base  string
	Quote string
}

var quoteCurrencies = []string{"USDT", "USDC", "FDUSD", "BUSD", "TUSD", "BTC", "ETH", "BNB"}

// Internal renders the pair as "BASE/QUOTE".
func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Compact renders the pair as "BASEQUOTE", the Binance REST form.
func (s Symbol) Compact() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Parse accepts "BTC/USDT", "BTC/USDT:USDT", "btcusdt" and similar forms.
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{Base: strings.TrimSpace(parts[0]), Quote: strings.TrimSpace(parts[1])}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Normalize returns the internal form, or the upper-cased input when it cannot be parsed.
func Normalize(s string) string {
	if norm := Parse(s).Internal(); norm != "" {
		return norm
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeList normalizes and de-duplicates symbols, keeping first-seen order.
func NormalizeList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := Normalize(s)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

// ToBinance converts an internal symbol to the venue's compact form.
func ToBinance(internal string) string {
	if c := Parse(internal).Compact(); c != "" {
		return c
	}
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(internal)), "/", "")
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}

// ToGate converts an internal symbol to a Gate futures contract ("BTC_USDT").
func ToGate(internal string) string {
	sym := Parse(internal)
	if sym.Base == "" || sym.Quote == "" {
		return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(internal)), "/", "_")
	}
	return sym.Base + "_" + sym.Quote
}
