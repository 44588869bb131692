package binance

import (
	"strings"
	"time"
)

const testnetBaseURL = "https://testnet.binancefuture.com"

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	Testnet     bool

	// Credentials are only needed for order placement.
	APIKey    string
	APISecret string

	ProxyEnabled bool
	RESTProxyURL string

	// RecvWindow in milliseconds for signed requests; 0 keeps the venue default.
	RecvWindow int64
	Now        func() time.Time
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
		if out.Testnet {
			out.RESTBaseURL = testnetBaseURL
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.APISecret = strings.TrimSpace(out.APISecret)
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}
