package binance

import (
	"strings"
	"time"

	"chansync/internal/gateway/exchange"
)

type Config struct {
	MarketType  string
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string
	WSProxyURL   string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.MarketType = strings.ToUpper(strings.TrimSpace(out.MarketType))
	if out.MarketType == "" {
		out.MarketType = exchange.MarketTypeSpot
	}
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	out.WSProxyURL = strings.TrimSpace(out.WSProxyURL)
	return out
}
