package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chansync/internal/gateway/exchange"
	"chansync/internal/market"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const maxKlineLimit = 1000

// Client 基于 go-binance SDK 实现 exchange.Client，按市场类型选择现货或
// U本位合约接口。
type Client struct {
	cfg  Config
	spot *gobinance.Client
	fut  *futures.Client
}

func NewClient(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	c := &Client{cfg: final}
	switch final.MarketType {
	case exchange.MarketTypeUSDTFutures:
		fut := futures.NewClient("", "")
		if final.RESTBaseURL != "" {
			fut.BaseURL = final.RESTBaseURL
		}
		fut.HTTPClient = httpClient
		c.fut = fut
	case exchange.MarketTypeSpot:
		spot := gobinance.NewClient("", "")
		if final.RESTBaseURL != "" {
			spot.BaseURL = final.RESTBaseURL
		}
		spot.HTTPClient = httpClient
		c.spot = spot
	default:
		return nil, fmt.Errorf("不支持的市场类型: %s", final.MarketType)
	}
	if final.ProxyEnabled {
		wsProxy := final.WSProxyURL
		if wsProxy == "" {
			wsProxy = final.RESTProxyURL
		}
		if wsProxy != "" {
			gobinance.SetWsProxyUrl(wsProxy)
			futures.SetWsProxyUrl(wsProxy)
		}
	}
	return c, nil
}

func (c *Client) GetKlines(ctx context.Context, symbol, interval string, startTime, endTime int64, limit int) ([]market.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("交易对名称不能为空")
	}
	if err := market.ValidateInterval(interval); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	if c.fut != nil {
		return c.futuresKlines(ctx, symbol, interval, startTime, endTime, limit)
	}
	return c.spotKlines(ctx, symbol, interval, startTime, endTime, limit)
}

func (c *Client) spotKlines(ctx context.Context, symbol, interval string, startTime, endTime int64, limit int) ([]market.Candle, error) {
	svc := c.spot.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	if startTime > 0 {
		svc = svc.StartTime(startTime)
	}
	if endTime > 0 {
		svc = svc.EndTime(endTime)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取K线失败: %w", err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:    kl.OpenTime,
			CloseTime:   kl.CloseTime,
			Open:        parseDecimal(kl.Open),
			High:        parseDecimal(kl.High),
			Low:         parseDecimal(kl.Low),
			Close:       parseDecimal(kl.Close),
			Volume:      parseDecimal(kl.Volume),
			QuoteVolume: parseDecimal(kl.QuoteAssetVolume),
			Trades:      kl.TradeNum,
		})
	}
	return out, nil
}

func (c *Client) futuresKlines(ctx context.Context, symbol, interval string, startTime, endTime int64, limit int) ([]market.Candle, error) {
	svc := c.fut.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	if startTime > 0 {
		svc = svc.StartTime(startTime)
	}
	if endTime > 0 {
		svc = svc.EndTime(endTime)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取K线失败: %w", err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:    kl.OpenTime,
			CloseTime:   kl.CloseTime,
			Open:        parseDecimal(kl.Open),
			High:        parseDecimal(kl.High),
			Low:         parseDecimal(kl.Low),
			Close:       parseDecimal(kl.Close),
			Volume:      parseDecimal(kl.Volume),
			QuoteVolume: parseDecimal(kl.QuoteAssetVolume),
			Trades:      kl.TradeNum,
		})
	}
	return out, nil
}

func (c *Client) GetExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error) {
	if c.fut != nil {
		info, err := c.fut.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取交易规则失败: %w", err)
		}
		out := make([]exchange.SymbolInfo, 0, len(info.Symbols))
		for _, sym := range info.Symbols {
			si := exchange.SymbolInfo{
				Symbol:            sym.Symbol,
				BaseAsset:         sym.BaseAsset,
				QuoteAsset:        sym.QuoteAsset,
				Status:            sym.Status,
				PricePrecision:    sym.PricePrecision,
				QuantityPrecision: sym.QuantityPrecision,
			}
			si.TickSize, si.MinQty = extractFilters(sym.Filters)
			out = append(out, si)
		}
		return out, nil
	}
	info, err := c.spot.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取交易规则失败: %w", err)
	}
	out := make([]exchange.SymbolInfo, 0, len(info.Symbols))
	for _, sym := range info.Symbols {
		si := exchange.SymbolInfo{
			Symbol:            sym.Symbol,
			BaseAsset:         sym.BaseAsset,
			QuoteAsset:        sym.QuoteAsset,
			Status:            sym.Status,
			PricePrecision:    sym.QuotePrecision,
			QuantityPrecision: sym.BaseAssetPrecision,
		}
		si.TickSize, si.MinQty = extractFilters(sym.Filters)
		out = append(out, si)
	}
	return out, nil
}

// extractFilters plucks tick size and min quantity out of the dynamic filter
// payload the exchange ships per symbol.
func extractFilters(filters []map[string]interface{}) (tickSize, minQty string) {
	raw, err := json.Marshal(filters)
	if err != nil {
		return "", ""
	}
	tickSize = gjson.GetBytes(raw, `#(filterType=="PRICE_FILTER").tickSize`).String()
	minQty = gjson.GetBytes(raw, `#(filterType=="LOT_SIZE").minQty`).String()
	return tickSize, minQty
}

func (c *Client) TestConnection(ctx context.Context) exchange.ConnectionStatus {
	started := time.Now()
	var err error
	if c.fut != nil {
		_, err = c.fut.NewServerTimeService().Do(ctx)
	} else {
		_, err = c.spot.NewServerTimeService().Do(ctx)
	}
	latency := time.Since(started).Milliseconds()
	if err != nil {
		return exchange.ConnectionStatus{Success: false, Message: fmt.Sprintf("连接测试失败: %v", err), LatencyMs: latency}
	}
	return exchange.ConnectionStatus{Success: true, Message: "ok", LatencyMs: latency}
}

func (c *Client) Close() error {
	return nil
}

func parseDecimal(v string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}
