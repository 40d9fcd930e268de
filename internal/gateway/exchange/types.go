// Package exchange defines the collaborator contract between the sync engine
// and an exchange backend: paged kline fetch, exchange metadata, connectivity
// probing, and live stream subscriptions.
package exchange

import (
	"fmt"
	"strconv"
	"strings"
)

// SymbolInfo is the trading-rule metadata extracted from exchange info.
type SymbolInfo struct {
	Symbol            string
	BaseAsset         string
	QuoteAsset        string
	Status            string
	PricePrecision    int
	QuantityPrecision int
	TickSize          string
	MinQty            string
}

// ConnectionStatus is the outcome of a connectivity probe.
type ConnectionStatus struct {
	Success   bool
	Message   string
	LatencyMs int64
}

// SubscriptionKey builds the canonical stream key "dsID_symbolID_interval".
func SubscriptionKey(dataSourceID, symbolID int64, interval string) string {
	return fmt.Sprintf("%d_%d_%s", dataSourceID, symbolID, interval)
}

// ParseSubscriptionKey is the inverse of SubscriptionKey.
func ParseSubscriptionKey(key string) (dataSourceID, symbolID int64, interval string, err error) {
	parts := strings.SplitN(key, "_", 3)
	if len(parts) != 3 {
		return 0, 0, "", fmt.Errorf("订阅键格式不合法: %s", key)
	}
	dataSourceID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, "", fmt.Errorf("订阅键格式不合法: %s", key)
	}
	symbolID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, "", fmt.Errorf("订阅键格式不合法: %s", key)
	}
	return dataSourceID, symbolID, parts[2], nil
}

// MarketType 取值与市场读模型一致。
const (
	MarketTypeSpot        = "SPOT"
	MarketTypeUSDTFutures = "USDT_FUTURES"
)

// ExchangeTypeBinance 是目前唯一支持的数据源类型。
const ExchangeTypeBinance = "BINANCE"
