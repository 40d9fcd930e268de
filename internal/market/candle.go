package market

import "github.com/shopspring/decimal"

// Candle 是一根已对齐到周期网格的K线。价格与成交量使用 decimal，
// 避免多次覆盖写入时的二进制浮点漂移。
type Candle struct {
	OpenTime    int64           `json:"open_time"`
	CloseTime   int64           `json:"close_time"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	Trades      int64           `json:"trades"`
}

// CandleEvent 是实时流推送的一条K线事件。Closed 为 false 表示该K线仍在形成中。
type CandleEvent struct {
	Symbol   string
	Interval string
	Closed   bool
	Candle   Candle
}
