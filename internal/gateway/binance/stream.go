package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chansync/internal/gateway/exchange"
	"chansync/internal/logger"
	"chansync/internal/market"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
)

// StreamManager runs one websocket loop per subscription key and reconnects
// with exponential backoff. Closed candles are forwarded to the handlers;
// forming candles are dropped at the transport boundary.
type StreamManager struct {
	cfg      Config
	handlers exchange.StreamHandlers

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

type subscription struct {
	symbol   string
	interval string
	cancel   context.CancelFunc

	mu        sync.Mutex
	connected bool
}

func NewStreamManager(cfg Config, handlers exchange.StreamHandlers) *StreamManager {
	return &StreamManager{
		cfg:      cfg.withDefaults(),
		handlers: handlers,
		subs:     make(map[string]*subscription),
	}
}

func (m *StreamManager) Subscribe(key, symbol, interval string) error {
	if m == nil {
		return fmt.Errorf("stream manager 未初始化")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("交易对名称不能为空")
	}
	if err := market.ValidateInterval(interval); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("stream manager 已关闭")
	}
	if _, exists := m.subs[key]; exists {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{symbol: symbol, interval: interval, cancel: cancel}
	m.subs[key] = sub
	m.mu.Unlock()

	go m.runLoop(ctx, key, sub)
	return nil
}

func (m *StreamManager) Unsubscribe(key string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	sub, ok := m.subs[key]
	if ok {
		delete(m.subs, key)
	}
	m.mu.Unlock()
	if ok {
		sub.cancel()
	}
}

func (m *StreamManager) UnsubscribeAll() {
	if m == nil {
		return
	}
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
	}
}

func (m *StreamManager) ActiveKeys() []string {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.subs))
	for key := range m.subs {
		keys = append(keys, key)
	}
	return keys
}

func (m *StreamManager) ConnectedCount() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()
	count := 0
	for _, sub := range subs {
		sub.mu.Lock()
		if sub.connected {
			count++
		}
		sub.mu.Unlock()
	}
	return count
}

func (m *StreamManager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.UnsubscribeAll()
	return nil
}

func (m *StreamManager) runLoop(ctx context.Context, key string, sub *subscription) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		handler := func(ev market.CandleEvent) {
			if !ev.Closed {
				return
			}
			if m.handlers.OnClosedCandle != nil {
				m.handlers.OnClosedCandle(key, ev)
			}
		}
		doneC, stopC, err := m.serve(sub.symbol, sub.interval, handler)
		if err != nil {
			logger.Warnf("[binance] subscribe %s failed: %v", key, err)
			m.markDisconnected(key, sub, err)
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		sub.mu.Lock()
		sub.connected = true
		sub.mu.Unlock()
		if m.handlers.OnConnect != nil {
			m.handlers.OnConnect(key)
		}
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			m.markDisconnected(key, sub, nil)
			return
		case <-doneC:
		}
		close(stopC)
		m.markDisconnected(key, sub, fmt.Errorf("stream closed"))
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (m *StreamManager) serve(symbol, interval string, handler func(market.CandleEvent)) (doneC, stopC chan struct{}, err error) {
	errHandler := func(err error) {
		if err != nil {
			logger.Debugf("[binance] ws error %s %s: %v", symbol, interval, err)
		}
	}
	if m.cfg.MarketType == exchange.MarketTypeUSDTFutures {
		return futures.WsKlineServe(symbol, interval, func(ev *futures.WsKlineEvent) {
			if ce, ok := convertFuturesKline(ev); ok {
				handler(ce)
			}
		}, errHandler)
	}
	return gobinance.WsKlineServe(symbol, interval, func(ev *gobinance.WsKlineEvent) {
		if ce, ok := convertSpotKline(ev); ok {
			handler(ce)
		}
	}, errHandler)
}

func (m *StreamManager) markDisconnected(key string, sub *subscription, err error) {
	sub.mu.Lock()
	wasConnected := sub.connected
	sub.connected = false
	sub.mu.Unlock()
	if wasConnected && m.handlers.OnDisconnect != nil {
		m.handlers.OnDisconnect(key, err)
	}
}

func convertSpotKline(ev *gobinance.WsKlineEvent) (market.CandleEvent, bool) {
	if ev == nil {
		return market.CandleEvent{}, false
	}
	symbol := strings.ToUpper(strings.TrimSpace(ev.Symbol))
	interval := strings.TrimSpace(ev.Kline.Interval)
	if symbol == "" || interval == "" {
		return market.CandleEvent{}, false
	}
	return market.CandleEvent{
		Symbol:   symbol,
		Interval: interval,
		Closed:   ev.Kline.IsFinal,
		Candle: market.Candle{
			OpenTime:    ev.Kline.StartTime,
			CloseTime:   ev.Kline.EndTime,
			Open:        parseDecimal(ev.Kline.Open),
			High:        parseDecimal(ev.Kline.High),
			Low:         parseDecimal(ev.Kline.Low),
			Close:       parseDecimal(ev.Kline.Close),
			Volume:      parseDecimal(ev.Kline.Volume),
			QuoteVolume: parseDecimal(ev.Kline.QuoteVolume),
			Trades:      ev.Kline.TradeNum,
		},
	}, true
}

func convertFuturesKline(ev *futures.WsKlineEvent) (market.CandleEvent, bool) {
	if ev == nil {
		return market.CandleEvent{}, false
	}
	symbol := strings.ToUpper(strings.TrimSpace(ev.Symbol))
	interval := strings.TrimSpace(ev.Kline.Interval)
	if symbol == "" || interval == "" {
		return market.CandleEvent{}, false
	}
	return market.CandleEvent{
		Symbol:   symbol,
		Interval: interval,
		Closed:   ev.Kline.IsFinal,
		Candle: market.Candle{
			OpenTime:    ev.Kline.StartTime,
			CloseTime:   ev.Kline.EndTime,
			Open:        parseDecimal(ev.Kline.Open),
			High:        parseDecimal(ev.Kline.High),
			Low:         parseDecimal(ev.Kline.Low),
			Close:       parseDecimal(ev.Kline.Close),
			Volume:      parseDecimal(ev.Kline.Volume),
			QuoteVolume: parseDecimal(ev.Kline.QuoteVolume),
			Trades:      ev.Kline.TradeNum,
		},
	}, true
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	next := current * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}
