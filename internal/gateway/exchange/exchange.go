package exchange

import (
	"context"
	"sort"
	"sync"

	"chansync/internal/market"
)

// Client 是交易所REST侧协作方：K线分页拉取、交易规则、连通性探测。
type Client interface {
	// GetKlines fetches candles inside [startTime, endTime] (inclusive
	// millisecond bounds; a non-positive bound is ignored). limit caps the
	// page size.
	GetKlines(ctx context.Context, symbol, interval string, startTime, endTime int64, limit int) ([]market.Candle, error)

	GetExchangeInfo(ctx context.Context) ([]SymbolInfo, error)

	TestConnection(ctx context.Context) ConnectionStatus

	Close() error
}

// StreamHandlers carries the callbacks a stream subscription feeds.
// Handlers run on transport goroutines and must not block.
type StreamHandlers struct {
	// OnClosedCandle receives closed candles only; forming candles are
	// filtered out by the transport.
	OnClosedCandle func(key string, event market.CandleEvent)
	OnConnect      func(key string)
	OnDisconnect   func(key string, err error)
}

// StreamManager 管理以订阅键（dsID_symbolID_interval）标识的实时K线订阅。
type StreamManager interface {
	Subscribe(key, symbol, interval string) error
	Unsubscribe(key string)
	UnsubscribeAll()
	ActiveKeys() []string
	ConnectedCount() int
	Close() error
}

// Registry maps data source ids to their clients and stream managers.
// Built once at startup, read by the sync engine.
type Registry struct {
	mu      sync.RWMutex
	clients map[int64]Client
	streams map[int64]StreamManager
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[int64]Client),
		streams: make(map[int64]StreamManager),
	}
}

func (r *Registry) Register(dataSourceID int64, client Client, stream StreamManager) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if client != nil {
		r.clients[dataSourceID] = client
	}
	if stream != nil {
		r.streams[dataSourceID] = stream
	}
	r.mu.Unlock()
}

func (r *Registry) ClientFor(dataSourceID int64) (Client, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[dataSourceID]
	return c, ok
}

// DataSourceIDs returns the registered data source ids in ascending order.
func (r *Registry) DataSourceIDs() []int64 {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	ids := make([]int64, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) StreamFor(dataSourceID int64) (StreamManager, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[dataSourceID]
	return s, ok
}

func (r *Registry) CloseAll() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.streams {
		_ = s.Close()
	}
	for _, c := range r.clients {
		_ = c.Close()
	}
}
