package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chansync/internal/gateway/exchange"
	"chansync/internal/logger"
	"chansync/internal/market"
	"chansync/internal/sysconfig"
)

const (
	// backfillThreshold: shorter outages are absorbed by normal catch-up.
	backfillThreshold = time.Minute
	backfillQueueCap  = 256

	consumerInitialDelay = 5 * time.Second
	consumerPollInterval = time.Second
)

type backfillJob struct {
	DataSourceID int64
	SymbolID     int64
	Symbol       string
	Interval     string
	StartTime    int64
	EndTime      int64
}

type activeSub struct {
	DataSourceID int64
	SymbolID     int64
	Symbol       string
	Interval     string
}

// RealtimeEngine manages stream subscriptions, persists closed candles, and
// queues bounded backfill work when a reconnect follows a long outage.
type RealtimeEngine struct {
	store    Store
	registry *exchange.Registry
	filter   *Filter
	cfg      sysconfig.Provider
	nowFn    func() time.Time

	mu          sync.Mutex
	active      map[string]activeSub
	disconnects map[string]int64

	queue chan backfillJob
}

func NewRealtimeEngine(store Store, registry *exchange.Registry, filter *Filter, cfg sysconfig.Provider) *RealtimeEngine {
	return &RealtimeEngine{
		store:       store,
		registry:    registry,
		filter:      filter,
		cfg:         cfg,
		nowFn:       time.Now,
		active:      make(map[string]activeSub),
		disconnects: make(map[string]int64),
		queue:       make(chan backfillJob, backfillQueueCap),
	}
}

// Handlers wires the engine into a stream transport. Register the returned
// callbacks when constructing the transport's stream manager.
func (e *RealtimeEngine) Handlers() exchange.StreamHandlers {
	return exchange.StreamHandlers{
		OnClosedCandle: e.handleClosedCandle,
		OnConnect:      e.handleConnect,
		OnDisconnect:   e.handleDisconnect,
	}
}

// Start subscribes every configured interval of one symbol. Returns the
// number of subscriptions established.
func (e *RealtimeEngine) Start(ctx context.Context, symbolID int64) (int, error) {
	if !e.cfg.RealtimeEnabled(ctx) {
		return 0, fmt.Errorf("实时同步总开关已关闭")
	}
	sym, intervals, err := e.filter.CheckRealtimeEligible(ctx, symbolID)
	if err != nil {
		return 0, err
	}
	stream, ok := e.registry.StreamFor(sym.DataSourceID)
	if !ok {
		return 0, fmt.Errorf("数据源流客户端未注册: id=%d", sym.DataSourceID)
	}
	count := 0
	for _, interval := range intervals {
		key := exchange.SubscriptionKey(sym.DataSourceID, sym.ID, interval)
		if err := stream.Subscribe(key, sym.Symbol, interval); err != nil {
			logger.Warnf("realtime: subscribe %s failed: %v", key, err)
			continue
		}
		e.mu.Lock()
		e.active[key] = activeSub{
			DataSourceID: sym.DataSourceID,
			SymbolID:     sym.ID,
			Symbol:       sym.Symbol,
			Interval:     interval,
		}
		e.mu.Unlock()
		count++
	}
	logger.Infof("realtime: %s started %d subscriptions", sym.Symbol, count)
	return count, nil
}

// Stop tears down every subscription of one symbol.
func (e *RealtimeEngine) Stop(symbolID int64) int {
	return e.stopMatching(func(sub activeSub) bool { return sub.SymbolID == symbolID })
}

// StopByDataSource tears down every subscription of one data source.
func (e *RealtimeEngine) StopByDataSource(dataSourceID int64) int {
	return e.stopMatching(func(sub activeSub) bool { return sub.DataSourceID == dataSourceID })
}

// StopAll tears down everything.
func (e *RealtimeEngine) StopAll() int {
	return e.stopMatching(func(activeSub) bool { return true })
}

func (e *RealtimeEngine) stopMatching(match func(activeSub) bool) int {
	e.mu.Lock()
	victims := make(map[string]activeSub)
	for key, sub := range e.active {
		if match(sub) {
			victims[key] = sub
			delete(e.active, key)
		}
	}
	e.mu.Unlock()
	for key, sub := range victims {
		if stream, ok := e.registry.StreamFor(sub.DataSourceID); ok {
			stream.Unsubscribe(key)
		}
		e.mu.Lock()
		delete(e.disconnects, key)
		e.mu.Unlock()
	}
	return len(victims)
}

// StartAll subscribes every eligible series. Per-symbol failures are logged
// and skipped.
func (e *RealtimeEngine) StartAll(ctx context.Context) (int, error) {
	if !e.cfg.RealtimeEnabled(ctx) {
		return 0, fmt.Errorf("实时同步总开关已关闭")
	}
	targets, err := e.filter.RealtimeTargets(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, target := range targets {
		count, err := e.Start(ctx, target.Symbol.ID)
		if err != nil {
			logger.Warnf("realtime: start %s failed: %v", target.Symbol.Symbol, err)
			continue
		}
		total += count
	}
	return total, nil
}

// HandleRealtimeToggle is the synchronous listener for the global realtime
// switch: off tears everything down, on re-establishes eligible series.
func (e *RealtimeEngine) HandleRealtimeToggle(enabled bool) {
	if !enabled {
		stopped := e.StopAll()
		logger.Infof("realtime: switch off, stopped %d subscriptions", stopped)
		return
	}
	started, err := e.StartAll(context.Background())
	if err != nil {
		logger.Warnf("realtime: switch on, start all failed: %v", err)
		return
	}
	logger.Infof("realtime: switch on, started %d subscriptions", started)
}

// SubscriptionCount / ConnectedCount / ActiveSubscriptions expose
// introspection for operators.
func (e *RealtimeEngine) SubscriptionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (e *RealtimeEngine) ConnectedCount() int {
	e.mu.Lock()
	byDS := make(map[int64]struct{})
	for _, sub := range e.active {
		byDS[sub.DataSourceID] = struct{}{}
	}
	e.mu.Unlock()
	total := 0
	for dsID := range byDS {
		if stream, ok := e.registry.StreamFor(dsID); ok {
			total += stream.ConnectedCount()
		}
	}
	return total
}

func (e *RealtimeEngine) ActiveSubscriptions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.active))
	for key := range e.active {
		keys = append(keys, key)
	}
	return keys
}

// handleClosedCandle persists one closed candle and advances the watermark.
// Runs on transport goroutines: it logs and returns, never panics upward.
func (e *RealtimeEngine) handleClosedCandle(key string, ev market.CandleEvent) {
	if !ev.Closed {
		return
	}
	_, symbolID, interval, err := exchange.ParseSubscriptionKey(key)
	if err != nil {
		logger.Warnf("realtime: %v", err)
		return
	}
	ctx := context.Background()
	if _, err := e.store.BatchUpsertKlines(ctx, symbolID, interval, []market.Candle{ev.Candle}); err != nil {
		logger.Errorf("realtime: persist %s candle failed: %v", key, err)
		return
	}
	if err := e.store.AdvanceSyncStatus(ctx, symbolID, interval, ev.Candle.OpenTime, 1); err != nil {
		logger.Warnf("realtime: advance status %s failed: %v", key, err)
	}
}

// handleDisconnect records when the subscription dropped. No write yet.
func (e *RealtimeEngine) handleDisconnect(key string, err error) {
	now := e.nowFn().UnixMilli()
	e.mu.Lock()
	if _, exists := e.disconnects[key]; !exists {
		e.disconnects[key] = now
	}
	e.mu.Unlock()
	if err != nil {
		logger.Warnf("realtime: %s disconnected: %v", key, err)
	} else {
		logger.Infof("realtime: %s disconnected", key)
	}
}

// handleConnect is the reconnect signal: an outage of at least the threshold
// queues exactly one backfill job covering [disconnectTime, now]; shorter
// outages are dropped silently.
func (e *RealtimeEngine) handleConnect(key string) {
	now := e.nowFn().UnixMilli()
	e.mu.Lock()
	since, had := e.disconnects[key]
	if had {
		delete(e.disconnects, key)
	}
	sub, active := e.active[key]
	e.mu.Unlock()
	if !had {
		return
	}
	if time.Duration(now-since)*time.Millisecond < backfillThreshold {
		return
	}
	if !active {
		logger.Debugf("realtime: %s reconnected but no longer active, skip backfill", key)
		return
	}
	job := backfillJob{
		DataSourceID: sub.DataSourceID,
		SymbolID:     sub.SymbolID,
		Symbol:       sub.Symbol,
		Interval:     sub.Interval,
		StartTime:    since,
		EndTime:      now,
	}
	select {
	case e.queue <- job:
		logger.Infof("realtime: %s queued backfill [%d, %d]", key, since, now)
	default:
		logger.Warnf("realtime: backfill queue full, drop %s", key)
	}
}

// RunConsumer is the single queue consumer. Per-job failures are logged and
// never stop the loop.
func (e *RealtimeEngine) RunConsumer(ctx context.Context) error {
	if !sleepWithContext(ctx, consumerInitialDelay) {
		return ctx.Err()
	}
	ticker := time.NewTicker(consumerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.drainQueue(ctx)
		}
	}
}

func (e *RealtimeEngine) drainQueue(ctx context.Context) {
	for {
		select {
		case job := <-e.queue:
			e.processBackfill(ctx, job)
		default:
			return
		}
	}
}

func (e *RealtimeEngine) processBackfill(ctx context.Context, job backfillJob) {
	client, ok := e.registry.ClientFor(job.DataSourceID)
	if !ok {
		logger.Warnf("realtime: backfill %s/%s dropped, client missing for ds=%d", job.Symbol, job.Interval, job.DataSourceID)
		return
	}
	synced, maxOpen, err := pageFetch(ctx, client, e.store, job.SymbolID, job.Symbol, job.Interval, job.StartTime, job.EndTime)
	if err != nil {
		logger.Warnf("realtime: backfill %s %s failed: %v", job.Symbol, job.Interval, err)
		return
	}
	if synced > 0 {
		if err := e.store.AdvanceSyncStatus(ctx, job.SymbolID, job.Interval, maxOpen, synced); err != nil {
			logger.Warnf("realtime: backfill advance status failed: %v", err)
		}
	}
	logger.Infof("realtime: backfill %s %s wrote %d klines", job.Symbol, job.Interval, synced)
}

// QueuedBackfills reports the number of jobs waiting in the queue.
func (e *RealtimeEngine) QueuedBackfills() int {
	return len(e.queue)
}
