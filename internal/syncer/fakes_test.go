package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chansync/internal/gateway/exchange"
	"chansync/internal/market"
	"chansync/internal/store/gormstore"
	"chansync/internal/store/model"

	"github.com/shopspring/decimal"
)

// fakeStore 是 Store 接口的内存实现，语义对齐 gormstore。
type fakeStore struct {
	mu sync.Mutex

	symbols sync.Map
	markets sync.Map
	sources sync.Map

	klines  map[string]map[int64]market.Candle
	listErr error

	gaps      map[int64]*model.DataGapModel
	nextGapID int64

	statuses map[string]*model.SyncStatusModel

	tasks      map[int64]*model.SyncTaskModel
	nextTaskID int64
	taskErr    error
}

// writeGuard 模拟 gorm WithContext 的行为：ctx 已取消时写入直接失败。
func writeGuard(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

func newFakeStore() *fakeStore {
	s := &fakeStore{
		klines:   make(map[string]map[int64]market.Candle),
		gaps:     make(map[int64]*model.DataGapModel),
		statuses: make(map[string]*model.SyncStatusModel),
		tasks:    make(map[int64]*model.SyncTaskModel),
	}
	s.sources.Store(int64(1), model.DataSourceModel{ID: 1, Name: "binance", ExchangeType: "BINANCE", Enabled: true})
	s.markets.Store(int64(1), model.MarketModel{ID: 1, DataSourceID: 1, MarketType: "SPOT", Enabled: true})
	s.symbols.Store(int64(1), model.SymbolModel{
		ID:              1,
		DataSourceID:    1,
		MarketID:        1,
		Symbol:          "BTCUSDT",
		SyncEnabled:     true,
		RealtimeEnabled: true,
		SyncIntervals:   gormstore.EncodeIntervals([]string{"1m", "1h"}),
	})
	return s
}

func seriesKey(symbolID int64, interval string) string {
	return fmt.Sprintf("%d_%s", symbolID, interval)
}

func (s *fakeStore) BatchUpsertKlines(ctx context.Context, symbolID int64, interval string, candles []market.Candle) (int64, error) {
	if err := writeGuard(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seriesKey(symbolID, interval)
	if s.klines[key] == nil {
		s.klines[key] = make(map[int64]market.Candle)
	}
	for _, c := range candles {
		s.klines[key][c.OpenTime] = c
	}
	return int64(len(candles)), nil
}

func (s *fakeStore) ListOpenTimes(_ context.Context, symbolID int64, interval string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	series := s.klines[seriesKey(symbolID, interval)]
	out := make([]int64, 0, len(series))
	for openTime := range series {
		out = append(out, openTime)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *fakeStore) CreateGap(_ context.Context, gap *model.DataGapModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGapID++
	gap.ID = s.nextGapID
	if gap.Status == "" {
		gap.Status = model.GapStatusPending
	}
	clone := *gap
	s.gaps[gap.ID] = &clone
	return nil
}

func (s *fakeStore) HasOverlappingGap(_ context.Context, symbolID int64, interval string, gapStart, gapEnd int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, gap := range s.gaps {
		if gap.SymbolID == symbolID && gap.Interval == interval &&
			gap.GapStart <= gapEnd && gap.GapEnd >= gapStart {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) GetGap(_ context.Context, id int64) (*model.DataGapModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gap, ok := s.gaps[id]
	if !ok {
		return nil, fmt.Errorf("缺口不存在: id=%d", id)
	}
	clone := *gap
	return &clone, nil
}

func (s *fakeStore) ListGapsByStatus(_ context.Context, status model.GapStatus, limit int) ([]model.DataGapModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DataGapModel
	ids := make([]int64, 0, len(s.gaps))
	for id := range s.gaps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if s.gaps[id].Status != status {
			continue
		}
		out = append(out, *s.gaps[id])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) ListGapsBySeries(_ context.Context, symbolID int64, interval string) ([]model.DataGapModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DataGapModel
	for _, gap := range s.gaps {
		if gap.SymbolID == symbolID && gap.Interval == interval {
			out = append(out, *gap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GapStart < out[j].GapStart })
	return out, nil
}

func (s *fakeStore) CountGapsByStatus(_ context.Context, status model.GapStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, gap := range s.gaps {
		if gap.Status == status {
			total++
		}
	}
	return total, nil
}

func (s *fakeStore) ClaimGap(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gap, ok := s.gaps[id]
	if !ok || gap.Status != model.GapStatusPending {
		return false, nil
	}
	gap.Status = model.GapStatusFilling
	return true, nil
}

func (s *fakeStore) MarkGapFilled(ctx context.Context, id int64) error {
	if err := writeGuard(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	gap, ok := s.gaps[id]
	if !ok || gap.Status != model.GapStatusFilling {
		return fmt.Errorf("缺口状态流转非法: id=%d 当前状态不是 FILLING", id)
	}
	gap.Status = model.GapStatusFilled
	gap.ErrorMessage = ""
	return nil
}

func (s *fakeStore) RecordGapFailure(ctx context.Context, id int64, retryCount int, status model.GapStatus, errMsg string) error {
	if err := writeGuard(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if status != model.GapStatusPending && status != model.GapStatusFailed {
		return fmt.Errorf("缺口失败状态非法: %s", status)
	}
	gap, ok := s.gaps[id]
	if !ok {
		return fmt.Errorf("缺口不存在: id=%d", id)
	}
	gap.Status = status
	gap.RetryCount = retryCount
	gap.ErrorMessage = errMsg
	return nil
}

func (s *fakeStore) ResetFailedGap(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gap, ok := s.gaps[id]
	if !ok || gap.Status != model.GapStatusFailed {
		return false, nil
	}
	gap.Status = model.GapStatusPending
	gap.RetryCount = 0
	gap.ErrorMessage = ""
	return true, nil
}

func (s *fakeStore) GetSyncStatus(_ context.Context, symbolID int64, interval string) (*model.SyncStatusModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[seriesKey(symbolID, interval)]
	if !ok {
		return nil, nil
	}
	clone := *status
	return &clone, nil
}

func (s *fakeStore) GetOrCreateSyncStatus(_ context.Context, symbolID int64, interval string) (*model.SyncStatusModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seriesKey(symbolID, interval)
	if status, ok := s.statuses[key]; ok {
		clone := *status
		return &clone, nil
	}
	status := &model.SyncStatusModel{
		SymbolID:           symbolID,
		Interval:           interval,
		AutoGapFillEnabled: true,
	}
	s.statuses[key] = status
	clone := *status
	return &clone, nil
}

func (s *fakeStore) AdvanceSyncStatus(_ context.Context, symbolID int64, interval string, lastOpenTime, added int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seriesKey(symbolID, interval)
	status, ok := s.statuses[key]
	if !ok {
		status = &model.SyncStatusModel{
			SymbolID:           symbolID,
			Interval:           interval,
			AutoGapFillEnabled: true,
		}
		s.statuses[key] = status
	}
	if status.LastKlineTime == nil || lastOpenTime > *status.LastKlineTime {
		watermark := lastOpenTime
		status.LastKlineTime = &watermark
	}
	status.TotalKlines += added
	status.LastSyncTime = time.Now().UnixMilli()
	return nil
}

func (s *fakeStore) setWatermark(symbolID int64, interval string, watermark int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seriesKey(symbolID, interval)
	s.statuses[key] = &model.SyncStatusModel{
		SymbolID:           symbolID,
		Interval:           interval,
		LastKlineTime:      &watermark,
		AutoGapFillEnabled: true,
	}
}

func (s *fakeStore) CreateSyncTask(ctx context.Context, task *model.SyncTaskModel) error {
	if err := writeGuard(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taskErr != nil {
		return s.taskErr
	}
	s.nextTaskID++
	task.ID = s.nextTaskID
	task.Status = model.TaskStatusPending
	clone := *task
	s.tasks[task.ID] = &clone
	return nil
}

func (s *fakeStore) StartSyncTask(ctx context.Context, id int64) error {
	if err := writeGuard(ctx); err != nil {
		return err
	}
	return s.updateTask(id, func(task *model.SyncTaskModel) {
		task.Status = model.TaskStatusRunning
	})
}

func (s *fakeStore) CompleteSyncTask(ctx context.Context, id, syncedCount int64) error {
	if err := writeGuard(ctx); err != nil {
		return err
	}
	return s.updateTask(id, func(task *model.SyncTaskModel) {
		task.Status = model.TaskStatusSuccess
		task.SyncedCount = syncedCount
	})
}

func (s *fakeStore) FailSyncTask(ctx context.Context, id int64, errMsg string) error {
	if err := writeGuard(ctx); err != nil {
		return err
	}
	return s.updateTask(id, func(task *model.SyncTaskModel) {
		task.Status = model.TaskStatusFailed
		task.ErrorMessage = errMsg
	})
}

func (s *fakeStore) updateTask(id int64, apply func(*model.SyncTaskModel)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("同步任务不存在: id=%d", id)
	}
	apply(task)
	return nil
}

func (s *fakeStore) GetSymbol(_ context.Context, id int64) (*model.SymbolModel, error) {
	if val, ok := s.symbols.Load(id); ok {
		sym := val.(model.SymbolModel)
		return &sym, nil
	}
	return nil, fmt.Errorf("交易对不存在: id=%d", id)
}

func (s *fakeStore) GetMarket(_ context.Context, id int64) (*model.MarketModel, error) {
	if val, ok := s.markets.Load(id); ok {
		mkt := val.(model.MarketModel)
		return &mkt, nil
	}
	return nil, fmt.Errorf("市场不存在: id=%d", id)
}

func (s *fakeStore) GetDataSource(_ context.Context, id int64) (*model.DataSourceModel, error) {
	if val, ok := s.sources.Load(id); ok {
		ds := val.(model.DataSourceModel)
		return &ds, nil
	}
	return nil, fmt.Errorf("数据源不存在: id=%d", id)
}

func (s *fakeStore) ListSyncEnabledSymbols(_ context.Context) ([]model.SymbolModel, error) {
	return s.listSymbols(func(sym model.SymbolModel) bool { return sym.SyncEnabled && !sym.Deleted }), nil
}

func (s *fakeStore) ListRealtimeSymbols(_ context.Context) ([]model.SymbolModel, error) {
	return s.listSymbols(func(sym model.SymbolModel) bool { return sym.RealtimeEnabled && !sym.Deleted }), nil
}

func (s *fakeStore) listSymbols(match func(model.SymbolModel) bool) []model.SymbolModel {
	var out []model.SymbolModel
	s.symbols.Range(func(_, val any) bool {
		sym := val.(model.SymbolModel)
		if match(sym) {
			out = append(out, sym)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *fakeStore) klineCount(symbolID int64, interval string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.klines[seriesKey(symbolID, interval)])
}

// fakeClient 按周期网格生成K线，missing 集合模拟交易所侧缺失。
// onFetch 在每次请求前触发，可用于模拟拉取途中发生的停机取消。
type fakeClient struct {
	mu      sync.Mutex
	missing map[int64]bool
	err     error
	onFetch func()
	calls   int
}

func (c *fakeClient) GetKlines(ctx context.Context, _ string, interval string, startTime, endTime int64, limit int) ([]market.Candle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.onFetch != nil {
		c.onFetch()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.err != nil {
		return nil, c.err
	}
	intervalMs, ok := market.IntervalMillis(interval)
	if !ok {
		return nil, fmt.Errorf("不支持的时间周期: %s", interval)
	}
	var out []market.Candle
	openTime := startTime
	if rem := openTime % intervalMs; rem != 0 {
		openTime += intervalMs - rem
	}
	for ; openTime <= endTime && len(out) < limit; openTime += intervalMs {
		if c.missing[openTime] {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  openTime,
			CloseTime: openTime + intervalMs - 1,
			Open:      decimal.NewFromInt(100),
			High:      decimal.NewFromInt(110),
			Low:       decimal.NewFromInt(90),
			Close:     decimal.NewFromInt(105),
			Volume:    decimal.NewFromInt(1),
		})
	}
	return out, nil
}

func (c *fakeClient) GetExchangeInfo(context.Context) ([]exchange.SymbolInfo, error) {
	return nil, nil
}

func (c *fakeClient) TestConnection(context.Context) exchange.ConnectionStatus {
	return exchange.ConnectionStatus{Success: true}
}

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// fakeStream 记录订阅键，不发起任何网络连接。
type fakeStream struct {
	mu   sync.Mutex
	subs map[string]bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{subs: make(map[string]bool)}
}

func (f *fakeStream) Subscribe(key, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[key] = true
	return nil
}

func (f *fakeStream) Unsubscribe(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, key)
}

func (f *fakeStream) UnsubscribeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = make(map[string]bool)
}

func (f *fakeStream) ActiveKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.subs))
	for key := range f.subs {
		keys = append(keys, key)
	}
	return keys
}

func (f *fakeStream) ConnectedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeStream) Close() error { return nil }

// staticConfig 是 sysconfig.Provider 的无缓存测试实现。
type staticConfig struct {
	realtime    bool
	autoFill    bool
	historyAuto bool
	batch       int
	maxRetries  int
	delay       time.Duration
}

func defaultStaticConfig() *staticConfig {
	return &staticConfig{
		realtime:    true,
		autoFill:    true,
		historyAuto: true,
		batch:       10,
		maxRetries:  3,
		delay:       0,
	}
}

func (c *staticConfig) RealtimeEnabled(context.Context) bool        { return c.realtime }
func (c *staticConfig) AutoGapFillEnabled(context.Context) bool     { return c.autoFill }
func (c *staticConfig) HistoryAutoSyncEnabled(context.Context) bool { return c.historyAuto }
func (c *staticConfig) GapFillBatchSize(context.Context) int        { return c.batch }
func (c *staticConfig) GapFillMaxRetries(context.Context) int       { return c.maxRetries }
func (c *staticConfig) GapFillDelay(context.Context) time.Duration  { return c.delay }
func (c *staticConfig) Set(context.Context, string, string) error   { return nil }
func (c *staticConfig) Invalidate()                                 {}

func newTestRegistry(client exchange.Client, stream exchange.StreamManager) *exchange.Registry {
	registry := exchange.NewRegistry()
	registry.Register(1, client, stream)
	return registry
}
