package syncer

import (
	"context"
	"fmt"
	"strings"

	"chansync/internal/gateway/exchange"
	"chansync/internal/logger"
	"chansync/internal/market"
	"chansync/internal/store/gormstore"
	"chansync/internal/store/model"
)

// Target 是一个具备同步资格的交易对及其配置的周期集合。
type Target struct {
	Symbol    model.SymbolModel
	Intervals []string
}

// Filter answers eligibility questions: which series may be history-synced,
// gap-healed, or stream-subscribed. It only reads the catalog tables.
type Filter struct {
	store Store
}

func NewFilter(store Store) *Filter {
	return &Filter{store: store}
}

// CheckHistoryEligible validates a series for history sync and gap work:
// symbol live and sync-enabled, interval configured for it, owning market
// and source enabled, source of a supported exchange type.
func (f *Filter) CheckHistoryEligible(ctx context.Context, symbolID int64, interval string) (*model.SymbolModel, error) {
	if symbolID <= 0 {
		return nil, fmt.Errorf("交易对ID不能为空")
	}
	if err := market.ValidateInterval(interval); err != nil {
		return nil, err
	}
	sym, err := f.store.GetSymbol(ctx, symbolID)
	if err != nil {
		return nil, err
	}
	if sym.Deleted {
		return nil, fmt.Errorf("交易对已删除: %s", sym.Symbol)
	}
	if !sym.SyncEnabled {
		return nil, fmt.Errorf("交易对未开启历史同步: %s", sym.Symbol)
	}
	if !containsInterval(gormstore.DecodeIntervals(sym.SyncIntervals), interval) {
		return nil, fmt.Errorf("交易对 %s 未配置周期 %s", sym.Symbol, interval)
	}
	if err := f.checkOwnership(ctx, sym); err != nil {
		return nil, err
	}
	return sym, nil
}

// CheckRealtimeEligible validates a series for stream subscription.
func (f *Filter) CheckRealtimeEligible(ctx context.Context, symbolID int64) (*model.SymbolModel, []string, error) {
	if symbolID <= 0 {
		return nil, nil, fmt.Errorf("交易对ID不能为空")
	}
	sym, err := f.store.GetSymbol(ctx, symbolID)
	if err != nil {
		return nil, nil, err
	}
	if sym.Deleted {
		return nil, nil, fmt.Errorf("交易对已删除: %s", sym.Symbol)
	}
	if !sym.RealtimeEnabled {
		return nil, nil, fmt.Errorf("交易对未开启实时同步: %s", sym.Symbol)
	}
	intervals := validIntervals(gormstore.DecodeIntervals(sym.SyncIntervals))
	if len(intervals) == 0 {
		return nil, nil, fmt.Errorf("交易对 %s 未配置任何同步周期", sym.Symbol)
	}
	if err := f.checkOwnership(ctx, sym); err != nil {
		return nil, nil, err
	}
	return sym, intervals, nil
}

func (f *Filter) checkOwnership(ctx context.Context, sym *model.SymbolModel) error {
	mkt, err := f.store.GetMarket(ctx, sym.MarketID)
	if err != nil {
		return err
	}
	if !mkt.Enabled {
		return fmt.Errorf("市场未启用: id=%d", mkt.ID)
	}
	ds, err := f.store.GetDataSource(ctx, sym.DataSourceID)
	if err != nil {
		return err
	}
	if !ds.Enabled {
		return fmt.Errorf("数据源未启用: %s", ds.Name)
	}
	if !strings.EqualFold(ds.ExchangeType, exchange.ExchangeTypeBinance) {
		return fmt.Errorf("不支持的数据源类型: %s", ds.ExchangeType)
	}
	return nil
}

// HistoryTargets enumerates every series eligible for history sync. Symbols
// whose ownership checks fail are skipped with a log, never aborting the
// enumeration.
func (f *Filter) HistoryTargets(ctx context.Context) ([]Target, error) {
	symbols, err := f.store.ListSyncEnabledSymbols(ctx)
	if err != nil {
		return nil, err
	}
	return f.buildTargets(ctx, symbols), nil
}

// RealtimeTargets enumerates every series eligible for stream subscription.
func (f *Filter) RealtimeTargets(ctx context.Context) ([]Target, error) {
	symbols, err := f.store.ListRealtimeSymbols(ctx)
	if err != nil {
		return nil, err
	}
	return f.buildTargets(ctx, symbols), nil
}

func (f *Filter) buildTargets(ctx context.Context, symbols []model.SymbolModel) []Target {
	targets := make([]Target, 0, len(symbols))
	for _, sym := range symbols {
		intervals := validIntervals(gormstore.DecodeIntervals(sym.SyncIntervals))
		if len(intervals) == 0 {
			continue
		}
		if err := f.checkOwnership(ctx, &sym); err != nil {
			logger.Debugf("filter: skip symbol %s: %v", sym.Symbol, err)
			continue
		}
		targets = append(targets, Target{Symbol: sym, Intervals: intervals})
	}
	return targets
}

func containsInterval(intervals []string, interval string) bool {
	for _, iv := range intervals {
		if iv == interval {
			return true
		}
	}
	return false
}

func validIntervals(intervals []string) []string {
	out := make([]string, 0, len(intervals))
	for _, iv := range intervals {
		if market.SupportedInterval(iv) {
			out = append(out, iv)
		}
	}
	return out
}
