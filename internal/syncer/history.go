package syncer

import (
	"context"
	"fmt"
	"time"

	"chansync/internal/gateway/exchange"
	"chansync/internal/logger"
	"chansync/internal/market"
	"chansync/internal/store/model"
)

const (
	// maxSegment caps one fetch cycle; larger ranges are split.
	maxSegment = 30 * 24 * time.Hour
	// firstActivationWindow bounds the backfill of a brand-new series.
	firstActivationWindow = 24 * time.Hour
)

// HistoryEngine runs segmented range sync and incremental catch-up.
type HistoryEngine struct {
	store    Store
	registry *exchange.Registry
	filter   *Filter
	nowFn    func() time.Time
}

func NewHistoryEngine(store Store, registry *exchange.Registry, filter *Filter) *HistoryEngine {
	return &HistoryEngine{
		store:    store,
		registry: registry,
		filter:   filter,
		nowFn:    time.Now,
	}
}

// SyncRange syncs [start, end] (inclusive millisecond bounds) for one
// series. Validation fails fast before any task is created.
func (e *HistoryEngine) SyncRange(ctx context.Context, symbolID int64, interval string, start, end int64) (int64, error) {
	if start <= 0 || end <= 0 {
		return 0, fmt.Errorf("同步范围不能为空")
	}
	if start > end {
		return 0, fmt.Errorf("同步范围不合法: start > end")
	}
	now := e.nowFn().UnixMilli()
	if start > now {
		return 0, fmt.Errorf("同步范围不合法: start 在未来")
	}
	sym, err := e.filter.CheckHistoryEligible(ctx, symbolID, interval)
	if err != nil {
		return 0, err
	}
	client, ok := e.registry.ClientFor(sym.DataSourceID)
	if !ok {
		return 0, fmt.Errorf("数据源客户端未注册: id=%d", sym.DataSourceID)
	}

	task := &model.SyncTaskModel{
		SymbolID:  symbolID,
		Interval:  interval,
		TaskType:  model.TaskTypeHistory,
		StartTime: &start,
		EndTime:   &end,
	}
	if err := e.store.CreateSyncTask(ctx, task); err != nil {
		return 0, err
	}
	if err := e.store.StartSyncTask(ctx, task.ID); err != nil {
		return 0, err
	}

	segmentMs := maxSegment.Milliseconds()
	var totalSynced, maxOpen int64
	for segStart := start; segStart <= end; {
		if ctx.Err() != nil {
			// 任务终态写入不能跟随已取消的 ctx 一起失败。
			if failErr := e.store.FailSyncTask(context.WithoutCancel(ctx), task.ID, "同步已中断"); failErr != nil {
				logger.Warnf("history: fail task %d: %v", task.ID, failErr)
			}
			return totalSynced, fmt.Errorf("同步已中断: %w", ctx.Err())
		}
		segEnd := segStart + segmentMs - 1
		if segEnd > end {
			segEnd = end
		}
		synced, segMax, err := pageFetch(ctx, client, e.store, symbolID, sym.Symbol, interval, segStart, segEnd)
		totalSynced += synced
		if segMax > maxOpen {
			maxOpen = segMax
		}
		if err != nil {
			if failErr := e.store.FailSyncTask(context.WithoutCancel(ctx), task.ID, err.Error()); failErr != nil {
				logger.Warnf("history: fail task %d: %v", task.ID, failErr)
			}
			return totalSynced, fmt.Errorf("历史同步失败 %s %s: %w", sym.Symbol, interval, err)
		}
		segStart = segEnd + 1
	}

	if err := e.store.CompleteSyncTask(ctx, task.ID, totalSynced); err != nil {
		logger.Warnf("history: complete task %d: %v", task.ID, err)
	}
	if totalSynced > 0 {
		if err := e.store.AdvanceSyncStatus(ctx, symbolID, interval, maxOpen, totalSynced); err != nil {
			logger.Warnf("history: advance status %d %s: %v", symbolID, interval, err)
		}
	}
	logger.Infof("history: %s %s synced %d klines [%d, %d]", sym.Symbol, interval, totalSynced, start, end)
	return totalSynced, nil
}

// SyncIncremental catches one series up to now. With no prior watermark the
// backfill is bounded to the trailing 24 hours; an already-current series
// returns 0 without creating a task.
func (e *HistoryEngine) SyncIncremental(ctx context.Context, symbolID int64, interval string) (int64, error) {
	if err := market.ValidateInterval(interval); err != nil {
		return 0, err
	}
	intervalMs, _ := market.IntervalMillis(interval)
	// Truncate to the minute so the still-forming candle is never requested.
	now := e.nowFn().Truncate(time.Minute).UnixMilli()

	status, err := e.store.GetSyncStatus(ctx, symbolID, interval)
	if err != nil {
		return 0, err
	}
	var start int64
	if status == nil || status.LastKlineTime == nil {
		start = now - firstActivationWindow.Milliseconds()
	} else {
		start = *status.LastKlineTime + intervalMs
		if start >= now {
			return 0, nil
		}
	}
	return e.SyncRange(ctx, symbolID, interval, start, now)
}

// SyncAllIncremental catches up every eligible series, isolating failures
// per (symbol, interval).
func (e *HistoryEngine) SyncAllIncremental(ctx context.Context) (IncrementalSummary, error) {
	targets, err := e.filter.HistoryTargets(ctx)
	if err != nil {
		return IncrementalSummary{}, err
	}
	var summary IncrementalSummary
	summary.SymbolsProcessed = len(targets)
	for _, target := range targets {
		for _, interval := range target.Intervals {
			synced, err := e.SyncIncremental(ctx, target.Symbol.ID, interval)
			if err != nil {
				summary.SeriesFailed++
				summary.Failures = append(summary.Failures, SeriesFailure{
					SymbolID: target.Symbol.ID,
					Interval: interval,
					Reason:   err.Error(),
				})
				logger.Warnf("history: incremental %s %s failed: %v", target.Symbol.Symbol, interval, err)
				continue
			}
			summary.SeriesSucceeded++
			summary.TotalSynced += synced
		}
	}
	return summary, nil
}
