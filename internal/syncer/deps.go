// Package syncer implements the synchronization engine: gap detection and
// healing, segmented historical sync, incremental catch-up, and realtime
// stream ingestion with reconnect-driven backfill.
package syncer

import (
	"context"
	"time"

	"chansync/internal/market"
	"chansync/internal/store/model"
)

// Store 是引擎消费的持久化视图，由 gormstore.Store 实现。
type Store interface {
	BatchUpsertKlines(ctx context.Context, symbolID int64, interval string, candles []market.Candle) (int64, error)
	ListOpenTimes(ctx context.Context, symbolID int64, interval string) ([]int64, error)

	CreateGap(ctx context.Context, gap *model.DataGapModel) error
	HasOverlappingGap(ctx context.Context, symbolID int64, interval string, gapStart, gapEnd int64) (bool, error)
	GetGap(ctx context.Context, id int64) (*model.DataGapModel, error)
	ListGapsByStatus(ctx context.Context, status model.GapStatus, limit int) ([]model.DataGapModel, error)
	ListGapsBySeries(ctx context.Context, symbolID int64, interval string) ([]model.DataGapModel, error)
	CountGapsByStatus(ctx context.Context, status model.GapStatus) (int64, error)
	ClaimGap(ctx context.Context, id int64) (bool, error)
	MarkGapFilled(ctx context.Context, id int64) error
	RecordGapFailure(ctx context.Context, id int64, retryCount int, status model.GapStatus, errMsg string) error
	ResetFailedGap(ctx context.Context, id int64) (bool, error)

	GetSyncStatus(ctx context.Context, symbolID int64, interval string) (*model.SyncStatusModel, error)
	GetOrCreateSyncStatus(ctx context.Context, symbolID int64, interval string) (*model.SyncStatusModel, error)
	AdvanceSyncStatus(ctx context.Context, symbolID int64, interval string, lastOpenTime, added int64) error

	CreateSyncTask(ctx context.Context, task *model.SyncTaskModel) error
	StartSyncTask(ctx context.Context, id int64) error
	CompleteSyncTask(ctx context.Context, id, syncedCount int64) error
	FailSyncTask(ctx context.Context, id int64, errMsg string) error

	GetSymbol(ctx context.Context, id int64) (*model.SymbolModel, error)
	GetMarket(ctx context.Context, id int64) (*model.MarketModel, error)
	GetDataSource(ctx context.Context, id int64) (*model.DataSourceModel, error)
	ListSyncEnabledSymbols(ctx context.Context) ([]model.SymbolModel, error)
	ListRealtimeSymbols(ctx context.Context) ([]model.SymbolModel, error)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
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
