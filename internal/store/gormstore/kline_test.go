package gormstore

import (
	"context"
	"path/filepath"
	"testing"

	"chansync/internal/market"
	"chansync/internal/store/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOpenTime = int64(1_704_067_200_000) // 2024-01-01 00:00:00 UTC
	testHourMs   = int64(3_600_000)
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func hourCandle(openTime int64, closePrice int64) market.Candle {
	return market.Candle{
		OpenTime:    openTime,
		CloseTime:   openTime + testHourMs - 1,
		Open:        decimal.NewFromInt(100),
		High:        decimal.NewFromInt(120),
		Low:         decimal.NewFromInt(90),
		Close:       decimal.NewFromInt(closePrice),
		Volume:      decimal.NewFromInt(10),
		QuoteVolume: decimal.NewFromInt(1000),
		Trades:      42,
	}
}

func TestBatchUpsertKlines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("duplicate open time keeps one row with latest values", func(t *testing.T) {
		_, err := store.BatchUpsertKlines(ctx, 1, "1h", []market.Candle{hourCandle(testOpenTime, 105)})
		require.NoError(t, err)
		_, err = store.BatchUpsertKlines(ctx, 1, "1h", []market.Candle{hourCandle(testOpenTime, 111)})
		require.NoError(t, err)

		total, err := store.CountKlines(ctx, 1, "1h")
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)

		candles, err := store.ListKlines(ctx, 1, "1h", 0, 0, 10)
		require.NoError(t, err)
		require.Len(t, candles, 1)
		assert.True(t, candles[0].Close.Equal(decimal.NewFromInt(111)))
	})

	t.Run("series are isolated by symbol and interval", func(t *testing.T) {
		_, err := store.BatchUpsertKlines(ctx, 1, "1m", []market.Candle{hourCandle(testOpenTime, 100)})
		require.NoError(t, err)
		_, err = store.BatchUpsertKlines(ctx, 2, "1h", []market.Candle{hourCandle(testOpenTime, 100)})
		require.NoError(t, err)

		total, err := store.CountKlines(ctx, 1, "1h")
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("empty batch writes nothing", func(t *testing.T) {
		written, err := store.BatchUpsertKlines(ctx, 1, "1h", nil)
		require.NoError(t, err)
		assert.Zero(t, written)
	})
}

func TestListOpenTimesAscending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	candles := []market.Candle{
		hourCandle(testOpenTime+2*testHourMs, 100),
		hourCandle(testOpenTime, 100),
		hourCandle(testOpenTime+5*testHourMs, 100),
	}
	_, err := store.BatchUpsertKlines(ctx, 1, "1h", candles)
	require.NoError(t, err)

	openTimes, err := store.ListOpenTimes(ctx, 1, "1h")
	require.NoError(t, err)
	assert.Equal(t, []int64{
		testOpenTime,
		testOpenTime + 2*testHourMs,
		testOpenTime + 5*testHourMs,
	}, openTimes)

	minOpen, err := store.MinOpenTime(ctx, 1, "1h")
	require.NoError(t, err)
	require.NotNil(t, minOpen)
	assert.Equal(t, testOpenTime, *minOpen)

	maxOpen, err := store.MaxOpenTime(ctx, 1, "1h")
	require.NoError(t, err)
	require.NotNil(t, maxOpen)
	assert.Equal(t, testOpenTime+5*testHourMs, *maxOpen)
}

func TestDeleteKlineRangeCascade(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := int64(0); i < 6; i++ {
		_, err := store.BatchUpsertKlines(ctx, 1, "1h", []market.Candle{hourCandle(testOpenTime+i*testHourMs, 100)})
		require.NoError(t, err)
	}
	require.NoError(t, store.AdvanceSyncStatus(ctx, 1, "1h", testOpenTime+5*testHourMs, 6))

	gap := &model.DataGapModel{
		SymbolID: 1, Interval: "1h",
		GapStart: testOpenTime + 2*testHourMs, GapEnd: testOpenTime + 3*testHourMs,
		MissingCount: 2, Status: model.GapStatusPending,
	}
	require.NoError(t, store.CreateGap(ctx, gap))

	deleted, err := store.DeleteKlineRange(ctx, 1, "1h", testOpenTime+2*testHourMs, testOpenTime+5*testHourMs)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	total, err := store.CountKlines(ctx, 1, "1h")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	// 范围内的缺口随数据一并清除。
	_, err = store.GetGap(ctx, gap.ID)
	assert.Error(t, err)

	status, err := store.GetSyncStatus(ctx, 1, "1h")
	require.NoError(t, err)
	require.NotNil(t, status)
	require.NotNil(t, status.LastKlineTime)
	assert.Equal(t, testOpenTime+testHourMs, *status.LastKlineTime)
	assert.Equal(t, int64(2), status.TotalKlines)
	assert.False(t, status.AutoGapFillEnabled)
}
