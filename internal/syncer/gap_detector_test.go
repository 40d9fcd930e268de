package syncer

import (
	"context"
	"testing"

	"chansync/internal/market"
	"chansync/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-01-01 00:00:00 UTC，对齐整点。
const baseOpenTime = int64(1_704_067_200_000)

const hourMs = int64(3_600_000)

func seedCandles(t *testing.T, store *fakeStore, symbolID int64, interval string, openTimes ...int64) {
	t.Helper()
	candles := make([]market.Candle, 0, len(openTimes))
	for _, openTime := range openTimes {
		candles = append(candles, market.Candle{OpenTime: openTime, CloseTime: openTime + 1})
	}
	_, err := store.BatchUpsertKlines(context.Background(), symbolID, interval, candles)
	require.NoError(t, err)
}

func TestDetector_Detect(t *testing.T) {
	t.Run("missing candle creates one gap", func(t *testing.T) {
		store := newFakeStore()
		detector := NewDetector(store, NewFilter(store))
		seedCandles(t, store, 1, "1h", baseOpenTime, baseOpenTime+hourMs, baseOpenTime+3*hourMs)

		result, err := detector.Detect(context.Background(), 1, "1h")
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 1, result.NewGapCount)
		require.Len(t, result.Gaps, 1)

		gap := result.Gaps[0]
		assert.Equal(t, baseOpenTime+2*hourMs, gap.GapStart)
		assert.Equal(t, baseOpenTime+2*hourMs, gap.GapEnd)
		assert.Equal(t, int64(1), gap.MissingCount)
		assert.Equal(t, model.GapStatusPending, gap.Status)
	})

	t.Run("re-detect creates no duplicate", func(t *testing.T) {
		store := newFakeStore()
		detector := NewDetector(store, NewFilter(store))
		seedCandles(t, store, 1, "1h", baseOpenTime, baseOpenTime+4*hourMs)

		first, err := detector.Detect(context.Background(), 1, "1h")
		require.NoError(t, err)
		assert.Equal(t, 1, first.NewGapCount)

		second, err := detector.Detect(context.Background(), 1, "1h")
		require.NoError(t, err)
		assert.Equal(t, 0, second.NewGapCount)
		assert.Equal(t, 1, second.TotalGapCount)
	})

	t.Run("jitter within tolerance is contiguous", func(t *testing.T) {
		store := newFakeStore()
		detector := NewDetector(store, NewFilter(store))
		seedCandles(t, store, 1, "1h", baseOpenTime, baseOpenTime+hourMs+800)

		result, err := detector.Detect(context.Background(), 1, "1h")
		require.NoError(t, err)
		assert.Equal(t, 0, result.NewGapCount)
	})

	t.Run("fewer than two candles detects nothing", func(t *testing.T) {
		store := newFakeStore()
		detector := NewDetector(store, NewFilter(store))
		seedCandles(t, store, 1, "1h", baseOpenTime)

		result, err := detector.Detect(context.Background(), 1, "1h")
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 0, result.NewGapCount)
	})

	t.Run("ineligible series yields failure result not error", func(t *testing.T) {
		store := newFakeStore()
		detector := NewDetector(store, NewFilter(store))

		result, err := detector.Detect(context.Background(), 99, "1h")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Message)
	})

	t.Run("unconfigured interval is ineligible", func(t *testing.T) {
		store := newFakeStore()
		detector := NewDetector(store, NewFilter(store))

		result, err := detector.Detect(context.Background(), 1, "4h")
		require.NoError(t, err)
		assert.False(t, result.Success)
	})
}

func TestComputeGap(t *testing.T) {
	t.Run("multi candle gap", func(t *testing.T) {
		gap, ok := computeGap(1, "1h", baseOpenTime, baseOpenTime+5*hourMs, hourMs)
		require.True(t, ok)
		assert.Equal(t, baseOpenTime+hourMs, gap.GapStart)
		assert.Equal(t, baseOpenTime+4*hourMs, gap.GapEnd)
		assert.Equal(t, int64(4), gap.MissingCount)
	})

	t.Run("contiguous pair", func(t *testing.T) {
		_, ok := computeGap(1, "1h", baseOpenTime, baseOpenTime+hourMs, hourMs)
		assert.False(t, ok)
	})

	t.Run("gap never overlaps existing candles", func(t *testing.T) {
		gap, ok := computeGap(1, "1h", baseOpenTime, baseOpenTime+2*hourMs, hourMs)
		require.True(t, ok)
		assert.Greater(t, gap.GapStart, baseOpenTime)
		assert.Less(t, gap.GapEnd, baseOpenTime+2*hourMs)
	})
}

func TestDetector_DetectAll(t *testing.T) {
	t.Run("sweep counts new gaps and states", func(t *testing.T) {
		store := newFakeStore()
		detector := NewDetector(store, NewFilter(store))
		seedCandles(t, store, 1, "1h", baseOpenTime, baseOpenTime+3*hourMs)
		seedCandles(t, store, 1, "1m", baseOpenTime, baseOpenTime+60_000)

		result, err := detector.DetectAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.SymbolCount)
		assert.Equal(t, 2, result.IntervalCount)
		assert.Equal(t, 1, result.NewGapCount)
		assert.Empty(t, result.Failures)
		assert.Equal(t, int64(1), result.PendingGaps)
		assert.Equal(t, int64(0), result.FillingGaps)
		assert.Equal(t, int64(0), result.FailedGaps)
	})

	t.Run("failed series are itemized with reasons", func(t *testing.T) {
		store := newFakeStore()
		store.listErr = assert.AnError
		detector := NewDetector(store, NewFilter(store))

		result, err := detector.DetectAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, result.FailedSeries)
		require.Len(t, result.Failures, 2)
		for _, failure := range result.Failures {
			assert.Equal(t, int64(1), failure.SymbolID)
			assert.Contains(t, failure.Reason, assert.AnError.Error())
		}
	})
}
