package syncer

import (
	"context"
	"errors"
	"testing"

	"chansync/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHealer(store *fakeStore, client *fakeClient, cfg *staticConfig) *Healer {
	return NewHealer(store, newTestRegistry(client, newFakeStream()), NewFilter(store), cfg)
}

func createPendingGap(t *testing.T, store *fakeStore) *model.DataGapModel {
	t.Helper()
	gap := &model.DataGapModel{
		SymbolID:     1,
		Interval:     "1h",
		GapStart:     baseOpenTime + 2*hourMs,
		GapEnd:       baseOpenTime + 4*hourMs,
		MissingCount: 3,
		Status:       model.GapStatusPending,
	}
	require.NoError(t, store.CreateGap(context.Background(), gap))
	return gap
}

func TestHealer_FillGap(t *testing.T) {
	t.Run("success fills and marks FILLED", func(t *testing.T) {
		store := newFakeStore()
		client := &fakeClient{}
		healer := newTestHealer(store, client, defaultStaticConfig())
		gap := createPendingGap(t, store)

		result, err := healer.FillGap(context.Background(), gap.ID)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, int64(3), result.SyncedCount)

		stored, err := store.GetGap(context.Background(), gap.ID)
		require.NoError(t, err)
		assert.Equal(t, model.GapStatusFilled, stored.Status)
		assert.Equal(t, 3, store.klineCount(1, "1h"))

		status, err := store.GetSyncStatus(context.Background(), 1, "1h")
		require.NoError(t, err)
		require.NotNil(t, status)
		require.NotNil(t, status.LastKlineTime)
		assert.Equal(t, gap.GapEnd, *status.LastKlineTime)
	})

	t.Run("FILLED gap is skipped, never refilled", func(t *testing.T) {
		store := newFakeStore()
		client := &fakeClient{}
		healer := newTestHealer(store, client, defaultStaticConfig())
		gap := createPendingGap(t, store)

		_, err := healer.FillGap(context.Background(), gap.ID)
		require.NoError(t, err)
		calls := client.callCount()

		result, err := healer.FillGap(context.Background(), gap.ID)
		require.NoError(t, err)
		assert.True(t, result.Skipped)
		assert.Contains(t, result.Message, "无需重复回补")
		assert.Equal(t, calls, client.callCount())
	})

	t.Run("FILLING gap is skipped", func(t *testing.T) {
		store := newFakeStore()
		healer := newTestHealer(store, &fakeClient{}, defaultStaticConfig())
		gap := createPendingGap(t, store)
		claimed, err := store.ClaimGap(context.Background(), gap.ID)
		require.NoError(t, err)
		require.True(t, claimed)

		result, err := healer.FillGap(context.Background(), gap.ID)
		require.NoError(t, err)
		assert.True(t, result.Skipped)
		assert.Contains(t, result.Message, "正在回补中")
	})

	t.Run("unknown gap id is an error", func(t *testing.T) {
		store := newFakeStore()
		healer := newTestHealer(store, &fakeClient{}, defaultStaticConfig())

		_, err := healer.FillGap(context.Background(), 42)
		assert.Error(t, err)
	})
}

func TestHealer_RetryLadder(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{err: errors.New("exchange unavailable")}
	cfg := defaultStaticConfig()
	healer := newTestHealer(store, client, cfg)
	gap := createPendingGap(t, store)

	// 三次失败耗尽 maxRetries=3 的预算：前两次回到 PENDING，第三次 FAILED。
	for attempt := 1; attempt <= 3; attempt++ {
		result, err := healer.FillGap(context.Background(), gap.ID)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.False(t, result.Skipped)

		stored, err := store.GetGap(context.Background(), gap.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, stored.RetryCount)
		if attempt < cfg.maxRetries {
			assert.Equal(t, model.GapStatusPending, stored.Status)
		} else {
			assert.Equal(t, model.GapStatusFailed, stored.Status)
		}
		assert.Contains(t, stored.ErrorMessage, "exchange unavailable")
	}

	result, err := healer.FillGap(context.Background(), gap.ID)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Contains(t, result.Message, "重置")
}

func TestHealer_ClaimReleasedOnAbort(t *testing.T) {
	t.Run("shutdown cancel mid fetch counts as one failure", func(t *testing.T) {
		store := newFakeStore()
		client := &fakeClient{}
		healer := newTestHealer(store, client, defaultStaticConfig())
		gap := createPendingGap(t, store)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		client.onFetch = cancel

		result, err := healer.FillGap(ctx, gap.ID)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.False(t, result.Skipped)

		// 中断后缺口必须回到 PENDING，不能滞留在无路可出的 FILLING。
		stored, err := store.GetGap(context.Background(), gap.ID)
		require.NoError(t, err)
		assert.Equal(t, model.GapStatusPending, stored.Status)
		assert.Equal(t, 1, stored.RetryCount)
		assert.Contains(t, stored.ErrorMessage, context.Canceled.Error())

		store.mu.Lock()
		task := store.tasks[1]
		store.mu.Unlock()
		require.NotNil(t, task)
		assert.Equal(t, model.TaskStatusFailed, task.Status)
	})

	t.Run("task create failure releases the claim", func(t *testing.T) {
		store := newFakeStore()
		store.taskErr = errors.New("db locked")
		healer := newTestHealer(store, &fakeClient{}, defaultStaticConfig())
		gap := createPendingGap(t, store)

		_, err := healer.FillGap(context.Background(), gap.ID)
		require.Error(t, err)

		stored, err := store.GetGap(context.Background(), gap.ID)
		require.NoError(t, err)
		assert.Equal(t, model.GapStatusPending, stored.Status)
		assert.Equal(t, 1, stored.RetryCount)
	})
}

func TestHealer_ResetFailedGap(t *testing.T) {
	store := newFakeStore()
	healer := newTestHealer(store, &fakeClient{}, defaultStaticConfig())
	gap := createPendingGap(t, store)

	t.Run("only FAILED can be reset", func(t *testing.T) {
		err := healer.ResetFailedGap(context.Background(), gap.ID)
		assert.Error(t, err)
	})

	t.Run("FAILED resets to PENDING with zero retries", func(t *testing.T) {
		require.NoError(t, store.RecordGapFailure(context.Background(), gap.ID, 3, model.GapStatusFailed, "boom"))

		require.NoError(t, healer.ResetFailedGap(context.Background(), gap.ID))
		stored, err := store.GetGap(context.Background(), gap.ID)
		require.NoError(t, err)
		assert.Equal(t, model.GapStatusPending, stored.Status)
		assert.Equal(t, 0, stored.RetryCount)
		assert.Empty(t, stored.ErrorMessage)
	})
}

func TestHealer_AutoFill(t *testing.T) {
	t.Run("global switch off returns disabled", func(t *testing.T) {
		store := newFakeStore()
		cfg := defaultStaticConfig()
		cfg.autoFill = false
		healer := newTestHealer(store, &fakeClient{}, cfg)
		createPendingGap(t, store)

		result, err := healer.AutoFill(context.Background())
		require.NoError(t, err)
		assert.True(t, result.Disabled)
		assert.Zero(t, result.Attempted)
	})

	t.Run("fills pending gaps up to batch size", func(t *testing.T) {
		store := newFakeStore()
		healer := newTestHealer(store, &fakeClient{}, defaultStaticConfig())
		createPendingGap(t, store)

		result, err := healer.AutoFill(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Attempted)
		assert.Equal(t, 1, result.Succeeded)
	})

	t.Run("series with auto fill off is skipped", func(t *testing.T) {
		store := newFakeStore()
		healer := newTestHealer(store, &fakeClient{}, defaultStaticConfig())
		gap := createPendingGap(t, store)

		store.setWatermark(1, "1h", baseOpenTime)
		store.mu.Lock()
		store.statuses[seriesKey(1, "1h")].AutoGapFillEnabled = false
		store.mu.Unlock()

		result, err := healer.AutoFill(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
		assert.Zero(t, result.Succeeded)

		stored, err := store.GetGap(context.Background(), gap.ID)
		require.NoError(t, err)
		assert.Equal(t, model.GapStatusPending, stored.Status)
	})
}

func TestHealer_BatchFill(t *testing.T) {
	store := newFakeStore()
	healer := newTestHealer(store, &fakeClient{}, defaultStaticConfig())
	first := createPendingGap(t, store)

	second := &model.DataGapModel{
		SymbolID:     1,
		Interval:     "1h",
		GapStart:     baseOpenTime + 10*hourMs,
		GapEnd:       baseOpenTime + 10*hourMs,
		MissingCount: 1,
		Status:       model.GapStatusFilled,
	}
	require.NoError(t, store.CreateGap(context.Background(), second))

	result := healer.BatchFill(context.Background(), []int64{first.ID, second.ID, 999})
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Failed)
}
