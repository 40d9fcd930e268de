package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chansync/internal/store/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --------------------------- SyncStatus -----------------------------------

// GetSyncStatus returns nil (no error) when the series has no status row yet.
func (s *Store) GetSyncStatus(ctx context.Context, symbolID int64, interval string) (*model.SyncStatusModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var status model.SyncStatusModel
	err := s.db.WithContext(ctx).
		Where("symbol_id = ? AND interval = ?", symbolID, interval).
		First(&status).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &status, nil
}

// GetOrCreateSyncStatus lazily creates the status row on first use.
// Auto gap fill defaults to enabled for a fresh series.
func (s *Store) GetOrCreateSyncStatus(ctx context.Context, symbolID int64, interval string) (*model.SyncStatusModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if symbolID <= 0 {
		return nil, errors.New("交易对ID不能为空")
	}
	status, err := s.GetSyncStatus(ctx, symbolID, interval)
	if err != nil {
		return nil, err
	}
	if status != nil {
		return status, nil
	}
	now := nowMilli()
	fresh := model.SyncStatusModel{
		SymbolID:           symbolID,
		Interval:           interval,
		AutoGapFillEnabled: true,
		CreatedAtUnix:      now,
		UpdatedAtUnix:      now,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol_id"}, {Name: "interval"}},
			DoNothing: true,
		}).
		Create(&fresh).Error
	if err != nil {
		return nil, err
	}
	return s.GetSyncStatus(ctx, symbolID, interval)
}

// AdvanceSyncStatus moves the watermark to max(existing, lastOpenTime) and
// adds the written count. The watermark never moves backwards.
func (s *Store) AdvanceSyncStatus(ctx context.Context, symbolID int64, interval string, lastOpenTime, added int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	status, err := s.GetOrCreateSyncStatus(ctx, symbolID, interval)
	if err != nil {
		return err
	}
	watermark := lastOpenTime
	if status.LastKlineTime != nil && *status.LastKlineTime > watermark {
		watermark = *status.LastKlineTime
	}
	return s.db.WithContext(ctx).Model(&model.SyncStatusModel{}).
		Where("id = ?", status.ID).
		Updates(map[string]interface{}{
			"last_kline_time": watermark,
			"total_klines":    gorm.Expr("total_klines + ?", added),
			"last_sync_time":  nowMilli(),
			"updated_at":      nowMilli(),
		}).Error
}

// ResetSyncStatus clears the watermark and count and disables auto gap fill.
func (s *Store) ResetSyncStatus(ctx context.Context, symbolID int64, interval string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&model.SyncStatusModel{}).
		Where("symbol_id = ? AND interval = ?", symbolID, interval).
		Updates(map[string]interface{}{
			"last_kline_time":       nil,
			"total_klines":          0,
			"auto_gap_fill_enabled": false,
			"updated_at":            nowMilli(),
		}).Error
}

func (s *Store) SetAutoGapFill(ctx context.Context, symbolID int64, interval string, enabled bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&model.SyncStatusModel{}).
		Where("symbol_id = ? AND interval = ?", symbolID, interval).
		Updates(map[string]interface{}{
			"auto_gap_fill_enabled": enabled,
			"updated_at":            nowMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("同步状态不存在: symbol_id=%d interval=%s", symbolID, interval)
	}
	return nil
}

// --------------------------- SyncTask --------------------------------------

// CreateSyncTask opens an audit record in PENDING. A missing TaskUID is
// assigned here.
func (s *Store) CreateSyncTask(ctx context.Context, task *model.SyncTaskModel) error {
	if err := s.ready(); err != nil {
		return err
	}
	if task == nil {
		return errors.New("同步任务不能为空")
	}
	if strings.TrimSpace(task.TaskUID) == "" {
		task.TaskUID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = model.TaskStatusPending
	}
	now := nowMilli()
	task.CreatedAtUnix = now
	task.UpdatedAtUnix = now
	return s.db.WithContext(ctx).Create(task).Error
}

func (s *Store) StartSyncTask(ctx context.Context, id int64) error {
	return s.updateTask(ctx, id, map[string]interface{}{
		"status": model.TaskStatusRunning,
	})
}

func (s *Store) CompleteSyncTask(ctx context.Context, id, syncedCount int64) error {
	return s.updateTask(ctx, id, map[string]interface{}{
		"status":       model.TaskStatusSuccess,
		"synced_count": syncedCount,
	})
}

func (s *Store) FailSyncTask(ctx context.Context, id int64, errMsg string) error {
	return s.updateTask(ctx, id, map[string]interface{}{
		"status":        model.TaskStatusFailed,
		"error_message": errMsg,
	})
}

func (s *Store) updateTask(ctx context.Context, id int64, payload map[string]interface{}) error {
	if err := s.ready(); err != nil {
		return err
	}
	payload["updated_at"] = nowMilli()
	res := s.db.WithContext(ctx).Model(&model.SyncTaskModel{}).
		Where("id = ?", id).
		Updates(payload)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("同步任务不存在: id=%d", id)
	}
	return nil
}

func (s *Store) ListSyncTasks(ctx context.Context, symbolID int64, interval string, limit int) ([]model.SyncTaskModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Model(&model.SyncTaskModel{})
	if symbolID > 0 {
		query = query.Where("symbol_id = ?", symbolID)
	}
	if strings.TrimSpace(interval) != "" {
		query = query.Where("interval = ?", interval)
	}
	var tasks []model.SyncTaskModel
	err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&tasks).Error
	return tasks, err
}
