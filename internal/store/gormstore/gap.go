package gormstore

import (
	"context"
	"errors"
	"fmt"

	"chansync/internal/store/model"

	"gorm.io/gorm"
)

// CreateGap persists a detected gap in PENDING state.
func (s *Store) CreateGap(ctx context.Context, gap *model.DataGapModel) error {
	if err := s.ready(); err != nil {
		return err
	}
	if gap == nil {
		return errors.New("缺口记录不能为空")
	}
	if gap.SymbolID <= 0 {
		return errors.New("交易对ID不能为空")
	}
	if gap.GapStart > gap.GapEnd {
		return fmt.Errorf("缺口范围不合法: start=%d end=%d", gap.GapStart, gap.GapEnd)
	}
	now := nowMilli()
	if gap.Status == "" {
		gap.Status = model.GapStatusPending
	}
	gap.CreatedAtUnix = now
	gap.UpdatedAtUnix = now
	return s.db.WithContext(ctx).Create(gap).Error
}

// HasOverlappingGap reports whether any persisted gap of the series overlaps
// [gapStart, gapEnd]. Detection must check this before inserting.
func (s *Store) HasOverlappingGap(ctx context.Context, symbolID int64, interval string, gapStart, gapEnd int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&model.DataGapModel{}).
		Where("symbol_id = ? AND interval = ? AND gap_start <= ? AND gap_end >= ?",
			symbolID, interval, gapEnd, gapStart).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) GetGap(ctx context.Context, id int64) (*model.DataGapModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var gap model.DataGapModel
	if err := s.db.WithContext(ctx).First(&gap, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("缺口不存在: id=%d", id)
		}
		return nil, err
	}
	return &gap, nil
}

func (s *Store) ListGapsByStatus(ctx context.Context, status model.GapStatus, limit int) ([]model.DataGapModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var gaps []model.DataGapModel
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&gaps).Error
	return gaps, err
}

func (s *Store) ListGapsBySeries(ctx context.Context, symbolID int64, interval string) ([]model.DataGapModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var gaps []model.DataGapModel
	err := s.db.WithContext(ctx).
		Where("symbol_id = ? AND interval = ?", symbolID, interval).
		Order("gap_start ASC").
		Find(&gaps).Error
	return gaps, err
}

func (s *Store) CountGapsByStatus(ctx context.Context, status model.GapStatus) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var total int64
	err := s.db.WithContext(ctx).Model(&model.DataGapModel{}).
		Where("status = ?", status).
		Count(&total).Error
	return total, err
}

// ClaimGap atomically moves a gap PENDING→FILLING. Returns false when the
// gap was already claimed by a concurrent fill, so a gap can never be
// processed twice.
func (s *Store) ClaimGap(ctx context.Context, id int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Model(&model.DataGapModel{}).
		Where("id = ? AND status = ?", id, model.GapStatusPending).
		Updates(map[string]interface{}{
			"status":     model.GapStatusFilling,
			"updated_at": nowMilli(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkGapFilled is only legal from FILLING; FILLED is terminal.
func (s *Store) MarkGapFilled(ctx context.Context, id int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&model.DataGapModel{}).
		Where("id = ? AND status = ?", id, model.GapStatusFilling).
		Updates(map[string]interface{}{
			"status":        model.GapStatusFilled,
			"error_message": "",
			"updated_at":    nowMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("缺口状态流转非法: id=%d 当前状态不是 FILLING", id)
	}
	return nil
}

// RecordGapFailure stores the failure outcome decided by the healer: back to
// PENDING while retries remain, FAILED once exhausted.
func (s *Store) RecordGapFailure(ctx context.Context, id int64, retryCount int, status model.GapStatus, errMsg string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if status != model.GapStatusPending && status != model.GapStatusFailed {
		return fmt.Errorf("缺口失败状态非法: %s", status)
	}
	return s.db.WithContext(ctx).Model(&model.DataGapModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"retry_count":   retryCount,
			"error_message": errMsg,
			"updated_at":    nowMilli(),
		}).Error
}

// ResetFailedGap moves a gap FAILED→PENDING and clears its retry budget.
// Returns false when the gap is not in FAILED.
func (s *Store) ResetFailedGap(ctx context.Context, id int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Model(&model.DataGapModel{}).
		Where("id = ? AND status = ?", id, model.GapStatusFailed).
		Updates(map[string]interface{}{
			"status":        model.GapStatusPending,
			"retry_count":   0,
			"error_message": "",
			"updated_at":    nowMilli(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
