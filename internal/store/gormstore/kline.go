package gormstore

import (
	"context"
	"errors"

	"chansync/internal/market"
	"chansync/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertBatchSize 控制单条 INSERT 承载的行数，避免超出 SQLite 绑定参数上限。
const upsertBatchSize = 500

var klineUpdateColumns = []string{
	"open_price", "high_price", "low_price", "close_price",
	"volume", "quote_volume", "trade_count", "close_time", "updated_at",
}

// BatchUpsertKlines writes candles idempotently: a re-received candle for the
// same (symbol_id, interval, open_time) overwrites its market fields instead
// of duplicating the row. Returns the number of rows written.
func (s *Store) BatchUpsertKlines(ctx context.Context, symbolID int64, interval string, candles []market.Candle) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if symbolID <= 0 {
		return 0, errors.New("交易对ID不能为空")
	}
	if err := market.ValidateInterval(interval); err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	now := nowMilli()
	written := int64(0)
	for start := 0; start < len(candles); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(candles) {
			end = len(candles)
		}
		chunk := candles[start:end]
		models := make([]model.KlineModel, 0, len(chunk))
		for _, c := range chunk {
			models = append(models, newKlineModel(symbolID, interval, c, now))
		}
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "symbol_id"}, {Name: "interval"}, {Name: "open_time"}},
				DoUpdates: clause.AssignmentColumns(klineUpdateColumns),
			}).
			Create(&models).Error
		if err != nil {
			return written, err
		}
		written += int64(len(chunk))
	}
	return written, nil
}

// ListKlines returns candles of a series inside [startTime, endTime], open
// time ascending. A non-positive bound is ignored.
func (s *Store) ListKlines(ctx context.Context, symbolID int64, interval string, startTime, endTime int64, limit int) ([]market.Candle, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Model(&model.KlineModel{}).
		Where("symbol_id = ? AND interval = ?", symbolID, interval)
	if startTime > 0 {
		query = query.Where("open_time >= ?", startTime)
	}
	if endTime > 0 {
		query = query.Where("open_time <= ?", endTime)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []model.KlineModel
	if err := query.Order("open_time ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(models))
	for _, m := range models {
		out = append(out, klineModelToCandle(m))
	}
	return out, nil
}

// ListOpenTimes returns every stored open time of a series in ascending
// order. Gap detection only needs the timeline, not the market fields.
func (s *Store) ListOpenTimes(ctx context.Context, symbolID int64, interval string) ([]int64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var times []int64
	err := s.db.WithContext(ctx).Model(&model.KlineModel{}).
		Where("symbol_id = ? AND interval = ?", symbolID, interval).
		Order("open_time ASC").
		Pluck("open_time", &times).Error
	if err != nil {
		return nil, err
	}
	return times, nil
}

// MinOpenTime / MaxOpenTime return nil when the series has no rows.
func (s *Store) MinOpenTime(ctx context.Context, symbolID int64, interval string) (*int64, error) {
	return s.boundOpenTime(ctx, symbolID, interval, "MIN(open_time)")
}

func (s *Store) MaxOpenTime(ctx context.Context, symbolID int64, interval string) (*int64, error) {
	return s.boundOpenTime(ctx, symbolID, interval, "MAX(open_time)")
}

func (s *Store) boundOpenTime(ctx context.Context, symbolID int64, interval, expr string) (*int64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var bound *int64
	err := s.db.WithContext(ctx).Model(&model.KlineModel{}).
		Where("symbol_id = ? AND interval = ?", symbolID, interval).
		Select(expr).
		Scan(&bound).Error
	if err != nil {
		return nil, err
	}
	return bound, nil
}

func (s *Store) CountKlines(ctx context.Context, symbolID int64, interval string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var total int64
	err := s.db.WithContext(ctx).Model(&model.KlineModel{}).
		Where("symbol_id = ? AND interval = ?", symbolID, interval).
		Count(&total).Error
	return total, err
}

// DeleteKlineRange removes candles inside [startTime, endTime] and cascades:
// gaps overlapping the range are dropped (their underlying evidence is gone),
// the series watermark and count are recomputed, and auto gap fill is forced
// off until a human re-enables it.
func (s *Store) DeleteKlineRange(ctx context.Context, symbolID int64, interval string, startTime, endTime int64) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if symbolID <= 0 {
		return 0, errors.New("交易对ID不能为空")
	}
	if startTime > endTime {
		return 0, errors.New("删除范围不合法: start > end")
	}
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("symbol_id = ? AND interval = ? AND open_time >= ? AND open_time <= ?",
			symbolID, interval, startTime, endTime).
			Delete(&model.KlineModel{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		if err := tx.Where("symbol_id = ? AND interval = ? AND gap_start <= ? AND gap_end >= ?",
			symbolID, interval, endTime, startTime).
			Delete(&model.DataGapModel{}).Error; err != nil {
			return err
		}
		var watermark *int64
		if err := tx.Model(&model.KlineModel{}).
			Where("symbol_id = ? AND interval = ?", symbolID, interval).
			Select("MAX(open_time)").
			Scan(&watermark).Error; err != nil {
			return err
		}
		var total int64
		if err := tx.Model(&model.KlineModel{}).
			Where("symbol_id = ? AND interval = ?", symbolID, interval).
			Count(&total).Error; err != nil {
			return err
		}
		return tx.Model(&model.SyncStatusModel{}).
			Where("symbol_id = ? AND interval = ?", symbolID, interval).
			Updates(map[string]interface{}{
				"last_kline_time":       watermark,
				"total_klines":          total,
				"auto_gap_fill_enabled": false,
				"updated_at":            nowMilli(),
			}).Error
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func newKlineModel(symbolID int64, interval string, c market.Candle, now int64) model.KlineModel {
	return model.KlineModel{
		SymbolID:      symbolID,
		Interval:      interval,
		OpenTime:      c.OpenTime,
		Open:          c.Open,
		High:          c.High,
		Low:           c.Low,
		Close:         c.Close,
		Volume:        c.Volume,
		QuoteVolume:   c.QuoteVolume,
		TradeCount:    c.Trades,
		CloseTime:     c.CloseTime,
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
}

func klineModelToCandle(m model.KlineModel) market.Candle {
	return market.Candle{
		OpenTime:    m.OpenTime,
		CloseTime:   m.CloseTime,
		Open:        m.Open,
		High:        m.High,
		Low:         m.Low,
		Close:       m.Close,
		Volume:      m.Volume,
		QuoteVolume: m.QuoteVolume,
		Trades:      m.TradeCount,
	}
}
