package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chansync/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Catalog read models: symbols, markets, data sources. CRUD management of
// these lives outside the sync engine; the engine only reads them for
// eligibility checks and seeds them from config at startup.

func (s *Store) GetSymbol(ctx context.Context, id int64) (*model.SymbolModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var sym model.SymbolModel
	if err := s.db.WithContext(ctx).First(&sym, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("交易对不存在: id=%d", id)
		}
		return nil, err
	}
	return &sym, nil
}

func (s *Store) GetMarket(ctx context.Context, id int64) (*model.MarketModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var mkt model.MarketModel
	if err := s.db.WithContext(ctx).First(&mkt, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("市场不存在: id=%d", id)
		}
		return nil, err
	}
	return &mkt, nil
}

func (s *Store) GetDataSource(ctx context.Context, id int64) (*model.DataSourceModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var ds model.DataSourceModel
	if err := s.db.WithContext(ctx).First(&ds, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("数据源不存在: id=%d", id)
		}
		return nil, err
	}
	return &ds, nil
}

// ListSyncEnabledSymbols returns live symbols flagged for history sync.
func (s *Store) ListSyncEnabledSymbols(ctx context.Context) ([]model.SymbolModel, error) {
	return s.listSymbols(ctx, "sync_enabled")
}

// ListRealtimeSymbols returns live symbols flagged for stream subscriptions.
func (s *Store) ListRealtimeSymbols(ctx context.Context) ([]model.SymbolModel, error) {
	return s.listSymbols(ctx, "realtime_enabled")
}

func (s *Store) listSymbols(ctx context.Context, flagColumn string) ([]model.SymbolModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var symbols []model.SymbolModel
	err := s.db.WithContext(ctx).
		Where("deleted = ? AND "+flagColumn+" = ?", false, true).
		Order("id ASC").
		Find(&symbols).Error
	return symbols, err
}

// SaveSymbol / SaveMarket / SaveDataSource upsert catalog rows by primary
// key; used by startup seeding and tests.
func (s *Store) SaveSymbol(ctx context.Context, sym *model.SymbolModel) error {
	if err := s.ready(); err != nil {
		return err
	}
	if sym == nil {
		return errors.New("交易对记录不能为空")
	}
	sym.Symbol = strings.ToUpper(strings.TrimSpace(sym.Symbol))
	if sym.Symbol == "" {
		return errors.New("交易对名称不能为空")
	}
	now := nowMilli()
	if sym.CreatedAtUnix == 0 {
		sym.CreatedAtUnix = now
	}
	sym.UpdatedAtUnix = now
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"data_source_id", "market_id", "symbol", "sync_enabled",
				"realtime_enabled", "sync_intervals", "deleted", "updated_at",
			}),
		}).
		Create(sym).Error
}

func (s *Store) SaveMarket(ctx context.Context, mkt *model.MarketModel) error {
	if err := s.ready(); err != nil {
		return err
	}
	if mkt == nil {
		return errors.New("市场记录不能为空")
	}
	now := nowMilli()
	if mkt.CreatedAtUnix == 0 {
		mkt.CreatedAtUnix = now
	}
	mkt.UpdatedAtUnix = now
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"data_source_id", "market_type", "enabled", "updated_at",
			}),
		}).
		Create(mkt).Error
}

func (s *Store) SaveDataSource(ctx context.Context, ds *model.DataSourceModel) error {
	if err := s.ready(); err != nil {
		return err
	}
	if ds == nil {
		return errors.New("数据源记录不能为空")
	}
	now := nowMilli()
	if ds.CreatedAtUnix == 0 {
		ds.CreatedAtUnix = now
	}
	ds.UpdatedAtUnix = now
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "exchange_type", "enabled", "updated_at",
			}),
		}).
		Create(ds).Error
}

// EncodeIntervals / DecodeIntervals convert a symbol's configured interval
// list to and from its JSON column.
func EncodeIntervals(intervals []string) datatypes.JSON {
	cleaned := make([]string, 0, len(intervals))
	for _, iv := range intervals {
		iv = strings.TrimSpace(iv)
		if iv != "" {
			cleaned = append(cleaned, iv)
		}
	}
	data, _ := json.Marshal(cleaned)
	return datatypes.JSON(data)
}

func DecodeIntervals(data datatypes.JSON) []string {
	if len(data) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
