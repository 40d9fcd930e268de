package gormstore

import (
	"context"
	"errors"
	"strings"

	"chansync/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetConfigValue returns (value, found). Absence is not an error.
func (s *Store) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	if err := s.ready(); err != nil {
		return "", false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, errors.New("配置键不能为空")
	}
	var cfg model.SystemConfigModel
	err := s.db.WithContext(ctx).Where("config_key = ?", key).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return cfg.ConfigValue, true, nil
}

// SetConfigValue upserts a key/value pair.
func (s *Store) SetConfigValue(ctx context.Context, key, value, description string) error {
	if err := s.ready(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("配置键不能为空")
	}
	cfg := model.SystemConfigModel{
		ConfigKey:     key,
		ConfigValue:   value,
		Description:   description,
		UpdatedAtUnix: nowMilli(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "config_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"config_value", "description", "updated_at"}),
		}).
		Create(&cfg).Error
}

func (s *Store) ListConfigValues(ctx context.Context) ([]model.SystemConfigModel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var configs []model.SystemConfigModel
	err := s.db.WithContext(ctx).Order("config_key ASC").Find(&configs).Error
	return configs, err
}
