package gormstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chansync/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store 基于 Gorm + SQLite 持久化K线、缺口与同步簿记。
type Store struct {
	db *gorm.DB
}

// New initializes the store and migrates all tables.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&model.KlineModel{},
		&model.DataGapModel{},
		&model.SyncStatusModel{},
		&model.SyncTaskModel{},
		&model.SymbolModel{},
		&model.MarketModel{},
		&model.DataSourceModel{},
		&model.SystemConfigModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep a small pool so stream callbacks and schedulers can
	// read concurrently without piling up writer lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GormDB exposes the underlying *gorm.DB (read-only reference).
func (s *Store) GormDB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

var errStoreNotInitialized = fmt.Errorf("store 未初始化")

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}
