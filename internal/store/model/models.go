package model

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// GapStatus 是缺口状态机的持久化取值。
type GapStatus string

const (
	GapStatusPending GapStatus = "PENDING"
	GapStatusFilling GapStatus = "FILLING"
	GapStatusFilled  GapStatus = "FILLED"
	GapStatusFailed  GapStatus = "FAILED"
)

// TaskType / TaskStatus 对应 sync_tasks 的审计字段。
type TaskType string

const (
	TaskTypeHistory  TaskType = "HISTORY"
	TaskTypeGapFill  TaskType = "GAP_FILL"
	TaskTypeRealtime TaskType = "REALTIME"
)

type TaskStatus string

const (
	TaskStatusPending TaskStatus = "PENDING"
	TaskStatusRunning TaskStatus = "RUNNING"
	TaskStatusSuccess TaskStatus = "SUCCESS"
	TaskStatusFailed  TaskStatus = "FAILED"
)

// KlineModel 持久化一根K线。(symbol_id, interval, open_time) 唯一，
// 重复写入走 upsert 覆盖行情字段。
type KlineModel struct {
	ID            int64           `gorm:"column:id;primaryKey"`
	SymbolID      int64           `gorm:"column:symbol_id;uniqueIndex:uk_kline_series_open,priority:1"`
	Interval      string          `gorm:"column:interval;size:8;uniqueIndex:uk_kline_series_open,priority:2"`
	OpenTime      int64           `gorm:"column:open_time;uniqueIndex:uk_kline_series_open,priority:3"`
	Open          decimal.Decimal `gorm:"column:open_price;type:decimal(30,10)"`
	High          decimal.Decimal `gorm:"column:high_price;type:decimal(30,10)"`
	Low           decimal.Decimal `gorm:"column:low_price;type:decimal(30,10)"`
	Close         decimal.Decimal `gorm:"column:close_price;type:decimal(30,10)"`
	Volume        decimal.Decimal `gorm:"column:volume;type:decimal(30,10)"`
	QuoteVolume   decimal.Decimal `gorm:"column:quote_volume;type:decimal(30,10)"`
	TradeCount    int64           `gorm:"column:trade_count"`
	CloseTime     int64           `gorm:"column:close_time"`
	CreatedAtUnix int64           `gorm:"column:created_at"`
	UpdatedAtUnix int64           `gorm:"column:updated_at"`
}

func (KlineModel) TableName() string { return "klines" }

// DataGapModel 记录一个缺口及其回补状态机进度。
type DataGapModel struct {
	ID            int64     `gorm:"column:id;primaryKey"`
	SymbolID      int64     `gorm:"column:symbol_id;index:idx_gap_series,priority:1"`
	Interval      string    `gorm:"column:interval;size:8;index:idx_gap_series,priority:2"`
	GapStart      int64     `gorm:"column:gap_start"`
	GapEnd        int64     `gorm:"column:gap_end"`
	MissingCount  int64     `gorm:"column:missing_count"`
	Status        GapStatus `gorm:"column:status;size:16;index"`
	RetryCount    int       `gorm:"column:retry_count"`
	ErrorMessage  string    `gorm:"column:error_message"`
	CreatedAtUnix int64     `gorm:"column:created_at"`
	UpdatedAtUnix int64     `gorm:"column:updated_at"`
}

func (DataGapModel) TableName() string { return "data_gaps" }

// SyncStatusModel 是每个序列的水位线。LastKlineTime 为空表示尚无数据。
type SyncStatusModel struct {
	ID                 int64  `gorm:"column:id;primaryKey"`
	SymbolID           int64  `gorm:"column:symbol_id;uniqueIndex:uk_status_series,priority:1"`
	Interval           string `gorm:"column:interval;size:8;uniqueIndex:uk_status_series,priority:2"`
	LastKlineTime      *int64 `gorm:"column:last_kline_time"`
	TotalKlines        int64  `gorm:"column:total_klines"`
	AutoGapFillEnabled bool   `gorm:"column:auto_gap_fill_enabled"`
	LastSyncTime       int64  `gorm:"column:last_sync_time"`
	CreatedAtUnix      int64  `gorm:"column:created_at"`
	UpdatedAtUnix      int64  `gorm:"column:updated_at"`
}

func (SyncStatusModel) TableName() string { return "sync_status" }

// SyncTaskModel 审计一次同步执行，不参与正确性判定。
type SyncTaskModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	TaskUID       string         `gorm:"column:task_uid;size:36;uniqueIndex"`
	SymbolID      int64          `gorm:"column:symbol_id;index:idx_task_series,priority:1"`
	Interval      string         `gorm:"column:interval;size:8;index:idx_task_series,priority:2"`
	TaskType      TaskType       `gorm:"column:task_type;size:16"`
	Status        TaskStatus     `gorm:"column:status;size:16;index"`
	StartTime     *int64         `gorm:"column:start_time"`
	EndTime       *int64         `gorm:"column:end_time"`
	SyncedCount   int64          `gorm:"column:synced_count"`
	RetryCount    int            `gorm:"column:retry_count"`
	MaxRetries    int            `gorm:"column:max_retries"`
	ErrorMessage  string         `gorm:"column:error_message"`
	Detail        datatypes.JSON `gorm:"column:detail;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (SyncTaskModel) TableName() string { return "sync_tasks" }

// SymbolModel 是交易对读模型，同步资格过滤依赖它。
type SymbolModel struct {
	ID              int64          `gorm:"column:id;primaryKey"`
	DataSourceID    int64          `gorm:"column:data_source_id;index"`
	MarketID        int64          `gorm:"column:market_id;index"`
	Symbol          string         `gorm:"column:symbol;size:32;index"`
	SyncEnabled     bool           `gorm:"column:sync_enabled"`
	RealtimeEnabled bool           `gorm:"column:realtime_enabled"`
	SyncIntervals   datatypes.JSON `gorm:"column:sync_intervals;type:TEXT"`
	Deleted         bool           `gorm:"column:deleted"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
	UpdatedAtUnix   int64          `gorm:"column:updated_at"`
}

func (SymbolModel) TableName() string { return "symbols" }

type MarketModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	DataSourceID  int64  `gorm:"column:data_source_id;index"`
	MarketType    string `gorm:"column:market_type;size:16"`
	Enabled       bool   `gorm:"column:enabled"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
	UpdatedAtUnix int64  `gorm:"column:updated_at"`
}

func (MarketModel) TableName() string { return "markets" }

type DataSourceModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	Name          string `gorm:"column:name;size:64"`
	ExchangeType  string `gorm:"column:exchange_type;size:16"`
	Enabled       bool   `gorm:"column:enabled"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
	UpdatedAtUnix int64  `gorm:"column:updated_at"`
}

func (DataSourceModel) TableName() string { return "data_sources" }

type SystemConfigModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	ConfigKey     string `gorm:"column:config_key;size:64;uniqueIndex"`
	ConfigValue   string `gorm:"column:config_value"`
	Description   string `gorm:"column:description"`
	UpdatedAtUnix int64  `gorm:"column:updated_at"`
}

func (SystemConfigModel) TableName() string { return "system_configs" }
