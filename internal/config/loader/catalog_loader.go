package loader

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"chansync/internal/logger"
	"chansync/internal/market"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DataSourceDefinition 描述一个交易所数据源。
type DataSourceDefinition struct {
	ID           int64  `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	ExchangeType string `mapstructure:"exchange_type"`
	Enabled      bool   `mapstructure:"enabled"`
}

// MarketDefinition 描述数据源下的一个市场（现货/合约）。
type MarketDefinition struct {
	ID           int64  `mapstructure:"id"`
	DataSourceID int64  `mapstructure:"data_source_id"`
	MarketType   string `mapstructure:"market_type"`
	Enabled      bool   `mapstructure:"enabled"`
}

// SymbolDefinition 描述一个交易对及其同步周期。
type SymbolDefinition struct {
	ID              int64    `mapstructure:"id"`
	MarketID        int64    `mapstructure:"market_id"`
	DataSourceID    int64    `mapstructure:"data_source_id"`
	Symbol          string   `mapstructure:"symbol"`
	SyncEnabled     bool     `mapstructure:"sync_enabled"`
	RealtimeEnabled bool     `mapstructure:"realtime_enabled"`
	Intervals       []string `mapstructure:"intervals"`
}

// FileConfig 是完整的目录配置文件结构。
type FileConfig struct {
	DataSources []DataSourceDefinition `mapstructure:"data_sources"`
	Markets     []MarketDefinition     `mapstructure:"markets"`
	Symbols     []SymbolDefinition     `mapstructure:"symbols"`
}

// CatalogSnapshot 对外暴露的只读快照。
type CatalogSnapshot struct {
	Version     int64
	LoadedAt    time.Time
	DataSources []DataSourceDefinition
	Markets     []MarketDefinition
	Symbols     []SymbolDefinition
}

// ChangeListener 在目录配置变更时被调用。
type ChangeListener func(CatalogSnapshot)

// CatalogLoader 负责从 YAML 文件中加载交易对目录，并监听热更新。
type CatalogLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  CatalogSnapshot
	listeners []ChangeListener
}

// NewCatalogLoader 读取目录文件并开始监听 FS 事件。
func NewCatalogLoader(path string) (*CatalogLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog config failed: %w", err)
	}
	loader := &CatalogLoader{path: path, v: v}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("catalog reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Snapshot 返回当前目录快照（深拷贝）。
func (l *CatalogLoader) Snapshot() CatalogSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copySnapshot(l.snapshot)
}

// OnChange 注册热更新回调。
func (l *CatalogLoader) OnChange(fn ChangeListener) {
	if l == nil || fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

func (l *CatalogLoader) reload() error {
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read catalog config failed: %w", err)
	}
	var fc FileConfig
	if err := l.v.Unmarshal(&fc, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return fmt.Errorf("parse catalog config failed: %w", err)
	}
	if err := normalizeCatalog(&fc); err != nil {
		return err
	}
	l.mu.Lock()
	l.snapshot = CatalogSnapshot{
		Version:     l.snapshot.Version + 1,
		LoadedAt:    time.Now(),
		DataSources: fc.DataSources,
		Markets:     fc.Markets,
		Symbols:     fc.Symbols,
	}
	l.mu.Unlock()
	logger.Infof("catalog loaded: %d data sources, %d markets, %d symbols",
		len(fc.DataSources), len(fc.Markets), len(fc.Symbols))
	return nil
}

func (l *CatalogLoader) notify() {
	l.mu.RLock()
	listeners := append([]ChangeListener(nil), l.listeners...)
	snap := copySnapshot(l.snapshot)
	l.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func normalizeCatalog(fc *FileConfig) error {
	dsIDs := make(map[int64]bool, len(fc.DataSources))
	for i := range fc.DataSources {
		ds := &fc.DataSources[i]
		ds.Name = strings.TrimSpace(ds.Name)
		ds.ExchangeType = strings.ToUpper(strings.TrimSpace(ds.ExchangeType))
		if ds.ID <= 0 {
			return fmt.Errorf("data source %s requires positive id", ds.Name)
		}
		if dsIDs[ds.ID] {
			return fmt.Errorf("data source id duplicated: %d", ds.ID)
		}
		dsIDs[ds.ID] = true
		if ds.Name == "" {
			return fmt.Errorf("data source %d requires name", ds.ID)
		}
	}
	mktIDs := make(map[int64]bool, len(fc.Markets))
	for i := range fc.Markets {
		mkt := &fc.Markets[i]
		mkt.MarketType = strings.ToUpper(strings.TrimSpace(mkt.MarketType))
		if mkt.ID <= 0 {
			return fmt.Errorf("market requires positive id")
		}
		if mktIDs[mkt.ID] {
			return fmt.Errorf("market id duplicated: %d", mkt.ID)
		}
		mktIDs[mkt.ID] = true
		if !dsIDs[mkt.DataSourceID] {
			return fmt.Errorf("market %d references unknown data source %d", mkt.ID, mkt.DataSourceID)
		}
	}
	symIDs := make(map[int64]bool, len(fc.Symbols))
	for i := range fc.Symbols {
		sym := &fc.Symbols[i]
		sym.Symbol = strings.ToUpper(strings.TrimSpace(sym.Symbol))
		if sym.ID <= 0 {
			return fmt.Errorf("symbol %s requires positive id", sym.Symbol)
		}
		if symIDs[sym.ID] {
			return fmt.Errorf("symbol id duplicated: %d", sym.ID)
		}
		symIDs[sym.ID] = true
		if sym.Symbol == "" {
			return fmt.Errorf("symbol %d requires symbol name", sym.ID)
		}
		if !mktIDs[sym.MarketID] {
			return fmt.Errorf("symbol %s references unknown market %d", sym.Symbol, sym.MarketID)
		}
		if !dsIDs[sym.DataSourceID] {
			return fmt.Errorf("symbol %s references unknown data source %d", sym.Symbol, sym.DataSourceID)
		}
		sym.Intervals = normalizeIntervals(sym.Intervals)
		for _, interval := range sym.Intervals {
			if err := market.ValidateInterval(interval); err != nil {
				return fmt.Errorf("symbol %s: %w", sym.Symbol, err)
			}
		}
	}
	return nil
}

func normalizeIntervals(intervals []string) []string {
	out := make([]string, 0, len(intervals))
	seen := make(map[string]bool, len(intervals))
	for _, interval := range intervals {
		interval = strings.TrimSpace(interval)
		if interval == "" || seen[interval] {
			continue
		}
		seen[interval] = true
		out = append(out, interval)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := market.IntervalMillis(out[i])
		b, _ := market.IntervalMillis(out[j])
		return a < b
	})
	return out
}

func copySnapshot(s CatalogSnapshot) CatalogSnapshot {
	out := CatalogSnapshot{Version: s.Version, LoadedAt: s.LoadedAt}
	out.DataSources = append([]DataSourceDefinition(nil), s.DataSources...)
	out.Markets = append([]MarketDefinition(nil), s.Markets...)
	out.Symbols = make([]SymbolDefinition, len(s.Symbols))
	for i, sym := range s.Symbols {
		sym.Intervals = append([]string(nil), sym.Intervals...)
		out.Symbols[i] = sym
	}
	return out
}
