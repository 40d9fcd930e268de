package config

import (
	"fmt"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv       = "dev"
	defaultAppLogLevel  = "info"
	defaultAppLogPath   = "/data/logs/chansync.log"
	defaultDatabasePath = "/data/db/chansync.db"
	defaultCatalogPath  = "configs/catalog.yaml"
	defaultIncrementalM = 5
	defaultGapDetectM   = 10
	defaultAutoFillM    = 15
	defaultSweepOffsetS = 5
	defaultMarketName   = "binance"
	defaultMarketType   = "SPOT"
	defaultMarketREST   = "https://api.binance.com"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Database.applyDefaults(keys)
	c.Sync.applyDefaults(keys)
	c.Market.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DatabaseConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("database.path", &d.Path, defaultDatabasePath),
	)
}

func (s *SyncConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("sync.catalog_path", &s.CatalogPath, defaultCatalogPath),
		boolFieldDefault("sync.start_realtime_on_boot", &s.StartRealtimeOnBoot, true),
		fieldDefault{
			key:   "sync.incremental_interval_minutes",
			need:  func() bool { return s.IncrementalIntervalMinutes <= 0 },
			apply: func() { s.IncrementalIntervalMinutes = defaultIncrementalM },
		},
		fieldDefault{
			key:   "sync.gap_detect_interval_minutes",
			need:  func() bool { return s.GapDetectIntervalMinutes <= 0 },
			apply: func() { s.GapDetectIntervalMinutes = defaultGapDetectM },
		},
		fieldDefault{
			key:   "sync.auto_fill_interval_minutes",
			need:  func() bool { return s.AutoFillIntervalMinutes <= 0 },
			apply: func() { s.AutoFillIntervalMinutes = defaultAutoFillM },
		},
		fieldDefault{
			key:   "sync.sweep_offset_seconds",
			need:  func() bool { return s.SweepOffsetSeconds <= 0 },
			apply: func() { s.SweepOffsetSeconds = defaultSweepOffsetS },
		},
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			MarketType:  defaultMarketType,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		src.Proxy.normalize()
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if strings.TrimSpace(src.MarketType) == "" {
			src.MarketType = defaultMarketType
		}
		src.MarketType = strings.ToUpper(strings.TrimSpace(src.MarketType))
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
