package config

import "strings"

// Config 是 Chansync 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Database DatabaseConfig `toml:"database"`
	Sync     SyncConfig     `toml:"sync"`
	Market   MarketConfig   `toml:"market"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// SyncConfig 控制后台同步调度节奏与启动行为。
type SyncConfig struct {
	CatalogPath string `toml:"catalog_path"`

	IncrementalIntervalMinutes int `toml:"incremental_interval_minutes"`
	GapDetectIntervalMinutes   int `toml:"gap_detect_interval_minutes"`
	AutoFillIntervalMinutes    int `toml:"auto_fill_interval_minutes"`
	// SweepOffsetSeconds 是增量扫描相对K线收盘时刻的偏移，
	// 留出交易所生成收盘K线的时间。
	SweepOffsetSeconds int `toml:"sweep_offset_seconds"`

	StartRealtimeOnBoot bool `toml:"start_realtime_on_boot"`
}

type MarketConfig struct {
	Sources []MarketSource `toml:"sources"`
}

// MarketSource 描述一个交易所接入点，按 name 与目录中的数据源匹配。
type MarketSource struct {
	Name        string      `toml:"name"`
	Enabled     bool        `toml:"enabled"`
	MarketType  string      `toml:"market_type"`
	RESTBaseURL string      `toml:"rest_base_url"`
	Proxy       ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
	WSURL   string `toml:"ws_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
	p.WSURL = strings.TrimSpace(p.WSURL)
}

// SourceByName 按名称（大小写不敏感）查找已启用的接入点。
func (m MarketConfig) SourceByName(name string) (MarketSource, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		if strings.ToLower(strings.TrimSpace(src.Name)) == want {
			return src, true
		}
	}
	return MarketSource{}, false
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
