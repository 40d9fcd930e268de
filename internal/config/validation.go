package config

import (
	"fmt"
	"strings"
)

var validMarketTypes = map[string]bool{
	"SPOT":         true,
	"USDT_FUTURES": true,
}

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.Sync.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %s", a.LogLevel)
	}
}

func (d *DatabaseConfig) validate() error {
	if strings.TrimSpace(d.Path) == "" {
		return fmt.Errorf("database.path cannot be empty")
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if strings.TrimSpace(s.CatalogPath) == "" {
		return fmt.Errorf("sync.catalog_path cannot be empty")
	}
	if s.IncrementalIntervalMinutes <= 0 {
		return fmt.Errorf("sync.incremental_interval_minutes must be > 0")
	}
	if s.GapDetectIntervalMinutes <= 0 {
		return fmt.Errorf("sync.gap_detect_interval_minutes must be > 0")
	}
	if s.AutoFillIntervalMinutes <= 0 {
		return fmt.Errorf("sync.auto_fill_interval_minutes must be > 0")
	}
	if s.SweepOffsetSeconds < 0 {
		return fmt.Errorf("sync.sweep_offset_seconds must be >= 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("market.sources requires at least one source")
	}
	enabled := 0
	seen := make(map[string]bool, len(m.Sources))
	for _, src := range m.Sources {
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if seen[name] {
			return fmt.Errorf("market source name duplicated: %s", src.Name)
		}
		seen[name] = true
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market source %s missing rest_base_url", src.Name)
		}
		if !validMarketTypes[src.MarketType] {
			return fmt.Errorf("market source %s has invalid market_type: %s", src.Name, src.MarketType)
		}
		if src.Proxy.Enabled && src.Proxy.RESTURL == "" && src.Proxy.WSURL == "" {
			return fmt.Errorf("market source %s has proxy enabled but no rest_url or ws_url", src.Name)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	return nil
}
