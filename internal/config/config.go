package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取主配置并套用默认值与校验。文件可通过顶层 include 键引入
// 其它文件：被引入者先合并，引用者后合并并覆盖同名键。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	files, err := includeChain(abs, map[string]bool{}, map[string]bool{})
	if err != nil {
		return nil, err
	}

	merged := viper.New()
	merged.SetConfigType("yaml")
	for _, file := range files {
		part := viper.New()
		part.SetConfigFile(file)
		if err := part.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
		if err := merged.MergeConfigMap(part.AllSettings()); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}

	var cfg Config
	if err := merged.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}

	set := make(keySet)
	markSetKeys("", merged.AllSettings(), set)
	cfg.applyDefaults(set)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// includeChain 深度优先展开 include 级联。每个文件只出现一次，
// 环引用直接报错。
func includeChain(path string, done, visiting map[string]bool) ([]string, error) {
	path = filepath.Clean(path)
	if visiting[path] {
		return nil, fmt.Errorf("include cycle detected: %s", path)
	}
	if done[path] {
		return nil, nil
	}
	visiting[path] = true
	defer delete(visiting, path)

	includes, err := readIncludes(path)
	if err != nil {
		return nil, fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	var chain []string
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		sub, err := includeChain(inc, done, visiting)
		if err != nil {
			return nil, err
		}
		chain = append(chain, sub...)
	}
	done[path] = true
	return append(chain, path), nil
}

func readIncludes(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}

	var items []any
	switch val := raw.(type) {
	case []any:
		items = val
	case []string:
		for _, s := range val {
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("include must be a string array")
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

// markSetKeys 展平配置树，记录文件中显式出现过的键路径，
// 供默认值逻辑区分「没写」与「写了零值」。
func markSetKeys(prefix string, node any, dest keySet) {
	join := func(k string) string {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			if key := join(k); key != "" {
				markSetKeys(key, v, dest)
			}
		}
	case map[any]any:
		for k, v := range val {
			str, ok := k.(string)
			if !ok {
				continue
			}
			if key := join(str); key != "" {
				markSetKeys(key, v, dest)
			}
		}
	case []any:
		dest.mark(prefix)
		for _, item := range val {
			markSetKeys(prefix, item, dest)
		}
	default:
		dest.mark(prefix)
	}
}
