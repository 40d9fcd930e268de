package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type StartupSummary struct {
	Env          string
	DatabasePath string
	Schedules    ScheduleSummary
	DataSources  int
	Series       []SeriesSummary
}

type ScheduleSummary struct {
	Incremental time.Duration `yaml:"incremental"`
	GapDetect   time.Duration `yaml:"gap_detect"`
	AutoFill    time.Duration `yaml:"auto_fill"`
	SweepOffset time.Duration `yaml:"sweep_offset"`
}

type SeriesSummary struct {
	Symbol    string
	Intervals []string
	Sync      bool
	Realtime  bool
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[运行环境 (RUNTIME)]")
	fmt.Printf("  环境: %s\n", s.Env)
	fmt.Printf("  数据库: %s\n", s.DatabasePath)
	fmt.Printf("  数据源数: %d\n", s.DataSources)
	fmt.Println()

	fmt.Println("[调度计划 (SCHEDULES)]")
	if dump, err := yaml.Marshal(s.Schedules); err == nil {
		for _, line := range strings.Split(strings.TrimRight(string(dump), "\n"), "\n") {
			fmt.Printf("  %s\n", line)
		}
	}
	fmt.Println()

	fmt.Println("[同步序列 (SYNC SERIES)]")
	if len(s.Series) == 0 {
		fmt.Println("  (无配置)")
	} else {
		series := append([]SeriesSummary(nil), s.Series...)
		sort.Slice(series, func(i, j int) bool { return series[i].Symbol < series[j].Symbol })
		for _, item := range series {
			flags := make([]string, 0, 2)
			if item.Sync {
				flags = append(flags, "历史")
			}
			if item.Realtime {
				flags = append(flags, "实时")
			}
			if len(flags) == 0 {
				flags = append(flags, "停用")
			}
			fmt.Printf("  > %s [%s] 周期: %s\n", item.Symbol, strings.Join(flags, "+"), formatList(item.Intervals))
		}
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
