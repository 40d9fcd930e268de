package market

import (
	"fmt"
	"strings"
	"time"
)

// 周期表是封闭词表：除下列周期外一律视为校验错误。
// 注意 "1m"（分钟）与 "1M"（月）大小写敏感，不可做小写归一。
var intervalMillis = map[string]int64{
	"1m":  60_000,
	"3m":  180_000,
	"5m":  300_000,
	"15m": 900_000,
	"30m": 1_800_000,
	"1h":  3_600_000,
	"2h":  7_200_000,
	"4h":  14_400_000,
	"6h":  21_600_000,
	"8h":  28_800_000,
	"12h": 43_200_000,
	"1d":  86_400_000,
	"3d":  259_200_000,
	"1w":  604_800_000,
	"1M":  2_592_000_000, // 按30天近似
}

var intervalOrder = []string{
	"1m", "3m", "5m", "15m", "30m",
	"1h", "2h", "4h", "6h", "8h", "12h",
	"1d", "3d", "1w", "1M",
}

// IntervalMillis returns the canonical duration of an interval code in
// milliseconds. The second return is false for codes outside the vocabulary.
func IntervalMillis(interval string) (int64, bool) {
	ms, ok := intervalMillis[strings.TrimSpace(interval)]
	return ms, ok
}

// IntervalDuration is IntervalMillis expressed as a time.Duration.
func IntervalDuration(interval string) (time.Duration, bool) {
	ms, ok := IntervalMillis(interval)
	if !ok {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// SupportedInterval reports whether the code is in the closed vocabulary.
func SupportedInterval(interval string) bool {
	_, ok := IntervalMillis(interval)
	return ok
}

// SupportedIntervals returns the vocabulary in ascending duration order.
func SupportedIntervals() []string {
	out := make([]string, len(intervalOrder))
	copy(out, intervalOrder)
	return out
}

// ValidateInterval returns a descriptive error for codes outside the vocabulary.
func ValidateInterval(interval string) error {
	interval = strings.TrimSpace(interval)
	if interval == "" {
		return fmt.Errorf("时间周期不能为空")
	}
	if !SupportedInterval(interval) {
		return fmt.Errorf("不支持的时间周期: %s", interval)
	}
	return nil
}
