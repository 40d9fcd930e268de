// Package logger 在 log/slog 之上封装 printf 风格的包级入口，
// 输出目标与级别均可在运行期切换，进程启动阶段先落到 stdout。
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

var (
	// level 的零值即 Info，由所有 handler 共享。
	level slog.LevelVar

	mu   sync.RWMutex
	root = textLogger(os.Stdout)
)

func textLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// SetOutput 切换日志落点，已生效的级别保持不变。
func SetOutput(w io.Writer) {
	mu.Lock()
	root = textLogger(w)
	mu.Unlock()
}

// SetLevel 接受 debug/info/warn/error（大小写不敏感），无法识别时回落 Info。
func SetLevel(name string) {
	level.Set(parseLevel(name))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

func Debugf(format string, v ...any) { current().Debug(fmt.Sprintf(format, v...)) }

func Infof(format string, v ...any) { current().Info(fmt.Sprintf(format, v...)) }

func Warnf(format string, v ...any) { current().Warn(fmt.Sprintf(format, v...)) }

func Errorf(format string, v ...any) { current().Error(fmt.Sprintf(format, v...)) }
