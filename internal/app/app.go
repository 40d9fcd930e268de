package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	cscfg "chansync/internal/config"
	cfgloader "chansync/internal/config/loader"
	"chansync/internal/gateway/exchange"
	"chansync/internal/logger"
	"chansync/internal/scheduler"
	"chansync/internal/store/gormstore"
	"chansync/internal/syncer"
	"chansync/internal/sysconfig"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动实时同步与后台扫描。
type App struct {
	cfg      *cscfg.Config
	store    *gormstore.Store
	catalog  *cfgloader.CatalogLoader
	registry *exchange.Registry
	sysCfg   *sysconfig.Service
	detector *syncer.Detector
	healer   *syncer.Healer
	history  *syncer.HistoryEngine
	realtime *syncer.RealtimeEngine

	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *cscfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动实时订阅、回补消费者与全部后台扫描，阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if a.Summary != nil {
		a.Summary.Print()
	}

	defer a.shutdown()

	a.probeConnections(ctx)

	if a.cfg.Sync.StartRealtimeOnBoot && a.sysCfg.RealtimeEnabled(ctx) {
		started, err := a.realtime.StartAll(ctx)
		if err != nil {
			logger.Warnf("启动实时订阅失败: %v", err)
		} else {
			logger.Infof("✓ 实时订阅已启动: %d 条", started)
		}
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return ignoreCancel(a.realtime.RunConsumer(ctx))
	})

	group.Go(func() error {
		sched := scheduler.NewAlignedScheduler(ctx,
			time.Duration(a.cfg.Sync.IncrementalIntervalMinutes)*time.Minute,
			time.Duration(a.cfg.Sync.SweepOffsetSeconds)*time.Second)
		sched.Start(a.runIncrementalSweep)
		return nil
	})

	group.Go(func() error {
		sched := scheduler.NewFixedDelayScheduler(ctx, "gap-detect",
			30*time.Second,
			time.Duration(a.cfg.Sync.GapDetectIntervalMinutes)*time.Minute)
		sched.Start(a.runGapDetectSweep)
		return nil
	})

	group.Go(func() error {
		sched := scheduler.NewFixedDelayScheduler(ctx, "gap-autofill",
			time.Minute,
			time.Duration(a.cfg.Sync.AutoFillIntervalMinutes)*time.Minute)
		sched.Start(a.runAutoFillSweep)
		return nil
	})

	return ignoreCancel(group.Wait())
}

func (a *App) runIncrementalSweep() {
	ctx := context.Background()
	if !a.sysCfg.HistoryAutoSyncEnabled(ctx) {
		logger.Debugf("incremental sweep: auto sync disabled, skip")
		return
	}
	summary, err := a.history.SyncAllIncremental(ctx)
	if err != nil {
		logger.Errorf("incremental sweep failed: %v", err)
		return
	}
	logger.Infof("incremental sweep: %d symbols, %d series ok, %d failed, %d klines",
		summary.SymbolsProcessed, summary.SeriesSucceeded, summary.SeriesFailed, summary.TotalSynced)
}

func (a *App) runGapDetectSweep() {
	result, err := a.detector.DetectAll(context.Background())
	if err != nil {
		logger.Errorf("gap detect sweep failed: %v", err)
		return
	}
	logger.Infof("gap detect sweep: %d symbols, %d new gaps (pending=%d filling=%d failed=%d)",
		result.SymbolCount, result.NewGapCount, result.PendingGaps, result.FillingGaps, result.FailedGaps)
}

func (a *App) runAutoFillSweep() {
	result, err := a.healer.AutoFill(context.Background())
	if err != nil {
		logger.Errorf("auto fill sweep failed: %v", err)
		return
	}
	if result.Disabled {
		logger.Debugf("auto fill sweep: disabled, skip")
		return
	}
	if result.Attempted > 0 {
		logger.Infof("auto fill sweep: attempted=%d ok=%d skipped=%d failed=%d",
			result.Attempted, result.Succeeded, result.Skipped, result.Failed)
	}
}

// probeConnections 启动时对每个数据源做一次连通性探测，失败不阻止启动。
func (a *App) probeConnections(ctx context.Context) {
	for _, id := range a.registry.DataSourceIDs() {
		client, ok := a.registry.ClientFor(id)
		if !ok {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		status := client.TestConnection(probeCtx)
		cancel()
		if status.Success {
			logger.Infof("数据源 %d 连接正常，延迟 %dms", id, status.LatencyMs)
		} else {
			logger.Warnf("数据源 %d 连接异常: %s", id, status.Message)
		}
	}
}

func (a *App) shutdown() {
	stopped := a.realtime.StopAll()
	if stopped > 0 {
		logger.Infof("已停止 %d 条实时订阅", stopped)
	}
	a.registry.CloseAll()
	if err := a.store.Close(); err != nil {
		logger.Warnf("关闭存储失败: %v", err)
	}
}

// RealtimeEngine exposes the underlying engine (for testing/replay harnesses).
func (a *App) RealtimeEngine() *syncer.RealtimeEngine {
	if a == nil {
		return nil
	}
	return a.realtime
}

// HistoryEngine exposes the underlying engine (for manual range syncs).
func (a *App) HistoryEngine() *syncer.HistoryEngine {
	if a == nil {
		return nil
	}
	return a.history
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
