package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	cscfg "chansync/internal/config"
	cfgloader "chansync/internal/config/loader"
	"chansync/internal/gateway/binance"
	"chansync/internal/gateway/exchange"
	"chansync/internal/logger"
	"chansync/internal/store/gormstore"
	"chansync/internal/store/model"
	"chansync/internal/syncer"
	"chansync/internal/sysconfig"
)

type AppBuilder struct {
	cfg *cscfg.Config

	storeFn   func(string) (*gormstore.Store, error)
	catalogFn func(string) (*cfgloader.CatalogLoader, error)
	clientFn  func(binance.Config) (exchange.Client, error)
	streamFn  func(binance.Config, exchange.StreamHandlers) exchange.StreamManager
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *cscfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		storeFn:   gormstore.New,
		catalogFn: cfgloader.NewCatalogLoader,
		clientFn: func(bcfg binance.Config) (exchange.Client, error) {
			return binance.NewClient(bcfg)
		},
		streamFn: func(bcfg binance.Config, handlers exchange.StreamHandlers) exchange.StreamManager {
			return binance.NewStreamManager(bcfg, handlers)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	store, err := b.storeFn(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}

	catalog, err := b.catalogFn(cfg.Sync.CatalogPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("加载交易对目录失败: %w", err)
	}
	snapshot := catalog.Snapshot()
	if err := seedCatalog(ctx, store, snapshot); err != nil {
		store.Close()
		return nil, fmt.Errorf("写入交易对目录失败: %w", err)
	}
	logger.Infof("✓ 目录已就绪: %d 数据源 / %d 市场 / %d 交易对",
		len(snapshot.DataSources), len(snapshot.Markets), len(snapshot.Symbols))

	sysCfg := sysconfig.NewService(store)
	filter := syncer.NewFilter(store)
	registry := exchange.NewRegistry()
	realtime := syncer.NewRealtimeEngine(store, registry, filter, sysCfg)

	if err := b.registerGateways(registry, snapshot, realtime.Handlers()); err != nil {
		registry.CloseAll()
		store.Close()
		return nil, err
	}

	detector := syncer.NewDetector(store, filter)
	healer := syncer.NewHealer(store, registry, filter, sysCfg)
	history := syncer.NewHistoryEngine(store, registry, filter)

	sysCfg.OnRealtimeToggle(realtime.HandleRealtimeToggle)
	catalog.OnChange(func(snap cfgloader.CatalogSnapshot) {
		if err := seedCatalog(context.Background(), store, snap); err != nil {
			logger.Errorf("catalog hot reload: seed failed: %v", err)
			return
		}
		if sysCfg.RealtimeEnabled(context.Background()) {
			if _, err := realtime.StartAll(context.Background()); err != nil {
				logger.Warnf("catalog hot reload: restart realtime failed: %v", err)
			}
		}
	})

	return &App{
		cfg:      cfg,
		store:    store,
		catalog:  catalog,
		registry: registry,
		sysCfg:   sysCfg,
		detector: detector,
		healer:   healer,
		history:  history,
		realtime: realtime,
		Summary:  buildStartupSummary(cfg, snapshot),
	}, nil
}

// registerGateways 为目录中每个启用的数据源建立 REST 客户端与流管理器。
func (b *AppBuilder) registerGateways(registry *exchange.Registry, snapshot cfgloader.CatalogSnapshot, handlers exchange.StreamHandlers) error {
	registered := 0
	for _, ds := range snapshot.DataSources {
		if !ds.Enabled {
			continue
		}
		if !strings.EqualFold(ds.ExchangeType, exchange.ExchangeTypeBinance) {
			logger.Warnf("数据源 %s 的交易所类型 %s 暂不支持，跳过", ds.Name, ds.ExchangeType)
			continue
		}
		src, ok := b.cfg.Market.SourceByName(ds.Name)
		if !ok {
			return fmt.Errorf("数据源 %s 缺少 market.sources 接入配置", ds.Name)
		}
		bcfg := binance.Config{
			MarketType:   marketTypeFor(snapshot, ds.ID, src.MarketType),
			RESTBaseURL:  src.RESTBaseURL,
			ProxyEnabled: src.Proxy.Enabled,
			RESTProxyURL: src.Proxy.RESTURL,
			WSProxyURL:   src.Proxy.WSURL,
		}
		client, err := b.clientFn(bcfg)
		if err != nil {
			return fmt.Errorf("初始化 %s 客户端失败: %w", ds.Name, err)
		}
		registry.Register(ds.ID, client, b.streamFn(bcfg, handlers))
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("没有任何可用的数据源")
	}
	return nil
}

// marketTypeFor 优先采用目录中该数据源第一个启用市场的类型。
func marketTypeFor(snapshot cfgloader.CatalogSnapshot, dataSourceID int64, fallback string) string {
	for _, mkt := range snapshot.Markets {
		if mkt.DataSourceID == dataSourceID && mkt.Enabled {
			return mkt.MarketType
		}
	}
	return fallback
}

// seedCatalog 将目录快照 upsert 到存储，目录文件是唯一事实来源。
func seedCatalog(ctx context.Context, store *gormstore.Store, snapshot cfgloader.CatalogSnapshot) error {
	for _, ds := range snapshot.DataSources {
		err := store.SaveDataSource(ctx, &model.DataSourceModel{
			ID:           ds.ID,
			Name:         ds.Name,
			ExchangeType: ds.ExchangeType,
			Enabled:      ds.Enabled,
		})
		if err != nil {
			return err
		}
	}
	for _, mkt := range snapshot.Markets {
		err := store.SaveMarket(ctx, &model.MarketModel{
			ID:           mkt.ID,
			DataSourceID: mkt.DataSourceID,
			MarketType:   mkt.MarketType,
			Enabled:      mkt.Enabled,
		})
		if err != nil {
			return err
		}
	}
	for _, sym := range snapshot.Symbols {
		err := store.SaveSymbol(ctx, &model.SymbolModel{
			ID:              sym.ID,
			DataSourceID:    sym.DataSourceID,
			MarketID:        sym.MarketID,
			Symbol:          sym.Symbol,
			SyncEnabled:     sym.SyncEnabled,
			RealtimeEnabled: sym.RealtimeEnabled,
			SyncIntervals:   gormstore.EncodeIntervals(sym.Intervals),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func buildStartupSummary(cfg *cscfg.Config, snapshot cfgloader.CatalogSnapshot) *StartupSummary {
	series := make([]SeriesSummary, 0, len(snapshot.Symbols))
	for _, sym := range snapshot.Symbols {
		series = append(series, SeriesSummary{
			Symbol:    sym.Symbol,
			Intervals: append([]string(nil), sym.Intervals...),
			Sync:      sym.SyncEnabled,
			Realtime:  sym.RealtimeEnabled,
		})
	}
	return &StartupSummary{
		Env:          cfg.App.Env,
		DatabasePath: cfg.Database.Path,
		Schedules: ScheduleSummary{
			Incremental: time.Duration(cfg.Sync.IncrementalIntervalMinutes) * time.Minute,
			GapDetect:   time.Duration(cfg.Sync.GapDetectIntervalMinutes) * time.Minute,
			AutoFill:    time.Duration(cfg.Sync.AutoFillIntervalMinutes) * time.Minute,
			SweepOffset: time.Duration(cfg.Sync.SweepOffsetSeconds) * time.Second,
		},
		DataSources: len(snapshot.DataSources),
		Series:      series,
	}
}

func WithStoreFactory(fn func(string) (*gormstore.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.storeFn = fn
		}
	}
}

func WithCatalogLoader(fn func(string) (*cfgloader.CatalogLoader, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.catalogFn = fn
		}
	}
}

func WithExchangeFactories(
	clientFn func(binance.Config) (exchange.Client, error),
	streamFn func(binance.Config, exchange.StreamHandlers) exchange.StreamManager,
) AppBuilderOption {
	return func(b *AppBuilder) {
		if clientFn != nil {
			b.clientFn = clientFn
		}
		if streamFn != nil {
			b.streamFn = streamFn
		}
	}
}
