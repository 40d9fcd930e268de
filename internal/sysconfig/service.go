// Package sysconfig exposes the read-mostly runtime switches stored in the
// system_configs table behind a TTL cache, so hot paths (stream callbacks,
// schedulers) don't hit the database on every check.
package sysconfig

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"chansync/internal/logger"
)

const (
	KeyRealtimeEnabled        = "sync.realtime.enabled"
	KeyAutoGapFillEnabled     = "sync.gap.auto_fill_enabled"
	KeyHistoryAutoSyncEnabled = "sync.history.auto_enabled"
	KeyGapFillBatchSize       = "sync.gap.batch_size"
	KeyGapFillMaxRetries      = "sync.gap.max_retries"
	KeyGapFillDelayMs         = "sync.gap.fill_delay_ms"
)

const (
	defaultTTL         = 60 * time.Second
	defaultBatchSize   = 10
	defaultMaxRetries  = 3
	defaultFillDelayMs = 1000
)

// Provider 是同步引擎消费的配置视图，测试可替换为无缓存实现。
type Provider interface {
	RealtimeEnabled(ctx context.Context) bool
	AutoGapFillEnabled(ctx context.Context) bool
	HistoryAutoSyncEnabled(ctx context.Context) bool
	GapFillBatchSize(ctx context.Context) int
	GapFillMaxRetries(ctx context.Context) int
	GapFillDelay(ctx context.Context) time.Duration

	Set(ctx context.Context, key, value string) error
	Invalidate()
}

type kvStore interface {
	GetConfigValue(ctx context.Context, key string) (string, bool, error)
	SetConfigValue(ctx context.Context, key, value, description string) error
}

type cachedValue struct {
	value    string
	found    bool
	loadedAt time.Time
}

// Service is the read-through TTL cache implementation of Provider.
type Service struct {
	store kvStore
	ttl   time.Duration
	nowFn func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedValue

	listenerMu        sync.Mutex
	realtimeListeners []func(enabled bool)
}

func NewService(store kvStore) *Service {
	return &Service{
		store: store,
		ttl:   defaultTTL,
		nowFn: time.Now,
		cache: make(map[string]cachedValue),
	}
}

// OnRealtimeToggle registers a callback fired synchronously whenever the
// realtime switch value changes through Set. Register once at startup.
func (s *Service) OnRealtimeToggle(fn func(enabled bool)) {
	if s == nil || fn == nil {
		return
	}
	s.listenerMu.Lock()
	s.realtimeListeners = append(s.realtimeListeners, fn)
	s.listenerMu.Unlock()
}

func (s *Service) RealtimeEnabled(ctx context.Context) bool {
	return s.boolValue(ctx, KeyRealtimeEnabled, true)
}

func (s *Service) AutoGapFillEnabled(ctx context.Context) bool {
	return s.boolValue(ctx, KeyAutoGapFillEnabled, true)
}

func (s *Service) HistoryAutoSyncEnabled(ctx context.Context) bool {
	return s.boolValue(ctx, KeyHistoryAutoSyncEnabled, true)
}

func (s *Service) GapFillBatchSize(ctx context.Context) int {
	return s.intValue(ctx, KeyGapFillBatchSize, defaultBatchSize)
}

func (s *Service) GapFillMaxRetries(ctx context.Context) int {
	return s.intValue(ctx, KeyGapFillMaxRetries, defaultMaxRetries)
}

func (s *Service) GapFillDelay(ctx context.Context) time.Duration {
	ms := s.intValue(ctx, KeyGapFillDelayMs, defaultFillDelayMs)
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Set writes through to the store, invalidates the cached entry, and fires
// the realtime listeners when the realtime switch flipped.
func (s *Service) Set(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	prevEnabled := false
	isRealtimeKey := key == KeyRealtimeEnabled
	if isRealtimeKey {
		prevEnabled = s.RealtimeEnabled(ctx)
	}
	if err := s.store.SetConfigValue(ctx, key, value, ""); err != nil {
		return err
	}
	s.invalidateKey(key)
	if isRealtimeKey {
		newEnabled := s.RealtimeEnabled(ctx)
		if newEnabled != prevEnabled {
			s.fireRealtimeToggle(newEnabled)
		}
	}
	return nil
}

// Invalidate drops every cached entry.
func (s *Service) Invalidate() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.cache = make(map[string]cachedValue)
	s.mu.Unlock()
}

func (s *Service) fireRealtimeToggle(enabled bool) {
	s.listenerMu.Lock()
	listeners := make([]func(bool), len(s.realtimeListeners))
	copy(listeners, s.realtimeListeners)
	s.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(enabled)
	}
}

func (s *Service) invalidateKey(key string) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
}

func (s *Service) rawValue(ctx context.Context, key string) (string, bool) {
	now := s.nowFn()
	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && now.Sub(entry.loadedAt) < s.ttl {
		return entry.value, entry.found
	}
	value, found, err := s.store.GetConfigValue(ctx, key)
	if err != nil {
		logger.Warnf("sysconfig: load %s failed: %v", key, err)
		if ok {
			// Stale beats nothing while the store is unavailable.
			return entry.value, entry.found
		}
		return "", false
	}
	s.mu.Lock()
	s.cache[key] = cachedValue{value: value, found: found, loadedAt: now}
	s.mu.Unlock()
	return value, found
}

func (s *Service) boolValue(ctx context.Context, key string, fallback bool) bool {
	raw, found := s.rawValue(ctx, key)
	if !found {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

func (s *Service) intValue(ctx context.Context, key string, fallback int) int {
	raw, found := s.rawValue(ctx, key)
	if !found {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return n
}
