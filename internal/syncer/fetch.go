package syncer

import (
	"context"
	"fmt"
	"time"

	"chansync/internal/gateway/exchange"
)

const (
	// maxKlinesPerRequest 与交易所单页上限对齐。
	maxKlinesPerRequest = 1000
	// requestInterval throttles consecutive pages to respect rate limits.
	requestInterval = 200 * time.Millisecond
)

// pageFetch pulls [start, end] page by page and upserts each page
// immediately. The cursor advances to lastOpenTime+1ms; a short page or an
// empty page means the range is exhausted. Returns the written count and the
// max open time observed.
func pageFetch(ctx context.Context, client exchange.Client, store Store, symbolID int64, symbol, interval string, start, end int64) (int64, int64, error) {
	var synced, maxOpen int64
	cursor := start
	for cursor <= end {
		if ctx.Err() != nil {
			return synced, maxOpen, fmt.Errorf("同步已中断: %w", ctx.Err())
		}
		candles, err := client.GetKlines(ctx, symbol, interval, cursor, end, maxKlinesPerRequest)
		if err != nil {
			return synced, maxOpen, err
		}
		if len(candles) == 0 {
			break
		}
		written, err := store.BatchUpsertKlines(ctx, symbolID, interval, candles)
		if err != nil {
			return synced, maxOpen, err
		}
		synced += written
		last := candles[len(candles)-1].OpenTime
		if last > maxOpen {
			maxOpen = last
		}
		if len(candles) < maxKlinesPerRequest {
			break
		}
		cursor = last + 1
		if !sleepWithContext(ctx, requestInterval) {
			return synced, maxOpen, fmt.Errorf("同步已中断: %w", ctx.Err())
		}
	}
	return synced, maxOpen, nil
}
