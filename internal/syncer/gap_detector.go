package syncer

import (
	"context"

	"chansync/internal/logger"
	"chansync/internal/market"
	"chansync/internal/store/model"
)

// toleranceMs absorbs exchange-side clock jitter: two candles whose spacing
// exceeds the interval by no more than this are still considered contiguous.
const toleranceMs = 1000

// Detector scans a series' timeline for discontinuities and persists
// non-overlapping gap records.
type Detector struct {
	store  Store
	filter *Filter
}

func NewDetector(store Store, filter *Filter) *Detector {
	return &Detector{store: store, filter: filter}
}

// Detect scans one (symbol, interval) series. An ineligible series yields a
// typed failure result, not an error; errors are reserved for store faults.
func (d *Detector) Detect(ctx context.Context, symbolID int64, interval string) (DetectResult, error) {
	if _, err := d.filter.CheckHistoryEligible(ctx, symbolID, interval); err != nil {
		return DetectResult{Success: false, Message: err.Error()}, nil
	}
	intervalMs, _ := market.IntervalMillis(interval)

	openTimes, err := d.store.ListOpenTimes(ctx, symbolID, interval)
	if err != nil {
		return DetectResult{}, err
	}
	result := DetectResult{Success: true}
	if len(openTimes) >= 2 {
		for i := 0; i+1 < len(openTimes); i++ {
			gap, ok := computeGap(symbolID, interval, openTimes[i], openTimes[i+1], intervalMs)
			if !ok {
				continue
			}
			overlaps, err := d.store.HasOverlappingGap(ctx, symbolID, interval, gap.GapStart, gap.GapEnd)
			if err != nil {
				return DetectResult{}, err
			}
			if overlaps {
				continue
			}
			if err := d.store.CreateGap(ctx, &gap); err != nil {
				return DetectResult{}, err
			}
			result.NewGapCount++
			result.Gaps = append(result.Gaps, gap)
		}
	}
	existing, err := d.store.ListGapsBySeries(ctx, symbolID, interval)
	if err != nil {
		return DetectResult{}, err
	}
	result.TotalGapCount = len(existing)
	return result, nil
}

// computeGap derives the missing span between two adjacent candles.
// Returns ok=false when the pair is contiguous or the span degenerates.
func computeGap(symbolID int64, interval string, current, next, intervalMs int64) (model.DataGapModel, bool) {
	actualGapMs := next - current
	if actualGapMs <= intervalMs+toleranceMs {
		return model.DataGapModel{}, false
	}
	missing := (actualGapMs - intervalMs) / intervalMs
	if missing <= 0 {
		return model.DataGapModel{}, false
	}
	gapStart := current + intervalMs
	gapEnd := next - intervalMs
	if gapStart > gapEnd {
		return model.DataGapModel{}, false
	}
	return model.DataGapModel{
		SymbolID:     symbolID,
		Interval:     interval,
		GapStart:     gapStart,
		GapEnd:       gapEnd,
		MissingCount: missing,
		Status:       model.GapStatusPending,
	}, true
}

// DetectAll sweeps every eligible series. A failing series is logged and
// counted, never aborting its siblings.
func (d *Detector) DetectAll(ctx context.Context) (DetectAllResult, error) {
	targets, err := d.filter.HistoryTargets(ctx)
	if err != nil {
		return DetectAllResult{}, err
	}
	var out DetectAllResult
	out.SymbolCount = len(targets)
	for _, target := range targets {
		for _, interval := range target.Intervals {
			out.IntervalCount++
			res, err := d.Detect(ctx, target.Symbol.ID, interval)
			if err != nil {
				out.FailedSeries++
				out.Failures = append(out.Failures, SeriesFailure{
					SymbolID: target.Symbol.ID,
					Interval: interval,
					Reason:   err.Error(),
				})
				logger.Warnf("detect: %s %s failed: %v", target.Symbol.Symbol, interval, err)
				continue
			}
			if !res.Success {
				out.FailedSeries++
				out.Failures = append(out.Failures, SeriesFailure{
					SymbolID: target.Symbol.ID,
					Interval: interval,
					Reason:   res.Message,
				})
				logger.Debugf("detect: %s %s ineligible: %s", target.Symbol.Symbol, interval, res.Message)
				continue
			}
			out.NewGapCount += res.NewGapCount
		}
	}
	if out.PendingGaps, err = d.store.CountGapsByStatus(ctx, model.GapStatusPending); err != nil {
		return out, err
	}
	if out.FillingGaps, err = d.store.CountGapsByStatus(ctx, model.GapStatusFilling); err != nil {
		return out, err
	}
	if out.FailedGaps, err = d.store.CountGapsByStatus(ctx, model.GapStatusFailed); err != nil {
		return out, err
	}
	return out, nil
}
