package syncer

import "chansync/internal/store/model"

// DetectResult 是单序列缺口检测的结果。Success=false 表示序列不具备检测
// 资格（而非系统错误），Message 给出原因。
type DetectResult struct {
	Success       bool
	Message       string
	NewGapCount   int
	TotalGapCount int
	Gaps          []model.DataGapModel
}

// DetectAllResult aggregates a full detection sweep plus a live recount of
// gap states across all series. Failures itemizes every series counted in
// FailedSeries with its reason.
type DetectAllResult struct {
	SymbolCount   int
	IntervalCount int
	NewGapCount   int
	FailedSeries  int
	Failures      []SeriesFailure
	PendingGaps   int64
	FillingGaps   int64
	FailedGaps    int64
}

// FillResult 是单个缺口回补的结果。Skipped 表示因状态冲突或序列开关而
// 跳过，与真正的失败区分开。
type FillResult struct {
	GapID       int64
	Success     bool
	Skipped     bool
	SyncedCount int64
	Message     string
}

// BatchFillResult reports counts plus itemized outcomes, never just a bool.
type BatchFillResult struct {
	Disabled  bool
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
	Results   []FillResult
}

// SeriesFailure identifies one failed (symbol, interval) in a batch run.
type SeriesFailure struct {
	SymbolID int64
	Interval string
	Reason   string
}

// IncrementalSummary aggregates a catch-up sweep across all eligible series.
type IncrementalSummary struct {
	SymbolsProcessed int
	SeriesSucceeded  int
	SeriesFailed     int
	TotalSynced      int64
	Failures         []SeriesFailure
}
