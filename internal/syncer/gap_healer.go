package syncer

import (
	"context"
	"fmt"

	"chansync/internal/gateway/exchange"
	"chansync/internal/logger"
	"chansync/internal/store/model"
	"chansync/internal/sysconfig"
)

// Healer drives gaps through their state machine:
//
//	PENDING --start--> FILLING --success--> FILLED (terminal)
//	FILLING --failure, retries remain--> PENDING
//	FILLING --failure, retries exhausted--> FAILED
//	FAILED  --manual reset--> PENDING
type Healer struct {
	store    Store
	registry *exchange.Registry
	filter   *Filter
	cfg      sysconfig.Provider
}

func NewHealer(store Store, registry *exchange.Registry, filter *Filter, cfg sysconfig.Provider) *Healer {
	return &Healer{store: store, registry: registry, filter: filter, cfg: cfg}
}

// FillGap heals one gap. Status conflicts come back as skipped results with
// a status-specific message; upstream failures feed the retry budget.
func (h *Healer) FillGap(ctx context.Context, gapID int64) (FillResult, error) {
	gap, err := h.store.GetGap(ctx, gapID)
	if err != nil {
		return FillResult{GapID: gapID}, err
	}
	switch gap.Status {
	case model.GapStatusFilled:
		return FillResult{GapID: gapID, Skipped: true, Message: "缺口已回补完成，无需重复回补"}, nil
	case model.GapStatusFilling:
		return FillResult{GapID: gapID, Skipped: true, Message: "缺口正在回补中"}, nil
	case model.GapStatusFailed:
		return FillResult{GapID: gapID, Skipped: true, Message: "缺口回补已失败，请先重置后再回补"}, nil
	case model.GapStatusPending:
	default:
		return FillResult{GapID: gapID}, fmt.Errorf("缺口状态非法: %s", gap.Status)
	}

	sym, err := h.filter.CheckHistoryEligible(ctx, gap.SymbolID, gap.Interval)
	if err != nil {
		return FillResult{GapID: gapID, Skipped: true, Message: err.Error()}, nil
	}
	client, ok := h.registry.ClientFor(sym.DataSourceID)
	if !ok {
		return FillResult{GapID: gapID}, fmt.Errorf("数据源客户端未注册: id=%d", sym.DataSourceID)
	}

	claimed, err := h.store.ClaimGap(ctx, gapID)
	if err != nil {
		return FillResult{GapID: gapID}, err
	}
	if !claimed {
		// A concurrent fill won the claim between our status read and now.
		return FillResult{GapID: gapID, Skipped: true, Message: "缺口正在回补中"}, nil
	}

	maxRetries := h.cfg.GapFillMaxRetries(ctx)
	task := &model.SyncTaskModel{
		SymbolID:   gap.SymbolID,
		Interval:   gap.Interval,
		TaskType:   model.TaskTypeGapFill,
		StartTime:  &gap.GapStart,
		EndTime:    &gap.GapEnd,
		MaxRetries: maxRetries,
	}
	if err := h.store.CreateSyncTask(ctx, task); err != nil {
		h.releaseClaim(gap, maxRetries, err)
		return FillResult{GapID: gapID}, err
	}
	if err := h.store.StartSyncTask(ctx, task.ID); err != nil {
		h.releaseClaim(gap, maxRetries, err)
		return FillResult{GapID: gapID}, err
	}

	synced, maxOpen, fetchErr := pageFetch(ctx, client, h.store, gap.SymbolID, sym.Symbol, gap.Interval, gap.GapStart, gap.GapEnd)
	if fetchErr != nil {
		// ctx 可能已在拉取途中被取消；失败簿记必须落库，否则缺口滞留 FILLING。
		bkCtx := context.WithoutCancel(ctx)
		if err := h.store.FailSyncTask(bkCtx, task.ID, fetchErr.Error()); err != nil {
			logger.Warnf("healer: fail task %d: %v", task.ID, err)
		}
		return h.recordFailure(bkCtx, gap, maxRetries, fetchErr)
	}

	if err := h.store.MarkGapFilled(ctx, gapID); err != nil {
		return FillResult{GapID: gapID}, err
	}
	if err := h.store.CompleteSyncTask(ctx, task.ID, synced); err != nil {
		logger.Warnf("healer: complete task %d: %v", task.ID, err)
	}
	if synced > 0 {
		if err := h.store.AdvanceSyncStatus(ctx, gap.SymbolID, gap.Interval, maxOpen, synced); err != nil {
			logger.Warnf("healer: advance status %d %s: %v", gap.SymbolID, gap.Interval, err)
		}
	}
	logger.Infof("healer: gap %d filled, %d klines", gapID, synced)
	return FillResult{GapID: gapID, Success: true, SyncedCount: synced, Message: "回补成功"}, nil
}

// releaseClaim returns a claimed gap to the retry ladder when the fill could
// not even start. Bookkeeping runs detached from the caller's context.
func (h *Healer) releaseClaim(gap *model.DataGapModel, maxRetries int, cause error) {
	if _, err := h.recordFailure(context.Background(), gap, maxRetries, cause); err != nil {
		logger.Warnf("healer: release gap %d: %v", gap.ID, err)
	}
}

// recordFailure applies the bounded retry policy: back to PENDING while
// retries remain, FAILED once exhausted. The error message is always kept.
func (h *Healer) recordFailure(ctx context.Context, gap *model.DataGapModel, maxRetries int, cause error) (FillResult, error) {
	newCount := gap.RetryCount + 1
	next := model.GapStatusPending
	if newCount >= maxRetries {
		next = model.GapStatusFailed
	}
	if err := h.store.RecordGapFailure(ctx, gap.ID, newCount, next, cause.Error()); err != nil {
		return FillResult{GapID: gap.ID}, err
	}
	logger.Warnf("healer: gap %d fill failed (retry %d/%d, next=%s): %v", gap.ID, newCount, maxRetries, next, cause)
	return FillResult{GapID: gap.ID, Message: fmt.Sprintf("回补失败: %v", cause)}, nil
}

// BatchFill processes the given gaps sequentially with the configured
// inter-item delay. One failure never aborts the batch.
func (h *Healer) BatchFill(ctx context.Context, gapIDs []int64) BatchFillResult {
	out := BatchFillResult{Attempted: len(gapIDs)}
	delay := h.cfg.GapFillDelay(ctx)
	for i, id := range gapIDs {
		if i > 0 && !sleepWithContext(ctx, delay) {
			break
		}
		res, err := h.FillGap(ctx, id)
		if err != nil {
			res = FillResult{GapID: id, Message: err.Error()}
		}
		out.Results = append(out.Results, res)
		switch {
		case res.Success:
			out.Succeeded++
		case res.Skipped:
			out.Skipped++
		default:
			out.Failed++
		}
	}
	return out
}

// AutoFill heals up to the configured batch of PENDING gaps, honoring both
// the global auto-heal switch and each series' own flag.
func (h *Healer) AutoFill(ctx context.Context) (BatchFillResult, error) {
	if !h.cfg.AutoGapFillEnabled(ctx) {
		return BatchFillResult{Disabled: true}, nil
	}
	batch := h.cfg.GapFillBatchSize(ctx)
	gaps, err := h.store.ListGapsByStatus(ctx, model.GapStatusPending, batch)
	if err != nil {
		return BatchFillResult{}, err
	}
	out := BatchFillResult{Attempted: len(gaps)}
	delay := h.cfg.GapFillDelay(ctx)
	for i, gap := range gaps {
		if i > 0 && !sleepWithContext(ctx, delay) {
			break
		}
		status, err := h.store.GetSyncStatus(ctx, gap.SymbolID, gap.Interval)
		if err != nil {
			out.Failed++
			out.Results = append(out.Results, FillResult{GapID: gap.ID, Message: err.Error()})
			continue
		}
		if status != nil && !status.AutoGapFillEnabled {
			out.Skipped++
			out.Results = append(out.Results, FillResult{GapID: gap.ID, Skipped: true, Message: "该序列已关闭自动回补"})
			continue
		}
		res, err := h.FillGap(ctx, gap.ID)
		if err != nil {
			res = FillResult{GapID: gap.ID, Message: err.Error()}
		}
		out.Results = append(out.Results, res)
		switch {
		case res.Success:
			out.Succeeded++
		case res.Skipped:
			out.Skipped++
		default:
			out.Failed++
		}
	}
	return out, nil
}

// ResetFailedGap is the manual FAILED→PENDING transition. Any other source
// state is rejected.
func (h *Healer) ResetFailedGap(ctx context.Context, gapID int64) error {
	gap, err := h.store.GetGap(ctx, gapID)
	if err != nil {
		return err
	}
	if gap.Status != model.GapStatusFailed {
		return fmt.Errorf("仅 FAILED 状态的缺口可以重置，当前状态: %s", gap.Status)
	}
	reset, err := h.store.ResetFailedGap(ctx, gapID)
	if err != nil {
		return err
	}
	if !reset {
		return fmt.Errorf("缺口重置失败: id=%d 状态已变化", gapID)
	}
	return nil
}
