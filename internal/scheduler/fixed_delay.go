package scheduler

import (
	"context"
	"time"

	"chansync/internal/logger"
)

// FixedDelayScheduler waits Delay between the end of one run and the start
// of the next, after an initial delay. Matches the cadence of background
// sweeps that must never overlap themselves.
type FixedDelayScheduler struct {
	Name         string
	InitialDelay time.Duration
	Delay        time.Duration

	ctx context.Context
}

func NewFixedDelayScheduler(ctx context.Context, name string, initialDelay, delay time.Duration) *FixedDelayScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &FixedDelayScheduler{
		Name:         name,
		InitialDelay: initialDelay,
		Delay:        delay,
		ctx:          ctx,
	}
}

func (s *FixedDelayScheduler) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("FixedDelayScheduler[%s]: task is nil, exit", s.Name)
		return
	}
	if s.Delay <= 0 {
		logger.Warnf("FixedDelayScheduler[%s]: invalid delay=%s, exit", s.Name, s.Delay)
		return
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if !s.sleep(s.InitialDelay) {
		return
	}
	for {
		task()
		if !s.sleep(s.Delay) {
			logger.Infof("FixedDelayScheduler[%s]: ctx done, exit", s.Name)
			return
		}
	}
}

func (s *FixedDelayScheduler) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
