package main

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/velvet-oracle/ritual/src/app/rituals"
)

// startLockSweeper schedules the stale active-attempt lock sweep. The
// returned scheduler must be shut down by the caller.
func startLockSweeper(ctx context.Context, svc *rituals.Service, every time.Duration, logger *zap.Logger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			released, err := svc.SweepStaleLocks(ctx)
			if err != nil {
				logger.Warn("lock sweep incomplete", zap.Int("released", released), zap.Error(err))
				return
			}
			if released > 0 {
				logger.Info("lock sweep released stale locks", zap.Int("released", released))
			}
		}),
		gocron.WithName("stale-lock-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	sched.Start()
	return sched, nil
}
