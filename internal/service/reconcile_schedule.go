package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// ScheduleReconcile runs Reconcile on cronExpr until ctx is done or the
// returned stop func is called. A six-field expression has a seconds column.
// Runs never overlap; a tick that lands during a run is skipped.
func (p *Provisioner) ScheduleReconcile(ctx context.Context, cronExpr string) (stop func(), err error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create cron scheduler: %w", err)
	}

	withSeconds := len(strings.Fields(cronExpr)) == 6
	_, err = s.NewJob(
		gocron.CronJob(cronExpr, withSeconds),
		gocron.NewTask(func() {
			if ctx.Err() != nil {
				return
			}
			if err := p.Reconcile(ctx); err != nil {
				p.log.Warn("scheduled reconcile finished with errors", zap.Error(err))
			}
		}),
		gocron.WithName("reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("create scheduled job reconcile: %w", err)
	}

	s.Start()
	p.log.Info("reconcile scheduled", zap.String("cron", cronExpr))

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		if err := s.Shutdown(); err != nil {
			p.log.Warn("cron scheduler shutdown", zap.Error(err))
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}
