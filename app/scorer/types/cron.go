package types

import (
	"context"
	"errors"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/repledger/pkg/ranking"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SetupScheduler registers the ranking and watchdog triggers. An empty schedule disables
// its trigger.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger) error {
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	if a.RankingSpec != "" {
		if _, err := a.Cron.AddFunc(a.RankingSpec, func() {
			rctx, cancel := context.WithTimeout(ctx, 25*time.Second)
			defer cancel()
			if err := a.StartRankings(rctx); err != nil {
				a.Logger.Warn("ranking trigger failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}
	if a.WatchdogSpec != "" {
		if _, err := a.Cron.AddFunc(a.WatchdogSpec, func() {
			rctx, cancel := context.WithTimeout(ctx, 25*time.Second)
			defer cancel()
			if _, err := a.Watchdog(rctx); err != nil {
				a.Logger.Warn("watchdog failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

// StartRankings starts every ranking family at once; chunk size comes from settings.
func (a *App) StartRankings(ctx context.Context) error {
	group := a.FamilyPool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, family := range ranking.Sets {
		group.SubmitErr(func() error {
			return a.Engine.Start(groupCtx, family, 0)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return err
	}
	return nil
}

// WatchdogReport is what one watchdog pass restarted.
type WatchdogReport struct {
	Restarted   []string `json:"restarted"`
	Rescheduled int      `json:"rescheduled_settles"`
}

// Watchdog resubmits every job whose last run failed, using the continuation it
// failed with, and re-arms Settle for senders that still hold unsettled records.
func (a *App) Watchdog(ctx context.Context) (WatchdogReport, error) {
	var report WatchdogReport
	tracker := a.Scheduler.Tracker()
	var errs []error
	for _, st := range tracker.Failed() {
		if err := a.Scheduler.Schedule(ctx, st.Job, 1); err != nil {
			errs = append(errs, err)
			continue
		}
		tracker.Clear(st.Owner)
		report.Restarted = append(report.Restarted, st.Owner)
		a.Logger.Info("restarted failed job",
			zap.String("owner", st.Owner),
			zap.String("kind", st.Kind),
			zap.String("last_error", st.LastErr))
	}
	n, err := a.Ledger.RescheduleUnsettled(ctx)
	report.Rescheduled = n
	if err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}
