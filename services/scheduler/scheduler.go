// Package schedsvc runs the periodic jobs of the API: the end-of-day attendance sweep.
package schedsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/attendance"
	"github.com/trezcool/academia/services/alert"
)

var nowFunc = time.Now // mockable

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

var _ cron.Logger = (*cronLogger)(nil)

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(fmt.Sprintf("cron: %s %v", msg, keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(fmt.Sprintf("cron: %s %v: %v", msg, keysAndValues, err), err)
}

type Scheduler struct {
	cron    *cron.Cron
	attSvc  attendance.Service
	alerter alertsvc.Alerter
	logger  core.Logger
	timeout time.Duration
}

// NewScheduler registers the sweep on conf.Attendance.SweepSchedule, evaluated in the academy time zone.
func NewScheduler(attSvc attendance.Service, alerter alertsvc.Alerter, logger core.Logger, conf *core.Config) (*Scheduler, error) {
	loc := conf.Attendance.Location
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		attSvc:  attSvc,
		alerter: alerter,
		logger:  logger,
		timeout: 10 * time.Minute,
	}
	if _, err := s.cron.AddFunc(conf.Attendance.SweepSchedule, s.sweepToday); err != nil {
		return nil, errors.Wrapf(err, "scheduling sweep %q", conf.Attendance.SweepSchedule)
	}
	return s, nil
}

func (s *Scheduler) sweepToday() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.Sweep(ctx, nowFunc())
}

// Sweep closes the day of t and reports the outcome to the alerter.
func (s *Scheduler) Sweep(ctx context.Context, t time.Time) (attendance.SweepSummary, error) {
	summary, err := s.attSvc.CloseDay(ctx, t)
	if err != nil {
		err = errors.Wrap(err, "closing day")
		s.logger.Error(fmt.Sprintf("schedsvc.Sweep(%s): %v", summary.Date, err), err)
		if aErr := s.alerter.Error(ctx, fmt.Sprintf("attendance sweep of %s failed: %v", summary.Date, err)); aErr != nil {
			s.logger.Warn(fmt.Sprintf("schedsvc: alerting: %v", aErr), aErr)
		}
		return summary, err
	}

	s.logger.Info("attendance sweep " + summary.String())
	if !summary.Skipped {
		if aErr := s.alerter.Info(ctx, "Attendance sweep "+summary.String()); aErr != nil {
			s.logger.Warn(fmt.Sprintf("schedsvc: alerting: %v", aErr), aErr)
		}
	}
	return summary, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled sweep.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
