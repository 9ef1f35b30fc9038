// Package scheduler submits recurring imports from the configured schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go-graph-import/internal/config"
	"go-graph-import/internal/model"
	"go-graph-import/internal/pipeline"
	"go-graph-import/internal/workflow"

	"github.com/robfig/cron/v3"
)

// StopTimeout bounds how long Stop waits for a firing schedule to submit
const StopTimeout = 15 * time.Second

// Submitter starts an import request; *pipeline.Manager satisfies it
type Submitter interface {
	Submit(ctx context.Context, batch model.ImportBatch, ro pipeline.RunOptions, opts ...workflow.Option) (model.WorkflowState, error)
}

type Scheduler struct {
	cronRunner *cron.Cron
	submitter  Submitter
	base       context.Context
	log        *slog.Logger
	entries    map[string]cron.EntryID
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLocation evaluates schedules in loc instead of the local time zone.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.cronRunner = newCron(loc)
	}
}

func newCron(loc *time.Location) *cron.Cron {
	return cron.New(
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		),
	)
}

// New ties submitted requests to base.
func New(base context.Context, submitter Submitter, log *slog.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		cronRunner: newCron(time.Local),
		submitter:  submitter,
		base:       base,
		log:        log,
		entries:    make(map[string]cron.EntryID),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CobDate is the business date a schedule firing at t imports.
func CobDate(t time.Time, offsetDays int) string {
	return t.AddDate(0, 0, -offsetDays).Format(model.CobDateLayout)
}

// Load registers every schedule. A bad schedule is skipped and reported;
// the others are still registered.
func (s *Scheduler) Load(schedules []config.Schedule) error {
	var errs []error
	for _, sc := range schedules {
		if err := s.Add(sc); err != nil {
			s.log.Error("schedule skipped", "schedule", sc.Name, "cron", sc.Cron, "error", err)
			errs = append(errs, err)
		}
	}
	s.log.Info("schedules loaded", "count", len(s.entries), "skipped", len(errs))
	return errors.Join(errs...)
}

// Add registers one schedule under its name.
func (s *Scheduler) Add(sc config.Schedule) error {
	if _, dup := s.entries[sc.Name]; dup {
		return fmt.Errorf("schedule %s already registered", sc.Name)
	}
	sched := sc
	id, err := s.cronRunner.AddFunc(sc.Cron, func() {
		if _, err := s.Trigger(s.base, sched, time.Now()); err != nil {
			s.log.Error("scheduled import not submitted", "schedule", sched.Name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s: invalid cron %q: %w", sc.Name, sc.Cron, err)
	}
	s.entries[sc.Name] = id
	return nil
}

// Trigger submits the import a schedule firing at t stands for.
func (s *Scheduler) Trigger(ctx context.Context, sc config.Schedule, t time.Time) (model.WorkflowState, error) {
	cob := CobDate(t, sc.CobOffsetDays)
	batch := model.ImportBatch{DomainType: sc.DomainType, DomainName: sc.DomainName, CobDates: []string{cob}}
	st, err := s.submitter.Submit(ctx, batch, pipeline.RunOptions{}, workflow.WithMetrics(map[string]interface{}{"schedule": sc.Name}))
	if err != nil {
		return model.WorkflowState{}, err
	}
	s.log.Info("scheduled import submitted", "schedule", sc.Name, "workflow_id", st.ID, "cob_date", cob)
	return st, nil
}

// Next reports when a registered schedule fires next.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cronRunner.Entry(id).Next, true
}

// Len is the number of registered schedules.
func (s *Scheduler) Len() int {
	return len(s.cronRunner.Entries())
}

func (s *Scheduler) Start() {
	s.cronRunner.Start()
	s.log.Info("scheduler started", "schedules", len(s.entries))
}

// Stop waits for running jobs, at most until ctx ends or StopTimeout passes.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cronRunner.Stop()
	ctx, cancel := context.WithTimeout(ctx, StopTimeout)
	defer cancel()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out", "error", ctx.Err())
	}
}
