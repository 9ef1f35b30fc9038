package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go-graph-import/internal/model"
	"go-graph-import/internal/workflow"
)

// Stage names used in logs, stage metrics and error details
const (
	StageValidate  = "validate"
	StageFetch     = "fetch"
	StageProject   = "project"
	StagePartition = "partition"
	StageLoad      = "load"
	StageAggregate = "aggregate"
)

// StageTracker times the stages of one run and mirrors them onto its workflow
type StageTracker struct {
	mu      sync.Mutex
	machine *workflow.Machine
	log     *slog.Logger
	now     func() time.Time
	stages  map[string]*model.StageMetrics
}

func NewStageTracker(m *workflow.Machine, log *slog.Logger, now func() time.Time) *StageTracker {
	if now == nil {
		now = time.Now
	}
	return &StageTracker{machine: m, log: log, now: now, stages: make(map[string]*model.StageMetrics)}
}

// StartStage marks the start of a pipeline stage
func (t *StageTracker) StartStage(ctx context.Context, stage string, workerCount int) {
	t.mu.Lock()
	sm := &model.StageMetrics{Stage: stage, StartTime: t.now(), WorkerCount: workerCount, Status: "running"}
	t.stages[stage] = sm
	snap := *sm
	t.mu.Unlock()

	t.log.Info("stage started", "stage", stage, "workers", workerCount)
	t.machine.RecordStage(ctx, snap)
}

// Warned counts a warning against the stage.
func (t *StageTracker) Warned(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sm, ok := t.stages[stage]; ok {
		sm.WarningCount++
	}
}

// EndStage marks the end of a pipeline stage. A non-nil err marks it failed.
func (t *StageTracker) EndStage(ctx context.Context, stage string, recordsProcessed int64, err error) model.StageMetrics {
	t.mu.Lock()
	sm, ok := t.stages[stage]
	if !ok {
		sm = &model.StageMetrics{Stage: stage, StartTime: t.now()}
		t.stages[stage] = sm
	}
	end := t.now()
	sm.EndTime = &end
	sm.Duration = end.Sub(sm.StartTime)
	sm.RecordsProcessed = recordsProcessed
	if sm.Duration > 0 && recordsProcessed > 0 {
		sm.RecordsPerSecond = float64(recordsProcessed) / sm.Duration.Seconds()
	}
	sm.Status = "completed"
	if err != nil {
		sm.Status = "failed"
	}
	snap := *sm
	t.mu.Unlock()

	t.log.Info("stage finished", "stage", stage, "status", snap.Status, "records", recordsProcessed,
		"duration", snap.Duration, "warnings", snap.WarningCount)
	t.machine.RecordStage(ctx, snap)
	return snap
}

// Stage returns the metrics recorded for a stage.
func (t *StageTracker) Stage(stage string) (model.StageMetrics, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sm, ok := t.stages[stage]
	if !ok {
		return model.StageMetrics{}, false
	}
	return *sm, true
}
