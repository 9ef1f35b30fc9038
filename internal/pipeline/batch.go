package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go-graph-import/internal/model"
	"go-graph-import/internal/workflow"
)

// runTracker forwards a run's states to the status store and mirrors the
// run's status onto its request.
type runTracker struct {
	inner   workflow.Publisher
	request *workflow.Machine

	mu   sync.Mutex
	last map[string]model.Status
}

func (t *runTracker) Put(ctx context.Context, id string, state model.WorkflowState) error {
	var err error
	if t.inner != nil {
		err = t.inner.Put(ctx, id, state)
	}
	t.mu.Lock()
	changed := t.last[id] != state.Status
	t.last[id] = state.Status
	t.mu.Unlock()
	if changed && len(state.CobDates) == 1 {
		t.request.SetRun(ctx, model.RunRef{WorkflowID: id, CobDate: state.CobDates[0], Status: state.Status})
	}
	return err
}

// NewRequest validates batch and publishes a pending request workflow for it.
func (p *Pipeline) NewRequest(ctx context.Context, batch model.ImportBatch, opts ...workflow.Option) (*workflow.Machine, model.ImportBatch, error) {
	b, err := ValidateBatch(batch)
	if err != nil {
		return nil, model.ImportBatch{}, err
	}
	opts = append([]workflow.Option{workflow.WithLogger(p.log), workflow.WithClock(p.now)}, opts...)
	m := workflow.New(ctx, model.KindRequest, b.DomainType, b.DomainName, b.CobDates, p.status, opts...)
	return m, b, nil
}

// Execute runs the dates of a request one after another. The request ends
// Completed only if every run completed; otherwise it fails with the first
// run failure. A cancelled context stops before the next date starts.
func (p *Pipeline) Execute(ctx context.Context, req *workflow.Machine, batch model.ImportBatch, ro RunOptions) (model.WorkflowState, error) {
	log := p.log.With("workflow_id", req.ID())
	if err := req.Advance(ctx, model.StatusValidating, map[string]interface{}{"runs_requested": len(batch.CobDates)}); err != nil {
		return req.State(), err
	}
	tracker := &runTracker{inner: p.status, request: req, last: map[string]model.Status{}}

	status := model.StatusCompleted
	var firstErr error
	completed, failed := 0, 0
	for _, r := range batch.Requests() {
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = model.NewError(model.KindCancelled, "", "", r.CobDate, err)
			}
			status = model.StatusFailed
			req.SetRun(ctx, model.RunRef{CobDate: r.CobDate, Status: model.StatusFailed})
			failed++
			continue
		}
		st, err := p.run(ctx, r, req.ID(), ro, tracker)
		status = model.Worst(status, st.Status)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			log.Warn("run failed", "cob_date", r.CobDate, "error", err)
			continue
		}
		completed++
	}

	metrics := map[string]interface{}{"runs_completed": completed, "runs_failed": failed}
	if status == model.StatusFailed {
		req.Annotate(ctx, metrics)
		err := firstErr
		if e, ok := model.AsError(firstErr); ok {
			err = model.NewError(e.Kind, e.Code, e.Stage, e.Subject,
				fmt.Errorf("%d of %d runs of %s failed: %w", failed, len(batch.CobDates), batch.DomainName, firstErr))
		}
		if ferr := req.Fail(ctx, err); ferr != nil {
			log.Error("could not record request failure", "error", ferr)
		}
		return req.State(), err
	}
	if err := req.Complete(ctx, metrics); err != nil {
		return req.State(), err
	}
	return req.State(), nil
}

// RunBatch validates and executes a request synchronously.
func (p *Pipeline) RunBatch(ctx context.Context, batch model.ImportBatch, ro RunOptions) (model.WorkflowState, error) {
	req, b, err := p.NewRequest(ctx, batch)
	if err != nil {
		return model.WorkflowState{}, err
	}
	return p.Execute(ctx, req, b, ro)
}
