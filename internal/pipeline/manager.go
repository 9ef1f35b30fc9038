package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"go-graph-import/internal/model"
	"go-graph-import/internal/workflow"
)

// StateReader reads persisted workflow states
type StateReader interface {
	Get(ctx context.Context, id string) (model.WorkflowState, error)
}

// Manager runs requests in the background and keeps a cancel handle for each.
type Manager struct {
	pipeline *Pipeline
	states   StateReader
	log      *slog.Logger
	base     context.Context

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager ties background requests to base; cancelling base cancels them all.
func NewManager(base context.Context, p *Pipeline, states StateReader, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{pipeline: p, states: states, log: log, base: base, active: make(map[string]context.CancelFunc)}
}

// Submit validates batch, publishes the pending request and starts it.
func (m *Manager) Submit(ctx context.Context, batch model.ImportBatch, ro RunOptions, opts ...workflow.Option) (model.WorkflowState, error) {
	req, b, err := m.pipeline.NewRequest(ctx, batch, opts...)
	if err != nil {
		return model.WorkflowState{}, err
	}
	runCtx, cancel := context.WithCancel(m.base)
	id := req.ID()

	m.mu.Lock()
	m.active[id] = cancel
	m.mu.Unlock()
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.active, id)
			m.mu.Unlock()
			cancel()
		}()
		st, err := m.pipeline.Execute(runCtx, req, b, ro)
		if err != nil {
			m.log.Warn("request failed", "workflow_id", id, "status", st.Status, "error", err)
			return
		}
		m.log.Info("request completed", "workflow_id", id, "runs", len(st.Runs))
	}()
	return req.State(), nil
}

// Cancel stops a running request. It reports false for unknown or finished ids.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	cancel, ok := m.active[id]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active lists ids of requests still executing.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.active))
	for id := range m.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Retry submits a new request for the failed dates of a failed request.
// Every failure must be retryable; the new request records retry_of.
func (m *Manager) Retry(ctx context.Context, id string, ro RunOptions) (model.WorkflowState, error) {
	st, err := m.states.Get(ctx, id)
	if err != nil {
		return model.WorkflowState{}, err
	}
	if st.Kind != model.KindRequest {
		return model.WorkflowState{}, model.Errorf(model.KindConfiguration, model.CodeInvalidRequest, "", id, "%s is a run, retry its request %s", id, st.ParentID)
	}
	if st.Status != model.StatusFailed {
		return model.WorkflowState{}, model.Errorf(model.KindInvalidTransition, model.CodeNotRetryable, "", id, "request is %s, only failed requests can be retried", st.Status)
	}
	dates, err := m.retryableDates(ctx, st)
	if err != nil {
		return model.WorkflowState{}, err
	}
	batch := model.ImportBatch{DomainType: st.DomainType, DomainName: st.DomainName, CobDates: dates}
	next, err := m.Submit(ctx, batch, ro, workflow.WithMetrics(map[string]interface{}{"retry_of": id}))
	if err != nil {
		return model.WorkflowState{}, err
	}
	m.log.Info("request retried", "workflow_id", next.ID, "retry_of", id, "cob_dates", dates)
	return next, nil
}

func (m *Manager) retryableDates(ctx context.Context, st model.WorkflowState) ([]string, error) {
	notRetryable := func(subject string, d *model.ErrorDetail) error {
		msg := "failure is not retryable"
		if d != nil {
			msg = d.Message
		}
		return model.Errorf(model.KindInvalidTransition, model.CodeNotRetryable, "", subject, "%s", msg)
	}
	if len(st.Runs) == 0 {
		if st.Error == nil || !st.Error.Retryable {
			return nil, notRetryable(st.ID, st.Error)
		}
		return st.CobDates, nil
	}
	var dates []string
	for _, ref := range st.Runs {
		if ref.Status == model.StatusCompleted {
			continue
		}
		if ref.WorkflowID != "" {
			run, err := m.states.Get(ctx, ref.WorkflowID)
			if err != nil {
				return nil, err
			}
			if run.Error != nil && !run.Error.Retryable {
				return nil, notRetryable(ref.CobDate, run.Error)
			}
		}
		dates = append(dates, ref.CobDate)
	}
	if len(dates) == 0 {
		return nil, notRetryable(st.ID, st.Error)
	}
	return dates, nil
}

// Shutdown cancels running requests and waits for them to record their final state.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, cancel := range m.active {
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
