// Package workflow drives one import run (or one multi-date request)
// through its lifecycle and publishes every transition.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go-graph-import/internal/model"

	"github.com/google/uuid"
)

// Publisher receives the full state after every transition.
type Publisher interface {
	Put(ctx context.Context, id string, state model.WorkflowState) error
}

// Machine is safe for concurrent use; the pipeline advances it while the API reads it.
type Machine struct {
	mu    sync.RWMutex
	state model.WorkflowState
	seq   uint64
	pub   Publisher
	log   *slog.Logger
	now   func() time.Time

	pubMu     sync.Mutex
	published uint64
}

// Option configures a Machine
type Option func(*Machine)

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithID fixes the workflow id instead of generating one.
func WithID(id string) Option {
	return func(m *Machine) { m.state.ID = id }
}

// WithParent links a run to its request.
func WithParent(id string) Option {
	return func(m *Machine) { m.state.ParentID = id }
}

// WithMetrics seeds the initial metrics.
func WithMetrics(metrics map[string]interface{}) Option {
	return func(m *Machine) {
		for k, v := range metrics {
			m.state.Metrics[k] = v
		}
	}
}

// New creates a machine in Pending and publishes the initial state.
func New(ctx context.Context, kind model.WorkflowKind, domainType, domainName string, cobDates []string, pub Publisher, opts ...Option) *Machine {
	m := &Machine{
		pub: pub,
		log: slog.Default(),
		now: func() time.Time { return time.Now().UTC() },
		state: model.WorkflowState{
			Kind:       kind,
			DomainType: domainType,
			DomainName: domainName,
			CobDates:   append([]string(nil), cobDates...),
			Status:     model.StatusPending,
			Metrics:    make(map[string]interface{}),
		},
	}
	for _, o := range opts {
		o(m)
	}
	if m.state.ID == "" {
		m.state.ID = uuid.New().String()
	}
	at := m.now()
	m.state.CreatedAt = at
	m.state.UpdatedAt = at
	m.log = m.log.With("workflow_id", m.state.ID)

	snap, seq := m.snapshotLocked()
	m.publish(ctx, snap, seq)
	return m
}

func (m *Machine) ID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ID
}

func (m *Machine) Status() model.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Status
}

// State returns a snapshot.
func (m *Machine) State() model.WorkflowState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

func invalid(from, to model.Status) error {
	return model.Errorf(model.KindInvalidTransition, "", "", string(from), "cannot move from %s to %s", from, to)
}

// Advance moves strictly forward, skipping intermediate states if needed.
// metrics is merged into the state and recorded with the transition.
func (m *Machine) Advance(ctx context.Context, to model.Status, metrics map[string]interface{}) error {
	m.mu.Lock()
	from := m.state.Status
	if from.Terminal() || to == model.StatusFailed {
		m.mu.Unlock()
		return invalid(from, to)
	}
	fo, _ := from.Order()
	to2, ok := to.Order()
	if !ok || to2 <= fo {
		m.mu.Unlock()
		return invalid(from, to)
	}
	m.transitionLocked(to, metrics)
	snap, seq := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Info("workflow transition", "from", from, "to", to)
	m.publish(ctx, snap, seq)
	return nil
}

// Complete is Advance to Completed.
func (m *Machine) Complete(ctx context.Context, metrics map[string]interface{}) error {
	return m.Advance(ctx, model.StatusCompleted, metrics)
}

// Fail moves any non-terminal state to Failed and records err as the fatal error.
// Failing an already failed workflow keeps the first error and records err as a warning.
func (m *Machine) Fail(ctx context.Context, err error) error {
	if err == nil {
		err = fmt.Errorf("unspecified failure")
	}
	m.mu.Lock()
	from := m.state.Status
	switch {
	case from == model.StatusFailed:
		m.state.Warnings = append(m.state.Warnings, model.DetailOf(err, m.now()))
		m.state.UpdatedAt = m.now()
		snap, seq := m.snapshotLocked()
		m.mu.Unlock()
		m.publish(ctx, snap, seq)
		return nil
	case from.Terminal():
		m.mu.Unlock()
		return invalid(from, model.StatusFailed)
	}
	d := model.DetailOf(err, m.now())
	if d.Stage == "" {
		d.Stage = string(from)
	}
	m.state.Error = &d
	m.transitionLocked(model.StatusFailed, nil)
	snap, seq := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Error("workflow failed", "from", from, "kind", d.Kind, "code", d.Code, "error", d.Message)
	m.publish(ctx, snap, seq)
	return nil
}

// Warn records a non-fatal problem. Warnings are allowed in any state.
func (m *Machine) Warn(ctx context.Context, err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	d := model.DetailOf(err, m.now())
	if d.Stage == "" {
		d.Stage = string(m.state.Status)
	}
	m.state.Warnings = append(m.state.Warnings, d)
	m.state.UpdatedAt = m.now()
	snap, seq := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Warn("workflow warning", "stage", d.Stage, "kind", d.Kind, "error", d.Message)
	m.publish(ctx, snap, seq)
}

// RecordStage stores stage timing without changing status.
func (m *Machine) RecordStage(ctx context.Context, sm model.StageMetrics) {
	m.mu.Lock()
	if m.state.Stages == nil {
		m.state.Stages = make(map[string]model.StageMetrics)
	}
	m.state.Stages[sm.Stage] = sm
	m.state.UpdatedAt = m.now()
	snap, seq := m.snapshotLocked()
	m.mu.Unlock()
	m.publish(ctx, snap, seq)
}

// Annotate merges metrics into the state without a transition.
func (m *Machine) Annotate(ctx context.Context, metrics map[string]interface{}) {
	if len(metrics) == 0 {
		return
	}
	m.mu.Lock()
	for k, v := range metrics {
		m.state.Metrics[k] = v
	}
	m.state.UpdatedAt = m.now()
	snap, seq := m.snapshotLocked()
	m.mu.Unlock()
	m.publish(ctx, snap, seq)
}

// SetRun records or updates a child run on a request workflow.
func (m *Machine) SetRun(ctx context.Context, ref model.RunRef) {
	m.mu.Lock()
	found := false
	for i := range m.state.Runs {
		if m.state.Runs[i].CobDate == ref.CobDate {
			m.state.Runs[i] = ref
			found = true
		}
	}
	if !found {
		m.state.Runs = append(m.state.Runs, ref)
	}
	m.state.UpdatedAt = m.now()
	snap, seq := m.snapshotLocked()
	m.mu.Unlock()
	m.publish(ctx, snap, seq)
}

func (m *Machine) transitionLocked(to model.Status, metrics map[string]interface{}) {
	at := m.now()
	t := model.Transition{From: m.state.Status, To: to, At: at}
	if len(metrics) > 0 {
		t.Metrics = make(map[string]interface{}, len(metrics))
		for k, v := range metrics {
			t.Metrics[k] = v
			m.state.Metrics[k] = v
		}
	}
	m.state.Transitions = append(m.state.Transitions, t)
	m.state.Status = to
	m.state.UpdatedAt = at
}

func (m *Machine) snapshotLocked() (model.WorkflowState, uint64) {
	m.seq++
	return m.state.Clone(), m.seq
}

// publish never fails the workflow; a lost status update is logged.
// Snapshots older than the last published one are dropped.
// Cancellation of the run must not suppress its final state.
func (m *Machine) publish(ctx context.Context, snap model.WorkflowState, seq uint64) {
	if m.pub == nil {
		return
	}
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	if seq <= m.published {
		return
	}
	m.published = seq
	if err := m.pub.Put(context.WithoutCancel(ctx), snap.ID, snap); err != nil {
		m.log.Warn("status publish failed", "status", snap.Status, "error", err)
	}
}
