package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-graph-import/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	states []model.WorkflowState
}

func (r *recorder) Put(_ context.Context, _ string, s model.WorkflowState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	return nil
}

func (r *recorder) statuses() []model.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Status
	for _, s := range r.states {
		if len(out) == 0 || out[len(out)-1] != s.Status {
			out = append(out, s.Status)
		}
	}
	return out
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Put(ctx context.Context, id string, s model.WorkflowState) error {
	args := m.Called(ctx, id, s)
	return args.Error(0)
}

func newRun(t *testing.T, pub Publisher) *Machine {
	t.Helper()
	return New(context.Background(), model.KindRun, "rates", "emea", []string{"20240131"}, pub)
}

func TestMachine_ForwardTransitionsArePublished(t *testing.T) {
	rec := &recorder{}
	m := newRun(t, rec)
	ctx := context.Background()

	require.NoError(t, m.Advance(ctx, model.StatusValidating, nil))
	require.NoError(t, m.Advance(ctx, model.StatusFetching, map[string]interface{}{"source": "/x"}))
	require.NoError(t, m.Advance(ctx, model.StatusLoading, nil)) // skips are allowed
	require.NoError(t, m.Complete(ctx, map[string]interface{}{"rows_loaded": int64(3)}))

	assert.Equal(t, []model.Status{
		model.StatusPending, model.StatusValidating, model.StatusFetching, model.StatusLoading, model.StatusCompleted,
	}, rec.statuses())

	st := m.State()
	assert.Len(t, st.Transitions, 4)
	assert.Equal(t, "/x", st.Metrics["source"])
	assert.Equal(t, int64(3), st.Transitions[3].Metrics["rows_loaded"])
}

func TestMachine_RejectsBackwardAndTerminal(t *testing.T) {
	m := newRun(t, nil)
	ctx := context.Background()

	require.NoError(t, m.Advance(ctx, model.StatusProjecting, nil))

	err := m.Advance(ctx, model.StatusFetching, nil)
	assert.Equal(t, model.KindInvalidTransition, model.KindOf(err))
	err = m.Advance(ctx, model.StatusProjecting, nil)
	assert.Equal(t, model.KindInvalidTransition, model.KindOf(err))
	err = m.Advance(ctx, model.StatusFailed, nil)
	assert.Equal(t, model.KindInvalidTransition, model.KindOf(err), "failure goes through Fail")

	require.NoError(t, m.Complete(ctx, nil))
	err = m.Advance(ctx, model.StatusCompleted, nil)
	assert.Equal(t, model.KindInvalidTransition, model.KindOf(err))
	err = m.Fail(ctx, errors.New("late"))
	assert.Equal(t, model.KindInvalidTransition, model.KindOf(err))
	assert.Equal(t, model.StatusCompleted, m.Status())
}

func TestMachine_FailKeepsFirstError(t *testing.T) {
	m := newRun(t, nil)
	ctx := context.Background()
	require.NoError(t, m.Advance(ctx, model.StatusFetching, nil))

	first := model.Errorf(model.KindConnectivity, model.CodeNotFound, "fetch", "/in/x.dat", "no such file")
	require.NoError(t, m.Fail(ctx, first))
	require.NoError(t, m.Fail(ctx, errors.New("second")))

	st := m.State()
	assert.Equal(t, model.StatusFailed, st.Status)
	require.NotNil(t, st.Error)
	assert.Equal(t, model.KindConnectivity, st.Error.Kind)
	assert.Equal(t, model.CodeNotFound, st.Error.Code)
	assert.True(t, st.Error.Retryable)
	require.Len(t, st.Warnings, 1)
	assert.Equal(t, "second", st.Warnings[0].Message)

	err := m.Advance(ctx, model.StatusLoading, nil)
	assert.Equal(t, model.KindInvalidTransition, model.KindOf(err))
}

func TestMachine_WarningsOnCompleted(t *testing.T) {
	m := newRun(t, nil)
	ctx := context.Background()
	m.Warn(ctx, model.Errorf(model.KindDataQuality, model.CodeShortRow, "project", "row 7", "2 fields"))
	require.NoError(t, m.Complete(ctx, nil))

	st := m.State()
	assert.Equal(t, model.StatusCompleted, st.Status)
	require.Len(t, st.Warnings, 1)
	assert.Equal(t, "project", st.Warnings[0].Stage)
	assert.Nil(t, st.Error)
}

func TestMachine_PublishFailureIsNotFatal(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Put", mock.Anything, "wf-1", mock.Anything).Return(errors.New("store down"))

	m := New(context.Background(), model.KindRun, "rates", "emea", nil, pub, WithID("wf-1"))
	require.NoError(t, m.Advance(context.Background(), model.StatusValidating, nil))
	assert.Equal(t, model.StatusValidating, m.Status())
	pub.AssertNumberOfCalls(t, "Put", 2)
}

func TestMachine_PublishSurvivesCancellation(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Put", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), mock.Anything, mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	m := New(ctx, model.KindRun, "rates", "emea", nil, pub)
	cancel()
	require.NoError(t, m.Fail(ctx, model.NewError(model.KindCancelled, "", "load", "", ctx.Err())))
	pub.AssertExpectations(t)
}

func TestMachine_UniqueIDsAndClock(t *testing.T) {
	at := time.Date(2024, 1, 31, 18, 0, 0, 0, time.UTC)
	a := New(context.Background(), model.KindRun, "t", "n", nil, nil, WithClock(func() time.Time { return at }))
	b := New(context.Background(), model.KindRun, "t", "n", nil, nil)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, at, a.State().CreatedAt)
}

func TestMachine_SetRunReplacesByDate(t *testing.T) {
	m := New(context.Background(), model.KindRequest, "t", "n", []string{"20240130", "20240131"}, nil)
	ctx := context.Background()
	m.SetRun(ctx, model.RunRef{WorkflowID: "r1", CobDate: "20240130", Status: model.StatusPending})
	m.SetRun(ctx, model.RunRef{WorkflowID: "r1", CobDate: "20240130", Status: model.StatusCompleted})
	m.SetRun(ctx, model.RunRef{WorkflowID: "r2", CobDate: "20240131", Status: model.StatusFailed})

	runs := m.State().Runs
	require.Len(t, runs, 2)
	assert.Equal(t, model.StatusCompleted, runs[0].Status)
	assert.Equal(t, "r2", runs[1].WorkflowID)
}

func TestWorst(t *testing.T) {
	assert.Equal(t, model.StatusFailed, model.Worst(model.StatusCompleted, model.StatusFailed))
	assert.Equal(t, model.StatusFailed, model.Worst(model.StatusFailed, model.StatusCompleted))
	assert.Equal(t, model.StatusCompleted, model.Worst(model.StatusCompleted, model.StatusCompleted))
	assert.Equal(t, model.StatusLoading, model.Worst(model.StatusCompleted, model.StatusLoading))
}
