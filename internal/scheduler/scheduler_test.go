package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-graph-import/internal/config"
	"go-graph-import/internal/model"
	"go-graph-import/internal/pipeline"
	"go-graph-import/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(ctx context.Context, batch model.ImportBatch, ro pipeline.RunOptions, opts ...workflow.Option) (model.WorkflowState, error) {
	args := m.Called(batch, len(opts))
	return args.Get(0).(model.WorkflowState), args.Error(1)
}

// recording signals every submitted batch
type recording chan model.ImportBatch

func (r recording) Submit(ctx context.Context, batch model.ImportBatch, ro pipeline.RunOptions, opts ...workflow.Option) (model.WorkflowState, error) {
	r <- batch
	return model.WorkflowState{ID: "req"}, nil
}

func rates(cronExpr string) config.Schedule {
	return config.Schedule{Name: "rates-daily", Cron: cronExpr, DomainType: "risk", DomainName: "rates", CobOffsetDays: 1}
}

func TestCobDate(t *testing.T) {
	monday := time.Date(2024, 2, 5, 6, 30, 0, 0, time.UTC)
	assert.Equal(t, "20240204", CobDate(monday, 1))
	assert.Equal(t, "20240205", CobDate(monday, 0))
	assert.Equal(t, "20240202", CobDate(monday, 3))
	assert.Equal(t, "20240229", CobDate(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 1), "leap day")
}

func TestTrigger(t *testing.T) {
	sub := new(MockSubmitter)
	want := model.ImportBatch{DomainType: "risk", DomainName: "rates", CobDates: []string{"20240131"}}
	sub.On("Submit", want, 1).Return(model.WorkflowState{ID: "req-1"}, nil).Once()

	s := New(context.Background(), sub, nil)
	st, err := s.Trigger(context.Background(), rates("0 30 6 * * MON-FRI"), time.Date(2024, 2, 1, 6, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "req-1", st.ID)
	sub.AssertExpectations(t)
}

func TestTrigger_SubmitError(t *testing.T) {
	sub := new(MockSubmitter)
	sub.On("Submit", mock.Anything, mock.Anything).Return(model.WorkflowState{}, errors.New("closed"))

	_, err := New(context.Background(), sub, nil).Trigger(context.Background(), rates("@daily"), time.Now())
	assert.EqualError(t, err, "closed")
}

func TestLoad(t *testing.T) {
	s := New(context.Background(), new(MockSubmitter), nil)
	fx := rates("@every 1h")
	fx.Name = "fx-hourly"

	err := s.Load([]config.Schedule{rates("0 30 6 * * MON-FRI"), {Name: "broken", Cron: "not a cron"}, fx, rates("@daily")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `schedule broken: invalid cron "not a cron"`)
	assert.Contains(t, err.Error(), "rates-daily already registered")
	assert.Equal(t, 2, s.Len(), "valid schedules are kept")

	_, ok := s.Next("broken")
	assert.False(t, ok)
}

func TestNext(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("no tzdata")
	}
	s := New(context.Background(), new(MockSubmitter), nil, WithLocation(ny))
	require.NoError(t, s.Add(rates("0 30 6 * * *")))
	s.Start()
	defer s.Stop(context.Background())

	next, ok := s.Next("rates-daily")
	require.True(t, ok)
	assert.Equal(t, 6, next.In(ny).Hour())
	assert.Equal(t, 30, next.In(ny).Minute())
	assert.True(t, next.After(time.Now()))
}

func TestScheduleFires(t *testing.T) {
	fired := make(recording, 4)
	s := New(context.Background(), fired, nil)
	require.NoError(t, s.Add(rates("@every 1s")))
	s.Start()
	defer s.Stop(context.Background())

	select {
	case b := <-fired:
		assert.Equal(t, "rates", b.DomainName)
		assert.Equal(t, []string{CobDate(time.Now(), 1)}, b.CobDates)
	case <-time.After(3 * time.Second):
		t.Fatal("schedule never fired")
	}
}
