package pipeline

import (
	"context"
	"testing"
	"time"

	"go-graph-import/internal/connector"
	"go-graph-import/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blocking never finishes a fetch until its context ends
type blocking struct {
	started chan struct{}
}

func (b *blocking) Fetch(ctx context.Context, source, dest string) (model.FetchResult, error) {
	close(b.started)
	<-ctx.Done()
	return model.FetchResult{Error: ctx.Err().Error()}, model.NewError(model.KindCancelled, "", StageFetch, source, ctx.Err())
}

func (b *blocking) TestConnection(ctx context.Context) bool { return true }

func waitTerminal(t *testing.T, f *fixture, id string) model.WorkflowState {
	t.Helper()
	var st model.WorkflowState
	require.Eventually(t, func() bool {
		var err error
		st, err = f.status.Get(context.Background(), id)
		return err == nil && st.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestManager_SubmitRunsInBackground(t *testing.T) {
	f := newFixture(t, Options{})
	f.extract(t, cob, tradeRows([]string{"G1"}, 2))
	m := NewManager(context.Background(), f.p, f.status, nil)

	st, err := m.Submit(context.Background(), model.ImportBatch{DomainType: "risk", DomainName: "rates", CobDates: []string{cob}}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.KindRequest, st.Kind)
	assert.False(t, st.Status.Terminal())

	final := waitTerminal(t, f, st.ID)
	assert.Equal(t, model.StatusCompleted, final.Status)
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Empty(t, m.Active())
}

func TestManager_SubmitRejectsInvalidBatch(t *testing.T) {
	f := newFixture(t, Options{})
	m := NewManager(context.Background(), f.p, f.status, nil)

	_, err := m.Submit(context.Background(), model.ImportBatch{DomainName: "rates"}, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, model.CodeInvalidRequest, model.CodeOf(err))
	assert.Empty(t, m.Active())
}

func TestManager_Cancel(t *testing.T) {
	f := newFixture(t, Options{})
	conn := &blocking{started: make(chan struct{})}
	f.conns.Register("blocking", func(map[string]string) (connector.Connector, error) { return conn, nil })
	m := NewManager(context.Background(), f.p, f.status, nil)

	st, err := m.Submit(context.Background(), model.ImportBatch{DomainType: "risk", DomainName: "slow", CobDates: []string{cob, "20240201"}}, RunOptions{})
	require.NoError(t, err)
	select {
	case <-conn.started:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch never started")
	}
	assert.Equal(t, []string{st.ID}, m.Active())
	assert.False(t, m.Cancel("unknown"))
	assert.True(t, m.Cancel(st.ID))

	final := waitTerminal(t, f, st.ID)
	assert.Equal(t, model.StatusFailed, final.Status)
	assert.Equal(t, model.KindCancelled, final.Error.Kind)
	require.Len(t, final.Runs, 2)
	assert.Equal(t, model.StatusFailed, final.Runs[1].Status, "the second date never starts")
	assert.Empty(t, final.Runs[1].WorkflowID)

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_RetryFailedDates(t *testing.T) {
	f := newFixture(t, Options{})
	f.extract(t, cob, tradeRows([]string{"G1"}, 2))
	m := NewManager(context.Background(), f.p, f.status, nil)
	defer m.Shutdown(context.Background())

	first, err := f.p.RunBatch(context.Background(), model.ImportBatch{DomainType: "risk", DomainName: "rates", CobDates: []string{cob, "20240201"}}, RunOptions{})
	require.Error(t, err)
	require.Equal(t, model.StatusFailed, first.Status)

	// the missing extract arrives
	f.extract(t, "20240201", tradeRows([]string{"G2"}, 2))

	next, err := m.Retry(context.Background(), first.ID, RunOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, []string{"20240201"}, next.CobDates, "only failed dates are retried")
	assert.Equal(t, first.ID, next.Metrics["retry_of"])

	final := waitTerminal(t, f, next.ID)
	assert.Equal(t, model.StatusCompleted, final.Status)
	assert.Equal(t, first.ID, final.Metrics["retry_of"])
}

func TestManager_RetryRejected(t *testing.T) {
	f := newFixture(t, Options{})
	f.extract(t, cob, tradeRows([]string{"G1"}, 2))
	m := NewManager(context.Background(), f.p, f.status, nil)
	defer m.Shutdown(context.Background())
	ctx := context.Background()

	done, err := f.p.RunBatch(ctx, model.ImportBatch{DomainType: "risk", DomainName: "rates", CobDates: []string{cob}}, RunOptions{})
	require.NoError(t, err)
	misconfigured, err := f.p.RunBatch(ctx, model.ImportBatch{DomainType: "risk", DomainName: "nope", CobDates: []string{cob}}, RunOptions{})
	require.Error(t, err)

	tests := []struct {
		name string
		id   string
		kind model.ErrorKind
		code string
	}{
		{"completed request", done.ID, model.KindInvalidTransition, model.CodeNotRetryable},
		{"configuration failure", misconfigured.ID, model.KindInvalidTransition, model.CodeNotRetryable},
		{"run id", done.Runs[0].WorkflowID, model.KindConfiguration, model.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Retry(ctx, tt.id, RunOptions{})
			require.Error(t, err)
			assert.Equal(t, tt.kind, model.KindOf(err))
			assert.Equal(t, tt.code, model.CodeOf(err))
		})
	}

	_, err = m.Retry(ctx, "missing", RunOptions{})
	assert.Error(t, err)
	assert.Empty(t, m.Active())
}

func TestManager_ShutdownCancelsRunning(t *testing.T) {
	f := newFixture(t, Options{})
	conn := &blocking{started: make(chan struct{})}
	f.conns.Register("blocking", func(map[string]string) (connector.Connector, error) { return conn, nil })
	m := NewManager(context.Background(), f.p, f.status, nil)

	st, err := m.Submit(context.Background(), model.ImportBatch{DomainType: "risk", DomainName: "slow", CobDates: []string{cob}}, RunOptions{})
	require.NoError(t, err)
	<-conn.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	saved, err := f.status.Get(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, saved.Status, "shutdown waits for the final state")
}
