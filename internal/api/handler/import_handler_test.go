package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-graph-import/internal/config"
	"go-graph-import/internal/model"
	"go-graph-import/internal/pipeline"
	"go-graph-import/internal/store"
	"go-graph-import/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockImports struct {
	mock.Mock
}

func (m *MockImports) Submit(ctx context.Context, batch model.ImportBatch, ro pipeline.RunOptions, opts ...workflow.Option) (model.WorkflowState, error) {
	args := m.Called(ctx, batch, ro)
	return args.Get(0).(model.WorkflowState), args.Error(1)
}

func (m *MockImports) Retry(ctx context.Context, id string, ro pipeline.RunOptions) (model.WorkflowState, error) {
	args := m.Called(ctx, id, ro)
	return args.Get(0).(model.WorkflowState), args.Error(1)
}

func (m *MockImports) Cancel(id string) bool {
	return m.Called(id).Bool(0)
}

type staticDomains []config.DomainRef

func (d staticDomains) DomainRefs() []config.DomainRef { return d }

func setup(t *testing.T) (*ImportHandler, *MockImports, *store.Memory) {
	t.Helper()
	imports := new(MockImports)
	states := store.NewMemory()
	domains := staticDomains{{DomainType: "risk", DomainName: "rates", Connector: "scp"}}
	return NewImportHandler(imports, states, domains, nil), imports, states
}

func put(t *testing.T, s *store.Memory, st model.WorkflowState) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), st.ID, st))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestCreateImport(t *testing.T) {
	h, imports, _ := setup(t)
	want := model.ImportBatch{DomainType: "risk", DomainName: "rates", CobDates: []string{"20240131", "20240201"}}
	imports.On("Submit", mock.Anything, want, pipeline.RunOptions{SkipFetch: true}).
		Return(model.WorkflowState{ID: "req-1", Kind: model.KindRequest, Status: model.StatusPending, CobDates: want.CobDates}, nil)

	body := `{"domain_type":"risk","domain_name":"rates","cob_date":"20240131","cob_dates":["20240201"],"skip_fetch":true}`
	rec := httptest.NewRecorder()
	h.CreateImport(rec, httptest.NewRequest(http.MethodPost, "/api/v1/imports", strings.NewReader(body)))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var st model.WorkflowState
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "req-1", st.ID)
	imports.AssertExpectations(t)
}

func TestCreateImport_Invalid(t *testing.T) {
	h, imports, _ := setup(t)
	imports.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return(model.WorkflowState{},
		model.Errorf(model.KindConfiguration, model.CodeInvalidRequest, "validate", "", "domain_type is required"))

	rec := httptest.NewRecorder()
	h.CreateImport(rec, httptest.NewRequest(http.MethodPost, "/api/v1/imports", strings.NewReader(`{"domain_name":"rates"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, model.CodeInvalidRequest, resp.Code)
	assert.Equal(t, string(model.KindConfiguration), resp.Kind)

	rec = httptest.NewRecorder()
	h.CreateImport(rec, httptest.NewRequest(http.MethodPost, "/api/v1/imports", strings.NewReader(`{"domain":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
	imports.AssertNumberOfCalls(t, "Submit", 1)
}

func TestListImports(t *testing.T) {
	h, _, states := setup(t)
	base := time.Date(2024, 1, 31, 6, 0, 0, 0, time.UTC)
	put(t, states, model.WorkflowState{ID: "old", Kind: model.KindRequest, CreatedAt: base})
	put(t, states, model.WorkflowState{ID: "new", Kind: model.KindRequest, CreatedAt: base.Add(time.Hour)})
	put(t, states, model.WorkflowState{ID: "run", Kind: model.KindRun, CreatedAt: base.Add(2 * time.Hour)})

	rec := httptest.NewRecorder()
	h.ListImports(rec, httptest.NewRequest(http.MethodGet, "/api/v1/imports?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got []model.WorkflowState
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)

	rec = httptest.NewRecorder()
	h.ListImports(rec, httptest.NewRequest(http.MethodGet, "/api/v1/imports?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListImports_EmptyIsArray(t *testing.T) {
	h, _, _ := setup(t)
	rec := httptest.NewRecorder()
	h.ListImports(rec, httptest.NewRequest(http.MethodGet, "/api/v1/imports", nil))
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetImport(t *testing.T) {
	h, _, states := setup(t)
	put(t, states, model.WorkflowState{ID: "req-1", Kind: model.KindRequest, Status: model.StatusLoading})

	rec := httptest.NewRecorder()
	h.GetImport(rec, httptest.NewRequest(http.MethodGet, "/api/v1/imports/req-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st model.WorkflowState
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, model.StatusLoading, st.Status)

	for _, path := range []string{"/api/v1/imports/missing", "/api/v1/imports/req-1/extra"} {
		rec = httptest.NewRecorder()
		h.GetImport(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestGetImportErrors_FromState(t *testing.T) {
	h, _, states := setup(t)
	at := time.Date(2024, 1, 31, 6, 0, 0, 0, time.UTC)
	put(t, states, model.WorkflowState{ID: "run-1", Kind: model.KindRun, Status: model.StatusFailed,
		Error: &model.ErrorDetail{Kind: model.KindConnectivity, Code: model.CodeNotFound, Stage: "fetch", Message: "missing", Timestamp: at}})
	put(t, states, model.WorkflowState{ID: "run-2", Kind: model.KindRun, Status: model.StatusCompleted})

	rec := httptest.NewRecorder()
	h.GetImportErrors(rec, httptest.NewRequest(http.MethodGet, "/api/v1/imports/run-1/errors", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got []store.ErrorRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, []store.ErrorRecord{{WorkflowID: "run-1", Kind: string(model.KindConnectivity), Code: model.CodeNotFound,
		Stage: "fetch", Message: "missing", CreatedAt: at}}, got)

	rec = httptest.NewRecorder()
	h.GetImportErrors(rec, httptest.NewRequest(http.MethodGet, "/api/v1/imports/run-2/errors", nil))
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestRetryImport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"run id", model.Errorf(model.KindConfiguration, model.CodeInvalidRequest, "", "r", "is a run"), http.StatusBadRequest},
		{"not retryable", model.Errorf(model.KindInvalidTransition, model.CodeNotRetryable, "", "r", "completed"), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, imports, _ := setup(t)
			imports.On("Retry", mock.Anything, "req-1", pipeline.RunOptions{SkipFetch: true}).
				Return(model.WorkflowState{ID: "req-2"}, tt.err)

			rec := httptest.NewRecorder()
			h.RetryImport(rec, httptest.NewRequest(http.MethodPost, "/api/v1/imports/req-1/retry?skip_fetch=true", nil))
			assert.Equal(t, tt.code, rec.Code)
			imports.AssertExpectations(t)
		})
	}
}

func TestCancelImport(t *testing.T) {
	h, imports, states := setup(t)
	imports.On("Cancel", "running").Return(true)
	imports.On("Cancel", "done").Return(false)
	imports.On("Cancel", "missing").Return(false)
	put(t, states, model.WorkflowState{ID: "done", Kind: model.KindRequest, Status: model.StatusCompleted})

	tests := []struct {
		id   string
		code int
	}{
		{"running", http.StatusAccepted},
		{"done", http.StatusConflict},
		{"missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.CancelImport(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/imports/"+tt.id, nil))
		assert.Equal(t, tt.code, rec.Code, tt.id)
	}
	imports.AssertExpectations(t)
}

func TestListDomains(t *testing.T) {
	h, _, _ := setup(t)
	rec := httptest.NewRecorder()
	h.ListDomains(rec, httptest.NewRequest(http.MethodGet, "/api/v1/domains", nil))
	assert.JSONEq(t, `[{"domain_type":"risk","domain_name":"rates","connector":"scp"}]`, rec.Body.String())
}

func TestWorkflowID(t *testing.T) {
	id, ok := workflowID("/api/v1/imports/abc/retry", "/retry")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
	_, ok = workflowID("/api/v1/imports/", "")
	assert.False(t, ok)
	_, ok = workflowID("/api/v1/other/abc", "")
	assert.False(t, ok)
}
