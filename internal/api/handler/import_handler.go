package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go-graph-import/internal/config"
	"go-graph-import/internal/model"
	"go-graph-import/internal/pipeline"
	"go-graph-import/internal/store"
	"go-graph-import/internal/workflow"
)

const importsPrefix = "/api/v1/imports/"

// Imports starts, cancels and retries import requests; *pipeline.Manager satisfies it
type Imports interface {
	Submit(ctx context.Context, batch model.ImportBatch, ro pipeline.RunOptions, opts ...workflow.Option) (model.WorkflowState, error)
	Retry(ctx context.Context, id string, ro pipeline.RunOptions) (model.WorkflowState, error)
	Cancel(id string) bool
}

// States is the read side of the status store
type States interface {
	Get(ctx context.Context, id string) (model.WorkflowState, error)
	List(ctx context.Context, limit int) ([]model.WorkflowState, error)
}

// ErrorLog is implemented by status stores that keep an error history
type ErrorLog interface {
	Errors(ctx context.Context, id string) ([]store.ErrorRecord, error)
}

// Domains lists what can be imported; *config.Config satisfies it
type Domains interface {
	DomainRefs() []config.DomainRef
}

// ImportRequest is the body of POST /imports. CobDate is shorthand for a single date.
type ImportRequest struct {
	DomainType string   `json:"domain_type" example:"risk"`
	DomainName string   `json:"domain_name" example:"rates"`
	CobDate    string   `json:"cob_date,omitempty" example:"20240131"`
	CobDates   []string `json:"cob_dates,omitempty"`
	SkipFetch  bool     `json:"skip_fetch,omitempty"`
}

// ErrorResponse is returned for every non-2xx status
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  string `json:"code,omitempty"`
}

type ImportHandler struct {
	imports Imports
	states  States
	domains Domains
	log     *slog.Logger
}

func NewImportHandler(imports Imports, states States, domains Domains, log *slog.Logger) *ImportHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ImportHandler{imports: imports, states: states, domains: domains, log: log}
}

// CreateImport submits an import request
// @Summary Submit an import
// @Description Validate the request and start importing every cob date in the background
// @Tags imports
// @Accept json
// @Produce json
// @Param request body ImportRequest true "Domain and cob dates"
// @Success 202 {object} model.WorkflowState "Request accepted"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /imports [post]
func (h *ImportHandler) CreateImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON payload: " + err.Error()})
		return
	}
	batch := model.ImportBatch{DomainType: req.DomainType, DomainName: req.DomainName, CobDates: req.CobDates}
	if req.CobDate != "" {
		batch.CobDates = append([]string{req.CobDate}, batch.CobDates...)
	}

	st, err := h.imports.Submit(r.Context(), batch, pipeline.RunOptions{SkipFetch: req.SkipFetch})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("import submitted", "workflow_id", st.ID, "domain", st.DomainType+"/"+st.DomainName, "cob_dates", st.CobDates)
	writeJSON(w, http.StatusAccepted, st)
}

// ListImports lists import requests
// @Summary List imports
// @Description Newest requests first
// @Tags imports
// @Produce json
// @Param limit query int false "Maximum number of requests" default(50)
// @Success 200 {array} model.WorkflowState "Requests"
// @Failure 400 {object} ErrorResponse "Invalid limit"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /imports [get]
func (h *ImportHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	states, err := h.states.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if states == nil {
		states = []model.WorkflowState{}
	}
	writeJSON(w, http.StatusOK, states)
}

// GetImport returns one request or run
// @Summary Get import
// @Description Full state of a request or one of its runs
// @Tags imports
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 200 {object} model.WorkflowState "Workflow state"
// @Failure 404 {object} ErrorResponse "Workflow not found"
// @Router /imports/{id} [get]
func (h *ImportHandler) GetImport(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(r.URL.Path, "")
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "workflow id is required"})
		return
	}
	st, err := h.states.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetImportErrors returns the error history of a workflow
// @Summary Get import errors
// @Description Every fatal error recorded for the workflow, oldest first
// @Tags imports
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 200 {array} store.ErrorRecord "Errors"
// @Failure 404 {object} ErrorResponse "Workflow not found"
// @Router /imports/{id}/errors [get]
func (h *ImportHandler) GetImportErrors(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(r.URL.Path, "/errors")
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "workflow id is required"})
		return
	}
	st, err := h.states.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	records := []store.ErrorRecord{}
	if el, ok := h.states.(ErrorLog); ok {
		if records, err = el.Errors(r.Context(), id); err != nil {
			h.writeError(w, err)
			return
		}
	} else if st.Error != nil {
		records = append(records, store.ErrorRecord{
			WorkflowID: st.ID, Kind: string(st.Error.Kind), Code: st.Error.Code, Stage: st.Error.Stage,
			Message: st.Error.Message, CreatedAt: st.Error.Timestamp,
		})
	}
	if records == nil {
		records = []store.ErrorRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// RetryImport retries the failed dates of a failed request
// @Summary Retry import
// @Description Submit a new request for the failed dates; every failure must be retryable
// @Tags imports
// @Produce json
// @Param id path string true "Request ID"
// @Param skip_fetch query bool false "Reuse sources in place"
// @Success 202 {object} model.WorkflowState "Retry accepted"
// @Failure 400 {object} ErrorResponse "Not a request"
// @Failure 404 {object} ErrorResponse "Request not found"
// @Failure 409 {object} ErrorResponse "Request cannot be retried"
// @Router /imports/{id}/retry [post]
func (h *ImportHandler) RetryImport(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(r.URL.Path, "/retry")
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "workflow id is required"})
		return
	}
	skip, _ := strconv.ParseBool(r.URL.Query().Get("skip_fetch"))
	st, err := h.imports.Retry(r.Context(), id, pipeline.RunOptions{SkipFetch: skip})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// CancelImport stops a running request
// @Summary Cancel import
// @Description Cancel a running request; its current run fails with a cancellation error
// @Tags imports
// @Produce json
// @Param id path string true "Request ID"
// @Success 202 {object} map[string]string "Cancellation requested"
// @Failure 404 {object} ErrorResponse "Request not found"
// @Failure 409 {object} ErrorResponse "Request is not running"
// @Router /imports/{id} [delete]
func (h *ImportHandler) CancelImport(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(r.URL.Path, "")
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "workflow id is required"})
		return
	}
	if h.imports.Cancel(id) {
		h.log.Info("import cancellation requested", "workflow_id", id)
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "message": "cancellation requested"})
		return
	}
	st, err := h.states.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusConflict, ErrorResponse{
		Error: "workflow is " + string(st.Status) + " and not running in this process",
		Kind:  string(model.KindInvalidTransition),
	})
}

// ListDomains lists configured domains
// @Summary List domains
// @Tags domains
// @Produce json
// @Success 200 {array} config.DomainRef "Domains"
// @Router /domains [get]
func (h *ImportHandler) ListDomains(w http.ResponseWriter, r *http.Request) {
	refs := h.domains.DomainRefs()
	if refs == nil {
		refs = []config.DomainRef{}
	}
	writeJSON(w, http.StatusOK, refs)
}

// workflowID extracts the id between the imports prefix and suffix.
func workflowID(path, suffix string) (string, bool) {
	if !strings.HasPrefix(path, importsPrefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	id := path[len(importsPrefix) : len(path)-len(suffix)]
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (h *ImportHandler) writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	code := http.StatusInternalServerError
	if e, ok := model.AsError(err); ok {
		resp.Kind = string(e.Kind)
		resp.Code = e.Code
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case model.KindOf(err) == model.KindConfiguration:
		code = http.StatusBadRequest
	case model.KindOf(err) == model.KindInvalidTransition:
		code = http.StatusConflict
	default:
		h.log.Error("request failed", "error", err)
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
