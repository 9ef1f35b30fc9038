package model

import (
	"time"
)

// Status is a workflow lifecycle state
type Status string

const (
	StatusPending      Status = "pending"
	StatusValidating   Status = "validating"
	StatusFetching     Status = "fetching"
	StatusProjecting   Status = "projecting"
	StatusPartitioning Status = "partitioning"
	StatusLoading      Status = "loading"
	StatusAggregating  Status = "aggregating"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// statusOrder gives the forward position of each status. Failed sits outside the chain.
var statusOrder = map[Status]int{
	StatusPending:      0,
	StatusValidating:   1,
	StatusFetching:     2,
	StatusProjecting:   3,
	StatusPartitioning: 4,
	StatusLoading:      5,
	StatusAggregating:  6,
	StatusCompleted:    7,
}

// Order returns the position of s in the forward chain and whether it is part of it.
func (s Status) Order() (int, bool) {
	o, ok := statusOrder[s]
	return o, ok
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok || s == StatusFailed
}

// Worst returns the more severe of two outcomes: failed beats anything, unfinished beats completed.
func Worst(a, b Status) Status {
	switch {
	case a == StatusFailed || b == StatusFailed:
		return StatusFailed
	case a == StatusCompleted:
		return b
	case b == StatusCompleted:
		return a
	}
	oa, _ := a.Order()
	ob, _ := b.Order()
	if oa <= ob {
		return a
	}
	return b
}

// WorkflowKind distinguishes a multi-date request from a single-date run
type WorkflowKind string

const (
	KindRequest WorkflowKind = "request"
	KindRun     WorkflowKind = "run"
)

// ErrorDetail is the persisted form of a classified error
type ErrorDetail struct {
	Kind      ErrorKind `json:"kind"`
	Code      string    `json:"code,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

// DetailOf converts any error into its persisted form.
func DetailOf(err error, at time.Time) ErrorDetail {
	d := ErrorDetail{Message: err.Error(), Retryable: IsRetryable(err), Timestamp: at}
	if e, ok := AsError(err); ok {
		d.Kind = e.Kind
		d.Code = e.Code
		d.Stage = e.Stage
		d.Subject = e.Subject
	}
	return d
}

// Transition records one state change with its optional metric payload
type Transition struct {
	From    Status                 `json:"from"`
	To      Status                 `json:"to"`
	At      time.Time              `json:"at"`
	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// StageMetrics represents timing and volume for one pipeline stage
type StageMetrics struct {
	Stage            string        `json:"stage"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          *time.Time    `json:"end_time,omitempty"`
	Duration         time.Duration `json:"duration,omitempty"`
	RecordsProcessed int64         `json:"records_processed"`
	RecordsPerSecond float64       `json:"records_per_second"`
	WorkerCount      int           `json:"worker_count"`
	WarningCount     int64         `json:"warning_count"`
	Status           string        `json:"status"` // "running", "completed", "failed"
}

// RunRef is a request's view of one of its per-date runs
type RunRef struct {
	WorkflowID string `json:"workflow_id"`
	CobDate    string `json:"cob_date"`
	Status     Status `json:"status"`
}

// WorkflowState is the externally visible state of a request or a run
type WorkflowState struct {
	ID          string                  `json:"id"`
	Kind        WorkflowKind            `json:"kind"`
	ParentID    string                  `json:"parent_id,omitempty"`
	DomainType  string                  `json:"domain_type"`
	DomainName  string                  `json:"domain_name"`
	CobDates    []string                `json:"cob_dates"`
	Status      Status                  `json:"status"`
	Metrics     map[string]interface{}  `json:"metrics"`
	Stages      map[string]StageMetrics `json:"stages,omitempty"`
	Error       *ErrorDetail            `json:"error,omitempty"`
	Warnings    []ErrorDetail           `json:"warnings,omitempty"`
	Transitions []Transition            `json:"transitions,omitempty"`
	Runs        []RunRef                `json:"runs,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// Clone returns a deep enough copy for handing to stores and callers.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	out.CobDates = append([]string(nil), s.CobDates...)
	out.Metrics = make(map[string]interface{}, len(s.Metrics))
	for k, v := range s.Metrics {
		out.Metrics[k] = v
	}
	if s.Stages != nil {
		out.Stages = make(map[string]StageMetrics, len(s.Stages))
		for k, v := range s.Stages {
			out.Stages[k] = v
		}
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	out.Warnings = append([]ErrorDetail(nil), s.Warnings...)
	out.Transitions = append([]Transition(nil), s.Transitions...)
	out.Runs = append([]RunRef(nil), s.Runs...)
	return out
}
