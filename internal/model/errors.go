package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies pipeline failures
type ErrorKind string

const (
	KindConfiguration     ErrorKind = "ConfigurationError"
	KindConnectivity      ErrorKind = "ConnectivityError"
	KindDataQuality       ErrorKind = "DataQualityError"
	KindLoad              ErrorKind = "LoadError"
	KindAggregation       ErrorKind = "AggregationError"
	KindInvalidTransition ErrorKind = "InvalidTransition"
	KindCancelled         ErrorKind = "Cancelled"
)

// Error codes refine a kind. They are stable strings so they survive the status store.
const (
	CodeConfigurationNotFound = "ConfigurationNotFound"
	CodeInvalidConfiguration  = "InvalidConfiguration"
	CodeInvalidRequest        = "InvalidRequest"
	CodeUnknownConnector      = "UnknownConnector"
	CodeNotFound              = "NotFound"
	CodePermissionDenied      = "PermissionDenied"
	CodeAuthFailure           = "AuthFailure"
	CodeTimeout               = "Timeout"
	CodeTransferError         = "TransferError"
	CodeShortRow              = "ShortRow"
	CodeMalformedRow          = "MalformedRow"
	CodeUnassignedRows        = "UnassignedRows"
	CodeUnparsableNumber      = "UnparsableNumber"
	CodeMissingHierarchyKey   = "MissingHierarchyKey"
	CodeBatchFailed           = "BatchFailed"
	CodeBarrierNotSatisfied   = "BarrierNotSatisfied"
	CodeNoTransactions        = "NoTransactions"
	CodeSumMismatch           = "SumMismatch"
	CodeNotRetryable          = "NotRetryable"
)

// Error is the single error type carried across stage boundaries.
// Subject names the affected identifier: a file, a partition key or a row range.
type Error struct {
	Kind    ErrorKind
	Code    string
	Stage   string
	Subject string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		b.WriteString("/")
		b.WriteString(e.Code)
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, " [%s]", e.Stage)
	}
	if e.Subject != "" {
		fmt.Fprintf(&b, " %s", e.Subject)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error. cause may be nil.
func NewError(kind ErrorKind, code, stage, subject string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Stage: stage, Subject: subject, Err: cause}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind ErrorKind, code, stage, subject, format string, args ...interface{}) *Error {
	return NewError(kind, code, stage, subject, fmt.Errorf(format, args...))
}

// AsError extracts the classified error, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" for unclassified errors.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of err, or "" for unclassified errors.
func CodeOf(err error) string {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether re-running the whole run could succeed.
// Configuration and aggregation failures are deterministic; connectivity and load failures are not.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConnectivity, KindLoad, KindCancelled:
		return true
	default:
		return false
	}
}

// WithStage fills the stage of a classified error when the producer left it blank.
func WithStage(err error, stage string) error {
	if e, ok := AsError(err); ok && e.Stage == "" {
		e.Stage = stage
	}
	return err
}
