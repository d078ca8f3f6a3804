// Package sink defines the bulk-insert interface the ingestion
// pipeline writes to, and its error contract: errors are either
// transient (retryable) or fatal (abort the run).
package sink

import (
	"context"
	"fmt"

	"github.com/szibis/tsloadgen/internal/gen"
)

// Result reports how many documents the sink acknowledged.
type Result struct {
	Acknowledged int
}

// Sink is the bulk-insert interface of a target store.
type Sink interface {
	// Insert writes docs as one batch. On partial failure it returns
	// both the acknowledged count and an error.
	Insert(ctx context.Context, docs []gen.Document) (Result, error)
	Close(ctx context.Context) error
}

// ErrorKind classifies an insert error.
type ErrorKind int

const (
	// KindTransient errors (timeouts, throttling, network) may succeed
	// on retry.
	KindTransient ErrorKind = iota
	// KindFatal errors (authentication, schema rejection) are not
	// retried; the run aborts.
	KindFatal
)

func (k ErrorKind) String() string {
	if k == KindFatal {
		return "fatal"
	}
	return "transient"
}

// InsertError is a structured error returned from Insert. It carries
// the classification and the backend's code/message so the worker can
// decide between retry and abort.
type InsertError struct {
	Err     error
	Kind    ErrorKind
	Code    int
	Message string
}

// Error implements the error interface.
func (e *InsertError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("insert %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("insert %s: code=%d %s", e.Kind, e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *InsertError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the same batch may succeed on retry.
func (e *InsertError) IsTransient() bool {
	return e.Kind == KindTransient
}

// Transient wraps err as a retryable insert error.
func Transient(err error) *InsertError {
	return &InsertError{Err: err, Kind: KindTransient}
}

// Fatal wraps err as a non-retryable insert error.
func Fatal(err error) *InsertError {
	return &InsertError{Err: err, Kind: KindFatal}
}
