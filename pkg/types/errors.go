package types

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned when the index is queried before it has been
// made live.
var ErrNotReady = errors.New("document index is not ready")

// ConstructionError signals a violated construction invariant, such as
// building a clause or formula from an empty collection. It is a
// programming error and never recoverable.
type ConstructionError struct {
	Op     string
	Reason string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construction of %s failed: %s", e.Op, e.Reason)
}

// AnalysisError signals that a document's target expression could not be
// canonicalized. The document is excluded from the index; other documents
// are unaffected.
type AnalysisError struct {
	DocumentID string
	Err        error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("target analysis of document %q failed: %v", e.DocumentID, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// EvaluationError signals that a predicate failed at match time, for
// example due to a type mismatch in the request bindings. It is scoped to
// a single retrieval call.
type EvaluationError struct {
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation of %q failed: %v", e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
