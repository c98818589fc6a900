package elastic

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound matches errors for a missing document or index.
	ErrNotFound = errors.New("elastic: not found")
	// ErrUnavailable matches errors for an unreachable cluster.
	ErrUnavailable = errors.New("elastic: cluster is not available")
)

// ResponseError is a non-2xx answer from the backend.
type ResponseError struct {
	Op     string
	Status int
	Type   string
	Reason string
}

func (e *ResponseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elastic: %s failed with status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("elastic: %s failed with status %d: %s: %s", e.Op, e.Status, e.Type, e.Reason)
}

// Is makes a 404 response match ErrNotFound.
func (e *ResponseError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// BulkError reports the actions of a bulk request that did not apply. The
// remaining actions may or may not have been applied.
type BulkError struct {
	Op     Op
	Total  int
	Failed []BulkItem
}

// NewBulkError returns nil when result has no failed items.
func NewBulkError(op Op, result BulkResult) *BulkError {
	failed := result.Failed()
	if len(failed) == 0 {
		return nil
	}
	return &BulkError{Op: op, Total: len(result.Items), Failed: failed}
}

// First is the earliest failed item in request order.
func (e *BulkError) First() BulkItem {
	return e.Failed[0]
}

func (e *BulkError) Error() string {
	first := e.First()
	return fmt.Sprintf("elastic: bulk %s: %d of %d actions failed, first id=%s status=%d: %s: %s",
		e.Op, len(e.Failed), e.Total, first.ID, first.Status, first.ErrorType, first.Reason)
}
