package vector

import "fmt"

// StoreError is a failed HTTP exchange with the vector store.
type StoreError struct {
	StatusCode int
	Message    string
}

func (e *StoreError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("vector store error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("vector store error: %s", e.Message)
}

// NotFound reports whether the error is a 404 from the store.
func (e *StoreError) NotFound() bool {
	return e.StatusCode == 404
}

// DimensionConflictError means a collection already exists with a different
// vector dimension than requested. The collection is never silently reused.
type DimensionConflictError struct {
	Collection string
	Existing   int
	Requested  int
}

func (e *DimensionConflictError) Error() string {
	return fmt.Sprintf("collection %q already exists with vector dimension %d, requested %d",
		e.Collection, e.Existing, e.Requested)
}
