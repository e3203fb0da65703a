package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nfrund/collegeos/internal/domain"
)

// Sentinel errors of the database layer, checked with errors.Is.
var (
	// ErrNotConnected is returned when no healthy connection is available.
	ErrNotConnected = errors.New("database not connected")

	// ErrInvalidInput is returned for arguments rejected before reaching SurrealDB.
	ErrInvalidInput = errors.New("invalid input data")

	// ErrQueryFailed is returned when SurrealDB rejects or fails a statement.
	ErrQueryFailed = errors.New("query execution failed")
)

// DBError carries the operation, and optionally the statement, that failed.
// Connection and query failures also match domain.ErrBackend, so callers
// outside this package need not know the database sentinels.
type DBError struct {
	err    error
	op     string
	query  string
	params map[string]any
}

// NewDBError wraps err with a description of the operation that failed.
func NewDBError(err error, op string) *DBError {
	return &DBError{err: err, op: op}
}

// WithQuery records the statement that failed.
func (e *DBError) WithQuery(query string) *DBError {
	e.query = query
	return e
}

// WithParams records the statement parameters.
func (e *DBError) WithParams(params map[string]any) *DBError {
	e.params = params
	return e
}

func (e *DBError) Error() string {
	var b strings.Builder
	b.WriteString(e.op)
	if e.query != "" {
		fmt.Fprintf(&b, "\nQuery: %s", e.query)
	}
	if len(e.params) > 0 {
		fmt.Fprintf(&b, "\nParams: %+v", e.params)
	}
	if e.err != nil {
		fmt.Fprintf(&b, ": %v", e.err)
	}
	return b.String()
}

func (e *DBError) Unwrap() error {
	return e.err
}

// Is reports domain.ErrBackend for failures of the backend itself. Invalid
// input is the caller's fault and does not match.
func (e *DBError) Is(target error) bool {
	if target != domain.ErrBackend {
		return false
	}
	return errors.Is(e.err, ErrNotConnected) || errors.Is(e.err, ErrQueryFailed)
}
