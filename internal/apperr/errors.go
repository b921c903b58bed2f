// Package apperr defines the error taxonomy shared by the engine, the HTTP
// layer and the SDK.
package apperr

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotAuthenticated means the request carried no valid session.
var ErrNotAuthenticated = errors.New("authentication required")

// ErrNotFound means the addressed record does not exist or is hidden from the
// actor.
var ErrNotFound = errors.New("not found")

// NotAuthorizedError means the actor may not touch the resource at all.
type NotAuthorizedError struct {
	Reason string
}

func (e NotAuthorizedError) Error() string {
	if e.Reason == "" {
		return "not authorized"
	}
	return e.Reason
}

// FieldError is used to indicate an error with a specific field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError reports malformed input.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, fields ...FieldError) error {
	return &ValidationError{Err: err, Fields: fields}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed"
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConflictError reports a write that lost a race with another writer.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string {
	if e.Reason == "" {
		return "conflicting update"
	}
	return e.Reason
}

// UnavailableError wraps a failure to reach the backing store or broker.
// Callers may retry it.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: backend unavailable: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Unavailable wraps err as an UnavailableError when it is retryable and
// returns it unchanged otherwise.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	if ok, _ := IsRetryable(err); ok {
		return &UnavailableError{Op: op, Err: err}
	}
	return err
}

// IsRetryable classifies err and names the class.
func IsRetryable(err error) (bool, string) {
	if err == nil {
		return false, ""
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return true, "backend_unavailable"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true, "bad_connection"
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true, "db_connection_error"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08: connection exception, 40001: serialization failure, 57P: operator intervention.
		if strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "40001" || strings.HasPrefix(pgErr.Code, "57P") {
			return true, "db_transient_error"
		}
		return false, "db_error"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "sqlite_busy"):
		return true, "db_busy"
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return true, "db_connection_error"
	}
	return false, "unknown_error"
}
