package pgbridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ConfigError reports a connection URL or configuration that cannot be used.
// It is fatal at startup.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", msg, e.Err)
	}
	return "configuration error: " + msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ValidationError reports a call that was rejected before reaching the database:
// malformed arguments, a statement class the tool does not allow, a forbidden
// phrase, or an invalid identifier.
type ValidationError struct {
	Problems []string
}

func newValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Problems: []string{fmt.Sprintf(format, args...)}}
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

// DatabaseError wraps every failure coming from the engine or the pool
// (connect, acquire, execute, shutdown). Code is the SQLSTATE when the engine
// reported one.
type DatabaseError struct {
	Op      string
	Code    string
	Message string
	Detail  string
	Err     error
}

func (e *DatabaseError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Code != "" {
		sb.WriteString(" (SQLSTATE ")
		sb.WriteString(e.Code)
		sb.WriteString(")")
	}
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline (client- or server-side).
func (e *DatabaseError) Timeout() bool {
	return e.Code == sqlStateQueryCanceled || pgconn.Timeout(e.Err) || errors.Is(e.Err, context.DeadlineExceeded)
}

const sqlStateQueryCanceled = "57014"

// wrapDBError converts a pgx/pgconn error into a *DatabaseError. Errors that
// are already a *DatabaseError or *ValidationError pass through unchanged.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return err
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return err
	}

	out := &DatabaseError{Op: op, Err: err}

	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		out.Code = pgErr.Code
		out.Message = pgErr.Message
		out.Detail = pgErr.Detail
		if out.Detail == "" {
			out.Detail = pgErr.Hint
		}
	case errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err):
		out.Message = "timed out"
		out.Detail = err.Error()
	case errors.Is(err, context.Canceled):
		out.Message = "cancelled"
		out.Detail = err.Error()
	default:
		out.Message = err.Error()
	}
	return out
}
