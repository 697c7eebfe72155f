package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel causes. Engines and sources wrap these so Classify can pick a kind.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidQuery     = errors.New("invalid sql")
	ErrQueryInterrupted = errors.New("sql query interrupted")
	ErrTooManyExports   = errors.New("too many concurrent exports, please try again later")
)

// ErrorKind classifies a failure for presentation.
type ErrorKind int

const (
	KindUser ErrorKind = iota
	KindNotFound
	KindInvalidQuery
	KindQueryInterrupted
	KindConfigRejected
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidQuery:
		return "invalid_query"
	case KindQueryInterrupted:
		return "query_interrupted"
	case KindConfigRejected:
		return "configuration_rejected"
	case KindUnavailable:
		return "unavailable"
	default:
		return "user_error"
	}
}

// interruptedMessage is shown when a query exceeds sql_time_limit_ms.
const interruptedMessage = `SQL query took too long. The time limit is controlled by the
<code>sql_time_limit_ms</code> setting.`

// Error is the uniform user-facing failure: message, title, status and
// whether the message is already HTML. The technical cause is kept for logs.
type Error struct {
	Kind          ErrorKind
	Status        int
	Title         string
	Message       string
	MessageIsHTML bool
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFoundError reports an unknown database, table or row.
func NotFoundError(format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Kind:    KindNotFound,
		Status:  http.StatusNotFound,
		Title:   "Not found",
		Message: msg,
		Err:     ErrNotFound,
	}
}

// InvalidQueryError reports malformed SQL or an engine operational failure.
func InvalidQueryError(err error) *Error {
	return &Error{
		Kind:    KindInvalidQuery,
		Status:  http.StatusBadRequest,
		Title:   "Invalid SQL",
		Message: trimSentinel(err, ErrInvalidQuery),
		Err:     err,
	}
}

// InterruptedError reports a query that exceeded its time limit.
func InterruptedError(err error) *Error {
	return &Error{
		Kind:          KindQueryInterrupted,
		Status:        http.StatusBadRequest,
		Title:         "SQL Interrupted",
		Message:       interruptedMessage,
		MessageIsHTML: true,
		Err:           err,
	}
}

// RejectedError reports a request the server configuration does not allow,
// or flags that cannot be combined.
func RejectedError(format string, args ...any) *Error {
	return &Error{
		Kind:    KindConfigRejected,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

// UnavailableError reports a request refused because capacity is exhausted.
func UnavailableError(err error) *Error {
	return &Error{
		Kind:    KindUnavailable,
		Status:  http.StatusServiceUnavailable,
		Title:   "Busy",
		Message: err.Error(),
		Err:     err,
	}
}

// Classify converts any error into an *Error. Errors that are already
// classified pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, ErrQueryInterrupted):
		return InterruptedError(err)
	case errors.Is(err, ErrInvalidQuery):
		return InvalidQueryError(err)
	case errors.Is(err, ErrNotFound):
		return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Title: "Not found", Message: err.Error(), Err: err}
	case errors.Is(err, ErrTooManyExports):
		return UnavailableError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return InterruptedError(err)
	}
	return &Error{
		Kind:    KindUser,
		Status:  http.StatusInternalServerError,
		Message: err.Error(),
		Err:     err,
	}
}

// trimSentinel drops the "invalid sql: " prefix added by engines so the
// engine's own message is what the user sees.
func trimSentinel(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
