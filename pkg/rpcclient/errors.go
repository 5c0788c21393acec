package rpcclient

import (
	"errors"
	"fmt"
)

// Ledger error codes used by callers
const (
	ErrCodeTxnNotFound    = "txnNotFound"
	ErrCodeActNotFound    = "actNotFound"
	ErrCodeObjectNotFound = "objectNotFound"
	ErrCodeLgrNotFound    = "lgrNotFound"
)

// TransportError is a network level failure. Always retryable by the caller.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFoundError is returned for HTTP 404.
type NotFoundError struct {
	Method string
	URL    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: endpoint not found: %s", e.Method, e.URL)
}

// ServerError is returned for any non 200, non 404 status or an unreadable body.
type ServerError struct {
	Method string
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: server error: status %d: %s", e.Method, e.Status, e.Body)
}

// ApplicationError is a structured error returned by the ledger server inside a 200 response.
type ApplicationError struct {
	Method  string
	Code    string
	Number  int
	Message string
}

func (e *ApplicationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Code)
}

// IsApplicationError reports whether err carries a ledger error with the given code.
func IsApplicationError(err error, code string) bool {
	var appErr *ApplicationError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsTransportError reports whether err is a transport failure or a server side failure
// that a caller may retry.
func IsTransportError(err error) bool {
	var transportErr *TransportError
	var serverErr *ServerError
	return errors.As(err, &transportErr) || errors.As(err, &serverErr)
}
