// Package upstream defines the error type returned by the clients that call
// the identity provider and the secret store.  Handlers use it to tell an
// unreachable or misbehaving dependency apart from a rejected credential.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Service names used in Error.Service and in metrics labels.
const (
	ServiceIAM     = "iam"
	ServiceSecrets = "secrets_manager"
)

// Error reports a failed call to an upstream dependency: a transport
// failure, an unexpected status code or a body that could not be decoded.
// StatusCode is zero when no HTTP response was received.
type Error struct {
	Service    string
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d: %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call failed because its deadline expired.
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// NewError creates an Error.
func NewError(service, op string, statusCode int, err error) *Error {
	return &Error{Service: service, Op: op, StatusCode: statusCode, Err: err}
}

// AsError returns the *Error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// IsError returns true if err wraps an *Error.
func IsError(err error) bool {
	_, ok := AsError(err)
	return ok
}

// StripURL removes the *url.Error wrapper added by http.Client.Do so the
// request URL, which may embed identifiers, does not reach logs.
func StripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
