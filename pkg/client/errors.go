package client

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds of catalog requests.
var (
	// ErrNetwork is returned for transport failures and timeouts.
	ErrNetwork = errors.New("network error")

	// ErrHTTPStatus is returned when the catalog answers with a non-2xx status.
	ErrHTTPStatus = errors.New("unexpected http status")

	// ErrDecode is returned for malformed JSON or unusable payloads.
	ErrDecode = errors.New("decode error")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassHTTPStatus represents non-2xx responses.
	ErrorClassHTTPStatus ErrorClass = "http_status"

	// ErrorClassDecode represents payloads that could not be decoded.
	ErrorClassDecode ErrorClass = "decode"
)

// sentinel maps a class to the error matched by errors.Is.
func (c ErrorClass) sentinel() error {
	switch c {
	case ErrorClassNetwork:
		return ErrNetwork
	case ErrorClassHTTPStatus:
		return ErrHTTPStatus
	case ErrorClassDecode:
		return ErrDecode
	default:
		return nil
	}
}

// Error is a classified catalog request failure.
type Error struct {
	Class      ErrorClass
	StatusCode int
	URL        string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("picsum %s error (status %d) for %s: %v", e.Class, e.StatusCode, e.URL, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("picsum %s error (status %d) for %s", e.Class, e.StatusCode, e.URL)
	case e.Err != nil:
		return fmt.Sprintf("picsum %s error for %s: %v", e.Class, e.URL, e.Err)
	default:
		return fmt.Sprintf("picsum %s error for %s", e.Class, e.URL)
	}
}

// Unwrap exposes both the class sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Class.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Classify returns the class of err, or "" when err is not a catalog error.
func Classify(err error) ErrorClass {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Class
	}
	return ""
}
