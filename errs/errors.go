// Package errs collects the sentinel error kinds shared across the engine
// (spec section 7), so callers can test for them with errors.Is regardless
// of which component wrapped them.
package errs

import "errors"

var (
	ErrIO                 = errors.New("io error")
	ErrInvalidFormat      = errors.New("invalid format")
	ErrNoSuchFile         = errors.New("no such file")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrUnknownLayout      = errors.New("unknown layout")
	ErrInitFailure        = errors.New("init failure")
	ErrTimeout            = errors.New("timeout")
	ErrCancelled          = errors.New("cancelled")
	ErrUnspecified        = errors.New("unspecified error")
	ErrInvalidArgument    = errors.New("invalid argument")
)
