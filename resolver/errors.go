package resolver

import (
	"errors"
	"fmt"
)

// Lookup failure kinds, matched with errors.Is.
var (
	ErrTimeout         = errors.New("no answer from nameservers")
	ErrNotFound        = errors.New("name does not exist")
	ErrServerFailure   = errors.New("nameserver failure")
	ErrRefused         = errors.New("query refused")
	ErrNoData          = errors.New("no usable records in answer")
	ErrStrange         = errors.New("answer does not match question")
	ErrMalicious       = errors.New("malicious answer")
	ErrNotCorroborated = errors.New("forward lookup does not match reverse lookup")
	ErrExhausted       = errors.New("too many pending lookups")
	ErrBadTarget       = errors.New("invalid lookup target")
)

// LookupError is the error delivered to a requester when a lookup fails
// permanently.
type LookupError struct {
	Target string
	Reason string
	Err    error
}

func (e *LookupError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("lookup %s: %v (%s)", e.Target, e.Err, e.Reason)
	}
	return fmt.Sprintf("lookup %s: %v", e.Target, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Temporary reports whether a later lookup of the same target may succeed.
func (e *LookupError) Temporary() bool {
	switch {
	case errors.Is(e.Err, ErrTimeout),
		errors.Is(e.Err, ErrServerFailure),
		errors.Is(e.Err, ErrExhausted):
		return true
	}
	return false
}

func lookupError(target string, err error, reason string) *LookupError {
	return &LookupError{Target: target, Reason: reason, Err: err}
}
