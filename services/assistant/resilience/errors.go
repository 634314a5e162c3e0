// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the resilience layer.
var (
	// ErrNilOperation indicates a nil primary or fallback operation.
	ErrNilOperation = errors.New("operation must not be nil")
)

// CircuitOpenError is the fast-fail admission denial returned by PreCall
// when a dependency's circuit is open.
//
// It is never retried by this layer; callers must surface it as a
// structured, non-retryable error carrying the suggested wait time.
type CircuitOpenError struct {
	// Key is the dependency whose circuit is open.
	Key string

	// RetryAfter is the remaining wait before the next recovery probe.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %q: retry after %.0fs",
		e.Key, e.RetryAfter.Seconds())
}

// RetryAfterSeconds returns the wait time in whole seconds, floored at 0.
func (e *CircuitOpenError) RetryAfterSeconds() float64 {
	if e.RetryAfter < 0 {
		return 0
	}
	return e.RetryAfter.Seconds()
}

// IsCircuitOpen reports whether err is (or wraps) a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}
