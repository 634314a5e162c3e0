// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"syscall"
)

// Result statuses for the tagged operation result type.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the normalized outcome of a protected operation.
//
// Upstream dependencies report failures inconsistently: some raise Go
// errors, others return an error-shaped response body. Result unifies both
// shapes at the classification boundary so the dispatcher, learner, and
// advisor all operate on one form.
type Result struct {
	// Status is StatusSuccess or StatusError.
	Status string `json:"status"`

	// Payload carries the successful response body.
	Payload map[string]any `json:"payload,omitempty"`

	// Error carries the error message for error-shaped results.
	Error string `json:"error,omitempty"`

	// Meta carries dispatch metadata such as fallback_used.
	Meta map[string]any `json:"meta,omitempty"`
}

// OkResult builds a successful result with the given payload.
func OkResult(payload map[string]any) Result {
	return Result{Status: StatusSuccess, Payload: payload}
}

// ErrorResult builds an error-shaped result with the given message.
func ErrorResult(message string) Result {
	return Result{Status: StatusError, Error: message}
}

// IsError reports whether the result encodes a failure.
func (r Result) IsError() bool {
	return r.Status == StatusError
}

// FallbackUsed reports whether this result came from a fallback path.
func (r Result) FallbackUsed() bool {
	used, _ := r.Meta["fallback_used"].(bool)
	return used
}

// Operation is a caller-supplied unit of work against one dependency.
// Operations may be long-running I/O; cancellation is the caller's
// responsibility via ctx.
type Operation func(ctx context.Context) (Result, error)

// FallbackDispatcher routes a primary operation to a fallback path when the
// primary fails for infrastructure reasons.
//
// Description:
//
//	The dispatcher holds no shared state; it is pure control flow over the
//	caller-supplied operations. Domain errors (bad filter syntax, permission
//	denied, not-found) never trigger the fallback: they would fail the same
//	way on any path, and hiding them would break mistake learning.
//
// Thread Safety: Safe for concurrent use.
type FallbackDispatcher struct {
	logger *slog.Logger
}

// NewFallbackDispatcher creates a dispatcher.
//
// Inputs:
//
//	logger - Logger instance. Uses slog.Default() if nil.
func NewFallbackDispatcher(logger *slog.Logger) *FallbackDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackDispatcher{
		logger: logger.With(slog.String("component", "fallback_dispatcher")),
	}
}

// WithFallback runs primary and substitutes fallback on infrastructure
// failure.
//
// Description:
//
//	Decision order:
//	  1. primary returns an infrastructure-class error -> run fallback and
//	     return its outcome.
//	  2. primary returns normally but the result is error-shaped with an
//	     infrastructure-class message -> run fallback; the returned result
//	     is tagged with fallback_used=true and original_source="primary".
//	  3. any other outcome (success, domain error, domain-error-shaped
//	     result) passes through unchanged; fallback is never invoked.
//
// Inputs:
//
//	ctx - Context for cancellation. Passed to both operations.
//	key - Dependency key, used for logging only.
//	primary - The preferred execution path. Must not be nil.
//	fallback - The alternate path. Must not be nil.
//
// Outputs:
//
//	Result - The selected path's result.
//	error - Non-infrastructure errors from primary propagate unchanged;
//	        fallback errors propagate as-is.
//
// Thread Safety: Safe for concurrent use.
func (d *FallbackDispatcher) WithFallback(ctx context.Context, key string, primary, fallback Operation) (Result, error) {
	if primary == nil || fallback == nil {
		return Result{}, ErrNilOperation
	}

	res, err := primary(ctx)
	if err != nil {
		if !isInfrastructureFailure(err) {
			return Result{}, err
		}
		d.logger.Warn("primary path failed at infrastructure level, dispatching fallback",
			slog.String("dependency", key),
			slog.String("error", err.Error()))
		return fallback(ctx)
	}

	if res.IsError() && IsInfrastructureError(res.Error) {
		d.logger.Warn("primary path returned infrastructure error result, dispatching fallback",
			slog.String("dependency", key),
			slog.String("error", res.Error))
		fres, ferr := fallback(ctx)
		if ferr != nil {
			return Result{}, ferr
		}
		return tagFallback(fres), nil
	}

	return res, nil
}

// tagFallback marks a result as produced by the fallback path.
func tagFallback(res Result) Result {
	meta := make(map[string]any, len(res.Meta)+2)
	for k, v := range res.Meta {
		meta[k] = v
	}
	meta["fallback_used"] = true
	meta["original_source"] = "primary"
	res.Meta = meta
	return res
}

// isInfrastructureFailure classifies a Go error as transport/session-level.
//
// Typed network and deadline errors are recognized directly; everything
// else falls back to the shared keyword match so the dispatcher and the
// learner classify the same error identically.
func isInfrastructureFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return IsInfrastructureError(err.Error())
}
