// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guard wires the resilience and learning layers into a single
// protected-call path for dependency wrappers, and exposes the read-only
// diagnostics surface over HTTP.
package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridianops/meridian/services/assistant/mistakes"
	"github.com/meridianops/meridian/services/assistant/resilience"
	"github.com/meridianops/meridian/services/assistant/telemetry"
)

// CallOptions carries the optional parts of a protected call.
type CallOptions struct {
	// Fallback is the alternate execution path, used only when the
	// primary fails at the infrastructure level. May be nil.
	Fallback resilience.Operation

	// Args are the raw call arguments, used for mistake learning.
	Args map[string]any

	// SessionID and UserID scope persisted lessons. Both optional.
	SessionID string
	UserID    string
}

// Guard executes dependency calls under circuit breaking, fallback
// dispatch, and mistake learning.
//
// Description:
//
//	One Guard instance serves all dependencies; per-dependency state
//	lives in the injected registry and learner. The learner is strictly
//	best-effort and can never fail a call.
//
// Thread Safety: Safe for concurrent use.
type Guard struct {
	registry   *resilience.Registry
	dispatcher *resilience.FallbackDispatcher
	learner    *mistakes.Learner
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// NewGuard creates a guard over the given collaborators.
//
// Inputs:
//
//	registry - Circuit breaker registry. Must not be nil.
//	learner - Mistake learner. May be nil to disable learning.
//	metrics - Telemetry instruments. May be nil to disable metrics.
//	logger - Logger instance. Uses slog.Default() if nil.
//
// Outputs:
//
//	*Guard - Ready-to-use guard.
func NewGuard(registry *resilience.Registry, learner *mistakes.Learner, metrics *telemetry.Metrics, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		registry:   registry,
		dispatcher: resilience.NewFallbackDispatcher(logger),
		learner:    learner,
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "guard")),
	}
}

// Call runs one protected dependency call.
//
// Description:
//
//	Consults the circuit breaker before invoking the dependency; on
//	denial the returned *resilience.CircuitOpenError carries the
//	suggested wait and must be surfaced as non-retryable. Outcomes are
//	reported back to the breaker and, invisibly to the caller, to the
//	mistake learner. When a fallback is supplied, infrastructure-level
//	primary failures are transparently served by it.
//
// Inputs:
//
//	ctx - Context for the operations and persistence writes.
//	key - Dependency key of the call site.
//	primary - The operation to protect. Must not be nil.
//	opts - Optional fallback, arguments, and session scope.
//
// Outputs:
//
//	resilience.Result - The selected path's result. Error-shaped domain
//	                    results pass through verbatim.
//	error - Circuit-open denials, non-infrastructure operation errors,
//	        or fallback errors.
//
// Thread Safety: Safe for concurrent use.
func (g *Guard) Call(ctx context.Context, key string, primary resilience.Operation, opts CallOptions) (resilience.Result, error) {
	if primary == nil {
		return resilience.Result{}, resilience.ErrNilOperation
	}

	if err := g.registry.PreCall(key); err != nil {
		if g.metrics != nil {
			g.metrics.RecordShortCircuit(ctx, key)
		}
		return resilience.Result{}, err
	}

	start := time.Now()
	var res resilience.Result
	var err error
	if opts.Fallback != nil {
		res, err = g.dispatcher.WithFallback(ctx, key, primary, opts.Fallback)
	} else {
		res, err = primary(ctx)
	}
	elapsed := time.Since(start).Seconds()

	switch {
	case err != nil:
		g.registry.RecordFailure(key)
		if g.learner != nil {
			g.learner.OnException(ctx, key, opts.Args, err, opts.SessionID, opts.UserID)
		}
		g.record(ctx, key, "error", elapsed, res)
		return resilience.Result{}, err

	case res.IsError():
		g.registry.RecordFailure(key)
		if g.learner != nil {
			g.learner.OnFailure(ctx, key, opts.Args, res.Error, opts.SessionID, opts.UserID)
		}
		g.record(ctx, key, "error_result", elapsed, res)
		return res, nil

	default:
		g.registry.RecordSuccess(key)
		if g.learner != nil {
			g.learner.OnSuccess(ctx, key, opts.Args, opts.SessionID, opts.UserID)
		}
		g.record(ctx, key, "success", elapsed, res)
		return res, nil
	}
}

func (g *Guard) record(ctx context.Context, key, outcome string, seconds float64, res resilience.Result) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordCall(ctx, key, outcome, seconds)
	if res.FallbackUsed() {
		g.metrics.RecordFallback(ctx, key)
	}
}
