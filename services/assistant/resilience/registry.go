// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry tracks one circuit breaker per dependency key.
//
// Description:
//
//	Breaker state is created lazily on first reference and never destroyed
//	within the process lifetime (Reset exists for test isolation). State
//	transitions follow CLOSED -> OPEN -> HALF_OPEN -> {CLOSED | OPEN};
//	no other transition exists.
//
// Thread Safety: Safe for concurrent use. A single registry mutex orders
// all mutations; transitions within one key are totally ordered, and there
// is no cross-key atomicity guarantee.
type Registry struct {
	mu       sync.Mutex
	defaults BreakerConfig
	configs  map[string]BreakerConfig
	states   map[string]*breakerState
	logger   *slog.Logger

	// now is swapped in tests to control the clock.
	now func() time.Time
}

// NewRegistry creates a registry with default breaker behavior.
//
// Inputs:
//
//	logger - Logger instance. Uses slog.Default() if nil.
//
// Outputs:
//
//	*Registry - Ready-to-use registry with all circuits closed.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		defaults: DefaultBreakerConfig(),
		configs:  make(map[string]BreakerConfig),
		states:   make(map[string]*breakerState),
		logger:   logger.With(slog.String("component", "breaker_registry")),
		now:      time.Now,
	}
}

// Configure installs a non-default config for one dependency key.
//
// Zero-valued fields are filled from the defaults. Only the given key's
// behavior changes; other keys keep the registry defaults.
func (r *Registry) Configure(key string, config BreakerConfig) {
	config.applyDefaults()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[key] = config
}

// PreCall decides whether a call to the given dependency is admitted.
//
// Description:
//
//	In closed state calls are always allowed. In open state the call is
//	allowed only once the recovery timeout has elapsed, transitioning the
//	circuit to half-open; otherwise the call is denied with the remaining
//	wait. In half-open state up to HalfOpenMaxCalls probes are admitted,
//	after which denials suggest the full recovery timeout as the wait.
//
//	Once admission is granted the registry takes no further action until
//	RecordSuccess or RecordFailure is reported back.
//
// Inputs:
//
//	key - Dependency key of the call site.
//
// Outputs:
//
//	error - Nil if the call is admitted, otherwise a *CircuitOpenError
//	        carrying the key and suggested wait.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) PreCall(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.stateLocked(key)
	cfg := r.configLocked(key)
	now := r.now()

	switch st.state {
	case CircuitClosed:
		st.totalCalls++
		return nil

	case CircuitOpen:
		elapsed := now.Sub(st.lastFailureTime)
		if elapsed >= cfg.RecoveryTimeout {
			r.transitionLocked(key, st, CircuitHalfOpen, now)
			st.halfOpenCalls = 1
			st.totalCalls++
			return nil
		}
		st.totalShortCircuits++
		return &CircuitOpenError{Key: key, RetryAfter: cfg.RecoveryTimeout - elapsed}

	case CircuitHalfOpen:
		if st.halfOpenCalls < cfg.HalfOpenMaxCalls {
			st.halfOpenCalls++
			st.totalCalls++
			return nil
		}
		st.totalShortCircuits++
		return &CircuitOpenError{Key: key, RetryAfter: cfg.RecoveryTimeout}

	default:
		st.totalShortCircuits++
		return &CircuitOpenError{Key: key, RetryAfter: cfg.RecoveryTimeout}
	}
}

// RecordSuccess reports a successful call on the given dependency.
//
// In half-open state enough successes close the circuit and zero the
// failure count. In closed state each success heals the failure count by
// SuccessHealAmount (floored at zero), so isolated failures do not
// accumulate toward the threshold indefinitely.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) RecordSuccess(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.stateLocked(key)
	cfg := r.configLocked(key)

	switch st.state {
	case CircuitClosed:
		st.failureCount -= cfg.SuccessHealAmount
		if st.failureCount < 0 {
			st.failureCount = 0
		}

	case CircuitHalfOpen:
		st.successCount++
		if st.successCount >= cfg.SuccessThreshold {
			r.transitionLocked(key, st, CircuitClosed, r.now())
			st.failureCount = 0
		}
	}
}

// RecordFailure reports a failed call on the given dependency.
//
// In closed state failures accumulate until FailureThreshold opens the
// circuit. Any failure in half-open state reopens the circuit immediately:
// the recovery attempt failed.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) RecordFailure(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.stateLocked(key)
	cfg := r.configLocked(key)
	now := r.now()

	st.totalFailures++
	st.lastFailureTime = now

	switch st.state {
	case CircuitClosed:
		st.failureCount++
		if st.failureCount >= cfg.FailureThreshold {
			r.transitionLocked(key, st, CircuitOpen, now)
		}

	case CircuitHalfOpen:
		r.transitionLocked(key, st, CircuitOpen, now)
	}
}

// Status returns a read-only snapshot for one dependency key.
//
// Referencing an unknown key lazily creates its (closed) breaker state,
// matching PreCall semantics.
func (r *Registry) Status(key string) BreakerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked(key, r.stateLocked(key))
}

// AllStatus returns snapshots for every known dependency key, sorted by key.
func (r *Registry) AllStatus() []BreakerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]BreakerStatus, 0, len(r.states))
	for key, st := range r.states {
		statuses = append(statuses, r.statusLocked(key, st))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Key < statuses[j].Key })
	return statuses
}

// OpenCircuits returns the keys of all currently open circuits, sorted.
func (r *Registry) OpenCircuits() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []string
	for key, st := range r.states {
		if st.state == CircuitOpen {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Reset clears all breaker state and per-key configs.
//
// This is a test/operational utility; production code relies on the
// half-open recovery path instead.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = make(map[string]*breakerState)
	r.configs = make(map[string]BreakerConfig)
	r.logger.Info("breaker registry reset")
}

// stateLocked returns the breaker state for key, creating it lazily.
// Must be called with the registry mutex held.
func (r *Registry) stateLocked(key string) *breakerState {
	st, ok := r.states[key]
	if !ok {
		st = &breakerState{state: CircuitClosed, lastStateChange: r.now()}
		r.states[key] = st
	}
	return st
}

// configLocked returns the effective config for key.
// Must be called with the registry mutex held.
func (r *Registry) configLocked(key string) BreakerConfig {
	if cfg, ok := r.configs[key]; ok {
		return cfg
	}
	return r.defaults
}

// transitionLocked changes one breaker's state and resets probe counters.
// Must be called with the registry mutex held.
func (r *Registry) transitionLocked(key string, st *breakerState, to CircuitState, now time.Time) {
	from := st.state
	st.state = to
	st.lastStateChange = now
	st.successCount = 0
	st.halfOpenCalls = 0

	r.logger.Info("circuit state change",
		slog.String("dependency", key),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Int("failure_count", st.failureCount))
}

// statusLocked builds a snapshot for one key.
// Must be called with the registry mutex held.
func (r *Registry) statusLocked(key string, st *breakerState) BreakerStatus {
	status := BreakerStatus{
		Key:                key,
		State:              st.state.String(),
		FailureCount:       st.failureCount,
		SuccessCount:       st.successCount,
		HalfOpenCalls:      st.halfOpenCalls,
		LastFailureTime:    st.lastFailureTime,
		LastStateChange:    st.lastStateChange,
		TotalCalls:         st.totalCalls,
		TotalFailures:      st.totalFailures,
		TotalShortCircuits: st.totalShortCircuits,
	}
	if st.state == CircuitOpen {
		cfg := r.configLocked(key)
		remaining := cfg.RecoveryTimeout - r.now().Sub(st.lastFailureTime)
		if remaining > 0 {
			status.RetryAfterSeconds = remaining.Seconds()
		}
	}
	return status
}
