// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import "time"

// CircuitState represents the state of a dependency's circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows calls through normally.
	CircuitClosed CircuitState = iota

	// CircuitOpen rejects all calls immediately.
	CircuitOpen

	// CircuitHalfOpen allows limited probe calls to test recovery.
	CircuitHalfOpen
)

// String returns the human-readable name for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures circuit breaker behavior for one dependency key.
//
// Configs are immutable once installed; Configure replaces the whole value.
type BreakerConfig struct {
	// FailureThreshold is the number of failures in closed state before
	// the circuit opens. Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the next
	// call is allowed through as a recovery probe. Default: 60s
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls is the max probe calls admitted in half-open state.
	// Default: 1
	HalfOpenMaxCalls int

	// SuccessThreshold is the number of successes in half-open state
	// required to close the circuit. Default: 2
	SuccessThreshold int

	// SuccessHealAmount is how much a success in closed state decrements
	// the failure count. Isolated failures with interleaved successes then
	// never threaten the breaker. Default: 1
	SuccessHealAmount int
}

// DefaultBreakerConfig returns sensible defaults for production use.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   60 * time.Second,
		HalfOpenMaxCalls:  1,
		SuccessThreshold:  2,
		SuccessHealAmount: 1,
	}
}

// applyDefaults fills zero-valued fields from the defaults.
func (c *BreakerConfig) applyDefaults() {
	defaults := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = defaults.RecoveryTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = defaults.HalfOpenMaxCalls
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = defaults.SuccessThreshold
	}
	if c.SuccessHealAmount <= 0 {
		c.SuccessHealAmount = defaults.SuccessHealAmount
	}
}

// breakerState is the per-key mutable breaker state.
// All access goes through the Registry mutex.
type breakerState struct {
	state           CircuitState
	failureCount    int
	successCount    int
	halfOpenCalls   int
	lastFailureTime time.Time
	lastStateChange time.Time

	totalCalls         int64
	totalFailures      int64
	totalShortCircuits int64
}

// BreakerStatus is a read-only snapshot of one dependency's breaker.
//
// Snapshots are copies; mutating one has no effect on the registry.
type BreakerStatus struct {
	// Key is the dependency this status describes.
	Key string `json:"key"`

	// State is the current circuit state.
	State string `json:"state"`

	// FailureCount is the current consecutive-ish failure tally in
	// closed state (successes heal it, see BreakerConfig).
	FailureCount int `json:"failure_count"`

	// SuccessCount is the probe success tally in half-open state.
	SuccessCount int `json:"success_count"`

	// HalfOpenCalls is the number of probes admitted this half-open cycle.
	HalfOpenCalls int `json:"half_open_calls"`

	// RetryAfterSeconds is the remaining wait while open; 0 otherwise.
	RetryAfterSeconds float64 `json:"retry_after_seconds"`

	// LastFailureTime is when the last failure was recorded.
	LastFailureTime time.Time `json:"last_failure_time"`

	// LastStateChange is when the breaker last changed state.
	LastStateChange time.Time `json:"last_state_change"`

	// TotalCalls counts admitted calls over the process lifetime.
	TotalCalls int64 `json:"total_calls"`

	// TotalFailures counts recorded failures over the process lifetime.
	TotalFailures int64 `json:"total_failures"`

	// TotalShortCircuits counts fast-fail denials over the process lifetime.
	TotalShortCircuits int64 `json:"total_short_circuits"`
}
