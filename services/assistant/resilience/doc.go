// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resilience protects calls to unreliable external dependencies.
//
// It provides three cooperating pieces:
//
//   - A deterministic failure classifier that maps raw error text to a
//     closed category set and a content-addressed fingerprint, and decides
//     whether a failure is infrastructure-level or a domain error.
//   - A circuit breaker registry with one three-state breaker per
//     dependency key, preventing cascades against a degraded dependency.
//   - A fallback dispatcher that transparently substitutes an alternate
//     execution path when the primary path's infrastructure is unhealthy.
//
// This package decides whether a call is allowed and which path to use.
// It never retries on its own timer; retries, timeouts, and cancellation
// remain the caller's responsibility.
package resilience
