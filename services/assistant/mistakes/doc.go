// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mistakes records, deduplicates, and distills observed tool
// failures into actionable guidance.
//
// Three pieces cooperate:
//
//   - Store: a session-scoped cache of fingerprint-deduplicated
//     MistakeRecords, with best-effort delegation to an injected long-term
//     Persistence collaborator.
//   - Learner: observes failure/success sequences per dependency and
//     detects self-correction by diffing arguments between a failed call
//     and a later successful call on the same dependency.
//   - Advisor: renders stored mistakes and corrections into short
//     natural-language guidance blocks and summary statistics.
//
// The learning path is strictly best-effort: nothing in this package may
// fail the caller's primary execution path.
package mistakes
