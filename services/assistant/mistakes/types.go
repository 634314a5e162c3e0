// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mistakes

import (
	"context"
	"time"

	"github.com/meridianops/meridian/services/assistant/resilience"
)

// Confidence grades how reliable a persisted lesson is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Finding is one search hit from the long-term memory collaborator.
type Finding struct {
	// Content is the persisted description text.
	Content string

	// Metadata carries collaborator-specific context.
	Metadata map[string]string
}

// Persistence is the injected long-term memory collaborator.
//
// Description:
//
//	Both operations are independently fallible and eventually consistent.
//	The store treats writes as fire-and-forget: persistence errors are
//	logged at debug level and never surfaced to callers, and they never
//	block the in-memory cache path.
type Persistence interface {
	// Save persists one lesson description.
	Save(ctx context.Context, description, sourceTool string, confidence Confidence, sessionID, userID string) error

	// Search returns previously persisted lessons matching the query.
	Search(ctx context.Context, query, sessionID string, limit int, userID string) ([]Finding, error)
}

// MistakeRecord is a deduplicated, occurrence-counted representation of one
// class of observed failure, optionally enriched with a later
// self-correction.
//
// Records are keyed by fingerprint; there is exactly one record per unique
// fingerprint within a session, and records are never deleted within a
// session. Returned records are copies; mutating them has no effect on the
// store.
type MistakeRecord struct {
	// ToolName is the dependency key the mistake was observed on.
	ToolName string `json:"tool_name"`

	// Category is the classified failure category.
	Category resilience.Category `json:"category"`

	// ErrorMessage is the raw error text of the first observation.
	ErrorMessage string `json:"error_message"`

	// FailedArgs are the sanitized arguments of the failed call.
	FailedArgs map[string]string `json:"failed_args,omitempty"`

	// Correction describes the observed fix, if one was learned.
	Correction string `json:"correction,omitempty"`

	// CorrectedArgs are the sanitized arguments of the succeeding call.
	CorrectedArgs map[string]string `json:"corrected_args,omitempty"`

	// OccurrenceCount is how many times this mistake was observed.
	// Always >= 1 and monotonically non-decreasing.
	OccurrenceCount int `json:"occurrence_count"`

	// FirstSeen is when the mistake was first observed.
	FirstSeen time.Time `json:"first_seen"`

	// LastSeen is when the mistake was most recently observed.
	LastSeen time.Time `json:"last_seen"`

	// Fingerprint is the stable content hash identifying this mistake.
	Fingerprint string `json:"fingerprint"`
}

// Corrected reports whether a self-correction has been attached.
func (r MistakeRecord) Corrected() bool {
	return r.Correction != ""
}

// clone returns a deep copy safe to hand outside the store.
func (r *MistakeRecord) clone() MistakeRecord {
	out := *r
	out.FailedArgs = copyStringMap(r.FailedArgs)
	out.CorrectedArgs = copyStringMap(r.CorrectedArgs)
	return out
}

// RecentFailure is one entry in the learner's per-dependency recency
// buffer. It exists only to support self-correction detection within a
// bounded window and is never persisted.
type RecentFailure struct {
	ToolName     string
	ErrorMessage string
	Category     resilience.Category
	Args         map[string]string
	Timestamp    time.Time
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
