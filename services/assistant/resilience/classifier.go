// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Category classifies a tool failure by its root cause.
//
// Categories drive mistake deduplication and advice rendering, so the set is
// closed: unknown failures fall through to CategoryOther.
type Category string

const (
	// CategoryInvalidFilter indicates a malformed or rejected filter expression.
	CategoryInvalidFilter Category = "invalid_filter"

	// CategoryInvalidMetric indicates an unknown or malformed metric reference.
	CategoryInvalidMetric Category = "invalid_metric"

	// CategoryWrongResourceType indicates a query against the wrong resource type.
	CategoryWrongResourceType Category = "wrong_resource_type"

	// CategorySyntaxError indicates the dependency could not parse the request.
	CategorySyntaxError Category = "syntax_error"

	// CategoryUnsupportedOperation indicates the operation is not available.
	CategoryUnsupportedOperation Category = "unsupported_operation"

	// CategoryInvalidArgument indicates a generically bad argument value.
	CategoryInvalidArgument Category = "invalid_argument"

	// CategoryOther is the fallback for unclassified failures.
	CategoryOther Category = "other"
)

// categoryPatterns maps substring clues to categories, most specific first.
// Order is behaviorally significant: resource-type clues must win over the
// generic invalid-argument clues, so this is a slice rather than a map.
var categoryPatterns = []struct {
	category Category
	clues    []string
}{
	{CategoryWrongResourceType, []string{
		"resource type", "resource.type", "monitored resource", "wrong resource",
	}},
	{CategoryInvalidFilter, []string{
		"invalid filter", "filter syntax", "bad filter", "filter expression",
	}},
	{CategoryInvalidMetric, []string{
		"invalid metric", "unknown metric", "metric type", "metric descriptor",
	}},
	{CategorySyntaxError, []string{
		"syntax error", "parse error", "unexpected token", "could not parse",
	}},
	{CategoryUnsupportedOperation, []string{
		"unsupported", "not supported", "not implemented", "unimplemented",
	}},
	{CategoryInvalidArgument, []string{
		"invalid argument", "invalid value", "invalid parameter", "bad request",
		"out of range",
	}},
}

// infrastructureClues identify failures caused by the transport or session
// layer rather than by the request itself. These never trigger mistake
// learning and are the only failures eligible for fallback dispatch.
var infrastructureClues = []string{
	"session",
	"connection refused",
	"connection reset",
	"connection closed",
	"unavailable",
	"transport",
	"timeout",
	"timed out",
	"deadline exceeded",
	"broken pipe",
	"no such host",
	"dial tcp",
	"eof",
}

// sensitiveKeyFragments mark argument keys whose values must never be stored
// or persisted.
var sensitiveKeyFragments = []string{
	"token", "secret", "password", "credential", "api_key", "apikey",
}

// maxArgValueLen caps sanitized argument values before truncation.
const maxArgValueLen = 200

// NormalizeErrorMessage lowercases a message and collapses all whitespace
// runs to single spaces.
//
// Cosmetically different renderings of the same error (casing, wrapping)
// normalize to the same string, which keeps fingerprints stable.
func NormalizeErrorMessage(msg string) string {
	return strings.Join(strings.Fields(strings.ToLower(msg)), " ")
}

// Classify maps a raw error message to a failure category.
//
// Description:
//
//	Performs an ordered substring match over the normalized message. The
//	first matching pattern group wins; unmatched messages are CategoryOther.
//	Classification is deterministic and case/whitespace-insensitive.
//
// Inputs:
//
//	errorMessage - Raw error text from the failed dependency.
//
// Outputs:
//
//	Category - The matched category, or CategoryOther.
func Classify(errorMessage string) Category {
	normalized := NormalizeErrorMessage(errorMessage)
	for _, group := range categoryPatterns {
		for _, clue := range group.clues {
			if strings.Contains(normalized, clue) {
				return group.category
			}
		}
	}
	return CategoryOther
}

// Fingerprint computes a stable content hash identifying one class of failure.
//
// Description:
//
//	Hashes the (tool, category, normalized message) triple. Two failures with
//	the same tool and semantically identical messages produce equal
//	fingerprints even when the raw messages differ in case or whitespace.
//
// Inputs:
//
//	toolName - Dependency key of the failed call site.
//	category - Failure category (typically from Classify).
//	errorMessage - Raw error text.
//
// Outputs:
//
//	string - Hex-encoded SHA-256 digest.
func Fingerprint(toolName string, category Category, errorMessage string) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(category))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeErrorMessage(errorMessage)))
	return hex.EncodeToString(h.Sum(nil))
}

// SanitizeArgs prepares call arguments for storage.
//
// Description:
//
//	Drops credential-shaped keys entirely and truncates long values. Every
//	argument map crossing into the mistake store or the persistence layer
//	must pass through here first.
//
// Inputs:
//
//	args - Raw call arguments. May be nil.
//
// Outputs:
//
//	map[string]string - Sanitized copy. Nil input yields an empty map.
func SanitizeArgs(args map[string]any) map[string]string {
	sanitized := make(map[string]string, len(args))
	for key, value := range args {
		if isSensitiveKey(key) {
			continue
		}
		sanitized[key] = TruncateValue(fmt.Sprintf("%v", value), maxArgValueLen)
	}
	return sanitized
}

// TruncateValue shortens s to at most max runes, appending an ellipsis
// marker when truncation occurred.
func TruncateValue(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// IsInfrastructureError reports whether an error message describes a
// transport/session-level failure rather than a domain error.
func IsInfrastructureError(msg string) bool {
	normalized := NormalizeErrorMessage(msg)
	for _, clue := range infrastructureClues {
		if strings.Contains(normalized, clue) {
			return true
		}
	}
	return false
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
