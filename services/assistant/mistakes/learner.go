// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mistakes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meridianops/meridian/services/assistant/events"
	"github.com/meridianops/meridian/services/assistant/resilience"
)

// recentFailureCap bounds the per-dependency recency buffer. A success
// only counts as a self-correction if the matching failure is still within
// this window.
const recentFailureCap = 5

// correctionValueLen caps old/new values quoted in correction text.
const correctionValueLen = 60

// Learner turns observed failure/success sequences into mistake records
// and self-corrections.
//
// Description:
//
//	The learner buffers recent failures per dependency key. When a later
//	call on the same key succeeds, it diffs the arguments between the
//	failed and the succeeding call and records the change as a correction.
//
//	All entry points are best-effort: any internal failure (including
//	panics) is caught and logged. The learner must never be able to break
//	the caller's primary execution path.
//
// Thread Safety: Safe for concurrent use. The buffer shares the learner
// mutex, so concurrent failure/success reports for the same key cannot
// corrupt it.
type Learner struct {
	mu     sync.Mutex
	recent map[string][]RecentFailure

	store  *Store
	sink   events.Sink
	logger *slog.Logger

	// now is swapped in tests to control timestamps.
	now func() time.Time
}

// NewLearner creates a learner over the given store.
//
// Inputs:
//
//	store - Mistake store. Must not be nil.
//	sink - Event sink for UI/telemetry. May be nil.
//	logger - Logger instance. Uses slog.Default() if nil.
//
// Outputs:
//
//	*Learner - Ready-to-use learner with empty buffers.
func NewLearner(store *Store, sink events.Sink, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Learner{
		recent: make(map[string][]RecentFailure),
		store:  store,
		sink:   sink,
		logger: logger.With(slog.String("component", "mistake_learner")),
		now:    time.Now,
	}
}

// OnFailure reports a failed call for learning.
//
// Description:
//
//	Infrastructure-level failures are not learnable: they say nothing
//	about the arguments, so they are skipped entirely. Domain failures are
//	classified, recorded in the store, and pushed onto the per-key recency
//	buffer for later self-correction detection.
//
// Inputs:
//
//	ctx - Context for persistence writes.
//	toolName - Dependency key of the failed call.
//	args - Raw call arguments. May be nil.
//	errorMessage - Raw error text.
//	sessionID, userID - Optional persistence scope.
//
// Thread Safety: Safe for concurrent use. Never panics or returns an error.
func (l *Learner) OnFailure(ctx context.Context, toolName string, args map[string]any, errorMessage, sessionID, userID string) {
	defer l.recovered("on_failure", toolName)

	if errorMessage == "" || resilience.IsInfrastructureError(errorMessage) {
		l.logger.Debug("skipping non-learnable failure",
			slog.String("tool", toolName))
		return
	}

	ctx = WithScope(ctx, Scope{SessionID: sessionID, UserID: userID})
	category := resilience.Classify(errorMessage)
	rec := l.store.RecordMistake(ctx, toolName, errorMessage, args, category)

	l.mu.Lock()
	buf := append(l.recent[toolName], RecentFailure{
		ToolName:     toolName,
		ErrorMessage: errorMessage,
		Category:     category,
		Args:         resilience.SanitizeArgs(args),
		Timestamp:    l.now(),
	})
	if len(buf) > recentFailureCap {
		buf = buf[len(buf)-recentFailureCap:]
	}
	l.recent[toolName] = buf
	l.mu.Unlock()

	ev := events.New(events.ActionMistakeRecorded, "learning",
		fmt.Sprintf("Recorded mistake for %s", toolName))
	ev.Description = resilience.TruncateValue(errorMessage, 120)
	ev.ToolName = toolName
	ev.Metadata = map[string]string{
		"category":    string(rec.Category),
		"fingerprint": rec.Fingerprint,
		"occurrences": fmt.Sprintf("%d", rec.OccurrenceCount),
	}
	l.sink.Publish(ev)
}

// OnSuccess reports a successful call, detecting self-correction.
//
// Description:
//
//	If a recent failure is buffered for the tool, the most recent one is
//	popped and its arguments diffed against the succeeding call's. The
//	change set becomes a correction on the original mistake record; if no
//	arguments changed, a generic different-approach correction is recorded.
//
// Inputs:
//
//	ctx - Context for persistence writes.
//	toolName - Dependency key of the succeeding call.
//	args - Raw call arguments. May be nil.
//	sessionID, userID - Optional persistence scope.
//
// Thread Safety: Safe for concurrent use. Never panics or returns an error.
func (l *Learner) OnSuccess(ctx context.Context, toolName string, args map[string]any, sessionID, userID string) {
	defer l.recovered("on_success", toolName)

	l.mu.Lock()
	buf := l.recent[toolName]
	if len(buf) == 0 {
		l.mu.Unlock()
		return
	}
	failure := buf[len(buf)-1]
	l.recent[toolName] = buf[:len(buf)-1]
	l.mu.Unlock()

	ctx = WithScope(ctx, Scope{SessionID: sessionID, UserID: userID})
	correction := buildCorrection(failure, resilience.SanitizeArgs(args))

	if l.store.RecordCorrection(ctx, toolName, failure.ErrorMessage, correction, args, failure.Category) {
		ev := events.New(events.ActionPatternLearned, "learning",
			fmt.Sprintf("Learned correction for %s", toolName))
		ev.Description = correction
		ev.ToolName = toolName
		ev.Metadata = map[string]string{"category": string(failure.Category)}
		l.sink.Publish(ev)
	}
}

// OnException reports a failed call that surfaced as a Go error.
//
// Formats the error as "<Type>: <message>" and delegates to OnFailure.
//
// Thread Safety: Safe for concurrent use. Never panics.
func (l *Learner) OnException(ctx context.Context, toolName string, args map[string]any, err error, sessionID, userID string) {
	defer l.recovered("on_exception", toolName)

	if err == nil {
		return
	}
	l.OnFailure(ctx, toolName, args, fmt.Sprintf("%T: %s", err, err.Error()), sessionID, userID)
}

// RecentFailures returns a copy of the buffered failures for one tool,
// oldest first. Intended for diagnostics.
func (l *Learner) RecentFailures(toolName string) []RecentFailure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]RecentFailure(nil), l.recent[toolName]...)
}

// recovered logs a panic from a learner entry point instead of letting it
// escape into the caller's execution path.
func (l *Learner) recovered(entry, toolName string) {
	if r := recover(); r != nil {
		l.logger.Error("mistake learner recovered from panic",
			slog.String("entry_point", entry),
			slog.String("tool", toolName),
			slog.Any("panic", r))
	}
}

// buildCorrection describes what changed between a failed call's arguments
// and the succeeding call's.
func buildCorrection(failure RecentFailure, successArgs map[string]string) string {
	keys := make(map[string]struct{}, len(failure.Args)+len(successArgs))
	for k := range failure.Args {
		keys[k] = struct{}{}
	}
	for k := range successArgs {
		keys[k] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []string
	for _, k := range sorted {
		before, hadBefore := failure.Args[k]
		after, hasAfter := successArgs[k]
		switch {
		case hadBefore && hasAfter && before != after:
			changes = append(changes, fmt.Sprintf("%s: '%s' -> '%s'",
				k, resilience.TruncateValue(before, correctionValueLen),
				resilience.TruncateValue(after, correctionValueLen)))
		case !hadBefore && hasAfter:
			changes = append(changes, fmt.Sprintf("%s: added '%s'",
				k, resilience.TruncateValue(after, correctionValueLen)))
		case hadBefore && !hasAfter:
			changes = append(changes, fmt.Sprintf("%s: removed", k))
		}
	}

	if len(changes) == 0 {
		return fmt.Sprintf("Succeeded with a different approach after: %s",
			resilience.TruncateValue(failure.ErrorMessage, 120))
	}
	return "Changed " + strings.Join(changes, "; ")
}
