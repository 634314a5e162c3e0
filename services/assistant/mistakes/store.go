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
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/meridianops/meridian/services/assistant/resilience"
)

// persistenceQuery is the marker prefix every persisted lesson description
// starts with; bootstrap searches for it to find prior-session lessons.
const persistenceQuery = "Tool mistake pattern"

// descriptionPattern parses a persisted description back into a record.
// Groups: category, tool, error, occurrences, args, correction, corrected args.
var descriptionPattern = regexp.MustCompile(
	`^Tool mistake pattern \[([a-z_]+)\] (\S+): (.*?) \| occurrences: (\d+)` +
		`(?: \| args: (.*?))?(?: \| correction: (.*?))?(?: \| corrected args: (.*?))?$`)

// Store is the session-scoped cache of deduplicated mistake records.
//
// Description:
//
//	Records are keyed by fingerprint. Repeat observations bump the
//	occurrence count in place; persistence is written only on the first
//	occurrence and on corrections, always best-effort. The injected
//	Persistence collaborator may fail independently of the store's own
//	correctness.
//
// Thread Safety: Safe for concurrent use. A single mutex orders all
// cache mutations.
type Store struct {
	mu      sync.Mutex
	cache   map[string]*MistakeRecord
	persist Persistence
	logger  *slog.Logger

	// now is swapped in tests to control timestamps.
	now func() time.Time
}

// NewStore creates a mistake store.
//
// Inputs:
//
//	persist - Long-term memory collaborator. May be nil; the store then
//	          operates purely in-memory.
//	logger - Logger instance. Uses slog.Default() if nil.
//
// Outputs:
//
//	*Store - Ready-to-use empty store.
func NewStore(persist Persistence, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cache:   make(map[string]*MistakeRecord),
		persist: persist,
		logger:  logger.With(slog.String("component", "mistake_store")),
		now:     time.Now,
	}
}

// RecordMistake records one observed failure, deduplicating by fingerprint.
//
// Description:
//
//	If category is empty the error message is classified first. Args are
//	sanitized before they touch the cache. A repeat observation increments
//	the existing record's occurrence count without a new persistence write;
//	a first observation creates the record and persists its description
//	best-effort.
//
// Inputs:
//
//	ctx - Context for the persistence write.
//	toolName - Dependency key of the failed call.
//	errorMessage - Raw error text.
//	failedArgs - Raw call arguments. May be nil.
//	category - Failure category; empty means classify errorMessage.
//
// Outputs:
//
//	MistakeRecord - Copy of the stored record after the update.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) RecordMistake(ctx context.Context, toolName, errorMessage string, failedArgs map[string]any, category resilience.Category) MistakeRecord {
	if category == "" {
		category = resilience.Classify(errorMessage)
	}
	fingerprint := resilience.Fingerprint(toolName, category, errorMessage)

	s.mu.Lock()
	now := s.now()

	if existing, ok := s.cache[fingerprint]; ok {
		existing.OccurrenceCount++
		existing.LastSeen = now
		snapshot := existing.clone()
		s.mu.Unlock()
		return snapshot
	}

	rec := &MistakeRecord{
		ToolName:        toolName,
		Category:        category,
		ErrorMessage:    errorMessage,
		FailedArgs:      resilience.SanitizeArgs(failedArgs),
		OccurrenceCount: 1,
		FirstSeen:       now,
		LastSeen:        now,
		Fingerprint:     fingerprint,
	}
	s.cache[fingerprint] = rec
	snapshot := rec.clone()
	s.mu.Unlock()

	s.persistRecord(ctx, snapshot, ConfidenceMedium)
	return snapshot
}

// RecordCorrection attaches a self-correction to an existing mistake.
//
// Description:
//
//	The fingerprint is computed from the same (tool, category, message)
//	triple as the original failure. If no record exists for it, this is a
//	no-op returning false. Attaching a correction never changes the
//	occurrence count.
//
// Inputs:
//
//	ctx - Context for the persistence write.
//	toolName - Dependency key of the corrected call.
//	errorMessage - Error text of the original failure.
//	correction - Human-readable description of the fix.
//	correctedArgs - Raw arguments of the succeeding call. May be nil.
//	category - Failure category; empty means classify errorMessage.
//
// Outputs:
//
//	bool - True if an existing record was updated.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) RecordCorrection(ctx context.Context, toolName, errorMessage, correction string, correctedArgs map[string]any, category resilience.Category) bool {
	if category == "" {
		category = resilience.Classify(errorMessage)
	}
	fingerprint := resilience.Fingerprint(toolName, category, errorMessage)

	s.mu.Lock()
	rec, ok := s.cache[fingerprint]
	if !ok {
		s.mu.Unlock()
		return false
	}
	rec.Correction = correction
	rec.CorrectedArgs = resilience.SanitizeArgs(correctedArgs)
	rec.LastSeen = s.now()
	snapshot := rec.clone()
	s.mu.Unlock()

	s.persistRecord(ctx, snapshot, ConfidenceHigh)
	return true
}

// MistakesForTool returns up to limit mistakes for one dependency key,
// most frequent first.
func (s *Store) MistakesForTool(toolName string, limit int) []MistakeRecord {
	return s.query(limit, func(r *MistakeRecord) bool { return r.ToolName == toolName })
}

// TopMistakes returns up to limit mistakes across all tools, most
// frequent first.
func (s *Store) TopMistakes(limit int) []MistakeRecord {
	return s.query(limit, func(*MistakeRecord) bool { return true })
}

// MistakesByCategory returns up to limit mistakes in one category, most
// frequent first.
func (s *Store) MistakesByCategory(category resilience.Category, limit int) []MistakeRecord {
	return s.query(limit, func(r *MistakeRecord) bool { return r.Category == category })
}

// CorrectedMistakes returns up to limit mistakes that have a correction
// attached, most frequent first.
func (s *Store) CorrectedMistakes(limit int) []MistakeRecord {
	return s.query(limit, func(r *MistakeRecord) bool { return r.Corrected() })
}

// CountMistakes returns the number of unique mistakes in the cache.
func (s *Store) CountMistakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// LoadFromPersistence bootstraps the cache from the long-term store.
//
// Description:
//
//	Searches the collaborator for previously persisted lesson
//	descriptions and parses them back into records. Fingerprints already
//	present in the cache are skipped, so calling this after the session
//	has started never clobbers fresher in-memory state. Persistence
//	failures are logged, never raised.
//
// Inputs:
//
//	ctx - Context for the search.
//	sessionID - Optional session scope for the search.
//	userID - Optional user scope for the search.
//
// Outputs:
//
//	int - Number of records newly loaded into the cache.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) LoadFromPersistence(ctx context.Context, sessionID, userID string) int {
	if s.persist == nil {
		return 0
	}

	findings, err := s.persist.Search(ctx, persistenceQuery, sessionID, 200, userID)
	if err != nil {
		s.logger.Debug("persistence search failed, starting with empty mistake cache",
			slog.String("error", err.Error()))
		return 0
	}

	loaded := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	for _, finding := range findings {
		rec, ok := parseDescription(finding.Content)
		if !ok {
			continue
		}
		if _, exists := s.cache[rec.Fingerprint]; exists {
			continue
		}
		rec.FirstSeen = now
		rec.LastSeen = now
		s.cache[rec.Fingerprint] = rec
		loaded++
	}

	if loaded > 0 {
		s.logger.Info("loaded mistakes from persistence", slog.Int("count", loaded))
	}
	return loaded
}

// query snapshots matching records sorted by occurrence count descending.
// Ties break on recency, then fingerprint, for deterministic output.
func (s *Store) query(limit int, match func(*MistakeRecord) bool) []MistakeRecord {
	s.mu.Lock()
	var out []MistakeRecord
	for _, rec := range s.cache {
		if match(rec) {
			out = append(out, rec.clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurrenceCount != out[j].OccurrenceCount {
			return out[i].OccurrenceCount > out[j].OccurrenceCount
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// persistRecord writes one record's description to the collaborator.
// Failures are logged at debug level and never surfaced. The session/user
// scope, if any, comes from the context (see WithScope).
func (s *Store) persistRecord(ctx context.Context, rec MistakeRecord, confidence Confidence) {
	if s.persist == nil {
		return
	}
	scope := ScopeFrom(ctx)
	if err := s.persist.Save(ctx, formatDescription(rec), rec.ToolName, confidence, scope.SessionID, scope.UserID); err != nil {
		s.logger.Debug("failed to persist mistake, cache remains authoritative",
			slog.String("tool", rec.ToolName),
			slog.String("fingerprint", rec.Fingerprint),
			slog.String("error", err.Error()))
	}
}

// formatDescription renders a record as the persisted description text.
// parseDescription must be able to round-trip this format.
func formatDescription(rec MistakeRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s: %s | occurrences: %d",
		persistenceQuery, rec.Category, rec.ToolName, rec.ErrorMessage, rec.OccurrenceCount)
	if len(rec.FailedArgs) > 0 {
		fmt.Fprintf(&b, " | args: %s", formatArgs(rec.FailedArgs))
	}
	if rec.Correction != "" {
		fmt.Fprintf(&b, " | correction: %s", rec.Correction)
	}
	if len(rec.CorrectedArgs) > 0 {
		fmt.Fprintf(&b, " | corrected args: %s", formatArgs(rec.CorrectedArgs))
	}
	return b.String()
}

// parseDescription is the inverse of formatDescription, best-effort.
func parseDescription(content string) (*MistakeRecord, bool) {
	m := descriptionPattern.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return nil, false
	}

	category := resilience.Category(m[1])
	toolName := m[2]
	errorMessage := m[3]
	count, err := strconv.Atoi(m[4])
	if err != nil || count < 1 {
		count = 1
	}

	rec := &MistakeRecord{
		ToolName:        toolName,
		Category:        category,
		ErrorMessage:    errorMessage,
		FailedArgs:      parseArgs(m[5]),
		Correction:      m[6],
		CorrectedArgs:   parseArgs(m[7]),
		OccurrenceCount: count,
		Fingerprint:     resilience.Fingerprint(toolName, category, errorMessage),
	}
	return rec, true
}

// formatArgs renders an argument map as "k=v; k=v" with sorted keys.
func formatArgs(args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+args[k])
	}
	return strings.Join(parts, "; ")
}

// parseArgs is the inverse of formatArgs, best-effort.
func parseArgs(encoded string) map[string]string {
	if encoded == "" {
		return nil
	}
	args := make(map[string]string)
	for _, part := range strings.Split(encoded, "; ") {
		key, value, ok := strings.Cut(part, "=")
		if !ok || key == "" {
			continue
		}
		args[key] = value
	}
	if len(args) == 0 {
		return nil
	}
	return args
}
