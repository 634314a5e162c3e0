// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mistakes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianops/meridian/services/assistant/resilience"
)

// savedLesson captures one Save call on the fake persistence.
type savedLesson struct {
	Description string
	SourceTool  string
	Confidence  Confidence
	SessionID   string
	UserID      string
}

// fakePersistence records saves and serves canned search results.
type fakePersistence struct {
	mu       sync.Mutex
	saves    []savedLesson
	findings []Finding

	saveErr   error
	searchErr error
}

func (f *fakePersistence) Save(ctx context.Context, description, sourceTool string, confidence Confidence, sessionID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves = append(f.saves, savedLesson{
		Description: description,
		SourceTool:  sourceTool,
		Confidence:  confidence,
		SessionID:   sessionID,
		UserID:      userID,
	})
	return nil
}

func (f *fakePersistence) Search(ctx context.Context, query, sessionID string, limit int, userID string) ([]Finding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.findings, nil
}

func (f *fakePersistence) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func (f *fakePersistence) lastSave() savedLesson {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves[len(f.saves)-1]
}

func TestStore_RecordMistakeDeduplicates(t *testing.T) {
	persist := &fakePersistence{}
	store := NewStore(persist, nil)
	ctx := context.Background()

	var rec MistakeRecord
	for i := 0; i < 4; i++ {
		rec = store.RecordMistake(ctx, "query_metrics", "invalid filter expression", nil, "")
	}

	assert.Equal(t, 4, rec.OccurrenceCount)
	assert.Equal(t, resilience.CategoryInvalidFilter, rec.Category)
	assert.Equal(t, 1, store.CountMistakes())
	assert.Equal(t, 1, persist.savedCount(), "only the first occurrence is persisted")
}

func TestStore_RecordMistakeDeduplicatesAcrossFormatting(t *testing.T) {
	store := NewStore(nil, nil)
	ctx := context.Background()

	store.RecordMistake(ctx, "query_metrics", "Invalid Filter Expression", nil, "")
	rec := store.RecordMistake(ctx, "query_metrics", "invalid   filter\nexpression", nil, "")

	assert.Equal(t, 2, rec.OccurrenceCount, "formatting variants must share a fingerprint")
	assert.Equal(t, 1, store.CountMistakes())
}

func TestStore_RecordMistakePersistsWithScope(t *testing.T) {
	persist := &fakePersistence{}
	store := NewStore(persist, nil)
	ctx := WithScope(context.Background(), Scope{SessionID: "sess-1", UserID: "user-1"})

	store.RecordMistake(ctx, "list_resources", "invalid argument: bad window",
		map[string]any{"window": "-5m"}, "")

	require.Equal(t, 1, persist.savedCount())
	saved := persist.lastSave()
	assert.Equal(t, "list_resources", saved.SourceTool)
	assert.Equal(t, ConfidenceMedium, saved.Confidence)
	assert.Equal(t, "sess-1", saved.SessionID)
	assert.Equal(t, "user-1", saved.UserID)
	assert.Contains(t, saved.Description, "Tool mistake pattern")
	assert.Contains(t, saved.Description, "window=-5m")
}

func TestStore_RecordMistakeSanitizesArgs(t *testing.T) {
	store := NewStore(nil, nil)

	rec := store.RecordMistake(context.Background(), "tool", "invalid value",
		map[string]any{"api_token": "sekrit", "filter": "x"}, "")

	assert.NotContains(t, rec.FailedArgs, "api_token")
	assert.Equal(t, "x", rec.FailedArgs["filter"])
}

func TestStore_PersistenceFailureDoesNotSurface(t *testing.T) {
	persist := &fakePersistence{saveErr: errors.New("weaviate down")}
	store := NewStore(persist, nil)

	rec := store.RecordMistake(context.Background(), "tool", "syntax error", nil, "")

	assert.Equal(t, 1, rec.OccurrenceCount, "cache remains authoritative")
	assert.Equal(t, 1, store.CountMistakes())
}

func TestStore_RecordCorrection(t *testing.T) {
	persist := &fakePersistence{}
	store := NewStore(persist, nil)
	ctx := context.Background()

	// Correction without a prior mistake is a no-op.
	ok := store.RecordCorrection(ctx, "tool", "invalid filter", "use =", nil, "")
	assert.False(t, ok)
	assert.Equal(t, 0, persist.savedCount())

	store.RecordMistake(ctx, "tool", "invalid filter", map[string]any{"filter": "=="}, "")
	ok = store.RecordCorrection(ctx, "tool", "invalid filter",
		"Changed filter: '==' -> '='", map[string]any{"filter": "="}, "")

	require.True(t, ok)
	assert.Equal(t, 2, persist.savedCount())
	assert.Equal(t, ConfidenceHigh, persist.lastSave().Confidence)

	recs := store.CorrectedMistakes(0)
	require.Len(t, recs, 1)
	assert.Equal(t, "Changed filter: '==' -> '='", recs[0].Correction)
	assert.Equal(t, "=", recs[0].CorrectedArgs["filter"])
	assert.Equal(t, 1, recs[0].OccurrenceCount, "correction must not bump the count")
}

func TestStore_QueriesSortByFrequency(t *testing.T) {
	store := NewStore(nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		store.RecordMistake(ctx, "busy_tool", "invalid filter a", nil, "")
	}
	store.RecordMistake(ctx, "busy_tool", "unknown metric b", nil, "")
	store.RecordMistake(ctx, "quiet_tool", "parse error c", nil, "")

	top := store.TopMistakes(2)
	require.Len(t, top, 2)
	assert.Equal(t, 3, top[0].OccurrenceCount)

	byTool := store.MistakesForTool("busy_tool", 0)
	assert.Len(t, byTool, 2)

	byCategory := store.MistakesByCategory(resilience.CategorySyntaxError, 0)
	require.Len(t, byCategory, 1)
	assert.Equal(t, "quiet_tool", byCategory[0].ToolName)
}

func TestStore_ReturnedRecordsAreCopies(t *testing.T) {
	store := NewStore(nil, nil)
	ctx := context.Background()

	store.RecordMistake(ctx, "tool", "invalid filter", map[string]any{"filter": "x"}, "")
	recs := store.MistakesForTool("tool", 0)
	require.Len(t, recs, 1)
	recs[0].FailedArgs["filter"] = "mutated"

	fresh := store.MistakesForTool("tool", 0)
	assert.Equal(t, "x", fresh[0].FailedArgs["filter"])
}

func TestStore_LoadFromPersistence(t *testing.T) {
	persist := &fakePersistence{findings: []Finding{
		{Content: "Tool mistake pattern [invalid_filter] query_metrics: bad filter | occurrences: 3"},
		{Content: "Tool mistake pattern [other] list_logs: weird failure | occurrences: 1 | correction: retried with smaller page"},
		{Content: "not a lesson at all"},
	}}
	store := NewStore(persist, nil)

	loaded := store.LoadFromPersistence(context.Background(), "sess-1", "")

	assert.Equal(t, 2, loaded)
	assert.Equal(t, 2, store.CountMistakes())

	recs := store.MistakesForTool("query_metrics", 0)
	require.Len(t, recs, 1)
	assert.Equal(t, 3, recs[0].OccurrenceCount)

	corrected := store.CorrectedMistakes(0)
	require.Len(t, corrected, 1)
	assert.Equal(t, "retried with smaller page", corrected[0].Correction)
}

func TestStore_LoadFromPersistenceSkipsExisting(t *testing.T) {
	persist := &fakePersistence{findings: []Finding{
		{Content: "Tool mistake pattern [invalid_filter] query_metrics: bad filter | occurrences: 9"},
	}}
	store := NewStore(persist, nil)
	store.RecordMistake(context.Background(), "query_metrics", "bad filter", nil, "")

	loaded := store.LoadFromPersistence(context.Background(), "", "")

	assert.Equal(t, 0, loaded, "in-memory state must not be clobbered")
	recs := store.MistakesForTool("query_metrics", 0)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].OccurrenceCount)
}

func TestStore_LoadFromPersistenceSearchError(t *testing.T) {
	persist := &fakePersistence{searchErr: errors.New("search broke")}
	store := NewStore(persist, nil)

	assert.Equal(t, 0, store.LoadFromPersistence(context.Background(), "", ""))
	assert.Equal(t, 0, store.CountMistakes())
}

func TestDescriptionRoundTrip(t *testing.T) {
	rec := MistakeRecord{
		ToolName:        "query_metrics",
		Category:        resilience.CategoryInvalidFilter,
		ErrorMessage:    "invalid filter: unexpected '=='",
		FailedArgs:      map[string]string{"filter": "a==b", "window": "5m"},
		Correction:      "Changed filter: 'a==b' -> 'a=b'",
		CorrectedArgs:   map[string]string{"filter": "a=b"},
		OccurrenceCount: 7,
	}
	rec.Fingerprint = resilience.Fingerprint(rec.ToolName, rec.Category, rec.ErrorMessage)

	parsed, ok := parseDescription(formatDescription(rec))
	require.True(t, ok)

	assert.Equal(t, rec.ToolName, parsed.ToolName)
	assert.Equal(t, rec.Category, parsed.Category)
	assert.Equal(t, rec.ErrorMessage, parsed.ErrorMessage)
	assert.Equal(t, rec.OccurrenceCount, parsed.OccurrenceCount)
	assert.Equal(t, rec.FailedArgs, parsed.FailedArgs)
	assert.Equal(t, rec.Correction, parsed.Correction)
	assert.Equal(t, rec.CorrectedArgs, parsed.CorrectedArgs)
	assert.Equal(t, rec.Fingerprint, parsed.Fingerprint)
}

func TestStore_ConcurrentRecording(t *testing.T) {
	store := NewStore(nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.RecordMistake(ctx, "tool", "invalid filter", nil, "")
			}
		}()
	}
	wg.Wait()

	recs := store.MistakesForTool("tool", 0)
	if assert.Len(t, recs, 1) {
		assert.Equal(t, 800, recs[0].OccurrenceCount)
	}
}

func TestScopeRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, Scope{}, ScopeFrom(ctx))

	scoped := WithScope(ctx, Scope{SessionID: "s", UserID: "u"})
	assert.Equal(t, Scope{SessionID: "s", UserID: "u"}, ScopeFrom(scoped))

	// The store's timestamps come from its injected clock.
	store := NewStore(nil, nil)
	fixed := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	rec := store.RecordMistake(context.Background(), "tool", "x", nil, "")
	assert.Equal(t, fixed, rec.FirstSeen)
	assert.Equal(t, fixed, rec.LastSeen)
}

