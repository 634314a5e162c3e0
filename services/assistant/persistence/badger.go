// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/meridianops/meridian/services/assistant/mistakes"
)

// lessonKeyPrefix namespaces lesson entries in the shared database.
// Keys embed a zero-padded nanosecond timestamp so iteration order is
// creation order.
const lessonKeyPrefix = "lesson/"

// lessonEntry is the on-disk JSON encoding of one persisted lesson.
type lessonEntry struct {
	Description string `json:"description"`
	SourceTool  string `json:"source_tool"`
	Confidence  string `json:"confidence"`
	SessionID   string `json:"session_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// BadgerStore persists lessons in a local BadgerDB directory.
//
// Description:
//
//	Substitute for the Weaviate backend on machines without a vector
//	database. Search is a linear scan with case-insensitive substring
//	matching; lesson volume is session-scale, so the scan is cheap.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	// now is swapped in tests to control timestamps.
	now func() time.Time
}

// NewBadgerStore opens (or creates) a lesson database in dir.
//
// Inputs:
//
//	dir - Directory for the BadgerDB files.
//	logger - Logger instance. Uses slog.Default() if nil.
//
// Outputs:
//
//	*BadgerStore - Ready-to-use store. Callers own Close.
//	error - Non-nil if the database cannot be opened.
func NewBadgerStore(dir string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open lesson database: %w", err)
	}

	return &BadgerStore{
		db:     db,
		logger: logger.With(slog.String("component", "badger_lessons")),
		now:    time.Now,
	}, nil
}

// Save persists one lesson description.
func (s *BadgerStore) Save(ctx context.Context, description, sourceTool string, confidence mistakes.Confidence, sessionID, userID string) error {
	entry := lessonEntry{
		Description: description,
		SourceTool:  sourceTool,
		Confidence:  string(confidence),
		SessionID:   sessionID,
		UserID:      userID,
		CreatedAt:   s.now().UnixMilli(),
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode lesson: %w", err)
	}

	key := fmt.Sprintf("%s%020d/%s", lessonKeyPrefix, s.now().UnixNano(), uuid.NewString())
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("save lesson: %w", err)
	}
	return nil
}

// Search returns persisted lessons whose description contains the query,
// newest first, optionally scoped to a session and user.
func (s *BadgerStore) Search(ctx context.Context, query, sessionID string, limit int, userID string) ([]mistakes.Finding, error) {
	if limit <= 0 {
		limit = 50
	}
	needle := strings.ToLower(query)

	var matches []lessonEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(lessonKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var entry lessonEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					// Corrupt entry; skip rather than fail the search.
					return nil
				}
				if sessionID != "" && entry.SessionID != sessionID {
					return nil
				}
				if userID != "" && entry.UserID != userID {
					return nil
				}
				if needle != "" && !strings.Contains(strings.ToLower(entry.Description), needle) {
					return nil
				}
				matches = append(matches, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search lessons: %w", err)
	}

	// Keys iterate oldest-first; return the newest entries, newest first.
	if len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}
	findings := make([]mistakes.Finding, 0, len(matches))
	for i := len(matches) - 1; i >= 0; i-- {
		entry := matches[i]
		metadata := map[string]string{
			"sourceTool": entry.SourceTool,
			"confidence": entry.Confidence,
		}
		if entry.SessionID != "" {
			metadata["sessionId"] = entry.SessionID
		}
		if entry.UserID != "" {
			metadata["userId"] = entry.UserID
		}
		findings = append(findings, mistakes.Finding{Content: entry.Description, Metadata: metadata})
	}
	return findings, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
