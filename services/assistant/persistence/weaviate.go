// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package persistence provides long-term lesson storage backends for the
// mistake store.
//
// Two backends implement mistakes.Persistence: a Weaviate-backed store for
// deployments with a vector database, and a BadgerDB-backed store for
// local or air-gapped runs. Both are treated as eventually consistent and
// independently fallible by their consumers.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/meridianops/meridian/services/assistant/mistakes"
)

// LessonClassName is the Weaviate class holding persisted lessons.
const LessonClassName = "AssistantLesson"

// ErrEmptyURL indicates a missing Weaviate URL.
var ErrEmptyURL = errors.New("weaviate url must not be empty")

// WeaviateStore persists lessons in a Weaviate class.
//
// Thread Safety: Safe for concurrent use; the underlying client is
// thread-safe and the store itself is stateless.
type WeaviateStore struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewWeaviateStore creates a lesson store against the given Weaviate URL.
//
// Inputs:
//
//	url - Weaviate server URL (e.g. "http://localhost:8080").
//	logger - Logger instance. Uses slog.Default() if nil.
//
// Outputs:
//
//	*WeaviateStore - Ready-to-use store. Call EnsureSchema before the
//	                 first Save on a fresh server.
//	error - Non-nil if the URL is empty or the client cannot be built.
func NewWeaviateStore(url string, logger *slog.Logger) (*WeaviateStore, error) {
	if url == "" {
		return nil, ErrEmptyURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := weaviate.Config{Host: url, Scheme: "http"}
	if strings.HasPrefix(url, "https://") {
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(url, "https://")
	} else if strings.HasPrefix(url, "http://") {
		cfg.Host = strings.TrimPrefix(url, "http://")
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &WeaviateStore{
		client: client,
		logger: logger.With(slog.String("component", "weaviate_lessons")),
	}, nil
}

// lessonSchema describes the AssistantLesson class.
func lessonSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       LessonClassName,
		Description: "A learned lesson distilled from observed tool mistakes.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The lesson description text.",
				Tokenization: "word",
			},
			{
				Name:            "sourceTool",
				DataType:        []string{"text"},
				Description:     "Dependency key the lesson was learned on.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "confidence",
				DataType:        []string{"text"},
				Description:     "Lesson confidence: high, medium, or low.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "sessionId",
				DataType:        []string{"text"},
				Description:     "Session the lesson was learned in.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "userId",
				DataType:        []string{"text"},
				Description:     "User the lesson belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "createdAt",
				DataType:        []string{"number"},
				Description:     "Creation time (Unix milliseconds UTC).",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureSchema creates the AssistantLesson class if it does not exist.
func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	_, err := s.client.Schema().ClassGetter().WithClassName(LessonClassName).Do(ctx)
	if err == nil {
		return nil
	}

	s.logger.Info("creating lesson class", slog.String("class", LessonClassName))
	if err := s.client.Schema().ClassCreator().WithClass(lessonSchema()).Do(ctx); err != nil {
		return fmt.Errorf("create lesson class: %w", err)
	}
	return nil
}

// Save persists one lesson description.
func (s *WeaviateStore) Save(ctx context.Context, description, sourceTool string, confidence mistakes.Confidence, sessionID, userID string) error {
	properties := map[string]any{
		"content":    description,
		"sourceTool": sourceTool,
		"confidence": string(confidence),
		"sessionId":  sessionID,
		"userId":     userID,
		"createdAt":  nowUnixMilli(),
	}

	_, err := s.client.Data().Creator().
		WithClassName(LessonClassName).
		WithID(uuid.NewString()).
		WithProperties(properties).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("save lesson: %w", err)
	}
	return nil
}

// Search returns persisted lessons whose content matches the query,
// optionally scoped to a session and user.
func (s *WeaviateStore) Search(ctx context.Context, query, sessionID string, limit int, userID string) ([]mistakes.Finding, error) {
	if limit <= 0 {
		limit = 50
	}

	operands := []*filters.WhereBuilder{
		filters.Where().
			WithPath([]string{"content"}).
			WithOperator(filters.Like).
			WithValueText("*" + query + "*"),
	}
	if sessionID != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"sessionId"}).
			WithOperator(filters.Equal).
			WithValueText(sessionID))
	}
	if userID != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"userId"}).
			WithOperator(filters.Equal).
			WithValueText(userID))
	}

	whereFilter := filters.Where().
		WithOperator(filters.And).
		WithOperands(operands)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "sourceTool"},
		{Name: "confidence"},
		{Name: "sessionId"},
		{Name: "userId"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(LessonClassName).
		WithFields(fields...).
		WithWhere(whereFilter).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("search lessons: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search lessons: %s", result.Errors[0].Message)
	}

	return parseLessonResults(result), nil
}

// nowUnixMilli returns the current time as Unix milliseconds UTC.
func nowUnixMilli() int64 {
	return time.Now().UTC().UnixMilli()
}

// parseLessonResults extracts findings from a GraphQL Get response.
func parseLessonResults(result *models.GraphQLResponse) []mistakes.Finding {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[LessonClassName].([]interface{})
	if !ok {
		return nil
	}

	findings := make([]mistakes.Finding, 0, len(objects))
	for _, obj := range objects {
		props, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		content, _ := props["content"].(string)
		if content == "" {
			continue
		}

		metadata := make(map[string]string)
		for _, key := range []string{"sourceTool", "confidence", "sessionId", "userId"} {
			if v, ok := props[key].(string); ok && v != "" {
				metadata[key] = v
			}
		}
		findings = append(findings, mistakes.Finding{Content: content, Metadata: metadata})
	}
	return findings
}
