// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/meridianops/meridian/services/assistant/mistakes"
)

func TestNewWeaviateStore_EmptyURL(t *testing.T) {
	_, err := NewWeaviateStore("", nil)
	assert.ErrorIs(t, err, ErrEmptyURL)
}

func TestNewWeaviateStore_SchemeParsing(t *testing.T) {
	for _, url := range []string{
		"http://localhost:8080",
		"https://weaviate.internal:443",
		"localhost:8080",
	} {
		store, err := NewWeaviateStore(url, nil)
		require.NoError(t, err, url)
		assert.NotNil(t, store.client, url)
	}
}

func TestWeaviateStore_ImplementsPersistence(t *testing.T) {
	store, err := NewWeaviateStore("http://localhost:8080", nil)
	require.NoError(t, err)
	var _ mistakes.Persistence = store
}

func TestLessonSchema(t *testing.T) {
	schema := lessonSchema()

	assert.Equal(t, LessonClassName, schema.Class)
	assert.Equal(t, "none", schema.Vectorizer)

	names := make(map[string]bool, len(schema.Properties))
	for _, prop := range schema.Properties {
		names[prop.Name] = true
	}
	for _, want := range []string{"content", "sourceTool", "confidence", "sessionId", "userId", "createdAt"} {
		assert.True(t, names[want], "missing property %s", want)
	}
}

func TestParseLessonResults(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				LessonClassName: []interface{}{
					map[string]interface{}{
						"content":    "Tool mistake pattern [other] t: x | occurrences: 1",
						"sourceTool": "t",
						"confidence": "medium",
						"sessionId":  "sess-1",
					},
					map[string]interface{}{
						// Missing content; must be skipped.
						"sourceTool": "t",
					},
					"not an object",
				},
			},
		},
	}

	findings := parseLessonResults(resp)
	require.Len(t, findings, 1)
	assert.Equal(t, "Tool mistake pattern [other] t: x | occurrences: 1", findings[0].Content)
	assert.Equal(t, "t", findings[0].Metadata["sourceTool"])
	assert.Equal(t, "sess-1", findings[0].Metadata["sessionId"])
	assert.NotContains(t, findings[0].Metadata, "userId")
}

func TestParseLessonResults_MalformedResponse(t *testing.T) {
	assert.Empty(t, parseLessonResults(&models.GraphQLResponse{}))
	assert.Empty(t, parseLessonResults(&models.GraphQLResponse{
		Data: map[string]models.JSONObject{"Get": "wrong shape"},
	}))
}
