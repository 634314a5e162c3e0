// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assistant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8085", cfg.Server.Addr())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "none", cfg.Memory.Backend)
	assert.Empty(t, cfg.Breakers)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9090
logging:
  level: debug
memory:
  backend: badger
  badger_dir: /tmp/lessons
  session_id: sess-1
breakers:
  query_metrics:
    failure_threshold: 2
    recovery_timeout: 30s
    success_heal_amount: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "badger", cfg.Memory.Backend)
	assert.Equal(t, "sess-1", cfg.Memory.SessionID)

	override, ok := cfg.Breakers["query_metrics"]
	require.True(t, ok)
	assert.Equal(t, 2, override.FailureThreshold)
	assert.Equal(t, 30*time.Second, override.RecoveryTimeout)
	assert.Equal(t, 3, override.SuccessHealAmount)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad backend", "memory:\n  backend: redis\n"},
		{"bad port", "server:\n  port: 99999\n"},
		{"negative breaker threshold", "breakers:\n  dep:\n    failure_threshold: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	t.Setenv("ASSISTANT_PORT", "7070")
	t.Setenv("ASSISTANT_LOG_LEVEL", "warn")
	t.Setenv("ASSISTANT_MEMORY_BACKEND", "weaviate")
	t.Setenv("ASSISTANT_WEAVIATE_URL", "http://weaviate:8080")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "weaviate", cfg.Memory.Backend)
	assert.Equal(t, "http://weaviate:8080", cfg.Memory.WeaviateURL)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8085, cfg.Server.Port)
}
