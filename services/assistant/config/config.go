// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the assistant service configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var configValidate = validator.New()

// Config is the top-level assistant service configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after Load.
type Config struct {
	// Server contains HTTP listener settings.
	Server ServerConfig `yaml:"server"`

	// Logging contains log output settings.
	Logging LoggingConfig `yaml:"logging"`

	// Memory selects and configures the lesson persistence backend.
	Memory MemoryConfig `yaml:"memory"`

	// Breakers holds per-dependency circuit breaker overrides, keyed by
	// dependency key. Omitted keys use the built-in defaults.
	Breakers map[string]BreakerOverride `yaml:"breakers"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=0,lte=65535"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Dir enables JSON file logging when non-empty.
	Dir string `yaml:"dir"`
}

// MemoryConfig selects the lesson persistence backend.
type MemoryConfig struct {
	// Backend is one of weaviate, badger, none.
	Backend string `yaml:"backend" validate:"omitempty,oneof=weaviate badger none"`

	// WeaviateURL is the Weaviate server URL (weaviate backend only).
	WeaviateURL string `yaml:"weaviate_url"`

	// BadgerDir is the local database directory (badger backend only).
	BadgerDir string `yaml:"badger_dir"`

	// SessionID and UserID scope lessons loaded at startup.
	SessionID string `yaml:"session_id"`
	UserID    string `yaml:"user_id"`
}

// BreakerOverride tunes one dependency's circuit breaker. Zero fields keep
// the built-in defaults.
type BreakerOverride struct {
	FailureThreshold  int           `yaml:"failure_threshold" validate:"gte=0"`
	RecoveryTimeout   time.Duration `yaml:"recovery_timeout" validate:"gte=0"`
	HalfOpenMaxCalls  int           `yaml:"half_open_max_calls" validate:"gte=0"`
	SuccessThreshold  int           `yaml:"success_threshold" validate:"gte=0"`
	SuccessHealAmount int           `yaml:"success_heal_amount" validate:"gte=0"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8085,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Memory: MemoryConfig{
			Backend: "none",
		},
	}
}

// Load reads the configuration from path, applies environment overrides,
// and validates the result.
//
// Inputs:
//
//	path - YAML file path. Empty or missing files yield the defaults,
//	       still subject to environment overrides.
//
// Outputs:
//
//	Config - The effective configuration.
//	error - Non-nil on unreadable files, malformed YAML, or invalid values.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := configValidate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	for key, override := range cfg.Breakers {
		if err := configValidate.Struct(override); err != nil {
			return Config{}, fmt.Errorf("validate breaker override %q: %w", key, err)
		}
	}
	return cfg, nil
}

// applyEnvOverrides applies ASSISTANT_* environment variables on top of the
// file configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ASSISTANT_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ASSISTANT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ASSISTANT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ASSISTANT_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("ASSISTANT_MEMORY_BACKEND"); v != "" {
		cfg.Memory.Backend = v
	}
	if v := os.Getenv("ASSISTANT_WEAVIATE_URL"); v != "" {
		cfg.Memory.WeaviateURL = v
	}
	if v := os.Getenv("ASSISTANT_BADGER_DIR"); v != "" {
		cfg.Memory.BadgerDir = v
	}
	if v := os.Getenv("ASSISTANT_SESSION_ID"); v != "" {
		cfg.Memory.SessionID = v
	}
	if v := os.Getenv("ASSISTANT_USER_ID"); v != "" {
		cfg.Memory.UserID = v
	}
}
