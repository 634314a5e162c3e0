// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events carries structured observability events out of the
// learning core.
//
// Events allow external systems (UI streams, telemetry) to observe mistake
// recording and correction detection without coupling to the learner.
// Delivery is best-effort everywhere: a sink must never block or fail the
// learning path.
//
// Thread Safety: All sinks in this package are safe for concurrent use.
package events

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Action identifies the kind of event.
type Action string

const (
	// ActionMistakeRecorded is emitted when a new or repeated mistake is
	// written to the mistake store.
	ActionMistakeRecorded Action = "mistake_recorded"

	// ActionPatternLearned is emitted when a self-correction is detected
	// and attached to an existing mistake.
	ActionPatternLearned Action = "pattern_learned"
)

// Event is one observable occurrence in the learning core.
//
// Events should be treated as immutable after creation.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Action identifies the kind of event.
	Action Action `json:"action"`

	// Category groups events for display (e.g. "learning").
	Category string `json:"category"`

	// Title is a short human-readable headline.
	Title string `json:"title"`

	// Description elaborates on the title.
	Description string `json:"description,omitempty"`

	// ToolName is the dependency key the event concerns.
	ToolName string `json:"tool_name,omitempty"`

	// Timestamp is when the event occurred (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp"`

	// Metadata carries additional string context for the event.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// New builds an event with a fresh ID and the current timestamp.
func New(action Action, category, title string) Event {
	return Event{
		ID:        uuid.NewString(),
		Action:    action,
		Category:  category,
		Title:     title,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Sink receives events. Publish must not block and must not panic outward;
// implementations drop events they cannot deliver.
type Sink interface {
	Publish(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

// Publish discards the event.
func (NopSink) Publish(Event) {}

// LogSink writes events to a structured logger at debug level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink over the given logger.
// Uses slog.Default() if logger is nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Publish logs the event.
func (s *LogSink) Publish(ev Event) {
	s.logger.Debug("event",
		slog.String("action", string(ev.Action)),
		slog.String("title", ev.Title),
		slog.String("tool", ev.ToolName))
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []Sink

// Publish delivers the event to every sink.
func (m MultiSink) Publish(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ev)
		}
	}
}
